package provider

type Registry struct {
	adapters map[string]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	items := make(map[string]Adapter, len(adapters))
	for _, a := range adapters {
		items[a.Name()] = a
	}
	return &Registry{adapters: items}
}

func (r *Registry) Get(name string) (Adapter, error) {
	adapter, ok := r.adapters[name]
	if !ok {
		return nil, ErrProviderNotSupported
	}
	return adapter, nil
}
