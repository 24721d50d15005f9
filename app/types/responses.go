package types

type HealthResponse struct {
	Status string `json:"status"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type JobResponse struct {
	ID                uint64 `json:"id"`
	RequestID         string `json:"request_id"`
	CallerService     string `json:"caller_service"`
	ProviderJobID     string `json:"provider_job_id,omitempty"`
	Status            int32  `json:"status"`
	SourceAssetRef    string `json:"source_asset_ref"`
	ResultAssetURL    string `json:"result_asset_url,omitempty"`
	PersistedAssetRef string `json:"persisted_asset_ref,omitempty"`
	ResultDigest      string `json:"result_digest,omitempty"`
	ProviderError     string `json:"provider_error,omitempty"`
	Attempts          int32  `json:"attempts"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type JobEnvelopeResponse struct {
	Job *JobResponse `json:"job"`
}

type ListJobsResponse struct {
	Jobs []*JobResponse `json:"jobs"`
}

type PaymentResponse struct {
	ID                uint64 `json:"id"`
	OrderID           string `json:"order_id"`
	CallerService     string `json:"caller_service"`
	ProviderPaymentID string `json:"provider_payment_id,omitempty"`
	AmountCents       int64  `json:"amount_cents"`
	Currency          string `json:"currency"`
	RefundedCents     int64  `json:"refunded_cents"`
	Status            int32  `json:"status"`
	LastEventID       string `json:"last_event_id,omitempty"`
	CreatedAt         string `json:"created_at"`
	UpdatedAt         string `json:"updated_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *PaymentResponse `json:"payment"`
}

type ListPaymentsResponse struct {
	Payments []*PaymentResponse `json:"payments"`
}
