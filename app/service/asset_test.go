package service

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/config"
)

type memoryObjectStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func newMemoryObjectStore() *memoryObjectStore {
	return &memoryObjectStore{objects: map[string][]byte{}}
}

func (s *memoryObjectStore) PutObject(_ context.Context, key string, body io.Reader, _ int64, _ string) (string, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = data
	s.puts++
	return s.ObjectURL(key), nil
}

func (s *memoryObjectStore) ObjectExists(_ context.Context, key string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.objects[key]
	return ok, nil
}

func (s *memoryObjectStore) ObjectURL(key string) string {
	return "https://assets.example.com/" + key
}

func testAssetsConfig() config.AssetsConfig {
	return config.AssetsConfig{
		Namespace:     "results",
		MaxBytes:      1 << 20,
		FetchTimeout:  2 * time.Second,
		MaxAttempts:   3,
		BackoffBase:   time.Millisecond,
		BackoffFactor: 2,
	}
}

func TestPersistStoresContentAddressedObject(t *testing.T) {
	body := []byte("png-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	store := newMemoryObjectStore()
	svc := NewAssetService(store, testAssetsConfig())

	ref, digest, attempts, err := svc.Persist(context.Background(), server.URL+"/out.png")
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}

	sum := sha256.Sum256(body)
	wantDigest := hex.EncodeToString(sum[:])
	if digest != wantDigest {
		t.Errorf("digest = %s, want %s", digest, wantDigest)
	}
	wantRef := "results/" + wantDigest[:2] + "/" + wantDigest + ".png"
	if ref != wantRef {
		t.Errorf("ref = %s, want %s", ref, wantRef)
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if !bytes.Equal(store.objects[ref], body) {
		t.Error("stored bytes do not match the source")
	}
}

func TestPersistRetriesTransientFailures(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("eventually fine"))
	}))
	defer server.Close()

	svc := NewAssetService(newMemoryObjectStore(), testAssetsConfig())

	_, _, attempts, err := svc.Persist(context.Background(), server.URL)
	if err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
}

func TestPersistGivesUpAfterMaxAttempts(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer server.Close()

	svc := NewAssetService(newMemoryObjectStore(), testAssetsConfig())

	_, _, attempts, err := svc.Persist(context.Background(), server.URL)
	if err == nil {
		t.Fatal("expected error")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if calls != 3 {
		t.Errorf("fetch calls = %d, want 3", calls)
	}
}

func TestPersistNotFoundIsTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	svc := NewAssetService(newMemoryObjectStore(), testAssetsConfig())

	_, _, _, err := svc.Persist(context.Background(), server.URL)
	if !errors.Is(err, ErrAssetUnavailable) {
		t.Fatalf("error = %v, want ErrAssetUnavailable", err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (no retry on 404)", calls)
	}
}

func TestPersistOversizedBodyIsTerminal(t *testing.T) {
	var calls int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls++
		_, _ = io.Copy(w, strings.NewReader(strings.Repeat("x", 2<<20)))
	}))
	defer server.Close()

	svc := NewAssetService(newMemoryObjectStore(), testAssetsConfig())

	_, _, _, err := svc.Persist(context.Background(), server.URL)
	if !errors.Is(err, ErrAssetTooLarge) {
		t.Fatalf("error = %v, want ErrAssetTooLarge", err)
	}
	if calls != 1 {
		t.Errorf("fetch calls = %d, want 1 (no retry on oversize)", calls)
	}
}

func TestPersistSkipsUploadWhenObjectExists(t *testing.T) {
	body := []byte("same-bytes")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer server.Close()

	store := newMemoryObjectStore()
	svc := NewAssetService(store, testAssetsConfig())
	ctx := context.Background()

	if _, _, _, err := svc.Persist(ctx, server.URL+"/a.png"); err != nil {
		t.Fatalf("first persist error = %v", err)
	}
	if _, _, _, err := svc.Persist(ctx, server.URL+"/a.png"); err != nil {
		t.Fatalf("second persist error = %v", err)
	}
	if store.puts != 1 {
		t.Errorf("uploads = %d, want 1 (identical bytes share a key)", store.puts)
	}
}
