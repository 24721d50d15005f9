package provider

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vibast-solutions/ms-go-settlement/app/signature"
)

func newTestGeneration(baseURL string) *GenerationAdapter {
	return NewGenerationAdapter(GenerationConfig{
		BaseURL:       baseURL,
		APIKey:        "gen-key",
		WebhookSecret: "gen-secret",
	})
}

func TestGenerationParsesCompletedEvent(t *testing.T) {
	payload := []byte(`{"id":"evt_gen_1","type":"job.completed","job_id":"gen_42","data":{"result_url":"https://cdn.example.com/out.png"}}`)

	event, err := newTestGeneration("").VerifyAndParseWebhook(context.Background(), payload, signature.Sign(payload, "gen-secret"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Kind != KindJob || event.Type != EventJobCompleted {
		t.Fatalf("unexpected event: %+v", event)
	}
	if event.ProviderJobID != "gen_42" || event.ResultAssetURL != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected fields: %+v", event)
	}
}

func TestGenerationRejectsCompletedWithoutResultURL(t *testing.T) {
	payload := []byte(`{"id":"evt_gen_2","type":"job.completed","job_id":"gen_42","data":{}}`)

	_, err := newTestGeneration("").VerifyAndParseWebhook(context.Background(), payload, signature.Sign(payload, "gen-secret"))
	if !errors.Is(err, ErrMalformedPayload) {
		t.Fatalf("expected ErrMalformedPayload, got %v", err)
	}
}

func TestGenerationRejectsTamperedPayload(t *testing.T) {
	payload := []byte(`{"id":"evt_gen_3","type":"job.failed","job_id":"gen_42","data":{"error":"oom"}}`)
	sig := signature.Sign(payload, "gen-secret")

	_, err := newTestGeneration("").VerifyAndParseWebhook(context.Background(), []byte(`{"id":"evt_gen_3","type":"job.completed"}`), sig)
	if !errors.Is(err, ErrInvalidSignature) {
		t.Fatalf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestGenerationSubmitJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/jobs" || r.Method != http.MethodPost {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer gen-key" {
			t.Errorf("missing api key header")
		}
		var body submitJobRequest
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body.SourceURL != "https://assets.example.com/in.png" {
			t.Errorf("unexpected source url: %s", body.SourceURL)
		}
		_ = json.NewEncoder(w).Encode(&submitJobResponse{JobID: "gen_77"})
	}))
	defer srv.Close()

	jobID, err := newTestGeneration(srv.URL).SubmitJob(context.Background(), "https://assets.example.com/in.png", map[string]string{"style": "hdr"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jobID != "gen_77" {
		t.Fatalf("unexpected job id: %s", jobID)
	}
}

func TestGenerationGetJobStatus(t *testing.T) {
	responses := map[string]jobStatusResponse{
		"gen_running": {Status: "processing"},
		"gen_done":    {Status: "completed", ResultURL: "https://cdn.example.com/out.png"},
		"gen_failed":  {Status: "failed", Error: "upstream error"},
	}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/jobs/"):]
		_ = json.NewEncoder(w).Encode(responses[id])
	}))
	defer srv.Close()

	adapter := newTestGeneration(srv.URL)
	ctx := context.Background()

	event, err := adapter.GetJobStatus(ctx, "gen_running")
	if err != nil || event != nil {
		t.Fatalf("expected in-flight job to yield nil event, got %+v err=%v", event, err)
	}

	event, err = adapter.GetJobStatus(ctx, "gen_done")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != EventJobCompleted || event.ResultAssetURL != "https://cdn.example.com/out.png" {
		t.Fatalf("unexpected completed event: %+v", event)
	}

	event, err = adapter.GetJobStatus(ctx, "gen_failed")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if event.Type != EventJobFailed || event.ErrorDetail != "upstream error" {
		t.Fatalf("unexpected failed event: %+v", event)
	}
}
