package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/vibast-solutions/ms-go-settlement/app/entity"
	"github.com/vibast-solutions/ms-go-settlement/app/signature"
)

type GenerationConfig struct {
	BaseURL       string
	APIKey        string
	WebhookSecret string
	HTTPTimeout   time.Duration
}

// GenerationAdapter talks to the asynchronous image generation provider:
// job submission and status polling on the outbound side, webhook
// verification and translation on the inbound side.
type GenerationAdapter struct {
	cfg    GenerationConfig
	client *http.Client
}

func NewGenerationAdapter(cfg GenerationConfig) *GenerationAdapter {
	timeout := cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GenerationAdapter{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

func (a *GenerationAdapter) Name() string {
	return entity.ProviderGeneration
}

type generationWebhookPayload struct {
	ID    string `json:"id"`
	Type  string `json:"type"`
	JobID string `json:"job_id"`
	Data  struct {
		ResultURL string `json:"result_url"`
		Error     string `json:"error"`
	} `json:"data"`
}

func (a *GenerationAdapter) VerifyAndParseWebhook(_ context.Context, payload []byte, signatureHeader string) (*Event, error) {
	if strings.TrimSpace(a.cfg.WebhookSecret) == "" {
		return nil, errors.New("generation webhook secret is not configured")
	}
	if !signature.Verify(payload, signatureHeader, a.cfg.WebhookSecret) {
		return nil, ErrInvalidSignature
	}

	var body generationWebhookPayload
	if err := json.Unmarshal(payload, &body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	event := &Event{
		EventID:       strings.TrimSpace(body.ID),
		Kind:          KindJob,
		ProviderJobID: strings.TrimSpace(body.JobID),
	}

	switch body.Type {
	case "job.accepted":
		if event.ProviderJobID == "" {
			return nil, fmt.Errorf("%w: job.accepted without job_id", ErrMalformedPayload)
		}
		event.Type = EventJobAccepted
	case "job.completed":
		if event.ProviderJobID == "" {
			return nil, fmt.Errorf("%w: job.completed without job_id", ErrMalformedPayload)
		}
		event.ResultAssetURL = strings.TrimSpace(body.Data.ResultURL)
		if event.ResultAssetURL == "" {
			return nil, fmt.Errorf("%w: job.completed without result_url", ErrMalformedPayload)
		}
		event.Type = EventJobCompleted
	case "job.failed":
		if event.ProviderJobID == "" {
			return nil, fmt.Errorf("%w: job.failed without job_id", ErrMalformedPayload)
		}
		event.Type = EventJobFailed
		event.ErrorDetail = strings.TrimSpace(body.Data.Error)
	default:
		// Unknown types verify and record but are not routed.
		event.Type = ""
	}

	return event, nil
}

type submitJobRequest struct {
	SourceURL  string            `json:"source_url"`
	Parameters map[string]string `json:"parameters,omitempty"`
}

type submitJobResponse struct {
	JobID string `json:"job_id"`
}

// SubmitJob sends work to the provider and returns its job identifier, which
// seeds the Job record and routes all later webhooks.
func (a *GenerationAdapter) SubmitJob(ctx context.Context, sourceAssetURL string, parameters map[string]string) (string, error) {
	if strings.TrimSpace(a.cfg.APIKey) == "" {
		return "", errors.New("generation api key is not configured")
	}

	body, err := a.postJSON(ctx, "/v1/jobs", &submitJobRequest{
		SourceURL:  sourceAssetURL,
		Parameters: parameters,
	})
	if err != nil {
		return "", err
	}

	var resp submitJobResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", err
	}
	jobID := strings.TrimSpace(resp.JobID)
	if jobID == "" {
		return "", errors.New("generation provider returned no job id")
	}

	return jobID, nil
}

type jobStatusResponse struct {
	Status    string `json:"status"`
	ResultURL string `json:"result_url"`
	Error     string `json:"error"`
}

// GetJobStatus polls the provider for the reconcile sweep. A nil event with
// nil error means the job is still in flight.
func (a *GenerationAdapter) GetJobStatus(ctx context.Context, providerJobID string) (*Event, error) {
	providerJobID = strings.TrimSpace(providerJobID)
	if providerJobID == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(a.cfg.BaseURL, "/")+"/v1/jobs/"+url.PathEscape(providerJobID), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("generation get job failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	var payload jobStatusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	switch payload.Status {
	case "completed":
		resultURL := strings.TrimSpace(payload.ResultURL)
		if resultURL == "" {
			return nil, errors.New("generation job completed without result_url")
		}
		return &Event{
			Kind:           KindJob,
			Type:           EventJobCompleted,
			ProviderJobID:  providerJobID,
			ResultAssetURL: resultURL,
		}, nil
	case "failed":
		return &Event{
			Kind:          KindJob,
			Type:          EventJobFailed,
			ProviderJobID: providerJobID,
			ErrorDetail:   strings.TrimSpace(payload.Error),
		}, nil
	default:
		return nil, nil
	}
}

func (a *GenerationAdapter) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(a.cfg.BaseURL, "/")+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+a.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("generation request failed: path=%s status=%d body=%s", path, resp.StatusCode, string(body))
	}

	return body, nil
}
