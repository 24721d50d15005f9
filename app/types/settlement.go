package types

import (
	"errors"
	"io"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"
)

type SubmitJobRequest struct {
	RequestID      string            `json:"request_id"`
	CallerService  string            `json:"caller_service"`
	SourceAssetRef string            `json:"source_asset_ref"`
	Parameters     map[string]string `json:"parameters"`
}

func NewSubmitJobRequestFromContext(ctx echo.Context) (*SubmitJobRequest, error) {
	var body SubmitJobRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.RequestID = strings.TrimSpace(body.RequestID)
	if body.RequestID == "" {
		body.RequestID = strings.TrimSpace(ctx.Request().Header.Get(echo.HeaderXRequestID))
	}
	body.CallerService = strings.TrimSpace(body.CallerService)
	body.SourceAssetRef = strings.TrimSpace(body.SourceAssetRef)

	return &body, nil
}

func (r *SubmitJobRequest) Validate() error {
	if r.RequestID == "" {
		return errors.New("request_id is required")
	}
	if r.CallerService == "" {
		return errors.New("caller_service is required")
	}
	if r.SourceAssetRef == "" {
		return errors.New("source_asset_ref is required")
	}
	return nil
}

type GetJobRequest struct {
	ID uint64
}

func NewGetJobRequestFromContext(ctx echo.Context) (*GetJobRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetJobRequest{ID: id}, nil
}

func (r *GetJobRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid job id")
	}
	return nil
}

type ListJobsRequest struct {
	RequestID     string
	CallerService string
	HasStatus     bool
	Status        int32
	Limit         int32
	Offset        int32
}

func NewListJobsRequestFromContext(ctx echo.Context) (*ListJobsRequest, error) {
	req := &ListJobsRequest{
		RequestID:     strings.TrimSpace(ctx.QueryParam("request_id")),
		CallerService: strings.TrimSpace(ctx.QueryParam("caller_service")),
		Limit:         100,
		Offset:        0,
	}

	if statusRaw := strings.TrimSpace(ctx.QueryParam("status")); statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = int32(status)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListJobsRequest) Validate() error {
	if r.Limit < 0 || r.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	return nil
}

type FailJobRequest struct {
	ID     uint64 `json:"-"`
	Reason string `json:"reason"`
}

func NewFailJobRequestFromContext(ctx echo.Context) (*FailJobRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}

	var body FailJobRequest
	if err = ctx.Bind(&body); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	body.ID = id
	body.Reason = strings.TrimSpace(body.Reason)

	return &body, nil
}

func (r *FailJobRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid job id")
	}
	if r.Reason == "" {
		return errors.New("reason is required")
	}
	return nil
}

type RegisterPaymentRequest struct {
	OrderID       string `json:"order_id"`
	CallerService string `json:"caller_service"`
	AmountCents   int64  `json:"amount_cents"`
	Currency      string `json:"currency"`
}

func NewRegisterPaymentRequestFromContext(ctx echo.Context) (*RegisterPaymentRequest, error) {
	var body RegisterPaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.OrderID = strings.TrimSpace(body.OrderID)
	body.CallerService = strings.TrimSpace(body.CallerService)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))

	return &body, nil
}

func (r *RegisterPaymentRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order_id is required")
	}
	if r.CallerService == "" {
		return errors.New("caller_service is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	if len(r.Currency) != 3 {
		return errors.New("currency must be 3 letters")
	}
	return nil
}

type GetPaymentRequest struct {
	ID uint64
}

func NewGetPaymentRequestFromContext(ctx echo.Context) (*GetPaymentRequest, error) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		return nil, err
	}
	return &GetPaymentRequest{ID: id}, nil
}

func (r *GetPaymentRequest) Validate() error {
	if r.ID == 0 {
		return errors.New("invalid payment id")
	}
	return nil
}

type ListPaymentsRequest struct {
	OrderID       string
	CallerService string
	HasStatus     bool
	Status        int32
	Limit         int32
	Offset        int32
}

func NewListPaymentsRequestFromContext(ctx echo.Context) (*ListPaymentsRequest, error) {
	req := &ListPaymentsRequest{
		OrderID:       strings.TrimSpace(ctx.QueryParam("order_id")),
		CallerService: strings.TrimSpace(ctx.QueryParam("caller_service")),
		Limit:         100,
		Offset:        0,
	}

	if statusRaw := strings.TrimSpace(ctx.QueryParam("status")); statusRaw != "" {
		status, err := strconv.ParseInt(statusRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.HasStatus = true
		req.Status = int32(status)
	}

	if limitRaw := strings.TrimSpace(ctx.QueryParam("limit")); limitRaw != "" {
		limit, err := strconv.ParseInt(limitRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Limit = int32(limit)
	}

	if offsetRaw := strings.TrimSpace(ctx.QueryParam("offset")); offsetRaw != "" {
		offset, err := strconv.ParseInt(offsetRaw, 10, 32)
		if err != nil {
			return nil, err
		}
		req.Offset = int32(offset)
	}

	return req, nil
}

func (r *ListPaymentsRequest) Validate() error {
	if r.Limit < 0 || r.Offset < 0 {
		return errors.New("limit and offset must not be negative")
	}
	return nil
}

// WebhookRequest carries an inbound provider delivery: the raw body exactly
// as signed plus the signature header the provider used.
type WebhookRequest struct {
	Provider  string
	Payload   []byte
	Signature string
}

// Signature header names, one per provider scheme.
const (
	GenerationSignatureHeader = "X-Generation-Signature"
	GatewaySignatureHeader    = "X-Gateway-Signature"
)

func NewWebhookRequestFromContext(ctx echo.Context) (*WebhookRequest, error) {
	payload, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		return nil, err
	}

	req := &WebhookRequest{
		Provider: strings.ToLower(strings.TrimSpace(ctx.Param("provider"))),
		Payload:  payload,
	}

	for _, header := range []string{GenerationSignatureHeader, GatewaySignatureHeader} {
		if v := strings.TrimSpace(ctx.Request().Header.Get(header)); v != "" {
			req.Signature = v
			break
		}
	}

	return req, nil
}

func (r *WebhookRequest) Validate() error {
	if r.Provider == "" {
		return errors.New("provider is required")
	}
	if len(r.Payload) == 0 {
		return errors.New("payload is required")
	}
	return nil
}
