package service

import "errors"

var (
	ErrInvalidRequest       = errors.New("invalid request")
	ErrJobNotFound          = errors.New("job not found")
	ErrJobAlreadyExists     = errors.New("job already exists")
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")
	ErrInvalidStatus        = errors.New("invalid status")
	ErrProviderUnsupported  = errors.New("provider is not supported")
	ErrWebhookRejected      = errors.New("webhook rejected")
	ErrStateIntegrity       = errors.New("state integrity violation")
)
