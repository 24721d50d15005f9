package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlement/app/factory"
	"github.com/vibast-solutions/ms-go-settlement/app/service"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
)

// WebhookController receives provider deliveries. The route carries no API
// key; the payload signature is the authentication.
type WebhookController struct {
	dispatchService *service.DispatchService
	logger          logrus.FieldLogger
}

func NewWebhookController(dispatchService *service.DispatchService) *WebhookController {
	return &WebhookController{
		dispatchService: dispatchService,
		logger:          factory.NewModuleLogger("webhook-controller"),
	}
}

func (c *WebhookController) HandleWebhook(ctx echo.Context) error {
	req, err := types.NewWebhookRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	result, err := c.dispatchService.HandleWebhook(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrProviderUnsupported):
			return writeError(ctx, http.StatusNotFound, "provider is not supported")
		case errors.Is(err, service.ErrWebhookRejected):
			return writeError(ctx, http.StatusBadRequest, "webhook rejected")
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).WithField("provider", req.Provider).Error("Handle webhook failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	factory.LoggerWithContext(c.logger, ctx).WithFields(logrus.Fields{
		"provider": req.Provider,
		"outcome":  result.Outcome,
	}).Info("webhook processed")

	return ctx.JSON(http.StatusOK, &types.MessageResponse{Message: "webhook processed"})
}
