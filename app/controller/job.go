package controller

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sirupsen/logrus"

	"github.com/vibast-solutions/ms-go-settlement/app/factory"
	"github.com/vibast-solutions/ms-go-settlement/app/mapper"
	"github.com/vibast-solutions/ms-go-settlement/app/service"
	"github.com/vibast-solutions/ms-go-settlement/app/types"
)

type JobController struct {
	jobService *service.JobService
	logger     logrus.FieldLogger
}

func NewJobController(jobService *service.JobService) *JobController {
	return &JobController{
		jobService: jobService,
		logger:     factory.NewModuleLogger("job-controller"),
	}
}

func (c *JobController) Health(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, &types.HealthResponse{Status: "ok"})
}

func (c *JobController) SubmitJob(ctx echo.Context) error {
	req, err := types.NewSubmitJobRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request body")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.jobService.SubmitJob(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrInvalidRequest):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		case errors.Is(err, service.ErrJobAlreadyExists):
			return writeError(ctx, http.StatusConflict, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Submit job failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusCreated, &types.JobEnvelopeResponse{Job: mapper.JobToResponse(item)})
}

func (c *JobController) GetJob(ctx echo.Context) error {
	req, err := types.NewGetJobRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.jobService.GetJob(ctx.Request().Context(), req.ID)
	if err != nil {
		if errors.Is(err, service.ErrJobNotFound) {
			return writeError(ctx, http.StatusNotFound, "job not found")
		}
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Get job failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.JobEnvelopeResponse{Job: mapper.JobToResponse(item)})
}

func (c *JobController) ListJobs(ctx echo.Context) error {
	req, err := types.NewListJobsRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	items, err := c.jobService.ListJobs(ctx.Request().Context(), req)
	if err != nil {
		factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("List jobs failed")
		return writeError(ctx, http.StatusInternalServerError, "internal server error")
	}

	return ctx.JSON(http.StatusOK, &types.ListJobsResponse{Jobs: mapper.JobsToResponse(items)})
}

func (c *JobController) FailJob(ctx echo.Context) error {
	req, err := types.NewFailJobRequestFromContext(ctx)
	if err != nil {
		return writeError(ctx, http.StatusBadRequest, "invalid request")
	}
	if err := req.Validate(); err != nil {
		return writeError(ctx, http.StatusBadRequest, err.Error())
	}

	item, err := c.jobService.FailJob(ctx.Request().Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrJobNotFound):
			return writeError(ctx, http.StatusNotFound, "job not found")
		case errors.Is(err, service.ErrInvalidStatus):
			return writeError(ctx, http.StatusBadRequest, err.Error())
		default:
			factory.LoggerWithContext(c.logger, ctx).WithError(err).Error("Fail job failed")
			return writeError(ctx, http.StatusInternalServerError, "internal server error")
		}
	}

	return ctx.JSON(http.StatusOK, &types.JobEnvelopeResponse{Job: mapper.JobToResponse(item)})
}

func writeError(ctx echo.Context, statusCode int, message string) error {
	return ctx.JSON(statusCode, &types.ErrorResponse{Error: message})
}
