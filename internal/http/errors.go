package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/fyrsmithlabs/dispatchd/internal/jobs"
	"github.com/fyrsmithlabs/dispatchd/internal/modelconfig"
	"github.com/fyrsmithlabs/dispatchd/internal/orchestrator"
	"github.com/fyrsmithlabs/dispatchd/internal/provider"
)

// ErrorBody is the error payload returned by all endpoints.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError maps domain errors to typed codes and HTTP statuses.
func writeError(c echo.Context, err error) error {
	code, status := classify(err)
	return c.JSON(status, map[string]ErrorBody{
		"error": {Code: code, Message: err.Error()},
	})
}

func classify(err error) (code string, status int) {
	switch {
	case errors.Is(err, orchestrator.ErrInvalidRequest):
		return "invalid_request", http.StatusBadRequest
	case errors.Is(err, modelconfig.ErrNoActiveModel):
		return "no_active_model", http.StatusUnprocessableEntity
	case errors.Is(err, modelconfig.ErrInvalidConfig):
		return "invalid_model_config", http.StatusBadRequest
	case errors.Is(err, modelconfig.ErrNotFound):
		return "model_config_not_found", http.StatusNotFound
	case errors.Is(err, provider.ErrAuth):
		return "provider_auth_error", http.StatusBadGateway
	case errors.Is(err, provider.ErrModelNotFound):
		return "provider_model_not_found", http.StatusBadGateway
	case errors.Is(err, provider.ErrRateLimited):
		return "provider_rate_limited", http.StatusTooManyRequests
	case errors.Is(err, provider.ErrTimeout):
		return "provider_timeout", http.StatusGatewayTimeout
	case errors.Is(err, jobs.ErrNotFound):
		return "job_not_found", http.StatusNotFound
	case errors.Is(err, jobs.ErrNotTerminal):
		return "job_not_terminal", http.StatusConflict
	case errors.Is(err, jobs.ErrUnknownType):
		return "unknown_job_type", http.StatusBadRequest
	case errors.Is(err, jobs.ErrQueueFull):
		return "job_queue_full", http.StatusServiceUnavailable
	}
	return "internal_error", http.StatusInternalServerError
}
