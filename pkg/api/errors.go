package api

import (
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/arbor-coach/arbor/pkg/models"
	"github.com/arbor-coach/arbor/pkg/services"
)

// ErrorResponse is the HTTP error body: a machine-readable code from the
// closed taxonomy plus a human message.
type ErrorResponse struct {
	ErrorCode models.ErrorCode `json:"error_code"`
	Message   string           `json:"message"`
}

// httpStatusOf maps taxonomy codes to HTTP statuses. Worker-side codes
// (LLM_*) never surface here; anything uncoded is internal.
func httpStatusOf(code models.ErrorCode) int {
	switch code {
	case models.ErrCodeJobValidation, models.ErrCodeParameterValidation:
		return http.StatusBadRequest
	case models.ErrCodeSessionAccess:
		return http.StatusForbidden
	case models.ErrCodeJobNotFound, models.ErrCodeSessionNotFound:
		return http.StatusNotFound
	case models.ErrCodeSessionNotActive, models.ErrCodeSessionBusy,
		models.ErrCodeMaxTurnsReached, models.ErrCodeSessionIdleTimeout:
		return http.StatusConflict
	case models.ErrCodeConfigNotFound:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a service-layer error to the HTTP error body.
func respondError(c *echo.Context, err error) error {
	code := services.CodeOf(err)
	status := httpStatusOf(code)
	if status == http.StatusInternalServerError {
		slog.Error("Unexpected service error", "error", err)
		return c.JSON(status, &ErrorResponse{ErrorCode: models.ErrCodeInternal, Message: "internal server error"})
	}
	return c.JSON(status, &ErrorResponse{ErrorCode: code, Message: err.Error()})
}

// errorJSON writes an HTTP-layer error that never passed through a service.
func errorJSON(c *echo.Context, status int, code models.ErrorCode, msg string) error {
	return c.JSON(status, &ErrorResponse{ErrorCode: code, Message: msg})
}
