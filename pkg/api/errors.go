package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/pullquiz/pullquiz/pkg/engine"
	"github.com/pullquiz/pullquiz/pkg/models"
	"github.com/pullquiz/pullquiz/pkg/storage"
)

// mapEngineError maps engine and storage errors to HTTP error responses.
func mapEngineError(err error) *echo.HTTPError {
	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) {
		switch cmdErr.Code {
		case models.ErrCodeInvalidState, models.ErrCodeAlreadyAnswered, models.ErrCodeQuestionExpired:
			return echo.NewHTTPError(http.StatusConflict, cmdErr.Message)
		case models.ErrCodeNotAuthorized, models.ErrCodeKicked:
			return echo.NewHTTPError(http.StatusForbidden, cmdErr.Message)
		case models.ErrCodeSessionNotFound:
			return echo.NewHTTPError(http.StatusNotFound, cmdErr.Message)
		case models.ErrCodeInvalidMessage, models.ErrCodeInvalidAnswer:
			return echo.NewHTTPError(http.StatusBadRequest, cmdErr.Message)
		default:
			slog.Error("Engine command failed", "code", cmdErr.Code, "error", cmdErr.Message)
			return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
		}
	}
	if errors.Is(err, engine.ErrSessionNotFound) || errors.Is(err, storage.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, engine.ErrAlreadyInitialized) {
		return echo.NewHTTPError(http.StatusConflict, "session already initialized")
	}
	if errors.Is(err, storage.ErrLeaseHeld) {
		return echo.NewHTTPError(http.StatusConflict, "session is owned by another engine host")
	}
	if errors.Is(err, engine.ErrEngineStopped) {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "session engine is shutting down")
	}

	// Unexpected error
	slog.Error("Unexpected engine error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
