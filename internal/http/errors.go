package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/deadlined/internal/assistant"
	"github.com/fyrsmithlabs/deadlined/internal/deadline"
	"github.com/fyrsmithlabs/deadlined/internal/extraction"
	"github.com/fyrsmithlabs/deadlined/internal/ingestion"
	"github.com/fyrsmithlabs/deadlined/internal/store"
	"github.com/fyrsmithlabs/deadlined/internal/tracker"
)

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, deadline.ErrInvalid),
		errors.Is(err, extraction.ErrUnknownInterpreter),
		errors.Is(err, ingestion.ErrNotPushable):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound),
		errors.Is(err, tracker.ErrRuleNotFound),
		errors.Is(err, ingestion.ErrUnknownSource):
		return http.StatusNotFound
	case errors.Is(err, ingestion.ErrAlreadyRunning):
		return http.StatusConflict
	case errors.Is(err, extraction.ErrNotConfigured):
		return http.StatusUnprocessableEntity
	case errors.Is(err, ingestion.ErrBufferFull):
		return http.StatusTooManyRequests
	case errors.Is(err, extraction.ErrAllInterpretersFailed),
		errors.Is(err, assistant.ErrModelFailed):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// apiError converts err into an echo.HTTPError. Internal errors keep their
// detail out of the response.
func apiError(err error) *echo.HTTPError {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		return echo.NewHTTPError(code, "internal error").SetInternal(err)
	}
	return echo.NewHTTPError(code, err.Error())
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		var he *echo.HTTPError
		if !errors.As(err, &he) {
			he = apiError(err)
		}
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		if he.Internal != nil {
			logger.Error("request failed", zap.String("uri", c.Request().RequestURI), zap.Error(he.Internal))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(he.Code)
			return
		}
		_ = c.JSON(he.Code, ErrorResponse{Error: msg})
	}
}
