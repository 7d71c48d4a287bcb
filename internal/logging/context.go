package logging

import (
	"context"

	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// RequestIDFromContext returns the chi request id, empty outside HTTP requests.
func RequestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	return middleware.GetReqID(ctx)
}

// FromContext tags logger with the request id when one is present.
func FromContext(ctx context.Context, logger *zap.Logger) *zap.Logger {
	if requestID := RequestIDFromContext(ctx); requestID != "" {
		return logger.With(zap.String("request_id", requestID))
	}
	return logger
}
