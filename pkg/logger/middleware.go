package logger

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const (
	// RequestIDHeader is the HTTP header for request ID
	RequestIDHeader = "X-Request-ID"
)

// GinMiddleware tags every request with an ID and logs its completion.
// Paths in skip (health checks, scrapes) are tagged but not logged.
func GinMiddleware(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, p := range skip {
		skipped[p] = struct{}{}
	}

	return func(c *gin.Context) {
		requestID := c.GetHeader(RequestIDHeader)
		if requestID == "" {
			requestID = GenerateRequestID()
		}
		c.Header(RequestIDHeader, requestID)

		ctx := WithRequestID(c.Request.Context(), requestID)
		c.Request = c.Request.WithContext(ctx)

		start := time.Now()
		c.Next()

		if _, ok := skipped[c.FullPath()]; ok {
			return
		}

		// handlers may have enriched the context (e.g. WithUser)
		ctx = c.Request.Context()
		status := c.Writer.Status()
		event := Info(ctx)
		switch {
		case status >= http.StatusInternalServerError:
			event = Error(ctx)
		case status >= http.StatusBadRequest:
			event = Warn(ctx)
		}
		if len(c.Errors) > 0 {
			event = event.Str("errors", c.Errors.String())
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("ip", c.ClientIP()).
			Int("status", status).
			Dur("duration", time.Since(start)).
			Msg("Request completed")
	}
}

// DetachedContext builds a long-lived context for a websocket connection.
// It keeps the request ID but is not cancelled when the upgrade handler returns.
func DetachedContext(r *http.Request) context.Context {
	requestID := r.URL.Query().Get("request_id")
	if requestID == "" {
		requestID = r.Header.Get(RequestIDHeader)
	}
	if requestID == "" {
		requestID = GenerateRequestID()
	}
	return WithRequestID(context.Background(), requestID)
}
