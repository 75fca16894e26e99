// Package middleware provides the gin middleware chain for the portal:
// request identity, logging, tracing, and panic recovery.
package middleware

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/relaybot/relay/internal/infrastructure/monitoring"
	"github.com/relaybot/relay/pkg/constants"
	"github.com/relaybot/relay/pkg/logger"
)

// Observability assigns a request id, opens a trace span, logs the request
// outcome, and records the portal request counter.
func Observability(log logger.Logger, metrics *monitoring.Metrics) gin.HandlerFunc {
	tracer := otel.Tracer("relay-http")

	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Header("X-Request-ID", requestID)

		ctx := context.WithValue(c.Request.Context(), constants.ContextKeyRequestID, requestID)
		ctx, span := tracer.Start(ctx, c.Request.Method+" "+c.FullPath())
		defer span.End()
		c.Request = c.Request.WithContext(ctx)

		c.Next()

		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "not_found"
		}

		span.SetAttributes(
			attribute.String("http.method", c.Request.Method),
			attribute.String("http.route", route),
			attribute.Int("http.status_code", status),
		)

		result := "ok"
		if status >= 400 {
			result = "error"
		}
		if metrics != nil {
			metrics.RecordPortalRequest(route, result)
		}

		log.Info(ctx, "http request", logger.Fields{
			"method":      c.Request.Method,
			"route":       route,
			"status":      status,
			"duration_ms": time.Since(start).Milliseconds(),
			"client_ip":   c.ClientIP(),
		})
	}
}
