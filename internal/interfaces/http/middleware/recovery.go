package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relaybot/relay/internal/interfaces/http/portalhtml"
	"github.com/relaybot/relay/pkg/logger"
)

// Recovery converts a handler panic into a 500 with the generic error page.
// Panic detail is logged server-side and never appears in the response body.
func Recovery(log logger.Logger, renderer *portalhtml.Renderer) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error(c.Request.Context(), "panic recovered in handler", nil, logger.Fields{
					"panic": r,
					"route": c.FullPath(),
				})
				c.Header("Content-Type", "text/html; charset=utf-8")
				c.Status(http.StatusInternalServerError)
				_ = renderer.RenderError(c.Writer, "Internal server error. Please try again.")
				c.Abort()
			}
		}()
		c.Next()
	}
}
