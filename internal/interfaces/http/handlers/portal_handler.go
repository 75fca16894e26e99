// Package handlers contains the gin handlers for the portal's HTTP surface.
package handlers

import (
	"encoding/base64"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relaybot/relay/internal/application/portal"
	"github.com/relaybot/relay/internal/interfaces/http/portalhtml"
	relayerrors "github.com/relaybot/relay/pkg/errors"
	"github.com/relaybot/relay/pkg/logger"
)

// PortalHandler serves the dashboard, the OAuth callback, and revocation.
type PortalHandler struct {
	service  *portal.Service
	renderer *portalhtml.Renderer
	logger   logger.Logger
}

// NewPortalHandler creates the portal handler.
func NewPortalHandler(service *portal.Service, renderer *portalhtml.Renderer, log logger.Logger) *PortalHandler {
	return &PortalHandler{
		service:  service,
		renderer: renderer,
		logger:   log.WithComponent("PortalHandler"),
	}
}

// Dashboard handles GET /.
func (h *PortalHandler) Dashboard(c *gin.Context) {
	view, err := h.service.Dashboard(c.Request.Context(), c.Query("token"), c.Query("just_connected"))
	if err != nil {
		h.renderErrorPage(c, err)
		return
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(http.StatusOK)
	if err := h.renderer.RenderDashboard(c.Writer, view); err != nil {
		h.logger.Error(c.Request.Context(), "failed to render dashboard", err)
	}
}

// Callback handles GET /callback/:provider.
func (h *PortalHandler) Callback(c *gin.Context) {
	location, err := h.service.Callback(c.Request.Context(), c.Param("provider"), c.Query("code"), c.Query("state"))
	if err != nil {
		h.renderErrorPage(c, err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

// Revoke handles POST /revoke/:provider. The hand-off token arrives either
// as a query parameter or as a form field; proxies in front of the portal
// may base64-encode the whole body in transit.
func (h *PortalHandler) Revoke(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = tokenFromBody(c.Request)
	}

	location, err := h.service.Revoke(c.Request.Context(), c.Param("provider"), token)
	if err != nil {
		h.renderErrorPage(c, err)
		return
	}
	c.Redirect(http.StatusFound, location)
}

// tokenFromBody extracts the token form field from a form-encoded body,
// transparently handling a base64-encoded transport wrapping.
func tokenFromBody(r *http.Request) string {
	if r.Body == nil {
		return ""
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, 1<<16))
	if err != nil {
		return ""
	}
	body := strings.TrimSpace(string(raw))

	if values, err := url.ParseQuery(body); err == nil {
		if token := values.Get("token"); token != "" {
			return token
		}
	}
	if decoded, err := base64.StdEncoding.DecodeString(body); err == nil {
		if values, err := url.ParseQuery(string(decoded)); err == nil {
			return values.Get("token")
		}
	}
	return ""
}

// renderErrorPage maps an error through the taxonomy to a status code and a
// user-safe message. Full detail is logged; only sanitized text is rendered.
func (h *PortalHandler) renderErrorPage(c *gin.Context, err error) {
	status := relayerrors.HTTPStatus(err)
	message := relayerrors.UserMessage(err)

	fields := logger.Fields{
		"route":  c.FullPath(),
		"status": status,
	}
	if re, ok := relayerrors.As(err); ok {
		fields["code"] = string(re.Code())
	}
	if status >= http.StatusInternalServerError {
		h.logger.Error(c.Request.Context(), "portal request failed", err, fields)
	} else {
		h.logger.Warn(c.Request.Context(), "portal request rejected", logger.Fields{
			"route":  c.FullPath(),
			"status": status,
			"error":  err.Error(),
		})
	}

	c.Header("Content-Type", "text/html; charset=utf-8")
	c.Status(status)
	if renderErr := h.renderer.RenderError(c.Writer, message); renderErr != nil {
		h.logger.Error(c.Request.Context(), "failed to render error page", renderErr)
	}
	c.Abort()
}
