// Package http wires the portal's HTTP surface: routes, middleware, and the
// server lifecycle.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/internal/infrastructure/monitoring"
	"github.com/relaybot/relay/internal/interfaces/http/handlers"
	"github.com/relaybot/relay/internal/interfaces/http/middleware"
	"github.com/relaybot/relay/internal/interfaces/http/portalhtml"
	"github.com/relaybot/relay/pkg/logger"
)

// Router owns the gin engine and the HTTP server.
type Router struct {
	engine        *gin.Engine
	config        *config.Config
	logger        logger.Logger
	metrics       *monitoring.Metrics
	renderer      *portalhtml.Renderer
	portalHandler *handlers.PortalHandler
	healthHandler *handlers.HealthHandler
	server        *http.Server
}

// NewRouter creates the router.
func NewRouter(
	cfg *config.Config,
	log logger.Logger,
	metrics *monitoring.Metrics,
	renderer *portalhtml.Renderer,
	portalHandler *handlers.PortalHandler,
	healthHandler *handlers.HealthHandler,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	return &Router{
		engine:        gin.New(),
		config:        cfg,
		logger:        log,
		metrics:       metrics,
		renderer:      renderer,
		portalHandler: portalHandler,
		healthHandler: healthHandler,
	}
}

// SetupRoutes installs the middleware chain and all routes.
func (r *Router) SetupRoutes() {
	r.engine.Use(middleware.Recovery(r.logger, r.renderer))
	r.engine.Use(middleware.Observability(r.logger, r.metrics))

	r.engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "X-Request-ID"},
		MaxAge:       12 * time.Hour,
	}))

	r.engine.GET("/health/live", r.healthHandler.LivenessCheck)
	r.engine.GET("/health/ready", r.healthHandler.ReadinessCheck)

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.config.Server.PprofEnabled {
		pprof.Register(r.engine)
	}

	r.engine.GET("/", r.portalHandler.Dashboard)
	r.engine.GET("/callback/:provider", r.portalHandler.Callback)
	r.engine.POST("/revoke/:provider", r.portalHandler.Revoke)

	r.engine.NoRoute(func(c *gin.Context) {
		c.Header("Content-Type", "text/html; charset=utf-8")
		c.Status(http.StatusNotFound)
		_ = r.renderer.RenderError(c.Writer, "The requested page was not found.")
	})
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

// Start runs the HTTP server until Stop is called or it fails.
func (r *Router) Start() error {
	addr := fmt.Sprintf("%s:%d", r.config.Server.Host, r.config.Server.Port)
	r.server = &http.Server{
		Addr:           addr,
		Handler:        r.engine,
		ReadTimeout:    time.Duration(r.config.Server.ReadTimeout) * time.Second,
		WriteTimeout:   time.Duration(r.config.Server.WriteTimeout) * time.Second,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "starting HTTP server", logger.Fields{"address": addr})

	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop shuts the server down gracefully.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "stopping HTTP server")
	return r.server.Shutdown(ctx)
}
