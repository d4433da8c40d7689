package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/docufort/admitd/internal/config"
	"github.com/docufort/admitd/pkg/logger"
)

// Router is the operational HTTP server.
type Router struct {
	engine *gin.Engine
	cfg    config.ServerConfig
	logger logger.Logger
	health *HealthHandler
	admin  *AdminHandler
	server *http.Server
}

// NewRouter builds the server and registers its routes.
func NewRouter(cfg config.ServerConfig, log logger.Logger, health *HealthHandler, admin *AdminHandler) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		engine: gin.New(),
		cfg:    cfg,
		logger: log,
		health: health,
		admin:  admin,
	}
	r.setupRoutes()
	return r
}

func (r *Router) setupRoutes() {
	r.engine.Use(gin.Recovery())
	r.engine.Use(RequestLogger(r.logger))
	r.engine.Use(cors.New(cors.Config{
		AllowOrigins:  []string{"*"},
		AllowMethods:  []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"X-Request-ID"},
		MaxAge:        12 * time.Hour,
	}))

	r.engine.GET("/healthz", r.health.Check)
	r.engine.GET("/readyz", r.health.Check)

	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.cfg.EnablePprof {
		pprof.Register(r.engine)
	}

	v1 := r.engine.Group("/api/v1")
	{
		users := v1.Group("/admin/users")
		{
			users.PUT("/:user_id/tier", r.admin.SetTier)
			users.POST("/:user_id/ban", r.admin.Ban)
			users.DELETE("/:user_id/ban", r.admin.Unban)
			users.GET("/:user_id/usage", r.admin.Usage)
			users.GET("/:user_id/session", r.admin.Session)
		}
	}

	r.engine.NoRoute(func(c *gin.Context) {
		renderError(c, http.StatusNotFound, "not_found", "the requested resource was not found")
	})
}

// Start blocks serving HTTP until the listener fails or Stop is called.
func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:           r.cfg.Addr(),
		Handler:        r.engine,
		ReadTimeout:    r.cfg.ReadTimeout,
		WriteTimeout:   r.cfg.WriteTimeout,
		MaxHeaderBytes: 1 << 20,
	}

	r.logger.Info(context.Background(), "http server listening",
		logger.String("address", r.cfg.Addr()),
	)
	if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Stop drains in-flight requests and shuts the server down.
func (r *Router) Stop(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	r.logger.Info(ctx, "http server stopping")
	return r.server.Shutdown(ctx)
}

// Engine exposes the gin engine for tests.
func (r *Router) Engine() *gin.Engine {
	return r.engine
}
