// Package http wires devicecore's local pairing surface onto gin,
// grounded on the teacher's internal/interfaces/http.Router (same
// gin.New + cors + pprof + promhttp assembly), trimmed to the endpoints
// a device process actually serves locally.
package http

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/pprof"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/edgeweave/devicecore/internal/config"
	"github.com/edgeweave/devicecore/internal/interfaces/http/handlers"
	"github.com/edgeweave/devicecore/pkg/logger"
)

// Router assembles devicecore's gin engine and owns the HTTP server
// lifecycle.
type Router struct {
	engine  *gin.Engine
	cfg     *config.Config
	log     logger.Logger
	server  *http.Server
	pairing *handlers.PairingHandler
	health  *handlers.HealthHandler
}

// NewRouter constructs the router. Call SetupRoutes before Start.
func NewRouter(cfg *config.Config, log logger.Logger, pairing *handlers.PairingHandler, health *handlers.HealthHandler) *Router {
	gin.SetMode(gin.ReleaseMode)
	return &Router{
		engine:  gin.New(),
		cfg:     cfg,
		log:     log,
		pairing: pairing,
		health:  health,
	}
}

// SetupRoutes installs middleware and devicecore's route table.
func (r *Router) SetupRoutes() {
	r.engine.Use(gin.Recovery())

	r.engine.Use(cors.New(cors.Config{
		AllowOrigins:     r.cfg.HTTP.CORSOrigins,
		AllowMethods:     []string{"GET", "POST"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	r.engine.GET("/live", r.health.Live)
	r.engine.GET("/ready", r.health.Ready)
	r.engine.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if r.cfg.HTTP.EnablePprof {
		pprof.Register(r.engine)
	}

	local := r.engine.Group("/local/v1")
	{
		local.POST("/pairingStart", r.pairing.StartPairing)
		local.POST("/pairingConfirm", r.pairing.ConfirmPairing)
		local.POST("/pairingCancel", r.pairing.CancelPairing)
		local.POST("/authenticate", r.pairing.Authenticate)
	}
}

// Start runs the HTTP server. It blocks until the server stops.
func (r *Router) Start() error {
	r.server = &http.Server{
		Addr:    r.cfg.HTTP.Addr,
		Handler: r.engine,
	}
	r.log.Info("http server listening", logger.String("addr", r.cfg.HTTP.Addr))
	return r.server.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}
