// Package api provides the local HTTP API the ERP UI talks to. It binds to
// loopback only; the daemon is not a network-facing service.
package api

import (
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/groomwise/outpost/internal/auth"
	"github.com/groomwise/outpost/internal/connectivity"
	"github.com/groomwise/outpost/internal/license"
	"github.com/groomwise/outpost/internal/metrics"
)

// Config holds configuration for the API router.
type Config struct {
	// Version information for the version endpoint.
	Version   string
	Commit    string
	BuildDate string
}

// Router wraps a Gin engine with configured middleware and routes.
type Router struct {
	Engine *gin.Engine
	logger zerolog.Logger
}

// NewRouter creates a Router with the daemon's endpoints wired in.
func NewRouter(
	cfg Config,
	gate *auth.Gate,
	sessions *auth.Sessions,
	licenses *license.Service,
	monitor *connectivity.Monitor,
	m *metrics.Metrics,
	logger zerolog.Logger,
) *Router {
	gin.SetMode(gin.ReleaseMode)

	r := &Router{
		Engine: gin.New(),
		logger: logger.With().Str("component", "router").Logger(),
	}

	r.Engine.Use(gin.Recovery())
	r.Engine.Use(RequestLogger(logger))

	authHandler := NewAuthHandler(gate, m, logger)
	licenseHandler := NewLicenseHandler(licenses, m, logger)
	statusHandler := NewStatusHandler(monitor, logger)

	r.Engine.GET("/healthz", statusHandler.Healthz)
	r.Engine.GET("/metrics", gin.WrapH(m.Handler()))
	r.Engine.GET("/version", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"version":    cfg.Version,
			"commit":     cfg.Commit,
			"build_date": cfg.BuildDate,
		})
	})

	v1 := r.Engine.Group("/api/v1")
	{
		// Pre-session endpoints: login and activation happen before any
		// session token exists.
		v1.POST("/auth/login", authHandler.Login)
		v1.POST("/auth/login/pin", authHandler.LoginWithPin)
		v1.POST("/license/activate", licenseHandler.Activate)
		v1.GET("/connectivity", statusHandler.Connectivity)

		authed := v1.Group("")
		authed.Use(RequireSession(sessions))
		{
			authed.POST("/auth/pin", authHandler.SetPin)
			authed.GET("/license/verdict", licenseHandler.Verdict)
			authed.POST("/license/sync", licenseHandler.Sync)
		}
	}

	return r
}
