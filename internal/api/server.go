package api

import (
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"

	"latchkey/internal/api/handlers"
	"latchkey/internal/api/middleware"
	"latchkey/internal/config"
	"latchkey/internal/keys"
	"latchkey/internal/metrics"
	"latchkey/internal/service"
	"latchkey/internal/store"
)

type Server struct {
	Router *gin.Engine
	DB     *pgxpool.Pool
	Config config.Config

	Keypair         *keys.Keypair
	Engine          *service.Engine
	LicenseStore    store.LicenseStore
	ActivationStore store.ActivationStore
	LogStore        store.LogStore
	StatsStore      store.StatsStore
}

func NewServer(cfg config.Config, db *pgxpool.Pool, kp *keys.Keypair, engine *service.Engine, ls store.LicenseStore, as store.ActivationStore, logs store.LogStore, ss store.StatsStore) *Server {
	r := gin.Default()

	r.Use(middleware.ResponseSigningMiddleware(kp))
	if len(cfg.TrustedProxies) > 0 {
		r.SetTrustedProxies(cfg.TrustedProxies)
	}

	server := &Server{
		Router:          r,
		DB:              db,
		Config:          cfg,
		Keypair:         kp,
		Engine:          engine,
		LicenseStore:    ls,
		ActivationStore: as,
		LogStore:        logs,
		StatsStore:      ss,
	}

	server.setupRoutes()
	return server
}

func (s *Server) setupRoutes() {
	adminRateLimiter := middleware.RateLimitMiddleware(s.Config.RateLimitAdmin)
	publicRateLimiter := middleware.RateLimitMiddleware(s.Config.RateLimitPublic)

	s.Router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	s.Router.GET("/metrics", metrics.Handler())

	// Device-facing endpoints
	v1 := s.Router.Group("/api/v1")
	v1.Use(publicRateLimiter)
	{
		v1.POST("/activate", handlers.ActivateHandler(s.Engine, s.LogStore))
		v1.POST("/verify", handlers.VerifyHandler(s.Engine))
		v1.POST("/heartbeat", handlers.HeartbeatHandler(s.Engine))
		v1.GET("/public-key", handlers.PublicKeyHandler(s.Engine))
	}

	// Admin endpoints
	authorized := s.Router.Group("/")
	authorized.Use(adminRateLimiter)
	authorized.Use(middleware.JWTAuth(s.Config))
	{
		// Dashboard Stats
		authorized.GET("/admin/stats", handlers.GetDashboardStatsHandler(s.StatsStore))

		// License Management
		authorized.GET("/admin/licenses", handlers.GetLicenseHandler(s.LicenseStore))
		authorized.POST("/admin/licenses", handlers.GenerateLicenseHandler(s.LicenseStore, s.LogStore))
		authorized.PUT("/admin/licenses", handlers.UpdateLicenseHandler(s.LicenseStore, s.LogStore))
		authorized.DELETE("/admin/licenses", handlers.RevokeLicenseHandler(s.LicenseStore, s.LogStore))
		authorized.DELETE("/admin/licenses/purge", handlers.DeleteLicenseHandler(s.LicenseStore, s.LogStore))

		// Activation Management
		authorized.GET("/admin/licenses/activations", handlers.ListActivationsHandler(s.LicenseStore, s.ActivationStore))
		authorized.POST("/admin/activations/deactivate", handlers.DeactivateHandler(s.LicenseStore, s.ActivationStore, s.LogStore))

		// Log Management
		authorized.GET("/admin/logs/activation-checks", handlers.GetActivationCheckLogsHandler(s.LogStore))
		authorized.GET("/admin/logs/admin-actions", handlers.GetAdminLogsHandler(s.LogStore))
	}
}
