package server

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quotagate/quotagate/internal/catalog"
	"github.com/quotagate/quotagate/internal/circuitbreaker"
	"github.com/quotagate/quotagate/internal/config"
	"github.com/quotagate/quotagate/internal/handler"
	"github.com/quotagate/quotagate/internal/middleware"
	"github.com/quotagate/quotagate/internal/ratelimit"
	"github.com/quotagate/quotagate/internal/repository"
	"github.com/quotagate/quotagate/internal/service"
	"github.com/quotagate/quotagate/internal/storage"
)

type Server struct {
	router     *gin.Engine
	config     *config.Config
	redis      *storage.RedisClient
	postgres   *storage.Postgres
	admission  *service.AdmissionService
	stats      *service.StatsService
	breaker    *circuitbreaker.CircuitBreaker
	httpServer *http.Server
}

func New(cfg *config.Config, redis *storage.RedisClient, postgres *storage.Postgres) (*Server, error) {
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	defaults, err := cfg.CatalogDefaults()
	if err != nil {
		return nil, err
	}

	cat, err := catalog.New(defaults, cfg.Costs)
	if err != nil {
		return nil, err
	}

	// Repositories
	overrideRepo := repository.NewOverrideRepository(postgres)
	accessRepo := repository.NewAccessListRepository(postgres)
	auditRepo := repository.NewAuditRepository(postgres)
	usageRepo := repository.NewUsageRepository(postgres)
	userRepo := repository.NewUserRepository(postgres)

	// Services
	resolver := catalog.NewResolver(cat, overrideRepo, redis, cfg.CacheTTL())
	accessService := service.NewAccessListService(accessRepo, redis, auditRepo, cfg.CacheTTL())
	statsService := service.NewStatsService(
		usageRepo,
		cfg.Admission.StatsBufferSize,
		time.Duration(cfg.Admission.StatsFlushSeconds)*time.Second,
		time.Duration(cfg.Admission.StatsRetentionHours)*time.Hour,
	)
	authService := service.NewAuthService(userRepo, cfg.Auth.JWTSecret, cfg.Auth.ExpiryHours)
	reloadService := service.NewConfigReloadService(cfg.Path, cat, auditRepo)

	breaker := circuitbreaker.New(circuitbreaker.Config{
		MaxFailures: cfg.Admission.BreakerMaxFailures,
		Cooldown:    time.Duration(cfg.Admission.BreakerCooldownSec) * time.Second,
	})

	tierSource := service.NewCachedTierSource(
		service.NewRepositoryTierSource(userRepo), redis, cfg.CacheTTL())

	admissionService := service.NewAdmissionService(service.AdmissionConfig{
		Store:        ratelimit.NewRedisStore(redis),
		Resolver:     resolver,
		Access:       accessService,
		TierSource:   tierSource,
		Audit:        auditRepo,
		Stats:        statsService,
		Breaker:      breaker,
		FailOpen:     cfg.FailOpen(),
		StoreTimeout: cfg.StoreTimeout(),
		SoftLimitPct: float64(cfg.Admission.SoftLimitPercent),
	})

	s := &Server{
		router:    router,
		config:    cfg,
		redis:     redis,
		postgres:  postgres,
		admission: admissionService,
		stats:     statsService,
		breaker:   breaker,
	}

	s.setupMiddleware()
	s.setupRoutes(authService, admissionService, accessService, statsService, reloadService)

	return s, nil
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recovery())
	s.router.Use(middleware.RequestID())
	s.router.Use(middleware.Logger())
}

func (s *Server) setupRoutes(
	authService *service.AuthService,
	admissionService *service.AdmissionService,
	accessService *service.AccessListService,
	statsService *service.StatsService,
	reloadService *service.ConfigReloadService,
) {
	authHandler := handler.NewAuthHandler(authService)
	adminHandler := handler.NewAdminHandler(admissionService, accessService, statsService, reloadService)
	dashboardHandler := handler.NewDashboardHandler(admissionService)

	s.router.GET("/health", s.healthCheck)

	auth := s.router.Group("/auth")
	{
		auth.POST("/register", authHandler.Register)
		auth.POST("/login", authHandler.Login)
	}

	// Per-resource protected groups show the middleware contract; real
	// consumers mount Admit on their own routes.
	api := s.router.Group("/api", middleware.RequireAuth(authService))
	{
		api.GET("/market-data", middleware.Admit(s.admission, "marketData"), okHandler)
		api.GET("/search", middleware.Admit(s.admission, "search"), okHandler)
		api.POST("/analysis", middleware.Admit(s.admission, "analysis"), okHandler)
		api.POST("/ai", middleware.Admit(s.admission, "ai"), okHandler)
		api.POST("/scanner", middleware.Admit(s.admission, "scanner"), okHandler)
	}

	dashboard := s.router.Group("/dashboard", middleware.RequireAuth(authService))
	{
		dashboard.GET("/:userId", dashboardHandler.GetUserDashboard)
		dashboard.GET("/:userId/check/:resource", dashboardHandler.CheckResource)
	}

	admin := s.router.Group("/admin", middleware.RequireAuth(authService), middleware.RequireAdmin())
	{
		admin.GET("/overrides", adminHandler.ListOverrides)
		admin.PUT("/overrides", adminHandler.SetOverride)
		admin.DELETE("/overrides/:tier/:resource", adminHandler.RemoveOverride)

		admin.GET("/lists/:list", adminHandler.ListEntries)
		admin.POST("/lists/:list", adminHandler.AddEntry)
		admin.DELETE("/lists/:list/:userId", adminHandler.RemoveEntry)

		admin.POST("/reset/:userId", adminHandler.ResetUser)
		admin.POST("/reload", adminHandler.ReloadConfig)

		admin.GET("/stats/tiers", adminHandler.TierDistribution)
		admin.GET("/stats/resources", adminHandler.ResourceUsage)
		admin.GET("/stats/limited", adminHandler.MostLimitedUsers)
	}
}

func okHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) healthCheck(c *gin.Context) {
	redisHealthy := true

	if err := s.redis.Ping(c.Request.Context()); err != nil {
		redisHealthy = false
		log.Printf("Redis health check failed: %v", err)
	}

	dbHealthy := true
	if err := s.postgres.Ping(c.Request.Context()); err != nil {
		dbHealthy = false
		log.Printf("Database health check failed: %v", err)
	}

	status := "healthy"
	statusCode := http.StatusOK

	if !redisHealthy || !dbHealthy {
		status = "degraded"
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, gin.H{
		"status":    status,
		"service":   "quotagate",
		"version":   "1.0.0",
		"timestamp": time.Now().Unix(),
		"checks": gin.H{
			"redis":    redisHealthy,
			"database": dbHealthy,
			"breaker":  s.breaker.State().String(),
		},
	})
}

func (s *Server) Run(addr string) error {
	s.stats.Start()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  15 * time.Second,
	}

	log.Printf("Starting admission gateway on %s", addr)
	log.Printf("Environment: %s", s.config.Server.Environment)
	log.Printf("Fail policy: %s", s.config.Admission.FailPolicy)

	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down server...")

	s.stats.Stop()

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

func (s *Server) GetRouter() *gin.Engine {
	return s.router
}
