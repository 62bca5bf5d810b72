package web

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"portfolio-oracle/config"
	"portfolio-oracle/metrics"
	"portfolio-oracle/web/handlers"
	"portfolio-oracle/web/middleware"
)

const shutdownTimeout = 10 * time.Second

// Dependencies are the components the HTTP surface is built from.
type Dependencies struct {
	Oracle        handlers.Asker
	Knowledge     handlers.KnowledgeService
	Conversations handlers.ConversationLister
	Cache         handlers.SourceInvalidator
	Metrics       *metrics.Metrics
}

type Server struct {
	router      *gin.Engine
	deps        Dependencies
	logger      *zap.Logger
	config      *config.Config
	rateLimiter *middleware.SessionRateLimiter
}

func NewServer(deps Dependencies, logger *zap.Logger, cfg *config.Config) *Server {
	// Set Gin mode based on environment
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(middleware.LoggerMiddleware(logger))
	router.Use(middleware.MetricsMiddleware(deps.Metrics))

	rateLimiter := middleware.NewSessionRateLimiter(middleware.RateLimiterConfig{
		MessagesPerMinute: cfg.RateLimitMessagesMin,
		BurstSize:         cfg.RateLimitBurstSize,
	}, logger)

	server := &Server{
		router:      router,
		deps:        deps,
		logger:      logger,
		config:      cfg,
		rateLimiter: rateLimiter,
	}

	server.setupRoutes()
	return server
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	s.router.GET("/metrics", s.deps.Metrics.Handler())

	oracleHandler := handlers.NewOracleHandler(s.deps.Oracle, s.logger)

	oracleRoutes := s.router.Group("/api/oracle")
	oracleRoutes.Use(middleware.SessionMiddleware())
	{
		oracleRoutes.POST("/chat",
			middleware.RateLimitMiddleware(s.rateLimiter, middleware.LimitMessage),
			oracleHandler.Chat)
		oracleRoutes.GET("/history", oracleHandler.History)
	}

	knowledgeHandler := handlers.NewKnowledgeHandler(
		s.deps.Knowledge, s.deps.Conversations, s.deps.Cache, s.config.MaxUploadBytes, s.logger)

	admin := s.router.Group("/api/knowledge")
	admin.Use(middleware.AdminMiddleware(s.config.AdminToken))
	{
		admin.GET("/documents", knowledgeHandler.List)
		admin.POST("/documents", knowledgeHandler.Upload)
		admin.GET("/documents/:id", knowledgeHandler.Get)
		admin.PATCH("/documents/:id", knowledgeHandler.Update)
		admin.POST("/documents/:id/active", knowledgeHandler.SetActive)
		admin.POST("/documents/:id/rechunk", knowledgeHandler.Rechunk)
		admin.DELETE("/documents/:id", knowledgeHandler.Delete)
		admin.POST("/cache/invalidate", knowledgeHandler.InvalidateCache)
		admin.GET("/conversations", knowledgeHandler.Conversations)
	}
}

func (s *Server) Start(ctx context.Context, addr string) error {
	s.logger.Info("Starting web server", zap.String("address", addr))
	defer s.rateLimiter.Stop()

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	// Start server in a goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Web server failed to start", zap.Error(err))
			errCh <- err
		}
	}()

	// Wait for context cancellation
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	s.logger.Info("Shutting down web server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
