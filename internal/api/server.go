// Package api exposes the decision engine over HTTP. Read endpoints are
// public; endpoints that change engine state sit behind operator auth when
// it is enabled.
package api

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"futures-decision-engine/config"
	"futures-decision-engine/internal/auth"
	"futures-decision-engine/internal/cache"
	"futures-decision-engine/internal/database"
	"futures-decision-engine/internal/engine"
	"futures-decision-engine/internal/events"
)

// RateLimiter tracks one token bucket per client address.
type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.Mutex
	rps      rate.Limit
	burst    int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(requestsPerSec, burst int) *RateLimiter {
	if requestsPerSec <= 0 {
		requestsPerSec = 20
	}
	if burst <= 0 {
		burst = requestsPerSec * 2
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(requestsPerSec),
		burst:    burst,
	}
}

// Allow checks if a request is allowed for the given key
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	limiter, ok := r.limiters[key]
	if !ok {
		limiter = rate.NewLimiter(r.rps, r.burst)
		r.limiters[key] = limiter
	}
	r.mu.Unlock()

	return limiter.Allow()
}

// Server represents the HTTP API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	engine      *engine.Engine
	repo        *database.Repository // nil when persistence is disabled
	cacheSvc    *cache.Service       // nil when the cache is disabled
	eventBus    *events.EventBus
	authService *auth.Service // nil when auth is disabled
	authEnabled bool
	rateLimiter *RateLimiter
	wsHub       *WSHub
	cfg         config.ServerConfig
	logger      zerolog.Logger
	startedAt   time.Time
}

// NewServer creates a new API server
func NewServer(
	cfg config.ServerConfig,
	authCfg config.AuthConfig,
	eng *engine.Engine,
	repo *database.Repository,
	cacheSvc *cache.Service,
	eventBus *events.EventBus,
	logger zerolog.Logger,
) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())

	// CORS middleware
	corsConfig := cors.DefaultConfig()
	origins := splitOrigins(cfg.AllowedOrigins)
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.ExposeHeaders = []string{"Content-Length"}
	router.Use(cors.New(corsConfig))

	var authService *auth.Service
	if authCfg.Enabled {
		authService = auth.NewService(authCfg.JWTSecret, authCfg.OperatorPasswordHash, authCfg.TokenDuration)
	}

	server := &Server{
		router:      router,
		engine:      eng,
		repo:        repo,
		cacheSvc:    cacheSvc,
		eventBus:    eventBus,
		authService: authService,
		authEnabled: authService != nil,
		rateLimiter: NewRateLimiter(cfg.RequestsPerSec, cfg.RateBurst),
		cfg:         cfg,
		logger:      logger.With().Str("component", "api").Logger(),
		startedAt:   time.Now(),
	}

	server.setupRoutes()

	// WebSocket hub relays engine events to connected clients.
	server.wsHub = NewWSHub(server.logger)
	go server.wsHub.Run()
	eventBus.SubscribeAll(func(event events.Event) {
		server.wsHub.BroadcastEvent(event)
	})

	return server
}

func splitOrigins(origins string) []string {
	parts := strings.Split(origins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return []string{"*"}
	}
	return out
}

// rateLimitMiddleware limits requests per client address.
func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.rateLimiter.Allow(c.ClientIP()) {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":   "RATE_LIMITED",
				"message": "Too many requests. Please slow down.",
			})
			c.Abort()
			return
		}
		c.Next()
	}
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	// Health check
	s.router.GET("/health", s.handleHealth)

	// WebSocket endpoint
	s.router.GET("/ws", s.handleWebSocket)

	api := s.router.Group("/api")
	api.Use(s.rateLimitMiddleware())

	// Auth status endpoint (always available, returns whether auth is enabled)
	api.GET("/auth/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"auth_enabled": s.authEnabled})
	})

	if s.authEnabled {
		api.POST("/auth/token", s.handleIssueToken)
	}

	// Read endpoints (public)
	api.GET("/status", s.handleStatus)
	api.GET("/regime", s.handleRegime)
	api.GET("/protection", s.handleProtection)
	api.GET("/decisions", s.handleRecentDecisions)
	api.GET("/outcomes", s.handleRecentOutcomes)

	// Mutating endpoints (operator token required when auth is enabled)
	mutating := api.Group("")
	if s.authEnabled {
		mutating.Use(auth.Middleware(s.authService.JWTManager()))
	}
	{
		mutating.POST("/evaluate", s.handleEvaluate)
		mutating.POST("/positions/review", s.handleReviewPositions)
		mutating.POST("/outcomes", s.handleRecordOutcome)
		mutating.POST("/protection/resume", s.handleForceResume)
		mutating.POST("/protection/breaker/reset", s.handleResetBreaker)
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeout) * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info().Str("addr", addr).Bool("auth", s.authEnabled).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("Shutting down HTTP server")

	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}

	return nil
}

// errorResponse is a helper to send error responses
func errorResponse(c *gin.Context, statusCode int, message string) {
	c.JSON(statusCode, gin.H{
		"error":   true,
		"message": message,
	})
}
