package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/header-rotator/internal/config"
	"github.com/header-rotator/internal/engine"
	"github.com/header-rotator/internal/metrics"
	"github.com/header-rotator/internal/types"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ReloadFunc re-runs provider refresh; wired by main so the server doesn't
// own the refresh machinery.
type ReloadFunc func(ctx context.Context) error

type Server struct {
	config      *config.Config
	engine      *engine.Engine
	metrics     *metrics.Collector
	reload      ReloadFunc
	router      *gin.Engine
	httpServer  *http.Server
	rateLimiter *RateLimiter
}

type RateLimiter struct {
	limiters map[string]*rate.Limiter
	mu       sync.RWMutex
	rate     rate.Limit
	burst    int
}

func NewRateLimiter(requestsPerMinute int) *RateLimiter {
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 10
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rate:     rate.Limit(rps),
		burst:    burst,
	}
}

func (rl *RateLimiter) GetLimiter(key string) *rate.Limiter {
	rl.mu.RLock()
	limiter, exists := rl.limiters[key]
	rl.mu.RUnlock()

	if exists {
		return limiter
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	// Double-check after acquiring write lock
	if limiter, exists := rl.limiters[key]; exists {
		return limiter
	}

	limiter = rate.NewLimiter(rl.rate, rl.burst)
	rl.limiters[key] = limiter

	return limiter
}

func NewServer(cfg *config.Config, eng *engine.Engine, metricsCollector *metrics.Collector, reload ReloadFunc) *Server {
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		config:      cfg,
		engine:      eng,
		metrics:     metricsCollector,
		reload:      reload,
		router:      router,
		rateLimiter: NewRateLimiter(cfg.API.RateLimitPerMinute),
	}

	s.setupRoutes()

	return s
}

func (s *Server) setupRoutes() {
	// Middleware
	s.router.Use(s.loggingMiddleware())
	s.router.Use(s.metricsMiddleware())

	// Public endpoints
	s.router.GET("/health", s.handleHealth)

	// Metrics endpoint (usually scraped by Prometheus)
	if s.config.Metrics.Enabled {
		s.router.GET(s.config.Metrics.Endpoint, gin.WrapH(promhttp.Handler()))
	}

	// Protected endpoints
	protected := s.router.Group("/")
	if s.config.API.EnableAPIKeyAuth {
		protected.Use(s.authMiddleware())
	}
	if s.config.API.EnableIPRateLimit {
		protected.Use(s.rateLimitMiddleware())
	}

	protected.POST("/fetch", s.handleFetch)
	protected.GET("/pool", s.handlePool)
	protected.GET("/stat", s.handleStat)
	protected.POST("/reload", s.handleReload)
}

func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.config.API.Addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // /fetch rides out full retry loops
		IdleTimeout:  60 * time.Second,
	}

	log.Infof("Starting API server on %s", s.config.API.Addr)
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	log.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}

// Middleware

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		log.WithFields(log.Fields{
			"method":   c.Request.Method,
			"path":     path,
			"status":   statusCode,
			"duration": duration.Milliseconds(),
			"ip":       c.ClientIP(),
		}).Info("API request")
	}
}

func (s *Server) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		method := c.Request.Method

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		s.metrics.RecordAPIRequest(method, path, status)
		s.metrics.RecordAPIDuration(method, path, duration)
	}
}

func (s *Server) authMiddleware() gin.HandlerFunc {
	expectedKey := os.Getenv(s.config.API.APIKeyEnv)
	if expectedKey == "" {
		log.Warn("API key not set in environment, authentication disabled")
	}

	return func(c *gin.Context) {
		if expectedKey == "" {
			c.Next()
			return
		}

		// Check header first
		apiKey := c.GetHeader("X-Api-Key")
		if apiKey == "" {
			// Check query parameter
			apiKey = c.Query("key")
		}

		if apiKey != expectedKey {
			c.JSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid or missing API key",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

func (s *Server) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		limiter := s.rateLimiter.GetLimiter(ip)

		if !limiter.Allow() {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// Handlers

func (s *Server) handleHealth(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

type fetchRequest struct {
	Method    string            `json:"method"`
	URL       string            `json:"url" binding:"required"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	StickyKey string            `json:"sticky_key"`
	NoProxy   bool              `json:"no_proxy"`
}

func (s *Server) handleFetch(c *gin.Context) {
	var req fetchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body: " + err.Error(),
		})
		return
	}

	var body []byte
	if req.Body != "" {
		body = []byte(req.Body)
	}

	result, err := s.engine.Do(c.Request.Context(), engine.Request{
		Method:    req.Method,
		URL:       req.URL,
		Headers:   req.Headers,
		Body:      body,
		StickyKey: req.StickyKey,
		NoProxy:   req.NoProxy,
	})
	if err != nil {
		s.writeFetchError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     result.Status,
		"headers":    result.Headers,
		"body":       string(result.Body),
		"profile_id": result.ProfileID,
		"proxy_id":   result.ProxyID,
		"attempts":   result.Attempts,
	})
}

func (s *Server) writeFetchError(c *gin.Context, err error) {
	var exhausted *types.ExhaustedError
	switch {
	case errors.Is(err, types.ErrPoolExhausted), errors.Is(err, types.ErrNoneAvailable):
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "No available candidates in the pool",
		})
	case errors.As(err, &exhausted):
		c.JSON(http.StatusBadGateway, gin.H{
			"error":        "All attempts failed",
			"attempts":     exhausted.Attempts,
			"last_outcome": string(exhausted.LastOutcome),
			"last_status":  exhausted.LastStatus,
		})
	case errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error": "Request timed out",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": err.Error(),
		})
	}
}

func (s *Server) handlePool(c *gin.Context) {
	ctx := c.Request.Context()
	profiles := s.engine.PoolState(ctx, types.KindProfile)
	proxies := s.engine.PoolState(ctx, types.KindProxy)

	c.JSON(http.StatusOK, gin.H{
		"profiles": profiles,
		"proxies":  proxies,
	})
}

func (s *Server) handleStat(c *gin.Context) {
	ctx := c.Request.Context()
	profiles := s.engine.PoolState(ctx, types.KindProfile)
	proxies := s.engine.PoolState(ctx, types.KindProxy)

	c.JSON(http.StatusOK, gin.H{
		"profiles_total":     len(profiles),
		"profiles_available": countAvailable(profiles),
		"proxies_total":      len(proxies),
		"proxies_available":  countAvailable(proxies),
		"strategy":           s.config.Rotation.Strategy,
		"backend":            s.config.Persistence.Backend,
		"updated":            time.Now().Format(time.RFC3339),
	})
}

func (s *Server) handleReload(c *gin.Context) {
	if s.reload == nil {
		c.JSON(http.StatusNotImplemented, gin.H{
			"error": "Reload not configured",
		})
		return
	}

	log.Info("Manual reload triggered via API")

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		if err := s.reload(ctx); err != nil {
			log.Errorf("Reload failed: %v", err)
			return
		}
		log.Info("Reload complete")
	}()

	c.JSON(http.StatusOK, gin.H{
		"message": "Reload triggered",
	})
}

func countAvailable(states []engine.CandidateState) int {
	count := 0
	for _, state := range states {
		if state.Available {
			count++
		}
	}
	return count
}
