// Package api exposes the control-plane REST endpoints and the order-stream
// websocket hub over the engine's tick loop (see internal/ticker).
package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gridtrader/internal/auth"
	"gridtrader/internal/engine"
	"gridtrader/internal/ticker"
)

// RateLimiter provides simple in-memory per-key rate limiting.
type RateLimiter struct {
	requests map[string][]time.Time
	mu       sync.Mutex
	limit    int
	window   time.Duration
}

// NewRateLimiter creates a new rate limiter.
func NewRateLimiter(limit int, window time.Duration) *RateLimiter {
	return &RateLimiter{requests: make(map[string][]time.Time), limit: limit, window: window}
}

// Allow reports whether a request for key is within the configured limit.
func (r *RateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	windowStart := now.Add(-r.window)

	var recent []time.Time
	for _, t := range r.requests[key] {
		if t.After(windowStart) {
			recent = append(recent, t)
		}
	}
	if len(recent) >= r.limit {
		r.requests[key] = recent
		return false
	}
	r.requests[key] = append(recent, now)
	return true
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int
	Host           string
	ProductionMode bool
	CORSOrigins    []string
}

// Server is the control-plane HTTP+websocket API in front of the per-symbol
// ticker drivers.
type Server struct {
	router        *gin.Engine
	httpServer    *http.Server
	config        ServerConfig
	jwtManager    *auth.JWTManager
	rateLimiter   *RateLimiter
	drivers       *ticker.Registry
	hub           *WSHub
	loginVerifier LoginVerifier
}

// NewServer builds the gin router, wires middleware, and registers routes.
func NewServer(config ServerConfig, jwtManager *auth.JWTManager, drivers *ticker.Registry) *Server {
	if config.ProductionMode {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()
	router.Use(gin.Logger())
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())

	corsConfig := cors.DefaultConfig()
	if len(config.CORSOrigins) > 0 {
		corsConfig.AllowOrigins = config.CORSOrigins
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:5173"}
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	s := &Server{
		router:      router,
		config:      config,
		jwtManager:  jwtManager,
		rateLimiter: NewRateLimiter(60, time.Minute),
		drivers:     drivers,
		hub:         NewWSHub(),
	}

	go s.hub.Run()
	s.registerRoutes()
	return s
}

// requestIDMiddleware tags every request with a UUID, echoed back on the
// response and attached to the gin context for handler-level logging.
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uuid.NewString()
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-Id", id)
		c.Next()
	}
}

func (s *Server) registerRoutes() {
	s.router.GET("/healthz", s.handleHealth)
	s.router.POST("/auth/login", s.handleLogin)

	authorized := s.router.Group("/")
	authorized.Use(auth.Middleware(s.jwtManager))
	{
		authorized.GET("/symbols", s.handleListSymbols)
		authorized.GET("/symbols/:symbol/state", s.handleSymbolState)
		authorized.POST("/symbols/:symbol/tick", s.handleForceTick)
		authorized.GET("/stream", s.handleWebSocket)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListSymbols(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"symbols": s.drivers.Symbols()})
}

func (s *Server) handleSymbolState(c *gin.Context) {
	symbol := c.Param("symbol")
	d, ok := s.drivers.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}
	c.JSON(http.StatusOK, d.State())
}

// forceTickRequest lets an operator drive the engine manually against an
// arbitrary snapshot, useful for dry-running configuration changes.
type forceTickRequest struct {
	Snapshot engine.MarketSnapshot `json:"snapshot" binding:"required"`
}

func (s *Server) handleForceTick(c *gin.Context) {
	symbol := c.Param("symbol")
	d, ok := s.drivers.Get(symbol)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol"})
		return
	}

	var req forceTickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	result, err := d.Tick(c.Request.Context(), req.Snapshot)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.hub.BroadcastOrders(symbol, result.AllOrders())
	c.JSON(http.StatusOK, result)
}

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if !s.rateLimiter.Allow("login:" + c.ClientIP()) {
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "rate limited"})
		return
	}

	// The operator's credentials are checked by the caller-supplied
	// verifier (see cmd/gridserver), wired in at server construction time
	// via SetLoginVerifier.
	if s.loginVerifier == nil || !s.loginVerifier(req.Username, req.Password) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": auth.ErrInvalidCredentials.Message})
		return
	}

	pair, err := s.jwtManager.GenerateTokenPair(auth.OperatorClaims{OperatorID: req.Username, IsAdmin: true})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, auth.LoginResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		ExpiresIn:    pair.ExpiresIn,
	})
}

// LoginVerifier checks a username/password pair against the configured
// operator credentials.
type LoginVerifier func(username, password string) bool

// SetLoginVerifier installs the credential check used by handleLogin. Kept
// out of NewServer's signature to avoid entangling credential storage with
// router wiring.
func (s *Server) SetLoginVerifier(v LoginVerifier) {
	s.loginVerifier = v
}

// Start runs the HTTP server until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", s.config.Host, s.config.Port),
		Handler: s.router,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
