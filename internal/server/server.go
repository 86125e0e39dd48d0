// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/prometheus/client_golang/prometheus"

	"github.com/blastwheelz/backend/internal/account"
	"github.com/blastwheelz/backend/internal/admin"
	"github.com/blastwheelz/backend/internal/auth"
	"github.com/blastwheelz/backend/internal/chain"
	"github.com/blastwheelz/backend/internal/config"
	"github.com/blastwheelz/backend/internal/garage"
	"github.com/blastwheelz/backend/internal/health"
	"github.com/blastwheelz/backend/internal/ledger"
	"github.com/blastwheelz/backend/internal/logging"
	"github.com/blastwheelz/backend/internal/market"
	"github.com/blastwheelz/backend/internal/metrics"
	"github.com/blastwheelz/backend/internal/payments"
	"github.com/blastwheelz/backend/internal/ratelimit"
	"github.com/blastwheelz/backend/internal/realtime"
	"github.com/blastwheelz/backend/internal/reconciliation"
	"github.com/blastwheelz/backend/internal/security"
	"github.com/blastwheelz/backend/internal/validation"
	"github.com/blastwheelz/backend/internal/verifier"
	"github.com/blastwheelz/backend/internal/wallet"
	"github.com/blastwheelz/backend/internal/wheelz"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	chainClient  chain.Client
	treasury     *wallet.Treasury
	verifier     *verifier.Verifier
	authMgr      *auth.Manager
	ledger       *ledger.Ledger
	payments     *payments.Service
	market       *market.Service
	garage       *garage.Service
	admin        *admin.Service
	garageTimer  *garage.Timer
	reconciler   *reconciliation.Service
	reconTimer   *reconciliation.Timer
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	healthChecks *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithChainClient injects a chain client (for testing)
func WithChainClient(c chain.Client) Option {
	return func(s *Server) {
		s.chainClient = c
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:          cfg,
		logger:       logging.New(cfg.LogLevel, cfg.LogFormat),
		healthChecks: health.NewRegistry(),
	}

	// Apply options first (may set chain client/logger)
	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Chain access: node client, treasury signer, transaction verifier
	if s.chainClient == nil {
		client, err := chain.Dial(ctx, cfg.ChainRPCURL)
		if err != nil {
			return nil, fmt.Errorf("failed to dial chain node: %w", err)
		}
		s.chainClient = client
	}

	treasury, err := wallet.NewTreasury(s.chainClient, wallet.Config{
		Key:       cfg.TreasuryKey,
		Mnemonic:  cfg.TreasuryMnemonic,
		CoinType:  cfg.CoinType,
		PackageID: cfg.PackageID,
	}, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load treasury: %w", err)
	}
	s.treasury = treasury

	s.verifier = verifier.New(s.chainClient, verifier.Config{
		TreasuryAddress: cfg.TreasuryAddress,
		CoinType:        cfg.CoinType,
		PackageID:       cfg.PackageID,
	}, s.logger)

	convert, err := wheelz.NewConverter(cfg.WheelzPerToken)
	if err != nil {
		return nil, fmt.Errorf("invalid conversion rate: %w", err)
	}

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	var (
		ledgerStore  ledger.Store
		accountStore account.Store
		authStore    auth.Store
		marketStore  market.Store
		garageStore  garage.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		ledgerStore = ledger.NewPostgresStore(db)
		accountStore = account.NewPostgresStore(db)
		authStore = auth.NewPostgresStore(db)
		marketStore = market.NewPostgresStore(db)
		garageStore = garage.NewPostgresStore(db)
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

		s.healthChecks.Register("database", health.Check("database", db.PingContext))
	} else {
		ledgerStore = ledger.NewMemoryStore()
		accountStore = account.NewMemoryStore()
		authStore = auth.NewMemoryStore()
		marketStore = market.NewMemoryStore()
		garageStore = garage.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	s.healthChecks.Register("chain", health.Check("chain", func(ctx context.Context) error {
		_, err := s.chainClient.GetCoins(ctx, cfg.TreasuryAddress, cfg.CoinType)
		return err
	}))

	// Realtime hub first so the ledger can publish into it
	s.realtimeHub = realtime.NewHub(s.logger)

	s.ledger = ledger.New(ledgerStore,
		ledger.WithPublisher(s.realtimeHub),
		ledger.WithMetrics(ledger.NewMetrics(prometheus.DefaultRegisterer)),
	)
	s.authMgr = auth.NewManager(authStore)

	s.payments = payments.NewService(s.ledger, accountStore, s.verifier, s.treasury, convert, payments.Config{
		CoinType:      cfg.CoinType,
		MinTopUp:      cfg.MinTopUp,
		MaxWithdrawal: cfg.MaxWithdrawal,
	}, s.logger)

	s.garage = garage.NewService(garageStore, s.treasury, s.verifier, s.logger,
		garage.WithMetrics(garage.NewMetrics(prometheus.DefaultRegisterer)))
	s.garageTimer = garage.NewTimer(s.garage, 0, s.logger)

	s.market = market.NewService(marketStore, accountStore, s.ledger, s.verifier, convert, s.garage, s.logger,
		market.WithMetrics(market.NewMetrics(prometheus.DefaultRegisterer)))

	s.admin = admin.NewService(s.ledger, accountStore, s.treasury, convert, s.logger)

	s.reconciler = reconciliation.NewService(ledgerStore, s.chainClient, convert, reconciliation.Config{
		TreasuryAddress: cfg.TreasuryAddress,
		CoinType:        cfg.CoinType,
	})
	s.reconTimer = reconciliation.NewTimer(s.reconciler, 0, s.logger)

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes(accountStore)

	s.healthy.Store(true)

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for development - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitRPS * 60,
		BurstSize:         s.cfg.RateLimitRPS * 2,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = generateRequestID()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes(accountStore account.Store) {
	// Health & metrics endpoints
	s.router.GET("/healthz", s.livenessHandler)
	s.router.GET("/readyz", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// API info
	s.router.GET("/api", s.infoHandler)

	accountHandler := account.NewHandler(accountStore, s.authMgr, s.ledger, s.cfg.WelcomeBonus, s.logger)
	ledgerHandler := ledger.NewHandler(s.ledger, s.logger)
	paymentsHandler := payments.NewHandler(s.payments, s.logger)
	marketHandler := market.NewHandler(s.market, s.logger)
	garageHandler := garage.NewHandler(s.garage, s.logger)
	adminHandler := admin.NewHandler(s.admin, s.logger)

	// V1 API group. The auth middleware resolves API keys and the admin
	// secret; individual routes opt into RequireAuth / ownership /
	// privilege checks.
	v1 := s.router.Group("/v1")
	v1.Use(auth.Middleware(s.authMgr, s.cfg.AdminSecret))

	accountHandler.RegisterRoutes(v1)

	// Balance and history reads are scoped to the owner (or admin)
	owned := v1.Group("", auth.RequireOwnership("id"))
	ledgerHandler.RegisterRoutes(owned)

	paymentsHandler.RegisterRoutes(v1)
	marketHandler.RegisterRoutes(v1)
	garageHandler.RegisterRoutes(v1)

	// WebSocket event stream (authenticated)
	v1.GET("/ws", auth.RequireAuth(), func(c *gin.Context) {
		s.realtimeHub.HandleWebSocket(c.Writer, c.Request)
	})

	// Privileged surface: reconciliation, catalog management, mint retry
	privileged := v1.Group("", auth.RequirePrivileged(accountHandler.IsPrivileged))
	adminHandler.RegisterRoutes(privileged)
	marketHandler.RegisterAdminRoutes(privileged)
	garageHandler.RegisterAdminRoutes(privileged)
	privileged.GET("/admin/realtime/stats", func(c *gin.Context) {
		c.JSON(http.StatusOK, s.realtimeHub.Stats())
	})
	privileged.GET("/admin/reconciliation", func(c *gin.Context) {
		res, err := s.reconciler.Check(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   "reconciliation_failed",
				"message": "Could not compare treasury and ledger totals",
			})
			return
		}
		c.JSON(http.StatusOK, res)
	})
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}

	healthy, checks := s.healthChecks.CheckAll(c.Request.Context())
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "checks": checks})
}

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "blastwheelz",
		"description": "Backend for the Blast Wheelz racing game",
		"version":     "0.1.0",
		"currency":    "wheelz",
		"coinType":    s.cfg.CoinType,
		"treasury":    s.cfg.TreasuryAddress,
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"treasury", s.treasury.Address(),
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start realtime hub
	go s.realtimeHub.Run(runCtx)

	// Start the mint outbox sweep
	go s.garageTimer.Start(runCtx)

	// Periodic treasury coverage check
	go s.reconTimer.Start(runCtx)

	// Sample DB pool stats into prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for all background goroutines (hub, mint timer)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop the mint timer
	if s.garageTimer != nil {
		s.garageTimer.Stop()
		s.logger.Info("mint timer stopped")
	}

	if s.reconTimer != nil {
		s.reconTimer.Stop()
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Close database connection pool
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(bytes)
}
