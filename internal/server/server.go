package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"llmcouncil/internal/cache"
	"llmcouncil/internal/config"
	"llmcouncil/internal/core"
	"llmcouncil/internal/council"
	"llmcouncil/internal/invoke"
	"llmcouncil/internal/metrics"

	"github.com/gin-gonic/gin"
)

// minWriteTimeout bounds SSE streams from below; long councils raise it.
const minWriteTimeout = 5 * time.Minute

// Server application server
type Server struct {
	port    string
	ginMode string

	council    *council.Council
	councilCfg config.CouncilConfig
	httpClient *http.Client
	router     *gin.Engine

	conversations  core.ConversationStore
	convCache      *cache.LRUCache
	metricsService *metrics.MetricsService

	validClientKeys map[string]bool
	convLocks       *keyedMutex

	config config.ServerConfig

	rateLimiter *rateLimiter

	shutdownCtx    context.Context
	shutdownCancel context.CancelFunc
	closeOnce      sync.Once
	closeErr       error
}

// Option customizes a Server at construction.
type Option func(*serverOptions)

type serverOptions struct {
	invoker core.Invoker
}

// WithInvoker replaces the HTTP model invoker, typically with a stub.
func WithInvoker(invoker core.Invoker) Option {
	return func(o *serverOptions) {
		o.invoker = invoker
	}
}

// NewServer creates a new server instance
func NewServer(cfg config.ServerConfig, opts ...Option) (*Server, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required in ServerConfig")
	}
	if cfg.Stats == nil {
		return nil, fmt.Errorf("stats storage is required in ServerConfig")
	}
	if cfg.Conversations == nil {
		return nil, fmt.Errorf("conversation store is required in ServerConfig")
	}
	var options serverOptions
	for _, opt := range opts {
		opt(&options)
	}

	cfg.Logger.Info("Initializing server with %d council models, chairman %s",
		len(cfg.Council.Models), cfg.Council.Chairman.Name)

	httpClient := invoke.NewHTTPClient(cfg.HTTPClientSettings)

	metricsService := metrics.NewMetricsService(metrics.MetricsConfig{
		SaveInterval: core.MinSaveInterval,
		HistorySize:  core.HistoryBufferSize,
		Storage:      cfg.Stats,
		Logger:       cfg.Logger,
	})

	if err := metricsService.LoadStats(); err != nil {
		cfg.Logger.Warn("Failed to load historical stats: %v", err)
	}

	invoker := options.invoker
	if invoker == nil {
		invoker = invoke.NewOllamaInvoker(httpClient, metricsService, cfg.Logger)
	}

	c, err := council.New(council.Config{
		Roster:          cfg.Council.Models,
		Chairman:        cfg.Council.Chairman,
		Timeout:         cfg.Council.Timeout,
		ChairmanTimeout: cfg.Council.ChairmanTimeout,
		PeerReview:      cfg.Council.PeerReview,
		Invoker:         invoker,
		Logger:          cfg.Logger,
	})
	if err != nil {
		_ = metricsService.Close()
		return nil, fmt.Errorf("failed to create council: %w", err)
	}

	validClientKeys := make(map[string]bool)
	for _, key := range cfg.ClientAPIKeys {
		validClientKeys[key] = true
	}

	rateLimit := cfg.RateLimit
	if rateLimit <= 0 {
		rateLimit = core.DefaultRateLimit
	}

	shutdownCtx, shutdownCancel := context.WithCancel(context.Background())
	convCache := cache.NewCache()

	server := &Server{
		port:            cfg.Port,
		ginMode:         cfg.GinMode,
		council:         c,
		councilCfg:      cfg.Council,
		httpClient:      httpClient,
		conversations:   cache.NewCachedConversationStore(cfg.Conversations, convCache, metricsService),
		convCache:       convCache,
		metricsService:  metricsService,
		validClientKeys: validClientKeys,
		convLocks:       newKeyedMutex(),
		config:          cfg,
		rateLimiter:     newRateLimiter(shutdownCtx, rateLimit),
		shutdownCtx:     shutdownCtx,
		shutdownCancel:  shutdownCancel,
	}

	server.setupRoutes()

	return server, nil
}

// Handler exposes the router, mainly for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run runs the server
func (s *Server) Run() error {
	s.setupGracefulShutdown()

	writeTimeout := s.councilCfg.Timeout + s.councilCfg.ChairmanTimeout + time.Minute
	if writeTimeout < minWriteTimeout {
		writeTimeout = minWriteTimeout
	}

	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      writeTimeout,
	}

	go func() {
		<-s.shutdownCtx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			s.config.Logger.Error("Server shutdown error: %v", err)
		}
	}()

	s.config.Logger.Info("Server starting on port %s", s.port)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

func (s *Server) setupGracefulShutdown() {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-quit:
			s.config.Logger.Info("Shutdown signal received, shutting down gracefully...")
			s.shutdownCancel()
		case <-s.shutdownCtx.Done():
		}
		signal.Stop(quit)
	}()
}

// Close closes the server. The stores passed in ServerConfig stay open and
// belong to the caller.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		if s.shutdownCancel != nil {
			s.shutdownCancel()
		}

		if s.metricsService != nil {
			if err := s.metricsService.Close(); err != nil {
				s.closeErr = errors.Join(s.closeErr, fmt.Errorf("close metrics service: %w", err))
			}
		}

		if s.convCache != nil {
			s.convCache.Stop()
		}

		if s.httpClient != nil {
			s.httpClient.CloseIdleConnections()
		}
	})
	return s.closeErr
}
