package proxy

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
	"github.com/raaihank/pii-sentinel/internal/security"
	"github.com/raaihank/pii-sentinel/internal/web"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

// Version is reported by /info.
var Version = "0.1.0"

// Options carries the components the server is built from. Engine is
// required; a nil Metrics or Hub disables that feature.
type Options struct {
	Engine  *privacy.Engine
	Metrics *metrics.Collector
	Hub     *websocket.Hub
	// AnalyzerHealth is probed by /health when the augmented backend is used.
	AnalyzerHealth func(ctx context.Context) error
}

// Server represents the main proxy server
type Server struct {
	config   *config.Config
	logger   *logger.Logger
	engine   *privacy.Engine
	scrubber *privacy.HeaderScrubber
	metrics  *metrics.Collector
	wsHub    *websocket.Hub
	limiter  *security.RateLimiter
	health   func(ctx context.Context) error
	router   *mux.Router
	server   *http.Server
	started  time.Time
}

// New creates a new proxy server instance
func New(cfg *config.Config, log *logger.Logger, opts Options) (*Server, error) {
	if opts.Engine == nil {
		return nil, errors.New("privacy engine is required")
	}

	server := &Server{
		config:  cfg,
		logger:  log.WithComponent("proxy"),
		engine:  opts.Engine,
		metrics: opts.Metrics,
		wsHub:   opts.Hub,
		limiter: security.NewRateLimiter(cfg.Server.RateLimit),
		health:  opts.AnalyzerHealth,
		router:  mux.NewRouter(),
		started: time.Now(),
	}

	if cfg.Privacy.HeaderScrubbing.Enabled {
		server.scrubber = privacy.NewHeaderScrubber(
			cfg.Privacy.HeaderScrubbing.Headers,
			cfg.Privacy.HeaderScrubbing.PreserveUpstreamAuth,
			log.WithComponent("privacy").Logger,
		)
	}

	// Setup routes
	server.setupRoutes()

	// Create HTTP server
	server.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      server.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	if opts.Metrics != nil {
		opts.Metrics.SetRulesLoaded(opts.Engine.Rules().Len())
	}

	return server, nil
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)

	// Info endpoint
	s.router.HandleFunc("/info", s.handleInfo).Methods(http.MethodGet)

	if s.metrics != nil && s.config.Metrics.Enabled {
		s.router.Handle(s.config.Metrics.Path, s.metrics.Handler()).Methods(http.MethodGet)
	}

	// Dashboard endpoint - embedded HTML
	s.router.HandleFunc("/", web.ServeDashboard).Methods(http.MethodGet)
	s.router.HandleFunc("/dashboard", web.ServeDashboard).Methods(http.MethodGet)

	// WebSocket endpoint for dashboard
	if s.wsHub != nil && s.config.WebSocket.Enabled {
		s.router.HandleFunc(s.config.WebSocket.Path, s.wsHub.HandleWebSocket).Methods(http.MethodGet)
	}

	// Detection API
	api := s.router.PathPrefix("/v1").Subrouter()
	api.Use(s.loggingMiddleware)
	api.Use(s.rateLimitMiddleware)
	api.HandleFunc("/rules", s.handleRules).Methods(http.MethodGet)
	api.HandleFunc("/scan", s.handleScan).Methods(http.MethodPost)
	api.HandleFunc("/mask", s.handleMask).Methods(http.MethodPost)
	api.HandleFunc("/redact", s.handleRedact).Methods(http.MethodPost)

	// LLM provider proxies; prompts are redacted before they leave
	upstreams := []struct {
		prefix string
		target string
	}{
		{"openai", s.config.Upstream.OpenAI},
		{"anthropic", s.config.Upstream.Anthropic},
		{"ollama", s.config.Upstream.Ollama},
	}
	for _, u := range upstreams {
		if u.target == "" {
			continue
		}
		sub := s.router.PathPrefix("/" + u.prefix).Subrouter()
		sub.Use(s.loggingMiddleware)
		sub.Use(s.rateLimitMiddleware)
		sub.Use(s.privacyMiddleware)
		sub.PathPrefix("/").Handler(s.upstreamHandler(u.prefix, u.target))
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server and its background workers. It returns when
// the server stops; http.ErrServerClosed is not reported as an error.
func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting PII-Sentinel server",
		zap.Int("port", s.config.Server.Port),
		zap.String("backend", string(s.engine.Backend().Name())),
		zap.Int("rules", s.engine.Rules().Len()),
		zap.String("upstream_openai", s.config.Upstream.OpenAI),
		zap.String("upstream_ollama", s.config.Upstream.Ollama),
		zap.String("upstream_anthropic", s.config.Upstream.Anthropic),
	)

	// Start WebSocket hub in a separate goroutine
	if s.wsHub != nil {
		go s.wsHub.Run(ctx)
		go s.broadcastStatus(ctx)
	}
	s.limiter.StartCleanupRoutine(ctx, 10*time.Minute)

	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping PII-Sentinel server")
	return s.server.Shutdown(ctx)
}

// GetWebSocketHub returns the WebSocket hub for broadcasting events
func (s *Server) GetWebSocketHub() *websocket.Hub {
	return s.wsHub
}

func (s *Server) broadcastStatus(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rules := s.engine.Rules()
			s.wsHub.BroadcastEvent(websocket.Event{
				Type: websocket.EventTypeSystemStatus,
				Data: websocket.SystemStatusEvent{
					Status:           "healthy",
					Uptime:           time.Since(s.started).Round(time.Second).String(),
					Backend:          string(s.engine.Backend().Name()),
					ActiveRules:      rules.Len(),
					RulesFingerprint: rules.Fingerprint(),
					ConnectedClients: int(s.wsHub.GetStats().ActiveConnections),
				},
			})
		}
	}
}
