// Package app assembles the configured privacy engine and its supporting
// components for the command line binaries.
package app

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/analyzer"
	"github.com/raaihank/pii-sentinel/internal/cache"
	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/logger"
	"github.com/raaihank/pii-sentinel/internal/metrics"
	"github.com/raaihank/pii-sentinel/internal/privacy"
)

// Options are the command line overrides applied on top of the configuration.
type Options struct {
	ConfigPath string
	RulesPath  string
	Backend    string
	LogLevel   string
	// DefaultLogLevel replaces logging.level unless the environment sets it.
	DefaultLogLevel string
}

// App holds the components shared by the binaries.
type App struct {
	Config  *config.Config
	Logger  *logger.Logger
	Engine  *privacy.Engine
	Metrics *metrics.Collector
	// Cache is set when the augmented backend runs with the Redis result cache.
	Cache *cache.ResultCache
	// AnalyzerHealth is set for the augmented backend.
	AnalyzerHealth func(ctx context.Context) error

	closers []func() error
}

// Load reads the configuration, applies opts and builds the privacy engine.
func Load(opts Options) (*App, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if opts.RulesPath != "" {
		cfg.Privacy.RulesFile = opts.RulesPath
	}
	if opts.Backend != "" {
		backend, err := privacy.ParseBackendType(opts.Backend)
		if err != nil {
			return nil, err
		}
		cfg.Privacy.Backend = string(backend)
		if backend == privacy.AugmentedBackendType && cfg.Analyzer.URL == "" {
			return nil, fmt.Errorf("analyzer url is required for the augmented backend")
		}
	}

	level := cfg.Logging.Level
	if opts.DefaultLogLevel != "" && os.Getenv("SENTINEL_LOGGING_LEVEL") == "" {
		level = opts.DefaultLogLevel
	}
	if opts.LogLevel != "" {
		level = opts.LogLevel
	}

	loggerConfig := logger.Config{
		Level:  level,
		Format: cfg.Logging.Format,
	}
	if cfg.Logging.File.Enabled {
		loggerConfig.File = &logger.FileConfig{
			Enabled:  cfg.Logging.File.Enabled,
			Path:     cfg.Logging.File.Path,
			MaxSize:  cfg.Logging.File.MaxSize,
			MaxAge:   cfg.Logging.File.MaxAge,
			Compress: cfg.Logging.File.Compress,
		}
	}

	log, err := logger.New(loggerConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &App{Config: cfg, Logger: log}
	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	if err := a.buildEngine(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildEngine() error {
	cfg := a.Config
	privacyLog := a.Logger.WithComponent("privacy").Logger

	rules := privacy.NewRuleLoader(cfg.Privacy.RulesFile, privacyLog).RuleSet()

	opts := privacy.EngineOptions{MaskRune: []rune(cfg.Privacy.MaskChar)[0]}
	if a.Metrics != nil {
		opts.Observer = a.Metrics
	}

	var backend privacy.Backend
	switch privacy.BackendType(cfg.Privacy.Backend) {
	case privacy.AugmentedBackendType:
		client, err := analyzer.NewClient(cfg.Analyzer, a.Logger.WithComponent("analyzer").Logger)
		if err != nil {
			return err
		}
		a.AnalyzerHealth = client.Health

		var recognizer privacy.Recognizer = client
		if cfg.Cache.Enabled {
			cacheLog := a.Logger.WithComponent("cache").Logger
			resultCache, err := cache.NewResultCache(cache.ConfigFrom(cfg.Cache), cacheLog)
			if err != nil {
				// Continue uncached.
				a.Logger.Warn("Result cache unavailable, continuing without it", zap.Error(err))
			} else {
				a.Cache = resultCache
				a.closers = append(a.closers, resultCache.Close)
				recognizer = cache.NewRecognizer(client, resultCache, cfg.Cache.KeyPrefix, cacheLog)
			}
		}

		backend = privacy.NewAugmentedBackend(recognizer, privacy.AugmentedOptions{
			Language: cfg.Analyzer.Language,
			MinScore: cfg.Analyzer.ScoreThreshold,
			Observer: opts.Observer,
		}, privacyLog)
	default:
		backend = privacy.NewPatternBackend(privacyLog)
	}

	a.Engine = privacy.NewEngine(rules, backend, opts, privacyLog)
	return nil
}

// Close releases the components opened by Load and flushes the logger.
func (a *App) Close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.Logger.Warn("Failed to close component", zap.Error(err))
		}
	}
	_ = a.Logger.Sync()
}
