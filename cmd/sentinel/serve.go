package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/pii-sentinel/internal/config"
	"github.com/raaihank/pii-sentinel/internal/proxy"
	"github.com/raaihank/pii-sentinel/internal/websocket"
)

var flagShutdownTimeout time.Duration

func init() {
	serveCmd.Flags().DurationVar(&flagShutdownTimeout, "shutdown-timeout", 30*time.Second, "time allowed for outstanding requests on shutdown")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the detection API and LLM proxy",
	Long: `Start the HTTP server: the /v1 detection API, the redacting reverse
proxies for the configured LLM providers, /metrics and the live dashboard.

The log level follows changes to the configuration file; rules do not.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := loadApp("")
		if err != nil {
			return err
		}
		defer a.Close()

		log := a.Logger
		log.Info("Starting PII-Sentinel",
			zap.String("version", version),
			zap.String("commit", commit),
			zap.String("build_date", date),
			zap.Int("port", a.Config.Server.Port),
		)

		opts := proxy.Options{
			Engine:         a.Engine,
			Metrics:        a.Metrics,
			AnalyzerHealth: a.AnalyzerHealth,
		}
		if a.Config.WebSocket.Enabled {
			opts.Hub = websocket.NewHub(a.Config.WebSocket, log.WithComponent("websocket").Logger)
		}

		proxy.Version = version
		server, err := proxy.New(a.Config, log, opts)
		if err != nil {
			return fmt.Errorf("failed to create server: %w", err)
		}

		err = config.Watch(func(changed *config.Config) {
			if flagLogLevel != "" || changed.Logging.Level == log.Level() {
				return
			}
			if err := log.SetLevel(changed.Logging.Level); err != nil {
				log.Warn("Ignoring log level change", zap.Error(err))
				return
			}
			log.Info("Log level changed", zap.String("level", changed.Logging.Level))
		}, func(err error) {
			log.Warn("Configuration change ignored", zap.Error(err))
		})
		if err != nil {
			log.Debug("Configuration watch disabled", zap.Error(err))
		}

		ctx, cancel := context.WithCancel(cmd.Context())
		defer cancel()

		// Start server in goroutine
		serverErrors := make(chan error, 1)
		go func() {
			serverErrors <- server.Start(ctx)
		}()

		// Setup graceful shutdown
		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(shutdown)

		select {
		case err := <-serverErrors:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case sig := <-shutdown:
			log.Info("Shutdown signal received", zap.String("signal", sig.String()))
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), flagShutdownTimeout)
		defer shutdownCancel()

		if err := server.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("failed to shutdown server gracefully: %w", err)
		}
		cancel()

		log.Info("Server shutdown complete")
		return nil
	},
}
