// Command relay serves the analysis API locally and forwards every request
// to the configured backend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"go_analyzer/analysis"
	"go_analyzer/core"
	"go_analyzer/logging"
	"go_analyzer/relay"
	"go_analyzer/shutdown"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	if len(os.Args) > 1 {
		if err := handleServiceCommand(os.Args[1]); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(core.ExitCodeError)
		}
		return
	}

	managed, err := runAsService()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(core.ExitCodeError)
	}
	if managed {
		return
	}

	os.Exit(run(context.Background(), true))
}

// run starts the relay and blocks until ctx ends or a signal arrives. It
// returns the process exit code.
func run(ctx context.Context, handleSignals bool) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		return core.ExitCodeError
	}

	logger, err := logging.New(logging.Options{
		Level:       logging.ParseLevel(cfg.LogLevel, zapcore.InfoLevel),
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Rotation:    logging.DefaultRotation(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return core.ExitCodeError
	}
	defer logger.Sync()

	if !cfg.HasBackend() {
		logger.Error("cannot start relay", zap.Error(core.ErrMissingBackend()))
		return core.ExitCodeError
	}

	manager := shutdown.NewManager(logger)
	if handleSignals {
		manager.Start()
	}
	go func() {
		select {
		case <-ctx.Done():
			manager.Trigger()
		case <-manager.Context().Done():
		}
	}()

	client, err := analysis.NewClient(core.GetDefaultHTTPClient(cfg), logger, analysis.ClientConfig{
		BackendURL:  cfg.BackendURL,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		logger.Error("failed to create backend client", zap.Error(err))
		return core.ExitCodeError
	}
	submitter := analysis.NewLimitedSubmitter(client, cfg.RelaySubmitRPS, cfg.RelaySubmitBurst, cfg.RelaySubmitMaxWait)

	srv, err := relay.New(submitter, client, manager, logger, relay.Config{
		AllowedOrigins: cfg.RelayAllowedOrigins,
		MaxFileSize:    cfg.MaxFileSize,
	})
	if err != nil {
		logger.Error("failed to create relay", zap.Error(err))
		return core.ExitCodeError
	}
	httpServer := srv.HTTPServer(cfg.RelayAddr())

	manager.Register("relay-server", shutdown.PriorityServer, httpServer.Shutdown)
	manager.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		logger.Sync()
		return nil
	})

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening",
			zap.String("addr", cfg.RelayAddr()),
			zap.String("backend", logging.SafeURL(cfg.BackendURL)),
			zap.Float64("submit_rps", cfg.RelaySubmitRPS),
			zap.Int("submit_burst", cfg.RelaySubmitBurst),
			zap.Duration("submit_max_wait", cfg.RelaySubmitMaxWait),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	exitCode := core.ExitCodeSuccess
	select {
	case err := <-serveErr:
		if err != nil {
			logger.Error("relay server failed", zap.Error(err))
			exitCode = core.ExitCodeError
		}
	case <-manager.Context().Done():
		exitCode = manager.ExitCode()
	}

	if err := manager.Shutdown(); err != nil && exitCode == core.ExitCodeSuccess {
		exitCode = core.ExitCodeError
	}
	return exitCode
}
