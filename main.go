// Command go_analyzer submits an image to the analysis backend, follows the
// task until it finishes and writes the result next to the other results.
//
// One-shot:
//
//	go_analyzer -file face.jpg -out results
//
// Interactive:
//
//	go_analyzer -interactive
//	> /select face.jpg
//	> /submit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"

	"go_analyzer/analysis"
	"go_analyzer/blob"
	"go_analyzer/core"
	"go_analyzer/logging"
	"go_analyzer/session"
	"go_analyzer/shutdown"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	var (
		filePath    = flag.String("file", "", "image to analyze")
		outDir      = flag.String("out", "results", "directory for result images")
		thumbnail   = flag.Int("thumbnail", 0, "also write a thumbnail with this longest side in pixels (0 disables)")
		interactive = flag.Bool("interactive", false, "read commands from stdin")
	)
	flag.Parse()

	if *filePath == "" && !*interactive {
		flag.Usage()
		os.Exit(core.ExitCodeError)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: could not read .env: %v\n", err)
	}

	cfg, err := core.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(core.ExitCodeError)
	}

	logger, err := logging.New(logging.Options{
		Level:       logging.ParseLevel(cfg.LogLevel, zapcore.InfoLevel),
		Development: cfg.DevMode,
		FilePath:    cfg.LogFile,
		Rotation:    logging.DefaultRotation(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(core.ExitCodeError)
	}

	os.Exit(run(cfg, logger, options{
		file:        *filePath,
		outDir:      *outDir,
		thumbnail:   *thumbnail,
		interactive: *interactive,
	}, os.Stdin, os.Stdout))
}

type options struct {
	file        string
	outDir      string
	thumbnail   int
	interactive bool
}

func run(cfg *core.Config, logger *logging.Logger, opts options, stdin io.Reader, stdout io.Writer) int {
	manager := shutdown.NewManager(logger)
	manager.Start()

	coord, err := newCoordinator(cfg, logger)
	if err != nil {
		logger.Error("failed to create session", zap.Error(err))
		logger.Sync()
		return core.ExitCodeError
	}

	manager.Register("session", shutdown.PrioritySession, coord.Shutdown)
	manager.Register("partial-results", shutdown.PriorityCleanup, shutdown.CleanupPartials(logger, opts.outDir))
	manager.Register("logger", shutdown.PriorityLogger, func(context.Context) error {
		logger.Sync()
		return nil
	})

	a := newApp(coord, logger, stdout, opts.outDir, opts.thumbnail)
	watching := a.watch()

	ctx := manager.Context()
	var exitCode int
	if opts.interactive {
		exitCode = a.runInteractive(ctx, stdin, manager.Trigger)
	} else {
		exitCode = exitCodeFor(a.runOnce(ctx, opts.file))
	}

	if ctx.Err() != nil && manager.Signal() != nil {
		exitCode = manager.ExitCode()
	}
	if err := manager.Shutdown(); err != nil && exitCode == core.ExitCodeSuccess {
		exitCode = core.ExitCodeError
	}
	<-watching
	return exitCode
}

func newCoordinator(cfg *core.Config, logger *logging.Logger) (*session.Coordinator, error) {
	client, err := analysis.NewClient(core.GetDefaultHTTPClient(cfg), logger, analysis.ClientConfig{
		BackendURL:  cfg.BackendURL,
		MaxFileSize: cfg.MaxFileSize,
	})
	if err != nil {
		return nil, err
	}
	poller, err := analysis.NewPoller(client, logger, analysis.PollerConfig{
		Interval:    cfg.PollInterval,
		MaxAttempts: cfg.PollMaxAttempts,
	})
	if err != nil {
		return nil, err
	}
	return session.New(client, poller, blob.NewStore(logger), logger)
}

func exitCodeFor(err error) int {
	switch {
	case err == nil:
		return core.ExitCodeSuccess
	case errors.Is(err, errTimedOut):
		return core.ExitCodeTimeout
	default:
		return core.ExitCodeError
	}
}
