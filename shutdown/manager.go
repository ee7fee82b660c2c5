package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go_analyzer/core"
	"go_analyzer/logging"

	"go.uber.org/zap"
)

// Manager ties together the operation tracker, the cleanup registry and
// signal handling. Its context is cancelled on the first SIGINT/SIGTERM or
// on Trigger; a second signal exits immediately.
type Manager struct {
	logger  *logging.Logger
	timeout time.Duration
	exit    func(code int)

	ctx    context.Context
	cancel context.CancelFunc

	tracker  OperationTracker
	registry Registry
	latch    signalLatch

	mu       sync.Mutex
	started  bool
	shutdown bool
	sigChan  chan os.Signal
}

// Option configures a Manager.
type Option func(*Manager)

// WithTimeout bounds the whole shutdown sequence. Default 30s.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

// WithExit replaces os.Exit for the forced-exit path.
func WithExit(exit func(code int)) Option {
	return func(m *Manager) { m.exit = exit }
}

// NewManager creates a Manager. Call Start to listen for signals.
func NewManager(logger *logging.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		logger:  logger.Named("shutdown"),
		timeout: 30 * time.Second,
		exit:    os.Exit,
		ctx:     ctx,
		cancel:  cancel,
		sigChan: make(chan os.Signal, 2),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.latch.onForce = func(sig os.Signal) {
		m.logger.Warn("second signal received, forcing exit", zap.String("signal", sig.String()))
		m.logger.Sync()
		m.exit(core.ExitCodeForSignal(sig))
	}
	return m
}

// Context is cancelled when shutdown begins.
func (m *Manager) Context() context.Context {
	return m.ctx
}

// Register adds a cleanup handler; see the Priority constants.
func (m *Manager) Register(name string, priority int, fn core.ShutdownFunc) {
	m.registry.Register(name, priority, fn)
}

// Start listens for SIGINT and SIGTERM. Repeated calls are no-ops.
func (m *Manager) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return
	}
	m.started = true

	signal.Notify(m.sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		for sig := range m.sigChan {
			m.handleSignal(sig)
		}
	}()
}

func (m *Manager) handleSignal(sig os.Signal) {
	if m.latch.observe(sig) {
		m.logger.Info("shutdown signal received", zap.String("signal", sig.String()))
		m.cancel()
	}
}

// Trigger begins shutdown without a signal, e.g. on /quit.
func (m *Manager) Trigger() {
	m.cancel()
}

// Signal returns the signal that started shutdown, or nil.
func (m *Manager) Signal() os.Signal {
	return m.latch.signal()
}

// ExitCode maps how shutdown began onto a process exit code.
func (m *Manager) ExitCode() int {
	if sig := m.Signal(); sig != nil {
		return core.ExitCodeForSignal(sig)
	}
	return core.ExitCodeSuccess
}

// Track runs fn as an in-flight operation. After shutdown begins it
// returns ErrTrackerClosed without running fn.
func (m *Manager) Track(name string, fn func() error) error {
	if !m.tracker.Start() {
		m.logger.Debug("operation rejected during shutdown", zap.String("operation", name))
		return ErrTrackerClosed
	}
	defer m.tracker.Done()
	return fn()
}

// ActiveOperations returns the number of tracked in-flight operations.
func (m *Manager) ActiveOperations() int {
	return m.tracker.Active()
}

// Shutdown stops admitting operations, waits for in-flight ones and runs
// the registry, all within the configured timeout. It is idempotent.
func (m *Manager) Shutdown() error {
	m.mu.Lock()
	if m.shutdown {
		m.mu.Unlock()
		return nil
	}
	m.shutdown = true
	if m.started {
		signal.Stop(m.sigChan)
		close(m.sigChan)
	}
	m.mu.Unlock()

	m.cancel()
	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.tracker.Close()
	if n := m.tracker.Active(); n > 0 {
		m.logger.Info("waiting for in-flight operations", zap.Int("active", n))
	}
	if err := m.tracker.Wait(ctx); err != nil {
		m.logger.Warn("in-flight operations did not finish", zap.Int("remaining", m.tracker.Active()))
	}

	// Cleanup always gets at least a second, even if the wait used it all.
	runCtx := ctx
	if ctx.Err() != nil {
		var runCancel context.CancelFunc
		runCtx, runCancel = context.WithTimeout(context.Background(), time.Second)
		defer runCancel()
	}

	m.logger.Debug("running cleanup", zap.Strings("handlers", m.registry.Names()))
	err := m.registry.Run(runCtx)
	if err != nil {
		m.logger.Error("shutdown completed with errors", zap.Error(err), zap.Duration("duration", time.Since(start)))
		return err
	}
	m.logger.Info("shutdown complete", zap.Duration("duration", time.Since(start)))
	return nil
}
