package analysis

import (
	"errors"
	"fmt"
	"time"

	"go_analyzer/logging"

	"go.uber.org/zap"
)

// PollerConfig bounds a poll run. Timeout is attempt-based: a run lasts
// about Interval * MaxAttempts.
type PollerConfig struct {
	Interval    time.Duration
	MaxAttempts int
}

// DefaultPollerConfig returns the backend's documented budget: 45 queries
// two seconds apart.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{
		Interval:    2000 * time.Millisecond,
		MaxAttempts: 45,
	}
}

// Poller drives the status queries for one task at a time per call.
type Poller struct {
	querier StatusQuerier
	logger  *logging.Logger
	config  PollerConfig
}

// NewPoller creates a Poller.
func NewPoller(querier StatusQuerier, logger *logging.Logger, config PollerConfig) (*Poller, error) {
	if querier == nil {
		return nil, ErrNilClient
	}
	if logger == nil {
		return nil, ErrNilLogger
	}
	if config.Interval <= 0 || config.MaxAttempts < 1 {
		return nil, fmt.Errorf("analysis: invalid poller config: interval %v, attempts %d", config.Interval, config.MaxAttempts)
	}
	return &Poller{
		querier: querier,
		logger:  logger.Named("poller"),
		config:  config,
	}, nil
}

// Config returns the poller's budget.
func (p *Poller) Config() PollerConfig {
	return p.config
}

// Poll queries taskID until a terminal outcome and passes it to onOutcome
// exactly once. Pending replies are never delivered. If token is cancelled
// at any point Poll returns without calling onOutcome; a cancellation that
// races with delivery must be re-checked by the receiver under its own lock.
//
// Poll blocks; callers run it in its own goroutine.
func (p *Poller) Poll(token *CancellationToken, taskID string, onOutcome func(Outcome)) {
	log := p.logger.With(zap.String("task_id", taskID))
	ctx := token.Context()

	for attempt := 1; attempt <= p.config.MaxAttempts; attempt++ {
		if token.Cancelled() {
			log.Debug("poll cancelled", zap.Int("attempt", attempt))
			return
		}

		out, err := p.querier.PollOnce(ctx, taskID)
		if token.Cancelled() {
			log.Debug("poll cancelled during request", zap.Int("attempt", attempt))
			return
		}
		if err != nil {
			log.Warn("status query failed", zap.Int("attempt", attempt), zap.Error(err))
			p.deliver(token, failure(MsgLostConnection), onOutcome)
			return
		}

		if out.Terminal() {
			log.Info("task finished",
				zap.Stringer("outcome", out.Kind),
				zap.Int("attempt", attempt),
				zap.String("message", out.Message),
			)
			p.deliver(token, out, onOutcome)
			return
		}

		if attempt == p.config.MaxAttempts {
			log.Warn("poll budget exhausted", zap.Int("attempts", attempt))
			p.deliver(token, timeout(), onOutcome)
			return
		}

		if err := sleep(token, p.config.Interval); err != nil {
			log.Debug("poll cancelled during wait", zap.Int("attempt", attempt))
			return
		}
	}
}

func (p *Poller) deliver(token *CancellationToken, out Outcome, onOutcome func(Outcome)) {
	if token.Cancelled() || onOutcome == nil {
		return
	}
	onOutcome(out)
}

var errCancelled = errors.New("analysis: cancelled")

// sleep waits d or until the token is cancelled, whichever is first.
func sleep(token *CancellationToken, d time.Duration) error {
	if token.Cancelled() {
		return errCancelled
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
	case <-token.Context().Done():
	}
	if token.Cancelled() {
		return errCancelled
	}
	return nil
}
