// Package session owns the observable state of one analysis session and
// mediates file selection, submission, reset and teardown.
//
// Every mutation happens under one mutex. A background poll run may only
// apply its outcome while its cancellation token is still the session's
// current token and not cancelled, so a superseded run can never touch the
// state.
package session

import (
	"context"
	"errors"
	"sync"

	"go_analyzer/analysis"
	"go_analyzer/blob"
	"go_analyzer/imaging"
	"go_analyzer/logging"

	"go.uber.org/zap"
)

var (
	ErrClosed    = errors.New("session: coordinator closed")
	ErrCancelled = errors.New("session: run cancelled")
	ErrNoResult  = errors.New("session: no result available")
	ErrNoPreview = errors.New("session: no preview available")
)

// PollRunner runs a poll loop for a task, delivering one terminal outcome
// unless the token is cancelled. *analysis.Poller implements it.
type PollRunner interface {
	Poll(token *analysis.CancellationToken, taskID string, onOutcome func(analysis.Outcome))
}

// Coordinator is safe for concurrent use.
type Coordinator struct {
	submitter analysis.Submitter
	poller    PollRunner
	store     *blob.Store
	logger    *logging.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	runs       sync.WaitGroup

	mu      sync.Mutex
	closed  bool
	file    *analysis.File
	token   *analysis.CancellationToken
	state   State
	preview blob.Slot
	result  blob.Slot
	subs    map[chan State]struct{}
	changed chan struct{}
}

// New creates an idle Coordinator.
func New(submitter analysis.Submitter, poller PollRunner, store *blob.Store, logger *logging.Logger) (*Coordinator, error) {
	if submitter == nil || poller == nil {
		return nil, analysis.ErrNilClient
	}
	if logger == nil {
		return nil, analysis.ErrNilLogger
	}
	if store == nil {
		store = blob.NewStore(logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		submitter:  submitter,
		poller:     poller,
		store:      store,
		logger:     logger.Named("session"),
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      State{Status: StatusIdle},
		subs:       make(map[chan State]struct{}),
		changed:    make(chan struct{}),
	}, nil
}

// State returns the current snapshot.
func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// SelectFile cancels any run, drops the previous preview and result, and
// makes file current. A nil file clears the selection.
func (c *Coordinator) SelectFile(file *analysis.File) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}

	c.cleanupLocked()
	c.file = file

	next := State{Status: StatusIdle}
	if file != nil {
		h := c.store.Create(file.Content, file.ContentType)
		c.preview.Replace(h)
		next.FileName = file.Name
		next.Preview = h
		if info, err := imaging.Inspect(file.Content); err == nil {
			next.PreviewInfo = &info
		}
		c.logger.Info("file selected",
			zap.String("file", file.Name),
			zap.String("content_type", file.ContentType),
			zap.Int64("size_bytes", file.Size()),
		)
	}
	c.setLocked(next)
	return nil
}

// SubmitCurrentFile uploads the selected file and, once a task id is
// returned, starts polling in the background. It returns when the upload
// finishes; use Wait or Subscribe to observe the outcome.
//
// Cancelling ctx aborts the upload only. A submission superseded by
// another action, or aborted through ctx, applies nothing and returns
// ErrCancelled.
func (c *Coordinator) SubmitCurrentFile(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.file == nil {
		err := &analysis.SubmitError{Kind: analysis.KindValidation, Message: analysis.MsgNoFile}
		c.cancelRunLocked()
		c.result.Release()
		c.setLocked(c.withStatus(StatusError, err.Message))
		c.mu.Unlock()
		return err
	}

	c.cancelRunLocked()
	c.result.Release()
	token := analysis.NewCancellationToken(c.baseCtx)
	c.token = token
	file := c.file
	c.setLocked(c.withStatus(StatusUploading, ""))
	c.mu.Unlock()

	stop := context.AfterFunc(ctx, token.Cancel)
	taskID, err := c.submitter.Submit(token.Context(), file)
	if !stop() && ctx.Err() != nil {
		// AfterFunc runs Cancel on its own goroutine; make it visible now.
		token.Cancel()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token != token {
		c.logger.Debug("discarding superseded submission", zap.String("file", file.Name))
		return ErrCancelled
	}
	if token.Cancelled() {
		c.token = nil
		c.setLocked(c.withStatus(StatusIdle, ""))
		return ErrCancelled
	}
	if err != nil {
		c.token = nil
		token.Cancel()
		msg := analysis.UserMessage(err)
		c.logger.Warn("submission failed", zap.String("file", file.Name), zap.Error(err))
		c.setLocked(c.withStatus(StatusError, msg))
		return err
	}

	next := c.withStatus(StatusProcessing, "")
	next.TaskID = taskID
	c.setLocked(next)

	c.runs.Add(1)
	go func() {
		defer c.runs.Done()
		c.poller.Poll(token, taskID, func(out analysis.Outcome) {
			c.applyOutcome(token, out)
		})
	}()
	return nil
}

func (c *Coordinator) applyOutcome(token *analysis.CancellationToken, out analysis.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed || c.token != token || token.Cancelled() {
		return
	}
	c.token = nil
	token.Cancel()

	switch out.Kind {
	case analysis.OutcomeSuccess:
		h := c.store.Create(out.Payload, out.ContentType)
		c.result.Replace(h)
		next := c.withStatus(StatusSuccess, "")
		next.Result = h
		c.setLocked(next)
		c.logger.Info("analysis complete",
			zap.String("task_id", c.state.TaskID),
			zap.String("content_type", out.ContentType),
			zap.Int("size_bytes", len(out.Payload)),
		)
	case analysis.OutcomeFailure:
		c.setLocked(c.withStatus(StatusError, out.Message))
	case analysis.OutcomeTimeout:
		next := c.withStatus(StatusError, analysis.MsgTimedOut)
		next.TimedOut = true
		c.setLocked(next)
	}
}

// Reset cancels any run, releases both handles and clears the selection.
// It is idempotent.
func (c *Coordinator) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.cleanupLocked()
	c.file = nil
	c.setLocked(State{Status: StatusIdle})
	return nil
}

// Close tears the session down with the same cleanup as Reset and waits
// for background runs to return. Every later call returns ErrClosed;
// Close itself is idempotent.
func (c *Coordinator) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.cleanupLocked()
	c.file = nil
	c.setLocked(State{Status: StatusIdle})
	c.closed = true
	for ch := range c.subs {
		close(ch)
		delete(c.subs, ch)
	}
	c.baseCancel()
	c.mu.Unlock()

	c.runs.Wait()
	c.logger.Debug("session closed", zap.Int("outstanding_handles", c.store.Outstanding()))
	return nil
}

// Shutdown adapts Close to the shutdown registry.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		c.Close()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until no run is in flight and returns that state.
func (c *Coordinator) Wait(ctx context.Context) (State, error) {
	for {
		c.mu.Lock()
		s, changed, closed := c.state, c.changed, c.closed
		c.mu.Unlock()

		if !s.Status.Busy() || closed {
			return s, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return s, ctx.Err()
		}
	}
}

// Subscribe returns a channel receiving a snapshot after every transition.
// A slow reader only sees the latest snapshot. The channel is closed by
// the returned cancel func or by Close.
func (c *Coordinator) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 1)

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		close(ch)
		return ch, func() {}
	}
	c.subs[ch] = struct{}{}
	ch <- c.state

	return ch, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if _, ok := c.subs[ch]; ok {
			delete(c.subs, ch)
			close(ch)
		}
	}
}

// OpenResult returns the result bytes while the result handle is live.
func (c *Coordinator) OpenResult() ([]byte, string, error) {
	return c.open(&c.result, ErrNoResult)
}

// OpenPreview returns the selected file's bytes through its preview handle.
func (c *Coordinator) OpenPreview() ([]byte, string, error) {
	return c.open(&c.preview, ErrNoPreview)
}

func (c *Coordinator) open(slot *blob.Slot, missing error) ([]byte, string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, "", ErrClosed
	}
	h := slot.Current()
	if h == nil {
		return nil, "", missing
	}
	data, err := h.Bytes()
	if err != nil {
		return nil, "", err
	}
	return data, h.ContentType(), nil
}

// cleanupLocked is the single teardown path shared by select, reset and
// close: cancel the run, then release both handles.
func (c *Coordinator) cleanupLocked() {
	c.cancelRunLocked()
	c.result.Release()
	c.preview.Release()
}

func (c *Coordinator) cancelRunLocked() {
	if c.token != nil {
		c.token.Cancel()
		c.token = nil
	}
}

// withStatus derives the next state from the current one, keeping the
// selection and dropping the result.
func (c *Coordinator) withStatus(status Status, errMsg string) State {
	next := c.state
	next.Status = status
	next.ErrorMessage = errMsg
	next.TimedOut = false
	next.Result = nil
	if status == StatusUploading || status == StatusIdle {
		next.TaskID = ""
	}
	return next
}

func (c *Coordinator) setLocked(next State) {
	prev := c.state.Status
	c.state = next
	if prev != next.Status {
		c.logger.Debug("state transition",
			zap.String("from", string(prev)),
			zap.String("to", string(next.Status)),
			zap.String("error", next.ErrorMessage),
		)
	}

	close(c.changed)
	c.changed = make(chan struct{})

	for ch := range c.subs {
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- next:
		default:
		}
	}
}
