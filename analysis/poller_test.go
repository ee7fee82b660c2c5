package analysis

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go_analyzer/logging"
)

const testInterval = 20 * time.Millisecond

// scriptedQuerier returns outcomes from a script, repeating the last one.
type scriptedQuerier struct {
	mu      sync.Mutex
	script  []Outcome
	err     error
	calls   int
	onQuery func(call int)
}

func (q *scriptedQuerier) PollOnce(ctx context.Context, taskID string) (Outcome, error) {
	q.mu.Lock()
	q.calls++
	call := q.calls
	idx := call - 1
	if idx >= len(q.script) {
		idx = len(q.script) - 1
	}
	var out Outcome
	if idx >= 0 {
		out = q.script[idx]
	}
	hook := q.onQuery
	q.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if q.err != nil {
		return Outcome{}, q.err
	}
	return out, nil
}

func (q *scriptedQuerier) Calls() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

// collector records delivered outcomes.
type collector struct {
	mu       sync.Mutex
	outcomes []Outcome
}

func (c *collector) add(o Outcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
}

func (c *collector) all() []Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Outcome(nil), c.outcomes...)
}

func newTestPoller(t *testing.T, q StatusQuerier, attempts int) *Poller {
	t.Helper()
	p, err := NewPoller(q, logging.NewNop(), PollerConfig{Interval: testInterval, MaxAttempts: attempts})
	if err != nil {
		t.Fatalf("NewPoller() error: %v", err)
	}
	return p
}

func runPoll(p *Poller, token *CancellationToken, taskID string, c *collector) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Poll(token, taskID, c.add)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan struct{}, d time.Duration) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatal("Poll did not return in time")
	}
}

func TestNewPoller_InvalidConfig(t *testing.T) {
	q := &scriptedQuerier{}
	tests := []PollerConfig{
		{Interval: 0, MaxAttempts: 1},
		{Interval: time.Second, MaxAttempts: 0},
	}
	for _, cfg := range tests {
		if _, err := NewPoller(q, logging.NewNop(), cfg); err == nil {
			t.Errorf("NewPoller(%+v) expected error", cfg)
		}
	}
	if _, err := NewPoller(nil, logging.NewNop(), DefaultPollerConfig()); !errors.Is(err, ErrNilClient) {
		t.Errorf("NewPoller(nil) error = %v, want ErrNilClient", err)
	}
}

func TestDefaultPollerConfig(t *testing.T) {
	cfg := DefaultPollerConfig()
	if cfg.Interval != 2000*time.Millisecond || cfg.MaxAttempts != 45 {
		t.Errorf("DefaultPollerConfig() = %+v, want 2s/45", cfg)
	}
}

func TestPoll_TimeoutAfterMaxAttempts(t *testing.T) {
	var mu sync.Mutex
	var arrivals []time.Time

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		arrivals = append(arrivals, time.Now())
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		w.Write([]byte(`{"status":"processing"}`))
	}))
	defer server.Close()

	client := newTestClient(t, server.URL)
	p := newTestPoller(t, client, 45)

	token := NewCancellationToken(context.Background())
	var c collector
	p.Poll(token, "t1", c.add)

	got := c.all()
	if len(got) != 1 || got[0].Kind != OutcomeTimeout {
		t.Fatalf("outcomes = %+v, want one timeout", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(arrivals) != 45 {
		t.Fatalf("queries = %d, want 45", len(arrivals))
	}
	for i := 1; i < len(arrivals); i++ {
		if gap := arrivals[i].Sub(arrivals[i-1]); gap < testInterval {
			t.Errorf("gap between query %d and %d = %v, want >= %v", i, i+1, gap, testInterval)
		}
	}
}

func TestPoll_TerminalReplies(t *testing.T) {
	tests := []struct {
		name        string
		contentType string
		body        []byte
		wantKind    OutcomeKind
		wantMsg     string
	}{
		{"json error on 2xx", "application/json", []byte(`{"error":"bad input"}`), OutcomeFailure, "bad input"},
		{"empty binary", "image/png", nil, OutcomeFailure, MsgEmptyResult},
		{"binary result", "image/png", []byte("0123456789"), OutcomeSuccess, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) == 1 {
					w.WriteHeader(http.StatusAccepted)
					return
				}
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(http.StatusOK)
				w.Write(tt.body)
			}))
			defer server.Close()

			p := newTestPoller(t, newTestClient(t, server.URL), 45)
			var c collector
			p.Poll(NewCancellationToken(context.Background()), "t1", c.add)

			got := c.all()
			if len(got) != 1 {
				t.Fatalf("outcomes = %d, want 1", len(got))
			}
			if got[0].Kind != tt.wantKind || got[0].Message != tt.wantMsg {
				t.Errorf("outcome = %+v, want kind %v message %q", got[0], tt.wantKind, tt.wantMsg)
			}
			if tt.wantKind == OutcomeSuccess {
				if !bytes.Equal(got[0].Payload, tt.body) || got[0].ContentType != "image/png" {
					t.Errorf("payload = %q (%s), want %q (image/png)", got[0].Payload, got[0].ContentType, tt.body)
				}
			}
			if hits.Load() != 2 {
				t.Errorf("queries = %d, want 2 (no calls after terminal outcome)", hits.Load())
			}
		})
	}
}

func TestPoll_LostConnection(t *testing.T) {
	q := &scriptedQuerier{err: errors.New("connection reset")}
	var c collector
	newTestPoller(t, q, 45).Poll(NewCancellationToken(context.Background()), "t1", c.add)

	got := c.all()
	if len(got) != 1 || got[0].Kind != OutcomeFailure || got[0].Message != MsgLostConnection {
		t.Fatalf("outcomes = %+v, want one lost connection failure", got)
	}
	if q.Calls() != 1 {
		t.Errorf("queries = %d, want 1", q.Calls())
	}
}

func TestPoll_CancelledBeforeStart(t *testing.T) {
	q := &scriptedQuerier{script: []Outcome{pending()}}
	token := NewCancellationToken(context.Background())
	token.Cancel()

	var c collector
	newTestPoller(t, q, 45).Poll(token, "t1", c.add)

	if q.Calls() != 0 {
		t.Errorf("queries = %d, want 0", q.Calls())
	}
	if len(c.all()) != 0 {
		t.Errorf("outcomes = %+v, want none", c.all())
	}
}

func TestPoll_CancelDuringWait(t *testing.T) {
	token := NewCancellationToken(context.Background())
	q := &scriptedQuerier{
		script:  []Outcome{pending()},
		onQuery: func(int) { token.Cancel() },
	}
	p, err := NewPoller(q, logging.NewNop(), PollerConfig{Interval: time.Hour, MaxAttempts: 45})
	if err != nil {
		t.Fatal(err)
	}

	var c collector
	waitDone(t, runPoll(p, token, "t1", &c), 2*time.Second)

	if q.Calls() != 1 {
		t.Errorf("queries = %d, want 1", q.Calls())
	}
	if len(c.all()) != 0 {
		t.Errorf("outcomes = %+v, want none after cancel", c.all())
	}
}

func TestPoll_CancelDuringRequest(t *testing.T) {
	started := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(started)
		<-r.Context().Done()
	}))
	defer server.Close()

	p := newTestPoller(t, newTestClient(t, server.URL), 45)
	token := NewCancellationToken(context.Background())

	var c collector
	done := runPoll(p, token, "t1", &c)
	<-started
	token.Cancel()
	waitDone(t, done, 2*time.Second)

	if len(c.all()) != 0 {
		t.Errorf("outcomes = %+v, want none (cancel is not lost connection)", c.all())
	}
}

func TestPoll_CancelledResultIsDropped(t *testing.T) {
	token := NewCancellationToken(context.Background())
	q := &scriptedQuerier{
		script: []Outcome{success([]byte("x"), "image/png")},
		// Cancel while the reply is "in flight": after the query started but
		// before the poller sees it.
		onQuery: func(int) { token.Cancel() },
	}

	var c collector
	newTestPoller(t, q, 45).Poll(token, "t1", c.add)

	if len(c.all()) != 0 {
		t.Errorf("outcomes = %+v, want none", c.all())
	}
}

func TestPoll_PendingThenSuccess(t *testing.T) {
	q := &scriptedQuerier{script: []Outcome{pending(), pending(), success([]byte("ok"), "image/png")}}
	var c collector
	newTestPoller(t, q, 45).Poll(NewCancellationToken(context.Background()), "t1", c.add)

	got := c.all()
	if len(got) != 1 || got[0].Kind != OutcomeSuccess {
		t.Fatalf("outcomes = %+v, want one success", got)
	}
	if q.Calls() != 3 {
		t.Errorf("queries = %d, want 3", q.Calls())
	}
}

func TestPoll_SingleAttemptTimesOutWithoutSleeping(t *testing.T) {
	q := &scriptedQuerier{script: []Outcome{pending()}}
	p, err := NewPoller(q, logging.NewNop(), PollerConfig{Interval: time.Hour, MaxAttempts: 1})
	if err != nil {
		t.Fatal(err)
	}

	var c collector
	waitDone(t, runPoll(p, NewCancellationToken(context.Background()), "t1", &c), 2*time.Second)

	got := c.all()
	if len(got) != 1 || got[0].Kind != OutcomeTimeout {
		t.Fatalf("outcomes = %+v, want one timeout", got)
	}
}
