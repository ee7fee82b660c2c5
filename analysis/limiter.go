package analysis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"
)

// ErrRateLimited is returned when a submission cannot get a slot within the
// limiter's wait budget.
var ErrRateLimited = errors.New("analysis: submission rate limit exceeded")

// LimitedSubmitter keeps submissions within a rate budget. A submission
// that would have to wait longer than maxWait is refused at once.
type LimitedSubmitter struct {
	limiter *rate.Limiter
	maxWait time.Duration
	next    Submitter
}

// NewLimitedSubmitter wraps next with a token bucket of rps and burst. With
// maxWait <= 0 a submission either gets a slot immediately or is refused.
func NewLimitedSubmitter(next Submitter, rps float64, burst int, maxWait time.Duration) *LimitedSubmitter {
	return &LimitedSubmitter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		maxWait: maxWait,
		next:    next,
	}
}

// Submit takes a slot, then forwards.
func (s *LimitedSubmitter) Submit(ctx context.Context, file *File) (string, error) {
	if err := s.acquire(ctx); err != nil {
		return "", err
	}
	return s.next.Submit(ctx, file)
}

func (s *LimitedSubmitter) acquire(ctx context.Context) error {
	if s.maxWait <= 0 {
		if !s.limiter.Allow() {
			return ErrRateLimited
		}
		return nil
	}

	// Wait fails immediately when the slot lies beyond the deadline.
	waitCtx, cancel := context.WithTimeout(ctx, s.maxWait)
	defer cancel()
	if err := s.limiter.Wait(waitCtx); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return nil
}
