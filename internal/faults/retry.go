// File: internal/faults/retry.go
package faults

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// DefaultDelays is the progressive backoff schedule, indexed by retry
// attempt.
var DefaultDelays = []time.Duration{1 * time.Second, 2 * time.Second, 5 * time.Second}

// Operation is a unit of retryable work.
type Operation func(ctx context.Context) error

// CleanupFunc reclaims orphaned resources before a retry. Wired to the
// browser pool's forced cleanup for crash-class failures.
type CleanupFunc func(ctx context.Context) error

// Retrier executes operations under a bounded, progressively delayed retry
// policy driven by the classifier's verdict. Policy state is per-call:
// concurrent Do invocations never share a retry budget.
type Retrier struct {
	MaxRetries int
	Delays     []time.Duration
	Cleanup    CleanupFunc

	logger *zap.Logger
	// sleep is swappable so tests can capture delays instead of waiting.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRetrier builds a Retrier with the default policy (3 retries, 1s/2s/5s).
func NewRetrier(logger *zap.Logger, cleanup CleanupFunc) *Retrier {
	return &Retrier{
		MaxRetries: 3,
		Delays:     DefaultDelays,
		Cleanup:    cleanup,
		logger:     logger.Named("retrier"),
		sleep:      sleepCtx,
	}
}

// WithSleeper replaces the delay function. Tests only.
func (r *Retrier) WithSleeper(sleep func(ctx context.Context, d time.Duration) error) *Retrier {
	r.sleep = sleep
	return r
}

// Do runs op, classifying each failure against fctx. Non-retryable verdicts
// surface immediately; retryable ones are re-attempted up to MaxRetries
// times with the configured delays. Crash- and launch-class failures invoke
// the cleanup hook before the next attempt. On exhaustion the last verdict
// is returned with RetriesExhausted set.
func (r *Retrier) Do(ctx context.Context, fctx Context, op Operation) error {
	err := op(ctx)
	if err == nil {
		return nil
	}

	classified := Classify(err, fctx)
	if !classified.Retryable {
		return classified
	}

	for attempt := 0; attempt < r.MaxRetries; attempt++ {
		delay := r.Delays[len(r.Delays)-1]
		if attempt < len(r.Delays) {
			delay = r.Delays[attempt]
		}

		r.logger.Warn("Operation failed, retrying",
			zap.String("stage", string(fctx.Stage)),
			zap.String("operation", fctx.Operation),
			zap.String("category", string(classified.Category)),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", delay),
			zap.Error(classified.Original()))

		if err := r.sleep(ctx, delay); err != nil {
			return Classify(Tag(err, KindTimeout), fctx)
		}

		if r.Cleanup != nil && needsCleanup(classified.Category) {
			if cerr := r.Cleanup(ctx); cerr != nil {
				r.logger.Warn("Pre-retry cleanup failed", zap.Error(cerr))
			}
		}

		if err = op(ctx); err == nil {
			return nil
		}

		classified = Classify(err, fctx)
		if !classified.Retryable {
			return classified
		}
	}

	exhausted := *classified
	exhausted.RetriesExhausted = true
	return &exhausted
}

// needsCleanup reports whether a category leaves orphaned browser resources
// behind.
func needsCleanup(c Category) bool {
	return c == CategoryCritical
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
