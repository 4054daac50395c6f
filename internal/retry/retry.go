// Package retry provides the shared retry policy applied to every external
// service call (completion, embedding, rerank). The policy is a generic
// higher-order wrapper: callers pass the operation as a closure and get back
// its result or the final attempt's error unchanged.
//
// A parse failure on an LLM response is retried exactly like a transport
// error — a fresh completion often yields well-formed output.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/54b3r/crag-go/internal/logging"
)

// Policy holds the backoff parameters shared by all external call sites.
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first.
	MaxAttempts int

	// InitialDelay is the wait before the second attempt.
	InitialDelay time.Duration

	// BackoffFactor multiplies the delay after each failed attempt.
	BackoffFactor float64
}

// DefaultPolicy mirrors the standard retry configuration: three attempts,
// one second initial delay, doubling after each failure.
var DefaultPolicy = Policy{
	MaxAttempts:   3,
	InitialDelay:  time.Second,
	BackoffFactor: 2.0,
}

// normalized returns a copy of p with zero values replaced by defaults so a
// zero Policy behaves like DefaultPolicy rather than never retrying.
func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultPolicy.MaxAttempts
	}
	if p.InitialDelay <= 0 {
		p.InitialDelay = DefaultPolicy.InitialDelay
	}
	if p.BackoffFactor < 1 {
		p.BackoffFactor = DefaultPolicy.BackoffFactor
	}
	return p
}

// Do runs op under the policy. On failure it waits the current delay,
// multiplies it by the backoff factor, and tries again, up to MaxAttempts
// total attempts. The final attempt's error is returned unchanged so callers
// can inspect the underlying cause. Context cancellation aborts the wait and
// returns ctx.Err.
//
// name labels the operation in retry warnings (e.g. "proposition_extraction").
func Do[T any](ctx context.Context, p Policy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	p = p.normalized()
	log := logging.FromContext(ctx)

	var zero T
	delay := p.InitialDelay

	for attempt := 1; ; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, nil
		}
		if attempt >= p.MaxAttempts {
			log.Error("retry: attempts exhausted",
				slog.String("op", name),
				slog.Int("attempts", attempt),
				slog.String("error", err.Error()),
			)
			return zero, err
		}

		log.Warn("retry: attempt failed",
			slog.String("op", name),
			slog.Int("attempt", attempt),
			slog.Int("max_attempts", p.MaxAttempts),
			slog.Duration("next_delay", delay),
			slog.String("error", err.Error()),
		)

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(delay):
		}
		delay = time.Duration(float64(delay) * p.BackoffFactor)
	}
}
