// Package retry provides the exponential-backoff execution wrapper shared
// by every network-facing call in the sync engine. It is a pure control-flow
// combinator: it performs no I/O of its own and never panics or returns a
// raw transport error — callers always receive a Result.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"golang.org/x/sync/errgroup"
)

// Defaults for Options. Cross-service sync calls use DefaultMaxRetries;
// lighter calls (status probes, single-document reads) use LightMaxRetries.
const (
	DefaultMaxRetries    = 5
	LightMaxRetries      = 3
	DefaultInitialDelay  = 1 * time.Second
	DefaultMaxDelay      = 30 * time.Second
	DefaultBackoffFactor = 2.0
	DefaultConcurrency   = 3

	// jitterFraction adds up to 10% to each computed delay.
	jitterFraction = 0.10
)

// Options configures a Policy. Zero values are replaced with the defaults
// above; a nil Condition means DefaultCondition.
type Options struct {
	MaxRetries    int
	InitialDelay  time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64

	// Condition reports whether an error is worth retrying. Overriding it
	// lets a caller retry only rate-limit errors while failing fast on
	// auth loss, for example.
	Condition func(error) bool

	// Concurrency bounds DoAll's parallelism.
	Concurrency int
}

// Result is the outcome of a Policy-wrapped operation. Attempts counts
// operation invocations (1 on first-try success); TotalDelay is the sum of
// backoff sleeps, zero when no retry occurred.
type Result[T any] struct {
	Success    bool
	Value      T
	Err        error
	Attempts   int
	TotalDelay time.Duration
}

// Policy executes operations with exponential backoff and jitter.
// Construct once and share; it is safe for concurrent use.
type Policy struct {
	opts   Options
	logger *slog.Logger

	// sleepFunc waits between attempts. Tests override it to avoid real
	// delays and to record the computed backoff schedule.
	sleepFunc func(ctx context.Context, d time.Duration) error

	// randFloat supplies jitter in [0, 1). Tests pin it for determinism.
	randFloat func() float64
}

// NewPolicy creates a Policy, filling unset options with defaults.
func NewPolicy(opts Options, logger *slog.Logger) *Policy {
	if logger == nil {
		logger = slog.Default()
	}

	if opts.MaxRetries <= 0 {
		opts.MaxRetries = DefaultMaxRetries
	}

	if opts.InitialDelay <= 0 {
		opts.InitialDelay = DefaultInitialDelay
	}

	if opts.MaxDelay <= 0 {
		opts.MaxDelay = DefaultMaxDelay
	}

	if opts.BackoffFactor <= 0 {
		opts.BackoffFactor = DefaultBackoffFactor
	}

	if opts.Condition == nil {
		opts.Condition = DefaultCondition
	}

	if opts.Concurrency <= 0 {
		opts.Concurrency = DefaultConcurrency
	}

	return &Policy{
		opts:      opts,
		logger:    logger,
		sleepFunc: sleepContext,
		randFloat: rand.Float64,
	}
}

// temporary is the classification interface produced at the network-call
// boundary (remote.Error implements it). Errors that do not implement it
// are treated as transient transport failures.
type temporary interface {
	Temporary() bool
}

// DefaultCondition is the standard retryable/permanent classifier:
// context cancellation and permanent-classified errors stop retrying;
// everything else (network errors, timeouts, throttling, 5xx) is retried.
func DefaultCondition(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var t temporary
	if errors.As(err, &t) {
		return t.Temporary()
	}

	return true
}

// Do executes op under the policy's retry budget. It returns success on the
// first non-erroring result, short-circuiting the remaining budget. name is
// used only for logging.
func Do[T any](ctx context.Context, p *Policy, name string, op func(context.Context) (T, error)) Result[T] {
	var res Result[T]

	for attempt := 0; ; attempt++ {
		value, err := op(ctx)
		res.Attempts = attempt + 1

		if err == nil {
			res.Success = true
			res.Value = value

			return res
		}

		res.Err = err

		if ctx.Err() != nil {
			return res
		}

		if attempt == p.opts.MaxRetries || !p.opts.Condition(err) {
			if attempt > 0 {
				p.logger.Error("operation failed after retries",
					slog.String("op", name),
					slog.Int("attempts", res.Attempts),
					slog.String("error", err.Error()),
				)
			}

			return res
		}

		delay := p.backoff(attempt)
		p.logger.Warn("retrying operation",
			slog.String("op", name),
			slog.Int("attempt", attempt+1),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := p.sleepFunc(ctx, delay); sleepErr != nil {
			res.Err = fmt.Errorf("retry: %s canceled: %w", name, sleepErr)
			return res
		}

		res.TotalDelay += delay
	}
}

// DoAll executes every operation under the policy with bounded concurrency,
// returning one Result per input in input order. Individual failures never
// abort the batch.
func DoAll[T any](ctx context.Context, p *Policy, name string, ops []func(context.Context) (T, error)) []Result[T] {
	results := make([]Result[T], len(ops))

	var g errgroup.Group
	g.SetLimit(p.opts.Concurrency)

	for i, op := range ops {
		g.Go(func() error {
			results[i] = Do(ctx, p, fmt.Sprintf("%s[%d]", name, i), op)
			return nil
		})
	}

	// Workers never return errors; Wait is purely a join.
	_ = g.Wait()

	return results
}

// backoff computes min(initial * factor^attempt, max) plus up to 10% jitter.
func (p *Policy) backoff(attempt int) time.Duration {
	d := float64(p.opts.InitialDelay) * math.Pow(p.opts.BackoffFactor, float64(attempt))
	if d > float64(p.opts.MaxDelay) {
		d = float64(p.opts.MaxDelay)
	}

	d += d * jitterFraction * p.randFloat()

	return time.Duration(d)
}

// sleepContext waits for d or until the context is canceled. It is the
// default sleepFunc for Policy.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
