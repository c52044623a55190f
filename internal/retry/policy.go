// Package retry wraps remote calls with classifier-driven retries. One Do
// call owns one attempt budget; every classifier passed to it draws from
// that budget, so stacking classifiers never stacks sleeps.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// Defaults applied when a Policy field is zero.
const (
	DefaultMaxAttempts = 5
	DefaultJitterBase  = 1 * time.Second
)

// Policy configures retry behavior. The zero value is usable.
type Policy struct {
	// MaxAttempts is the number of retries allowed after the first call.
	MaxAttempts int

	// JitterBase scales the random component of each delay.
	JitterBase time.Duration

	// Sleep waits between attempts. Defaults to a context-aware timer.
	// Tests override this to avoid real delays.
	Sleep func(ctx context.Context, d time.Duration) error

	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64

	Logger *slog.Logger
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}

	if p.JitterBase <= 0 {
		p.JitterBase = DefaultJitterBase
	}

	if p.Sleep == nil {
		p.Sleep = timeSleep
	}

	if p.Rand == nil {
		p.Rand = rand.Float64 //nolint:gosec // jitter does not need crypto rand
	}

	if p.Logger == nil {
		p.Logger = slog.New(slog.DiscardHandler)
	}

	return p
}

// Backoff returns the delay before the next attempt when remaining
// retries are left (MaxAttempts down to 1). The random part grows as the
// budget shrinks and never exceeds JitterBase × MaxAttempts.
func (p Policy) Backoff(retryAfter time.Duration, remaining int) time.Duration {
	p = p.withDefaults()

	if retryAfter < 0 {
		retryAfter = 0
	}

	if remaining < 1 {
		remaining = 1
	}

	jitter := float64(p.JitterBase) * p.Rand() * float64(p.MaxAttempts) / float64(remaining)

	return retryAfter + time.Duration(jitter)
}

// Verdict is a classifier's decision about one failure.
type Verdict[T any] struct {
	// Retry asks Do to back off and call again.
	Retry bool

	// RetryAfter is the server's hint, added to the jittered delay.
	RetryAfter time.Duration

	// Adopt ends the call successfully with Value.
	Adopt bool
	Value T
}

// Classifier inspects a failure. It returns ok=false when the failure is
// not its concern, leaving it for the next classifier. A classifier may
// itself fail, for example when re-fetching an adopted entity.
type Classifier[T any] func(ctx context.Context, err error) (v Verdict[T], ok bool, cerr error)

// Do runs call and offers each failure to classifiers in order. The first
// classifier that claims a failure decides what happens; unclaimed
// failures return immediately. When the budget runs out the last failure
// is returned as is.
func Do[T any](ctx context.Context, p Policy, call func(context.Context) (T, error), classifiers ...Classifier[T]) (T, error) {
	p = p.withDefaults()

	remaining := p.MaxAttempts

	for {
		v, err := call(ctx)
		if err == nil {
			return v, nil
		}

		verdict, claimed, cerr := classify(ctx, err, classifiers)
		if cerr != nil {
			var zero T
			return zero, cerr
		}

		if !claimed {
			return v, err
		}

		if verdict.Adopt {
			return verdict.Value, nil
		}

		if !verdict.Retry {
			return v, err
		}

		if remaining == 0 {
			p.Logger.Warn("retry budget exhausted",
				slog.Int("attempts", p.MaxAttempts+1),
				slog.String("error", err.Error()),
			)

			return v, err
		}

		delay := p.Backoff(verdict.RetryAfter, remaining)
		p.Logger.Warn("retrying remote call",
			slog.Int("remaining", remaining),
			slog.Duration("backoff", delay),
			slog.String("error", err.Error()),
		)

		if sleepErr := p.Sleep(ctx, delay); sleepErr != nil {
			var zero T
			return zero, fmt.Errorf("retry: canceled while backing off: %w", sleepErr)
		}

		remaining--
	}
}

func classify[T any](ctx context.Context, err error, classifiers []Classifier[T]) (Verdict[T], bool, error) {
	for _, c := range classifiers {
		v, ok, cerr := c(ctx, err)
		if cerr != nil {
			return v, true, cerr
		}

		if ok {
			return v, true, nil
		}
	}

	return Verdict[T]{}, false, nil
}

// RateLimited claims remote.ErrRateLimited and asks for a retry honoring
// the server's Retry-After hint.
func RateLimited[T any]() Classifier[T] {
	return func(_ context.Context, err error) (Verdict[T], bool, error) {
		if !errors.Is(err, remote.ErrRateLimited) {
			return Verdict[T]{}, false, nil
		}

		return Verdict[T]{Retry: true, RetryAfter: remote.RetryAfterOf(err)}, true, nil
	}
}

// FolderConflict claims remote.ErrConflict. When the failure names the
// entity it collided with, that entity is re-fetched and adopted as the
// result. Otherwise the call is retried like a rate limit.
func FolderConflict(fetch func(ctx context.Context, id string) (*remote.Entity, error)) Classifier[*remote.Entity] {
	return func(ctx context.Context, err error) (Verdict[*remote.Entity], bool, error) {
		if !errors.Is(err, remote.ErrConflict) {
			return Verdict[*remote.Entity]{}, false, nil
		}

		existing := remote.ConflictOf(err)
		if existing != nil && existing.Kind == remote.KindFile {
			// A file holds the name; adopting it as a folder would be wrong.
			return Verdict[*remote.Entity]{}, false, nil
		}

		if existing == nil || existing.ID == "" {
			return Verdict[*remote.Entity]{Retry: true, RetryAfter: remote.RetryAfterOf(err)}, true, nil
		}

		adopted, fetchErr := fetch(ctx, existing.ID)
		if fetchErr != nil {
			return Verdict[*remote.Entity]{}, true, fmt.Errorf("retry: adopting %s %s: %w", existing.Kind, existing.ID, fetchErr)
		}

		return Verdict[*remote.Entity]{Adopt: true, Value: adopted}, true, nil
	}
}

// timeSleep waits for the given duration or until the context is canceled.
func timeSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
