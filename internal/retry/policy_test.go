package retry

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/naokikimura/carp-streamer/internal/remote"
)

// recordingSleep collects requested delays without waiting.
type recordingSleep struct {
	delays []time.Duration
}

func (r *recordingSleep) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func rateLimited(seconds int) error {
	err := remote.NewAPIError(http.StatusTooManyRequests, "slow down")
	err.RetryAfter = time.Duration(seconds) * time.Second

	return err
}

func testPolicy(rs *recordingSleep) Policy {
	return Policy{
		MaxAttempts: 5,
		JitterBase:  time.Second,
		Sleep:       rs.sleep,
		Rand:        func() float64 { return 0.5 },
	}
}

func TestDo_RateLimitedRetriedExactlyKTimes(t *testing.T) {
	for k := 0; k <= 5; k++ {
		rs := &recordingSleep{}
		calls := 0

		got, err := Do(context.Background(), testPolicy(rs), func(context.Context) (string, error) {
			calls++
			if calls <= k {
				return "", rateLimited(0)
			}

			return "ok", nil
		}, RateLimited[string]())

		require.NoError(t, err, "k=%d", k)
		assert.Equal(t, "ok", got)
		assert.Equal(t, k+1, calls, "k=%d", k)
		assert.Len(t, rs.delays, k, "k=%d", k)
	}
}

func TestDo_BudgetExhaustedReturnsLastErrorVerbatim(t *testing.T) {
	rs := &recordingSleep{}
	calls := 0

	var last error

	_, err := Do(context.Background(), testPolicy(rs), func(context.Context) (int, error) {
		calls++
		last = rateLimited(calls)

		return 0, last
	}, RateLimited[int]())

	require.Error(t, err)
	assert.Same(t, last, err)
	assert.True(t, errors.Is(err, remote.ErrRateLimited))
	assert.Equal(t, 6, calls)
	assert.Len(t, rs.delays, 5)
}

func TestDo_UnclaimedFailurePropagatesImmediately(t *testing.T) {
	rs := &recordingSleep{}
	calls := 0
	notFound := remote.NewAPIError(http.StatusNotFound, "gone")

	_, err := Do(context.Background(), testPolicy(rs), func(context.Context) (int, error) {
		calls++
		return 0, notFound
	}, RateLimited[int]())

	assert.Same(t, notFound, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, rs.delays)
}

func TestDo_SharedBudgetAcrossClassifiers(t *testing.T) {
	rs := &recordingSleep{}
	calls := 0

	conflictNoDetails := remote.NewAPIError(http.StatusConflict, "item_name_in_use")

	_, err := Do(context.Background(), testPolicy(rs), func(context.Context) (*remote.Entity, error) {
		calls++
		if calls%2 == 0 {
			return nil, conflictNoDetails
		}

		return nil, rateLimited(0)
	}, RateLimited[*remote.Entity](), RateLimited[*remote.Entity](), FolderConflict(nil))

	require.Error(t, err)
	// One sleep per failed attempt regardless of how many classifiers apply.
	assert.Equal(t, 6, calls)
	assert.Len(t, rs.delays, 5)
}

func TestDo_SleepCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := Policy{MaxAttempts: 3, Rand: func() float64 { return 0 }}

	_, err := Do(ctx, p, func(context.Context) (int, error) {
		return 0, rateLimited(1)
	}, RateLimited[int]())

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBackoff_Formula(t *testing.T) {
	p := Policy{MaxAttempts: 5, JitterBase: time.Second, Rand: func() float64 { return 0.5 }}

	// 0.5s × 5/5
	assert.Equal(t, 500*time.Millisecond, p.Backoff(0, 5))
	// 2s hint + 0.5s × 5/1
	assert.Equal(t, 4500*time.Millisecond, p.Backoff(2*time.Second, 1))
	// Negative hints clamp to zero.
	assert.Equal(t, 500*time.Millisecond, p.Backoff(-3*time.Second, 5))
}

func TestBackoff_BoundedByBaseTimesAttempts(t *testing.T) {
	p := Policy{MaxAttempts: 4, JitterBase: time.Second, Rand: func() float64 { return 0.999999 }}

	for remaining := 4; remaining >= 1; remaining-- {
		assert.Less(t, p.Backoff(0, remaining), 4*time.Second)
	}
}

func TestDo_DelaysGrowAsBudgetShrinks(t *testing.T) {
	rs := &recordingSleep{}

	_, _ = Do(context.Background(), testPolicy(rs), func(context.Context) (int, error) {
		return 0, rateLimited(0)
	}, RateLimited[int]())

	require.Len(t, rs.delays, 5)
	for i := 1; i < len(rs.delays); i++ {
		assert.Greater(t, rs.delays[i], rs.delays[i-1])
	}

	assert.Equal(t, 2500*time.Millisecond, rs.delays[4])
}

func TestFolderConflict_Adopts(t *testing.T) {
	rs := &recordingSleep{}
	existing := remote.NewFolder("42", "x", "1", "0", 0)

	conflict := remote.NewAPIError(http.StatusConflict, "item_name_in_use")
	conflict.Conflict = &existing

	fetched := 0
	fetch := func(_ context.Context, id string) (*remote.Entity, error) {
		fetched++
		assert.Equal(t, "42", id)
		e := existing

		return &e, nil
	}

	got, err := Do(context.Background(), testPolicy(rs), func(context.Context) (*remote.Entity, error) {
		return nil, conflict
	}, RateLimited[*remote.Entity](), FolderConflict(fetch))

	require.NoError(t, err)
	assert.Equal(t, "42", got.ID)
	assert.Equal(t, 1, fetched)
	assert.Empty(t, rs.delays)
}

func TestFolderConflict_FetchFailurePropagates(t *testing.T) {
	existing := remote.NewFolder("42", "x", "1", "0", 0)
	conflict := remote.NewAPIError(http.StatusConflict, "item_name_in_use")
	conflict.Conflict = &existing

	fetchErr := remote.NewAPIError(http.StatusForbidden, "nope")

	_, err := Do(context.Background(), testPolicy(&recordingSleep{}), func(context.Context) (*remote.Entity, error) {
		return nil, conflict
	}, FolderConflict(func(context.Context, string) (*remote.Entity, error) {
		return nil, fetchErr
	}))

	require.Error(t, err)
	assert.ErrorIs(t, err, remote.ErrForbidden)
}

func TestFolderConflict_FileHoldsNamePropagates(t *testing.T) {
	existing := remote.NewFile("7", "x", "1", "0", "abc", 3)
	conflict := remote.NewAPIError(http.StatusConflict, "item_name_in_use")
	conflict.Conflict = &existing

	calls := 0

	_, err := Do(context.Background(), testPolicy(&recordingSleep{}), func(context.Context) (*remote.Entity, error) {
		calls++
		return nil, conflict
	}, FolderConflict(func(context.Context, string) (*remote.Entity, error) {
		t.Fatal("file conflicts must not be adopted")
		return nil, nil
	}))

	assert.Same(t, conflict, err)
	assert.Equal(t, 1, calls)
}

func TestFolderConflict_WithoutDetailsRetries(t *testing.T) {
	rs := &recordingSleep{}
	calls := 0
	want := remote.NewFolder("9", "x", "1", "0", 0)

	got, err := Do(context.Background(), testPolicy(rs), func(context.Context) (*remote.Entity, error) {
		calls++
		if calls < 3 {
			return nil, remote.NewAPIError(http.StatusConflict, "operation_blocked_temporary")
		}

		return &want, nil
	}, FolderConflict(nil))

	require.NoError(t, err)
	assert.Equal(t, "9", got.ID)
	assert.Len(t, rs.delays, 2)
}
