package fetch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeGetter struct {
	mu    sync.Mutex
	body  []byte
	err   error
	calls int
}

func (g *fakeGetter) Get(_ context.Context, _ string) ([]byte, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.body, g.err
}

// newTestRateLimited swaps the sleep for a recorder so tests never wait on
// the wall clock.
func newTestRateLimited(next Getter, cfg RateLimitedConfig) (*RateLimited, *[]time.Duration) {
	f := NewRateLimited(next, cfg, zap.NewNop())
	var sleeps []time.Duration
	f.sleep = func(_ context.Context, d time.Duration) error {
		sleeps = append(sleeps, d)
		return nil
	}
	return f, &sleeps
}

func TestRateLimited_AppliesPacingDelay(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{}`)}
	f, sleeps := newTestRateLimited(getter, RateLimitedConfig{Delay: 50 * time.Millisecond, Burst: 2})

	body, err := f.Get(context.Background(), "https://forum.test/categories.json")
	require.NoError(t, err)
	require.Equal(t, []byte(`{}`), body)
	require.Equal(t, 1, getter.calls)

	// The flat pacing sleep applies even when admission was immediate.
	require.Equal(t, []time.Duration{50 * time.Millisecond}, *sleeps)
}

func TestRateLimited_RetriesOnThrottleThenExhausts(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{}`)}
	// One token per hour: the second request can never be admitted.
	f, sleeps := newTestRateLimited(getter, RateLimitedConfig{Delay: time.Hour, Burst: 1, Retries: 3})

	_, err := f.Get(context.Background(), "https://forum.test/a")
	require.NoError(t, err)
	require.Equal(t, 1, getter.calls)

	_, err = f.Get(context.Background(), "https://forum.test/b")
	require.Error(t, err)
	require.ErrorIs(t, err, ErrThrottled)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, "https://forum.test/b", fe.URL)

	// Retry budget of 3 means three cooldown sleeps before giving up, and
	// the wrapped getter is never reached.
	require.Equal(t, 1, getter.calls)
	throttleSleeps := (*sleeps)[1:] // first entry is request a's pacing sleep
	require.Len(t, throttleSleeps, 3)
	for _, d := range throttleSleeps {
		require.Greater(t, d, time.Duration(0))
	}
}

func TestRateLimited_TransportErrorNotRetried(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{err: errors.New("connection refused")}
	f, _ := newTestRateLimited(getter, RateLimitedConfig{Delay: 10 * time.Millisecond, Burst: 5})

	_, err := f.Get(context.Background(), "https://forum.test/x")
	require.Error(t, err)
	var fe *Error
	require.ErrorAs(t, err, &fe)
	require.Equal(t, 1, getter.calls)
}

func TestRateLimited_SleepHonorsContext(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{body: []byte(`{}`)}
	f := NewRateLimited(getter, RateLimitedConfig{Delay: time.Hour, Burst: 1}, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Get(ctx, "https://forum.test/x")
	require.ErrorIs(t, err, context.Canceled)
	require.Zero(t, getter.calls)
}
