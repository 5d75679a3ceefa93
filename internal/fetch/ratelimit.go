package fetch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrThrottled marks a request denied by the token bucket. It is the cause
// carried by the Error raised when the retry budget runs out.
var ErrThrottled = errors.New("rate limit bucket empty")

const (
	// DefaultDelay is the minimum interval between consecutive requests.
	DefaultDelay = 500 * time.Millisecond
	// DefaultRetries bounds how often a throttled request is re-admitted.
	DefaultRetries = 3

	fallbackCooldown = time.Minute
)

// RateLimitedConfig controls the RateLimited wrapper.
type RateLimitedConfig struct {
	// Delay is the minimum inter-request interval; it doubles as the flat
	// pacing sleep applied after every admission.
	Delay time.Duration
	// Burst is the token bucket capacity.
	Burst int
	// Retries is the throttle retry budget.
	Retries int
}

// RateLimited wraps a Getter with token-bucket admission plus a flat
// pacing delay. Retry applies strictly to bucket denial; transport errors
// surface immediately.
type RateLimited struct {
	next    Getter
	limiter *rate.Limiter
	cfg     RateLimitedConfig
	logger  *zap.Logger

	// sleep is swappable so tests run without wall-clock waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewRateLimited builds the wrapper around next.
func NewRateLimited(next Getter, cfg RateLimitedConfig, logger *zap.Logger) *RateLimited {
	if cfg.Delay <= 0 {
		cfg.Delay = DefaultDelay
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.Retries <= 0 {
		cfg.Retries = DefaultRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(cfg.Delay), cfg.Burst),
		cfg:     cfg,
		logger:  logger,
		sleep:   sleepCtx,
	}
}

// Get admits the request through the bucket, applies the pacing delay, and
// delegates to the wrapped Getter.
func (f *RateLimited) Get(ctx context.Context, url string) ([]byte, error) {
	if err := f.admit(ctx, url); err != nil {
		return nil, err
	}
	if err := f.sleep(ctx, f.cfg.Delay); err != nil {
		return nil, &Error{URL: url, Err: err}
	}
	body, err := f.next.Get(ctx, url)
	if err != nil {
		f.logger.Error("fetch failed",
			zap.String("url", url),
			zap.Error(err),
		)
		var fe *Error
		if errors.As(err, &fe) {
			return nil, err
		}
		return nil, &Error{URL: url, Err: err}
	}
	return body, nil
}

func (f *RateLimited) admit(ctx context.Context, url string) error {
	for attempt := 0; ; attempt++ {
		if f.limiter.Allow() {
			return nil
		}
		if attempt >= f.cfg.Retries {
			f.logger.Error("rate limit retry budget exhausted",
				zap.String("url", url),
				zap.Int("retries", f.cfg.Retries),
			)
			return &Error{URL: url, Err: fmt.Errorf("%d retries exhausted: %w", f.cfg.Retries, ErrThrottled)}
		}
		cooldown := f.cooldown()
		f.logger.Warn("throttled by rate limit bucket",
			zap.String("url", url),
			zap.Duration("cooldown", cooldown),
			zap.Int("retries_remaining", f.cfg.Retries-attempt),
		)
		if err := f.sleep(ctx, cooldown); err != nil {
			return &Error{URL: url, Err: err}
		}
	}
}

// cooldown asks the bucket how long until the next token; the reservation
// is cancelled so the probe itself consumes nothing.
func (f *RateLimited) cooldown() time.Duration {
	r := f.limiter.Reserve()
	d := r.Delay()
	r.Cancel()
	if d <= 0 {
		return fallbackCooldown
	}
	return d
}
