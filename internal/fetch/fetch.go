// Package fetch provides the single-request JSON fetch primitive used by
// the crawl engine: a Getter interface, a colly-backed transport, and a
// rate-limited wrapper with bounded retry on throttling.
package fetch

import (
	"context"
	"fmt"
	"time"
)

// Getter fetches a URL and returns the raw response body.
type Getter interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Error wraps any transport failure or retry exhaustion. It is never
// swallowed at the fetch layer.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// sleepCtx pauses for d or until the context finishes, whichever is first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
