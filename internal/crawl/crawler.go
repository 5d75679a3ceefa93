package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"forumharvest/internal/fetch"
	"forumharvest/internal/progress"
	"forumharvest/internal/store"
	"forumharvest/internal/store/sqlite"
)

// Crawler bundles a gateway, a rate-limited fetcher and an orchestrator
// into the exposed crawl API: build it once per target, call Crawl for
// each run, Close when finished.
type Crawler struct {
	gw   store.Gateway
	orch *Orchestrator
}

// New opens (or creates) the store at storagePath and wires the crawl
// engine for the forum at url.
func New(url, storagePath string, opts Options, logger *zap.Logger, reporter *progress.Reporter) (*Crawler, error) {
	if url == "" {
		return nil, fmt.Errorf("forum url is required")
	}
	if storagePath == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	gw, err := sqlite.Open(storagePath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	getter := fetch.NewRateLimited(
		fetch.NewCollyGetter(fetch.CollyConfig{
			UserAgent: opts.UserAgent,
			Timeout:   opts.HTTPTimeout,
		}),
		fetch.RateLimitedConfig{
			Delay:   opts.RateLimit,
			Burst:   opts.Burst,
			Retries: opts.Retries,
		},
		logger,
	)
	return &Crawler{
		gw:   gw,
		orch: NewOrchestrator(gw, getter, url, opts, logger, reporter, nil),
	}, nil
}

// Crawl executes one run against the target forum.
func (c *Crawler) Crawl(ctx context.Context) error {
	return c.orch.Crawl(ctx)
}

// Close releases the underlying store.
func (c *Crawler) Close() error {
	return c.gw.Close()
}
