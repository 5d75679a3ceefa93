// Package crawl implements the incremental crawl engine: the orchestrator
// state machine, the pagination walker and the topic post collector. All
// remote I/O flows through a fetch.Getter and all durable state through a
// store.Gateway, both passed in as collaborators.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"forumharvest/internal/fetch"
	"forumharvest/internal/forum"
	"forumharvest/internal/model"
	"forumharvest/internal/progress"
	"forumharvest/internal/store"
)

// Options configures one crawl run.
type Options struct {
	// FullCrawl disregards every local crawled flag and re-walks the
	// whole hierarchy. Post edit comparison is skipped under full crawl.
	FullCrawl bool
	// Since bounds both remote listing queries and local topic skip
	// decisions.
	Since *time.Time
	// RateLimit is the minimum interval between requests (default 500ms).
	RateLimit time.Duration
	// Burst is the fetch token bucket capacity.
	Burst int
	// Retries is the throttle retry budget.
	Retries int
	// UserAgent identifies the crawler to the remote service.
	UserAgent string
	// HTTPTimeout bounds each request.
	HTTPTimeout time.Duration
}

// Orchestrator drives one crawl run: forum resolution, category discovery,
// pagination walking and post collection, respecting per-entity crawled
// flags and the optional since-date cutoff. Failures local to one category
// or topic are logged and isolated; failures during forum resolution or
// first-time category discovery abort the run.
type Orchestrator struct {
	gw        store.Gateway
	getter    fetch.Getter
	url       string
	opts      Options
	logger    *zap.Logger
	reporter  *progress.Reporter
	walker    *Walker
	collector *Collector
}

// NewOrchestrator builds an Orchestrator over explicit collaborators.
// now defaults to time.Now and feeds the lastCrawledAt stamps.
func NewOrchestrator(gw store.Gateway, getter fetch.Getter, url string, opts Options, logger *zap.Logger, reporter *progress.Reporter, now func() time.Time) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		gw:        gw,
		getter:    getter,
		url:       url,
		opts:      opts,
		logger:    logger,
		reporter:  reporter,
		walker:    NewWalker(gw, getter, logger, reporter),
		collector: NewCollector(gw, getter, logger, reporter, now),
	}
}

// Crawl executes one run. It returns an error only on run-aborting
// failures; per-category and per-topic failures leave the entity in its
// prior not-done state and the run continues.
func (o *Orchestrator) Crawl(ctx context.Context) error {
	o.reporter.Emit(progress.Event{Stage: progress.StageRunStart, Forum: o.url})
	if err := o.run(ctx); err != nil {
		o.reporter.Emit(progress.Event{Stage: progress.StageRunError, Forum: o.url, Note: err.Error()})
		return err
	}
	o.reporter.Emit(progress.Event{Stage: progress.StageRunDone, Forum: o.url})
	return nil
}

func (o *Orchestrator) run(ctx context.Context) error {
	f, err := o.resolveForum(ctx)
	if err != nil {
		return err
	}

	if o.opts.FullCrawl {
		if err := o.gw.ResetCrawledState(ctx, f.ID); err != nil {
			return fmt.Errorf("reset crawled state: %w", err)
		}
		f.CategoriesCrawled = false
		o.logger.Info("crawled flags reset for full crawl", zap.String("forum", f.URL))
	}

	if !f.CategoriesCrawled {
		if err := o.discoverCategories(ctx, f); err != nil {
			return fmt.Errorf("discover categories: %w", err)
		}
	}

	cutoff, err := o.effectiveCutoff(ctx, f)
	if err != nil {
		return err
	}

	categories, err := o.gw.FindCategoriesByForum(ctx, f.ID)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}

	for i := range categories {
		cat := &categories[i]
		if cat.PagesCrawled && !o.opts.FullCrawl {
			continue
		}
		if err := o.walker.Walk(ctx, f, cat, cutoff); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("category walk failed",
				zap.String("category", cat.Slug),
				zap.Int64("remote_id", cat.RemoteID),
				zap.Error(err),
			)
		}
	}

	for i := range categories {
		cat := &categories[i]
		if err := o.collectCategoryTopics(ctx, f, cat); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("category post collection failed",
				zap.String("category", cat.Slug),
				zap.Int64("remote_id", cat.RemoteID),
				zap.Error(err),
			)
		}
	}
	return nil
}

// resolveForum loads or creates the forum row for the target URL. Failure
// here is fatal: no further progress is meaningful without it.
func (o *Orchestrator) resolveForum(ctx context.Context) (*model.Forum, error) {
	f, err := o.gw.FindForum(ctx, o.url)
	if errors.Is(err, store.ErrNotFound) {
		f, err = o.gw.CreateForum(ctx, &model.Forum{URL: o.url})
	}
	if err != nil {
		return nil, fmt.Errorf("resolve forum %s: %w", o.url, err)
	}
	return f, nil
}

// discoverCategories fetches the categories listing once, creates a row per
// listed category and marks the forum categories-done. Malformed listings
// abort the step.
func (o *Orchestrator) discoverCategories(ctx context.Context, f *model.Forum) error {
	body, err := o.getter.Get(ctx, forum.CategoriesURL(f.URL))
	if err != nil {
		return err
	}
	refs, err := forum.ParseCategoryList(body)
	if err != nil {
		return err
	}
	for _, ref := range refs {
		if _, err := o.gw.CreateCategory(ctx, &model.Category{
			ForumID:  f.ID,
			RemoteID: ref.ID,
			Name:     ref.Name,
			Slug:     ref.Slug,
			TopicURL: ref.TopicURL,
			Raw:      ref.Raw,
		}); err != nil {
			return fmt.Errorf("persist category %d: %w", ref.ID, err)
		}
	}
	crawled := true
	if err := o.gw.UpdateForum(ctx, f.ID, store.ForumUpdate{CategoriesCrawled: &crawled}); err != nil {
		return fmt.Errorf("mark forum categories-done: %w", err)
	}
	f.CategoriesCrawled = true
	o.logger.Info("categories discovered",
		zap.String("forum", f.URL),
		zap.Int("count", len(refs)),
	)
	return nil
}

// effectiveCutoff picks the date bounding remote listing queries: the
// explicit since-date when given, otherwise the newest topic creation
// timestamp already stored for this forum. Full crawls re-walk everything,
// so the stored-timestamp fallback does not apply to them.
func (o *Orchestrator) effectiveCutoff(ctx context.Context, f *model.Forum) (*time.Time, error) {
	if o.opts.Since != nil {
		return o.opts.Since, nil
	}
	if o.opts.FullCrawl {
		return nil, nil
	}
	latest, err := o.gw.GetLatestTopicTimestamp(ctx, f.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest topic timestamp: %w", err)
	}
	return &latest, nil
}

func (o *Orchestrator) collectCategoryTopics(ctx context.Context, f *model.Forum, cat *model.Category) error {
	topics, err := o.gw.GetTopicsByCategory(ctx, cat.ID)
	if err != nil {
		return fmt.Errorf("list topics of category %d: %w", cat.RemoteID, err)
	}
	for i := range topics {
		topic := &topics[i]
		if o.skipTopic(topic) {
			o.reporter.Emit(progress.Event{
				Stage:  progress.StageTopicSkipped,
				Forum:  f.URL,
				Entity: fmt.Sprintf("t/%d", topic.RemoteID),
			})
			continue
		}
		if err := o.collector.Collect(ctx, f, topic, o.opts.FullCrawl); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			o.logger.Warn("topic collection failed",
				zap.Int64("topic", topic.RemoteID),
				zap.String("category", cat.Slug),
				zap.Error(err),
			)
			o.reporter.Emit(progress.Event{
				Stage:  progress.StageTopicError,
				Forum:  f.URL,
				Entity: fmt.Sprintf("t/%d", topic.RemoteID),
				Note:   err.Error(),
			})
			continue
		}
		o.reporter.Emit(progress.Event{
			Stage:  progress.StageTopicDone,
			Forum:  f.URL,
			Entity: fmt.Sprintf("t/%d", topic.RemoteID),
		})
	}
	return nil
}

// skipTopic applies the local skip rule: an already-collected topic is
// skipped unless a full crawl was requested or a since-date requires a
// re-visit of topics last crawled before it.
func (o *Orchestrator) skipTopic(t *model.Topic) bool {
	if !t.PostsCrawled || o.opts.FullCrawl {
		return false
	}
	if o.opts.Since == nil {
		return true
	}
	return t.LastCrawledAt != nil && !t.LastCrawledAt.Before(*o.opts.Since)
}
