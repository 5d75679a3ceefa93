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

// batchSize bounds how many post ids one batch request may carry.
const batchSize = 20

// Collector fetches and reconciles every post of one topic: the primary
// topic document yields an initial post batch plus the full post-id
// manifest, and the remainder is pulled in bounded batches.
type Collector struct {
	gw       store.Gateway
	getter   fetch.Getter
	logger   *zap.Logger
	reporter *progress.Reporter
	now      func() time.Time
}

// NewCollector builds a Collector. now defaults to time.Now.
func NewCollector(gw store.Gateway, getter fetch.Getter, logger *zap.Logger, reporter *progress.Reporter, now func() time.Time) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &Collector{gw: gw, getter: getter, logger: logger, reporter: reporter, now: now}
}

// Collect fetches the topic document and every remaining post batch,
// reconciling each post against the store. The topic is stamped
// lastCrawledAt and marked posts-done only after the whole sequence
// completes, so an interrupted topic is retried from scratch next run.
func (c *Collector) Collect(ctx context.Context, f *model.Forum, topic *model.Topic, fullCrawl bool) error {
	body, err := c.getter.Get(ctx, forum.TopicDocURL(f.URL, topic.RemoteID))
	if err != nil {
		return fmt.Errorf("topic %d: %w", topic.RemoteID, err)
	}
	doc, err := forum.ParseTopicDocument(body)
	if err != nil {
		return fmt.Errorf("topic %d: %w", topic.RemoteID, err)
	}
	if err := c.gw.UpdateTopic(ctx, topic.ID, store.TopicUpdate{Full: body}); err != nil {
		return fmt.Errorf("topic %d: persist snapshot: %w", topic.RemoteID, err)
	}

	created, updated, err := c.reconcile(ctx, topic, doc.Posts, fullCrawl)
	if err != nil {
		return err
	}

	// The manifest minus the posts the document already delivered.
	remaining := doc.Stream
	if n := len(doc.Posts); n < len(remaining) {
		remaining = remaining[n:]
	} else {
		remaining = nil
	}

	for len(remaining) > 0 {
		ids := remaining
		if len(ids) > batchSize {
			ids = ids[:batchSize]
		}
		batchBody, err := c.getter.Get(ctx, forum.PostBatchURL(f.URL, topic.RemoteID, ids))
		if err != nil {
			return fmt.Errorf("topic %d post batch: %w", topic.RemoteID, err)
		}
		posts, err := forum.ParsePostBatch(batchBody)
		if err != nil {
			return fmt.Errorf("topic %d post batch: %w", topic.RemoteID, err)
		}
		if len(posts) == 0 {
			return &forum.MalformedError{Doc: "post batch", Reason: fmt.Sprintf("no posts present for %d requested ids", len(ids))}
		}
		bc, bu, err := c.reconcile(ctx, topic, posts, fullCrawl)
		if err != nil {
			return err
		}
		created += bc
		updated += bu

		// Advance by the count the server reported present, not by the
		// requested batch size; partial batches must not skip ids and
		// duplicate batches must not loop forever.
		advance := len(posts)
		if advance > len(remaining) {
			advance = len(remaining)
		}
		remaining = remaining[advance:]
	}

	now := c.now().UTC()
	update := store.TopicUpdate{LastCrawledAt: &now}
	if !topic.PostsCrawled {
		crawled := true
		update.PostsCrawled = &crawled
	}
	if err := c.gw.UpdateTopic(ctx, topic.ID, update); err != nil {
		return fmt.Errorf("topic %d: mark posts-done: %w", topic.RemoteID, err)
	}

	c.logger.Info("topic collected",
		zap.Int64("topic", topic.RemoteID),
		zap.Int("posts_created", created),
		zap.Int("posts_updated", updated),
	)
	c.emitPostCounts(f.URL, topic, created, updated)
	return nil
}

func (c *Collector) emitPostCounts(forumURL string, topic *model.Topic, created, updated int) {
	entity := fmt.Sprintf("t/%d", topic.RemoteID)
	if created > 0 {
		c.reporter.Emit(progress.Event{
			Stage:  progress.StagePostCreated,
			Forum:  forumURL,
			Entity: entity,
			Count:  int64(created),
		})
	}
	if updated > 0 {
		c.reporter.Emit(progress.Event{
			Stage:  progress.StagePostUpdated,
			Forum:  forumURL,
			Entity: entity,
			Count:  int64(updated),
		})
	}
}

// reconcile applies the per-post rule to one batch. New posts are created;
// known posts are overwritten only when the incoming edit is newer, and
// under full-crawl mode existing posts are left untouched entirely.
func (c *Collector) reconcile(ctx context.Context, topic *model.Topic, posts []forum.PostRef, fullCrawl bool) (created, updated int, err error) {
	for _, ref := range posts {
		existing, err := c.gw.FindPost(ctx, topic.ID, ref.ID)
		switch {
		case errors.Is(err, store.ErrNotFound):
			if _, err := c.gw.CreatePost(ctx, &model.Post{
				TopicID:  topic.ID,
				RemoteID: ref.ID,
				Version:  ref.Version,
				EditedAt: ref.UpdatedAt,
				Raw:      ref.Raw,
			}); err != nil {
				return created, updated, fmt.Errorf("create post %d: %w", ref.ID, err)
			}
			created++
		case err != nil:
			return created, updated, fmt.Errorf("find post %d: %w", ref.ID, err)
		case !fullCrawl:
			changed, err := c.gw.UpdatePostIfNewer(ctx, existing.ID, ref.Version, ref.UpdatedAt, ref.Raw)
			if err != nil {
				return created, updated, fmt.Errorf("update post %d: %w", ref.ID, err)
			}
			if changed {
				updated++
			}
		}
	}
	return created, updated, nil
}
