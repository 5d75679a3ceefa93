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

// Walker enumerates the listing pages of one category until the server
// reports no further page, persisting topics as they are discovered.
// Pages form a strictly increasing sequence starting at 0; the cursor from
// page N is required to request page N+1, so walking is sequential by
// construction.
type Walker struct {
	gw       store.Gateway
	getter   fetch.Getter
	logger   *zap.Logger
	reporter *progress.Reporter
}

// NewWalker builds a Walker over the given collaborators.
func NewWalker(gw store.Gateway, getter fetch.Getter, logger *zap.Logger, reporter *progress.Reporter) *Walker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Walker{gw: gw, getter: getter, logger: logger, reporter: reporter}
}

// Walk fetches every remaining listing page of the category, resuming from
// the last stored page. On termination it marks the category pages-done.
// cutoff, when set, bounds the remote query through an after= parameter.
func (w *Walker) Walk(ctx context.Context, f *model.Forum, cat *model.Category, cutoff *time.Time) error {
	for {
		url, number, done, err := w.nextRequest(ctx, f, cat)
		if err != nil {
			return err
		}
		if done {
			break
		}
		if cutoff != nil {
			if url, err = forum.AppendAfter(url, *cutoff); err != nil {
				return err
			}
		}

		body, err := w.getter.Get(ctx, url)
		if err != nil {
			return fmt.Errorf("listing page %d: %w", number, err)
		}
		page, err := forum.ParseTopicPage(body)
		if err != nil {
			return fmt.Errorf("listing page %d: %w", number, err)
		}

		for _, ref := range page.Topics {
			if _, err := w.gw.CreateTopic(ctx, &model.Topic{
				CategoryID: cat.ID,
				RemoteID:   ref.ID,
				Title:      ref.Title,
				CreatedAt:  ref.CreatedAt,
				Excerpt:    ref.Raw,
			}); err != nil {
				return fmt.Errorf("persist topic %d: %w", ref.ID, err)
			}
		}
		if _, err := w.gw.CreatePage(ctx, &model.Page{
			CategoryID:       cat.ID,
			Number:           number,
			MoreTopicsCursor: page.MoreTopicsURL,
			Raw:              body,
		}); err != nil {
			return fmt.Errorf("persist page %d: %w", number, err)
		}

		w.logger.Debug("listing page stored",
			zap.String("category", cat.Slug),
			zap.Int("page", number),
			zap.Int("topics", len(page.Topics)),
			zap.Bool("more", page.MoreTopicsURL != ""),
		)
		w.reporter.Emit(progress.Event{
			Stage:  progress.StagePageFetched,
			Forum:  f.URL,
			Entity: cat.Slug,
			Count:  int64(len(page.Topics)),
		})

		if page.MoreTopicsURL == "" {
			break
		}
	}

	crawled := true
	if err := w.gw.UpdateCategory(ctx, cat.ID, store.CategoryUpdate{PagesCrawled: &crawled}); err != nil {
		return fmt.Errorf("mark category pages-done: %w", err)
	}
	w.reporter.Emit(progress.Event{
		Stage:  progress.StageCategoryDone,
		Forum:  f.URL,
		Entity: cat.Slug,
	})
	return nil
}

// nextRequest decides the URL and number of the next page to fetch.
// done is true when the last stored page already carries no cursor, i.e.
// a previous run finished the walk before marking the category.
func (w *Walker) nextRequest(ctx context.Context, f *model.Forum, cat *model.Category) (url string, number int, done bool, err error) {
	last, err := w.gw.GetLastPage(ctx, cat.ID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		url, err = forum.ResolveListing(f.URL, cat.TopicURL)
		if err != nil {
			return "", 0, false, err
		}
		return url, 0, false, nil
	case err != nil:
		return "", 0, false, fmt.Errorf("load last page: %w", err)
	case last.MoreTopicsCursor == "":
		return "", 0, true, nil
	default:
		url, err = forum.ResolveListing(f.URL, last.MoreTopicsCursor)
		if err != nil {
			return "", 0, false, err
		}
		return url, last.Number + 1, false, nil
	}
}
