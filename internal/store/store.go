// Package store defines the persistence gateway consumed by the crawl
// engine. The interface is upsert-flavored: Create* calls are idempotent
// on the entity's natural key and return the already-stored row on a
// duplicate, which removes the check-then-insert race at the boundary.
package store

import (
	"context"
	"errors"
	"time"

	"forumharvest/internal/model"
)

// ErrNotFound is returned by Find* and Get* calls when no row matches.
var ErrNotFound = errors.New("store: not found")

// ErrUnsupported is returned by gateways that do not implement the raw
// query escape hatch.
var ErrUnsupported = errors.New("store: unsupported operation")

// ForumUpdate is a partial update of a Forum row. Nil fields are left
// untouched.
type ForumUpdate struct {
	CategoriesCrawled *bool
}

// CategoryUpdate is a partial update of a Category row.
type CategoryUpdate struct {
	PagesCrawled *bool
}

// TopicUpdate is a partial update of a Topic row.
type TopicUpdate struct {
	Full          []byte
	PostsCrawled  *bool
	LastCrawledAt *time.Time
}

// Gateway is the keyed store beneath the crawl engine. Implementations
// serialize their own writes; the engine is the sole writer within a run.
type Gateway interface {
	FindForum(ctx context.Context, url string) (*model.Forum, error)
	CreateForum(ctx context.Context, f *model.Forum) (*model.Forum, error)
	UpdateForum(ctx context.Context, id string, u ForumUpdate) error

	FindCategoriesByForum(ctx context.Context, forumID string) ([]model.Category, error)
	FindCategory(ctx context.Context, forumID string, remoteID int64) (*model.Category, error)
	CreateCategory(ctx context.Context, c *model.Category) (*model.Category, error)
	UpdateCategory(ctx context.Context, id string, u CategoryUpdate) error

	GetLastPage(ctx context.Context, categoryID string) (*model.Page, error)
	CreatePage(ctx context.Context, p *model.Page) (*model.Page, error)

	FindTopic(ctx context.Context, categoryID string, remoteID int64) (*model.Topic, error)
	CreateTopic(ctx context.Context, t *model.Topic) (*model.Topic, error)
	UpdateTopic(ctx context.Context, id string, u TopicUpdate) error
	// GetLatestTopicTimestamp returns the maximum remote creation timestamp
	// over every topic of the forum, or ErrNotFound when no topic carries one.
	GetLatestTopicTimestamp(ctx context.Context, forumID string) (time.Time, error)
	// GetTopicsByCategory returns the category's topics ordered by
	// descending remote topic id.
	GetTopicsByCategory(ctx context.Context, categoryID string) ([]model.Topic, error)

	FindPost(ctx context.Context, topicID string, remoteID int64) (*model.Post, error)
	CreatePost(ctx context.Context, p *model.Post) (*model.Post, error)
	// UpdatePostIfNewer overwrites the stored snapshot when the incoming
	// edit is newer: a strictly greater version, or a later edit timestamp.
	// It reports whether the row changed.
	UpdatePostIfNewer(ctx context.Context, id string, version int, editedAt *time.Time, raw []byte) (bool, error)

	// ResetCrawledState clears every crawled flag under one forum
	// atomically: categoriesCrawled, pagesCrawled, postsCrawled and
	// lastCrawledAt. Entities under other forums are untouched.
	ResetCrawledState(ctx context.Context, forumID string) error

	// Query is a parameterized escape hatch for ad-hoc reads. Gateways
	// without a SQL backend return ErrUnsupported.
	Query(ctx context.Context, query string, args ...any) ([]map[string]any, error)

	Close() error
}
