// Package memory provides an in-memory store.Gateway. It backs engine
// tests and local experiments where no database file is wanted.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"forumharvest/internal/model"
	"forumharvest/internal/store"
)

// Store is a mutex-guarded in-memory Gateway.
type Store struct {
	mu         sync.Mutex
	forums     map[string]*model.Forum
	categories map[string]*model.Category
	pages      map[string]*model.Page
	topics     map[string]*model.Topic
	posts      map[string]*model.Post
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		forums:     make(map[string]*model.Forum),
		categories: make(map[string]*model.Category),
		pages:      make(map[string]*model.Page),
		topics:     make(map[string]*model.Topic),
		posts:      make(map[string]*model.Post),
	}
}

// Close implements store.Gateway; it performs no action.
func (s *Store) Close() error { return nil }

// FindForum looks up a forum by base URL.
func (s *Store) FindForum(_ context.Context, url string) (*model.Forum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range s.forums {
		if f.URL == url {
			cp := *f
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateForum inserts a forum, returning the existing row for a known URL.
func (s *Store) CreateForum(_ context.Context, f *model.Forum) (*model.Forum, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.forums {
		if existing.URL == f.URL {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *f
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.forums[cp.ID] = &cp
	out := cp
	return &out, nil
}

// UpdateForum applies a partial update.
func (s *Store) UpdateForum(_ context.Context, id string, u store.ForumUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forums[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.CategoriesCrawled != nil {
		f.CategoriesCrawled = *u.CategoriesCrawled
	}
	return nil
}

// FindCategoriesByForum lists a forum's categories ordered by remote id.
func (s *Store) FindCategoriesByForum(_ context.Context, forumID string) ([]model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Category
	for _, c := range s.categories {
		if c.ForumID == forumID {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID < out[j].RemoteID })
	return out, nil
}

// FindCategory looks up a category by natural key.
func (s *Store) FindCategory(_ context.Context, forumID string, remoteID int64) (*model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findCategoryLocked(forumID, remoteID)
}

func (s *Store) findCategoryLocked(forumID string, remoteID int64) (*model.Category, error) {
	for _, c := range s.categories {
		if c.ForumID == forumID && c.RemoteID == remoteID {
			cp := *c
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateCategory inserts a category, returning the existing row on a
// duplicate natural key.
func (s *Store) CreateCategory(_ context.Context, c *model.Category) (*model.Category, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, err := s.findCategoryLocked(c.ForumID, c.RemoteID); err == nil {
		return existing, nil
	}
	cp := *c
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.categories[cp.ID] = &cp
	out := cp
	return &out, nil
}

// UpdateCategory applies a partial update.
func (s *Store) UpdateCategory(_ context.Context, id string, u store.CategoryUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.categories[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.PagesCrawled != nil {
		c.PagesCrawled = *u.PagesCrawled
	}
	return nil
}

// GetLastPage returns the highest-numbered page of a category.
func (s *Store) GetLastPage(_ context.Context, categoryID string) (*model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.Page
	for _, p := range s.pages {
		if p.CategoryID != categoryID {
			continue
		}
		if last == nil || p.Number > last.Number {
			last = p
		}
	}
	if last == nil {
		return nil, store.ErrNotFound
	}
	cp := *last
	return &cp, nil
}

// CreatePage inserts a page; duplicate (category, number) pairs are no-ops.
func (s *Store) CreatePage(_ context.Context, p *model.Page) (*model.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.pages {
		if existing.CategoryID == p.CategoryID && existing.Number == p.Number {
			cp := *existing
			return &cp, nil
		}
	}
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.pages[cp.ID] = &cp
	out := cp
	return &out, nil
}

// FindTopic looks up a topic by natural key.
func (s *Store) FindTopic(_ context.Context, categoryID string, remoteID int64) (*model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findTopicLocked(categoryID, remoteID)
}

func (s *Store) findTopicLocked(categoryID string, remoteID int64) (*model.Topic, error) {
	for _, t := range s.topics {
		if t.CategoryID == categoryID && t.RemoteID == remoteID {
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreateTopic inserts a topic, returning the existing row on a duplicate
// natural key.
func (s *Store) CreateTopic(_ context.Context, t *model.Topic) (*model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, err := s.findTopicLocked(t.CategoryID, t.RemoteID); err == nil {
		return existing, nil
	}
	cp := *t
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.topics[cp.ID] = &cp
	out := cp
	return &out, nil
}

// UpdateTopic applies a partial update.
func (s *Store) UpdateTopic(_ context.Context, id string, u store.TopicUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.topics[id]
	if !ok {
		return store.ErrNotFound
	}
	if u.Full != nil {
		t.Full = append([]byte(nil), u.Full...)
	}
	if u.PostsCrawled != nil {
		t.PostsCrawled = *u.PostsCrawled
	}
	if u.LastCrawledAt != nil {
		at := *u.LastCrawledAt
		t.LastCrawledAt = &at
	}
	return nil
}

// GetLatestTopicTimestamp returns the newest topic creation time under the
// forum.
func (s *Store) GetLatestTopicTimestamp(_ context.Context, forumID string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest time.Time
	for _, t := range s.topics {
		c, ok := s.categories[t.CategoryID]
		if !ok || c.ForumID != forumID {
			continue
		}
		if t.CreatedAt.After(latest) {
			latest = t.CreatedAt
		}
	}
	if latest.IsZero() {
		return time.Time{}, store.ErrNotFound
	}
	return latest, nil
}

// GetTopicsByCategory lists topics by descending remote id.
func (s *Store) GetTopicsByCategory(_ context.Context, categoryID string) ([]model.Topic, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Topic
	for _, t := range s.topics {
		if t.CategoryID == categoryID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RemoteID > out[j].RemoteID })
	return out, nil
}

// FindPost looks up a post by natural key.
func (s *Store) FindPost(_ context.Context, topicID string, remoteID int64) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.findPostLocked(topicID, remoteID)
}

func (s *Store) findPostLocked(topicID string, remoteID int64) (*model.Post, error) {
	for _, p := range s.posts {
		if p.TopicID == topicID && p.RemoteID == remoteID {
			cp := *p
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

// CreatePost inserts a post, returning the existing row on a duplicate
// natural key.
func (s *Store) CreatePost(_ context.Context, p *model.Post) (*model.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, err := s.findPostLocked(p.TopicID, p.RemoteID); err == nil {
		return existing, nil
	}
	cp := *p
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.posts[cp.ID] = &cp
	out := cp
	return &out, nil
}

// UpdatePostIfNewer overwrites the snapshot when the incoming edit is
// newer, mirroring the SQL gateway's guarded update.
func (s *Store) UpdatePostIfNewer(_ context.Context, id string, version int, editedAt *time.Time, raw []byte) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.posts[id]
	if !ok {
		return false, store.ErrNotFound
	}
	newer := version > p.Version
	if !newer && editedAt != nil {
		newer = p.EditedAt == nil || editedAt.After(*p.EditedAt)
	}
	if !newer {
		return false, nil
	}
	p.Version = version
	if editedAt != nil {
		at := *editedAt
		p.EditedAt = &at
	}
	p.Raw = append([]byte(nil), raw...)
	return true, nil
}

// ResetCrawledState clears crawled flags under one forum.
func (s *Store) ResetCrawledState(_ context.Context, forumID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	f, ok := s.forums[forumID]
	if !ok {
		return store.ErrNotFound
	}
	f.CategoriesCrawled = false
	for _, c := range s.categories {
		if c.ForumID != forumID {
			continue
		}
		c.PagesCrawled = false
		for _, t := range s.topics {
			if t.CategoryID == c.ID {
				t.PostsCrawled = false
				t.LastCrawledAt = nil
			}
		}
	}
	return nil
}

// Query is unsupported on the in-memory gateway.
func (s *Store) Query(context.Context, string, ...any) ([]map[string]any, error) {
	return nil, store.ErrUnsupported
}

// PostCount reports how many posts are stored; test helper.
func (s *Store) PostCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posts)
}

// PageCount reports how many pages are stored; test helper.
func (s *Store) PageCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pages)
}
