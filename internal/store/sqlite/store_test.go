package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"forumharvest/internal/model"
	"forumharvest/internal/store"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "harvest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func seedForum(t *testing.T, s *Store, url string) *model.Forum {
	t.Helper()
	f, err := s.CreateForum(context.Background(), &model.Forum{URL: url})
	require.NoError(t, err)
	return f
}

func seedCategory(t *testing.T, s *Store, forumID string, remoteID int64) *model.Category {
	t.Helper()
	c, err := s.CreateCategory(context.Background(), &model.Category{
		ForumID:  forumID,
		RemoteID: remoteID,
		Slug:     "general",
		TopicURL: "/c/general/5",
	})
	require.NoError(t, err)
	return c
}

func TestCreateForum_IdempotentOnURL(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	first, err := s.CreateForum(ctx, &model.Forum{URL: "https://forum.test"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ID)

	second, err := s.CreateForum(ctx, &model.Forum{URL: "https://forum.test"})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
}

func TestFindForum_NotFound(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)

	_, err := s.FindForum(context.Background(), "https://nowhere.test")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestCreateCategory_IdempotentOnNaturalKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")

	first := seedCategory(t, s, f.ID, 5)
	second, err := s.CreateCategory(ctx, &model.Category{ForumID: f.ID, RemoteID: 5})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	cats, err := s.FindCategoriesByForum(ctx, f.ID)
	require.NoError(t, err)
	require.Len(t, cats, 1)
}

func TestPages_LastPageAndUniqueNumbers(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)

	_, err := s.GetLastPage(ctx, c.ID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.CreatePage(ctx, &model.Page{CategoryID: c.ID, Number: 0, MoreTopicsCursor: "/c/general/5?page=1", Raw: []byte(`{"p":0}`)})
	require.NoError(t, err)
	_, err = s.CreatePage(ctx, &model.Page{CategoryID: c.ID, Number: 1, Raw: []byte(`{"p":1}`)})
	require.NoError(t, err)

	last, err := s.GetLastPage(ctx, c.ID)
	require.NoError(t, err)
	require.Equal(t, 1, last.Number)
	require.Empty(t, last.MoreTopicsCursor)
	require.JSONEq(t, `{"p":1}`, string(last.Raw))
}

func TestTopics_OrderingAndLatestTimestamp(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)

	older := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := time.Date(2023, 7, 1, 0, 0, 0, 0, time.UTC)
	_, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101, CreatedAt: older})
	require.NoError(t, err)
	_, err = s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 202, CreatedAt: newer})
	require.NoError(t, err)

	topics, err := s.GetTopicsByCategory(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, topics, 2)
	require.Equal(t, int64(202), topics[0].RemoteID, "descending remote id order")

	latest, err := s.GetLatestTopicTimestamp(ctx, f.ID)
	require.NoError(t, err)
	require.True(t, latest.Equal(newer))
}

func TestGetLatestTopicTimestamp_EmptyForum(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	f := seedForum(t, s, "https://forum.test")

	_, err := s.GetLatestTopicTimestamp(context.Background(), f.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestUpdateTopic_PartialFields(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)
	topic, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101})
	require.NoError(t, err)

	crawled := true
	at := time.Date(2023, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.UpdateTopic(ctx, topic.ID, store.TopicUpdate{
		Full:          []byte(`{"id":101}`),
		PostsCrawled:  &crawled,
		LastCrawledAt: &at,
	}))

	got, err := s.FindTopic(ctx, c.ID, 101)
	require.NoError(t, err)
	require.True(t, got.PostsCrawled)
	require.NotNil(t, got.LastCrawledAt)
	require.True(t, got.LastCrawledAt.Equal(at))
	require.JSONEq(t, `{"id":101}`, string(got.Full))
}

func TestUpdatePostIfNewer_VersionRules(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)
	topic, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101})
	require.NoError(t, err)

	post, err := s.CreatePost(ctx, &model.Post{TopicID: topic.ID, RemoteID: 1, Version: 2, Raw: []byte(`{"v":2}`)})
	require.NoError(t, err)

	// A lower version must not overwrite.
	changed, err := s.UpdatePostIfNewer(ctx, post.ID, 1, nil, []byte(`{"v":1}`))
	require.NoError(t, err)
	require.False(t, changed)

	// A strictly greater version wins.
	changed, err = s.UpdatePostIfNewer(ctx, post.ID, 3, nil, []byte(`{"v":3}`))
	require.NoError(t, err)
	require.True(t, changed)

	got, err := s.FindPost(ctx, topic.ID, 1)
	require.NoError(t, err)
	require.Equal(t, 3, got.Version)
	require.JSONEq(t, `{"v":3}`, string(got.Raw))

	// Equal version, later edit timestamp wins over a stored row without one.
	edited := time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)
	changed, err = s.UpdatePostIfNewer(ctx, post.ID, 3, &edited, []byte(`{"v":3,"edited":true}`))
	require.NoError(t, err)
	require.True(t, changed)

	// Same version and an older-or-equal timestamp is discarded.
	changed, err = s.UpdatePostIfNewer(ctx, post.ID, 3, &edited, []byte(`{"v":3,"again":true}`))
	require.NoError(t, err)
	require.False(t, changed)
}

func TestUpdatePostIfNewer_SubsecondTimestamps(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)
	topic, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101})
	require.NoError(t, err)

	whole := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	halfSecond := whole.Add(500 * time.Millisecond)

	post, err := s.CreatePost(ctx, &model.Post{TopicID: topic.ID, RemoteID: 1, Version: 1, EditedAt: &whole, Raw: []byte(`{"ts":"whole"}`)})
	require.NoError(t, err)

	// Half a second later must win over the whole-second snapshot.
	changed, err := s.UpdatePostIfNewer(ctx, post.ID, 1, &halfSecond, []byte(`{"ts":"half"}`))
	require.NoError(t, err)
	require.True(t, changed)

	// And the stale whole-second edit must not claw back the fresher one.
	changed, err = s.UpdatePostIfNewer(ctx, post.ID, 1, &whole, []byte(`{"ts":"stale"}`))
	require.NoError(t, err)
	require.False(t, changed)

	got, err := s.FindPost(ctx, topic.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, got.EditedAt)
	require.True(t, got.EditedAt.Equal(halfSecond))
	require.JSONEq(t, `{"ts":"half"}`, string(got.Raw))
}

func TestGetLatestTopicTimestamp_SubsecondPrecision(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)

	whole := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	halfSecond := whole.Add(500 * time.Millisecond)
	_, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101, CreatedAt: whole})
	require.NoError(t, err)
	_, err = s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 202, CreatedAt: halfSecond})
	require.NoError(t, err)

	latest, err := s.GetLatestTopicTimestamp(ctx, f.ID)
	require.NoError(t, err)
	require.True(t, latest.Equal(halfSecond))
}

func TestCreatePost_IdempotentOnNaturalKey(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	f := seedForum(t, s, "https://forum.test")
	c := seedCategory(t, s, f.ID, 5)
	topic, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c.ID, RemoteID: 101})
	require.NoError(t, err)

	first, err := s.CreatePost(ctx, &model.Post{TopicID: topic.ID, RemoteID: 7, Version: 1, Raw: []byte(`{"a":1}`)})
	require.NoError(t, err)
	second, err := s.CreatePost(ctx, &model.Post{TopicID: topic.ID, RemoteID: 7, Version: 9, Raw: []byte(`{"a":2}`)})
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, 1, second.Version, "duplicate create must not overwrite")
}

func TestResetCrawledState_ScopedToOneForum(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	crawled := true
	now := time.Now().UTC()

	f1 := seedForum(t, s, "https://one.test")
	c1 := seedCategory(t, s, f1.ID, 5)
	t1, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c1.ID, RemoteID: 101})
	require.NoError(t, err)
	require.NoError(t, s.UpdateForum(ctx, f1.ID, store.ForumUpdate{CategoriesCrawled: &crawled}))
	require.NoError(t, s.UpdateCategory(ctx, c1.ID, store.CategoryUpdate{PagesCrawled: &crawled}))
	require.NoError(t, s.UpdateTopic(ctx, t1.ID, store.TopicUpdate{PostsCrawled: &crawled, LastCrawledAt: &now}))

	f2, err := s.CreateForum(ctx, &model.Forum{URL: "https://two.test"})
	require.NoError(t, err)
	c2, err := s.CreateCategory(ctx, &model.Category{ForumID: f2.ID, RemoteID: 9})
	require.NoError(t, err)
	t2, err := s.CreateTopic(ctx, &model.Topic{CategoryID: c2.ID, RemoteID: 201})
	require.NoError(t, err)
	require.NoError(t, s.UpdateForum(ctx, f2.ID, store.ForumUpdate{CategoriesCrawled: &crawled}))
	require.NoError(t, s.UpdateCategory(ctx, c2.ID, store.CategoryUpdate{PagesCrawled: &crawled}))
	require.NoError(t, s.UpdateTopic(ctx, t2.ID, store.TopicUpdate{PostsCrawled: &crawled, LastCrawledAt: &now}))

	require.NoError(t, s.ResetCrawledState(ctx, f1.ID))

	gotF1, err := s.FindForum(ctx, "https://one.test")
	require.NoError(t, err)
	require.False(t, gotF1.CategoriesCrawled)
	gotC1, err := s.FindCategory(ctx, f1.ID, 5)
	require.NoError(t, err)
	require.False(t, gotC1.PagesCrawled)
	gotT1, err := s.FindTopic(ctx, c1.ID, 101)
	require.NoError(t, err)
	require.False(t, gotT1.PostsCrawled)
	require.Nil(t, gotT1.LastCrawledAt)

	// The other forum is untouched.
	gotF2, err := s.FindForum(ctx, "https://two.test")
	require.NoError(t, err)
	require.True(t, gotF2.CategoriesCrawled)
	gotT2, err := s.FindTopic(ctx, c2.ID, 201)
	require.NoError(t, err)
	require.True(t, gotT2.PostsCrawled)
	require.NotNil(t, gotT2.LastCrawledAt)
}

func TestQueryEscapeHatch(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	seedForum(t, s, "https://forum.test")

	rows, err := s.Query(ctx, `SELECT url, categories_crawled FROM forums WHERE url = ?`, "https://forum.test")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "https://forum.test", rows[0]["url"])
}

func TestOpen_CreatesDirectory(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "harvest.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
