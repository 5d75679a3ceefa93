package forum

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseCategoryList(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"category_list": {
			"categories": [
				{"id": 5, "name": "General", "slug": "general", "topic_url": "/c/general/5"},
				{"id": 9, "name": "Meta", "slug": "meta", "topic_url": "/c/meta/9"}
			]
		}
	}`)

	refs, err := ParseCategoryList(payload)
	require.NoError(t, err)
	require.Len(t, refs, 2)
	require.Equal(t, int64(5), refs[0].ID)
	require.Equal(t, "general", refs[0].Slug)
	require.Equal(t, "/c/general/5", refs[0].TopicURL)
	require.JSONEq(t, `{"id": 5, "name": "General", "slug": "general", "topic_url": "/c/general/5"}`, string(refs[0].Raw))
}

func TestParseCategoryList_Malformed(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"not json":           `{{`,
		"missing list":       `{"somewhere": "else"}`,
		"missing categories": `{"category_list": {}}`,
		"category no id":     `{"category_list": {"categories": [{"name": "x"}]}}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseCategoryList([]byte(payload))
			var malformed *MalformedError
			require.ErrorAs(t, err, &malformed)
		})
	}
}

func TestParseTopicPage(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"topic_list": {
			"more_topics_url": "/c/general/5?page=1",
			"topics": [
				{"id": 101, "title": "Hello", "created_at": "2023-04-01T10:00:00Z"},
				{"id": 102, "title": "World", "created_at": "2023-04-02T10:00:00Z"}
			]
		}
	}`)

	page, err := ParseTopicPage(payload)
	require.NoError(t, err)
	require.Equal(t, "/c/general/5?page=1", page.MoreTopicsURL)
	require.Len(t, page.Topics, 2)
	require.Equal(t, int64(101), page.Topics[0].ID)
	require.Equal(t, time.Date(2023, 4, 2, 10, 0, 0, 0, time.UTC), page.Topics[1].CreatedAt)
}

func TestParseTopicPage_LastPageHasNoCursor(t *testing.T) {
	t.Parallel()

	page, err := ParseTopicPage([]byte(`{"topic_list": {"topics": []}}`))
	require.NoError(t, err)
	require.Empty(t, page.MoreTopicsURL)
	require.Empty(t, page.Topics)
}

func TestParseTopicDocument(t *testing.T) {
	t.Parallel()

	payload := []byte(`{
		"id": 101,
		"post_stream": {
			"posts": [
				{"id": 1, "version": 1},
				{"id": 2, "version": 3, "updated_at": "2023-05-01T00:00:00Z"}
			],
			"stream": [1, 2, 3, 4, 5]
		}
	}`)

	doc, err := ParseTopicDocument(payload)
	require.NoError(t, err)
	require.Equal(t, int64(101), doc.ID)
	require.Equal(t, []int64{1, 2, 3, 4, 5}, doc.Stream)
	require.Len(t, doc.Posts, 2)
	require.Equal(t, 3, doc.Posts[1].Version)
	require.NotNil(t, doc.Posts[1].UpdatedAt)
	require.Nil(t, doc.Posts[0].UpdatedAt)
}

func TestParseTopicDocument_VersionDefaultsToOne(t *testing.T) {
	t.Parallel()

	doc, err := ParseTopicDocument([]byte(`{"id": 7, "post_stream": {"posts": [{"id": 9}], "stream": [9]}}`))
	require.NoError(t, err)
	require.Equal(t, 1, doc.Posts[0].Version)
}

func TestParseTopicDocument_MissingStream(t *testing.T) {
	t.Parallel()

	_, err := ParseTopicDocument([]byte(`{"id": 7}`))
	var malformed *MalformedError
	require.ErrorAs(t, err, &malformed)
	require.Contains(t, malformed.Error(), "post_stream")
}

func TestParsePostBatch(t *testing.T) {
	t.Parallel()

	posts, err := ParsePostBatch([]byte(`{"post_stream": {"posts": [{"id": 4, "version": 2}]}}`))
	require.NoError(t, err)
	require.Len(t, posts, 1)
	require.Equal(t, int64(4), posts[0].ID)

	_, err = ParsePostBatch([]byte(`{}`))
	var malformed *MalformedError
	require.True(t, errors.As(err, &malformed))
}
