// Package forum decodes the JSON payloads served by the remote forum API
// and builds the URLs the crawl engine requests. The remote surface is a
// Discourse-style paginated API: a categories listing, per-category topic
// listing pages linked by a "more topics" cursor, a topic document carrying
// an initial post batch plus the full post-id stream, and a batch posts
// endpoint addressed by post ids.
package forum

import (
	"encoding/json"
	"fmt"
	"time"
)

// MalformedError reports a payload that lacks the structure the crawl
// engine requires. It is fatal during first-time category discovery and
// skippable everywhere else.
type MalformedError struct {
	Doc    string
	Reason string
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed %s payload: %s", e.Doc, e.Reason)
}

// CategoryRef is one entry of the categories listing.
type CategoryRef struct {
	ID       int64           `json:"id"`
	Name     string          `json:"name"`
	Slug     string          `json:"slug"`
	TopicURL string          `json:"topic_url"`
	Raw      json.RawMessage `json:"-"`
}

// TopicRef is one entry of a topic listing page.
type TopicRef struct {
	ID        int64           `json:"id"`
	Title     string          `json:"title"`
	CreatedAt time.Time       `json:"created_at"`
	Raw       json.RawMessage `json:"-"`
}

// TopicPage is one decoded listing page. MoreTopicsURL is empty on the
// final page.
type TopicPage struct {
	Topics        []TopicRef
	MoreTopicsURL string
}

// PostRef is one post envelope. Version defaults to 1 when the service
// omits it; UpdatedAt is nil when the post was never edited.
type PostRef struct {
	ID        int64
	Version   int
	UpdatedAt *time.Time
	Raw       json.RawMessage
}

// TopicDocument is the primary topic payload: the initial post batch plus
// the ordered stream of every post id in the topic.
type TopicDocument struct {
	ID     int64
	Posts  []PostRef
	Stream []int64
}

type categoryListEnvelope struct {
	CategoryList *struct {
		Categories []json.RawMessage `json:"categories"`
	} `json:"category_list"`
}

// ParseCategoryList decodes a categories listing payload.
func ParseCategoryList(data []byte) ([]CategoryRef, error) {
	var env categoryListEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedError{Doc: "categories", Reason: err.Error()}
	}
	if env.CategoryList == nil {
		return nil, &MalformedError{Doc: "categories", Reason: "missing category_list"}
	}
	if env.CategoryList.Categories == nil {
		return nil, &MalformedError{Doc: "categories", Reason: "missing category_list.categories"}
	}
	refs := make([]CategoryRef, 0, len(env.CategoryList.Categories))
	for i, raw := range env.CategoryList.Categories {
		var ref CategoryRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, &MalformedError{Doc: "categories", Reason: fmt.Sprintf("category %d: %v", i, err)}
		}
		if ref.ID == 0 {
			return nil, &MalformedError{Doc: "categories", Reason: fmt.Sprintf("category %d: missing id", i)}
		}
		ref.Raw = raw
		refs = append(refs, ref)
	}
	return refs, nil
}

type topicListEnvelope struct {
	TopicList *struct {
		MoreTopicsURL string            `json:"more_topics_url"`
		Topics        []json.RawMessage `json:"topics"`
	} `json:"topic_list"`
}

// ParseTopicPage decodes one topic listing page.
func ParseTopicPage(data []byte) (TopicPage, error) {
	var env topicListEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TopicPage{}, &MalformedError{Doc: "topic list", Reason: err.Error()}
	}
	if env.TopicList == nil {
		return TopicPage{}, &MalformedError{Doc: "topic list", Reason: "missing topic_list"}
	}
	page := TopicPage{MoreTopicsURL: env.TopicList.MoreTopicsURL}
	for i, raw := range env.TopicList.Topics {
		var ref TopicRef
		if err := json.Unmarshal(raw, &ref); err != nil {
			return TopicPage{}, &MalformedError{Doc: "topic list", Reason: fmt.Sprintf("topic %d: %v", i, err)}
		}
		if ref.ID == 0 {
			return TopicPage{}, &MalformedError{Doc: "topic list", Reason: fmt.Sprintf("topic %d: missing id", i)}
		}
		ref.Raw = raw
		page.Topics = append(page.Topics, ref)
	}
	return page, nil
}

type postEnvelope struct {
	ID        int64      `json:"id"`
	Version   int        `json:"version"`
	UpdatedAt *time.Time `json:"updated_at"`
}

func parsePosts(doc string, raws []json.RawMessage) ([]PostRef, error) {
	posts := make([]PostRef, 0, len(raws))
	for i, raw := range raws {
		var env postEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			return nil, &MalformedError{Doc: doc, Reason: fmt.Sprintf("post %d: %v", i, err)}
		}
		if env.ID == 0 {
			return nil, &MalformedError{Doc: doc, Reason: fmt.Sprintf("post %d: missing id", i)}
		}
		if env.Version <= 0 {
			env.Version = 1
		}
		posts = append(posts, PostRef{
			ID:        env.ID,
			Version:   env.Version,
			UpdatedAt: env.UpdatedAt,
			Raw:       raw,
		})
	}
	return posts, nil
}

type topicDocEnvelope struct {
	ID         int64 `json:"id"`
	PostStream *struct {
		Posts  []json.RawMessage `json:"posts"`
		Stream []int64           `json:"stream"`
	} `json:"post_stream"`
}

// ParseTopicDocument decodes the primary topic payload.
func ParseTopicDocument(data []byte) (TopicDocument, error) {
	var env topicDocEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return TopicDocument{}, &MalformedError{Doc: "topic", Reason: err.Error()}
	}
	if env.PostStream == nil {
		return TopicDocument{}, &MalformedError{Doc: "topic", Reason: "missing post_stream"}
	}
	posts, err := parsePosts("topic", env.PostStream.Posts)
	if err != nil {
		return TopicDocument{}, err
	}
	return TopicDocument{
		ID:     env.ID,
		Posts:  posts,
		Stream: env.PostStream.Stream,
	}, nil
}

type postBatchEnvelope struct {
	PostStream *struct {
		Posts []json.RawMessage `json:"posts"`
	} `json:"post_stream"`
}

// ParsePostBatch decodes a batch posts response.
func ParsePostBatch(data []byte) ([]PostRef, error) {
	var env postBatchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, &MalformedError{Doc: "post batch", Reason: err.Error()}
	}
	if env.PostStream == nil {
		return nil, &MalformedError{Doc: "post batch", Reason: "missing post_stream"}
	}
	return parsePosts("post batch", env.PostStream.Posts)
}
