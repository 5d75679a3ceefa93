package forum

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// CategoriesURL returns the categories listing endpoint for a forum base URL.
func CategoriesURL(base string) string {
	return strings.TrimRight(base, "/") + "/categories.json"
}

// TopicDocURL returns the primary topic document endpoint.
func TopicDocURL(base string, remoteTopicID int64) string {
	return fmt.Sprintf("%s/t/%d.json", strings.TrimRight(base, "/"), remoteTopicID)
}

// PostBatchURL returns the batch posts endpoint for the given post ids.
func PostBatchURL(base string, remoteTopicID int64, postIDs []int64) string {
	q := url.Values{}
	for _, id := range postIDs {
		q.Add("post_ids[]", fmt.Sprintf("%d", id))
	}
	return fmt.Sprintf("%s/t/%d/posts.json?%s", strings.TrimRight(base, "/"), remoteTopicID, q.Encode())
}

// JSONVariant converts a listing URL (absolute or relative) to its
// JSON-returning variant by inserting ".json" at the end of the path,
// leaving the query string intact. URLs already addressing the JSON
// variant pass through unchanged.
func JSONVariant(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse listing url %q: %w", raw, err)
	}
	if !strings.HasSuffix(u.Path, ".json") {
		u.Path = strings.TrimRight(u.Path, "/") + ".json"
	}
	return u.String(), nil
}

// ResolveListing resolves a possibly relative listing URL against the forum
// base and converts it to the JSON variant.
func ResolveListing(base, listing string) (string, error) {
	bu, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url %q: %w", base, err)
	}
	lu, err := url.Parse(listing)
	if err != nil {
		return "", fmt.Errorf("parse listing url %q: %w", listing, err)
	}
	return JSONVariant(bu.ResolveReference(lu).String())
}

// AppendAfter adds an after=<cutoff> query parameter bounding the remote
// listing, unless the URL already carries one.
func AppendAfter(raw string, cutoff time.Time) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("parse url %q: %w", raw, err)
	}
	q := u.Query()
	if q.Get("after") == "" {
		q.Set("after", cutoff.UTC().Format(time.RFC3339))
		u.RawQuery = q.Encode()
	}
	return u.String(), nil
}
