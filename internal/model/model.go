// Package model defines the persisted entities of the forum content tree.
// Each entity carries a generated surface ID plus the natural key assigned
// by the remote service; raw remote payloads are kept verbatim as audit
// snapshots.
package model

import "time"

// Forum is the root crawl target, one row per base URL.
type Forum struct {
	ID                string
	URL               string
	CategoriesCrawled bool
}

// Category is a topic grouping under a Forum, unique per
// (forum, remote category id).
type Category struct {
	ID           string
	ForumID      string
	RemoteID     int64
	Name         string
	Slug         string
	TopicURL     string
	Raw          []byte
	PagesCrawled bool
}

// Page is one fetched listing response for a category. Numbers are a
// strictly increasing sequence starting at 0. MoreTopicsCursor is empty
// on the final page.
type Page struct {
	ID               string
	CategoryID       string
	Number           int
	MoreTopicsCursor string
	Raw              []byte
}

// Topic is a discussion thread, unique per (category, remote topic id).
// Excerpt holds the listing-time snapshot; Full stays nil until the
// topic document has been fetched.
type Topic struct {
	ID            string
	CategoryID    string
	RemoteID      int64
	Title         string
	CreatedAt     time.Time
	Excerpt       []byte
	Full          []byte
	PostsCrawled  bool
	LastCrawledAt *time.Time
}

// Post is one message within a topic, unique per (topic, remote post id).
// It is the only entity whose snapshot is updated in place: the remote
// service exposes edits through a version counter and an edit timestamp.
type Post struct {
	ID       string
	TopicID  string
	RemoteID int64
	Version  int
	EditedAt *time.Time
	Raw      []byte
}
