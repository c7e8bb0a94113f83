package domain

import "time"

const (
	// StatusFetchFailed is reported when the feed could not be retrieved at all.
	StatusFetchFailed = 500
	// StatusParseFailed is reported when the body was not a parseable feed.
	StatusParseFailed = 422
)

// FetchResult is what a feed source returns for one URL.
type FetchResult struct {
	StatusCode int
	Entries    []Entry
}

// OK reports whether the fetch succeeded.
func (r FetchResult) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Entry is a raw feed entry as parsed from the source.
type Entry struct {
	ID        string
	Link      string
	Title     string
	Summary   string // may contain HTML
	Published *time.Time
	Updated   *time.Time
}

// Key returns the identity of the entry: its id, else its link.
// An empty key means the entry cannot be tracked.
func (e Entry) Key() string {
	if e.ID != "" {
		return e.ID
	}
	return e.Link
}

// EffectiveTime returns the published time, falling back to the updated time.
func (e Entry) EffectiveTime() (time.Time, bool) {
	if e.Published != nil {
		return *e.Published, true
	}
	if e.Updated != nil {
		return *e.Updated, true
	}
	return time.Time{}, false
}

// Article is a normalised, trackable entry ready for delivery.
type Article struct {
	Key         string    `json:"key"`
	Title       string    `json:"title"`
	Link        string    `json:"link"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"published_at"`
}

// Message is one article formatted for a destination.
type Message struct {
	Title   string
	URL     string
	Summary string
	Source  string
}
