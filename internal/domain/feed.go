package domain

import (
	"errors"
	"time"
)

// ErrFeedNotFound is returned when a feed id is not configured.
var ErrFeedNotFound = errors.New("feed not found")

// FeedConfig is one configured feed. It is owned by the external config store
// and only read here.
type FeedConfig struct {
	ID           string
	Name         string
	URL          string
	Destinations []Destination
	PollInterval time.Duration
	Active       bool
}

// Destination is a webhook endpoint receiving articles from a feed.
type Destination struct {
	URL   string `json:"url"`
	Label string `json:"label,omitempty"`
}

// DisplayName returns the feed name, falling back to its URL.
func (f FeedConfig) DisplayName() string {
	if f.Name != "" {
		return f.Name
	}
	return f.URL
}

// Targets returns the destinations that have a URL, in configured order.
func (f FeedConfig) Targets() []Destination {
	targets := make([]Destination, 0, len(f.Destinations))
	for _, d := range f.Destinations {
		if d.URL != "" {
			targets = append(targets, d)
		}
	}
	return targets
}
