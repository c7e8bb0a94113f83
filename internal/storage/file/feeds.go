package file

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"feed_relay/internal/domain"
)

// FeedStore reads feed definitions from the shared config.json written by
// the dashboard. The file is re-read on every call so edits apply on the
// next tick.
type FeedStore struct {
	path            string
	defaultInterval time.Duration
	minInterval     time.Duration
	logger          *slog.Logger
}

func NewFeedStore(path string, defaultInterval, minInterval time.Duration, logger *slog.Logger) *FeedStore {
	return &FeedStore{
		path:            path,
		defaultInterval: defaultInterval,
		minInterval:     minInterval,
		logger:          logger.With("component", "feed_store", "path", path),
	}
}

type feedsDocument struct {
	Feeds []feedRecord `json:"FEEDS"`
}

type feedRecord struct {
	ID             string               `json:"id"`
	Name           string               `json:"name"`
	URL            string               `json:"url"`
	Webhooks       []domain.Destination `json:"webhooks"`
	WebhookURL     string               `json:"webhook_url"`
	WebhookURLs    []string             `json:"webhook_urls"`
	UpdateInterval *int                 `json:"update_interval"`
	Active         *bool                `json:"active"`
}

func (s *FeedStore) List(ctx context.Context) ([]domain.FeedConfig, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read feeds file: %w", err)
	}

	var doc feedsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse feeds file: %w", err)
	}

	feeds := make([]domain.FeedConfig, 0, len(doc.Feeds))
	for _, rec := range doc.Feeds {
		if rec.ID == "" {
			s.logger.Warn("skipping feed without id", "url", rec.URL)
			continue
		}
		feeds = append(feeds, s.toFeed(rec))
	}
	return feeds, nil
}

func (s *FeedStore) Get(ctx context.Context, id string) (domain.FeedConfig, error) {
	feeds, err := s.List(ctx)
	if err != nil {
		return domain.FeedConfig{}, err
	}
	for _, f := range feeds {
		if f.ID == id {
			return f, nil
		}
	}
	return domain.FeedConfig{}, fmt.Errorf("%w: %s", domain.ErrFeedNotFound, id)
}

func (s *FeedStore) toFeed(rec feedRecord) domain.FeedConfig {
	feed := domain.FeedConfig{
		ID:           rec.ID,
		Name:         rec.Name,
		URL:          rec.URL,
		Destinations: destinations(rec),
		PollInterval: s.defaultInterval,
		Active:       true,
	}
	if rec.Active != nil {
		feed.Active = *rec.Active
	}
	if rec.UpdateInterval != nil && *rec.UpdateInterval > 0 {
		feed.PollInterval = time.Duration(*rec.UpdateInterval) * time.Second
	}
	if feed.PollInterval < s.minInterval {
		feed.PollInterval = s.minInterval
	}
	return feed
}

// destinations prefers the webhooks list and falls back to the older
// webhook_urls and webhook_url fields.
func destinations(rec feedRecord) []domain.Destination {
	if len(rec.Webhooks) > 0 {
		return rec.Webhooks
	}
	var out []domain.Destination
	for _, u := range rec.WebhookURLs {
		if u != "" {
			out = append(out, domain.Destination{URL: u})
		}
	}
	if len(out) == 0 && rec.WebhookURL != "" {
		out = append(out, domain.Destination{URL: rec.WebhookURL})
	}
	return out
}
