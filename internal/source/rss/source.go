package rss

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/mmcdole/gofeed"

	"feed_relay/internal/domain"
)

const DefaultUserAgent = "FeedRelay/1.0"

// Config holds feed source configuration.
type Config struct {
	UserAgent string
	Timeout   time.Duration
}

// Source fetches RSS and Atom feeds over HTTP.
type Source struct {
	httpClient *http.Client
	parser     *gofeed.Parser
	userAgent  string
	logger     *slog.Logger
}

// New creates a new feed source.
func New(cfg Config, logger *slog.Logger) *Source {
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Source{
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		parser:    gofeed.NewParser(),
		userAgent: ua,
		logger:    logger.With("component", "rss"),
	}
}

// Fetch retrieves and parses the feed at url. Failures are reported through
// the status code and never as an error; the entry list is then empty.
func (s *Source) Fetch(ctx context.Context, url string) domain.FetchResult {
	log := s.logger.With("url", url)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		log.Warn("failed to create request", "error", err)
		return domain.FetchResult{StatusCode: domain.StatusFetchFailed}
	}

	req.Header.Set("User-Agent", s.userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, */*;q=0.8")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		log.Warn("feed request failed", "error", err)
		return domain.FetchResult{StatusCode: domain.StatusFetchFailed}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		log.Warn("unexpected status", "status", resp.StatusCode)
		return domain.FetchResult{StatusCode: resp.StatusCode}
	}

	feed, err := s.parser.Parse(resp.Body)
	if err != nil {
		log.Warn("failed to parse feed", "error", err)
		return domain.FetchResult{StatusCode: domain.StatusParseFailed}
	}

	entries := s.transform(feed)
	log.Debug("fetched feed", "entries", len(entries))

	return domain.FetchResult{
		StatusCode: resp.StatusCode,
		Entries:    entries,
	}
}

func (s *Source) transform(feed *gofeed.Feed) []domain.Entry {
	entries := make([]domain.Entry, 0, len(feed.Items))

	for _, item := range feed.Items {
		if item == nil {
			continue
		}

		summary := item.Description
		if summary == "" {
			summary = item.Content
		}

		entries = append(entries, domain.Entry{
			ID:        item.GUID,
			Link:      item.Link,
			Title:     item.Title,
			Summary:   summary,
			Published: item.PublishedParsed,
			Updated:   item.UpdatedParsed,
		})
	}

	return entries
}
