package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"feed_relay/internal/domain"
)

// Checker runs one check of one feed: fetch, filter, dedup per destination,
// dispatch, and record the outcome. It is shared by the scheduler loop and
// on-demand checks.
type Checker struct {
	source     FeedSource
	dedup      DedupStore
	state      StateStore
	dispatcher Dispatcher
	events     EventPublisher
	logger     *slog.Logger
	now        func() time.Time
}

func NewChecker(
	source FeedSource,
	dedup DedupStore,
	state StateStore,
	dispatcher Dispatcher,
	events EventPublisher,
	logger *slog.Logger,
) *Checker {
	return &Checker{
		source:     source,
		dedup:      dedup,
		state:      state,
		dispatcher: dispatcher,
		events:     events,
		logger:     logger.With("component", "checker"),
		now:        time.Now,
	}
}

func (c *Checker) Check(ctx context.Context, feed domain.FeedConfig) (*domain.CheckResult, error) {
	startTime := time.Now()
	now := c.now().UTC()
	log := c.logger.With(
		"feed_id", feed.ID,
		"feed", feed.DisplayName(),
		"check_id", uuid.NewString(),
	)

	log.Debug("starting check", "url", feed.URL)

	fetched := c.source.Fetch(ctx, feed.URL)

	recent, undated := FilterRecent(fetched.Entries, now)
	if undated > 0 {
		log.Debug("skipped entries without a usable date", "count", undated)
	}
	articles := toArticles(recent)

	result := &domain.CheckResult{
		FeedID:     feed.ID,
		StatusCode: fetched.StatusCode,
		Fetched:    len(fetched.Entries),
		Recent:     len(articles),
	}

	prev, found, err := c.state.Get(ctx, feed.ID)
	if err != nil {
		return nil, fmt.Errorf("load feed state: %w", err)
	}
	unseen := !found || prev.PendingSeed

	switch {
	case unseen && !fetched.OK():
		log.Warn("initial check failed, seeding postponed", "status", fetched.StatusCode)
	case unseen:
		c.seed(ctx, log, feed, articles, result)
	case len(feed.Targets()) == 0:
		result.LastPost = domain.OutcomeNoDestinations
	default:
		c.deliver(ctx, log, feed, articles, result)
	}

	err = c.state.Update(ctx, feed.ID, func(s *domain.FeedState) {
		// A concurrent check may have seeded the feed since Get; never undo that.
		seededMeanwhile := !s.LastChecked.IsZero() && !s.PendingSeed
		s.StatusCode = fetched.StatusCode
		s.LastChecked = now
		s.PendingSeed = unseen && !result.Seeded && !seededMeanwhile
		if result.LastPost != "" {
			s.LastPost = &domain.PostOutcome{
				Status:    result.LastPost,
				Timestamp: now,
			}
		}
	})
	if err != nil {
		return result, fmt.Errorf("update feed state: %w", err)
	}

	result.Duration = time.Since(startTime)

	log.Info("check completed",
		"status", result.StatusCode,
		"fetched", result.Fetched,
		"recent", result.Recent,
		"new", result.New,
		"delivered", result.Delivered,
		"failed", result.Failed,
		"seeded", result.Seeded,
		"last_post", result.LastPost,
		"duration", result.Duration,
	)

	return result, nil
}

// seed registers every recent article for every destination without
// dispatching anything. Any store failure leaves the feed unseeded so the
// next check seeds again.
func (c *Checker) seed(ctx context.Context, log *slog.Logger, feed domain.FeedConfig, articles []domain.Article, result *domain.CheckResult) {
	keys := articleKeys(articles)

	failed := false
	if len(keys) > 0 {
		for _, d := range feed.Targets() {
			if _, err := c.dedup.Reserve(ctx, d.URL, keys); err != nil {
				log.Error("failed to seed destination",
					"destination", d.Label,
					"error", err,
				)
				result.Failed++
				failed = true
			}
		}
	}
	if failed {
		return
	}

	result.Seeded = true
	result.LastPost = domain.OutcomeSeeded
	log.Info("initial check, memory seeded",
		"articles", len(keys),
		"destinations", len(feed.Targets()),
	)
}

func (c *Checker) deliver(ctx context.Context, log *slog.Logger, feed domain.FeedConfig, articles []domain.Article, result *domain.CheckResult) {
	if len(articles) == 0 {
		return
	}

	keys := articleKeys(articles)
	byKey := make(map[string]domain.Article, len(articles))
	for _, a := range articles {
		if _, ok := byKey[a.Key]; !ok {
			byKey[a.Key] = a
		}
	}

	for _, d := range feed.Targets() {
		dlog := log.With("destination", d.Label)

		fresh, err := c.dedup.Reserve(ctx, d.URL, keys)
		if err != nil {
			dlog.Error("failed to reserve articles", "error", err)
			result.Failed++
			continue
		}

		batch := make([]domain.Article, 0, len(fresh))
		for _, key := range fresh {
			if a, ok := byKey[key]; ok {
				batch = append(batch, a)
			}
		}
		sort.SliceStable(batch, func(i, j int) bool {
			return batch[i].PublishedAt.Before(batch[j].PublishedAt)
		})

		result.New += len(batch)

		for _, a := range batch {
			status := c.dispatcher.Dispatch(ctx, d.URL, domain.Message{
				Title:   a.Title,
				URL:     a.Link,
				Summary: a.Summary,
				Source:  feed.DisplayName(),
			})
			result.LastPost = string(status)

			if status.OK() {
				result.Delivered++
			} else {
				result.Failed++
				dlog.Warn("delivery failed", "article", a.Key, "status", status)
			}

			c.publish(ctx, dlog, domain.DeliveryEvent{
				FeedID:      feed.ID,
				FeedName:    feed.DisplayName(),
				Destination: d.URL,
				Article:     a,
				Status:      status,
				Timestamp:   c.now().UTC(),
			})
		}
	}
}

func (c *Checker) publish(ctx context.Context, log *slog.Logger, evt domain.DeliveryEvent) {
	if c.events == nil {
		return
	}
	if err := c.events.Publish(ctx, evt); err != nil {
		log.Warn("failed to publish delivery event", "article", evt.Article.Key, "error", err)
	}
}

// articleKeys returns the keys oldest first, so stores that evict by
// registration order drop older articles before newer ones.
func articleKeys(articles []domain.Article) []string {
	keys := make([]string, len(articles))
	for i, a := range articles {
		keys[len(articles)-1-i] = a.Key
	}
	return keys
}
