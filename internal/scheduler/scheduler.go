package scheduler

import (
	"context"
	"log/slog"
	"time"

	"feed_relay/internal/domain"
)

type FeedLister interface {
	List(ctx context.Context) ([]domain.FeedConfig, error)
}

// StateStore is the part of the feed state store the loop needs.
type StateStore interface {
	All(ctx context.Context) (map[string]domain.FeedState, error)
	Retain(ctx context.Context, keep []string) (int, error)
}

type DedupPruner interface {
	Retain(ctx context.Context, keep []string) (int, error)
}

type FeedChecker interface {
	Check(ctx context.Context, feed domain.FeedConfig) (*domain.CheckResult, error)
}

type Config struct {
	TickInterval time.Duration
	FeedPause    time.Duration
	CheckTimeout time.Duration
	PruneOrphans bool
}

type Scheduler struct {
	feeds   FeedLister
	states  StateStore
	dedup   DedupPruner
	checker FeedChecker
	cfg     Config
	logger  *slog.Logger
	now     func() time.Time
}

// NewScheduler builds the polling loop. dedup may be nil, in which case only
// feed state is pruned.
func NewScheduler(
	feeds FeedLister,
	states StateStore,
	dedup DedupPruner,
	checker FeedChecker,
	cfg Config,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		feeds:   feeds,
		states:  states,
		dedup:   dedup,
		checker: checker,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
		now:     time.Now,
	}
}

// Run ticks immediately and then every TickInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", "interval", s.cfg.TickInterval)

	s.tick(ctx)

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) int {
	feeds, err := s.feeds.List(ctx)
	if err != nil {
		s.logger.Error("failed to load feeds, skipping tick", "error", err)
		return 0
	}

	states, err := s.states.All(ctx)
	if err != nil {
		s.logger.Error("failed to load feed state, skipping tick", "error", err)
		return 0
	}

	now := s.now()
	checked := 0
	for _, feed := range feeds {
		if !feed.Active {
			continue
		}
		if st, ok := states[feed.ID]; ok && !st.Due(now, feed.PollInterval) {
			continue
		}

		if checked > 0 && !s.pause(ctx) {
			return checked
		}
		if ctx.Err() != nil {
			return checked
		}

		s.check(ctx, feed)
		checked++
	}

	if checked > 0 {
		s.logger.Debug("tick completed", "checked", checked, "feeds", len(feeds))
	}

	if s.cfg.PruneOrphans && ctx.Err() == nil {
		s.prune(ctx, feeds)
	}
	return checked
}

func (s *Scheduler) check(ctx context.Context, feed domain.FeedConfig) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("feed check panicked", "feed_id", feed.ID, "panic", r)
		}
	}()

	checkCtx := ctx
	if s.cfg.CheckTimeout > 0 {
		var cancel context.CancelFunc
		checkCtx, cancel = context.WithTimeout(ctx, s.cfg.CheckTimeout)
		defer cancel()
	}

	if _, err := s.checker.Check(checkCtx, feed); err != nil {
		s.logger.Error("feed check failed", "feed_id", feed.ID, "error", err)
	}
}

// pause waits FeedPause and reports false if ctx ended first.
func (s *Scheduler) pause(ctx context.Context) bool {
	if s.cfg.FeedPause <= 0 {
		return true
	}
	t := time.NewTimer(s.cfg.FeedPause)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// prune drops state of removed feeds and dedup memory of destinations no
// configured feed references, active or not.
func (s *Scheduler) prune(ctx context.Context, feeds []domain.FeedConfig) {
	ids := make([]string, 0, len(feeds))
	var destinations []string
	for _, f := range feeds {
		ids = append(ids, f.ID)
		for _, d := range f.Targets() {
			destinations = append(destinations, d.URL)
		}
	}

	if n, err := s.states.Retain(ctx, ids); err != nil {
		s.logger.Warn("failed to prune feed state", "error", err)
	} else if n > 0 {
		s.logger.Info("pruned state of removed feeds", "count", n)
	}

	if s.dedup == nil {
		return
	}
	if n, err := s.dedup.Retain(ctx, destinations); err != nil {
		s.logger.Warn("failed to prune dedup memory", "error", err)
	} else if n > 0 {
		s.logger.Info("pruned dedup memory of removed destinations", "count", n)
	}
}
