package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"feed_relay/internal/domain"
)

// StateStore keeps per-feed state in a JSON document keyed by feed id.
type StateStore struct {
	path   string
	lock   *locker
	logger *slog.Logger
}

func NewStateStore(path string, lockTimeout time.Duration, logger *slog.Logger) (*StateStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	return &StateStore{
		path:   path,
		lock:   newLocker(path, lockTimeout),
		logger: logger.With("component", "state_store", "path", path),
	}, nil
}

func (s *StateStore) Get(ctx context.Context, feedID string) (*domain.FeedState, bool, error) {
	doc, err := s.read(ctx)
	if err != nil {
		return nil, false, err
	}
	st, ok := doc[feedID]
	if !ok {
		return nil, false, nil
	}
	return &st, true, nil
}

// All returns the state of every known feed.
func (s *StateStore) All(ctx context.Context) (map[string]domain.FeedState, error) {
	return s.read(ctx)
}

// Update applies fn to the feed's state under the store lock. A feed without
// state starts from the zero value.
func (s *StateStore) Update(ctx context.Context, feedID string, fn func(state *domain.FeedState)) error {
	err := s.lock.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		st := doc[feedID]
		fn(&st)
		doc[feedID] = st
		return s.save(doc)
	})
	if err != nil {
		return fmt.Errorf("update state of feed %s: %w", feedID, err)
	}
	return nil
}

// Retain drops the state of every feed not listed in keep.
func (s *StateStore) Retain(ctx context.Context, keep []string) (int, error) {
	wanted := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		wanted[id] = struct{}{}
	}

	removed := 0
	err := s.lock.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		for id := range doc {
			if _, ok := wanted[id]; !ok {
				delete(doc, id)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return s.save(doc)
	})
	if err != nil {
		return 0, fmt.Errorf("retain feed state: %w", err)
	}
	return removed, nil
}

func (s *StateStore) read(ctx context.Context) (map[string]domain.FeedState, error) {
	var doc map[string]domain.FeedState
	err := s.lock.withLock(ctx, func() error {
		var err error
		doc, err = s.load()
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("read feed state: %w", err)
	}
	return doc, nil
}

func (s *StateStore) load() (map[string]domain.FeedState, error) {
	doc := make(map[string]domain.FeedState)

	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(data) == 0 {
		return doc, nil
	}

	if err := json.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("state file is corrupt, starting empty", "error", err)
		return make(map[string]domain.FeedState), nil
	}
	if doc == nil {
		doc = make(map[string]domain.FeedState)
	}
	return doc, nil
}

func (s *StateStore) save(doc map[string]domain.FeedState) error {
	data, err := json.MarshalIndent(doc, "", "    ")
	if err != nil {
		return fmt.Errorf("marshal state: %w", err)
	}
	return writeFileAtomic(s.path, data)
}
