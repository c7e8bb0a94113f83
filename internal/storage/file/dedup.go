package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultMaxIDs bounds the remembered ids per destination.
const DefaultMaxIDs = 10000

// ErrLegacyFormat is returned when the dedup file still holds the old global
// id list and has not been migrated.
var ErrLegacyFormat = errors.New("dedup store is in the legacy list format")

// DedupStore keeps delivered article ids per destination in a YAML file:
//
//	https://hooks.example.com/a:
//	  - article-1
//	  - article-2
//
// Ids are kept in registration order and only the newest maxIDs survive.
type DedupStore struct {
	path   string
	maxIDs int
	lock   *locker
	logger *slog.Logger
}

func NewDedupStore(path string, maxIDs int, lockTimeout time.Duration, logger *slog.Logger) (*DedupStore, error) {
	if err := ensureDir(path); err != nil {
		return nil, err
	}
	if maxIDs <= 0 {
		maxIDs = DefaultMaxIDs
	}
	return &DedupStore{
		path:   path,
		maxIDs: maxIDs,
		lock:   newLocker(path, lockTimeout),
		logger: logger.With("component", "dedup_store", "path", path),
	}, nil
}

// Reserve registers ids for destination and returns those that were not
// known before, in candidate order.
func (s *DedupStore) Reserve(ctx context.Context, destination string, ids []string) ([]string, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var fresh []string
	err := s.lock.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}

		known := doc[destination]
		seen := make(map[string]struct{}, len(known)+len(ids))
		for _, id := range known {
			seen[id] = struct{}{}
		}
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			fresh = append(fresh, id)
		}

		if len(fresh) == 0 {
			return nil
		}

		merged := make([]string, 0, len(known)+len(fresh))
		merged = append(merged, known...)
		merged = append(merged, fresh...)
		doc[destination] = capIDs(merged, s.maxIDs)

		return s.save(doc)
	})
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}

	return fresh, nil
}

// IDs returns the ids remembered for destination, oldest first.
func (s *DedupStore) IDs(ctx context.Context, destination string) ([]string, error) {
	var ids []string
	err := s.lock.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		ids = append(ids, doc[destination]...)
		return nil
	})
	return ids, err
}

// Retain forgets every destination not listed in keep and returns how many
// were removed.
func (s *DedupStore) Retain(ctx context.Context, keep []string) (int, error) {
	wanted := make(map[string]struct{}, len(keep))
	for _, d := range keep {
		wanted[d] = struct{}{}
	}

	removed := 0
	err := s.lock.withLock(ctx, func() error {
		doc, err := s.load()
		if err != nil {
			return err
		}
		for d := range doc {
			if _, ok := wanted[d]; !ok {
				delete(doc, d)
				removed++
			}
		}
		if removed == 0 {
			return nil
		}
		return s.save(doc)
	})
	if err != nil {
		return 0, fmt.Errorf("retain destinations: %w", err)
	}
	return removed, nil
}

// MigrateLegacy converts a file holding the old global id list into the
// per-destination mapping, copying the list to every destination given.
// It reports whether a migration happened.
func (s *DedupStore) MigrateLegacy(ctx context.Context, destinations []string) (bool, error) {
	migrated := false
	err := s.lock.withLock(ctx, func() error {
		root, err := s.readNode()
		if err != nil || root == nil || root.Kind != yaml.SequenceNode {
			return err
		}

		var legacy []string
		if err := root.Decode(&legacy); err != nil {
			return fmt.Errorf("decode legacy list: %w", err)
		}

		doc := make(map[string][]string, len(destinations))
		for _, d := range destinations {
			if d == "" {
				continue
			}
			if _, ok := doc[d]; ok {
				continue
			}
			doc[d] = capIDs(append([]string(nil), legacy...), s.maxIDs)
		}

		if err := s.save(doc); err != nil {
			return err
		}
		migrated = true
		s.logger.Info("migrated legacy dedup list",
			"ids", len(legacy),
			"destinations", len(doc),
		)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("migrate legacy dedup store: %w", err)
	}
	return migrated, nil
}

// readNode returns the top-level YAML node, nil for a missing or empty file.
func (s *DedupStore) readNode() (*yaml.Node, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read dedup store: %w", err)
	}

	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		s.logger.Warn("dedup store is corrupt, starting empty", "error", err)
		return nil, nil
	}
	if len(doc.Content) == 0 {
		return nil, nil
	}
	return doc.Content[0], nil
}

func (s *DedupStore) load() (map[string][]string, error) {
	root, err := s.readNode()
	if err != nil {
		return nil, err
	}

	doc := make(map[string][]string)
	if root == nil {
		return doc, nil
	}

	switch root.Kind {
	case yaml.MappingNode:
		if err := root.Decode(&doc); err != nil {
			s.logger.Warn("dedup store is corrupt, starting empty", "error", err)
			return make(map[string][]string), nil
		}
	case yaml.SequenceNode:
		return nil, ErrLegacyFormat
	default:
		s.logger.Warn("dedup store has unexpected content, starting empty")
	}

	if doc == nil {
		doc = make(map[string][]string)
	}
	return doc, nil
}

func (s *DedupStore) save(doc map[string][]string) error {
	data, err := yaml.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal dedup store: %w", err)
	}
	return writeFileAtomic(s.path, data)
}

// capIDs keeps the newest max ids.
func capIDs(ids []string, max int) []string {
	if len(ids) <= max {
		return ids
	}
	return append([]string(nil), ids[len(ids)-max:]...)
}
