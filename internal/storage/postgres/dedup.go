package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

const defaultMaxIDs = 10000

// DedupStore keeps delivered article ids per destination in the
// delivered_articles table.
type DedupStore struct {
	db     *sqlx.DB
	tm     *TransactionManager
	maxIDs int
}

func NewDedupStore(db *sqlx.DB, tm *TransactionManager, maxIDs int) *DedupStore {
	if maxIDs <= 0 {
		maxIDs = defaultMaxIDs
	}
	return &DedupStore{db: db, tm: tm, maxIDs: maxIDs}
}

func (s *DedupStore) Reserve(ctx context.Context, destination string, ids []string) ([]string, error) {
	candidates := uniqueIDs(ids)
	if len(candidates) == 0 {
		return nil, nil
	}

	var inserted []string
	err := s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		if err := lockKey(ctx, exec, "dedup:"+destination); err != nil {
			return err
		}

		query := `
			INSERT INTO delivered_articles (destination, article_id)
			SELECT $1, t.id
			FROM unnest($2::text[]) WITH ORDINALITY AS t(id, ord)
			ORDER BY t.ord
			ON CONFLICT (destination, article_id) DO NOTHING
			RETURNING article_id`

		if err := sqlx.SelectContext(ctx, exec, &inserted, query, destination, pq.Array(candidates)); err != nil {
			return fmt.Errorf("insert ids: %w", err)
		}
		if len(inserted) == 0 {
			return nil
		}

		trim := `
			DELETE FROM delivered_articles
			WHERE destination = $1
			  AND seq <= (
				SELECT seq FROM delivered_articles
				WHERE destination = $1
				ORDER BY seq DESC
				OFFSET $2 LIMIT 1
			  )`

		if _, err := exec.ExecContext(ctx, trim, destination, s.maxIDs); err != nil {
			return fmt.Errorf("trim ids: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reserve ids: %w", err)
	}

	// RETURNING order is not guaranteed; report in candidate order.
	added := make(map[string]struct{}, len(inserted))
	for _, id := range inserted {
		added[id] = struct{}{}
	}
	fresh := make([]string, 0, len(inserted))
	for _, id := range candidates {
		if _, ok := added[id]; ok {
			fresh = append(fresh, id)
		}
	}
	return fresh, nil
}

// IDs returns the ids remembered for destination, oldest first.
func (s *DedupStore) IDs(ctx context.Context, destination string) ([]string, error) {
	var ids []string
	query := `SELECT article_id FROM delivered_articles WHERE destination = $1 ORDER BY seq`
	if err := s.db.SelectContext(ctx, &ids, query, destination); err != nil {
		return nil, fmt.Errorf("select ids: %w", err)
	}
	return ids, nil
}

func (s *DedupStore) Retain(ctx context.Context, keep []string) (int, error) {
	var before int
	if err := s.db.GetContext(ctx, &before, `SELECT COUNT(DISTINCT destination) FROM delivered_articles`); err != nil {
		return 0, fmt.Errorf("count destinations: %w", err)
	}

	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM delivered_articles WHERE destination <> ALL($1::text[])`,
		pq.Array(nonNil(keep)),
	); err != nil {
		return 0, fmt.Errorf("delete orphaned destinations: %w", err)
	}

	var after int
	if err := s.db.GetContext(ctx, &after, `SELECT COUNT(DISTINCT destination) FROM delivered_articles`); err != nil {
		return 0, fmt.Errorf("count destinations: %w", err)
	}
	return before - after, nil
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// nonNil makes an empty keep list bind as an empty array rather than NULL.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
