package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"feed_relay/internal/domain"
)

type StateStore struct {
	db *sqlx.DB
	tm *TransactionManager
}

func NewStateStore(db *sqlx.DB, tm *TransactionManager) *StateStore {
	return &StateStore{db: db, tm: tm}
}

type stateRow struct {
	FeedID         string         `db:"feed_id"`
	StatusCode     int            `db:"status_code"`
	LastChecked    time.Time      `db:"last_checked"`
	LastPostStatus sql.NullString `db:"last_post_status"`
	LastPostAt     sql.NullTime   `db:"last_post_at"`
	PendingSeed    bool           `db:"pending_seed"`
}

func (r stateRow) toDomain() domain.FeedState {
	st := domain.FeedState{
		StatusCode:  r.StatusCode,
		LastChecked: r.LastChecked.UTC(),
		PendingSeed: r.PendingSeed,
	}
	if r.LastPostStatus.Valid {
		st.LastPost = &domain.PostOutcome{
			Status:    r.LastPostStatus.String,
			Timestamp: r.LastPostAt.Time.UTC(),
		}
	}
	return st
}

const selectState = `
	SELECT feed_id, status_code, last_checked, last_post_status, last_post_at, pending_seed
	FROM feed_state`

func (s *StateStore) Get(ctx context.Context, feedID string) (*domain.FeedState, bool, error) {
	st, found, err := s.get(ctx, GetExecutor(ctx, s.db), feedID)
	if err != nil {
		return nil, false, fmt.Errorf("get feed state: %w", err)
	}
	return st, found, nil
}

func (s *StateStore) get(ctx context.Context, q sqlx.QueryerContext, feedID string) (*domain.FeedState, bool, error) {
	var row stateRow
	err := sqlx.GetContext(ctx, q, &row, selectState+` WHERE feed_id = $1`, feedID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	st := row.toDomain()
	return &st, true, nil
}

func (s *StateStore) All(ctx context.Context) (map[string]domain.FeedState, error) {
	var rows []stateRow
	if err := s.db.SelectContext(ctx, &rows, selectState); err != nil {
		return nil, fmt.Errorf("select feed state: %w", err)
	}

	out := make(map[string]domain.FeedState, len(rows))
	for _, r := range rows {
		out[r.FeedID] = r.toDomain()
	}
	return out, nil
}

func (s *StateStore) Update(ctx context.Context, feedID string, fn func(state *domain.FeedState)) error {
	err := s.tm.WithTransaction(ctx, func(ctx context.Context) error {
		exec := GetExecutor(ctx, s.db)

		if err := lockKey(ctx, exec, "feed_state:"+feedID); err != nil {
			return err
		}

		current, _, err := s.get(ctx, exec, feedID)
		if err != nil {
			return err
		}
		var st domain.FeedState
		if current != nil {
			st = *current
		}
		fn(&st)

		var (
			postStatus sql.NullString
			postAt     sql.NullTime
		)
		if st.LastPost != nil {
			postStatus = sql.NullString{String: st.LastPost.Status, Valid: true}
			postAt = sql.NullTime{Time: st.LastPost.Timestamp, Valid: true}
		}

		query := `
			INSERT INTO feed_state (feed_id, status_code, last_checked, last_post_status, last_post_at, pending_seed)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (feed_id) DO UPDATE SET
				status_code = EXCLUDED.status_code,
				last_checked = EXCLUDED.last_checked,
				last_post_status = EXCLUDED.last_post_status,
				last_post_at = EXCLUDED.last_post_at,
				pending_seed = EXCLUDED.pending_seed`

		_, err = exec.ExecContext(ctx, query,
			feedID,
			st.StatusCode,
			st.LastChecked,
			postStatus,
			postAt,
			st.PendingSeed,
		)
		return err
	})
	if err != nil {
		return fmt.Errorf("update state of feed %s: %w", feedID, err)
	}
	return nil
}

func (s *StateStore) Retain(ctx context.Context, keep []string) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM feed_state WHERE feed_id <> ALL($1::text[])`, pq.Array(nonNil(keep)))
	if err != nil {
		return 0, fmt.Errorf("delete orphaned feed state: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
