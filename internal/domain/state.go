package domain

import "time"

// FeedState is the per-feed bookkeeping shown by the dashboard.
type FeedState struct {
	StatusCode  int          `json:"status_code"`
	LastChecked time.Time    `json:"last_checked"`
	LastPost    *PostOutcome `json:"last_post,omitempty"`
	// PendingSeed marks a feed whose first check failed; it is seeded on the
	// next successful check.
	PendingSeed bool `json:"pending_seed,omitempty"`
}

type PostOutcome struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// Due reports whether a feed last checked at s.LastChecked should be checked again.
func (s FeedState) Due(now time.Time, interval time.Duration) bool {
	return now.Sub(s.LastChecked) >= interval
}
