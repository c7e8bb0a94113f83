package service

import (
	"sort"
	"time"

	"feed_relay/internal/domain"
)

// RecencyWindow is the trailing span in which articles are eligible for delivery.
const RecencyWindow = 24 * time.Hour

// FilterRecent keeps entries whose effective timestamp lies within RecencyWindow
// of now, newest first. Entries without a usable timestamp are dropped and
// counted in undated.
func FilterRecent(entries []domain.Entry, now time.Time) (kept []domain.Entry, undated int) {
	cutoff := now.Add(-RecencyWindow)

	for _, e := range entries {
		ts, ok := e.EffectiveTime()
		if !ok {
			undated++
			continue
		}
		if ts.Before(cutoff) {
			continue
		}
		kept = append(kept, e)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		ti, _ := kept[i].EffectiveTime()
		tj, _ := kept[j].EffectiveTime()
		return ti.After(tj)
	})

	return kept, undated
}
