package service

//go:generate mockgen -source=interfaces.go -destination=mocks/mocks.go -package=mocks

import (
	"context"

	"feed_relay/internal/domain"
)

type FeedSource interface {
	Fetch(ctx context.Context, url string) domain.FetchResult
}

// DedupStore remembers which article keys were already handed out per destination.
type DedupStore interface {
	// Reserve registers ids for destination and returns the ones that were not
	// registered before. The check and the registration happen atomically.
	Reserve(ctx context.Context, destination string, ids []string) ([]string, error)
}

type StateStore interface {
	Get(ctx context.Context, feedID string) (*domain.FeedState, bool, error)
	Update(ctx context.Context, feedID string, fn func(state *domain.FeedState)) error
}

type Dispatcher interface {
	Dispatch(ctx context.Context, destination string, msg domain.Message) domain.DeliveryStatus
}

type EventPublisher interface {
	Publish(ctx context.Context, evt domain.DeliveryEvent) error
	Close() error
}
