package domain

import (
	"fmt"
	"time"
)

// DeliveryStatus classifies one dispatch attempt.
type DeliveryStatus string

const (
	DeliverySuccess          DeliveryStatus = "Success"
	DeliveryRateLimited      DeliveryStatus = "Rate Limited"
	DeliveryConnectionFailed DeliveryStatus = "Failed to Connect"
)

// DeliveryError is the status for a non-success HTTP response.
func DeliveryError(code int) DeliveryStatus {
	return DeliveryStatus(fmt.Sprintf("Error: %d", code))
}

func (s DeliveryStatus) OK() bool {
	return s == DeliverySuccess
}

// Synthetic outcomes recorded when no dispatch happened.
const (
	OutcomeSeeded         = "Initial check (seeded)"
	OutcomeNoDestinations = "No destinations"
)

// CheckResult holds statistics about a single feed check.
type CheckResult struct {
	FeedID     string
	StatusCode int
	LastPost   string
	Fetched    int
	Recent     int
	New        int
	Delivered  int
	Failed     int
	Seeded     bool
	Duration   time.Duration
}

// DeliveryEvent describes one dispatch attempt for downstream consumers.
type DeliveryEvent struct {
	FeedID      string         `json:"feed_id"`
	FeedName    string         `json:"feed_name"`
	Destination string         `json:"destination"`
	Article     Article        `json:"article"`
	Status      DeliveryStatus `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
}
