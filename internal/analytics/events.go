// Package analytics defines the events the builder and the search service
// emit and a buffered collector that forwards them to Kafka.
package analytics

import (
	"context"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
)

type EventType string

const (
	EventSearch        EventType = "search"
	EventZeroResult    EventType = "zero_result"
	EventIndexComplete EventType = "index_complete"
)

// Publisher is the subset of kafka.Producer the collector and the builder use.
type Publisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type SearchEvent struct {
	Type      EventType `json:"type"`
	Query     string    `json:"query"`
	Terms     []string  `json:"terms"`
	TotalHits int       `json:"total_hits"`
	LatencyMs int64     `json:"latency_ms"`
	CacheHit  bool      `json:"cache_hit"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id"`
}

// IndexEvent announces a completed full rebuild. Search services reload their
// store handle when they receive it.
type IndexEvent struct {
	Type              EventType `json:"type"`
	BuildID           string    `json:"build_id"`
	Driver            string    `json:"driver"`
	Path              string    `json:"path,omitempty"`
	Documents         int       `json:"documents"`
	SkippedUnreadable int       `json:"skipped_unreadable"`
	SkippedEmpty      int       `json:"skipped_empty"`
	Failed            int       `json:"failed"`
	Words             int64     `json:"words"`
	Postings          int64     `json:"postings"`
	DurationMs        int64     `json:"duration_ms"`
	Timestamp         time.Time `json:"timestamp"`
}
