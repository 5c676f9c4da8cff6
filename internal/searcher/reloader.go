package searcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
)

// Invalidator drops cached query results.
type Invalidator interface {
	Invalidate(ctx context.Context) error
}

// Opener opens a read handle on the promoted index.
type Opener func(ctx context.Context, cfg config.StoreConfig) (PostingReader, error)

// OpenStore is the Opener backed by store.Open.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (PostingReader, error) {
	return store.Open(ctx, cfg)
}

// Reloader reopens the index after a rebuild. A SQLite handle keeps reading
// the replaced file until it is reopened, so every build-complete event
// triggers a reload.
type Reloader struct {
	resolver *Resolver
	cfg      config.StoreConfig
	open     Opener
	cache    Invalidator
	metrics  *metrics.Metrics
	logger   *slog.Logger

	mu        sync.Mutex
	lastBuild string
}

func NewReloader(resolver *Resolver, cfg config.StoreConfig, open Opener, cache Invalidator, m *metrics.Metrics) *Reloader {
	if open == nil {
		open = OpenStore
	}
	return &Reloader{
		resolver: resolver,
		cfg:      cfg,
		open:     open,
		cache:    cache,
		metrics:  m,
		logger:   slog.Default().With("component", "index-reloader"),
	}
}

// HandleMessage is a kafka.MessageHandler for the build-complete topic.
// Duplicate deliveries of the same build are ignored.
func (rl *Reloader) HandleMessage(ctx context.Context, _ []byte, value []byte) error {
	event, err := kafka.DecodeJSON[analytics.IndexEvent](value)
	if err != nil {
		rl.logger.Error("dropping undecodable index event", "error", err)
		return nil
	}
	if event.Type != analytics.EventIndexComplete {
		return nil
	}

	rl.mu.Lock()
	seen := event.BuildID != "" && event.BuildID == rl.lastBuild
	rl.mu.Unlock()
	if seen {
		rl.logger.Debug("index event already applied", "build_id", event.BuildID)
		return nil
	}

	rl.logger.Info("index rebuilt, reloading",
		"build_id", event.BuildID,
		"documents", event.Documents,
		"words", event.Words,
	)
	if err := rl.Reload(ctx); err != nil {
		return err
	}
	rl.mu.Lock()
	rl.lastBuild = event.BuildID
	rl.mu.Unlock()
	return nil
}

// Reload opens a fresh handle, swaps it into the resolver, closes the old
// handle and invalidates the query cache. On failure the current handle stays
// in service.
func (rl *Reloader) Reload(ctx context.Context) error {
	reader, err := rl.open(ctx, rl.cfg)
	if err != nil {
		rl.record("failure")
		rl.logger.Error("reopening index failed, keeping current handle", "error", err)
		return fmt.Errorf("reloading index: %w", err)
	}

	old := rl.resolver.Swap(reader)
	if closer, ok := old.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			rl.logger.Warn("closing previous index handle failed", "error", err)
		}
	}

	if rl.cache != nil {
		if err := rl.cache.Invalidate(ctx); err != nil {
			rl.logger.Warn("invalidating query cache failed", "error", err)
		}
	}
	rl.record("success")
	rl.logger.Info("index handle reloaded")
	return nil
}

func (rl *Reloader) record(status string) {
	if rl.metrics != nil {
		rl.metrics.IndexReloadsTotal.WithLabelValues(status).Inc()
	}
}
