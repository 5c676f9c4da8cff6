// Package indexer builds the inverted index from a collection of HTML
// documents. Every build is a full rebuild into a staging store that replaces
// the live index only once all documents have been processed.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/store"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/tokenizer"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/kafka"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/tracing"
	"github.com/google/uuid"
)

// BuildStats summarises a completed build.
type BuildStats struct {
	BuildID           string        `json:"build_id"`
	Scanned           int           `json:"scanned"`
	Indexed           int           `json:"indexed"`
	SkippedUnreadable int           `json:"skipped_unreadable"`
	SkippedEmpty      int           `json:"skipped_empty"`
	Failed            int           `json:"failed"`
	Words             int64         `json:"words"`
	Postings          int64         `json:"postings"`
	Duration          time.Duration `json:"duration"`
}

// Option configures a Builder.
type Option func(*Builder)

// WithMetrics records build progress in m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(b *Builder) { b.metrics = m }
}

// WithPublisher announces completed builds through p.
func WithPublisher(p analytics.Publisher) Option {
	return func(b *Builder) { b.publisher = p }
}

// WithTracing logs the span tree of every build.
func WithTracing(enabled bool) Option {
	return func(b *Builder) { b.tracing = enabled }
}

// Builder indexes a document collection into a store. A Builder must not run
// two builds against the same store at once.
type Builder struct {
	cfg       config.IndexerConfig
	storeCfg  config.StoreConfig
	metrics   *metrics.Metrics
	publisher analytics.Publisher
	tracing   bool
	logger    *slog.Logger

	// afterSchema runs once the staging schema exists.
	afterSchema func(ctx context.Context, st *store.Store) error
}

func NewBuilder(cfg config.IndexerConfig, storeCfg config.StoreConfig, opts ...Option) *Builder {
	b := &Builder{
		cfg:      cfg,
		storeCfg: storeCfg,
		logger:   slog.Default().With("component", "indexer"),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build indexes every document under <root>/<DocumentDir> whose name ends in
// the configured extension and replaces the live index with the result.
//
// Precondition failures, store open/close failures, schema failures and
// context cancellation abort the build and leave the live index untouched.
// Documents that cannot be read, contain no terms, or fail to commit are
// logged, counted and left out.
func (b *Builder) Build(ctx context.Context, root string) (*BuildStats, error) {
	start := time.Now()
	stats := &BuildStats{BuildID: uuid.NewString()}
	logger := b.logger.With("build_id", stats.BuildID)

	ctx, span := tracing.Start(ctx, "index.build")
	defer func() {
		span.End()
		if b.tracing {
			span.Log(logger)
		}
	}()

	root = filepath.Clean(root)
	docDir, err := b.checkPaths(root)
	if err != nil {
		b.recordBuild("path_error", 0)
		return nil, err
	}
	logger.Info("starting index build", "root", root, "document_dir", docDir, "driver", b.storeCfg.Driver)

	st, err := store.OpenStaging(ctx, b.storeCfg)
	if err != nil {
		b.recordBuild("store_error", 0)
		return nil, err
	}
	defer st.Discard()

	if err := st.CreateSchema(ctx); err != nil {
		b.recordBuild("schema_error", 0)
		return nil, err
	}
	if b.afterSchema != nil {
		if err := b.afterSchema(ctx, st); err != nil {
			b.recordBuild("schema_error", 0)
			return nil, fmt.Errorf("%w: %v", apperrors.ErrSchema, err)
		}
	}

	walkCtx, walkSpan := tracing.Start(ctx, "index.walk")
	err = b.walk(walkCtx, st, root, docDir, stats, logger)
	walkSpan.SetAttr("scanned", stats.Scanned)
	walkSpan.SetAttr("indexed", stats.Indexed)
	walkSpan.End()
	if err != nil {
		b.recordBuild("aborted", 0)
		return nil, err
	}

	if counts, err := st.Stats(ctx); err != nil {
		logger.Warn("counting index rows failed", "error", err)
	} else {
		stats.Words = counts.Words
		stats.Postings = counts.Postings
	}

	_, promoteSpan := tracing.Start(ctx, "index.promote")
	err = st.Promote()
	promoteSpan.End()
	if err != nil {
		b.recordBuild("store_error", 0)
		return nil, err
	}

	stats.Duration = time.Since(start)
	span.SetAttr("documents", stats.Indexed)
	b.recordBuild("success", stats.Duration)
	logger.Info("index build complete",
		"scanned", stats.Scanned,
		"indexed", stats.Indexed,
		"skipped_unreadable", stats.SkippedUnreadable,
		"skipped_empty", stats.SkippedEmpty,
		"failed", stats.Failed,
		"words", stats.Words,
		"postings", stats.Postings,
		"duration", stats.Duration,
	)
	b.announce(ctx, stats, logger)
	return stats, nil
}

func (b *Builder) checkPaths(root string) (string, error) {
	info, err := os.Stat(root)
	if err != nil {
		return "", fmt.Errorf("%w: %v", apperrors.ErrPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", apperrors.ErrPath, root)
	}
	docDir := filepath.Join(root, b.cfg.DocumentDir)
	info, err = os.Stat(docDir)
	if err != nil {
		return "", fmt.Errorf("%w: document directory: %v", apperrors.ErrPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s is not a directory", apperrors.ErrPath, docDir)
	}
	return docDir, nil
}

func (b *Builder) walk(ctx context.Context, st *store.Store, root, docDir string, stats *BuildStats, logger *slog.Logger) error {
	return filepath.WalkDir(docDir, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if walkErr != nil {
			if path == docDir {
				return fmt.Errorf("%w: reading document directory: %v", apperrors.ErrPath, walkErr)
			}
			logger.Warn("skipping unreadable directory entry", "path", path, "error", walkErr)
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || filepath.Ext(path) != b.cfg.Extension {
			return nil
		}

		stats.Scanned++
		if !d.Type().IsRegular() && d.Type()&fs.ModeSymlink == 0 {
			b.skip(stats, logger, path, fmt.Errorf("%w: not a regular file", apperrors.ErrFileRead))
			return nil
		}

		err := b.indexDocument(ctx, st, root, path)
		switch {
		case err == nil:
			stats.Indexed++
			if b.metrics != nil {
				b.metrics.DocsIndexedTotal.Inc()
			}
		case apperrors.IsDocumentError(err):
			b.skip(stats, logger, path, err)
		default:
			return err
		}
		return nil
	})
}

func (b *Builder) indexDocument(ctx context.Context, st *store.Store, root, path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrFileRead, err)
	}
	terms := tokenizer.Tokenize(string(content))
	if len(terms) == 0 {
		return apperrors.ErrEmptyContent
	}
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrFileRead, err)
	}
	rel = filepath.ToSlash(rel)

	err = st.InTx(ctx, func(tx *store.Tx) error {
		docID, err := tx.InsertDocument(ctx, rel)
		if err != nil {
			return err
		}
		// Sorted so that word ids are identical across rebuilds.
		for _, term := range terms.Sorted() {
			wordID, err := tx.UpsertWord(ctx, term)
			if err != nil {
				return err
			}
			if err := tx.InsertPosting(ctx, wordID, docID); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %v", apperrors.ErrPostingWrite, err)
	}
	return nil
}

func (b *Builder) skip(stats *BuildStats, logger *slog.Logger, path string, err error) {
	reason := metrics.SkipWriteError
	switch {
	case errors.Is(err, apperrors.ErrFileRead):
		stats.SkippedUnreadable++
		reason = metrics.SkipUnreadable
	case errors.Is(err, apperrors.ErrEmptyContent):
		stats.SkippedEmpty++
		reason = metrics.SkipEmpty
	default:
		stats.Failed++
	}
	logger.Warn("document skipped", "path", path, "reason", reason, "error", err)
	if b.metrics != nil {
		b.metrics.DocsSkippedTotal.WithLabelValues(reason).Inc()
	}
}

func (b *Builder) recordBuild(status string, d time.Duration) {
	if b.metrics == nil {
		return
	}
	b.metrics.BuildsTotal.WithLabelValues(status).Inc()
	if status == "success" {
		b.metrics.BuildDuration.Observe(d.Seconds())
	}
}

// announce publishes the build result. A failed notification does not undo
// the build; searchers pick up the new index on their next reload.
func (b *Builder) announce(ctx context.Context, stats *BuildStats, logger *slog.Logger) {
	if b.publisher == nil {
		return
	}
	event := analytics.IndexEvent{
		Type:              analytics.EventIndexComplete,
		BuildID:           stats.BuildID,
		Driver:            b.storeCfg.Driver,
		Documents:         stats.Indexed,
		SkippedUnreadable: stats.SkippedUnreadable,
		SkippedEmpty:      stats.SkippedEmpty,
		Failed:            stats.Failed,
		Words:             stats.Words,
		Postings:          stats.Postings,
		DurationMs:        stats.Duration.Milliseconds(),
		Timestamp:         time.Now().UTC(),
	}
	if b.storeCfg.Driver == config.DriverSQLite {
		event.Path = b.storeCfg.Path
	}
	if err := b.publisher.Publish(ctx, kafka.Event{Key: stats.BuildID, Value: event}); err != nil {
		logger.Warn("publishing build notification failed", "error", err)
	}
}
