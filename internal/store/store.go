// Package store persists the inverted index in a relational database using
// the join-table schema documents / words / word_document. SQLite is the
// default backend and keeps the index in a single file; PostgreSQL is
// supported for shared deployments.
//
// A build writes into a staging store obtained from OpenStaging and makes it
// live with Promote. For SQLite the staging store is a temporary file renamed
// over the live one. For PostgreSQL it is a set of *_build tables that
// Promote renames over the live tables in one transaction. Either way an
// interrupted build leaves the previous index in place.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

const (
	stagingSuffix = ".tmp"

	cleanupTimeout = 30 * time.Second
)

// Document is a row of the documents table.
type Document struct {
	ID   int64  `json:"doc_id"`
	Path string `json:"path"`
}

// Word is a row of the words table.
type Word struct {
	ID    int64  `json:"word_id"`
	Token string `json:"token"`
}

// Posting is a row of the word_document table.
type Posting struct {
	WordID int64 `json:"word_id"`
	DocID  int64 `json:"doc_id"`
}

// Store wraps a database handle holding one index.
type Store struct {
	db      *sql.DB
	dialect dialect
	cfg     config.StoreConfig
	logger  *slog.Logger

	staging     bool
	stagingPath string // temporary file of a file-backed staging store
	tables      string // suffix of the table names this handle uses
	closed      bool
}

// Open connects to the live index for reading.
func Open(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, err := d.readDSN(cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, d, dsn, cfg, false, "")
}

// OpenStaging connects to the store a full rebuild writes into. Any stale
// staging artifact from an interrupted build is removed first.
func OpenStaging(ctx context.Context, cfg config.StoreConfig) (*Store, error) {
	d, err := dialectFor(cfg.Driver)
	if err != nil {
		return nil, err
	}
	dsn, path, err := d.stagingDSN(cfg)
	if err != nil {
		return nil, err
	}
	return connect(ctx, d, dsn, cfg, true, path)
}

func connect(ctx context.Context, d dialect, dsn string, cfg config.StoreConfig, staging bool, stagingPath string) (*Store, error) {
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %v", apperrors.ErrStoreOpen, d.driver, err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	if staging && d.singleWriter {
		db.SetMaxOpenConns(1)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: pinging %s: %v", apperrors.ErrStoreOpen, d.driver, err)
	}
	st := &Store{
		db:          db,
		dialect:     d,
		cfg:         cfg,
		staging:     staging,
		stagingPath: stagingPath,
		logger:      slog.Default().With("component", "store", "driver", d.driver),
	}
	if staging {
		st.tables = d.stagingTables
	}
	return st, nil
}

// DB exposes the underlying handle for maintenance and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Driver returns the database/sql driver name backing the store.
func (s *Store) Driver() string {
	return s.dialect.driver
}

// CreateSchema drops the index tables if present and creates them empty. On
// a staging store these are the staging tables; the live index is untouched.
func (s *Store) CreateSchema(ctx context.Context) error {
	for _, stmt := range s.dialect.schema {
		if _, err := s.db.ExecContext(ctx, tableNames(stmt, s.tables)); err != nil {
			return fmt.Errorf("%w: %v", apperrors.ErrSchema, err)
		}
	}
	s.logger.Debug("schema created")
	return nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close releases the database handle. On a staging store it behaves like
// Discard.
func (s *Store) Close() error {
	if s.staging {
		return s.Discard()
	}
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing: %v", apperrors.ErrStoreOpen, err)
	}
	return nil
}

// Promote makes a staging store the live index and closes it. If Promote
// fails the previous index is still live.
func (s *Store) Promote() error {
	if s.closed {
		return fmt.Errorf("%w: promote on closed store", apperrors.ErrStoreOpen)
	}
	if !s.staging {
		return fmt.Errorf("%w: promote on live store", apperrors.ErrStoreOpen)
	}
	if s.tables != "" {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		err := s.InTx(ctx, func(tx *Tx) error {
			for _, stmt := range promoteStatements(s.tables) {
				if _, err := tx.tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("%s: %w", stmt, err)
				}
			}
			return nil
		})
		cancel()
		if err != nil {
			discardErr := s.Discard()
			return errors.Join(fmt.Errorf("%w: promoting staging tables: %v", apperrors.ErrStoreOpen, err), discardErr)
		}
	}
	s.closed = true
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("%w: closing staging store: %v", apperrors.ErrStoreOpen, err)
	}
	if s.stagingPath == "" || !s.dialect.fileBacked {
		s.logger.Info("index promoted")
		return nil
	}
	if err := os.Rename(s.stagingPath, s.cfg.Path); err != nil {
		return fmt.Errorf("%w: replacing %s: %v", apperrors.ErrStoreOpen, s.cfg.Path, err)
	}
	s.logger.Info("index promoted", "path", s.cfg.Path)
	return nil
}

// Discard drops the staging artifact without making it live and closes the
// store. It is safe to call after Promote, in which case it does nothing.
func (s *Store) Discard() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if s.tables != "" {
		// The build context is usually cancelled by now.
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		for _, stmt := range dropStatements(s.tables) {
			if _, err := s.db.ExecContext(ctx, stmt); err != nil {
				s.logger.Warn("dropping staging table", "statement", stmt, "error", err)
			}
		}
		cancel()
	}
	err := s.db.Close()
	if s.stagingPath != "" && s.dialect.fileBacked {
		if rmErr := os.Remove(s.stagingPath); rmErr != nil && !os.IsNotExist(rmErr) {
			s.logger.Warn("removing staging index", "path", s.stagingPath, "error", rmErr)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: closing: %v", apperrors.ErrStoreOpen, err)
	}
	return nil
}

// bind resolves table placeholders for this handle and rebinds parameters.
func (s *Store) bind(query string) string {
	return s.rebind(tableNames(query, s.tables))
}

// rebind rewrites '?' placeholders into the dialect's form.
func (s *Store) rebind(query string) string {
	if !s.dialect.numberedParams {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
