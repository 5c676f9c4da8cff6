package store

import (
	"context"
	"database/sql"
	"fmt"
)

const (
	insertDocumentSQL = `INSERT INTO {documents} (path) VALUES (?) RETURNING doc_id`
	insertWordSQL     = `INSERT INTO {words} (token) VALUES (?) ON CONFLICT (token) DO NOTHING`
	selectWordSQL     = `SELECT word_id FROM {words} WHERE token = ?`
	insertPostingSQL  = `INSERT INTO {word_document} (word_id, doc_id) VALUES (?, ?) ON CONFLICT DO NOTHING`
)

// Tx is a write transaction on the index. Statements are prepared on first
// use and closed when the transaction ends.
type Tx struct {
	tx    *sql.Tx
	s     *Store
	stmts map[string]*sql.Stmt
}

// InTx runs fn inside a transaction. The transaction is rolled back if fn
// returns an error or panics and committed otherwise.
func (s *Store) InTx(ctx context.Context, fn func(tx *Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	tx := &Tx{tx: sqlTx, s: s, stmts: make(map[string]*sql.Stmt)}
	defer tx.closeStatements()
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return fmt.Errorf("rolling back transaction after error %v: %w", rbErr, err)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// InsertDocument adds a document row and returns its doc_id.
func (t *Tx) InsertDocument(ctx context.Context, path string) (int64, error) {
	stmt, err := t.prepare(ctx, insertDocumentSQL)
	if err != nil {
		return 0, err
	}
	var docID int64
	if err := stmt.QueryRowContext(ctx, path).Scan(&docID); err != nil {
		return 0, fmt.Errorf("inserting document %q: %w", path, err)
	}
	return docID, nil
}

// UpsertWord returns the word_id for token, inserting the word if it is new.
func (t *Tx) UpsertWord(ctx context.Context, token string) (int64, error) {
	insert, err := t.prepare(ctx, insertWordSQL)
	if err != nil {
		return 0, err
	}
	if _, err := insert.ExecContext(ctx, token); err != nil {
		return 0, fmt.Errorf("inserting word %q: %w", token, err)
	}
	sel, err := t.prepare(ctx, selectWordSQL)
	if err != nil {
		return 0, err
	}
	var wordID int64
	if err := sel.QueryRowContext(ctx, token).Scan(&wordID); err != nil {
		return 0, fmt.Errorf("looking up word %q: %w", token, err)
	}
	return wordID, nil
}

// InsertPosting records that the word occurs in the document. Inserting an
// existing edge is a no-op.
func (t *Tx) InsertPosting(ctx context.Context, wordID, docID int64) error {
	stmt, err := t.prepare(ctx, insertPostingSQL)
	if err != nil {
		return err
	}
	if _, err := stmt.ExecContext(ctx, wordID, docID); err != nil {
		return fmt.Errorf("inserting posting (%d, %d): %w", wordID, docID, err)
	}
	return nil
}

func (t *Tx) prepare(ctx context.Context, query string) (*sql.Stmt, error) {
	if stmt, ok := t.stmts[query]; ok {
		return stmt, nil
	}
	stmt, err := t.tx.PrepareContext(ctx, t.s.bind(query))
	if err != nil {
		return nil, fmt.Errorf("preparing statement: %w", err)
	}
	t.stmts[query] = stmt
	return stmt, nil
}

func (t *Tx) closeStatements() {
	for _, stmt := range t.stmts {
		stmt.Close()
	}
}
