package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// maxBindParams keeps IN lists well below SQLite's and PostgreSQL's limits.
const maxBindParams = 500

// Stats summarises the size of an index.
type Stats struct {
	Documents int64 `json:"documents"`
	Words     int64 `json:"words"`
	Postings  int64 `json:"postings"`
}

// Snapshot is the full content of an index in ascending key order.
type Snapshot struct {
	Documents []Document
	Words     []Word
	Postings  []Posting
}

// DocIDsForToken returns the ids of the documents posted against token in
// ascending order. An unknown token yields an empty slice.
func (s *Store) DocIDsForToken(ctx context.Context, token string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, s.bind(`
		SELECT wd.doc_id
		FROM {word_document} wd
		JOIN {words} w ON w.word_id = wd.word_id
		WHERE w.token = ?
		ORDER BY wd.doc_id`), token)
	if err != nil {
		return nil, fmt.Errorf("querying postings for %q: %w", token, err)
	}
	defer rows.Close()

	ids := make([]int64, 0)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning posting for %q: %w", token, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating postings for %q: %w", token, err)
	}
	return ids, nil
}

// DocumentPaths maps document ids to their paths, returned in ascending id
// order. Ids with no document row are skipped.
func (s *Store) DocumentPaths(ctx context.Context, ids []int64) ([]string, error) {
	sorted := make([]int64, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	paths := make(map[int64]string, len(sorted))
	for start := 0; start < len(sorted); start += maxBindParams {
		end := min(start+maxBindParams, len(sorted))
		if err := s.loadPaths(ctx, sorted[start:end], paths); err != nil {
			return nil, err
		}
	}

	result := make([]string, 0, len(paths))
	for _, id := range sorted {
		if path, ok := paths[id]; ok {
			result = append(result, path)
			delete(paths, id)
		}
	}
	return result, nil
}

func (s *Store) loadPaths(ctx context.Context, ids []int64, into map[int64]string) error {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	query := `SELECT doc_id, path FROM {documents} WHERE doc_id IN (` +
		strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",") + `)`
	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return fmt.Errorf("querying document paths: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			id   int64
			path string
		)
		if err := rows.Scan(&id, &path); err != nil {
			return fmt.Errorf("scanning document path: %w", err)
		}
		into[id] = path
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating document paths: %w", err)
	}
	return nil
}

// Stats counts the rows of each index table.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	var st Stats
	counts := []struct {
		table string
		dest  *int64
	}{
		{"documents", &st.Documents},
		{"words", &st.Words},
		{"word_document", &st.Postings},
	}
	for _, c := range counts {
		if err := s.db.QueryRowContext(ctx, s.bind("SELECT COUNT(*) FROM {"+c.table+"}")).Scan(c.dest); err != nil {
			return Stats{}, fmt.Errorf("counting %s: %w", c.table, err)
		}
	}
	return st, nil
}

// Snapshot reads every document, word and posting.
func (s *Store) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := &Snapshot{}

	rows, err := s.db.QueryContext(ctx, s.bind(`SELECT doc_id, path FROM {documents} ORDER BY doc_id`))
	if err != nil {
		return nil, fmt.Errorf("reading documents: %w", err)
	}
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Path); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		snap.Documents = append(snap.Documents, d)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, s.bind(`SELECT word_id, token FROM {words} ORDER BY word_id`))
	if err != nil {
		return nil, fmt.Errorf("reading words: %w", err)
	}
	for rows.Next() {
		var w Word
		if err := rows.Scan(&w.ID, &w.Token); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning word: %w", err)
		}
		snap.Words = append(snap.Words, w)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, s.bind(`SELECT word_id, doc_id FROM {word_document} ORDER BY word_id, doc_id`))
	if err != nil {
		return nil, fmt.Errorf("reading postings: %w", err)
	}
	for rows.Next() {
		var p Posting
		if err := rows.Scan(&p.WordID, &p.DocID); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning posting: %w", err)
		}
		snap.Postings = append(snap.Postings, p)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return snap, nil
}

func closeRows(rows interface {
	Err() error
	Close() error
}) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("iterating rows: %w", err)
	}
	return rows.Close()
}
