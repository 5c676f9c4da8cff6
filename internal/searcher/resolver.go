// Package searcher answers conjunctive keyword queries against the index
// produced by the indexer and keeps the serving handle current across
// rebuilds.
package searcher

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/tokenizer"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
)

// PostingReader is the read side of the store the resolver needs.
type PostingReader interface {
	DocIDsForToken(ctx context.Context, token string) ([]int64, error)
	DocumentPaths(ctx context.Context, ids []int64) ([]string, error)
}

// Resolver maps a free-text query to the paths of the documents containing
// every term of the query. It is safe for concurrent use.
type Resolver struct {
	mu         sync.RWMutex
	reader     PostingReader
	generation atomic.Uint64
	logger     *slog.Logger
}

func NewResolver(reader PostingReader) *Resolver {
	return &Resolver{
		reader: reader,
		logger: slog.Default().With("component", "query-resolver"),
	}
}

// Query tokenizes raw with the indexing tokenizer and returns the matching
// document paths in ascending document id order. A query with no usable terms
// matches nothing and does not touch the store. Store failures are reported
// as ErrQueryStore; partial results are never returned.
func (r *Resolver) Query(ctx context.Context, raw string) ([]string, error) {
	terms := tokenizer.Tokenize(raw)
	if len(terms) == 0 {
		return []string{}, nil
	}
	return r.QueryTerms(ctx, terms.Sorted())
}

// QueryTerms is Query for an already tokenized, de-duplicated term list.
func (r *Resolver) QueryTerms(ctx context.Context, terms []string) ([]string, error) {
	if len(terms) == 0 {
		return []string{}, nil
	}

	// Held for the whole query so Swap returns only once no query still
	// uses the old reader.
	r.mu.RLock()
	defer r.mu.RUnlock()

	postings := make([][]int64, 0, len(terms))
	for _, term := range terms {
		ids, err := r.reader.DocIDsForToken(ctx, term)
		if err != nil {
			return nil, fmt.Errorf("%w: term %q: %v", apperrors.ErrQueryStore, term, err)
		}
		if len(ids) == 0 {
			r.logger.Debug("term not indexed", "term", term)
			return []string{}, nil
		}
		postings = append(postings, ids)
	}

	ids := intersect(postings)
	if len(ids) == 0 {
		return []string{}, nil
	}
	paths, err := r.reader.DocumentPaths(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("%w: loading document paths: %v", apperrors.ErrQueryStore, err)
	}
	r.logger.Debug("query resolved", "terms", terms, "results", len(paths))
	return paths, nil
}

// Swap installs reader as the backing index and returns the previous one.
// It waits for queries in flight against the previous reader to finish, so
// the caller may close it straight away.
func (r *Resolver) Swap(reader PostingReader) PostingReader {
	r.mu.Lock()
	defer r.mu.Unlock()
	old := r.reader
	r.reader = reader
	r.generation.Add(1)
	return old
}

// Generation counts the readers installed by Swap. Results computed before
// a swap belong to an older generation.
func (r *Resolver) Generation() uint64 {
	return r.generation.Load()
}

// Reader returns the current backing index.
func (r *Resolver) Reader() PostingReader {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.reader
}

// intersect returns the ids present in every list, ascending. Lists are
// visited shortest first so the candidate set only shrinks.
func intersect(postings [][]int64) []int64 {
	sort.Slice(postings, func(i, j int) bool { return len(postings[i]) < len(postings[j]) })

	candidates := make(map[int64]struct{}, len(postings[0]))
	for _, id := range postings[0] {
		candidates[id] = struct{}{}
	}
	for _, list := range postings[1:] {
		if len(candidates) == 0 {
			break
		}
		present := make(map[int64]struct{}, len(list))
		for _, id := range list {
			present[id] = struct{}{}
		}
		for id := range candidates {
			if _, ok := present[id]; !ok {
				delete(candidates, id)
			}
		}
	}

	ids := make([]int64, 0, len(candidates))
	for id := range candidates {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
