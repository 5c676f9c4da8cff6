package searcher

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/analytics"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/internal/searcher/cache"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
)

type countingInvalidator struct{ calls int }

func (c *countingInvalidator) Invalidate(context.Context) error {
	c.calls++
	return nil
}

func indexEvent(t *testing.T, buildID string) []byte {
	t.Helper()
	data, err := json.Marshal(analytics.IndexEvent{Type: analytics.EventIndexComplete, BuildID: buildID})
	if err != nil {
		t.Fatal(err)
	}
	return data
}

func TestReloaderSwapsAndInvalidates(t *testing.T) {
	old := sampleIndex()
	fresh := &memIndex{
		postings: map[string][]int64{"alpha": {4}},
		paths:    map[int64]string{4: "wiki/fresh.html"},
	}
	opens := 0
	open := func(context.Context, config.StoreConfig) (PostingReader, error) {
		opens++
		return fresh, nil
	}
	inv := &countingInvalidator{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	r := NewResolver(old)
	rl := NewReloader(r, config.Default().Store, open, inv, m)

	ctx := context.Background()
	if err := rl.HandleMessage(ctx, nil, indexEvent(t, "build-1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	// Redelivery of the same build is a no-op.
	if err := rl.HandleMessage(ctx, nil, indexEvent(t, "build-1")); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}

	if opens != 1 {
		t.Errorf("expected 1 open, got %d", opens)
	}
	if !old.closed {
		t.Error("previous handle was not closed")
	}
	if inv.calls != 1 {
		t.Errorf("expected 1 cache invalidation, got %d", inv.calls)
	}
	got, err := r.Query(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, []string{"wiki/fresh.html"}) {
		t.Errorf("resolver still serving old index: %v", got)
	}
	if v := testutil.ToFloat64(m.IndexReloadsTotal.WithLabelValues("success")); v != 1 {
		t.Errorf("expected 1 successful reload, got %v", v)
	}
}

func TestReloaderKeepsHandleOnFailure(t *testing.T) {
	old := sampleIndex()
	open := func(context.Context, config.StoreConfig) (PostingReader, error) {
		return nil, errors.New("index missing")
	}
	r := NewResolver(old)
	rl := NewReloader(r, config.Default().Store, open, nil, nil)

	if err := rl.HandleMessage(context.Background(), nil, indexEvent(t, "build-2")); err == nil {
		t.Fatal("expected reload error")
	}
	if old.closed {
		t.Error("current handle closed after failed reload")
	}
	if r.Reader() != PostingReader(old) {
		t.Error("resolver swapped despite failed reload")
	}
}

func TestReloaderIgnoresOtherEvents(t *testing.T) {
	opens := 0
	open := func(context.Context, config.StoreConfig) (PostingReader, error) {
		opens++
		return sampleIndex(), nil
	}
	rl := NewReloader(NewResolver(sampleIndex()), config.Default().Store, open, nil, nil)

	search, _ := json.Marshal(analytics.SearchEvent{Type: analytics.EventSearch, Query: "alpha"})
	for _, msg := range [][]byte{search, []byte("not json")} {
		if err := rl.HandleMessage(context.Background(), nil, msg); err != nil {
			t.Errorf("HandleMessage: %v", err)
		}
	}
	if opens != 0 {
		t.Errorf("expected no reloads, got %d", opens)
	}
}

// slowSetBackend is an in-memory cache backend whose Set can be held back
// to land after a reload.
type slowSetBackend struct {
	mu      sync.Mutex
	data    map[string]string
	hold    bool
	entered chan struct{}
	release chan struct{}
}

func (b *slowSetBackend) Get(_ context.Context, key string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.data[key]
	if !ok {
		return "", redis.Nil
	}
	return v, nil
}

func (b *slowSetBackend) Set(_ context.Context, key string, value any, _ time.Duration) error {
	b.mu.Lock()
	hold := b.hold
	b.mu.Unlock()
	if hold {
		b.entered <- struct{}{}
		<-b.release
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = string(value.([]byte))
	return nil
}

func (b *slowSetBackend) FlushByPattern(_ context.Context, pattern string) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var n int64
	for k := range b.data {
		if ok, _ := path.Match(pattern, k); ok {
			delete(b.data, k)
			n++
		}
	}
	return n, nil
}

func TestReloadHidesResultsCachedFromOldIndex(t *testing.T) {
	old := &memIndex{
		postings: map[string][]int64{"alpha": {1}},
		paths:    map[int64]string{1: "wiki/old.html"},
	}
	fresh := &memIndex{
		postings: map[string][]int64{"alpha": {7}},
		paths:    map[int64]string{7: "wiki/new.html"},
	}
	open := func(context.Context, config.StoreConfig) (PostingReader, error) {
		return fresh, nil
	}

	backend := &slowSetBackend{
		data:    make(map[string]string),
		hold:    true,
		entered: make(chan struct{}, 1),
		release: make(chan struct{}),
	}
	r := NewResolver(old)
	qc := cache.New(backend, time.Minute, cache.WithGeneration(r.Generation))
	rl := NewReloader(r, config.Default().Store, open, qc, nil)
	ctx := context.Background()
	terms := []string{"alpha"}

	done := make(chan error, 1)
	go func() {
		_, _, err := qc.GetOrCompute(ctx, terms, func() ([]string, error) {
			return r.QueryTerms(ctx, terms)
		})
		done <- err
	}()
	// The old result is computed and waiting to be written.
	<-backend.entered

	if err := rl.Reload(ctx); err != nil {
		t.Fatalf("Reload: %v", err)
	}
	close(backend.release)
	if err := <-done; err != nil {
		t.Fatal(err)
	}
	backend.mu.Lock()
	backend.hold = false
	backend.mu.Unlock()

	got, hit, err := qc.GetOrCompute(ctx, terms, func() ([]string, error) {
		return r.QueryTerms(ctx, terms)
	})
	if err != nil {
		t.Fatal(err)
	}
	if hit || !reflect.DeepEqual(got, []string{"wiki/new.html"}) {
		t.Errorf("after reload got %v (hit=%v), want [wiki/new.html] from the new index", got, hit)
	}
}
