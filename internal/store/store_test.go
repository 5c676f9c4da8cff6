package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) config.StoreConfig {
	t.Helper()
	cfg := config.Default().Store
	cfg.Path = filepath.Join(t.TempDir(), "index.db")
	return cfg
}

// buildIndex writes docs (path -> tokens) into a fresh live index.
func buildIndex(t *testing.T, cfg config.StoreConfig, docs map[string][]string, order []string) {
	t.Helper()
	ctx := context.Background()
	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	defer st.Discard()
	require.NoError(t, st.CreateSchema(ctx))
	for _, path := range order {
		err := st.InTx(ctx, func(tx *Tx) error {
			docID, err := tx.InsertDocument(ctx, path)
			if err != nil {
				return err
			}
			for _, token := range docs[path] {
				wordID, err := tx.UpsertWord(ctx, token)
				if err != nil {
					return err
				}
				if err := tx.InsertPosting(ctx, wordID, docID); err != nil {
					return err
				}
			}
			return nil
		})
		require.NoError(t, err)
	}
	require.NoError(t, st.Promote())
}

func TestStagingPromoteAndRead(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)

	buildIndex(t, cfg, map[string][]string{
		"wiki/a.html": {"alpha", "beta", "beta"},
		"wiki/b.html": {"beta", "gamma"},
	}, []string{"wiki/a.html", "wiki/b.html"})

	_, err := os.Stat(cfg.Path + stagingSuffix)
	assert.True(t, os.IsNotExist(err), "staging file should be renamed away")

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer st.Close()

	ids, err := st.DocIDsForToken(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids)

	ids, err = st.DocIDsForToken(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, ids)

	paths, err := st.DocumentPaths(ctx, []int64{2, 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki/a.html", "wiki/b.html"}, paths)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Documents: 2, Words: 3, Postings: 4}, stats)
}

func TestUpsertWordReusesExistingRow(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	defer st.Discard()
	require.NoError(t, st.CreateSchema(ctx))

	var first, second int64
	err = st.InTx(ctx, func(tx *Tx) error {
		var err error
		if first, err = tx.UpsertWord(ctx, "index"); err != nil {
			return err
		}
		second, err = tx.UpsertWord(ctx, "index")
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, first, second)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Words)
}

func TestInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	defer st.Discard()
	require.NoError(t, st.CreateSchema(ctx))

	boom := errors.New("boom")
	err = st.InTx(ctx, func(tx *Tx) error {
		docID, err := tx.InsertDocument(ctx, "wiki/broken.html")
		if err != nil {
			return err
		}
		wordID, err := tx.UpsertWord(ctx, "orphan")
		if err != nil {
			return err
		}
		if err := tx.InsertPosting(ctx, wordID, docID); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)

	stats, err := st.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{}, stats)
}

func TestPostingRequiresExistingRows(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	defer st.Discard()
	require.NoError(t, st.CreateSchema(ctx))

	err = st.InTx(ctx, func(tx *Tx) error {
		return tx.InsertPosting(ctx, 41, 42)
	})
	assert.Error(t, err, "foreign keys must reject dangling postings")
}

func TestDiscardKeepsPreviousIndex(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	buildIndex(t, cfg, map[string][]string{"wiki/old.html": {"old"}}, []string{"wiki/old.html"})

	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	require.NoError(t, st.CreateSchema(ctx))
	require.NoError(t, st.Discard())

	_, err = os.Stat(cfg.Path + stagingSuffix)
	assert.True(t, os.IsNotExist(err))

	live, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer live.Close()
	paths, err := live.DocumentPaths(ctx, []int64{1})
	require.NoError(t, err)
	assert.Equal(t, []string{"wiki/old.html"}, paths)
}

func TestOpenStagingRemovesStaleFile(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(cfg.Path+stagingSuffix, []byte("not a database"), 0o644))

	st, err := OpenStaging(ctx, cfg)
	require.NoError(t, err)
	defer st.Discard()
	require.NoError(t, st.CreateSchema(ctx))
}

func TestOpenMissingIndex(t *testing.T) {
	_, err := Open(context.Background(), testConfig(t))
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrStoreOpen)
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Driver = "mysql"
	_, err := OpenStaging(context.Background(), cfg)
	assert.ErrorIs(t, err, apperrors.ErrStoreOpen)
}

func TestDocumentPathsBatches(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	docs := make(map[string][]string)
	var order []string
	for i := 0; i < maxBindParams+25; i++ {
		path := fmt.Sprintf("wiki/doc%04d.html", i)
		docs[path] = []string{"common"}
		order = append(order, path)
	}
	buildIndex(t, cfg, docs, order)

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer st.Close()

	ids, err := st.DocIDsForToken(ctx, "common")
	require.NoError(t, err)
	require.Len(t, ids, len(order))

	paths, err := st.DocumentPaths(ctx, ids)
	require.NoError(t, err)
	assert.Equal(t, order, paths)
}

func TestSnapshot(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	buildIndex(t, cfg, map[string][]string{
		"wiki/a.html": {"alpha"},
		"wiki/b.html": {"alpha", "beta"},
	}, []string{"wiki/a.html", "wiki/b.html"})

	st, err := Open(ctx, cfg)
	require.NoError(t, err)
	defer st.Close()

	snap, err := st.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Document{{1, "wiki/a.html"}, {2, "wiki/b.html"}}, snap.Documents)
	assert.Equal(t, []Word{{1, "alpha"}, {2, "beta"}}, snap.Words)
	assert.Equal(t, []Posting{{1, 1}, {1, 2}, {2, 2}}, snap.Postings)
}

func TestRebind(t *testing.T) {
	pg := &Store{dialect: postgresDialect}
	assert.Equal(t, "SELECT a FROM t WHERE x = $1 AND y IN ($2,$3)",
		pg.rebind("SELECT a FROM t WHERE x = ? AND y IN (?,?)"))

	lite := &Store{dialect: sqliteDialect}
	assert.Equal(t, "x = ?", lite.rebind("x = ?"))
}
