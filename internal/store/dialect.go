package store

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/wikisearch/pkg/errors"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// buildTableSuffix names the tables a PostgreSQL rebuild writes into before
// Promote renames them over the live ones.
const buildTableSuffix = "_build"

type dialect struct {
	driver         string
	schema         []string
	numberedParams bool
	fileBacked     bool
	singleWriter   bool
	// stagingTables is the suffix of the tables a staging store writes. It is
	// empty when staging is a separate file holding live-named tables.
	stagingTables string
	readDSN       func(cfg config.StoreConfig) (string, error)
	stagingDSN    func(cfg config.StoreConfig) (dsn string, staging string, err error)
}

// indexTable lists a table's named constraints and owned sequences so that a
// promoted build can take over the live names.
type indexTable struct {
	name        string
	constraints []string
	sequences   []string
}

// indexTables is in creation order; drops run in reverse.
var indexTables = []indexTable{
	{name: "documents", constraints: []string{"pkey"}, sequences: []string{"doc_id_seq"}},
	{name: "words", constraints: []string{"pkey", "token_key"}, sequences: []string{"word_id_seq"}},
	{name: "word_document", constraints: []string{"pkey", "word_id_fkey", "doc_id_fkey"}},
}

// tableNames rewrites {documents}, {words} and {word_document} into the
// table names carrying suffix.
func tableNames(query, suffix string) string {
	pairs := make([]string, 0, 2*len(indexTables))
	for _, t := range indexTables {
		pairs = append(pairs, "{"+t.name+"}", t.name+suffix)
	}
	return strings.NewReplacer(pairs...).Replace(query)
}

func dropStatements(suffix string) []string {
	stmts := make([]string, 0, len(indexTables))
	for i := len(indexTables) - 1; i >= 0; i-- {
		stmts = append(stmts, `DROP TABLE IF EXISTS `+indexTables[i].name+suffix)
	}
	return stmts
}

// promoteStatements replaces the live tables with the ones carrying suffix.
// They run in a single transaction, so readers see either index in full.
func promoteStatements(suffix string) []string {
	stmts := dropStatements("")
	for _, t := range indexTables {
		staged := t.name + suffix
		stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s RENAME TO %s`, staged, t.name))
		for _, c := range t.constraints {
			stmts = append(stmts, fmt.Sprintf(`ALTER TABLE %s RENAME CONSTRAINT %s_%s TO %s_%s`,
				t.name, staged, c, t.name, c))
		}
		for _, seq := range t.sequences {
			stmts = append(stmts, fmt.Sprintf(`ALTER SEQUENCE %s_%s RENAME TO %s_%s`,
				staged, seq, t.name, seq))
		}
	}
	return stmts
}

var sqliteDialect = dialect{
	driver: config.DriverSQLite,
	schema: []string{
		`DROP TABLE IF EXISTS {word_document}`,
		`DROP TABLE IF EXISTS {words}`,
		`DROP TABLE IF EXISTS {documents}`,
		`CREATE TABLE {documents} (
			doc_id INTEGER PRIMARY KEY,
			path   TEXT NOT NULL
		)`,
		`CREATE TABLE {words} (
			word_id INTEGER PRIMARY KEY,
			token   TEXT NOT NULL UNIQUE
		)`,
		`CREATE TABLE {word_document} (
			word_id INTEGER NOT NULL REFERENCES {words}(word_id),
			doc_id  INTEGER NOT NULL REFERENCES {documents}(doc_id),
			PRIMARY KEY (word_id, doc_id)
		) WITHOUT ROWID`,
	},
	fileBacked:   true,
	singleWriter: true,
	readDSN: func(cfg config.StoreConfig) (string, error) {
		if _, err := os.Stat(cfg.Path); err != nil {
			return "", fmt.Errorf("%w: index file: %v", apperrors.ErrStoreOpen, err)
		}
		return sqliteDSN(cfg.Path, "ro"), nil
	},
	stagingDSN: func(cfg config.StoreConfig) (string, string, error) {
		staging := cfg.Path + stagingSuffix
		if dir := filepath.Dir(staging); dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return "", "", fmt.Errorf("%w: creating index directory: %v", apperrors.ErrStoreOpen, err)
			}
		}
		for _, stale := range []string{staging, staging + "-journal"} {
			if err := os.Remove(stale); err != nil && !os.IsNotExist(err) {
				return "", "", fmt.Errorf("%w: removing stale staging index: %v", apperrors.ErrStoreOpen, err)
			}
		}
		return sqliteDSN(staging, "rwc"), staging, nil
	},
}

// Constraint names are spelled out so promoteStatements can rename them.
var postgresDialect = dialect{
	driver: config.DriverPostgres,
	schema: []string{
		`DROP TABLE IF EXISTS {word_document}`,
		`DROP TABLE IF EXISTS {words}`,
		`DROP TABLE IF EXISTS {documents}`,
		`CREATE TABLE {documents} (
			doc_id BIGSERIAL,
			path   TEXT NOT NULL,
			CONSTRAINT {documents}_pkey PRIMARY KEY (doc_id)
		)`,
		`CREATE TABLE {words} (
			word_id BIGSERIAL,
			token   TEXT NOT NULL,
			CONSTRAINT {words}_pkey PRIMARY KEY (word_id),
			CONSTRAINT {words}_token_key UNIQUE (token)
		)`,
		`CREATE TABLE {word_document} (
			word_id BIGINT NOT NULL,
			doc_id  BIGINT NOT NULL,
			CONSTRAINT {word_document}_pkey PRIMARY KEY (word_id, doc_id),
			CONSTRAINT {word_document}_word_id_fkey FOREIGN KEY (word_id) REFERENCES {words}(word_id),
			CONSTRAINT {word_document}_doc_id_fkey FOREIGN KEY (doc_id) REFERENCES {documents}(doc_id)
		)`,
	},
	numberedParams: true,
	stagingTables:  buildTableSuffix,
	readDSN: func(cfg config.StoreConfig) (string, error) {
		return cfg.Postgres.DSN(), nil
	},
	stagingDSN: func(cfg config.StoreConfig) (string, string, error) {
		return cfg.Postgres.DSN(), "", nil
	},
}

func dialectFor(driver string) (dialect, error) {
	switch driver {
	case config.DriverSQLite:
		return sqliteDialect, nil
	case config.DriverPostgres:
		return postgresDialect, nil
	default:
		return dialect{}, fmt.Errorf("%w: unsupported driver %q", apperrors.ErrStoreOpen, driver)
	}
}

// sqliteDSN builds a go-sqlite3 URI filename with foreign keys enforced.
func sqliteDSN(path, mode string) string {
	q := url.Values{}
	q.Set("mode", mode)
	q.Set("_foreign_keys", "on")
	q.Set("_busy_timeout", "5000")
	return "file:" + path + "?" + q.Encode()
}
