package local

import (
	"context"
	"database/sql"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/sylorafashion-deenora/Deenora-tech/core"
	"github.com/sylorafashion-deenora/Deenora-tech/core/offline"
)

const schema = `CREATE TABLE IF NOT EXISTS kv (
	key        TEXT PRIMARY KEY,
	value      TEXT NOT NULL,
	updated_at INTEGER NOT NULL
)`

// SQLiteStore persists values in a single SQLite file.
// Several agent processes may share the file: updates run in immediate transactions.
type SQLiteStore struct {
	db      *sqlx.DB
	timeout time.Duration
	nowFunc func() time.Time // mockable
}

var _ offline.AtomicStore = (*SQLiteStore)(nil)

func sqliteDSN(path string) string {
	q := make(url.Values)
	q.Add("_pragma", "busy_timeout(5000)")
	q.Add("_pragma", "journal_mode(WAL)")
	q.Set("_txlock", "immediate")
	return "file:" + path + "?" + q.Encode()
}

// OpenSQLite opens, and creates if needed, the store at path.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "creating local store directory")
	}

	db, err := sqlx.Open("sqlite", sqliteDSN(path))
	if err != nil {
		return nil, errors.Wrap(err, "opening local store")
	}
	db.SetMaxOpenConns(1) // single writer
	db.SetMaxIdleConns(1)

	if _, err = db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "creating local store schema")
	}
	return &SQLiteStore{db: db, timeout: 5 * time.Second, nowFunc: time.Now}, nil
}

// Open returns the local store selected by the configuration.
func Open(conf core.LocalStoreConfig) (offline.AtomicStore, func() error, error) {
	switch conf.Driver {
	case "memory":
		return NewMemoryStore(), func() error { return nil }, nil
	case "sqlite", "":
		s, err := OpenSQLite(conf.Path)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	default:
		return nil, nil, errors.Errorf("unknown local store driver %q", conf.Driver)
	}
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.timeout)
}

func get(ctx context.Context, q sqlx.QueryerContext, key string) (string, bool, error) {
	var value string
	err := sqlx.GetContext(ctx, q, &value, "SELECT value FROM kv WHERE key = ?", key)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(err, "reading %s", key)
	}
	return value, true, nil
}

func (s *SQLiteStore) set(ctx context.Context, e sqlx.ExecerContext, key, value string) error {
	_, err := e.ExecContext(ctx,
		`INSERT INTO kv (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, s.nowFunc().UnixMilli(),
	)
	return errors.Wrapf(err, "writing %s", key)
}

func (s *SQLiteStore) Get(key string) (string, bool, error) {
	ctx, cancel := s.ctx()
	defer cancel()
	return get(ctx, s.db, key)
}

func (s *SQLiteStore) Set(key, value string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	return s.set(ctx, s.db, key, value)
}

func (s *SQLiteStore) Remove(key string) error {
	ctx, cancel := s.ctx()
	defer cancel()
	_, err := s.db.ExecContext(ctx, "DELETE FROM kv WHERE key = ?", key)
	return errors.Wrapf(err, "removing %s", key)
}

// Update runs fn on the current value of key and stores its result in one transaction.
// Nothing is written when fn fails.
func (s *SQLiteStore) Update(key string, fn offline.UpdateFunc) (err error) {
	ctx, cancel := s.ctx()
	defer cancel()

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	old, ok, err := get(ctx, tx, key)
	if err != nil {
		return err
	}
	val, err := fn(old, ok)
	if err != nil {
		return err
	}
	if err = s.set(ctx, tx, key, val); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}
