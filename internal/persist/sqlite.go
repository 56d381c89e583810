package persist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/vyuha/server/internal/world"
)

// SQLiteBackend stores the document in a local database file. One
// connection serializes writers inside the process; the conditional
// UPDATE keeps other processes honest.
type SQLiteBackend struct {
	db *sql.DB
}

func OpenSQLite(ctx context.Context, path string) (*SQLiteBackend, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("sqlite %s: %w", pragma, err)
		}
	}
	if err := RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load(ctx context.Context) (*world.State, error) {
	var doc string
	err := b.db.QueryRowContext(ctx, `SELECT doc FROM world_state WHERE id = ?`, worldRowID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load world: %w", err)
	}
	return decodeState([]byte(doc))
}

func (b *SQLiteBackend) Save(ctx context.Context, s *world.State) error {
	doc, err := encodeState(s)
	if err != nil {
		return err
	}
	_, err = b.db.ExecContext(ctx,
		`INSERT INTO world_state (id, version, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT (id) DO UPDATE SET version = excluded.version, doc = excluded.doc, updated_at = CURRENT_TIMESTAMP`,
		worldRowID, int64(s.Version), string(doc),
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

func (b *SQLiteBackend) SaveIf(ctx context.Context, s *world.State, expected uint64) error {
	doc, err := encodeState(s)
	if err != nil {
		return err
	}
	var res sql.Result
	if expected == 0 {
		res, err = b.db.ExecContext(ctx,
			`INSERT INTO world_state (id, version, doc, updated_at) VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			 ON CONFLICT (id) DO NOTHING`,
			worldRowID, int64(s.Version), string(doc))
	} else {
		res, err = b.db.ExecContext(ctx,
			`UPDATE world_state SET version = ?, doc = ?, updated_at = CURRENT_TIMESTAMP
			 WHERE id = ? AND version = ?`,
			int64(s.Version), string(doc), worldRowID, int64(expected))
	}
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	if n == 0 {
		return ErrConflict
	}
	return nil
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
