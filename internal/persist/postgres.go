package persist

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/vyuha/server/internal/world"
)

// worldRowID is the primary key of the single world_state row.
const worldRowID = 1

// PostgresBackend stores the document in the world_state table.
type PostgresBackend struct {
	db       *DB
	ownsPool bool
}

// NewPostgresBackend uses db without taking ownership; Close leaves the
// pool open when ownsPool is false.
func NewPostgresBackend(db *DB, ownsPool bool) *PostgresBackend {
	return &PostgresBackend{db: db, ownsPool: ownsPool}
}

func (p *PostgresBackend) Load(ctx context.Context) (*world.State, error) {
	var doc string
	err := p.db.Pool.QueryRow(ctx,
		`SELECT doc::text FROM world_state WHERE id = $1`, worldRowID,
	).Scan(&doc)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNoState
	}
	if err != nil {
		return nil, fmt.Errorf("load world: %w", err)
	}
	return decodeState([]byte(doc))
}

func (p *PostgresBackend) Save(ctx context.Context, s *world.State) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	_, err = p.db.Pool.Exec(ctx,
		`INSERT INTO world_state (id, version, doc, updated_at)
		 VALUES ($1, $2, $3::jsonb, now())
		 ON CONFLICT (id) DO UPDATE SET version = EXCLUDED.version, doc = EXCLUDED.doc, updated_at = now()`,
		worldRowID, int64(s.Version), string(b),
	)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	return nil
}

func (p *PostgresBackend) SaveIf(ctx context.Context, s *world.State, expected uint64) error {
	b, err := encodeState(s)
	if err != nil {
		return err
	}
	var sql string
	args := []any{worldRowID, int64(s.Version), string(b)}
	if expected == 0 {
		sql = `INSERT INTO world_state (id, version, doc, updated_at)
		       VALUES ($1, $2, $3::jsonb, now())
		       ON CONFLICT (id) DO NOTHING`
	} else {
		sql = `UPDATE world_state SET version = $2, doc = $3::jsonb, updated_at = now()
		       WHERE id = $1 AND version = $4`
		args = append(args, int64(expected))
	}
	tag, err := p.db.Pool.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("save world: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrConflict
	}
	return nil
}

func (p *PostgresBackend) Close() error {
	if p.ownsPool {
		p.db.Close()
	}
	return nil
}
