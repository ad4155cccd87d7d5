package pg

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pvzzle/paytrack/internal/storage"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ storage.SchemaStore = (*Postgres)(nil)

type Postgres struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Postgres { return &Postgres{pool: pool} }

// Connect opens a pool and pings it, retrying until maxElapsed.
func Connect(ctx context.Context, dsn string, maxElapsed time.Duration) (*pgxpool.Pool, error) {
	var pool *pgxpool.Pool

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = maxElapsed

	op := func() error {
		p, err := pgxpool.New(ctx, dsn)
		if err != nil {
			// a malformed DSN never gets better
			return backoff.Permanent(err)
		}
		if err := p.Ping(ctx); err != nil {
			p.Close()
			return err
		}
		pool = p
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, fmt.Errorf("pgxpool connect: %w", err)
	}
	return pool, nil
}

func (r *Postgres) EnsureSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS kv_store (
  key        TEXT PRIMARY KEY,
  value      BYTEA NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`
	_, err := r.pool.Exec(ctx, ddl)
	return err
}

func (r *Postgres) Load(ctx context.Context, key string) ([]byte, bool, error) {
	cctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var value []byte
	err := r.pool.QueryRow(cctx, `SELECT value FROM kv_store WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (r *Postgres) Save(ctx context.Context, key string, value []byte) error {
	cctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	q := `
INSERT INTO kv_store(key, value) VALUES ($1, $2)
ON CONFLICT(key) DO UPDATE SET
  value      = EXCLUDED.value,
  updated_at = now()
`
	_, err := r.pool.Exec(cctx, q, key, value)
	return err
}

func (r *Postgres) String() string { return fmt.Sprintf("pgstore(%p)", r.pool) }
