package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore keeps submission replies in PostgreSQL so panel instances
// that sign with the same key answer a replayed submission identically.
//
// A live row is never overwritten: the first instance to record a reply for
// a key owns it until the window closes. Expiry is judged against the
// caller's clock, not the database's, so it agrees with the other stores.
type PostgresStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS panel_submissions (
    submission_key TEXT PRIMARY KEY,
    action TEXT NOT NULL CHECK (action IN ('pay', 'setPrice', 'withdraw')),
    status_code SMALLINT NOT NULL,
    response BYTEA NOT NULL,
    submitted_at TIMESTAMPTZ NOT NULL,
    replay_until TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS panel_submissions_replay_until_idx
    ON panel_submissions (replay_until);
`

// NewPostgresStore connects, ensures the schema and drops replies whose
// window closed while no instance was running.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create submissions schema: %w", err)
	}

	store := &PostgresStore{pool: pool, now: time.Now}
	if _, err := store.PurgeExpired(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Get returns the recorded reply while its replay window is open.
func (p *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	row := p.pool.QueryRow(ctx, `
SELECT action, status_code, response, submitted_at, replay_until
FROM panel_submissions
WHERE submission_key = $1 AND replay_until >= $2
`, key, p.now())

	var (
		rec    Record
		status int16
	)
	if err := row.Scan(&rec.Action, &status, &rec.Response, &rec.CreatedAt, &rec.ExpiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	rec.StatusCode = int(status)
	return &rec, nil
}

// Save records a reply. A key whose window is still open keeps its first
// reply; an expired one is taken over.
func (p *PostgresStore) Save(ctx context.Context, key string, record Record) error {
	_, err := p.pool.Exec(ctx, `
INSERT INTO panel_submissions (submission_key, action, status_code, response, submitted_at, replay_until)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (submission_key) DO UPDATE
SET action = EXCLUDED.action,
    status_code = EXCLUDED.status_code,
    response = EXCLUDED.response,
    submitted_at = EXCLUDED.submitted_at,
    replay_until = EXCLUDED.replay_until
WHERE panel_submissions.replay_until < $7
`, key, record.Action, int16(record.StatusCode), record.Response, record.CreatedAt, record.ExpiresAt, p.now())
	return err
}

// PurgeExpired deletes replies whose window has closed and reports how many
// were removed.
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	tag, err := p.pool.Exec(ctx, `DELETE FROM panel_submissions WHERE replay_until < $1`, p.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired submissions: %w", err)
	}
	return tag.RowsAffected(), nil
}
