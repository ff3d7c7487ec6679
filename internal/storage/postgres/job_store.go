// Package postgres stores jobs in a Postgres table. Rows carry an expiry
// timestamp so records age out the same way they do in the Redis store.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

// DefaultTTL is how long a job survives its last update.
const DefaultTTL = time.Hour

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the connection pool and the job table.
type Config struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxConns        int32         `mapstructure:"max_conns"`
	MinConns        int32         `mapstructure:"min_conns"`
	MaxConnLifetime time.Duration `mapstructure:"max_conn_lifetime"`
	TTL             time.Duration `mapstructure:"ttl"`
}

// Pool is the subset of *pgxpool.Pool the store uses.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// NewPool opens a connection pool and verifies it with a ping.
func NewPool(ctx context.Context, cfg Config) (*pgxpool.Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("postgres.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	return pool, nil
}

// JobStore implements jobs.Store on Postgres. The full job is kept as JSONB
// next to the columns used for filtering and ordering.
type JobStore struct {
	pool  Pool
	table string
	ttl   time.Duration
	now   func() time.Time
}

// NewJobStore wraps an open pool.
func NewJobStore(pool Pool, cfg Config) (*JobStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	table := cfg.Table
	if table == "" {
		table = "jobs"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JobStore{
		pool:  pool,
		table: table,
		ttl:   ttl,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

// EnsureSchema creates the job table and its indexes if missing.
func (s *JobStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %[1]s (
	id         TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	status     TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS %[1]s_expires_at_idx ON %[1]s (expires_at);
CREATE INDEX IF NOT EXISTS %[1]s_created_at_idx ON %[1]s (created_at, id);`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create job table: %w", err)
	}
	return nil
}

// Create stores a new job unless a live job holds the ID. An expired row
// with the same ID is replaced.
func (s *JobStore) Create(ctx context.Context, job jobs.Job) error {
	now := s.now()
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = now
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	query := fmt.Sprintf(`
INSERT INTO %[1]s (id, url, status, payload, created_at, updated_at, expires_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (id) DO UPDATE SET
	url = EXCLUDED.url,
	status = EXCLUDED.status,
	payload = EXCLUDED.payload,
	created_at = EXCLUDED.created_at,
	updated_at = EXCLUDED.updated_at,
	expires_at = EXCLUDED.expires_at
WHERE %[1]s.expires_at <= $8`, s.table)
	tag, err := s.pool.Exec(ctx, query,
		job.ID, job.URL, string(job.Status), payload, job.CreatedAt, job.UpdatedAt, now.Add(s.ttl), now)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrExists, job.ID)
	}
	return nil
}

// Get fetches a live job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1 AND expires_at > $2`, s.table)
	return s.scanOne(s.pool.QueryRow(ctx, query, id, s.now()), id)
}

// Update applies a partial update under a row lock and writes the job back.
func (s *JobStore) Update(ctx context.Context, id string, update jobs.Update) (jobs.Job, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("begin update: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := s.now()
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE id = $1 AND expires_at > $2 FOR UPDATE`, s.table)
	job, err := s.scanOne(tx.QueryRow(ctx, query, id, now), id)
	if err != nil {
		return jobs.Job{}, err
	}
	if update.At.IsZero() {
		update.At = now
	}
	job, changed := update.Apply(job)
	if !changed {
		return job, nil
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("marshal job: %w", err)
	}
	write := fmt.Sprintf(`UPDATE %s SET status = $1, payload = $2, updated_at = $3, expires_at = $4 WHERE id = $5`, s.table)
	if _, err := tx.Exec(ctx, write, string(job.Status), payload, job.UpdatedAt, now.Add(s.ttl), id); err != nil {
		return jobs.Job{}, fmt.Errorf("update job: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return jobs.Job{}, fmt.Errorf("commit update: %w", err)
	}
	return job, nil
}

// Delete removes a live job.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1 AND expires_at > $2`, s.table)
	tag, err := s.pool.Exec(ctx, query, id, s.now())
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return nil
}

// List returns the live jobs, oldest first.
func (s *JobStore) List(ctx context.Context) ([]jobs.Job, error) {
	query := fmt.Sprintf(`SELECT payload FROM %s WHERE expires_at > $1 ORDER BY created_at, id`, s.table)
	rows, err := s.pool.Query(ctx, query, s.now())
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	out := []jobs.Job{}
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		job, err := decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	return out, nil
}

// Purge deletes expired rows and returns how many were removed.
func (s *JobStore) Purge(ctx context.Context) (int64, error) {
	query := fmt.Sprintf(`DELETE FROM %s WHERE expires_at <= $1`, s.table)
	tag, err := s.pool.Exec(ctx, query, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *JobStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *JobStore) scanOne(row pgx.Row, id string) (jobs.Job, error) {
	var payload []byte
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
		}
		return jobs.Job{}, fmt.Errorf("select job: %w", err)
	}
	return decode(payload)
}

func decode(payload []byte) (jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal(payload, &job); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
