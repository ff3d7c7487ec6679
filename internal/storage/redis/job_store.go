// Package redis stores jobs in Redis as JSON values with a TTL.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/iantaiahn/topicscraper/internal/jobs"
)

// DefaultTTL is how long a job survives its last update.
const DefaultTTL = time.Hour

const scanCount = 100

// Config captures the connection and key settings.
type Config struct {
	Addr        string        `mapstructure:"addr"`
	Password    string        `mapstructure:"password"`
	DB          int           `mapstructure:"db"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	TTL         time.Duration `mapstructure:"ttl"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
}

// NewClient opens a client and verifies it with PING.
func NewClient(ctx context.Context, cfg Config) (*goredis.Client, error) {
	timeout := cfg.DialTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// JobStore implements jobs.Store on Redis. Every write refreshes the TTL.
// Read-modify-write updates are serialised within the process.
type JobStore struct {
	client *goredis.Client
	ttl    time.Duration
	prefix string
	now    func() time.Time

	mu sync.Mutex
}

// NewJobStore wraps an open client.
func NewJobStore(client *goredis.Client, cfg Config) *JobStore {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "job:"
	}
	return &JobStore{
		client: client,
		ttl:    ttl,
		prefix: prefix,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *JobStore) key(id string) string {
	return s.prefix + id
}

// Create stores a new job unless the ID is taken.
func (s *JobStore) Create(ctx context.Context, job jobs.Job) error {
	if job.UpdatedAt.IsZero() {
		job.UpdatedAt = s.now()
	}
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(job.ID), string(data), s.ttl).Result()
	if err != nil {
		return fmt.Errorf("redis setnx: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s", jobs.ErrExists, job.ID)
	}
	return nil
}

// Get fetches a job by ID.
func (s *JobStore) Get(ctx context.Context, id string) (jobs.Job, error) {
	raw, err := s.client.Get(ctx, s.key(id)).Result()
	if errors.Is(err, goredis.Nil) {
		return jobs.Job{}, fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	if err != nil {
		return jobs.Job{}, fmt.Errorf("redis get: %w", err)
	}
	return decode(raw)
}

// Update applies a partial update and writes the job back.
func (s *JobStore) Update(ctx context.Context, id string, update jobs.Update) (jobs.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.Get(ctx, id)
	if err != nil {
		return jobs.Job{}, err
	}
	if update.At.IsZero() {
		update.At = s.now()
	}
	job, changed := update.Apply(job)
	if !changed {
		return job, nil
	}
	data, err := json.Marshal(job)
	if err != nil {
		return jobs.Job{}, fmt.Errorf("marshal job: %w", err)
	}
	if err := s.client.Set(ctx, s.key(id), string(data), s.ttl).Err(); err != nil {
		return jobs.Job{}, fmt.Errorf("redis set: %w", err)
	}
	return job, nil
}

// Delete removes a job.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	n, err := s.client.Del(ctx, s.key(id)).Result()
	if err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", jobs.ErrNotFound, id)
	}
	return nil
}

// List scans all job keys and returns the live jobs, oldest first.
func (s *JobStore) List(ctx context.Context) ([]jobs.Job, error) {
	var keys []string
	var cursor uint64
	for {
		batch, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", scanCount).Result()
		if err != nil {
			return nil, fmt.Errorf("redis scan: %w", err)
		}
		keys = append(keys, batch...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	if len(keys) == 0 {
		return []jobs.Job{}, nil
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget: %w", err)
	}
	out := make([]jobs.Job, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			// Expired between SCAN and MGET.
			continue
		}
		job, err := decode(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return strings.Compare(out[i].ID, out[j].ID) < 0
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Ping checks connectivity.
func (s *JobStore) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the client.
func (s *JobStore) Close() error {
	if err := s.client.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}

func decode(raw string) (jobs.Job, error) {
	var job jobs.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return jobs.Job{}, fmt.Errorf("decode job: %w", err)
	}
	return job, nil
}
