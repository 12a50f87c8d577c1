// Package activity persists last-activity markers as epoch milliseconds.
package activity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SQLStore keeps markers in the activity_markers table.
type SQLStore struct {
	db *sql.DB
}

func NewSQLStore(db *sql.DB) *SQLStore {
	return &SQLStore{db: db}
}

func (s *SQLStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	var ms int64
	err := s.db.QueryRowContext(ctx, `SELECT last_activity_ms FROM activity_markers WHERE key = ?`, key).Scan(&ms)
	if err == sql.ErrNoRows {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load activity marker: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *SQLStore) Save(ctx context.Context, key string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_markers (key, last_activity_ms) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET last_activity_ms = excluded.last_activity_ms`,
		key, t.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("save activity marker: %w", err)
	}
	return nil
}

func (s *SQLStore) Clear(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM activity_markers WHERE key = ?`, key); err != nil {
		return fmt.Errorf("clear activity marker: %w", err)
	}
	return nil
}

// DeleteOlderThan removes markers last written before cutoff.
func (s *SQLStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM activity_markers WHERE last_activity_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("delete stale activity markers: %w", err)
	}
	count, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	return count, nil
}

const redisKeyPrefix = "activity:"

// RedisStore keeps markers as Redis strings. Keys expire after ttl so
// abandoned sessions do not accumulate.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(client *redis.Client, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl}
}

// DialRedis parses a redis:// URL and verifies the connection.
func DialRedis(ctx context.Context, url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (s *RedisStore) Load(ctx context.Context, key string) (time.Time, bool, error) {
	ms, err := s.client.Get(ctx, redisKeyPrefix+key).Int64()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load activity marker: %w", err)
	}
	return time.UnixMilli(ms), true, nil
}

func (s *RedisStore) Save(ctx context.Context, key string, t time.Time) error {
	if err := s.client.Set(ctx, redisKeyPrefix+key, t.UnixMilli(), s.ttl).Err(); err != nil {
		return fmt.Errorf("save activity marker: %w", err)
	}
	return nil
}

func (s *RedisStore) Clear(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, redisKeyPrefix+key).Err(); err != nil {
		return fmt.Errorf("clear activity marker: %w", err)
	}
	return nil
}
