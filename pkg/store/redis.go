package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// RedisStore persists keys under a common prefix and broadcasts change events
// over a pub/sub channel, giving every connected process the equivalent of a
// cross-tab storage-changed event. Last writer wins; there is no cross-process
// lock.
type RedisStore struct {
	client  *redis.Client
	prefix  string
	channel string
	origin  string
}

// RedisConfig configures a RedisStore.
type RedisConfig struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int
	Prefix     string
}

// NewRedisStore connects to Redis and verifies the connection.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB >= 0 {
		opts.DB = cfg.DB
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "leadstore"
	}

	return &RedisStore{
		client:  client,
		prefix:  prefix,
		channel: prefix + ":changes",
		origin:  uuid.NewString(),
	}, nil
}

// Origin returns this store's writer identity, attached to published change
// events so subscribers can skip their own writes.
func (s *RedisStore) Origin() string { return s.origin }

// Get implements Store.
func (s *RedisStore) Get(key string) ([]byte, error) {
	ctx := context.Background()
	data, err := s.client.Get(ctx, s.nsKey(key)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}
	return data, nil
}

// Set implements Store and publishes a change event.
func (s *RedisStore) Set(key string, value []byte) error {
	ctx := context.Background()
	if err := s.client.Set(ctx, s.nsKey(key), value, 0).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	s.publish(ctx, ChangeEvent{Key: key, NewValue: value, Origin: s.origin})
	return nil
}

// Remove implements Store and publishes a removal event.
func (s *RedisStore) Remove(key string) error {
	ctx := context.Background()
	if err := s.client.Del(ctx, s.nsKey(key)).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	s.publish(ctx, ChangeEvent{Key: key, Removed: true, Origin: s.origin})
	return nil
}

// Keys implements Store.
func (s *RedisStore) Keys() ([]string, error) {
	ctx := context.Background()
	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":kv:*", 0).Iterator()
	strip := len(s.prefix) + len(":kv:")
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[strip:])
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan failed: %w", err)
	}
	return keys, nil
}

// Close implements Store.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// EstimateQuota implements QuotaReporter from Redis INFO memory. Without a
// configured maxmemory no quota is reported.
func (s *RedisStore) EstimateQuota(ctx context.Context) (Quota, error) {
	used, err := s.infoInt(ctx, "used_memory")
	if err != nil {
		return Quota{}, err
	}
	max, err := s.infoInt(ctx, "maxmemory")
	if err != nil {
		return Quota{}, err
	}
	if max <= 0 {
		return Quota{}, fmt.Errorf("redis store: maxmemory not configured")
	}
	return Quota{Limit: max, Usage: used}, nil
}

// Watch implements Watcher via pub/sub on the store's change channel.
// Malformed messages are dropped; a bad publisher must never take down a
// subscriber.
func (s *RedisStore) Watch(ctx context.Context) (<-chan ChangeEvent, error) {
	sub := s.client.Subscribe(ctx, s.channel)
	// Force the subscription before returning so callers don't miss events.
	if _, err := sub.Receive(ctx); err != nil {
		sub.Close()
		return nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	ch := make(chan ChangeEvent, 64)
	go func() {
		defer close(ch)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ev ChangeEvent
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *RedisStore) publish(ctx context.Context, ev ChangeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	// Publish is best-effort; a missed event only delays observers until
	// their next load.
	s.client.Publish(ctx, s.channel, payload)
}

func (s *RedisStore) infoInt(ctx context.Context, field string) (int64, error) {
	info, err := s.client.Info(ctx, "memory").Result()
	if err != nil {
		return 0, fmt.Errorf("redis info failed: %w", err)
	}
	for _, line := range splitLines(info) {
		if len(line) > len(field)+1 && line[:len(field)] == field && line[len(field)] == ':' {
			v, err := strconv.ParseInt(line[len(field)+1:], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("unparsable %s value: %w", field, err)
			}
			return v, nil
		}
	}
	return 0, fmt.Errorf("field %s missing from redis info", field)
}

func (s *RedisStore) nsKey(key string) string {
	return s.prefix + ":kv:" + key
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			line := s[start:i]
			if len(line) > 0 && line[len(line)-1] == '\r' {
				line = line[:len(line)-1]
			}
			lines = append(lines, line)
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}
