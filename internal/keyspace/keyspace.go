// Package keyspace provides type-tolerant read primitives over the Redis
// keyspace written by the queue runtime. Every operation returns a neutral
// zero value for missing keys or keys of an unexpected type; only transport
// failures surface as errors. This is the single package that touches Redis.
package keyspace

import (
	"context"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"arq-dashboard/internal/arqerrors"
	"arq-dashboard/internal/telemetry"
)

// Accessor wraps a shared Redis client. The client is created once at
// startup and injected; go-redis multiplexes it safely across goroutines.
type Accessor struct {
	client    *redis.Client
	scanCount int64
}

// New constructs an accessor. scanCount bounds the per-round-trip page size
// of cursor scans; values <= 0 fall back to 100.
func New(client *redis.Client, scanCount int64) *Accessor {
	if scanCount <= 0 {
		scanCount = 100
	}
	return &Accessor{client: client, scanCount: scanCount}
}

// Depth returns the number of members in a sorted set or list, 0 for a
// missing key or any other type.
func (a *Accessor) Depth(ctx context.Context, key string) (int64, error) {
	kind, err := a.keyType(ctx, key)
	if err != nil {
		return 0, err
	}
	switch kind {
	case "zset":
		n, err := a.client.ZCard(ctx, key).Result()
		return n, a.wrap("zcard", key, err)
	case "list":
		n, err := a.client.LLen(ctx, key).Result()
		return n, a.wrap("llen", key, err)
	default:
		return 0, nil
	}
}

// Members returns the member identifiers of a sorted set (by ascending
// score) or list (by position). Any other type yields an empty slice.
func (a *Accessor) Members(ctx context.Context, key string) ([]string, error) {
	kind, err := a.keyType(ctx, key)
	if err != nil {
		return nil, err
	}
	switch kind {
	case "zset":
		vals, err := a.client.ZRange(ctx, key, 0, -1).Result()
		return vals, a.wrap("zrange", key, err)
	case "list":
		vals, err := a.client.LRange(ctx, key, 0, -1).Result()
		return vals, a.wrap("lrange", key, err)
	default:
		return nil, nil
	}
}

// HashContents returns the full field map of a hash, empty for a missing or
// non-hash key.
func (a *Accessor) HashContents(ctx context.Context, key string) (map[string]string, error) {
	vals, err := a.client.HGetAll(ctx, key).Result()
	if err != nil {
		if isWrongType(err) {
			return map[string]string{}, nil
		}
		return nil, a.wrap("hgetall", key, err)
	}
	return vals, nil
}

// HashSize returns the number of fields in a hash, 0 for a missing or
// non-hash key.
func (a *Accessor) HashSize(ctx context.Context, key string) (int64, error) {
	n, err := a.client.HLen(ctx, key).Result()
	if err != nil {
		if isWrongType(err) {
			return 0, nil
		}
		return 0, a.wrap("hlen", key, err)
	}
	return n, nil
}

// HashField returns one hash field and whether it was present.
func (a *Accessor) HashField(ctx context.Context, key, field string) (string, bool, error) {
	v, err := a.client.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		if isWrongType(err) {
			return "", false, nil
		}
		return "", false, a.wrap("hget", key, err)
	}
	return v, true, nil
}

// RawBytes fetches a string key's value as bytes. Missing or non-string
// keys yield nil.
func (a *Accessor) RawBytes(ctx context.Context, key string) ([]byte, error) {
	b, err := a.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		if isWrongType(err) {
			return nil, nil
		}
		return nil, a.wrap("get", key, err)
	}
	return b, nil
}

// ZScore reports whether member is in the sorted set at key.
func (a *Accessor) ZScore(ctx context.Context, key, member string) (bool, error) {
	_, err := a.client.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		if isWrongType(err) {
			return false, nil
		}
		return false, a.wrap("zscore", key, err)
	}
	return true, nil
}

// Exists reports whether key is present.
func (a *Accessor) Exists(ctx context.Context, key string) (bool, error) {
	n, err := a.client.Exists(ctx, key).Result()
	if err != nil {
		return false, a.wrap("exists", key, err)
	}
	return n > 0, nil
}

// ScanKeys walks keys matching pattern with a bounded cursor scan, invoking
// fn for each key. The loop ends when the cursor cycles back to 0, when
// limit keys have been visited (limit <= 0 means unbounded), or when fn
// returns an error, which is propagated.
func (a *Accessor) ScanKeys(ctx context.Context, pattern string, limit int, fn func(key string) error) error {
	var cursor uint64
	seen := 0
	for {
		keys, next, err := a.client.Scan(ctx, cursor, pattern, a.scanCount).Result()
		if err != nil {
			return a.wrap("scan", pattern, err)
		}
		for _, key := range keys {
			telemetry.KeysScanned.Inc()
			if err := fn(key); err != nil {
				return err
			}
			seen++
			if limit > 0 && seen >= limit {
				return nil
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Ping measures a round trip to the store.
func (a *Accessor) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	if err := a.client.Ping(ctx).Err(); err != nil {
		return 0, a.wrap("ping", "", err)
	}
	return time.Since(start), nil
}

func (a *Accessor) keyType(ctx context.Context, key string) (string, error) {
	kind, err := a.client.Type(ctx, key).Result()
	if err != nil {
		return "", a.wrap("type", key, err)
	}
	return kind, nil
}

func (a *Accessor) wrap(op, key string, err error) error {
	if err == nil {
		return nil
	}
	return &arqerrors.TransportError{Op: op, Key: key, Err: err}
}

func isWrongType(err error) bool {
	return err != nil && strings.HasPrefix(err.Error(), "WRONGTYPE")
}
