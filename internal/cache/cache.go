// Package cache implements the typed key/value store (component F) that
// backs candidates, status, heartbeat, and the strategy lock. No Go
// example in the retrieval pack talks to a network key-value store
// directly — the teacher caches everything in SQLite and in-process
// maps (see its ohlcvMemCache / histCache pair) — so this package is
// grounded on the system being replicated instead:
// original_source/backend/src/services/redis_service.py is the literal
// analog of this component, and its method surface
// (get/set/delete/exists/ttl/keys/incr plus a JSON wrapper) is mirrored
// here directly. go-redis/v9 is the de facto standard Go client for the
// server spec.md names explicitly via STORE_URL.
package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flipper1994/discovery-engine/internal/errs"
)

// Canonical key prefixes, per spec.md §4.F.
const (
	keyContenders     = "discovery:contenders:"
	keyContendersLast = "discovery:contenders:last:"
	keyStatus         = "discovery:status:"
	keyHeartbeat      = "worker:heartbeat"
	keyLock           = "discovery:lock:"
)

// Store wraps a Redis connection with the operations the discovery
// pipeline needs. Every call tolerates one transient connection loss by
// retrying the operation once, per spec.md §4.F.
type Store struct {
	rdb *redis.Client
}

// New builds a Store from a STORE_URL-style connection string
// (redis://host:port) and a logical database index.
func New(storeURL string, db int) (*Store, error) {
	opts, err := redis.ParseURL(storeURL)
	if err != nil {
		return nil, errs.Wrap(errs.KindConfiguration, "parse STORE_URL", err)
	}
	opts.DB = db
	return &Store{rdb: redis.NewClient(opts)}, nil
}

// Ping verifies connectivity, used at worker/gateway boot.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.withRetry(func() error { return s.rdb.Ping(ctx).Err() }); err != nil {
		return errs.Wrap(errs.KindCacheUnavailable, "ping store", err)
	}
	return nil
}

func (s *Store) withRetry(fn func() error) error {
	err := fn()
	if err == nil {
		return nil
	}
	return fn()
}

// Get returns the raw bytes at key, or (nil, false) if absent.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var val []byte
	err := s.withRetry(func() error {
		v, err := s.rdb.Get(ctx, key).Bytes()
		if err == redis.Nil {
			val = nil
			return nil
		}
		if err != nil {
			return err
		}
		val = v
		return nil
	})
	if err != nil {
		return nil, false, errs.Wrap(errs.KindCacheUnavailable, "get "+key, err)
	}
	return val, val != nil, nil
}

// Set writes value at key with the given TTL (0 means no expiry).
func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	err := s.withRetry(func() error {
		return s.rdb.Set(ctx, key, value, ttl).Err()
	})
	if err != nil {
		return errs.Wrap(errs.KindCacheUnavailable, "set "+key, err)
	}
	return nil
}

// Del removes key.
func (s *Store) Del(ctx context.Context, key string) error {
	err := s.withRetry(func() error {
		return s.rdb.Del(ctx, key).Err()
	})
	if err != nil {
		return errs.Wrap(errs.KindCacheUnavailable, "del "+key, err)
	}
	return nil
}

// Exists reports whether key is present.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	var n int64
	err := s.withRetry(func() error {
		v, err := s.rdb.Exists(ctx, key).Result()
		n = v
		return err
	})
	if err != nil {
		return false, errs.Wrap(errs.KindCacheUnavailable, "exists "+key, err)
	}
	return n > 0, nil
}

// TTL returns the remaining time-to-live for key.
func (s *Store) TTL(ctx context.Context, key string) (time.Duration, error) {
	var d time.Duration
	err := s.withRetry(func() error {
		v, err := s.rdb.TTL(ctx, key).Result()
		d = v
		return err
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindCacheUnavailable, "ttl "+key, err)
	}
	return d, nil
}

// Keys returns all keys matching pattern.
func (s *Store) Keys(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	err := s.withRetry(func() error {
		v, err := s.rdb.Keys(ctx, pattern).Result()
		keys = v
		return err
	})
	if err != nil {
		return nil, errs.Wrap(errs.KindCacheUnavailable, "keys "+pattern, err)
	}
	return keys, nil
}

// Incr atomically increments key and returns the new value.
func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.withRetry(func() error {
		v, err := s.rdb.Incr(ctx, key).Result()
		n = v
		return err
	})
	if err != nil {
		return 0, errs.Wrap(errs.KindCacheUnavailable, "incr "+key, err)
	}
	return n, nil
}

// SetIfAbsent implements atomic set-if-absent (Redis SET NX) with a TTL,
// the primitive the strategy lock is built on.
func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	var ok bool
	err := s.withRetry(func() error {
		v, err := s.rdb.SetNX(ctx, key, value, ttl).Result()
		ok = v
		return err
	})
	if err != nil {
		return false, errs.Wrap(errs.KindCacheUnavailable, "setnx "+key, err)
	}
	return ok, nil
}

// Expire refreshes key's TTL without touching its value, used by the
// lock holder's periodic refresh.
func (s *Store) Expire(ctx context.Context, key string, ttl time.Duration) error {
	err := s.withRetry(func() error {
		return s.rdb.Expire(ctx, key, ttl).Err()
	})
	if err != nil {
		return errs.Wrap(errs.KindCacheUnavailable, "expire "+key, err)
	}
	return nil
}

// RPush appends value to the list at key, used by the job queue's FIFO.
func (s *Store) RPush(ctx context.Context, key string, value []byte) error {
	err := s.withRetry(func() error {
		return s.rdb.RPush(ctx, key, value).Err()
	})
	if err != nil {
		return errs.Wrap(errs.KindQueueUnavailable, "rpush "+key, err)
	}
	return nil
}

// BLPop blocks up to timeout for an element to appear at key and pops it.
// Returns ok=false on timeout with no error (an empty queue is not a
// failure).
func (s *Store) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, bool, error) {
	var result []string
	err := s.withRetry(func() error {
		v, err := s.rdb.BLPop(ctx, timeout, key).Result()
		if err == redis.Nil {
			result = nil
			return nil
		}
		result = v
		return err
	})
	if err != nil {
		return nil, false, errs.Wrap(errs.KindQueueUnavailable, "blpop "+key, err)
	}
	// BLPop returns [key, value]; we only ever pass one key.
	if len(result) < 2 {
		return nil, false, nil
	}
	return []byte(result[1]), true, nil
}

// GetJSON reads key and unmarshals it into v. Returns ok=false when the
// key is absent.
func (s *Store) GetJSON(ctx context.Context, key string, v interface{}) (bool, error) {
	raw, ok, err := s.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, errs.Wrap(errs.KindMalformed, "decode cached json for "+key, err)
	}
	return true, nil
}

// SetJSON marshals v and writes it at key with the given TTL.
func (s *Store) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errs.Wrap(errs.KindMalformed, "encode json for "+key, err)
	}
	return s.Set(ctx, key, raw, ttl)
}

// ContendersKey builds the fresh-results key for a strategy.
func ContendersKey(strategy string) string { return keyContenders + strategy }

// ContendersLastKey builds the long-TTL stale-fallback key for a strategy.
func ContendersLastKey(strategy string) string { return keyContendersLast + strategy }

// StatusKey builds the JobRecord status key for a job.
func StatusKey(jobID string) string { return keyStatus + jobID }

// HeartbeatKey is the single worker-liveness key.
func HeartbeatKey() string { return keyHeartbeat }

// LockKey builds the single-writer lock key for a strategy.
func LockKey(strategy string) string { return keyLock + strategy }
