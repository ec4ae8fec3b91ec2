// Package redisstore implements a shared, synchronous store tier on Redis.
//
// Every entry is stored as a Redis hash at {prefix}:{key} with the fields
//
//	v    the value
//	ver  the version
//	c    the creation time (unix nanoseconds)
//	exp  the expiration time (unix nanoseconds, absent = never)
//
// Expiring entries get a matching PEXPIREAT so Redis drops them on its own.
// Enumeration uses SCAN and therefore never blocks the server. Since SCAN
// may return a key more than once, every enumeration pass remembers the
// keys it has emitted: its memory grows linearly with the number of keys
// under the prefix.
//
// Key enumeration (PublishKeys, Size) reads no values. For every batch of
// scanned keys a single pipeline fetches the version and expiration fields
// to drop removed and expired keys.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/dGrid/lib/cursor"
	"github.com/ValentinKolb/dGrid/lib/grid"
	"github.com/ValentinKolb/dGrid/lib/persistence"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var log = logger.GetLogger("persistence")

const (
	fieldValue    = "v"
	fieldVersion  = "ver"
	fieldCreated  = "c"
	fieldExpireAt = "exp"

	defaultPrefix   = "dgrid"
	scanBatchSize   = 128
	defaultName     = "redis"
	defaultPingWait = 5 * time.Second
)

// Options configures a Redis store tier.
type Options struct {
	Name   string           // Name of the tier (default "redis")
	Prefix string           // Namespace of all keys (default "dgrid"), must not contain glob characters
	Clock  func() time.Time // Time source for expiration (nil = time.Now)
}

type storeImpl struct {
	cfg    persistence.Config
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

// NewRedisStore creates a store tier on an existing client. The tier takes
// ownership of the client and closes it on Close.
func NewRedisStore(rdb *redis.Client, opts *Options) (persistence.Store, error) {
	if opts == nil {
		opts = &Options{}
	}
	name := opts.Name
	if name == "" {
		name = defaultName
	}
	prefix := opts.Prefix
	if prefix == "" {
		prefix = defaultPrefix
	}
	if strings.ContainsAny(prefix, "*?[]\\") {
		return nil, persistence.Errorf(persistence.RetCInvalidOperation, "invalid key prefix %q", prefix)
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &storeImpl{
		cfg:    persistence.Config{Name: name, Shared: true, Async: false},
		rdb:    rdb,
		prefix: prefix + ":",
		now:    now,
	}, nil
}

// Factory returns a persistence.StoreFactory that connects to Redis and
// verifies the connection with a PING.
func Factory(redisOpts *redis.Options, opts *Options) persistence.StoreFactory {
	return func() (persistence.Store, error) {
		rdb := redis.NewClient(redisOpts)
		ctx, cancel := context.WithTimeout(context.Background(), defaultPingWait)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, persistence.Errorf(persistence.RetCStoreUnavailable, "redis at %s not reachable: %v", redisOpts.Addr, err)
		}
		log.Infof("Connected to redis at %s", redisOpts.Addr)
		return NewRedisStore(rdb, opts)
	}
}

func (s *storeImpl) redisKey(key string) string {
	return s.prefix + key
}

// --------------------------------------------------------------------------
// Hash conversion
// --------------------------------------------------------------------------

func toHash(e grid.InternalEntry) map[string]any {
	h := map[string]any{
		fieldValue:   e.Value,
		fieldVersion: e.Metadata.Version,
		fieldCreated: e.Metadata.Created,
	}
	if e.Metadata.ExpireAt != 0 {
		h[fieldExpireAt] = e.Metadata.ExpireAt
	}
	return h
}

func fromHash(key string, h map[string]string) (grid.InternalEntry, error) {
	raw := h[fieldValue]
	value := make([]byte, len(raw))
	copy(value, raw)

	e := grid.InternalEntry{Key: key, Value: value}
	var err error
	if v, ok := h[fieldVersion]; ok {
		if e.Metadata.Version, err = strconv.ParseUint(v, 10, 64); err != nil {
			return e, fmt.Errorf("invalid version of %s: %w", key, err)
		}
	}
	if v, ok := h[fieldCreated]; ok {
		if e.Metadata.Created, err = strconv.ParseInt(v, 10, 64); err != nil {
			return e, fmt.Errorf("invalid creation time of %s: %w", key, err)
		}
	}
	if v, ok := h[fieldExpireAt]; ok {
		if e.Metadata.ExpireAt, err = strconv.ParseInt(v, 10, 64); err != nil {
			return e, fmt.Errorf("invalid expiration of %s: %w", key, err)
		}
	}
	return e, nil
}

func wrapErr(op string, err error) error {
	return persistence.Errorf(persistence.RetCInternalError, "redis %s: %v", op, err)
}

// --------------------------------------------------------------------------
// Interface Methods (docu see persistence/store.go)
// --------------------------------------------------------------------------

func (s *storeImpl) Config() persistence.Config {
	return s.cfg
}

func (s *storeImpl) Load(ctx context.Context, key string) (grid.InternalEntry, bool, error) {
	h, err := s.rdb.HGetAll(ctx, s.redisKey(key)).Result()
	if err != nil {
		return grid.InternalEntry{}, false, wrapErr("HGETALL", err)
	}
	// HGetAll returns an empty map for non-existent keys
	if len(h) == 0 {
		return grid.InternalEntry{}, false, nil
	}
	e, err := fromHash(key, h)
	if err != nil {
		return grid.InternalEntry{}, false, persistence.NewError(persistence.RetCInternalError, err.Error())
	}
	return e, true, nil
}

func (s *storeImpl) Write(ctx context.Context, e grid.InternalEntry) error {
	if e.Value == nil {
		return persistence.NewError(persistence.RetCInvalidOperation, "can not write a null value")
	}
	rk := s.redisKey(e.Key)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, rk)
		pipe.HSet(ctx, rk, toHash(e))
		if e.Metadata.ExpireAt != 0 {
			pipe.PExpireAt(ctx, rk, time.Unix(0, e.Metadata.ExpireAt))
		}
		return nil
	})
	if err != nil {
		return wrapErr("write", err)
	}
	return nil
}

func (s *storeImpl) Delete(ctx context.Context, key string) (bool, error) {
	n, err := s.rdb.Del(ctx, s.redisKey(key)).Result()
	if err != nil {
		return false, wrapErr("DEL", err)
	}
	return n > 0, nil
}

// scan calls fn for every (un-prefixed) key that passes the filter.
// SCAN may return a key more than once, duplicates are dropped. The set of
// seen keys lives until the pass ends.
func (s *storeImpl) scan(ctx context.Context, filter persistence.KeyFilter, fn func(key string) bool) error {
	seen := make(map[string]struct{})
	iter := s.rdb.Scan(ctx, 0, s.prefix+"*", scanBatchSize).Iterator()
	for iter.Next(ctx) {
		key := strings.TrimPrefix(iter.Val(), s.prefix)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if !filter.Accept(key) {
			continue
		}
		if !fn(key) {
			return nil
		}
	}
	if err := iter.Err(); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return wrapErr("SCAN", err)
	}
	return nil
}

// liveKeys returns the keys of the batch that still exist and are not
// expired. One pipeline reads the version and expiration field of each key.
func (s *storeImpl) liveKeys(ctx context.Context, keys []string) ([]string, error) {
	cmds := make([]*redis.SliceCmd, len(keys))
	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, key := range keys {
			cmds[i] = pipe.HMGet(ctx, s.redisKey(key), fieldVersion, fieldExpireAt)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, wrapErr("HMGET", err)
	}

	now := s.now()
	live := make([]string, 0, len(keys))
	for i, cmd := range cmds {
		fields := cmd.Val()
		// the key was removed after SCAN returned it
		if len(fields) != 2 || fields[0] == nil {
			continue
		}
		if raw, ok := fields[1].(string); ok {
			expireAt, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, persistence.Errorf(persistence.RetCInternalError, "invalid expiration of %s: %v", keys[i], err)
			}
			if (grid.Metadata{ExpireAt: expireAt}).IsExpired(now) {
				continue
			}
		}
		live = append(live, keys[i])
	}
	return live, nil
}

func (s *storeImpl) PublishKeys(filter persistence.KeyFilter) cursor.Publisher[string] {
	return func(ctx context.Context, emit func(string) bool) error {
		batch := make([]string, 0, scanBatchSize)
		var checkErr error
		stopped := false

		flush := func() bool {
			live, err := s.liveKeys(ctx, batch)
			batch = batch[:0]
			if err != nil {
				checkErr = err
				return false
			}
			for _, key := range live {
				if !emit(key) {
					stopped = true
					return false
				}
			}
			return true
		}

		err := s.scan(ctx, filter, func(key string) bool {
			batch = append(batch, key)
			if len(batch) < scanBatchSize {
				return true
			}
			return flush()
		})
		if err != nil {
			return err
		}
		if checkErr == nil && !stopped && len(batch) > 0 {
			flush()
		}
		return checkErr
	}
}

func (s *storeImpl) PublishEntries(filter persistence.KeyFilter, includeExpired bool) cursor.Publisher[grid.InternalEntry] {
	return func(ctx context.Context, emit func(grid.InternalEntry) bool) error {
		var loadErr error
		err := s.scan(ctx, filter, func(key string) bool {
			e, ok, err := s.Load(ctx, key)
			if err != nil {
				loadErr = err
				return false
			}
			// the key expired or was removed after SCAN returned it
			if !ok {
				return true
			}
			if !includeExpired && e.IsExpired(s.now()) {
				return true
			}
			return emit(e)
		})
		if loadErr != nil {
			return loadErr
		}
		return err
	}
}

func (s *storeImpl) Size(ctx context.Context) (int64, error) {
	var n int64
	err := s.PublishKeys(nil)(ctx, func(string) bool {
		n++
		return true
	})
	return n, err
}

func (s *storeImpl) Clear(ctx context.Context) error {
	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		err := s.rdb.Del(ctx, batch...).Err()
		batch = batch[:0]
		return err
	}

	var delErr error
	err := s.scan(ctx, nil, func(key string) bool {
		batch = append(batch, s.redisKey(key))
		if len(batch) >= scanBatchSize {
			if delErr = flush(); delErr != nil {
				return false
			}
		}
		return true
	})
	if err == nil && delErr == nil {
		delErr = flush()
	}
	if delErr != nil {
		return wrapErr("DEL", delErr)
	}
	return err
}

func (s *storeImpl) Close() error {
	return s.rdb.Close()
}
