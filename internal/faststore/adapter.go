// Package faststore is the thin capability layer over the in-memory
// key-value store (Redis) described in spec.md §4.1. It exposes only the
// primitives the rest of the core needs — atomic counters, hash
// records, sets, sorted sets, optimistic multi-key transactions and
// server-side scripted atomics — and performs no retries of its own;
// retry policy belongs to the caller (internal/stock, internal/holds).
//
// The transaction and scripting style mirrors the teacher repository's
// internal/middleware/ratelimit.go (redis.NewScript + Run) and the
// Watch/TxPipelined pattern in internal/handler/customer_reservation.go's
// allowHold rate limiter.
package faststore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
)

// Adapter wraps a *redis.Client with the operation set spec.md §4.1/§6
// names. It holds no business state.
type Adapter struct {
	rdb *redis.Client
}

// New wraps an existing, already-connected *redis.Client.
func New(rdb *redis.Client) *Adapter {
	return &Adapter{rdb: rdb}
}

// Client exposes the underlying client for callers (e.g. internal/holds)
// that need to build a redis.Tx directly inside a Txn callback, matching
// the teacher's allowHold style rather than re-wrapping every primitive.
func (a *Adapter) Client() *redis.Client { return a.rdb }

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, redis.Nil) {
		return err
	}
	if errors.Is(err, redis.TxFailedErr) {
		return coreerr.ErrConflict
	}
	return fmt.Errorf("%w: %v", coreerr.ErrFastStoreUnavailable, err)
}

// Get returns the string value at key, and ok=false when absent.
func (a *Adapter) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := a.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify(err)
	}
	return v, true, nil
}

// Set writes key=val with an optional TTL (zero means no expiry).
func (a *Adapter) Set(ctx context.Context, key, val string, ttlSeconds int64) error {
	var ttl = secondsToDuration(ttlSeconds)
	if err := a.rdb.Set(ctx, key, val, ttl).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SetIfAbsent implements the set-if-absent-with-TTL primitive spec.md §6
// calls for (used by the Stock Ledger's init guard and the Reaper's
// per-hold lease). Returns true when this call won the race.
func (a *Adapter) SetIfAbsent(ctx context.Context, key, val string, ttlSeconds int64) (bool, error) {
	ok, err := a.rdb.SetNX(ctx, key, val, secondsToDuration(ttlSeconds)).Result()
	if err != nil {
		return false, classify(err)
	}
	return ok, nil
}

// IncrBy atomically adds delta to the integer counter at key.
func (a *Adapter) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := a.rdb.IncrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

// DecrBy atomically subtracts delta from the integer counter at key.
func (a *Adapter) DecrBy(ctx context.Context, key string, delta int64) (int64, error) {
	v, err := a.rdb.DecrBy(ctx, key, delta).Result()
	if err != nil {
		return 0, classify(err)
	}
	return v, nil
}

// HashGetAll returns the full hash record at key (empty map when absent).
func (a *Adapter) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := a.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// HashSetMulti writes multiple fields of a hash record in one round-trip.
func (a *Adapter) HashSetMulti(ctx context.Context, key string, fields map[string]interface{}) error {
	if len(fields) == 0 {
		return nil
	}
	if err := a.rdb.HSet(ctx, key, fields).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SetAdd adds members to the set at key.
func (a *Adapter) SetAdd(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := a.rdb.SAdd(ctx, key, args...).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SetRemove removes members from the set at key.
func (a *Adapter) SetRemove(ctx context.Context, key string, members ...string) error {
	if len(members) == 0 {
		return nil
	}
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	if err := a.rdb.SRem(ctx, key, args...).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SetMembers lists every member of the set at key.
func (a *Adapter) SetMembers(ctx context.Context, key string) ([]string, error) {
	m, err := a.rdb.SMembers(ctx, key).Result()
	if err != nil {
		return nil, classify(err)
	}
	return m, nil
}

// SortedSetAdd adds member with the given score (spec.md uses the score
// as an epoch-seconds expiry for the expiring_index).
func (a *Adapter) SortedSetAdd(ctx context.Context, key string, score float64, member string) error {
	if err := a.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SortedSetRemove removes member from the sorted set at key.
func (a *Adapter) SortedSetRemove(ctx context.Context, key, member string) error {
	if err := a.rdb.ZRem(ctx, key, member).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// SortedSetRangeByScore returns up to limit members scored within
// [min, max], ascending. limit<=0 means unbounded.
func (a *Adapter) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, limit int64) ([]string, error) {
	opt := &redis.ZRangeBy{
		Min: formatScore(min),
		Max: formatScore(max),
	}
	if limit > 0 {
		opt.Count = limit
	}
	vals, err := a.rdb.ZRangeByScore(ctx, key, opt).Result()
	if err != nil {
		return nil, classify(err)
	}
	return vals, nil
}

// KeysMatching enumerates keys matching pattern using SCAN rather than
// the blocking KEYS command, since this adapter may run against a
// shared Redis instance under load.
func (a *Adapter) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var (
		cursor uint64
		out    []string
	)
	for {
		keys, next, err := a.rdb.Scan(ctx, cursor, pattern, 200).Result()
		if err != nil {
			return nil, classify(err)
		}
		out = append(out, keys...)
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return out, nil
}

// Delete removes the given keys; missing keys are not an error.
func (a *Adapter) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := a.rdb.Del(ctx, keys...).Err(); err != nil {
		return classify(err)
	}
	return nil
}

// Txn runs fn as an optimistic transaction watching the given keys,
// exactly as redis.Client.Watch does: fn observes the watched keys and
// queues writes via tx.TxPipelined; if any watched key changed since the
// read, the whole batch is discarded and Txn returns coreerr.ErrConflict.
func (a *Adapter) Txn(ctx context.Context, watch []string, fn func(tx *redis.Tx) error) error {
	err := a.rdb.Watch(ctx, fn, watch...)
	return classify(err)
}

// Eval runs a pre-compiled Lua script as a single indivisible server-side
// step — the scripted-atomic primitive of spec.md §4.1.
func (a *Adapter) Eval(ctx context.Context, script *redis.Script, keys []string, args ...interface{}) (interface{}, error) {
	res, err := script.Run(ctx, a.rdb, keys, args...).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, classify(err)
	}
	return res, nil
}

// Ping verifies connectivity, used by the order coordinator's fast-store
// availability probe (spec.md §4.4.1 step 1).
func (a *Adapter) Ping(ctx context.Context) error {
	if err := a.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", coreerr.ErrFastStoreUnavailable, err)
	}
	return nil
}
