package faststore

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client)
}

func TestAdapter_GetSetRoundTrip(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	_, ok, err := a.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, a.Set(ctx, "k", "v", 0))
	v, ok, err := a.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "v", v)
}

func TestAdapter_SetIfAbsent(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	ok, err := a.SetIfAbsent(ctx, "lock", "1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = a.SetIfAbsent(ctx, "lock", "2", 5)
	require.NoError(t, err)
	assert.False(t, ok, "second caller must lose the race")
}

func TestAdapter_IncrDecrBy(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	v, err := a.IncrBy(ctx, "counter", 5)
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)

	v, err = a.DecrBy(ctx, "counter", 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)
}

func TestAdapter_HashAndSetPrimitives(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	require.NoError(t, a.HashSetMulti(ctx, "h", map[string]interface{}{"a": "1", "b": "2"}))
	m, err := a.HashGetAll(ctx, "h")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"a": "1", "b": "2"}, m)

	require.NoError(t, a.SetAdd(ctx, "s", "x", "y"))
	members, err := a.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"x", "y"}, members)

	require.NoError(t, a.SetRemove(ctx, "s", "x"))
	members, err = a.SetMembers(ctx, "s")
	require.NoError(t, err)
	assert.Equal(t, []string{"y"}, members)
}

func TestAdapter_SortedSetRangeByScore(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	require.NoError(t, a.SortedSetAdd(ctx, "z", 100, "early"))
	require.NoError(t, a.SortedSetAdd(ctx, "z", 200, "late"))

	members, err := a.SortedSetRangeByScore(ctx, "z", NegInf, 150, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, members)

	members, err = a.SortedSetRangeByScore(ctx, "z", NegInf, PosInf, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"early"}, members, "count limit must be honored")
}

func TestAdapter_KeysMatching(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)

	require.NoError(t, a.Set(ctx, "expiring_index:1", "x", 0))
	require.NoError(t, a.Set(ctx, "expiring_index:2", "x", 0))
	require.NoError(t, a.Set(ctx, "other:1", "x", 0))

	keys, err := a.KeysMatching(ctx, "expiring_index:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"expiring_index:1", "expiring_index:2"}, keys)
}

func TestAdapter_Txn_ConflictOnWatchedKeyMutation(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	require.NoError(t, a.Set(ctx, "watched", "0", 0))

	err := a.Txn(ctx, []string{"watched"}, func(tx *redis.Tx) error {
		_, _ = tx.Get(ctx, "watched").Result()
		// simulate a concurrent writer mutating the watched key mid-txn
		require.NoError(t, a.rdb.Set(ctx, "watched", "99", 0).Err())
		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, "watched", "1", 0)
			return nil
		})
		return err
	})

	assert.True(t, errors.Is(err, coreerr.ErrConflict))
}

func TestAdapter_Eval_ScriptedAtomic(t *testing.T) {
	ctx := context.Background()
	a := newTestAdapter(t)
	require.NoError(t, a.Set(ctx, "x", "10", 0))

	script := redis.NewScript(`
local v = tonumber(redis.call('GET', KEYS[1]))
redis.call('SET', KEYS[1], v + tonumber(ARGV[1]))
return v + tonumber(ARGV[1])
`)
	res, err := a.Eval(ctx, script, []string{"x"}, 5)
	require.NoError(t, err)
	assert.EqualValues(t, 15, res)

	v, _, err := a.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, "15", v)
}

func TestAdapter_Ping(t *testing.T) {
	a := newTestAdapter(t)
	assert.NoError(t, a.Ping(context.Background()))
}
