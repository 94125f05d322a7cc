package reaper

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/holds"
)

func newTestReaper(t *testing.T) (*Reaper, *faststore.Adapter, *holds.Registry) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fs := faststore.New(client)
	reg := holds.NewRegistry(fs, nil)

	cfg := Config{BatchSize: 10, MaxRuntime: time.Second, LeaseTTL: 5 * time.Second, MaxVerboseLogs: 5}
	r := New(fs, reg, cfg, prometheus.NewRegistry())
	return r, fs, reg
}

func seedProduct(t *testing.T, fs *faststore.Adapter, productID, baseStock uint64) {
	t.Helper()
	ctx := context.Background()
	p := strconv.FormatUint(productID, 10)
	require.NoError(t, fs.Set(ctx, "available_stock:"+p, strconv.FormatUint(baseStock, 10), 0))
	require.NoError(t, fs.Set(ctx, "reserved_stock:"+p, "0", 0))
	require.NoError(t, fs.Set(ctx, "stock_version:"+p, "1", 0))
	require.NoError(t, fs.Set(ctx, "active_holds:"+p, "0", 0))
}

func backdateExpiry(t *testing.T, fs *faststore.Adapter, productID uint64, holdID string, when time.Time) {
	t.Helper()
	ctx := context.Background()
	p := strconv.FormatUint(productID, 10)
	require.NoError(t, fs.HashSetMulti(ctx, "hold:"+holdID, map[string]interface{}{
		"expires_at_epoch": when.Unix(),
	}))
	require.NoError(t, fs.SortedSetAdd(ctx, "expiring_index:"+p, float64(when.Unix()), holdID))
}

func TestReaper_RunOnce_ExpiresDueHoldsAndRefundsStock(t *testing.T) {
	ctx := context.Background()
	r, fs, reg := newTestReaper(t)
	seedProduct(t, fs, 1, 10)

	h1, _, err := reg.Create(ctx, 1, 2)
	require.NoError(t, err)
	h2, _, err := reg.Create(ctx, 1, 3)
	require.NoError(t, err)

	past := time.Now().Add(-time.Minute)
	backdateExpiry(t, fs, 1, h1.ID, past)
	backdateExpiry(t, fs, 1, h2.ID, past)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, sum.CandidatesSeen)
	assert.Equal(t, 2, sum.Expired)
	assert.Equal(t, 0, sum.Failed)

	a, _, err := fs.Get(ctx, "available_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "10", a, "both holds' qty must be refunded back to available")

	r2, _, err := fs.Get(ctx, "reserved_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "0", r2)
}

func TestReaper_RunOnce_EmptyBatchIsANoOp(t *testing.T) {
	r, _, _ := newTestReaper(t)
	sum, err := r.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, sum.CandidatesSeen)
	assert.Equal(t, 0, sum.Expired)
}

func TestReaper_RunOnce_SkipsHoldLeasedByAnotherWorker(t *testing.T) {
	ctx := context.Background()
	r, fs, reg := newTestReaper(t)
	seedProduct(t, fs, 1, 10)

	h, _, err := reg.Create(ctx, 1, 2)
	require.NoError(t, err)
	backdateExpiry(t, fs, 1, h.ID, time.Now().Add(-time.Minute))

	ok, err := fs.SetIfAbsent(ctx, "expire_lock:"+h.ID, "someone-else", 5)
	require.NoError(t, err)
	require.True(t, ok)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, sum.CandidatesSeen)
	assert.Equal(t, 0, sum.Expired, "a hold already leased by another worker must be skipped, not expired")
}

func TestReaper_RunOnce_WritesHeartbeat(t *testing.T) {
	ctx := context.Background()
	r, fs, reg := newTestReaper(t)
	seedProduct(t, fs, 1, 10)

	h, _, err := reg.Create(ctx, 1, 1)
	require.NoError(t, err)
	backdateExpiry(t, fs, 1, h.ID, time.Now().Add(-time.Minute))

	_, err = r.RunOnce(ctx)
	require.NoError(t, err)

	minute := time.Now().UTC().Truncate(time.Minute).Unix()
	m, err := fs.HashGetAll(ctx, "heartbeats:"+strconv.FormatInt(minute, 10))
	require.NoError(t, err)
	assert.Equal(t, "1", m["expired"])
	assert.Equal(t, "0", m["total_active_holds"], "the one hold seeded above has already been expired by RunOnce")
	assert.Equal(t, "10", m["product:1:available"])
	assert.Equal(t, "0", m["product:1:reserved"])
}

func TestReaper_RunOnce_HeartbeatReportsLiveActiveHolds(t *testing.T) {
	ctx := context.Background()
	r, fs, reg := newTestReaper(t)
	seedProduct(t, fs, 1, 10)

	// One hold stays active (not expired); RunOnce must still surface it
	// in the heartbeat's total_active_holds count.
	_, _, err := reg.Create(ctx, 1, 4)
	require.NoError(t, err)

	sum, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, sum.Expired)

	minute := time.Now().UTC().Truncate(time.Minute).Unix()
	m, err := fs.HashGetAll(ctx, "heartbeats:"+strconv.FormatInt(minute, 10))
	require.NoError(t, err)
	assert.Equal(t, "1", m["total_active_holds"])
	assert.Equal(t, "6", m["product:1:available"])
	assert.Equal(t, "4", m["product:1:reserved"])
}
