package holds

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/flashsale/checkout-coordinator/internal/coreerr"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// fakeAuditWriter records calls without touching a database, standing
// in for internal/durable.HoldAuditRepo in tests.
type fakeAuditWriter struct {
	mu      sync.Mutex
	created []model.Hold
	marked  map[string]model.HoldStatus
}

func newFakeAuditWriter() *fakeAuditWriter {
	return &fakeAuditWriter{marked: map[string]model.HoldStatus{}}
}

func (f *fakeAuditWriter) RecordHoldCreated(_ context.Context, h model.Hold) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, h)
	return nil
}

func (f *fakeAuditWriter) MarkTerminal(_ context.Context, holdID string, status model.HoldStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.marked[holdID] = status
	return nil
}

func newTestRegistry(t *testing.T) (*Registry, *faststore.Adapter, *fakeAuditWriter) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	fs := faststore.New(client)
	audit := newFakeAuditWriter()
	return NewRegistry(fs, audit), fs, audit
}

func seedProduct(t *testing.T, fs *faststore.Adapter, productID, baseStock uint64) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, fs.Set(ctx, "available_stock:"+itoa(productID), itoa(baseStock), 0))
	require.NoError(t, fs.Set(ctx, "reserved_stock:"+itoa(productID), "0", 0))
	require.NoError(t, fs.Set(ctx, "stock_version:"+itoa(productID), "1", 0))
	require.NoError(t, fs.Set(ctx, "active_holds:"+itoa(productID), "0", 0))
}

func itoa(v uint64) string { return strconv.FormatUint(v, 10) }

func TestRegistry_CreateWritesHashAndIndices(t *testing.T) {
	ctx := context.Background()
	reg, fs, audit := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	hold, snap, err := reg.Create(ctx, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, model.HoldActive, hold.Status)
	assert.Equal(t, uint64(3), hold.Qty)
	assert.Equal(t, int64(7), snap.Available)
	assert.Equal(t, int64(3), snap.Reserved)

	got, ok, err := reg.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hold.ID, got.ID)
	assert.Equal(t, model.HoldActive, got.Status)

	members, err := fs.SetMembers(ctx, "product_holds:1")
	require.NoError(t, err)
	assert.Contains(t, members, hold.ID)

	assert.Len(t, audit.created, 1)
}

func TestRegistry_CreateInsufficientStock(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 2)

	_, _, err := reg.Create(ctx, 1, 3)
	var insufficient *coreerr.InsufficientStock
	require.ErrorAs(t, err, &insufficient)
}

// TestRegistry_ConcurrentCreate_SingleUnitContention is scenario 1 of
// spec.md §8: base_stock=1, 100 concurrent creates of qty=1 must yield
// exactly one success with distinct ids, and available=0/reserved=1 at
// rest.
func TestRegistry_ConcurrentCreate_SingleUnitContention(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 1)

	const attempts = 100
	var successes int64
	ids := make(chan string, attempts)
	var wg sync.WaitGroup
	wg.Add(attempts)
	for i := 0; i < attempts; i++ {
		go func() {
			defer wg.Done()
			hold, _, err := reg.Create(ctx, 1, 1)
			if err == nil {
				atomic.AddInt64(&successes, 1)
				ids <- hold.ID
			}
		}()
	}
	wg.Wait()
	close(ids)

	assert.EqualValues(t, 1, successes)

	seen := map[string]bool{}
	for id := range ids {
		assert.False(t, seen[id], "hold ids must be distinct")
		seen[id] = true
	}

	a, _, err := fs.Get(ctx, "available_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "0", a)
	r, _, err := fs.Get(ctx, "reserved_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "1", r)
}

func TestRegistry_Release_RefundsAndDeletesHold(t *testing.T) {
	ctx := context.Background()
	reg, fs, audit := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	hold, _, err := reg.Create(ctx, 1, 4)
	require.NoError(t, err)

	qty, err := reg.Release(ctx, 1, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(4), qty)

	_, ok, err := reg.Get(ctx, hold.ID)
	require.NoError(t, err)
	assert.False(t, ok, "terminal hold must be deleted from the fast store")

	a, _, err := fs.Get(ctx, "available_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "10", a)

	assert.Equal(t, model.HoldExpiredStatus, audit.marked[hold.ID])
}

func TestRegistry_Release_AbsentHoldIsInvalid(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	_, err := reg.Release(ctx, 1, "does-not-exist")
	assert.ErrorIs(t, err, coreerr.ErrInvalidHold)
}

func TestRegistry_Expire_GatedOnExpiryTimestamp(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	hold, _, err := reg.Create(ctx, 1, 2)
	require.NoError(t, err)

	// not yet expired
	_, err = reg.Expire(ctx, 1, hold.ID, hold.ExpiresAt.Add(-1*time.Second))
	var notExpired *coreerr.HoldNotExpired
	require.ErrorAs(t, err, &notExpired)

	// expiry is inclusive: expires_at_epoch == now counts as expired
	qty, err := reg.Expire(ctx, 1, hold.ID, hold.ExpiresAt)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), qty)
}

func TestRegistry_ExpireTwice_SecondCallIsInvalid(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	hold, _, err := reg.Create(ctx, 1, 2)
	require.NoError(t, err)

	_, err = reg.Expire(ctx, 1, hold.ID, hold.ExpiresAt)
	require.NoError(t, err)

	_, err = reg.Expire(ctx, 1, hold.ID, hold.ExpiresAt)
	assert.ErrorIs(t, err, coreerr.ErrInvalidHold)
}

func TestRegistry_CommitActive_LeavesAvailableUntouched(t *testing.T) {
	ctx := context.Background()
	reg, fs, audit := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	hold, _, err := reg.Create(ctx, 1, 3)
	require.NoError(t, err)

	qty, err := reg.CommitActive(ctx, 1, hold.ID)
	require.NoError(t, err)
	assert.Equal(t, uint64(3), qty)

	a, _, err := fs.Get(ctx, "available_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "7", a, "available stays at post-reserve level; units are permanently consumed elsewhere")

	r, _, err := fs.Get(ctx, "reserved_stock:1")
	require.NoError(t, err)
	assert.Equal(t, "0", r)

	assert.Equal(t, model.HoldUsed, audit.marked[hold.ID])
}

func TestRegistry_FindExpired_OnlyReturnsDueActiveHolds(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	due, _, err := reg.Create(ctx, 1, 1)
	require.NoError(t, err)
	notDue, _, err := reg.Create(ctx, 1, 1)
	require.NoError(t, err)

	// backdate the first hold's expiry so it is due, leave the second
	// one in the future.
	require.NoError(t, fs.HashSetMulti(ctx, "hold:"+due.ID, map[string]interface{}{
		"expires_at_epoch": time.Now().Add(-time.Minute).Unix(),
	}))
	require.NoError(t, fs.SortedSetAdd(ctx, "expiring_index:1", float64(time.Now().Add(-time.Minute).Unix()), due.ID))

	candidates, err := reg.FindExpired(ctx, 10, time.Now())
	require.NoError(t, err)

	var ids []string
	for _, c := range candidates {
		ids = append(ids, c.Hold.ID)
	}
	assert.Contains(t, ids, due.ID)
	assert.NotContains(t, ids, notDue.ID)
}

func TestRegistry_ExpireBatch_SkipsAlreadyTerminalized(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	h1, _, err := reg.Create(ctx, 1, 2)
	require.NoError(t, err)
	h2, _, err := reg.Create(ctx, 1, 3)
	require.NoError(t, err)

	// h1 is released by a concurrent actor before the batch runs.
	_, err = reg.Release(ctx, 1, h1.ID)
	require.NoError(t, err)

	expired, err := reg.ExpireBatch(ctx, 1, []string{h1.ID, h2.ID}, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{h2.ID}, expired)
}

func TestRegistry_ListActive_FiltersToActiveOnly(t *testing.T) {
	ctx := context.Background()
	reg, fs, _ := newTestRegistry(t)
	seedProduct(t, fs, 1, 10)

	active, _, err := reg.Create(ctx, 1, 1)
	require.NoError(t, err)
	released, _, err := reg.Create(ctx, 1, 1)
	require.NoError(t, err)
	_, err = reg.Release(ctx, 1, released.ID)
	require.NoError(t, err)

	list, err := reg.ListActive(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, active.ID, list[0].ID)
}
