package reaper

import (
	"context"
	"strconv"
	"time"

	"github.com/flashsale/checkout-coordinator/internal/keyspace"
)

// writeHeartbeat persists a liveness record so operators can detect a
// stuck reaper (spec.md §4.5): this run's batch summary, the live
// system-wide count of active holds, and a per-product available/
// reserved stock snapshot, mirroring the teacher's habit of writing
// operationally-useful state into Redis alongside the durable system
// of record (see SPEC_FULL.md's supplemented features).
func (r *Reaper) writeHeartbeat(ctx context.Context, sum Summary) error {
	minute := time.Now().UTC().Truncate(time.Minute).Unix()
	key := "heartbeats:" + strconv.FormatInt(minute, 10)

	fields := map[string]interface{}{
		"candidates_seen": sum.CandidatesSeen,
		"expired":         sum.Expired,
		"failed":          sum.Failed,
		"duration_ms":     sum.Duration.Milliseconds(),
		"recorded_at":     time.Now().UTC().Format(time.RFC3339),
	}

	activeHoldIDs, err := r.fs.SetMembers(ctx, keyspace.HoldsByStatus("active"))
	if err != nil {
		return err
	}
	fields["total_active_holds"] = len(activeHoldIDs)

	if err := r.addStockReadings(ctx, fields); err != nil {
		return err
	}

	return r.fs.HashSetMulti(ctx, key, fields)
}

// addStockReadings discovers every product with live fast-store counters
// and folds its available/reserved snapshot into the heartbeat fields, so
// operators can spot a product whose reserved count is climbing while
// the reaper is supposedly running.
func (r *Reaper) addStockReadings(ctx context.Context, fields map[string]interface{}) error {
	availKeys, err := r.fs.KeysMatching(ctx, keyspace.AvailablePrefix+"*")
	if err != nil {
		return err
	}
	for _, k := range availKeys {
		productID, ok := keyspace.ProductIDFromAvailableKey(k)
		if !ok {
			continue
		}
		avail, _, err := r.fs.Get(ctx, keyspace.Available(productID))
		if err != nil {
			return err
		}
		reserved, _, err := r.fs.Get(ctx, keyspace.Reserved(productID))
		if err != nil {
			return err
		}
		p := strconv.FormatUint(productID, 10)
		fields["product:"+p+":available"] = avail
		fields["product:"+p+":reserved"] = reserved
	}
	return nil
}
