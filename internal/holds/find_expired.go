package holds

import (
	"context"
	"time"

	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
	"github.com/flashsale/checkout-coordinator/internal/model"
)

// Candidate is a hold discovered by FindExpired, paired with the
// product id its expiring_index key was found under so the reaper
// doesn't need to re-derive it.
type Candidate struct {
	ProductID uint64
	Hold      model.Hold
}

// FindExpired enumerates every product's expiring_index and returns up
// to limit holds whose expiry has elapsed and which are still active
// (a concurrent Release may have terminalized a hold between it
// entering the sorted-set range and being hydrated here), per spec.md
// §4.3.
func (r *Registry) FindExpired(ctx context.Context, limit int, now time.Time) ([]Candidate, error) {
	indexKeys, err := r.fs.KeysMatching(ctx, keyspace.ExpiringIndexPrefix+"*")
	if err != nil {
		return nil, err
	}

	var out []Candidate
	for _, indexKey := range indexKeys {
		if limit > 0 && len(out) >= limit {
			break
		}
		productID, ok := keyspace.ProductIDFromExpiringIndexKey(indexKey)
		if !ok {
			continue
		}
		remaining := limit
		if remaining > 0 {
			remaining -= len(out)
		}
		ids, err := r.fs.SortedSetRangeByScore(ctx, indexKey, faststore.NegInf, float64(now.Unix()), int64(remaining))
		if err != nil {
			return nil, err
		}
		if len(ids) == 0 {
			continue
		}
		byID, err := r.GetMany(ctx, ids)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			h, ok := byID[id]
			if !ok || h.Status != model.HoldActive {
				continue
			}
			if !h.Expired(now) {
				continue
			}
			out = append(out, Candidate{ProductID: productID, Hold: h})
			if limit > 0 && len(out) >= limit {
				break
			}
		}
	}
	return out, nil
}
