// Package reaper implements the Expiry Reaper (spec.md §4.5): a
// batch-and-lease loop invoked once a minute by an external scheduler
// with --once semantics. Grounded on the teacher's
// internal/queue.StartBookingConsumer for the "log, don't crash, keep
// going" failure posture, generalized from an infinite reconnect loop
// to a single bounded batch run.
package reaper

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/holds"
	"github.com/flashsale/checkout-coordinator/internal/keyspace"
)

// Config mirrors config.ReaperConfig's fields directly so this package
// doesn't need to import internal/config (kept decoupled for testing).
type Config struct {
	BatchSize      int
	MaxRuntime     time.Duration
	LeaseTTL       time.Duration
	MaxVerboseLogs int
}

// Reaper is the Expiry Reaper component (C5).
type Reaper struct {
	fs      *faststore.Adapter
	holds   *holds.Registry
	cfg     Config
	metrics *metrics
}

// New builds a Reaper. registry may be nil to use the default
// Prometheus registry (matching adrianmcphee-smarterbase's
// NewPrometheusMetrics nil-registry convention).
func New(fs *faststore.Adapter, holdsReg *holds.Registry, cfg Config, registry prometheus.Registerer) *Reaper {
	return &Reaper{fs: fs, holds: holdsReg, cfg: cfg, metrics: newMetrics(registry)}
}

// Summary is the outcome of one reaper invocation, logged by cmd/reaper
// and also folded into the heartbeat record.
type Summary struct {
	CandidatesSeen int
	Expired        int
	Failed         int
	Duration       time.Duration
}

// RunOnce executes one --once invocation of spec.md §4.5: drain
// batches of expired candidates until empty or the runtime budget is
// exhausted, grouping by product to use the bulk scripted-atomic path
// where it pays off.
func (r *Reaper) RunOnce(ctx context.Context) (Summary, error) {
	start := time.Now()
	deadline := start.Add(r.cfg.MaxRuntime)
	var sum Summary
	verboseLogged := 0

	for {
		if time.Now().After(deadline) {
			break
		}
		candidates, err := r.holds.FindExpired(ctx, r.cfg.BatchSize, time.Now().UTC())
		if err != nil {
			return sum, fmt.Errorf("reaper: find expired: %w", err)
		}
		if len(candidates) == 0 {
			break
		}
		sum.CandidatesSeen += len(candidates)

		byProduct := map[uint64][]string{}
		for _, c := range candidates {
			byProduct[c.ProductID] = append(byProduct[c.ProductID], c.Hold.ID)
		}

		batchExpired := 0
		for productID, ids := range byProduct {
			if time.Now().After(deadline) {
				break
			}
			leased, released := r.leaseAll(ctx, ids)
			if len(leased) == 0 {
				continue
			}
			expired, failed := r.expireLeased(ctx, productID, leased)
			released()
			batchExpired += len(expired)
			sum.Expired += len(expired)
			sum.Failed += len(failed)
			for _, f := range failed {
				if verboseLogged < r.cfg.MaxVerboseLogs {
					log.Printf("reaper: failed to expire hold %s (product %d): %v", f.id, productID, f.err)
					verboseLogged++
				}
				r.metrics.failuresTotal.Inc()
			}
			r.metrics.expiredTotal.Add(float64(len(expired)))
		}
		// A batch that expired nothing (every candidate leased elsewhere or
		// failing) would come back unchanged from FindExpired; stop here
		// rather than re-fetching it until the runtime budget runs out.
		if batchExpired == 0 {
			break
		}
	}

	sum.Duration = time.Since(start)
	r.metrics.batchDuration.Observe(sum.Duration.Seconds())
	r.metrics.lastRunHolds.Set(float64(sum.CandidatesSeen))
	if sum.Failed > r.cfg.MaxVerboseLogs {
		log.Printf("reaper: %d additional hold expire failures suppressed", sum.Failed-r.cfg.MaxVerboseLogs)
	}
	if err := r.writeHeartbeat(ctx, sum); err != nil {
		log.Printf("reaper: heartbeat write failed: %v", err)
	}
	return sum, nil
}

// leaseAll attempts to acquire the per-hold expire_lock for each id,
// skipping ids another worker already owns. It returns the successfully
// leased ids and a release func that clears every acquired lease,
// matching the teacher's defer-scoped cleanup style.
func (r *Reaper) leaseAll(ctx context.Context, ids []string) ([]string, func()) {
	leaseValue := leaseToken()
	var leased []string
	for _, id := range ids {
		ok, err := r.fs.SetIfAbsent(ctx, keyspace.ExpireLock(id), leaseValue, int64(r.cfg.LeaseTTL/time.Second))
		if err != nil {
			log.Printf("reaper: lease acquire failed for hold %s: %v", id, err)
			continue
		}
		if ok {
			leased = append(leased, id)
		}
	}
	return leased, func() {
		cleanupCtx := context.WithoutCancel(ctx)
		for _, id := range leased {
			_ = r.fs.Delete(cleanupCtx, keyspace.ExpireLock(id))
		}
	}
}

type expireFailure struct {
	id  string
	err error
}

func (r *Reaper) expireLeased(ctx context.Context, productID uint64, ids []string) (expired []string, failed []expireFailure) {
	now := time.Now().UTC()
	if len(ids) >= 2 {
		got, err := r.holds.ExpireBatch(ctx, productID, ids, now)
		if err != nil {
			for _, id := range ids {
				failed = append(failed, expireFailure{id: id, err: err})
			}
			return nil, failed
		}
		return got, nil
	}
	for _, id := range ids {
		if _, err := r.holds.Expire(ctx, productID, id, now); err != nil {
			failed = append(failed, expireFailure{id: id, err: err})
			continue
		}
		expired = append(expired, id)
	}
	return expired, failed
}

func leaseToken() string {
	host, _ := os.Hostname()
	return host + ":" + strconv.Itoa(os.Getpid()) + ":" + strconv.FormatInt(time.Now().Unix(), 10)
}
