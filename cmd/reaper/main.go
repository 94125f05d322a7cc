package main

import (
	"context"
	"flag"
	"log"

	"github.com/joho/godotenv"

	"github.com/flashsale/checkout-coordinator/internal/config"
	"github.com/flashsale/checkout-coordinator/internal/database"
	"github.com/flashsale/checkout-coordinator/internal/durable"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/holds"
	"github.com/flashsale/checkout-coordinator/internal/reaper"
	"github.com/flashsale/checkout-coordinator/internal/stock"
)

// cmd/reaper is invoked once a minute by an external scheduler (cron,
// k8s CronJob) with --once, per spec.md §4.5 — the reaper itself holds
// no internal ticker. --refresh is the administrative stock-refresh
// operation of spec.md §7, for operators recovering a product's
// counters after a suspected fast-store/durable divergence.
func main() {
	once := flag.Bool("once", false, "run a single reaper batch and exit")
	refreshProductID := flag.Uint64("refresh", 0, "recompute and refresh fast-store counters for the given product id, then exit")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		log.Println("info: .env not found; using defaults/env")
	}

	cfg := config.Load()
	db, err := database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	if err != nil {
		log.Fatalf("database: %v", err)
	}
	rdb := config.NewRedisClient(config.LoadFastStoreConfig())
	if rdb == nil {
		log.Fatal("fast store: could not connect to redis")
	}
	fs := faststore.New(rdb)

	products := durable.NewProductRepo(db)
	auditRepo := durable.NewHoldAuditRepo(db)
	ledger := stock.NewLedger(fs, products)
	holdsReg := holds.NewRegistry(fs, auditRepo)

	ctx := context.Background()

	if *refreshProductID != 0 {
		runRefresh(ctx, ledger, products, *refreshProductID)
		return
	}

	if !*once {
		log.Fatal("reaper: pass --once (or --refresh <product_id>); this binary has no internal scheduler")
	}

	reaperCfg := config.LoadReaperConfig()
	r := reaper.New(fs, holdsReg, reaper.Config{
		BatchSize:      reaperCfg.BatchSize,
		MaxRuntime:     reaperCfg.MaxRuntime,
		LeaseTTL:       reaperCfg.LeaseTTL,
		MaxVerboseLogs: reaperCfg.MaxVerboseLogs,
	}, nil)

	sum, err := r.RunOnce(ctx)
	if err != nil {
		log.Fatalf("reaper: run failed: %v", err)
	}
	log.Printf("reaper: candidates=%d expired=%d failed=%d duration=%s",
		sum.CandidatesSeen, sum.Expired, sum.Failed, sum.Duration)
}

func runRefresh(ctx context.Context, ledger *stock.Ledger, products *durable.ProductRepo, productID uint64) {
	_, activeQty, err := products.LockAndRecomputeReserved(ctx, productID)
	if err != nil {
		log.Fatalf("reaper: refresh product %d: %v", productID, err)
	}
	snap, err := ledger.Refresh(ctx, productID, activeQty)
	if err != nil {
		log.Fatalf("reaper: refresh product %d: %v", productID, err)
	}
	log.Printf("reaper: refreshed product %d: available=%d reserved=%d version=%d",
		productID, snap.Available, snap.Reserved, snap.Version)
}
