package main

import (
	"log"

	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"

	"github.com/flashsale/checkout-coordinator/internal/config"
	"github.com/flashsale/checkout-coordinator/internal/database"
	"github.com/flashsale/checkout-coordinator/internal/durable"
	"github.com/flashsale/checkout-coordinator/internal/events"
	"github.com/flashsale/checkout-coordinator/internal/faststore"
	"github.com/flashsale/checkout-coordinator/internal/holds"
	"github.com/flashsale/checkout-coordinator/internal/httpapi"
	"github.com/flashsale/checkout-coordinator/internal/middleware"
	"github.com/flashsale/checkout-coordinator/internal/orders"
	"github.com/flashsale/checkout-coordinator/internal/stock"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("info: .env not found; using defaults/env")
	}

	cfg := config.Load()
	holdCfg := config.LoadHoldConfig()
	rlCfg := config.LoadRateLimitConfig()

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
	orderRepo := durable.NewOrderRepo(db)
	idemp := durable.NewIdempotencyRepo(db)
	auditRepo := durable.NewHoldAuditRepo(db)

	ledger := stock.NewLedger(fs, products)
	holdsReg := holds.NewRegistry(fs, auditRepo)

	var publisher orders.EventPublisher
	if cfg.AMQPURL != "" {
		publisher = events.NewPublisher(cfg.AMQPURL)
	}
	coordinator := orders.New(fs, holdsReg, orderRepo, products, idemp, publisher)

	h := httpapi.New(ledger, holdsReg, coordinator, products, orderRepo, uint64(holdCfg.MaxQty))

	e := echo.New()
	httpapi.RegisterRoutes(e, h, middleware.NewTokenBucket(rlCfg, rdb))

	addr := ":" + cfg.Port
	log.Printf("listening on %s (env=%s)", addr, cfg.Env)
	if err := e.Start(addr); err != nil {
		log.Fatal(err)
	}
}
