// Package database opens the durable store's connection pool: the
// MySQL instance backing the `products`, `orders`, `idempotency_keys`
// and `hold_audit` tables that internal/durable reads and writes under
// `SELECT ... FOR UPDATE` row locks (spec.md §4.4.2, §7). This is the
// system of record the Order & Payment Coordinator falls back on when
// the fast store and durable store diverge after a crash.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/go-sql-driver/mysql"
)

// Open connects to the durable order ledger and verifies the
// connection. The pool is sized for the webhook/order-creation request
// path, where every row-locked transaction holds a connection for its
// full duration: oversizing MaxIdleConns below MaxOpenConns would mean
// connections get closed and redialed under the bursty load a flash
// sale produces.
func Open(user, pass, host, port, name string) (*sql.DB, error) {
	auth := user
	if pass != "" {
		auth = fmt.Sprintf("%s:%s", user, pass)
	}
	// parseTime=true -> DATETIME -> time.Time | loc=UTC keeps times consistent
	dsn := fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&parseTime=true&loc=UTC",
		auth, host, port, name)

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, err
	}

	// Pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return db, nil
}
