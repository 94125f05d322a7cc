// Package durable implements the MySQL-backed durable store described in
// spec.md §6: the products reference table, the order ledger, the
// idempotency log, and a best-effort hold audit table that resolves the
// open question in spec.md §9 in favor of persisting holds durably on
// create. It is grounded on the teacher's internal/repository package —
// one struct per table, *Tx methods that take an existing transaction so
// callers can compose multi-statement atomicity, and a DB() accessor so
// callers outside the package can open their own transactions (see
// internal/repository/show_seat_repository.go's ShowSeatRepo.DB()).
package durable

// Schema documents the DDL this package assumes. Migrations are
// explicitly out of scope (spec.md §1); this is reference documentation
// only, not executed by any code path.
const Schema = `
CREATE TABLE IF NOT EXISTS products (
    id BIGINT UNSIGNED PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    price_cents INT UNSIGNED NOT NULL DEFAULT 0,
    stock BIGINT UNSIGNED NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS orders (
    id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
    hold_id VARCHAR(36) NOT NULL,
    product_id BIGINT UNSIGNED NOT NULL,
    qty BIGINT UNSIGNED NOT NULL,
    state ENUM('pending_payment','paid','cancelled') NOT NULL DEFAULT 'pending_payment',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    UNIQUE KEY uq_orders_hold_id (hold_id)
);

CREATE TABLE IF NOT EXISTS idempotency_keys (
    id BIGINT UNSIGNED AUTO_INCREMENT PRIMARY KEY,
    idem_key VARCHAR(100) NOT NULL,
    order_id BIGINT UNSIGNED NOT NULL,
    status ENUM('paid','failed') NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE KEY uq_idempotency_key (idem_key),
    KEY idx_idempotency_key_order (idem_key, order_id)
);

CREATE TABLE IF NOT EXISTS hold_audit (
    hold_id VARCHAR(36) PRIMARY KEY,
    product_id BIGINT UNSIGNED NOT NULL,
    qty BIGINT UNSIGNED NOT NULL,
    status ENUM('active','used','expired','payment_failed') NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
    KEY idx_hold_audit_product_status (product_id, status)
);
`
