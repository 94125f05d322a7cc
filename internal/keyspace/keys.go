// Package keyspace centralizes the literal fast-store key names spec.md
// §6 specifies, so the stock ledger, hold registry and reaper never
// disagree on how a product id or hold id maps to a Redis key.
package keyspace

import "strconv"

func Available(productID uint64) string { return "available_stock:" + u(productID) }
func Reserved(productID uint64) string { return "reserved_stock:" + u(productID) }
func Version(productID uint64) string { return "stock_version:" + u(productID) }
func ActiveHolds(productID uint64) string { return "active_holds:" + u(productID) }
func InitGuard(productID uint64) string { return "init:" + u(productID) }

func ProductHolds(productID uint64) string { return "product_holds:" + u(productID) }
func ExpiringIndex(productID uint64) string { return "expiring_index:" + u(productID) }
func HoldsByStatus(status string) string { return "holds_by_status:" + status }

func Hold(holdID string) string { return "hold:" + holdID }
func ExpireLock(holdID string) string { return "expire_lock:" + holdID }

func u(v uint64) string { return strconv.FormatUint(v, 10) }

// ExpiringIndexPrefix is used by FindExpired to discover every product's
// index via a pattern scan.
const ExpiringIndexPrefix = "expiring_index:"

// ProductIDFromExpiringIndexKey extracts the product id suffix from a key
// produced by ExpiringIndex, or ok=false if it doesn't parse.
func ProductIDFromExpiringIndexKey(key string) (uint64, bool) {
	return productIDFromKey(key, ExpiringIndexPrefix)
}

// AvailablePrefix is used by the reaper's heartbeat to discover every
// product that has live stock counters via a pattern scan.
const AvailablePrefix = "available_stock:"

// ProductIDFromAvailableKey extracts the product id suffix from a key
// produced by Available, or ok=false if it doesn't parse.
func ProductIDFromAvailableKey(key string) (uint64, bool) {
	return productIDFromKey(key, AvailablePrefix)
}

func productIDFromKey(key, prefix string) (uint64, bool) {
	if len(key) <= len(prefix) {
		return 0, false
	}
	id, err := strconv.ParseUint(key[len(prefix):], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
