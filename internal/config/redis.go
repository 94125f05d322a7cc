package config

// This file defines the fast-store (Redis) client constructor. The fast
// store backs the Stock Ledger, Hold Registry and Expiry Reaper (spec.md
// §4.1); connection parameters are loaded from environment variables. If
// connection fails during startup, the function returns nil and callers
// should fail closed rather than silently serving stale stock data.

import (
    "context"
    "crypto/tls"
    "os"
    "strconv"
    "strings"
    "time"

    "github.com/redis/go-redis/v9"
)

// FastStoreConfig is a superset of the ad-hoc environment lookups the
// teacher's NewRedisClient performed inline, promoted to a struct so
// internal/faststore's constructor can be called with an explicit,
// testable configuration value instead of reading the environment
// itself.
type FastStoreConfig struct {
    Addr      string
    Password  string
    DB        int
    TLS       bool
	DialTimeout time.Duration
}

// LoadFastStoreConfig reads REDIS_* environment variables:
//   REDIS_HOST and REDIS_PORT – hostname and port of the Redis server
//   REDIS_ADDR – host:port shorthand (ignored when both REDIS_HOST and REDIS_PORT are set)
//   REDIS_PASSWORD – optional password
//   REDIS_DB – database number (default 0)
//   REDIS_TLS – enable TLS when "true" or "1"
func LoadFastStoreConfig() FastStoreConfig {
    host := os.Getenv("REDIS_HOST")
    port := os.Getenv("REDIS_PORT")
    addr := os.Getenv("REDIS_ADDR")
    if host != "" && port != "" {
        addr = host + ":" + port
    }
    if addr == "" {
        addr = "localhost:6379"
    }
    dbNum := 0
    if dbStr := os.Getenv("REDIS_DB"); dbStr != "" {
        if n, err := strconv.Atoi(dbStr); err == nil {
            dbNum = n
        }
    }
    tlsEnv := os.Getenv("REDIS_TLS")
    return FastStoreConfig{
        Addr:        addr,
        Password:    os.Getenv("REDIS_PASSWORD"),
        DB:          dbNum,
        TLS:         strings.EqualFold(tlsEnv, "true") || tlsEnv == "1",
        DialTimeout: parseDur(getenv("REDIS_DIAL_TIMEOUT", "2s")),
    }
}

// NewRedisClient instantiates and pings a Redis client from cfg. The
// returned client is nil if a connection cannot be established within
// cfg.DialTimeout.
func NewRedisClient(cfg FastStoreConfig) *redis.Client {
    var tlsConf *tls.Config
    if cfg.TLS {
        tlsConf = &tls.Config{InsecureSkipVerify: true}
    }
    client := redis.NewClient(&redis.Options{
        Addr:      cfg.Addr,
        Password:  cfg.Password,
        DB:        cfg.DB,
        TLSConfig: tlsConf,
    })
    ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
    defer cancel()
    if err := client.Ping(ctx).Err(); err != nil {
        return nil
    }
    return client
}