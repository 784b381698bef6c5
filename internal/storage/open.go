// Package storage implements the tenant directory: durable records of managed
// accounts, the shared API app pool, required channels, and global settings.
package storage

import (
	"errors"
	"strings"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Open initializes the configured store. The caller must treat an error here
// as fatal: running with a partial tenant set is worse than not starting.
func Open(cfg Config, log logx.Logger) (Store, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, errors.New("unknown storage driver: " + cfg.Driver)
	}
}
