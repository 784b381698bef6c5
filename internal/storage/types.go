package storage

import (
	"context"
	"time"
)

// StyleUnset marks a style selector the account has not chosen yet.
// An account is only schedulable once its digit style is >= 0.
const StyleUnset = -1

// Account is the durable record of one managed user account.
// Accounts are never hard-deleted; Active=false stops the self task.
type Account struct {
	ID          int64  // telegram user id
	Phone       string
	AppID       int64  // bound pool credential; 0 until assigned
	AppHash     string
	Session     string // opaque login blob; empty until login completes
	BaseName    string
	NameStyle   int
	DigitStyle  int // StyleUnset until chosen
	TwoFA       string
	Active      bool
	GateVersion int64 // last force-join policy version this account satisfied
}

// Configured reports whether the account carries everything a self task needs.
func (a Account) Configured() bool {
	return a.Session != "" && a.AppID != 0 && a.AppHash != "" &&
		a.BaseName != "" && a.DigitStyle > StyleUnset
}

// App is one shared API application credential.
type App struct {
	ID     int64
	Hash   string
	Active bool
}

// Settings keys.
const (
	SettingGateEnabled   = "gate_enabled"
	SettingGateVersion   = "gate_version"
	SettingPoolExhausted = "pool_exhausted_alert"
)

// Config selects and configures the storage backend.
//
// Driver values:
//   - "sqlite": SQLite database file (the production backend)
//   - "memory": in-process map store (tests, throwaway runs)
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the tenant directory: the single source of truth the scheduler,
// pool and gate are reconstructed from.
type Store interface {
	GetAccount(ctx context.Context, id int64) (Account, bool, error)
	UpsertAccount(ctx context.Context, a Account) error
	SetAccountActive(ctx context.Context, id int64, active bool) error
	SetGateVersion(ctx context.Context, id int64, version int64) error
	// ListActiveConfigured returns the accounts the scheduler must run:
	// active and fully configured. Mid-onboarding records are filtered out.
	ListActiveConfigured(ctx context.Context) ([]Account, error)
	ListAccountIDs(ctx context.Context) ([]int64, error)
	ListAccounts(ctx context.Context) ([]Account, error)
	CountAccounts(ctx context.Context) (int, error)

	// ListApps returns all apps in ascending id order (stable allocation scan).
	ListApps(ctx context.Context) ([]App, error)
	UpsertApp(ctx context.Context, a App) error
	// CountAccountsByApp derives the app's live usage from the account table.
	CountAccountsByApp(ctx context.Context, appID int64) (int, error)

	ListChannels(ctx context.Context) ([]string, error)
	AddChannel(ctx context.Context, name string) error
	RemoveChannel(ctx context.Context, name string) error

	GetSetting(ctx context.Context, key string) (string, error) // "" when absent
	SetSetting(ctx context.Context, key, value string) error
	GateVersion(ctx context.Context) (int64, error)
	// IncrementGateVersion atomically bumps the global policy version and
	// returns the new value. Concurrent bumps must never lose an update.
	IncrementGateVersion(ctx context.Context) (int64, error)

	Ping(ctx context.Context) error
	Close() error
}
