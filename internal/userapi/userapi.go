// Package userapi defines the seam to the Telegram user-account (MTProto)
// transport. The bot core never speaks the wire protocol itself; a concrete
// dialer registers a Factory (database/sql driver style) and everything above
// this package works against the interfaces.
package userapi

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Credential identifies one shared API application from the pool.
type Credential struct {
	AppID   int64
	AppHash string
}

func (c Credential) Valid() bool { return c.AppID != 0 && c.AppHash != "" }

// Session is an opaque reusable login blob for one account.
type Session string

// Client is a connected user-account session.
type Client interface {
	// UpdateProfile replaces the account's first name.
	UpdateProfile(ctx context.Context, firstName string) error
	Close() error
}

// Connector dials user-account sessions.
type Connector interface {
	Connect(ctx context.Context, cred Credential, sess Session) (Client, error)
	// Probe validates a credential with a lightweight connect/disconnect,
	// without logging any account in.
	Probe(ctx context.Context, cred Credential) error
}

// SessionProvider completes an interactive login (phone, code, optional 2FA)
// and returns a reusable session blob. The conversational flow that feeds it
// lives outside the core.
type SessionProvider interface {
	Login(ctx context.Context, cred Credential, phone string) (Session, error)
}

// MembershipProber answers whether a user currently belongs to a channel.
type MembershipProber interface {
	IsMember(ctx context.Context, channel string, userID int64) (bool, error)
}

// FloodWaitError is the transport's rate-limit signal. RetryAfter is supplied
// by the remote side and honored verbatim (plus a small safety margin) by the
// self-task loop.
type FloodWaitError struct {
	RetryAfter time.Duration
}

func (e *FloodWaitError) Error() string {
	return fmt.Sprintf("flood wait: retry after %s", e.RetryAfter)
}

// ---- driver registry ----

// Factory builds the concrete transport for one process.
type Factory func() (Connector, SessionProvider, error)

var (
	driversMu sync.RWMutex
	drivers   = map[string]Factory{}
)

// Register makes a transport implementation available under name.
// Typically called from a driver package's init via blank import.
func Register(name string, f Factory) {
	driversMu.Lock()
	defer driversMu.Unlock()
	if f == nil {
		panic("userapi: Register with nil factory")
	}
	if _, dup := drivers[name]; dup {
		panic("userapi: Register called twice for driver " + name)
	}
	drivers[name] = f
}

// Open builds the named transport.
func Open(name string) (Connector, SessionProvider, error) {
	driversMu.RLock()
	f, ok := drivers[name]
	driversMu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("userapi: unknown driver %q (linked drivers: %v)", name, driverNames())
	}
	return f()
}

func driverNames() []string {
	driversMu.RLock()
	defer driversMu.RUnlock()
	names := make([]string, 0, len(drivers))
	for n := range drivers {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
