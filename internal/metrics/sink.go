// Package metrics records operational counters. All methods are
// fire-and-forget: implementations must not block or propagate errors.
package metrics

// Gate check results.
const (
	GateAllowedFast = "allowed_cached"
	GateAllowed     = "allowed_verified"
	GateBlocked     = "blocked"
	GateError       = "error"
)

// Profile update results.
const (
	UpdateOK        = "ok"
	UpdateFloodWait = "flood_wait"
	UpdateError     = "error"
)

type Sink interface {
	// Self-task scheduler
	RunnerStarted()
	RunnerStopped()
	ProfileUpdate(result string)

	// Credential pool
	PoolExhausted()
	PoolAcquired()

	// Access gate
	GateCheck(result string)

	// Broadcast
	BroadcastSend(ok bool)
}

// Noop is used when metrics are disabled, so callers never nil-check.
type Noop struct{}

func NewNoop() *Noop { return &Noop{} }

func (*Noop) RunnerStarted()       {}
func (*Noop) RunnerStopped()       {}
func (*Noop) ProfileUpdate(string) {}
func (*Noop) PoolExhausted()       {}
func (*Noop) PoolAcquired()        {}
func (*Noop) GateCheck(string)     {}
func (*Noop) BroadcastSend(bool)   {}

var _ Sink = (*Noop)(nil)
