// Package gate enforces the force-join policy: users must be members of every
// required channel before the bot serves them.
//
// Verification results are cached per user as "the last policy version this
// user satisfied". Policy changes bump a single global version, which lazily
// invalidates every cached verification in O(1): no per-user writes, no
// polling. Membership can change behind the bot's back, so a passed check is
// only ever a point-in-time cache, valid until the next policy change.
package gate

import (
	"context"
	"fmt"

	"github.com/mahdimizabiself-rgb/Self/internal/broadcast"
	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Decision is the outcome of one gate check. When blocked, Missing lists the
// channels the user still has to join, for display.
type Decision struct {
	Allowed bool
	Missing []string
}

// Announcer fans one message out to many chats at a controlled rate
// (implemented by broadcast.Service).
type Announcer interface {
	Run(ctx context.Context, targets []int64, text string) broadcast.Status
}

type Gate struct {
	store    storage.Store
	prober   userapi.MembershipProber
	notifier *notify.Service
	announce Announcer
	sink     metrics.Sink
	log      logx.Logger
	owner    int64
}

func New(store storage.Store, prober userapi.MembershipProber, notifier *notify.Service, owner int64, sink metrics.Sink, log logx.Logger) *Gate {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	return &Gate{store: store, prober: prober, notifier: notifier, sink: sink, log: log, owner: owner}
}

// SetAnnouncer wires the fan-out channel used for the re-join prompt on
// channel adds. Without one, adds only notify the owner.
func (g *Gate) SetAnnouncer(a Announcer) { g.announce = a }

// Check decides whether userID may interact with the bot.
//
// Fast path: when the user's recorded version equals the current global
// version no remote probes are made. Otherwise every required channel is
// probed; a probe error counts as "not joined" (fail-closed), so a flaky
// prober can only ever over-ask, never leak access.
func (g *Gate) Check(ctx context.Context, userID int64) (Decision, error) {
	if userID == g.owner {
		return Decision{Allowed: true}, nil
	}
	enabled, err := g.store.GetSetting(ctx, storage.SettingGateEnabled)
	if err != nil {
		g.sink.GateCheck(metrics.GateError)
		return Decision{}, fmt.Errorf("read gate toggle: %w", err)
	}
	if enabled != "true" {
		return Decision{Allowed: true}, nil
	}

	version, err := g.store.GateVersion(ctx)
	if err != nil {
		g.sink.GateCheck(metrics.GateError)
		return Decision{}, fmt.Errorf("read gate version: %w", err)
	}
	if acct, ok, err := g.store.GetAccount(ctx, userID); err != nil {
		g.sink.GateCheck(metrics.GateError)
		return Decision{}, err
	} else if ok && acct.GateVersion == version {
		g.sink.GateCheck(metrics.GateAllowedFast)
		return Decision{Allowed: true}, nil
	}

	channels, err := g.store.ListChannels(ctx)
	if err != nil {
		g.sink.GateCheck(metrics.GateError)
		return Decision{}, fmt.Errorf("list channels: %w", err)
	}

	var missing []string
	for _, ch := range channels {
		member, err := g.prober.IsMember(ctx, ch, userID)
		if err != nil {
			g.log.Debug("membership probe failed, treating as not joined",
				logx.String("channel", ch), logx.Int64("user", userID), logx.Err(err))
			missing = append(missing, ch)
			continue
		}
		if !member {
			missing = append(missing, ch)
		}
	}
	if len(missing) > 0 {
		g.sink.GateCheck(metrics.GateBlocked)
		return Decision{Missing: missing}, nil
	}

	if err := g.store.SetGateVersion(ctx, userID, version); err != nil {
		g.sink.GateCheck(metrics.GateError)
		return Decision{}, fmt.Errorf("record verification: %w", err)
	}
	g.sink.GateCheck(metrics.GateAllowed)
	return Decision{Allowed: true}, nil
}

// AddChannel adds a requirement and bumps the global version, forcing every
// user to re-verify on their next interaction. Every known account also gets
// a re-join prompt so users learn about the new requirement before their next
// command bounces. Returns the new version.
func (g *Gate) AddChannel(ctx context.Context, channel string) (int64, error) {
	if err := g.store.AddChannel(ctx, channel); err != nil {
		return 0, err
	}
	v, err := g.store.IncrementGateVersion(ctx)
	if err != nil {
		return 0, err
	}
	g.log.Info("gate channel added", logx.String("channel", channel), logx.Int64("version", v))
	g.notifier.Owner(ctx, fmt.Sprintf("🔒 Required channel %s added (policy v%d). All users must re-verify.", channel, v))
	g.announceAdd(ctx, channel)
	return v, nil
}

// announceAdd fans the re-join prompt out to all accounts. Best effort: the
// policy change itself already succeeded, a failed fan-out only costs users
// an early heads-up.
func (g *Gate) announceAdd(ctx context.Context, channel string) {
	if g.announce == nil {
		return
	}
	targets, err := g.store.ListAccountIDs(ctx)
	if err != nil {
		g.log.Warn("re-join prompt skipped, account list unavailable", logx.Err(err))
		return
	}
	prompt := fmt.Sprintf("📢 A new channel is now required to use this bot: %s\nPlease join it to keep your self clock running.", channel)
	st := g.announce.Run(ctx, targets, prompt)
	g.log.Info("re-join prompt sent",
		logx.String("channel", channel),
		logx.Int("sent", st.Sent), logx.Int("failed", st.Failed))
}

// RemoveChannel drops a requirement. The version is bumped here too: cached
// verifications may now be over-strict, and re-verifying against the smaller
// set is cheap and keeps the invalidation rule uniform.
func (g *Gate) RemoveChannel(ctx context.Context, channel string) (int64, error) {
	if err := g.store.RemoveChannel(ctx, channel); err != nil {
		return 0, err
	}
	v, err := g.store.IncrementGateVersion(ctx)
	if err != nil {
		return 0, err
	}
	g.log.Info("gate channel removed", logx.String("channel", channel), logx.Int64("version", v))
	g.notifier.Owner(ctx, fmt.Sprintf("🔓 Required channel %s removed (policy v%d).", channel, v))
	return v, nil
}

// SetEnabled flips the global gate toggle.
func (g *Gate) SetEnabled(ctx context.Context, enabled bool) error {
	v := "false"
	if enabled {
		v = "true"
	}
	return g.store.SetSetting(ctx, storage.SettingGateEnabled, v)
}

// Enabled reads the global gate toggle.
func (g *Gate) Enabled(ctx context.Context) (bool, error) {
	v, err := g.store.GetSetting(ctx, storage.SettingGateEnabled)
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// Channels lists the current requirement set.
func (g *Gate) Channels(ctx context.Context) ([]string, error) {
	return g.store.ListChannels(ctx)
}
