package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

func (r *Router) onAddApp(c tele.Context) error {
	args := c.Args()
	if len(args) != 2 {
		return c.Send("Usage: /addapp <api_id> <api_hash>")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil || id <= 0 {
		return c.Send("api_id must be a positive number.")
	}
	ctx, cancel := handlerCtx()
	defer cancel()
	if err := r.pool.Register(ctx, id, args[1]); err != nil {
		return c.Send("App rejected: " + err.Error())
	}
	return c.Send(fmt.Sprintf("App %d registered and active.", id))
}

func (r *Router) onApps(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	usage, err := r.pool.Usage(ctx)
	if err != nil {
		return c.Send("Could not read pool usage: " + err.Error())
	}
	if len(usage) == 0 {
		return c.Send("No apps registered. Add one with /addapp.")
	}
	var sb strings.Builder
	sb.WriteString("API app pool:\n")
	for _, u := range usage {
		state := "active"
		if !u.App.Active {
			state = "disabled"
		}
		fmt.Fprintf(&sb, "• %d: %d/%d (%s)\n", u.App.ID, u.Used, u.Capacity, state)
	}
	return c.Send(sb.String())
}

func (r *Router) onStats(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	total, err := r.store.CountAccounts(ctx)
	if err != nil {
		return c.Send("Could not read stats: " + err.Error())
	}
	enabled, _ := r.gate.Enabled(ctx)
	channels, _ := r.gate.Channels(ctx)
	var sb strings.Builder
	fmt.Fprintf(&sb, "accounts: %d\n", total)
	fmt.Fprintf(&sb, "running self tasks: %d\n", r.registry.Running())
	fmt.Fprintf(&sb, "force join: %v (%d channels)\n", enabled, len(channels))
	if last := r.bcast.Last(); last.ID != "" {
		fmt.Fprintf(&sb, "last broadcast %s: %d/%d sent, %d failed\n",
			last.ID, last.Sent, last.Total, last.Failed)
	}
	return c.Send(sb.String())
}

// onBroadcast fans the payload out in the background; the command returns
// immediately and the summary lands in the owner chat when the run finishes.
func (r *Router) onBroadcast(c tele.Context) error {
	text := strings.TrimSpace(c.Message().Payload)
	if text == "" {
		return c.Send("Usage: /broadcast <message>")
	}
	ctx, cancel := handlerCtx()
	defer cancel()
	targets, err := r.store.ListAccountIDs(ctx)
	if err != nil {
		return c.Send("Could not list recipients: " + err.Error())
	}
	go func() {
		st := r.bcast.Run(context.Background(), targets, text)
		summary := fmt.Sprintf("Broadcast %s finished: %d/%d sent, %d failed in %s.",
			st.ID, st.Sent, st.Total, st.Failed, st.Duration.Round(time.Millisecond))
		if _, err := r.bot.Send(tele.ChatID(r.owner), summary); err != nil {
			r.log.Warn("broadcast summary not delivered", logx.Err(err))
		}
	}()
	return c.Send(fmt.Sprintf("Broadcasting to %d users…", len(targets)))
}

func (r *Router) onAddChannel(c tele.Context) error {
	ch := strings.TrimSpace(c.Message().Payload)
	if ch == "" {
		return c.Send("Usage: /addchannel <@channel>")
	}
	ctx, cancel := handlerCtx()
	defer cancel()
	version, err := r.gate.AddChannel(ctx, ch)
	if err != nil {
		return c.Send("Could not add channel: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Channel added. Policy is now v%d; every user re-verifies on next contact.", version))
}

func (r *Router) onDelChannel(c tele.Context) error {
	ch := strings.TrimSpace(c.Message().Payload)
	if ch == "" {
		return c.Send("Usage: /delchannel <@channel>")
	}
	ctx, cancel := handlerCtx()
	defer cancel()
	version, err := r.gate.RemoveChannel(ctx, ch)
	if err != nil {
		return c.Send("Could not remove channel: " + err.Error())
	}
	return c.Send(fmt.Sprintf("Channel removed. Policy is now v%d.", version))
}

func (r *Router) onToggleGate(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	enabled, err := r.gate.Enabled(ctx)
	if err != nil {
		return c.Send("Could not read gate state: " + err.Error())
	}
	if err := r.gate.SetEnabled(ctx, !enabled); err != nil {
		return c.Send("Could not toggle gate: " + err.Error())
	}
	if enabled {
		return c.Send("Force join disabled.")
	}
	return c.Send("Force join enabled.")
}

func (r *Router) onSessions(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	accounts, err := r.store.ListAccounts(ctx)
	if err != nil {
		return c.Send("Could not list accounts: " + err.Error())
	}
	if len(accounts) == 0 {
		return c.Send("No accounts yet.")
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "%d accounts:\n", len(accounts))
	for _, a := range accounts {
		state := "inactive"
		if a.Active {
			state = "active"
		}
		running := ""
		if r.registry.IsRunning(a.ID) {
			running = ", running"
		}
		fmt.Fprintf(&sb, "• %d %s app=%d (%s%s)\n", a.ID, a.Phone, a.AppID, state, running)
	}
	return c.Send(sb.String())
}
