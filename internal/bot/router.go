// Package bot is the Telegram-facing surface: command routing, the
// force-join guard, account onboarding, and the owner console. All domain
// work is delegated to the services wired in at construction; handlers only
// translate between chat updates and those services.
package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/mahdimizabiself-rgb/Self/internal/apppool"
	"github.com/mahdimizabiself-rgb/Self/internal/broadcast"
	"github.com/mahdimizabiself-rgb/Self/internal/gate"
	"github.com/mahdimizabiself-rgb/Self/internal/selftask"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// handlerTimeout bounds the storage and probe work done for one update.
const handlerTimeout = 30 * time.Second

// Router owns the telebot handler table.
type Router struct {
	bot      *tele.Bot
	store    storage.Store
	pool     *apppool.Pool
	registry *selftask.Registry
	gate     *gate.Gate
	bcast    *broadcast.Service
	sessions userapi.SessionProvider
	convs    *convTable
	owner    int64
	log      logx.Logger
}

type Deps struct {
	Bot      *tele.Bot
	Store    storage.Store
	Pool     *apppool.Pool
	Registry *selftask.Registry
	Gate     *gate.Gate
	Bcast    *broadcast.Service
	Sessions userapi.SessionProvider
	OwnerID  int64
	Log      logx.Logger
}

func New(d Deps) *Router {
	return &Router{
		bot:      d.Bot,
		store:    d.Store,
		pool:     d.Pool,
		registry: d.Registry,
		gate:     d.Gate,
		bcast:    d.Bcast,
		sessions: d.Sessions,
		convs:    newConvTable(),
		owner:    d.OwnerID,
		log:      d.Log,
	}
}

// Callback button templates. Payloads carry the selection index.
var (
	btnBegin      = tele.Btn{Unique: "self_begin", Text: "🚀 Set up self clock"}
	btnStop       = tele.Btn{Unique: "self_stop", Text: "🛑 Stop self clock"}
	btnJoinCheck  = tele.Btn{Unique: "join_check", Text: "✅ I joined"}
	btnNameStyle  = tele.Btn{Unique: "name_style"}
	btnDigitStyle = tele.Btn{Unique: "digit_style"}
)

// Register installs every handler. Owner-only commands check the sender
// inside the handler so a stray user gets silence, not an error.
func (r *Router) Register() {
	b := r.bot
	b.Use(r.guard)

	b.Handle("/start", r.onStart)
	b.Handle("/help", r.onHelp)
	b.Handle("/setname", r.onSetName)
	b.Handle("/setstyle", r.onSetStyle)
	b.Handle("/stopself", r.onStopSelf)
	b.Handle(tele.OnText, r.onText)

	b.Handle(&btnBegin, r.onBegin)
	b.Handle(&btnStop, r.onStopSelf)
	b.Handle(&btnJoinCheck, r.onJoinCheck)
	b.Handle(&btnNameStyle, r.onNameStyle)
	b.Handle(&btnDigitStyle, r.onDigitStyle)

	b.Handle("/addapp", r.ownerOnly(r.onAddApp))
	b.Handle("/apps", r.ownerOnly(r.onApps))
	b.Handle("/stats", r.ownerOnly(r.onStats))
	b.Handle("/broadcast", r.ownerOnly(r.onBroadcast))
	b.Handle("/addchannel", r.ownerOnly(r.onAddChannel))
	b.Handle("/delchannel", r.ownerOnly(r.onDelChannel))
	b.Handle("/togglegate", r.ownerOnly(r.onToggleGate))
	b.Handle("/sessions", r.ownerOnly(r.onSessions))
}

func (r *Router) Start() { r.bot.Start() }
func (r *Router) Stop()  { r.bot.Stop() }

func handlerCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), handlerTimeout)
}

// guard enforces the force-join policy on every update. The gate itself
// short-circuits the owner and cached-version cases; here we only render the
// prompt for blocked users.
func (r *Router) guard(next tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		sender := c.Sender()
		if sender == nil {
			return nil
		}
		ctx, cancel := handlerCtx()
		defer cancel()
		dec, err := r.gate.Check(ctx, sender.ID)
		if err != nil {
			r.log.Warn("gate check failed", logx.Int64("user", sender.ID), logx.Err(err))
			return c.Send("Something went wrong, please try again in a moment.")
		}
		if dec.Allowed {
			return next(c)
		}
		return c.Send(joinPrompt(dec.Missing), joinMarkup(dec.Missing))
	}
}

func joinPrompt(missing []string) string {
	var sb strings.Builder
	sb.WriteString("To use this bot you must join:\n")
	for _, ch := range missing {
		fmt.Fprintf(&sb, "• @%s\n", strings.TrimPrefix(ch, "@"))
	}
	sb.WriteString("\nJoin and press the button below.")
	return sb.String()
}

func joinMarkup(missing []string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	rows := make([]tele.Row, 0, len(missing)+1)
	for _, ch := range missing {
		name := strings.TrimPrefix(ch, "@")
		rows = append(rows, rm.Row(rm.URL("Join @"+name, "https://t.me/"+name)))
	}
	rows = append(rows, rm.Row(rm.Data(btnJoinCheck.Text, btnJoinCheck.Unique)))
	rm.Inline(rows...)
	return rm
}

// onJoinCheck only runs once the guard lets the update through, so reaching
// the handler body already means the user passed.
func (r *Router) onJoinCheck(c tele.Context) error {
	if err := c.Respond(&tele.CallbackResponse{Text: "Verified ✅"}); err != nil {
		r.log.Debug("callback respond failed", logx.Err(err))
	}
	return c.Send("You're in! Send /start to continue.")
}

func (r *Router) ownerOnly(h tele.HandlerFunc) tele.HandlerFunc {
	return func(c tele.Context) error {
		if c.Sender() == nil || c.Sender().ID != r.owner {
			return nil
		}
		return h(c)
	}
}

func (r *Router) onHelp(c tele.Context) error {
	help := "/start - set up or inspect your self clock\n" +
		"/setname - change the displayed name and styles\n" +
		"/setstyle - restyle the current name\n" +
		"/stopself - stop updating your name"
	if c.Sender() != nil && c.Sender().ID == r.owner {
		help += "\n\nOwner:\n" +
			"/addapp <id> <hash> - register an API app\n" +
			"/apps - pool usage\n" +
			"/stats - service stats\n" +
			"/broadcast <text> - message every user\n" +
			"/addchannel <@ch> /delchannel <@ch> - force-join list\n" +
			"/togglegate - enable/disable force join\n" +
			"/sessions - list accounts"
	}
	return c.Send(help)
}
