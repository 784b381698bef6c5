package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/mahdimizabiself-rgb/Self/internal/apppool"
	"github.com/mahdimizabiself-rgb/Self/internal/clockface"
	"github.com/mahdimizabiself-rgb/Self/internal/selftask"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Onboarding is a short linear conversation: phone → login → base name →
// name style → digit style. Rename reuses the tail of the same machine for
// accounts that already hold a session.
type convStep int

const (
	stepPhone convStep = iota + 1
	stepName
	stepNameStyle
	stepDigitStyle
)

type conv struct {
	step     convStep
	rename   bool // editing an existing account; skip phone/login
	cred     userapi.Credential
	phone    string
	session  userapi.Session
	baseName string
	name     clockface.NameStyle
}

// convTable tracks at most one conversation per user. Conversations are held
// by value and every transition goes through the table mutex: telebot runs
// handlers on separate goroutines, so two rapid messages from one user would
// otherwise race on the shared state. advance and take are compare-and-swap
// on the step, so out-of-order or duplicate updates lose cleanly.
type convTable struct {
	mu sync.Mutex
	m  map[int64]conv
}

func newConvTable() *convTable { return &convTable{m: map[int64]conv{}} }

func (t *convTable) get(id int64) (conv, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[id]
	return c, ok
}

func (t *convTable) set(id int64, c conv) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[id] = c
}

func (t *convTable) drop(id int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, id)
}

// advance applies mutate only if the stored conversation is still at from,
// and returns the updated copy. A false return means the conversation was
// dropped or replaced while the caller was off doing remote work.
func (t *convTable) advance(id int64, from convStep, mutate func(*conv)) (conv, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[id]
	if !ok || c.step != from {
		return conv{}, false
	}
	mutate(&c)
	t.m[id] = c
	return c, true
}

// take removes and returns the conversation if it is at want. Exactly one of
// two concurrent finishing taps can win.
func (t *convTable) take(id int64, want convStep) (conv, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	c, ok := t.m[id]
	if !ok || c.step != want {
		return conv{}, false
	}
	delete(t.m, id)
	return c, true
}

func (r *Router) onStart(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	acct, ok, err := r.store.GetAccount(ctx, uid)
	if err != nil {
		return c.Send("Storage is unavailable right now, try again shortly.")
	}
	if ok && acct.Active && acct.Configured() {
		rm := &tele.ReplyMarkup{}
		rm.Inline(rm.Row(rm.Data(btnStop.Text, btnStop.Unique)))
		preview := clockface.Compose(
			clockface.StyleName(acct.BaseName, clockface.NameStyle(acct.NameStyle)),
			clockface.DigitStyle(acct.DigitStyle), time.Now())
		return c.Send("Your self clock is running.\nCurrent name: "+preview+
			"\n\nUse /setname or /setstyle to change it.", rm)
	}
	rm := &tele.ReplyMarkup{}
	rm.Inline(rm.Row(rm.Data(btnBegin.Text, btnBegin.Unique)))
	return c.Send("I keep the current Tehran time in your Telegram name, "+
		"refreshed every minute. Ready?", rm)
}

func (r *Router) onBegin(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	if r.sessions == nil {
		return c.Send("Login is not available on this deployment.")
	}
	app, err := r.pool.Acquire(ctx)
	if errors.Is(err, apppool.ErrExhausted) {
		return c.Send("All capacity is taken at the moment. The operator has been notified; please try again later.")
	}
	if err != nil {
		return c.Send("Could not reserve capacity, try again shortly.")
	}
	r.convs.set(uid, conv{
		step: stepPhone,
		cred: userapi.Credential{AppID: app.ID, AppHash: app.Hash},
	})
	return c.Send("Send your phone number in international format, e.g. +98912xxxxxxx.")
}

// restyleConv seeds a conversation for an account that already holds a
// session. With askName it enters at the name prompt; otherwise it jumps
// straight to the style pickers, reusing the stored base name.
func restyleConv(acct storage.Account, askName bool) (conv, bool) {
	if acct.Session == "" {
		return conv{}, false
	}
	cv := conv{
		rename:  true,
		cred:    userapi.Credential{AppID: acct.AppID, AppHash: acct.AppHash},
		phone:   acct.Phone,
		session: userapi.Session(acct.Session),
	}
	if askName {
		cv.step = stepName
		return cv, true
	}
	if acct.BaseName == "" {
		return conv{}, false
	}
	cv.step = stepNameStyle
	cv.baseName = acct.BaseName
	return cv, true
}

// onSetName restyles an already-logged-in account without a fresh login,
// starting from a new base name.
func (r *Router) onSetName(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	acct, ok, err := r.store.GetAccount(ctx, uid)
	if err != nil {
		return c.Send("Storage is unavailable right now, try again shortly.")
	}
	cv, ok2 := restyleConv(acct, true)
	if !ok || !ok2 {
		return c.Send("You have no account set up yet. Use /start first.")
	}
	r.convs.set(uid, cv)
	return c.Send("Send the base name to display, e.g. \"Ali\".")
}

// onSetStyle keeps the current base name and re-enters at the style pickers.
func (r *Router) onSetStyle(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	acct, ok, err := r.store.GetAccount(ctx, uid)
	if err != nil {
		return c.Send("Storage is unavailable right now, try again shortly.")
	}
	cv, ok2 := restyleConv(acct, false)
	if !ok || !ok2 {
		return c.Send("You have no styled name yet. Use /start first.")
	}
	r.convs.set(uid, cv)
	return c.Send("Pick a style for the name:", nameStyleMarkup(cv.baseName))
}

func (r *Router) onStopSelf(c tele.Context) error {
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	r.registry.Stop(uid)
	if err := r.store.SetAccountActive(ctx, uid, false); err != nil {
		r.log.Warn("deactivate failed", logx.Int64("user", uid), logx.Err(err))
		return c.Send("Stopped, but the change could not be saved. It may resume after a restart.")
	}
	return c.Send("Self clock stopped. /start brings it back any time.")
}

// onText feeds free-form messages into the active conversation, if any.
// Handlers get a copy of the state; transitions re-check it under the table
// lock so a stale copy can never clobber a newer conversation.
func (r *Router) onText(c tele.Context) error {
	uid := c.Sender().ID
	cv, ok := r.convs.get(uid)
	if !ok {
		return nil
	}
	text := strings.TrimSpace(c.Text())
	switch cv.step {
	case stepPhone:
		return r.handlePhone(c, cv, text)
	case stepName:
		return r.handleName(c, text)
	default:
		return nil
	}
}

func validPhone(s string) bool {
	if !strings.HasPrefix(s, "+") || len(s) < 8 {
		return false
	}
	for _, r := range s[1:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func (r *Router) handlePhone(c tele.Context, cv conv, phone string) error {
	if !validPhone(phone) {
		return c.Send("That doesn't look like a phone number. Use the +98... format.")
	}
	ctx, cancel := handlerCtx()
	defer cancel()
	uid := c.Sender().ID
	// Login is the long remote step; it runs on the local copy, and the
	// result is committed only if the conversation is still waiting for it.
	sess, err := r.sessions.Login(ctx, cv.cred, phone)
	if err != nil {
		r.convs.drop(uid)
		r.log.Warn("login failed", logx.Int64("user", uid), logx.Err(err))
		return c.Send("Login failed: " + err.Error() + "\nUse /start to try again.")
	}
	if _, ok := r.convs.advance(uid, stepPhone, func(cv *conv) {
		cv.phone = phone
		cv.session = sess
		cv.step = stepName
	}); !ok {
		return nil // restarted or cancelled mid-login
	}
	return c.Send("Logged in ✅\nNow send the base name to display, e.g. \"Ali\".")
}

func (r *Router) handleName(c tele.Context, name string) error {
	if name == "" || len(name) > 40 {
		return c.Send("Pick a name between 1 and 40 characters.")
	}
	if _, ok := r.convs.advance(c.Sender().ID, stepName, func(cv *conv) {
		cv.baseName = name
		cv.step = stepNameStyle
	}); !ok {
		return nil
	}
	return c.Send("Pick a style for the name:", nameStyleMarkup(name))
}

var nameStyles = []clockface.NameStyle{
	clockface.NamePlain, clockface.NameBold,
	clockface.NameFullwidth, clockface.NameItalic,
}

var digitStyles = []clockface.DigitStyle{
	clockface.DigitPlain, clockface.DigitDoubleStruck,
	clockface.DigitFullwidth, clockface.DigitBold,
}

func nameStyleMarkup(base string) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	btns := make([]tele.Btn, 0, len(nameStyles))
	for i, st := range nameStyles {
		label := clockface.StyleName(base, st)
		btns = append(btns, rm.Data(label, btnNameStyle.Unique, strconv.Itoa(i)))
	}
	rm.Inline(rm.Split(2, btns)...)
	return rm
}

func digitStyleMarkup(base string, name clockface.NameStyle) *tele.ReplyMarkup {
	rm := &tele.ReplyMarkup{}
	styled := clockface.StyleName(base, name)
	now := time.Now()
	btns := make([]tele.Btn, 0, len(digitStyles))
	for i, st := range digitStyles {
		label := clockface.Compose(styled, st, now)
		btns = append(btns, rm.Data(label, btnDigitStyle.Unique, strconv.Itoa(i)))
	}
	rm.Inline(rm.Split(2, btns)...)
	return rm
}

func styleIndex(data string, max int) (int, bool) {
	i, err := strconv.Atoi(strings.TrimSpace(data))
	if err != nil || i < 0 || i >= max {
		return 0, false
	}
	return i, true
}

func (r *Router) onNameStyle(c tele.Context) error {
	uid := c.Sender().ID
	i, ok := styleIndex(c.Data(), len(nameStyles))
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Bad choice."})
	}
	cv, ok := r.convs.advance(uid, stepNameStyle, func(cv *conv) {
		cv.name = nameStyles[i]
		cv.step = stepDigitStyle
	})
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "This setup has expired, use /start."})
	}
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		r.log.Debug("callback respond failed", logx.Err(err))
	}
	return c.Send("And a style for the clock digits:", digitStyleMarkup(cv.baseName, cv.name))
}

func (r *Router) onDigitStyle(c tele.Context) error {
	uid := c.Sender().ID
	i, ok := styleIndex(c.Data(), len(digitStyles))
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "Bad choice."})
	}
	cv, ok := r.convs.take(uid, stepDigitStyle)
	if !ok {
		return c.Respond(&tele.CallbackResponse{Text: "This setup has expired, use /start."})
	}
	digit := digitStyles[i]

	ctx, cancel := handlerCtx()
	defer cancel()
	acct := storage.Account{
		ID:         uid,
		Phone:      cv.phone,
		AppID:      cv.cred.AppID,
		AppHash:    cv.cred.AppHash,
		Session:    string(cv.session),
		BaseName:   cv.baseName,
		NameStyle:  int(cv.name),
		DigitStyle: int(digit),
		Active:     true,
	}
	if prev, ok, err := r.store.GetAccount(ctx, uid); err == nil && ok {
		acct.TwoFA = prev.TwoFA
		acct.GateVersion = prev.GateVersion
	}
	if err := r.store.UpsertAccount(ctx, acct); err != nil {
		r.log.Error("account save failed", logx.Int64("user", uid), logx.Err(err))
		return c.Send("Could not save your account, use /start to try again.")
	}
	r.registry.Start(ctx, selftask.SpecFromAccount(acct))
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		r.log.Debug("callback respond failed", logx.Err(err))
	}
	preview := clockface.Compose(clockface.StyleName(acct.BaseName, cv.name), digit, time.Now())
	return c.Send(fmt.Sprintf("Done! Your name now reads:\n%s\n\nIt refreshes every minute. /stopself turns it off.", preview))
}
