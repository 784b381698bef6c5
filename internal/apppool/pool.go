// Package apppool allocates shared Telegram API applications to accounts.
//
// Usage counts are derived by scanning the account table rather than stored:
// a stored counter would drift from the authoritative account set the first
// time an increment and a row write disagree.
package apppool

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

var (
	// ErrExhausted means no active app has spare capacity right now.
	ErrExhausted = errors.New("api app pool exhausted")
	// ErrInvalidApp means the credential failed the connection probe.
	ErrInvalidApp = errors.New("api app credentials rejected")
)

// Prober is the slice of the transport the pool needs for registration.
type Prober interface {
	Probe(ctx context.Context, cred userapi.Credential) error
}

type Pool struct {
	store    storage.Store
	prober   Prober
	notifier *notify.Service
	sink     metrics.Sink
	log      logx.Logger
	capacity int

	// mu serializes Acquire so the exhaustion alert stays edge-triggered
	// under concurrent onboarding.
	mu sync.Mutex
}

func New(store storage.Store, prober Prober, notifier *notify.Service, capacity int, sink metrics.Sink, log logx.Logger) *Pool {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	return &Pool{
		store:    store,
		prober:   prober,
		notifier: notifier,
		sink:     sink,
		log:      log,
		capacity: capacity,
	}
}

// Acquire returns the first active app whose derived usage is below capacity,
// scanning in ascending app id order. On exhaustion it alerts the operator at
// most once per transition into the exhausted state and returns ErrExhausted.
func (p *Pool) Acquire(ctx context.Context) (storage.App, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	apps, err := p.store.ListApps(ctx)
	if err != nil {
		return storage.App{}, fmt.Errorf("list apps: %w", err)
	}
	for _, app := range apps {
		if !app.Active {
			continue
		}
		used, err := p.store.CountAccountsByApp(ctx, app.ID)
		if err != nil {
			return storage.App{}, fmt.Errorf("count usage for app %d: %w", app.ID, err)
		}
		if used < p.capacity {
			p.clearAlert(ctx)
			p.sink.PoolAcquired()
			p.log.Debug("app allocated", logx.Int64("app_id", app.ID), logx.Int("used", used), logx.Int("capacity", p.capacity))
			return app, nil
		}
	}

	p.raiseAlert(ctx)
	return storage.App{}, ErrExhausted
}

// Register probe-validates the credential and upserts it as an active pool
// member. Probe failure leaves the pool untouched.
func (p *Pool) Register(ctx context.Context, appID int64, appHash string) error {
	cred := userapi.Credential{AppID: appID, AppHash: appHash}
	if !cred.Valid() {
		return ErrInvalidApp
	}
	if err := p.prober.Probe(ctx, cred); err != nil {
		p.log.Warn("app probe failed", logx.Int64("app_id", appID), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrInvalidApp, err)
	}
	if err := p.store.UpsertApp(ctx, storage.App{ID: appID, Hash: appHash, Active: true}); err != nil {
		return err
	}
	p.mu.Lock()
	p.clearAlert(ctx)
	p.mu.Unlock()
	p.log.Info("app registered", logx.Int64("app_id", appID))
	return nil
}

// Usage reports every app with its derived account count, for the operator
// listing and the daily report.
func (p *Pool) Usage(ctx context.Context) ([]AppUsage, error) {
	apps, err := p.store.ListApps(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]AppUsage, 0, len(apps))
	for _, app := range apps {
		used, err := p.store.CountAccountsByApp(ctx, app.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, AppUsage{App: app, Used: used, Capacity: p.capacity})
	}
	return out, nil
}

type AppUsage struct {
	App      storage.App
	Used     int
	Capacity int
}

// clearAlert resets the dedup flag the moment the pool has capacity again.
// Idempotent; storage errors are logged, not propagated.
func (p *Pool) clearAlert(ctx context.Context) {
	flag, err := p.store.GetSetting(ctx, storage.SettingPoolExhausted)
	if err != nil {
		p.log.Warn("read pool alert flag failed", logx.Err(err))
		return
	}
	if flag != "true" {
		return
	}
	if err := p.store.SetSetting(ctx, storage.SettingPoolExhausted, "false"); err != nil {
		p.log.Warn("clear pool alert flag failed", logx.Err(err))
	}
}

// raiseAlert notifies the operator exactly once per transition into
// exhaustion. Notification failure must not turn into an allocation error,
// and the flag is still set so the next exhaustion stays quiet.
func (p *Pool) raiseAlert(ctx context.Context) {
	flag, err := p.store.GetSetting(ctx, storage.SettingPoolExhausted)
	if err != nil {
		p.log.Warn("read pool alert flag failed", logx.Err(err))
		return
	}
	if flag == "true" {
		return
	}
	p.sink.PoolExhausted()
	p.log.Warn("api app pool exhausted")
	p.notifier.Owner(ctx, "⚠️ API pool exhausted: no app has spare capacity for new accounts.")
	if err := p.store.SetSetting(ctx, storage.SettingPoolExhausted, "true"); err != nil {
		p.log.Warn("set pool alert flag failed", logx.Err(err))
	}
}
