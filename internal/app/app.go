// Package app assembles the service: configuration, logging, storage, the
// Telegram bot, the self-task scheduler, and the supporting servers. It owns
// startup and shutdown ordering.
package app

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	tele "gopkg.in/telebot.v4"

	"github.com/mahdimizabiself-rgb/Self/internal/apppool"
	"github.com/mahdimizabiself-rgb/Self/internal/bot"
	"github.com/mahdimizabiself-rgb/Self/internal/broadcast"
	"github.com/mahdimizabiself-rgb/Self/internal/clockface"
	"github.com/mahdimizabiself-rgb/Self/internal/config"
	"github.com/mahdimizabiself-rgb/Self/internal/gate"
	"github.com/mahdimizabiself-rgb/Self/internal/health"
	"github.com/mahdimizabiself-rgb/Self/internal/maintenance"
	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/internal/selftask"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	cfgPath string
	cfg     *config.Config

	logs *logx.Service
	log  logx.Logger

	store    storage.Store
	tg       *tele.Bot
	router   *bot.Router
	registry *selftask.Registry
	maint    *maintenance.Service
	hsrv     *health.Server

	ready       atomic.Bool
	watchCancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, err := logx.NewService(logx.Config{Level: cfg.Log.Level, File: cfg.Log.File})
	if err != nil {
		return nil, err
	}
	log := logs.Logger()

	store, err := storage.Open(storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		BusyTimeout: time.Duration(cfg.Storage.BusyTimeout),
	}, log.With(logx.String("comp", "storage")))
	if err != nil {
		logs.Close()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	tg, err := tele.NewBot(tele.Settings{
		Token:  cfg.Telegram.Token,
		Poller: &tele.LongPoller{Timeout: time.Duration(cfg.Telegram.PollTimeout)},
	})
	if err != nil {
		_ = store.Close()
		logs.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}

	// The user-api transport is linked in at build time; a binary without
	// one still serves the directory and gate, it just cannot run clocks.
	connector, sessions, err := userapi.Open(cfg.Telegram.UserAPIDriver)
	if err != nil {
		log.Warn("user-api transport unavailable", logx.Err(err))
	}

	sink := metrics.NewPrometheus()
	notifier := notify.New(bot.Sender{B: tg}, cfg.Telegram.OwnerID, log.With(logx.String("comp", "notify")))
	pool := apppool.New(store, connectorProber{connector}, notifier, cfg.Pool.Capacity,
		sink, log.With(logx.String("comp", "pool")))

	loc := clockface.LoadZone(cfg.Clock.Timezone)
	registry := selftask.NewRegistry(connector, time.Duration(cfg.Clock.Interval), loc,
		sink, log.With(logx.String("comp", "selftask")))

	g := gate.New(store, userapi.NewBotProber(tg), notifier, cfg.Telegram.OwnerID,
		sink, log.With(logx.String("comp", "gate")))
	bcast := broadcast.New(notifier, cfg.Broadcast.RatePerSec, cfg.Broadcast.Burst,
		sink, log.With(logx.String("comp", "broadcast")))
	g.SetAnnouncer(bcast)

	a := &App{
		cfgPath:  cfgPath,
		cfg:      cfg,
		logs:     logs,
		log:      log,
		store:    store,
		tg:       tg,
		registry: registry,
		maint: maintenance.New(cfg.Maintenance.ReportSpec, loc, store, registry, pool,
			notifier, log.With(logx.String("comp", "maintenance"))),
	}

	a.router = bot.New(bot.Deps{
		Bot:      tg,
		Store:    store,
		Pool:     pool,
		Registry: registry,
		Gate:     g,
		Bcast:    bcast,
		Sessions: sessions,
		OwnerID:  cfg.Telegram.OwnerID,
		Log:      log.With(logx.String("comp", "bot")),
	})

	if cfg.Health.Addr != "" {
		a.hsrv = health.New(cfg.Health.Addr, a.readiness, sink.Handler(),
			log.With(logx.String("comp", "health")))
	}
	return a, nil
}

// readiness gates /healthz on reconciliation having finished and the store
// answering.
func (a *App) readiness(ctx context.Context) error {
	if !a.ready.Load() {
		return fmt.Errorf("still reconciling")
	}
	return a.store.Ping(ctx)
}

// Start reconciles persisted state into running self tasks, then opens the
// outward surfaces. Reconcile runs before polling so a user command can never
// race the startup rebuild of their runner.
func (a *App) Start(ctx context.Context) error {
	if err := a.registry.Reconcile(ctx, a.store); err != nil {
		return fmt.Errorf("reconcile: %w", err)
	}
	a.ready.Store(true)

	a.router.Register()
	go a.router.Start()

	if a.hsrv != nil {
		a.hsrv.Start()
	}
	if err := a.maint.Start(); err != nil {
		return fmt.Errorf("maintenance: %w", err)
	}

	wctx, cancel := context.WithCancel(context.Background())
	a.watchCancel = cancel
	go func() {
		err := config.Watch(wctx, a.cfgPath, a.log.With(logx.String("comp", "config")), a.applyConfig)
		if err != nil && wctx.Err() == nil {
			a.log.Warn("config watch disabled", logx.Err(err))
		}
	}()

	if _, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		a.log.Debug("sd_notify skipped", logx.Err(err))
	}
	a.log.Info("service started",
		logx.Int("running", a.registry.Running()),
		logx.String("tz", a.cfg.Clock.Timezone))
	return nil
}

// applyConfig handles hot reload. Only the log level is applied live; the
// rest of the config is wired at construction and needs a restart.
func (a *App) applyConfig(cfg *config.Config) {
	if cfg.Log.Level != a.cfg.Log.Level {
		a.logs.SetLevel(cfg.Log.Level)
		a.log.Info("log level reloaded", logx.String("level", cfg.Log.Level))
	}
	a.cfg.Log = cfg.Log
}

// Stop shuts down in dependency order: stop taking updates, stop the runners,
// then the periphery, storage last.
func (a *App) Stop(ctx context.Context) error {
	if _, err := daemon.SdNotify(false, daemon.SdNotifyStopping); err != nil {
		a.log.Debug("sd_notify skipped", logx.Err(err))
	}
	if a.watchCancel != nil {
		a.watchCancel()
	}
	a.ready.Store(false)

	a.router.Stop()
	a.registry.StopAll()
	a.maint.Stop()

	if a.hsrv != nil {
		sctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
		defer cancel()
		if err := a.hsrv.Stop(sctx); err != nil {
			a.log.Warn("health shutdown", logx.Err(err))
		}
	}

	err := a.store.Close()
	a.log.Info("service stopped")
	a.logs.Close()
	return err
}

// connectorProber narrows the transport to the pool's probe-only view while
// tolerating a missing transport.
type connectorProber struct {
	c userapi.Connector
}

func (p connectorProber) Probe(ctx context.Context, cred userapi.Credential) error {
	if p.c == nil {
		return fmt.Errorf("no user-api transport linked")
	}
	return p.c.Probe(ctx, cred)
}
