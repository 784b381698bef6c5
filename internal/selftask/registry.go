// Package selftask runs the recurring profile-update job for every managed
// account: connect with the account's pooled credential and session, then
// render and push "base name + styled clock" once a minute until stopped.
//
// The registry guarantees at most one live runner per account. Start and Stop
// serialize per account id; different accounts proceed fully in parallel.
package selftask

import (
	"context"
	"sync"
	"time"

	"github.com/mahdimizabiself-rgb/Self/internal/clockface"
	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/internal/userapi"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// floodMargin is added on top of the transport-supplied flood wait.
const floodMargin = 5 * time.Second

// Spec carries everything one runner needs. An incomplete spec is not an
// error: Start treats it as "nothing to run yet" (mid-onboarding account).
type Spec struct {
	AccountID  int64
	Credential userapi.Credential
	Session    userapi.Session
	BaseName   string
	DigitStyle clockface.DigitStyle
}

func (s Spec) complete() bool {
	return s.AccountID != 0 && s.Credential.Valid() && s.Session != "" &&
		s.BaseName != "" && s.DigitStyle >= 0
}

// SpecFromAccount maps a directory record to a runner spec.
func SpecFromAccount(a storage.Account) Spec {
	return Spec{
		AccountID:  a.ID,
		Credential: userapi.Credential{AppID: a.AppID, AppHash: a.AppHash},
		Session:    userapi.Session(a.Session),
		BaseName:   clockface.StyleName(a.BaseName, clockface.NameStyle(a.NameStyle)),
		DigitStyle: clockface.DigitStyle(a.DigitStyle),
	}
}

type runner struct {
	cancel context.CancelFunc
	done   chan struct{}
}

type Registry struct {
	connector userapi.Connector
	sink      metrics.Sink
	log       logx.Logger
	interval  time.Duration
	loc       *time.Location

	mu    sync.Mutex
	jobs  map[int64]*runner
	locks map[int64]*sync.Mutex

	// test seams; production uses the defaults
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewRegistry(connector userapi.Connector, interval time.Duration, loc *time.Location, sink metrics.Sink, log logx.Logger) *Registry {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	if interval <= 0 {
		interval = 60 * time.Second
	}
	if loc == nil {
		loc = clockface.LoadZone(clockface.DefaultZone)
	}
	return &Registry{
		connector: connector,
		sink:      sink,
		log:       log,
		interval:  interval,
		loc:       loc,
		jobs:      map[int64]*runner{},
		locks:     map[int64]*sync.Mutex{},
		now:       time.Now,
		sleep:     sleepCtx,
	}
}

// keyLock returns the per-account mutex, creating it on first use. Entries are
// kept for the process lifetime; one mutex per known account is cheap.
func (r *Registry) keyLock(id int64) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lk, ok := r.locks[id]
	if !ok {
		lk = &sync.Mutex{}
		r.locks[id] = lk
	}
	return lk
}

// Start connects and registers a runner for the account, first stopping and
// awaiting any existing one (stop-then-start, never two runners). Incomplete
// specs are a silent no-op; connect failures abort without registering; the
// caller re-invokes when it has better inputs.
func (r *Registry) Start(ctx context.Context, spec Spec) {
	if !spec.complete() {
		return
	}
	if r.connector == nil {
		r.log.Warn("no user-api transport linked, self task not started",
			logx.Int64("account", spec.AccountID))
		return
	}
	lk := r.keyLock(spec.AccountID)
	lk.Lock()
	defer lk.Unlock()

	r.stopLocked(spec.AccountID)

	client, err := r.connector.Connect(ctx, spec.Credential, spec.Session)
	if err != nil {
		r.log.Warn("self task connect failed", logx.Int64("account", spec.AccountID), logx.Err(err))
		return
	}

	// Runner lifetime is owned by the registry, not by the caller's ctx:
	// the inbound interaction that started the job finishes long before
	// the job does.
	runCtx, cancel := context.WithCancel(context.Background())
	rn := &runner{cancel: cancel, done: make(chan struct{})}

	r.mu.Lock()
	r.jobs[spec.AccountID] = rn
	r.mu.Unlock()

	r.sink.RunnerStarted()
	r.log.Info("self task started", logx.Int64("account", spec.AccountID))
	go r.loop(runCtx, rn, client, spec)
}

// Stop cancels the account's runner, waits for the loop to release its
// connection, and removes the entry. Stopping an absent runner is a no-op.
func (r *Registry) Stop(id int64) {
	lk := r.keyLock(id)
	lk.Lock()
	defer lk.Unlock()
	r.stopLocked(id)
}

// stopLocked must run under the account's key lock. It blocks until the
// runner has exited and closed its client, so the caller can immediately
// start a replacement without racing a stale loop.
func (r *Registry) stopLocked(id int64) {
	r.mu.Lock()
	rn := r.jobs[id]
	delete(r.jobs, id)
	r.mu.Unlock()
	if rn == nil {
		return
	}
	rn.cancel()
	<-rn.done
	r.sink.RunnerStopped()
	r.log.Info("self task stopped", logx.Int64("account", id))
}

// StopAll tears down every runner (process shutdown).
func (r *Registry) StopAll() {
	r.mu.Lock()
	ids := make([]int64, 0, len(r.jobs))
	for id := range r.jobs {
		ids = append(ids, id)
	}
	r.mu.Unlock()
	for _, id := range ids {
		r.Stop(id)
	}
}

// Running reports the number of live runners.
func (r *Registry) Running() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.jobs)
}

// IsRunning reports whether the account currently has a live runner.
func (r *Registry) IsRunning(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.jobs[id]
	return ok
}

// Reconcile starts a runner for every active, fully-configured account in the
// directory. Called exactly once at process start, before inbound updates are
// accepted. Incomplete records are skipped silently, they are mid-onboarding
// and have no job to run yet.
func (r *Registry) Reconcile(ctx context.Context, store storage.Store) error {
	accounts, err := store.ListActiveConfigured(ctx)
	if err != nil {
		return err
	}
	for _, a := range accounts {
		r.Start(ctx, SpecFromAccount(a))
	}
	r.log.Info("reconciled from directory", logx.Int("candidates", len(accounts)), logx.Int("running", r.Running()))
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	select {
	case <-ctx.Done():
		if !t.Stop() {
			<-t.C
		}
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
