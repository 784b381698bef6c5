// Package maintenance runs scheduled housekeeping: a periodic usage report
// pushed to the operator.
package maintenance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mahdimizabiself-rgb/Self/internal/apppool"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/internal/selftask"
	"github.com/mahdimizabiself-rgb/Self/internal/storage"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

type Service struct {
	cron     *cron.Cron
	store    storage.Store
	registry *selftask.Registry
	pool     *apppool.Pool
	notifier *notify.Service
	log      logx.Logger
	spec     string
}

func New(spec string, loc *time.Location, store storage.Store, registry *selftask.Registry, pool *apppool.Pool, notifier *notify.Service, log logx.Logger) *Service {
	return &Service{
		cron:     cron.New(cron.WithLocation(loc)),
		store:    store,
		registry: registry,
		pool:     pool,
		notifier: notifier,
		log:      log,
		spec:     spec,
	}
}

// Start schedules the report job and launches the cron loop. An empty spec
// disables maintenance entirely.
func (s *Service) Start() error {
	if strings.TrimSpace(s.spec) == "" {
		s.log.Debug("maintenance disabled (no schedule)")
		return nil
	}
	if _, err := s.cron.AddFunc(s.spec, s.report); err != nil {
		return fmt.Errorf("maintenance schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	s.log.Info("maintenance scheduled", logx.String("spec", s.spec))
	return nil
}

// Stop halts the cron loop and waits for an in-flight job to finish.
func (s *Service) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

func (s *Service) report() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.notifier.Owner(ctx, s.Report(ctx))
}

// Report renders the operator stats summary. Storage hiccups degrade the
// report rather than suppressing it.
func (s *Service) Report(ctx context.Context) string {
	var b strings.Builder
	b.WriteString("📊 Daily report\n\n")

	if total, err := s.store.CountAccounts(ctx); err != nil {
		s.log.Warn("report: count accounts failed", logx.Err(err))
		b.WriteString("accounts: unavailable\n")
	} else {
		fmt.Fprintf(&b, "accounts: %d\n", total)
	}
	fmt.Fprintf(&b, "running self tasks: %d\n", s.registry.Running())

	usage, err := s.pool.Usage(ctx)
	if err != nil {
		s.log.Warn("report: pool usage failed", logx.Err(err))
		b.WriteString("app pool: unavailable\n")
		return b.String()
	}
	fmt.Fprintf(&b, "app pool (%d apps):\n", len(usage))
	for _, u := range usage {
		state := "active"
		if !u.App.Active {
			state = "disabled"
		}
		fmt.Fprintf(&b, "  • %d: %d/%d %s\n", u.App.ID, u.Used, u.Capacity, state)
	}
	return b.String()
}
