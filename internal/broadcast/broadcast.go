// Package broadcast fans one message out to every known account chat,
// paced by a rate limiter so the bot API's own flood limits are respected.
package broadcast

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/mahdimizabiself-rgb/Self/internal/metrics"
	"github.com/mahdimizabiself-rgb/Self/internal/notify"
	"github.com/mahdimizabiself-rgb/Self/pkg/logx"
)

// Status describes one broadcast run.
type Status struct {
	ID       string
	Total    int
	Sent     int
	Failed   int
	Started  time.Time
	Duration time.Duration
}

type Service struct {
	notifier *notify.Service
	sink     metrics.Sink
	log      logx.Logger
	limiter  *rate.Limiter

	mu   sync.Mutex
	last Status
}

func New(notifier *notify.Service, ratePerSec float64, burst int, sink metrics.Sink, log logx.Logger) *Service {
	if sink == nil {
		sink = metrics.NewNoop()
	}
	if ratePerSec <= 0 {
		ratePerSec = 20
	}
	if burst <= 0 {
		burst = 1
	}
	return &Service{
		notifier: notifier,
		sink:     sink,
		log:      log,
		limiter:  rate.NewLimiter(rate.Limit(ratePerSec), burst),
	}
}

// Run delivers text to every target, best-effort: individual failures are
// counted and skipped, one bad chat never aborts the batch. Blocks until done
// or ctx is cancelled; callers that want fire-and-forget wrap it in a
// goroutine and report the returned Status afterwards.
func (s *Service) Run(ctx context.Context, targets []int64, text string) Status {
	st := Status{
		ID:      uuid.NewString()[:8],
		Total:   len(targets),
		Started: time.Now(),
	}
	s.log.Info("broadcast started", logx.String("run", st.ID), logx.Int("total", st.Total))

	for _, chatID := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			break
		}
		if err := s.notifier.User(ctx, chatID, text); err != nil {
			st.Failed++
			s.sink.BroadcastSend(false)
			continue
		}
		st.Sent++
		s.sink.BroadcastSend(true)
	}
	st.Duration = time.Since(st.Started)

	if st.Failed > 0 {
		s.log.Warn("broadcast finished with failures",
			logx.String("run", st.ID), logx.Int("sent", st.Sent), logx.Int("failed", st.Failed), logx.Duration("dur", st.Duration))
	} else {
		s.log.Info("broadcast finished",
			logx.String("run", st.ID), logx.Int("sent", st.Sent), logx.Duration("dur", st.Duration))
	}

	s.mu.Lock()
	s.last = st
	s.mu.Unlock()
	return st
}

// Last returns the most recent run's status.
func (s *Service) Last() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}
