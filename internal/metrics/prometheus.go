package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// PrometheusSink implements Sink on a dedicated registry.
type PrometheusSink struct {
	registry *prometheus.Registry

	runnersActive   prometheus.Gauge
	profileUpdates  *prometheus.CounterVec
	poolExhaustions prometheus.Counter
	poolAcquires    prometheus.Counter
	gateChecks      *prometheus.CounterVec
	broadcastSends  *prometheus.CounterVec
}

func NewPrometheus() *PrometheusSink {
	s := &PrometheusSink{registry: prometheus.NewRegistry()}

	s.runnersActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "selfbot_runners_active",
		Help: "Number of live self-task runners.",
	})
	s.profileUpdates = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfbot_profile_updates_total",
		Help: "Profile update pushes by result.",
	}, []string{"result"})
	s.poolExhaustions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "selfbot_pool_exhaustions_total",
		Help: "Transitions of the API app pool into the exhausted state.",
	})
	s.poolAcquires = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "selfbot_pool_acquires_total",
		Help: "Successful API app allocations.",
	})
	s.gateChecks = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfbot_gate_checks_total",
		Help: "Force-join gate decisions by result.",
	}, []string{"result"})
	s.broadcastSends = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "selfbot_broadcast_sends_total",
		Help: "Broadcast deliveries by outcome.",
	}, []string{"result"})

	s.registry.MustRegister(
		s.runnersActive, s.profileUpdates, s.poolExhaustions,
		s.poolAcquires, s.gateChecks, s.broadcastSends,
	)
	return s
}

// Handler serves the registry for the health server's /metrics route.
func (s *PrometheusSink) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

func (s *PrometheusSink) RunnerStarted() { s.runnersActive.Inc() }
func (s *PrometheusSink) RunnerStopped() { s.runnersActive.Dec() }

func (s *PrometheusSink) ProfileUpdate(result string) {
	s.profileUpdates.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) PoolExhausted() { s.poolExhaustions.Inc() }
func (s *PrometheusSink) PoolAcquired()  { s.poolAcquires.Inc() }

func (s *PrometheusSink) GateCheck(result string) {
	s.gateChecks.WithLabelValues(result).Inc()
}

func (s *PrometheusSink) BroadcastSend(ok bool) {
	if ok {
		s.broadcastSends.WithLabelValues("ok").Inc()
	} else {
		s.broadcastSends.WithLabelValues("failed").Inc()
	}
}

var _ Sink = (*PrometheusSink)(nil)
