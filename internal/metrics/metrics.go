// Package metrics exposes the Prometheus counters and histograms of the LeadPipe runtime.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Turn outcomes.
const (
	OutcomeReplied    = "replied"
	OutcomeDuplicate  = "duplicate"
	OutcomeSuperseded = "superseded"
	OutcomeError      = "error"
)

var (
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_turns_total",
		Help: "Inbound turns processed by channel type and outcome",
	}, []string{"channel", "outcome"})

	turnDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "leadpipe_turn_duration_seconds",
		Help:    "Time from receiving a message to finishing orchestration and reply generation",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})

	goalsCompleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_goals_completed_total",
		Help: "Goals completed by tenant",
	}, []string{"tenant"})

	interruptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_interruptions_total",
		Help: "Responses superseded by a newer inbound message and rolled back",
	})

	chunksSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_chunks_sent_total",
		Help: "Reply chunks delivered by channel type",
	}, []string{"channel"})

	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "leadpipe_events_published_total",
		Help: "Goal events accepted by the publisher",
	})

	catalogReloads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_catalog_reloads_total",
		Help: "Goal catalog reloads by result",
	}, []string{"result"})

	sweepRemoved = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "leadpipe_sweep_removed_total",
		Help: "Records removed or recovered by maintenance sweeps",
	}, []string{"sweep"})
)

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveTurn records one finished turn.
func ObserveTurn(channel, outcome string, elapsed time.Duration) {
	turnsTotal.WithLabelValues(channel, outcome).Inc()
	if outcome == OutcomeReplied || outcome == OutcomeSuperseded {
		turnDuration.WithLabelValues(channel).Observe(elapsed.Seconds())
	}
}

// GoalsCompleted adds n completed goals for tenant.
func GoalsCompleted(tenant string, n int) {
	if n > 0 {
		goalsCompleted.WithLabelValues(tenant).Add(float64(n))
	}
}

// Interrupted counts one rolled-back response.
func Interrupted() {
	interruptionsTotal.Inc()
}

// ChunksSent adds n delivered chunks for channel.
func ChunksSent(channel string, n int) {
	if n > 0 {
		chunksSent.WithLabelValues(channel).Add(float64(n))
	}
}

// EventsPublished adds n published events.
func EventsPublished(n int) {
	if n > 0 {
		eventsPublished.Add(float64(n))
	}
}

// CatalogReloaded records a catalog reload.
func CatalogReloaded(err error) {
	if err != nil {
		catalogReloads.WithLabelValues("error").Inc()
		return
	}
	catalogReloads.WithLabelValues("ok").Inc()
}

// SweepRemoved adds n records handled by the named sweep.
func SweepRemoved(sweep string, n int) {
	if n > 0 {
		sweepRemoved.WithLabelValues(sweep).Add(float64(n))
	}
}
