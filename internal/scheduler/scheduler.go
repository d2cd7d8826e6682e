// Package scheduler runs periodic maintenance sweeps on cron schedules: pruning idle
// workflow states and old dedup records, and requeueing outbox events stuck in sending.
package scheduler

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/robfig/cron/v3"
)

// Default sweep schedules and retention windows.
const (
	DefaultStateSweepSpec  = "17 3 * * *"
	DefaultDedupSweepSpec  = "@hourly"
	DefaultOutboxSweepSpec = "*/5 * * * *"

	DefaultStateRetention  = 30 * 24 * time.Hour
	DefaultDedupRetention  = 48 * time.Hour
	DefaultOutboxStaleness = 5 * time.Minute
)

// Sweep names used in logs and metrics.
const (
	SweepStates = "workflow_states"
	SweepDedup  = "dedup"
	SweepOutbox = "outbox"
)

// ClaimReleaser returns outbox events claimed before a cutoff to pending.
type ClaimReleaser interface {
	ReleaseStaleOutboxClaims(claimedBefore time.Time) (int, error)
}

// Sweeps selects what the scheduler maintains. Nil targets are skipped; empty specs and
// zero durations take the defaults.
type Sweeps struct {
	States         store.WorkflowStatePruner
	StateSpec      string
	StateRetention time.Duration

	Dedup          store.DedupPruner
	DedupSpec      string
	DedupRetention time.Duration

	Outbox          ClaimReleaser
	OutboxSpec      string
	OutboxStaleness time.Duration
}

func (sw *Sweeps) applyDefaults() {
	if sw.StateSpec == "" {
		sw.StateSpec = DefaultStateSweepSpec
	}
	if sw.StateRetention <= 0 {
		sw.StateRetention = DefaultStateRetention
	}
	if sw.DedupSpec == "" {
		sw.DedupSpec = DefaultDedupSweepSpec
	}
	if sw.DedupRetention <= 0 {
		sw.DedupRetention = DefaultDedupRetention
	}
	if sw.OutboxSpec == "" {
		sw.OutboxSpec = DefaultOutboxSweepSpec
	}
	if sw.OutboxStaleness <= 0 {
		sw.OutboxStaleness = DefaultOutboxStaleness
	}
}

// Scheduler provides cron-based job scheduling.
type Scheduler struct {
	cron *cron.Cron
	now  func() time.Time
	jobs map[string]func()
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source used to compute sweep cutoffs.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// NewScheduler creates and starts a cron scheduler.
func NewScheduler(opts ...Option) *Scheduler {
	// Standard 5-field expressions plus descriptors such as @hourly.
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	c := cron.New(cron.WithParser(parser), cron.WithChain(cron.Recover(cron.DefaultLogger)))
	s := &Scheduler{cron: c, now: time.Now, jobs: make(map[string]func())}
	for _, opt := range opts {
		opt(s)
	}
	c.Start()
	return s
}

// AddJob schedules a task using the provided cron expression.
// It returns an error if the expression is invalid.
func (s *Scheduler) AddJob(expr string, task func()) error {
	_, err := s.cron.AddFunc(expr, task)
	return err
}

// RegisterSweeps schedules every configured sweep.
func (s *Scheduler) RegisterSweeps(sw Sweeps) error {
	sw.applyDefaults()
	if sw.States != nil {
		retention := sw.StateRetention
		if err := s.register(SweepStates, sw.StateSpec, func() (int, error) {
			return sw.States.PruneWorkflowStates(s.now().Add(-retention))
		}); err != nil {
			return err
		}
	}
	if sw.Dedup != nil {
		retention := sw.DedupRetention
		if err := s.register(SweepDedup, sw.DedupSpec, func() (int, error) {
			return sw.Dedup.PruneDedupRecords(s.now().Add(-retention))
		}); err != nil {
			return err
		}
	}
	if sw.Outbox != nil {
		staleness := sw.OutboxStaleness
		if err := s.register(SweepOutbox, sw.OutboxSpec, func() (int, error) {
			return sw.Outbox.ReleaseStaleOutboxClaims(s.now().Add(-staleness))
		}); err != nil {
			return err
		}
	}
	return nil
}

func (s *Scheduler) register(name, spec string, fn func() (int, error)) error {
	job := sweepJob(name, fn)
	if err := s.AddJob(spec, job); err != nil {
		return fmt.Errorf("schedule %s sweep %q: %w", name, spec, err)
	}
	s.jobs[name] = job
	slog.Info("Scheduler.RegisterSweeps: sweep scheduled", "sweep", name, "spec", spec)
	return nil
}

// RunNow runs every registered sweep once, synchronously.
func (s *Scheduler) RunNow() {
	for _, job := range s.jobs {
		job()
	}
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func sweepJob(name string, fn func() (int, error)) func() {
	return func() {
		n, err := fn()
		if err != nil {
			slog.Error("Scheduler.sweep: failed", "sweep", name, "error", err)
			return
		}
		metrics.SweepRemoved(name, n)
		if n > 0 {
			slog.Info("Scheduler.sweep: completed", "sweep", name, "count", n)
		}
	}
}
