// Package recovery runs startup recovery steps so a restarted LeadPipe resumes cleanly:
// outbox events left claimed are released and maintenance sweeps catch up.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// Recoverable is a component that repairs its state at startup.
type Recoverable interface {
	Name() string
	RecoverState(ctx context.Context) error
}

// Step adapts a function to Recoverable.
type Step struct {
	StepName string
	Fn       func(ctx context.Context) error
}

// Name implements Recoverable.
func (s Step) Name() string { return s.StepName }

// RecoverState implements Recoverable.
func (s Step) RecoverState(ctx context.Context) error { return s.Fn(ctx) }

// RecoveryManager runs registered components in registration order.
type RecoveryManager struct {
	recoverables []Recoverable
}

// NewRecoveryManager creates an empty RecoveryManager.
func NewRecoveryManager() *RecoveryManager {
	return &RecoveryManager{}
}

// RegisterRecoverable adds a component.
func (rm *RecoveryManager) RegisterRecoverable(r Recoverable) {
	rm.recoverables = append(rm.recoverables, r)
}

// Register adds a named function as a component.
func (rm *RecoveryManager) Register(name string, fn func(ctx context.Context) error) {
	rm.RegisterRecoverable(Step{StepName: name, Fn: fn})
}

// RecoverAll runs every component. A failing component does not stop the others;
// their errors are joined. Cancellation stops the run.
func (rm *RecoveryManager) RecoverAll(ctx context.Context) error {
	slog.Info("RecoveryManager.RecoverAll: starting", "components", len(rm.recoverables))
	start := time.Now()

	var errs []error
	recovered := 0
	for _, r := range rm.recoverables {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if err := r.RecoverState(ctx); err != nil {
			slog.Error("RecoveryManager.RecoverAll: component failed", "component", r.Name(), "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", r.Name(), err))
			continue
		}
		recovered++
	}

	slog.Info("RecoveryManager.RecoverAll: completed", "recovered", recovered, "errors", len(errs), "duration", time.Since(start))
	return errors.Join(errs...)
}
