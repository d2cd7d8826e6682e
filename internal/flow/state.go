// Package flow manages per-channel conversation workflow state: the goal state store
// over a key-value backend, the interruption tracker that lets a newer message supersede
// an in-flight response, and the timers both rely on.
package flow

import (
	"context"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// StateManager defines the interface for managing channel workflow state.
// StateStore is the production implementation.
type StateManager interface {
	// Load returns the stored state or a structurally complete default. It never fails.
	Load(ctx context.Context, channelID string) models.ChannelWorkflowState

	// Save fully overwrites the stored state.
	Save(ctx context.Context, channelID string, state models.ChannelWorkflowState) error

	// Update loads, merges patch over the current state, stamps LastUpdated and saves.
	Update(ctx context.Context, channelID string, patch StatePatch) (models.ChannelWorkflowState, error)

	// Rollback restores the snapshot-covered fields, leaving everything else untouched.
	Rollback(ctx context.Context, channelID string, snap models.StateSnapshot) (models.ChannelWorkflowState, error)

	// UpdateConversationAggregates folds one message analysis into the rolling aggregates.
	UpdateConversationAggregates(ctx context.Context, channelID string, analysis models.MessageAnalysis) (models.ChannelWorkflowState, error)
}

// Timer defines the interface for scheduling delayed actions.
type Timer interface {
	// ScheduleAfter schedules a function to run after a delay and returns its id.
	ScheduleAfter(delay time.Duration, fn func()) (string, error)

	// Cancel cancels a scheduled function. Unknown ids are ignored.
	Cancel(id string) error

	// Stop cancels everything that is still pending.
	Stop()
}

// Compile-time checks.
var (
	_ StateManager = (*StateStore)(nil)
	_ Timer        = (*SimpleTimer)(nil)
)
