package flow

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
)

// StatePatch is a partial state. Nil fields are left alone; non-nil slices and maps
// replace the stored value wholesale.
type StatePatch struct {
	TenantID         *string
	UserID           *string
	CapturedData     map[string]models.CapturedValue
	ActiveGoals      []string
	CompletedGoals   []string
	DeclinedGoals    []string
	FastTrackGoals   []string
	AttemptCounts    map[string]int
	MessageCount     *int
	EmittedEvents    []string
	TriggeredIntents []string
	Aggregates       *models.ConversationAggregates
}

func (p StatePatch) apply(s *models.ChannelWorkflowState) {
	if p.TenantID != nil {
		s.TenantID = *p.TenantID
	}
	if p.UserID != nil {
		s.UserID = *p.UserID
	}
	if p.CapturedData != nil {
		s.CapturedData = make(map[string]models.CapturedValue, len(p.CapturedData))
		for k, v := range p.CapturedData {
			s.CapturedData[k] = v
		}
	}
	if p.ActiveGoals != nil {
		s.ActiveGoals = slices.Clone(p.ActiveGoals)
	}
	if p.CompletedGoals != nil {
		s.CompletedGoals = slices.Clone(p.CompletedGoals)
	}
	if p.DeclinedGoals != nil {
		s.DeclinedGoals = slices.Clone(p.DeclinedGoals)
	}
	if p.FastTrackGoals != nil {
		s.FastTrackGoals = slices.Clone(p.FastTrackGoals)
	}
	if p.AttemptCounts != nil {
		s.AttemptCounts = make(map[string]int, len(p.AttemptCounts))
		for k, v := range p.AttemptCounts {
			s.AttemptCounts[k] = v
		}
	}
	if p.MessageCount != nil {
		s.MessageCount = *p.MessageCount
	}
	if p.EmittedEvents != nil {
		s.EmittedEvents = slices.Clone(p.EmittedEvents)
	}
	if p.TriggeredIntents != nil {
		s.TriggeredIntents = slices.Clone(p.TriggeredIntents)
	}
	if p.Aggregates != nil {
		s.Aggregates = *p.Aggregates
	}
}

// StateStore persists ChannelWorkflowState documents through a WorkflowStateRepo.
// It holds no per-channel data of its own, so several instances may share a repo.
type StateStore struct {
	repo store.WorkflowStateRepo
	now  func() time.Time
}

// StateStoreOption configures a StateStore.
type StateStoreOption func(*StateStore)

// WithClock overrides the clock used for LastUpdated and capture timestamps.
func WithClock(now func() time.Time) StateStoreOption {
	return func(s *StateStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStateStore creates a StateStore backed by repo.
func NewStateStore(repo store.WorkflowStateRepo, opts ...StateStoreOption) *StateStore {
	slog.Debug("Creating StateStore")
	s := &StateStore{repo: repo, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored state for channelID. Missing, unreadable or corrupt documents
// yield a default state so the conversation can continue without goal memory.
func (s *StateStore) Load(ctx context.Context, channelID string) models.ChannelWorkflowState {
	data, ok, err := s.repo.GetWorkflowState(channelID)
	if err != nil {
		slog.Error("StateStore.Load: read failed, using default state", "error", err, "channelID", channelID)
		return models.NewChannelWorkflowState(channelID)
	}
	if !ok {
		slog.Debug("StateStore.Load: no state yet", "channelID", channelID)
		return models.NewChannelWorkflowState(channelID)
	}

	var st models.ChannelWorkflowState
	if err := json.Unmarshal(data, &st); err != nil {
		slog.Error("StateStore.Load: corrupt document, using default state", "error", err, "channelID", channelID)
		return models.NewChannelWorkflowState(channelID)
	}
	if st.ChannelID == "" {
		st.ChannelID = channelID
	}
	st.EnsureInitialized()
	return st
}

// Save fully overwrites the stored state for channelID. Last writer wins.
func (s *StateStore) Save(ctx context.Context, channelID string, state models.ChannelWorkflowState) error {
	state.ChannelID = channelID
	state.EnsureInitialized()
	if state.LastUpdated.IsZero() {
		state.LastUpdated = s.now()
	}
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode workflow state for %s: %w", channelID, err)
	}
	if err := s.repo.PutWorkflowState(channelID, data); err != nil {
		slog.Error("StateStore.Save: write failed", "error", err, "channelID", channelID)
		return fmt.Errorf("save workflow state for %s: %w", channelID, err)
	}
	slog.Debug("StateStore.Save succeeded", "channelID", channelID, "messageCount", state.MessageCount,
		"active", len(state.ActiveGoals), "completed", len(state.CompletedGoals))
	return nil
}

// mutate is the single load-modify-stamp-save path every wrapper goes through.
func (s *StateStore) mutate(ctx context.Context, channelID string, fn func(*models.ChannelWorkflowState)) (models.ChannelWorkflowState, error) {
	st := s.Load(ctx, channelID)
	fn(&st)
	st.LastUpdated = s.now()
	if err := s.Save(ctx, channelID, st); err != nil {
		return st, err
	}
	return st, nil
}

// Update shallow-merges patch over the current state and saves the result.
func (s *StateStore) Update(ctx context.Context, channelID string, patch StatePatch) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, patch.apply)
}

// MarkFieldCaptured stores a field value.
func (s *StateStore) MarkFieldCaptured(ctx context.Context, channelID, field, value string, validated bool) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.CaptureField(field, value, validated, s.now())
	})
}

// MarkGoalCompleted moves goalID to completed without touching any other field.
func (s *StateStore) MarkGoalCompleted(ctx context.Context, channelID, goalID string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.Complete(goalID)
	})
}

// MarkGoalIncomplete moves goalID from completed back to active.
func (s *StateStore) MarkGoalIncomplete(ctx context.Context, channelID, goalID string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.MarkIncomplete(goalID)
	})
}

// SetActiveGoals replaces the active set. Completed and declined goals are dropped
// from ids so the three sets stay disjoint.
func (s *StateStore) SetActiveGoals(ctx context.Context, channelID string, ids []string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		active := make([]string, 0, len(ids))
		for _, id := range ids {
			if st.IsCompleted(id) || st.IsDeclined(id) || slices.Contains(active, id) {
				continue
			}
			active = append(active, id)
		}
		st.ActiveGoals = active
	})
}

// IncrementMessageCount adds one to the message count.
func (s *StateStore) IncrementMessageCount(ctx context.Context, channelID string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.MessageCount++
	})
}

// RecordEventEmitted adds an idempotency marker.
func (s *StateStore) RecordEventEmitted(ctx context.Context, channelID, event string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.RecordEmitted(event)
	})
}

// ClearFieldData removes a captured field.
func (s *StateStore) ClearFieldData(ctx context.Context, channelID, field string) (models.ChannelWorkflowState, error) {
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.ClearField(field)
	})
}

// Rollback restores captured data, active and completed goals, the message count
// and attempt counts from snap. Aggregates and idempotency markers are left untouched.
func (s *StateStore) Rollback(ctx context.Context, channelID string, snap models.StateSnapshot) (models.ChannelWorkflowState, error) {
	slog.Info("StateStore.Rollback", "channelID", channelID, "responseID", snap.ResponseID, "messageCount", snap.MessageCount)
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.Restore(snap)
	})
}

// UpdateConversationAggregates folds analysis into the channel's rolling aggregates.
func (s *StateStore) UpdateConversationAggregates(ctx context.Context, channelID string, analysis models.MessageAnalysis) (models.ChannelWorkflowState, error) {
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = s.now()
	}
	return s.mutate(ctx, channelID, func(st *models.ChannelWorkflowState) {
		st.Aggregates = ApplyAnalysis(st.Aggregates, analysis)
	})
}
