// Package models defines per-channel workflow state structures.
package models

import (
	"encoding/json"
	"slices"
	"time"
)

// MaxMessageHistory caps ConversationAggregates.MessageHistory.
const MaxMessageHistory = 50

// CapturedValue is a field value collected from the user.
// Validated is false for values that are only preferences (e.g. "evening").
type CapturedValue struct {
	Value       string    `json:"value"`
	Validated   bool      `json:"validated"`
	CollectedAt time.Time `json:"collectedAt"`
}

// UnmarshalJSON accepts either a bare string or the nested object shape.
// Bare strings are considered validated.
func (cv *CapturedValue) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*cv = CapturedValue{Value: s, Validated: true}
		return nil
	}
	type plain CapturedValue
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*cv = CapturedValue(p)
	return nil
}

// MessageAnalysis is the per-message engagement reading fed into the aggregates.
type MessageAnalysis struct {
	MessageID            string    `json:"messageId,omitempty"`
	InterestLevel        float64   `json:"interestLevel"`
	ConversionLikelihood float64   `json:"conversionLikelihood"`
	Formality            float64   `json:"formality"`
	EmotionalTone        string    `json:"emotionalTone,omitempty"`
	Language             string    `json:"language,omitempty"`
	UsesEmojis           bool      `json:"usesEmojis,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// LanguageProfile summarises how the user writes.
type LanguageProfile struct {
	AvgFormality     float64        `json:"avgFormality"`
	DominantLanguage string         `json:"dominantLanguage,omitempty"`
	LanguageCounts   map[string]int `json:"languageCounts,omitempty"`
	EmojiMessages    int            `json:"emojiMessages"`
}

// ConversationAggregates holds rolling engagement metrics for a channel.
type ConversationAggregates struct {
	AnalyzedMessages        int               `json:"analyzedMessages"`
	AvgInterestLevel        float64           `json:"avgInterestLevel"`
	AvgConversionLikelihood float64           `json:"avgConversionLikelihood"`
	Language                LanguageProfile   `json:"languageProfile"`
	ToneFrequency           map[string]int    `json:"toneFrequency,omitempty"`
	ToneOrder               []string          `json:"toneOrder,omitempty"` // tones in order of first observation
	DominantEmotionalTone   string            `json:"dominantEmotionalTone,omitempty"`
	MessageHistory          []MessageAnalysis `json:"messageHistory"`
}

// ChannelWorkflowState is the goal workflow state of one conversation channel.
// A goal id appears in at most one of ActiveGoals, CompletedGoals and DeclinedGoals.
type ChannelWorkflowState struct {
	ChannelID        string                   `json:"channelId"`
	TenantID         string                   `json:"tenantId,omitempty"`
	UserID           string                   `json:"userId,omitempty"`
	CapturedData     map[string]CapturedValue `json:"capturedData"`
	ActiveGoals      []string                 `json:"activeGoals"`
	CompletedGoals   []string                 `json:"completedGoals"`
	DeclinedGoals    []string                 `json:"declinedGoals"`
	FastTrackGoals   []string                 `json:"fastTrackGoals"`
	AttemptCounts    map[string]int           `json:"attemptCounts"`
	MessageCount     int                      `json:"messageCount"`
	EmittedEvents    []string                 `json:"emittedEvents"`
	TriggeredIntents []string                 `json:"triggeredIntents"`
	Aggregates       ConversationAggregates   `json:"conversationAggregates"`
	LastUpdated      time.Time                `json:"lastUpdated"`
}

// NewChannelWorkflowState returns a structurally complete empty state.
func NewChannelWorkflowState(channelID string) ChannelWorkflowState {
	s := ChannelWorkflowState{ChannelID: channelID}
	s.EnsureInitialized()
	return s
}

// EnsureInitialized fills nil collections so that decoded partial documents
// behave like a default state.
func (s *ChannelWorkflowState) EnsureInitialized() {
	if s.CapturedData == nil {
		s.CapturedData = make(map[string]CapturedValue)
	}
	if s.ActiveGoals == nil {
		s.ActiveGoals = []string{}
	}
	if s.CompletedGoals == nil {
		s.CompletedGoals = []string{}
	}
	if s.DeclinedGoals == nil {
		s.DeclinedGoals = []string{}
	}
	if s.FastTrackGoals == nil {
		s.FastTrackGoals = []string{}
	}
	if s.AttemptCounts == nil {
		s.AttemptCounts = make(map[string]int)
	}
	if s.EmittedEvents == nil {
		s.EmittedEvents = []string{}
	}
	if s.TriggeredIntents == nil {
		s.TriggeredIntents = []string{}
	}
	if s.Aggregates.MessageHistory == nil {
		s.Aggregates.MessageHistory = []MessageAnalysis{}
	}
	if s.Aggregates.ToneFrequency == nil {
		s.Aggregates.ToneFrequency = make(map[string]int)
	}
	if s.Aggregates.Language.LanguageCounts == nil {
		s.Aggregates.Language.LanguageCounts = make(map[string]int)
	}
}

// Clone returns a deep copy of the state.
func (s ChannelWorkflowState) Clone() ChannelWorkflowState {
	c := s
	c.CapturedData = cloneCaptured(s.CapturedData)
	c.ActiveGoals = slices.Clone(s.ActiveGoals)
	c.CompletedGoals = slices.Clone(s.CompletedGoals)
	c.DeclinedGoals = slices.Clone(s.DeclinedGoals)
	c.FastTrackGoals = slices.Clone(s.FastTrackGoals)
	c.EmittedEvents = slices.Clone(s.EmittedEvents)
	c.TriggeredIntents = slices.Clone(s.TriggeredIntents)
	c.AttemptCounts = cloneCounts(s.AttemptCounts)
	c.Aggregates.MessageHistory = slices.Clone(s.Aggregates.MessageHistory)
	c.Aggregates.ToneOrder = slices.Clone(s.Aggregates.ToneOrder)
	c.Aggregates.ToneFrequency = make(map[string]int, len(s.Aggregates.ToneFrequency))
	for k, v := range s.Aggregates.ToneFrequency {
		c.Aggregates.ToneFrequency[k] = v
	}
	c.Aggregates.Language.LanguageCounts = make(map[string]int, len(s.Aggregates.Language.LanguageCounts))
	for k, v := range s.Aggregates.Language.LanguageCounts {
		c.Aggregates.Language.LanguageCounts[k] = v
	}
	c.EnsureInitialized()
	return c
}

func cloneCaptured(in map[string]CapturedValue) map[string]CapturedValue {
	out := make(map[string]CapturedValue, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// IsCompleted reports whether goalID is in CompletedGoals.
func (s *ChannelWorkflowState) IsCompleted(goalID string) bool {
	return slices.Contains(s.CompletedGoals, goalID)
}

// IsActive reports whether goalID is in ActiveGoals.
func (s *ChannelWorkflowState) IsActive(goalID string) bool {
	return slices.Contains(s.ActiveGoals, goalID)
}

// IsDeclined reports whether goalID is in DeclinedGoals.
func (s *ChannelWorkflowState) IsDeclined(goalID string) bool {
	return slices.Contains(s.DeclinedGoals, goalID)
}

// HasValidField reports whether field was captured with a validated value.
func (s *ChannelWorkflowState) HasValidField(field string) bool {
	v, ok := s.CapturedData[field]
	return ok && v.Validated && v.Value != ""
}

// CaptureField stores a field value.
func (s *ChannelWorkflowState) CaptureField(field, value string, validated bool, at time.Time) {
	if s.CapturedData == nil {
		s.CapturedData = make(map[string]CapturedValue)
	}
	s.CapturedData[field] = CapturedValue{Value: value, Validated: validated, CollectedAt: at}
}

// ClearField removes a captured field and returns its previous value.
func (s *ChannelWorkflowState) ClearField(field string) (CapturedValue, bool) {
	v, ok := s.CapturedData[field]
	delete(s.CapturedData, field)
	return v, ok
}

// Activate adds goalID to ActiveGoals unless it is already completed, declined or active.
func (s *ChannelWorkflowState) Activate(goalID string) bool {
	if s.IsCompleted(goalID) || s.IsDeclined(goalID) || s.IsActive(goalID) {
		return false
	}
	s.ActiveGoals = append(s.ActiveGoals, goalID)
	return true
}

// Complete moves goalID into CompletedGoals, removing it from the other sets.
func (s *ChannelWorkflowState) Complete(goalID string) bool {
	if s.IsCompleted(goalID) {
		return false
	}
	s.ActiveGoals = remove(s.ActiveGoals, goalID)
	s.DeclinedGoals = remove(s.DeclinedGoals, goalID)
	s.CompletedGoals = append(s.CompletedGoals, goalID)
	return true
}

// Decline moves goalID into DeclinedGoals, removing it from ActiveGoals.
// Completed goals cannot be declined.
func (s *ChannelWorkflowState) Decline(goalID string) bool {
	if s.IsCompleted(goalID) || s.IsDeclined(goalID) {
		return false
	}
	s.ActiveGoals = remove(s.ActiveGoals, goalID)
	s.DeclinedGoals = append(s.DeclinedGoals, goalID)
	return true
}

// MarkIncomplete removes goalID from CompletedGoals and re-activates it.
func (s *ChannelWorkflowState) MarkIncomplete(goalID string) bool {
	if !s.IsCompleted(goalID) {
		return false
	}
	s.CompletedGoals = remove(s.CompletedGoals, goalID)
	s.DeclinedGoals = remove(s.DeclinedGoals, goalID)
	if !s.IsActive(goalID) {
		s.ActiveGoals = append(s.ActiveGoals, goalID)
	}
	return true
}

// HasEmitted reports whether the named event was already emitted for this channel.
func (s *ChannelWorkflowState) HasEmitted(event string) bool {
	return slices.Contains(s.EmittedEvents, event)
}

// RecordEmitted marks event as emitted. It returns false if it already was.
func (s *ChannelWorkflowState) RecordEmitted(event string) bool {
	if s.HasEmitted(event) {
		return false
	}
	s.EmittedEvents = append(s.EmittedEvents, event)
	return true
}

// RecordIntent marks intent as triggered. It returns false if it already was.
func (s *ChannelWorkflowState) RecordIntent(intent string) bool {
	if slices.Contains(s.TriggeredIntents, intent) {
		return false
	}
	s.TriggeredIntents = append(s.TriggeredIntents, intent)
	return true
}

// Snapshot captures the rollback-relevant part of the state for responseID.
func (s *ChannelWorkflowState) Snapshot(responseID string, at time.Time) StateSnapshot {
	return StateSnapshot{
		ResponseID:     responseID,
		CapturedData:   cloneCaptured(s.CapturedData),
		ActiveGoals:    slices.Clone(s.ActiveGoals),
		CompletedGoals: slices.Clone(s.CompletedGoals),
		MessageCount:   s.MessageCount,
		AttemptCounts:  cloneCounts(s.AttemptCounts),
		TakenAt:        at,
	}
}

// Restore applies a snapshot, leaving aggregates and emitted markers untouched.
// Snapshots taken before attempt counts were recorded leave the counts as they are.
func (s *ChannelWorkflowState) Restore(snap StateSnapshot) {
	s.CapturedData = cloneCaptured(snap.CapturedData)
	s.ActiveGoals = slices.Clone(snap.ActiveGoals)
	s.CompletedGoals = slices.Clone(snap.CompletedGoals)
	s.MessageCount = snap.MessageCount
	if snap.AttemptCounts != nil {
		s.AttemptCounts = cloneCounts(snap.AttemptCounts)
	}
	if s.ActiveGoals == nil {
		s.ActiveGoals = []string{}
	}
	if s.CompletedGoals == nil {
		s.CompletedGoals = []string{}
	}
	for _, id := range s.CompletedGoals {
		s.DeclinedGoals = remove(s.DeclinedGoals, id)
	}
	for _, id := range s.ActiveGoals {
		s.DeclinedGoals = remove(s.DeclinedGoals, id)
	}
}

// StateSnapshot is an immutable copy of the state taken when a response starts.
type StateSnapshot struct {
	ResponseID     string                   `json:"responseId"`
	CapturedData   map[string]CapturedValue `json:"capturedData"`
	ActiveGoals    []string                 `json:"activeGoals"`
	CompletedGoals []string                 `json:"completedGoals"`
	MessageCount   int                      `json:"messageCount"`
	AttemptCounts  map[string]int           `json:"attemptCounts,omitempty"`
	TakenAt        time.Time                `json:"takenAt"`
}

func cloneCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func remove(list []string, id string) []string {
	return slices.DeleteFunc(list, func(s string) bool { return s == id })
}
