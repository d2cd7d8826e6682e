package models

import "time"

// GoalRecommendation tells the reply generator which goal to pursue and how.
type GoalRecommendation struct {
	GoalID         string   `json:"goalId"`
	Priority       int      `json:"priority"`
	AdherenceLevel int      `json:"adherenceLevel"`
	Approach       Approach `json:"approach"`
	Message        string   `json:"message"`
	ShouldPursue   bool     `json:"shouldPursue"`
	AttemptCount   int      `json:"attemptCount"`
	MissingFields  []string `json:"missingFields,omitempty"`
}

// StateUpdates lists the goal transitions made during one orchestration pass.
type StateUpdates struct {
	NewlyCompleted []string `json:"newlyCompleted"`
	NewlyActivated []string `json:"newlyActivated"`
	Declined       []string `json:"declined"`
}

// FieldCorrection describes a captured field the user said was wrong.
type FieldCorrection struct {
	Field    string   `json:"field"`
	OldValue string   `json:"oldValue"`
	GoalIDs  []string `json:"goalIds"`
}

// TimeSlot is a concrete appointment time offered to the user.
type TimeSlot struct {
	Start time.Time `json:"start"`
	Label string    `json:"label"`
}

// OrchestrationResult is the outcome of one orchestration pass.
type OrchestrationResult struct {
	Recommendations  []GoalRecommendation `json:"recommendations"`
	ExtractedInfo    map[string]string    `json:"extractedInfo"`
	StateUpdates     StateUpdates         `json:"stateUpdates"`
	TriggeredIntents []string             `json:"triggeredIntents"`
	ActiveGoals      []string             `json:"activeGoals"`
	CompletedGoals   []string             `json:"completedGoals"`
	FastTracked      bool                 `json:"fastTracked"`
	Correction       *FieldCorrection     `json:"correction,omitempty"`
	SlotOffers       []TimeSlot           `json:"slotOffers,omitempty"`
	State            ChannelWorkflowState `json:"-"`
}

// NewOrchestrationResult returns a result with empty, non-nil collections.
func NewOrchestrationResult() *OrchestrationResult {
	return &OrchestrationResult{
		Recommendations:  []GoalRecommendation{},
		ExtractedInfo:    map[string]string{},
		StateUpdates:     StateUpdates{NewlyCompleted: []string{}, NewlyActivated: []string{}, Declined: []string{}},
		TriggeredIntents: []string{},
		ActiveGoals:      []string{},
		CompletedGoals:   []string{},
	}
}

// PursuedGoals returns the ids of recommendations flagged ShouldPursue.
func (r *OrchestrationResult) PursuedGoals() []string {
	var ids []string
	for _, rec := range r.Recommendations {
		if rec.ShouldPursue {
			ids = append(ids, rec.GoalID)
		}
	}
	return ids
}
