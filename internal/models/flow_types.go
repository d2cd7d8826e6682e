// Package models defines goal and channel type definitions to avoid circular imports.
package models

// Priority represents how important a goal is relative to the rest of the catalog.
type Priority string

// GoalType represents what kind of work a goal performs.
type GoalType string

// BackoffStrategy controls how a goal's phrasing changes as attempts accumulate.
type BackoffStrategy string

// Approach represents how directly a goal question should be phrased.
type Approach string

// ChannelType identifies the transport a conversation runs on.
type ChannelType string

// Priority constants.
const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityMedium   Priority = "medium"
	PriorityLow      Priority = "low"
)

// Goal type constants.
const (
	GoalTypeDataCollection GoalType = "data_collection"
	GoalTypeScheduling     GoalType = "scheduling"
	GoalTypeCustom         GoalType = "custom"
)

// Backoff strategy constants.
const (
	BackoffGentle     BackoffStrategy = "gentle"
	BackoffPersistent BackoffStrategy = "persistent"
	BackoffAggressive BackoffStrategy = "aggressive"
)

// Approach constants, ordered from least to most direct.
const (
	ApproachSubtle     Approach = "subtle"
	ApproachContextual Approach = "contextual"
	ApproachDirect     Approach = "direct"
)

// Channel type constants.
const (
	ChannelChat     ChannelType = "chat"
	ChannelSMS      ChannelType = "sms"
	ChannelEmail    ChannelType = "email"
	ChannelWhatsApp ChannelType = "whatsapp"
)

// Well-known captured field names.
const (
	FieldEmail              = "email"
	FieldPhone              = "phone"
	FieldName               = "name"
	FieldFirstName          = "firstName"
	FieldLastName           = "lastName"
	FieldPreferredTime      = "preferredTime"
	FieldPreferredDate      = "preferredDate"
	FieldNormalizedDateTime = "normalizedDateTime"
)

// Event names emitted by the orchestrator outside of catalog-defined actions.
const (
	EventContactInfoCaptured = "contact_info_captured"
	EventFastTrackStarted    = "fast_track_started"
	EventGoalCompleted       = "goal_completed"
	EventIntentTriggered     = "intent_triggered"
)

// DefaultOrder is the order assigned to goals that do not declare one.
const DefaultOrder = 9999

// Weight returns the numeric weight of a priority tier (critical=10, high=7, medium=4, low=1).
// Unknown tiers weigh the same as medium.
func (p Priority) Weight() int {
	switch p {
	case PriorityCritical:
		return 10
	case PriorityHigh:
		return 7
	case PriorityLow:
		return 1
	default:
		return 4
	}
}

// IsValid reports whether p is a recognised priority tier.
func (p Priority) IsValid() bool {
	switch p {
	case PriorityCritical, PriorityHigh, PriorityMedium, PriorityLow:
		return true
	default:
		return false
	}
}

// CollectsData reports whether goals of this type capture fields from user messages.
func (t GoalType) CollectsData() bool {
	return t == GoalTypeDataCollection || t == GoalTypeScheduling
}

// Softer returns the next less direct approach.
func (a Approach) Softer() Approach {
	switch a {
	case ApproachDirect:
		return ApproachContextual
	default:
		return ApproachSubtle
	}
}

// Harder returns the next more direct approach.
func (a Approach) Harder() Approach {
	switch a {
	case ApproachSubtle:
		return ApproachContextual
	default:
		return ApproachDirect
	}
}
