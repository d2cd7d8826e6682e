// Package models defines the goal catalog supplied per tenant and persona.
package models

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// FieldDescriptor is the canonical shape of a field a goal wants to capture.
type FieldDescriptor struct {
	Name              string `json:"name" yaml:"name" validate:"required"`
	Required          bool   `json:"required" yaml:"required"`
	ValidationPattern string `json:"validationPattern,omitempty" yaml:"validationPattern,omitempty"`
	Description       string `json:"description,omitempty" yaml:"description,omitempty"`
}

// FieldList decodes either bare field names or descriptor objects into
// canonical descriptors. Bare names are treated as required.
type FieldList []FieldDescriptor

// rawField mirrors FieldDescriptor but leaves Required unset-able so that
// object entries without the flag can be told apart.
type rawField struct {
	Name              string `json:"name" yaml:"name"`
	Required          *bool  `json:"required" yaml:"required"`
	ValidationPattern string `json:"validationPattern" yaml:"validationPattern"`
	Description       string `json:"description" yaml:"description"`
}

func (r rawField) descriptor() FieldDescriptor {
	return FieldDescriptor{
		Name:              strings.TrimSpace(r.Name),
		Required:          r.Required == nil || *r.Required,
		ValidationPattern: r.ValidationPattern,
		Description:       r.Description,
	}
}

// UnmarshalJSON accepts `["email", {"name": "phone", "required": false}]`.
func (fl *FieldList) UnmarshalJSON(data []byte) error {
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("fields must be a list: %w", err)
	}
	out := make(FieldList, 0, len(items))
	for i, item := range items {
		var name string
		if err := json.Unmarshal(item, &name); err == nil {
			out = append(out, FieldDescriptor{Name: strings.TrimSpace(name), Required: true})
			continue
		}
		var rf rawField
		if err := json.Unmarshal(item, &rf); err != nil {
			return fmt.Errorf("field %d: expected string or object: %w", i, err)
		}
		out = append(out, rf.descriptor())
	}
	*fl = out
	return nil
}

// UnmarshalYAML accepts the same two shapes as UnmarshalJSON.
func (fl *FieldList) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.SequenceNode {
		return fmt.Errorf("fields must be a list (line %d)", node.Line)
	}
	out := make(FieldList, 0, len(node.Content))
	for _, item := range node.Content {
		if item.Kind == yaml.ScalarNode {
			out = append(out, FieldDescriptor{Name: strings.TrimSpace(item.Value), Required: true})
			continue
		}
		var rf rawField
		if err := item.Decode(&rf); err != nil {
			return fmt.Errorf("field at line %d: %w", item.Line, err)
		}
		out = append(out, rf.descriptor())
	}
	*fl = out
	return nil
}

// DataToCapture lists the fields a goal collects.
type DataToCapture struct {
	Fields FieldList `json:"fields" yaml:"fields" validate:"dive"`
}

// Triggers gate when a goal becomes eligible. Every specified check must pass.
type Triggers struct {
	PrerequisiteGoals []string `json:"prerequisiteGoals,omitempty" yaml:"prerequisiteGoals,omitempty"`
	MessageCount      *int     `json:"messageCount,omitempty" yaml:"messageCount,omitempty" validate:"omitempty,gte=0"`
	UserSignals       []string `json:"userSignals,omitempty" yaml:"userSignals,omitempty"`
}

// Timing is the legacy message-count window. MaxMessages of zero means unbounded.
type Timing struct {
	MinMessages int `json:"minMessages" yaml:"minMessages" validate:"gte=0"`
	MaxMessages int `json:"maxMessages" yaml:"maxMessages" validate:"gte=0"`
}

// ChannelRule customises a goal for a single channel.
type ChannelRule struct {
	Required bool `json:"required" yaml:"required"`
	Skip     bool `json:"skip" yaml:"skip"`
}

// Behavior controls retries and phrasing of a goal.
type Behavior struct {
	MaxAttempts     int             `json:"maxAttempts,omitempty" yaml:"maxAttempts,omitempty" validate:"gte=0"`
	BackoffStrategy BackoffStrategy `json:"backoffStrategy,omitempty" yaml:"backoffStrategy,omitempty" validate:"omitempty,oneof=gentle persistent aggressive"`
	Message         string          `json:"message,omitempty" yaml:"message,omitempty"`
}

// GoalAction is a side effect fired at most once when its goal completes.
type GoalAction struct {
	Type      string         `json:"type" yaml:"type"`
	EventName string         `json:"eventName" yaml:"eventName" validate:"required"`
	Payload   map[string]any `json:"payload,omitempty" yaml:"payload,omitempty"`
}

// Actions groups goal side effects.
type Actions struct {
	OnComplete []GoalAction `json:"onComplete,omitempty" yaml:"onComplete,omitempty" validate:"dive"`
}

// GoalDefinition is one entry of a tenant's goal catalog. It is read-only to the orchestrator.
type GoalDefinition struct {
	ID            string                 `json:"id" yaml:"id" validate:"required"`
	Name          string                 `json:"name" yaml:"name"`
	Description   string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Priority      Priority               `json:"priority" yaml:"priority" validate:"omitempty,oneof=critical high medium low"`
	Order         *int                   `json:"order,omitempty" yaml:"order,omitempty"`
	Adherence     int                    `json:"adherence" yaml:"adherence" validate:"omitempty,min=1,max=10"`
	Type          GoalType               `json:"type" yaml:"type" validate:"omitempty,oneof=data_collection scheduling custom"`
	IsPrimary     bool                   `json:"isPrimary,omitempty" yaml:"isPrimary,omitempty"`
	DataToCapture DataToCapture          `json:"dataToCapture" yaml:"dataToCapture"`
	Triggers      *Triggers              `json:"triggers,omitempty" yaml:"triggers,omitempty"`
	Timing        *Timing                `json:"timing,omitempty" yaml:"timing,omitempty"`
	ChannelRules  map[string]ChannelRule `json:"channelRules,omitempty" yaml:"channelRules,omitempty"`
	Behavior      Behavior               `json:"behavior" yaml:"behavior"`
	Actions       Actions                `json:"actions" yaml:"actions"`
}

// EffectiveOrder returns the declared order or DefaultOrder.
func (g GoalDefinition) EffectiveOrder() int {
	if g.Order == nil {
		return DefaultOrder
	}
	return *g.Order
}

// AdherenceLevel returns the adherence clamped to 1..10, defaulting to 5.
func (g GoalDefinition) AdherenceLevel() int {
	switch {
	case g.Adherence <= 0:
		return 5
	case g.Adherence > 10:
		return 10
	default:
		return g.Adherence
	}
}

// RequiredFields returns the fields that must be valid for the goal to complete.
// A goal that flags no field as required needs all of its fields.
func (g GoalDefinition) RequiredFields() []FieldDescriptor {
	var required []FieldDescriptor
	for _, f := range g.DataToCapture.Fields {
		if f.Required {
			required = append(required, f)
		}
	}
	if len(required) == 0 {
		return g.DataToCapture.Fields
	}
	return required
}

// HasField reports whether the goal declares a field with the given name.
func (g GoalDefinition) HasField(name string) bool {
	for _, f := range g.DataToCapture.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// HourRange is an opening window in 24-hour "HH:MM" notation.
type HourRange struct {
	From string `json:"from" yaml:"from" validate:"required"`
	To   string `json:"to" yaml:"to" validate:"required"`
}

// GlobalSettings constrain how many goals are pursued at once.
// StrictOrdering nil means "not configured".
type GlobalSettings struct {
	MaxGoalsPerTurn int  `json:"maxGoalsPerTurn,omitempty" yaml:"maxGoalsPerTurn,omitempty" validate:"gte=0"`
	StrictOrdering  *int `json:"strictOrdering,omitempty" yaml:"strictOrdering,omitempty" validate:"omitempty,min=0,max=10"`
}

// CustomCombination fires Intent once every goal in Goals is completed.
type CustomCombination struct {
	Name   string   `json:"name" yaml:"name"`
	Goals  []string `json:"goals" yaml:"goals" validate:"min=1"`
	Intent string   `json:"intent" yaml:"intent" validate:"required"`
}

// CompletionTriggers name the intents fired by combinations of completed goals.
type CompletionTriggers struct {
	AllCriticalComplete string              `json:"allCriticalComplete,omitempty" yaml:"allCriticalComplete,omitempty"`
	CustomCombinations  []CustomCombination `json:"customCombinations,omitempty" yaml:"customCombinations,omitempty" validate:"dive"`
}

// SignalConfig overrides the heuristic patterns used to read user intent.
// Empty lists keep the built-in defaults.
type SignalConfig struct {
	DeclinePatterns    []string `json:"declinePatterns,omitempty" yaml:"declinePatterns,omitempty"`
	CorrectionPatterns []string `json:"correctionPatterns,omitempty" yaml:"correctionPatterns,omitempty"`
	SchedulingKeywords []string `json:"schedulingKeywords,omitempty" yaml:"schedulingKeywords,omitempty"`
}

// GoalConfiguration is the full catalog for one tenant persona.
type GoalConfiguration struct {
	TenantID           string                 `json:"tenantId,omitempty" yaml:"tenantId,omitempty"`
	PersonaID          string                 `json:"personaId,omitempty" yaml:"personaId,omitempty"`
	Persona            string                 `json:"persona,omitempty" yaml:"persona,omitempty"` // system prompt describing the agent
	Goals              []GoalDefinition       `json:"goals" yaml:"goals" validate:"dive"`
	PrimaryGoal        string                 `json:"primaryGoal,omitempty" yaml:"primaryGoal,omitempty"`
	GlobalSettings     GlobalSettings         `json:"globalSettings" yaml:"globalSettings"`
	CompletionTriggers CompletionTriggers     `json:"completionTriggers" yaml:"completionTriggers"`
	Signals            SignalConfig           `json:"signals" yaml:"signals"`
	BusinessHours      map[string][]HourRange `json:"businessHours,omitempty" yaml:"businessHours,omitempty" validate:"dive,dive"`
	Timezone           string                 `json:"timezone,omitempty" yaml:"timezone,omitempty"`
}

// Goal returns the goal with the given id.
func (c *GoalConfiguration) Goal(id string) (GoalDefinition, bool) {
	for _, g := range c.Goals {
		if g.ID == id {
			return g, true
		}
	}
	return GoalDefinition{}, false
}

// HasGoal reports whether the catalog contains id.
func (c *GoalConfiguration) HasGoal(id string) bool {
	_, ok := c.Goal(id)
	return ok
}

// ResolveGoalID maps a stored goal id to its catalog id. Stored ids may carry a
// suffix after the catalog id, as in collect_identity_1712000000; the longest
// catalog id that prefixes id wins.
func (c *GoalConfiguration) ResolveGoalID(id string) (string, bool) {
	if c.HasGoal(id) {
		return id, true
	}
	best := ""
	for _, g := range c.Goals {
		if g.ID != "" && strings.HasPrefix(id, g.ID) && len(g.ID) > len(best) {
			best = g.ID
		}
	}
	return best, best != ""
}

// Primary returns the designated primary goal: PrimaryGoal if set, otherwise the
// first goal flagged IsPrimary.
func (c *GoalConfiguration) Primary() (GoalDefinition, bool) {
	if c.PrimaryGoal != "" {
		return c.Goal(c.PrimaryGoal)
	}
	for _, g := range c.Goals {
		if g.IsPrimary {
			return g, true
		}
	}
	return GoalDefinition{}, false
}

// GoalsOwningField returns the ids of goals that declare field.
func (c *GoalConfiguration) GoalsOwningField(field string) []string {
	var ids []string
	for _, g := range c.Goals {
		if g.HasField(field) {
			ids = append(ids, g.ID)
		}
	}
	return ids
}
