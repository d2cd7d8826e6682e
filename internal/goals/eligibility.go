package goals

import (
	"sort"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// strictSingleGoal is the strictOrdering level from which only one goal runs at a time.
const strictSingleGoal = 7

// FilterEligible returns the goals that may be activated for this message, in catalog order.
func FilterEligible(goals []models.GoalDefinition, state *models.ChannelWorkflowState, message string, channel models.ChannelType) []models.GoalDefinition {
	var out []models.GoalDefinition
	for _, g := range goals {
		if isEligible(g, state, message, channel) {
			out = append(out, g)
		}
	}
	return out
}

func isEligible(g models.GoalDefinition, state *models.ChannelWorkflowState, message string, channel models.ChannelType) bool {
	if state.IsCompleted(g.ID) || state.IsDeclined(g.ID) {
		return false
	}
	if rule, ok := g.ChannelRules[string(channel)]; ok && rule.Skip {
		return false
	}
	if g.Triggers != nil {
		return triggersPass(*g.Triggers, state, message)
	}
	if g.Timing != nil {
		if state.MessageCount < g.Timing.MinMessages {
			return false
		}
		if g.Timing.MaxMessages > 0 && state.MessageCount > g.Timing.MaxMessages {
			return false
		}
	}
	return true
}

func triggersPass(t models.Triggers, state *models.ChannelWorkflowState, message string) bool {
	for _, prereq := range t.PrerequisiteGoals {
		if !prerequisiteMet(prereq, state.CompletedGoals) {
			return false
		}
	}
	if t.MessageCount != nil && state.MessageCount < *t.MessageCount {
		return false
	}
	if len(t.UserSignals) > 0 {
		lower := strings.ToLower(message)
		found := false
		for _, sig := range t.UserSignals {
			if sig != "" && strings.Contains(lower, strings.ToLower(sig)) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// prerequisiteMet accepts completed ids that carry a suffix, such as
// "collect_identity_1712" for the prerequisite "collect_identity".
func prerequisiteMet(prereq string, completed []string) bool {
	for _, id := range completed {
		if strings.HasPrefix(id, prereq) {
			return true
		}
	}
	return false
}

// SortByOrderAndImportance orders goals by order ascending, then priority weight
// descending. Remaining ties keep catalog position.
func SortByOrderAndImportance(goals []models.GoalDefinition) []models.GoalDefinition {
	out := make([]models.GoalDefinition, len(goals))
	copy(out, goals)
	sort.SliceStable(out, func(i, j int) bool {
		oi, oj := out[i].EffectiveOrder(), out[j].EffectiveOrder()
		if oi != oj {
			return oi < oj
		}
		return out[i].Priority.Weight() > out[j].Priority.Weight()
	})
	return out
}

// ApplyConstraints limits the sorted goals according to the global settings.
func ApplyConstraints(sorted []models.GoalDefinition, settings models.GlobalSettings, state *models.ChannelWorkflowState) []models.GoalDefinition {
	if settings.StrictOrdering != nil {
		switch level := *settings.StrictOrdering; {
		case level == 0:
			return sorted
		case level >= strictSingleGoal:
			if len(state.ActiveGoals) > 0 || len(sorted) == 0 {
				return nil
			}
			return sorted[:1]
		}
	}
	if settings.MaxGoalsPerTurn > 0 && len(sorted) > settings.MaxGoalsPerTurn {
		return sorted[:settings.MaxGoalsPerTurn]
	}
	return sorted
}
