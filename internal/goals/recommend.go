package goals

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduling"
)

// Interest thresholds (0-10 scale) that nudge a recommendation's priority.
const (
	highInterest = 7.0
	lowInterest  = 4.0
	// backoffAfter is the attempt from which the backoff strategy changes the approach.
	backoffAfter = 3
)

// recommend builds a recommendation for every active goal, declining goals that
// ran out of attempts.
func (p *pass) recommend() {
	for _, id := range slices.Clone(p.st.ActiveGoals) {
		g, ok := p.cfg.Goal(id)
		if !ok {
			continue
		}
		attempt := p.st.AttemptCounts[id] + 1
		if g.Behavior.MaxAttempts > 0 && attempt > g.Behavior.MaxAttempts {
			if p.st.Decline(id) {
				p.res.StateUpdates.Declined = append(p.res.StateUpdates.Declined, id)
				slog.Info("Orchestrator.recommend: max attempts reached, declining", "channelID", p.req.ChannelID, "goalID", id, "maxAttempts", g.Behavior.MaxAttempts)
			}
			continue
		}
		p.st.AttemptCounts[id] = attempt
		p.res.Recommendations = append(p.res.Recommendations, p.recommendation(g, attempt))
	}
}

func (p *pass) recommendation(g models.GoalDefinition, attempt int) models.GoalRecommendation {
	adherence := g.AdherenceLevel()
	missing := p.missingFields(g)
	return models.GoalRecommendation{
		GoalID:         g.ID,
		Priority:       p.priority(g),
		AdherenceLevel: adherence,
		Approach:       ApproachFor(adherence, g.Behavior.BackoffStrategy, attempt),
		Message:        goalMessage(g, missing),
		ShouldPursue:   g.ChannelRules[string(p.req.Channel)].Required || adherence >= 4 || attempt == 1,
		AttemptCount:   attempt,
		MissingFields:  missing,
	}
}

// priority is the tier weight, raised by one for a highly interested lead and
// lowered by one for a disengaged one.
func (p *pass) priority(g models.GoalDefinition) int {
	w := g.Priority.Weight()
	agg := p.st.Aggregates
	if agg.AnalyzedMessages == 0 {
		return w
	}
	switch {
	case agg.AvgInterestLevel >= highInterest:
		return w + 1
	case agg.AvgInterestLevel < lowInterest && w > 1:
		return w - 1
	}
	return w
}

// ApproachFor derives how directly to ask from adherence, then applies the backoff
// strategy once attempts reach backoffAfter.
func ApproachFor(adherence int, backoff models.BackoffStrategy, attempt int) models.Approach {
	var a models.Approach
	switch {
	case adherence >= 8:
		a = models.ApproachDirect
	case adherence <= 3:
		a = models.ApproachSubtle
	default:
		a = models.ApproachContextual
	}
	if attempt < backoffAfter {
		return a
	}
	switch backoff {
	case models.BackoffGentle:
		return a.Softer()
	case models.BackoffAggressive:
		return a.Harder()
	default:
		return a
	}
}

func goalMessage(g models.GoalDefinition, missing []string) string {
	name := g.Name
	if name == "" {
		name = g.ID
	}
	if g.Behavior.Message != "" {
		return strings.NewReplacer(
			"{missingFields}", strings.Join(missing, ", "),
			"{goalName}", name,
		).Replace(g.Behavior.Message)
	}
	if len(missing) > 0 {
		return fmt.Sprintf("Ask for the lead's %s (%s).", strings.Join(missing, ", "), name)
	}
	if g.Description != "" {
		return g.Description
	}
	return "Work toward: " + name
}

// offerSlots attaches concrete slots when a pursued scheduling goal only has a vague
// time, or when the user turned the previous offer down.
func (p *pass) offerSlots() {
	var goal *models.GoalRecommendation
	for i, rec := range p.res.Recommendations {
		if g, _ := p.cfg.Goal(rec.GoalID); g.Type == models.GoalTypeScheduling && rec.ShouldPursue {
			goal = &p.res.Recommendations[i]
			break
		}
	}
	if goal == nil || len(p.cfg.BusinessHours) == 0 {
		return
	}

	pref, hasPref := p.st.CapturedData[models.FieldPreferredTime]
	vague := hasPref && !pref.Validated
	dated := p.st.HasValidField(models.FieldPreferredDate) || p.st.HasValidField(models.FieldNormalizedDateTime)
	rejected := p.sig.IsSlotRejection(p.req.Message)
	if !(vague && !dated) && !rejected {
		return
	}

	band := scheduling.BandOf(pref.Value)
	if band == scheduling.BandAny {
		band = scheduling.BandOf(p.req.Message)
	}
	evening := band == scheduling.BandEvening
	c, ok := scheduling.ParseConstraint(p.req.Message, evening)
	if !ok && hasPref {
		c, _ = scheduling.ParseConstraint(pref.Value, evening)
	}

	hours, err := scheduling.ParseBusinessHours(p.cfg.BusinessHours)
	if err != nil {
		slog.Warn("Orchestrator.offerSlots: invalid business hours", "tenantID", p.cfg.TenantID, "error", err)
		return
	}
	loc := time.UTC
	if p.cfg.Timezone != "" {
		if l, err := time.LoadLocation(p.cfg.Timezone); err == nil {
			loc = l
		} else {
			slog.Warn("Orchestrator.offerSlots: unknown timezone, using UTC", "timezone", p.cfg.Timezone, "error", err)
		}
	}
	p.res.SlotOffers = scheduling.SuggestSlots(hours, band, c, p.now.In(loc), p.o.slotHorizon)
	slog.Debug("Orchestrator.offerSlots: offering slots", "channelID", p.req.ChannelID, "goalID", goal.GoalID, "band", band, "count", len(p.res.SlotOffers))
}
