package goals

import (
	"log/slog"
	"slices"
	"sort"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// prerequisiteOrder is the order assumed for prerequisites that declare none.
const prerequisiteOrder = 999

// fastTrack continues an in-progress fast-track sequence or starts one when the
// message shows interest in the primary goal. It reports whether the active set
// was decided here.
func (p *pass) fastTrack() bool {
	if len(p.st.FastTrackGoals) > 0 {
		if next, ok := p.firstOpen(p.st.FastTrackGoals); ok {
			p.st.ActiveGoals = []string{next}
			p.res.FastTracked = true
			return true
		}
		slog.Info("Orchestrator.fastTrack: sequence finished", "channelID", p.req.ChannelID, "sequence", p.st.FastTrackGoals)
		p.st.FastTrackGoals = []string{}
		return false
	}

	primary, ok := p.cfg.Primary()
	if !ok || p.st.IsCompleted(primary.ID) || p.st.IsDeclined(primary.ID) {
		return false
	}
	if !p.primaryInterest(primary) {
		return false
	}

	sequence := append(PrerequisiteChain(p.cfg, primary), primary.ID)
	next, ok := p.firstOpen(sequence)
	if !ok {
		return false
	}
	p.st.FastTrackGoals = sequence
	p.st.ActiveGoals = []string{next}
	p.res.FastTracked = true
	if p.st.RecordEmitted("fasttrack:" + primary.ID) {
		p.emit(models.EventFastTrackStarted, primary.ID, map[string]any{"sequence": sequence, "firstGoal": next})
	}
	slog.Info("Orchestrator.fastTrack: started", "channelID", p.req.ChannelID, "primary", primary.ID, "sequence", sequence, "active", next)
	return true
}

// primaryInterest reports whether this message touched the primary goal: it supplied
// one of its fields, or it asked to book when the primary is a scheduling goal.
func (p *pass) primaryInterest(primary models.GoalDefinition) bool {
	for field := range p.extracted {
		if primary.HasField(field) {
			return true
		}
	}
	return primary.Type == models.GoalTypeScheduling && p.sig.HasSchedulingIntent(p.req.Message)
}

// firstOpen returns the first id in seq that is neither completed nor declined.
func (p *pass) firstOpen(seq []string) (string, bool) {
	for _, id := range seq {
		if !p.st.IsCompleted(id) && !p.st.IsDeclined(id) {
			return id, true
		}
	}
	return "", false
}

// PrerequisiteChain returns the transitive prerequisites of goal, sorted by order
// with undeclared orders last and catalog position breaking ties.
func PrerequisiteChain(cfg *models.GoalConfiguration, goal models.GoalDefinition) []string {
	needed := make(map[string]bool)
	var walk func(g models.GoalDefinition)
	walk = func(g models.GoalDefinition) {
		if g.Triggers == nil {
			return
		}
		for _, prereq := range g.Triggers.PrerequisiteGoals {
			dep, ok := resolveGoal(cfg, prereq)
			if !ok || dep.ID == goal.ID || needed[dep.ID] {
				continue
			}
			needed[dep.ID] = true
			walk(dep)
		}
	}
	walk(goal)

	var chain []models.GoalDefinition
	for _, g := range cfg.Goals {
		if needed[g.ID] {
			chain = append(chain, g)
		}
	}
	sort.SliceStable(chain, func(i, j int) bool {
		return orderOr(chain[i], prerequisiteOrder) < orderOr(chain[j], prerequisiteOrder)
	})
	ids := make([]string, 0, len(chain))
	for _, g := range chain {
		ids = append(ids, g.ID)
	}
	return ids
}

// resolveGoal finds a prerequisite by exact id, else by id prefix.
func resolveGoal(cfg *models.GoalConfiguration, id string) (models.GoalDefinition, bool) {
	if g, ok := cfg.Goal(id); ok {
		return g, true
	}
	idx := slices.IndexFunc(cfg.Goals, func(g models.GoalDefinition) bool { return strings.HasPrefix(g.ID, id) })
	if idx < 0 {
		return models.GoalDefinition{}, false
	}
	return cfg.Goals[idx], true
}

func orderOr(g models.GoalDefinition, def int) int {
	if g.Order == nil {
		return def
	}
	return *g.Order
}
