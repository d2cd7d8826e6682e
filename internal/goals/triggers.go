package goals

import (
	"log/slog"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// checkCompletionTriggers fires custom combination intents and the all-critical
// intent, each at most once per channel.
func (p *pass) checkCompletionTriggers() {
	ct := p.cfg.CompletionTriggers
	for _, combo := range ct.CustomCombinations {
		if combo.Intent == "" || len(combo.Goals) == 0 || !p.allCompleted(combo.Goals) {
			continue
		}
		p.fireIntent(combo.Intent, map[string]any{"combination": combo.Name, "goals": combo.Goals})
	}

	if ct.AllCriticalComplete == "" {
		return
	}
	var critical []string
	for _, g := range p.cfg.Goals {
		if g.Priority == models.PriorityCritical {
			critical = append(critical, g.ID)
		}
	}
	if len(critical) > 0 && p.allCompleted(critical) {
		p.fireIntent(ct.AllCriticalComplete, map[string]any{"combination": "allCriticalComplete", "goals": critical})
	}
}

func (p *pass) allCompleted(ids []string) bool {
	for _, id := range ids {
		if !prerequisiteMet(id, p.st.CompletedGoals) {
			return false
		}
	}
	return true
}

func (p *pass) fireIntent(intent string, payload map[string]any) {
	if !p.st.RecordIntent(intent) {
		return
	}
	p.res.TriggeredIntents = append(p.res.TriggeredIntents, intent)
	payload["intent"] = intent
	p.emit(models.EventIntentTriggered, "", payload)
	slog.Info("Orchestrator.checkCompletionTriggers: intent triggered", "channelID", p.req.ChannelID, "intent", intent)
}
