package flow

import (
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

func TestApplyAnalysis_DominantTone(t *testing.T) {
	var agg models.ConversationAggregates
	for _, tone := range []string{"curious", "Excited", "interested", "excited"} {
		agg = ApplyAnalysis(agg, models.MessageAnalysis{EmotionalTone: tone})
	}
	// curious: 2 (curious + interested), excited: 2; curious was seen first.
	if agg.DominantEmotionalTone != "curious" {
		t.Errorf("dominant tone = %q, want curious", agg.DominantEmotionalTone)
	}
	if agg.ToneFrequency["excited"] != 2 || agg.ToneFrequency["curious"] != 2 {
		t.Errorf("unexpected frequencies: %v", agg.ToneFrequency)
	}
	agg = ApplyAnalysis(agg, models.MessageAnalysis{EmotionalTone: "enthusiastic"})
	if agg.DominantEmotionalTone != "excited" {
		t.Errorf("dominant tone = %q, want excited", agg.DominantEmotionalTone)
	}
}

func TestApplyAnalysis_LanguageProfile(t *testing.T) {
	var agg models.ConversationAggregates
	agg = ApplyAnalysis(agg, models.MessageAnalysis{Language: "EN", Formality: 0.2, UsesEmojis: true})
	agg = ApplyAnalysis(agg, models.MessageAnalysis{Language: "es", Formality: 0.6})
	if agg.Language.DominantLanguage != "en" {
		t.Errorf("tie must keep incumbent language, got %q", agg.Language.DominantLanguage)
	}
	agg = ApplyAnalysis(agg, models.MessageAnalysis{Language: "es", Formality: 1.4})
	if agg.Language.DominantLanguage != "es" {
		t.Errorf("dominant language = %q, want es", agg.Language.DominantLanguage)
	}
	if agg.Language.EmojiMessages != 1 {
		t.Errorf("emoji messages = %d", agg.Language.EmojiMessages)
	}
	// formality inputs are clamped to [0,1]: (0.2 + 0.6 + 1.0) / 3
	if got := agg.Language.AvgFormality; got < 0.599 || got > 0.601 {
		t.Errorf("avg formality = %v, want 0.6", got)
	}
}

func TestApplyAnalysis_DoesNotAliasInput(t *testing.T) {
	base := ApplyAnalysis(models.ConversationAggregates{}, models.MessageAnalysis{EmotionalTone: "neutral"})
	_ = ApplyAnalysis(base, models.MessageAnalysis{EmotionalTone: "neutral"})
	if base.ToneFrequency["neutral"] != 1 || len(base.MessageHistory) != 1 {
		t.Errorf("input aggregates were mutated: %+v", base)
	}
}
