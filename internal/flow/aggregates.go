package flow

import (
	"slices"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/tone"
)

// ApplyAnalysis folds one message analysis into agg and returns the result.
// Averages are incremental: newAvg = (oldAvg*n + v) / (n+1).
func ApplyAnalysis(agg models.ConversationAggregates, a models.MessageAnalysis) models.ConversationAggregates {
	n := float64(agg.AnalyzedMessages)
	agg.AvgInterestLevel = (agg.AvgInterestLevel*n + a.InterestLevel) / (n + 1)
	agg.AvgConversionLikelihood = (agg.AvgConversionLikelihood*n + a.ConversionLikelihood) / (n + 1)
	agg.Language.AvgFormality = (agg.Language.AvgFormality*n + tone.Clamp01(a.Formality)) / (n + 1)
	agg.AnalyzedMessages++

	if a.EmotionalTone != "" {
		t := tone.Normalize(a.EmotionalTone)
		a.EmotionalTone = t
		agg.ToneFrequency = copyCounts(agg.ToneFrequency)
		if agg.ToneFrequency[t] == 0 && !slices.Contains(agg.ToneOrder, t) {
			agg.ToneOrder = append(slices.Clone(agg.ToneOrder), t)
		}
		agg.ToneFrequency[t]++
		agg.DominantEmotionalTone = tone.Dominant(agg.ToneFrequency, agg.ToneOrder)
	}

	if lang := strings.ToLower(strings.TrimSpace(a.Language)); lang != "" {
		a.Language = lang
		agg.Language.LanguageCounts = copyCounts(agg.Language.LanguageCounts)
		agg.Language.LanguageCounts[lang]++
		// The incumbent keeps its place on ties.
		if agg.Language.LanguageCounts[lang] > agg.Language.LanguageCounts[agg.Language.DominantLanguage] {
			agg.Language.DominantLanguage = lang
		}
	}
	if a.UsesEmojis {
		agg.Language.EmojiMessages++
	}

	history := append(slices.Clone(agg.MessageHistory), a)
	if over := len(history) - models.MaxMessageHistory; over > 0 {
		history = history[over:]
	}
	agg.MessageHistory = history
	return agg
}

func copyCounts(in map[string]int) map[string]int {
	out := make(map[string]int, len(in)+1)
	for k, v := range in {
		out[k] = v
	}
	return out
}
