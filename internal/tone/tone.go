// Package tone provides a fixed whitelist of emotional tone tags, normalisation of
// analyser output onto that whitelist, dominant-tone selection and the reply style
// guide derived from a channel's conversation aggregates.
package tone

import (
	"math"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ---- Whitelist ----

// AllTones is the hard-coded set of emotional tones the analyser may report.
var AllTones = map[string]bool{
	"excited":    true,
	"positive":   true,
	"curious":    true,
	"neutral":    true,
	"hesitant":   true,
	"skeptical":  true,
	"confused":   true,
	"frustrated": true,
	"negative":   true,
}

// synonyms maps common free-form analyser labels onto the whitelist.
var synonyms = map[string]string{
	"enthusiastic": "excited",
	"eager":        "excited",
	"happy":        "positive",
	"friendly":     "positive",
	"interested":   "curious",
	"inquisitive":  "curious",
	"calm":         "neutral",
	"unsure":       "hesitant",
	"uncertain":    "hesitant",
	"doubtful":     "skeptical",
	"annoyed":      "frustrated",
	"angry":        "frustrated",
	"upset":        "negative",
	"sad":          "negative",
}

// Neutral is returned for anything that cannot be mapped.
const Neutral = "neutral"

// ---- Thresholds ----

const (
	formalThreshold = 0.65
	casualThreshold = 0.35
	// emoji mirroring needs at least this share of analysed messages.
	emojiShare = 0.3
	// interest below this makes the guide ask for a lighter touch.
	lowInterest = 4.0
)

// ---- Public API ----

// Normalize maps an analyser tone label onto the whitelist. Unknown labels become Neutral.
func Normalize(raw string) string {
	t := strings.TrimSpace(strings.ToLower(raw))
	if AllTones[t] {
		return t
	}
	if mapped, ok := synonyms[t]; ok {
		return mapped
	}
	return Neutral
}

// Dominant returns the most frequent tone in freq. Ties go to the tone that appears
// first in seen, which callers pass in order of first observation.
func Dominant(freq map[string]int, seen []string) string {
	best, bestCount := "", 0
	for _, t := range seen {
		if c := freq[t]; c > bestCount {
			best, bestCount = t, c
		}
	}
	return best
}

// Clamp01 clamps v to [0,1] and rounds to 4 decimals.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return math.Round(v*10000) / 10000
}

// BuildStyleGuide produces a compact instruction snippet for the reply prompt from the
// channel's aggregates. It returns an empty string before anything has been analysed.
func BuildStyleGuide(agg models.ConversationAggregates) string {
	if agg.AnalyzedMessages == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("\n<STYLE POLICY>\nAdapt your reply to how this lead writes:\n")

	switch {
	case agg.Language.AvgFormality >= formalThreshold:
		b.WriteString("- Use formal diction and a professional register.\n")
	case agg.Language.AvgFormality <= casualThreshold:
		b.WriteString("- Use casual, friendly language.\n")
	default:
		b.WriteString("- Keep a friendly but professional register.\n")
	}

	if float64(agg.Language.EmojiMessages)/float64(agg.AnalyzedMessages) >= emojiShare {
		b.WriteString("- Emojis are welcome where appropriate.\n")
	} else {
		b.WriteString("- Do NOT use emojis.\n")
	}

	if lang := agg.Language.DominantLanguage; lang != "" && lang != "en" {
		b.WriteString("- Reply in the lead's language (" + lang + ").\n")
	}

	switch agg.DominantEmotionalTone {
	case "excited", "positive":
		b.WriteString("- Match their enthusiasm and move toward the next step.\n")
	case "curious":
		b.WriteString("- Answer questions clearly before asking for anything.\n")
	case "hesitant", "skeptical", "confused":
		b.WriteString("- Be reassuring and explain briefly; avoid pressure.\n")
	case "frustrated", "negative":
		b.WriteString("- Acknowledge their concern first and keep it short.\n")
	}

	if agg.AvgInterestLevel > 0 && agg.AvgInterestLevel < lowInterest {
		b.WriteString("- Interest is low: ask at most one light question.\n")
	}

	b.WriteString("- NEVER mirror hostility, sarcasm, insults, or unsafe language.\n")
	b.WriteString("</STYLE POLICY>\n")
	return b.String()
}
