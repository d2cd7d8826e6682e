package goals

import (
	"log/slog"
	"regexp"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduling"
)

// Default heuristic patterns. A catalog's signals section replaces a list wholesale.
var (
	DefaultDeclinePatterns = []string{
		`\bno,? thanks?\b`,
		`\bno thank you\b`,
		`\bnot (?:right )?now\b`,
		`\bnot interested\b`,
		`\bskip(?: it| that| this)?\b`,
		`\bmaybe later\b`,
		`\b(?:i'?d )?rather not\b`,
		`\bprefer not\b`,
		`\b(?:don'?t|do not) want to (?:share|give|say)\b`,
	}
	DefaultCorrectionPatterns = []string{
		`\b(?:was|is) (?:wrong|incorrect|not right)\b`,
		`\bwrong (?:email|e-mail|phone|number|name|time|date)\b`,
		`\b(?:typo|mistake) in\b`,
		`\bi (?:gave|sent|typed) (?:you )?the wrong\b`,
	}
	DefaultSchedulingKeywords = []string{
		"schedule", "book", "appointment", "available", "availability",
		"sign up", "signup", "reserve", "reservation",
	}
)

var slotRejectionRe = regexp.MustCompile(`(?i)\b(?:none of (?:those|these|them)|neither|(?:doesn'?t|don'?t|won'?t|does not|do not|will not) work|can'?t make (?:it|those|any))\b`)

// correctionKeywords maps words in a correction message to the field they refer to.
// Order matters: the first keyword whose field is captured wins.
var correctionKeywords = []struct {
	word   string
	fields []string
}{
	{"email", []string{models.FieldEmail}},
	{"e-mail", []string{models.FieldEmail}},
	{"phone", []string{models.FieldPhone}},
	{"number", []string{models.FieldPhone}},
	{"name", []string{models.FieldName, models.FieldFirstName, models.FieldLastName}},
	{"time", []string{models.FieldPreferredTime, models.FieldNormalizedDateTime}},
	{"date", []string{models.FieldPreferredDate, models.FieldNormalizedDateTime}},
	{"day", []string{models.FieldPreferredDate}},
}

// Signals reads decline, correction and scheduling intent from user messages.
type Signals struct {
	decline    []*regexp.Regexp
	correction []*regexp.Regexp
	scheduling *regexp.Regexp
}

// CompileSignals builds Signals from cfg. Invalid patterns are logged and skipped.
func CompileSignals(cfg models.SignalConfig) *Signals {
	decline := cfg.DeclinePatterns
	if len(decline) == 0 {
		decline = DefaultDeclinePatterns
	}
	correction := cfg.CorrectionPatterns
	if len(correction) == 0 {
		correction = DefaultCorrectionPatterns
	}
	keywords := cfg.SchedulingKeywords
	if len(keywords) == 0 {
		keywords = DefaultSchedulingKeywords
	}

	s := &Signals{
		decline:    compilePatterns("decline", decline),
		correction: compilePatterns("correction", correction),
	}
	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(k))
		}
	}
	if len(quoted) > 0 {
		s.scheduling = regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
	}
	return s
}

func compilePatterns(kind string, patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			slog.Warn("Signals.Compile: skipping invalid pattern", "kind", kind, "pattern", p, "error", err)
			continue
		}
		out = append(out, re)
	}
	return out
}

func anyMatch(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// IsDecline reports whether message declines the current question.
func (s *Signals) IsDecline(message string) bool {
	return anyMatch(s.decline, message)
}

// HasSchedulingIntent reports whether message asks to book or schedule something.
func (s *Signals) HasSchedulingIntent(message string) bool {
	return s.scheduling != nil && s.scheduling.MatchString(message)
}

// IsSlotRejection reports whether message turns down offered slots or narrows them.
func (s *Signals) IsSlotRejection(message string) bool {
	if slotRejectionRe.MatchString(message) {
		return true
	}
	_, ok := scheduling.ParseConstraint(message, false)
	return ok
}

// DetectCorrection returns the captured field message says was wrong. A correction
// message that names no captured field falls back to the only captured field, if
// exactly one exists. Declines such as "that is not right now" are never corrections.
func (s *Signals) DetectCorrection(message string, captured map[string]models.CapturedValue) (string, bool) {
	if len(captured) == 0 || !anyMatch(s.correction, message) || s.IsDecline(message) {
		return "", false
	}
	lower := strings.ToLower(message)
	for _, kw := range correctionKeywords {
		if !strings.Contains(lower, kw.word) {
			continue
		}
		for _, f := range kw.fields {
			if _, ok := captured[f]; ok {
				return f, true
			}
		}
	}
	if len(captured) == 1 {
		for f := range captured {
			return f, true
		}
	}
	return "", false
}
