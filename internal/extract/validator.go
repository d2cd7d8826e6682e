// Package extract validates field values pulled out of user messages.
//
// Extraction itself is delegated to an Extractor (usually an LLM); the
// Validator decides what may be persisted and whether a value is specific
// enough to complete a goal.
package extract

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Result is the outcome of validating one raw value.
// Valid values may be stored. Only Specific values satisfy goal completion.
type Result struct {
	Valid      bool
	Normalized string
	Specific   bool
}

// Satisfies reports whether the value counts toward completing a goal.
func (r Result) Satisfies() bool {
	return r.Valid && r.Specific
}

func invalid() Result { return Result{} }

func specific(v string) Result { return Result{Valid: true, Normalized: v, Specific: true} }

func preference(v string) Result { return Result{Valid: true, Normalized: v} }

// ValidationConfig holds the heuristic patterns used for scheduling fields.
// Patterns are matched against the lower-cased, whitespace-collapsed value.
type ValidationConfig struct {
	SpecificTimePatterns []string `json:"specificTimePatterns,omitempty" yaml:"specificTimePatterns,omitempty"`
	RelativeTimePatterns []string `json:"relativeTimePatterns,omitempty" yaml:"relativeTimePatterns,omitempty"`
	VagueTimePatterns    []string `json:"vagueTimePatterns,omitempty" yaml:"vagueTimePatterns,omitempty"`
	SpecificDatePatterns []string `json:"specificDatePatterns,omitempty" yaml:"specificDatePatterns,omitempty"`
	VagueDatePatterns    []string `json:"vagueDatePatterns,omitempty" yaml:"vagueDatePatterns,omitempty"`
	MinPhoneDigits       int      `json:"minPhoneDigits,omitempty" yaml:"minPhoneDigits,omitempty"`
	MaxNameLength        int      `json:"maxNameLength,omitempty" yaml:"maxNameLength,omitempty"`
}

const (
	monthPattern   = `(jan(uary)?|feb(ruary)?|mar(ch)?|apr(il)?|may|june?|july?|aug(ust)?|sep(t(ember)?)?|oct(ober)?|nov(ember)?|dec(ember)?)`
	weekdayPattern = `(monday|tuesday|wednesday|thursday|friday|saturday|sunday|mon|tue|tues|wed|thu|thur|thurs|fri|sat|sun)`
)

// DefaultValidationConfig returns the built-in patterns.
func DefaultValidationConfig() ValidationConfig {
	return ValidationConfig{
		SpecificTimePatterns: []string{
			`\b(1[0-2]|0?[1-9])(:[0-5]\d)?(am|pm)\b`,
			`\b([01]?\d|2[0-3]):[0-5]\d\b`,
		},
		RelativeTimePatterns: []string{
			`\b(later|earlier)\b`,
			`\b(after|before|past|until|no later than|not before)\b`,
		},
		VagueTimePatterns: []string{
			`\b(morning|afternoon|evening|night|tonight|noon|midday|lunch(time)?|after work|anytime|whenever)\b`,
		},
		SpecificDatePatterns: []string{
			`^((this|next|on) )?` + weekdayPattern + `\b`,
			`^(today|tomorrow|tmrw|tmr)\b`,
			`^\d{4}-\d{2}-\d{2}$`,
			`^\d{1,2}/\d{1,2}(/\d{2,4})?$`,
			`^` + monthPattern + `\.? \d{1,2}(st|nd|rd|th)?(,? \d{4})?$`,
			`^\d{1,2}(st|nd|rd|th)? (of )?` + monthPattern + `( \d{4})?$`,
		},
		VagueDatePatterns: []string{
			`\b(next|this) (week|month)\b`,
			`\b(soon|weekend|weekday|sometime|whenever|asap)\b`,
		},
		MinPhoneDigits: 7,
		MaxNameLength:  100,
	}
}

// merged fills empty lists and zero limits from the defaults.
func (c ValidationConfig) merged() ValidationConfig {
	d := DefaultValidationConfig()
	if len(c.SpecificTimePatterns) == 0 {
		c.SpecificTimePatterns = d.SpecificTimePatterns
	}
	if len(c.RelativeTimePatterns) == 0 {
		c.RelativeTimePatterns = d.RelativeTimePatterns
	}
	if len(c.VagueTimePatterns) == 0 {
		c.VagueTimePatterns = d.VagueTimePatterns
	}
	if len(c.SpecificDatePatterns) == 0 {
		c.SpecificDatePatterns = d.SpecificDatePatterns
	}
	if len(c.VagueDatePatterns) == 0 {
		c.VagueDatePatterns = d.VagueDatePatterns
	}
	if c.MinPhoneDigits <= 0 {
		c.MinPhoneDigits = d.MinPhoneDigits
	}
	if c.MaxNameLength <= 0 {
		c.MaxNameLength = d.MaxNameLength
	}
	return c
}

var (
	emailRe    = regexp.MustCompile(`^[a-z0-9._%+\-]+@[a-z0-9\-]+(\.[a-z0-9\-]+)*\.[a-z]{2,}$`)
	meridiemRe = regexp.MustCompile(`(\d)\s+(am|pm)\b`)
)

// Validator is a deterministic field validator. It is safe for concurrent use.
type Validator struct {
	cfg          ValidationConfig
	specificTime []*regexp.Regexp
	relativeTime []*regexp.Regexp
	vagueTime    []*regexp.Regexp
	specificDate []*regexp.Regexp
	vagueDate    []*regexp.Regexp

	mu       sync.RWMutex
	patterns map[string]*regexp.Regexp // descriptor validationPattern cache; nil value marks a bad pattern
}

// NewValidator compiles cfg, filling unset parts from DefaultValidationConfig.
func NewValidator(cfg ValidationConfig) (*Validator, error) {
	cfg = cfg.merged()
	v := &Validator{cfg: cfg, patterns: make(map[string]*regexp.Regexp)}
	var err error
	if v.specificTime, err = compileAll("specificTime", cfg.SpecificTimePatterns); err != nil {
		return nil, err
	}
	if v.relativeTime, err = compileAll("relativeTime", cfg.RelativeTimePatterns); err != nil {
		return nil, err
	}
	if v.vagueTime, err = compileAll("vagueTime", cfg.VagueTimePatterns); err != nil {
		return nil, err
	}
	if v.specificDate, err = compileAll("specificDate", cfg.SpecificDatePatterns); err != nil {
		return nil, err
	}
	if v.vagueDate, err = compileAll("vagueDate", cfg.VagueDatePatterns); err != nil {
		return nil, err
	}
	return v, nil
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
)

// DefaultValidator returns a shared Validator built from the default patterns.
func DefaultValidator() *Validator {
	defaultOnce.Do(func() {
		cfg := DefaultValidationConfig()
		defaultValidator = &Validator{
			cfg:          cfg,
			specificTime: mustCompileAll(cfg.SpecificTimePatterns),
			relativeTime: mustCompileAll(cfg.RelativeTimePatterns),
			vagueTime:    mustCompileAll(cfg.VagueTimePatterns),
			specificDate: mustCompileAll(cfg.SpecificDatePatterns),
			vagueDate:    mustCompileAll(cfg.VagueDatePatterns),
			patterns:     make(map[string]*regexp.Regexp),
		}
	})
	return defaultValidator
}

func mustCompileAll(patterns []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		out = append(out, regexp.MustCompile(p))
	}
	return out
}

func compileAll(kind string, patterns []string) ([]*regexp.Regexp, error) {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		re, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid %s pattern %q: %w", kind, p, err)
		}
		out = append(out, re)
	}
	return out, nil
}

func matchAny(res []*regexp.Regexp, s string) bool {
	for _, re := range res {
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// Validate checks raw for the named field.
func (v *Validator) Validate(field, raw string) Result {
	return v.ValidateField(models.FieldDescriptor{Name: field}, raw)
}

// ValidateField checks raw against the field's built-in rule and, when set, the
// descriptor's validationPattern.
func (v *Validator) ValidateField(fd models.FieldDescriptor, raw string) Result {
	value := strings.TrimSpace(raw)
	if value == "" {
		return invalid()
	}
	if fd.ValidationPattern != "" && !v.matchesDescriptor(fd, value) {
		return invalid()
	}

	switch fd.Name {
	case models.FieldEmail:
		return v.email(value)
	case models.FieldPhone:
		return v.phone(value)
	case models.FieldName, models.FieldFirstName, models.FieldLastName:
		return v.name(value)
	case models.FieldPreferredTime:
		return v.preferredTime(value)
	case models.FieldPreferredDate:
		return v.preferredDate(value)
	case models.FieldNormalizedDateTime:
		return v.dateTime(value)
	default:
		return specific(value)
	}
}

func (v *Validator) matchesDescriptor(fd models.FieldDescriptor, value string) bool {
	v.mu.RLock()
	re, seen := v.patterns[fd.ValidationPattern]
	v.mu.RUnlock()
	if !seen {
		compiled, err := regexp.Compile(fd.ValidationPattern)
		if err != nil {
			slog.Warn("Validator.ValidateField: ignoring invalid validationPattern", "field", fd.Name, "pattern", fd.ValidationPattern, "error", err)
		}
		v.mu.Lock()
		v.patterns[fd.ValidationPattern] = compiled
		v.mu.Unlock()
		re = compiled
	}
	if re == nil {
		return true
	}
	return re.MatchString(value)
}

func (v *Validator) email(value string) Result {
	e := strings.ToLower(value)
	if !emailRe.MatchString(e) {
		return invalid()
	}
	return specific(e)
}

func (v *Validator) phone(value string) Result {
	var b strings.Builder
	digits := 0
	for i, r := range value {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
			digits++
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	if digits < v.cfg.MinPhoneDigits || digits > 15 {
		return invalid()
	}
	return specific(b.String())
}

func (v *Validator) name(value string) Result {
	n := strings.Join(strings.Fields(value), " ")
	if utf8.RuneCountInString(n) > v.cfg.MaxNameLength || strings.Contains(n, "@") {
		return invalid()
	}
	hasLetter := false
	for _, r := range n {
		if unicode.IsLetter(r) {
			hasLetter = true
			break
		}
	}
	if !hasLetter {
		return invalid()
	}
	return specific(n)
}

// normalizeClock lower-cases and removes the spacing and dots in "7 P.M.".
func normalizeClock(value string) string {
	s := strings.ToLower(strings.Join(strings.Fields(value), " "))
	s = strings.ReplaceAll(s, "a.m.", "am")
	s = strings.ReplaceAll(s, "p.m.", "pm")
	s = meridiemRe.ReplaceAllString(s, "${1}${2}")
	return s
}

func (v *Validator) preferredTime(value string) Result {
	s := normalizeClock(value)
	if matchAny(v.relativeTime, s) {
		return preference(s)
	}
	for _, re := range v.specificTime {
		if m := re.FindString(s); m != "" {
			return specific(m)
		}
	}
	if matchAny(v.vagueTime, s) {
		return preference(s)
	}
	return invalid()
}

func (v *Validator) preferredDate(value string) Result {
	s := strings.ToLower(strings.Join(strings.Fields(value), " "))
	if matchAny(v.vagueDate, s) && !matchAny(v.specificDate, s) {
		return preference(s)
	}
	if matchAny(v.specificDate, s) {
		return specific(s)
	}
	return invalid()
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

func (v *Validator) dateTime(value string) Result {
	for _, layout := range dateTimeLayouts {
		if _, err := time.Parse(layout, value); err == nil {
			return specific(value)
		}
	}
	return invalid()
}
