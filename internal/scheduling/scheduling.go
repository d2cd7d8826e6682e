// Package scheduling turns business hours and vague time preferences into concrete
// appointment slots to offer a lead.
package scheduling

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Band is a part of the day a user may prefer.
type Band string

const (
	BandAny       Band = ""
	BandMorning   Band = "morning"   // before 12:00
	BandAfternoon Band = "afternoon" // 12:00 to 17:00
	BandEvening   Band = "evening"   // 17:00 and later
)

const (
	// MaxSlotsPerDay is how many slots are offered for one open weekday.
	MaxSlotsPerDay = 3
	// DefaultHorizonDays is how far ahead slots are searched.
	DefaultHorizonDays = 7
	slotLength         = 60 // minutes
)

var bandRe = regexp.MustCompile(`(?i)\b(morning|afternoon|evening|tonight|night|after work)\b`)

// BandOf reads the preferred band from a free-text preference.
func BandOf(pref string) Band {
	m := bandRe.FindStringSubmatch(pref)
	if m == nil {
		return BandAny
	}
	switch strings.ToLower(m[1]) {
	case "morning":
		return BandMorning
	case "afternoon":
		return BandAfternoon
	default:
		return BandEvening
	}
}

func (b Band) contains(hour int) bool {
	switch b {
	case BandMorning:
		return hour < 12
	case BandAfternoon:
		return hour >= 12 && hour < 17
	case BandEvening:
		return hour >= 17
	default:
		return true
	}
}

type window struct {
	from, to int // minutes since midnight
}

// BusinessHours lists opening windows per weekday.
type BusinessHours map[time.Weekday][]window

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday, "tues": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday, "thurs": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

// ParseBusinessHours converts catalog hours ({"monday": [{"from":"09:00","to":"17:00"}]}).
func ParseBusinessHours(raw map[string][]models.HourRange) (BusinessHours, error) {
	bh := make(BusinessHours, len(raw))
	for day, ranges := range raw {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", day)
		}
		for _, r := range ranges {
			from, err := parseClock(r.From)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", day, err)
			}
			to, err := parseClock(r.To)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", day, err)
			}
			if to <= from {
				return nil, fmt.Errorf("%s: range %s-%s is empty", day, r.From, r.To)
			}
			bh[wd] = append(bh[wd], window{from: from, to: to})
		}
		sort.Slice(bh[wd], func(i, j int) bool { return bh[wd][i].from < bh[wd][j].from })
	}
	return bh, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		if strings.TrimSpace(s) == "24:00" {
			return 24 * 60, nil
		}
		return 0, fmt.Errorf("invalid clock time %q", s)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// ConstraintKind says which side of Hour a slot must fall on.
type ConstraintKind int

const (
	NoConstraint ConstraintKind = iota
	After
	Before
)

// Constraint narrows slots to strictly after or before an hour (0-23).
type Constraint struct {
	Kind ConstraintKind
	Hour int
}

func (c Constraint) allows(hour int) bool {
	switch c.Kind {
	case After:
		return hour > c.Hour
	case Before:
		return hour < c.Hour
	default:
		return true
	}
}

var constraintRe = regexp.MustCompile(`(?i)\b(later than|after|past|earlier than|before|sooner than)\s+(noon|midday|\d{1,2})(?::([0-5]\d))?\s*(a\.?m\.?|p\.?m\.?)?`)

// ParseConstraint reads "later than X", "earlier than X", "after X" or "before X" from
// message. Hours 1-12 without am/pm are read as PM when eveningContext is set.
func ParseConstraint(message string, eveningContext bool) (Constraint, bool) {
	m := constraintRe.FindStringSubmatch(message)
	if m == nil {
		return Constraint{}, false
	}
	kind := After
	switch strings.ToLower(m[1]) {
	case "earlier than", "before", "sooner than":
		kind = Before
	}

	var hour int
	switch strings.ToLower(m[2]) {
	case "noon", "midday":
		hour = 12
	default:
		hour, _ = strconv.Atoi(m[2])
	}
	if hour > 23 {
		return Constraint{}, false
	}
	mer := strings.ToLower(strings.ReplaceAll(m[4], ".", ""))
	switch {
	case mer == "pm" && hour < 12:
		hour += 12
	case mer == "am" && hour == 12:
		hour = 0
	case mer == "" && eveningContext && hour >= 1 && hour < 12:
		hour += 12
	}
	return Constraint{Kind: kind, Hour: hour}, true
}

// SuggestSlots returns up to MaxSlotsPerDay whole-hour slots for every open day in
// the next horizonDays, inside band and allowed by c, all strictly after now.
func SuggestSlots(hours BusinessHours, band Band, c Constraint, now time.Time, horizonDays int) []models.TimeSlot {
	if horizonDays <= 0 {
		horizonDays = DefaultHorizonDays
	}
	var out []models.TimeSlot
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for d := 0; d < horizonDays; d++ {
		date := day.AddDate(0, 0, d)
		perDay := 0
		for _, w := range hours[date.Weekday()] {
			for start := ceilHour(w.from); start+slotLength <= w.to && perDay < MaxSlotsPerDay; start += 60 {
				hour := start / 60
				if !band.contains(hour) || !c.allows(hour) {
					continue
				}
				at := date.Add(time.Duration(start) * time.Minute)
				if !at.After(now) {
					continue
				}
				out = append(out, models.TimeSlot{Start: at, Label: at.Format("Mon Jan 2, 3:04 PM")})
				perDay++
			}
		}
	}
	return out
}

func ceilHour(min int) int {
	if min%60 == 0 {
		return min
	}
	return (min/60 + 1) * 60
}
