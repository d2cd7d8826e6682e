package goals

import (
	"testing"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestSignalsDefaults(t *testing.T) {
	s := CompileSignals(models.SignalConfig{})

	for _, msg := range []string{"No thanks", "not right now", "skip", "maybe later!", "I'd rather not say", "I don't want to share that"} {
		assert.True(t, s.IsDecline(msg), msg)
	}
	for _, msg := range []string{"sure, it's a@b.com", "now works", "I know a thank-you note"} {
		assert.False(t, s.IsDecline(msg), msg)
	}

	assert.True(t, s.HasSchedulingIntent("I want to Schedule a class"))
	assert.True(t, s.HasSchedulingIntent("can I sign up for Tuesday?"))
	assert.False(t, s.HasSchedulingIntent("the bookkeeping is fine"))

	assert.True(t, s.IsSlotRejection("none of those work for me"))
	assert.True(t, s.IsSlotRejection("anything later than 7?"))
	assert.False(t, s.IsSlotRejection("the second one is great"))
}

func TestDetectCorrection(t *testing.T) {
	s := CompileSignals(models.SignalConfig{})
	captured := map[string]models.CapturedValue{
		models.FieldEmail: {Value: "a@b.com", Validated: true},
		models.FieldPhone: {Value: "5551234567", Validated: true},
	}

	field, ok := s.DetectCorrection("sorry, that email was wrong", captured)
	assert.True(t, ok)
	assert.Equal(t, models.FieldEmail, field)

	field, ok = s.DetectCorrection("I gave you the wrong number", captured)
	assert.True(t, ok)
	assert.Equal(t, models.FieldPhone, field)

	_, ok = s.DetectCorrection("that name is wrong", captured)
	assert.False(t, ok, "name was never captured and several fields are")

	field, ok = s.DetectCorrection("that was wrong", map[string]models.CapturedValue{models.FieldName: {Value: "Jo"}})
	assert.True(t, ok)
	assert.Equal(t, models.FieldName, field)

	for _, msg := range []string{"that is not right now, sorry", "maybe later, that is not right now"} {
		_, ok = s.DetectCorrection(msg, map[string]models.CapturedValue{models.FieldEmail: {Value: "a@b.com", Validated: true}})
		assert.False(t, ok, "decline %q is not a correction", msg)
	}
	field, ok = s.DetectCorrection("sorry, that is not right", map[string]models.CapturedValue{models.FieldEmail: {Value: "a@b.com", Validated: true}})
	assert.True(t, ok)
	assert.Equal(t, models.FieldEmail, field)

	_, ok = s.DetectCorrection("my email is a@b.com", captured)
	assert.False(t, ok)
	_, ok = s.DetectCorrection("that email was wrong", nil)
	assert.False(t, ok)
}

func TestSignalsFromConfig(t *testing.T) {
	s := CompileSignals(models.SignalConfig{
		DeclinePatterns:    []string{`\bnah\b`, `([`},
		SchedulingKeywords: []string{"tee time", "  "},
	})
	assert.True(t, s.IsDecline("nah"))
	assert.False(t, s.IsDecline("no thanks"), "configured patterns replace the defaults")
	assert.True(t, s.HasSchedulingIntent("grab a Tee Time?"))
	assert.False(t, s.HasSchedulingIntent("book it"))
}
