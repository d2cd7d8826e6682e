package goals

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/events"
	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 2024-05-05 is a Sunday.
var fixedNow = time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

type recorder struct {
	events []events.Event
	err    error
}

func (r *recorder) Publish(_ context.Context, ev events.Event) error {
	r.events = append(r.events, ev)
	return r.err
}

func (r *recorder) names() []string {
	out := []string{}
	for _, ev := range r.events {
		out = append(out, ev.Name)
	}
	return out
}

type failingSave struct {
	*flow.StateStore
}

func (failingSave) Save(context.Context, string, models.ChannelWorkflowState) error {
	return errors.New("disk full")
}

type harness struct {
	t      *testing.T
	orch   *Orchestrator
	states *flow.StateStore
	pub    *recorder
	cfg    *models.GoalConfiguration
}

func newHarness(t *testing.T, cfg *models.GoalConfiguration, ex extract.Extractor) *harness {
	t.Helper()
	states := flow.NewStateStore(store.NewInMemoryStore(), flow.WithClock(func() time.Time { return fixedNow }))
	pub := &recorder{}
	if ex == nil {
		ex = extract.PatternExtractor{}
	}
	return &harness{
		t:      t,
		orch:   NewOrchestrator(states, ex, WithPublisher(pub), WithClock(func() time.Time { return fixedNow })),
		states: states,
		pub:    pub,
		cfg:    cfg,
	}
}

func (h *harness) turn(msg string) *models.OrchestrationResult {
	h.t.Helper()
	res, err := h.orch.OrchestrateGoals(context.Background(), TurnRequest{
		Message:   msg,
		ChannelID: "ch1",
		TenantID:  "acme",
		Config:    h.cfg,
		Channel:   models.ChannelChat,
	})
	require.NoError(h.t, err)
	assertMutuallyExclusive(h.t, res.State)
	assertCompletedHaveFields(h.t, h.cfg, res.State)
	return res
}

func assertMutuallyExclusive(t *testing.T, st models.ChannelWorkflowState) {
	t.Helper()
	seen := map[string]string{}
	for name, list := range map[string][]string{"active": st.ActiveGoals, "completed": st.CompletedGoals, "declined": st.DeclinedGoals} {
		for _, id := range list {
			if prev, ok := seen[id]; ok {
				t.Fatalf("goal %s is both %s and %s", id, prev, name)
			}
			seen[id] = name
		}
	}
}

func assertCompletedHaveFields(t *testing.T, cfg *models.GoalConfiguration, st models.ChannelWorkflowState) {
	t.Helper()
	for _, id := range st.CompletedGoals {
		g, _ := cfg.Goal(id)
		for _, fd := range g.RequiredFields() {
			assert.True(t, st.HasValidField(fd.Name), "completed goal %s lacks valid %s", id, fd.Name)
		}
	}
}

func emailPhoneCatalog() *models.GoalConfiguration {
	return &models.GoalConfiguration{Goals: []models.GoalDefinition{
		{
			ID: "collect_email", Name: "Email", Order: intp(1), Priority: models.PriorityCritical,
			Type:          models.GoalTypeDataCollection,
			DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}},
			Actions:       models.Actions{OnComplete: []models.GoalAction{{Type: "webhook", EventName: "lead_email_captured", Payload: map[string]any{"crm": "hubspot"}}}},
		},
		{
			ID: "collect_phone", Name: "Phone", Order: intp(2), Priority: models.PriorityHigh,
			Type:          models.GoalTypeDataCollection,
			DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPhone, Required: true}}},
			Triggers:      &models.Triggers{PrerequisiteGoals: []string{"collect_email"}},
		},
	}}
}

func TestPrerequisiteGatesActivation(t *testing.T) {
	h := newHarness(t, emailPhoneCatalog(), nil)

	res := h.turn("hi")
	assert.Empty(t, res.ExtractedInfo)
	assert.Equal(t, []string{"collect_email"}, res.ActiveGoals)
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyActivated)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, []string{models.FieldEmail}, res.Recommendations[0].MissingFields)
	assert.Equal(t, 10, res.Recommendations[0].Priority)
	assert.True(t, res.Recommendations[0].ShouldPursue)

	res = h.turn("my email is a@b.com")
	assert.Equal(t, map[string]string{models.FieldEmail: "a@b.com"}, res.ExtractedInfo)
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
	assert.NotContains(t, res.ActiveGoals, "collect_phone", "prerequisite was unmet when eligibility ran")
	assert.Equal(t, []string{"goal_completed", "lead_email_captured"}, h.pub.names())
	assert.Equal(t, "hubspot", h.pub.events[1].Payload["crm"])
	assert.Equal(t, "collect_email", h.pub.events[1].GoalID)
	assert.Equal(t, "acme", h.pub.events[1].TenantID)

	res = h.turn("ok")
	assert.Equal(t, []string{"collect_phone"}, res.ActiveGoals)
	assert.Equal(t, 3, res.State.MessageCount)
}

func TestAlwaysActiveModeActivatesEverything(t *testing.T) {
	cfg := &models.GoalConfiguration{
		GlobalSettings: models.GlobalSettings{MaxGoalsPerTurn: 1, StrictOrdering: intp(0)},
		Goals: []models.GoalDefinition{
			{ID: "collect_name", Order: intp(3), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldName, Required: true}}}},
			{ID: "collect_email", Order: intp(1), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}}},
			{ID: "collect_phone", Order: intp(2), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPhone, Required: true}}}},
		},
	}
	h := newHarness(t, cfg, nil)
	res := h.turn("hello there")
	assert.Equal(t, []string{"collect_email", "collect_phone", "collect_name"}, res.ActiveGoals)
	assert.Len(t, res.Recommendations, 3)
}

func TestStrictOrderingRunsOneGoalAtATime(t *testing.T) {
	cfg := &models.GoalConfiguration{
		GlobalSettings: models.GlobalSettings{StrictOrdering: intp(8)},
		Goals: []models.GoalDefinition{
			{ID: "collect_phone", Order: intp(2), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPhone, Required: true}}}},
			{ID: "collect_email", Order: intp(1), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}}},
		},
	}
	h := newHarness(t, cfg, nil)
	assert.Equal(t, []string{"collect_email"}, h.turn("hello").ActiveGoals)
	assert.Equal(t, []string{"collect_email"}, h.turn("how does it work?").ActiveGoals)

	res := h.turn("sure, a@b.com")
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
	assert.Equal(t, []string{"collect_phone"}, res.ActiveGoals)
}

func schedulingCatalog() *models.GoalConfiguration {
	return &models.GoalConfiguration{
		PrimaryGoal: "book_class",
		Goals: []models.GoalDefinition{
			{
				ID: "collect_email", Order: intp(1), Type: models.GoalTypeDataCollection,
				DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}},
			},
			{
				ID: "collect_budget", Order: intp(2), Type: models.GoalTypeCustom,
			},
			{
				ID: "book_class", Order: intp(3), Type: models.GoalTypeScheduling,
				DataToCapture: models.DataToCapture{Fields: models.FieldList{
					{Name: models.FieldPreferredDate, Required: true},
					{Name: models.FieldPreferredTime, Required: true},
				}},
				Triggers: &models.Triggers{PrerequisiteGoals: []string{"collect_email"}},
			},
		},
	}
}

func TestSchedulingIntentFastTracksPrimary(t *testing.T) {
	h := newHarness(t, schedulingCatalog(), nil)

	res := h.turn("I want to schedule a class for tomorrow")
	assert.True(t, res.FastTracked)
	assert.Equal(t, []string{"collect_email"}, res.ActiveGoals)
	assert.Equal(t, []string{"collect_email", "book_class"}, res.State.FastTrackGoals)
	assert.NotContains(t, res.ActiveGoals, "collect_budget")
	assert.Equal(t, []string{models.EventFastTrackStarted}, h.pub.names())

	res = h.turn("a@b.com")
	assert.True(t, res.FastTracked)
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
	assert.Equal(t, []string{"book_class"}, res.ActiveGoals)
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, []string{models.FieldPreferredDate, models.FieldPreferredTime}, res.Recommendations[0].MissingFields)

	res = h.turn("tomorrow at 7pm please")
	assert.Equal(t, []string{"book_class"}, res.StateUpdates.NewlyCompleted)
	assert.Empty(t, res.State.FastTrackGoals, "finished sequence is cleared")
	assert.False(t, res.FastTracked)
	assert.Equal(t, []string{"collect_budget"}, res.ActiveGoals, "normal ordering resumes")
	assert.Equal(t, 1, countNames(h.pub.names(), models.EventFastTrackStarted))
}

func TestExtractedPrimaryFieldFastTracks(t *testing.T) {
	cfg := schedulingCatalog()
	cfg.Goals[2].Triggers = nil
	h := newHarness(t, cfg, nil)

	// book_class is eligible, so its fields are extracted on this message
	res := h.turn("tomorrow works")
	assert.Equal(t, "tomorrow", res.ExtractedInfo[models.FieldPreferredDate])
	assert.True(t, res.FastTracked)
	assert.Equal(t, []string{"book_class"}, res.ActiveGoals, "no prerequisites, so the primary itself is next")
}

func countNames(names []string, name string) int {
	n := 0
	for _, s := range names {
		if s == name {
			n++
		}
	}
	return n
}

func TestVagueTimeDoesNotCompleteAndOffersSlots(t *testing.T) {
	cfg := &models.GoalConfiguration{
		Goals: []models.GoalDefinition{{
			ID: "book_call", Type: models.GoalTypeScheduling,
			DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPreferredTime, Required: true}}},
		}},
		BusinessHours: map[string][]models.HourRange{"monday": {{From: "09:00", To: "21:00"}}},
	}
	h := newHarness(t, cfg, nil)

	res := h.turn("evening works for me")
	assert.Equal(t, "evening", res.ExtractedInfo[models.FieldPreferredTime])
	assert.Empty(t, res.StateUpdates.NewlyCompleted)
	assert.False(t, res.State.CapturedData[models.FieldPreferredTime].Validated)
	require.Len(t, res.SlotOffers, 3)
	assert.Equal(t, time.Date(2024, 5, 6, 17, 0, 0, 0, time.UTC), res.SlotOffers[0].Start)

	res = h.turn("none of those, later than 6")
	assert.Equal(t, "evening, later than 6", res.State.CapturedData[models.FieldPreferredTime].Value)
	require.Len(t, res.SlotOffers, 2)
	assert.Equal(t, 19, res.SlotOffers[0].Start.Hour(), "6 reads as 6pm after an evening preference")
	assert.Equal(t, 20, res.SlotOffers[1].Start.Hour())

	res = h.turn("7pm works")
	assert.Equal(t, []string{"book_call"}, res.StateUpdates.NewlyCompleted)
	assert.Equal(t, "7pm", res.State.CapturedData[models.FieldPreferredTime].Value)
	assert.True(t, res.State.CapturedData[models.FieldPreferredTime].Validated)
	assert.Empty(t, res.SlotOffers)
}

func TestMaxAttemptsDeclinesGoal(t *testing.T) {
	cfg := &models.GoalConfiguration{Goals: []models.GoalDefinition{{
		ID: "x", Type: models.GoalTypeDataCollection,
		DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}},
		Behavior:      models.Behavior{MaxAttempts: 2},
	}}}
	h := newHarness(t, cfg, nil)

	for attempt := 1; attempt <= 2; attempt++ {
		res := h.turn("hi")
		require.Len(t, res.Recommendations, 1)
		assert.Equal(t, attempt, res.Recommendations[0].AttemptCount)
	}
	res := h.turn("hi")
	assert.Empty(t, res.Recommendations)
	assert.Equal(t, []string{"x"}, res.StateUpdates.Declined)
	assert.Equal(t, []string{"x"}, res.State.DeclinedGoals)

	res = h.turn("hi again")
	assert.Empty(t, res.Recommendations)
	assert.Empty(t, res.ActiveGoals)
}

func threeGoalCatalog() *models.GoalConfiguration {
	return &models.GoalConfiguration{Goals: []models.GoalDefinition{
		{ID: "collect_email", Order: intp(1), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}}},
		{ID: "collect_phone", Order: intp(2), DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPhone, Required: true}}}},
		{ID: "qualify", Order: intp(3), Type: models.GoalTypeCustom},
	}}
}

func TestDeclineOnlyFirstActiveGoal(t *testing.T) {
	h := newHarness(t, threeGoalCatalog(), nil)
	require.Len(t, h.turn("hello").ActiveGoals, 3)

	res := h.turn("no thanks")
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.Declined)
	assert.Equal(t, []string{"collect_phone", "qualify"}, res.ActiveGoals)
	assert.Len(t, res.Recommendations, 2)
}

func TestDeclineIgnoredWhenDataProvided(t *testing.T) {
	h := newHarness(t, threeGoalCatalog(), nil)
	h.turn("hello")

	res := h.turn("no thanks on the call, but my email is a@b.com")
	assert.Empty(t, res.StateUpdates.Declined)
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
}

func TestCorrectionReopensGoal(t *testing.T) {
	h := newHarness(t, emailPhoneCatalog(), nil)
	h.turn("a@b.com")
	emitted := len(h.pub.events)

	res := h.turn("sorry, that email was wrong")
	require.NotNil(t, res.Correction)
	assert.Equal(t, models.FieldEmail, res.Correction.Field)
	assert.Equal(t, "a@b.com", res.Correction.OldValue)
	assert.Equal(t, []string{"collect_email"}, res.Correction.GoalIDs)
	assert.Equal(t, []string{"collect_email"}, res.ActiveGoals)
	assert.Empty(t, res.CompletedGoals)
	assert.Empty(t, res.Recommendations, "the acknowledgment replaces goal pursuit on this turn")
	assert.NotContains(t, res.State.CapturedData, models.FieldEmail)
	assert.Len(t, h.pub.events, emitted)

	res = h.turn("it's c@d.com")
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
	assert.Equal(t, "c@d.com", res.State.CapturedData[models.FieldEmail].Value)
	assert.Equal(t, 2, countNames(h.pub.names(), "lead_email_captured"), "a corrected goal reports its new data")
}

func TestCompletionTriggersFireOnce(t *testing.T) {
	cfg := &models.GoalConfiguration{
		Goals: []models.GoalDefinition{
			{ID: "collect_email", Priority: models.PriorityCritical, DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}}},
			{ID: "collect_phone", Priority: models.PriorityCritical, DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldPhone, Required: true}}}},
			{ID: "nice_to_have", Priority: models.PriorityLow, Type: models.GoalTypeCustom},
		},
		CompletionTriggers: models.CompletionTriggers{
			AllCriticalComplete: "lead_qualified",
			CustomCombinations:  []models.CustomCombination{{Name: "contact", Goals: []string{"collect_email", "collect_phone"}, Intent: "contact_ready"}},
		},
	}
	h := newHarness(t, cfg, nil)

	res := h.turn("reach me at a@b.com or 555-123-4567")
	assert.ElementsMatch(t, []string{"collect_email", "collect_phone"}, res.StateUpdates.NewlyCompleted)
	assert.Equal(t, []string{"contact_ready", "lead_qualified"}, res.TriggeredIntents)
	assert.Equal(t, 1, countNames(h.pub.names(), models.EventContactInfoCaptured))
	assert.Equal(t, 2, countNames(h.pub.names(), models.EventIntentTriggered))
	published := len(h.pub.events)

	res = h.turn("reach me at a@b.com or 555-123-4567")
	assert.Empty(t, res.TriggeredIntents)
	assert.Empty(t, res.StateUpdates.NewlyCompleted)
	assert.Len(t, h.pub.events, published, "nothing is re-fired")
	assert.Equal(t, []string{"contact_ready", "lead_qualified"}, res.State.TriggeredIntents)
}

func TestPriorStateSanitizedAndCountRespected(t *testing.T) {
	h := newHarness(t, emailPhoneCatalog(), nil)
	prior := models.NewChannelWorkflowState("ch1")
	prior.ActiveGoals = []string{"ghost", "collect_email"}
	prior.CompletedGoals = []string{"retired_goal"}
	prior.AttemptCounts["ghost"] = 4
	prior.MessageCount = 4
	prior.Aggregates.AnalyzedMessages = 3
	prior.Aggregates.AvgInterestLevel = 8

	res, err := h.orch.OrchestrateGoals(context.Background(), TurnRequest{
		Message:          "tell me more",
		ChannelID:        "ch1",
		Config:           h.cfg,
		Channel:          models.ChannelChat,
		PriorState:       &prior,
		CountIncremented: true,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"collect_email"}, res.ActiveGoals)
	assert.Empty(t, res.CompletedGoals)
	assert.NotContains(t, res.State.AttemptCounts, "ghost")
	assert.Equal(t, 4, res.State.MessageCount)
	assert.Empty(t, res.StateUpdates.NewlyActivated, "collect_email was already active")
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, 11, res.Recommendations[0].Priority, "high interest raises priority")
	assert.Equal(t, []string{"ghost", "collect_email"}, prior.ActiveGoals, "prior state is not mutated")

	stored := h.states.Load(context.Background(), "ch1")
	assert.Equal(t, 4, stored.MessageCount)
	assert.True(t, fixedNow.Equal(stored.LastUpdated))
}

func TestSuffixedCompletedIDSatisfiesPrerequisite(t *testing.T) {
	h := newHarness(t, emailPhoneCatalog(), nil)
	prior := models.NewChannelWorkflowState("ch1")
	prior.CompletedGoals = []string{"collect_email_1712000000"}
	prior.ActiveGoals = []string{"collect_email_1712000000"}
	prior.CaptureField(models.FieldEmail, "a@b.com", true, fixedNow)
	prior.MessageCount = 2

	res, err := h.orch.OrchestrateGoals(context.Background(), TurnRequest{
		Message:    "ok",
		ChannelID:  "ch1",
		Config:     h.cfg,
		Channel:    models.ChannelChat,
		PriorState: &prior,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"collect_email"}, res.CompletedGoals, "stored completion survives under the catalog id")
	assert.Equal(t, []string{"collect_phone"}, res.ActiveGoals)
	assert.Empty(t, res.StateUpdates.NewlyCompleted)
	assert.Empty(t, h.pub.events, "completion events are not fired again")
	require.Len(t, res.Recommendations, 1)
	assert.Equal(t, "collect_phone", res.Recommendations[0].GoalID)

	stored := h.states.Load(context.Background(), "ch1")
	assert.Equal(t, []string{"collect_email"}, stored.CompletedGoals)
}

func TestDeclinePhraseIsNotACorrection(t *testing.T) {
	for _, msg := range []string{
		"that is not right now, sorry",
		"no thanks, that is not right now",
	} {
		t.Run(msg, func(t *testing.T) {
			h := newHarness(t, emailPhoneCatalog(), nil)
			h.turn("my email is a@b.com")
			require.Equal(t, []string{"collect_phone"}, h.turn("ok").ActiveGoals)

			res := h.turn(msg)
			assert.Nil(t, res.Correction)
			assert.Equal(t, []string{"collect_phone"}, res.StateUpdates.Declined)
			assert.Equal(t, []string{"collect_email"}, res.CompletedGoals)
			assert.Equal(t, "a@b.com", res.State.CapturedData[models.FieldEmail].Value)
		})
	}
}

func TestShouldPursue(t *testing.T) {
	cfg := &models.GoalConfiguration{Goals: []models.GoalDefinition{
		{ID: "soft", Adherence: 2, Type: models.GoalTypeCustom},
		{ID: "soft_required", Adherence: 2, Type: models.GoalTypeCustom, ChannelRules: map[string]models.ChannelRule{"chat": {Required: true}}},
	}}
	h := newHarness(t, cfg, nil)

	res := h.turn("hi")
	require.Len(t, res.Recommendations, 2)
	assert.True(t, res.Recommendations[0].ShouldPursue, "first attempt is always pursued")
	assert.Equal(t, models.ApproachSubtle, res.Recommendations[0].Approach)

	res = h.turn("hi")
	require.Len(t, res.Recommendations, 2)
	assert.False(t, res.Recommendations[0].ShouldPursue)
	assert.True(t, res.Recommendations[1].ShouldPursue)
	assert.Equal(t, []string{"soft_required"}, res.PursuedGoals())
}

func TestSaveFailurePropagatesAndSuppressesEvents(t *testing.T) {
	states := flow.NewStateStore(store.NewInMemoryStore())
	pub := &recorder{}
	o := NewOrchestrator(failingSave{states}, extract.PatternExtractor{}, WithPublisher(pub))
	_, err := o.OrchestrateGoals(context.Background(), TurnRequest{Message: "a@b.com", ChannelID: "ch1", Config: emailPhoneCatalog()})
	require.Error(t, err)
	assert.ErrorContains(t, err, "disk full")
	assert.Empty(t, pub.events)
}

func TestPublishFailureIsSwallowed(t *testing.T) {
	h := newHarness(t, emailPhoneCatalog(), nil)
	h.pub.err = errors.New("bus unavailable")
	res := h.turn("a@b.com")
	assert.Equal(t, []string{"collect_email"}, res.StateUpdates.NewlyCompleted)
	assert.NotEmpty(t, h.pub.events)
}

func TestExtractorFailureMeansNoCandidates(t *testing.T) {
	broken := extract.ExtractorFunc(func(context.Context, string, []models.FieldDescriptor) ([]extract.Candidate, error) {
		return nil, errors.New("model timeout")
	})
	h := newHarness(t, emailPhoneCatalog(), broken)
	res := h.turn("a@b.com")
	assert.Empty(t, res.ExtractedInfo)
	assert.Equal(t, []string{"collect_email"}, res.ActiveGoals)
}

func TestInvalidCandidatesAreDropped(t *testing.T) {
	scripted := extract.ExtractorFunc(func(_ context.Context, _ string, fields []models.FieldDescriptor) ([]extract.Candidate, error) {
		return []extract.Candidate{
			{Field: models.FieldEmail, Value: "not-an-email"},
			{Field: models.FieldPhone, Value: "555-123-4567"}, // not requested
			{Field: models.FieldEmail, Value: "A@B.com"},
		}, nil
	})
	h := newHarness(t, emailPhoneCatalog(), scripted)
	res := h.turn("whatever")
	assert.Equal(t, map[string]string{models.FieldEmail: "a@b.com"}, res.ExtractedInfo)
	assert.NotContains(t, res.State.CapturedData, models.FieldPhone)
}
