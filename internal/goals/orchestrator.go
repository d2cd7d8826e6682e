// Package goals implements the goal orchestration state machine: eligibility and
// ordering of catalog goals, field capture, completion, decline, fast-tracking toward
// the primary goal, recommendations for the reply generator and completion triggers.
package goals

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/events"
	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/scheduling"
)

// TurnRequest is the input of one orchestration pass.
type TurnRequest struct {
	Message   string
	MessageID string
	ChannelID string
	UserID    string
	TenantID  string
	Config    *models.GoalConfiguration
	History   []models.HistoryMessage
	Channel   models.ChannelType

	// PriorState, when set, is used instead of loading the stored state.
	PriorState *models.ChannelWorkflowState
	// CountIncremented tells the orchestrator the caller already bumped MessageCount.
	CountIncremented bool
}

// Orchestrator runs goal orchestration passes against a state store.
type Orchestrator struct {
	states      flow.StateManager
	extractor   extract.Extractor
	validator   *extract.Validator
	publisher   events.Publisher
	now         func() time.Time
	slotHorizon int
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithValidator replaces the default field validator.
func WithValidator(v *extract.Validator) Option {
	return func(o *Orchestrator) {
		if v != nil {
			o.validator = v
		}
	}
}

// WithPublisher sets the event publisher. Without one, events are only logged.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) {
		if p != nil {
			o.publisher = p
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// WithSlotHorizon sets how many days ahead slot offers are searched.
func WithSlotHorizon(days int) Option {
	return func(o *Orchestrator) {
		if days > 0 {
			o.slotHorizon = days
		}
	}
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(states flow.StateManager, extractor extract.Extractor, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		states:      states,
		extractor:   extractor,
		validator:   extract.DefaultValidator(),
		publisher:   events.LogPublisher{},
		now:         time.Now,
		slotHorizon: scheduling.DefaultHorizonDays,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// pass holds the working values of one OrchestrateGoals call. The state is owned
// exclusively by the pass between the load at the start and the save at the end.
type pass struct {
	o         *Orchestrator
	req       TurnRequest
	cfg       *models.GoalConfiguration
	sig       *Signals
	st        models.ChannelWorkflowState
	res       *models.OrchestrationResult
	now       time.Time
	extracted map[string]string
	pending   []events.Event
}

// OrchestrateGoals runs one pass of the goal state machine for an inbound message.
// The state is loaded once and saved once; a save failure is returned. Events are
// published after the save and publish failures are only logged.
func (o *Orchestrator) OrchestrateGoals(ctx context.Context, req TurnRequest) (*models.OrchestrationResult, error) {
	cfg := req.Config
	if cfg == nil {
		cfg = &models.GoalConfiguration{}
	}
	p := &pass{
		o:         o,
		req:       req,
		cfg:       cfg,
		sig:       CompileSignals(cfg.Signals),
		res:       models.NewOrchestrationResult(),
		now:       o.now(),
		extracted: make(map[string]string),
	}

	p.load(ctx)
	p.sanitize()
	initialActive := slices.Clone(p.st.ActiveGoals)

	if p.correct() {
		slog.Info("Orchestrator.OrchestrateGoals: field correction", "channelID", req.ChannelID, "field", p.res.Correction.Field)
	} else {
		eligible := FilterEligible(cfg.Goals, &p.st, req.Message, req.Channel)
		p.extract(ctx, eligible)
		p.detectDecline()
		p.complete(eligible)
		if !p.fastTrack() {
			p.activate(eligible)
		}
		p.recommend()
		p.offerSlots()
		p.checkCompletionTriggers()
	}

	for _, id := range p.st.ActiveGoals {
		if !slices.Contains(initialActive, id) {
			p.res.StateUpdates.NewlyActivated = append(p.res.StateUpdates.NewlyActivated, id)
		}
	}
	p.res.ActiveGoals = append(p.res.ActiveGoals, p.st.ActiveGoals...)
	p.res.CompletedGoals = append(p.res.CompletedGoals, p.st.CompletedGoals...)

	p.st.LastUpdated = p.now
	if err := o.states.Save(ctx, req.ChannelID, p.st); err != nil {
		return nil, fmt.Errorf("save workflow state for channel %s: %w", req.ChannelID, err)
	}
	events.Dispatch(ctx, o.publisher, p.pending)

	p.res.State = p.st
	slog.Debug("Orchestrator.OrchestrateGoals: done",
		"channelID", req.ChannelID,
		"messageCount", p.st.MessageCount,
		"active", p.res.ActiveGoals,
		"newlyCompleted", p.res.StateUpdates.NewlyCompleted,
		"declined", p.res.StateUpdates.Declined,
		"intents", p.res.TriggeredIntents,
		"fastTracked", p.res.FastTracked)
	return p.res, nil
}

func (p *pass) load(ctx context.Context) {
	if p.req.PriorState != nil {
		p.st = p.req.PriorState.Clone()
		p.st.EnsureInitialized()
	} else {
		p.st = p.o.states.Load(ctx, p.req.ChannelID)
	}
	if p.st.ChannelID == "" {
		p.st.ChannelID = p.req.ChannelID
	}
	if p.req.TenantID != "" {
		p.st.TenantID = p.req.TenantID
	}
	if p.req.UserID != "" {
		p.st.UserID = p.req.UserID
	}
	if !p.req.CountIncremented {
		p.st.MessageCount++
	}
}

// sanitize maps stored goal ids onto catalog ids and drops ids the catalog no
// longer knows. A suffixed id such as collect_email_1712000000 keeps its completion
// under collect_email.
func (p *pass) sanitize() {
	known := func(list []string) []string {
		out := make([]string, 0, len(list))
		for _, id := range list {
			resolved, ok := p.cfg.ResolveGoalID(id)
			if !ok {
				slog.Warn("Orchestrator.sanitize: dropping unknown goal", "channelID", p.req.ChannelID, "goalID", id)
				continue
			}
			if resolved != id {
				slog.Debug("Orchestrator.sanitize: resolved stored goal id", "channelID", p.req.ChannelID, "goalID", id, "catalogID", resolved)
			}
			if !slices.Contains(out, resolved) {
				out = append(out, resolved)
			}
		}
		return out
	}
	p.st.CompletedGoals = known(p.st.CompletedGoals)
	p.st.ActiveGoals = slices.DeleteFunc(known(p.st.ActiveGoals), p.st.IsCompleted)
	p.st.FastTrackGoals = known(p.st.FastTrackGoals)
	for id, n := range p.st.AttemptCounts {
		resolved, ok := p.cfg.ResolveGoalID(id)
		if ok && resolved == id {
			continue
		}
		delete(p.st.AttemptCounts, id)
		if ok && p.st.AttemptCounts[resolved] < n {
			p.st.AttemptCounts[resolved] = n
		}
	}
}

// correct handles "that email was wrong": the field is cleared and every completed
// goal owning it is reopened. It reports whether the pass should stop here.
func (p *pass) correct() bool {
	field, ok := p.sig.DetectCorrection(p.req.Message, p.st.CapturedData)
	if !ok {
		return false
	}
	old, _ := p.st.ClearField(field)
	corr := &models.FieldCorrection{Field: field, OldValue: old.Value, GoalIDs: []string{}}
	for _, id := range p.cfg.GoalsOwningField(field) {
		if p.st.MarkIncomplete(id) || p.st.IsActive(id) {
			corr.GoalIDs = append(corr.GoalIDs, id)
		}
		// a corrected goal completes again with new data and may fire again
		prefix := emittedKey(id, "")
		p.st.EmittedEvents = slices.DeleteFunc(p.st.EmittedEvents, func(k string) bool { return strings.HasPrefix(k, prefix) })
	}
	if field == models.FieldEmail || field == models.FieldPhone {
		p.st.EmittedEvents = slices.DeleteFunc(p.st.EmittedEvents, func(k string) bool { return k == models.EventContactInfoCaptured })
	}
	p.res.Correction = corr
	return true
}

// collects reports whether g captures fields from messages. Untyped goals with
// fields are treated as data collection.
func collects(g models.GoalDefinition) bool {
	if g.Type == "" {
		return len(g.DataToCapture.Fields) > 0
	}
	return g.Type.CollectsData()
}

// extract runs one extractor call over the missing fields of active and eligible
// collecting goals and stores every candidate that validates.
func (p *pass) extract(ctx context.Context, eligible []models.GoalDefinition) {
	if p.o.extractor == nil || strings.TrimSpace(p.req.Message) == "" {
		return
	}
	var fields []models.FieldDescriptor
	seen := make(map[string]bool)
	for _, g := range p.targets(eligible) {
		if !collects(g) {
			continue
		}
		for _, fd := range g.DataToCapture.Fields {
			if fd.Name == "" || seen[fd.Name] || p.st.HasValidField(fd.Name) {
				continue
			}
			seen[fd.Name] = true
			fields = append(fields, fd)
		}
	}
	if len(fields) == 0 {
		return
	}

	candidates, err := p.o.extractor.ExtractCandidates(ctx, p.req.Message, fields)
	if err != nil {
		slog.Warn("Orchestrator.extract: extractor failed, continuing without candidates", "channelID", p.req.ChannelID, "error", err)
		return
	}
	for _, c := range candidates {
		if _, done := p.extracted[c.Field]; done {
			continue
		}
		idx := slices.IndexFunc(fields, func(fd models.FieldDescriptor) bool { return fd.Name == c.Field })
		if idx < 0 {
			continue
		}
		r := p.o.validator.ValidateField(fields[idx], c.Value)
		if !r.Valid {
			slog.Debug("Orchestrator.extract: rejected candidate", "channelID", p.req.ChannelID, "field", c.Field)
			continue
		}
		value := r.Normalized
		if prev, ok := p.st.CapturedData[c.Field]; ok && !prev.Validated && !r.Specific && c.Field == models.FieldPreferredTime {
			value = mergePreference(prev.Value, value)
		}
		p.st.CaptureField(c.Field, value, r.Specific, p.now)
		p.extracted[c.Field] = value
		p.res.ExtractedInfo[c.Field] = value
	}
}

// mergePreference keeps the day band of an earlier vague time when the new one
// ("later than 8") has none.
func mergePreference(prev, next string) string {
	if scheduling.BandOf(next) != scheduling.BandAny || scheduling.BandOf(prev) == scheduling.BandAny {
		return next
	}
	return string(scheduling.BandOf(prev)) + ", " + next
}

// targets returns the active goals followed by eligible goals not already active.
func (p *pass) targets(eligible []models.GoalDefinition) []models.GoalDefinition {
	var out []models.GoalDefinition
	for _, id := range p.st.ActiveGoals {
		if g, ok := p.cfg.Goal(id); ok {
			out = append(out, g)
		}
	}
	for _, g := range eligible {
		if !p.st.IsActive(g.ID) {
			out = append(out, g)
		}
	}
	return out
}

// detectDecline declines the first active goal. A message that yielded data is
// never read as a decline.
func (p *pass) detectDecline() {
	if len(p.extracted) > 0 || len(p.st.ActiveGoals) == 0 || !p.sig.IsDecline(p.req.Message) {
		return
	}
	id := p.st.ActiveGoals[0]
	if p.st.Decline(id) {
		p.res.StateUpdates.Declined = append(p.res.StateUpdates.Declined, id)
		slog.Info("Orchestrator.detectDecline: goal declined", "channelID", p.req.ChannelID, "goalID", id)
	}
}

// complete moves every active or eligible goal whose required fields are all valid
// into CompletedGoals and queues its completion events.
func (p *pass) complete(eligible []models.GoalDefinition) {
	for _, g := range p.targets(eligible) {
		if p.st.IsCompleted(g.ID) || p.st.IsDeclined(g.ID) || !p.requiredFieldsValid(g) {
			continue
		}
		if !p.st.Complete(g.ID) {
			continue
		}
		p.res.StateUpdates.NewlyCompleted = append(p.res.StateUpdates.NewlyCompleted, g.ID)
		p.fireOnComplete(g)
	}

	if p.st.HasValidField(models.FieldEmail) && p.st.HasValidField(models.FieldPhone) &&
		p.st.RecordEmitted(models.EventContactInfoCaptured) {
		payload := map[string]any{
			models.FieldEmail: p.st.CapturedData[models.FieldEmail].Value,
			models.FieldPhone: p.st.CapturedData[models.FieldPhone].Value,
		}
		if v, ok := p.st.CapturedData[models.FieldName]; ok {
			payload[models.FieldName] = v.Value
		}
		p.emit(models.EventContactInfoCaptured, "", payload)
	}
}

func (p *pass) requiredFieldsValid(g models.GoalDefinition) bool {
	required := g.RequiredFields()
	if len(required) == 0 {
		return false
	}
	for _, fd := range required {
		if !p.st.HasValidField(fd.Name) {
			return false
		}
	}
	return true
}

func (p *pass) missingFields(g models.GoalDefinition) []string {
	var missing []string
	for _, fd := range g.RequiredFields() {
		if !p.st.HasValidField(fd.Name) {
			missing = append(missing, fd.Name)
		}
	}
	return missing
}

// fireOnComplete queues a goal_completed event and every onComplete action of g,
// each at most once per channel.
func (p *pass) fireOnComplete(g models.GoalDefinition) {
	captured := make(map[string]any)
	for _, fd := range g.DataToCapture.Fields {
		if v, ok := p.st.CapturedData[fd.Name]; ok {
			captured[fd.Name] = v.Value
		}
	}
	if p.st.RecordEmitted(emittedKey(g.ID, models.EventGoalCompleted)) {
		p.emit(models.EventGoalCompleted, g.ID, map[string]any{"goalName": g.Name, "capturedData": captured})
	}
	for _, action := range g.Actions.OnComplete {
		name := action.EventName
		if name == "" {
			name = models.EventGoalCompleted
		}
		if !p.st.RecordEmitted(emittedKey(g.ID, name)) {
			continue
		}
		payload := make(map[string]any, len(action.Payload)+2)
		for k, v := range action.Payload {
			payload[k] = v
		}
		payload["actionType"] = action.Type
		payload["capturedData"] = captured
		p.emit(name, g.ID, payload)
	}
}

func emittedKey(goalID, event string) string {
	return "goal:" + goalID + ":" + event
}

func (p *pass) emit(name, goalID string, payload map[string]any) {
	p.pending = append(p.pending, events.New(name, p.st.TenantID, p.st.ChannelID, goalID, payload))
}

// activate adds the constrained, ordered eligible goals to the active set.
func (p *pass) activate(eligible []models.GoalDefinition) {
	var open []models.GoalDefinition
	for _, g := range eligible {
		if !p.st.IsCompleted(g.ID) && !p.st.IsDeclined(g.ID) {
			open = append(open, g)
		}
	}
	for _, g := range ApplyConstraints(SortByOrderAndImportance(open), p.cfg.GlobalSettings, &p.st) {
		p.st.Activate(g.ID)
	}
}
