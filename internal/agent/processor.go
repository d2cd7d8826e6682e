// Package agent runs one conversational turn end to end: deduplicate the inbound message,
// roll back an interrupted response, analyze and orchestrate, generate the reply and
// deliver it in chunks.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/goals"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/BTreeMap/LeadPipe/internal/util"
)

// ErrDuplicateMessage is returned for an inbound message id that was already processed.
var ErrDuplicateMessage = errors.New("duplicate inbound message")

// Orchestrator runs one goal orchestration pass.
type Orchestrator interface {
	OrchestrateGoals(ctx context.Context, req goals.TurnRequest) (*models.OrchestrationResult, error)
}

// Analyzer reads engagement signals from a message.
type Analyzer interface {
	AnalyzeMessage(ctx context.Context, messageID, message string, history []models.HistoryMessage) (models.MessageAnalysis, error)
}

// ReplyGenerator writes the agent's reply for a turn.
type ReplyGenerator interface {
	GenerateReply(ctx context.Context, req genai.ReplyRequest) (string, error)
}

// ReplyFunc adapts a function to ReplyGenerator.
type ReplyFunc func(ctx context.Context, req genai.ReplyRequest) (string, error)

// GenerateReply calls f.
func (f ReplyFunc) GenerateReply(ctx context.Context, req genai.ReplyRequest) (string, error) {
	return f(ctx, req)
}

// Outcome is the result of one processed turn.
type Outcome struct {
	MessageID  string                      `json:"messageId"`
	ResponseID string                      `json:"responseId"`
	Reply      string                      `json:"reply"`
	Chunks     []messaging.Chunk           `json:"chunks"`
	Delivered  int                         `json:"delivered"`
	Superseded bool                        `json:"superseded"`
	Result     *models.OrchestrationResult `json:"result"`

	message string // user text the reply answers, including interrupted messages
}

type inflightTurn struct {
	responseID string
	message    string
}

// TurnProcessor ties the conversation pipeline together.
type TurnProcessor struct {
	catalogs     catalog.Source
	states       flow.StateManager
	orchestrator Orchestrator
	replies      ReplyGenerator
	tracker      *flow.InterruptionTracker
	deliverer    *messaging.Deliverer

	analyzer Analyzer
	dedup    store.DedupRepo
	history  *History
	now      func() time.Time

	locks    *channelLocks
	mu       sync.Mutex
	inflight map[string]inflightTurn
}

// Option configures a TurnProcessor.
type Option func(*TurnProcessor)

// WithAnalyzer enables per-message engagement analysis.
func WithAnalyzer(a Analyzer) Option {
	return func(p *TurnProcessor) { p.analyzer = a }
}

// WithDedup drops inbound messages whose id was already recorded.
func WithDedup(d store.DedupRepo) Option {
	return func(p *TurnProcessor) { p.dedup = d }
}

// WithHistory replaces the default in-memory history.
func WithHistory(h *History) Option {
	return func(p *TurnProcessor) { p.history = h }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(p *TurnProcessor) { p.now = now }
}

// NewTurnProcessor creates a TurnProcessor.
func NewTurnProcessor(catalogs catalog.Source, states flow.StateManager, orch Orchestrator, replies ReplyGenerator,
	tracker *flow.InterruptionTracker, deliverer *messaging.Deliverer, opts ...Option) *TurnProcessor {
	p := &TurnProcessor{
		catalogs:     catalogs,
		states:       states,
		orchestrator: orch,
		replies:      replies,
		tracker:      tracker,
		deliverer:    deliverer,
		history:      NewHistory(DefaultHistoryLimit),
		now:          time.Now,
		locks:        newChannelLocks(),
		inflight:     make(map[string]inflightTurn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// History returns the conversation history kept by the processor.
func (p *TurnProcessor) History() *History { return p.history }

// HandleInbound processes msg and discards the outcome. Duplicates and superseded
// responses are not errors.
func (p *TurnProcessor) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	_, err := p.Process(ctx, msg)
	if errors.Is(err, ErrDuplicateMessage) {
		return nil
	}
	return err
}

// Process runs one turn. When no sender is registered for the channel type the chunks
// are returned undelivered for the caller to render.
func (p *TurnProcessor) Process(ctx context.Context, msg models.InboundMessage) (*Outcome, error) {
	start := p.now()
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid inbound message: %w", err)
	}
	if msg.MessageID == "" {
		msg.MessageID = util.GenerateMessageID()
	}
	channel := string(msg.Channel)

	if p.dedup != nil {
		isNew, err := p.dedup.RecordInbound(msg.MessageID, msg.ChannelID)
		if err != nil {
			slog.Warn("TurnProcessor.Process: dedup check failed, processing anyway", "error", err, "messageID", msg.MessageID)
		} else if !isNew {
			slog.Info("TurnProcessor.Process: duplicate message dropped", "messageID", msg.MessageID, "channelID", msg.ChannelID)
			metrics.ObserveTurn(channel, metrics.OutcomeDuplicate, 0)
			return nil, ErrDuplicateMessage
		}
	}

	cfg, err := p.catalogs.Get(ctx, msg.TenantID, msg.PersonaID)
	if err != nil {
		metrics.ObserveTurn(channel, metrics.OutcomeError, p.now().Sub(start))
		return nil, fmt.Errorf("load goal catalog: %w", err)
	}

	out, snap, err := p.prepare(ctx, msg, cfg)
	if err != nil {
		metrics.ObserveTurn(channel, metrics.OutcomeError, p.now().Sub(start))
		return nil, err
	}

	if err := p.deliver(ctx, msg, out); err != nil {
		if errors.Is(err, messaging.ErrSuperseded) {
			metrics.ObserveTurn(channel, metrics.OutcomeSuperseded, p.now().Sub(start))
			return out, nil
		}
		p.abandon(ctx, msg.ChannelID, snap)
		metrics.ObserveTurn(channel, metrics.OutcomeError, p.now().Sub(start))
		return out, err
	}

	if p.dedup != nil {
		if err := p.dedup.MarkProcessed(msg.MessageID); err != nil {
			slog.Warn("TurnProcessor.Process: failed to mark message processed", "error", err, "messageID", msg.MessageID)
		}
	}
	metrics.ObserveTurn(channel, metrics.OutcomeReplied, p.now().Sub(start))
	metrics.GoalsCompleted(msg.TenantID, len(out.Result.StateUpdates.NewlyCompleted))
	return out, nil
}

// prepare runs the serialized part of a turn: rollback, tracking, analysis,
// orchestration and reply generation.
func (p *TurnProcessor) prepare(ctx context.Context, msg models.InboundMessage, cfg *models.GoalConfiguration) (*Outcome, models.StateSnapshot, error) {
	unlock := p.locks.lock(msg.ChannelID)
	defer unlock()

	text := msg.Body
	if snap, ok := p.tracker.Snapshot(msg.ChannelID); ok {
		if _, err := p.states.Rollback(ctx, msg.ChannelID, snap); err != nil {
			return nil, models.StateSnapshot{}, fmt.Errorf("roll back interrupted response %s: %w", snap.ResponseID, err)
		}
		metrics.Interrupted()
		if prev, ok := p.takeInflight(msg.ChannelID, snap.ResponseID); ok {
			text = prev + "\n" + text
		}
		slog.Info("TurnProcessor.prepare: interrupted response rolled back", "channelID", msg.ChannelID, "responseID", snap.ResponseID)
	}

	state := p.states.Load(ctx, msg.ChannelID)
	responseID := util.GenerateResponseID()
	snap := state.Snapshot(responseID, p.now())
	p.tracker.StartTracking(msg.ChannelID, responseID, snap)
	p.setInflight(msg.ChannelID, inflightTurn{responseID: responseID, message: text})

	history := p.history.Get(msg.ChannelID)
	if p.analyzer != nil {
		p.analyze(ctx, msg, text, history)
	}

	result, err := p.orchestrator.OrchestrateGoals(ctx, goals.TurnRequest{
		Message:   text,
		MessageID: msg.MessageID,
		ChannelID: msg.ChannelID,
		UserID:    msg.UserID,
		TenantID:  msg.TenantID,
		Config:    cfg,
		History:   history,
		Channel:   msg.Channel,
	})
	if err != nil {
		p.release(msg.ChannelID, responseID)
		return nil, snap, fmt.Errorf("orchestrate goals: %w", err)
	}

	reply, err := p.replies.GenerateReply(ctx, genai.ReplyRequest{
		Persona: cfg.Persona,
		Message: text,
		History: history,
		Result:  result,
		Aggs:    result.State.Aggregates,
	})
	if err == nil && strings.TrimSpace(reply) == "" {
		err = errors.New("empty reply")
	}
	if err != nil {
		p.rollbackLocked(ctx, msg.ChannelID, snap)
		return nil, snap, fmt.Errorf("generate reply: %w", err)
	}

	return &Outcome{
		MessageID:  msg.MessageID,
		ResponseID: responseID,
		Reply:      reply,
		Chunks:     messaging.Split(reply, messaging.RuleFor(msg.Channel), responseID, msg.MessageID),
		Result:     result,
		message:    text,
	}, snap, nil
}

func (p *TurnProcessor) analyze(ctx context.Context, msg models.InboundMessage, text string, history []models.HistoryMessage) {
	analysis, err := p.analyzer.AnalyzeMessage(ctx, msg.MessageID, text, history)
	if err != nil {
		slog.Warn("TurnProcessor.analyze: analysis failed, aggregates unchanged", "error", err, "channelID", msg.ChannelID)
		return
	}
	if analysis.Timestamp.IsZero() {
		analysis.Timestamp = p.now()
	}
	if _, err := p.states.UpdateConversationAggregates(ctx, msg.ChannelID, analysis); err != nil {
		slog.Warn("TurnProcessor.analyze: failed to store aggregates", "error", err, "channelID", msg.ChannelID)
	}
}

// deliver sends the chunks and closes the turn when they all went out.
func (p *TurnProcessor) deliver(ctx context.Context, msg models.InboundMessage, out *Outcome) error {
	if p.deliverer == nil || !p.deliverer.CanDeliver(msg.Channel) {
		out.Delivered = len(out.Chunks)
		p.complete(msg, out)
		return nil
	}
	sent, err := p.deliverer.Deliver(ctx, messaging.Delivery{
		Channel:   msg.Channel,
		ChannelID: msg.ChannelID,
		To:        msg.From,
		Chunks:    out.Chunks,
	})
	out.Delivered = sent
	metrics.ChunksSent(string(msg.Channel), sent)
	if errors.Is(err, messaging.ErrSuperseded) {
		out.Superseded = true
		return err
	}
	if err != nil {
		return fmt.Errorf("deliver reply: %w", err)
	}
	p.complete(msg, out)
	return nil
}

// complete clears tracking if this response still owns the channel and records the exchange.
func (p *TurnProcessor) complete(msg models.InboundMessage, out *Outcome) {
	if !p.release(msg.ChannelID, out.ResponseID) {
		return
	}
	p.history.Append(msg.ChannelID,
		models.HistoryMessage{Role: "user", Content: out.message},
		models.HistoryMessage{Role: "assistant", Content: out.Reply},
	)
}

// abandon rolls back a turn whose reply could not be delivered.
func (p *TurnProcessor) abandon(ctx context.Context, channelID string, snap models.StateSnapshot) {
	unlock := p.locks.lock(channelID)
	defer unlock()
	if !p.tracker.IsResponseValid(channelID, snap.ResponseID) {
		return
	}
	p.rollbackLocked(ctx, channelID, snap)
}

// rollbackLocked restores snap and stops tracking. The channel lock must be held.
func (p *TurnProcessor) rollbackLocked(ctx context.Context, channelID string, snap models.StateSnapshot) {
	if _, err := p.states.Rollback(ctx, channelID, snap); err != nil {
		slog.Error("TurnProcessor.rollback: failed to restore snapshot", "error", err, "channelID", channelID, "responseID", snap.ResponseID)
	}
	p.release(channelID, snap.ResponseID)
}

// release clears tracking and the in-flight record if responseID still owns channelID.
func (p *TurnProcessor) release(channelID, responseID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.tracker.ClearIfOwner(channelID, responseID) {
		return false
	}
	if cur, ok := p.inflight[channelID]; ok && cur.responseID == responseID {
		delete(p.inflight, channelID)
	}
	return true
}

func (p *TurnProcessor) setInflight(channelID string, t inflightTurn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight[channelID] = t
}

// takeInflight removes and returns the message of the interrupted response.
func (p *TurnProcessor) takeInflight(channelID, responseID string) (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cur, ok := p.inflight[channelID]
	if !ok || cur.responseID != responseID {
		return "", false
	}
	delete(p.inflight, channelID)
	return cur.message, true
}
