package agent

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/extract"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/genai"
	"github.com/BTreeMap/LeadPipe/internal/goals"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)

func clock() time.Time { return fixedNow }

func intp(i int) *int { return &i }

func contactCatalog() *models.GoalConfiguration {
	return &models.GoalConfiguration{
		TenantID: "acme",
		Persona:  "You are Sam, a friendly studio assistant.",
		Goals: []models.GoalDefinition{{
			ID: "collect_email", Name: "Email", Order: intp(1), Type: models.GoalTypeDataCollection,
			DataToCapture: models.DataToCapture{Fields: models.FieldList{{Name: models.FieldEmail, Required: true}}},
		}},
	}
}

type replyLog struct {
	mu   sync.Mutex
	reqs []genai.ReplyRequest
}

func (l *replyLog) add(req genai.ReplyRequest) {
	l.mu.Lock()
	l.reqs = append(l.reqs, req)
	l.mu.Unlock()
}

func (l *replyLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.reqs))
	for _, r := range l.reqs {
		out = append(out, r.Message)
	}
	return out
}

type fixture struct {
	proc    *TurnProcessor
	states  *flow.StateStore
	tracker *flow.InterruptionTracker
	replies *replyLog
}

func newFixture(t *testing.T, reply ReplyFunc, deliverer func(*flow.InterruptionTracker) *messaging.Deliverer) *fixture {
	t.Helper()
	mem := store.NewInMemoryStore()
	states := flow.NewStateStore(mem, flow.WithClock(clock))
	tracker := flow.NewInterruptionTracker(flow.NewSimpleTimer())
	orch := goals.NewOrchestrator(states, extract.PatternExtractor{}, goals.WithClock(clock))
	log := &replyLog{}
	if reply == nil {
		reply = func(context.Context, genai.ReplyRequest) (string, error) { return "Thanks! Noted.", nil }
	}
	wrapped := ReplyFunc(func(ctx context.Context, req genai.ReplyRequest) (string, error) {
		log.add(req)
		return reply(ctx, req)
	})
	var d *messaging.Deliverer
	if deliverer != nil {
		d = deliverer(tracker)
	}
	proc := NewTurnProcessor(catalog.NewStaticSource(contactCatalog()), states, orch, wrapped, tracker, d,
		WithDedup(mem), WithClock(clock))
	return &fixture{proc: proc, states: states, tracker: tracker, replies: log}
}

func inbound(id, body string) models.InboundMessage {
	return models.InboundMessage{MessageID: id, ChannelID: "web:1", TenantID: "acme", UserID: "u1", From: "u1", Body: body}
}

func TestProcess_ReturnsChunksWithoutSender(t *testing.T) {
	f := newFixture(t, nil, nil)

	out, err := f.proc.Process(context.Background(), inbound("m1", "hi, my email is jo@example.com"))
	require.NoError(t, err)
	assert.Equal(t, "Thanks! Noted.", out.Reply)
	require.NotEmpty(t, out.Chunks)
	assert.Equal(t, len(out.Chunks), out.Delivered)
	assert.False(t, out.Superseded)
	assert.Equal(t, out.ResponseID, out.Chunks[0].ResponseID)
	assert.Equal(t, "m1", out.Chunks[0].ResponseToMessageID)
	assert.Equal(t, "jo@example.com", out.Result.ExtractedInfo[models.FieldEmail])
	assert.Equal(t, []string{"collect_email"}, out.Result.StateUpdates.NewlyCompleted)

	st := f.states.Load(context.Background(), "web:1")
	assert.Equal(t, 1, st.MessageCount)
	assert.Equal(t, 0, f.tracker.Tracking())

	hist := f.proc.History().Get("web:1")
	require.Len(t, hist, 2)
	assert.Equal(t, "user", hist[0].Role)
	assert.Equal(t, "assistant", hist[1].Role)

	f.replies.mu.Lock()
	assert.Equal(t, "You are Sam, a friendly studio assistant.", f.replies.reqs[0].Persona)
	f.replies.mu.Unlock()
}

func TestProcess_GeneratesMessageID(t *testing.T) {
	f := newFixture(t, nil, nil)
	out, err := f.proc.Process(context.Background(), inbound("", "hello"))
	require.NoError(t, err)
	assert.NotEmpty(t, out.MessageID)
}

func TestProcess_DropsDuplicates(t *testing.T) {
	f := newFixture(t, nil, nil)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, inbound("m1", "hello"))
	require.NoError(t, err)
	_, err = f.proc.Process(ctx, inbound("m1", "hello"))
	assert.ErrorIs(t, err, ErrDuplicateMessage)
	assert.NoError(t, f.proc.HandleInbound(ctx, inbound("m1", "hello")))

	assert.Equal(t, 1, f.states.Load(ctx, "web:1").MessageCount)
	assert.Len(t, f.replies.messages(), 1)
}

func TestProcess_RejectsInvalidMessages(t *testing.T) {
	f := newFixture(t, nil, nil)
	_, err := f.proc.Process(context.Background(), models.InboundMessage{ChannelID: "web:1", TenantID: "acme"})
	assert.ErrorIs(t, err, models.ErrEmptyMessageBody)
}

func TestProcess_UnknownTenant(t *testing.T) {
	f := newFixture(t, nil, nil)
	msg := inbound("m1", "hello")
	msg.TenantID = "globex"
	_, err := f.proc.Process(context.Background(), msg)
	assert.ErrorIs(t, err, catalog.ErrCatalogNotFound)
}

func TestProcess_ReplyFailureRollsBack(t *testing.T) {
	f := newFixture(t, func(context.Context, genai.ReplyRequest) (string, error) {
		return "", errors.New("model unavailable")
	}, nil)
	ctx := context.Background()

	_, err := f.proc.Process(ctx, inbound("m1", "my email is jo@example.com"))
	require.Error(t, err)

	st := f.states.Load(ctx, "web:1")
	assert.Equal(t, 0, st.MessageCount)
	assert.False(t, st.HasValidField(models.FieldEmail))
	assert.Empty(t, st.CompletedGoals)
	assert.Equal(t, 0, f.tracker.Tracking())
	assert.Empty(t, f.proc.History().Get("web:1"))
}

func TestProcess_EmptyReplyIsAnError(t *testing.T) {
	f := newFixture(t, func(context.Context, genai.ReplyRequest) (string, error) { return "  ", nil }, nil)
	_, err := f.proc.Process(context.Background(), inbound("m1", "hello"))
	assert.ErrorContains(t, err, "empty reply")
}

type chatSender struct {
	mu     sync.Mutex
	bodies []string
	onSend func(n int)
	err    error
}

func (s *chatSender) SendMessage(_ context.Context, _, body string) error {
	s.mu.Lock()
	if s.err != nil {
		s.mu.Unlock()
		return s.err
	}
	s.bodies = append(s.bodies, body)
	n := len(s.bodies)
	hook := s.onSend
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return nil
}

func (s *chatSender) sent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies...)
}

func withSender(sender messaging.Sender) func(*flow.InterruptionTracker) *messaging.Deliverer {
	return func(tracker *flow.InterruptionTracker) *messaging.Deliverer {
		return messaging.NewDeliverer(tracker, messaging.WithSender(models.ChannelChat, sender), messaging.WithPacing(messaging.NoPacing))
	}
}

func TestProcess_DeliversThroughSender(t *testing.T) {
	sender := &chatSender{}
	f := newFixture(t, nil, withSender(sender))

	out, err := f.proc.Process(context.Background(), inbound("m1", "hello"))
	require.NoError(t, err)
	assert.Equal(t, 1, out.Delivered)
	assert.Equal(t, []string{"Thanks! Noted."}, sender.sent())
	assert.Len(t, f.proc.History().Get("web:1"), 2)
}

func TestProcess_DeliveryFailureRollsBack(t *testing.T) {
	sender := &chatSender{err: errors.New("socket closed")}
	f := newFixture(t, nil, withSender(sender))
	ctx := context.Background()

	_, err := f.proc.Process(ctx, inbound("m1", "my email is jo@example.com"))
	require.Error(t, err)
	st := f.states.Load(ctx, "web:1")
	assert.Equal(t, 0, st.MessageCount)
	assert.False(t, st.HasValidField(models.FieldEmail))
	assert.Equal(t, 0, f.tracker.Tracking())
}

func TestProcess_InterruptionSupersedesAndMergesMessages(t *testing.T) {
	long := strings.Repeat("Thanks for reaching out to the studio. ", 12)
	reply := func(_ context.Context, req genai.ReplyRequest) (string, error) {
		if strings.Contains(req.Message, "\n") {
			return "Got both messages.", nil
		}
		return long, nil
	}
	sender := &chatSender{}
	f := newFixture(t, reply, withSender(sender))
	ctx := context.Background()

	second := make(chan *Outcome, 1)
	sender.onSend = func(n int) {
		if n != 1 {
			return
		}
		out, err := f.proc.Process(ctx, inbound("m2", "also, are you open on weekends?"))
		require.NoError(t, err)
		second <- out
	}

	first, err := f.proc.Process(ctx, inbound("m1", "my email is jo@example.com"))
	require.NoError(t, err)
	assert.True(t, first.Superseded)
	assert.Greater(t, len(first.Chunks), 1)
	assert.Equal(t, 1, first.Delivered)

	out := <-second
	assert.False(t, out.Superseded)
	assert.Equal(t, "Got both messages.", out.Reply)

	msgs := f.replies.messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "my email is jo@example.com\nalso, are you open on weekends?", msgs[1])

	st := f.states.Load(ctx, "web:1")
	assert.Equal(t, 1, st.MessageCount, "interrupted turn is rolled back before the merged turn")
	assert.True(t, st.HasValidField(models.FieldEmail))
	assert.Equal(t, 0, f.tracker.Tracking())

	hist := f.proc.History().Get("web:1")
	require.Len(t, hist, 2)
	assert.Equal(t, msgs[1], hist[0].Content)
	assert.Equal(t, "Got both messages.", hist[1].Content)
}

type stubAnalyzer struct {
	err error
}

func (a stubAnalyzer) AnalyzeMessage(_ context.Context, messageID, _ string, _ []models.HistoryMessage) (models.MessageAnalysis, error) {
	return models.MessageAnalysis{MessageID: messageID}, a.err
}

func TestProcess_AnalyzerFailureIsNotFatal(t *testing.T) {
	f := newFixture(t, nil, nil)
	WithAnalyzer(stubAnalyzer{err: errors.New("rate limited")})(f.proc)
	_, err := f.proc.Process(context.Background(), inbound("m1", "hello"))
	assert.NoError(t, err)
}
