package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

type fakeSource struct {
	*whatsapp.MockClient
	handler func(any)
	removed bool
}

func (f *fakeSource) AddEventHandler(fn func(evt any)) uint32 {
	f.handler = fn
	return 7
}

func (f *fakeSource) RemoveEventHandler(id uint32) {
	f.removed = id == 7
}

var testBinding = Binding{TenantID: "acme", PersonaID: "sam"}

func TestWhatsAppService_SendMessageCanonicalizes(t *testing.T) {
	mock := whatsapp.NewMockClient()
	svc := NewWhatsAppService(mock, testBinding)

	require.NoError(t, svc.SendMessage(context.Background(), "+1 (555) 123-4567", "hello"))
	assert.Equal(t, []string{"15551234567|hello"}, mock.Sent)

	assert.Error(t, svc.SendMessage(context.Background(), "12", "hello"))
}

func TestWhatsAppService_StartStop(t *testing.T) {
	svc := NewWhatsAppService(whatsapp.NewMockClient(), testBinding)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.Stop())
	require.NoError(t, svc.Stop())

	_, ok := <-svc.Receipts()
	assert.False(t, ok, "receipts channel should be closed")
	_, ok = <-svc.Inbound()
	assert.False(t, ok, "inbound channel should be closed")
	assert.ErrorIs(t, svc.SendMessage(context.Background(), "+15551234567", "x"), ErrServiceStopped)
}

func TestWhatsAppService_InboundMessage(t *testing.T) {
	src := &fakeSource{MockClient: whatsapp.NewMockClient()}
	svc := NewWhatsAppService(src, testBinding)
	require.NoError(t, svc.Start(context.Background()))
	require.NotNil(t, src.handler)

	text := "I'd like a quote"
	ts := time.Date(2024, 5, 5, 12, 0, 0, 0, time.UTC)
	src.handler(&events.Message{
		Info: types.MessageInfo{
			MessageSource: types.MessageSource{Sender: types.NewJID("15551234567", whatsapp.JIDSuffix)},
			ID:            "wamid-1",
			Timestamp:     ts,
		},
		Message: &waE2E.Message{Conversation: &text},
	})

	select {
	case msg := <-svc.Inbound():
		assert.Equal(t, "wamid-1", msg.MessageID)
		assert.Equal(t, "whatsapp:15551234567", msg.ChannelID)
		assert.Equal(t, "acme", msg.TenantID)
		assert.Equal(t, "sam", msg.PersonaID)
		assert.Equal(t, models.ChannelWhatsApp, msg.Channel)
		assert.Equal(t, "15551234567", msg.From)
		assert.Equal(t, text, msg.Body)
		assert.True(t, ts.Equal(msg.ReceivedAt))
	default:
		t.Fatal("expected inbound message")
	}

	require.NoError(t, svc.Stop())
	assert.True(t, src.removed)
}

func TestWhatsAppService_IgnoresOwnAndNonTextMessages(t *testing.T) {
	src := &fakeSource{MockClient: whatsapp.NewMockClient()}
	svc := NewWhatsAppService(src, testBinding)
	require.NoError(t, svc.Start(context.Background()))

	text := "echo"
	src.handler(&events.Message{
		Info:    types.MessageInfo{MessageSource: types.MessageSource{IsFromMe: true}},
		Message: &waE2E.Message{Conversation: &text},
	})
	src.handler(&events.Message{Message: &waE2E.Message{}})
	src.handler(&events.Presence{})

	select {
	case msg := <-svc.Inbound():
		t.Fatalf("unexpected inbound message %+v", msg)
	default:
	}
}

func TestWhatsAppService_Receipts(t *testing.T) {
	src := &fakeSource{MockClient: whatsapp.NewMockClient()}
	svc := NewWhatsAppService(src, testBinding)
	require.NoError(t, svc.Start(context.Background()))

	src.handler(&events.Receipt{
		MessageSource: types.MessageSource{Chat: types.NewJID("15551234567", whatsapp.JIDSuffix)},
		Type:          events.ReceiptTypeRead,
		Timestamp:     time.Unix(100, 0),
	})

	select {
	case r := <-svc.Receipts():
		assert.Equal(t, "15551234567", r.To)
		assert.Equal(t, models.MessageStatusRead, r.Status)
		assert.Equal(t, int64(100), r.Time)
	default:
		t.Fatal("expected receipt")
	}
}
