package messaging

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// EventSource delivers whatsmeow events to registered handlers.
type EventSource interface {
	AddEventHandler(fn func(evt any)) uint32
	RemoveEventHandler(id uint32)
}

// WhatsAppService implements Service on top of the whatsmeow client.
type WhatsAppService struct {
	*eventStreams
	client  whatsapp.Sender
	source  EventSource // nil for mock clients
	binding Binding

	mu        sync.Mutex
	handlerID uint32
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService wraps client. Inbound events are only consumed when client is also an EventSource.
func NewWhatsAppService(client whatsapp.Sender, binding Binding) *WhatsAppService {
	s := &WhatsAppService{
		eventStreams: newEventStreams("WhatsAppService"),
		client:       client,
		binding:      binding,
	}
	if src, ok := client.(EventSource); ok {
		s.source = src
	} else {
		slog.Debug("WhatsAppService created without event source (likely mock)")
	}
	return s
}

// Channel returns models.ChannelWhatsApp.
func (s *WhatsAppService) Channel() models.ChannelType { return models.ChannelWhatsApp }

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start registers the whatsmeow event handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.source == nil {
		return nil
	}
	s.mu.Lock()
	s.handlerID = s.source.AddEventHandler(s.handleEvent)
	s.mu.Unlock()
	slog.Info("WhatsAppService.Start: event handler registered")

	go func() {
		<-ctx.Done()
		s.detach()
	}()
	return nil
}

func (s *WhatsAppService) detach() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.source != nil && s.handlerID != 0 {
		s.source.RemoveEventHandler(s.handlerID)
		s.handlerID = 0
	}
}

// Stop unregisters the event handler and closes the event channels.
func (s *WhatsAppService) Stop() error {
	s.detach()
	s.stop()
	slog.Info("WhatsAppService.Stop: stopped")
	return nil
}

// SendMessage sends one WhatsApp text message.
func (s *WhatsAppService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	return s.client.SendMessage(ctx, canonical, body)
}

func (s *WhatsAppService) handleEvent(evt any) {
	switch v := evt.(type) {
	case *events.Message:
		s.handleIncomingMessage(v)
	case *events.Receipt:
		s.handleReceipt(v)
	}
}

func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}
	var text string
	switch {
	case evt.Message.GetConversation() != "":
		text = evt.Message.GetConversation()
	case evt.Message.GetExtendedTextMessage().GetText() != "":
		text = evt.Message.GetExtendedTextMessage().GetText()
	default:
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.User)
		return
	}
	from := strings.TrimPrefix(evt.Info.Sender.User, "+")
	s.emitInbound(models.InboundMessage{
		MessageID:  string(evt.Info.ID),
		ChannelID:  ChannelIDFor(models.ChannelWhatsApp, from),
		TenantID:   s.binding.TenantID,
		PersonaID:  s.binding.PersonaID,
		UserID:     from,
		Channel:    models.ChannelWhatsApp,
		From:       from,
		Body:       text,
		ReceivedAt: evt.Info.Timestamp,
	})
}

func (s *WhatsAppService) handleReceipt(evt *events.Receipt) {
	var status models.MessageStatus
	switch evt.Type {
	case events.ReceiptTypeDelivered:
		status = models.MessageStatusDelivered
	case events.ReceiptTypeRead:
		status = models.MessageStatusRead
	default:
		return
	}
	s.emitReceipt(models.Receipt{
		To:     evt.MessageSource.Chat.User,
		Status: status,
		Time:   evt.Timestamp.Unix(),
	})
}
