package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/BTreeMap/LeadPipe/internal/twilio"
)

// TwilioService implements Service for SMS conversations over Twilio.
type TwilioService struct {
	*eventStreams
	client  twilio.Sender // real Twilio client or MockClient
	binding Binding
	now     func() time.Time
}

var _ Service = (*TwilioService)(nil)

// NewTwilioService creates a TwilioService whose inbound conversations belong to binding.
func NewTwilioService(client twilio.Sender, binding Binding) *TwilioService {
	return &TwilioService{
		eventStreams: newEventStreams("TwilioService"),
		client:       client,
		binding:      binding,
		now:          time.Now,
	}
}

// Channel returns models.ChannelSMS.
func (s *TwilioService) Channel() models.ChannelType { return models.ChannelSMS }

// ValidateAndCanonicalizeRecipient reduces a phone number to its digits.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op; inbound traffic arrives through the webhook handlers.
func (s *TwilioService) Start(ctx context.Context) error {
	return nil
}

// Stop closes the event channels.
func (s *TwilioService) Stop() error {
	s.stop()
	return nil
}

// SendMessage sends one SMS.
func (s *TwilioService) SendMessage(ctx context.Context, to string, body string) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.SendMessage: invalid recipient", "error", err, "to", to)
		return err
	}
	return s.client.SendMessage(ctx, twilio.E164(canonical), body)
}

// WebhookHandler handles Twilio's inbound message webhook and emits the message on Inbound().
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || strings.TrimSpace(body) == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from_set", from != "", "body_set", body != "")
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		http.Error(w, "Invalid sender", http.StatusBadRequest)
		return
	}

	msg := models.InboundMessage{
		MessageID:  r.FormValue("MessageSid"),
		ChannelID:  ChannelIDFor(models.ChannelSMS, canonical),
		TenantID:   s.binding.TenantID,
		PersonaID:  s.binding.PersonaID,
		UserID:     canonical,
		Channel:    models.ChannelSMS,
		From:       canonical,
		Body:       body,
		ReceivedAt: s.now(),
	}
	if !s.emitInbound(msg) {
		http.Error(w, "Service unavailable", http.StatusServiceUnavailable)
		return
	}
	slog.Info("TwilioService.WebhookHandler: inbound SMS accepted", "channelID", msg.ChannelID, "messageID", msg.MessageID)

	// Replies are sent through the REST API, so answer with empty TwiML.
	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "<Response></Response>")
}

// StatusHandler handles Twilio's delivery status callback and emits a receipt.
func (s *TwilioService) StatusHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	status, ok := twilioStatus(r.FormValue("MessageStatus"))
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	to, err := s.ValidateAndCanonicalizeRecipient(r.FormValue("To"))
	if err != nil {
		http.Error(w, "Invalid recipient", http.StatusBadRequest)
		return
	}
	s.emitReceipt(models.Receipt{To: to, Status: status, Time: s.now().Unix()})
	w.WriteHeader(http.StatusNoContent)
}

func twilioStatus(v string) (models.MessageStatus, bool) {
	switch v {
	case "sent":
		return models.MessageStatusSent, true
	case "delivered":
		return models.MessageStatusDelivered, true
	case "read":
		return models.MessageStatusRead, true
	case "failed", "undelivered":
		return models.MessageStatusFailed, true
	case "canceled":
		return models.MessageStatusCancelled, true
	default:
		return "", false
	}
}
