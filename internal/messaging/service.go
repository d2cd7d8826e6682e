// Package messaging delivers agent replies over chat transports: it splits a reply into
// paced chunks, sends them while the response is still current, and turns transport
// events into inbound messages for the agent.
package messaging

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// Constants for service configuration
const (
	// DefaultChannelBufferSize is the buffer size of the inbound and receipt channels.
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout bounds how long an event may block on a full channel.
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned when sending through a stopped service.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrSuperseded is returned when a newer inbound message replaced the response being delivered.
	ErrSuperseded = errors.New("response superseded by a newer message")
	// ErrNoSender is returned when no sender is registered for a channel type.
	ErrNoSender = errors.New("no sender registered for channel")
)

var phoneNumberRegex = regexp.MustCompile(`[^\d]`)

// Sender sends one message body to a transport address.
type Sender interface {
	SendMessage(ctx context.Context, to string, body string) error
}

// Service is a transport that both sends replies and produces inbound messages.
type Service interface {
	Sender

	// Channel is the channel type the service serves.
	Channel() models.ChannelType

	// ValidateAndCanonicalizeRecipient validates a transport address and returns its canonical form.
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Start begins any background processing (e.g., event handling).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channels.
	Stop() error

	// Receipts returns a channel of delivery receipts.
	Receipts() <-chan models.Receipt

	// Inbound returns a channel of messages received from users.
	Inbound() <-chan models.InboundMessage
}

// ChannelIDFor derives the conversation channel id for a transport address.
func ChannelIDFor(channel models.ChannelType, address string) string {
	return string(channel) + ":" + address
}

// Binding names the tenant and persona that conversations arriving on a transport belong to.
type Binding struct {
	TenantID  string
	PersonaID string
}

// canonicalPhone strips everything but digits and requires at least 6 of them.
func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", errors.New("recipient cannot be empty")
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < 6 {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum 6 digits required)", canonical)
	}
	return canonical, nil
}

// eventStreams holds the receipt and inbound channels shared by transport services.
type eventStreams struct {
	name     string
	mu       sync.RWMutex
	stopped  bool
	receipts chan models.Receipt
	inbound  chan models.InboundMessage
}

func newEventStreams(name string) *eventStreams {
	return &eventStreams{
		name:     name,
		receipts: make(chan models.Receipt, DefaultChannelBufferSize),
		inbound:  make(chan models.InboundMessage, DefaultChannelBufferSize),
	}
}

func (e *eventStreams) isStopped() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stopped
}

// Receipts returns the channel of delivery receipts.
func (e *eventStreams) Receipts() <-chan models.Receipt { return e.receipts }

// Inbound returns the channel of inbound messages.
func (e *eventStreams) Inbound() <-chan models.InboundMessage { return e.inbound }

// emitInbound forwards msg unless the service is stopped or the channel stays full.
func (e *eventStreams) emitInbound(msg models.InboundMessage) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		slog.Warn(e.name+".emitInbound: service stopped, dropping message", "channelID", msg.ChannelID)
		return false
	}
	if !emit(e.inbound, msg) {
		slog.Warn(e.name+".emitInbound: inbound channel blocked, dropping message", "channelID", msg.ChannelID, "timeout", DefaultChannelTimeout)
		return false
	}
	return true
}

// emitReceipt forwards r unless the service is stopped or the channel stays full.
func (e *eventStreams) emitReceipt(r models.Receipt) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.stopped {
		return false
	}
	if !emit(e.receipts, r) {
		slog.Warn(e.name+".emitReceipt: receipts channel blocked, dropping receipt", "to", r.To)
		return false
	}
	return true
}

// stop closes both channels once. Emitters hold the read lock, so no send races the close.
func (e *eventStreams) stop() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.stopped {
		return
	}
	e.stopped = true
	close(e.receipts)
	close(e.inbound)
}

// emit pushes v into ch unless the channel stays full for DefaultChannelTimeout.
func emit[T any](ch chan<- T, v T) bool {
	select {
	case ch <- v:
		return true
	case <-time.After(DefaultChannelTimeout):
		return false
	}
}
