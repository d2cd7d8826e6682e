package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// ResponseValidator reports whether responseID is still the current response of a channel.
type ResponseValidator interface {
	IsResponseValid(channelID, responseID string) bool
}

// ReceiptRecorder persists delivery receipts.
type ReceiptRecorder interface {
	AddReceipt(r models.Receipt) error
}

// Delivery is one reply to send.
type Delivery struct {
	Channel   models.ChannelType
	ChannelID string
	To        string
	Chunks    []Chunk
}

// Deliverer sends chunked replies through the sender registered for a channel type,
// aborting once a newer message supersedes the response.
type Deliverer struct {
	mu       sync.RWMutex
	senders  map[models.ChannelType]Sender
	tracker  ResponseValidator
	receipts ReceiptRecorder
	sleep    func(ctx context.Context, d time.Duration) error
}

// DelivererOption configures a Deliverer.
type DelivererOption func(*Deliverer)

// WithReceiptRecorder records a receipt for every chunk sent or failed.
func WithReceiptRecorder(r ReceiptRecorder) DelivererOption {
	return func(d *Deliverer) { d.receipts = r }
}

// WithSender registers sender for a channel type.
func WithSender(channel models.ChannelType, sender Sender) DelivererOption {
	return func(d *Deliverer) { d.senders[channel] = sender }
}

// WithPacing replaces the function that waits out each chunk's typing delay.
func WithPacing(wait func(ctx context.Context, d time.Duration) error) DelivererOption {
	return func(d *Deliverer) {
		if wait != nil {
			d.sleep = wait
		}
	}
}

// NoPacing skips typing delays.
func NoPacing(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

// NewDeliverer creates a Deliverer gated by tracker.
func NewDeliverer(tracker ResponseValidator, opts ...DelivererOption) *Deliverer {
	d := &Deliverer{
		senders: make(map[models.ChannelType]Sender),
		tracker: tracker,
		sleep:   sleepCtx,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Register adds or replaces the sender of a channel type.
func (d *Deliverer) Register(channel models.ChannelType, sender Sender) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.senders[channel] = sender
}

// CanDeliver reports whether a sender is registered for channel.
func (d *Deliverer) CanDeliver(channel models.ChannelType) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.senders[channel]
	return ok
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Deliver sends the chunks in order, waiting each chunk's delay first. Before every
// chunk after the first it checks that the response is still current and returns
// ErrSuperseded if it is not. It returns the number of chunks sent.
func (d *Deliverer) Deliver(ctx context.Context, del Delivery) (int, error) {
	d.mu.RLock()
	sender, ok := d.senders[del.Channel]
	d.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNoSender, del.Channel)
	}

	sent := 0
	for i, c := range del.Chunks {
		if err := d.sleep(ctx, time.Duration(c.DelayMs)*time.Millisecond); err != nil {
			return sent, err
		}
		if i > 0 && d.tracker != nil && !d.tracker.IsResponseValid(del.ChannelID, c.ResponseID) {
			slog.Info("Deliverer.Deliver: response superseded, stopping", "channelID", del.ChannelID, "responseID", c.ResponseID, "sent", sent, "total", c.Total)
			return sent, ErrSuperseded
		}
		if err := sender.SendMessage(ctx, del.To, c.Text); err != nil {
			d.record(del.To, c, models.MessageStatusFailed)
			return sent, fmt.Errorf("send chunk %d/%d to %s: %w", c.Index+1, c.Total, del.To, err)
		}
		d.record(del.To, c, models.MessageStatusSent)
		sent++
	}
	slog.Debug("Deliverer.Deliver: delivered", "channelID", del.ChannelID, "chunks", sent)
	return sent, nil
}

func (d *Deliverer) record(to string, c Chunk, status models.MessageStatus) {
	if d.receipts == nil {
		return
	}
	r := models.Receipt{To: to, ResponseID: c.ResponseID, ChunkIndex: c.Index, Status: status, Time: time.Now().Unix()}
	if err := d.receipts.AddReceipt(r); err != nil {
		slog.Warn("Deliverer.record: failed to store receipt", "error", err, "responseID", c.ResponseID)
	}
}
