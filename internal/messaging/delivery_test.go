package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu     sync.Mutex
	bodies []string
	err    error
	onSend func(n int)
}

func (s *recordingSender) SendMessage(ctx context.Context, to, body string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.bodies = append(s.bodies, body)
	if s.onSend != nil {
		s.onSend(len(s.bodies))
	}
	return nil
}

type validity struct {
	mu    sync.Mutex
	valid bool
}

func (v *validity) IsResponseValid(channelID, responseID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.valid
}

func (v *validity) set(b bool) {
	v.mu.Lock()
	v.valid = b
	v.mu.Unlock()
}

type receiptLog struct {
	mu       sync.Mutex
	receipts []models.Receipt
}

func (r *receiptLog) AddReceipt(rc models.Receipt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.receipts = append(r.receipts, rc)
	return nil
}

func threeChunks() []Chunk {
	return []Chunk{
		{Text: "one", Index: 0, Total: 3, DelayMs: 10, ResponseID: "r1"},
		{Text: "two", Index: 1, Total: 3, DelayMs: 10, ResponseID: "r1"},
		{Text: "three", Index: 2, Total: 3, DelayMs: 10, ResponseID: "r1"},
	}
}

func newTestDeliverer(v ResponseValidator, opts ...DelivererOption) (*Deliverer, *[]time.Duration) {
	var slept []time.Duration
	pace := WithPacing(func(ctx context.Context, dur time.Duration) error {
		slept = append(slept, dur)
		return ctx.Err()
	})
	return NewDeliverer(v, append(opts, pace)...), &slept
}

func TestDeliver_SendsAllChunksInOrder(t *testing.T) {
	sender := &recordingSender{}
	receipts := &receiptLog{}
	d, slept := newTestDeliverer(&validity{valid: true}, WithSender(models.ChannelSMS, sender), WithReceiptRecorder(receipts))

	n, err := d.Deliver(context.Background(), Delivery{Channel: models.ChannelSMS, ChannelID: "sms:1", To: "+1", Chunks: threeChunks()})
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"one", "two", "three"}, sender.bodies)
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}, *slept)
	require.Len(t, receipts.receipts, 3)
	assert.Equal(t, 2, receipts.receipts[2].ChunkIndex)
	assert.Equal(t, models.MessageStatusSent, receipts.receipts[2].Status)
}

func TestDeliver_StopsWhenSuperseded(t *testing.T) {
	v := &validity{valid: true}
	sender := &recordingSender{}
	sender.onSend = func(n int) {
		if n == 1 {
			v.set(false)
		}
	}
	d, _ := newTestDeliverer(v, WithSender(models.ChannelChat, sender))

	n, err := d.Deliver(context.Background(), Delivery{Channel: models.ChannelChat, ChannelID: "c1", To: "u", Chunks: threeChunks()})
	assert.ErrorIs(t, err, ErrSuperseded)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"one"}, sender.bodies)
}

func TestDeliver_FirstChunkIgnoresValidity(t *testing.T) {
	sender := &recordingSender{}
	d, _ := newTestDeliverer(&validity{valid: false}, WithSender(models.ChannelChat, sender))

	n, err := d.Deliver(context.Background(), Delivery{Channel: models.ChannelChat, ChannelID: "c1", To: "u", Chunks: threeChunks()[:1]})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDeliver_NoSender(t *testing.T) {
	d, _ := newTestDeliverer(nil)
	_, err := d.Deliver(context.Background(), Delivery{Channel: models.ChannelEmail, Chunks: threeChunks()})
	assert.ErrorIs(t, err, ErrNoSender)
	assert.False(t, d.CanDeliver(models.ChannelEmail))

	d.Register(models.ChannelEmail, &recordingSender{})
	assert.True(t, d.CanDeliver(models.ChannelEmail))
}

func TestDeliver_SendFailureRecordsFailedReceipt(t *testing.T) {
	sender := &recordingSender{err: errors.New("carrier down")}
	receipts := &receiptLog{}
	d, _ := newTestDeliverer(nil, WithSender(models.ChannelSMS, sender), WithReceiptRecorder(receipts))

	n, err := d.Deliver(context.Background(), Delivery{Channel: models.ChannelSMS, To: "+1", Chunks: threeChunks()})
	require.Error(t, err)
	assert.Equal(t, 0, n)
	require.Len(t, receipts.receipts, 1)
	assert.Equal(t, models.MessageStatusFailed, receipts.receipts[0].Status)
}

func TestDeliver_ContextCancelled(t *testing.T) {
	sender := &recordingSender{}
	d := NewDeliverer(nil, WithSender(models.ChannelChat, sender))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	chunks := []Chunk{{Text: "late", Total: 1, DelayMs: 5000}}
	n, err := d.Deliver(ctx, Delivery{Channel: models.ChannelChat, Chunks: chunks})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Empty(t, sender.bodies)
}

func TestSleepCtx(t *testing.T) {
	assert.NoError(t, sleepCtx(context.Background(), 0))
	assert.NoError(t, sleepCtx(context.Background(), time.Millisecond))
}
