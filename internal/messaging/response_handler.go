package messaging

import (
	"context"
	"log/slog"
	"sync"

	"github.com/BTreeMap/LeadPipe/internal/models"
)

// FallbackMessage is sent to the user when a turn fails. Raw errors are never shown.
const FallbackMessage = "Sorry, something went wrong on our side. Could you send that again in a moment?"

// InboundHandler processes one inbound message end to end, including reply delivery.
type InboundHandler interface {
	HandleInbound(ctx context.Context, msg models.InboundMessage) error
}

// InboundHandlerFunc adapts a function to InboundHandler.
type InboundHandlerFunc func(ctx context.Context, msg models.InboundMessage) error

// HandleInbound calls f.
func (f InboundHandlerFunc) HandleInbound(ctx context.Context, msg models.InboundMessage) error {
	return f(ctx, msg)
}

// ResponseHandler pumps a transport's inbound messages into an InboundHandler and its
// receipts into a ReceiptRecorder.
type ResponseHandler struct {
	svc      Service
	handler  InboundHandler
	receipts ReceiptRecorder
	wg       sync.WaitGroup
}

// NewResponseHandler creates a ResponseHandler. receipts may be nil.
func NewResponseHandler(svc Service, handler InboundHandler, receipts ReceiptRecorder) *ResponseHandler {
	return &ResponseHandler{svc: svc, handler: handler, receipts: receipts}
}

// Start begins the processing loops. Each inbound message is handled in its own
// goroutine so a newer message can interrupt delivery of an older reply.
func (rh *ResponseHandler) Start(ctx context.Context) {
	slog.Info("ResponseHandler.Start: processing inbound messages", "channel", rh.svc.Channel())

	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case msg, ok := <-rh.svc.Inbound():
				if !ok {
					slog.Debug("ResponseHandler: inbound channel closed", "channel", rh.svc.Channel())
					return
				}
				rh.wg.Add(1)
				go func() {
					defer rh.wg.Done()
					rh.ProcessInbound(ctx, msg)
				}()
			case <-ctx.Done():
				return
			}
		}
	}()

	if rh.receipts == nil {
		return
	}
	rh.wg.Add(1)
	go func() {
		defer rh.wg.Done()
		for {
			select {
			case r, ok := <-rh.svc.Receipts():
				if !ok {
					return
				}
				if err := rh.receipts.AddReceipt(r); err != nil {
					slog.Warn("ResponseHandler: failed to store receipt", "error", err, "to", r.To)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Wait blocks until the loops and in-flight messages are done.
func (rh *ResponseHandler) Wait() {
	rh.wg.Wait()
}

// ProcessInbound runs the handler and sends FallbackMessage if it fails.
func (rh *ResponseHandler) ProcessInbound(ctx context.Context, msg models.InboundMessage) {
	err := rh.handler.HandleInbound(ctx, msg)
	if err == nil {
		return
	}
	slog.Error("ResponseHandler.ProcessInbound: turn failed", "error", err, "channelID", msg.ChannelID, "messageID", msg.MessageID)
	if msg.From == "" || ctx.Err() != nil {
		return
	}
	if sendErr := rh.svc.SendMessage(ctx, msg.From, FallbackMessage); sendErr != nil {
		slog.Error("ResponseHandler.ProcessInbound: failed to send fallback", "error", sendErr, "channelID", msg.ChannelID)
	}
}
