// Package models defines the core data structures for LeadPipe.
//
// It includes inbound message envelopes, delivery receipts and API responses,
// which are shared across modules.
package models

import (
	"errors"
	"strings"
	"time"
)

// MaxMessageBodyLength is the largest inbound message body accepted.
const MaxMessageBodyLength = 4096

// Error variables for inbound message validation.
var (
	ErrEmptyChannelID     = errors.New("channel id cannot be empty")
	ErrEmptyTenantID      = errors.New("tenant id cannot be empty")
	ErrEmptyMessageBody   = errors.New("message body cannot be empty")
	ErrMessageBodyTooLong = errors.New("message body exceeds maximum length")
	ErrInvalidChannelType = errors.New("invalid channel type")
)

// IsValidChannelType checks if the given channel type is supported.
func IsValidChannelType(ct ChannelType) bool {
	switch ct {
	case ChannelChat, ChannelSMS, ChannelEmail, ChannelWhatsApp:
		return true
	default:
		return false
	}
}

// InboundMessage is one user message arriving on a conversation channel.
type InboundMessage struct {
	MessageID  string      `json:"messageId,omitempty"`
	ChannelID  string      `json:"channelId"`
	TenantID   string      `json:"tenantId"`
	PersonaID  string      `json:"personaId,omitempty"`
	UserID     string      `json:"userId,omitempty"`
	Channel    ChannelType `json:"channel,omitempty"`
	From       string      `json:"from,omitempty"` // transport address used for replies
	Body       string      `json:"body"`
	ReceivedAt time.Time   `json:"receivedAt,omitempty"`
}

// Validate checks the envelope and defaults the channel type to chat.
func (m *InboundMessage) Validate() error {
	if strings.TrimSpace(m.ChannelID) == "" {
		return ErrEmptyChannelID
	}
	if strings.TrimSpace(m.TenantID) == "" {
		return ErrEmptyTenantID
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrEmptyMessageBody
	}
	if len(m.Body) > MaxMessageBodyLength {
		return ErrMessageBodyTooLong
	}
	if m.Channel == "" {
		m.Channel = ChannelChat
	}
	if !IsValidChannelType(m.Channel) {
		return ErrInvalidChannelType
	}
	return nil
}

// MessageStatus represents the delivery status of a message.
type MessageStatus string

const (
	// MessageStatusSent indicates the message was sent.
	MessageStatusSent MessageStatus = "sent"
	// MessageStatusDelivered indicates the message was delivered.
	MessageStatusDelivered MessageStatus = "delivered"
	// MessageStatusRead indicates the message was read.
	MessageStatusRead MessageStatus = "read"
	// MessageStatusFailed indicates the message failed to send.
	MessageStatusFailed MessageStatus = "failed"
	// MessageStatusCancelled indicates the message was cancelled.
	MessageStatusCancelled MessageStatus = "cancelled"
)

// APIStatus represents the status of an API response.
type APIStatus string

const (
	// APIStatusOK indicates an API request completed successfully.
	APIStatusOK APIStatus = "ok"
	// APIStatusError indicates an API request failed with an error.
	APIStatusError APIStatus = "error"
	// APIStatusAccepted indicates a message was accepted for processing.
	APIStatusAccepted APIStatus = "accepted"
	// APIStatusDuplicate indicates a message had already been processed.
	APIStatusDuplicate APIStatus = "duplicate"
)

// Receipt records the delivery status of one outbound chunk.
type Receipt struct {
	To         string        `json:"to"`
	ResponseID string        `json:"responseId,omitempty"`
	ChunkIndex int           `json:"chunkIndex"`
	Status     MessageStatus `json:"status"`
	Time       int64         `json:"time"`
}

// API Response types for consistent JSON responses

// APIResponse represents a standard API response with a status and optional data.
type APIResponse struct {
	Status  string      `json:"status"`            // status of the API response
	Message string      `json:"message,omitempty"` // optional message for error responses or additional info
	Result  interface{} `json:"result,omitempty"`  // optional result data for successful responses
}

// APIResponseBuilder provides a fluent interface for building API responses.
type APIResponseBuilder struct {
	response APIResponse
}

// NewAPIResponseBuilder creates a new APIResponseBuilder instance.
func NewAPIResponseBuilder() *APIResponseBuilder {
	return &APIResponseBuilder{
		response: APIResponse{},
	}
}

// WithStatus sets the status of the API response.
func (b *APIResponseBuilder) WithStatus(status APIStatus) *APIResponseBuilder {
	b.response.Status = string(status)
	return b
}

// WithMessage sets the message of the API response.
func (b *APIResponseBuilder) WithMessage(message string) *APIResponseBuilder {
	b.response.Message = message
	return b
}

// WithResult sets the result data of the API response.
func (b *APIResponseBuilder) WithResult(result interface{}) *APIResponseBuilder {
	b.response.Result = result
	return b
}

// Build constructs and returns the final APIResponse.
func (b *APIResponseBuilder) Build() APIResponse {
	return b.response
}

// Convenience functions for common response patterns

// Success creates a successful API response with optional result data.
func Success(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithResult(result).
		Build()
}

// SuccessWithMessage creates a successful API response with a message and optional result data.
func SuccessWithMessage(message string, result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusOK).
		WithMessage(message).
		WithResult(result).
		Build()
}

// Error creates an error API response with a message.
func Error(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusError).
		WithMessage(message).
		Build()
}

// Accepted creates an accepted API response with optional result data.
func Accepted(result interface{}) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusAccepted).
		WithResult(result).
		Build()
}

// Duplicate creates a duplicate-message API response.
func Duplicate(message string) APIResponse {
	return NewAPIResponseBuilder().
		WithStatus(APIStatusDuplicate).
		WithMessage(message).
		Build()
}

// HistoryMessage is one prior turn of a conversation, oldest first.
type HistoryMessage struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}
