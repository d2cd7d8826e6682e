package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/catalog"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/go-chi/chi/v5"
)

// messageRequest is the body of POST /v1/channels/{channelID}/messages.
type messageRequest struct {
	MessageID string             `json:"messageId,omitempty"`
	TenantID  string             `json:"tenantId"`
	PersonaID string             `json:"personaId,omitempty"`
	UserID    string             `json:"userId,omitempty"`
	Channel   models.ChannelType `json:"channel,omitempty"`
	Body      string             `json:"body"`
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, models.Success(map[string]string{"status": "healthy"}))
}

func (s *Server) postMessageHandler(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	channelID := chi.URLParam(r, "channelID")

	var req messageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		slog.Warn("Server.postMessageHandler: failed to decode JSON", "error", err, "channelID", channelID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}

	msg := models.InboundMessage{
		MessageID: req.MessageID,
		ChannelID: channelID,
		TenantID:  req.TenantID,
		PersonaID: req.PersonaID,
		UserID:    req.UserID,
		Channel:   req.Channel,
		From:      req.UserID,
		Body:      req.Body,
	}
	if err := msg.Validate(); err != nil {
		slog.Warn("Server.postMessageHandler: invalid message", "error", err, "channelID", channelID)
		writeJSONResponse(w, http.StatusBadRequest, models.Error(err.Error()))
		return
	}

	if async, _ := strconv.ParseBool(r.URL.Query().Get("async")); async {
		s.processAsync(r.Context(), msg)
		writeJSONResponse(w, http.StatusAccepted, models.Accepted(map[string]string{"channelId": channelID}))
		return
	}

	out, err := s.proc.Process(r.Context(), msg)
	switch {
	case err == nil:
		writeJSONResponse(w, http.StatusOK, models.Success(out))
	case errors.Is(err, agent.ErrDuplicateMessage):
		writeJSONResponse(w, http.StatusOK, models.Duplicate("Message already processed"))
	case errors.Is(err, catalog.ErrCatalogNotFound):
		slog.Warn("Server.postMessageHandler: no goal catalog", "tenantID", msg.TenantID, "personaID", msg.PersonaID)
		writeJSONResponse(w, http.StatusNotFound, models.Error("Unknown tenant or persona"))
	default:
		slog.Error("Server.postMessageHandler: turn failed", "error", err, "channelID", channelID)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error(messaging.FallbackMessage))
	}
}

// processAsync runs the turn after the request returns. Its context survives the
// request but not server shutdown, which waits for it.
func (s *Server) processAsync(ctx context.Context, msg models.InboundMessage) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if _, err := s.proc.Process(context.WithoutCancel(ctx), msg); err != nil && !errors.Is(err, agent.ErrDuplicateMessage) {
			slog.Error("Server.processAsync: turn failed", "error", err, "channelID", msg.ChannelID)
		}
	}()
}

func (s *Server) getStateHandler(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	if strings.TrimSpace(channelID) == "" {
		writeJSONResponse(w, http.StatusBadRequest, models.Error(models.ErrEmptyChannelID.Error()))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(s.states.Load(r.Context(), channelID)))
}

func (s *Server) getHistoryHandler(w http.ResponseWriter, r *http.Request) {
	channelID := chi.URLParam(r, "channelID")
	writeJSONResponse(w, http.StatusOK, models.Success(s.proc.History().Get(channelID)))
}

func (s *Server) receiptsHandler(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.receipts.GetReceipts()
	if err != nil {
		slog.Error("Server.receiptsHandler: failed to list receipts", "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to list receipts"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(receipts))
}
