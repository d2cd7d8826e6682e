// Package api exposes the conversation runtime over HTTP: inbound chat messages, channel
// state inspection, Twilio webhooks, health and metrics.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/BTreeMap/LeadPipe/internal/agent"
	"github.com/BTreeMap/LeadPipe/internal/flow"
	"github.com/BTreeMap/LeadPipe/internal/messaging"
	"github.com/BTreeMap/LeadPipe/internal/metrics"
	"github.com/BTreeMap/LeadPipe/internal/models"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// shutdownTimeout bounds graceful shutdown of the HTTP server.
const shutdownTimeout = 10 * time.Second

// TurnProcessor runs one conversational turn.
type TurnProcessor interface {
	Process(ctx context.Context, msg models.InboundMessage) (*agent.Outcome, error)
	History() *agent.History
}

// ReceiptLister lists stored delivery receipts.
type ReceiptLister interface {
	GetReceipts() ([]models.Receipt, error)
}

// Opts holds configuration for the API server.
type Opts struct {
	Addr   string // listen address
	APIKey string // bearer token for /v1 routes; empty disables auth
}

// Option defines a function for configuring the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) {
		o.Addr = addr
	}
}

// WithAPIKey requires a bearer token on the /v1 routes.
func WithAPIKey(key string) Option {
	return func(o *Opts) {
		o.APIKey = key
	}
}

// Server serves the HTTP API.
type Server struct {
	proc     TurnProcessor
	states   flow.StateManager
	receipts ReceiptLister
	twilio   *messaging.TwilioService
	opts     Opts

	wg     sync.WaitGroup // async turns
	router chi.Router
}

// NewServer creates a Server. receipts and twilio may be nil.
func NewServer(proc TurnProcessor, states flow.StateManager, receipts ReceiptLister, twilio *messaging.TwilioService, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{
		proc:     proc,
		states:   states,
		receipts: receipts,
		twilio:   twilio,
		opts:     cfg,
	}
	s.router = s.routes()
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string { return s.opts.Addr }

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.healthHandler)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.opts.APIKey != "" {
			r.Use(AuthMiddleware(s.opts.APIKey))
		}
		r.Post("/channels/{channelID}/messages", s.postMessageHandler)
		r.Get("/channels/{channelID}/state", s.getStateHandler)
		r.Get("/channels/{channelID}/history", s.getHistoryHandler)
		if s.receipts != nil {
			r.Get("/receipts", s.receiptsHandler)
		}
	})

	if s.twilio != nil {
		r.Post("/webhooks/twilio/sms", s.twilio.WebhookHandler)
		r.Post("/webhooks/twilio/status", s.twilio.StatusHandler)
	}
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully and waits for
// asynchronous turns to finish.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr, "auth", s.opts.APIKey != "", "twilio", s.twilio != nil)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server: %w", err)
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: graceful shutdown failed", "error", err)
		return err
	}
	s.wg.Wait()
	return nil
}
