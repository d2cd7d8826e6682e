package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
)

// DefaultSubjectPrefix is prepended to event names to form NATS subjects.
const DefaultSubjectPrefix = "leadpipe.events."

// natsConn is the part of *nats.Conn the publisher needs.
type natsConn interface {
	Publish(subj string, data []byte) error
}

// NATSPublisher publishes events as JSON on "<prefix><event name>".
type NATSPublisher struct {
	conn   natsConn
	prefix string
	close  func()
}

// NATSOption configures a NATSPublisher.
type NATSOption func(*NATSPublisher)

// WithSubjectPrefix overrides DefaultSubjectPrefix.
func WithSubjectPrefix(prefix string) NATSOption {
	return func(p *NATSPublisher) {
		if prefix != "" && !strings.HasSuffix(prefix, ".") {
			prefix += "."
		}
		p.prefix = prefix
	}
}

// ConnectNATS dials url and returns a publisher that owns the connection.
func ConnectNATS(url string, opts ...NATSOption) (*NATSPublisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("leadpipe"),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("NATSPublisher: disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("NATSPublisher: reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	p := newNATSPublisher(nc, opts...)
	p.close = func() {
		if err := nc.Drain(); err != nil {
			slog.Warn("NATSPublisher: drain failed", "error", err)
			nc.Close()
		}
	}
	slog.Info("NATSPublisher connected", "url", nc.ConnectedUrl(), "prefix", p.prefix)
	return p, nil
}

func newNATSPublisher(conn natsConn, opts ...NATSOption) *NATSPublisher {
	p := &NATSPublisher{conn: conn, prefix: DefaultSubjectPrefix}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Subject returns the subject an event name is published on.
func (p *NATSPublisher) Subject(name string) string {
	return p.prefix + name
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", ev.Name, err)
	}
	if err := p.conn.Publish(p.Subject(ev.Name), data); err != nil {
		return fmt.Errorf("publish %s: %w", p.Subject(ev.Name), err)
	}
	return nil
}

// Close drains the connection if the publisher owns it.
func (p *NATSPublisher) Close() {
	if p.close != nil {
		p.close()
	}
}
