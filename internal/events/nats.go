// Package events publishes experiment lifecycle events to NATS so that
// dashboards and test harnesses outside the process can follow experiments.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/seantiz/dsplatform/internal/model"
)

// DefaultSubjectPrefix is the subject root used when none is configured.
const DefaultSubjectPrefix = "platform.experiments"

// flushTimeout applies when Publish is handed a context without a deadline.
const flushTimeout = 2 * time.Second

// Publisher sends each event to "<prefix>.<kind>.<status>".
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger *slog.Logger
}

// NewPublisher connects to the NATS server at url.
func NewPublisher(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	conn, err := nats.Connect(url,
		nats.Name("platformd"),
		nats.MaxReconnects(10),
		nats.ReconnectWait(nats.DefaultReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("nats reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connection failed: %w", err)
	}

	return &Publisher{conn: conn, prefix: strings.TrimSuffix(prefix, "."), logger: logger}, nil
}

// Subject returns the subject an event is published on.
func (p *Publisher) Subject(ev model.Event) string {
	return p.prefix + "." + string(ev.Kind) + "." + string(ev.To)
}

// Publish encodes ev as JSON and publishes it. It waits for the server to
// acknowledge the flush or for ctx to end; a ctx without a deadline is given
// flushTimeout.
func (p *Publisher) Publish(ctx context.Context, ev model.Event) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, flushTimeout)
		defer cancel()
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := p.conn.Publish(p.Subject(ev), payload); err != nil {
		return fmt.Errorf("nats publish failed: %w", err)
	}
	return p.conn.FlushWithContext(ctx)
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}
	return nil
}
