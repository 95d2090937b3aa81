// Package events publishes digest progress and results to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/testsabirweb/slack_digest/pkg/digest"
)

// DefaultSubjectPrefix roots every subject published by this package.
const DefaultSubjectPrefix = "slack_digest"

// Conn is the subset of *nats.Conn used for publishing.
type Conn interface {
	Publish(subject string, data []byte) error
}

// Publisher sends digest events as JSON. It implements digest.Observer.
type Publisher struct {
	conn   Conn
	nc     *nats.Conn
	subs   []*nats.Subscription
	prefix string
	logger *slog.Logger
}

// Connect dials url and returns a publisher on it.
func Connect(ctx context.Context, url, token, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []nats.Option{
		nats.Name("slack-digest"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(60),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info("nats reconnected")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	p := NewPublisher(nc, prefix, logger)
	p.nc = nc
	return p, nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger.With("component", "events")}
}

// ProgressSubject is the subject a digest event type is published on.
func (p *Publisher) ProgressSubject(t digest.EventType) string {
	return p.prefix + ".digest.progress." + string(t)
}

// ResultSubject carries complete digest results.
func (p *Publisher) ResultSubject() string {
	return p.prefix + ".digest.result"
}

// Publish marshals data as JSON onto subject.
func (p *Publisher) Publish(subject string, data any) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	if err := p.conn.Publish(subject, payload); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// OnEvent publishes a progress event. Failures are logged only.
func (p *Publisher) OnEvent(ctx context.Context, e digest.Event) {
	if err := p.Publish(p.ProgressSubject(e.Type), e); err != nil {
		p.logger.WarnContext(ctx, "failed to publish digest event", "event", e.Type, "error", err)
	}
}

// PublishResult publishes a finished digest.
func (p *Publisher) PublishResult(r *digest.Result) error {
	return p.Publish(p.ResultSubject(), r)
}

// Subscribe delivers messages on subject to handler. Only available on
// publishers created by Connect.
func (p *Publisher) Subscribe(subject string, handler func(subject string, data []byte)) error {
	if p.nc == nil {
		return fmt.Errorf("subscribe %s: publisher has no nats connection", subject)
	}
	sub, err := p.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Subject, msg.Data)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", subject, err)
	}
	p.subs = append(p.subs, sub)
	p.logger.Info("subscribed", "subject", subject)
	return nil
}

// Close drains subscriptions and closes the connection when owned.
func (p *Publisher) Close() {
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	if p.nc != nil {
		_ = p.nc.Drain()
	}
}
