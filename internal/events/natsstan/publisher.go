// Package natsstan publishes order lifecycle events to NATS Streaming.
package natsstan

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	stan "github.com/nats-io/stan.go"

	"github.com/CameronXie/payment-lifecycle/internal/events"
)

// Config locates the streaming cluster and subject.
type Config struct {
	ClusterID string
	ClientID  string
	URL       string
	Subject   string
	Durable   string
}

type conn interface {
	Publish(subject string, data []byte) error
	Close() error
}

// Publisher sends JSON encoded events to a subject.
type Publisher struct {
	conn    conn
	subject string
}

// Connect dials the cluster and returns a Publisher.
func Connect(cfg Config) (*Publisher, error) {
	sc, err := stan.Connect(cfg.ClusterID, clientID(cfg.ClientID, "paylife-pub"), stan.NatsURL(cfg.URL))
	if err != nil {
		return nil, fmt.Errorf("stan_connect: %w", err)
	}
	return &Publisher{conn: sc, subject: cfg.Subject}, nil
}

// Publish encodes and sends event.
func (p *Publisher) Publish(_ context.Context, event events.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event %s: %w", event.ID, err)
	}
	if err := p.conn.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}
	return nil
}

// Close releases the connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}

// Subscribe delivers events on cfg.Subject to handler until ctx is done.
// Messages are acked only after handler returns nil.
func Subscribe(ctx context.Context, cfg Config, logger *slog.Logger, handler func(context.Context, events.Event) error) error {
	sc, err := stan.Connect(cfg.ClusterID, clientID(cfg.ClientID, "paylife-sub"), stan.NatsURL(cfg.URL))
	if err != nil {
		return fmt.Errorf("stan_connect: %w", err)
	}
	defer sc.Close()

	_, err = sc.QueueSubscribe(cfg.Subject, "paylife-consumers", func(m *stan.Msg) {
		hCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		var event events.Event
		if err := json.Unmarshal(m.Data, &event); err != nil {
			logger.Error("event_decode_failed", "sequence", m.Sequence, "error", err)
			_ = m.Ack()
			return
		}
		if err := handler(hCtx, event); err != nil {
			logger.Warn("event_handler_failed", "event_id", event.ID, "error", err)
			return
		}
		if err := m.Ack(); err != nil {
			logger.Warn("event_ack_failed", "event_id", event.ID, "error", err)
		}
	}, stan.DurableName(cfg.Durable), stan.SetManualAckMode(), stan.AckWait(10*time.Second), stan.DeliverAllAvailable())
	if err != nil {
		return fmt.Errorf("stan_subscribe: %w", err)
	}

	<-ctx.Done()
	return nil
}

func clientID(configured, prefix string) string {
	if configured != "" {
		return configured
	}
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}
