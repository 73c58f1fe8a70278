// Package events publishes request lifecycle events to NATS.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/facilitydesk/repair-bot/pkg/logger"
)

const (
	TypeCreated       = "request.created"
	TypeStatusChanged = "request.status_changed"

	// SubjectPrefix is the prefix for all lifecycle subjects.
	SubjectPrefix = "repair.request"
)

// Event describes one lifecycle change of a request.
type Event struct {
	Type       string    `json:"type"`
	RequestID  int64     `json:"request_id"`
	Category   string    `json:"category"`
	Status     string    `json:"status"`
	ReporterID int64     `json:"reporter_id,omitempty"`
	ActorID    int64     `json:"actor_id,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Subject returns the NATS subject an event is published on.
func Subject(eventType string) string {
	switch eventType {
	case TypeCreated:
		return SubjectPrefix + ".created"
	case TypeStatusChanged:
		return SubjectPrefix + ".status"
	default:
		return SubjectPrefix + ".other"
	}
}

type publishConn interface {
	Publish(subj string, data []byte) error
}

// Publisher wraps a NATS connection.
type Publisher struct {
	conn publishConn
	nc   *nats.Conn
}

// Connect establishes a connection to the NATS server at url.
func Connect(url string, log *logger.Logger) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("repair-bot"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &Publisher{conn: nc, nc: nc}, nil
}

// Publish sends one event. Core NATS publishing is fire-and-forget, so ctx
// is only checked before the write.
func (p *Publisher) Publish(ctx context.Context, e Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.conn.Publish(Subject(e.Type), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// IsConnected returns true if connected to NATS.
func (p *Publisher) IsConnected() bool {
	return p.nc != nil && p.nc.IsConnected()
}

// Close drains and closes the connection.
func (p *Publisher) Close() {
	if p.nc != nil {
		p.nc.Drain()
	}
}
