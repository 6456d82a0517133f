package rag

import (
	"context"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/tethys-ocean/tethys/engine/domain"
	"github.com/tethys-ocean/tethys/pkg/natsutil"
)

// Event is published once per finished query.
type Event struct {
	QueryID   string           `json:"query_id"`
	State     domain.State     `json:"state"`
	Kind      domain.ErrorKind `json:"kind,omitempty"`
	Degraded  bool             `json:"degraded"`
	Generated bool             `json:"generated"`
	Items     int              `json:"items"`
	TookMS    int64            `json:"took_ms"`
	At        time.Time        `json:"at"`
}

// Publisher delivers completion events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// NATSPublisher publishes events as JSON on one subject.
type NATSPublisher struct {
	nc      *nats.Conn
	subject string
}

// NewNATSPublisher creates a NATSPublisher.
func NewNATSPublisher(nc *nats.Conn, subject string) *NATSPublisher {
	return &NATSPublisher{nc: nc, subject: subject}
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(ctx context.Context, ev Event) error {
	return natsutil.Publish(ctx, p.nc, p.subject, ev)
}
