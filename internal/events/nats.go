package events

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// Envelope is the JSON body published for every event.
type Envelope struct {
	ID         string    `json:"id"`
	Event      string    `json:"event"`
	OccurredAt time.Time `json:"occurredAt"`
	Payload    any       `json:"payload,omitempty"`
}

// NATSPublisher mirrors UI events to NATS subjects "<prefix>.<event>".
// A nil publisher is a no-op.
type NATSPublisher struct {
	nc     *nats.Conn
	prefix string
	log    *zap.Logger
}

func NewNATSPublisher(nc *nats.Conn, prefix string, log *zap.Logger) *NATSPublisher {
	if log == nil {
		log = zap.NewNop()
	}
	if prefix == "" {
		prefix = "podplayer"
	}
	return &NATSPublisher{nc: nc, prefix: prefix, log: log}
}

func (p *NATSPublisher) Subject(event string) string {
	return p.prefix + "." + event
}

func (p *NATSPublisher) Emit(event string, payload any) error {
	if p == nil || p.nc == nil {
		return nil
	}
	data, err := json.Marshal(Envelope{
		ID:         uuid.NewString(),
		Event:      event,
		OccurredAt: time.Now().UTC(),
		Payload:    payload,
	})
	if err != nil {
		p.log.Warn("events: marshal failed", zap.String("event", event), zap.Error(err))
		return err
	}
	if err := p.nc.Publish(p.Subject(event), data); err != nil {
		p.log.Warn("events: publish failed", zap.String("subject", p.Subject(event)), zap.Error(err))
		return err
	}
	return nil
}

type NATSOptions struct {
	URL           string
	MaxReconnects int
	ReconnectWait time.Duration
}

// ConnectNATS dials the server, falling back to NATS_URL when no URL is given.
func ConnectNATS(opts NATSOptions) (*nats.Conn, error) {
	if opts.URL == "" {
		opts.URL = strings.TrimSpace(os.Getenv("NATS_URL"))
		if opts.URL == "" {
			opts.URL = nats.DefaultURL
		}
	}
	if opts.MaxReconnects == 0 {
		opts.MaxReconnects = 5
	}
	if opts.ReconnectWait == 0 {
		opts.ReconnectWait = 2 * time.Second
	}

	nc, err := nats.Connect(opts.URL,
		nats.Name("podplayer"),
		nats.MaxReconnects(opts.MaxReconnects),
		nats.ReconnectWait(opts.ReconnectWait),
		nats.RetryOnFailedConnect(false),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect %s (max_reconnects=%d, wait=%s): %w",
			opts.URL, opts.MaxReconnects, opts.ReconnectWait, err)
	}
	return nc, nil
}
