package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const (
	connectWait   = 5 * time.Second
	reconnectWait = 2 * time.Second
	maxReconnects = -1
)

// NATSBus shares the change feed between service instances
type NATSBus struct {
	conn *nats.Conn
}

// NewNATSBus connects to the NATS server at url
func NewNATSBus(url, name string) (*NATSBus, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.Timeout(connectWait),
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	conn, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return &NATSBus{conn: conn}, nil
}

func (b *NATSBus) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := b.conn.Publish(ev.Subject(), data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Subject(), err)
	}
	return nil
}

func (b *NATSBus) Subscribe(h Handler) (func(), error) {
	sub, err := b.conn.Subscribe(SubjectPrefix+".>", func(msg *nats.Msg) {
		var ev Event
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			parsed, ok := ParseSubject(msg.Subject)
			if !ok {
				log.Warn().Str("subject", msg.Subject).Msg("Dropping malformed event")
				return
			}
			ev = parsed
		}
		h(ev)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to change feed: %w", err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("Failed to unsubscribe from change feed")
		}
	}, nil
}

func (b *NATSBus) Close() {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
	}
}
