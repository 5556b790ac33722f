package invalidate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

const subjectPrefix = "fixflow.invalidate."

// NATSInvalidator publishes invalidation events to
// fixflow.invalidate.<entity>. Consumers (the realtime gateway, edge
// caches) re-fetch on receipt.
type NATSInvalidator struct {
	conn   *nats.Conn
	logger zerolog.Logger
}

func NewNATS(url string, logger zerolog.Logger) (*NATSInvalidator, error) {
	conn, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSInvalidator{conn: conn, logger: logger}, nil
}

type event struct {
	Entity string    `json:"entity"`
	ID     string    `json:"id"`
	At     time.Time `json:"at"`
}

func (n *NATSInvalidator) Invalidate(_ context.Context, entity, id string) {
	payload, err := json.Marshal(event{Entity: entity, ID: id, At: time.Now().UTC()})
	if err != nil {
		n.logger.Error().Err(err).Str("entity", entity).Msg("invalidation encode failed")
		return
	}
	if err := n.conn.Publish(subjectPrefix+entity, payload); err != nil {
		n.logger.Warn().Err(err).Str("entity", entity).Str("id", id).Msg("invalidation publish failed")
	}
}

func (n *NATSInvalidator) Close() error {
	n.conn.Close()
	return nil
}
