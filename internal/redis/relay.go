package redis

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"ridehail/internal/broadcast"
)

const relayChannel = "ridehail:push"

// relayMessage carries an encoded envelope for one recipient.
type relayMessage struct {
	Recipient string          `json:"recipient"`
	Payload   json.RawMessage `json:"payload"`
}

// Relay is a broadcast.Sender that reaches recipients connected to any
// instance. Local recipients are written directly; others go through
// Redis pub/sub and are written by the instance holding the connection.
type Relay struct {
	client *redis.Client
	hub    *broadcast.Hub
	log    logrus.FieldLogger
}

// NewRelay creates a relay in front of the local hub.
func NewRelay(client *redis.Client, hub *broadcast.Hub, log logrus.FieldLogger) *Relay {
	return &Relay{client: client, hub: hub, log: log}
}

// Send delivers env to recipient wherever it is connected.
func (r *Relay) Send(ctx context.Context, recipient string, env broadcast.Envelope) error {
	_, err := r.Route(ctx, recipient, env)
	return err
}

// Route writes env locally when the recipient is connected here and
// publishes it otherwise. A publish no instance is subscribed to fails
// with broadcast.ErrNotConnected.
func (r *Relay) Route(ctx context.Context, recipient string, env broadcast.Envelope) (broadcast.Delivery, error) {
	payload, err := json.Marshal(env)
	if err != nil {
		return broadcast.Written, err
	}
	if r.hub.Connected(recipient) {
		return broadcast.Written, r.hub.Deliver(ctx, recipient, payload)
	}

	msg, err := json.Marshal(relayMessage{Recipient: recipient, Payload: payload})
	if err != nil {
		return broadcast.Relayed, err
	}
	receivers, err := r.client.Publish(ctx, relayChannel, msg).Result()
	if err != nil {
		return broadcast.Relayed, err
	}
	if receivers == 0 {
		return broadcast.Relayed, broadcast.ErrNotConnected
	}
	return broadcast.Relayed, nil
}

// Run forwards relayed messages to local connections until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	sub := r.client.Subscribe(ctx, relayChannel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg relayMessage
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.log.WithError(err).Warn("dropping malformed relay message")
				continue
			}
			if !r.hub.Connected(msg.Recipient) {
				continue
			}
			if err := r.hub.Deliver(ctx, msg.Recipient, msg.Payload); err != nil {
				r.log.WithError(err).WithField("recipient", msg.Recipient).Debug("relay delivery failed")
			}
		}
	}
}
