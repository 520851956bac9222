package events

import (
	"context"
	"fmt"

	"github.com/nsqio/go-nsq"
)

// NSQPublisher publishes events to a single nsqd topic.
type NSQPublisher struct {
	producer *nsq.Producer
	topic    string
}

// NewNSQPublisher connects to nsqd at address and pings it.
func NewNSQPublisher(address, topic string) (*NSQPublisher, error) {
	producer, err := nsq.NewProducer(address, nsq.NewConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to create NSQ producer: %w", err)
	}
	if err := producer.Ping(); err != nil {
		producer.Stop()
		return nil, fmt.Errorf("failed to ping NSQ daemon: %w", err)
	}
	return &NSQPublisher{producer: producer, topic: topic}, nil
}

// Publish sends ev. go-nsq has no context support; ctx is only checked
// before the write.
func (p *NSQPublisher) Publish(ctx context.Context, ev Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b, err := encode(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.producer.Publish(p.topic, b); err != nil {
		return fmt.Errorf("nsq publish %s: %w", ev.Type, err)
	}
	return nil
}

// Close stops the producer.
func (p *NSQPublisher) Close() error {
	p.producer.Stop()
	return nil
}
