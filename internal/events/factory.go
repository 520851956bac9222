package events

import (
	"fmt"

	"ridehail/internal/config"
)

// NewPublisher builds the publisher selected by cfg.Backend.
func NewPublisher(cfg config.EventsConfig) (Publisher, error) {
	switch cfg.Backend {
	case "kafka":
		return NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic), nil
	case "nsq":
		return NewNSQPublisher(cfg.NSQAddr, cfg.NSQTopic)
	case "", "none":
		return NopPublisher{}, nil
	default:
		return nil, fmt.Errorf("unknown events backend %q", cfg.Backend)
	}
}
