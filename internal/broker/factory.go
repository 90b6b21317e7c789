package broker

import (
	"fmt"

	"hookgate/internal/config"
	"hookgate/internal/deadletter"
	"hookgate/internal/ingestion"
	"hookgate/internal/logger"
)

// NewProducer returns nil when no broker is configured.
func NewProducer(cfg config.BrokerConfig, log logger.Logger) (Producer, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case "kafka":
		if len(cfg.Kafka.Brokers) == 0 {
			return nil, fmt.Errorf("kafka broker selected but broker.kafka.brokers is empty")
		}
		return NewKafkaProducer(cfg.Kafka, log), nil
	default:
		return nil, fmt.Errorf("unknown broker type: %s", cfg.Type)
	}
}

// Pipeline is the broker's part of webhook processing: where accepted events
// go, and where orphaned failures are reported.
type Pipeline struct {
	Applier ingestion.Applier
	// Alerter is nil when no alert topic is configured.
	Alerter deadletter.Alerter
	// Forwarding is false when events are only logged.
	Forwarding bool
}

// NewPipeline forwards to cfg.ForwardTopic through producer. With no
// producer, accepted events go to a LogApplier.
func NewPipeline(producer Producer, cfg config.KafkaConfig, log logger.Logger) Pipeline {
	if producer == nil {
		return Pipeline{Applier: ingestion.NewLogApplier(log)}
	}

	p := Pipeline{
		Applier:    NewForwardingApplier(producer, cfg.ForwardTopic, log),
		Forwarding: true,
	}
	if cfg.AlertTopic != "" {
		p.Alerter = NewAlertPublisher(producer, cfg.AlertTopic)
	}
	return p
}
