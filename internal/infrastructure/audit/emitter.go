// Package audit emits token lifecycle events to Kafka for the security
// pipeline. Emission is best-effort: a broker outage never blocks or fails
// the user-facing flow.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/relaybot/relay/internal/config"
	"github.com/relaybot/relay/pkg/logger"
)

// Event action names.
const (
	ActionConnected       = "token.connected"
	ActionRotated         = "token.rotated"
	ActionRotationFailed  = "token.rotation_failed"
	ActionRevoked         = "token.revoked"
	ActionDeadTokenPurged = "token.dead_purged"
)

// Event is one token lifecycle occurrence. It carries identifiers only,
// never token material.
type Event struct {
	Action    string    `json:"action"`
	UserID    string    `json:"user_id"`
	Provider  string    `json:"provider"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Emitter publishes token lifecycle events.
type Emitter interface {
	Emit(ctx context.Context, event Event)
	Close() error
}

type kafkaEmitter struct {
	writer *kafka.Writer
	logger logger.Logger
}

// NewKafkaEmitter creates a Kafka-backed emitter writing to the configured
// audit topic.
func NewKafkaEmitter(cfg config.AuditConfig, log logger.Logger) Emitter {
	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		WriteTimeout: 5 * time.Second,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
	}
	return &kafkaEmitter{
		writer: writer,
		logger: log.WithComponent("AuditEmitter"),
	}
}

func (e *kafkaEmitter) Emit(ctx context.Context, event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(event)
	if err != nil {
		e.logger.Error(ctx, "failed to marshal audit event", err)
		return
	}

	err = e.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: payload,
	})
	if err != nil {
		e.logger.Warn(ctx, "failed to publish audit event", logger.Fields{
			"action":   event.Action,
			"provider": event.Provider,
			"error":    err.Error(),
		})
	}
}

func (e *kafkaEmitter) Close() error {
	return e.writer.Close()
}

type noopEmitter struct{}

// NewNoopEmitter returns an emitter that discards all events. Used when
// auditing is disabled and in tests.
func NewNoopEmitter() Emitter { return noopEmitter{} }

func (noopEmitter) Emit(ctx context.Context, event Event) {}
func (noopEmitter) Close() error                          { return nil }
