// Package audit provides audit event emission for the auth gateway.
//
// Purpose:
//
//	This package defines the audit event structure and an Emitter interface
//	with two implementations: a zerolog-backed emitter for development and
//	a Kafka producer for production. Security-relevant actions (logins,
//	logouts, forced kicks, rule mutations) are recorded through it.
//
// Dependencies:
//   - github.com/google/uuid: event IDs
//   - github.com/rs/zerolog: logger-backed emitter
//   - github.com/segmentio/kafka-go: Kafka producer
//
// Thread Safety:
//   - Emitter implementations are safe for concurrent use
//
// Error Handling:
//   - Emit returns errors for monitoring; callers log and continue, audit
//     failures never fail the originating request
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// Event is one security-relevant occurrence.
type Event struct {
	EventID   uuid.UUID      `json:"event_id"`
	ActorID   uuid.UUID      `json:"actor_id,omitempty"`
	ActorName string         `json:"actor_name,omitempty"`
	// Action is a dotted verb: "auth.login", "auth.logout", "auth.kick",
	// "rule.create", "rule.update", "rule.delete", "role.create",
	// "role.grant".
	Action    string         `json:"action"`
	TargetID  *uuid.UUID     `json:"target_id,omitempty"`
	Outcome   string         `json:"outcome"` // success, failure
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// NewEvent stamps an ID and timestamp on a new event.
func NewEvent(action, outcome string) Event {
	return Event{
		EventID:   uuid.New(),
		Action:    action,
		Outcome:   outcome,
		CreatedAt: time.Now().UTC(),
	}
}

// Emitter ships audit events to a backend.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// LoggerEmitter logs audit events as structured JSON. Used whenever Kafka
// is not configured.
type LoggerEmitter struct {
	logger zerolog.Logger
}

// NewLoggerEmitter creates a logger-based audit emitter.
func NewLoggerEmitter(logger zerolog.Logger) *LoggerEmitter {
	return &LoggerEmitter{logger: logger.With().Str("component", "audit").Logger()}
}

// Emit logs the event. Never fails.
func (e *LoggerEmitter) Emit(ctx context.Context, event Event) error {
	e.logger.Info().
		Str("event_id", event.EventID.String()).
		Str("actor", event.ActorName).
		Str("action", event.Action).
		Str("outcome", event.Outcome).
		Interface("metadata", event.Metadata).
		Msg("audit event")
	return nil
}

// KafkaEmitter produces audit events to a Kafka topic.
type KafkaEmitter struct {
	writer *kafka.Writer
	logger zerolog.Logger
}

// NewKafkaEmitter creates a Kafka-backed emitter, or nil when no brokers
// are configured (callers fall back to the logger emitter).
func NewKafkaEmitter(brokers, topic, clientID string, logger zerolog.Logger) *KafkaEmitter {
	brokerList := splitBrokers(brokers)
	if len(brokerList) == 0 {
		return nil
	}
	writer := &kafka.Writer{
		Addr:         kafka.TCP(brokerList...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		Async:        false,
		Transport: &kafka.Transport{
			ClientID: clientID,
		},
	}
	return &KafkaEmitter{
		writer: writer,
		logger: logger.With().Str("component", "audit.kafka").Logger(),
	}
}

// Emit produces one event, keyed by actor so a principal's events stay
// ordered within a partition.
func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(event.ActorID.String()),
		Value: payload,
		Time:  event.CreatedAt,
	}
	if err := e.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("audit: produce event: %w", err)
	}
	return nil
}

// Close flushes and closes the Kafka writer.
func (e *KafkaEmitter) Close() error {
	return e.writer.Close()
}

func splitBrokers(brokers string) []string {
	var out []string
	for _, b := range strings.Split(brokers, ",") {
		if b = strings.TrimSpace(b); b != "" {
			out = append(out, b)
		}
	}
	return out
}
