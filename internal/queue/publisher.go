// Package queue publishes and consumes fetch requests over Kafka so
// listing refreshes can be triggered by external producers.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// FetchRequested asks the service to refresh listings for one event.
type FetchRequested struct {
	EventID     string    `json:"event_id"`
	RequestedAt time.Time `json:"requested_at"`
	Reason      string    `json:"reason,omitempty"`
}

// messageWriter is the subset of kafka.Writer the publisher uses.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher emits FetchRequested messages.
type Publisher struct {
	writer messageWriter
	logger logger.Logger
}

// NewPublisher creates a Publisher targeting the given broker and topic.
func NewPublisher(broker, topic string, log logger.Logger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(broker),
			Topic:        topic,
			Balancer:     &kafka.LeastBytes{},
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: log,
	}
}

// NewPublisherWithWriter creates a Publisher around an existing writer.
func NewPublisherWithWriter(w messageWriter, log logger.Logger) *Publisher {
	return &Publisher{writer: w, logger: log}
}

// PublishFetchRequest enqueues a refresh request for eventID.
func (p *Publisher) PublishFetchRequest(ctx context.Context, eventID, reason string) error {
	req := FetchRequested{
		EventID:     eventID,
		RequestedAt: time.Now().UTC(),
		Reason:      reason,
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal fetch request: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(eventID),
		Value: payload,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish fetch request: %w", err)
	}

	p.logger.Debug("published fetch request",
		logger.String("event_id", eventID),
		logger.String("reason", reason))
	return nil
}

// Close flushes and closes the underlying writer.
func (p *Publisher) Close() error {
	return p.writer.Close()
}
