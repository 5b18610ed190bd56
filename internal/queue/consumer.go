package queue

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/segmentio/kafka-go"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

// messageReader is the subset of kafka.Reader the consumer uses.
type messageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

// HandlerFunc processes one fetch request. Errors are logged, not retried;
// the broker retains the message history for replay if needed.
type HandlerFunc func(ctx context.Context, req FetchRequested) error

// Consumer reads FetchRequested messages and dispatches them to a handler.
type Consumer struct {
	reader  messageReader
	handler HandlerFunc
	logger  logger.Logger
	wg      sync.WaitGroup
	closing atomic.Bool
}

// NewConsumer creates a Consumer in the given consumer group.
func NewConsumer(broker, topic, groupID string, handler HandlerFunc, log logger.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers: []string{broker},
			Topic:   topic,
			GroupID: groupID,
		}),
		handler: handler,
		logger:  log,
	}
}

// NewConsumerWithReader creates a Consumer around an existing reader.
func NewConsumerWithReader(r messageReader, handler HandlerFunc, log logger.Logger) *Consumer {
	return &Consumer{reader: r, handler: handler, logger: log}
}

// Start runs the consume loop until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Consumer) run(ctx context.Context) {
	defer c.wg.Done()
	for {
		msg, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) ||
				errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || c.closing.Load() {
				return
			}
			c.logger.Error("read fetch request", logger.Error(err))
			continue
		}

		var req FetchRequested
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			c.logger.Warn("skipping malformed fetch request",
				logger.String("key", string(msg.Key)),
				logger.Error(err))
			continue
		}
		if req.EventID == "" {
			c.logger.Warn("skipping fetch request without event id")
			continue
		}

		if err := c.handler(ctx, req); err != nil {
			c.logger.Error("fetch request handler failed",
				logger.String("event_id", req.EventID),
				logger.Error(err))
		}
	}
}

// Stop closes the reader and waits for the consume loop to exit.
func (c *Consumer) Stop() error {
	c.closing.Store(true)
	err := c.reader.Close()
	c.wg.Wait()
	return err
}
