package queue

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonesrussell/ticketwatch/internal/logger"
)

type capturingWriter struct {
	mu       sync.Mutex
	messages []kafka.Message
	closed   bool
}

func (w *capturingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *capturingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

type queuedReader struct {
	mu   sync.Mutex
	msgs []kafka.Message
	done chan struct{}
	once sync.Once
}

func newQueuedReader(msgs ...kafka.Message) *queuedReader {
	return &queuedReader{msgs: msgs, done: make(chan struct{})}
}

func (r *queuedReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		msg := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()

	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-r.done:
		return kafka.Message{}, io.EOF
	}
}

func (r *queuedReader) Close() error {
	r.once.Do(func() { close(r.done) })
	return nil
}

func TestPublishFetchRequest(t *testing.T) {
	writer := &capturingWriter{}
	pub := NewPublisherWithWriter(writer, logger.NewNop())

	require.NoError(t, pub.PublishFetchRequest(context.Background(), "evt-9", "manual"))

	require.Len(t, writer.messages, 1)
	assert.Equal(t, "evt-9", string(writer.messages[0].Key))

	var req FetchRequested
	require.NoError(t, json.Unmarshal(writer.messages[0].Value, &req))
	assert.Equal(t, "evt-9", req.EventID)
	assert.Equal(t, "manual", req.Reason)
	assert.False(t, req.RequestedAt.IsZero())
}

func TestConsumerDispatchesValidMessages(t *testing.T) {
	valid, err := json.Marshal(FetchRequested{EventID: "evt-1", RequestedAt: time.Now()})
	require.NoError(t, err)

	reader := newQueuedReader(
		kafka.Message{Value: []byte("{garbage")},
		kafka.Message{Value: []byte(`{"event_id":""}`)},
		kafka.Message{Value: valid},
	)

	handled := make(chan FetchRequested, 3)
	consumer := NewConsumerWithReader(reader, func(_ context.Context, req FetchRequested) error {
		handled <- req
		return nil
	}, logger.NewNop())

	consumer.Start(context.Background())

	select {
	case req := <-handled:
		assert.Equal(t, "evt-1", req.EventID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}

	require.NoError(t, consumer.Stop())
	assert.Empty(t, handled)
}

type closedPipeReader struct {
	mu     sync.Mutex
	closed bool
}

func (r *closedPipeReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	closed := r.closed
	r.mu.Unlock()
	if closed {
		return kafka.Message{}, io.ErrClosedPipe
	}
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case <-time.After(10 * time.Millisecond):
		return kafka.Message{}, io.ErrClosedPipe
	}
}

func (r *closedPipeReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func TestConsumerStopsWithoutContextCancel(t *testing.T) {
	consumer := NewConsumerWithReader(&closedPipeReader{}, func(context.Context, FetchRequested) error {
		return nil
	}, logger.NewNop())

	consumer.Start(context.Background())

	done := make(chan error, 1)
	go func() { done <- consumer.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop after reader close")
	}
}

func TestConsumerStopsOnContextCancel(t *testing.T) {
	reader := newQueuedReader()
	consumer := NewConsumerWithReader(reader, func(context.Context, FetchRequested) error {
		return nil
	}, logger.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	consumer.Start(ctx)
	cancel()

	done := make(chan error, 1)
	go func() { done <- consumer.Stop() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("consumer did not stop")
	}
}
