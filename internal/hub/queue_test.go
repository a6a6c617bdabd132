// ABOUTME: Tests for the per-connection message queue: FIFO order, isolation, errors, discard.
// ABOUTME: Drives the queue directly with recorded deliveries; no real transports involved.

package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/switchboard/internal/protocol"
)

// recorder captures queue deliveries and provides a controllable open check.
type recorder struct {
	mu        sync.Mutex
	delivered map[string][]*protocol.Outbound
	closed    map[string]bool
}

func newRecorder() *recorder {
	return &recorder{
		delivered: make(map[string][]*protocol.Outbound),
		closed:    make(map[string]bool),
	}
}

func (r *recorder) isOpen(clientID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.closed[clientID]
}

func (r *recorder) deliver(clientID string, msg *protocol.Outbound) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delivered[clientID] = append(r.delivered[clientID], msg)
	return true
}

func (r *recorder) close(clientID string) {
	r.mu.Lock()
	r.closed[clientID] = true
	r.mu.Unlock()
}

func (r *recorder) messages(clientID string) []*protocol.Outbound {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*protocol.Outbound(nil), r.delivered[clientID]...)
}

func staticGenerator(msgType string) Generator {
	return func(ctx context.Context) (*protocol.Outbound, error) {
		return &protocol.Outbound{Type: msgType, Timestamp: time.Now()}, nil
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	rec := newRecorder()
	q := NewQueue(rec.isOpen, rec.deliver, slog.Default())

	// "b" blocks until released; "a" and "c" are immediate. Delivery order
	// must still be a, b, c.
	release := make(chan struct{})
	ctx := context.Background()

	q.Enqueue(ctx, "client-1", "", staticGenerator("a"))
	q.Enqueue(ctx, "client-1", "", func(ctx context.Context) (*protocol.Outbound, error) {
		<-release
		return &protocol.Outbound{Type: "b", Timestamp: time.Now()}, nil
	})
	q.Enqueue(ctx, "client-1", "", staticGenerator("c"))

	// give the drain loop time to reach the blocking generator
	require.Eventually(t, func() bool {
		return len(rec.messages("client-1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "a", rec.messages("client-1")[0].Type)

	close(release)

	require.Eventually(t, func() bool {
		return len(rec.messages("client-1")) == 3
	}, time.Second, 5*time.Millisecond)

	var types []string
	for _, msg := range rec.messages("client-1") {
		types = append(types, msg.Type)
	}
	assert.Equal(t, []string{"a", "b", "c"}, types)
}

func TestQueuePerConnectionIsolation(t *testing.T) {
	rec := newRecorder()
	q := NewQueue(rec.isOpen, rec.deliver, slog.Default())

	// client-1's generator blocks; client-2's must still complete.
	release := make(chan struct{})
	defer close(release)
	ctx := context.Background()

	q.Enqueue(ctx, "client-1", "", func(ctx context.Context) (*protocol.Outbound, error) {
		<-release
		return &protocol.Outbound{Type: "slow", Timestamp: time.Now()}, nil
	})
	q.Enqueue(ctx, "client-2", "", staticGenerator("fast"))

	require.Eventually(t, func() bool {
		return len(rec.messages("client-2")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Empty(t, rec.messages("client-1"))
}

func TestQueueGeneratorError(t *testing.T) {
	rec := newRecorder()
	q := NewQueue(rec.isOpen, rec.deliver, slog.Default())

	q.Enqueue(context.Background(), "client-1", "req-7", func(ctx context.Context) (*protocol.Outbound, error) {
		return nil, errors.New("daemon exploded")
	})

	require.Eventually(t, func() bool {
		return len(rec.messages("client-1")) == 1
	}, time.Second, 5*time.Millisecond)

	msg := rec.messages("client-1")[0]
	assert.Equal(t, protocol.TypeError, msg.Type)
	// the error must stay correlatable to the request that produced it
	assert.Equal(t, "req-7", msg.RequestID)

	data, ok := msg.Data.(protocol.ErrorData)
	require.True(t, ok)
	assert.Equal(t, "daemon exploded", data.Error)
	assert.Equal(t, "MessageQueue", data.Component)
}

func TestQueueDiscardOnClosedConnection(t *testing.T) {
	rec := newRecorder()
	q := NewQueue(rec.isOpen, rec.deliver, slog.Default())
	ctx := context.Background()

	// first generator closes the connection mid-drain; the rest must be discarded
	release := make(chan struct{})
	q.Enqueue(ctx, "client-1", "", func(ctx context.Context) (*protocol.Outbound, error) {
		<-release
		return &protocol.Outbound{Type: "first", Timestamp: time.Now()}, nil
	})
	q.Enqueue(ctx, "client-1", "", staticGenerator("second"))
	q.Enqueue(ctx, "client-1", "", staticGenerator("third"))

	rec.close("client-1")
	close(release)

	require.Eventually(t, func() bool {
		return q.Pending("client-1") == 0
	}, time.Second, 5*time.Millisecond)

	// the connection was closed before delivery, so nothing reaches it
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, rec.messages("client-1"))
}

func TestQueueDrop(t *testing.T) {
	rec := newRecorder()
	q := NewQueue(rec.isOpen, rec.deliver, slog.Default())
	ctx := context.Background()

	started := make(chan struct{})
	release := make(chan struct{})
	q.Enqueue(ctx, "client-1", "", func(ctx context.Context) (*protocol.Outbound, error) {
		close(started)
		<-release
		return &protocol.Outbound{Type: "blocked", Timestamp: time.Now()}, nil
	})
	q.Enqueue(ctx, "client-1", "", staticGenerator("queued"))

	// wait until the drain loop has popped the blocking head entry
	<-started
	assert.Equal(t, 1, q.Pending("client-1"))
	q.Drop("client-1")
	assert.Equal(t, 0, q.Pending("client-1"))
	close(release)

	// the in-flight generator still completes and delivers
	require.Eventually(t, func() bool {
		return len(rec.messages("client-1")) == 1
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "blocked", rec.messages("client-1")[0].Type)
}
