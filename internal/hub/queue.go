// ABOUTME: Per-connection FIFO queue that serializes response generation.
// ABOUTME: At most one generator runs per connection; drains across connections are independent.

package hub

import (
	"context"
	"log/slog"
	"sync"

	"github.com/signalhouse/switchboard/internal/protocol"
)

// Generator produces the response for one queued inbound message.
type Generator func(ctx context.Context) (*protocol.Outbound, error)

// IsOpenFunc reports whether a connection can still receive messages.
type IsOpenFunc func(clientID string) bool

// DeliverFunc delivers one message to a connection.
type DeliverFunc func(clientID string, msg *protocol.Outbound) bool

type queueEntry struct {
	ctx       context.Context
	requestID string
	gen       Generator
}

// Queue serializes response generation per connection. It never touches the
// client registry directly; it only calls the injected isOpen check and
// deliver function.
type Queue struct {
	isOpen  IsOpenFunc
	deliver DeliverFunc
	logger  *slog.Logger

	mu       sync.Mutex
	pending  map[string][]queueEntry
	draining map[string]bool
}

// NewQueue creates a Queue wired to the given open-check and delivery functions.
func NewQueue(isOpen IsOpenFunc, deliver DeliverFunc, logger *slog.Logger) *Queue {
	return &Queue{
		isOpen:   isOpen,
		deliver:  deliver,
		logger:   logger.With("component", "queue"),
		pending:  make(map[string][]queueEntry),
		draining: make(map[string]bool),
	}
}

// Enqueue appends a generator to the connection's FIFO queue and starts a
// drain loop if none is running for that connection. requestID is stamped on
// the error envelope if the generator fails.
func (q *Queue) Enqueue(ctx context.Context, clientID, requestID string, gen Generator) {
	q.mu.Lock()
	q.pending[clientID] = append(q.pending[clientID], queueEntry{ctx: ctx, requestID: requestID, gen: gen})
	if !q.draining[clientID] {
		q.draining[clientID] = true
		go q.drain(clientID)
	}
	q.mu.Unlock()
}

// Pending returns the number of queued entries for a connection.
func (q *Queue) Pending(clientID string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending[clientID])
}

// Drop discards all queued entries for a connection. Called when the
// connection is removed; a running drain loop exits on its next iteration.
func (q *Queue) Drop(clientID string) {
	q.mu.Lock()
	delete(q.pending, clientID)
	q.mu.Unlock()
}

// drain pops and runs generators one at a time until the queue is empty.
// Exactly one drain loop runs per connection at any moment.
func (q *Queue) drain(clientID string) {
	for {
		q.mu.Lock()
		entries := q.pending[clientID]
		if len(entries) == 0 {
			q.draining[clientID] = false
			delete(q.pending, clientID)
			q.mu.Unlock()
			return
		}
		entry := entries[0]
		q.pending[clientID] = entries[1:]
		q.mu.Unlock()

		// Connection already gone: discard the remaining entries rather than
		// writing to a dead transport.
		if !q.isOpen(clientID) {
			q.mu.Lock()
			discarded := len(q.pending[clientID]) + 1
			delete(q.pending, clientID)
			q.draining[clientID] = false
			delete(q.draining, clientID)
			q.mu.Unlock()
			q.logger.Debug("discarding queued messages for closed connection",
				"client_id", clientID, "discarded", discarded)
			return
		}

		msg, err := entry.gen(entry.ctx)
		if err != nil {
			q.logger.Warn("response generator failed",
				"client_id", clientID, "request_id", entry.requestID, "error", err)
			msg = protocol.NewError(clientID, entry.requestID, protocol.ErrorData{
				Error:     err.Error(),
				Component: "MessageQueue",
			})
		}
		if msg == nil {
			continue
		}
		if q.isOpen(clientID) {
			q.deliver(clientID, msg)
		}
	}
}
