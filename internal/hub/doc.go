// Package hub owns the connection layer of switchboard: the live-client
// registry, the transport heartbeat sweep, and per-connection message
// serialization.
//
// # Manager
//
// The Manager is the sole owner of the client set. All delivery goes through
// it:
//
//   - AddClient(transport, metadata): admit a connection, assign a uuid
//   - RemoveClient(id): idempotent removal, closes the transport
//   - SendToClient(id, msg) / Broadcast(msg, excludeID): delivery
//   - Shutdown(): process teardown
//
// The heartbeat sweep runs only while clients exist: it starts on the
// transition from zero to one client and stops when the registry empties.
// Each sweep scans every client, marks the quiet ones past the timeout and
// the ones whose liveness probe fails, then removes the marked set after the
// scan completes.
//
// A transport-level send failure is treated as a disconnection and recovered
// here; it is never surfaced to other connections.
//
// # Queue
//
// The Queue guarantees that, per connection, at most one response generator
// runs at a time and responses are delivered in enqueue order. Queues for
// different connections drain fully independently. The Queue never touches
// the client registry: it works through an injected "is still open" check and
// delivery function, which keeps it independently testable.
//
// # Events
//
// Lifecycle events (client connected, client disconnected, heartbeat cleanup)
// fan out to an explicit subscriber list registered via Subscribe.
package hub
