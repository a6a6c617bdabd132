// ABOUTME: Transport contract the hub requires from any duplex client channel.
// ABOUTME: WebSocket, local pipe, or an in-memory fake all satisfy it.

package hub

// Transport is the hub's view of one client's duplex channel.
type Transport interface {
	// Open reports whether the transport can currently accept sends.
	Open() bool
	// Send delivers one serialized message to the client.
	Send(data []byte) error
	// Close tears the transport down. Safe to call more than once.
	Close() error
	// Subscribe registers callbacks fired when the transport closes or errors.
	// Each fires at most once.
	Subscribe(onClose func(), onError func(err error))
}

// Prober is implemented by transports that support a liveness probe.
// The heartbeat sweep probes clients that are quiet but not yet timed out.
type Prober interface {
	Ping() error
}
