// ABOUTME: WebSocket intake: upgrades connections, admits clients, runs read loops.
// ABOUTME: Each inbound envelope is queued so responses stay serialized per client.

package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/signalhouse/switchboard/internal/protocol"
	"github.com/signalhouse/switchboard/internal/transport"
)

// upgrader accepts any origin: the hub is a local, single-process deployment
// and authentication is out of scope at this layer.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

func (g *Gateway) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	t := transport.NewWebSocket(conn)
	metadata := map[string]any{
		"remote_addr": r.RemoteAddr,
		"user_agent":  r.UserAgent(),
	}

	clientID, err := g.hub.AddClient(t, metadata)
	if err != nil {
		g.logger.Warn("client rejected", "remote", r.RemoteAddr, "error", err)
		g.rejectConnection(t, err)
		return
	}

	// pongs from the liveness probe count as activity
	t.OnPong(func() { g.hub.Touch(clientID) })

	g.hub.SendToClient(clientID, &protocol.Outbound{
		Type:      "connected",
		Data:      map[string]any{"clientId": clientID},
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
	})

	go g.readLoop(clientID, t)
}

// rejectConnection tells an over-capacity client why before closing.
func (g *Gateway) rejectConnection(t *transport.WebSocket, reason error) {
	envelope := protocol.NewError("", "", protocol.ErrorData{
		Error:     reason.Error(),
		Component: "ConnectionManager",
	})
	if data, err := json.Marshal(envelope); err == nil {
		if sendErr := t.Send(data); sendErr != nil {
			g.logger.Debug("rejection notice not delivered", "error", sendErr)
		}
	}
	t.Close()
}

// readLoop pulls envelopes off one connection until it closes. Every parsed
// message is enqueued; the queue serializes response generation per client.
func (g *Gateway) readLoop(clientID string, t *transport.WebSocket) {
	defer func() {
		g.hub.RemoveClient(clientID)
		g.queue.Drop(clientID)
	}()

	for {
		data, err := t.ReadMessage()
		if err != nil {
			return
		}

		var msg protocol.Inbound
		if err := json.Unmarshal(data, &msg); err != nil || msg.Type == "" {
			g.hub.SendToClient(clientID, protocol.NewError(clientID, "", protocol.ErrorData{
				Error:     "invalid message envelope",
				Component: "ConnectionManager",
			}))
			continue
		}

		g.hub.Touch(clientID)

		inbound := msg
		g.queue.Enqueue(g.ctx, clientID, inbound.RequestID, func(ctx context.Context) (*protocol.Outbound, error) {
			return g.router.Route(ctx, &inbound, clientID), nil
		})
	}
}
