// ABOUTME: Wire envelope types exchanged between clients and the switchboard hub.
// ABOUTME: Envelopes are immutable values; crossing a boundary wraps, never mutates.

package protocol

import (
	"encoding/json"
	"time"
)

// Message type constants. TypeError marks the outbound error envelope; the
// baseline types are the ones every registered daemon is assumed to answer.
const (
	TypeError = "error"

	TypePing            = "ping"
	TypeGetStatus       = "get_status"
	TypeGetCapabilities = "get_capabilities"
	TypeGetMessageTypes = "get_message_types"
)

// BaselineTypes returns the message types every daemon with a generic handler
// is assumed to support, whether or not it declares them.
func BaselineTypes() []string {
	return []string{TypePing, TypeGetStatus, TypeGetCapabilities, TypeGetMessageTypes}
}

// ResponseType derives the outbound type for a successfully handled inbound type.
func ResponseType(inboundType string) string {
	return inboundType + "_response"
}

// Inbound is a message received from a client.
type Inbound struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
}

// Outbound is a message delivered back to a client.
type Outbound struct {
	Type        string    `json:"type"`
	Data        any       `json:"data,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	ClientID    string    `json:"clientId,omitempty"`
	RequestID   string    `json:"requestId,omitempty"`
	ProcessedBy string    `json:"processedBy,omitempty"`
}

// ErrorData is the payload of an outbound error envelope.
type ErrorData struct {
	Error          string   `json:"error"`
	AvailableTypes []string `json:"availableTypes,omitempty"`
	Daemon         string   `json:"daemon,omitempty"`
	MessageType    string   `json:"messageType,omitempty"`
	Component      string   `json:"component,omitempty"`
}

// NewResponse wraps a daemon result as a success envelope for one client.
func NewResponse(inboundType string, data any, clientID, requestID, processedBy string) *Outbound {
	return &Outbound{
		Type:        ResponseType(inboundType),
		Data:        data,
		Timestamp:   time.Now().UTC(),
		ClientID:    clientID,
		RequestID:   requestID,
		ProcessedBy: processedBy,
	}
}

// NewError wraps a failure as an error envelope for one client.
func NewError(clientID, requestID string, data ErrorData) *Outbound {
	return &Outbound{
		Type:      TypeError,
		Data:      data,
		Timestamp: time.Now().UTC(),
		ClientID:  clientID,
		RequestID: requestID,
	}
}
