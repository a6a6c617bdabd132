// ABOUTME: Tests for the wire envelope types and their JSON shapes.
// ABOUTME: Pins the field names clients depend on.

package protocol

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInboundJSON(t *testing.T) {
	var msg Inbound
	require.NoError(t, json.Unmarshal([]byte(`{
		"type": "render_request",
		"data": {"markdown": "# hi"},
		"requestId": "req-1"
	}`), &msg))

	assert.Equal(t, "render_request", msg.Type)
	assert.Equal(t, "req-1", msg.RequestID)
	assert.JSONEq(t, `{"markdown": "# hi"}`, string(msg.Data))
}

func TestResponseType(t *testing.T) {
	assert.Equal(t, "render_request_response", ResponseType("render_request"))
	assert.Equal(t, "ping_response", ResponseType(TypePing))
}

func TestNewResponse(t *testing.T) {
	out := NewResponse("echo", map[string]any{"echo": "hi"}, "client-1", "req-2", "echo-daemon")

	b, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, "echo_response", decoded["type"])
	assert.Equal(t, "client-1", decoded["clientId"])
	assert.Equal(t, "req-2", decoded["requestId"])
	assert.Equal(t, "echo-daemon", decoded["processedBy"])
	assert.NotEmpty(t, decoded["timestamp"])
	assert.False(t, out.Timestamp.IsZero())
	assert.True(t, out.Timestamp.Before(time.Now().Add(time.Second)))
}

func TestNewError(t *testing.T) {
	out := NewError("client-1", "req-3", ErrorData{
		Error:          "no daemon supports message type \"x\"",
		AvailableTypes: []string{"ping", "echo"},
		Component:      "DynamicMessageRouter",
	})

	b, err := json.Marshal(out)
	require.NoError(t, err)

	var decoded struct {
		Type string    `json:"type"`
		Data ErrorData `json:"data"`
	}
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, TypeError, decoded.Type)
	assert.Equal(t, []string{"ping", "echo"}, decoded.Data.AvailableTypes)
	assert.Equal(t, "DynamicMessageRouter", decoded.Data.Component)
}

func TestBaselineTypes(t *testing.T) {
	types := BaselineTypes()
	assert.ElementsMatch(t, []string{"ping", "get_status", "get_capabilities", "get_message_types"}, types)
	// callers may mutate the returned slice freely
	types[0] = "mutated"
	assert.Equal(t, "ping", BaselineTypes()[0])
}
