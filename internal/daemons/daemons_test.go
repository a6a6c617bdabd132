// ABOUTME: Tests for the in-process daemons: echo, render, diagnostics.
// ABOUTME: Exercises the shared describe path plus each daemon's own message types.

package daemons

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/switchboard/internal/daemon"
	"github.com/signalhouse/switchboard/internal/protocol"
)

func handle(t *testing.T, h daemon.Handler, msgType string, data any) *daemon.Result {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		require.NoError(t, err)
		raw = b
	}
	res, err := h.HandleMessage(context.Background(), daemon.Message{Type: msgType, Data: raw})
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func TestEchoDaemon(t *testing.T) {
	e := NewEcho(slog.Default())

	t.Run("declares generic capability", func(t *testing.T) {
		res := handle(t, e, protocol.TypeGetCapabilities, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Equal(t, []string{"generic"}, data["capabilities"])
	})

	t.Run("declares the echo type", func(t *testing.T) {
		res := handle(t, e, protocol.TypeGetMessageTypes, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Equal(t, []string{TypeEcho}, data["types"])
	})

	t.Run("echoes its input back", func(t *testing.T) {
		res := handle(t, e, TypeEcho, map[string]any{"hello": "world"})
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.JSONEq(t, `{"hello":"world"}`, string(data["echo"].(json.RawMessage)))
	})

	t.Run("answers ping", func(t *testing.T) {
		res := handle(t, e, protocol.TypePing, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Equal(t, "pong", data["reply"])
		assert.Equal(t, "echo", data["daemon"])
	})

	t.Run("rejects unknown types", func(t *testing.T) {
		_, err := e.HandleMessage(context.Background(), daemon.Message{Type: "not_a_thing"})
		assert.Error(t, err)
	})
}

func TestRenderDaemon(t *testing.T) {
	r := NewRender(slog.Default())

	t.Run("declares rendering capability", func(t *testing.T) {
		res := handle(t, r, protocol.TypeGetCapabilities, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Equal(t, []string{"rendering"}, data["capabilities"])
	})

	t.Run("renders markdown to html", func(t *testing.T) {
		res := handle(t, r, TypeRenderRequest, map[string]any{"markdown": "# Title\n\nSome *text*."})
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		html := data["html"].(string)
		assert.Contains(t, html, "<h1>Title</h1>")
		assert.Contains(t, html, "<em>text</em>")
	})

	t.Run("requires markdown input", func(t *testing.T) {
		res := handle(t, r, TypeRenderRequest, map[string]any{"markdown": ""})
		assert.False(t, res.Success)
		assert.Equal(t, "markdown is required", res.Error)
	})

	t.Run("rejects malformed input", func(t *testing.T) {
		res, err := r.HandleMessage(context.Background(), daemon.Message{
			Type: TypeRenderRequest,
			Data: json.RawMessage(`{"markdown": 42}`),
		})
		require.NoError(t, err)
		assert.False(t, res.Success)
		assert.Contains(t, res.Error, "invalid input")
	})
}

func TestDiagnosticsDaemon(t *testing.T) {
	d := NewDiagnostics(slog.Default())

	t.Run("reports system status", func(t *testing.T) {
		res := handle(t, d, TypeSystemStatus, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.NotEmpty(t, data["goVersion"])
		assert.Greater(t, data["numCPU"].(int), 0)
		assert.Greater(t, data["goroutines"].(int), 0)
	})

	t.Run("reports runtime stats", func(t *testing.T) {
		res := handle(t, d, TypeRuntimeStats, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Greater(t, data["allocBytes"].(uint64), uint64(0))
		assert.Greater(t, data["goroutines"].(int), 0)
	})

	t.Run("reports lifecycle state via get_status", func(t *testing.T) {
		res := handle(t, d, protocol.TypeGetStatus, nil)
		require.True(t, res.Success)
		data := res.Data.(map[string]any)
		assert.Equal(t, "diagnostics", data["name"])
		assert.Equal(t, "stopped", data["state"])
	})
}
