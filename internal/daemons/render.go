// ABOUTME: Render daemon: converts markdown to HTML for the platform's rendering surface.
// ABOUTME: Carries the "rendering" capability tag so it wins render_request routing.

package daemons

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/yuin/goldmark"

	"github.com/signalhouse/switchboard/internal/daemon"
)

// TypeRenderRequest is the render daemon's message type.
const TypeRenderRequest = "render_request"

var renderCapabilities = []string{"rendering"}

// Render is the markdown rendering daemon.
type Render struct {
	*daemon.Base
}

// NewRender creates the render daemon.
func NewRender(logger *slog.Logger) *Render {
	return &Render{Base: daemon.NewBase("render", "1.0.0", logger)}
}

type renderInput struct {
	Markdown string `json:"markdown"`
}

// HandleMessage answers render_request and the baseline types.
func (r *Render) HandleMessage(_ context.Context, msg daemon.Message) (*daemon.Result, error) {
	if res, ok := daemon.Describe(r.Base, renderCapabilities, []string{TypeRenderRequest}, msg); ok {
		return res, nil
	}

	switch msg.Type {
	case TypeRenderRequest:
		var in renderInput
		if err := json.Unmarshal(msg.Data, &in); err != nil {
			return &daemon.Result{Success: false, Error: fmt.Sprintf("invalid input: %v", err)}, nil
		}
		if in.Markdown == "" {
			return &daemon.Result{Success: false, Error: "markdown is required"}, nil
		}

		var buf bytes.Buffer
		if err := goldmark.Convert([]byte(in.Markdown), &buf); err != nil {
			return &daemon.Result{Success: false, Error: fmt.Sprintf("rendering markdown: %v", err)}, nil
		}
		return &daemon.Result{Success: true, Data: map[string]any{
			"html": buf.String(),
		}}, nil
	default:
		return nil, fmt.Errorf("render daemon cannot handle %q", msg.Type)
	}
}
