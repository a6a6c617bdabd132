// ABOUTME: Diagnostics daemon: process-level health and Go runtime statistics.
// ABOUTME: Answers system_status and runtime_stats under the "diagnostics" tag.

package daemons

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"

	"github.com/signalhouse/switchboard/internal/daemon"
)

// Diagnostics message types.
const (
	TypeSystemStatus = "system_status"
	TypeRuntimeStats = "runtime_stats"
)

var diagnosticsCapabilities = []string{"diagnostics"}
var diagnosticsTypes = []string{TypeSystemStatus, TypeRuntimeStats}

// Diagnostics is the process-health daemon.
type Diagnostics struct {
	*daemon.Base
}

// NewDiagnostics creates the diagnostics daemon.
func NewDiagnostics(logger *slog.Logger) *Diagnostics {
	return &Diagnostics{Base: daemon.NewBase("diagnostics", "1.0.0", logger)}
}

// HandleMessage answers system_status, runtime_stats, and the baseline types.
func (d *Diagnostics) HandleMessage(_ context.Context, msg daemon.Message) (*daemon.Result, error) {
	if res, ok := daemon.Describe(d.Base, diagnosticsCapabilities, diagnosticsTypes, msg); ok {
		return res, nil
	}

	switch msg.Type {
	case TypeSystemStatus:
		return &daemon.Result{Success: true, Data: map[string]any{
			"goVersion":  runtime.Version(),
			"numCPU":     runtime.NumCPU(),
			"goroutines": runtime.NumGoroutine(),
			"uptime":     d.Uptime().String(),
		}}, nil

	case TypeRuntimeStats:
		var mem runtime.MemStats
		runtime.ReadMemStats(&mem)
		return &daemon.Result{Success: true, Data: map[string]any{
			"allocBytes":      mem.Alloc,
			"totalAllocBytes": mem.TotalAlloc,
			"sysBytes":        mem.Sys,
			"heapObjects":     mem.HeapObjects,
			"numGC":           mem.NumGC,
			"goroutines":      runtime.NumGoroutine(),
		}}, nil

	default:
		return nil, fmt.Errorf("diagnostics daemon cannot handle %q", msg.Type)
	}
}
