// ABOUTME: Tests for the connection manager: capacity, removal, delivery, broadcast, sweep.
// ABOUTME: Uses an in-memory fake transport implementing the Transport and Prober contracts.

package hub

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalhouse/switchboard/internal/protocol"
)

// fakeTransport is an in-memory Transport with controllable failure modes.
type fakeTransport struct {
	mu      sync.Mutex
	open    bool
	sent    [][]byte
	sendErr error
	pingErr error
	onClose func()
	onError func(error)
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{open: true}
}

func (f *fakeTransport) Open() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.open
}

func (f *fakeTransport) Send(data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	f.open = false
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) Subscribe(onClose func(), onError func(error)) {
	f.mu.Lock()
	f.onClose = onClose
	f.onError = onError
	f.mu.Unlock()
}

func (f *fakeTransport) Ping() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeTransport) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func (f *fakeTransport) setSendErr(err error) {
	f.mu.Lock()
	f.sendErr = err
	f.mu.Unlock()
}

func newTestManager(maxClients int) *Manager {
	// long sweep timings so tests control eviction explicitly
	return NewManager(maxClients, time.Hour, 2*time.Hour, slog.Default())
}

func TestManagerAddClient(t *testing.T) {
	t.Run("assigns unique ids", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		id1, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)
		id2, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		assert.NotEqual(t, id1, id2)
		assert.Equal(t, 2, m.Count())
	})

	t.Run("rejects at capacity without mutating the registry", func(t *testing.T) {
		m := newTestManager(2)
		defer m.Shutdown()

		_, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)
		_, err = m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		_, err = m.AddClient(newFakeTransport(), nil)
		assert.ErrorIs(t, err, ErrCapacityExceeded)
		assert.Equal(t, 2, m.Count())
	})

	t.Run("emits connected event", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		var mu sync.Mutex
		var events []Event
		m.Subscribe(func(ev Event) {
			mu.Lock()
			events = append(events, ev)
			mu.Unlock()
		})

		id, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		mu.Lock()
		defer mu.Unlock()
		require.Len(t, events, 1)
		assert.Equal(t, EventClientConnected, events[0].Type)
		assert.Equal(t, id, events[0].ClientID)
	})

	t.Run("rejects after shutdown", func(t *testing.T) {
		m := newTestManager(10)
		m.Shutdown()

		_, err := m.AddClient(newFakeTransport(), nil)
		assert.ErrorIs(t, err, ErrShuttingDown)
	})
}

func TestManagerRemoveClient(t *testing.T) {
	t.Run("removes and closes the transport", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		ft := newFakeTransport()
		id, err := m.AddClient(ft, nil)
		require.NoError(t, err)

		assert.True(t, m.RemoveClient(id))
		assert.Equal(t, 0, m.Count())
		assert.False(t, ft.Open())
	})

	t.Run("idempotent", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		id, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		assert.True(t, m.RemoveClient(id))
		assert.False(t, m.RemoveClient(id))
		assert.False(t, m.RemoveClient("never-existed"))
	})

	t.Run("transport close callback triggers removal", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		ft := newFakeTransport()
		_, err := m.AddClient(ft, nil)
		require.NoError(t, err)

		ft.mu.Lock()
		onClose := ft.onClose
		ft.mu.Unlock()
		require.NotNil(t, onClose)
		onClose()

		assert.Equal(t, 0, m.Count())
	})
}

func TestManagerSendToClient(t *testing.T) {
	msg := &protocol.Outbound{Type: "test_response", Timestamp: time.Now()}

	t.Run("delivers to an open client", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		ft := newFakeTransport()
		id, err := m.AddClient(ft, nil)
		require.NoError(t, err)

		assert.True(t, m.SendToClient(id, msg))
		require.Equal(t, 1, ft.sentCount())

		var got protocol.Outbound
		require.NoError(t, json.Unmarshal(ft.sent[0], &got))
		assert.Equal(t, "test_response", got.Type)
	})

	t.Run("returns false for absent client", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()
		assert.False(t, m.SendToClient("nope", msg))
	})

	t.Run("returns false for closed transport", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		ft := newFakeTransport()
		id, err := m.AddClient(ft, nil)
		require.NoError(t, err)
		ft.Close()

		assert.False(t, m.SendToClient(id, msg))
	})

	t.Run("send failure removes the client", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		ft := newFakeTransport()
		id, err := m.AddClient(ft, nil)
		require.NoError(t, err)
		ft.setSendErr(errors.New("broken pipe"))

		assert.False(t, m.SendToClient(id, msg))
		assert.Equal(t, 0, m.Count())
	})
}

func TestManagerBroadcast(t *testing.T) {
	msg := &protocol.Outbound{Type: "announcement", Timestamp: time.Now()}

	t.Run("delivers to everyone except the excluded client", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		var transports []*fakeTransport
		var ids []string
		for i := 0; i < 3; i++ {
			ft := newFakeTransport()
			id, err := m.AddClient(ft, nil)
			require.NoError(t, err)
			transports = append(transports, ft)
			ids = append(ids, id)
		}

		sent := m.Broadcast(msg, ids[0])
		assert.Equal(t, 2, sent)
		assert.Equal(t, 0, transports[0].sentCount())
		assert.Equal(t, 1, transports[1].sentCount())
		assert.Equal(t, 1, transports[2].sentCount())
	})

	t.Run("one failing client never blocks the rest", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		good1 := newFakeTransport()
		bad := newFakeTransport()
		good2 := newFakeTransport()
		_, err := m.AddClient(good1, nil)
		require.NoError(t, err)
		_, err = m.AddClient(bad, nil)
		require.NoError(t, err)
		_, err = m.AddClient(good2, nil)
		require.NoError(t, err)

		bad.setSendErr(errors.New("broken pipe"))

		sent := m.Broadcast(msg, "")
		assert.Equal(t, 2, sent)
		// the failing client is gone afterwards
		assert.Equal(t, 2, m.Count())
	})

	t.Run("skips closed transports", func(t *testing.T) {
		m := newTestManager(10)
		defer m.Shutdown()

		open := newFakeTransport()
		closing := newFakeTransport()
		_, err := m.AddClient(open, nil)
		require.NoError(t, err)
		_, err = m.AddClient(closing, nil)
		require.NoError(t, err)
		closing.Close()

		assert.Equal(t, 1, m.Broadcast(msg, ""))
	})
}

func TestManagerHeartbeatSweep(t *testing.T) {
	t.Run("evicts idle clients after the timeout", func(t *testing.T) {
		m := NewManager(10, 20*time.Millisecond, 60*time.Millisecond, slog.Default())
		defer m.Shutdown()

		var mu sync.Mutex
		var cleanups []Event
		m.Subscribe(func(ev Event) {
			if ev.Type == EventHeartbeatCleanup {
				mu.Lock()
				cleanups = append(cleanups, ev)
				mu.Unlock()
			}
		})

		_, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return m.Count() == 0
		}, time.Second, 10*time.Millisecond, "idle client should be evicted")

		mu.Lock()
		defer mu.Unlock()
		require.NotEmpty(t, cleanups)
		assert.Equal(t, 1, cleanups[0].Removed)
	})

	t.Run("activity keeps a client alive", func(t *testing.T) {
		m := NewManager(10, 20*time.Millisecond, 60*time.Millisecond, slog.Default())
		defer m.Shutdown()

		id, err := m.AddClient(newFakeTransport(), nil)
		require.NoError(t, err)

		deadline := time.Now().Add(200 * time.Millisecond)
		for time.Now().Before(deadline) {
			m.Touch(id)
			time.Sleep(10 * time.Millisecond)
		}
		assert.Equal(t, 1, m.Count())
	})

	t.Run("probe failure evicts before the timeout", func(t *testing.T) {
		m := NewManager(10, 20*time.Millisecond, time.Hour, slog.Default())
		defer m.Shutdown()

		ft := newFakeTransport()
		ft.pingErr = errors.New("peer gone")
		_, err := m.AddClient(ft, nil)
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			return m.Count() == 0
		}, time.Second, 10*time.Millisecond, "unprobeable client should be evicted")
	})
}

func TestManagerShutdown(t *testing.T) {
	m := newTestManager(10)

	transports := []*fakeTransport{newFakeTransport(), newFakeTransport()}
	for _, ft := range transports {
		_, err := m.AddClient(ft, nil)
		require.NoError(t, err)
	}

	m.Shutdown()
	assert.Equal(t, 0, m.Count())
	for _, ft := range transports {
		assert.False(t, ft.Open())
	}

	// second shutdown is harmless
	m.Shutdown()
}
