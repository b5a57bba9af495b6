package dashboard

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudradar/livemap/internal/flight"
	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/internal/websocket"
	"github.com/cloudradar/livemap/pkg/logger"
)

type fakeToggle struct {
	mu      sync.Mutex
	targets []int
}

func (f *fakeToggle) Request(ctx context.Context, target int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, target)
	return nil
}

func (f *fakeToggle) State() toggle.State {
	return toggle.State{Known: toggle.KnownOff}
}

func (f *fakeToggle) requested() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.targets...)
}

func TestWebSocketHandler(t *testing.T) {
	up := &fakeUpstream{}
	up.push(snapshot(flight.Epoch(100), aircraft("abc123", 48.0, 2.0, 10)))
	engine, _, _ := newTestEngine(t, up)
	engine.refresh(context.Background())

	tgl := &fakeToggle{}
	creds := &toggle.MemoryCredentials{}
	handler := NewWebSocketHandler(engine, tgl, creds, logger.Nop())

	t.Run("select and clear", func(t *testing.T) {
		assert.Error(t, handler.HandleMessage(nil, websocket.MessageTypeSelectAircraft, map[string]any{}))
		assert.ErrorIs(t,
			handler.HandleMessage(nil, websocket.MessageTypeSelectAircraft, map[string]any{"id": "zzz"}),
			ErrUnknownAircraft)

		require.NoError(t, handler.HandleMessage(nil, websocket.MessageTypeSelectAircraft, map[string]any{"id": "ABC123"}))
		require.NotNil(t, engine.Selection())
		assert.Equal(t, "abc123", engine.Selection().ID)

		require.NoError(t, handler.HandleMessage(nil, websocket.MessageTypeClearSelection, nil))
		assert.Nil(t, engine.Selection())
	})

	t.Run("zoom", func(t *testing.T) {
		assert.Error(t, handler.HandleMessage(nil, websocket.MessageTypeSetZoom, map[string]any{"zoom": "big"}))
		assert.ErrorIs(t, handler.HandleMessage(nil, websocket.MessageTypeSetZoom, map[string]any{"zoom": 40.0}), ErrInvalidZoom)
		require.NoError(t, handler.HandleMessage(nil, websocket.MessageTypeSetZoom, map[string]any{"zoom": 11.0}))
		assert.Equal(t, 11.0, engine.Zoom())
	})

	t.Run("toggle", func(t *testing.T) {
		assert.Error(t, handler.HandleMessage(nil, websocket.MessageTypeToggleIngester, map[string]any{}))

		require.NoError(t, handler.HandleMessage(nil, websocket.MessageTypeToggleIngester, map[string]any{
			"enabled":  true,
			"username": "admin",
			"password": "secret",
		}))
		require.Eventually(t, func() bool { return len(tgl.requested()) == 1 }, 2*time.Second, 5*time.Millisecond)
		assert.Equal(t, []int{1}, tgl.requested())

		stored, ok := creds.Get()
		require.True(t, ok)
		assert.Equal(t, "admin", stored.Username)
	})

	t.Run("toggle disabled", func(t *testing.T) {
		disabled := NewWebSocketHandler(engine, nil, nil, logger.Nop())
		assert.Error(t, disabled.HandleMessage(nil, websocket.MessageTypeToggleIngester, map[string]any{"enabled": false}))
	})

	t.Run("unknown type", func(t *testing.T) {
		assert.NoError(t, handler.HandleMessage(nil, "ping", nil))
	})
}

func TestToggleMessage(t *testing.T) {
	message := ToggleMessage(toggle.State{Known: toggle.KnownOn})
	assert.Equal(t, websocket.MessageTypeToggleUpdate, message.Type)
	assert.Equal(t, toggle.KnownOn, message.Data["toggle"].(toggle.State).Known)
	assert.Equal(t, 1, ToggleTarget(true))
	assert.Equal(t, 0, ToggleTarget(false))
}
