package dashboard

import (
	"context"
	"errors"
	"time"

	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/internal/websocket"
	"github.com/cloudradar/livemap/pkg/logger"
)

// Toggle is the ingester switch as seen by presentation clients
type Toggle interface {
	Request(ctx context.Context, target int) error
	State() toggle.State
}

// WebSocketHandler handles the messages presentation clients send
type WebSocketHandler struct {
	engine *Engine
	toggle Toggle
	creds  toggle.CredentialStore
	logger *logger.Logger

	// toggleTimeout bounds a change requested over the socket
	toggleTimeout time.Duration
}

// NewWebSocketHandler creates a handler. toggle and creds may be nil when the
// ingester switch is disabled.
func NewWebSocketHandler(engine *Engine, tgl Toggle, creds toggle.CredentialStore, log *logger.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		engine:        engine,
		toggle:        tgl,
		creds:         creds,
		logger:        log.Named("dashboard-ws-handler"),
		toggleTimeout: 2 * time.Minute,
	}
}

// HandleMessage dispatches one client message
func (h *WebSocketHandler) HandleMessage(client *websocket.Client, messageType string, data map[string]any) error {
	switch messageType {
	case websocket.MessageTypeSelectAircraft:
		id, _ := data["id"].(string)
		if id == "" {
			return errors.New("missing aircraft id")
		}
		_, err := h.engine.Select(id)
		return err

	case websocket.MessageTypeClearSelection:
		h.engine.ClearSelection()
		return nil

	case websocket.MessageTypeSetZoom:
		zoom, ok := data["zoom"].(float64)
		if !ok {
			return errors.New("missing zoom")
		}
		return h.engine.SetZoom(zoom)

	case websocket.MessageTypeToggleIngester:
		return h.handleToggle(data)

	default:
		h.logger.Debug("Unhandled message type", logger.String("type", messageType))
		return nil
	}
}

// handleToggle starts a change and returns at once; progress is announced
// through toggle_update messages
func (h *WebSocketHandler) handleToggle(data map[string]any) error {
	if h.toggle == nil {
		return errors.New("ingester toggle is disabled")
	}

	enabled, ok := data["enabled"].(bool)
	if !ok {
		return errors.New("missing enabled flag")
	}
	target := ToggleTarget(enabled)

	username, _ := data["username"].(string)
	password, _ := data["password"].(string)
	if username != "" && h.creds != nil {
		h.creds.Set(toggle.Credentials{Username: username, Password: password})
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.toggleTimeout)
		defer cancel()
		if err := h.toggle.Request(ctx, target); err != nil {
			h.logger.Warn("Ingester toggle failed", logger.Int("target", target), logger.Error(err))
		}
	}()
	return nil
}

// HandleConnect sends a new client everything it needs to draw the map
func (h *WebSocketHandler) HandleConnect(client *websocket.Client) {
	messages := []*websocket.Message{
		statusMessage(h.engine.Status()),
		iconsMessage(h.engine.Icons()),
		framesMessage(h.engine.Markers(), false),
		selectionMessage(h.engine.Selection()),
	}
	if h.toggle != nil {
		messages = append(messages, ToggleMessage(h.toggle.State()))
	}

	for _, message := range messages {
		if !client.SendMessage(message) {
			h.logger.Warn("Client send channel full, dropping initial state",
				logger.String("type", message.Type))
			return
		}
	}
}

// ToggleTarget converts the enabled flag of a toggle request
func ToggleTarget(enabled bool) int {
	if enabled {
		return 1
	}
	return 0
}
