package dashboard

import (
	"time"

	"github.com/cloudradar/livemap/internal/markers"
	"github.com/cloudradar/livemap/internal/toggle"
	"github.com/cloudradar/livemap/internal/websocket"
)

func framesMessage(rendered []Marker, animating bool) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeMarkersFrame,
		Data: map[string]any{
			"markers":   rendered,
			"count":     len(rendered),
			"animating": animating,
			"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
		},
	}
}

func iconsMessage(icons map[string]*markers.Icon) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeMarkerIcons,
		Data: map[string]any{"icons": icons},
	}
}

func statusMessage(status Status) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeStatusUpdate,
		Data: map[string]any{"status": status},
	}
}

// selectionMessage announces the detail pane; nil means nothing is selected
func selectionMessage(selection *Selection) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeTrackUpdate,
		Data: map[string]any{"selection": selection},
	}
}

// ToggleMessage announces a change of the ingester toggle
func ToggleMessage(state toggle.State) *websocket.Message {
	return &websocket.Message{
		Type: websocket.MessageTypeToggleUpdate,
		Data: map[string]any{"toggle": state},
	}
}
