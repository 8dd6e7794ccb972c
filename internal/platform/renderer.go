// Package platform provides the daemon's concrete collaborators for the
// filter state machine. Without a compositor to draw into, overlay frames
// and notifications are published on the event bus for the API, MQTT and
// script listeners to present.
package platform

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/compositor"
	"github.com/dokzlo13/nightbuddy/internal/eventbus"
)

// Frame is the overlay layer as a presenter should draw it.
type Frame struct {
	Visible bool   `json:"visible"`
	Color   string `json:"color"`
	ARGB    uint32 `json:"argb"`
}

// BusRenderer publishes overlay frames as EventTypeOverlay events.
type BusRenderer struct {
	bus *eventbus.Bus
}

// NewBusRenderer creates a renderer publishing to bus.
func NewBusRenderer(bus *eventbus.Bus) *BusRenderer {
	return &BusRenderer{bus: bus}
}

// Render publishes a visible frame. It fails once the bus is shutting down.
func (r *BusRenderer) Render(c compositor.Color) bool {
	return r.publish(Frame{Visible: true, Color: c.Hex(), ARGB: uint32(c)})
}

// Remove publishes an invisible frame.
func (r *BusRenderer) Remove() bool {
	return r.publish(Frame{Visible: false, Color: compositor.Color(0).Hex()})
}

func (r *BusRenderer) publish(f Frame) bool {
	if closing(r.bus) {
		log.Warn().Bool("visible", f.Visible).Msg("Renderer unavailable, bus closing")
		return false
	}
	r.bus.Publish(eventbus.Event{Type: eventbus.EventTypeOverlay, Data: f})
	return true
}

func closing(bus *eventbus.Bus) bool {
	select {
	case <-bus.Done():
		return true
	default:
		return false
	}
}
