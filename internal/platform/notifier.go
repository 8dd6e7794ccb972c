package platform

import (
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
	"github.com/dokzlo13/nightbuddy/internal/overlay"
)

// NotificationKind distinguishes the persistent control notification from
// the boot reminder.
type NotificationKind string

const (
	KindControl  NotificationKind = "control"
	KindReminder NotificationKind = "reminder"
)

// NotificationView is a rendered notification.
type NotificationView struct {
	Kind    NotificationKind `json:"kind"`
	Visible bool             `json:"visible"`
	Title   string           `json:"title,omitempty"`
	Text    string           `json:"text,omitempty"`
	Actions []overlay.Action `json:"actions,omitempty"`
}

// BusNotifier publishes notifications as EventTypeNotification events and
// logs them.
type BusNotifier struct {
	bus *eventbus.Bus
}

// NewBusNotifier creates a notifier publishing to bus.
func NewBusNotifier(bus *eventbus.Bus) *BusNotifier {
	return &BusNotifier{bus: bus}
}

// Present shows or updates the control notification.
func (n *BusNotifier) Present(note overlay.Notification) bool {
	view := NotificationView{
		Kind:    KindControl,
		Visible: true,
		Title:   note.Title(),
		Text:    note.Text(),
		Actions: note.Actions(),
	}
	log.Info().Str("title", view.Title).Str("text", view.Text).Int("actions", len(view.Actions)).Msg("Notification")
	return n.publish(view)
}

// Dismiss hides the control notification.
func (n *BusNotifier) Dismiss() bool {
	log.Debug().Msg("Notification dismissed")
	return n.publish(NotificationView{Kind: KindControl, Visible: false})
}

// Remind posts the one-shot boot reminder.
func (n *BusNotifier) Remind() bool {
	r := overlay.BootReminder()
	log.Info().Str("title", r.Title).Str("text", r.Text).Msg("Reminder")
	return n.publish(NotificationView{Kind: KindReminder, Visible: true, Title: r.Title, Text: r.Text})
}

func (n *BusNotifier) publish(v NotificationView) bool {
	if closing(n.bus) {
		return false
	}
	n.bus.Publish(eventbus.Event{Type: eventbus.EventTypeNotification, Data: v})
	return true
}
