package overlay

// Notification is the content of the persistent control notification.
type Notification struct {
	Shown          bool `json:"shown"`
	TorchAvailable bool `json:"torch_available"`
	TorchOn        bool `json:"torch_on"`
}

// Action is a button offered by the notification.
type Action struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

// Notification action IDs.
const (
	ActionToggleFilter = "toggle_filter"
	ActionToggleTorch  = "toggle_torch"
)

// Title returns the notification title.
func (n Notification) Title() string {
	return "NightBuddy"
}

// Text returns the notification body.
func (n Notification) Text() string {
	if n.Shown {
		return "Blue light filter is ON"
	}
	return "Blue light filter is OFF"
}

// Actions returns the buttons to offer. The torch button is only present
// when flash hardware exists.
func (n Notification) Actions() []Action {
	filter := Action{ID: ActionToggleFilter, Label: "Turn On"}
	if n.Shown {
		filter.Label = "Turn Off"
	}
	actions := []Action{filter}

	if n.TorchAvailable {
		torch := Action{ID: ActionToggleTorch, Label: "Flash On"}
		if n.TorchOn {
			torch.Label = "Flash Off"
		}
		actions = append(actions, torch)
	}
	return actions
}

// Reminder is the one-shot boot reminder content.
type Reminder struct {
	Title string `json:"title"`
	Text  string `json:"text"`
}

// BootReminder returns the reminder shown after boot when requested.
func BootReminder() Reminder {
	return Reminder{
		Title: "NightBuddy overlay",
		Text:  "Tap to re-enable your filter after reboot.",
	}
}
