package ledger

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/eventbus"
)

// Recorder appends every status event published on a bus to the ledger.
type Recorder struct {
	ledger      *Ledger
	unsubscribe func()
}

// NewRecorder subscribes to status events. Call Stop to detach.
func NewRecorder(l *Ledger, bus *eventbus.Bus) *Recorder {
	r := &Recorder{ledger: l}
	r.unsubscribe = bus.Subscribe(eventbus.EventTypeStatus, r.record)
	return r
}

// Stop detaches the recorder from the bus.
func (r *Recorder) Stop() {
	r.unsubscribe()
}

func (r *Recorder) record(event eventbus.Event) {
	payload, err := toMap(event.Data)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode status for ledger")
		return
	}

	key, _ := payload["id"].(string)
	reason, _ := payload["reason"].(string)
	if err := r.ledger.Append(EventStatusChanged, key, reason, payload); err != nil {
		log.Error().Err(err).Str("id", key).Msg("Failed to record status")
	}
}

func toMap(v any) (map[string]any, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}
