package bootconfig

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/nightbuddy/internal/model"
)

// Source reads the raw persisted state blob. A missing blob is reported as
// (nil, nil).
type Source interface {
	ReadState() ([]byte, error)
}

// Loader turns a Source into decoded snapshots.
type Loader struct {
	source Source
}

// NewLoader creates a loader reading from source.
func NewLoader(source Source) *Loader {
	return &Loader{source: source}
}

// Load returns the current persisted state, or nil when it is absent,
// unreadable or malformed. Failures are logged, never returned.
func (l *Loader) Load() *model.PersistedState {
	raw, err := l.source.ReadState()
	if err != nil {
		log.Warn().Err(err).Msg("Failed to read persisted state")
		return nil
	}

	state, err := Decode(raw)
	switch {
	case err == nil:
		return state
	case errors.Is(err, ErrAbsent):
		log.Debug().Msg("No persisted state")
	default:
		log.Warn().Err(err).Msg("Ignoring malformed persisted state")
	}
	return nil
}
