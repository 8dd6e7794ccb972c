package storage

const (
	appKind    = "app"
	appStateID = "state"
)

// AppState is the persisted application blob read by the boot loader and
// written through the control API.
type AppState struct {
	store *Store
}

// NewAppState binds the application blob to a store.
func NewAppState(store *Store) *AppState {
	return &AppState{store: store}
}

// ReadState returns the raw blob, or nil when nothing was saved yet.
func (a *AppState) ReadState() ([]byte, error) {
	payload, _, err := a.store.Get(appKind, appStateID)
	return payload, err
}

// WriteState replaces the blob.
func (a *AppState) WriteState(raw []byte) error {
	return a.store.Set(appKind, appStateID, raw)
}

// Version returns the number of writes since the blob was created, 0 if absent.
func (a *AppState) Version() (int64, error) {
	_, version, err := a.store.Get(appKind, appStateID)
	return version, err
}

// Reset removes the blob.
func (a *AppState) Reset() error {
	return a.store.Delete(appKind, appStateID)
}
