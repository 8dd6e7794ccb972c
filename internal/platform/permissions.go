package platform

import (
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// StaticPermissions holds the overlay-draw grant. The operator changes it
// through the control API in place of a system settings screen.
type StaticPermissions struct {
	granted   atomic.Bool
	requested atomic.Int64
}

// NewStaticPermissions creates permissions with the initial grant.
func NewStaticPermissions(granted bool) *StaticPermissions {
	p := &StaticPermissions{}
	p.granted.Store(granted)
	return p
}

// OverlayGranted reports the current grant.
func (p *StaticPermissions) OverlayGranted() bool {
	return p.granted.Load()
}

// RequestOverlay records a request and returns the current grant.
func (p *StaticPermissions) RequestOverlay() bool {
	n := p.requested.Add(1)
	granted := p.granted.Load()
	log.Info().Bool("granted", granted).Int64("requests", n).Msg("Overlay permission requested")
	return granted
}

// SetOverlayGranted changes the grant.
func (p *StaticPermissions) SetOverlayGranted(granted bool) {
	if p.granted.Swap(granted) != granted {
		log.Info().Bool("granted", granted).Msg("Overlay permission changed")
	}
}

// Requests returns how many times the permission was requested.
func (p *StaticPermissions) Requests() int64 {
	return p.requested.Load()
}
