// Package permission is the single decision point for capability checks.
// Every activation path consults it instead of checking permissions itself.
package permission

// Capabilities is a snapshot of the device's capability flags.
type Capabilities struct {
	OverlayDrawGranted      bool `json:"overlay_draw_granted"`
	HasFlashHardware        bool `json:"has_flash_hardware"`
	CameraPermissionGranted bool `json:"camera_permission_granted"`
}

// CanActivate reports whether the overlay may be shown.
func CanActivate(c Capabilities) bool {
	return c.OverlayDrawGranted
}

// CanEnableTorch reports whether the torch may be toggled. A false result
// means "silently do not toggle", never a failure.
func CanEnableTorch(c Capabilities) bool {
	return c.HasFlashHardware && c.CameraPermissionGranted
}

// Prober reads live capability flags from the platform.
type Prober interface {
	OverlayGranted() bool
	HasHardware() bool
	HasPermission() bool
}

// Probe collects the current capabilities from p.
func Probe(p Prober) Capabilities {
	return Capabilities{
		OverlayDrawGranted:      p.OverlayGranted(),
		HasFlashHardware:        p.HasHardware(),
		CameraPermissionGranted: p.HasPermission(),
	}
}
