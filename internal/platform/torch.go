package platform

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog/log"
)

// SysfsTorch drives a flash LED exposed under /sys/class/leds.
type SysfsTorch struct {
	dir string
}

// NewSysfsTorch creates a torch for the LED directory. An empty dir means
// the device has no flash.
func NewSysfsTorch(dir string) *SysfsTorch {
	return &SysfsTorch{dir: dir}
}

// HasHardware reports whether the LED's brightness file exists.
func (t *SysfsTorch) HasHardware() bool {
	if t.dir == "" {
		return false
	}
	_, err := os.Stat(t.brightnessPath())
	return err == nil
}

// HasPermission reports whether the brightness file is writable.
func (t *SysfsTorch) HasPermission() bool {
	if !t.HasHardware() {
		return false
	}
	f, err := os.OpenFile(t.brightnessPath(), os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

// Set switches the LED to max brightness or off.
func (t *SysfsTorch) Set(on bool) bool {
	if t.dir == "" {
		return false
	}

	value := "0"
	if on {
		value = strconv.Itoa(t.maxBrightness())
	}
	if err := os.WriteFile(t.brightnessPath(), []byte(value+"\n"), 0); err != nil {
		log.Warn().Err(err).Str("led", t.dir).Bool("on", on).Msg("Failed to set torch")
		return false
	}
	log.Debug().Str("led", t.dir).Bool("on", on).Msg("Torch set")
	return true
}

func (t *SysfsTorch) brightnessPath() string {
	return filepath.Join(t.dir, "brightness")
}

func (t *SysfsTorch) maxBrightness() int {
	raw, err := os.ReadFile(filepath.Join(t.dir, "max_brightness"))
	if err != nil {
		return 1
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || v <= 0 {
		return 1
	}
	return v
}
