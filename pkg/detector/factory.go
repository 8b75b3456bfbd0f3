package detector

import (
	"fmt"
	"os"
	"sort"

	"github.com/actionsum/focusbeat/pkg/integrations/wayland"
	"github.com/actionsum/focusbeat/pkg/integrations/x11"
	"github.com/actionsum/focusbeat/pkg/integrations/xdotool"
	"github.com/actionsum/focusbeat/pkg/window"
)

// Supported strategy names.
const (
	StrategyAuto    = "auto"
	StrategyX11     = "x11"
	StrategyXdotool = "xdotool"
	StrategyWayland = "wayland"
)

var strategies = map[string]func() (window.Detector, error){
	StrategyX11: func() (window.Detector, error) {
		det, err := x11.NewDetector()
		if err != nil {
			return nil, err
		}
		return det, nil
	},
	StrategyXdotool: func() (window.Detector, error) {
		return available(xdotool.NewDetector(), "xdotool not found in PATH")
	},
	StrategyWayland: func() (window.Detector, error) {
		return available(wayland.NewDetector(), "no supported wayland compositor (sway, hyprland) found")
	},
	StrategyAuto: newAuto,
}

// Strategies returns the supported strategy names, sorted.
func Strategies() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// IsSupported reports whether name selects a known strategy.
func IsSupported(name string) bool {
	_, ok := strategies[name]
	return ok
}

// New creates the detector for the named strategy. Errors from strategies
// whose environment is missing wrap window.ErrFatal.
func New(strategy string) (window.Detector, error) {
	factory, ok := strategies[strategy]
	if !ok {
		return nil, fmt.Errorf("unsupported window strategy %q (valid: %v)", strategy, Strategies())
	}
	return factory()
}

func available(d window.Detector, reason string) (window.Detector, error) {
	if !d.IsAvailable() {
		d.Close()
		return nil, window.Fatalf("%s", reason)
	}
	return d, nil
}

// newAuto picks the best detector for the current session: compositor IPC
// on Wayland, the native protocol client on X11 and xdotool as last resort.
func newAuto() (window.Detector, error) {
	if DetectDisplayServer() == "wayland" {
		if det := wayland.NewDetector(); det.IsAvailable() {
			return det, nil
		}
	}

	if os.Getenv("DISPLAY") != "" {
		if det, err := x11.NewDetector(); err == nil {
			return det, nil
		}
		if det := xdotool.NewDetector(); det.IsAvailable() {
			return det, nil
		}
	}

	return nil, window.Fatalf("no window detector available for display server %q", DetectDisplayServer())
}

// DetectDisplayServer guesses the session type from the environment
func DetectDisplayServer() string {
	sessionType := os.Getenv("XDG_SESSION_TYPE")
	waylandDisplay := os.Getenv("WAYLAND_DISPLAY")
	x11Display := os.Getenv("DISPLAY")

	if sessionType == "wayland" || waylandDisplay != "" {
		return "wayland"
	}

	if sessionType == "x11" || x11Display != "" {
		return "x11"
	}

	return "unknown"
}
