package window

// WindowInfo represents information about the currently focused window.
// AppName and WindowTitle may be empty when the OS reports none.
type WindowInfo struct {
	AppName     string
	WindowTitle string
}

// Detector is the interface that all window detection strategies must satisfy
type Detector interface {
	// GetFocusedWindow returns information about the currently focused window.
	// Errors wrapping ErrFatal mean the detector can never succeed again.
	GetFocusedWindow() (*WindowInfo, error)

	// IsAvailable checks if this detector can run on the current system
	IsAvailable() bool

	// GetDisplayServer returns the display server type ("x11" or "wayland")
	GetDisplayServer() string

	// Close cleans up any resources used by the detector
	Close() error
}
