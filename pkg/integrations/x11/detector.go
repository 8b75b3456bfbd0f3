package x11

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/jezek/xgb"
	"github.com/jezek/xgb/xproto"
	"go.uber.org/zap"

	"github.com/actionsum/focusbeat/pkg/window"
)

const (
	activeWindowAttempts = 3
	activeWindowBackoff  = 20 * time.Millisecond

	// Upper bound, in 32-bit units, for string properties we read.
	propertyLength = 256
)

var atomNames = []string{
	"_NET_ACTIVE_WINDOW",
	"_NET_WM_NAME",
	"WM_NAME",
	"WM_CLASS",
	"UTF8_STRING",
}

// SetLogger routes the protocol library's diagnostics, which otherwise go
// straight to stderr, through logger.
func SetLogger(logger *zap.Logger) {
	std, err := zap.NewStdLogAt(logger.Named("xgb"), zap.WarnLevel)
	if err != nil {
		return
	}
	xgb.Logger = std
}

// Detector implements window.Detector by talking the X11 protocol directly.
// One connection is held for the detector's lifetime.
type Detector struct {
	conn  *xgb.Conn
	root  xproto.Window
	atoms map[string]xproto.Atom
}

// NewDetector connects to the X server named by DISPLAY. Both a missing
// DISPLAY and a refused connection are fatal: polling cannot recover them.
func NewDetector() (*Detector, error) {
	if os.Getenv("DISPLAY") == "" {
		return nil, window.Fatalf("DISPLAY environment variable not set")
	}

	conn, err := xgb.NewConn()
	if err != nil {
		return nil, window.Fatal(fmt.Errorf("failed to connect to X server: %w", err))
	}

	d := &Detector{
		conn:  conn,
		root:  xproto.Setup(conn).DefaultScreen(conn).Root,
		atoms: make(map[string]xproto.Atom, len(atomNames)),
	}

	for _, name := range atomNames {
		reply, err := xproto.InternAtom(conn, false, uint16(len(name)), name).Reply()
		if err != nil {
			conn.Close()
			return nil, window.Fatal(fmt.Errorf("failed to intern atom %s: %w", name, err))
		}
		d.atoms[name] = reply.Atom
	}

	return d, nil
}

// IsAvailable reports whether the connection is established
func (d *Detector) IsAvailable() bool {
	return d != nil && d.conn != nil
}

// GetDisplayServer returns "x11"
func (d *Detector) GetDisplayServer() string {
	return "x11"
}

// GetFocusedWindow returns information about the currently focused window.
// When nothing has focus (e.g. the desktop) an empty descriptor is returned.
func (d *Detector) GetFocusedWindow() (*window.WindowInfo, error) {
	if d.conn == nil {
		return nil, window.Fatalf("x11 detector is closed")
	}

	win, err := d.activeWindow()
	if errors.Is(err, io.EOF) {
		return nil, window.Fatal(fmt.Errorf("lost connection to X server: %w", err))
	}
	if err != nil {
		return nil, err
	}
	if win == 0 {
		return &window.WindowInfo{}, nil
	}

	instance, class := d.windowClass(win)
	appName := class
	if appName == "" {
		appName = instance
	}

	return &window.WindowInfo{
		AppName:     appName,
		WindowTitle: d.windowName(win),
	}, nil
}

// activeWindow resolves the focused top-level window. _NET_ACTIVE_WINDOW is
// preferred; the input focus walked up to its top-level parent is the
// fallback for window managers that do not set it.
func (d *Detector) activeWindow() (xproto.Window, error) {
	var lastErr error
	for i := 0; i < activeWindowAttempts; i++ {
		if i > 0 {
			time.Sleep(activeWindowBackoff)
		}

		data, err := d.property(d.root, d.atoms["_NET_ACTIVE_WINDOW"], xproto.AtomWindow, 1)
		if errors.Is(err, io.EOF) {
			return 0, err
		}
		if err != nil {
			lastErr = fmt.Errorf("failed to read _NET_ACTIVE_WINDOW: %w", err)
			continue
		}
		if win := decodeWindow(data); win != 0 && d.hasName(win) {
			return win, nil
		}

		focus, err := xproto.GetInputFocus(d.conn).Reply()
		if errors.Is(err, io.EOF) {
			return 0, err
		}
		if err != nil {
			lastErr = fmt.Errorf("failed to get input focus: %w", err)
			continue
		}
		if focus.Focus != 0 && focus.Focus != d.root {
			if top := d.topLevel(focus.Focus); top != 0 && d.hasName(top) {
				return top, nil
			}
		}
		lastErr = nil
	}
	return 0, lastErr
}

func (d *Detector) topLevel(win xproto.Window) xproto.Window {
	for {
		reply, err := xproto.QueryTree(d.conn, win).Reply()
		if err != nil || reply.Parent == d.root || reply.Parent == 0 {
			return win
		}
		win = reply.Parent
	}
}

func (d *Detector) property(win xproto.Window, atom, atomType xproto.Atom, length uint32) ([]byte, error) {
	reply, err := xproto.GetProperty(d.conn, false, win, atom, atomType, 0, length).Reply()
	if err != nil {
		return nil, err
	}
	return reply.Value, nil
}

func (d *Detector) hasName(win xproto.Window) bool {
	if data, _ := d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], 1); len(data) > 0 {
		return true
	}
	data, _ := d.property(win, d.atoms["WM_NAME"], xproto.AtomString, 1)
	return len(data) > 0
}

func (d *Detector) windowName(win xproto.Window) string {
	if data, err := d.property(win, d.atoms["_NET_WM_NAME"], d.atoms["UTF8_STRING"], propertyLength); err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	if data, err := d.property(win, d.atoms["WM_NAME"], xproto.AtomString, propertyLength); err == nil && len(data) > 0 {
		return strings.TrimRight(string(data), "\x00")
	}
	return ""
}

func (d *Detector) windowClass(win xproto.Window) (instance, class string) {
	data, err := d.property(win, d.atoms["WM_CLASS"], xproto.AtomString, propertyLength)
	if err != nil {
		return "", ""
	}
	return parseWMClass(data)
}

// parseWMClass splits the NUL separated WM_CLASS value into instance and class.
func parseWMClass(data []byte) (instance, class string) {
	value := strings.TrimRight(string(data), "\x00")
	if value == "" {
		return "", ""
	}
	parts := strings.Split(value, "\x00")
	instance = parts[0]
	if len(parts) >= 2 {
		class = parts[1]
	}
	return instance, class
}

func decodeWindow(data []byte) xproto.Window {
	if len(data) < 4 {
		return 0
	}
	return xproto.Window(binary.LittleEndian.Uint32(data))
}

// Close releases the X connection
func (d *Detector) Close() error {
	if d.conn != nil {
		d.conn.Close()
		d.conn = nil
	}
	return nil
}
