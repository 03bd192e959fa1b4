// Package tray provides a system tray interface for the Mudra sign detector.
package tray

import (
	"fmt"
	"sync"

	"github.com/getlantern/systray"
)

// Tray represents the system tray application.
type Tray struct {
	onReload func()
	onOpen   func()
	onQuit   func()
	mu       sync.RWMutex
	last     string

	// Menu items stored for later updates
	menuLastSign *systray.MenuItem
}

// New creates a new Tray instance.
func New() *Tray {
	return &Tray{}
}

// OnReload sets the callback function to be called when "Reload model" is clicked.
func (t *Tray) OnReload(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onReload = fn
}

// OnOpen sets the callback function to be called when "Open in browser" is clicked.
func (t *Tray) OnOpen(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onOpen = fn
}

// OnQuit sets the callback function to be called when the quit menu item is clicked.
func (t *Tray) OnQuit(fn func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.onQuit = fn
}

// Run starts the system tray application.
// This function blocks until Quit is called.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

// Quit closes the tray, making Run return.
func (t *Tray) Quit() {
	systray.Quit()
}

// onReady is called when the system tray is ready.
// It sets up the menu structure.
func (t *Tray) onReady() {
	systray.SetTitle("Mudra")
	systray.SetTooltip("Mudra Sign Detector")

	t.mu.Lock()
	t.menuLastSign = systray.AddMenuItem(lastTitle(t.last), "Last detected sign")
	t.menuLastSign.Disable()
	t.mu.Unlock()
	systray.AddSeparator()

	menuReload := systray.AddMenuItem("Reload model", "Load the model file again")
	menuOpen := systray.AddMenuItem("Open in browser", "Open the live view in a browser")
	systray.AddSeparator()

	menuQuit := systray.AddMenuItem("Quit", "Quit Mudra")

	// Handle menu item clicks in a separate goroutine
	go func() {
		for {
			select {
			case <-menuReload.ClickedCh:
				t.fire(func() func() { return t.onReload })
			case <-menuOpen.ClickedCh:
				t.fire(func() func() { return t.onOpen })
			case <-menuQuit.ClickedCh:
				t.fire(func() func() { return t.onQuit })
				systray.Quit()
				return
			}
		}
	}()
}

func (t *Tray) onExit() {}

// fire reads a callback under the lock and calls it outside the lock.
func (t *Tray) fire(get func() func()) {
	t.mu.RLock()
	callback := get()
	t.mu.RUnlock()

	if callback != nil {
		callback()
	}
}

// SetLastSign updates the last sign display in the menu. An empty label shows
// "none".
func (t *Tray) SetLastSign(label string, confidence float64) {
	var text string
	if label != "" {
		text = fmt.Sprintf("%s (%d%%)", label, int(confidence*100))
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if text == t.last {
		return
	}
	t.last = text
	if t.menuLastSign != nil {
		t.menuLastSign.SetTitle(lastTitle(text))
	}
}

// LastSign returns the text currently shown for the last sign.
func (t *Tray) LastSign() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return lastTitle(t.last)
}

func lastTitle(text string) string {
	if text == "" {
		return "Last: none"
	}
	return "Last: " + text
}
