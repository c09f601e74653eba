// Package tray shows run controls in the system tray using
// getlantern/systray.
package tray

import (
	"sync"

	"github.com/getlantern/systray"
)

// MenuItem represents a menu item
type MenuItem struct {
	ID       int
	Title    string
	Callback func()
	item     *systray.MenuItem
}

// Tray manages the system tray icon and menu
type Tray struct {
	mu      sync.Mutex
	title   string
	tooltip string
	items   []*MenuItem
	ready   bool
	onExit  func()
	quitCh  chan struct{}
}

// New creates a new system tray
func New(title, tooltip string) *Tray {
	return &Tray{
		title:   title,
		tooltip: tooltip,
		quitCh:  make(chan struct{}),
	}
}

// AddMenuItem adds a menu item to the tray. Items must be added before
// Run.
func (t *Tray) AddMenuItem(title string, callback func()) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	id := len(t.items)
	t.items = append(t.items, &MenuItem{ID: id, Title: title, Callback: callback})
	return id
}

// AddSeparator adds a separator to the menu
func (t *Tray) AddSeparator() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.items = append(t.items, nil) // nil indicates separator
}

// SetItemEnabled enables or greys out a menu item.
func (t *Tray) SetItemEnabled(id int, enabled bool) {
	if mi := t.menuItem(id); mi != nil {
		if enabled {
			mi.Enable()
		} else {
			mi.Disable()
		}
	}
}

// SetItemTitle relabels a menu item.
func (t *Tray) SetItemTitle(id int, title string) {
	if mi := t.menuItem(id); mi != nil {
		mi.SetTitle(title)
	}
}

func (t *Tray) menuItem(id int) *systray.MenuItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.ready || id < 0 || id >= len(t.items) || t.items[id] == nil {
		return nil
	}
	return t.items[id].item
}

// SetStatus updates the title and tooltip once the tray is up.
func (t *Tray) SetStatus(title, tooltip string) {
	t.mu.Lock()
	t.title, t.tooltip = title, tooltip
	ready := t.ready
	t.mu.Unlock()
	if ready {
		systray.SetTitle(title)
		systray.SetTooltip(tooltip)
	}
}

// OnExit registers fn to run after the tray loop ends.
func (t *Tray) OnExit(fn func()) {
	t.onExit = fn
}

// Run starts the tray event loop (blocks)
func (t *Tray) Run() {
	systray.Run(t.setupMenu, func() {
		close(t.quitCh)
		if t.onExit != nil {
			t.onExit()
		}
	})
}

// setupMenu is called when systray is ready
func (t *Tray) setupMenu() {
	t.mu.Lock()
	systray.SetTitle(t.title)
	systray.SetTooltip(t.tooltip)
	systray.SetIcon(getIcon())

	for _, menuItem := range t.items {
		if menuItem == nil {
			systray.AddSeparator()
			continue
		}
		menuItem.item = systray.AddMenuItem(menuItem.Title, "")
		if menuItem.Callback != nil {
			go func(mi *MenuItem) {
				for {
					select {
					case <-mi.item.ClickedCh:
						mi.Callback()
					case <-t.quitCh:
						return
					}
				}
			}(menuItem)
		}
	}
	t.ready = true
	t.mu.Unlock()
}

// Stop stops the tray
func (t *Tray) Stop() {
	systray.Quit()
}

// getIcon returns a placeholder icon (valid 16x16 ICO)
func getIcon() []byte {
	icon := make([]byte, 1118)
	// ICO Header
	copy(icon[0:6], []byte{0x00, 0x00, 0x01, 0x00, 0x01, 0x00})
	// Icon Directory: 1024 pixel bytes + 40 header + 32 mask
	copy(icon[6:22], []byte{
		0x10, 0x10, 0x00, 0x00, 0x01, 0x00, 0x20, 0x00,
		0x48, 0x04, 0x00, 0x00,
		0x16, 0x00, 0x00, 0x00,
	})
	// DIB Header, height doubled for the mask
	copy(icon[22:62], []byte{
		0x28, 0x00, 0x00, 0x00,
		0x10, 0x00, 0x00, 0x00,
		0x20, 0x00, 0x00, 0x00,
		0x01, 0x00,
		0x20, 0x00,
		0x00, 0x00, 0x00, 0x00,
		0x00, 0x04, 0x00, 0x00,
	})
	// Pixels and mask stay 0 for transparency.
	return icon
}
