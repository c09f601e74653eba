// Package hotkey matches key combinations such as "F6" or "Ctrl+Alt+R"
// against the keys currently held and runs the bound action.
package hotkey

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"macroctl/internal/log"
)

var (
	// ErrEmptyCombo is returned when registering a blank combination.
	ErrEmptyCombo = errors.New("empty key combination")

	// ErrDuplicateCombo is returned when a combination is already bound.
	ErrDuplicateCombo = errors.New("key combination already bound")
)

// Binding is a registered combination.
type Binding struct {
	Combo  string
	Action string
}

// Manager handles hotkey registration and matching
type Manager struct {
	mu           sync.RWMutex
	hotkeys      []*registeredHotkey
	currentState map[string]bool // keys currently held
	logger       *slog.Logger
}

type registeredHotkey struct {
	parts    []string // e.g. ["CTRL", "ALT", "R"]
	original string
	action   string
	callback func()
}

// NewManager creates a new hotkey manager
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = log.WithModule("hotkey")
	}
	return &Manager{
		currentState: make(map[string]bool),
		logger:       logger,
	}
}

// Normalize upper-cases a combination and orders its modifiers so that
// "alt+ctrl+r" and "Ctrl+Alt+R" compare equal.
func Normalize(combo string) string {
	return strings.Join(splitCombo(combo), "+")
}

func splitCombo(combo string) []string {
	raw := strings.Split(strings.ToUpper(combo), "+")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	sort.Strings(parts)
	return parts
}

// Register binds combo to callback under an action name.
func (m *Manager) Register(combo, action string, callback func()) error {
	parts := splitCombo(combo)
	if len(parts) == 0 {
		return ErrEmptyCombo
	}
	key := strings.Join(parts, "+")

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, hk := range m.hotkeys {
		if strings.Join(hk.parts, "+") == key {
			return fmt.Errorf("%w: %s (%s)", ErrDuplicateCombo, combo, hk.action)
		}
	}
	m.hotkeys = append(m.hotkeys, &registeredHotkey{
		parts:    parts,
		original: combo,
		action:   action,
		callback: callback,
	})
	return nil
}

// Clear removes all registered hotkeys
func (m *Manager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hotkeys = nil
	m.currentState = make(map[string]bool)
}

// Bindings lists registered combinations in registration order.
func (m *Manager) Bindings() []Binding {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Binding, len(m.hotkeys))
	for i, hk := range m.hotkeys {
		out[i] = Binding{Combo: hk.original, Action: hk.action}
	}
	return out
}

// UpdateState records a key going down or up. A key going down runs every
// binding whose keys are all held. It returns the number of bindings run.
func (m *Manager) UpdateState(key string, isDown bool) int {
	m.mu.Lock()
	key = strings.ToUpper(strings.TrimSpace(key))
	if isDown {
		m.currentState[key] = true
	} else {
		delete(m.currentState, key)
	}
	m.mu.Unlock()

	if isDown {
		return m.checkMatches()
	}
	return 0
}

// Press runs the bindings for a whole combination, as if its keys were
// pressed together and then released.
func (m *Manager) Press(combo string) int {
	parts := splitCombo(combo)
	fired := 0
	for _, p := range parts {
		fired += m.UpdateState(p, true)
	}
	for _, p := range parts {
		m.UpdateState(p, false)
	}
	return fired
}

func (m *Manager) checkMatches() int {
	m.mu.RLock()
	var matched []*registeredHotkey
	for _, hk := range m.hotkeys {
		match := true
		// All parts of the hotkey must be in currentState
		for _, part := range hk.parts {
			if !m.currentState[part] {
				match = false
				break
			}
		}
		if match && len(hk.parts) == len(m.currentState) {
			matched = append(matched, hk)
		}
	}
	m.mu.RUnlock()

	for _, hk := range matched {
		m.logger.Debug("hotkey triggered", "combo", hk.original, "action", hk.action)
		hk.callback()
	}
	return len(matched)
}
