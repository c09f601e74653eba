// Package editor coordinates step editing, run control and executor
// events. It owns no state of its own beyond the cursor position, the
// clipboard and the copy buffer; the step list lives in store and the run
// state in run.
package editor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"macroctl/internal/flatten"
	"macroctl/internal/log"
	"macroctl/internal/network"
	"macroctl/internal/protocol"
	"macroctl/internal/run"
	"macroctl/internal/step"
	"macroctl/internal/store"
)

// ErrNotConnected is returned by operations that need the executor.
var ErrNotConnected = network.ErrNotConnected

var (
	ErrTooFewSelected      = errors.New("select at least two steps")
	ErrEmptyKey            = errors.New("key must not be empty")
	ErrInvalidLoopCount    = errors.New("loop count must be at least 1, or -1 to repeat until stopped")
	ErrInvalidRandomTiming = errors.New("random timing factors must satisfy 0 < min <= max")
	ErrInvalidWait         = errors.New("wait time must not be negative")
	ErrNothingToRun        = errors.New("no steps to run")
	ErrNothingCopied       = errors.New("nothing copied")
	ErrNothingSelected     = errors.New("no steps selected")
	ErrNoCursorPosition    = errors.New("cursor position unknown")
	ErrNotAGroup           = store.ErrNotAGroup
	ErrStepNotFound        = store.ErrStepNotFound
)

// InputError is an operation rejected before anything was sent or
// changed.
type InputError struct {
	Op  string
	Err error
}

func (e *InputError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *InputError) Unwrap() error { return e.Err }

func inputErr(op string, err error) error {
	return &InputError{Op: op, Err: err}
}

// Sender delivers commands to the executor.
type Sender interface {
	Send(cmd protocol.Command) error
	IsConnected() bool
}

// Notifier shows transient messages to the user.
type Notifier interface {
	Info(format string, args ...any)
	Success(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// Options configures an Editor.
type Options struct {
	// DefaultWaitTime and DefaultRandomize are merged into added steps.
	DefaultWaitTime  float64
	DefaultRandomize bool

	// NestedGroups expands groups inside groups when flattening.
	NestedGroups bool

	Logger *slog.Logger
	Now    func() time.Time
}

// Position is a screen coordinate.
type Position struct {
	X, Y int
}

// Editor is the command surface shared by the console, hotkeys and tray.
type Editor struct {
	store    *store.Store
	run      *run.Controller
	sender   Sender
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu               sync.Mutex
	random           protocol.RandomTiming
	defaultWait      float64
	defaultRandomize bool
	nested           bool
	mouse            *Position
	clipboard        string
	copied           []step.Step

	synced   chan struct{}
	syncOnce sync.Once
}

// New wires an Editor to its collaborators.
func New(st *store.Store, rc *run.Controller, sender Sender, notifier Notifier, opts Options) *Editor {
	logger := opts.Logger
	if logger == nil {
		logger = log.WithModule("editor")
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	e := &Editor{
		store:            st,
		run:              rc,
		sender:           sender,
		notifier:         notifier,
		logger:           logger,
		now:              now,
		random:           protocol.DefaultRandomTiming(),
		defaultWait:      opts.DefaultWaitTime,
		defaultRandomize: opts.DefaultRandomize,
		nested:           opts.NestedGroups,
		synced:           make(chan struct{}),
	}
	e.applyDefaults()
	return e
}

// Store returns the step store.
func (e *Editor) Store() *store.Store { return e.store }

// RunState returns the run controller.
func (e *Editor) RunState() *run.Controller { return e.run }

// Connected reports whether the executor is reachable.
func (e *Editor) Connected() bool { return e.sender.IsConnected() }

// SetDefaultWait changes the wait time merged into new steps.
func (e *Editor) SetDefaultWait(seconds float64) error {
	if seconds < 0 {
		return inputErr("set wait", ErrInvalidWait)
	}
	e.mu.Lock()
	e.defaultWait = seconds
	e.mu.Unlock()
	e.applyDefaults()
	return nil
}

// SetNestedGroups switches recursive group expansion on or off.
func (e *Editor) SetNestedGroups(on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nested = on
}

// applyDefaults pushes wait/randomize defaults into the store. New steps
// are randomized when random timing is enabled.
func (e *Editor) applyDefaults() {
	e.mu.Lock()
	d := store.Defaults{
		WaitTime:  e.defaultWait,
		Randomize: e.defaultRandomize || e.random.Enabled,
	}
	e.mu.Unlock()
	e.store.SetDefaults(d)
}

// Synced is closed once the first executor step list has been adopted.
func (e *Editor) Synced() <-chan struct{} { return e.synced }

// RandomTiming returns the current random timing settings.
func (e *Editor) RandomTiming() protocol.RandomTiming {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.random
}

// MousePosition returns the last cursor position reported by the
// executor.
func (e *Editor) MousePosition() (Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.mouse == nil {
		return Position{}, false
	}
	return *e.mouse, true
}

// Clipboard returns the last clipboard text reported by the executor.
func (e *Editor) Clipboard() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.clipboard
}

// HandleConnectionState reacts to executor channel transitions.
func (e *Editor) HandleConnectionState(s network.State) {
	switch s {
	case network.Connected:
		e.store.ResetPending()
		e.notifier.Success("Connected to executor")
	case network.Disconnected:
		e.store.ResetPending()
		if e.run.ConnectionLost() {
			e.notifier.Warn("Executor disconnected, run state reset to idle")
		}
	}
}

// flattenOpts returns the flatten options currently in effect.
func (e *Editor) flattenOpts() []flatten.Option {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.nested {
		return []flatten.Option{flatten.WithNested()}
	}
	return nil
}

// send delivers a structural edit built for its pending version.
// Offline the edit stays local. The returned error is non-nil only when
// the channel failed mid-send.
func (e *Editor) send(build func(version uint64) protocol.Command) error {
	if !e.sender.IsConnected() {
		e.logger.Debug("offline, keeping edit local")
		return nil
	}
	cmd := build(e.store.MarkPending())
	if err := e.sender.Send(cmd); err != nil {
		e.store.CancelPending()
		e.logger.Warn("send failed, keeping edit local", "type", cmd.Name(), "error", err)
		return err
	}
	return nil
}

func (e *Editor) sendEdit(cmd protocol.Command) error {
	return e.send(func(uint64) protocol.Command { return cmd })
}

// syncList replaces the executor's list with the local one.
func (e *Editor) syncList() error {
	return e.send(func(v uint64) protocol.Command {
		return protocol.UpdateStepsOrder{Steps: e.store.Steps(), Version: v}
	})
}
