// Package run tracks what the executor is doing: idle, recording or
// running, plus progress telemetry for the current run.
package run

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"macroctl/internal/log"
	"macroctl/internal/protocol"
)

// State of the executor as seen by the client.
type State int

const (
	Idle State = iota
	Recording
	Running
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Recording:
		return "recording"
	case Running:
		return "running"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Telemetry is a snapshot of run progress.
type Telemetry struct {
	Status           State `json:"status"`
	CurrentStepIndex *int  `json:"current_step_index,omitempty"`
	CompletedSteps   int   `json:"completed_steps"`
	TotalSteps       int   `json:"total_steps"`
	LoopIndex        int   `json:"loop_index"`
	TotalLoops       int   `json:"total_loops"`
}

// transitions lists the allowed state changes driven by status_update.
var transitions = map[State][]State{
	Idle:      {Recording, Running},
	Recording: {Idle},
	Running:   {Idle},
}

// Controller is the run state machine.
type Controller struct {
	mu       sync.Mutex
	t        Telemetry
	onChange []func(Telemetry)
	logger   *slog.Logger
}

// NewController returns a Controller in Idle.
func NewController(logger *slog.Logger) *Controller {
	if logger == nil {
		logger = log.WithModule("run")
	}
	return &Controller{logger: logger}
}

// OnChange registers fn to be called with the new telemetry after every
// change.
func (c *Controller) OnChange(fn func(Telemetry)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onChange = append(c.onChange, fn)
}

// State returns the current state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t.Status
}

// Telemetry returns a copy of the current telemetry.
func (c *Controller) Telemetry() Telemetry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshotLocked()
}

// HandleStatus applies an executor status report. "recording" and
// "running" enter the matching state; any other status returns to Idle.
// It reports whether the state changed.
func (c *Controller) HandleStatus(status string) bool {
	next := Idle
	switch status {
	case protocol.StatusRecording:
		next = Recording
	case protocol.StatusRunning:
		next = Running
	}
	return c.transition(next, "status "+status)
}

// HandleStepExecuting ingests run progress. It is ignored unless Running.
func (c *Controller) HandleStepExecuting(ev protocol.StepExecuting) {
	c.mu.Lock()
	if c.t.Status != Running {
		c.mu.Unlock()
		c.logger.Debug("ignoring progress outside a run", "index", ev.Index)
		return
	}

	if ev.LoopIndex != nil {
		c.t.LoopIndex = *ev.LoopIndex
	}
	if ev.TotalLoops != nil {
		c.t.TotalLoops = *ev.TotalLoops
	}
	idx := ev.Index
	c.t.CurrentStepIndex = &idx
	if idx > 0 && idx > c.t.CompletedSteps {
		c.t.CompletedSteps = idx
	}
	if ev.TotalSteps != nil {
		c.t.TotalSteps = *ev.TotalSteps
	}
	c.notifyLocked()
}

// HandleCompleted ends the run and resets telemetry.
func (c *Controller) HandleCompleted() {
	c.transition(Idle, "automation completed")
}

// StopConfirmed returns to Idle after stop_automation was sent.
func (c *Controller) StopConfirmed() {
	c.transition(Idle, "stop sent")
}

// ConnectionLost forces Idle when recording or running, since the
// executor can no longer report the end of either. It reports whether
// the state changed.
func (c *Controller) ConnectionLost() bool {
	c.mu.Lock()
	if c.t.Status == Idle {
		c.mu.Unlock()
		return false
	}
	from := c.t.Status
	c.t = Telemetry{Status: Idle}
	c.notifyLocked()
	c.logger.Info("executor lost, forcing idle", "from", from)
	return true
}

func (c *Controller) transition(next State, reason string) bool {
	c.mu.Lock()
	from := c.t.Status
	if from == next {
		c.mu.Unlock()
		return false
	}
	if !allowed(from, next) {
		c.mu.Unlock()
		c.logger.Debug("ignoring transition", "from", from, "to", next, "reason", reason)
		return false
	}

	// Entering or leaving a run starts telemetry from zero.
	c.t = Telemetry{Status: next}
	c.notifyLocked()
	c.logger.Debug("state changed", "from", from, "to", next, "reason", reason)
	return true
}

func allowed(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func (c *Controller) snapshotLocked() Telemetry {
	t := c.t
	if t.CurrentStepIndex != nil {
		idx := *t.CurrentStepIndex
		t.CurrentStepIndex = &idx
	}
	return t
}

// notifyLocked releases c.mu before running callbacks.
func (c *Controller) notifyLocked() {
	snap := c.snapshotLocked()
	callbacks := slices.Clone(c.onChange)
	c.mu.Unlock()
	for _, fn := range callbacks {
		fn(snap)
	}
}
