package editor

import (
	"fmt"

	"macroctl/internal/flatten"
	"macroctl/internal/protocol"
	"macroctl/internal/run"
)

// requireConnected fails op with ErrNotConnected when the executor is
// unreachable.
func (e *Editor) requireConnected(op string) error {
	if !e.sender.IsConnected() {
		return fmt.Errorf("%s: %w", op, ErrNotConnected)
	}
	return nil
}

func validLoopCount(n int) bool {
	return n >= 1 || n == protocol.LoopForever
}

// Run executes the whole list loopCount times, or until stopped when
// loopCount is -1. Groups are expanded before sending.
func (e *Editor) Run(loopCount int) error {
	if !validLoopCount(loopCount) {
		return inputErr("run", ErrInvalidLoopCount)
	}
	if err := e.requireConnected("run"); err != nil {
		return err
	}
	steps := e.store.Steps()
	if len(steps) == 0 {
		return inputErr("run", ErrNothingToRun)
	}

	flat, err := flatten.Flatten(steps, e.flattenOpts()...)
	if err != nil {
		return inputErr("run", err)
	}
	e.logger.Info("starting run", "steps", len(flat), "loops", loopCount)
	return e.sender.Send(protocol.RunAutomation{LoopCount: loopCount, Steps: flat})
}

// RunSelected executes only the selected steps, once, in the order they
// were selected.
func (e *Editor) RunSelected() error {
	if err := e.requireConnected("run selected"); err != nil {
		return err
	}
	picked := flatten.Select(e.store.Steps(), e.store.Selection())
	if len(picked) == 0 {
		return inputErr("run selected", ErrNothingSelected)
	}

	flat, err := flatten.Flatten(picked, e.flattenOpts()...)
	if err != nil {
		return inputErr("run selected", err)
	}
	e.logger.Info("running selection", "steps", len(flat))
	return e.sender.Send(protocol.RunSelectedSteps{Steps: flat})
}

// Stop asks the executor to stop and returns to Idle once the request is
// sent.
func (e *Editor) Stop() error {
	if err := e.requireConnected("stop"); err != nil {
		return err
	}
	if err := e.sender.Send(protocol.StopAutomation{}); err != nil {
		return err
	}
	e.run.StopConfirmed()
	return nil
}

// StartRecording asks the executor to record input into the list.
func (e *Editor) StartRecording() error {
	if err := e.requireConnected("start recording"); err != nil {
		return err
	}
	return e.sender.Send(protocol.StartRecording{})
}

// StopRecording ends a recording session.
func (e *Editor) StopRecording() error {
	if err := e.requireConnected("stop recording"); err != nil {
		return err
	}
	return e.sender.Send(protocol.StopRecording{})
}

// ToggleRecording starts or stops recording based on the current state.
func (e *Editor) ToggleRecording() error {
	if e.run.State() == run.Recording {
		return e.StopRecording()
	}
	return e.StartRecording()
}

// ToggleRun stops a running automation or starts one with loopCount.
func (e *Editor) ToggleRun(loopCount int) error {
	if e.run.State() == run.Running {
		return e.Stop()
	}
	return e.Run(loopCount)
}

// UpdateRandomTiming replaces the random timing settings and mirrors them
// to the executor when connected.
func (e *Editor) UpdateRandomTiming(rt protocol.RandomTiming) error {
	if err := rt.Validate(); err != nil {
		return inputErr("random timing", fmt.Errorf("%w: %v", ErrInvalidRandomTiming, err))
	}
	e.mu.Lock()
	e.random = rt
	e.mu.Unlock()
	e.applyDefaults()

	if !e.sender.IsConnected() {
		return nil
	}
	return e.sender.Send(protocol.UpdateRandomTiming{RandomTiming: rt})
}

// SetRandomEnabled toggles random timing keeping the current factors.
func (e *Editor) SetRandomEnabled(on bool) error {
	rt := e.RandomTiming()
	rt.Enabled = on
	return e.UpdateRandomTiming(rt)
}

// PerformCopy asks the executor to press the platform copy shortcut.
func (e *Editor) PerformCopy() error { return e.device("copy", protocol.PerformCopy{}) }

// PerformPaste asks the executor to press the platform paste shortcut.
func (e *Editor) PerformPaste() error { return e.device("paste", protocol.PerformPaste{}) }

// PerformSelectAll asks the executor to press the select-all shortcut.
func (e *Editor) PerformSelectAll() error {
	return e.device("select all", protocol.PerformSelectAll{})
}

// RequestClipboard asks the executor for its clipboard text. The answer
// arrives as a clipboard_text event.
func (e *Editor) RequestClipboard() error {
	return e.device("get clipboard", protocol.GetClipboard{})
}

// SendKeyCombo presses a key combination such as "ctrl+shift+t" on the
// executor host immediately.
func (e *Editor) SendKeyCombo(combo string) error {
	if combo == "" {
		return inputErr("key press", ErrEmptyKey)
	}
	return e.device("key press", protocol.KeyPress{Key: combo})
}

// SetClipboard replaces the executor host's clipboard text.
func (e *Editor) SetClipboard(text string) error {
	return e.device("set clipboard", protocol.SetClipboard{Text: text})
}

func (e *Editor) device(op string, cmd protocol.Command) error {
	if err := e.requireConnected(op); err != nil {
		return err
	}
	return e.sender.Send(cmd)
}
