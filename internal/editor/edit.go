package editor

import (
	"errors"
	"fmt"
	"slices"
	"strings"

	"macroctl/internal/protocol"
	"macroctl/internal/step"
	"macroctl/internal/store"
)

// hotkeyStepWait is the wait after each step of a Ctrl+key sequence.
const hotkeyStepWait = 0.1

// Add appends a step and mirrors it to the executor.
func (e *Editor) Add(t step.Type, data step.Data) (step.Step, error) {
	st := e.store.Build(t, data)
	if err := step.Validate(st); err != nil {
		return step.Step{}, inputErr("add", err)
	}
	if err := e.store.Append(st); err != nil {
		return step.Step{}, inputErr("add", err)
	}
	return st, e.sendEdit(protocol.AddStep{Data: st.Data})
}

// AddMouseMove adds a move to an explicit position.
func (e *Editor) AddMouseMove(x, y int) (step.Step, error) {
	return e.Add(step.TypeMouseMove, step.Data{X: step.Int(x), Y: step.Int(y)})
}

// CapturePosition adds a move to the last observed cursor position.
func (e *Editor) CapturePosition() (step.Step, error) {
	pos, ok := e.MousePosition()
	if !ok {
		return step.Step{}, inputErr("capture position", ErrNoCursorPosition)
	}
	return e.AddMouseMove(pos.X, pos.Y)
}

// AddClick adds a click with button at the last observed cursor position,
// or at the current position during execution when none is known.
func (e *Editor) AddClick(button string, double bool) (step.Step, error) {
	t := step.TypeMouseClick
	if double {
		t = step.TypeMouseDoubleClick
	}
	data := step.Data{Button: button}
	if pos, ok := e.MousePosition(); ok {
		data.X, data.Y = step.Int(pos.X), step.Int(pos.Y)
	}
	return e.Add(t, data)
}

// AddKeyPress adds a key press with optional modifiers.
func (e *Editor) AddKeyPress(key string, modifiers []string) (step.Step, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return step.Step{}, inputErr("add key press", ErrEmptyKey)
	}
	return e.Add(step.TypeKeyPress, step.Data{Key: key, Modifiers: modifiers})
}

// AddShortcut adds a shortcut step whose key is the joined combination,
// e.g. "ctrl+shift+t".
func (e *Editor) AddShortcut(modifiers []string, key string) (step.Step, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return step.Step{}, inputErr("add shortcut", ErrEmptyKey)
	}
	combo := strings.Join(append(slices.Clone(modifiers), key), "+")
	return e.Add(step.TypeKeyPress, step.Data{Key: combo, IsShortcut: true})
}

// AddHotkeySequence adds Ctrl down, key press and Ctrl up as three steps.
func (e *Editor) AddHotkeySequence(key string) ([]step.Step, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return nil, inputErr("add hotkey sequence", ErrEmptyKey)
	}
	seq := []step.Data{
		{Key: "ctrl", Action: "down", WaitTime: step.Float(hotkeyStepWait)},
		{Key: key, Action: "press", WaitTime: step.Float(hotkeyStepWait)},
		{Key: "ctrl", Action: "up", WaitTime: step.Float(hotkeyStepWait)},
	}
	added := make([]step.Step, 0, len(seq))
	for _, d := range seq {
		st, err := e.Add(step.TypeKeyPress, d)
		if err != nil {
			return added, err
		}
		added = append(added, st)
	}
	return added, nil
}

// AddWait adds a standalone wait step.
func (e *Editor) AddWait(seconds float64) (step.Step, error) {
	if seconds < 0 {
		return step.Step{}, inputErr("add wait", ErrInvalidWait)
	}
	return e.Add(step.TypeWait, step.Data{WaitTime: step.Float(seconds)})
}

// Delete removes the given steps and mirrors the deletion by id.
func (e *Editor) Delete(ids []string) (int, error) {
	n := e.store.Delete(ids)
	if n == 0 {
		return 0, nil
	}
	return n, e.sendEdit(protocol.DeleteSteps{StepIDs: ids})
}

// DeleteSelected removes every selected step and replaces the executor's
// list.
func (e *Editor) DeleteSelected() (int, error) {
	sel := e.store.Selection()
	if len(sel) == 0 {
		return 0, inputErr("delete selected", ErrNothingSelected)
	}
	n := e.store.Delete(sel)
	return n, e.syncList()
}

// Clear removes every step.
func (e *Editor) Clear() error {
	e.store.Clear()
	return e.sendEdit(protocol.ClearSteps{})
}

// Reorder replaces the list with a permutation of itself.
func (e *Editor) Reorder(newOrder []step.Step) error {
	if err := e.store.Reorder(newOrder); err != nil {
		return inputErr("reorder", err)
	}
	return e.syncList()
}

// Move relocates one top-level step to index to, clamped to the list.
func (e *Editor) Move(id string, to int) error {
	list := e.store.Steps()
	from := slices.IndexFunc(list, func(s step.Step) bool { return s.ID == id })
	if from < 0 {
		return inputErr("move", fmt.Errorf("%w: %s", ErrStepNotFound, id))
	}
	moved := list[from]
	list = slices.Delete(list, from, from+1)
	to = max(0, min(to, len(list)))
	list = slices.Insert(list, to, moved)
	return e.Reorder(list)
}

// CopySelected snapshots the selected steps in list order.
func (e *Editor) CopySelected() (int, error) {
	ids := e.store.SelectionInListOrder()
	if len(ids) == 0 {
		return 0, inputErr("copy", ErrNothingSelected)
	}
	snap := e.store.Copy(ids)
	e.mu.Lock()
	e.copied = snap
	e.mu.Unlock()
	return len(snap), nil
}

// Paste inserts fresh copies of the copied steps after the selected step
// with the highest position, or at the end when nothing is selected.
func (e *Editor) Paste() ([]step.Step, error) {
	e.mu.Lock()
	snap := step.CloneAll(e.copied)
	e.mu.Unlock()
	if len(snap) == 0 {
		return nil, inputErr("paste", ErrNothingCopied)
	}

	anchor, _ := e.store.LastSelected()
	pasted := e.store.Paste(snap, anchor)
	return pasted, e.syncList()
}

// InsertWaitBetweenSelected puts one wait step between each adjacent pair
// of selected steps, in list order.
func (e *Editor) InsertWaitBetweenSelected(seconds float64) ([]step.Step, error) {
	if seconds < 0 {
		return nil, inputErr("insert wait", ErrInvalidWait)
	}
	sel := e.store.Selection()
	if len(sel) < 2 {
		return nil, inputErr("insert wait", ErrTooFewSelected)
	}
	inserted := e.store.InsertWaitBetween(sel, seconds)
	if len(inserted) == 0 {
		return nil, inputErr("insert wait", ErrTooFewSelected)
	}
	return inserted, e.syncList()
}

// GroupSelected moves the selected steps into a new group at the end of
// the list. An empty name gets a numbered default.
func (e *Editor) GroupSelected(name string) (step.Step, error) {
	sel := e.store.Selection()
	if len(sel) < 2 {
		return step.Step{}, inputErr("group", ErrTooFewSelected)
	}
	if strings.TrimSpace(name) == "" {
		name = fmt.Sprintf("Group %d", e.groupCount()+1)
	}
	g, err := e.store.Group(sel, name)
	if err != nil {
		if errors.Is(err, store.ErrTooFewSteps) {
			return step.Step{}, inputErr("group", ErrTooFewSelected)
		}
		return step.Step{}, inputErr("group", err)
	}
	return g, e.syncList()
}

func (e *Editor) groupCount() int {
	n := 0
	for _, s := range e.store.Steps() {
		if s.IsGroup() {
			n++
		}
	}
	return n
}

// Ungroup dissolves a group, appending its children to the list.
func (e *Editor) Ungroup(id string) ([]step.Step, error) {
	children, err := e.store.Ungroup(id)
	if err != nil {
		return nil, inputErr("ungroup", err)
	}
	return children, e.syncList()
}

// SetGroupLoopCount changes how many times a group repeats.
func (e *Editor) SetGroupLoopCount(id string, n int) error {
	if n < 1 {
		return inputErr("set loop count", ErrInvalidLoopCount)
	}
	if err := e.store.SetGroupLoopCount(id, n); err != nil {
		return inputErr("set loop count", err)
	}
	return e.syncList()
}

// RenameGroup changes a group's name.
func (e *Editor) RenameGroup(id, name string) error {
	if err := e.store.RenameGroup(id, name); err != nil {
		return inputErr("rename group", err)
	}
	return e.syncList()
}

// ToggleCollapsed flips a group's display flag. It is not sent to the
// executor.
func (e *Editor) ToggleCollapsed(id string) (bool, error) {
	collapsed, err := e.store.ToggleCollapsed(id)
	if err != nil {
		return false, inputErr("toggle collapsed", err)
	}
	return collapsed, nil
}
