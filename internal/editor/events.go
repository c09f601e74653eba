package editor

import (
	"macroctl/internal/protocol"
)

var _ protocol.EventHandler = (*Editor)(nil)

// OnStepsUpdated adopts the executor's list unless local edits are still
// in flight.
func (e *Editor) OnStepsUpdated(ev protocol.StepsUpdated) {
	if !e.store.ApplyBroadcast(ev.Steps, ev.Version) {
		e.logger.Debug("deferring steps update", "pending", e.store.Pending())
		return
	}
	e.logger.Debug("steps updated", "count", len(ev.Steps))
	e.syncOnce.Do(func() { close(e.synced) })
}

// OnRandomTimingUpdated adopts the executor's random timing.
func (e *Editor) OnRandomTimingUpdated(ev protocol.RandomTimingUpdated) {
	e.mu.Lock()
	e.random = ev.RandomTiming
	e.mu.Unlock()
	e.applyDefaults()
}

// OnStatusUpdate drives the run state and surfaces the status message.
func (e *Editor) OnStatusUpdate(ev protocol.StatusUpdate) {
	e.run.HandleStatus(ev.Status)

	msg := ev.Message
	if msg == "" {
		msg = "Status: " + ev.Status
	}
	switch ev.Status {
	case protocol.StatusRunning:
		e.notifier.Success("%s", msg)
	case protocol.StatusError:
		e.notifier.Error("%s", msg)
	default:
		e.notifier.Info("%s", msg)
	}
}

func (e *Editor) OnStepExecuting(ev protocol.StepExecuting) {
	e.run.HandleStepExecuting(ev)
}

// OnMousePosition records the cursor. (0,0) is the executor's "unknown"
// and is ignored.
func (e *Editor) OnMousePosition(ev protocol.MousePosition) {
	if ev.X == 0 && ev.Y == 0 {
		return
	}
	e.mu.Lock()
	e.mouse = &Position{X: ev.X, Y: ev.Y}
	e.mu.Unlock()
}

func (e *Editor) OnAutomationCompleted(ev protocol.AutomationCompleted) {
	e.run.HandleCompleted()
	if ev.TotalLoops > 1 {
		e.notifier.Success("Automation completed! (%d loops)", ev.TotalLoops)
		return
	}
	e.notifier.Success("Automation completed!")
}

func (e *Editor) OnClipboardText(ev protocol.ClipboardText) {
	e.setClipboard(ev.Text)
	e.notifier.Info("Clipboard: %s", preview(ev.Text))
}

// OnActionCompleted reports the outcome of a device command. A
// get_clipboard acknowledgement carries the clipboard text.
func (e *Editor) OnActionCompleted(ev protocol.ActionCompleted) {
	if ev.ClipboardText != "" {
		e.setClipboard(ev.ClipboardText)
	}
	if ev.Status == protocol.StatusError {
		msg := ev.Message
		if msg == "" {
			msg = ev.Action + " failed"
		}
		e.notifier.Error("%s", msg)
		return
	}
	if ev.Message != "" {
		e.notifier.Info("%s", ev.Message)
		return
	}
	e.notifier.Info("%s done", ev.Action)
}

func (e *Editor) setClipboard(text string) {
	e.mu.Lock()
	e.clipboard = text
	e.mu.Unlock()
}

// preview shortens text for a one-line notification.
func preview(text string) string {
	const limit = 60
	r := []rune(text)
	if len(r) <= limit {
		return text
	}
	return string(r[:limit]) + "..."
}
