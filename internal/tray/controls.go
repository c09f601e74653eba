package tray

import (
	"fmt"
	"log/slog"

	"macroctl/internal/editor"
	"macroctl/internal/log"
	"macroctl/internal/run"
)

// Controls binds the tray menu to an editor.
type Controls struct {
	tray      *Tray
	ed        *editor.Editor
	loopCount int
	logger    *slog.Logger

	recordID, runID, stopID int
}

// NewControls builds a Record / Run / Stop / Quit menu for ed. quit is
// called when the user picks Quit.
func NewControls(ed *editor.Editor, loopCount int, quit func()) *Controls {
	c := &Controls{
		tray:      New("macroctl", "macroctl: idle"),
		ed:        ed,
		loopCount: loopCount,
		logger:    log.WithModule("tray"),
	}
	c.recordID = c.tray.AddMenuItem("Start recording", c.action("record", ed.ToggleRecording))
	c.runID = c.tray.AddMenuItem(runLabel(loopCount), c.action("run", func() error { return ed.Run(c.loopCount) }))
	c.stopID = c.tray.AddMenuItem("Stop", c.action("stop", ed.Stop))
	c.tray.AddSeparator()
	c.tray.AddMenuItem("Quit", func() {
		c.tray.Stop()
		if quit != nil {
			quit()
		}
	})

	ed.RunState().OnChange(c.refresh)
	return c
}

// Run blocks in the tray event loop.
func (c *Controls) Run() {
	c.refresh(c.ed.RunState().Telemetry())
	c.tray.Run()
}

// Stop closes the tray.
func (c *Controls) Stop() {
	c.tray.Stop()
}

// Connected updates the tooltip when the executor comes or goes.
func (c *Controls) Connected(bool) {
	c.refresh(c.ed.RunState().Telemetry())
}

func (c *Controls) action(name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			c.logger.Warn("tray action failed", "action", name, "error", err)
		}
	}
}

func (c *Controls) refresh(t run.Telemetry) {
	v := menuView(t, c.ed.Connected())
	c.tray.SetStatus(v.title, v.tooltip)
	c.tray.SetItemTitle(c.recordID, v.recordLabel)
	c.tray.SetItemEnabled(c.recordID, v.recordEnabled)
	c.tray.SetItemEnabled(c.runID, v.runEnabled)
	c.tray.SetItemEnabled(c.stopID, v.stopEnabled)
}

type view struct {
	title, tooltip string
	recordLabel    string
	recordEnabled  bool
	runEnabled     bool
	stopEnabled    bool
}

// menuView derives the menu state from run telemetry.
func menuView(t run.Telemetry, connected bool) view {
	v := view{
		title:       "macroctl",
		recordLabel: "Start recording",
	}
	switch {
	case !connected:
		v.tooltip = "macroctl: executor offline"
		return v
	case t.Status == run.Recording:
		v.title = "macroctl ●"
		v.tooltip = "macroctl: recording"
		v.recordLabel = "Stop recording"
		v.recordEnabled = true
	case t.Status == run.Running:
		v.title = "macroctl ▶"
		v.tooltip = "macroctl: running"
		if t.CurrentStepIndex != nil {
			v.tooltip = fmt.Sprintf("macroctl: step %d/%d", *t.CurrentStepIndex+1, t.TotalSteps)
		}
		v.stopEnabled = true
	default:
		v.tooltip = "macroctl: idle"
		v.recordEnabled = true
		v.runEnabled = true
	}
	return v
}

func runLabel(loops int) string {
	switch {
	case loops < 0:
		return "Run (repeat until stopped)"
	case loops == 1:
		return "Run"
	default:
		return fmt.Sprintf("Run (%d loops)", loops)
	}
}
