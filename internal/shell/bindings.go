package shell

import (
	"fmt"

	"macroctl/internal/config"
	"macroctl/internal/step"
)

// BindHotkeys registers the configured editor hotkeys. A bound
// combination typed alone on a console line fires it.
func (s *Shell) BindHotkeys(cfg config.HotkeyConfig) error {
	if s.hotkeys == nil {
		return nil
	}
	click := func(button string) func() error {
		return func() error {
			_, err := s.ed.AddClick(button, false)
			return err
		}
	}
	bindings := []struct {
		combo  string
		action string
		fn     func() error
	}{
		{cfg.CapturePosition, "capture position", func() error {
			_, err := s.ed.CapturePosition()
			return err
		}},
		{cfg.ToggleRecording, "toggle recording", s.ed.ToggleRecording},
		{cfg.ClickLeft, "left click", click(step.ButtonLeft)},
		{cfg.ClickMiddle, "middle click", click(step.ButtonMiddle)},
		{cfg.ClickRight, "right click", click(step.ButtonRight)},
	}

	s.hotkeys.Clear()
	for _, b := range bindings {
		fn, action := b.fn, b.action
		err := s.hotkeys.Register(b.combo, action, func() {
			if err := fn(); err != nil {
				s.printf("%s: %s\n", action, describeError(err))
				return
			}
			s.printf("%s\n", action)
		})
		if err != nil {
			return fmt.Errorf("bind %s: %w", action, err)
		}
	}
	return nil
}
