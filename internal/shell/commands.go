package shell

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"macroctl/internal/editor"
	"macroctl/internal/protocol"
	"macroctl/internal/step"
)

type command struct {
	usage string
	help  string
	run   func(args []string) error
}

var errUsage = errors.New("wrong arguments")

func (s *Shell) register(names []string, usage, help string, fn func(args []string) error) {
	cmd := &command{usage: usage, help: help, run: fn}
	for _, n := range names {
		s.commands[n] = cmd
	}
	s.names = append(s.names, names[0])
}

func (s *Shell) registerCommands() {
	s.commands = make(map[string]*command)

	s.register([]string{"list", "ls"}, "list", "show the step list", s.cmdList)
	s.register([]string{"add"}, "add move X Y | click [BUTTON] | dclick [BUTTON] | key KEY [MOD...] | shortcut MOD+KEY | hotkey KEY | wait SECS",
		"append a step", s.cmdAdd)
	s.register([]string{"capture"}, "capture", "add a move to the last cursor position", func([]string) error {
		st, err := s.ed.CapturePosition()
		return s.added(err, st)
	})
	s.register([]string{"delete", "del", "rm"}, "delete [REF...]", "delete steps, or the selection", s.cmdDelete)
	s.register([]string{"clear"}, "clear", "delete every step", func([]string) error { return s.ed.Clear() })
	s.register([]string{"select", "sel"}, "select REF...", "add steps to the selection", s.cmdSelect)
	s.register([]string{"deselect"}, "deselect [REF...]", "remove steps from the selection, or clear it", s.cmdDeselect)
	s.register([]string{"move", "mv"}, "move REF POS", "move a step to a 1-based position", s.cmdMove)
	s.register([]string{"copy"}, "copy", "copy the selection", func([]string) error {
		n, err := s.ed.CopySelected()
		if err == nil {
			s.printf("copied %d steps\n", n)
		}
		return err
	})
	s.register([]string{"paste"}, "paste", "paste after the last selected step", func([]string) error {
		pasted, err := s.ed.Paste()
		if err == nil {
			s.printf("pasted %d steps\n", len(pasted))
		}
		return err
	})
	s.register([]string{"waitbetween"}, "waitbetween SECS", "insert a wait between selected steps", s.cmdWaitBetween)
	s.register([]string{"group"}, "group [NAME]", "group the selection", func(args []string) error {
		g, err := s.ed.GroupSelected(strings.Join(args, " "))
		if err == nil {
			s.printf("created %s\n", step.Describe(g))
		}
		return err
	})
	s.register([]string{"ungroup"}, "ungroup REF", "dissolve a group", s.cmdUngroup)
	s.register([]string{"loops"}, "loops REF COUNT", "set a group's loop count", s.cmdLoops)
	s.register([]string{"rename"}, "rename REF NAME", "rename a group", s.cmdRename)
	s.register([]string{"collapse"}, "collapse REF", "toggle a group's collapsed display", s.cmdCollapse)
	s.register([]string{"run"}, "run [COUNT|forever]", "run the list", s.cmdRun)
	s.register([]string{"runsel"}, "runsel", "run the selection once in selection order", func([]string) error {
		return s.ed.RunSelected()
	})
	s.register([]string{"stop"}, "stop", "stop the running automation", func([]string) error { return s.ed.Stop() })
	s.register([]string{"record", "rec"}, "record", "start or stop recording", func([]string) error {
		return s.ed.ToggleRecording()
	})
	s.register([]string{"random"}, "random on|off|MIN MAX", "configure random timing", s.cmdRandom)
	s.register([]string{"defwait"}, "defwait SECS", "set the wait merged into new steps", s.cmdDefWait)
	s.register([]string{"nested"}, "nested on|off", "expand groups inside groups when running", s.cmdNested)
	s.register([]string{"save"}, "save [FILE]", "export the list (json or yaml)", s.cmdSave)
	s.register([]string{"load"}, "load [FILE]", "import a list, replacing the current one", s.cmdLoad)
	s.register([]string{"device", "dev"}, "device copy|paste|selectall|clipboard|key COMBO|setclip TEXT",
		"send a device command to the executor", s.cmdDevice)
	s.register([]string{"keys"}, "keys", "show hotkey bindings", s.cmdKeys)
	s.register([]string{"status"}, "status", "show connection and run state", s.cmdStatus)
	s.register([]string{"help", "?"}, "help", "show this help", s.cmdHelp)
	s.register([]string{"quit", "exit", "q"}, "quit", "leave the console", func([]string) error { return errQuit })
}

func (s *Shell) cmdHelp([]string) error {
	for _, name := range s.names {
		cmd := s.commands[name]
		s.printf("  %-28s %s\n", cmd.usage, cmd.help)
	}
	return nil
}

func (s *Shell) cmdList([]string) error {
	steps := s.ed.Store().Steps()
	if len(steps) == 0 {
		s.printf("no steps\n")
		return nil
	}
	selected := make(map[string]bool)
	for _, id := range s.ed.Store().Selection() {
		selected[id] = true
	}
	for i, st := range steps {
		mark := " "
		if selected[st.ID] {
			mark = "*"
		}
		s.printf("%s %3d. %-40s wait %.2fs  [%s]\n", mark, i+1, step.Describe(st), st.Data.Wait(), st.ID)
		if st.IsGroup() && !st.Data.Collapsed {
			for j, child := range st.Data.GroupSteps {
				s.printf("      %d.%d %s\n", i+1, j+1, step.Describe(child))
			}
		}
	}
	return nil
}

func (s *Shell) added(err error, steps ...step.Step) error {
	if err != nil {
		return err
	}
	for _, st := range steps {
		s.printf("added %s\n", step.Describe(st))
	}
	return nil
}

func (s *Shell) cmdAdd(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	kind, rest := strings.ToLower(args[0]), args[1:]
	switch kind {
	case "move":
		if len(rest) != 2 {
			return errUsage
		}
		x, err := strconv.Atoi(rest[0])
		if err != nil {
			return err
		}
		y, err := strconv.Atoi(rest[1])
		if err != nil {
			return err
		}
		st, err := s.ed.AddMouseMove(x, y)
		return s.added(err, st)
	case "click", "dclick":
		button := step.ButtonLeft
		if len(rest) > 0 {
			button = strings.ToLower(rest[0])
		}
		st, err := s.ed.AddClick(button, kind == "dclick")
		return s.added(err, st)
	case "key":
		if len(rest) == 0 {
			return errUsage
		}
		st, err := s.ed.AddKeyPress(rest[0], rest[1:])
		return s.added(err, st)
	case "shortcut":
		if len(rest) != 1 {
			return errUsage
		}
		parts := strings.Split(rest[0], "+")
		st, err := s.ed.AddShortcut(parts[:len(parts)-1], parts[len(parts)-1])
		return s.added(err, st)
	case "hotkey":
		if len(rest) != 1 {
			return errUsage
		}
		seq, err := s.ed.AddHotkeySequence(rest[0])
		return s.added(err, seq...)
	case "wait":
		if len(rest) != 1 {
			return errUsage
		}
		secs, err := strconv.ParseFloat(rest[0], 64)
		if err != nil {
			return err
		}
		st, err := s.ed.AddWait(secs)
		return s.added(err, st)
	default:
		return fmt.Errorf("%w: unknown step kind %q", errUsage, kind)
	}
}

// resolve turns a 1-based list position or a step id into an id.
func (s *Shell) resolve(ref string) (string, error) {
	if n, err := strconv.Atoi(ref); err == nil {
		steps := s.ed.Store().Steps()
		if n < 1 || n > len(steps) {
			return "", fmt.Errorf("%w: position %d", editor.ErrStepNotFound, n)
		}
		return steps[n-1].ID, nil
	}
	if _, ok := s.ed.Store().Get(ref); ok {
		return ref, nil
	}
	return "", fmt.Errorf("%w: %s", editor.ErrStepNotFound, ref)
}

func (s *Shell) resolveAll(refs []string) ([]string, error) {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := s.resolve(ref)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *Shell) cmdDelete(args []string) error {
	var (
		n   int
		err error
	)
	if len(args) == 0 {
		n, err = s.ed.DeleteSelected()
	} else {
		var ids []string
		if ids, err = s.resolveAll(args); err != nil {
			return err
		}
		n, err = s.ed.Delete(ids)
	}
	if err == nil {
		s.printf("deleted %d steps\n", n)
	}
	return err
}

func (s *Shell) cmdSelect(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	ids, err := s.resolveAll(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.ed.Store().Select(id)
	}
	return nil
}

func (s *Shell) cmdDeselect(args []string) error {
	if len(args) == 0 {
		s.ed.Store().ClearSelection()
		return nil
	}
	ids, err := s.resolveAll(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		s.ed.Store().Deselect(id)
	}
	return nil
}

func (s *Shell) cmdMove(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	pos, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	return s.ed.Move(id, pos-1)
}

func (s *Shell) cmdWaitBetween(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	inserted, err := s.ed.InsertWaitBetweenSelected(secs)
	if err == nil {
		s.printf("inserted %d wait steps\n", len(inserted))
	}
	return err
}

func (s *Shell) cmdUngroup(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	children, err := s.ed.Ungroup(id)
	if err == nil {
		s.printf("ungrouped %d steps\n", len(children))
	}
	return err
}

func (s *Shell) cmdLoops(args []string) error {
	if len(args) != 2 {
		return errUsage
	}
	id, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[1])
	if err != nil {
		return err
	}
	return s.ed.SetGroupLoopCount(id, n)
}

func (s *Shell) cmdRename(args []string) error {
	if len(args) < 2 {
		return errUsage
	}
	id, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	return s.ed.RenameGroup(id, strings.Join(args[1:], " "))
}

func (s *Shell) cmdCollapse(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	id, err := s.resolve(args[0])
	if err != nil {
		return err
	}
	_, err = s.ed.ToggleCollapsed(id)
	return err
}

func (s *Shell) cmdRun(args []string) error {
	loops := s.loopCount
	if len(args) > 0 {
		if strings.EqualFold(args[0], "forever") {
			loops = protocol.LoopForever
		} else {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return err
			}
			loops = n
		}
	}
	return s.ed.Run(loops)
}

func (s *Shell) cmdRandom(args []string) error {
	switch {
	case len(args) == 1 && strings.EqualFold(args[0], "on"):
		return s.ed.SetRandomEnabled(true)
	case len(args) == 1 && strings.EqualFold(args[0], "off"):
		return s.ed.SetRandomEnabled(false)
	case len(args) == 2:
		lo, err := strconv.ParseFloat(args[0], 64)
		if err != nil {
			return err
		}
		hi, err := strconv.ParseFloat(args[1], 64)
		if err != nil {
			return err
		}
		return s.ed.UpdateRandomTiming(protocol.RandomTiming{Enabled: true, MinFactor: lo, MaxFactor: hi})
	default:
		return errUsage
	}
}

func (s *Shell) cmdDefWait(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	secs, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return err
	}
	return s.ed.SetDefaultWait(secs)
}

func (s *Shell) cmdNested(args []string) error {
	if len(args) != 1 {
		return errUsage
	}
	switch strings.ToLower(args[0]) {
	case "on":
		s.ed.SetNestedGroups(true)
	case "off":
		s.ed.SetNestedGroups(false)
	default:
		return errUsage
	}
	return nil
}

func (s *Shell) fileArg(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if s.stepsFile == "" {
		return "", errUsage
	}
	return s.stepsFile, nil
}

func (s *Shell) cmdSave(args []string) error {
	path, err := s.fileArg(args)
	if err != nil {
		return err
	}
	return s.ed.Export(path)
}

func (s *Shell) cmdLoad(args []string) error {
	path, err := s.fileArg(args)
	if err != nil {
		return err
	}
	_, err = s.ed.Import(path)
	return err
}

func (s *Shell) cmdDevice(args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	switch strings.ToLower(args[0]) {
	case "copy":
		return s.ed.PerformCopy()
	case "paste":
		return s.ed.PerformPaste()
	case "selectall":
		return s.ed.PerformSelectAll()
	case "clipboard":
		return s.ed.RequestClipboard()
	case "key":
		if len(args) != 2 {
			return errUsage
		}
		return s.ed.SendKeyCombo(args[1])
	case "setclip":
		return s.ed.SetClipboard(strings.Join(args[1:], " "))
	default:
		return errUsage
	}
}

func (s *Shell) cmdKeys([]string) error {
	if s.hotkeys == nil {
		s.printf("no hotkeys\n")
		return nil
	}
	for _, b := range s.hotkeys.Bindings() {
		s.printf("  %-12s %s\n", b.Combo, b.Action)
	}
	return nil
}

func (s *Shell) cmdStatus([]string) error {
	conn := "disconnected"
	if s.ed.Connected() {
		conn = "connected"
	}
	t := s.ed.RunState().Telemetry()
	rt := s.ed.RandomTiming()
	s.printf("executor:  %s\n", conn)
	s.printf("state:     %s\n", t.Status)
	if line := formatTelemetry(t); line != "" {
		s.printf("progress:  %s\n", line)
	}
	s.printf("steps:     %d (%d selected)\n", s.ed.Store().Len(), len(s.ed.Store().Selection()))
	s.printf("random:    enabled=%t %.2f-%.2f\n", rt.Enabled, rt.MinFactor, rt.MaxFactor)
	if pos, ok := s.ed.MousePosition(); ok {
		s.printf("cursor:    %d,%d\n", pos.X, pos.Y)
	}
	if clip := s.ed.Clipboard(); clip != "" {
		s.printf("clipboard: %q\n", clip)
	}
	return nil
}
