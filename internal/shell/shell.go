// Package shell is the interactive console for editing and running step
// lists.
package shell

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/chzyer/readline"

	"macroctl/internal/editor"
	"macroctl/internal/hotkey"
	"macroctl/internal/notify"
	"macroctl/internal/run"
)

// errQuit ends the console loop.
var errQuit = errors.New("quit")

// Options configures a Shell.
type Options struct {
	// LoopCount is used by "run" without an argument.
	LoopCount int
	// StepsFile is used by "save" and "load" without an argument.
	StepsFile string
	Out       io.Writer
}

// Shell dispatches console lines to the editor.
type Shell struct {
	ed      *editor.Editor
	hotkeys *hotkey.Manager

	loopCount int
	stepsFile string

	outMu sync.Mutex
	out   io.Writer

	commands map[string]*command
	names    []string
}

// New creates a console for ed. Hotkeys may be nil.
func New(ed *editor.Editor, hotkeys *hotkey.Manager, opts Options) *Shell {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.LoopCount == 0 {
		opts.LoopCount = 1
	}
	s := &Shell{
		ed:        ed,
		hotkeys:   hotkeys,
		loopCount: opts.LoopCount,
		stepsFile: opts.StepsFile,
		out:       opts.Out,
	}
	s.registerCommands()
	return s
}

func (s *Shell) printf(format string, args ...any) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	fmt.Fprintf(s.out, format, args...)
}

func (s *Shell) setOutput(w io.Writer) {
	s.outMu.Lock()
	defer s.outMu.Unlock()
	s.out = w
}

// Exec runs one console line.
func (s *Shell) Exec(line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	fields := strings.Fields(line)
	name := strings.ToLower(fields[0])

	if cmd, ok := s.commands[name]; ok {
		err := cmd.run(fields[1:])
		if errors.Is(err, errUsage) {
			return fmt.Errorf("%w, usage: %s", err, cmd.usage)
		}
		return err
	}
	// A bare bound combination fires its hotkey.
	if s.hotkeys != nil && s.hotkeys.Press(line) > 0 {
		return nil
	}
	return fmt.Errorf("unknown command %q, type 'help'", name)
}

// Run reads lines until quit, EOF or ctx is done. Notifications and run
// telemetry are printed as they arrive.
func (s *Shell) Run(ctx context.Context, notes <-chan notify.Notification) error {
	items := make([]readline.PrefixCompleterInterface, 0, len(s.names))
	for _, name := range s.names {
		items = append(items, readline.PcItem(name))
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          s.prompt(),
		AutoComplete:    readline.NewPrefixCompleter(items...),
		InterruptPrompt: "^C",
		EOFPrompt:       "quit",
	})
	if err != nil {
		return fmt.Errorf("init readline: %w", err)
	}
	defer rl.Close()
	s.setOutput(rl.Stdout())

	go func() {
		<-ctx.Done()
		rl.Close()
	}()
	if notes != nil {
		go func() {
			for n := range notes {
				s.printf("%s\n", n)
			}
		}()
	}
	s.ed.RunState().OnChange(func(t run.Telemetry) {
		if line := formatTelemetry(t); line != "" {
			s.printf("%s\n", line)
		}
	})

	s.printf("macroctl console, %d steps. Type 'help' for commands.\n", s.ed.Store().Len())
	for {
		rl.SetPrompt(s.prompt())
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) || ctx.Err() != nil {
				return nil
			}
			return err
		}
		if err := s.Exec(line); err != nil {
			if errors.Is(err, errQuit) {
				return nil
			}
			s.printf("%s\n", describeError(err))
		}
	}
}

func (s *Shell) prompt() string {
	conn := "offline"
	if s.ed.Connected() {
		conn = "online"
	}
	return fmt.Sprintf("macroctl[%s|%s]> ", conn, s.ed.RunState().State())
}

// describeError keeps "not connected" apart from rejected input.
func describeError(err error) string {
	var ie *editor.InputError
	switch {
	case errors.Is(err, editor.ErrNotConnected):
		return "Not connected to executor: " + err.Error()
	case errors.As(err, &ie):
		return "Invalid input: " + ie.Error()
	default:
		return "Error: " + err.Error()
	}
}

func formatTelemetry(t run.Telemetry) string {
	if t.Status != run.Running {
		return ""
	}
	if t.CurrentStepIndex == nil {
		return "running..."
	}
	loops := fmt.Sprintf("%d", t.TotalLoops)
	if t.TotalLoops < 0 {
		loops = "inf"
	}
	return fmt.Sprintf("running step %d (%d/%d done), loop %d/%s",
		*t.CurrentStepIndex+1, t.CompletedSteps, t.TotalSteps, t.LoopIndex+1, loops)
}
