package executorsim

import (
	"context"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"macroctl/internal/protocol"
	"macroctl/internal/step"
)

// handle applies one client command.
func (s *Server) handle(c *client, cmd protocol.Command) {
	s.logger.Debug("command", "type", cmd.Name(), "addr", c.addr)

	switch cmd := cmd.(type) {
	case protocol.GetSteps:
		s.hub.reply(c, protocol.StepsUpdated{Steps: s.Steps()})

	case protocol.GetRandomTiming:
		s.hub.reply(c, protocol.RandomTimingUpdated{RandomTiming: s.RandomTiming()})

	case protocol.ClearSteps:
		s.mu.Lock()
		s.steps = nil
		s.mu.Unlock()
		s.publishSteps(nil)

	case protocol.AddStep:
		s.addStep(cmd.Data)
		s.publishSteps(nil)

	case protocol.DeleteSteps:
		s.mu.Lock()
		drop := make(map[string]bool, len(cmd.StepIDs))
		for _, id := range cmd.StepIDs {
			drop[id] = true
		}
		s.steps = slices.DeleteFunc(s.steps, func(st step.Step) bool { return drop[st.ID] })
		s.mu.Unlock()
		s.publishSteps(nil)

	case protocol.UpdateStepsOrder:
		s.mu.Lock()
		s.steps = step.CloneAll(cmd.Steps)
		s.mu.Unlock()
		var version *uint64
		if cmd.Version > 0 && !s.opts.DisableVersionEcho {
			v := cmd.Version
			version = &v
		}
		s.publishSteps(version)

	case protocol.RunAutomation:
		loops := cmd.LoopCount
		if loops == 0 {
			loops = 1
		}
		s.startRun(cmd.Steps, loops, fmt.Sprintf("Running automation with %d loops", loops))

	case protocol.RunSelectedSteps:
		if len(cmd.Steps) == 0 {
			return
		}
		s.startRun(cmd.Steps, 1, fmt.Sprintf("Running %d selected steps", len(cmd.Steps)))

	case protocol.StopAutomation:
		s.stopRun()
		s.hub.publish(protocol.StatusUpdate{Status: protocol.StatusStopped, Message: "Automation stopped"})

	case protocol.StartRecording:
		if s.setRecording(true) {
			s.hub.publish(protocol.StatusUpdate{Status: protocol.StatusRecording, Message: "Recording started"})
		}

	case protocol.StopRecording:
		if s.setRecording(false) {
			s.hub.publish(protocol.StatusUpdate{Status: protocol.StatusIdle, Message: "Recording stopped"})
		}

	case protocol.UpdateRandomTiming:
		s.mu.Lock()
		s.random = cmd.RandomTiming
		s.mu.Unlock()
		s.hub.publish(protocol.RandomTimingUpdated{RandomTiming: cmd.RandomTiming})

	case protocol.PerformCopy:
		s.hub.reply(c, protocol.ActionCompleted{Action: "copy", Status: "success", ClipboardText: s.Clipboard()})

	case protocol.PerformPaste:
		s.hub.reply(c, protocol.ActionCompleted{Action: "paste", Status: "success"})

	case protocol.PerformSelectAll:
		s.hub.reply(c, protocol.ActionCompleted{Action: "select_all", Status: "success"})

	case protocol.GetClipboard:
		s.hub.reply(c, protocol.ClipboardText{Text: s.Clipboard()})

	case protocol.SetClipboard:
		s.mu.Lock()
		s.clipboard = cmd.Text
		s.mu.Unlock()
		s.hub.reply(c, protocol.ActionCompleted{Action: "set_clipboard", Status: "success"})

	case protocol.KeyPress:
		s.hub.reply(c, protocol.ActionCompleted{Action: "key_press", Key: cmd.Key, Status: "success"})

	default:
		s.logger.Warn("unhandled command", "type", cmd.Name())
	}
}

// addStep appends a step with a fresh id. The type comes from the
// payload's step_type.
func (s *Server) addStep(data step.Data) {
	if data.StepType == "" {
		s.logger.Warn("add_step without step_type, ignoring")
		return
	}
	st := step.Step{ID: s.newID(), Type: step.Type(data.StepType), Data: data}

	s.mu.Lock()
	s.steps = append(s.steps, step.Clone(st))
	s.mu.Unlock()
}

func (s *Server) publishSteps(version *uint64) {
	steps := s.Steps()
	if steps == nil {
		steps = []step.Step{}
	}
	s.hub.publish(protocol.StepsUpdated{Steps: steps, Version: version})
}

// setRecording reports whether the flag changed.
func (s *Server) setRecording(on bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.recording == on {
		return false
	}
	s.recording = on
	return true
}

// startRun replaces any active run with a new one over steps.
func (s *Server) startRun(steps []step.Step, loops int, msg string) {
	s.mu.Lock()
	if s.cancelRun != nil {
		s.cancelRun()
	}
	ctx, cancel := context.WithCancel(s.ctx)
	s.cancelRun = cancel
	s.runSeq++
	seq := s.runSeq
	s.mu.Unlock()

	s.hub.publish(protocol.StatusUpdate{Status: protocol.StatusRunning, Message: msg})

	s.runs.Add(1)
	go func() {
		defer s.runs.Done()
		s.play(ctx, seq, step.CloneAll(steps), loops)
	}()
}

func (s *Server) stopRun() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelRun != nil {
		s.cancelRun()
		s.cancelRun = nil
	}
}

// play broadcasts progress for each step and sleeps for its wait. loops
// of -1 repeat until the run is cancelled.
func (s *Server) play(ctx context.Context, seq uint64, steps []step.Step, loops int) {
	total := len(steps)
	completed := 0
	for loop := 0; total > 0 && (loops == protocol.LoopForever || loop < loops); loop++ {
		for i, st := range steps {
			if ctx.Err() != nil {
				return
			}
			s.hub.publish(protocol.StepExecuting{
				Index:          i,
				TotalSteps:     &total,
				CompletedSteps: &i,
				LoopIndex:      &loop,
				TotalLoops:     &loops,
			})
			s.perform(st)
			if !sleep(ctx, s.waitFor(st)) {
				return
			}
		}
		completed++
	}

	s.mu.Lock()
	current := s.runSeq == seq
	if current {
		s.cancelRun = nil
	}
	s.mu.Unlock()
	if !current {
		return
	}

	s.hub.publish(protocol.AutomationCompleted{TotalLoops: loops, CompletedLoops: completed})
	s.hub.publish(protocol.StatusUpdate{Status: protocol.StatusIdle, Message: "Automation completed"})
}

// perform simulates a step. Only cursor moves have a visible effect.
func (s *Server) perform(st step.Step) {
	if st.Type != step.TypeMouseMove || st.Data.X == nil || st.Data.Y == nil {
		return
	}
	s.hub.publish(protocol.MousePosition{X: *st.Data.X, Y: *st.Data.Y})
}

// waitFor returns the scaled post-step wait, randomized when the step asks
// for it.
func (s *Server) waitFor(st step.Step) time.Duration {
	secs := st.Data.Wait()
	if st.Data.Randomized() {
		rt := s.RandomTiming()
		secs *= rt.MinFactor + rand.Float64()*(rt.MaxFactor-rt.MinFactor)
	}
	d := time.Duration(secs * s.opts.TimeScale * float64(time.Second))
	return max(d, s.opts.MinStepDelay)
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
