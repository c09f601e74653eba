package run

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/log"
	"macroctl/internal/protocol"
)

func intp(i int) *int { return &i }

func TestStatusTransitions(t *testing.T) {
	tests := []struct {
		name    string
		from    []string
		status  string
		want    State
		changed bool
	}{
		{"idle to recording", nil, protocol.StatusRecording, Recording, true},
		{"recording to idle", []string{protocol.StatusRecording}, protocol.StatusIdle, Idle, true},
		{"idle to running", nil, protocol.StatusRunning, Running, true},
		{"running stopped", []string{protocol.StatusRunning}, protocol.StatusStopped, Idle, true},
		{"running error", []string{protocol.StatusRunning}, protocol.StatusError, Idle, true},
		{"idle stays idle", nil, protocol.StatusIdle, Idle, false},
		{"running ignores recording", []string{protocol.StatusRunning}, protocol.StatusRecording, Running, false},
		{"recording ignores running", []string{protocol.StatusRecording}, protocol.StatusRunning, Recording, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewController(log.Discard())
			for _, s := range tt.from {
				c.HandleStatus(s)
			}
			assert.Equal(t, tt.changed, c.HandleStatus(tt.status))
			assert.Equal(t, tt.want, c.State())
		})
	}
}

func TestTelemetryDuringRun(t *testing.T) {
	c := NewController(log.Discard())
	c.HandleStatus(protocol.StatusRunning)

	c.HandleStepExecuting(protocol.StepExecuting{Index: 0, TotalSteps: intp(5)})
	tel := c.Telemetry()
	require.NotNil(t, tel.CurrentStepIndex)
	assert.Equal(t, 0, *tel.CurrentStepIndex)
	assert.Equal(t, 0, tel.CompletedSteps)
	assert.Equal(t, 5, tel.TotalSteps)

	c.HandleStepExecuting(protocol.StepExecuting{Index: 3})
	tel = c.Telemetry()
	assert.Equal(t, 3, *tel.CurrentStepIndex)
	assert.Equal(t, 3, tel.CompletedSteps)
	assert.Equal(t, 5, tel.TotalSteps, "total retained when omitted")

	c.HandleStepExecuting(protocol.StepExecuting{Index: 2})
	tel = c.Telemetry()
	assert.Equal(t, 2, *tel.CurrentStepIndex)
	assert.Equal(t, 3, tel.CompletedSteps, "completed never decreases within a pass")

	c.HandleCompleted()
	tel = c.Telemetry()
	assert.Equal(t, Idle, tel.Status)
	assert.Nil(t, tel.CurrentStepIndex)
	assert.Zero(t, tel.CompletedSteps)
	assert.Zero(t, tel.TotalSteps)
}

func TestTelemetryCompletedNeverDecreasesAcrossLoops(t *testing.T) {
	c := NewController(log.Discard())
	c.HandleStatus(protocol.StatusRunning)

	events := []protocol.StepExecuting{
		{Index: 0, LoopIndex: intp(0), TotalLoops: intp(2)},
		{Index: 3, LoopIndex: intp(0), TotalLoops: intp(2)},
		{Index: 0, LoopIndex: intp(1), TotalLoops: intp(2)},
		{Index: 1, LoopIndex: intp(1), TotalLoops: intp(2)},
	}
	prev := 0
	for _, ev := range events {
		c.HandleStepExecuting(ev)
		tel := c.Telemetry()
		assert.GreaterOrEqual(t, tel.CompletedSteps, prev, "index %d loop %d", ev.Index, *ev.LoopIndex)
		prev = tel.CompletedSteps
	}

	tel := c.Telemetry()
	assert.Equal(t, 3, tel.CompletedSteps)
	assert.Equal(t, 1, tel.LoopIndex)
	assert.Equal(t, 2, tel.TotalLoops)
	require.NotNil(t, tel.CurrentStepIndex)
	assert.Equal(t, 1, *tel.CurrentStepIndex)

	c.HandleCompleted()
	assert.Zero(t, c.Telemetry().CompletedSteps)
}

func TestProgressIgnoredWhenNotRunning(t *testing.T) {
	c := NewController(log.Discard())
	c.HandleStepExecuting(protocol.StepExecuting{Index: 3, TotalSteps: intp(4)})
	tel := c.Telemetry()
	assert.Nil(t, tel.CurrentStepIndex)
	assert.Zero(t, tel.TotalSteps)
}

func TestStopConfirmed(t *testing.T) {
	c := NewController(log.Discard())
	c.HandleStatus(protocol.StatusRunning)
	c.StopConfirmed()
	assert.Equal(t, Idle, c.State())
}

func TestConnectionLostForcesIdle(t *testing.T) {
	for _, status := range []string{protocol.StatusRunning, protocol.StatusRecording} {
		t.Run(status, func(t *testing.T) {
			c := NewController(log.Discard())
			c.HandleStatus(status)
			assert.True(t, c.ConnectionLost())
			assert.Equal(t, Idle, c.State())
		})
	}

	c := NewController(log.Discard())
	assert.False(t, c.ConnectionLost())
}

func TestOnChange(t *testing.T) {
	c := NewController(log.Discard())
	var seen []State
	c.OnChange(func(tel Telemetry) { seen = append(seen, tel.Status) })

	c.HandleStatus(protocol.StatusRunning)
	c.HandleStepExecuting(protocol.StepExecuting{Index: 1})
	c.HandleCompleted()

	assert.Equal(t, []State{Running, Running, Idle}, seen)
}

func TestOnChangeListenerAddedDuringNotify(t *testing.T) {
	c := NewController(log.Discard())
	var late int
	c.OnChange(func(Telemetry) {
		c.OnChange(func(Telemetry) { late++ })
	})

	c.HandleStatus(protocol.StatusRunning)
	assert.Zero(t, late, "listener added during a notification runs from the next one")

	c.HandleCompleted()
	assert.Equal(t, 1, late)
}

func TestTelemetryJSON(t *testing.T) {
	raw, err := json.Marshal(Telemetry{Status: Running, CurrentStepIndex: intp(2), TotalSteps: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running","current_step_index":2,"completed_steps":0,"total_steps":3,"loop_index":0,"total_loops":0}`,
		string(raw))
}
