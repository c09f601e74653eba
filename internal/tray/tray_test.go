package tray

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"macroctl/internal/run"
)

func TestMenuView(t *testing.T) {
	idx := 2
	tests := []struct {
		name      string
		tel       run.Telemetry
		connected bool
		want      view
	}{
		{
			name: "offline disables everything",
			tel:  run.Telemetry{Status: run.Idle},
			want: view{title: "macroctl", tooltip: "macroctl: executor offline", recordLabel: "Start recording"},
		},
		{
			name:      "idle",
			tel:       run.Telemetry{Status: run.Idle},
			connected: true,
			want: view{title: "macroctl", tooltip: "macroctl: idle", recordLabel: "Start recording",
				recordEnabled: true, runEnabled: true},
		},
		{
			name:      "recording",
			tel:       run.Telemetry{Status: run.Recording},
			connected: true,
			want: view{title: "macroctl ●", tooltip: "macroctl: recording", recordLabel: "Stop recording",
				recordEnabled: true},
		},
		{
			name:      "running with progress",
			tel:       run.Telemetry{Status: run.Running, CurrentStepIndex: &idx, TotalSteps: 5},
			connected: true,
			want: view{title: "macroctl ▶", tooltip: "macroctl: step 3/5", recordLabel: "Start recording",
				stopEnabled: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, menuView(tt.tel, tt.connected))
		})
	}
}

func TestRunLabel(t *testing.T) {
	assert.Equal(t, "Run", runLabel(1))
	assert.Equal(t, "Run (3 loops)", runLabel(3))
	assert.Equal(t, "Run (repeat until stopped)", runLabel(-1))
}

func TestItemsBeforeRun(t *testing.T) {
	tr := New("macroctl", "tip")
	a := tr.AddMenuItem("A", nil)
	tr.AddSeparator()
	b := tr.AddMenuItem("B", nil)
	assert.Equal(t, 0, a)
	assert.Equal(t, 2, b)

	// Not ready yet: updates are no-ops.
	tr.SetItemEnabled(a, false)
	tr.SetItemTitle(b, "C")
	tr.SetStatus("x", "y")
	assert.Equal(t, "x", tr.title)
}
