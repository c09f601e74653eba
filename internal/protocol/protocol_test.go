package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"macroctl/internal/step"
)

type recorder struct {
	got []Event
}

func (r *recorder) OnStepsUpdated(e StepsUpdated)               { r.got = append(r.got, e) }
func (r *recorder) OnRandomTimingUpdated(e RandomTimingUpdated) { r.got = append(r.got, e) }
func (r *recorder) OnStatusUpdate(e StatusUpdate)               { r.got = append(r.got, e) }
func (r *recorder) OnStepExecuting(e StepExecuting)             { r.got = append(r.got, e) }
func (r *recorder) OnMousePosition(e MousePosition)             { r.got = append(r.got, e) }
func (r *recorder) OnAutomationCompleted(e AutomationCompleted) { r.got = append(r.got, e) }
func (r *recorder) OnClipboardText(e ClipboardText)             { r.got = append(r.got, e) }
func (r *recorder) OnActionCompleted(e ActionCompleted)         { r.got = append(r.got, e) }

func TestEveryEventTypeHasDecoder(t *testing.T) {
	for _, typ := range EventTypes() {
		_, ok := decoders[typ]
		assert.True(t, ok, "no decoder for %s", typ)
	}
	assert.Len(t, decoders, len(EventTypes()))
}

func uint64p(v uint64) *uint64 { return &v }

func TestDecodeEvent(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Event
	}{
		{
			name: "steps updated",
			raw:  `{"type":"steps_updated","data":{"steps":[{"id":"a","type":"wait","data":{"wait_time":2}}]}}`,
			want: StepsUpdated{Steps: []step.Step{{ID: "a", Type: step.TypeWait, Data: step.Data{WaitTime: step.Float(2)}}}},
		},
		{
			name: "steps updated with null steps",
			raw:  `{"type":"steps_updated","data":{"steps":null,"version":4}}`,
			want: StepsUpdated{Steps: []step.Step{}, Version: uint64p(4)},
		},
		{
			name: "random timing",
			raw:  `{"type":"random_timing_updated","data":{"enabled":true,"min_factor":0.5,"max_factor":1.5}}`,
			want: RandomTimingUpdated{RandomTiming{Enabled: true, MinFactor: 0.5, MaxFactor: 1.5}},
		},
		{
			name: "status",
			raw:  `{"type":"status_update","data":{"status":"running","message":"go"}}`,
			want: StatusUpdate{Status: StatusRunning, Message: "go"},
		},
		{
			name: "step executing without totals",
			raw:  `{"type":"step_executing","data":{"index":3}}`,
			want: StepExecuting{Index: 3},
		},
		{
			name: "mouse position",
			raw:  `{"type":"mouse_position","data":{"x":10,"y":20}}`,
			want: MousePosition{X: 10, Y: 20},
		},
		{
			name: "completed without data",
			raw:  `{"type":"automation_completed"}`,
			want: AutomationCompleted{},
		},
		{
			name: "clipboard text in data",
			raw:  `{"type":"clipboard_text","data":{"text":"hi"}}`,
			want: ClipboardText{Text: "hi"},
		},
		{
			name: "clipboard text at top level",
			raw:  `{"type":"clipboard_text","text":"top"}`,
			want: ClipboardText{Text: "top"},
		},
		{
			name: "action completed",
			raw:  `{"type":"action_completed","data":{"action":"copy","status":"success","clipboard_text":"x"}}`,
			want: ActionCompleted{Action: "copy", Status: "success", ClipboardText: "x"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeEvent([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeStepExecutingTotals(t *testing.T) {
	ev, err := DecodeEvent([]byte(`{"type":"step_executing","data":{"index":2,"total_steps":9,"loop_index":1,"total_loops":3}}`))
	require.NoError(t, err)
	se := ev.(StepExecuting)
	require.NotNil(t, se.TotalSteps)
	assert.Equal(t, 9, *se.TotalSteps)
	assert.Nil(t, se.CompletedSteps)
	assert.Equal(t, 3, *se.TotalLoops)
}

func TestDecodeEventErrors(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr error
	}{
		{"not json", `{nope`, ErrMalformedMessage},
		{"missing type", `{"data":{}}`, ErrMalformedMessage},
		{"unknown type", `{"type":"teleport","data":{}}`, ErrUnknownMessage},
		{"steps not array", `{"type":"steps_updated","data":{"steps":{"a":1}}}`, ErrMalformedMessage},
		{"steps missing", `{"type":"steps_updated","data":{}}`, ErrMalformedMessage},
		{"status without data", `{"type":"status_update"}`, ErrMalformedMessage},
		{"bad field type", `{"type":"mouse_position","data":{"x":"left"}}`, ErrMalformedMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.raw))
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)

			var perr *Error
			assert.ErrorAs(t, err, &perr)
		})
	}
}

func TestDispatchRoutesByType(t *testing.T) {
	r := &recorder{}
	events := []Event{
		StepsUpdated{},
		RandomTimingUpdated{},
		StatusUpdate{Status: StatusIdle},
		StepExecuting{Index: 1},
		MousePosition{X: 1, Y: 1},
		AutomationCompleted{},
		ClipboardText{Text: "t"},
		ActionCompleted{Action: "paste"},
	}
	for _, ev := range events {
		Dispatch(ev, r)
	}
	assert.Equal(t, events, r.got)
}

func TestEncodeEventRoundTrip(t *testing.T) {
	total := 4
	in := StepExecuting{Index: 2, TotalSteps: &total}
	raw, err := EncodeEvent(in)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"step_executing","data":{"index":2,"total_steps":4}}`, string(raw))

	out, err := DecodeEvent(raw)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestEncodeCommand(t *testing.T) {
	tests := []struct {
		name string
		cmd  Command
		want string
	}{
		{"get steps", GetSteps{}, `{"type":"get_steps","data":{}}`},
		{"delete", DeleteSteps{StepIDs: []string{"a", "b"}}, `{"type":"delete_steps","data":{"step_ids":["a","b"]}}`},
		{"run forever", RunAutomation{LoopCount: LoopForever, Steps: []step.Step{}}, `{"type":"run_automation","data":{"loop_count":-1,"steps":[]}}`},
		{"random timing", UpdateRandomTiming{RandomTiming{Enabled: true, MinFactor: 0.5, MaxFactor: 2}}, `{"type":"update_random_timing","data":{"enabled":true,"min_factor":0.5,"max_factor":2}}`},
		{"add step", AddStep{Data: step.Data{Key: "a", StepType: "key_press"}}, `{"type":"add_step","data":{"step_type":"key_press","key":"a"}}`},
		{"copy", PerformCopy{}, `{"command":"perform_copy"}`},
		{"key press", KeyPress{Key: "ctrl+v"}, `{"command":"key_press","key":"ctrl+v"}`},
		{"set clipboard", SetClipboard{Text: "x"}, `{"command":"set_clipboard","text":"x"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw, err := Encode(tt.cmd)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(raw))
		})
	}
}

func TestDecodeCommand(t *testing.T) {
	for _, cmd := range []Command{
		GetSteps{},
		ClearSteps{},
		DeleteSteps{StepIDs: []string{"x"}},
		UpdateStepsOrder{Steps: []step.Step{{ID: "a", Type: step.TypeWait}}, Version: 3},
		RunAutomation{LoopCount: LoopForever, Steps: []step.Step{}},
		RunSelectedSteps{Steps: []step.Step{}},
		UpdateRandomTiming{RandomTiming{MinFactor: 1, MaxFactor: 1}},
		AddStep{Data: step.Data{StepType: "wait"}},
		PerformSelectAll{},
		KeyPress{Key: "enter"},
		SetClipboard{Text: "hello"},
	} {
		t.Run(string(cmd.Name()), func(t *testing.T) {
			raw, err := Encode(cmd)
			require.NoError(t, err)
			got, err := DecodeCommand(raw)
			require.NoError(t, err)
			assert.Equal(t, cmd, got)
		})
	}
}

func TestDecodeCommandDefaultsLoopCount(t *testing.T) {
	got, err := DecodeCommand([]byte(`{"type":"run_automation","data":{"steps":[]}}`))
	require.NoError(t, err)
	assert.Equal(t, 1, got.(RunAutomation).LoopCount)

	_, err = DecodeCommand([]byte(`{"command":"fly"}`))
	assert.ErrorIs(t, err, ErrUnknownMessage)
}

func TestMessageEnvelope(t *testing.T) {
	var m Message
	require.NoError(t, json.Unmarshal([]byte(`{"type":"status_update","data":{"status":"idle"}}`), &m))
	assert.Equal(t, TypeStatusUpdate, m.Type)
	assert.JSONEq(t, `{"status":"idle"}`, string(m.Data))
}
