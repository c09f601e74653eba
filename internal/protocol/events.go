package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"

	"macroctl/internal/step"
)

// Event is an executor-to-client message. The set of events is closed:
// every event dispatches to its own EventHandler method, so adding an
// event without a handler method does not compile.
type Event interface {
	Type() MessageType
	Accept(h EventHandler)
}

// EventHandler consumes every executor event.
type EventHandler interface {
	OnStepsUpdated(StepsUpdated)
	OnRandomTimingUpdated(RandomTimingUpdated)
	OnStatusUpdate(StatusUpdate)
	OnStepExecuting(StepExecuting)
	OnMousePosition(MousePosition)
	OnAutomationCompleted(AutomationCompleted)
	OnClipboardText(ClipboardText)
	OnActionCompleted(ActionCompleted)
}

type (
	// StepsUpdated carries the executor's authoritative list.
	StepsUpdated struct {
		Steps   []step.Step `json:"steps"`
		Version *uint64     `json:"version,omitempty"`
	}

	RandomTimingUpdated struct {
		RandomTiming
	}

	StatusUpdate struct {
		Status  string `json:"status"`
		Message string `json:"message,omitempty"`
	}

	// StepExecuting reports run progress. Optional fields are nil when
	// the executor omits them.
	StepExecuting struct {
		Index          int  `json:"index"`
		TotalSteps     *int `json:"total_steps,omitempty"`
		CompletedSteps *int `json:"completed_steps,omitempty"`
		LoopIndex      *int `json:"loop_index,omitempty"`
		TotalLoops     *int `json:"total_loops,omitempty"`
	}

	MousePosition struct {
		X int `json:"x"`
		Y int `json:"y"`
	}

	AutomationCompleted struct {
		TotalLoops     int `json:"total_loops,omitempty"`
		CompletedLoops int `json:"completed_loops,omitempty"`
	}

	ClipboardText struct {
		Text string `json:"text"`
	}

	// ActionCompleted acknowledges a device command.
	ActionCompleted struct {
		Action        string `json:"action"`
		Status        string `json:"status"`
		Message       string `json:"message,omitempty"`
		Key           string `json:"key,omitempty"`
		ClipboardText string `json:"clipboard_text,omitempty"`
	}
)

func (StepsUpdated) Type() MessageType        { return TypeStepsUpdated }
func (RandomTimingUpdated) Type() MessageType { return TypeRandomTimingUpdated }
func (StatusUpdate) Type() MessageType        { return TypeStatusUpdate }
func (StepExecuting) Type() MessageType       { return TypeStepExecuting }
func (MousePosition) Type() MessageType       { return TypeMousePosition }
func (AutomationCompleted) Type() MessageType { return TypeAutomationCompleted }
func (ClipboardText) Type() MessageType       { return TypeClipboardText }
func (ActionCompleted) Type() MessageType     { return TypeActionCompleted }

func (e StepsUpdated) Accept(h EventHandler)        { h.OnStepsUpdated(e) }
func (e RandomTimingUpdated) Accept(h EventHandler) { h.OnRandomTimingUpdated(e) }
func (e StatusUpdate) Accept(h EventHandler)        { h.OnStatusUpdate(e) }
func (e StepExecuting) Accept(h EventHandler)       { h.OnStepExecuting(e) }
func (e MousePosition) Accept(h EventHandler)       { h.OnMousePosition(e) }
func (e AutomationCompleted) Accept(h EventHandler) { h.OnAutomationCompleted(e) }
func (e ClipboardText) Accept(h EventHandler)       { h.OnClipboardText(e) }
func (e ActionCompleted) Accept(h EventHandler)     { h.OnActionCompleted(e) }

// Dispatch delivers ev to the matching handler method.
func Dispatch(ev Event, h EventHandler) {
	ev.Accept(h)
}

type decoder func(data json.RawMessage) (Event, error)

func decodeInto[E Event](optional bool) decoder {
	return func(data json.RawMessage) (Event, error) {
		var ev E
		if isEmpty(data) {
			if optional {
				return ev, nil
			}
			return nil, fmt.Errorf("missing data")
		}
		if err := json.Unmarshal(data, &ev); err != nil {
			return nil, err
		}
		return ev, nil
	}
}

// decoders is keyed by event tag.
var decoders = map[MessageType]decoder{
	TypeStepsUpdated:        decodeSteps,
	TypeRandomTimingUpdated: decodeInto[RandomTimingUpdated](false),
	TypeStatusUpdate:        decodeInto[StatusUpdate](false),
	TypeStepExecuting:       decodeInto[StepExecuting](false),
	TypeMousePosition:       decodeInto[MousePosition](false),
	TypeAutomationCompleted: decodeInto[AutomationCompleted](true),
	TypeClipboardText:       decodeInto[ClipboardText](true),
	TypeActionCompleted:     decodeInto[ActionCompleted](false),
}

func decodeSteps(data json.RawMessage) (Event, error) {
	var body struct {
		Steps   json.RawMessage `json:"steps"`
		Version *uint64         `json:"version"`
	}
	if isEmpty(data) {
		return nil, fmt.Errorf("missing data")
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, err
	}
	ev := StepsUpdated{Version: body.Version}
	trimmed := bytes.TrimSpace(body.Steps)
	switch {
	case bytes.Equal(trimmed, []byte("null")):
		// An explicit null is an empty list.
		ev.Steps = []step.Step{}
		return ev, nil
	case len(trimmed) == 0 || trimmed[0] != '[':
		return nil, fmt.Errorf("steps must be an array")
	}
	if err := json.Unmarshal(trimmed, &ev.Steps); err != nil {
		return nil, err
	}
	return ev, nil
}

func isEmpty(data json.RawMessage) bool {
	d := bytes.TrimSpace(data)
	return len(d) == 0 || bytes.Equal(d, []byte("null"))
}

// eventEnvelope also accepts the top-level "text" some executors send
// with clipboard_text.
type eventEnvelope struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data"`
	Text *string         `json:"text"`
}

// DecodeEvent parses one executor message. Failures are returned as
// *Error wrapping ErrMalformedMessage or ErrUnknownMessage.
func DecodeEvent(raw []byte) (Event, error) {
	var env eventEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("", err)
	}
	if env.Type == "" {
		return nil, malformed("", fmt.Errorf("missing type"))
	}

	decode, ok := decoders[env.Type]
	if !ok {
		return nil, &Error{Type: env.Type, Err: ErrUnknownMessage}
	}
	ev, err := decode(env.Data)
	if err != nil {
		return nil, malformed(env.Type, err)
	}
	if ct, ok := ev.(ClipboardText); ok && ct.Text == "" && env.Text != nil {
		ev = ClipboardText{Text: *env.Text}
	}
	return ev, nil
}

// EncodeEvent returns the wire form of ev.
func EncodeEvent(ev Event) ([]byte, error) {
	return encodeTyped(ev.Type(), ev)
}

// EventTypes lists every event tag the client understands.
func EventTypes() []MessageType {
	return []MessageType{
		TypeStepsUpdated,
		TypeRandomTimingUpdated,
		TypeStatusUpdate,
		TypeStepExecuting,
		TypeMousePosition,
		TypeAutomationCompleted,
		TypeClipboardText,
		TypeActionCompleted,
	}
}
