package protocol

import (
	"encoding/json"
	"fmt"

	"macroctl/internal/step"
)

// Command is a client-to-executor message.
type Command interface {
	Name() MessageType
}

type (
	GetSteps        struct{}
	GetRandomTiming struct{}
	ClearSteps      struct{}
	StopAutomation  struct{}
	StartRecording  struct{}
	StopRecording   struct{}

	// AddStep asks the executor to append a step built from Data. The
	// executor assigns the id.
	AddStep struct {
		Data step.Data
	}

	DeleteSteps struct {
		StepIDs []string `json:"step_ids"`
	}

	// UpdateStepsOrder replaces the executor's whole list. Version is
	// echoed back by executors that support edit reconciliation.
	UpdateStepsOrder struct {
		Steps   []step.Step `json:"steps"`
		Version uint64      `json:"version,omitempty"`
	}

	// RunAutomation runs Steps LoopCount times; -1 repeats until stopped.
	RunAutomation struct {
		LoopCount int         `json:"loop_count"`
		Steps     []step.Step `json:"steps"`
	}

	RunSelectedSteps struct {
		Steps []step.Step `json:"steps"`
	}

	UpdateRandomTiming struct {
		RandomTiming
	}
)

// Device commands.
type (
	PerformCopy      struct{}
	PerformPaste     struct{}
	PerformSelectAll struct{}
	GetClipboard     struct{}

	// KeyPress presses a key combination such as "ctrl+c" immediately.
	KeyPress struct {
		Key string
	}

	SetClipboard struct {
		Text string
	}
)

// LoopForever is the run_automation loop count that repeats until stopped.
const LoopForever = -1

func (GetSteps) Name() MessageType           { return TypeGetSteps }
func (GetRandomTiming) Name() MessageType    { return TypeGetRandomTiming }
func (ClearSteps) Name() MessageType         { return TypeClearSteps }
func (StopAutomation) Name() MessageType     { return TypeStopAutomation }
func (StartRecording) Name() MessageType     { return TypeStartRecording }
func (StopRecording) Name() MessageType      { return TypeStopRecording }
func (AddStep) Name() MessageType            { return TypeAddStep }
func (DeleteSteps) Name() MessageType        { return TypeDeleteSteps }
func (UpdateStepsOrder) Name() MessageType   { return TypeUpdateStepsOrder }
func (RunAutomation) Name() MessageType      { return TypeRunAutomation }
func (RunSelectedSteps) Name() MessageType   { return TypeRunSelectedSteps }
func (UpdateRandomTiming) Name() MessageType { return TypeUpdateRandomTiming }
func (PerformCopy) Name() MessageType        { return CommandPerformCopy }
func (PerformPaste) Name() MessageType       { return CommandPerformPaste }
func (PerformSelectAll) Name() MessageType   { return CommandPerformSelectAll }
func (GetClipboard) Name() MessageType       { return CommandGetClipboard }
func (KeyPress) Name() MessageType           { return CommandKeyPress }
func (SetClipboard) Name() MessageType       { return CommandSetClipboard }

// deviceMessage is the wire form of device commands.
type deviceMessage struct {
	Command MessageType `json:"command"`
	Key     string      `json:"key,omitempty"`
	Text    string      `json:"text,omitempty"`
}

// Encode returns the wire form of cmd.
func Encode(cmd Command) ([]byte, error) {
	switch c := cmd.(type) {
	case PerformCopy, PerformPaste, PerformSelectAll, GetClipboard:
		return json.Marshal(deviceMessage{Command: c.Name()})
	case KeyPress:
		return json.Marshal(deviceMessage{Command: c.Name(), Key: c.Key})
	case SetClipboard:
		return json.Marshal(deviceMessage{Command: c.Name(), Text: c.Text})
	case AddStep:
		return encodeTyped(c.Name(), c.Data)
	case UpdateRandomTiming:
		return encodeTyped(c.Name(), c.RandomTiming)
	case nil:
		return nil, fmt.Errorf("protocol: nil command")
	default:
		return encodeTyped(c.Name(), c)
	}
}

func encodeTyped(t MessageType, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", t, err)
	}
	return json.Marshal(Message{Type: t, Data: raw})
}

// commandEnvelope accepts either wire form.
type commandEnvelope struct {
	Type    MessageType     `json:"type"`
	Command MessageType     `json:"command"`
	Data    json.RawMessage `json:"data"`
	Key     string          `json:"key"`
	Text    string          `json:"text"`
}

// DecodeCommand parses a client command. Device commands are recognized
// by their "command" field, which takes precedence over "type".
func DecodeCommand(raw []byte) (Command, error) {
	var env commandEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, malformed("", err)
	}

	if env.Command != "" {
		switch env.Command {
		case CommandPerformCopy:
			return PerformCopy{}, nil
		case CommandPerformPaste:
			return PerformPaste{}, nil
		case CommandPerformSelectAll:
			return PerformSelectAll{}, nil
		case CommandGetClipboard:
			return GetClipboard{}, nil
		case CommandKeyPress:
			return KeyPress{Key: env.Key}, nil
		case CommandSetClipboard:
			return SetClipboard{Text: env.Text}, nil
		default:
			return nil, &Error{Type: env.Command, Err: ErrUnknownMessage}
		}
	}

	switch env.Type {
	case "":
		return nil, malformed("", fmt.Errorf("missing type"))
	case TypeGetSteps:
		return GetSteps{}, nil
	case TypeGetRandomTiming:
		return GetRandomTiming{}, nil
	case TypeClearSteps:
		return ClearSteps{}, nil
	case TypeStopAutomation:
		return StopAutomation{}, nil
	case TypeStartRecording:
		return StartRecording{}, nil
	case TypeStopRecording:
		return StopRecording{}, nil
	case TypeAddStep:
		var c AddStep
		err := decodeData(env, &c.Data)
		return c, err
	case TypeDeleteSteps:
		var c DeleteSteps
		err := decodeData(env, &c)
		return c, err
	case TypeUpdateStepsOrder:
		var c UpdateStepsOrder
		err := decodeData(env, &c)
		return c, err
	case TypeRunAutomation:
		c := RunAutomation{LoopCount: 1}
		err := decodeData(env, &c)
		return c, err
	case TypeRunSelectedSteps:
		var c RunSelectedSteps
		err := decodeData(env, &c)
		return c, err
	case TypeUpdateRandomTiming:
		c := UpdateRandomTiming{RandomTiming: DefaultRandomTiming()}
		err := decodeData(env, &c.RandomTiming)
		return c, err
	default:
		return nil, &Error{Type: env.Type, Err: ErrUnknownMessage}
	}
}

func decodeData(env commandEnvelope, v any) error {
	if len(env.Data) == 0 {
		return malformed(env.Type, fmt.Errorf("missing data"))
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return malformed(env.Type, err)
	}
	return nil
}
