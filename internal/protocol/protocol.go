// Package protocol defines the JSON messages exchanged with the executor.
//
// Editing and run commands, and every executor event, use the envelope
// {"type": ..., "data": {...}}. Device commands use {"command": ...}.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// MessageType is the tag of a message.
type MessageType string

// Commands sent under "type".
const (
	TypeGetSteps           MessageType = "get_steps"
	TypeGetRandomTiming    MessageType = "get_random_timing"
	TypeAddStep            MessageType = "add_step"
	TypeClearSteps         MessageType = "clear_steps"
	TypeDeleteSteps        MessageType = "delete_steps"
	TypeUpdateStepsOrder   MessageType = "update_steps_order"
	TypeRunAutomation      MessageType = "run_automation"
	TypeRunSelectedSteps   MessageType = "run_selected_steps"
	TypeStopAutomation     MessageType = "stop_automation"
	TypeStartRecording     MessageType = "start_recording"
	TypeStopRecording      MessageType = "stop_recording"
	TypeUpdateRandomTiming MessageType = "update_random_timing"
)

// Device commands sent under "command".
const (
	CommandPerformCopy      MessageType = "perform_copy"
	CommandPerformPaste     MessageType = "perform_paste"
	CommandPerformSelectAll MessageType = "perform_select_all"
	CommandKeyPress         MessageType = "key_press"
	CommandGetClipboard     MessageType = "get_clipboard"
	CommandSetClipboard     MessageType = "set_clipboard"
)

// Executor events.
const (
	TypeStepsUpdated        MessageType = "steps_updated"
	TypeRandomTimingUpdated MessageType = "random_timing_updated"
	TypeStatusUpdate        MessageType = "status_update"
	TypeStepExecuting       MessageType = "step_executing"
	TypeMousePosition       MessageType = "mouse_position"
	TypeAutomationCompleted MessageType = "automation_completed"
	TypeClipboardText       MessageType = "clipboard_text"
	TypeActionCompleted     MessageType = "action_completed"
)

// Executor status values carried by status_update.
const (
	StatusIdle      = "idle"
	StatusRecording = "recording"
	StatusRunning   = "running"
	StatusStopped   = "stopped"
	StatusError     = "error"
)

var (
	// ErrUnknownMessage is returned for a well-formed message with an
	// unrecognized tag.
	ErrUnknownMessage = errors.New("unknown message")

	// ErrMalformedMessage is returned when a message cannot be decoded.
	ErrMalformedMessage = errors.New("malformed message")
)

// Error describes a message that was dropped.
type Error struct {
	Type MessageType
	Err  error
}

func (e *Error) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("protocol: %v", e.Err)
	}
	return fmt.Sprintf("protocol: %s: %v", e.Type, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Message is the generic envelope.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// RandomTiming scales every step's wait time at execution time when
// enabled.
type RandomTiming struct {
	Enabled   bool    `json:"enabled"`
	MinFactor float64 `json:"min_factor" validate:"gt=0"`
	MaxFactor float64 `json:"max_factor" validate:"gtefield=MinFactor"`
}

// DefaultRandomTiming mirrors the executor's defaults.
func DefaultRandomTiming() RandomTiming {
	return RandomTiming{MinFactor: 0.8, MaxFactor: 1.2}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks 0 < MinFactor <= MaxFactor.
func (rt RandomTiming) Validate() error {
	return validate.Struct(rt)
}

func malformed(t MessageType, err error) error {
	return &Error{Type: t, Err: fmt.Errorf("%w: %v", ErrMalformedMessage, err)}
}
