// Package step defines the automation step model shared by the editor,
// the flattener, persistence and the executor wire protocol.
package step

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Type identifies what a step does when executed.
type Type string

const (
	TypeMouseMove        Type = "mouse_move"
	TypeMouseClick       Type = "mouse_click"
	TypeMouseDoubleClick Type = "mouse_double_click"
	TypeKeyPress         Type = "key_press"
	TypeWait             Type = "wait"
	TypeGroup            Type = "group"
)

// Mouse buttons accepted by click steps.
const (
	ButtonLeft   = "left"
	ButtonMiddle = "middle"
	ButtonRight  = "right"
)

// Step is one unit of automation. ID is unique within the canonical list
// and within any group's embedded children.
type Step struct {
	ID   string `json:"id" yaml:"id" validate:"required" jsonschema:"minLength=1"`
	Type Type   `json:"type" yaml:"type" validate:"required,oneof=mouse_move mouse_click mouse_double_click key_press wait group" jsonschema:"enum=mouse_move,enum=mouse_click,enum=mouse_double_click,enum=key_press,enum=wait,enum=group"`
	Data Data   `json:"data" yaml:"data"`
}

// Data is the step payload. Which fields are meaningful depends on the
// step type; WaitTime and Randomize apply to every step.
type Data struct {
	// WaitTime is the post-action wait in seconds.
	WaitTime *float64 `json:"wait_time,omitempty" yaml:"wait_time,omitempty" validate:"omitempty,gte=0" jsonschema:"minimum=0"`
	// Randomize scales WaitTime by the random timing factors when enabled.
	Randomize *bool  `json:"randomize,omitempty" yaml:"randomize,omitempty"`
	StepType  string `json:"step_type,omitempty" yaml:"step_type,omitempty"`

	X      *int   `json:"x,omitempty" yaml:"x,omitempty"`
	Y      *int   `json:"y,omitempty" yaml:"y,omitempty"`
	Button string `json:"button,omitempty" yaml:"button,omitempty" validate:"omitempty,oneof=left middle right" jsonschema:"enum=left,enum=middle,enum=right"`

	Key        string   `json:"key,omitempty" yaml:"key,omitempty"`
	Modifiers  []string `json:"modifiers,omitempty" yaml:"modifiers,omitempty" validate:"omitempty,dive,oneof=ctrl alt shift cmd"`
	Action     string   `json:"action,omitempty" yaml:"action,omitempty" validate:"omitempty,oneof=down up press"`
	IsShortcut bool     `json:"is_shortcut,omitempty" yaml:"is_shortcut,omitempty"`

	GroupName      string `json:"groupName,omitempty" yaml:"groupName,omitempty"`
	GroupSteps     []Step `json:"groupSteps,omitempty" yaml:"groupSteps,omitempty" validate:"omitempty,dive"`
	GroupLoopCount int    `json:"groupLoopCount,omitempty" yaml:"groupLoopCount,omitempty" validate:"omitempty,gte=1" jsonschema:"minimum=1"`
	// Collapsed is a display hint only.
	Collapsed bool `json:"collapsed,omitempty" yaml:"collapsed,omitempty"`
}

// NewID returns a fresh step identifier.
func NewID() string {
	return uuid.NewString()
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to i.
func Int(i int) *int { return &i }

// Wait returns the post-action wait in seconds, 0 when unset.
func (d Data) Wait() float64 {
	if d.WaitTime == nil {
		return 0
	}
	return *d.WaitTime
}

// Randomized reports whether the wait is subject to random timing.
func (d Data) Randomized() bool {
	return d.Randomize != nil && *d.Randomize
}

// LoopCount returns the group repeat count; unset or invalid counts read as 1.
func (d Data) LoopCount() int {
	if d.GroupLoopCount < 1 {
		return 1
	}
	return d.GroupLoopCount
}

// IsGroup reports whether s wraps child steps.
func (s Step) IsGroup() bool {
	return s.Type == TypeGroup
}

// Describe renders a one-line human description of a step.
func Describe(s Step) string {
	switch s.Type {
	case TypeMouseMove:
		return fmt.Sprintf("Move to X: %s, Y: %s", intOrDash(s.Data.X), intOrDash(s.Data.Y))
	case TypeMouseClick:
		button := s.Data.Button
		if button == "" {
			button = ButtonLeft
		}
		return fmt.Sprintf("%s click at current position", strings.ToUpper(button[:1])+button[1:])
	case TypeMouseDoubleClick:
		return "Double click at current position"
	case TypeKeyPress:
		keys := append(append([]string{}, s.Data.Modifiers...), s.Data.Key)
		desc := fmt.Sprintf("Press key %q", strings.Join(keys, "+"))
		if s.Data.Action != "" && s.Data.Action != "press" {
			desc += " (" + s.Data.Action + ")"
		}
		return desc
	case TypeWait:
		return fmt.Sprintf("Wait %.2fs", s.Data.Wait())
	case TypeGroup:
		name := s.Data.GroupName
		if name == "" {
			name = "Group"
		}
		return fmt.Sprintf("%s (%d steps x%d)", name, len(s.Data.GroupSteps), s.Data.LoopCount())
	default:
		return "Unknown action"
	}
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%d", *v)
}
