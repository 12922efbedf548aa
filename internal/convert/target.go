package convert

import (
	"fmt"
	"strings"

	"llmds/pkg/contract"
)

// Mode: structural layout of converted records.
type Mode string

const (
	ModeStandard       Mode = "standard"
	ModeConversational Mode = "conversational"
)

// Shape: TRL record shape used in standard mode.
type Shape string

const (
	ShapeLanguageModeling   Shape = "language_modeling"
	ShapePromptOnly         Shape = "prompt_only"
	ShapePromptCompletion   Shape = "prompt_completion"
	ShapePreference         Shape = "preference"
	ShapeUnpairedPreference Shape = "unpaired_preference"
	ShapeStepwise           Shape = "stepwise_supervision"
)

// Shapes lists every accepted shape.
var Shapes = []Shape{ShapeLanguageModeling, ShapePromptOnly, ShapePromptCompletion, ShapePreference, ShapeUnpairedPreference, ShapeStepwise}

// Target: global conversion spec of a run.
type Target struct {
	Mode  Mode
	Shape Shape
}

// DefaultTarget is standard prompt/completion.
var DefaultTarget = Target{Mode: ModeStandard, Shape: ShapePromptCompletion}

// ParseTarget validates mode and shape; empty values take the defaults.
func ParseTarget(mode, shape string) (Target, error) {
	t := DefaultTarget
	if m := strings.ToLower(strings.TrimSpace(mode)); m != "" {
		switch Mode(m) {
		case ModeStandard, ModeConversational:
			t.Mode = Mode(m)
		default:
			return Target{}, fmt.Errorf("convert: unknown mode %q: %w", mode, contract.ErrInvalidInput)
		}
	}
	if s := strings.ToLower(strings.TrimSpace(shape)); s != "" {
		ok := false
		for _, k := range Shapes {
			if Shape(s) == k {
				ok = true
				break
			}
		}
		if !ok {
			return Target{}, fmt.Errorf("convert: unknown shape %q: %w", shape, contract.ErrInvalidInput)
		}
		t.Shape = Shape(s)
	}
	return t, nil
}

func (t Target) String() string {
	if t.Mode == ModeConversational {
		return string(t.Mode)
	}
	return string(t.Mode) + "/" + string(t.Shape)
}
