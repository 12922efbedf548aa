package convert

import (
	"fmt"

	"llmds/pkg/contract"
)

// Convert maps one sample to an output record for target.
// Pure function. Fields the sample lacks are omitted, never null; metadata is emitted
// only for prompt_completion and only when non-empty. Comparison and step fields are
// passed through when present and never fabricated.
func Convert(spec contract.TypeSpec, s contract.Sample, target Target) (contract.OutputRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("convert: %s: nil sample: %w", spec.Name, contract.ErrInvalidInput)
	}
	p := Project(spec, s)
	if target.Mode == ModeConversational {
		return conversational(spec, p)
	}
	if p.Prompt == "" {
		return nil, fmt.Errorf("convert: %s: no prompt content: %w", spec.Name, contract.ErrInvalidInput)
	}
	rec := contract.OutputRecord{}
	switch target.Shape {
	case ShapeLanguageModeling:
		rec["text"] = p.Text
	case ShapePromptOnly:
		rec["prompt"] = p.Prompt
	case ShapePreference:
		rec["prompt"] = p.Prompt
		copyPresent(rec, p.Pass, "chosen", "rejected")
	case ShapeUnpairedPreference:
		rec["prompt"] = p.Prompt
		setNonEmpty(rec, "completion", p.Completion)
		copyPresent(rec, p.Pass, "label")
	case ShapeStepwise:
		rec["prompt"] = p.Prompt
		copyPresent(rec, p.Pass, "completions", "labels")
	default: // prompt_completion
		rec["prompt"] = p.Prompt
		setNonEmpty(rec, "completion", p.Completion)
		if len(p.Metadata) > 0 {
			rec["metadata"] = p.Metadata
		}
	}
	return rec, nil
}

// conversational builds {"messages": [...]}: an optional system turn for scenario
// types, then the sample's own turns or a user/assistant pair.
func conversational(spec contract.TypeSpec, p Projection) (contract.OutputRecord, error) {
	var msgs []contract.Turn
	if spec.Scenario && p.System != "" {
		msgs = append(msgs, contract.Turn{Role: "system", Content: p.System})
	}
	if len(p.Turns) > 0 {
		msgs = append(msgs, p.Turns...)
	} else {
		if p.Prompt == "" {
			return nil, fmt.Errorf("convert: %s: no prompt content: %w", spec.Name, contract.ErrInvalidInput)
		}
		msgs = append(msgs, contract.Turn{Role: "user", Content: p.Prompt})
		if p.Completion != "" {
			msgs = append(msgs, contract.Turn{Role: "assistant", Content: p.Completion})
		}
	}
	return contract.OutputRecord{"messages": msgs}, nil
}

// ConvertAll converts every sample; samples that cannot be converted are skipped and
// counted.
func ConvertAll(spec contract.TypeSpec, samples []contract.Sample, target Target) ([]contract.OutputRecord, int) {
	out := make([]contract.OutputRecord, 0, len(samples))
	skipped := 0
	for _, s := range samples {
		rec, err := Convert(spec, s, target)
		if err != nil {
			skipped++
			continue
		}
		out = append(out, rec)
	}
	return out, skipped
}

func copyPresent(dst contract.OutputRecord, src map[string]any, names ...string) {
	for _, n := range names {
		if v, ok := src[n]; ok {
			dst[n] = v
		}
	}
}

func setNonEmpty(dst contract.OutputRecord, key, v string) {
	if v != "" {
		dst[key] = v
	}
}
