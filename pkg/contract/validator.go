package contract

import (
	"context"
	"fmt"
	"strings"
)

// Decoder: turns a raw model response into samples valid for req.Type.
// Samples violating the declared shape are dropped; an unparsable response, or one
// where nothing survives validation, is ErrResponseInvalid.
type Decoder interface {
	Decode(ctx context.Context, req GenerationRequest, raw Raw) ([]Sample, error)
}

// Generator: the model collaborator. Given a request it returns validated samples for
// one dataset type, or an error. Implementations may be non-deterministic.
type Generator interface {
	Generate(ctx context.Context, req GenerationRequest) ([]Sample, error)
}

// ValidateSample checks that every required field of spec is present, non-empty and
// of the declared kind, and that present optional fields have the declared kind.
// Pure function, no I/O.
func ValidateSample(spec TypeSpec, s Sample) error {
	if s == nil {
		return fmt.Errorf("%s: nil sample: %w", spec.Name, ErrResponseInvalid)
	}
	for _, f := range spec.Fields {
		v, ok := s[f.Name]
		if !ok || v == nil {
			if f.Required {
				return fmt.Errorf("%s: missing field %q: %w", spec.Name, f.Name, ErrResponseInvalid)
			}
			continue
		}
		if err := checkKind(f, v); err != nil {
			return fmt.Errorf("%s: %w", spec.Name, err)
		}
	}
	return nil
}

func checkKind(f Field, v any) error {
	switch f.Kind {
	case KindString:
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("field %q: want string: %w", f.Name, ErrResponseInvalid)
		}
		if f.Required && strings.TrimSpace(s) == "" {
			return fmt.Errorf("field %q: empty: %w", f.Name, ErrResponseInvalid)
		}
	case KindNumber:
		switch v.(type) {
		case float64, float32, int, int64:
		default:
			return fmt.Errorf("field %q: want number: %w", f.Name, ErrResponseInvalid)
		}
	case KindStrings:
		arr, ok := v.([]any)
		if !ok {
			if ss, ok2 := v.([]string); ok2 {
				if f.Required && len(ss) == 0 {
					return fmt.Errorf("field %q: empty list: %w", f.Name, ErrResponseInvalid)
				}
				return nil
			}
			return fmt.Errorf("field %q: want list: %w", f.Name, ErrResponseInvalid)
		}
		if f.Required && len(arr) == 0 {
			return fmt.Errorf("field %q: empty list: %w", f.Name, ErrResponseInvalid)
		}
		for _, it := range arr {
			if _, ok := it.(string); !ok {
				return fmt.Errorf("field %q: want list of strings: %w", f.Name, ErrResponseInvalid)
			}
		}
	case KindTurns:
		arr, ok := v.([]any)
		if !ok {
			if ts, ok2 := v.([]Turn); ok2 {
				if f.Required && len(ts) == 0 {
					return fmt.Errorf("field %q: empty turns: %w", f.Name, ErrResponseInvalid)
				}
				return nil
			}
			return fmt.Errorf("field %q: want turns: %w", f.Name, ErrResponseInvalid)
		}
		if f.Required && len(arr) == 0 {
			return fmt.Errorf("field %q: empty turns: %w", f.Name, ErrResponseInvalid)
		}
		for _, it := range arr {
			m, ok := it.(map[string]any)
			if !ok {
				return fmt.Errorf("field %q: turn must be an object: %w", f.Name, ErrResponseInvalid)
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			if strings.TrimSpace(role) == "" || strings.TrimSpace(content) == "" {
				return fmt.Errorf("field %q: turn needs role and content: %w", f.Name, ErrResponseInvalid)
			}
		}
	}
	return nil
}
