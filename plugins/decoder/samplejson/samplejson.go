package samplejson

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"llmds/pkg/contract"
)

// Options configures the sample decoder.
type Options struct {
	// Strict rejects the whole response when any sample fails validation.
	// Default drops invalid samples and keeps the rest.
	Strict bool `json:"strict"`
	// Envelope is the key holding the sample array. Default "samples".
	Envelope string `json:"envelope"`
}

type decoder struct {
	strict   bool
	envelope string
}

// New creates the decoder from raw JSON options.
func New(raw json.RawMessage) (contract.Decoder, error) {
	var opts Options
	if len(raw) > 0 {
		dec := json.NewDecoder(strings.NewReader(string(raw)))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&opts); err != nil {
			return nil, fmt.Errorf("samplejson options: %w: %v", contract.ErrInvalidInput, err)
		}
	}
	if opts.Envelope == "" {
		opts.Envelope = "samples"
	}
	return &decoder{strict: opts.Strict, envelope: opts.Envelope}, nil
}

// Decode accepts {"samples":[...]}, {"<type>":[...]}, a bare array or a single object,
// optionally wrapped in markdown code fences.
func (d *decoder) Decode(ctx context.Context, req contract.GenerationRequest, raw contract.Raw) ([]contract.Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	body := stripFences(raw.Text)
	if body == "" {
		return nil, fmt.Errorf("empty response: %w", contract.ErrResponseInvalid)
	}
	var v any
	if err := json.Unmarshal([]byte(body), &v); err != nil {
		return nil, fmt.Errorf("decode samples json: %w", contract.ErrResponseInvalid)
	}
	items, err := d.items(req.Type.Name, v)
	if err != nil {
		return nil, err
	}
	out := make([]contract.Sample, 0, len(items))
	var firstErr error
	for i, it := range items {
		m, ok := it.(map[string]any)
		if !ok {
			if firstErr == nil {
				firstErr = fmt.Errorf("sample %d is not an object: %w", i, contract.ErrResponseInvalid)
			}
			continue
		}
		s := contract.Sample(m)
		if err := contract.ValidateSample(req.Type, s); err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("sample %d: %w", i, err)
			}
			continue
		}
		out = append(out, s)
	}
	if firstErr != nil && (d.strict || len(out) == 0) {
		return nil, firstErr
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no samples in response: %w", contract.ErrResponseInvalid)
	}
	return out, nil
}

func (d *decoder) items(name contract.DatasetType, v any) ([]any, error) {
	switch x := v.(type) {
	case []any:
		return x, nil
	case map[string]any:
		for _, key := range []string{d.envelope, string(name)} {
			if arr, ok := x[key].([]any); ok {
				return arr, nil
			}
		}
		if _, ok := x[d.envelope]; ok {
			return nil, fmt.Errorf("%q is not an array: %w", d.envelope, contract.ErrResponseInvalid)
		}
		return []any{x}, nil
	default:
		return nil, fmt.Errorf("unexpected json %T: %w", v, contract.ErrResponseInvalid)
	}
}

// stripFences removes a surrounding ```json ... ``` block and leading prose.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if i := strings.IndexByte(s, '\n'); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		if j := strings.LastIndex(s, "```"); j >= 0 {
			s = s[:j]
		}
		s = strings.TrimSpace(s)
	}
	if s == "" || s[0] == '{' || s[0] == '[' {
		return s
	}
	if i := strings.IndexAny(s, "{["); i >= 0 {
		return s[i:]
	}
	return s
}

var _ contract.Decoder = (*decoder)(nil)
