package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"llmds/pkg/contract"
)

// Response modes.
const (
	ModeSamples = "samples" // {"samples":[...]} with Count valid samples
	ModeShort   = "short"   // one sample fewer than asked (at least one)
	ModeOver    = "over"    // two samples more than asked
	ModeFenced  = "fenced"  // samples wrapped in a ```json fence
	ModeInvalid = "invalid" // unparsable text
	ModeEcho    = "echo"    // first prompt message, for debugging prompts
)

// Options configures the offline mock client.
type Options struct {
	Prefix string `json:"prefix"` // default "MOCK"
	// APIKey only groups rate limits; no request leaves the process.
	APIKey       string `json:"api_key"`
	ResponseMode string `json:"response_mode,omitempty"`
	// DelayMillis simulates model latency.
	DelayMillis int `json:"delay_ms,omitempty"`
}

// Client produces deterministic samples from the request's TypeSpec so the whole
// pipeline runs without network access.
type Client struct {
	prefix string
	mode   string
	delay  time.Duration
}

// New builds the mock client; option errors are ignored.
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		_ = json.Unmarshal(raw, &o)
	}
	if o.Prefix == "" {
		o.Prefix = "MOCK"
	}
	mode := strings.TrimSpace(o.ResponseMode)
	if mode == "" {
		mode = ModeSamples
	}
	return &Client{prefix: o.Prefix, mode: mode, delay: time.Duration(o.DelayMillis) * time.Millisecond}, nil
}

// Invoke returns a canned response for req.
func (c *Client) Invoke(ctx context.Context, req contract.GenerationRequest, p contract.Prompt) (contract.Raw, error) {
	if c.delay > 0 {
		t := time.NewTimer(c.delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return contract.Raw{}, ctx.Err()
		case <-t.C:
		}
	}
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	n := req.Count
	switch c.mode {
	case ModeInvalid:
		return contract.Raw{Text: c.prefix + ": not json"}, nil
	case ModeEcho:
		return contract.Raw{Text: echo(c.prefix, p)}, nil
	case ModeShort:
		if n > 1 {
			n--
		}
	case ModeOver:
		n += 2
	}
	text, err := Samples(c.prefix, req, n)
	if err != nil {
		return contract.Raw{}, err
	}
	if c.mode == ModeFenced {
		text = "```json\n" + text + "\n```"
	}
	return contract.Raw{Text: text}, nil
}

// Samples renders n samples for req as {"samples":[...]}.
func Samples(prefix string, req contract.GenerationRequest, n int) (string, error) {
	items := make([]map[string]any, 0, n)
	snippet := firstWords(req.Chunk.Text, 8)
	for i := 0; i < n; i++ {
		s := make(map[string]any, len(req.Type.Fields))
		for _, f := range req.Type.Fields {
			s[f.Name] = value(prefix, f, i, snippet)
		}
		items = append(items, s)
	}
	b, err := json.Marshal(map[string]any{"samples": items})
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func value(prefix string, f contract.Field, i int, snippet string) any {
	switch f.Kind {
	case contract.KindNumber:
		if f.Default != nil {
			return f.Default
		}
		return i
	case contract.KindStrings:
		return []string{
			fmt.Sprintf("%s step 1 for %s", prefix, snippet),
			fmt.Sprintf("%s step 2 (%d)", prefix, i),
		}
	case contract.KindTurns:
		return []contract.Turn{
			{Role: "user", Content: fmt.Sprintf("%s question %d about %s", prefix, i, snippet)},
			{Role: "assistant", Content: fmt.Sprintf("%s answer %d", prefix, i)},
		}
	}
	switch f.Name {
	case "language", "source_language":
		return "en"
	case "target_language":
		return "hi"
	case "label":
		return fmt.Sprintf("label_%d", i%2)
	}
	return fmt.Sprintf("%s %s %d: %s", prefix, f.Name, i, snippet)
}

func firstWords(s string, n int) string {
	w := strings.Fields(s)
	if len(w) > n {
		w = w[:n]
	}
	if len(w) == 0 {
		return "the passage"
	}
	return strings.Join(w, " ")
}

func echo(prefix string, p contract.Prompt) string {
	switch v := p.(type) {
	case contract.TextPrompt:
		return fmt.Sprintf("%s(text): %s", prefix, string(v))
	case contract.ChatPrompt:
		if len(v) == 0 {
			return prefix + "(chat): <empty>"
		}
		return fmt.Sprintf("%s(chat:%s): %s", prefix, v[0].Role, v[0].Content)
	default:
		return prefix + "(unknown prompt type)"
	}
}

var _ contract.LLMClient = (*Client)(nil)
