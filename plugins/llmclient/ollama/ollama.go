package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"llmds/pkg/contract"
	"llmds/plugins/llmclient/upstream"
)

// Options configures a local Ollama server client. Local models are slow; the
// default timeout is generous.
type Options struct {
	BaseURL        string            `json:"base_url"` // default http://localhost:11434
	Model          string            `json:"model"`    // default llama3.1
	TimeoutSeconds int               `json:"timeout_seconds"`
	Temperature    *float64          `json:"temperature,omitempty"`
	NumCtx         int               `json:"num_ctx,omitempty"`
	KeepAlive      string            `json:"keep_alive,omitempty"`
	ExtraHeaders   map[string]string `json:"extra_headers"`
}

type Client struct {
	rc    *resty.Client
	model string
	opts  map[string]any
	keep  string
}

// New builds the client from raw JSON options.
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, fmt.Errorf("ollama options: %w", err)
		}
	}
	if o.BaseURL == "" {
		o.BaseURL = "http://localhost:11434"
	}
	if strings.TrimSpace(o.Model) == "" {
		o.Model = "llama3.1"
	}
	if o.TimeoutSeconds <= 0 {
		o.TimeoutSeconds = 300
	}
	mo := map[string]any{}
	if o.Temperature != nil {
		mo["temperature"] = *o.Temperature
	}
	if o.NumCtx > 0 {
		mo["num_ctx"] = o.NumCtx
	}
	return &Client{
		rc:    upstream.NewClient(o.BaseURL, o.TimeoutSeconds, o.ExtraHeaders),
		model: o.Model,
		opts:  mo,
		keep:  o.KeepAlive,
	}, nil
}

type olMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type olReq struct {
	Model     string          `json:"model"`
	Messages  []olMessage     `json:"messages"`
	Stream    bool            `json:"stream"`
	Format    json.RawMessage `json:"format,omitempty"`
	Options   map[string]any  `json:"options,omitempty"`
	KeepAlive string          `json:"keep_alive,omitempty"`
}

type olResp struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done  bool   `json:"done"`
	Error string `json:"error"`
}

// Invoke posts one non-streaming /api/chat call; the schema becomes "format".
func (c *Client) Invoke(ctx context.Context, _ contract.GenerationRequest, p contract.Prompt) (contract.Raw, error) {
	msgs, schema, err := upstream.SplitSchema(p)
	if err != nil {
		return contract.Raw{}, err
	}
	body := olReq{Model: c.model, Messages: make([]olMessage, len(msgs)), KeepAlive: c.keep}
	for i, m := range msgs {
		body.Messages[i] = olMessage{Role: m.Role, Content: m.Content}
	}
	if len(schema) > 0 {
		body.Format = schema
	}
	if len(c.opts) > 0 {
		body.Options = c.opts
	}
	var out olResp
	resp, err := c.rc.R().SetContext(ctx).SetBody(&body).SetResult(&out).Post("/api/chat")
	if err := upstream.Check(ctx, "ollama", resp, err); err != nil {
		return contract.Raw{}, err
	}
	if out.Error != "" {
		return contract.Raw{}, fmt.Errorf("ollama: %s: %w", out.Error, contract.ErrResponseInvalid)
	}
	if strings.TrimSpace(out.Message.Content) == "" {
		return contract.Raw{}, fmt.Errorf("ollama: empty message: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: out.Message.Content}, nil
}

var _ contract.LLMClient = (*Client)(nil)
