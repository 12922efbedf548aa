package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"llmds/pkg/contract"
	"llmds/plugins/llmclient/upstream"
)

// Options configures an OpenAI-compatible chat completions client.
type Options struct {
	BaseURL        string   `json:"base_url"`    // e.g. https://api.openai.com/v1
	Model          string   `json:"model"`       // default gpt-4.1-mini
	APIKeyEnv      string   `json:"api_key_env"` // default OPENAI_API_KEY
	APIKey         string   `json:"api_key"`
	TimeoutSeconds int      `json:"timeout_seconds"`
	Temperature    *float64 `json:"temperature,omitempty"`
	// EndpointPath overrides /chat/completions; a full http(s) URL is used as-is.
	EndpointPath       string            `json:"endpoint_path"`
	DisableDefaultAuth bool              `json:"disable_default_auth"`
	ExtraHeaders       map[string]string `json:"extra_headers"`
	// JSONObjectOnly sends response_format json_object instead of json_schema, for
	// compatible servers without structured outputs.
	JSONObjectOnly bool `json:"json_object_only"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://api.openai.com/v1"
	}
	if o.Model == "" {
		o.Model = "gpt-4.1-mini"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "OPENAI_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/chat/completions"
	}
}

type Client struct {
	rc         *resty.Client
	path       string
	model      string
	temp       *float64
	objectOnly bool
}

// New builds the client from raw JSON options.
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("openai options: %w", err)
		}
	}
	opts.defaults()
	key := upstream.APIKey(opts.APIKey, opts.APIKeyEnv, os.Getenv)
	if key == "" && !opts.DisableDefaultAuth {
		return nil, fmt.Errorf("openai: %w: missing api key", contract.ErrInvalidInput)
	}
	rc := upstream.NewClient(opts.BaseURL, opts.TimeoutSeconds, nil)
	if !opts.DisableDefaultAuth {
		rc.SetAuthToken(key)
	}
	for k, v := range opts.ExtraHeaders {
		if k != "" {
			rc.SetHeader(k, v)
		}
	}
	path := opts.EndpointPath
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		path = "/" + strings.TrimLeft(path, "/")
	}
	return &Client{rc: rc, path: path, model: opts.Model, temp: opts.Temperature, objectOnly: opts.JSONObjectOnly}, nil
}

type oaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type oaReq struct {
	Model          string            `json:"model"`
	Messages       []oaMessage       `json:"messages"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat *oaResponseFormat `json:"response_format,omitempty"`
}

type oaResponseFormat struct {
	Type       string        `json:"type"` // json_object | json_schema
	JSONSchema *oaJSONSchema `json:"json_schema,omitempty"`
}

type oaJSONSchema struct {
	Name   string          `json:"name"`
	Schema json.RawMessage `json:"schema"`
}

type oaResp struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Invoke sends one chat completion. A json_schema message in the prompt becomes the
// structured response_format named after the dataset type.
func (c *Client) Invoke(ctx context.Context, req contract.GenerationRequest, p contract.Prompt) (contract.Raw, error) {
	msgs, schema, err := upstream.SplitSchema(p)
	if err != nil {
		return contract.Raw{}, err
	}
	body := oaReq{Model: c.model, Temperature: c.temp, Messages: make([]oaMessage, len(msgs))}
	for i, m := range msgs {
		body.Messages[i] = oaMessage{Role: m.Role, Content: m.Content}
	}
	switch {
	case len(schema) > 0 && !c.objectOnly:
		name := string(req.Type.Name)
		if name == "" {
			name = "samples"
		}
		body.ResponseFormat = &oaResponseFormat{Type: "json_schema", JSONSchema: &oaJSONSchema{Name: name, Schema: schema}}
	case len(schema) > 0:
		body.ResponseFormat = &oaResponseFormat{Type: "json_object"}
	}

	var out oaResp
	resp, err := c.rc.R().SetContext(ctx).SetBody(&body).SetResult(&out).Post(c.path)
	if err := upstream.Check(ctx, "openai", resp, err); err != nil {
		return contract.Raw{}, err
	}
	if len(out.Choices) == 0 || strings.TrimSpace(out.Choices[0].Message.Content) == "" {
		return contract.Raw{}, fmt.Errorf("openai: empty choices: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: out.Choices[0].Message.Content}, nil
}

var _ contract.LLMClient = (*Client)(nil)
