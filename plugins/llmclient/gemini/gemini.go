package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/go-resty/resty/v2"

	"llmds/pkg/contract"
	"llmds/plugins/llmclient/upstream"
)

// Options configures the Google Generative Language API (Gemini) client.
type Options struct {
	BaseURL        string `json:"base_url"`    // https://generativelanguage.googleapis.com
	Model          string `json:"model"`       // default gemini-2.5-flash
	APIKeyEnv      string `json:"api_key_env"` // default GOOGLE_API_KEY
	APIKey         string `json:"api_key"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	// EndpointPath overrides /v1beta/models/{model}:generateContent; {model} is expanded.
	EndpointPath  string            `json:"endpoint_path"`
	APIKeyInQuery *bool             `json:"api_key_in_query"` // default true, else x-goog-api-key
	ExtraHeaders  map[string]string `json:"extra_headers"`
	ExtraQuery    map[string]string `json:"extra_query"`
	// ResponseMIMEType applies only when the prompt carries a schema. Default application/json.
	ResponseMIMEType string `json:"response_mime_type,omitempty"`
}

func (o *Options) defaults() {
	if o.BaseURL == "" {
		o.BaseURL = "https://generativelanguage.googleapis.com"
	}
	if o.Model == "" {
		o.Model = "gemini-2.5-flash"
	}
	if o.APIKeyEnv == "" {
		o.APIKeyEnv = "GOOGLE_API_KEY"
	}
	if o.EndpointPath == "" {
		o.EndpointPath = "/v1beta/models/{model}:generateContent"
	}
	if o.APIKeyInQuery == nil {
		t := true
		o.APIKeyInQuery = &t
	}
	if o.ResponseMIMEType == "" {
		o.ResponseMIMEType = "application/json"
	}
}

type Client struct {
	rc       *resty.Client
	path     string
	respMIME string
}

// New builds the client from raw JSON options.
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var opts Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &opts); err != nil {
			return nil, fmt.Errorf("gemini options: %w", err)
		}
	}
	opts.defaults()
	key := upstream.APIKey(opts.APIKey, opts.APIKeyEnv, os.Getenv)
	if key == "" {
		return nil, fmt.Errorf("gemini: %w: missing api key", contract.ErrInvalidInput)
	}
	path := strings.ReplaceAll(opts.EndpointPath, "{model}", url.PathEscape(opts.Model))
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		path = "/" + strings.TrimLeft(path, "/")
	}
	rc := upstream.NewClient(opts.BaseURL, opts.TimeoutSeconds, opts.ExtraHeaders)
	if *opts.APIKeyInQuery {
		rc.SetQueryParam("key", key)
	} else {
		rc.SetHeader("x-goog-api-key", key)
	}
	for k, v := range opts.ExtraQuery {
		if k != "" {
			rc.SetQueryParam(k, v)
		}
	}
	return &Client{rc: rc, path: path, respMIME: opts.ResponseMIMEType}, nil
}

type gmPart struct {
	Text string `json:"text"`
}

type gmContent struct {
	Role  string   `json:"role,omitempty"`
	Parts []gmPart `json:"parts"`
}

type gmGenerationConfig struct {
	ResponseMIMEType   string          `json:"responseMimeType,omitempty"`
	ResponseJSONSchema json.RawMessage `json:"responseJsonSchema,omitempty"`
}

type gmReq struct {
	SystemInstruction *gmContent          `json:"systemInstruction,omitempty"`
	Contents          []gmContent         `json:"contents"`
	GenerationConfig  *gmGenerationConfig `json:"generationConfig,omitempty"`
}

type gmResp struct {
	Candidates []struct {
		Content struct {
			Parts []gmPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

// Invoke calls generateContent. System messages move to systemInstruction;
// assistant turns map to role "model".
func (c *Client) Invoke(ctx context.Context, _ contract.GenerationRequest, p contract.Prompt) (contract.Raw, error) {
	msgs, schema, err := upstream.SplitSchema(p)
	if err != nil {
		return contract.Raw{}, err
	}
	var body gmReq
	var sys []gmPart
	for _, m := range msgs {
		if strings.EqualFold(strings.TrimSpace(m.Role), "system") {
			sys = append(sys, gmPart{Text: m.Content})
			continue
		}
		body.Contents = append(body.Contents, gmContent{Role: normalizeRole(m.Role), Parts: []gmPart{{Text: m.Content}}})
	}
	if len(sys) > 0 {
		body.SystemInstruction = &gmContent{Parts: sys}
	}
	if len(body.Contents) == 0 {
		return contract.Raw{}, fmt.Errorf("gemini: no user content: %w", contract.ErrInvalidInput)
	}
	if len(schema) > 0 {
		body.GenerationConfig = &gmGenerationConfig{ResponseMIMEType: c.respMIME, ResponseJSONSchema: schema}
	}

	var out gmResp
	resp, err := c.rc.R().SetContext(ctx).SetBody(&body).SetResult(&out).Post(c.path)
	if err := upstream.Check(ctx, "gemini", resp, err); err != nil {
		return contract.Raw{}, err
	}
	if out.PromptFeedback.BlockReason != "" {
		return contract.Raw{}, fmt.Errorf("gemini: prompt blocked (%s): %w", out.PromptFeedback.BlockReason, contract.ErrResponseInvalid)
	}
	if len(out.Candidates) == 0 {
		return contract.Raw{}, fmt.Errorf("gemini: no candidates: %w", contract.ErrResponseInvalid)
	}
	var sb strings.Builder
	for _, part := range out.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if strings.TrimSpace(sb.String()) == "" {
		return contract.Raw{}, fmt.Errorf("gemini: empty candidate: %w", contract.ErrResponseInvalid)
	}
	return contract.Raw{Text: sb.String()}, nil
}

// normalizeRole maps chat roles onto Gemini's user|model.
func normalizeRole(r string) string {
	switch strings.ToLower(strings.TrimSpace(r)) {
	case "model", "assistant":
		return "model"
	default:
		return "user"
	}
}

var _ contract.LLMClient = (*Client)(nil)
