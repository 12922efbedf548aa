// Package upstream holds the HTTP plumbing shared by the LLM clients: a resty client
// builder, status classification and json_schema prompt splitting.
package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"llmds/pkg/contract"
)

// DefaultTimeout applies when a client sets no timeout.
const DefaultTimeout = 60 * time.Second

// NewClient builds a resty client with JSON headers and the extra headers applied.
func NewClient(baseURL string, timeoutSeconds int, headers map[string]string) *resty.Client {
	timeout := DefaultTimeout
	if timeoutSeconds > 0 {
		timeout = time.Duration(timeoutSeconds) * time.Second
	}
	c := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	for k, v := range headers {
		if k != "" {
			c.SetHeader(k, v)
		}
	}
	return c
}

// Check maps a resty round trip to the error taxonomy:
//   - ctx cancellation/deadline → ctx.Err();
//   - 429 → ErrRateLimited;
//   - 401/403 → ErrAuth / ErrPermission;
//   - 408 and 5xx → *contract.HTTPError (net.Error, retryable);
//   - other non-2xx → ErrInvalidInput.
//
// Every HTTP failure keeps the *contract.HTTPError in its chain.
func Check(ctx context.Context, service string, resp *resty.Response, err error) error {
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%s request: %w", service, err)
	}
	st := resp.StatusCode()
	if st/100 == 2 {
		return nil
	}
	up := &contract.HTTPError{Service: service, Status: st, Msg: contract.Trim(resp.String(), 512)}
	switch {
	case st == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w", contract.ErrRateLimited, up)
	case st == http.StatusUnauthorized:
		return fmt.Errorf("%w: %w", contract.ErrAuth, up)
	case st == http.StatusForbidden:
		return fmt.Errorf("%w: %w", contract.ErrPermission, up)
	case st == http.StatusRequestTimeout || st/100 == 5:
		return up
	default:
		return fmt.Errorf("%w: %w", contract.ErrInvalidInput, up)
	}
}

// SplitSchema separates the json_schema pseudo message from the chat messages.
// A TextPrompt becomes one user message. An unparsable schema is ignored.
func SplitSchema(p contract.Prompt) ([]contract.Message, json.RawMessage, error) {
	switch v := p.(type) {
	case contract.TextPrompt:
		return []contract.Message{{Role: "user", Content: string(v)}}, nil, nil
	case contract.ChatPrompt:
		out := make([]contract.Message, 0, len(v))
		var schema json.RawMessage
		for _, m := range v {
			if strings.EqualFold(strings.TrimSpace(m.Role), contract.RoleJSONSchema) {
				var raw json.RawMessage
				if json.Unmarshal([]byte(m.Content), &raw) == nil && len(raw) > 0 {
					schema = raw
				}
				continue
			}
			out = append(out, m)
		}
		if len(out) == 0 {
			return nil, nil, fmt.Errorf("empty chat prompt: %w", contract.ErrInvalidInput)
		}
		return out, schema, nil
	default:
		return nil, nil, fmt.Errorf("unsupported prompt %T: %w", p, contract.ErrInvalidInput)
	}
}

// APIKey returns the explicit key or the value of env.
func APIKey(explicit, env string, getenv func(string) string) string {
	if k := strings.TrimSpace(explicit); k != "" {
		return k
	}
	if env == "" {
		return ""
	}
	return strings.TrimSpace(getenv(env))
}
