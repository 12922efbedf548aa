package flaky

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"

	"llmds/pkg/contract"
	"llmds/plugins/llmclient/mock"
)

// Options configures the flaky client.
type Options struct {
	Prefix string `json:"prefix"`
	// LogPath appends one line per call outcome (debugging only).
	LogPath string `json:"log_path,omitempty"`
}

// Client is a stateful LLMClient used to exercise retry paths:
// the first Invoke returns ErrRateLimited, the second unparsable text,
// every later one valid mock samples.
type Client struct {
	prefix  string
	logPath string
	count   atomic.Int32
}

// New builds the client.
func New(raw json.RawMessage) (contract.LLMClient, error) {
	var o Options
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &o); err != nil {
			return nil, err
		}
	}
	if o.Prefix == "" {
		o.Prefix = "FLAKY"
	}
	return &Client{prefix: o.Prefix, logPath: o.LogPath}, nil
}

func (c *Client) log(s string) {
	if c.logPath == "" {
		return
	}
	f, err := os.OpenFile(c.logPath, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.WriteString(s + "\n")
}

// Invoke implements contract.LLMClient.
func (c *Client) Invoke(ctx context.Context, req contract.GenerationRequest, _ contract.Prompt) (contract.Raw, error) {
	if err := ctx.Err(); err != nil {
		return contract.Raw{}, err
	}
	switch c.count.Add(1) {
	case 1:
		c.log("rate_limited")
		return contract.Raw{}, contract.ErrRateLimited
	case 2:
		c.log("invalid_json")
		return contract.Raw{Text: "invalid"}, nil
	default:
		c.log("ok")
		text, err := mock.Samples(c.prefix, req, req.Count)
		if err != nil {
			return contract.Raw{}, err
		}
		return contract.Raw{Text: text}, nil
	}
}

var _ contract.LLMClient = (*Client)(nil)
