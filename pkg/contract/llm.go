package contract

import (
	"context"
	"errors"
)

// Raw: untouched text payload returned by an LLM client.
type Raw struct {
	Text string
}

// LLMClient: one synchronous model call per (request, prompt).
// Must honour ctx cancellation and release resources promptly.
type LLMClient interface {
	Invoke(ctx context.Context, req GenerationRequest, p Prompt) (Raw, error)
}

// Minimal error taxonomy used by retry and classification policies.
var (
	ErrRateLimited     = errors.New("rate limited")
	ErrResponseInvalid = errors.New("response invalid")
	ErrInvalidInput    = errors.New("invalid input")
)
