package contract

import "context"

// Prompt: opaque payload interpreted by a matching PromptBuilder/LLMClient pair.
type Prompt any

// Message: minimal chat message shape.
type Message struct {
	Role    string
	Content string
}

// TextPrompt: plain text prompt.
type TextPrompt string

// ChatPrompt: chat prompt. A message with Role "json_schema" carries the response
// schema; clients lift it into their structured-output parameter.
type ChatPrompt []Message

// RoleJSONSchema is the pseudo role carrying a response JSON schema.
const RoleJSONSchema = "json_schema"

// PromptBuilder: builds a deterministic prompt for one generation request.
// Constraints:
//   - pure computation, no I/O after construction;
//   - fails fast on invalid requests.
type PromptBuilder interface {
	Build(ctx context.Context, req GenerationRequest) (Prompt, error)
	// EstimateOverheadTokens: tokens of the fixed, request independent part
	// (system text and rules). Chunk text is excluded.
	EstimateOverheadTokens(estimate TokenEstimator) int
}

// TokenEstimator: approximate text → token count.
type TokenEstimator func(s string) int
