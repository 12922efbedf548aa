package generate

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"llmds/internal/diag"
	"llmds/internal/rate"
	"llmds/internal/types"
	"llmds/pkg/contract"
)

// Model: the model collaborator assembled from atomic components.
// Build prompt → Gate.Wait → LLMClient.Invoke → Decoder.Decode → Normalize.
// One attempt per call; retry policy belongs to the Invoker.
type Model struct {
	Prompt  contract.PromptBuilder
	LLM     contract.LLMClient
	Decoder contract.Decoder

	// Gate is optional; when set every call asks for one request plus the estimated
	// prompt tokens under GateKey.
	Gate     rate.Gate
	GateKey  rate.LimitKey
	Estimate contract.TokenEstimator

	Logger *diag.Logger
}

var _ contract.Generator = (*Model)(nil)

// Generate runs one model round trip for req.
func (m *Model) Generate(ctx context.Context, req contract.GenerationRequest) ([]contract.Sample, error) {
	if m.Prompt == nil || m.LLM == nil || m.Decoder == nil {
		return nil, fmt.Errorf("model: %w: missing component", contract.ErrInvalidInput)
	}
	fid, bid := string(req.Chunk.FileID), batchID(req)

	p, err := m.Prompt.Build(ctx, req)
	if err != nil {
		diag.Fail(m.Logger, "prompt_builder", "build failed", err, fid, bid, nil)
		return nil, fmt.Errorf("prompt build: %w", err)
	}

	if m.Gate != nil {
		tokens := 0
		if m.Estimate != nil {
			tokens = promptTokens(p, m.Estimate)
		}
		m.Logger.DebugStart("gate", "ask", fid, bid, map[string]string{
			"requests": "1",
			"tokens":   fmt.Sprintf("%d", tokens),
		})
		if err := m.Gate.Wait(ctx, rate.Ask{Key: m.GateKey, Requests: 1, Tokens: tokens}); err != nil {
			diag.Fail(m.Logger, "gate", "wait failed", err, fid, bid, nil)
			return nil, fmt.Errorf("gate: %w", err)
		}
	}

	timer := m.Logger.StartWithKV("llm_client", "invoke", fid, bid, map[string]string{"type": string(req.Type.Name)})
	raw, err := m.LLM.Invoke(ctx, req, p)
	if err != nil {
		kv := map[string]string{"type": string(req.Type.Name)}
		var ue contract.UpstreamError
		if errors.As(err, &ue) {
			kv["http_status"] = fmt.Sprintf("%d", ue.UpstreamStatus())
			if msg := strings.TrimSpace(ue.UpstreamMessage()); msg != "" {
				if len(msg) > 200 {
					msg = msg[:200]
				}
				kv["upstream_msg"] = msg
			}
		}
		diag.Fail(m.Logger, "llm_client", "invoke failed", err, fid, bid, kv)
		return nil, fmt.Errorf("llm invoke: %w", err)
	}
	timer.Finish("invoke", int64(len(raw.Text)))
	diag.IncOp("llm_client", "finish", "success")

	samples, err := m.Decoder.Decode(ctx, req, raw)
	if err != nil {
		diag.Fail(m.Logger, "decoder", "decode failed", err, fid, bid, map[string]string{"type": string(req.Type.Name)})
		return nil, fmt.Errorf("decode: %w", err)
	}
	out := make([]contract.Sample, 0, len(samples))
	for _, s := range samples {
		out = append(out, types.Normalize(req.Type, s))
	}
	diag.IncOp("decoder", "finish", "success")
	return out, nil
}

func batchID(req contract.GenerationRequest) string {
	return fmt.Sprintf("%d/%s", req.Chunk.Index, req.Type.Name)
}

// promptTokens estimates the full prompt size (system, user and schema text).
func promptTokens(p contract.Prompt, est contract.TokenEstimator) int {
	switch v := p.(type) {
	case contract.TextPrompt:
		return est(string(v))
	case contract.ChatPrompt:
		n := 0
		for _, m := range v {
			n += est(m.Content)
		}
		return n
	case string:
		return est(v)
	default:
		return 0
	}
}
