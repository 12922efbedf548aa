package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"llmds/internal/rate"
	"llmds/internal/types"
	"llmds/pkg/contract"
)

type genFunc func(ctx context.Context, req contract.GenerationRequest) ([]contract.Sample, error)

func (f genFunc) Generate(ctx context.Context, req contract.GenerationRequest) ([]contract.Sample, error) {
	return f(ctx, req)
}

func qaRequest(count int) contract.GenerationRequest {
	spec, _ := types.Default().Lookup("qa")
	return contract.GenerationRequest{
		Chunk: contract.Chunk{FileID: "a.txt", Index: 0, Text: "text"},
		Type:  spec,
		Count: count,
	}
}

func samples(n int) []contract.Sample {
	out := make([]contract.Sample, n)
	for i := range out {
		out[i] = contract.Sample{"question": fmt.Sprintf("q%d", i), "answer": "a"}
	}
	return out
}

func fastPolicy(retries int) Policy {
	return Policy{MaxRetries: retries, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}
}

func TestInvokeTruncatesOverReturn(t *testing.T) {
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		return samples(5), nil
	}), fastPolicy(0), nil)
	res := iv.Invoke(context.Background(), qaRequest(3))
	require.NoError(t, res.Err)
	assert.Len(t, res.Samples, 3)
	assert.Equal(t, 1, res.Attempts)
}

func TestInvokeRecoversPanic(t *testing.T) {
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		panic("boom")
	}), fastPolicy(2), nil)
	var res Result
	require.NotPanics(t, func() { res = iv.Invoke(context.Background(), qaRequest(3)) })
	assert.ErrorIs(t, res.Err, contract.ErrInvariantViolation)
	assert.Empty(t, res.Samples)
	assert.Equal(t, 1, res.Attempts, "panics are not retried")
}

func TestInvokeRetriesRetryable(t *testing.T) {
	var calls atomic.Int32
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		if calls.Add(1) < 3 {
			return nil, contract.ErrRateLimited
		}
		return samples(2), nil
	}), fastPolicy(2), nil)
	res := iv.Invoke(context.Background(), qaRequest(3))
	require.NoError(t, res.Err)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, res.Samples, 2)
}

func TestInvokeRetriesExhausted(t *testing.T) {
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		return nil, fmt.Errorf("llm: %w", contract.ErrRateLimited)
	}), fastPolicy(1), nil)
	res := iv.Invoke(context.Background(), qaRequest(3))
	assert.ErrorIs(t, res.Err, contract.ErrRateLimited)
	assert.Equal(t, 2, res.Attempts)
	assert.Empty(t, res.Samples)
}

func TestInvokeInvalidResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		calls.Add(1)
		return nil, fmt.Errorf("decode: %w", contract.ErrResponseInvalid)
	}), fastPolicy(3), nil)
	res := iv.Invoke(context.Background(), qaRequest(2))
	assert.ErrorIs(t, res.Err, contract.ErrResponseInvalid)
	assert.Equal(t, 1, res.Attempts)
	assert.EqualValues(t, 1, calls.Load())
}

func TestInvokeDefaultSingleAttempt(t *testing.T) {
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		return nil, contract.ErrRateLimited
	}), Policy{}, nil)
	res := iv.Invoke(context.Background(), qaRequest(1))
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
}

func TestInvokeNonRetryable(t *testing.T) {
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		return samples(1), errors.New("bad request")
	}), fastPolicy(3), nil)
	res := iv.Invoke(context.Background(), qaRequest(3))
	assert.Error(t, res.Err)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, res.Samples, "samples are discarded with an error")
}

func TestInvokeTimeout(t *testing.T) {
	iv := NewInvoker(genFunc(func(ctx context.Context, _ contract.GenerationRequest) ([]contract.Sample, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}), Policy{Timeout: 20 * time.Millisecond}, nil)
	start := time.Now()
	res := iv.Invoke(context.Background(), qaRequest(1))
	assert.ErrorIs(t, res.Err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestInvokeInvalid(t *testing.T) {
	var nilInv *Invoker
	assert.ErrorIs(t, nilInv.Invoke(context.Background(), qaRequest(1)).Err, contract.ErrInvalidInput)
	iv := NewInvoker(genFunc(func(context.Context, contract.GenerationRequest) ([]contract.Sample, error) {
		return samples(1), nil
	}), Policy{}, nil)
	assert.ErrorIs(t, iv.Invoke(context.Background(), qaRequest(0)).Err, contract.ErrInvalidInput)
}

type upstreamErr struct{ status int }

func (e upstreamErr) Error() string           { return fmt.Sprintf("status %d", e.status) }
func (e upstreamErr) UpstreamStatus() int     { return e.status }
func (e upstreamErr) UpstreamMessage() string { return "" }

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(nil))
	assert.False(t, Retryable(context.Canceled))
	assert.True(t, Retryable(fmt.Errorf("x: %w", contract.ErrRateLimited)))
	assert.False(t, Retryable(contract.ErrResponseInvalid))
	// an invalid body wrapped in a retryable upstream status stays final
	assert.False(t, Retryable(fmt.Errorf("%w: %w", contract.ErrResponseInvalid, upstreamErr{status: 502})))
	assert.True(t, Retryable(context.DeadlineExceeded))
	assert.True(t, Retryable(&net.DNSError{Err: "x"}))
	assert.True(t, Retryable(upstreamErr{status: 503}))
	assert.True(t, Retryable(upstreamErr{status: 429}))
	assert.False(t, Retryable(upstreamErr{status: 400}))
	assert.False(t, Retryable(errors.New("other")))
}

// model stubs

type stubPrompt struct{ err error }

func (p stubPrompt) Build(_ context.Context, req contract.GenerationRequest) (contract.Prompt, error) {
	if p.err != nil {
		return nil, p.err
	}
	return contract.ChatPrompt{{Role: "user", Content: req.Chunk.Text}}, nil
}
func (stubPrompt) EstimateOverheadTokens(contract.TokenEstimator) int { return 0 }

type stubLLM struct {
	text string
	err  error
}

func (l stubLLM) Invoke(context.Context, contract.GenerationRequest, contract.Prompt) (contract.Raw, error) {
	return contract.Raw{Text: l.text}, l.err
}

type stubDecoder struct {
	out []contract.Sample
	err error
}

func (d stubDecoder) Decode(context.Context, contract.GenerationRequest, contract.Raw) ([]contract.Sample, error) {
	return d.out, d.err
}

func TestModelGenerateNormalizes(t *testing.T) {
	m := &Model{
		Prompt:  stubPrompt{},
		LLM:     stubLLM{text: "{}"},
		Decoder: stubDecoder{out: []contract.Sample{{"question": "Q", "answer": "A"}}},
		Gate:    rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {RPM: 10}}, nil),
		GateKey: "k",
	}
	out, err := m.Generate(context.Background(), qaRequest(1))
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "Q", out[0]["question"])
	assert.Equal(t, "en", out[0]["language"])
}

func TestModelGenerateErrors(t *testing.T) {
	ctx := context.Background()
	_, err := (&Model{}).Generate(ctx, qaRequest(1))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = (&Model{Prompt: stubPrompt{err: contract.ErrInvalidInput}, LLM: stubLLM{}, Decoder: stubDecoder{}}).Generate(ctx, qaRequest(1))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)

	_, err = (&Model{Prompt: stubPrompt{}, LLM: stubLLM{err: upstreamErr{status: 500}}, Decoder: stubDecoder{}}).Generate(ctx, qaRequest(1))
	assert.True(t, Retryable(err))

	_, err = (&Model{Prompt: stubPrompt{}, LLM: stubLLM{}, Decoder: stubDecoder{err: contract.ErrResponseInvalid}}).Generate(ctx, qaRequest(1))
	assert.ErrorIs(t, err, contract.ErrResponseInvalid)

	gate := rate.NewGate(map[rate.LimitKey]rate.Limits{"k": {TPM: 10, MaxTokensPerReq: 1}}, nil)
	_, err = (&Model{Prompt: stubPrompt{}, LLM: stubLLM{}, Decoder: stubDecoder{}, Gate: gate, GateKey: "k",
		Estimate: func(s string) int { return len(s) }}).Generate(ctx, qaRequest(1))
	assert.ErrorIs(t, err, contract.ErrInvalidInput)
}
