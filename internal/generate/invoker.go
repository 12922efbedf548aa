package generate

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	"llmds/internal/diag"
	"llmds/pkg/contract"
)

// DefaultInvokeTimeout bounds a single invocation when no explicit timeout is configured.
const DefaultInvokeTimeout = 300 * time.Second

// Policy: retry/timeout policy of the Invoker.
type Policy struct {
	// MaxRetries: extra attempts for retryable failures (rate limit, network, protocol);
	// 0 = single attempt.
	MaxRetries int
	// Timeout per attempt; 0 disables.
	Timeout time.Duration
	// InitialBackoff for the exponential schedule (default 200ms).
	InitialBackoff time.Duration
	// MaxBackoff caps one wait (default 10s).
	MaxBackoff time.Duration
}

// Result: settled outcome of one invocation.
// Err is informational; Samples is empty whenever Err is set.
type Result struct {
	Samples  []contract.Sample
	Err      error
	Attempts int
}

// Invoker wraps the model collaborator so that it always settles.
// Guarantees:
//   - never panics and never returns an error past its boundary;
//   - len(Samples) ∈ [0, req.Count];
//   - failures are logged and counted.
type Invoker struct {
	gen    contract.Generator
	policy Policy
	logger *diag.Logger
}

// NewInvoker binds a generator with a policy.
func NewInvoker(gen contract.Generator, policy Policy, logger *diag.Logger) *Invoker {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialBackoff <= 0 {
		policy.InitialBackoff = 200 * time.Millisecond
	}
	if policy.MaxBackoff <= 0 {
		policy.MaxBackoff = 10 * time.Second
	}
	return &Invoker{gen: gen, policy: policy, logger: logger}
}

// Invoke runs one generation request to settlement.
func (iv *Invoker) Invoke(ctx context.Context, req contract.GenerationRequest) Result {
	var res Result
	if iv == nil || iv.gen == nil {
		res.Err = fmt.Errorf("invoker: %w: no generator", contract.ErrInvalidInput)
		return res
	}
	if req.Count <= 0 {
		res.Err = fmt.Errorf("invoker: %w: count must be positive", contract.ErrInvalidInput)
		return res
	}

	var b backoff.BackOff = backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(iv.policy.InitialBackoff),
		backoff.WithMaxInterval(iv.policy.MaxBackoff),
		backoff.WithMaxElapsedTime(0),
	)
	b = backoff.WithMaxRetries(b, uint64(iv.policy.MaxRetries))
	b = backoff.WithContext(b, ctx)

	op := func() error {
		res.Attempts++
		samples, err := iv.attempt(ctx, req)
		if err != nil {
			if !Retryable(err) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		res.Samples = samples
		return nil
	}
	notify := func(err error, wait time.Duration) {
		iv.logger.Warn("invoker", "retrying", string(req.Chunk.FileID), map[string]string{
			"type":    string(req.Type.Name),
			"chunk":   fmt.Sprintf("%d", req.Chunk.Index),
			"attempt": fmt.Sprintf("%d", res.Attempts),
			"wait_ms": fmt.Sprintf("%d", wait.Milliseconds()),
			"err":     err.Error(),
		})
	}

	if err := backoff.RetryNotify(op, b, notify); err != nil {
		res.Samples = nil
		res.Err = err
		diag.Fail(iv.logger, "invoker", "invocation failed", err, string(req.Chunk.FileID), batchID(req), map[string]string{
			"attempts": fmt.Sprintf("%d", res.Attempts),
		})
		diag.ObserveInvocation(string(req.Type.Name), false, 0)
		return res
	}
	if len(res.Samples) > req.Count {
		iv.logger.Warn("invoker", "truncated over-return", string(req.Chunk.FileID), map[string]string{
			"type": string(req.Type.Name),
			"got":  fmt.Sprintf("%d", len(res.Samples)),
			"want": fmt.Sprintf("%d", req.Count),
		})
		res.Samples = res.Samples[:req.Count]
	}
	diag.ObserveInvocation(string(req.Type.Name), true, len(res.Samples))
	return res
}

// attempt runs the generator once under the per-attempt timeout, converting panics
// into errors.
func (iv *Invoker) attempt(ctx context.Context, req contract.GenerationRequest) (out []contract.Sample, err error) {
	if iv.policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, iv.policy.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = fmt.Errorf("generator panic: %v: %w", r, contract.ErrInvariantViolation)
		}
	}()
	return iv.gen.Generate(ctx, req)
}

// Retryable reports whether err belongs to a class worth another attempt: rate
// limits, network errors, per-attempt timeouts and upstream 429/5xx. Invalid model
// output is final for the invocation.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return false
	}
	if errors.Is(err, contract.ErrRateLimited) {
		return true
	}
	// per-attempt timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	var ue contract.UpstreamError
	if errors.As(err, &ue) {
		st := ue.UpstreamStatus()
		return st == 429 || st >= 500
	}
	return false
}
