package diag

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"llmds/pkg/contract"
)

// Code is the coarse error class used for logs and metrics, decoupled from exit codes.
type Code string

const (
	CodeUnknown   Code = "unknown"
	CodeNetwork   Code = "network"
	CodeProtocol  Code = "protocol"
	CodeInvariant Code = "invariant"
	CodeBudget    Code = "budget"
	CodeCancel    Code = "cancel"
	CodeIO        Code = "io"
	CodeAuth      Code = "auth"
	CodeContent   Code = "content"
)

// Classify maps err to a Code using sentinels and stdlib error types only.
func Classify(err error) Code {
	if err == nil {
		return CodeUnknown
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return CodeCancel
	}
	if errors.Is(err, contract.ErrBudgetExceeded) || errors.Is(err, contract.ErrRateLimited) {
		return CodeBudget
	}
	if errors.Is(err, contract.ErrResponseInvalid) {
		return CodeProtocol
	}
	if errors.Is(err, contract.ErrAuth) || errors.Is(err, contract.ErrPermission) {
		return CodeAuth
	}
	if errors.Is(err, contract.ErrNoContent) {
		return CodeContent
	}
	if errors.Is(err, contract.ErrInvariantViolation) ||
		errors.Is(err, contract.ErrInvalidInput) ||
		errors.Is(err, contract.ErrPathInvalid) ||
		errors.Is(err, contract.ErrNotFound) {
		return CodeInvariant
	}
	var perr *os.PathError
	if errors.As(err, &perr) {
		return CodeIO
	}
	var nerr net.Error
	if errors.As(err, &nerr) {
		return CodeNetwork
	}
	return CodeUnknown
}

// NowUTC returns an RFC3339 UTC timestamp.
func NowUTC() string { return time.Now().UTC().Format(time.RFC3339) }

// Fail records an error event plus the matching counters in one call.
func Fail(l *Logger, comp, msg string, err error, fileID, batch string, kv map[string]string) Code {
	code := Classify(err)
	if kv == nil {
		kv = map[string]string{}
	}
	kv["err"] = err.Error()
	l.ErrorWithKV(comp, string(code), msg, nil, fileID, batch, kv)
	IncOp(comp, "error", "error")
	if code != CodeUnknown {
		IncError(comp, string(code))
	}
	return code
}
