package contract

import "errors"

var (
	// ErrPathInvalid: artifact id maps to an invalid or escaping path.
	ErrPathInvalid = errors.New("path invalid")
	// ErrBudgetExceeded: token budget or upstream quota insufficient.
	ErrBudgetExceeded = errors.New("budget exceeded")
	// ErrInvariantViolation: generic domain invariant violation.
	ErrInvariantViolation = errors.New("invariant violation")
	// ErrNoContent: no content file or no chunk to process; fatal for the run.
	ErrNoContent = errors.New("no content")
	// ErrAuth: sink rejected the credential.
	ErrAuth = errors.New("authentication failed")
	// ErrPermission: credential lacks permission on the target.
	ErrPermission = errors.New("permission denied")
	// ErrNotFound: remote target does not exist.
	ErrNotFound = errors.New("not found")
)
