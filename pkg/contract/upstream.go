package contract

import (
	"fmt"
	"strings"
)

// UpstreamError carries minimal HTTP upstream diagnostics (status code and a short
// message) so callers can attach them to structured log fields.
type UpstreamError interface {
	error
	UpstreamStatus() int
	UpstreamMessage() string
}

// HTTPError is the concrete UpstreamError shared by HTTP clients. It also satisfies
// net.Error so that 5xx and 408 responses classify as network failures.
type HTTPError struct {
	Service string
	Status  int
	Msg     string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s upstream %d: %s", e.Service, e.Status, e.Msg)
}
func (e *HTTPError) Timeout() bool           { return e.Status == 408 }
func (e *HTTPError) Temporary() bool         { return e.Status/100 == 5 }
func (e *HTTPError) UpstreamStatus() int     { return e.Status }
func (e *HTTPError) UpstreamMessage() string { return e.Msg }

// Trim shortens an upstream body for error messages.
func Trim(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) > n {
		return s[:n]
	}
	return s
}
