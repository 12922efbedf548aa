package rate

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"llmds/pkg/contract"
)

// LimitKey: limiter group key (client name plus hashed credential).
type LimitKey string

// Limits: per-group quotas; 0 disables a dimension.
type Limits struct {
	RPM             int // requests per minute
	TPM             int // tokens per minute
	MaxTokensPerReq int // per-request token ceiling (input plus expected output), 0 = unlimited
}

// Ask: one admission request.
type Ask struct {
	Key      LimitKey
	Requests int // must be >= 1
	Tokens   int // estimated tokens (>= 0)
}

// Gate: concurrency-safe admission gate.
type Gate interface {
	// Wait blocks until quota is available or ctx ends; a per-request ceiling violation fails fast.
	Wait(ctx context.Context, a Ask) error
	// Try is the non-blocking variant.
	Try(a Ask) bool
}

// Snapshoter: optional diagnostics.
type Snapshoter interface {
	Snapshot(key LimitKey) (rpmAvail, tpmAvail int)
}

// NewGate builds a gate from static limits; clk defaults to time.Now.
// Each dimension is a token bucket refilled continuously at quota/60 per second and
// starting full.
func NewGate(m map[LimitKey]Limits, clk func() time.Time) Gate {
	if clk == nil {
		clk = time.Now
	}
	g := &gate{clk: clk, m: make(map[LimitKey]*entry, len(m))}
	for k, lim := range m {
		g.m[k] = newEntry(lim)
	}
	return g
}

type gate struct {
	clk func() time.Time
	mu  sync.Mutex
	m   map[LimitKey]*entry
}

type entry struct {
	mu  sync.Mutex
	lim Limits
	req *rate.Limiter // nil when RPM is off
	tok *rate.Limiter // nil when TPM is off
}

func newEntry(lim Limits) *entry {
	e := &entry{lim: lim}
	if lim.RPM > 0 {
		e.req = rate.NewLimiter(rate.Limit(float64(lim.RPM)/60.0), lim.RPM)
	}
	if lim.TPM > 0 {
		e.tok = rate.NewLimiter(rate.Limit(float64(lim.TPM)/60.0), lim.TPM)
	}
	return e
}

func (g *gate) get(key LimitKey) *entry {
	g.mu.Lock()
	defer g.mu.Unlock()
	e := g.m[key]
	if e == nil {
		// unknown keys are unlimited
		e = newEntry(Limits{})
		g.m[key] = e
	}
	return e
}

func valid(a Ask, e *entry) bool {
	if a.Requests <= 0 || a.Tokens < 0 {
		return false
	}
	if e.lim.MaxTokensPerReq > 0 && a.Tokens > e.lim.MaxTokensPerReq {
		return false
	}
	// a demand above the bucket size can never be met
	if e.req != nil && a.Requests > e.req.Burst() {
		return false
	}
	if e.tok != nil && a.Tokens > e.tok.Burst() {
		return false
	}
	return true
}

// reserve books both dimensions at now and returns the longer delay; cancel undoes both.
func (e *entry) reserve(now time.Time, a Ask) (delay time.Duration, cancel func()) {
	var rs []*rate.Reservation
	if e.req != nil {
		rs = append(rs, e.req.ReserveN(now, a.Requests))
	}
	if e.tok != nil && a.Tokens > 0 {
		rs = append(rs, e.tok.ReserveN(now, a.Tokens))
	}
	for _, r := range rs {
		if d := r.DelayFrom(now); d > delay {
			delay = d
		}
	}
	return delay, func() {
		for _, r := range rs {
			r.CancelAt(now)
		}
	}
}

func (g *gate) Try(a Ask) bool {
	e := g.get(a.Key)
	if !valid(a, e) {
		return false
	}
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	delay, cancel := e.reserve(now, a)
	if delay > 0 {
		cancel()
		return false
	}
	return true
}

func (g *gate) Wait(ctx context.Context, a Ask) error {
	e := g.get(a.Key)
	if !valid(a, e) {
		return contract.ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	now := g.clk()
	e.mu.Lock()
	delay, cancel := e.reserve(now, a)
	e.mu.Unlock()
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-ctx.Done():
		e.mu.Lock()
		cancel()
		e.mu.Unlock()
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot returns the floor of the currently available requests/tokens (diagnostics only).
func (g *gate) Snapshot(key LimitKey) (rpmAvail, tpmAvail int) {
	e := g.get(key)
	now := g.clk()
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.req != nil {
		rpmAvail = clampFloor(e.req.TokensAt(now), e.req.Burst())
	}
	if e.tok != nil {
		tpmAvail = clampFloor(e.tok.TokensAt(now), e.tok.Burst())
	}
	return
}

func clampFloor(v float64, max int) int {
	if v < 0 {
		return 0
	}
	if v > float64(max) {
		return max
	}
	return int(v)
}

var _ Gate = (*gate)(nil)
var _ Snapshoter = (*gate)(nil)
