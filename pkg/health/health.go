// Package health serves the /livez and /readyz endpoints of the upsell API.
//
// Checks run on their own tickers and the endpoints only report the last
// outcome, so a slow dependency never blocks an endpoint. A check turns unhealthy
// after a streak of failures and healthy again after a streak of successes.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/jx"
)

// Default streak lengths.
const (
	DefaultFailureThreshold = 3
	DefaultSuccessThreshold = 1
)

// notReadyKey reports the manual readiness flag among the failing checks.
const notReadyKey = "_readiness"

// CheckFunc returns nil when the checked component is healthy.
type CheckFunc func(ctx context.Context) error

// CheckOption tunes a single registered check.
type CheckOption func(*check)

// WithThresholds overrides the failure and success streaks needed to flip a
// check. Non-positive values keep the defaults.
func WithThresholds(failures, successes int) CheckOption {
	return func(c *check) {
		if failures > 0 {
			c.failAfter = failures
		}
		if successes > 0 {
			c.recoverAfter = successes
		}
	}
}

type check struct {
	name         string
	timeout      time.Duration
	fn           CheckFunc
	failAfter    int
	recoverAfter int

	healthy atomic.Bool
	lastErr atomic.Pointer[error]

	// streak counts consecutive successes when positive and consecutive
	// failures when negative. Owned by the goroutine calling run.
	streak int
}

func newCheck(name string, timeout time.Duration, fn CheckFunc, opts []CheckOption) *check {
	c := &check{
		name:         name,
		timeout:      timeout,
		fn:           fn,
		failAfter:    DefaultFailureThreshold,
		recoverAfter: DefaultSuccessThreshold,
	}
	for _, o := range opts {
		o(c)
	}
	c.healthy.Store(true)
	return c
}

func (c *check) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := c.fn(ctx)
	c.lastErr.Store(&err)
	if err != nil {
		c.streak = min(c.streak, 0) - 1
		if -c.streak >= c.failAfter {
			c.healthy.Store(false)
		}
		return
	}
	c.streak = max(c.streak, 0) + 1
	if c.streak >= c.recoverAfter {
		c.healthy.Store(true)
	}
}

func (c *check) err() error {
	if p := c.lastErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (c *check) loop(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		c.run(ctx)
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// group is one endpoint's set of checks.
type group struct {
	mu     sync.RWMutex
	checks []*check
}

func (g *group) add(c *check) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.checks = append(g.checks, c)
}

func (g *group) snapshot() []*check {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return slices.Clone(g.checks)
}

// failures maps each unhealthy check to its last error.
func (g *group) failures() map[string]string {
	out := make(map[string]string)
	for _, c := range g.snapshot() {
		if c.healthy.Load() {
			continue
		}
		msg := "check is unhealthy"
		if err := c.err(); err != nil {
			msg = err.Error()
		}
		out[c.name] = msg
	}
	return out
}

// Health owns the liveness and readiness endpoints of the service.
type Health struct {
	ready     atomic.Bool
	liveness  group
	readiness group

	mu     sync.Mutex
	cancel context.CancelFunc
}

// New returns a Health that reports not ready until SetReady(true).
func New() *Health {
	return &Health{}
}

// AddLivenessCheck registers a check that decides whether the process should
// be restarted (goroutine leaks, GC pauses).
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.liveness.add(newCheck(name, timeout, fn, opts))
}

// AddReadinessCheck registers a check that decides whether the service gets
// traffic (PostgreSQL, Redis).
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, fn CheckFunc, opts ...CheckOption) {
	h.readiness.add(newCheck(name, timeout, fn, opts))
}

// Start runs every registered check now and then once per interval until
// Stop or ctx cancellation. Register checks before calling Start.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	h.mu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.mu.Unlock()

	for _, c := range append(h.liveness.snapshot(), h.readiness.snapshot()...) {
		go c.loop(ctx, interval)
	}
}

// Stop cancels the check goroutines. It is safe to call more than once.
func (h *Health) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
}

// SetReady flips the manual readiness flag. The server sets it once wiring is
// done and clears it when shutdown starts draining.
func (h *Health) SetReady(ready bool) {
	h.ready.Store(ready)
}

// IsReady reports whether the flag is set and every readiness check passes.
func (h *Health) IsReady() bool {
	return len(h.readinessFailures()) == 0
}

func (h *Health) readinessFailures() map[string]string {
	failures := h.readiness.failures()
	if !h.ready.Load() {
		failures[notReadyKey] = "service is not ready"
	}
	return failures
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.liveness.failures())
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeStatus(w, h.readinessFailures())
}

// writeStatus answers 200 {"status":"ok"} or 503 with the failing checks
// sorted by name.
func writeStatus(w http.ResponseWriter, failures map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	status := http.StatusOK
	e.ObjStart()
	e.FieldStart("status")
	if len(failures) == 0 {
		e.Str("ok")
	} else {
		status = http.StatusServiceUnavailable
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range slices.Sorted(maps.Keys(failures)) {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}
