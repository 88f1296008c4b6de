package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// CheckFunc probes one dependency. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

// HealthChecker serves /healthz and /readyz. The service is ready once it has
// been marked ready (restore and replay finished) and every registered
// dependency check passes.
type HealthChecker struct {
	ready     atomic.Bool
	phase     atomic.Value // string
	startTime time.Time

	mu     sync.RWMutex
	checks map[string]CheckFunc

	timeout time.Duration
}

// NewHealthChecker creates a new health checker in the "starting" phase.
func NewHealthChecker() *HealthChecker {
	h := &HealthChecker{
		startTime: time.Now(),
		checks:    make(map[string]CheckFunc),
		timeout:   2 * time.Second,
	}
	h.phase.Store("starting")
	return h
}

// AddCheck registers a dependency probe (database, broker) under name.
func (h *HealthChecker) AddCheck(name string, fn CheckFunc) {
	h.mu.Lock()
	h.checks[name] = fn
	h.mu.Unlock()
}

// SetPhase records the startup step, reported on both endpoints.
func (h *HealthChecker) SetPhase(phase string) {
	h.phase.Store(phase)
}

func (h *HealthChecker) Phase() string {
	return h.phase.Load().(string)
}

// SetReady marks the service as ready to accept traffic.
func (h *HealthChecker) SetReady(ready bool) {
	h.ready.Store(ready)
	if ready {
		h.SetPhase("serving")
	}
}

// IsReady returns whether the service has been marked ready. Dependency
// checks are only run by the readiness handler.
func (h *HealthChecker) IsReady() bool {
	return h.ready.Load()
}

// RunChecks probes every dependency and returns the failures by name.
func (h *HealthChecker) RunChecks(ctx context.Context) map[string]string {
	h.mu.RLock()
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	h.mu.RUnlock()
	sort.Strings(names)

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	failures := make(map[string]string)
	for _, name := range names {
		h.mu.RLock()
		fn := h.checks[name]
		h.mu.RUnlock()
		if err := fn(ctx); err != nil {
			failures[name] = err.Error()
		}
	}
	return failures
}

// LivenessHandler always returns 200 while the process runs.
func (h *HealthChecker) LivenessHandler(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status": "alive",
		"phase":  h.Phase(),
		"uptime": time.Since(h.startTime).String(),
	})
}

// ReadinessHandler returns 200 once snapshot restore and replay have finished
// and every dependency check passes, 503 otherwise.
func (h *HealthChecker) ReadinessHandler(w http.ResponseWriter, r *http.Request) {
	if !h.ready.Load() {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "not_ready",
			"phase":  h.Phase(),
		})
		return
	}

	if failures := h.RunChecks(r.Context()); len(failures) > 0 {
		writeHealth(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "degraded",
			"phase":  h.Phase(),
			"checks": failures,
		})
		return
	}

	writeHealth(w, http.StatusOK, map[string]interface{}{
		"status": "ready",
		"phase":  h.Phase(),
	})
}

func writeHealth(w http.ResponseWriter, code int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}
