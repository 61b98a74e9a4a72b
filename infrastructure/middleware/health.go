// Package middleware provides HTTP middleware for the service layer.
package middleware

import (
	"encoding/json"
	"log"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// LivenessStatus is the body GET /health always answers with, per spec.md
// §6: "always returns 200".
type LivenessStatus struct {
	Status  string `json:"status"`
	Service string `json:"service,omitempty"`
	Version string `json:"version,omitempty"`
}

// DependencyStatus reports one dependency's readiness.
type DependencyStatus struct {
	Healthy bool   `json:"healthy"`
	Message string `json:"message,omitempty"`
}

// ReadinessStatus is the body GET /ready answers with per spec.md §6:
// `{ready, service, dependencies: {name -> {healthy, message?}}}`.
type ReadinessStatus struct {
	Ready        bool                        `json:"ready"`
	Service      string                      `json:"service,omitempty"`
	Dependencies map[string]DependencyStatus `json:"dependencies"`
	Host         map[string]interface{}      `json:"host,omitempty"`
}

// hostStats samples host-level CPU and memory pressure so /ready can flag
// resource exhaustion that per-dependency checks wouldn't catch. Errors
// from either sampler are non-fatal; the affected key is simply omitted.
func hostStats() map[string]interface{} {
	out := make(map[string]interface{})
	if percents, err := cpu.Percent(0, false); err == nil && len(percents) > 0 {
		out["cpu_percent"] = percents[0]
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		out["mem_used_percent"] = vm.UsedPercent
	}
	return out
}

// DependencyCheck reports a dependency's current readiness: healthy, and
// (when unhealthy) a message distinguishing "still initializing" from "an
// established connection failed" per spec.md's scenario S5.
type DependencyCheck func() (healthy bool, message string)

type registeredCheck struct {
	optional bool
	check    DependencyCheck
}

// HealthChecker backs both GET /health (liveness, always 200) and GET
// /ready (readiness, 503 when any non-optional dependency is unhealthy).
type HealthChecker struct {
	mu        sync.RWMutex
	service   string
	version   string
	startTime time.Time
	checks    map[string]registeredCheck
}

// NewHealthChecker creates a new health checker for service, reporting
// version on the liveness response.
func NewHealthChecker(service, version string) *HealthChecker {
	return &HealthChecker{
		service:   service,
		version:   version,
		startTime: time.Now(),
		checks:    make(map[string]registeredCheck),
	}
}

// RegisterCheck adds a readiness dependency. optional marks a pool that
// spec.md's /ready contract excludes from the "all configured pools are
// connected" requirement: its failure is reported but never flips the
// overall response to 503.
func (h *HealthChecker) RegisterCheck(name string, optional bool, check DependencyCheck) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checks[name] = registeredCheck{optional: optional, check: check}
}

// LivenessHandler answers GET /health: always 200, per spec.md §6.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		service, version := h.service, h.version
		h.mu.RUnlock()

		status := LivenessStatus{Status: "healthy", Service: service, Version: version}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("liveness handler encode failed: %v", err)
		}
	}
}

// ReadinessHandler answers GET /ready: 200 when every non-optional
// registered dependency reports healthy, 503 otherwise, with a
// per-dependency breakdown per spec.md §6.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		h.mu.RLock()
		service := h.service
		checks := make(map[string]registeredCheck, len(h.checks))
		for name, rc := range h.checks {
			checks[name] = rc
		}
		h.mu.RUnlock()

		deps := make(map[string]DependencyStatus, len(checks))
		ready := true
		for name, rc := range checks {
			healthy, message := rc.check()
			deps[name] = DependencyStatus{Healthy: healthy, Message: message}
			if !healthy && !rc.optional {
				ready = false
			}
		}

		status := ReadinessStatus{Ready: ready, Service: service, Dependencies: deps, Host: hostStats()}
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		if err := json.NewEncoder(w).Encode(status); err != nil {
			log.Printf("readiness handler encode failed: %v", err)
		}
	}
}

// RuntimeStats returns runtime statistics.
func RuntimeStats() map[string]interface{} {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return map[string]interface{}{
		"goroutines": runtime.NumGoroutine(),
		"alloc_mb":   m.Alloc / 1024 / 1024,
		"sys_mb":     m.Sys / 1024 / 1024,
		"num_gc":     m.NumGC,
		"go_version": runtime.Version(),
		"num_cpu":    runtime.NumCPU(),
	}
}
