package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/NERVsystems/pottypal/pkg/version"
)

// Connection states reported by probes.
const (
	ConnConnected = "connected"
	ConnDegraded  = "degraded"
	ConnError     = "error"
)

// Overall health states.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthChecker aggregates dependency probe results into one status.
type HealthChecker struct {
	serviceName string
	version     string
	startTime   time.Time
	mu          sync.RWMutex
	connections map[string]*ConnStatus
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewHealthChecker creates a health checker and starts the runtime
// metrics collector.
func NewHealthChecker(serviceName, version string) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())

	hc := &HealthChecker{
		serviceName: serviceName,
		version:     version,
		startTime:   time.Now(),
		connections: make(map[string]*ConnStatus),
		ctx:         ctx,
		cancel:      cancel,
	}

	hc.updateSystemMetrics()
	go hc.collectSystemMetrics()

	return hc
}

// UpdateConnection records the latest probe result for a dependency.
func (h *HealthChecker) UpdateConnection(name, status string, latencyMs int64, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	errStr := ""
	if err != nil {
		errStr = err.Error()
	}

	h.connections[name] = &ConnStatus{
		Name:    name,
		Status:  status,
		Latency: latencyMs,
		Error:   errStr,
	}
}

// RemoveConnection stops reporting a dependency.
func (h *HealthChecker) RemoveConnection(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, name)
}

// GetHealth returns the current health. Any failing dependency degrades
// the service; a majority failing makes it unhealthy.
func (h *HealthChecker) GetHealth() ServiceHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()

	degraded, failed := 0, 0
	connections := make(map[string]ConnStatus, len(h.connections))
	for k, v := range h.connections {
		connections[k] = *v
		switch v.Status {
		case ConnError:
			failed++
		case ConnDegraded:
			degraded++
		}
	}

	status := StatusHealthy
	switch {
	case failed > 0 && failed > len(h.connections)/2:
		status = StatusUnhealthy
	case failed > 0 || degraded > 0:
		status = StatusDegraded
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	uptime := time.Since(h.startTime)

	return ServiceHealth{
		Service:       h.serviceName,
		Version:       h.version,
		Status:        status,
		Uptime:        uptime,
		UptimeSeconds: int64(uptime.Seconds()),
		StartTime:     h.startTime,
		Connections:   connections,
		Metrics: map[string]interface{}{
			"goroutines":           runtime.NumGoroutine(),
			"memory_alloc_mb":      m.Alloc / 1024 / 1024,
			"gc_runs":              m.NumGC,
			"version_info":         version.Info(),
			"error_connections":    failed,
			"degraded_connections": degraded,
		},
	}
}

// HealthHandler serves the full health report. Degraded still answers 200.
func (h *HealthChecker) HealthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		code := http.StatusOK
		if health.Status == StatusUnhealthy {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	}
}

// ReadinessHandler answers 503 while the service is unhealthy.
func (h *HealthChecker) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		health := h.GetHealth()
		ready := health.Status != StatusUnhealthy
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"ready":  ready,
			"status": health.Status,
		})
	}
}

// LivenessHandler always answers 200 while the process runs.
func (h *HealthChecker) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"alive":  true,
			"uptime": time.Since(h.startTime).String(),
		})
	}
}

// Register mounts the health endpoints on mux.
func (h *HealthChecker) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", h.HealthHandler())
	mux.HandleFunc("/ready", h.ReadinessHandler())
	mux.HandleFunc("/live", h.LivenessHandler())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Default().Error("encoding health response", "error", err)
	}
}

func (h *HealthChecker) collectSystemMetrics() {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-h.ctx.Done():
			return
		case <-ticker.C:
			h.updateSystemMetrics()
		}
	}
}

func (h *HealthChecker) updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	GoRoutines.Set(float64(runtime.NumGoroutine()))
	MemoryUsage.Set(float64(m.Alloc))
	GCRuns.Set(float64(m.NumGC))

	info := version.Info()
	SystemInfo.WithLabelValues(info["version"], info["go_version"], info["commit"], info["build_date"]).Set(1)
}

// Shutdown stops the runtime metrics collector.
func (h *HealthChecker) Shutdown() {
	h.cancel()
}

// CheckFunc probes one dependency.
type CheckFunc func(ctx context.Context) error

// ConnectionMonitor probes a dependency on an interval and reports the
// result to a HealthChecker.
type ConnectionMonitor struct {
	name          string
	healthChecker *HealthChecker
	check         CheckFunc
	interval      time.Duration
	timeout       time.Duration
	ctx           context.Context
	cancel        context.CancelFunc
	done          chan struct{}
}

// NewConnectionMonitor creates a monitor. Each probe gets at most half the
// interval, capped at ten seconds.
func NewConnectionMonitor(name string, hc *HealthChecker, check CheckFunc, interval time.Duration) *ConnectionMonitor {
	ctx, cancel := context.WithCancel(context.Background())
	return &ConnectionMonitor{
		name:          name,
		healthChecker: hc,
		check:         check,
		interval:      interval,
		timeout:       min(interval/2, 10*time.Second),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
	}
}

// Start runs one probe immediately, then one per interval.
func (cm *ConnectionMonitor) Start() {
	go cm.monitor()
}

// Stop ends monitoring and waits for a running probe to finish. It must
// only be called after Start.
func (cm *ConnectionMonitor) Stop() {
	cm.cancel()
	<-cm.done
}

func (cm *ConnectionMonitor) monitor() {
	defer close(cm.done)
	cm.performCheck()

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	for {
		select {
		case <-cm.ctx.Done():
			return
		case <-ticker.C:
			cm.performCheck()
		}
	}
}

func (cm *ConnectionMonitor) performCheck() {
	ctx, cancel := context.WithTimeout(cm.ctx, cm.timeout)
	defer cancel()

	start := time.Now()
	err := cm.check(ctx)
	latency := time.Since(start)

	status := ConnConnected
	switch {
	case err != nil:
		status = ConnError
		RecordError("health", cm.name)
		err = fmt.Errorf("%s probe: %w", cm.name, err)
	case latency > cm.timeout/2:
		status = ConnDegraded
	}

	cm.healthChecker.UpdateConnection(cm.name, status, latency.Milliseconds(), err)
}
