// Package health monitors the daemon's external dependencies.
package health

import (
	"context"
	"net/http"
	"os"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Config holds health check configuration.
type Config struct {
	CheckInterval time.Duration
	ProbeTimeout  time.Duration
	FailThreshold int
}

// Pinger is a dependency that can be probed.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingFunc adapts a function to Pinger.
type PingFunc func(ctx context.Context) error

// Ping implements Pinger.
func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Status is the last known state of one dependency.
type Status struct {
	Name          string    `json:"name"`
	Healthy       bool      `json:"healthy"`
	FailCount     int       `json:"fail_count"`
	LastError     string    `json:"last_error,omitempty"`
	LastCheckedAt time.Time `json:"last_checked_at,omitzero"`
}

// StatusUpdateFunc is called when a dependency changes between healthy and
// degraded, and once for each dependency on its first probe.
type StatusUpdateFunc func(name string, healthy bool)

// MetricsRecordFunc is an optional callback for recording probe results.
type MetricsRecordFunc func(name string, success bool)

// HealthChecker runs periodic dependency probes. A dependency is degraded
// after FailThreshold consecutive failures and healthy again after one
// success.
type HealthChecker struct {
	deps     map[string]Pinger
	mu       sync.Mutex
	statuses map[string]*Status
	cfg      Config
	onUpdate StatusUpdateFunc
	onMetric MetricsRecordFunc
	logger   *zap.Logger
}

// New creates a new HealthChecker over deps, keyed by dependency name.
func New(deps map[string]Pinger, cfg Config, logger *zap.Logger) *HealthChecker {
	if cfg.CheckInterval == 0 {
		cfg.CheckInterval = 30 * time.Second
	}
	if cfg.ProbeTimeout == 0 {
		cfg.ProbeTimeout = 5 * time.Second
	}
	if cfg.FailThreshold == 0 {
		cfg.FailThreshold = 3
	}

	statuses := make(map[string]*Status, len(deps))
	for name := range deps {
		// Unprobed dependencies count as healthy so the daemon can serve
		// before the first tick.
		statuses[name] = &Status{Name: name, Healthy: true}
	}
	return &HealthChecker{
		deps:     deps,
		statuses: statuses,
		cfg:      cfg,
		logger:   logger,
	}
}

// SetStatusUpdate configures the status transition callback.
func (h *HealthChecker) SetStatusUpdate(fn StatusUpdateFunc) {
	h.onUpdate = fn
}

// SetMetricsRecord configures the metrics recording callback.
func (h *HealthChecker) SetMetricsRecord(fn MetricsRecordFunc) {
	h.onMetric = fn
}

// Start probes once immediately, then on every interval until quit is
// signalled.
func (h *HealthChecker) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(h.cfg.CheckInterval)
	defer ticker.Stop()

	h.CheckAll(context.Background())
	for {
		select {
		case <-ticker.C:
			h.CheckAll(context.Background())
		case <-quit:
			return
		}
	}
}

// CheckAll probes every dependency concurrently.
func (h *HealthChecker) CheckAll(ctx context.Context) {
	var wg sync.WaitGroup
	for name, dep := range h.deps {
		wg.Add(1)
		go func(name string, dep Pinger) {
			defer wg.Done()
			pctx, cancel := context.WithTimeout(ctx, h.cfg.ProbeTimeout)
			err := dep.Ping(pctx)
			cancel()
			h.record(name, err)
		}(name, dep)
	}
	wg.Wait()
}

func (h *HealthChecker) record(name string, err error) {
	success := err == nil
	if h.onMetric != nil {
		h.onMetric(name, success)
	}

	h.mu.Lock()
	st := h.statuses[name]
	first := st.LastCheckedAt.IsZero()
	wasHealthy := st.Healthy
	st.LastCheckedAt = time.Now().UTC()
	if success {
		st.FailCount = 0
		st.LastError = ""
		st.Healthy = true
	} else {
		st.FailCount++
		st.LastError = err.Error()
		if st.FailCount >= h.cfg.FailThreshold {
			st.Healthy = false
		}
	}
	healthy, count := st.Healthy, st.FailCount
	h.mu.Unlock()

	switch {
	case healthy && !wasHealthy:
		h.logger.Info("health: recovered", zap.String("dependency", name))
	case !healthy && wasHealthy:
		h.logger.Warn("health: degraded",
			zap.String("dependency", name),
			zap.Int("fail_count", count),
			zap.Error(err),
		)
	case !success:
		h.logger.Debug("health: probe failed", zap.String("dependency", name), zap.Error(err))
	}

	if h.onUpdate != nil && (first || healthy != wasHealthy) {
		h.onUpdate(name, healthy)
	}
}

// Snapshot returns the status of every dependency, sorted by name.
func (h *HealthChecker) Snapshot() []Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Status, 0, len(h.statuses))
	for _, st := range h.statuses {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Healthy reports whether no dependency is degraded.
func (h *HealthChecker) Healthy() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, st := range h.statuses {
		if !st.Healthy {
			return false
		}
	}
	return true
}

// HTTPProbe checks a plain HTTP endpoint, such as an object store gateway
// or a ledger node's RPC port.
type HTTPProbe struct {
	URL    string
	Client *http.Client
}

// Ping attempts HEAD then GET; any 2xx response is a success.
func (p HTTPProbe) Ping(ctx context.Context) error {
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	var lastErr error
	for _, method := range []string{http.MethodHead, http.MethodGet} {
		req, err := http.NewRequestWithContext(ctx, method, p.URL, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return nil
		}
		lastErr = &StatusError{URL: p.URL, Code: resp.StatusCode}
	}
	return lastErr
}

// StatusError is returned by HTTPProbe for a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return e.URL + ": " + http.StatusText(e.Code)
}
