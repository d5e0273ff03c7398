// Package health exposes liveness and readiness probes over the service's
// hard dependencies (Redis, Postgres, the model gateway).
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

// Result is one dependency check outcome.
type Result struct {
	Component string        `json:"component"`
	Status    Status        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Latency   time.Duration `json:"latency"`
	Critical  bool          `json:"critical"`
}

// Checker probes a single dependency.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
	// Critical failures flip readiness; non-critical ones only show up in
	// the report.
	Critical() bool
}

// Manager runs registered checks on demand and serves probe endpoints.
type Manager struct {
	mu       sync.RWMutex
	checkers []Checker
	timeout  time.Duration
	logger   *zap.Logger
}

func NewManager(logger *zap.Logger) *Manager {
	return &Manager{timeout: 3 * time.Second, logger: logger}
}

func (m *Manager) Register(c Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, c)
}

// RunAll executes every check concurrently and reports per-component results
// plus overall readiness.
func (m *Manager) RunAll(ctx context.Context) (bool, []Result) {
	m.mu.RLock()
	checkers := make([]Checker, len(m.checkers))
	copy(checkers, m.checkers)
	m.mu.RUnlock()

	results := make([]Result, len(checkers))
	var wg sync.WaitGroup
	for i, c := range checkers {
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			cctx, cancel := context.WithTimeout(ctx, m.timeout)
			defer cancel()
			start := time.Now()
			err := c.Check(cctx)
			r := Result{
				Component: c.Name(),
				Status:    StatusHealthy,
				Latency:   time.Since(start),
				Critical:  c.Critical(),
			}
			if err != nil {
				r.Status = StatusUnhealthy
				r.Error = err.Error()
			}
			results[i] = r
		}(i, c)
	}
	wg.Wait()

	ready := true
	for _, r := range results {
		if r.Status == StatusUnhealthy && r.Critical {
			ready = false
			m.logger.Warn("Dependency unhealthy",
				zap.String("component", r.Component),
				zap.String("error", r.Error),
			)
		}
	}
	return ready, results
}

// RegisterRoutes wires /healthz (liveness) and /readyz (readiness) on the mux.
func (m *Manager) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// Liveness is process-level only; dependency failures keep us live.
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		ready, results := m.RunAll(r.Context())
		w.Header().Set("Content-Type", "application/json")
		if !ready {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"ready":      ready,
			"components": results,
		})
	})
}
