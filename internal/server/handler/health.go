package handler

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// Check probes one dependency.
type Check func(ctx context.Context) error

// HealthHandler serves the health-check endpoint.
type HealthHandler struct {
	checks  map[string]Check
	timeout time.Duration
	logger  *slog.Logger
}

// NewHealthHandler creates a HealthHandler running the named checks.
func NewHealthHandler(checks map[string]Check, logger *slog.Logger) *HealthHandler {
	return &HealthHandler{checks: checks, timeout: 5 * time.Second, logger: logger}
}

// HealthCheck runs every check concurrently and reports 503 if any failed.
// GET /api/health
func (h *HealthHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	var (
		mu      sync.Mutex
		wg      sync.WaitGroup
		results = make(map[string]string, len(h.checks))
	)
	for name, check := range h.checks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := "ok"
			if err := check(ctx); err != nil {
				status = err.Error()
			}
			mu.Lock()
			results[name] = status
			mu.Unlock()
		}()
	}
	wg.Wait()

	code := http.StatusOK
	overall := "ok"
	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if results[name] != "ok" {
			code = http.StatusServiceUnavailable
			overall = "degraded"
			h.logger.WarnContext(r.Context(), "health check failed",
				slog.String("check", name),
				slog.String("error", results[name]),
			)
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    overall,
		"checks":    results,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
