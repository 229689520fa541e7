// health.go - Dependency health endpoint.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

// HealthCheckers holds one probe per dependent service. A nil probe is
// reported as "skipped" so partial wiring (as in tests) still works.
type HealthCheckers struct {
	Database  func(ctx context.Context) error
	BlobStore func(ctx context.Context) error
	Cache     func(ctx context.Context) error
}

type componentHealth struct {
	Status    string  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMs float64 `json:"latency_ms,omitempty"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Components map[string]componentHealth `json:"components"`
}

func probe(ctx context.Context, check func(ctx context.Context) error) componentHealth {
	if check == nil {
		return componentHealth{Status: "skipped"}
	}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := check(ctx)
	latency := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		return componentHealth{Status: "down", Message: err.Error(), LatencyMs: latency}
	}
	return componentHealth{Status: "up", LatencyMs: latency}
}

// GET /health — per-dependency status; 503 when anything is down.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC(),
		Components: map[string]componentHealth{
			"database":  probe(r.Context(), s.health.Database),
			"blobstore": probe(r.Context(), s.health.BlobStore),
			"cache":     probe(r.Context(), s.health.Cache),
		},
	}

	code := http.StatusOK
	for _, c := range resp.Components {
		if c.Status == "down" {
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(resp)
}
