// Package api exposes the read-only monitoring surface: a JSON HTTP API for
// progress dashboards and an MCP server giving agents access to the dataset.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dexterai/traingen/internal/pipeline"
	"github.com/dexterai/traingen/internal/pool"
	"github.com/dexterai/traingen/internal/storage"
)

// PipelineInfo is the slice of the coordinator the API reads from.
type PipelineInfo interface {
	Metrics() pipeline.Metrics
	PoolMetrics() map[string]pool.Metrics
	QueueStats() storage.QueueStats
}

// Deps holds dependencies for the monitoring handler.
type Deps struct {
	Store *storage.Store
	// Pipeline is optional; endpoints that need it report an error when it
	// is absent (e.g. the stats command running against a bare database).
	Pipeline PipelineInfo
	// TargetCount drives progress reporting; 0 means no active target.
	TargetCount int
}

// NewMonitorHandler returns the monitoring HTTP API.
func NewMonitorHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Get("/api/stats", handleStats(deps))
	r.Get("/api/queue", handleQueue(deps))
	r.Get("/api/pools", handlePools(deps))
	r.Get("/api/latest", handleLatest(deps))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

type statsResponse struct {
	Stats       storage.Stats           `json:"stats"`
	TargetCount int                     `json:"target_count"`
	ProgressPct int                     `json:"progress_pct"`
	Pipeline    *pipeline.Metrics       `json:"pipeline,omitempty"`
	Pools       map[string]pool.Metrics `json:"pools,omitempty"`
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats, err := deps.Store.GetStats()
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read stats: %v", err)
			return
		}

		resp := statsResponse{
			Stats:       stats,
			TargetCount: deps.TargetCount,
		}
		if deps.TargetCount > 0 {
			resp.ProgressPct = min(100, stats.Valid*100/deps.TargetCount)
		}
		if deps.Pipeline != nil {
			m := deps.Pipeline.Metrics()
			resp.Pipeline = &m
			resp.Pools = deps.Pipeline.PoolMetrics()
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	}
}

func handleQueue(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Pipeline == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "pipeline not running")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Pipeline.QueueStats())
	}
}

func handlePools(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Pipeline == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "pipeline not running")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Pipeline.PoolMetrics())
	}
}

func handleLatest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 10, 100)

		examples, err := deps.Store.RecentExamples(limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read examples: %v", err)
			return
		}
		if examples == nil {
			examples = []storage.StoredExample{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(examples)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
