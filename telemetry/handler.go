package telemetry

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ciscoittech/pingtopass-dataplane/types"
)

// RegionLister provides the current region snapshots for verdict
// derivation. Satisfied by region.Registry.
type RegionLister interface {
	List() []types.Region
}

// Handler returns the operator-facing telemetry surface.
//
// GET /telemetry serves the full snapshot: verdict, per-region health,
// hit ratio, and latency percentiles per operation class.
// GET /healthz reports 200 while the verdict is healthy or degraded
// and 503 once it is critical.
func Handler(monitor *Monitor, regions RegionLister) http.Handler {
	r := chi.NewRouter()

	r.Get("/telemetry", func(w http.ResponseWriter, req *http.Request) {
		snap := monitor.Snapshot(regions.List())
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		verdict := monitor.Verdict(regions.List())
		status := http.StatusOK
		if verdict == types.VerdictCritical {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": string(verdict)})
	})

	return r
}
