// Package health probes the service's dependencies for liveness checks.
package health

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/dotsetgreg/taskmind/pkg/metrics"
	"github.com/dotsetgreg/taskmind/pkg/store"
)

// Status is the health report served by the gateway.
type Status struct {
	Status  string           `json:"status"` // "ok" or "degraded"
	Store   string           `json:"store"`  // "ok" or the failure
	Metrics metrics.Snapshot `json:"metrics"`
	Time    time.Time        `json:"time"`
}

var probeNamespace = store.Namespace{
	Category:  store.Category("health"),
	Qualifier: "probe",
	UserID:    "check",
}

// Check writes and reads back a probe record to confirm the store is
// reachable, and attaches the current metrics snapshot.
func Check(ctx context.Context, st store.Store, agg *metrics.Aggregator) Status {
	status := Status{
		Status:  "ok",
		Store:   "ok",
		Metrics: agg.Stats(),
		Time:    time.Now().UTC(),
	}

	probe, _ := json.Marshal(map[string]int64{"ts": status.Time.UnixMilli()})
	if err := st.Put(ctx, probeNamespace, "probe", probe); err != nil {
		status.Status = "degraded"
		status.Store = err.Error()
		return status
	}
	rec, err := st.Get(ctx, probeNamespace, "probe")
	if err != nil {
		status.Status = "degraded"
		status.Store = err.Error()
		return status
	}
	if !bytes.Equal(rec.Value, probe) {
		status.Status = "degraded"
		status.Store = "probe readback mismatch"
	}
	return status
}
