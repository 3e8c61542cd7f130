package core

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the whole /health request, not each probe.
const healthCheckTimeout = 2 * time.Second

const (
	statusHealthy   = "healthy"
	statusUnhealthy = "unhealthy"
)

// HealthProbe checks one dependency the API cannot work without.
type HealthProbe interface {
	Name() string
	// Check must respect the context deadline.
	Check(ctx context.Context) error
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DatabaseProbe checks that the job store is reachable. Intake cannot
// enqueue without it.
type DatabaseProbe struct {
	DB Pinger
}

func (p DatabaseProbe) Name() string { return "database" }

func (p DatabaseProbe) Check(ctx context.Context) error {
	return p.DB.Ping(ctx)
}

type componentStatus struct {
	Status    string `json:"status"`
	Message   string `json:"message,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

type healthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

type probeOutcome struct {
	index  int
	status componentStatus
}

// HandleHealth is mounted at GET /health without auth. Probes run in
// parallel; any probe that fails or is still running at the deadline turns
// the answer into a 503.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: statusHealthy}
	if s.Config != nil {
		resp.Version = s.Config.Build.Version
	}
	if len(s.HealthProbes) == 0 {
		JSON(w, r, http.StatusOK, resp)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	statuses := runProbes(ctx, s.HealthProbes)
	resp.Components = make(map[string]componentStatus, len(statuses))
	code := http.StatusOK
	for i, st := range statuses {
		resp.Components[s.HealthProbes[i].Name()] = st
		if st.Status != statusHealthy {
			resp.Status = statusUnhealthy
			code = http.StatusServiceUnavailable
		}
	}
	JSON(w, r, code, resp)
}

// runProbes returns one status per probe, in probe order. Slots a probe has
// not filled when ctx expires read as timed out.
func runProbes(ctx context.Context, probes []HealthProbe) []componentStatus {
	statuses := make([]componentStatus, len(probes))
	for i := range statuses {
		statuses[i] = componentStatus{Status: statusUnhealthy, Message: "health check timed out"}
	}

	// Buffered so late probes never block after the handler has returned.
	outcomes := make(chan probeOutcome, len(probes))
	for i, p := range probes {
		go func() {
			outcomes <- probeOutcome{index: i, status: checkOne(ctx, p)}
		}()
	}

	for pending := len(probes); pending > 0; pending-- {
		select {
		case o := <-outcomes:
			statuses[o.index] = o.status
		case <-ctx.Done():
			return statuses
		}
	}
	return statuses
}

func checkOne(ctx context.Context, p HealthProbe) (st componentStatus) {
	start := time.Now()
	defer func() {
		if rvr := recover(); rvr != nil {
			st = componentStatus{Status: statusUnhealthy, Message: fmt.Sprintf("probe panicked: %v", rvr)}
		}
		st.LatencyMS = time.Since(start).Milliseconds()
	}()
	if err := p.Check(ctx); err != nil {
		return componentStatus{Status: statusUnhealthy, Message: err.Error()}
	}
	return componentStatus{Status: statusHealthy}
}
