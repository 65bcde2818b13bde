package telemetry

import (
	"fmt"
	"time"
)

const (
	EventRunStarted  = "AuditRunStarted"
	EventRunFinished = "AuditRunFinished"

	PropInstallationId = "installation_id"
	PropSessionId      = "session_id"
	PropMode           = "mode"
	PropFailure        = "failure"

	MeasureServers   = "servers"
	MeasureElapsedMs = "elapsed_ms"
)

// RunTracer records the start and the end of one audit run.
type RunTracer struct {
	c     Client
	mode  string
	start time.Time
	now   func() time.Time
}

func NewRunTracer(c Client, mode string) *RunTracer {
	if c == nil {
		c = NewNullClient()
	}
	return &RunTracer{c: c, mode: mode, now: time.Now}
}

func (r *RunTracer) Started() {
	r.start = r.now()
	r.c.Event(EventRunStarted, map[string]string{PropMode: r.mode}, nil)
}

// Finished records the number of servers per outcome. The failure is the kind of the error that stopped the run,
// empty if the run completed.
func (r *RunTracer) Finished(counts map[string]int, failure string) {
	props := map[string]string{PropMode: r.mode}
	if failure != "" {
		props[PropFailure] = failure
		r.c.Trace(Error, fmt.Sprintf("Audit run (mode=%s) stopped: %s", r.mode, failure))
	}
	measurements := map[string]float64{}
	var total int
	for outcome, n := range counts {
		measurements[outcome] = float64(n)
		total += n
	}
	measurements[MeasureServers] = float64(total)
	if !r.start.IsZero() {
		measurements[MeasureElapsedMs] = float64(r.now().Sub(r.start).Milliseconds())
	}
	r.c.Event(EventRunFinished, props, measurements)
}
