package handlers

import (
	"net/http"
	"sync/atomic"

	"github.com/3p3r/puppeteer-command-server/internal/web"
)

func snapshotMetrics() map[string]any {
	total := atomic.LoadUint64(&metricRequestsTotal)
	failed := atomic.LoadUint64(&metricRequestsFailed)
	latencySum := atomic.LoadUint64(&metricRequestLatencyN)
	avgMs := 0.0
	if total > 0 {
		avgMs = float64(latencySum) / float64(total)
	}
	return map[string]any{
		"requestsTotal":  total,
		"requestsFailed": failed,
		"avgLatencyMs":   avgMs,
	}
}

// HandleMetrics reports request counters accumulated since start.
//
// @Endpoint GET /metrics
func (h *Handlers) HandleMetrics(w http.ResponseWriter, _ *http.Request) {
	web.OK(w, snapshotMetrics())
}
