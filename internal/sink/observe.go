package sink

import (
	"time"

	"github.com/developingchet/leroy/internal/metrics"
)

// observe records the outcome and latency of one backend call.
func observe(backend string, start time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.SinkCalls.WithLabelValues(backend, status).Inc()
	metrics.SinkDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
}
