package metrics_test

import (
	"strings"
	"testing"

	"github.com/developingchet/leroy/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

// TestMetricCollectorsNonNil verifies all package-level metric variables
// are non-nil and pass Prometheus linting rules.
func TestMetricCollectorsNonNil(t *testing.T) {
	tests := []struct {
		name string
		c    prometheus.Collector
	}{
		{"LinesProcessed", metrics.LinesProcessed},
		{"InputErrors", metrics.InputErrors},
		{"BansEmitted", metrics.BansEmitted},
		{"BanDuration", metrics.BanDuration},
		{"Recidivism", metrics.Recidivism},
		{"SinkCalls", metrics.SinkCalls},
		{"SinkDuration", metrics.SinkDuration},
		{"LimiterKeys", metrics.LimiterKeys},
		{"LimiterGCRuns", metrics.LimiterGCRuns},
		{"LimiterEvicted", metrics.LimiterEvicted},
		{"DedupEntries", metrics.DedupEntries},
		{"RecidivismEntries", metrics.RecidivismEntries},
		{"JournalSizeBytes", metrics.JournalSizeBytes},
		{"JournalPruned", metrics.JournalPruned},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if tc.c == nil {
				t.Fatal("collector is nil")
			}
			lintErrs, err := testutil.CollectAndLint(tc.c)
			if err != nil {
				t.Errorf("CollectAndLint gather error: %v", err)
			}
			if len(lintErrs) > 0 {
				t.Errorf("prometheus lint errors: %v", lintErrs)
			}
		})
	}
}

// TestMetricNamesAndHelp verifies all expected metrics are registered under
// the leroy_ namespace and have non-empty help strings. Describe() is used
// rather than Gather() so Vec metrics with no observations are checked too.
func TestMetricNamesAndHelp(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"leroy_lines_processed_total", metrics.LinesProcessed},
		{"leroy_input_errors_total", metrics.InputErrors},
		{"leroy_bans_emitted_total", metrics.BansEmitted},
		{"leroy_ban_duration_seconds", metrics.BanDuration},
		{"leroy_ban_recidivism", metrics.Recidivism},
		{"leroy_sink_calls_total", metrics.SinkCalls},
		{"leroy_sink_duration_seconds", metrics.SinkDuration},
		{"leroy_limiter_keys", metrics.LimiterKeys},
		{"leroy_limiter_gc_runs_total", metrics.LimiterGCRuns},
		{"leroy_limiter_evicted_keys_total", metrics.LimiterEvicted},
		{"leroy_dedup_entries", metrics.DedupEntries},
		{"leroy_recidivism_entries", metrics.RecidivismEntries},
		{"leroy_journal_size_bytes", metrics.JournalSizeBytes},
		{"leroy_journal_pruned_total", metrics.JournalPruned},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ch := make(chan *prometheus.Desc, 32)
			go func() {
				tc.c.Describe(ch)
				close(ch)
			}()

			found := false
			for d := range ch {
				s := d.String()
				if strings.Contains(s, `"`+tc.name+`"`) {
					found = true
					if strings.Contains(s, `help: ""`) {
						t.Errorf("descriptor for %s has an empty help string", tc.name)
					}
				}
			}
			if !found {
				t.Errorf("no descriptor named %q returned by Describe()", tc.name)
			}
		})
	}
}
