package engine

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/address"
	"github.com/developingchet/leroy/internal/metrics"
)

// reporter logs throughput once per interval and refreshes table-size
// gauges. It runs inline on the engine goroutine.
type reporter struct {
	interval time.Duration

	lines      uint64
	linesSince time.Time
	bans       uint64
	bansSince  time.Time
}

func newReporter(interval time.Duration, now time.Time) reporter {
	return reporter{interval: interval, linesSince: now, bansSince: now}
}

func (r *reporter) line(o Outcome, now time.Time, log zerolog.Logger, state address.ByFamily[*familyState]) {
	r.lines++
	if o == OutcomeBanned {
		r.bans++
	}
	if r.interval <= 0 {
		return
	}

	if elapsed := now.Sub(r.linesSince); elapsed >= r.interval {
		log.Info().Uint64("lines", r.lines).Dur("elapsed", elapsed).Msg("lines seen")
		r.lines, r.linesSince = 0, now

		state.Each(func(f address.Family, st *familyState) {
			metrics.LimiterKeys.WithLabelValues(f.String()).Set(float64(st.limiter.Len()))
			metrics.DedupEntries.WithLabelValues(f.String()).Set(float64(st.dedup.Len()))
			metrics.RecidivismEntries.WithLabelValues(f.String()).Set(float64(st.recidivism.Len()))
		})
	}
	if elapsed := now.Sub(r.bansSince); elapsed >= r.interval && r.bans > 0 {
		log.Info().Uint64("bans", r.bans).Dur("elapsed", elapsed).Msg("bans emitted")
		r.bans, r.bansSince = 0, now
	}
}
