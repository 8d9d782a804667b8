package daemon

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/journal"
	"github.com/developingchet/leroy/internal/metrics"
)

// Janitor performs periodic housekeeping: pruning expired journal entries,
// updating the journal size gauge.
type Janitor struct {
	journal  journal.Journal
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger
}

// NewJanitor creates a Janitor.
func NewJanitor(j journal.Journal, interval time.Duration, log zerolog.Logger) *Janitor {
	return &Janitor{
		journal:  j,
		interval: interval,
		now:      time.Now,
		log:      log.With().Str("component", "janitor").Logger(),
	}
}

// Run executes the janitor loop until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	// Run immediately on start
	j.tick()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			j.tick()
		}
	}
}

func (j *Janitor) tick() {
	pruned, err := j.journal.PruneExpired(j.now())
	if err != nil {
		j.log.Warn().Err(err).Msg("prune expired bans failed")
	} else if pruned > 0 {
		metrics.JournalPruned.Add(float64(pruned))
		j.log.Info().Int("count", pruned).Msg("pruned expired bans")
	}

	size, err := j.journal.SizeBytes()
	if err != nil {
		j.log.Warn().Err(err).Msg("read journal size failed")
	} else {
		metrics.JournalSizeBytes.Set(float64(size))
	}

	j.log.Debug().Msg("tick complete")
}
