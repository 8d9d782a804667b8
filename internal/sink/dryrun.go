package sink

import (
	"context"

	"github.com/rs/zerolog"
)

// DryRun logs bans instead of applying them. It never fails.
type DryRun struct {
	backend string
	log     zerolog.Logger
}

// NewDryRun returns a sink that stands in for backend.
func NewDryRun(backend string, log zerolog.Logger) *DryRun {
	return &DryRun{
		backend: backend,
		log:     log.With().Str("component", "sink").Str("backend", backend).Logger(),
	}
}

func (d *DryRun) VerifyTargets(context.Context) error {
	d.log.Info().Msg("[DRY-RUN] skipping ban target verification")
	return nil
}

func (d *DryRun) ApplyBan(_ context.Context, b Ban) error {
	d.log.Info().
		Str("key", b.Key.String()).
		Str("family", b.Family().String()).
		Dur("duration", b.Duration).
		Uint32("recidivism", b.Recidivism).
		Msg("[DRY-RUN] would ban")
	return nil
}

func (d *DryRun) Close() error { return nil }
