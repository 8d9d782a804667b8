package sink

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/journal"
)

// Journaled records every successfully applied ban in a journal.
// Journal failures are logged; they never fail the ban.
type Journaled struct {
	next    Sink
	journal journal.Journal
	now     func() time.Time
	log     zerolog.Logger
}

func NewJournaled(next Sink, j journal.Journal, log zerolog.Logger) *Journaled {
	return &Journaled{
		next:    next,
		journal: j,
		now:     time.Now,
		log:     log.With().Str("component", "journal").Logger(),
	}
}

func (s *Journaled) VerifyTargets(ctx context.Context) error {
	return s.next.VerifyTargets(ctx)
}

func (s *Journaled) ApplyBan(ctx context.Context, b Ban) error {
	if err := s.next.ApplyBan(ctx, b); err != nil {
		return err
	}
	now := s.now().UTC()
	entry := journal.Entry{
		Key:        b.Key.String(),
		Family:     b.Family().String(),
		Recidivism: b.Recidivism,
		Duration:   b.Duration,
		BannedAt:   now,
		ExpiresAt:  now.Add(b.Duration),
	}
	if err := s.journal.Record(entry); err != nil {
		s.log.Warn().Err(err).Str("key", entry.Key).Msg("failed to record ban in journal")
	}
	return nil
}

// Close closes the wrapped sink. The journal is owned by the caller.
func (s *Journaled) Close() error {
	return s.next.Close()
}
