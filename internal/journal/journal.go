// Package journal keeps an on-disk record of the bans the daemon has
// emitted, so operators can inspect what is currently blocked and why.
// The journal is informational: the ban sink stays the source of truth.
package journal

import "time"

// Entry describes one emitted ban.
type Entry struct {
	Key        string        `msgpack:"key"`
	Family     string        `msgpack:"family"`
	Recidivism uint32        `msgpack:"recidivism"`
	Duration   time.Duration `msgpack:"duration"`
	BannedAt   time.Time     `msgpack:"banned_at"`
	ExpiresAt  time.Time     `msgpack:"expires_at"`
}

// Journal is the persistence interface for emitted bans.
type Journal interface {
	// Record stores e under e.Key, replacing any earlier ban of the key.
	Record(e Entry) error
	List() (map[string]Entry, error)

	// PruneExpired removes entries whose ExpiresAt is before now.
	PruneExpired(now time.Time) (int, error)

	SizeBytes() (int64, error)
	Close() error
}
