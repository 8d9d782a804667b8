// Package cache holds the two timed caches that sit between the rate
// limiter and the ban sink: Dedup suppresses repeat bans while one is
// still in force, Recidivism counts how often a key has been banned.
package cache

import (
	"time"

	"github.com/developingchet/leroy/internal/clock"
)

// Dedup remembers keys until a per-entry deadline. It is not safe for
// concurrent use.
type Dedup[K comparable] struct {
	clock    clock.Clock
	capacity int
	expiry   map[K]time.Time
	nextGC   int
}

// NewDedup returns an empty cache pre-sized for capacity keys.
func NewDedup[K comparable](capacity int, clk clock.Clock) *Dedup[K] {
	if capacity < 1 {
		capacity = 1
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Dedup[K]{
		clock:    clk,
		capacity: capacity,
		expiry:   make(map[K]time.Time, capacity),
		nextGC:   capacity,
	}
}

// TryMark returns false if key is already marked and unexpired. Otherwise
// it marks key until now+ttl and returns true. A live mark is never
// extended. A ttl of zero or less stores an already expired mark, so the
// next call for key succeeds again.
func (d *Dedup[K]) TryMark(key K, ttl time.Duration) bool {
	now := d.clock.Now()
	if exp, ok := d.expiry[key]; ok {
		if now.Before(exp) {
			return false
		}
	} else {
		d.maybeSweep(now)
	}
	d.expiry[key] = now.Add(ttl)
	return true
}

// Contains reports whether key holds a live mark.
func (d *Dedup[K]) Contains(key K) bool {
	exp, ok := d.expiry[key]
	return ok && d.clock.Now().Before(exp)
}

// Len returns the number of stored marks, expired ones included.
func (d *Dedup[K]) Len() int { return len(d.expiry) }

// maybeSweep drops expired marks once the map reaches the trigger size,
// mirroring the limiter's collection policy.
func (d *Dedup[K]) maybeSweep(now time.Time) {
	if len(d.expiry) < d.nextGC {
		return
	}
	before := len(d.expiry)
	for key, exp := range d.expiry {
		if !now.Before(exp) {
			delete(d.expiry, key)
		}
	}
	after := len(d.expiry)
	if after < before/4 {
		fresh := make(map[K]time.Time, max(d.capacity, after))
		for key, exp := range d.expiry {
			fresh[key] = exp
		}
		d.expiry = fresh
	}
	d.nextGC = max(d.capacity, after*2, 1)
}
