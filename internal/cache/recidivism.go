package cache

import (
	"math"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/developingchet/leroy/internal/clock"
)

type strike struct {
	count uint32
	last  time.Time
}

// Recidivism counts bans per key. A count resets once ttl passes without
// a new offense: every Bump restarts the key's window. When the cache
// holds maxSize keys the least recently bumped one is evicted.
//
// Expiry is judged on the injected clock. The LRU's own wall-clock TTL
// only purges idle entries from memory.
type Recidivism[K comparable] struct {
	counts *lru.LRU[K, strike]
	ttl    time.Duration
	clock  clock.Clock
}

// NewRecidivism returns an empty cache. maxSize 0 means unbounded.
func NewRecidivism[K comparable](maxSize int, ttl time.Duration, clk clock.Clock) *Recidivism[K] {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Recidivism[K]{
		counts: lru.NewLRU[K, strike](maxSize, nil, ttl),
		ttl:    ttl,
		clock:  clk,
	}
}

// Bump increments the count for key, saturating at MaxUint32, and returns
// the new value. An unseen or expired key returns 1.
func (r *Recidivism[K]) Bump(key K) uint32 {
	now := r.clock.Now()
	s, ok := r.counts.Get(key)
	if !ok || r.expired(s, now) {
		s.count = 0
	}
	if s.count < math.MaxUint32 {
		s.count++
	}
	s.last = now
	r.counts.Add(key, s)
	return s.count
}

// Peek returns the live count for key without refreshing it.
func (r *Recidivism[K]) Peek(key K) (uint32, bool) {
	s, ok := r.counts.Peek(key)
	if !ok || r.expired(s, r.clock.Now()) {
		return 0, false
	}
	return s.count, true
}

// Len returns the number of keys held. Expired keys are counted until the
// LRU purges them.
func (r *Recidivism[K]) Len() int { return r.counts.Len() }

func (r *Recidivism[K]) expired(s strike, now time.Time) bool {
	return !now.Before(s.last.Add(r.ttl))
}
