// Package limiter implements a keyed rate limiter using the generic cell
// rate algorithm (GCRA). Each key stores a single theoretical arrival time,
// so per-key state is one int64 regardless of the quota.
package limiter

import (
	"errors"
	"math"
	"time"

	"github.com/developingchet/leroy/internal/clock"
	"github.com/developingchet/leroy/internal/metrics"
	"github.com/rs/zerolog"
)

// Quota allows Burst events per Period for each key.
type Quota struct {
	Burst  uint32
	Period time.Duration
}

// Unlimited reports whether every event is over quota.
// A zero burst never admits anything, so every event counts as limited.
func (q Quota) Unlimited() bool { return q.Burst == 0 }

// emission is the spacing between admitted events at steady state.
func (q Quota) emission() int64 {
	t := int64(q.Period) / int64(q.Burst)
	if t < 1 {
		return 1
	}
	return t
}

// Config holds limiter settings.
type Config struct {
	Quota Quota
	// InitialCapacity sizes the key table and is the floor for the
	// garbage-collection trigger.
	InitialCapacity int
	// Name labels metrics and log lines, usually the address family.
	Name string
}

// Keyed is a per-key rate limiter. It is not safe for concurrent use; the
// engine owns one per address family and drives it from a single goroutine.
type Keyed[K comparable] struct {
	quota    Quota
	tau      int64 // emission interval in ns
	window   int64 // quota period in ns
	capacity int
	name     string

	clock clock.Clock
	epoch time.Time
	log   zerolog.Logger

	tat    map[K]int64 // theoretical arrival time, ns since epoch
	nextGC int
}

// New builds a limiter. Period must be positive unless the quota is
// unlimited (burst 0).
func New[K comparable](cfg Config, clk clock.Clock, log zerolog.Logger) (*Keyed[K], error) {
	if cfg.InitialCapacity < 1 {
		return nil, errors.New("limiter: initial capacity must be at least 1")
	}
	if !cfg.Quota.Unlimited() && cfg.Quota.Period <= 0 {
		return nil, errors.New("limiter: period must be positive")
	}
	if clk == nil {
		clk = clock.Real{}
	}
	k := &Keyed[K]{
		quota:    cfg.Quota,
		window:   int64(cfg.Quota.Period),
		capacity: cfg.InitialCapacity,
		name:     cfg.Name,
		clock:    clk,
		epoch:    clk.Now(),
		log:      log.With().Str("component", "limiter").Str("table", cfg.Name).Logger(),
		tat:      make(map[K]int64, cfg.InitialCapacity),
		nextGC:   cfg.InitialCapacity,
	}
	if !cfg.Quota.Unlimited() {
		k.tau = cfg.Quota.emission()
	}
	return k, nil
}

func (k *Keyed[K]) now() int64 {
	return int64(k.clock.Now().Sub(k.epoch))
}

// Observe records one event for key and reports whether it exceeded the
// quota. Limited events still count against the key: each one pushes the
// arrival time far enough that the key stays limited for a full period
// after its latest breach.
func (k *Keyed[K]) Observe(key K) bool {
	if k.quota.Unlimited() {
		return true
	}
	now := k.now()

	tat, ok := k.tat[key]
	if !ok || tat < now {
		tat = now
	}
	next := tat + k.tau
	limited := next-now > k.window
	if limited {
		// tau <= window, so window-tau is never negative.
		next = satAdd(satAdd(now, k.window), k.window-k.tau)
	}
	if !ok {
		k.maybeGC(now)
	}
	k.tat[key] = next
	return limited
}

// Len returns the number of keys held, including inert ones not yet
// collected.
func (k *Keyed[K]) Len() int { return len(k.tat) }

// maybeGC runs before a new key is inserted once the table reaches the
// trigger size. It removes keys whose arrival time has passed, since those
// are indistinguishable from keys never seen.
func (k *Keyed[K]) maybeGC(now int64) {
	if len(k.tat) < k.nextGC {
		return
	}
	before := len(k.tat)
	for key, tat := range k.tat {
		if tat <= now {
			delete(k.tat, key)
		}
	}
	after := len(k.tat)

	// Go maps never shrink; copy into a fresh one after a large purge.
	if after < before/4 {
		fresh := make(map[K]int64, max(k.capacity, after))
		for key, tat := range k.tat {
			fresh[key] = tat
		}
		k.tat = fresh
	}
	k.nextGC = max(k.capacity, after*2, 1)

	metrics.LimiterGCRuns.WithLabelValues(k.name).Inc()
	metrics.LimiterEvicted.WithLabelValues(k.name).Add(float64(before - after))
	metrics.LimiterKeys.WithLabelValues(k.name).Set(float64(after))
	k.log.Debug().
		Int("before", before).
		Int("after", after).
		Int("next_gc", k.nextGC).
		Msg("limiter table collected")
}

func satAdd(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}
