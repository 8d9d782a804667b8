// Package engine turns a stream of address lines into escalating bans.
//
// Each line is parsed and masked to a key, checked against a per-key rate
// limiter, and, when over quota, bumps the key's recidivism count. The ban
// duration is base time multiplied by that count. A dedup cache holds a
// mark for slightly less than the ban's duration so each ban reaches the
// sink at most once while it is in force.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/address"
	"github.com/developingchet/leroy/internal/cache"
	"github.com/developingchet/leroy/internal/clock"
	"github.com/developingchet/leroy/internal/input"
	"github.com/developingchet/leroy/internal/limiter"
	"github.com/developingchet/leroy/internal/metrics"
	"github.com/developingchet/leroy/internal/sink"
)

// Config holds the escalation policy.
type Config struct {
	// Threshold events per Period are allowed per key. Zero bans on sight.
	Threshold uint32
	Period    time.Duration

	// BaseTime is the first ban's duration and the escalation step.
	BaseTime time.Duration
	// MaxTime caps ban durations when positive.
	MaxTime time.Duration
	// RecidivismTTL is how long a key must stay quiet to be forgiven.
	RecidivismTTL time.Duration
	// SafetyMargin is subtracted from the ban duration to get the dedup
	// window, so a key can be re-banned just before its ban lapses.
	SafetyMargin time.Duration

	InitialCapacity int
	// MaxSize bounds the recidivism cache per family. Zero is unbounded.
	MaxSize int

	Mask      address.Mask
	Allowlist *address.Allowlist

	// ReportInterval sets how often throughput is logged. Zero disables it.
	ReportInterval time.Duration
}

type familyState struct {
	limiter    *limiter.Keyed[address.Key]
	dedup      *cache.Dedup[address.Key]
	recidivism *cache.Recidivism[address.Key]
}

// Engine is the ban decision pipeline. It is not safe for concurrent use:
// one goroutine feeds it lines via HandleLine or Run.
type Engine struct {
	cfg    Config
	sink   sink.Sink
	log    zerolog.Logger
	clock  clock.Clock
	state  address.ByFamily[*familyState]
	report reporter
}

// Option customises an Engine.
type Option func(*Engine)

// WithClock replaces the wall clock for the limiter, both caches and
// throughput reports.
func WithClock(c clock.Clock) Option {
	return func(e *Engine) { e.clock = c }
}

// New builds an engine that hands bans to s.
func New(cfg Config, s sink.Sink, log zerolog.Logger, opts ...Option) (*Engine, error) {
	if s == nil {
		return nil, errors.New("engine: sink is required")
	}
	if cfg.BaseTime <= 0 {
		return nil, fmt.Errorf("engine: base time must be positive; got %s", cfg.BaseTime)
	}
	if cfg.RecidivismTTL <= 0 {
		return nil, fmt.Errorf("engine: recidivism ttl must be positive; got %s", cfg.RecidivismTTL)
	}
	if cfg.SafetyMargin < 0 {
		return nil, fmt.Errorf("engine: safety margin must not be negative; got %s", cfg.SafetyMargin)
	}

	e := &Engine{
		cfg:   cfg,
		sink:  s,
		log:   log.With().Str("component", "engine").Logger(),
		clock: clock.Real{},
	}
	for _, opt := range opts {
		opt(e)
	}

	state, err := address.NewByFamily(func(f address.Family) (*familyState, error) {
		l, err := limiter.New[address.Key](limiter.Config{
			Quota:           limiter.Quota{Burst: cfg.Threshold, Period: cfg.Period},
			InitialCapacity: cfg.InitialCapacity,
			Name:            f.String(),
		}, e.clock, log)
		if err != nil {
			return nil, fmt.Errorf("engine: %s limiter: %w", f, err)
		}
		return &familyState{
			limiter:    l,
			dedup:      cache.NewDedup[address.Key](cfg.InitialCapacity, e.clock),
			recidivism: cache.NewRecidivism[address.Key](cfg.MaxSize, cfg.RecidivismTTL, e.clock),
		}, nil
	})
	if err != nil {
		return nil, err
	}
	e.state = state
	e.report = newReporter(cfg.ReportInterval, e.clock.Now())
	return e, nil
}

// HandleLine runs one input line through the pipeline. Malformed lines and
// sink failures are logged and reported in the outcome; they never stop
// processing.
func (e *Engine) HandleLine(ctx context.Context, line []byte) Outcome {
	o := e.handle(ctx, line)
	metrics.LinesProcessed.WithLabelValues(o.String()).Inc()
	e.report.line(o, e.clock.Now(), e.log, e.state)
	return o
}

func (e *Engine) handle(ctx context.Context, line []byte) Outcome {
	addr, err := address.Parse(line)
	if err != nil {
		if errors.Is(err, address.ErrEmpty) {
			e.log.Debug().Msg("skipping empty line")
		} else {
			e.log.Warn().Err(err).Msg("skipping unparseable line")
		}
		return OutcomeInvalid
	}
	if e.cfg.Allowlist.Contains(addr) {
		return OutcomeAllowlisted
	}

	key := e.cfg.Mask.Apply(addr)
	st := e.state.Get(key.Family())

	if !st.limiter.Observe(key) {
		return OutcomePassed
	}

	// Bump before the dedup check: an offense inside a live ban still
	// raises the multiplier of the next one.
	count := st.recidivism.Bump(key)
	duration := e.banDuration(count)
	ttl := max(duration-e.cfg.SafetyMargin, 0)

	if !st.dedup.TryMark(key, ttl) {
		e.log.Debug().Str("key", key.String()).Uint32("recidivism", count).Msg("already banned")
		return OutcomeSuppressed
	}

	ban := sink.Ban{Key: key, Duration: duration, Recidivism: count}
	if err := e.sink.ApplyBan(ctx, ban); err != nil {
		e.log.Error().Err(err).
			Str("key", key.String()).
			Dur("duration", duration).
			Uint32("recidivism", count).
			Msg("unable to apply ban")
		return OutcomeBanFailed
	}

	family := key.Family().String()
	metrics.BansEmitted.WithLabelValues(family).Inc()
	metrics.BanDuration.WithLabelValues(family).Observe(duration.Seconds())
	metrics.Recidivism.Observe(float64(count))
	e.log.Info().
		Str("key", key.String()).
		Int("prefix_bits", key.Bits()).
		Dur("duration", duration).
		Uint32("recidivism", count).
		Msg("banned")
	return OutcomeBanned
}

// banDuration is BaseTime × count, saturating instead of overflowing and
// capped at MaxTime when set.
func (e *Engine) banDuration(count uint32) time.Duration {
	base := e.cfg.BaseTime
	var d time.Duration
	if int64(count) > math.MaxInt64/int64(base) {
		d = time.Duration(math.MaxInt64)
	} else {
		d = base * time.Duration(count)
	}
	if e.cfg.MaxTime > 0 && d > e.cfg.MaxTime {
		d = e.cfg.MaxTime
	}
	return d
}

// Run feeds every line from src to HandleLine. It returns nil when src is
// exhausted and ctx.Err() once ctx is cancelled.
func (e *Engine) Run(ctx context.Context, src input.Source) error {
	e.log.Info().
		Uint32("threshold", e.cfg.Threshold).
		Dur("period", e.cfg.Period).
		Dur("base_time", e.cfg.BaseTime).
		Dur("recidivism_ttl", e.cfg.RecidivismTTL).
		Int("mask_v4", e.cfg.Mask.Bits(address.V4)).
		Int("mask_v6", e.cfg.Mask.Bits(address.V6)).
		Msg("engine started")
	for {
		line, err := src.Next(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				e.log.Info().Msg("input exhausted")
				return nil
			}
			return err
		}
		e.HandleLine(ctx, line)
	}
}
