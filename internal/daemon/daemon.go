// Package daemon runs the ingest loop alongside the admin HTTP servers and
// the journal janitor, and shuts them all down together.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/developingchet/leroy/internal/engine"
	"github.com/developingchet/leroy/internal/input"
	"github.com/developingchet/leroy/internal/journal"
)

// Version is reported by the status endpoint. main sets it from its
// -X main.Version ldflags value.
var Version = "dev"

// Config selects which auxiliary services run next to the engine.
type Config struct {
	MetricsEnabled  bool
	MetricsAddr     string
	HealthAddr      string // empty disables the health server
	JanitorInterval time.Duration
}

// Daemon wires the engine to its input and the admin surfaces.
type Daemon struct {
	cfg     Config
	engine  *engine.Engine
	source  input.Source
	journal journal.Journal // nil when the journal is disabled
	log     zerolog.Logger

	ingesting atomic.Bool
	started   time.Time
}

// New builds a daemon. j may be nil.
func New(cfg Config, eng *engine.Engine, src input.Source, j journal.Journal, log zerolog.Logger) *Daemon {
	return &Daemon{
		cfg:     cfg,
		engine:  eng,
		source:  src,
		journal: j,
		log:     log,
	}
}

// Run blocks until the input is exhausted, ctx is cancelled, or a server
// fails. Exhausted input and cancellation both return nil.
func (d *Daemon) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	d.started = time.Now()

	g, gctx := errgroup.WithContext(ctx)

	// Ingest. Returning, for any reason, stops everything else.
	g.Go(func() error {
		defer cancel()
		d.ingesting.Store(true)
		defer d.ingesting.Store(false)
		if err := d.engine.Run(gctx, d.source); err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		return nil
	})

	if d.cfg.MetricsEnabled {
		g.Go(func() error {
			return d.serve(gctx, "metrics", d.cfg.MetricsAddr, metricsHandler())
		})
	}

	if d.cfg.HealthAddr != "" {
		g.Go(func() error {
			return d.serve(gctx, "health", d.cfg.HealthAddr, d.healthHandler())
		})
	}

	if d.journal != nil && d.cfg.JanitorInterval > 0 {
		janitor := NewJanitor(d.journal, d.cfg.JanitorInterval, d.log)
		g.Go(func() error {
			return janitor.Run(gctx)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// serve runs an HTTP server until ctx is cancelled.
func (d *Daemon) serve(ctx context.Context, name, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		_ = srv.Close()
	}()

	d.log.Info().Str("addr", addr).Msgf("%s server started", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}
