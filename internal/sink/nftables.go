package sink

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/developingchet/leroy/internal/address"
	"github.com/rs/zerolog"
)

// NftablesConfig names the table and per-family sets bans are added to.
type NftablesConfig struct {
	Family       string // nft table family: inet, ip or ip6
	Table        string
	Sets         address.ByFamily[string]
	BatchSize    int
	BatchTimeout time.Duration
}

type pendingElem struct {
	key     string
	timeout int64
}

// Nftables adds banned keys to nftables sets. Elements are queued and
// written in one `nft add element` call per set once BatchSize is reached
// or BatchTimeout has passed since the first queued element. Sets must
// carry the timeout flag:
//
//	nft add set inet leroyjenkins leroy4 '{ type ipv4_addr; flags interval, timeout; }'
type Nftables struct {
	cfg NftablesConfig
	run Runner
	log zerolog.Logger

	mu      sync.Mutex
	pending address.ByFamily[[]pendingElem]
	timer   *time.Timer
	closed  bool
}

// NewNftables returns an nftables backend. A nil run uses ExecRunner.
func NewNftables(cfg NftablesConfig, run Runner, log zerolog.Logger) *Nftables {
	if run == nil {
		run = ExecRunner{}
	}
	if cfg.BatchSize < 1 {
		cfg.BatchSize = 1
	}
	return &Nftables{
		cfg: cfg,
		run: run,
		log: log.With().Str("component", "sink").Str("backend", "nftables").Logger(),
	}
}

func (n *Nftables) VerifyTargets(ctx context.Context) error {
	var firstErr error
	n.cfg.Sets.Each(func(f address.Family, name string) {
		if firstErr != nil {
			return
		}
		if _, err := n.run.Run(ctx, "nft", "list", "set", n.cfg.Family, n.cfg.Table, name); err != nil {
			firstErr = fmt.Errorf("%w: nft set %s %s %s (%s): %v", ErrTargetMissing, n.cfg.Family, n.cfg.Table, name, f, err)
			return
		}
		n.log.Debug().Str("table", n.cfg.Table).Str("set", name).Str("family", f.String()).Msg("nftables set verified")
	})
	return firstErr
}

// ApplyBan queues b. The error reports a failed size-triggered flush;
// flushes triggered by the batch timer are logged instead.
func (n *Nftables) ApplyBan(ctx context.Context, b Ban) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return fmt.Errorf("nftables sink closed")
	}

	elem := pendingElem{key: b.Key.String(), timeout: timeoutSeconds(b.Duration, 1<<31-1)}
	if b.Family() == address.V4 {
		n.pending.V4 = append(n.pending.V4, elem)
	} else {
		n.pending.V6 = append(n.pending.V6, elem)
	}

	if len(n.pending.V4)+len(n.pending.V6) >= n.cfg.BatchSize {
		return n.flushLocked(ctx)
	}
	n.scheduleLocked()
	return nil
}

// scheduleLocked starts the age timer for the current batch if none is
// running. Unlike a debounce, later bans do not push the deadline back.
func (n *Nftables) scheduleLocked() {
	if n.timer != nil || n.cfg.BatchTimeout <= 0 {
		return
	}
	var t *time.Timer
	t = time.AfterFunc(n.cfg.BatchTimeout, func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		if n.timer != t {
			return // batch already flushed by size or Close
		}
		if err := n.flushLocked(context.Background()); err != nil {
			n.log.Error().Err(err).Msg("nftables batch flush failed")
		}
	})
	n.timer = t
}

func (n *Nftables) flushLocked(ctx context.Context) error {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
	batch := n.pending
	n.pending = address.ByFamily[[]pendingElem]{}

	var firstErr error
	batch.Each(func(f address.Family, elems []pendingElem) {
		if len(elems) == 0 {
			return
		}
		if err := n.addElements(ctx, n.cfg.Sets.Get(f), elems); err != nil && firstErr == nil {
			firstErr = err
		}
	})
	return firstErr
}

func (n *Nftables) addElements(ctx context.Context, set string, elems []pendingElem) (err error) {
	start := time.Now()
	defer func() { observe("nftables", start, err) }()

	parts := make([]string, len(elems))
	for i, e := range elems {
		parts[i] = fmt.Sprintf("%s timeout %ds", e.key, e.timeout)
	}
	elements := "{ " + strings.Join(parts, ", ") + " }"

	if _, err = n.run.Run(ctx, "nft", "add", "element", n.cfg.Family, n.cfg.Table, set, elements); err != nil {
		return fmt.Errorf("nft add %d elements to %s: %w", len(elems), set, err)
	}
	ev := n.log.Info().Str("set", set).Int("count", len(elems))
	if len(elems) < 5 {
		keys := make([]string, len(elems))
		for i, e := range elems {
			keys[i] = e.key
		}
		ev = ev.Strs("keys", keys)
	}
	ev.Msg("nftables batch flushed")
	return nil
}

// Close flushes the pending batch. Further bans are rejected.
func (n *Nftables) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return nil
	}
	n.closed = true
	return n.flushLocked(context.Background())
}
