package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/developingchet/leroy/internal/address"
	"github.com/rs/zerolog"
)

const ipsetMaxTimeout = 2147483

// IPSet adds banned keys to one ipset per address family. The sets must
// already exist and be created with timeout support, for example:
//
//	ipset create leroy4 hash:net family inet timeout 0
//	ipset create leroy6 hash:net family inet6 timeout 0
type IPSet struct {
	sets address.ByFamily[string]
	run  Runner
	log  zerolog.Logger
}

// NewIPSet returns an ipset backend. A nil run uses ExecRunner.
func NewIPSet(sets address.ByFamily[string], run Runner, log zerolog.Logger) *IPSet {
	if run == nil {
		run = ExecRunner{}
	}
	return &IPSet{
		sets: sets,
		run:  run,
		log:  log.With().Str("component", "sink").Str("backend", "ipset").Logger(),
	}
}

func (s *IPSet) VerifyTargets(ctx context.Context) error {
	var firstErr error
	s.sets.Each(func(f address.Family, name string) {
		if firstErr != nil {
			return
		}
		if _, err := s.run.Run(ctx, "ipset", "list", "-name", name); err != nil {
			firstErr = fmt.Errorf("%w: ipset %s (%s): %v", ErrTargetMissing, name, f, err)
			return
		}
		s.log.Debug().Str("set", name).Str("family", f.String()).Msg("ipset verified")
	})
	return firstErr
}

func (s *IPSet) ApplyBan(ctx context.Context, b Ban) (err error) {
	start := time.Now()
	defer func() { observe("ipset", start, err) }()

	set := s.sets.Get(b.Family())
	timeout := strconv.FormatInt(timeoutSeconds(b.Duration, ipsetMaxTimeout), 10)
	if _, err = s.run.Run(ctx, "ipset", "-exist", "add", set, b.Key.String(), "timeout", timeout); err != nil {
		return fmt.Errorf("ipset add %s to %s: %w", b.Key, set, err)
	}
	return nil
}

func (s *IPSet) Close() error { return nil }
