package sink

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/address"
)

// Backend names accepted by New.
const (
	BackendIPSet    = "ipset"
	BackendNftables = "nftables"
	BackendRedis    = "redis"
)

// Options selects and configures a backend.
type Options struct {
	Backend string
	DryRun  bool
	Sets    address.ByFamily[string]

	NftFamily       string
	NftTable        string
	NftBatchSize    int
	NftBatchTimeout time.Duration

	RedisAddr      string
	RedisPassword  string
	RedisDB        int
	RedisKeyPrefix string

	// Runner overrides command execution for ipset and nftables.
	Runner Runner
}

// New builds the configured sink. In dry-run mode the backend is never
// constructed, so no commands run and no connections open.
func New(opts Options, log zerolog.Logger) (Sink, error) {
	switch opts.Backend {
	case BackendIPSet, BackendNftables, BackendRedis:
	default:
		return nil, fmt.Errorf("unknown sink backend %q", opts.Backend)
	}
	if opts.DryRun {
		return NewDryRun(opts.Backend, log), nil
	}

	switch opts.Backend {
	case BackendNftables:
		return NewNftables(NftablesConfig{
			Family:       opts.NftFamily,
			Table:        opts.NftTable,
			Sets:         opts.Sets,
			BatchSize:    opts.NftBatchSize,
			BatchTimeout: opts.NftBatchTimeout,
		}, opts.Runner, log), nil
	case BackendRedis:
		return NewRedis(RedisConfig{
			Addr:      opts.RedisAddr,
			Password:  opts.RedisPassword,
			DB:        opts.RedisDB,
			KeyPrefix: opts.RedisKeyPrefix,
			Sets:      opts.Sets,
		}, log)
	default:
		return NewIPSet(opts.Sets, opts.Runner, log), nil
	}
}
