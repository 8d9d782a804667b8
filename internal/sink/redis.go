package sink

import (
	"context"
	"fmt"
	"strconv"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/developingchet/leroy/internal/address"
)

// RedisConfig configures the shared ban list backend.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// KeyPrefix is prepended to every ban key.
	KeyPrefix string
	// Sets names the per-family namespace, mirroring the ipset set names.
	Sets address.ByFamily[string]
}

// Redis publishes bans as expiring keys, <prefix><set>:<key>, holding the
// recidivism count. Edge proxies sharing the instance can check a client
// address with EXISTS.
type Redis struct {
	cfg    RedisConfig
	client *redis.Client
	log    zerolog.Logger
}

func NewRedis(cfg RedisConfig, log zerolog.Logger) (*Redis, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return &Redis{
		cfg:    cfg,
		client: client,
		log:    log.With().Str("component", "sink").Str("backend", "redis").Logger(),
	}, nil
}

// VerifyTargets pings the server. Redis keys need no provisioning.
func (r *Redis) VerifyTargets(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: redis at %s: %v", ErrTargetMissing, r.cfg.Addr, err)
	}
	r.log.Debug().Str("addr", r.cfg.Addr).Msg("redis reachable")
	return nil
}

func (r *Redis) ApplyBan(ctx context.Context, b Ban) (err error) {
	start := time.Now()
	defer func() { observe("redis", start, err) }()

	key := r.KeyFor(b)
	val := strconv.FormatUint(uint64(b.Recidivism), 10)
	if err = r.client.Set(ctx, key, val, b.Duration).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// KeyFor returns the redis key a ban is stored under.
func (r *Redis) KeyFor(b Ban) string {
	return r.cfg.KeyPrefix + r.cfg.Sets.Get(b.Family()) + ":" + b.Key.String()
}

func (r *Redis) Close() error {
	return r.client.Close()
}
