package config

import (
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"

	"github.com/developingchet/leroy/internal/address"
)

// EnvPrefix is stripped from environment variable names before they are
// matched against config keys: LEROY_BL_THRESHOLD → bl_threshold.
const EnvPrefix = "LEROY_"

// Config holds all application configuration.
type Config struct {
	// Rate limiting
	Threshold int           `koanf:"bl_threshold"`
	Period    time.Duration `koanf:"bl_period"`

	// Ban escalation
	BaseTime      time.Duration `koanf:"ban_base_time"`
	RecidivismTTL time.Duration `koanf:"ban_recidivism_ttl"`
	SafetyMargin  time.Duration `koanf:"ban_safety_margin"`
	MaxTime       time.Duration `koanf:"ban_max_time"`

	// Cache sizing
	InitialCapacity int `koanf:"cache_initial_capacity"`
	MaxSize         int `koanf:"cache_max_size"`

	// Keying
	MaskV4    int      `koanf:"mask_v4"`
	MaskV6    int      `koanf:"mask_v6"`
	Allowlist []string `koanf:"allowlist"`

	// Ban sink
	DryRun          bool          `koanf:"dry_run"`
	Sink            string        `koanf:"sink"`
	IPv4SetName     string        `koanf:"ipv4_set_name"`
	IPv6SetName     string        `koanf:"ipv6_set_name"`
	NftTable        string        `koanf:"nft_table"`
	NftFamily       string        `koanf:"nft_family"`
	NftBatchSize    int           `koanf:"nft_batch_size"`
	NftBatchTimeout time.Duration `koanf:"nft_batch_timeout"`
	RedisAddr       string        `koanf:"redis_addr"`
	RedisPassword   string        `koanf:"redis_password"`
	RedisDB         int           `koanf:"redis_db"`
	RedisKeyPrefix  string        `koanf:"redis_key_prefix"`

	// Input
	InputFile         string `koanf:"input_file"`
	InputFromStart    bool   `koanf:"input_from_start"`
	InputMaxLineBytes int    `koanf:"input_max_line_bytes"`

	// Journal
	JournalDir      string        `koanf:"journal_dir"`
	JanitorInterval time.Duration `koanf:"janitor_interval"`

	// Operational
	ReportInterval     time.Duration `koanf:"report_interval"`
	LogLevel           string        `koanf:"log_level"`
	LogFormat          string        `koanf:"log_format"`
	LogRedactAddresses bool          `koanf:"log_redact_addresses"`
	MetricsEnabled     bool          `koanf:"metrics_enabled"`
	MetricsAddr        string        `koanf:"metrics_addr"`
	HealthAddr         string        `koanf:"health_addr"`
}

// ParseMask returns the configured key mask.
func (c *Config) ParseMask() (address.Mask, error) {
	return address.NewMask(c.MaskV4, c.MaskV6)
}

// ParseAllowlist returns the configured allowlist.
func (c *Config) ParseAllowlist() (*address.Allowlist, error) {
	return address.ParseAllowlist(c.Allowlist)
}

// SetNames returns the per-family set names shared by all sink backends.
func (c *Config) SetNames() address.ByFamily[string] {
	return address.ByFamily[string]{V4: c.IPv4SetName, V6: c.IPv6SetName}
}

// sanitise removes a single layer of matching surrounding quotes from all string
// fields and string slice elements. This normalises values from Docker --env-file
// which does not strip shell quoting.
func (c *Config) sanitise() {
	c.Sink = stripEnvQuotes(c.Sink)
	c.IPv4SetName = stripEnvQuotes(c.IPv4SetName)
	c.IPv6SetName = stripEnvQuotes(c.IPv6SetName)
	c.NftTable = stripEnvQuotes(c.NftTable)
	c.NftFamily = stripEnvQuotes(c.NftFamily)
	c.RedisAddr = stripEnvQuotes(c.RedisAddr)
	c.RedisPassword = stripEnvQuotes(c.RedisPassword)
	c.RedisKeyPrefix = stripEnvQuotes(c.RedisKeyPrefix)
	c.InputFile = stripEnvQuotes(c.InputFile)
	c.JournalDir = stripEnvQuotes(c.JournalDir)
	c.LogLevel = stripEnvQuotes(c.LogLevel)
	c.LogFormat = stripEnvQuotes(c.LogFormat)
	c.MetricsAddr = stripEnvQuotes(c.MetricsAddr)
	c.HealthAddr = stripEnvQuotes(c.HealthAddr)

	for i, s := range c.Allowlist {
		c.Allowlist[i] = stripEnvQuotes(s)
	}
}

// defaults sets sensible default values.
func defaults() map[string]interface{} {
	return map[string]interface{}{
		"bl_threshold":           10,
		"bl_period":              "5s",
		"ban_base_time":          "30s",
		"ban_recidivism_ttl":     "1h",
		"ban_safety_margin":      "1s",
		"ban_max_time":           "0s",
		"cache_initial_capacity": 100000,
		"cache_max_size":         500000,
		"mask_v4":                32,
		"mask_v6":                128,
		"allowlist":              "",
		"dry_run":                false,
		"sink":                   "ipset",
		"ipv4_set_name":          "leroy4",
		"ipv6_set_name":          "leroy6",
		"nft_table":              "leroyjenkins",
		"nft_family":             "inet",
		"nft_batch_size":         64,
		"nft_batch_timeout":      "1s",
		"redis_addr":             "localhost:6379",
		"redis_db":               0,
		"redis_key_prefix":       "leroy:",
		"input_file":             "",
		"input_from_start":       false,
		"input_max_line_bytes":   4096,
		"journal_dir":            "",
		"janitor_interval":       "1h",
		"report_interval":        "10s",
		"log_level":              "info",
		"log_format":             "json",
		"log_redact_addresses":   false,
		"metrics_enabled":        false,
		"metrics_addr":           ":9090",
		"health_addr":            "",
	}
}

// stripEnvQuotes removes a single layer of matching surrounding single or double
// quotes from s. This normalises values set via Docker --env-file, which does not
// strip shell quoting. Only symmetric pairs are stripped: 'x' → x, "x" → x.
// Unpaired or mismatched quotes are left as-is.
func stripEnvQuotes(s string) string {
	if len(s) < 2 {
		return s
	}
	if (s[0] == '\'' && s[len(s)-1] == '\'') ||
		(s[0] == '"' && s[len(s)-1] == '"') {
		return s[1 : len(s)-1]
	}
	return s
}

// Load reads configuration from LEROY_* environment variables, applying
// _FILE secret injection.
func Load() (*Config, error) {
	// "." as delimiter keeps env vars with "_" in their names flat:
	// LEROY_BL_THRESHOLD → "bl_threshold", no nesting.
	k := koanf.New(".")

	if err := k.Load(&rawProvider{data: defaults()}, nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", func(s string) string {
		return strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	if err := injectFileSecrets(k); err != nil {
		return nil, fmt.Errorf("inject file secrets: %w", err)
	}

	cfg := &Config{}
	if err := k.UnmarshalWithConf("", cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Post-process comma-separated list fields that koanf won't split automatically
	cfg.Allowlist = splitCSV(k.String("allowlist"))

	// Strip Docker env-file quoting from all string values
	cfg.sanitise()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks semantic constraints.
func (c *Config) Validate() error {
	if c.Threshold < 0 || uint64(c.Threshold) > math.MaxUint32 {
		return fmt.Errorf("LEROY_BL_THRESHOLD must be 0–%d; got %d", uint32(math.MaxUint32), c.Threshold)
	}
	if c.Threshold > 0 && c.Period <= 0 {
		return fmt.Errorf("LEROY_BL_PERIOD must be > 0 when LEROY_BL_THRESHOLD > 0; got %s", c.Period)
	}
	if c.BaseTime <= 0 {
		return fmt.Errorf("LEROY_BAN_BASE_TIME must be > 0; got %s", c.BaseTime)
	}
	if c.RecidivismTTL <= 0 {
		return fmt.Errorf("LEROY_BAN_RECIDIVISM_TTL must be > 0; got %s", c.RecidivismTTL)
	}
	if c.SafetyMargin < 0 {
		return fmt.Errorf("LEROY_BAN_SAFETY_MARGIN must be >= 0; got %s", c.SafetyMargin)
	}
	if c.MaxTime < 0 {
		return fmt.Errorf("LEROY_BAN_MAX_TIME must be >= 0; got %s", c.MaxTime)
	}
	if c.MaxTime > 0 && c.MaxTime < c.BaseTime {
		return fmt.Errorf("LEROY_BAN_MAX_TIME (%s) must not be below LEROY_BAN_BASE_TIME (%s)", c.MaxTime, c.BaseTime)
	}

	if c.InitialCapacity < 1 {
		return fmt.Errorf("LEROY_CACHE_INITIAL_CAPACITY must be >= 1; got %d", c.InitialCapacity)
	}
	if c.MaxSize < 0 {
		return fmt.Errorf("LEROY_CACHE_MAX_SIZE must be >= 0; got %d", c.MaxSize)
	}

	if _, err := c.ParseMask(); err != nil {
		return fmt.Errorf("LEROY_MASK_V4/LEROY_MASK_V6: %w", err)
	}
	if _, err := c.ParseAllowlist(); err != nil {
		return fmt.Errorf("LEROY_ALLOWLIST: %w", err)
	}

	validSinks := map[string]bool{"ipset": true, "nftables": true, "redis": true}
	if !validSinks[c.Sink] {
		return fmt.Errorf("LEROY_SINK must be ipset, nftables, or redis; got %q", c.Sink)
	}
	if c.IPv4SetName == "" || c.IPv6SetName == "" {
		return fmt.Errorf("LEROY_IPV4_SET_NAME and LEROY_IPV6_SET_NAME must not be empty")
	}
	if c.Sink == "nftables" {
		validFamilies := map[string]bool{"inet": true, "ip": true, "ip6": true}
		if !validFamilies[c.NftFamily] {
			return fmt.Errorf("LEROY_NFT_FAMILY must be inet, ip, or ip6; got %q", c.NftFamily)
		}
		if c.NftTable == "" {
			return fmt.Errorf("LEROY_NFT_TABLE is required for the nftables sink")
		}
		if c.NftBatchSize < 1 {
			return fmt.Errorf("LEROY_NFT_BATCH_SIZE must be >= 1; got %d", c.NftBatchSize)
		}
	}
	if c.Sink == "redis" && c.RedisAddr == "" {
		return fmt.Errorf("LEROY_REDIS_ADDR is required for the redis sink")
	}

	if c.InputMaxLineBytes < 64 {
		return fmt.Errorf("LEROY_INPUT_MAX_LINE_BYTES must be >= 64; got %d", c.InputMaxLineBytes)
	}
	if c.ReportInterval < 0 {
		return fmt.Errorf("LEROY_REPORT_INTERVAL must be >= 0; got %s", c.ReportInterval)
	}
	if c.JournalDir != "" && c.JanitorInterval <= 0 {
		return fmt.Errorf("LEROY_JANITOR_INTERVAL must be > 0; got %s", c.JanitorInterval)
	}

	validLogLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LEROY_LOG_LEVEL must be one of trace,debug,info,warn,error,fatal,panic; got %q", c.LogLevel)
	}
	if c.LogFormat != "json" && c.LogFormat != "text" {
		return fmt.Errorf("LEROY_LOG_FORMAT must be json or text; got %q", c.LogFormat)
	}

	return nil
}

// fileSecretKeys lists keys whose value may come from a file named by the
// matching _FILE variable, e.g. LEROY_REDIS_PASSWORD_FILE.
var fileSecretKeys = []string{
	"redis_password",
}

func injectFileSecrets(k *koanf.Koanf) error {
	for _, key := range fileSecretKeys {
		filePath := k.String(key + "_file")
		if filePath == "" {
			continue
		}
		// Strip quotes from file path in case it was quoted in Docker --env-file
		filePath = stripEnvQuotes(filePath)
		content, err := os.ReadFile(filePath)
		if err != nil {
			return fmt.Errorf("reading secret file for %s (%s): %w", key, filePath, err)
		}
		val := strings.TrimSpace(string(content))
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("setting %s from file: %w", key, err)
		}
	}
	return nil
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}

// rawProvider implements koanf.Provider for a map[string]interface{}.
type rawProvider struct {
	data map[string]interface{}
}

// Read returns the config map directly (no Parser needed).
func (r *rawProvider) Read() (map[string]interface{}, error) {
	return r.data, nil
}

// ReadBytes is not used by rawProvider; koanf calls Read() when no Parser is given.
func (r *rawProvider) ReadBytes() ([]byte, error) {
	return nil, fmt.Errorf("rawProvider does not support ReadBytes")
}
