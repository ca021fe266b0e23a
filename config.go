package jtable

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/tailscale/hujson"
)

// ConfigFileName is the optional per-table config file, looked up in the
// table directory at Open. The file is HuJSON, so comments and trailing
// commas are allowed.
const ConfigFileName = "jtable.json"

// Config holds all table tuning knobs. Zero values mean "use the default".
type Config struct {
	// ShardCapacity is the maximum record count per shard file.
	// Default: 2500.
	ShardCapacity int

	// CacheMaxEntries bounds how many decoded shards stay in memory.
	// Default: 64.
	CacheMaxEntries int

	// CacheMaxBytes bounds the estimated memory of decoded shards.
	// Default: 64 MiB.
	CacheMaxBytes int64

	// CacheMaxAge expires decoded shards idle for this long. Default: 5m.
	CacheMaxAge time.Duration

	// SweepInterval is how often the cache age sweep runs. Default: 1m.
	SweepInterval time.Duration

	// WriteBatchSize is the write queue drain batch size. Default: 32.
	WriteBatchSize int

	// IndexFields are secondary indices built at open.
	IndexFields []string

	// Logger receives structured events (corrupt shards, persistence
	// failures, cache evictions). Default: discard.
	Logger *slog.Logger
}

// DefaultConfig returns the default table configuration.
func DefaultConfig() Config {
	return Config{
		ShardCapacity:   2500,
		CacheMaxEntries: 64,
		CacheMaxBytes:   64 << 20,
		CacheMaxAge:     5 * time.Minute,
		SweepInterval:   time.Minute,
		WriteBatchSize:  32,
	}
}

// Option overrides one Config field at Open. Options win over both the
// defaults and the per-table config file.
type Option func(*Config)

// WithShardCapacity sets the maximum record count per shard file.
func WithShardCapacity(capacity int) Option {
	return func(c *Config) { c.ShardCapacity = capacity }
}

// WithCacheLimits bounds the shard cache by entry count and estimated bytes.
func WithCacheLimits(maxEntries int, maxBytes int64) Option {
	return func(c *Config) {
		c.CacheMaxEntries = maxEntries
		c.CacheMaxBytes = maxBytes
	}
}

// WithCacheMaxAge sets the idle age after which cached shards expire.
func WithCacheMaxAge(age time.Duration) Option {
	return func(c *Config) { c.CacheMaxAge = age }
}

// WithSweepInterval sets how often the cache age sweep runs.
func WithSweepInterval(interval time.Duration) Option {
	return func(c *Config) { c.SweepInterval = interval }
}

// WithWriteBatchSize sets the write queue drain batch size.
func WithWriteBatchSize(size int) Option {
	return func(c *Config) { c.WriteBatchSize = size }
}

// WithIndexFields sets the secondary indices built at open.
func WithIndexFields(fields ...string) Option {
	return func(c *Config) { c.IndexFields = fields }
}

// WithLogger injects the structured logger used by all table components.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// fileConfig is the on-disk shape of the per-table config file. Durations
// are whole seconds so the file stays plain JSON numbers.
type fileConfig struct {
	ShardCapacity    *int     `json:"shard_capacity"`     //nolint:tagliatelle // snake_case for config file
	CacheMaxEntries  *int     `json:"cache_max_entries"`  //nolint:tagliatelle // snake_case for config file
	CacheMaxBytes    *int64   `json:"cache_max_bytes"`    //nolint:tagliatelle // snake_case for config file
	CacheMaxAgeSec   *int     `json:"cache_max_age_sec"`  //nolint:tagliatelle // snake_case for config file
	SweepIntervalSec *int     `json:"sweep_interval_sec"` //nolint:tagliatelle // snake_case for config file
	WriteBatchSize   *int     `json:"write_batch_size"`   //nolint:tagliatelle // snake_case for config file
	IndexFields      []string `json:"index_fields"`       //nolint:tagliatelle // snake_case for config file
}

// loadConfig resolves the effective Config for a table directory:
// defaults, then the config file (if present), then explicit options.
func loadConfig(dir string, opts []Option) (Config, error) {
	cfg := DefaultConfig()

	fileCfg, loaded, err := loadConfigFile(filepath.Join(dir, ConfigFileName))
	if err != nil {
		return Config{}, err
	}

	if loaded {
		mergeFileConfig(&cfg, fileCfg)
	}

	for _, opt := range opts {
		opt(&cfg)
	}

	applyConfigDefaults(&cfg)

	validateErr := validateConfig(cfg)
	if validateErr != nil {
		return Config{}, validateErr
	}

	return cfg, nil
}

// loadConfigFile reads and parses a HuJSON config file. A missing file is
// not an error; the second result reports whether a file was loaded.
func loadConfigFile(path string) (fileConfig, bool, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path is constructed from the table dir
	if err != nil {
		if os.IsNotExist(err) {
			return fileConfig{}, false, nil
		}

		return fileConfig{}, false, fmt.Errorf("%w: %s: %w", errConfigFileRead, path, err)
	}

	standardized, err := hujson.Standardize(data)
	if err != nil {
		return fileConfig{}, false, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, err)
	}

	var cfg fileConfig

	unmarshalErr := json.Unmarshal(standardized, &cfg)
	if unmarshalErr != nil {
		return fileConfig{}, false, fmt.Errorf("%w: %s: %w", errConfigInvalid, path, unmarshalErr)
	}

	return cfg, true, nil
}

// mergeFileConfig applies the fields the file actually set.
func mergeFileConfig(cfg *Config, file fileConfig) {
	if file.ShardCapacity != nil {
		cfg.ShardCapacity = *file.ShardCapacity
	}

	if file.CacheMaxEntries != nil {
		cfg.CacheMaxEntries = *file.CacheMaxEntries
	}

	if file.CacheMaxBytes != nil {
		cfg.CacheMaxBytes = *file.CacheMaxBytes
	}

	if file.CacheMaxAgeSec != nil {
		cfg.CacheMaxAge = time.Duration(*file.CacheMaxAgeSec) * time.Second
	}

	if file.SweepIntervalSec != nil {
		cfg.SweepInterval = time.Duration(*file.SweepIntervalSec) * time.Second
	}

	if file.WriteBatchSize != nil {
		cfg.WriteBatchSize = *file.WriteBatchSize
	}

	if len(file.IndexFields) > 0 {
		cfg.IndexFields = file.IndexFields
	}
}

// applyConfigDefaults fills zero values left after merging so callers can
// zero out single fields in options without losing the defaults.
func applyConfigDefaults(cfg *Config) {
	defaults := DefaultConfig()

	if cfg.ShardCapacity == 0 {
		cfg.ShardCapacity = defaults.ShardCapacity
	}

	if cfg.CacheMaxEntries == 0 {
		cfg.CacheMaxEntries = defaults.CacheMaxEntries
	}

	if cfg.CacheMaxBytes == 0 {
		cfg.CacheMaxBytes = defaults.CacheMaxBytes
	}

	if cfg.CacheMaxAge == 0 {
		cfg.CacheMaxAge = defaults.CacheMaxAge
	}

	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = defaults.SweepInterval
	}

	if cfg.WriteBatchSize == 0 {
		cfg.WriteBatchSize = defaults.WriteBatchSize
	}

	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.DiscardHandler)
	}
}

func validateConfig(cfg Config) error {
	if cfg.ShardCapacity < 0 {
		return errShardCapacityInvalid
	}

	if cfg.CacheMaxEntries < 0 || cfg.CacheMaxBytes < 0 {
		return errCacheLimitsInvalid
	}

	if cfg.WriteBatchSize < 0 {
		return errWriteBatchSizeInvalid
	}

	return nil
}
