package tiercache

import (
	"io/fs"
	"time"

	"github.com/jmgilman/go/errors"
	"github.com/jmgilman/go/fs/core"
	"github.com/jmgilman/go/tiercache/internal/eviction"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	DefaultTTL                 = 60 * time.Minute
	DefaultSpillThreshold      = 1 << 20
	DefaultMaxSizeBytes        = 64 << 20
	DefaultMaxEntries          = 10000
	DefaultMaintenanceInterval = 5 * time.Minute
	DefaultPreloadConcurrency  = 4
)

// Config holds the tunable behavior of a Cache.
// Zero values are replaced by defaults in SetDefaults, so a partially filled
// config (or YAML file) is valid.
type Config struct {
	// DefaultTTL is applied to entries written without an explicit TTL and to
	// entries recovered from disk, counted from the file's modification time.
	DefaultTTL time.Duration `yaml:"default_ttl"`
	// SpillThreshold is the serialized size above which values are written to disk.
	// A negative threshold spills every value.
	SpillThreshold int64 `yaml:"spill_threshold"`
	// MaxSizeBytes is the aggregate serialized size budget.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
	// MaxEntries is the entry count budget.
	MaxEntries int `yaml:"max_entries"`
	// MaintenanceInterval is the period of the background maintenance run.
	// A negative interval disables the scheduler.
	MaintenanceInterval time.Duration `yaml:"maintenance_interval"`
	// PreloadConcurrency bounds the number of concurrent loads in Preload.
	PreloadConcurrency int `yaml:"preload_concurrency"`
	// VerifyChecksums compares the digest of every loaded file against the
	// digest recorded when it was written. Off by default.
	VerifyChecksums bool `yaml:"verify_checksums"`
	// ReleaseReloaded drops a lazily loaded value from memory again after it
	// has been served, instead of keeping it resident.
	ReleaseReloaded bool `yaml:"release_reloaded"`
	// Eviction names the eviction strategy: "frequency-recency" or "lru".
	Eviction string `yaml:"eviction"`
}

// DefaultConfig returns a config with every field set to its default.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults applies default values to unset fields in the configuration.
func (c *Config) SetDefaults() {
	if c.DefaultTTL == 0 {
		c.DefaultTTL = DefaultTTL
	}
	if c.SpillThreshold == 0 {
		c.SpillThreshold = DefaultSpillThreshold
	}
	if c.MaxSizeBytes == 0 {
		c.MaxSizeBytes = DefaultMaxSizeBytes
	}
	if c.MaxEntries == 0 {
		c.MaxEntries = DefaultMaxEntries
	}
	if c.MaintenanceInterval == 0 {
		c.MaintenanceInterval = DefaultMaintenanceInterval
	}
	if c.PreloadConcurrency == 0 {
		c.PreloadConcurrency = DefaultPreloadConcurrency
	}
	if c.Eviction == "" {
		c.Eviction = eviction.NameFrequencyRecency
	}
}

// Validate checks that the cache configuration is valid.
func (c *Config) Validate() error {
	if c.DefaultTTL <= 0 {
		return errors.New(errors.CodeInvalidConfig, "default TTL must be greater than 0")
	}
	if c.MaxSizeBytes <= 0 {
		return errors.New(errors.CodeInvalidConfig, "max size must be greater than 0")
	}
	if c.MaxEntries <= 0 {
		return errors.New(errors.CodeInvalidConfig, "max entries must be greater than 0")
	}
	if c.PreloadConcurrency <= 0 {
		return errors.New(errors.CodeInvalidConfig, "preload concurrency must be greater than 0")
	}
	if _, err := eviction.ByName(c.Eviction); err != nil {
		return err
	}
	return nil
}

// LoadConfig reads a YAML config file from fsys.
// Durations use Go duration syntax ("90s", "1h30m"). Missing fields keep
// their defaults. The result is validated.
//
// Example:
//
//	cfg, err := tiercache.LoadConfig(billy.NewLocal(), "/etc/app/cache.yaml")
//	c, err := tiercache.New[Result]("/var/cache/app", nil, tiercache.WithConfig(cfg))
func LoadConfig(fsys core.ReadFS, path string) (Config, error) {
	data, err := fsys.ReadFile(path)
	if err != nil {
		code := errors.CodeUnavailable
		if errors.Is(err, fs.ErrNotExist) {
			code = errors.CodeNotFound
		}
		return Config{}, errors.Wrapf(err, code, "failed to read cache config %q", path)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "failed to parse cache config %q", path)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, errors.Wrapf(err, errors.CodeInvalidConfig, "invalid cache config %q", path)
	}

	return cfg, nil
}
