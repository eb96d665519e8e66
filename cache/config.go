package cache

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-query-cache/internal/cacheinfra"
)

// Backend drivers understood by NewStore.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
)

// Config is the top level configuration of the cache layer.
type Config struct {
	// Disabled turns every cache operation into a pass-through.
	Disabled bool `yaml:"disabled"`

	// Preset names the defaults entity settings are merged over: "strict" or "relaxed".
	Preset string `yaml:"preset"`

	// DefaultTTL is the global fallback used when neither the caller nor the
	// entity settings give one. Zero keeps DefaultTTL.
	DefaultTTL Duration `yaml:"default_ttl"`

	// Backends are the named stores entity settings refer to.
	Backends map[string]BackendConfig `yaml:"backends"`

	// Entities holds per entity overrides, keyed by entity type.
	Entities map[string]EntitySettings `yaml:"entities"`
}

// BackendConfig configures a single named store.
type BackendConfig struct {
	Driver string `yaml:"driver"`

	// memory driver
	Capacity             int                 `yaml:"capacity"`
	NumShards            int                 `yaml:"num_shards"`
	TTL                  Duration            `yaml:"ttl"`
	EvictionPercentage   int                 `yaml:"eviction_percentage"`
	EarlyRefresh         *EarlyRefreshConfig `yaml:"early_refresh"`
	MissingRecordStorage bool                `yaml:"missing_record_storage"`
	EvictionInterval     Duration            `yaml:"eviction_interval"`

	// redis driver
	Redis *RedisConfig `yaml:"redis"`
}

// EarlyRefreshConfig mirrors the underlying sturdyc early refresh options.
type EarlyRefreshConfig struct {
	MinAsyncRefreshTime Duration `yaml:"min_async_refresh_time"`
	MaxAsyncRefreshTime Duration `yaml:"max_async_refresh_time"`
	SyncRefreshTime     Duration `yaml:"sync_refresh_time"`
	RetryBaseDelay      Duration `yaml:"retry_base_delay"`
}

// RedisConfig holds the connection settings of a redis backend.
type RedisConfig struct {
	Addr      string `yaml:"addr"`
	Password  string `yaml:"password"`
	DB        int    `yaml:"db"`
	KeyPrefix string `yaml:"key_prefix"`
}

// DefaultConfig returns a Config with the strict preset and a single in-memory backend.
func DefaultConfig() Config {
	return Config{
		Preset: PresetNameStrict,
		Backends: map[string]BackendConfig{
			DefaultBackend: DefaultBackendConfig(),
		},
	}
}

// DefaultBackendConfig returns the in-memory backend defaults.
func DefaultBackendConfig() BackendConfig {
	cfg := convertFromInternal(cacheinfra.DefaultConfig())
	cfg.Driver = DriverMemory
	return cfg
}

// LoadConfig decodes YAML from r on top of DefaultConfig.
func LoadConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("cache: decode config: %w", err)
	}
	for name, backend := range cfg.Backends {
		cfg.Backends[name] = backend.withDefaults()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfigFile reads the YAML configuration at path.
func LoadConfigFile(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("cache: open config: %w", err)
	}
	defer f.Close()
	return LoadConfig(f)
}

// Validate checks the preset, every backend and every entity override.
func (c Config) Validate() error {
	defaults, err := Preset(c.Preset)
	if err != nil {
		return err
	}
	if c.DefaultTTL < 0 {
		return &ConfigurationError{Field: "DefaultTTL", Message: "must be non-negative"}
	}

	for _, name := range c.backendNames() {
		if err := c.Backends[name].Validate(); err != nil {
			return &ConfigurationError{Field: "Backends." + name, Err: err}
		}
	}

	for entity, settings := range c.Entities {
		merged := Merge(defaults, settings)
		if err := merged.Validate(); err != nil {
			return &ConfigurationError{Entity: EntityType(entity), Message: "invalid settings", Err: err}
		}
		if _, ok := c.Backends[merged.Backend]; !ok {
			return &ConfigurationError{Entity: EntityType(entity), Field: "Backend", Message: fmt.Sprintf("%q", merged.Backend), Err: ErrUnknownBackend}
		}
	}
	return nil
}

// Validate checks the driver specific settings.
func (b BackendConfig) Validate() error {
	switch b.Driver {
	case "", DriverMemory:
		return b.toInternal().Validate()
	case DriverRedis:
		if b.Redis == nil {
			return &ConfigurationError{Field: "Redis", Message: "required for the redis driver"}
		}
		return b.toInternalRedis().Validate()
	default:
		return &ConfigurationError{Field: "Driver", Message: fmt.Sprintf("unknown driver %q", b.Driver)}
	}
}

// NewStore constructs the store described by cfg.
func NewStore(cfg BackendConfig) (Store, error) {
	switch cfg.Driver {
	case "", DriverMemory:
		store, err := cacheinfra.NewSturdycStore(cfg.toInternal())
		if err != nil {
			return nil, err
		}
		return store, nil
	case DriverRedis:
		if cfg.Redis == nil {
			return nil, &ConfigurationError{Field: "Redis", Message: "required for the redis driver"}
		}
		store, err := cacheinfra.NewRedisStore(cfg.toInternalRedis())
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, &ConfigurationError{Field: "Driver", Message: fmt.Sprintf("unknown driver %q", cfg.Driver)}
	}
}

// BuildPool creates a Pool holding a store for every configured backend.
func (c Config) BuildPool() (*Pool, error) {
	pool := NewPool()
	for _, name := range c.backendNames() {
		store, err := NewStore(c.Backends[name])
		if err != nil {
			return nil, &ConfigurationError{Field: "Backends." + name, Err: err}
		}
		pool.Register(name, store)
	}
	return pool, nil
}

// BuildRegistry creates a Registry over the configured preset and registers every entity override.
func (c Config) BuildRegistry() (*Registry, error) {
	defaults, err := Preset(c.Preset)
	if err != nil {
		return nil, err
	}
	if c.DefaultTTL > 0 {
		defaults.TTL = c.DefaultTTL
	}
	registry := NewRegistry(defaults)
	for entity, settings := range c.Entities {
		if err := registry.Register(EntityType(entity), settings); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func (c Config) backendNames() []string {
	names := make([]string, 0, len(c.Backends))
	for name := range c.Backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// withDefaults fills memory driver fields a partial YAML block left at zero.
func (b BackendConfig) withDefaults() BackendConfig {
	if b.Driver != "" && b.Driver != DriverMemory {
		return b
	}
	def := DefaultBackendConfig()
	if b.Driver == "" {
		b.Driver = DriverMemory
	}
	if b.Capacity == 0 {
		b.Capacity = def.Capacity
	}
	if b.NumShards == 0 {
		b.NumShards = def.NumShards
	}
	if b.TTL == 0 {
		b.TTL = def.TTL
	}
	if b.EvictionPercentage == 0 {
		b.EvictionPercentage = def.EvictionPercentage
	}
	return b
}

func (b BackendConfig) toInternal() cacheinfra.Config {
	var early *cacheinfra.EarlyRefreshConfig
	if b.EarlyRefresh != nil {
		early = &cacheinfra.EarlyRefreshConfig{
			MinAsyncRefreshTime: b.EarlyRefresh.MinAsyncRefreshTime.Std(),
			MaxAsyncRefreshTime: b.EarlyRefresh.MaxAsyncRefreshTime.Std(),
			SyncRefreshTime:     b.EarlyRefresh.SyncRefreshTime.Std(),
			RetryBaseDelay:      b.EarlyRefresh.RetryBaseDelay.Std(),
		}
	}

	return cacheinfra.Config{
		Capacity:             b.Capacity,
		NumShards:            b.NumShards,
		TTL:                  b.TTL.Std(),
		EvictionPercentage:   b.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: b.MissingRecordStorage,
		EvictionInterval:     b.EvictionInterval.Std(),
	}
}

func (b BackendConfig) toInternalRedis() cacheinfra.RedisConfig {
	return cacheinfra.RedisConfig{
		Addr:       b.Redis.Addr,
		Password:   b.Redis.Password,
		DB:         b.Redis.DB,
		KeyPrefix:  b.Redis.KeyPrefix,
		DefaultTTL: b.TTL.Std(),
	}
}

func convertFromInternal(cfg cacheinfra.Config) BackendConfig {
	var early *EarlyRefreshConfig
	if cfg.EarlyRefresh != nil {
		early = &EarlyRefreshConfig{
			MinAsyncRefreshTime: Duration(cfg.EarlyRefresh.MinAsyncRefreshTime),
			MaxAsyncRefreshTime: Duration(cfg.EarlyRefresh.MaxAsyncRefreshTime),
			SyncRefreshTime:     Duration(cfg.EarlyRefresh.SyncRefreshTime),
			RetryBaseDelay:      Duration(cfg.EarlyRefresh.RetryBaseDelay),
		}
	}

	return BackendConfig{
		Capacity:             cfg.Capacity,
		NumShards:            cfg.NumShards,
		TTL:                  Duration(cfg.TTL),
		EvictionPercentage:   cfg.EvictionPercentage,
		EarlyRefresh:         early,
		MissingRecordStorage: cfg.MissingRecordStorage,
		EvictionInterval:     Duration(cfg.EvictionInterval),
	}
}
