package di

import (
	"fmt"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/goliatone/go-query-cache/cache"
	"github.com/goliatone/go-query-cache/querycache"
	"github.com/goliatone/go-query-cache/repositorycache"
)

// Container wires the cache layer from a cache.Config: the backend pool, the
// entity registry and the query cache engine shared by every cached repository.
type Container struct {
	config   cache.Config
	pool     *cache.Pool
	registry *cache.Registry
	engine   *querycache.Engine
	metrics  *querycache.Metrics
	logger   *zap.Logger
}

// Option configures a Container.
type Option func(*containerOptions)

type containerOptions struct {
	logger     *zap.Logger
	registerer prometheus.Registerer
	namespace  string
}

// WithLogger sets the logger handed to the engine.
func WithLogger(logger *zap.Logger) Option {
	return func(o *containerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics registers the engine collectors with reg under namespace.
func WithMetrics(reg prometheus.Registerer, namespace string) Option {
	return func(o *containerOptions) {
		o.registerer = reg
		o.namespace = namespace
	}
}

// NewContainer builds the backends, the registry and the engine described by config.
func NewContainer(config cache.Config, opts ...Option) (*Container, error) {
	o := containerOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	pool, err := config.BuildPool()
	if err != nil {
		return nil, err
	}
	registry, err := config.BuildRegistry()
	if err != nil {
		return nil, err
	}

	var metrics *querycache.Metrics
	if o.registerer != nil {
		metrics = querycache.NewMetrics(o.namespace, o.registerer)
	}

	engineOpts := []querycache.Option{
		querycache.WithLogger(o.logger),
		querycache.WithDisabled(config.Disabled),
		querycache.WithMetrics(metrics),
	}
	if ttl := config.DefaultTTL.Std(); ttl > 0 {
		engineOpts = append(engineOpts, querycache.WithDefaultTTL(ttl))
	}

	return &Container{
		config:   config,
		pool:     pool,
		registry: registry,
		engine:   querycache.New(registry, pool, engineOpts...),
		metrics:  metrics,
		logger:   o.logger,
	}, nil
}

// NewContainerWithDefaults creates a container from cache.DefaultConfig.
func NewContainerWithDefaults(opts ...Option) (*Container, error) {
	return NewContainer(cache.DefaultConfig(), opts...)
}

// NewContainerFromFile creates a container from the YAML configuration at path.
func NewContainerFromFile(path string, opts ...Option) (*Container, error) {
	config, err := cache.LoadConfigFile(path)
	if err != nil {
		return nil, err
	}
	return NewContainer(config, opts...)
}

// Config returns a copy of the configuration the container was built from.
func (c *Container) Config() cache.Config {
	return c.config
}

func (c *Container) Pool() *cache.Pool { return c.pool }

func (c *Container) Registry() *cache.Registry { return c.registry }

func (c *Container) Engine() *querycache.Engine { return c.engine }

// Metrics returns nil unless WithMetrics was given.
func (c *Container) Metrics() *querycache.Metrics { return c.metrics }

func (c *Container) Logger() *zap.Logger { return c.logger }

// NewBehavior starts a unit of work on the container engine.
func (c *Container) NewBehavior() *querycache.Behavior {
	return c.engine.NewBehavior()
}

// IsolateBackend gives entity a memory backend of its own, named after the
// plural of the entity, so clearing it leaves other entities alone. The
// backend is created from the default backend settings when the configuration
// does not declare one with that name.
func (c *Container) IsolateBackend(entity cache.EntityType) (string, error) {
	name := repositorycache.Namespace(entity)
	if name == "" {
		return "", &cache.ConfigurationError{Entity: entity, Field: "Backend", Message: "cannot derive a backend name"}
	}
	if !c.pool.Has(name) {
		backend, ok := c.config.Backends[name]
		if !ok {
			backend = cache.DefaultBackendConfig()
			if def, found := c.config.Backends[cache.DefaultBackend]; found && def.Driver == cache.DriverMemory {
				backend = def
			}
		}
		store, err := cache.NewStore(backend)
		if err != nil {
			return "", &cache.ConfigurationError{Entity: entity, Field: "Backends." + name, Message: "cannot build backend", Err: err}
		}
		c.pool.Register(name, store)
		c.logger.Debug("query cache: isolated backend created",
			zap.String("entity", string(entity)),
			zap.String("namespace", name),
		)
	}

	settings, ok := c.registry.Lookup(entity)
	if !ok {
		settings = repositorycache.DefaultSettings()
	}
	settings.Backend = name
	if err := c.registry.Register(entity, settings); err != nil {
		return "", err
	}
	return name, nil
}

// NewCachedRepository wraps base with the container engine.
//
// Since Go methods cannot have type parameters, this is a package-level function:
//
//	users, err := di.NewCachedRepository[*User](container, base)
func NewCachedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	return repositorycache.New(base, c.engine, opts...)
}

// NewIsolatedRepository is NewCachedRepository with a backend dedicated to the
// entity of T (see IsolateBackend).
func NewIsolatedRepository[T any](c *Container, base repository.Repository[T], opts ...repositorycache.Option) (*repositorycache.CachedRepository[T], error) {
	entity := repositorycache.EntityName[T]()
	if entity == "" {
		return nil, &cache.ConfigurationError{Field: "EntityType", Message: fmt.Sprintf("cannot derive entity name from %T", *new(T))}
	}
	if _, err := c.IsolateBackend(entity); err != nil {
		return nil, err
	}
	return repositorycache.New(base, c.engine, opts...)
}
