// Package app wires the pipeline together: configuration, provider
// construction from the catalog, the dispatcher and the logging service.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"logpipe/internal/config"
	"logpipe/internal/dispatch"
	"logpipe/internal/logging"
	"logpipe/internal/models"
	"logpipe/internal/providers"
	"logpipe/internal/queue"
	"logpipe/internal/retry"
	"logpipe/internal/storage"
	"logpipe/internal/utils"
)

var (
	// ErrUnknownProvider is returned when a descriptor is not in the catalog
	ErrUnknownProvider = errors.New("provider not in catalog")

	// ErrAlreadyEnabled is returned when enabling a registered provider
	ErrAlreadyEnabled = errors.New("provider already enabled")

	// ErrNotEnabled is returned when disabling or reading an unregistered provider
	ErrNotEnabled = errors.New("provider not enabled")

	// ErrNotViewable is returned when a provider keeps nothing to read back
	ErrNotViewable = errors.New("provider has no view")
)

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithCatalog replaces the catalog read from configuration.
func WithCatalog(c *config.Catalog) Option {
	return func(p *Pipeline) { p.catalog = c }
}

// WithDatabase supplies the database used by database providers instead of
// connecting to Database.URL.
func WithDatabase(db providers.Execer) Option {
	return func(p *Pipeline) { p.dbExec = db }
}

// WithRedisClient supplies the Redis client instead of connecting to
// Redis.Addr. The pipeline does not close it.
func WithRedisClient(client redis.UniversalClient) Option {
	return func(p *Pipeline) {
		p.redis = client
		p.ownsRedis = false
	}
}

// WithObjectStore supplies the S3 client used by s3 providers.
func WithObjectStore(client providers.ObjectPutter) Option {
	return func(p *Pipeline) { p.objects = client }
}

// Pipeline owns the registry, the dispatcher, the logging service and the
// clients shared by providers.
type Pipeline struct {
	cfg        *config.Config
	registry   *providers.Registry
	dispatcher *dispatch.Dispatcher
	service    *logging.Service
	dlq        queue.DeadLetterQueue
	logger     *utils.Logger
	factories  map[string]BuildFunc

	// mu guards the catalog, the applied fingerprints and the lazily
	// created clients
	mu        sync.Mutex
	catalog   *config.Catalog
	applied   map[providers.Descriptor]string
	db        *storage.DB
	dbExec    providers.Execer
	redis     redis.UniversalClient
	ownsRedis bool
	objects   providers.ObjectPutter

	watchMu sync.Mutex
	watcher *catalogWatcher
}

// New creates a pipeline. It connects to Redis first when the dead letter
// queue lives there.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:       cfg,
		registry:  providers.NewRegistry(),
		logger:    utils.NewLogger("pipeline"),
		factories: defaultFactories(),
		applied:   make(map[providers.Descriptor]string),
		ownsRedis: true,
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.catalog == nil {
		catalog, err := loadCatalog(cfg.Catalog.Path)
		if err != nil {
			return nil, err
		}
		p.catalog = catalog
	}

	switch cfg.DeadLetter.Backend {
	case config.DeadLetterRedis:
		p.mu.Lock()
		client, err := p.redisClient(ctx)
		p.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("dead letter queue: %w", err)
		}
		p.dlq = queue.NewRedisDeadLetterQueueWithClient(client, cfg.DeadLetter.Name, cfg.DeadLetter.Capacity)
	default:
		p.dlq = queue.NewMemoryDeadLetterQueue(cfg.DeadLetter.Capacity)
	}

	p.dispatcher = dispatch.New(p.registry, cfg.Dispatcher, dispatch.WithDeadLetterQueue(p.dlq))
	p.service = logging.NewService(p.dispatcher, logging.Options{
		Identity: logging.DetectIdentity(cfg.AppName, cfg.Version),
		Filter:   cfg.Service.Filter,
	})
	return p, nil
}

func loadCatalog(path string) (*config.Catalog, error) {
	if path == "" {
		return config.DefaultCatalog(), nil
	}
	return config.LoadCatalog(path)
}

// Name identifies the pipeline as a host unit.
func (p *Pipeline) Name() string {
	return "pipeline"
}

// Service returns the producer-facing logging service.
func (p *Pipeline) Service() *logging.Service {
	return p.service
}

// Registry returns the active providers.
func (p *Pipeline) Registry() *providers.Registry {
	return p.registry
}

// Catalog returns the catalog currently applied.
func (p *Pipeline) Catalog() *config.Catalog {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.catalog
}

// Start applies the catalog, starts the dispatcher and, when configured,
// watches the catalog file. Providers that fail to build are logged and
// skipped.
func (p *Pipeline) Start(ctx context.Context) error {
	if err := p.Apply(ctx, p.Catalog()); err != nil {
		p.logger.Error("Some providers could not be started", "error", err)
	}

	if err := p.dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	if p.cfg.Catalog.Watch && p.cfg.Catalog.Path != "" {
		if err := p.Watch(ctx, p.cfg.Catalog.Path); err != nil {
			p.logger.Error("Failed to watch catalog", "path", p.cfg.Catalog.Path, "error", err)
		}
	}

	p.service.StartStop("Pipeline started", "providers", p.registry.Len())
	return nil
}

// Stop stops the catalog watcher and the dispatcher, then releases the
// shared clients. The dispatcher flushes and closes every provider.
func (p *Pipeline) Stop(ctx context.Context) error {
	p.stopWatch()
	p.service.StartStop("Pipeline stopping")

	var errs []error
	if err := p.dispatcher.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.dlq.Close(); err != nil {
		errs = append(errs, fmt.Errorf("dead letter queue: %w", err))
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db != nil {
		if err := p.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
		p.db = nil
	}
	if p.redis != nil && p.ownsRedis {
		if err := p.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
		p.redis = nil
	}
	return errors.Join(errs...)
}

// Close stops the pipeline with the configured shutdown grace.
func (p *Pipeline) Close() error {
	return p.Stop(context.Background())
}

// Apply makes the registry match the enabled entries of c: providers not in
// c are removed and closed, new entries are built and registered, and
// entries whose settings changed are rebuilt. c becomes the current catalog.
func (p *Pipeline) Apply(ctx context.Context, c *config.Catalog) error {
	if err := c.Validate(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	p.catalog = c

	desired := make(map[providers.Descriptor]config.ProviderEntry)
	for _, e := range c.Enabled() {
		desired[e.Descriptor()] = e
	}

	for _, d := range p.registry.Describe() {
		e, keep := desired[d]
		if keep && fingerprint(e) == p.applied[d] {
			continue
		}
		p.removeLocked(ctx, d)
	}

	var errs []error
	for _, e := range c.Enabled() {
		if _, ok := p.registry.Lookup(e.Descriptor()); ok {
			continue
		}
		if err := p.enableLocked(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Reload reads the catalog file again and applies it.
func (p *Pipeline) Reload(ctx context.Context) error {
	if p.cfg.Catalog.Path == "" {
		return fmt.Errorf("no catalog file configured")
	}
	c, err := config.LoadCatalog(p.cfg.Catalog.Path)
	if err != nil {
		return err
	}
	return p.Apply(ctx, c)
}

// Enable builds and registers the catalog entry d, enabled or not.
func (p *Pipeline) Enable(ctx context.Context, d providers.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.catalog.Find(d)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProvider, d)
	}
	if _, ok := p.registry.Lookup(d); ok {
		return fmt.Errorf("%w: %s", ErrAlreadyEnabled, d)
	}
	return p.enableLocked(ctx, e)
}

// Disable unregisters d, then flushes and closes it.
func (p *Pipeline) Disable(ctx context.Context, d providers.Descriptor) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.removeLocked(ctx, d) {
		return fmt.Errorf("%w: %s", ErrNotEnabled, d)
	}
	return nil
}

func (p *Pipeline) enableLocked(ctx context.Context, e config.ProviderEntry) error {
	d := e.Descriptor()
	build, ok := p.factories[e.Type]
	if !ok {
		return fmt.Errorf("%w: no factory for type %q", ErrUnknownProvider, e.Type)
	}

	provider, err := build(ctx, p, e)
	if err != nil {
		p.logger.Error("Failed to build provider", "provider", d, "error", err)
		return fmt.Errorf("build %s: %w", d, err)
	}

	if !p.registry.TryAdd(provider, e.Key) {
		closeProvider(ctx, provider)
		return fmt.Errorf("%w: %s", ErrAlreadyEnabled, d)
	}
	p.applied[d] = fingerprint(e)
	p.logger.Info("Provider enabled", "provider", d, "filter", provider.Filter())
	return nil
}

func (p *Pipeline) removeLocked(ctx context.Context, d providers.Descriptor) bool {
	provider, ok := p.registry.Remove(d)
	if !ok {
		return false
	}
	delete(p.applied, d)
	if err := closeProvider(ctx, provider); err != nil {
		p.logger.Warn("Failed to close provider", "provider", d, "error", err)
	}
	p.logger.Info("Provider disabled", "provider", d)
	return true
}

// closeProvider flushes and closes whichever of the two provider supports.
func closeProvider(ctx context.Context, provider providers.Provider) error {
	var errs []error
	if f, ok := provider.(providers.Flusher); ok {
		if err := f.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if c, ok := provider.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// fingerprint identifies the settings of an entry so that Apply can tell a
// changed entry from an unchanged one.
func fingerprint(e config.ProviderEntry) string {
	data, err := yaml.Marshal(e)
	if err != nil {
		return ""
	}
	return string(data)
}

// ProviderStatus describes one registered provider.
type ProviderStatus struct {
	Descriptor providers.Descriptor  `json:"descriptor"`
	Filter     models.CategoryFilter `json:"filter"`
	Viewable   bool                  `json:"viewable"`
}

// Providers lists the registered providers in registration order.
func (p *Pipeline) Providers() []ProviderStatus {
	regs := p.registry.Snapshot()
	out := make([]ProviderStatus, 0, len(regs))
	for _, reg := range regs {
		_, viewable := reg.Provider.(providers.Viewer)
		out = append(out, ProviderStatus{
			Descriptor: reg.Descriptor,
			Filter:     reg.Provider.Filter(),
			Viewable:   viewable,
		})
	}
	return out
}

// View reads back up to limit messages retained by d. Reading a clear-on-get
// snapshot provider empties it.
func (p *Pipeline) View(ctx context.Context, d providers.Descriptor, limit int) ([]*models.LogMessage, error) {
	provider, ok := p.registry.Lookup(d)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotEnabled, d)
	}
	viewer, ok := provider.(providers.Viewer)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotViewable, d)
	}
	return viewer.View(ctx, limit)
}

// Stats returns the dispatcher counters.
func (p *Pipeline) Stats() dispatch.Stats {
	return p.dispatcher.Stats()
}

// DatabaseStats returns the pool statistics when a database is connected.
func (p *Pipeline) DatabaseStats() (storage.DBStats, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.db == nil {
		return storage.DBStats{}, false
	}
	return p.db.GetStats(), true
}

// Failures lists recorded delivery failures, oldest first.
func (p *Pipeline) Failures(ctx context.Context, limit int) ([]queue.DeadLetterItem, error) {
	return p.dispatcher.Failures(ctx, limit)
}

// Redeliver retries one recorded failure.
func (p *Pipeline) Redeliver(ctx context.Context, id string) error {
	return p.dispatcher.Redeliver(ctx, id)
}

// Health checks the connected backends.
func (p *Pipeline) Health(ctx context.Context) error {
	p.mu.Lock()
	db, client := p.db, p.redis
	p.mu.Unlock()

	if db != nil {
		if err := db.Health(ctx); err != nil {
			return err
		}
	}
	if client != nil {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
	}
	return nil
}

// database returns the shared database, connecting on first use. Callers
// hold p.mu.
func (p *Pipeline) database(ctx context.Context) (providers.Execer, error) {
	if p.dbExec != nil {
		return p.dbExec, nil
	}
	if p.cfg.Database.URL == "" {
		return nil, fmt.Errorf("database: %w", storage.ErrNotConfigured)
	}

	err := retry.Execute(ctx, "postgres", func(ctx context.Context) error {
		db, err := storage.NewDB(ctx, p.cfg.Database)
		if err != nil {
			if storage.IsTransient(err) {
				return err
			}
			return backoff.Permanent(err)
		}
		p.db = db
		return nil
	}, p.cfg.Retry.MinInterval, p.cfg.Retry.MaxInterval)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Connected to database", "target", p.cfg.Database.Redacted())
	p.dbExec = p.db.Conn()
	return p.dbExec, nil
}

// redisClient returns the shared Redis client, connecting on first use.
// Callers hold p.mu.
func (p *Pipeline) redisClient(ctx context.Context) (redis.UniversalClient, error) {
	if p.redis != nil {
		return p.redis, nil
	}

	err := retry.Execute(ctx, "redis", func(ctx context.Context) error {
		client, err := storage.NewRedisClient(ctx, p.cfg.Redis)
		if err != nil {
			if errors.Is(err, storage.ErrNotConfigured) ||
				redis.HasErrorPrefix(err, "NOAUTH") || redis.HasErrorPrefix(err, "WRONGPASS") {
				return backoff.Permanent(err)
			}
			return err
		}
		p.redis = client
		return nil
	}, p.cfg.Retry.MinInterval, p.cfg.Retry.MaxInterval)
	if err != nil {
		return nil, err
	}

	p.logger.Info("Connected to Redis", "addr", p.cfg.Redis.Addr)
	return p.redis, nil
}

// objectStore returns the shared S3 client. Callers hold p.mu.
func (p *Pipeline) objectStore(ctx context.Context) (providers.ObjectPutter, error) {
	if p.objects != nil {
		return p.objects, nil
	}
	client, err := storage.NewS3Client(ctx, p.cfg.S3)
	if err != nil {
		return nil, err
	}
	p.objects = client
	return p.objects, nil
}

// consoleOutput maps a catalog stream name to a writer.
func consoleOutput(stream string) io.Writer {
	if stream == "stderr" {
		return os.Stderr
	}
	return os.Stdout
}
