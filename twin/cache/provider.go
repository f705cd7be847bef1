package cache

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/promotion0824/TwinPlatform-sub045/errors"
	"github.com/promotion0824/TwinPlatform-sub045/metric"
	"github.com/promotion0824/TwinPlatform-sub045/twin"
)

// Loader supplies the data a new generation is built from.
type Loader interface {
	LoadModels(ctx context.Context) (map[string]twin.Model, error)
	LoadTopology(ctx context.Context) (*Topology, error)
}

// Provider owns the current cache generation.
type Provider struct {
	loader  Loader
	logger  *slog.Logger
	metrics *metric.Metrics

	current    atomic.Pointer[Cache]
	generation atomic.Uint64
	builds     singleflight.Group
}

// ProviderOption configures a Provider.
type ProviderOption func(*Provider)

// WithLogger sets the provider logger.
func WithLogger(logger *slog.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics records generation builds in the registry's core metrics.
func WithMetrics(registry *metric.MetricsRegistry) ProviderOption {
	return func(p *Provider) {
		if registry != nil {
			p.metrics = registry.CoreMetrics()
		}
	}
}

// NewProvider creates a provider with no generation; the first
// GetOrCreateCache call builds one.
func NewProvider(loader Loader, opts ...ProviderOption) *Provider {
	p := &Provider{
		loader: loader,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// GetOrCreateCache returns the current generation, building one when none
// exists or forceRebuild is set. Concurrent builds are coalesced into one,
// which runs to completion even if the caller that started it goes away.
// A failed rebuild keeps the previous generation in service.
func (p *Provider) GetOrCreateCache(ctx context.Context, forceRebuild bool) (*Cache, error) {
	if !forceRebuild {
		if c := p.current.Load(); c != nil {
			return c, nil
		}
	}

	v, err := coalesce(ctx, &p.builds, "build", func(ctx context.Context) (any, error) {
		if !forceRebuild {
			if c := p.current.Load(); c != nil {
				return c, nil
			}
		}
		return p.build(ctx)
	})
	if err != nil {
		return nil, err
	}
	c, ok := v.(*Cache)
	if !ok {
		return nil, errors.WrapFatal(fmt.Errorf("unexpected type %T", v), "Provider", "GetOrCreateCache", "build generation")
	}
	return c, nil
}

func (p *Provider) build(ctx context.Context) (*Cache, error) {
	start := time.Now()
	generation := p.generation.Add(1)

	c, err := p.load(ctx, generation)
	if p.metrics != nil {
		p.metrics.RecordCacheBuild(generation, err, time.Since(start))
	}
	if err != nil {
		p.logger.Error("Twin cache build failed", "generation", generation, "error", err)
		return nil, err
	}

	previous := p.current.Swap(c)
	attrs := []any{
		"generation", generation,
		"models", c.Models.Len(),
		"twins", c.Twins.TwinCount(),
		"relationships", c.Twins.RelationshipCount(),
		"duration", time.Since(start),
	}
	if previous != nil {
		attrs = append(attrs, "previous_generation", previous.Generation)
	}
	p.logger.Info("Twin cache generation ready", attrs...)
	return c, nil
}

func (p *Provider) load(ctx context.Context, generation uint64) (*Cache, error) {
	models, err := p.loader.LoadModels(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Provider", "GetOrCreateCache", "load models")
	}
	topology, err := p.loader.LoadTopology(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "Provider", "GetOrCreateCache", "load topology")
	}
	return NewCache(generation, models, topology)
}

// IsCacheReady reports whether a generation is available.
func (p *Provider) IsCacheReady() bool {
	return p.current.Load() != nil
}

// Current returns the generation in service, or nil before the first build.
func (p *Provider) Current() *Cache {
	return p.current.Load()
}

// Run rebuilds the cache every interval until ctx is done. Build failures are
// logged and retried on the next tick.
func (p *Provider) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.WrapInvalid(fmt.Errorf("%w: interval must be positive", errors.ErrInvalidConfig),
			"Provider", "Run", "validate interval")
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := p.GetOrCreateCache(ctx, true); err != nil {
				p.logger.Warn("Scheduled twin cache rebuild failed", "error", err)
			}
		}
	}
}
