// Package app wires the binder core together: one explicitly owned registry,
// descriptor table, dispatcher, executor and inspection server, with init and
// teardown tied to the process lifetime.
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/binderlab/binder_core/internal/config"
	"github.com/binderlab/binder_core/internal/descriptor"
	"github.com/binderlab/binder_core/internal/dispatch"
	"github.com/binderlab/binder_core/internal/executor"
	"github.com/binderlab/binder_core/internal/httpapi"
	"github.com/binderlab/binder_core/internal/lifecycle"
	"github.com/binderlab/binder_core/internal/metrics"
	"github.com/binderlab/binder_core/internal/parcel"
	"github.com/binderlab/binder_core/internal/registry"
	"github.com/binderlab/binder_core/internal/service"
	"github.com/binderlab/binder_core/pkg/logger"
)

// Application holds the core's wired components.
type Application struct {
	cfg        *config.Config
	log        *logger.Logger
	table      *descriptor.Table
	codec      *parcel.Codec
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	pool       *executor.Pool
	collector  *metrics.Collector
	httpServer *httpapi.Server
}

// New constructs an application from config with default wiring.
func New(cfg *config.Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	log := logger.New(cfg.Logging)
	collector := metrics.NewCollector("binder")

	table := descriptor.NewTable()
	codec := parcel.NewCodec(table)

	reg := registry.New(table, log)
	reg.OnTransition(collector.ObserveTransition)

	disp := dispatch.New(codec, log).WithObserver(collector)
	pool := executor.NewPool(log)

	limiter := httpapi.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.Burst)
	handler := httpapi.NewHandler(reg, collector, log, limiter)
	srv := httpapi.NewServer(cfg.Server, handler)

	return &Application{
		cfg:        cfg,
		log:        log,
		table:      table,
		codec:      codec,
		registry:   reg,
		dispatcher: disp,
		pool:       pool,
		collector:  collector,
		httpServer: srv,
	}, nil
}

// Table returns the descriptor table for registration-time use.
func (a *Application) Table() *descriptor.Table { return a.table }

// Registry returns the service registry.
func (a *Application) Registry() *registry.Registry { return a.registry }

// Dispatcher returns the transaction dispatcher.
func (a *Application) Dispatcher() *dispatch.Dispatcher { return a.dispatcher }

// Pool returns the worker pool.
func (a *Application) Pool() *executor.Pool { return a.pool }

// Codec returns the parcel codec bound to the application's table.
func (a *Application) Codec() *parcel.Codec { return a.codec }

// Logger returns the process logger.
func (a *Application) Logger() *logger.Logger { return a.log }

// LifecycleDefaults returns the configured lazy-service timeouts.
func (a *Application) LifecycleDefaults() config.LifecycleConfig {
	return a.cfg.Lifecycle
}

// RegisterDeclared binds the services declared in configuration, pulling each
// implementation from the supplied factory map by service name. Descriptors
// for the declared interfaces must already be in the table. Declared services
// without a factory are an error; extra factories are ignored.
func (a *Application) RegisterDeclared(factories map[string]service.Factory) error {
	for _, sc := range a.cfg.Services {
		factory, ok := factories[sc.Name]
		if !ok {
			return fmt.Errorf("service %q declared in config but no factory supplied", sc.Name)
		}

		desc, ok := a.table.ResolveInterface(sc.Interface, sc.Version)
		if !ok {
			return fmt.Errorf("service %q: interface %s/v%d not in descriptor table", sc.Name, sc.Interface, sc.Version)
		}

		// The declared stability class must agree with the registered
		// descriptor; a config promising less than the interface provides is
		// a deployment mistake, not a downgrade.
		if sc.Stability != "" {
			if declared := descriptor.ParseStability(sc.Stability); declared != desc.Stability {
				return fmt.Errorf("service %q: config declares stability %s but interface %s is %s",
					sc.Name, declared, desc.Ref(), desc.Stability)
			}
		}

		if sc.Lazy {
			cfg := a.lazyConfig(sc)
			if err := a.registry.AddLazyService(sc.Name, factory, desc, sc.Exported, cfg); err != nil {
				return fmt.Errorf("register %q: %w", sc.Name, err)
			}
			continue
		}

		// Eager services start at registration time.
		startCtx, cancel := context.WithTimeout(context.Background(), a.lazyConfig(sc).StartTimeout)
		inst, err := factory(startCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("start %q: %w", sc.Name, err)
		}
		if _, err := a.registry.AddService(sc.Name, inst, desc, sc.Exported); err != nil {
			return fmt.Errorf("register %q: %w", sc.Name, err)
		}
	}
	return nil
}

// lazyConfig merges per-service timeout overrides over the configured
// lifecycle defaults.
func (a *Application) lazyConfig(sc config.ServiceConfig) lifecycle.Config {
	cfg := lifecycle.Config{
		StartTimeout: a.cfg.Lifecycle.StartTimeout.Std(),
		IdleTimeout:  a.cfg.Lifecycle.IdleTimeout.Std(),
		StopTimeout:  a.cfg.Lifecycle.StopTimeout.Std(),
	}
	if sc.StartTimeout > 0 {
		cfg.StartTimeout = sc.StartTimeout.Std()
	}
	if sc.IdleTimeout > 0 {
		cfg.IdleTimeout = sc.IdleTimeout.Std()
	}
	return cfg
}

// Run starts the executor and the inspection server, then blocks until the
// context is cancelled or the server fails.
func (a *Application) Run(ctx context.Context) error {
	if err := a.pool.Start(a.cfg.Executor.PoolSize); err != nil {
		return fmt.Errorf("start executor: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("inspection server listening on %s", a.httpServer.Addr())
		if err := a.httpServer.Start(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	go a.sampleStats(ctx)

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the inspection server and the executor.
func (a *Application) Shutdown(ctx context.Context) error {
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
		a.log.WithError(err).Warn("error shutting down inspection server")
	}
	a.pool.Stop()
	return nil
}

// sampleStats feeds pool and registry gauges into the collector until ctx
// ends.
func (a *Application) sampleStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := a.pool.Snapshot()
			a.collector.SetExecutorStats(s.QueueDepth, s.Busy)
			for _, info := range a.registry.InspectAll() {
				a.collector.SetRefs(info.Name, info.Refs)
			}
			a.collector.SampleHost()
		}
	}
}
