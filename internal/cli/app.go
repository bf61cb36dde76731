package cli

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/roach88/solmeal/internal/backend"
	"github.com/roach88/solmeal/internal/config"
	"github.com/roach88/solmeal/internal/cycle"
	"github.com/roach88/solmeal/internal/logging"
	"github.com/roach88/solmeal/internal/metrics"
	"github.com/roach88/solmeal/internal/query"
	"github.com/roach88/solmeal/internal/snapcache"
	"github.com/roach88/solmeal/internal/snapshot"
	"github.com/roach88/solmeal/internal/store"
)

// app is the wired service graph one command runs against.
type app struct {
	cfg      *config.Config
	logger   logging.Logger
	metrics  metrics.Collector
	registry *prometheus.Registry

	store     *store.Store
	cache     snapcache.Cache
	lifecycle *snapshot.Lifecycle
	backend   backend.Backend
	runner    *cycle.Runner
	trigger   *cycle.Trigger
	query     *query.Service

	closers []func()
}

type appOptions struct {
	// cache connects to NATS. Commands that only touch the durable store
	// leave it off.
	cache bool

	// prometheus records metrics into a registry the caller can expose.
	prometheus bool
}

// openApp loads configuration and wires the service graph.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command, ao appOptions) (*app, error) {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return nil, err
	}
	if opts.Database != "" {
		cfg.Database.Path = opts.Database
	}

	a := &app{
		cfg:     cfg,
		logger:  logging.NewText(cmd.ErrOrStderr(), opts.Verbose),
		metrics: metrics.NewNop(),
	}
	if ao.prometheus {
		a.registry = prometheus.NewRegistry()
		a.metrics = metrics.NewPrometheus(a.registry, "")
	}

	a.logger.Debug("opening database", "path", cfg.Database.Path)
	a.store, err = store.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	a.closers = append(a.closers, func() {
		if err := a.store.Close(); err != nil {
			a.logger.Error("error closing database", "error", err)
		}
	})

	if ao.cache {
		if err := a.openCache(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}

	a.lifecycle = snapshot.New(a.store, a.cache,
		snapshot.WithLogger(a.logger),
		snapshot.WithMetrics(a.metrics),
		snapshot.WithBatchSize(cfg.Warmup.BatchSize),
		snapshot.WithPageSize(cfg.Warmup.PageSize),
	)

	if cfg.Backend.BaseURL != "" {
		a.backend = backend.NewHTTPClient(backend.HTTPConfig{
			BaseURL: cfg.Backend.BaseURL,
			APIKey:  cfg.Backend.APIKey,
			Timeout: cfg.Backend.Timeout,
		})
	} else {
		a.logger.Warn("backend.base_url not set, using an empty static backend")
		a.backend = backend.NewStatic()
	}

	a.runner = cycle.NewRunner(a.store, a.lifecycle, a.backend, cycleConfig(cfg),
		cycle.WithLogger(a.logger),
		cycle.WithMetrics(a.metrics),
	)
	a.trigger = cycle.NewTrigger(a.runner, cfg.Campuses,
		cycle.WithTimeout(cfg.Cycle.Timeout),
		cycle.WithTriggerLogger(a.logger),
		cycle.WithTriggerMetrics(a.metrics),
	)
	a.query = query.New(a.store, a.cache, a.lifecycle, a.trigger, a.logger)
	return a, nil
}

func cycleConfig(cfg *config.Config) cycle.Config {
	cc := cycle.DefaultConfig()
	cc.Algo = cfg.Cycle.Algo
	cc.Params = cfg.ClusterParams()
	cc.Downsample = cfg.Cycle.Downsample
	cc.LookaheadMin = cfg.Cycle.LookaheadMin
	cc.NeedMin = cfg.Cycle.NeedMin
	cc.Location = cfg.Location()
	return cc
}

// openCache connects to NATS, or starts an in-process server when
// nats.embedded is set, and opens the snapshot bucket.
func (a *app) openCache(ctx context.Context) error {
	url := a.cfg.NATS.URL

	if a.cfg.NATS.Embedded {
		ns, err := server.NewServer(&server.Options{
			Host:      "127.0.0.1",
			Port:      -1,
			JetStream: true,
			StoreDir:  filepath.Join(filepath.Dir(a.cfg.Database.Path), "nats"),
			NoLog:     true,
		})
		if err != nil {
			return fmt.Errorf("embedded nats: %w", err)
		}
		go ns.Start()
		if !ns.ReadyForConnections(10 * time.Second) {
			ns.Shutdown()
			return errors.New("embedded nats: not ready within 10s")
		}
		a.closers = append(a.closers, func() {
			ns.Shutdown()
			ns.WaitForShutdown()
		})
		url = ns.ClientURL()
		a.logger.Info("embedded nats started", "url", url)
	}

	nc, err := nats.Connect(url,
		nats.Name("solmeal"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return fmt.Errorf("connect nats %s: %w", url, err)
	}
	a.closers = append(a.closers, nc.Close)

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("jetstream: %w", err)
	}

	kv, err := snapcache.NewKV(ctx, js, snapcache.KVConfig{
		Bucket:     a.cfg.NATS.Bucket,
		Replicas:   a.cfg.NATS.Replicas,
		MaxRetries: a.cfg.NATS.MaxRetries,
	}, a.logger)
	if err != nil {
		return err
	}
	a.cache = kv
	return nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// withApp opens the service graph, runs fn and closes it again. Failures to
// open are reported through f as command errors.
func withApp(opts *RootOptions, cmd *cobra.Command, ao appOptions, fn func(ctx context.Context, a *app, f *OutputFormatter) error) error {
	f := newFormatter(opts, cmd)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := openApp(ctx, opts, cmd, ao)
	if err != nil {
		code, _ := classify(err)
		_ = f.Error(code, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to open services", err)
	}
	defer a.Close()

	return fn(ctx, a, f)
}
