package main

import (
	"fmt"
	"log/slog"

	"github.com/openmined/readmesync/internal/agent"
	"github.com/openmined/readmesync/internal/config"
	"github.com/openmined/readmesync/internal/contentsync"
	"github.com/openmined/readmesync/internal/dirwatch"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/textfile"
	"github.com/openmined/readmesync/internal/utils"
	"github.com/openmined/readmesync/internal/validate"
)

// runtime is the set of components every command works with.
type runtime struct {
	cfg       *config.Config
	store     *metadata.SQLiteStore
	root      layout.RootFunc
	resolver  *layout.Resolver
	watcher   *dirwatch.Watcher
	syncer    *contentsync.Syncer
	validator *validate.Validator
}

func newRuntime(cfg *config.Config, pinnedRoot bool) (*runtime, error) {
	matcher, err := textfile.NewMatcher(cfg.Pattern)
	if err != nil {
		return nil, err
	}
	backend, err := dirwatch.BackendByName(cfg.WatchBackend)
	if err != nil {
		return nil, err
	}

	if err := utils.EnsureDir(cfg.StateDir); err != nil {
		return nil, fmt.Errorf("state dir: %w", err)
	}
	store, err := metadata.OpenSQLiteStore(cfg.StatePath())
	if err != nil {
		return nil, err
	}

	root := layout.RootFunc(cfg.InstallRootFunc(pinnedRoot))
	resolver := layout.New(root)
	watcher := dirwatch.New(dirwatch.WithBackend(backend), dirwatch.WithMatcher(matcher))

	syncer := contentsync.New(resolver, watcher, store,
		contentsync.WithMatcher(matcher),
		contentsync.WithAttribute(cfg.Attribute),
		contentsync.WithScanExisting(cfg.ScanExisting),
		contentsync.WithPolicy(contentsync.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			Backoff:      cfg.Retry.Backoff,
			MaxBackoff:   cfg.Retry.MaxBackoff,
			WatchTimeout: cfg.Retry.WatchTimeout,
		}),
	)
	validator := validate.New(resolver, store,
		validate.WithMatcher(matcher),
		validate.WithAttribute(cfg.Attribute),
	)

	slog.Debug("runtime ready",
		"install_root", cfg.InstallRoot,
		"state", cfg.StatePath(),
		"pattern", matcher.Pattern(),
		"backend", backend.Name(),
	)

	return &runtime{
		cfg:       cfg,
		store:     store,
		root:      root,
		resolver:  resolver,
		watcher:   watcher,
		syncer:    syncer,
		validator: validator,
	}, nil
}

func (r *runtime) agent(opts ...agent.Option) *agent.Agent {
	opts = append([]agent.Option{agent.WithAttribute(r.cfg.Attribute)}, opts...)
	return agent.New(r.store, r.syncer, r.validator, opts...)
}

func (r *runtime) Close() error {
	return r.store.Close()
}
