// Package agent dispatches install and metadata events to content sync and
// validation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openmined/readmesync/internal/contentsync"
	"github.com/openmined/readmesync/internal/dirwatch"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/validate"
	"golang.org/x/sync/errgroup"
)

const DefaultAttribute = "readme"

var ErrInFlight = errors.New("content sync already running")

type Syncer interface {
	Run(ctx context.Context, itemID string) (*contentsync.Result, error)
}

type Validator interface {
	Run(ctx context.Context) validate.Report
}

// RootWatcher opens a continuous watch on the install root.
type RootWatcher interface {
	Stream(dir string) (dirwatch.Stream, error)
}

// Service runs alongside the agent, e.g. the control plane.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Entry is an item with its recorded attribute.
type Entry struct {
	Item  metadata.Item
	Value metadata.Value
}

type Agent struct {
	store     metadata.Store
	syncer    Syncer
	validator Validator
	notifier  Notifier
	attr      string

	rootWatcher RootWatcher
	root        layout.RootFunc
	rootRetry   time.Duration
	recent      *expirable.LRU[string, struct{}]
	services    []Service

	inflight mapset.Set[string]
	wg       sync.WaitGroup
	lifeCtx  context.Context
	cancel   context.CancelFunc

	mu         sync.RWMutex
	report     validate.Report
	haveReport bool
}

type Option func(*Agent)

func WithNotifier(n Notifier) Option {
	return func(a *Agent) {
		a.notifier = n
	}
}

func WithAttribute(attr string) Option {
	return func(a *Agent) {
		a.attr = attr
	}
}

// WithRootWatch treats every directory created under the install root as an
// installation start for the item of the same name.
func WithRootWatch(w RootWatcher, root layout.RootFunc) Option {
	return func(a *Agent) {
		a.rootWatcher = w
		a.root = root
	}
}

func WithService(svc Service) Option {
	return func(a *Agent) {
		a.services = append(a.services, svc)
	}
}

func New(store metadata.Store, syncer Syncer, validator Validator, opts ...Option) *Agent {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Agent{
		store:     store,
		syncer:    syncer,
		validator: validator,
		notifier:  LogNotifier{},
		attr:      DefaultAttribute,
		rootRetry: time.Second,
		recent:    newRecentInstalls(),
		inflight:  mapset.NewSet[string](),
		lifeCtx:   ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// AddService attaches a service to the next Run.
func (a *Agent) AddService(svc Service) {
	a.services = append(a.services, svc)
}

// InstallStarted registers the item and starts its content sync. It reports
// false when a lifecycle for the item is already running.
func (a *Agent) InstallStarted(ctx context.Context, itemID string) (bool, error) {
	if err := layout.ValidateItemID(itemID); err != nil {
		return false, err
	}
	if !a.inflight.Add(itemID) {
		slog.Debug("content sync already running", "item", itemID)
		return false, nil
	}

	prior, err := a.register(ctx, itemID)
	if err != nil {
		a.inflight.Remove(itemID)
		return false, err
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		defer a.inflight.Remove(itemID)
		a.sync(itemID, prior)
	}()
	return true, nil
}

// register marks the item installing and returns the status it had before,
// empty for a new item.
func (a *Agent) register(ctx context.Context, itemID string) (metadata.Status, error) {
	var prior metadata.Status
	existing, err := a.store.GetItem(ctx, itemID)
	switch {
	case err == nil:
		prior = existing.Status
	case !errors.Is(err, metadata.ErrItemNotFound):
		return "", fmt.Errorf("get item %q: %w", itemID, err)
	}

	item := metadata.Item{ID: itemID, Status: metadata.StatusInstalling}
	if err := a.store.PutItem(ctx, item); err != nil {
		return "", fmt.Errorf("register item %q: %w", itemID, err)
	}

	v, err := a.store.Get(ctx, itemID, a.attr)
	if err != nil {
		return "", fmt.Errorf("get %s for %q: %w", a.attr, itemID, err)
	}
	if !v.Present() {
		if err := a.store.Set(ctx, itemID, a.attr, metadata.NotFound()); err != nil {
			return "", fmt.Errorf("seed %s for %q: %w", a.attr, itemID, err)
		}
	}
	return prior, nil
}

// Sync registers the item and runs one lifecycle in the caller's goroutine.
func (a *Agent) Sync(ctx context.Context, itemID string) (*contentsync.Result, error) {
	if err := layout.ValidateItemID(itemID); err != nil {
		return nil, err
	}
	if !a.inflight.Add(itemID) {
		return nil, fmt.Errorf("%w: %q", ErrInFlight, itemID)
	}
	defer a.inflight.Remove(itemID)

	prior, err := a.register(ctx, itemID)
	if err != nil {
		return nil, err
	}
	return a.run(ctx, itemID, prior)
}

func (a *Agent) run(ctx context.Context, itemID string, prior metadata.Status) (*contentsync.Result, error) {
	res, err := a.syncer.Run(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if err := a.markInstalled(ctx, itemID, prior); err != nil {
		return res, fmt.Errorf("mark %q installed: %w", itemID, err)
	}
	return res, nil
}

func (a *Agent) sync(itemID string, prior metadata.Status) {
	ctx := a.lifeCtx
	_, err := a.run(ctx, itemID, prior)

	switch {
	case err == nil:
	case ctx.Err() != nil:
		slog.Debug("content sync cancelled", "item", itemID)
	case layout.IsConfigError(err):
		a.notifier.Notify(ctx, Notice{
			Level:    slog.LevelError,
			Blocking: true,
			ItemID:   itemID,
			Title:    "Install root unavailable",
			Message:  "cannot determine the install directory, select an install root and reinstall",
			Err:      err,
		})
	case errors.Is(err, contentsync.ErrRetriesExhausted):
		a.notifier.Notify(ctx, Notice{
			Level:   slog.LevelWarn,
			ItemID:  itemID,
			Title:   "Readme sync gave up",
			Message: "content sync stopped retrying",
			Err:     err,
		})
	default:
		slog.Error("content sync", "item", itemID, "error", err)
	}
}

// markInstalled ends the installing phase. A status set during the sync wins;
// otherwise an item that was enabled or disabled before the reinstall gets
// that status back.
func (a *Agent) markInstalled(ctx context.Context, itemID string, prior metadata.Status) error {
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return err
	}
	if item.Status != metadata.StatusInstalling {
		return nil
	}
	switch prior {
	case metadata.StatusEnabled, metadata.StatusDisabled:
		item.Status = prior
	default:
		item.Status = metadata.StatusInstalled
	}
	item.UpdatedAt = time.Time{}
	return a.store.PutItem(ctx, item)
}

// InFlight lists the items with a running content sync.
func (a *Agent) InFlight() []string {
	ids := a.inflight.ToSlice()
	slices.Sort(ids)
	return ids
}

// Revalidate runs the validator over every tracked item and keeps the report.
func (a *Agent) Revalidate(ctx context.Context) validate.Report {
	r := a.validator.Run(ctx)

	a.mu.Lock()
	prev, hadPrev := a.report, a.haveReport
	a.report, a.haveReport = r, true
	a.mu.Unlock()

	switch {
	case r.OK:
		slog.Debug("validation passed", "checked", r.Checked)
	case validate.IsFinding(r.Err):
		slog.Warn("validation finding", "item", r.ItemID, "code", r.Code, "error", r.Err)
	default:
		slog.Error("validation failed", "code", r.Code, "error", r.Err)
	}

	if !r.OK && (!hadPrev || prev.Error != r.Error) {
		a.notifier.Notify(ctx, Notice{
			Level:   slog.LevelWarn,
			ItemID:  r.ItemID,
			Title:   "Readme validation failed",
			Message: r.Error,
			Err:     r.Err,
		})
	}
	return r
}

// LastReport returns the most recent validation report.
func (a *Agent) LastReport() (validate.Report, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.report, a.haveReport
}

// Attribute is the attribute provider: the recorded value for one item.
func (a *Agent) Attribute(ctx context.Context, itemID string) (Entry, error) {
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return Entry{}, err
	}
	v, err := a.store.Get(ctx, itemID, a.attr)
	if err != nil {
		return Entry{}, err
	}
	return Entry{Item: item, Value: v}, nil
}

// Entries lists items with their recorded attribute, tracked items only
// unless all is set.
func (a *Agent) Entries(ctx context.Context, all bool) ([]Entry, error) {
	items, err := a.store.Items(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]Entry, 0, len(items))
	for _, item := range items {
		if !all && !item.Status.Tracked() {
			continue
		}
		v, err := a.store.Get(ctx, item.ID, a.attr)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Item: item, Value: v})
	}
	return entries, nil
}

// SetStatus changes the status of a known item.
func (a *Agent) SetStatus(ctx context.Context, itemID string, status metadata.Status) (metadata.Item, error) {
	if _, err := metadata.ParseStatus(string(status)); err != nil {
		return metadata.Item{}, err
	}
	item, err := a.store.GetItem(ctx, itemID)
	if err != nil {
		return metadata.Item{}, err
	}
	item.Status = status
	if err := a.store.PutItem(ctx, item); err != nil {
		return metadata.Item{}, err
	}
	return a.store.GetItem(ctx, itemID)
}

// Run revalidates on every metadata change, watches the install root and runs
// the attached services until ctx is done. In-flight syncs are cancelled and
// awaited before Run returns.
func (a *Agent) Run(ctx context.Context) error {
	slog.Info("agent start", "services", len(a.services), "watch root", a.rootWatcher != nil)
	defer a.Close()

	eg, egCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return a.changeLoop(egCtx)
	})

	if a.rootWatcher != nil {
		eg.Go(func() error {
			return a.rootLoop(egCtx)
		})
	}

	for _, svc := range a.services {
		eg.Go(func() error {
			return svc.Start(egCtx)
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		var errs []error
		for _, svc := range a.services {
			if err := svc.Stop(shutdownCtx); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("agent failure", "error", err)
		return err
	}

	slog.Info("agent stopped")
	return nil
}

// Close cancels every in-flight sync and waits for them to return.
func (a *Agent) Close() {
	a.cancel()
	a.wg.Wait()
}

func (a *Agent) changeLoop(ctx context.Context) error {
	changes, unsubscribe := a.store.Subscribe()
	defer unsubscribe()

	a.Revalidate(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-changes:
			if !ok {
				return nil
			}
			if ctx.Err() != nil {
				return nil
			}
			a.Revalidate(ctx)
		}
	}
}
