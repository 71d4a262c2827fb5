// Package contentsync publishes the content of an item's qualifying file into
// the metadata store, restarting from scratch after any transient failure.
//
// One attempt walks starting -> watching -> reading -> published. A failure in
// any state moves to restarting, and the next attempt resolves the directory
// again, since a reinstall may have moved or recreated it.
package contentsync

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/openmined/readmesync/internal/dirwatch"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/textfile"
)

const DefaultAttribute = "readme"

type State string

const (
	StateStarting   State = "starting"
	StateWatching   State = "watching"
	StateReading    State = "reading"
	StatePublished  State = "published"
	StateRestarting State = "restarting"
)

type Resolver interface {
	Resolve(itemID string) (string, error)
}

type DirWatcher interface {
	Watch(dir string) (*dirwatch.Session, error)
}

type Result struct {
	ItemID   string
	Dir      string
	File     string
	Content  string
	Attempts int
}

type Syncer struct {
	resolver     Resolver
	watcher      DirWatcher
	store        metadata.Store
	fs           textfile.FS
	matcher      *textfile.Matcher
	attr         string
	policy       Policy
	scanExisting bool
	onState      func(itemID string, state State)
}

type Option func(*Syncer)

func WithFS(fsys textfile.FS) Option {
	return func(s *Syncer) {
		s.fs = fsys
	}
}

func WithMatcher(m *textfile.Matcher) Option {
	return func(s *Syncer) {
		s.matcher = m
	}
}

func WithAttribute(attr string) Option {
	return func(s *Syncer) {
		s.attr = attr
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Syncer) {
		s.policy = p
	}
}

// WithScanExisting makes an attempt publish a qualifying file that is already
// present once the watch is open, as long as the item has no recorded text.
// Recorded text is only replaced after a create or rename, so a reinstall
// waits for the installer's new file. Off by default.
func WithScanExisting(scan bool) Option {
	return func(s *Syncer) {
		s.scanExisting = scan
	}
}

// WithStateHook observes every state transition.
func WithStateHook(fn func(itemID string, state State)) Option {
	return func(s *Syncer) {
		s.onState = fn
	}
}

func New(resolver Resolver, watcher DirWatcher, store metadata.Store, opts ...Option) *Syncer {
	s := &Syncer{
		resolver:     resolver,
		watcher:      watcher,
		store:        store,
		fs:           textfile.OS{},
		matcher:      textfile.MustMatcher(textfile.DefaultPattern),
		attr:         DefaultAttribute,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run drives the lifecycle for one item until the content is published, a
// configuration error occurs, the policy gives up, or ctx is done.
func (s *Syncer) Run(ctx context.Context, itemID string) (*Result, error) {
	logger := slog.With("item", itemID)

	for attempt := 1; ; attempt++ {
		res, err := s.attempt(ctx, itemID)
		if err == nil {
			res.Attempts = attempt
			s.setState(itemID, StatePublished)
			logger.Info("content sync published", "file", res.File, "size", humanize.Bytes(uint64(len(res.Content))), "attempts", attempt)
			return res, nil
		}

		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if layout.IsConfigError(err) {
			logger.Error("content sync stopped", "error", err)
			return nil, err
		}
		if s.policy.exhausted(attempt) {
			return nil, fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt, err)
		}

		s.setState(itemID, StateRestarting)
		delay := s.policy.delay(attempt)
		logger.Warn("content sync restarting", "attempt", attempt, "delay", delay, "error", err)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

func (s *Syncer) attempt(ctx context.Context, itemID string) (*Result, error) {
	s.setState(itemID, StateStarting)
	dir, err := s.resolver.Resolve(itemID)
	if err != nil {
		return nil, err
	}
	if err := s.fs.EnsureDir(dir); err != nil {
		return nil, &IOError{Op: "ensure dir", Path: dir, Err: err}
	}

	s.setState(itemID, StateWatching)
	sess, err := s.watcher.Watch(dir)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	path, err := s.await(ctx, sess, itemID, dir)
	if err != nil {
		return nil, err
	}

	s.setState(itemID, StateReading)
	content, err := textfile.ReadText(s.fs, path)
	if err != nil {
		return nil, &IOError{Op: "read", Path: path, Err: err}
	}

	if err := s.store.Set(ctx, itemID, s.attr, metadata.Text(content)); err != nil {
		return nil, &PublishError{ItemID: itemID, Err: err}
	}

	return &Result{ItemID: itemID, Dir: dir, File: path, Content: content}, nil
}

// await returns the path of the qualifying file once one is known.
func (s *Syncer) await(ctx context.Context, sess *dirwatch.Session, itemID, dir string) (string, error) {
	scan, err := s.shouldScan(ctx, itemID)
	if err != nil {
		return "", err
	}
	if scan {
		path, ok, err := textfile.Find(s.fs, s.matcher, dir)
		if err != nil {
			return "", &IOError{Op: "scan", Path: dir, Err: err}
		}
		if ok {
			sess.Close()
			return path, nil
		}
	}

	var timeout <-chan time.Time
	if s.policy.WatchTimeout > 0 {
		timer := time.NewTimer(s.policy.WatchTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	select {
	case name := <-sess.Found():
		return filepath.Join(dir, name), nil
	case err := <-sess.Err():
		return "", err
	case <-timeout:
		return "", ErrWatchTimeout
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (s *Syncer) shouldScan(ctx context.Context, itemID string) (bool, error) {
	if !s.scanExisting {
		return false, nil
	}
	v, err := s.store.Get(ctx, itemID, s.attr)
	if err != nil {
		return false, &PublishError{ItemID: itemID, Err: fmt.Errorf("get %s: %w", s.attr, err)}
	}
	return !v.IsText(), nil
}

func (s *Syncer) setState(itemID string, state State) {
	slog.Debug("content sync", "item", itemID, "state", state)
	if s.onState != nil {
		s.onState(itemID, state)
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
