package agent

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/openmined/readmesync/internal/dirwatch"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/utils"
	gitignore "github.com/sabhiram/go-gitignore"
)

// IgnoreFile in the install root lists directories, in gitignore syntax, that
// are never treated as items by the root watch.
const IgnoreFile = ".readmesyncignore"

// ignored unless the ignore file negates them
var defaultIgnoreLines = []string{
	".*",
	"__MACOSX/",
	"lost+found/",
}

const (
	recentInstallsSize = 256
	recentInstallsTTL  = 2 * time.Second
)

func newRecentInstalls() *expirable.LRU[string, struct{}] {
	return expirable.NewLRU[string, struct{}](recentInstallsSize, nil, recentInstallsTTL)
}

// rootLoop keeps a watch on the install root open until ctx is done.
func (a *Agent) rootLoop(ctx context.Context) error {
	for {
		err := a.watchRoot(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if layout.IsConfigError(err) {
			a.notifier.Notify(ctx, Notice{
				Level:    slog.LevelError,
				Blocking: true,
				Title:    "Install root unavailable",
				Message:  "install root watch disabled, select an install root and restart",
				Err:      err,
			})
			return nil
		}
		slog.Warn("install root watch restarting", "error", err, "delay", a.rootRetry)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.rootRetry):
		}
	}
}

func (a *Agent) watchRoot(ctx context.Context) error {
	root, err := a.rootDir()
	if err != nil {
		return err
	}
	if err := utils.EnsureDir(root); err != nil {
		return fmt.Errorf("ensure install root: %w", err)
	}

	stream, err := a.rootWatcher.Stream(root)
	if err != nil {
		return err
	}
	defer stream.Close()
	slog.Info("watching install root", "root", root)

	ign := loadIgnore(root)
	ignorePath := filepath.Join(root, IgnoreFile)

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-stream.Events():
			if !ok {
				return &dirwatch.WatchError{Dir: root, Err: dirwatch.ErrStreamClosed}
			}
			if filepath.Clean(ev.Path) == root && (ev.Has(dirwatch.Remove) || ev.Has(dirwatch.Rename)) {
				return &dirwatch.WatchError{Dir: root, Err: dirwatch.ErrDirGone}
			}
			if filepath.Clean(ev.Path) == ignorePath {
				ign = loadIgnore(root)
				continue
			}
			a.handleRootEvent(ctx, root, ign, ev)

		case err, ok := <-stream.Errors():
			if !ok {
				return &dirwatch.WatchError{Dir: root, Err: dirwatch.ErrStreamClosed}
			}
			return &dirwatch.WatchError{Dir: root, Err: err}
		}
	}
}

func (a *Agent) handleRootEvent(ctx context.Context, root string, ign *gitignore.GitIgnore, ev dirwatch.Event) {
	if !ev.Has(dirwatch.Create) && !ev.Has(dirwatch.Rename) {
		return
	}
	if filepath.Dir(filepath.Clean(ev.Path)) != root {
		return
	}
	// a rename event also reports the old name, which no longer exists
	if !utils.DirExists(ev.Path) {
		return
	}

	itemID := filepath.Base(ev.Path)
	if isIgnored(ign, itemID) {
		slog.Debug("install root entry ignored", "item", itemID)
		return
	}
	// create and rename often arrive together for one install
	if a.recent.Contains(itemID) {
		return
	}
	a.recent.Add(itemID, struct{}{})

	started, err := a.InstallStarted(ctx, itemID)
	if err != nil {
		slog.Error("install start from root watch", "item", itemID, "error", err)
		return
	}
	if started {
		slog.Info("install detected", "item", itemID)
	}
}

// loadIgnore compiles the defaults plus the install root's ignore file, if
// there is a readable one.
func loadIgnore(root string) *gitignore.GitIgnore {
	path := filepath.Join(root, IgnoreFile)
	if utils.FileExists(path) {
		ign, err := gitignore.CompileIgnoreFileAndLines(path, defaultIgnoreLines...)
		if err == nil {
			slog.Debug("install root ignore file loaded", "path", path)
			return ign
		}
		slog.Warn("install root ignore file", "path", path, "error", err)
	}
	return gitignore.CompileIgnoreLines(defaultIgnoreLines...)
}

func isIgnored(ign *gitignore.GitIgnore, itemID string) bool {
	if ign == nil {
		return false
	}
	return ign.MatchesPath(itemID) || ign.MatchesPath(itemID+"/")
}

func (a *Agent) rootDir() (string, error) {
	if a.root == nil {
		return "", &layout.ConfigError{Err: layout.ErrNoInstallRoot}
	}
	root, err := a.root()
	if err != nil {
		return "", &layout.ConfigError{Err: fmt.Errorf("%w: %w", layout.ErrNoInstallRoot, err)}
	}
	if root == "" {
		return "", &layout.ConfigError{Err: layout.ErrNoInstallRoot}
	}
	abs, err := utils.ResolvePath(root)
	if err != nil {
		return "", &layout.ConfigError{Err: err}
	}
	return filepath.Clean(abs), nil
}
