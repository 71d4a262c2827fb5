package workspace

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
	"github.com/openmined/readmesync/internal/utils"
)

const (
	logsDir   = "logs"
	lockFile  = "readmesync.lock"
	stateFile = "state.db"
)

var (
	ErrWorkspaceLocked = errors.New("state directory locked by another readmesync process")
)

// Workspace is the on-disk layout owned by one agent: the watched install root
// and the private state directory.
type Workspace struct {
	InstallRoot string
	StateDir    string
	StatePath   string
	LogsDir     string

	flock *flock.Flock
}

func New(installRoot, stateDir string) (*Workspace, error) {
	root, err := utils.ResolvePath(installRoot)
	if err != nil {
		return nil, fmt.Errorf("resolve install root %q: %w", installRoot, err)
	}
	state, err := utils.ResolvePath(stateDir)
	if err != nil {
		return nil, fmt.Errorf("resolve state dir %q: %w", stateDir, err)
	}

	return &Workspace{
		InstallRoot: root,
		StateDir:    state,
		StatePath:   filepath.Join(state, stateFile),
		LogsDir:     filepath.Join(state, logsDir),
		flock:       flock.New(filepath.Join(state, lockFile)),
	}, nil
}

// Lock prevents a second agent from publishing into the same state database.
func (w *Workspace) Lock() error {
	if err := utils.EnsureDir(w.StateDir); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", w.StateDir, err)
	}

	locked, err := w.flock.TryLock()
	if err != nil {
		return fmt.Errorf("failed to lock state dir: %w", err)
	}
	if !locked {
		return ErrWorkspaceLocked
	}
	return nil
}

func (w *Workspace) Unlock() error {
	if !w.flock.Locked() {
		return nil
	}

	if err := w.flock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock state dir: %w", err)
	}
	return os.Remove(w.flock.Path())
}

// Setup locks the workspace and creates the install root and state layout.
func (w *Workspace) Setup() error {
	if err := w.Lock(); err != nil {
		return err
	}

	for _, dir := range []string{w.InstallRoot, w.StateDir, w.LogsDir} {
		if err := utils.EnsureDir(dir); err != nil {
			w.Unlock()
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	slog.Info("workspace", "install_root", w.InstallRoot, "state", w.StatePath)
	return nil
}
