// Package dirwatch waits for a qualifying file to appear in a directory.
//
// A Session is single-shot: it delivers at most one file name and releases its
// OS watch before doing so. Once Close is called, a session that has not fired
// yet never delivers.
package dirwatch

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/openmined/readmesync/internal/textfile"
)

var (
	ErrDirGone      = errors.New("watched directory was removed or moved")
	ErrStreamClosed = errors.New("watch stream closed")
)

// WatchError means the OS-level watch failed. The session is dead and never fires.
type WatchError struct {
	Dir string
	Err error
}

func (e *WatchError) Error() string {
	return fmt.Sprintf("watch %s: %v", e.Dir, e.Err)
}

func (e *WatchError) Unwrap() error {
	return e.Err
}

type Watcher struct {
	backend Backend
	matcher *textfile.Matcher
}

type Option func(*Watcher)

func WithBackend(b Backend) Option {
	return func(w *Watcher) {
		w.backend = b
	}
}

func WithMatcher(m *textfile.Matcher) Option {
	return func(w *Watcher) {
		w.matcher = m
	}
}

func New(opts ...Option) *Watcher {
	w := &Watcher{
		backend: FSNotifyBackend{},
		matcher: textfile.MustMatcher(textfile.DefaultPattern),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Watcher) Backend() Backend {
	return w.backend
}

// Watch opens a single-shot session on dir.
func (w *Watcher) Watch(dir string) (*Session, error) {
	return w.watch(dir, nil)
}

// WatchFunc is Watch with a callback, invoked at most once with the file name
// after the session has released its OS watch. A firing that wins a race with
// Close still runs the callback.
func (w *Watcher) WatchFunc(dir string, onFound func(name string)) (*Session, error) {
	return w.watch(dir, onFound)
}

// Stream opens a raw continuous watch, for callers that need every event.
func (w *Watcher) Stream(dir string) (Stream, error) {
	stream, err := w.backend.Open(filepath.Clean(dir))
	if err != nil {
		return nil, &WatchError{Dir: dir, Err: err}
	}
	return stream, nil
}

func (w *Watcher) watch(dir string, onFound func(string)) (*Session, error) {
	dir = filepath.Clean(dir)
	stream, err := w.backend.Open(dir)
	if err != nil {
		return nil, &WatchError{Dir: dir, Err: err}
	}

	s := &Session{
		ID:      uuid.NewString(),
		dir:     dir,
		stream:  stream,
		matcher: w.matcher,
		onFound: onFound,
		found:   make(chan string, 1),
		errc:    make(chan error, 1),
		closing: make(chan struct{}),
		done:    make(chan struct{}),
	}
	slog.Debug("watch session open", "session", s.ID, "dir", dir, "backend", w.backend.Name())

	go s.run()
	return s, nil
}
