package dirwatch

import (
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/openmined/readmesync/internal/textfile"
)

type Session struct {
	ID string

	dir     string
	stream  Stream
	matcher *textfile.Matcher
	onFound func(string)

	found   chan string
	errc    chan error
	closing chan struct{}
	done    chan struct{}

	closeOnce   sync.Once
	releaseOnce sync.Once
	releaseErr  error
}

func (s *Session) Dir() string {
	return s.dir
}

// Found yields the qualifying file name, at most once.
func (s *Session) Found() <-chan string {
	return s.found
}

// Err yields a *WatchError if the watch dies before firing.
func (s *Session) Err() <-chan error {
	return s.errc
}

// Done is closed once the session has stopped and released its watch.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close stops the session and waits for the OS watch to be released. A
// session that has not fired when Close is called never fires. If it fired
// first, a WatchFunc callback may still be running when Close returns.
// Safe to call any number of times, including after the session fired and
// from inside the callback.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.closing)
	})
	<-s.done
	return s.releaseErr
}

func (s *Session) run() {
	var fired string
	defer func() {
		close(s.done)
		// after done, so the callback may call Close
		if fired != "" && s.onFound != nil {
			s.onFound(fired)
		}
	}()

	for {
		select {
		case <-s.closing:
			s.release()
			return

		case ev, ok := <-s.stream.Events():
			if !ok {
				s.die(ErrStreamClosed)
				return
			}
			if filepath.Clean(ev.Path) == s.dir {
				if ev.Has(Remove) || ev.Has(Rename) {
					s.die(ErrDirGone)
					return
				}
				continue
			}
			if !ev.Has(Create) && !ev.Has(Rename) {
				continue
			}
			name := filepath.Base(ev.Path)
			if !s.matcher.Match(name) {
				continue
			}
			// a bare rename is also reported for the old name of a file moved out
			if !ev.Has(Create) && !fileExists(ev.Path) {
				slog.Debug("watch session skipped rename away", "session", s.ID, "file", name)
				continue
			}
			if s.fire(name) {
				fired = name
			}
			return

		case err, ok := <-s.stream.Errors():
			if !ok {
				s.die(ErrStreamClosed)
				return
			}
			s.die(err)
			return
		}
	}
}

func (s *Session) fire(name string) bool {
	s.release()

	// Close won the race, nothing may be delivered
	select {
	case <-s.closing:
		return false
	default:
	}

	slog.Debug("watch session fired", "session", s.ID, "dir", s.dir, "file", name)
	s.found <- name
	return true
}

func (s *Session) die(err error) {
	s.release()

	select {
	case <-s.closing:
		return
	default:
	}

	slog.Debug("watch session died", "session", s.ID, "dir", s.dir, "error", err)
	s.errc <- &WatchError{Dir: s.dir, Err: err}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

func (s *Session) release() {
	s.releaseOnce.Do(func() {
		s.releaseErr = s.stream.Close()
	})
}
