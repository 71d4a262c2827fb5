package dirwatch

import (
	"sync"

	"github.com/fsnotify/fsnotify"
)

const eventBufferSize = 16

// FSNotifyBackend watches through github.com/fsnotify/fsnotify.
type FSNotifyBackend struct{}

func (FSNotifyBackend) Name() string { return "fsnotify" }

func (FSNotifyBackend) Open(dir string) (Stream, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	s := &fsnotifyStream{
		watcher: w,
		events:  make(chan Event, eventBufferSize),
		errors:  make(chan error, 1),
		done:    make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type fsnotifyStream struct {
	watcher *fsnotify.Watcher
	events  chan Event
	errors  chan error
	done    chan struct{}

	once     sync.Once
	closeErr error
}

func (s *fsnotifyStream) Events() <-chan Event { return s.events }
func (s *fsnotifyStream) Errors() <-chan error { return s.errors }

func (s *fsnotifyStream) Close() error {
	s.once.Do(func() {
		close(s.done)
		s.closeErr = s.watcher.Close()
	})
	return s.closeErr
}

func (s *fsnotifyStream) pump() {
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		case ev, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			select {
			case s.events <- Event{Path: ev.Name, Op: fromFSNotify(ev.Op)}:
			case <-s.done:
				return
			}
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			select {
			case s.errors <- err:
			case <-s.done:
				return
			}
		}
	}
}

func fromFSNotify(op fsnotify.Op) Op {
	var out Op
	if op.Has(fsnotify.Create) {
		out |= Create
	}
	if op.Has(fsnotify.Write) {
		out |= Write
	}
	if op.Has(fsnotify.Remove) {
		out |= Remove
	}
	if op.Has(fsnotify.Rename) {
		out |= Rename
	}
	if op.Has(fsnotify.Chmod) {
		out |= Chmod
	}
	return out
}
