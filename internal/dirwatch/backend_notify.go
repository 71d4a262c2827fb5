package dirwatch

import (
	"sync"

	"github.com/rjeczalik/notify"
)

// NotifyBackend watches through github.com/rjeczalik/notify, which uses
// FSEvents on macOS and ReadDirectoryChangesW on Windows.
type NotifyBackend struct{}

func (NotifyBackend) Name() string { return "notify" }

func (NotifyBackend) Open(dir string) (Stream, error) {
	raw := make(chan notify.EventInfo, eventBufferSize)
	if err := notify.Watch(dir, raw, notify.Create, notify.Write, notify.Remove, notify.Rename); err != nil {
		return nil, err
	}

	s := &notifyStream{
		raw:    raw,
		events: make(chan Event, eventBufferSize),
		errors: make(chan error),
		done:   make(chan struct{}),
	}
	go s.pump()
	return s, nil
}

type notifyStream struct {
	raw    chan notify.EventInfo
	events chan Event
	errors chan error // notify has no error channel; closed on shutdown
	done   chan struct{}
	once   sync.Once
}

func (s *notifyStream) Events() <-chan Event { return s.events }
func (s *notifyStream) Errors() <-chan error { return s.errors }

func (s *notifyStream) Close() error {
	s.once.Do(func() {
		// Stop does not close raw
		notify.Stop(s.raw)
		close(s.done)
	})
	return nil
}

func (s *notifyStream) pump() {
	defer close(s.events)
	defer close(s.errors)

	for {
		select {
		case <-s.done:
			return
		case ei := <-s.raw:
			select {
			case s.events <- Event{Path: ei.Path(), Op: fromNotify(ei.Event())}:
			case <-s.done:
				return
			}
		}
	}
}

func fromNotify(ev notify.Event) Op {
	var out Op
	if ev&notify.Create != 0 {
		out |= Create
	}
	if ev&notify.Write != 0 {
		out |= Write
	}
	if ev&notify.Remove != 0 {
		out |= Remove
	}
	if ev&notify.Rename != 0 {
		out |= Rename
	}
	return out
}
