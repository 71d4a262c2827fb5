// Package watchtest provides a scriptable dirwatch.Backend for tests.
package watchtest

import (
	"errors"
	"path/filepath"
	"sync"

	"github.com/openmined/readmesync/internal/dirwatch"
)

var ErrOpenRefused = errors.New("watchtest: open refused")

// Backend records every stream it opens. Tests push events into the most
// recent stream with Emit / Fail.
type Backend struct {
	mu      sync.Mutex
	streams []*Stream
	opened  chan *Stream
	refuse  int
}

func NewBackend() *Backend {
	return &Backend{opened: make(chan *Stream, 1024)}
}

func (b *Backend) Name() string { return "watchtest" }

// RefuseNext makes the next n Open calls fail.
func (b *Backend) RefuseNext(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse = n
}

func (b *Backend) Open(dir string) (dirwatch.Stream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.refuse > 0 {
		b.refuse--
		return nil, ErrOpenRefused
	}

	s := &Stream{
		Dir:    filepath.Clean(dir),
		events: make(chan dirwatch.Event, 64),
		errors: make(chan error, 8),
		closed: make(chan struct{}),
	}
	b.streams = append(b.streams, s)
	select {
	case b.opened <- s:
	default:
	}
	return s, nil
}

// Opened yields streams in the order they were opened.
func (b *Backend) Opened() <-chan *Stream {
	return b.opened
}

func (b *Backend) Streams() []*Stream {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Stream(nil), b.streams...)
}

type Stream struct {
	Dir string

	events chan dirwatch.Event
	errors chan error
	closed chan struct{}
	once   sync.Once
}

func (s *Stream) Events() <-chan dirwatch.Event { return s.events }
func (s *Stream) Errors() <-chan error          { return s.errors }

func (s *Stream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

// Closed is closed when the watch handle was released.
func (s *Stream) Closed() <-chan struct{} {
	return s.closed
}

func (s *Stream) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

// Emit delivers an event for name (relative to the watched dir) unless the
// stream is already closed.
func (s *Stream) Emit(name string, op dirwatch.Op) bool {
	path := s.Dir
	if name != "" {
		path = filepath.Join(s.Dir, name)
	}
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.events <- dirwatch.Event{Path: path, Op: op}:
		return true
	case <-s.closed:
		return false
	}
}

// Fail delivers an OS-level error.
func (s *Stream) Fail(err error) bool {
	select {
	case <-s.closed:
		return false
	default:
	}
	select {
	case s.errors <- err:
		return true
	case <-s.closed:
		return false
	}
}
