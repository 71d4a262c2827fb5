package dirwatch

import (
	"fmt"
	"strings"
)

type Op uint8

const (
	Create Op = 1 << iota
	Write
	Remove
	Rename
	Chmod
)

func (op Op) String() string {
	var parts []string
	for _, p := range []struct {
		op   Op
		name string
	}{{Create, "CREATE"}, {Write, "WRITE"}, {Remove, "REMOVE"}, {Rename, "RENAME"}, {Chmod, "CHMOD"}} {
		if op&p.op != 0 {
			parts = append(parts, p.name)
		}
	}
	if len(parts) == 0 {
		return "NONE"
	}
	return strings.Join(parts, "|")
}

// Event is a backend-neutral filesystem notification.
type Event struct {
	Path string
	Op   Op
}

func (e Event) Has(op Op) bool {
	return e.Op&op != 0
}

// Stream is an open, continuous, non-recursive watch on one directory.
// Both channels are closed once the stream shuts down.
type Stream interface {
	Events() <-chan Event
	Errors() <-chan error
	Close() error
}

// Backend opens OS-level watches.
type Backend interface {
	Name() string
	Open(dir string) (Stream, error)
}

// BackendByName returns "fsnotify" (default) or "notify".
func BackendByName(name string) (Backend, error) {
	switch name {
	case "", "fsnotify":
		return FSNotifyBackend{}, nil
	case "notify":
		return NotifyBackend{}, nil
	default:
		return nil, fmt.Errorf("unknown watch backend %q", name)
	}
}
