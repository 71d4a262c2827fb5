// Package metadata is the attribute store the sync agent publishes into.
package metadata

import (
	"context"
	"errors"
	"sync"
)

var (
	ErrItemNotFound = errors.New("item not found")
	ErrBadStatus    = errors.New("invalid item status")
	ErrStoreClosed  = errors.New("store closed")
)

// Store is keyed by (item id, attribute name). Implementations serialize writes
// and signal every subscriber after each successful mutation.
type Store interface {
	Get(ctx context.Context, itemID, attr string) (Value, error)
	Set(ctx context.Context, itemID, attr string, v Value) error

	PutItem(ctx context.Context, item Item) error
	GetItem(ctx context.Context, itemID string) (Item, error)
	Items(ctx context.Context) ([]Item, error)

	// Subscribe returns a channel that receives a signal after mutations.
	// Signals coalesce: a slow reader sees one pending signal, not a backlog.
	Subscribe() (<-chan struct{}, func())

	Close() error
}

// changeFeed fans a "metadata changed" signal out to subscribers.
type changeFeed struct {
	mu     sync.Mutex
	next   int
	subs   map[int]chan struct{}
	closed bool
}

func newChangeFeed() *changeFeed {
	return &changeFeed{subs: make(map[int]chan struct{})}
}

func (f *changeFeed) subscribe() (<-chan struct{}, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		ch := make(chan struct{})
		close(ch)
		return ch, func() {}
	}

	id := f.next
	f.next++
	ch := make(chan struct{}, 1)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if sub, ok := f.subs[id]; ok {
				delete(f.subs, id)
				close(sub)
			}
		})
	}
}

func (f *changeFeed) notify() {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, ch := range f.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (f *changeFeed) close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.closed = true
	for id, ch := range f.subs {
		delete(f.subs, id)
		close(ch)
	}
}
