package metadata

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type attrKey struct {
	itemID string
	attr   string
}

// MemoryStore keeps everything in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	items  map[string]Item
	attrs  map[attrKey]Value
	feed   *changeFeed
	closed bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		items: make(map[string]Item),
		attrs: make(map[attrKey]Value),
		feed:  newChangeFeed(),
	}
}

func (m *MemoryStore) Get(ctx context.Context, itemID, attr string) (Value, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Absent(), ErrStoreClosed
	}
	return m.attrs[attrKey{itemID, attr}], nil
}

func (m *MemoryStore) Set(ctx context.Context, itemID, attr string, v Value) error {
	if err := m.write(func() {
		if v.Present() {
			m.attrs[attrKey{itemID, attr}] = v
		} else {
			delete(m.attrs, attrKey{itemID, attr})
		}
	}); err != nil {
		return err
	}
	m.feed.notify()
	return nil
}

func (m *MemoryStore) PutItem(ctx context.Context, item Item) error {
	if _, err := ParseStatus(string(item.Status)); err != nil {
		return err
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = time.Now().UTC()
	}
	if err := m.write(func() { m.items[item.ID] = item }); err != nil {
		return err
	}
	m.feed.notify()
	return nil
}

func (m *MemoryStore) GetItem(ctx context.Context, itemID string) (Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return Item{}, ErrStoreClosed
	}
	item, ok := m.items[itemID]
	if !ok {
		return Item{}, ErrItemNotFound
	}
	return item, nil
}

func (m *MemoryStore) Items(ctx context.Context) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}
	items := make([]Item, 0, len(m.items))
	for _, item := range m.items {
		items = append(items, item)
	}
	slices.SortFunc(items, func(a, b Item) int { return strings.Compare(a.ID, b.ID) })
	return items, nil
}

func (m *MemoryStore) Subscribe() (<-chan struct{}, func()) {
	return m.feed.subscribe()
}

func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		m.feed.close()
	}
	return nil
}

func (m *MemoryStore) write(fn func()) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}
	fn()
	return nil
}
