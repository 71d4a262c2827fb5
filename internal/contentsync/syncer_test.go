package contentsync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/openmined/readmesync/internal/dirwatch"
	"github.com/openmined/readmesync/internal/dirwatch/watchtest"
	"github.com/openmined/readmesync/internal/layout"
	"github.com/openmined/readmesync/internal/metadata"
	"github.com/openmined/readmesync/internal/textfile"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const waitTimeout = 3 * time.Second

// countingStore counts attribute writes.
type countingStore struct {
	metadata.Store
	sets   atomic.Int32
	failN  atomic.Int32
	failed atomic.Int32
}

func (c *countingStore) Set(ctx context.Context, itemID, attr string, v metadata.Value) error {
	if c.failN.Load() > c.failed.Load() {
		c.failed.Add(1)
		return errors.New("database is locked")
	}
	c.sets.Add(1)
	return c.Store.Set(ctx, itemID, attr, v)
}

type stateLog struct {
	mu     sync.Mutex
	states []State
	ch     chan State
}

func newStateLog() *stateLog {
	return &stateLog{ch: make(chan State, 256)}
}

func (l *stateLog) hook(_ string, s State) {
	l.mu.Lock()
	l.states = append(l.states, s)
	l.mu.Unlock()
	select {
	case l.ch <- s:
	default:
	}
}

func (l *stateLog) all() []State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]State(nil), l.states...)
}

type runResult struct {
	res *Result
	err error
}

func runAsync(ctx context.Context, s *Syncer, itemID string) <-chan runResult {
	out := make(chan runResult, 1)
	go func() {
		res, err := s.Run(ctx, itemID)
		out <- runResult{res, err}
	}()
	return out
}

func waitResult(t *testing.T, ch <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-ch:
		return r
	case <-time.After(waitTimeout):
		require.FailNow(t, "content sync did not finish")
		return runResult{}
	}
}

func nextStream(t *testing.T, b *watchtest.Backend) *watchtest.Stream {
	t.Helper()
	select {
	case s := <-b.Opened():
		return s
	case <-time.After(waitTimeout):
		require.FailNow(t, "no watch opened")
		return nil
	}
}

func TestRun_PublishesExistingFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mod-42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("Hello"), 0o644))

	store := metadata.NewMemoryStore()
	states := newStateLog()
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(), store,
		WithScanExisting(true),
		WithStateHook(states.hook),
	)

	res, err := s.Run(t.Context(), "mod-42")
	require.NoError(t, err)
	assert.Equal(t, "Hello", res.Content)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, filepath.Join(dir, "readme.txt"), res.File)

	v, err := store.Get(t.Context(), "mod-42", "readme")
	require.NoError(t, err)
	assert.Equal(t, metadata.Text("Hello"), v)

	assert.Equal(t, []State{StateStarting, StateWatching, StateReading, StatePublished}, states.all())
}

func TestRun_ReinstallWaitsForNewFile(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mod-42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("v1"), 0o644))

	backend := watchtest.NewBackend()
	store := &countingStore{Store: metadata.NewMemoryStore()}
	require.NoError(t, store.Store.Set(t.Context(), "mod-42", "readme", metadata.Text("v1")))
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(dirwatch.WithBackend(backend)), store)

	done := runAsync(t.Context(), s, "mod-42")
	stream := nextStream(t, backend)

	select {
	case r := <-done:
		require.FailNowf(t, "published the stale file", "result %+v err %v", r.res, r.err)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Zero(t, store.sets.Load())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("v2"), 0o644))
	stream.Emit("readme.txt", dirwatch.Create)

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "v2", r.res.Content)

	v, err := store.Get(t.Context(), "mod-42", "readme")
	require.NoError(t, err)
	assert.Equal(t, metadata.Text("v2"), v)
}

func TestRun_ScanExistingKeepsRecordedText(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mod-42")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("v1"), 0o644))

	backend := watchtest.NewBackend()
	store := metadata.NewMemoryStore()
	require.NoError(t, store.Set(t.Context(), "mod-42", "readme", metadata.Text("v1")))
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(dirwatch.WithBackend(backend)), store,
		WithScanExisting(true),
	)

	done := runAsync(t.Context(), s, "mod-42")
	stream := nextStream(t, backend)

	select {
	case r := <-done:
		require.FailNowf(t, "scan replaced recorded text", "result %+v err %v", r.res, r.err)
	case <-time.After(100 * time.Millisecond):
	}

	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("v2"), 0o644))
	stream.Emit("readme.txt", dirwatch.Create)

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "v2", r.res.Content)
}

func TestRun_ScanExistingWithNotFound(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mod-7")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("X"), 0o644))

	store := metadata.NewMemoryStore()
	require.NoError(t, store.Set(t.Context(), "mod-7", "readme", metadata.NotFound()))
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(), store, WithScanExisting(true))

	res, err := s.Run(t.Context(), "mod-7")
	require.NoError(t, err)
	assert.Equal(t, "X", res.Content)
}

func TestRun_WaitsForFileCreation(t *testing.T) {
	root := t.TempDir()
	store := metadata.NewMemoryStore()
	states := newStateLog()
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(), store, WithStateHook(states.hook))

	done := runAsync(t.Context(), s, "mod-42")

	for st := range states.ch {
		if st == StateWatching {
			break
		}
	}
	dir := filepath.Join(root, "mod-42")
	require.DirExists(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "mod.esp"), []byte("bin"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte("Hello"), 0o644))

	r := waitResult(t, done)
	require.NoError(t, r.err)

	v, err := store.Get(t.Context(), "mod-42", "readme")
	require.NoError(t, err)
	assert.Equal(t, metadata.Text("Hello"), v)
}

func TestRun_FailedReadRestartsAndPublishesOnce(t *testing.T) {
	root := t.TempDir()
	backend := watchtest.NewBackend()
	store := &countingStore{Store: metadata.NewMemoryStore()}
	states := newStateLog()
	s := New(
		layout.New(layout.StaticRoot(root)),
		dirwatch.New(dirwatch.WithBackend(backend)),
		store,
		WithScanExisting(false),
		WithStateHook(states.hook),
	)

	done := runAsync(t.Context(), s, "mod-42")

	// detected, but gone before the read
	first := nextStream(t, backend)
	first.Emit("readme.txt", dirwatch.Create)

	second := nextStream(t, backend)
	assert.True(t, first.IsClosed())
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod-42", "readme.txt"), []byte("stable"), 0o644))
	second.Emit("readme.txt", dirwatch.Create)

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "stable", r.res.Content)
	assert.Equal(t, 2, r.res.Attempts)
	assert.Equal(t, int32(1), store.sets.Load())
	assert.Contains(t, states.all(), StateRestarting)

	v, err := store.Get(t.Context(), "mod-42", "readme")
	require.NoError(t, err)
	assert.Equal(t, metadata.Text("stable"), v)
}

func TestRun_WatchErrorReResolvesDirectory(t *testing.T) {
	rootA := t.TempDir()
	rootB := t.TempDir()
	var calls atomic.Int32
	resolver := layout.New(func() (string, error) {
		if calls.Add(1) == 1 {
			return rootA, nil
		}
		return rootB, nil
	})

	backend := watchtest.NewBackend()
	store := metadata.NewMemoryStore()
	s := New(resolver, dirwatch.New(dirwatch.WithBackend(backend)), store, WithScanExisting(false))

	done := runAsync(t.Context(), s, "mod-1")

	first := nextStream(t, backend)
	assert.Equal(t, filepath.Join(rootA, "mod-1"), first.Dir)
	first.Emit("", dirwatch.Remove)

	second := nextStream(t, backend)
	assert.Equal(t, filepath.Join(rootB, "mod-1"), second.Dir)
	require.NoError(t, os.WriteFile(filepath.Join(rootB, "mod-1", "info.txt"), []byte("moved"), 0o644))
	second.Emit("info.txt", dirwatch.Create)

	r := waitResult(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, "moved", r.res.Content)
	assert.Equal(t, filepath.Join(rootB, "mod-1"), r.res.Dir)
}

func TestRun_ConfigErrorIsFatal(t *testing.T) {
	backend := watchtest.NewBackend()
	s := New(layout.New(nil), dirwatch.New(dirwatch.WithBackend(backend)), metadata.NewMemoryStore())

	_, err := s.Run(t.Context(), "mod-1")
	require.Error(t, err)
	assert.True(t, layout.IsConfigError(err))
	assert.ErrorIs(t, err, layout.ErrNoInstallRoot)
	assert.Empty(t, backend.Streams())
}

func TestRun_MaxAttempts(t *testing.T) {
	backend := watchtest.NewBackend()
	backend.RefuseNext(100)
	s := New(
		layout.New(layout.StaticRoot(t.TempDir())),
		dirwatch.New(dirwatch.WithBackend(backend)),
		metadata.NewMemoryStore(),
		WithPolicy(Policy{MaxAttempts: 3}),
	)

	_, err := s.Run(t.Context(), "mod-1")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	var werr *dirwatch.WatchError
	assert.ErrorAs(t, err, &werr)
	assert.Contains(t, err.Error(), "after 3 attempts")
}

func TestRun_WatchTimeout(t *testing.T) {
	backend := watchtest.NewBackend()
	s := New(
		layout.New(layout.StaticRoot(t.TempDir())),
		dirwatch.New(dirwatch.WithBackend(backend)),
		metadata.NewMemoryStore(),
		WithPolicy(Policy{MaxAttempts: 2, WatchTimeout: 20 * time.Millisecond}),
	)

	_, err := s.Run(t.Context(), "mod-1")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrWatchTimeout)

	streams := backend.Streams()
	require.Len(t, streams, 2)
	for _, st := range streams {
		assert.True(t, st.IsClosed(), "every session must release its watch")
	}
}

func TestRun_PublishFailureRestarts(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "mod-1"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "mod-1", "readme.txt"), []byte("Hi"), 0o644))

	store := &countingStore{Store: metadata.NewMemoryStore()}
	store.failN.Store(1)
	s := New(layout.New(layout.StaticRoot(root)), dirwatch.New(), store, WithScanExisting(true))

	res, err := s.Run(t.Context(), "mod-1")
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, int32(1), store.sets.Load())
}

func TestRun_InvalidEncodingRestarts(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "mod-1")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.txt"), []byte{0xff, 0x00, 0xc3}, 0o644))

	s := New(
		layout.New(layout.StaticRoot(root)),
		dirwatch.New(),
		metadata.NewMemoryStore(),
		WithScanExisting(true),
		WithPolicy(Policy{MaxAttempts: 2}),
	)

	_, err := s.Run(t.Context(), "mod-1")
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, textfile.ErrInvalidEncoding)
	var ioErr *IOError
	assert.ErrorAs(t, err, &ioErr)
}

func TestRun_ContextCancelClosesSession(t *testing.T) {
	backend := watchtest.NewBackend()
	s := New(
		layout.New(layout.StaticRoot(t.TempDir())),
		dirwatch.New(dirwatch.WithBackend(backend)),
		metadata.NewMemoryStore(),
	)

	ctx, cancel := context.WithCancel(t.Context())
	done := runAsync(ctx, s, "mod-1")
	stream := nextStream(t, backend)
	cancel()

	r := waitResult(t, done)
	assert.ErrorIs(t, r.err, context.Canceled)
	assert.True(t, stream.IsClosed())
}

func TestPolicyDelay(t *testing.T) {
	p := Policy{Backoff: 100 * time.Millisecond, MaxBackoff: time.Second}
	assert.Equal(t, time.Duration(0), Policy{}.delay(5))
	assert.Equal(t, 100*time.Millisecond, p.delay(1))
	assert.Equal(t, 200*time.Millisecond, p.delay(2))
	assert.Equal(t, 800*time.Millisecond, p.delay(4))
	assert.Equal(t, time.Second, p.delay(5))
	assert.Equal(t, time.Second, p.delay(500))

	uncapped := Policy{Backoff: time.Millisecond}
	assert.Positive(t, uncapped.delay(200))

	assert.False(t, Policy{}.exhausted(1000))
	assert.True(t, Policy{MaxAttempts: 2}.exhausted(2))
}
