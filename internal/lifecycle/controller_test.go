package lifecycle

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, timeout time.Duration, check func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if check() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout waiting condition")
}

type fakeEngine struct {
	mu        sync.Mutex
	active    int
	persisted int
	promoted  int
	network   []bool
	idle      chan struct{}
}

func newFakeEngine(active int) *fakeEngine {
	return &fakeEngine{active: active, idle: make(chan struct{})}
}

func (e *fakeEngine) ActiveCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.active
}

func (e *fakeEngine) Persist() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.persisted++
}

func (e *fakeEngine) Promote() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.promoted++
}

func (e *fakeEngine) SetNetworkAvailable(available bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.network = append(e.network, available)
}

func (e *fakeEngine) WaitIdle(ctx context.Context) error {
	select {
	case <-e.idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *fakeEngine) drain() {
	e.mu.Lock()
	e.active = 0
	e.mu.Unlock()
	close(e.idle)
}

type fakeExtender struct {
	mu        sync.Mutex
	requested int
	released  int
}

func (x *fakeExtender) RequestExtraTime() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.requested++
}

func (x *fakeExtender) Release() {
	x.mu.Lock()
	defer x.mu.Unlock()
	x.released++
}

func (x *fakeExtender) counts() (int, int) {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.requested, x.released
}

func TestController_BackgroundWithActiveUploads(t *testing.T) {
	engine := newFakeEngine(1)
	ext := &fakeExtender{}
	c := NewController(engine, ext, newTestLogger())
	defer c.Close()

	c.EnterBackground()
	c.EnterBackground()

	requested, released := ext.counts()
	assert.Equal(t, 1, requested)
	assert.Equal(t, 0, released)
	assert.Equal(t, 2, engine.persisted)

	engine.drain()
	waitFor(t, 5*time.Second, func() bool {
		_, released := ext.counts()
		return released == 1
	})

	c.EnterForeground()
	_, released = ext.counts()
	assert.Equal(t, 1, released)
}

func TestController_BackgroundWhenIdle(t *testing.T) {
	engine := newFakeEngine(0)
	ext := &fakeExtender{}
	c := NewController(engine, ext, newTestLogger())
	defer c.Close()

	c.EnterBackground()

	requested, _ := ext.counts()
	assert.Zero(t, requested)
	assert.Equal(t, 1, engine.persisted)
}

func TestController_ForegroundReleasesAndPromotes(t *testing.T) {
	engine := newFakeEngine(2)
	ext := &fakeExtender{}
	c := NewController(engine, ext, newTestLogger())

	c.EnterBackground()
	c.EnterForeground()
	c.EnterForeground()

	requested, released := ext.counts()
	assert.Equal(t, 1, requested)
	assert.Equal(t, 1, released)
	assert.Equal(t, 2, engine.promoted)

	c.Close()
	_, released = ext.counts()
	assert.Equal(t, 1, released)
}

func TestController_Network(t *testing.T) {
	engine := newFakeEngine(0)
	c := NewController(engine, &fakeExtender{}, newTestLogger())
	defer c.Close()

	c.Handle(EventNetworkLost)
	c.Handle(EventNetworkRestored)

	assert.Equal(t, []bool{false, true}, engine.network)
}

func TestParseEvent(t *testing.T) {
	for _, name := range []string{"background", "foreground", "network-lost", "network-restored"} {
		ev, err := ParseEvent(name)
		require.NoError(t, err)
		assert.Equal(t, Event(name), ev)
	}

	_, err := ParseEvent("sleep")
	assert.Error(t, err)
}
