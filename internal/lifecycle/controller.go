package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Event is an application lifecycle transition.
type Event string

const (
	EventBackground      Event = "background"
	EventForeground      Event = "foreground"
	EventNetworkLost     Event = "network-lost"
	EventNetworkRestored Event = "network-restored"
)

// ParseEvent maps a transition name onto an Event.
func ParseEvent(name string) (Event, error) {
	switch e := Event(name); e {
	case EventBackground, EventForeground, EventNetworkLost, EventNetworkRestored:
		return e, nil
	}
	return "", fmt.Errorf("unknown lifecycle event: %q", name)
}

// Extender asks the host platform for extra execution time while the
// application is suspended.
type Extender interface {
	RequestExtraTime()
	Release()
}

// Engine is the part of the upload scheduler the controller drives.
type Engine interface {
	ActiveCount() int
	Persist()
	Promote()
	SetNetworkAvailable(available bool)
	WaitIdle(ctx context.Context) error
}

// Controller reacts to lifecycle transitions.
type Controller struct {
	engine   Engine
	extender Extender
	logger   *slog.Logger

	mu          sync.Mutex
	extended    bool
	generation  uint64
	cancelWatch context.CancelFunc
	wg          sync.WaitGroup
}

func NewController(engine Engine, extender Extender, logger *slog.Logger) *Controller {
	return &Controller{
		engine:   engine,
		extender: extender,
		logger:   logger,
	}
}

// Handle dispatches event to the matching transition.
func (c *Controller) Handle(event Event) {
	switch event {
	case EventBackground:
		c.EnterBackground()
	case EventForeground:
		c.EnterForeground()
	case EventNetworkLost:
		c.NetworkLost()
	case EventNetworkRestored:
		c.NetworkRestored()
	}
}

// EnterBackground persists the engine and, while transfers are in flight,
// holds extra execution time until they finish.
func (c *Controller) EnterBackground() {
	c.engine.Persist()

	active := c.engine.ActiveCount()
	c.logger.Info("entering background", "active_uploads", active)
	if active == 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.extended {
		return
	}
	c.extended = true
	c.generation++
	gen := c.generation
	c.extender.RequestExtraTime()

	ctx, cancel := context.WithCancel(context.Background())
	c.cancelWatch = cancel
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if err := c.engine.WaitIdle(ctx); err != nil {
			return
		}
		c.logger.Debug("uploads drained in background")
		c.release(gen)
	}()
}

// EnterForeground gives back any extra time and refills free slots.
func (c *Controller) EnterForeground() {
	c.logger.Info("entering foreground")

	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.release(gen)

	c.engine.Promote()
}

// NetworkLost stops new transfers from starting.
func (c *Controller) NetworkLost() {
	c.logger.Info("network lost")
	c.engine.SetNetworkAvailable(false)
}

// NetworkRestored resumes promotion.
func (c *Controller) NetworkRestored() {
	c.logger.Info("network restored")
	c.engine.SetNetworkAvailable(true)
}

// Close releases any held extension and stops the idle watcher.
func (c *Controller) Close() {
	c.mu.Lock()
	gen := c.generation
	c.mu.Unlock()
	c.release(gen)
	c.wg.Wait()
}

// release ends the extension started in generation gen, if still held.
func (c *Controller) release(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.extended || c.generation != gen {
		return
	}
	c.extended = false
	if c.cancelWatch != nil {
		c.cancelWatch()
		c.cancelWatch = nil
	}
	c.extender.Release()
}
