package state

import (
	"log/slog"
	"sync"

	"github.com/c360/previewsync/errors"
)

// Observer receives the post-reduction snapshot and the action that
// produced it. Observers are invoked synchronously, in registration
// order, from within the dispatch that applied the action.
//
// An observer must not block and must not rely on dispatching new
// actions taking effect before its own notification cycle completes:
// actions dispatched while a notification is in flight are queued and
// applied afterwards, in arrival order.
type Observer func(State, Action)

type subscription struct {
	id int
	fn Observer
}

// Container is the sole mutable authority over the composite preview
// state. All mutation flows through Dispatch.
type Container struct {
	mu        sync.Mutex
	state     State
	subs      []subscription
	nextSubID int
	notifying bool
	pending   []Action
	logger    *slog.Logger
}

// Option is a functional option for configuring a Container.
type Option func(*Container)

// WithLogger sets the container's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Container) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInitial replaces the default initial state. Intended for tests
// that need to start mid-scenario.
func WithInitial(s State) Option {
	return func(c *Container) {
		c.state = s
	}
}

// NewContainer creates a container in the initial state: closed
// connection, default viewport, zoom 1, idle export.
func NewContainer(opts ...Option) *Container {
	c := &Container{
		state:  initialState(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Snapshot returns a copy of the current composite state.
func (c *Container) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an observer and returns its unsubscribe function.
// Observers are notified in registration order.
func (c *Container) Subscribe(fn Observer) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subs = append(c.subs, subscription{id: id, fn: fn})

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, s := range c.subs {
			if s.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

// Dispatch applies one action through the reducer and notifies observers
// with the resulting snapshot.
//
// Dispatches are serialized: concurrent callers apply their actions one
// at a time, in arrival order. A dispatch issued while a notification
// cycle is in flight (including reentrant dispatch from an observer
// callback) does not run the reducer recursively; the action is queued
// and applied by the in-flight cycle after the current notification
// completes, preserving ordering.
func (c *Container) Dispatch(a Action) error {
	if a == nil {
		return errors.WrapInvalid(errors.ErrNilAction, "state", "Dispatch", "validate action")
	}

	c.mu.Lock()
	if c.notifying {
		// Reentrant or concurrent-with-notification dispatch: defer it to
		// the cycle that is already running.
		c.pending = append(c.pending, a)
		c.mu.Unlock()
		return nil
	}
	c.notifying = true

	for next := a; ; {
		c.state = reduce(c.state, next)
		snapshot := c.state
		subs := make([]subscription, len(c.subs))
		copy(subs, c.subs)
		c.mu.Unlock()

		for _, s := range subs {
			s.fn(snapshot, next)
		}

		c.mu.Lock()
		if len(c.pending) == 0 {
			break
		}
		next = c.pending[0]
		c.pending = c.pending[1:]
	}

	c.notifying = false
	c.mu.Unlock()
	return nil
}
