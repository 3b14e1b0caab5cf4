package state

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/previewsync/device"
	"github.com/c360/previewsync/errors"
)

func TestNewContainer_InitialState(t *testing.T) {
	c := NewContainer()
	s := c.Snapshot()

	assert.Equal(t, StatusClosed, s.Connection.Status)
	assert.Equal(t, 0, s.Connection.ReconnectAttempts)
	assert.Equal(t, device.Default(), s.View.Viewport)
	assert.Equal(t, 1.0, s.View.Zoom)
	assert.Equal(t, Pan{}, s.View.Pan)
	assert.False(t, s.Export.Active)
}

func TestDispatch_NilAction(t *testing.T) {
	c := NewContainer()
	err := c.Dispatch(nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNilAction)
}

// Observers run synchronously, in registration order, with the
// post-reduction snapshot and the action that produced it.
func TestSubscribe_RegistrationOrder(t *testing.T) {
	c := NewContainer()

	var order []string
	c.Subscribe(func(State, Action) { order = append(order, "first") })
	c.Subscribe(func(State, Action) { order = append(order, "second") })
	c.Subscribe(func(State, Action) { order = append(order, "third") })

	require.NoError(t, c.Dispatch(ZoomSet{Zoom: 2}))
	assert.Equal(t, []string{"first", "second", "third"}, order)
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	c := NewContainer()

	calls := 0
	unsub := c.Subscribe(func(State, Action) { calls++ })

	require.NoError(t, c.Dispatch(PanReset{}))
	unsub()
	require.NoError(t, c.Dispatch(PanReset{}))

	assert.Equal(t, 1, calls)

	// Unsubscribing twice is harmless
	unsub()
}

// A snapshot taken by an observer must never mix a partially applied
// transition: the observed state is the exact post-reduction value.
func TestDispatch_ObserverSeesAppliedState(t *testing.T) {
	c := NewContainer()

	var seen State
	c.Subscribe(func(s State, _ Action) { seen = s })

	require.NoError(t, c.Dispatch(ZoomSet{Zoom: 2.5}))
	assert.Equal(t, 2.5, seen.View.Zoom)
	assert.Equal(t, seen, c.Snapshot())
}

// Dispatching from inside an observer callback must not deadlock or run
// the reducer reentrantly; the action applies after the current
// notification completes.
func TestDispatch_ReentrantDeferred(t *testing.T) {
	c := NewContainer()

	var zooms []float64
	first := true
	c.Subscribe(func(s State, a Action) {
		if _, ok := a.(ZoomSet); !ok {
			return
		}
		zooms = append(zooms, s.View.Zoom)
		if first {
			first = false
			require.NoError(t, c.Dispatch(ZoomSet{Zoom: 0.5}))
		}
	})

	require.NoError(t, c.Dispatch(ZoomSet{Zoom: 2.0}))

	assert.Equal(t, []float64{2.0, 0.5}, zooms)
	assert.Equal(t, 0.5, c.Snapshot().View.Zoom)
}

// Concurrent dispatches serialize; every action is observed exactly once.
func TestDispatch_ConcurrentSerialized(t *testing.T) {
	c := NewContainer()

	var mu sync.Mutex
	count := 0
	c.Subscribe(func(_ State, a Action) {
		if _, ok := a.(PanSet); ok {
			mu.Lock()
			count++
			mu.Unlock()
		}
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, c.Dispatch(PanSet{X: float64(i)}))
		}(i)
	}
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 32, count)
}

func TestWithInitial(t *testing.T) {
	seed := State{View: ViewState{Zoom: 2.0}}
	c := NewContainer(WithInitial(seed))
	assert.Equal(t, 2.0, c.Snapshot().View.Zoom)
}

func TestConnectionStatus_String(t *testing.T) {
	tests := []struct {
		status   ConnectionStatus
		expected string
	}{
		{StatusClosed, "closed"},
		{StatusConnecting, "connecting"},
		{StatusOpen, "open"},
		{StatusClosing, "closing"},
		{ConnectionStatus(99), "unknown"},
	}

	for _, test := range tests {
		assert.Equal(t, test.expected, test.status.String(), fmt.Sprint(test.status))
	}
}
