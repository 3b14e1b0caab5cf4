package wsclient

import (
	"github.com/c360/previewsync/errors"
	"github.com/c360/previewsync/message"
)

// OverflowPolicy selects what happens when an envelope is queued while
// the offline queue is full.
type OverflowPolicy string

const (
	// DropOldest evicts the oldest queued envelope to make room. The
	// evicted envelope is reported through the drop callback.
	DropOldest OverflowPolicy = "drop_oldest"
	// RejectNewest refuses the new envelope; Send returns ErrQueueFull.
	RejectNewest OverflowPolicy = "reject_newest"
)

// IsValid reports whether p is a known overflow policy.
func (p OverflowPolicy) IsValid() bool {
	return p == DropOldest || p == RejectNewest
}

// offlineQueue is the bounded FIFO holding outbound envelopes while the
// transport is not open. It is not safe for concurrent use; the manager
// guards it with its own mutex.
type offlineQueue struct {
	items    []*message.Envelope
	capacity int
	policy   OverflowPolicy
}

func newOfflineQueue(capacity int, policy OverflowPolicy) *offlineQueue {
	return &offlineQueue{
		capacity: capacity,
		policy:   policy,
	}
}

// push appends an envelope, applying the overflow policy when full.
// Returns the evicted envelope under DropOldest, or ErrQueueFull under
// RejectNewest.
func (q *offlineQueue) push(env *message.Envelope) (dropped *message.Envelope, err error) {
	if len(q.items) >= q.capacity {
		if q.policy == RejectNewest {
			return nil, errors.ErrQueueFull
		}
		dropped = q.items[0]
		q.items = q.items[1:]
	}
	q.items = append(q.items, env)
	return dropped, nil
}

// pop removes and returns the oldest queued envelope.
func (q *offlineQueue) pop() (*message.Envelope, bool) {
	if len(q.items) == 0 {
		return nil, false
	}
	env := q.items[0]
	q.items = q.items[1:]
	return env, true
}

// pushFront returns an envelope to the head of the queue. Used when a
// flush write fails mid-drain so the envelope is retransmitted first on
// the next reconnect.
func (q *offlineQueue) pushFront(env *message.Envelope) {
	q.items = append([]*message.Envelope{env}, q.items...)
}

func (q *offlineQueue) len() int {
	return len(q.items)
}
