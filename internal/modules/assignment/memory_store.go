// README: In-process assignment store; one atomic head pointer per ride.
package assignment

import (
	"context"
	"sync"
	"sync/atomic"

	"chauffeur/internal/types"
)

// snapshot is immutable once published.
type snapshot struct {
	version int64
	history []Assignment
}

type cell struct {
	head atomic.Pointer[snapshot]
}

// MemoryStore serves single-instance deployments and tests. Rides are
// independent; a swap on one ride never blocks another.
type MemoryStore struct {
	rides sync.Map // types.ID -> *cell
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

var emptySnapshot = &snapshot{}

// load reads a ride's snapshot without creating an entry for unknown rides.
func (m *MemoryStore) load(rideRequestID types.ID) *snapshot {
	if c, ok := m.rides.Load(rideRequestID); ok {
		return c.(*cell).head.Load()
	}
	return emptySnapshot
}

// cell returns the ride's cell, creating it for a write.
func (m *MemoryStore) cell(rideRequestID types.ID) *cell {
	if c, ok := m.rides.Load(rideRequestID); ok {
		return c.(*cell)
	}
	fresh := &cell{}
	fresh.head.Store(&snapshot{})
	c, _ := m.rides.LoadOrStore(rideRequestID, fresh)
	return c.(*cell)
}

func (m *MemoryStore) Head(ctx context.Context, rideRequestID types.ID) (Head, error) {
	if err := ctx.Err(); err != nil {
		return Head{}, err
	}
	snap := m.load(rideRequestID)
	head := Head{RideRequestID: rideRequestID, Version: snap.version}
	if n := len(snap.history); n > 0 {
		active := snap.history[n-1]
		head.Active = &active
	}
	return head, nil
}

func (m *MemoryStore) CompareAndSwap(ctx context.Context, rideRequestID types.ID, expected int64, next Assignment) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c := m.cell(rideRequestID)
	cur := c.head.Load()
	if cur.version != expected {
		return false, nil
	}
	history := make([]Assignment, len(cur.history), len(cur.history)+1)
	copy(history, cur.history)
	history = append(history, next)
	return c.head.CompareAndSwap(cur, &snapshot{version: expected + 1, history: history}), nil
}

func (m *MemoryStore) History(ctx context.Context, rideRequestID types.ID) ([]Assignment, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := m.load(rideRequestID)
	out := make([]Assignment, len(snap.history))
	copy(out, snap.history)
	return linkHistory(out), nil
}
