// Package heap owns all mutable runtime data outside the operand stacks.
// Objects live in a generational arena addressed by opaque handles; unused
// islands, including cycles, are reclaimed by a mark-sweep pass over the
// arena. Every allocation is charged against the run's resource tracker.
package heap

import (
	"fmt"

	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

// DefaultGCInterval is how many allocations happen between collection
// opportunities when the host doesn't configure one.
const DefaultGCInterval = 256

type cell struct {
	gen  uint32
	obj  Object
	size int64
	mark bool
}

type Heap struct {
	cells   []cell
	free    []uint32
	tracker resource.Tracker

	gcInterval int
	allocs     int
}

func New(tracker resource.Tracker, gcInterval int) *Heap {
	if gcInterval <= 0 {
		gcInterval = DefaultGCInterval
	}
	return &Heap{tracker: tracker, gcInterval: gcInterval}
}

// Allocate places an object in the arena, charging the tracker for its
// size. A charge failure is terminal for the run.
func (h *Heap) Allocate(obj Object) (vm.Handle, error) {
	size := obj.Size()
	if err := h.tracker.ChargeMemory(size); err != nil {
		return vm.Handle{}, err
	}
	h.allocs++
	if len(h.free) > 0 {
		slot := h.free[len(h.free)-1]
		h.free = h.free[:len(h.free)-1]
		c := &h.cells[slot]
		c.obj = obj
		c.size = size
		return vm.Handle{Slot: slot, Gen: c.gen}, nil
	}
	h.cells = append(h.cells, cell{obj: obj, size: size})
	return vm.Handle{Slot: uint32(len(h.cells) - 1), Gen: 0}, nil
}

// Get resolves a handle. Stale handles (freed or from another heap) are a
// typed error, never a misread.
func (h *Heap) Get(hd vm.Handle) (Object, error) {
	if int(hd.Slot) >= len(h.cells) {
		return nil, fmt.Errorf("stale handle: slot %d out of range", hd.Slot)
	}
	c := &h.cells[hd.Slot]
	if c.obj == nil || c.gen != hd.Gen {
		return nil, fmt.Errorf("stale handle: slot %d gen %d", hd.Slot, hd.Gen)
	}
	return c.obj, nil
}

// Grow accounts a size change after in-place mutation of an object.
func (h *Heap) Grow(hd vm.Handle, delta int64) error {
	if int(hd.Slot) >= len(h.cells) {
		return fmt.Errorf("stale handle: slot %d out of range", hd.Slot)
	}
	if delta > 0 {
		if err := h.tracker.ChargeMemory(delta); err != nil {
			return err
		}
	} else if delta < 0 {
		h.tracker.ReleaseMemory(-delta)
	}
	h.cells[hd.Slot].size += delta
	return nil
}

// NeedsCollect reports whether enough allocations have happened since the
// last sweep to warrant one.
func (h *Heap) NeedsCollect() bool {
	return h.allocs >= h.gcInterval
}

// LiveCount returns the number of live objects in the arena.
func (h *Heap) LiveCount() int {
	n := 0
	for i := range h.cells {
		if h.cells[i].obj != nil {
			n++
		}
	}
	return n
}

// Entry is one live arena slot, exposed for snapshotting.
type Entry struct {
	Slot uint32
	Gen  uint32
	Obj  Object
}

// Entries returns all live slots. Used by the snapshot codec.
func (h *Heap) Entries() []Entry {
	out := make([]Entry, 0, len(h.cells))
	for i := range h.cells {
		if h.cells[i].obj != nil {
			out = append(out, Entry{Slot: uint32(i), Gen: h.cells[i].gen, Obj: h.cells[i].obj})
		}
	}
	return out
}

// Restore rebuilds a heap from snapshotted entries. Slot and generation
// numbers are preserved so handles held by frames stay valid. Object sizes
// are not re-charged: the tracker's counters already include them.
func Restore(tracker resource.Tracker, gcInterval int, entries []Entry) *Heap {
	h := New(tracker, gcInterval)
	maxSlot := -1
	for _, e := range entries {
		if int(e.Slot) > maxSlot {
			maxSlot = int(e.Slot)
		}
	}
	h.cells = make([]cell, maxSlot+1)
	for _, e := range entries {
		h.cells[e.Slot] = cell{gen: e.Gen, obj: e.Obj, size: e.Obj.Size()}
	}
	for i := range h.cells {
		if h.cells[i].obj == nil {
			h.free = append(h.free, uint32(i))
		}
	}
	return h
}
