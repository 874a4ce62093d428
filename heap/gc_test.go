package heap

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

func TestCollectKeepsRooted(t *testing.T) {
	h := New(resource.NewNoLimit(), 0)
	a, err := h.Allocate(&List{Elems: []vm.Value{vm.IntValue(1)}})
	require.NoError(t, err)
	b, err := h.Allocate(&List{Elems: []vm.Value{vm.NewRef(a)}})
	require.NoError(t, err)
	_, err = h.Allocate(&Dict{})
	require.NoError(t, err)

	// b is rooted and reaches a; the dict is garbage
	h.Collect([]vm.Value{vm.NewRef(b)})
	assert.Equal(t, 2, h.LiveCount())
	_, err = h.Get(a)
	assert.NoError(t, err)
	_, err = h.Get(b)
	assert.NoError(t, err)
}

func TestCollectReclaimsCycle(t *testing.T) {
	tr := resource.NewNoLimit()
	h := New(tr, 0)
	a, err := h.Allocate(&List{})
	require.NoError(t, err)
	b, err := h.Allocate(&List{Elems: []vm.Value{vm.NewRef(a)}})
	require.NoError(t, err)
	objA, err := h.Get(a)
	require.NoError(t, err)
	objA.(*List).Elems = append(objA.(*List).Elems, vm.NewRef(b))

	h.Collect(nil)
	assert.Equal(t, 0, h.LiveCount())
	assert.Equal(t, int64(0), tr.Counters().HeapBytes)
}

func TestCollectReleasesMemory(t *testing.T) {
	tr := resource.NewLimited(resource.Limits{MaxHeapBytes: 4096})
	h := New(tr, 0)
	keep, err := h.Allocate(&Bytes{Data: make([]byte, 300)})
	require.NoError(t, err)
	_, err = h.Allocate(&Bytes{Data: make([]byte, 300)})
	require.NoError(t, err)

	kept, err := h.Get(keep)
	require.NoError(t, err)
	h.Collect([]vm.Value{vm.NewRef(keep)})
	assert.Equal(t, kept.Size(), tr.Counters().HeapBytes)
}

func TestFreedSlotReusedWithNewGeneration(t *testing.T) {
	h := New(resource.NewNoLimit(), 0)
	old, err := h.Allocate(&List{})
	require.NoError(t, err)
	h.Collect(nil)

	fresh, err := h.Allocate(&Dict{})
	require.NoError(t, err)
	assert.Equal(t, old.Slot, fresh.Slot)
	assert.Equal(t, old.Gen+1, fresh.Gen)

	_, err = h.Get(old)
	require.Error(t, err)
	_, err = h.Get(fresh)
	require.NoError(t, err)
}

func TestNeedsCollect(t *testing.T) {
	h := New(resource.NewNoLimit(), 2)
	assert.False(t, h.NeedsCollect())
	_, err := h.Allocate(&List{})
	require.NoError(t, err)
	_, err = h.Allocate(&List{})
	require.NoError(t, err)
	assert.True(t, h.NeedsCollect())

	h.Collect(nil)
	assert.False(t, h.NeedsCollect())
}
