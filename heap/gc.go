package heap

import "github.com/hibervm-dev/hibervm/vm"

// Collect runs a mark-sweep pass over the arena. Roots are every value the
// engine can still reach: globals, operand stacks, locals, iterator state,
// and pending external-call arguments. Unreachable islands are reclaimed
// even when they contain reference cycles.
func (h *Heap) Collect(roots []vm.Value) {
	for i := range h.cells {
		h.cells[i].mark = false
	}

	stack := make([]vm.Handle, 0, len(roots))
	var push func(v vm.Value)
	push = func(v vm.Value) {
		switch t := v.(type) {
		case vm.RefValue:
			stack = append(stack, t.Handle())
		case vm.ArgValue:
			// call arguments waiting on an operand stack wrap their value
			push(t.Value)
		}
	}
	for _, v := range roots {
		push(v)
	}
	for len(stack) > 0 {
		hd := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if int(hd.Slot) >= len(h.cells) {
			continue
		}
		c := &h.cells[hd.Slot]
		if c.obj == nil || c.gen != hd.Gen || c.mark {
			continue
		}
		c.mark = true
		for _, v := range c.obj.Values() {
			push(v)
		}
	}

	for i := range h.cells {
		c := &h.cells[i]
		if c.obj != nil && !c.mark {
			h.tracker.ReleaseMemory(c.size)
			c.obj = nil
			c.size = 0
			c.gen++
			h.free = append(h.free, uint32(i))
		}
	}
	h.allocs = 0
}
