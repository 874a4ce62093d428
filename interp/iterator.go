package interp

import (
	"github.com/rs/zerolog/log"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

func newIteratorState(h *heap.Heap, iterable vm.Value, start, end vm.ExecPtr, varNames []string) (*IteratorState, error) {
	it := &IteratorState{
		Start:    start,
		End:      end,
		VarNames: varNames,
		Source:   iterable,
		Index:    -1,
	}
	switch src := iterable.(type) {
	case vm.StrValue:
		return it, nil
	case vm.RefValue:
		obj, err := h.Get(src.Handle())
		if err != nil {
			return nil, err
		}
		switch o := obj.(type) {
		case *heap.List:
			return it, nil
		case *heap.Dict:
			// Key order is fixed at loop entry; keys removed mid-loop are
			// skipped, keys added mid-loop are not visited.
			it.Keys = o.SortedKeys()
			return it, nil
		default:
			return nil, Raise(ExcType, "%s is not iterable", o.Kind())
		}
	default:
		return nil, Raise(ExcType, "%s is not iterable", typeName(h, iterable))
	}
}

// iterAdvance moves the iterator one element forward, updating the loop
// variables and jumping to the body start, or exiting to End when the
// source is exhausted.
func iterAdvance(h *heap.Heap, frame *StackFrame, it *IteratorState) error {
	v1, v2, ok, err := iterNext(h, it)
	if err != nil {
		return err
	}
	if !ok {
		frame.IteratorStack = frame.IteratorStack[:len(frame.IteratorStack)-1]
		frame.PC = it.End
		log.Trace().Str("end_pc", it.End.String()).Msg("  ITER: exhausted, exiting loop")
		return nil
	}
	frame.StoreVar(it.VarNames[0], v1)
	if len(it.VarNames) == 2 {
		frame.StoreVar(it.VarNames[1], v2)
	}
	frame.PC = it.Start
	return nil
}

func iterNext(h *heap.Heap, it *IteratorState) (vm.Value, vm.Value, bool, error) {
	switch src := it.Source.(type) {
	case vm.StrValue:
		runes := []rune(string(src))
		it.Index++
		if it.Index >= len(runes) {
			return nil, nil, false, nil
		}
		ch := vm.StrValue(runes[it.Index])
		if len(it.VarNames) == 2 {
			return vm.IntValue(it.Index), ch, true, nil
		}
		return ch, vm.None, true, nil
	case vm.RefValue:
		obj, err := h.Get(src.Handle())
		if err != nil {
			return nil, nil, false, err
		}
		switch o := obj.(type) {
		case *heap.List:
			it.Index++
			if it.Index >= len(o.Elems) {
				return nil, nil, false, nil
			}
			if len(it.VarNames) == 2 {
				return vm.IntValue(it.Index), o.Elems[it.Index], true, nil
			}
			return o.Elems[it.Index], vm.None, true, nil
		case *heap.Dict:
			for {
				it.Index++
				if it.Index >= len(it.Keys) {
					return nil, nil, false, nil
				}
				k := it.Keys[it.Index]
				v, present := o.Entries[k]
				if !present {
					continue
				}
				if len(it.VarNames) == 2 {
					return vm.StrValue(k), v, true, nil
				}
				return vm.StrValue(k), vm.None, true, nil
			}
		default:
			return nil, nil, false, Raise(ExcType, "%s is not iterable", o.Kind())
		}
	default:
		return nil, nil, false, Raise(ExcType, "%s is not iterable", vm.TypeName(it.Source))
	}
}
