package interp

import (
	"github.com/hibervm-dev/hibervm/vm"
)

func (f *StackFrame) Pop() vm.Value {
	if len(f.Stack) == 0 {
		panic("Stack underrun")
	}
	v := f.Stack[len(f.Stack)-1]
	f.Stack = f.Stack[:len(f.Stack)-1]
	return v
}

func (f *StackFrame) Push(v vm.Value) {
	f.Stack = append(f.Stack, v)
}

func (f *StackFrame) StoreVar(key string, value vm.Value) {
	if f.Variables == nil {
		f.Variables = make(map[string]vm.Value)
	}
	f.Variables[key] = value
}

func (f *StackFrame) Has(key string) bool {
	if f.Variables == nil {
		return false
	}
	_, ok := f.Variables[key]
	return ok
}

// roots flattens everything the frame can still reach, for GC marking.
func (f *StackFrame) roots(out []vm.Value) []vm.Value {
	out = append(out, f.Stack...)
	for _, v := range f.Variables {
		out = append(out, v)
	}
	for _, it := range f.IteratorStack {
		if it.Source != nil {
			out = append(out, it.Source)
		}
	}
	return out
}
