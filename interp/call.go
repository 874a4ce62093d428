package interp

import (
	"slices"

	"github.com/hibervm-dev/hibervm/vm"
)

// BuildCallFrame pops a function pointer and its arguments off the caller
// and binds them into a fresh frame. Keyword arguments bind by name first,
// remaining positionals fill left to right, then declared defaults.
func BuildCallFrame(program Program, frame *StackFrame, n int) (*StackFrame, error) {
	if len(frame.Stack) < n+1 {
		return nil, Raise(ExcRuntime, "call stack is too short to build a call frame")
	}
	fnPtr, ok := frame.Pop().(vm.FnPtrValue)
	if !ok {
		return nil, Raise(ExcRuntime, "compiler error: stack contains non-function on call")
	}
	ptr := vm.ExecPtr(fnPtr)
	args, err := popArgs(frame, n)
	if err != nil {
		return nil, err
	}
	fn := program.GetFunction(ptr)
	if fn == nil {
		return nil, Raise(ExcRuntime, "no function at %s", ptr)
	}
	newFrame := &StackFrame{PC: ptr}
	for _, p := range fn.Params {
		found := false
		for i, a := range args {
			if a.Key == p.Name {
				newFrame.StoreVar(p.Name, a.Value)
				args = slices.Delete(args, i, i+1)
				found = true
				break
			}
		}
		if found {
			continue
		}
		// the next positional argument, if any
		if len(args) > 0 && args[0].Key == "" {
			newFrame.StoreVar(p.Name, args[0].Value)
			args = args[1:]
			continue
		}
		if p.Default != nil {
			newFrame.StoreVar(p.Name, p.Default)
			continue
		}
		return nil, Raise(ExcType, "missing argument %q", p.Name)
	}
	if len(args) > 0 {
		if args[0].Key != "" {
			return nil, Raise(ExcType, "unexpected keyword argument %q", args[0].Key)
		}
		return nil, Raise(ExcType, "too many arguments: %d extra", len(args))
	}
	return newFrame, nil
}

// popArgs pops n ArgValues in call order.
func popArgs(frame *StackFrame, n int) ([]vm.ArgValue, error) {
	args := make([]vm.ArgValue, n)
	for i := n - 1; i >= 0; i-- {
		a, ok := frame.Pop().(vm.ArgValue)
		if !ok {
			return nil, Raise(ExcRuntime, "compiler error: stack contains non-call arguments")
		}
		args[i] = a
	}
	return args, nil
}

// positionalArgs unwraps arguments for callees that take no keywords.
func positionalArgs(args []vm.ArgValue) ([]vm.Value, error) {
	out := make([]vm.Value, 0, len(args))
	for _, a := range args {
		if a.Key != "" {
			return nil, Raise(ExcType, "unexpected keyword argument %q", a.Key)
		}
		out = append(out, a.Value)
	}
	return out, nil
}
