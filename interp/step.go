package interp

import (
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

type StepResult int

const (
	ContinueStep StepResult = iota
	ReturnStep
	EndStep
	CallStep
	MethodCallStep // Method call encountered (e.g., xs.append(x))
	ErrorStep
)

func (r StepResult) String() string {
	switch r {
	case ContinueStep:
		return "Continue"
	case ReturnStep:
		return "Return"
	case EndStep:
		return "End"
	case CallStep:
		return "Call"
	case MethodCallStep:
		return "MethodCall"
	case ErrorStep:
		return "Error"
	default:
		return "Unknown"
	}
}

type Program interface {
	GetInstruction(vm.ExecPtr) (vm.Op, error)
	Resolve(name string) (vm.ExecPtr, bool)
	GetFunction(vm.ExecPtr) *vm.Function
	ExternalID(name string) (int, bool)
}

// Step executes one instruction of the top frame. Call dispatch and frame
// transitions are left to the driving loop; Step only reports them.
func Step(program Program, h *heap.Heap, globals *StackFrame, stack StackFrames) (StepResult, int, error) {
	if len(stack) == 0 {
		return ErrorStep, 0, errors.New("No stack frame")
	}
	frame := stack.CurrentStack()
	inst, err := program.GetInstruction(frame.PC)
	if err != nil {
		if errors.Is(err, vm.ErrEndOfCode) {
			log.Trace().Str("pc", frame.PC.String()).Msg("Step: end of code")
			return EndStep, 0, nil
		}
		return ErrorStep, 0, err
	}

	log.Trace().
		Str("opcode", inst.Code.String()).
		Str("pc", frame.PC.String()).
		Int("stack_depth", len(frame.Stack)).
		Msg("Step: executing instruction")

	switch inst.Code {
	case vm.NOP:
	case vm.POP:
		frame.Pop()
	case vm.PUSH:
		frame.Push(inst.Arg.Clone())
	case vm.DUP:
		a := frame.Pop()
		frame.Push(a.Clone())
		frame.Push(a)
	case vm.SWAP:
		a := frame.Pop()
		b := frame.Pop()
		frame.Push(a)
		frame.Push(b)
	case vm.SETVAL:
		name := frame.Pop()
		val := frame.Pop()
		variable := mustString(name)
		// Top-level assignments land in globals; a function body writes
		// its own frame unless the name is already global.
		if frame == globals || (globals != nil && globals.Has(variable) && !frame.Has(variable)) {
			globals.StoreVar(variable, val)
		} else {
			frame.StoreVar(variable, val)
		}
		log.Trace().Str("variable", variable).Msg("  SETVAL")
	case vm.GETVAL:
		varName := mustString(frame.Pop())
		v, err := resolveVar(varName, program, globals, frame)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(v)
		log.Trace().Str("variable", varName).Msg("  GETVAL")
	case vm.GETATTR:
		key := frame.Pop()
		obj := frame.Pop()
		val, err := getAttribute(h, obj, key)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(val)
	case vm.SETATTR:
		key := frame.Pop()
		obj := frame.Pop()
		val := frame.Pop()
		if err := setAttribute(h, obj, key, val); err != nil {
			return ErrorStep, 0, err
		}
	case vm.NOT:
		a := frame.Pop()
		t, err := truth(h, a)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(vm.BoolValue(!t))
	case vm.ADD:
		b := frame.Pop()
		a := frame.Pop()
		v, err := add(h, a, b)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(v)
	case vm.MULTIPLY:
		b := frame.Pop()
		a := frame.Pop()
		v, err := multiply(h, a, b)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(v)
	case vm.SUBTRACT, vm.DIVIDE, vm.MODULO, vm.FLOOR_DIVIDE, vm.POWER:
		b := frame.Pop()
		a := frame.Pop()
		v, err := numericOp(inst.Code, a, b)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(v)
	case vm.EQ:
		b := frame.Pop()
		a := frame.Pop()
		eq, err := valueEqual(h, a, b, 0)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(vm.BoolValue(eq))
	case vm.LT:
		b := frame.Pop()
		a := frame.Pop()
		v, ok := a.Cmp(b)
		if !ok {
			return ErrorStep, 0, Raise(ExcType, "cannot compare %s to %s", typeName(h, a), typeName(h, b))
		}
		frame.Push(vm.BoolValue(v < 0))
	case vm.LTE:
		b := frame.Pop()
		a := frame.Pop()
		v, ok := a.Cmp(b)
		if !ok {
			return ErrorStep, 0, Raise(ExcType, "cannot compare %s to %s", typeName(h, a), typeName(h, b))
		}
		frame.Push(vm.BoolValue(v <= 0))
	case vm.IN:
		collection := frame.Pop()
		item := frame.Pop()
		found, err := contains(h, item, collection)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(vm.BoolValue(found))
	case vm.SLICE:
		endVal := frame.Pop()
		startVal := frame.Pop()
		src := frame.Pop()
		out, err := sliceValue(h, src, startVal, endVal)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(out)
	case vm.JMP:
		label, ok := inst.Arg.(vm.IntValue)
		if !ok {
			return ErrorStep, 0, errors.New("JMP requires integer label")
		}
		frame.PC = frame.PC.SetOffset(int(label))
		return ContinueStep, 0, nil
	case vm.JFALSE:
		cond := frame.Pop()
		t, err := truth(h, cond)
		if err != nil {
			return ErrorStep, 0, err
		}
		if !t {
			label, ok := inst.Arg.(vm.IntValue)
			if !ok {
				return ErrorStep, 0, errors.New("JFALSE requires integer label")
			}
			frame.PC = frame.PC.SetOffset(int(label))
			return ContinueStep, 0, nil
		}
	case vm.RETURN:
		log.Trace().Str("pc", frame.PC.String()).Msg("  RETURN")
		return ReturnStep, 0, nil
	case vm.RAISE:
		v := frame.Pop()
		switch e := v.(type) {
		case vm.ErrorValue:
			return ErrorStep, 0, &Exception{Type: e.Type, Message: e.Message}
		case vm.StrValue:
			return ErrorStep, 0, &Exception{Type: ExcRuntime, Message: string(e)}
		default:
			return ErrorStep, 0, &Exception{Type: ExcRuntime, Message: formatValue(h, v, false, nil)}
		}
	case vm.BUILD_LIST:
		n, ok := inst.Arg.(vm.IntValue)
		if !ok {
			return ErrorStep, 0, errors.New("Error in compilation; BUILD_LIST should carry an int")
		}
		elems := make([]vm.Value, int(n))
		for i := int(n) - 1; i >= 0; i-- {
			elems[i] = frame.Pop()
		}
		hd, err := h.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(vm.NewRef(hd))
	case vm.BUILD_DICT:
		n, ok := inst.Arg.(vm.IntValue)
		if !ok {
			return ErrorStep, 0, errors.New("Error in compilation; BUILD_DICT should carry an int")
		}
		d := heap.NewDict()
		for i := 0; i < int(n); i++ {
			pair, err := asList(h, frame.Pop())
			if err != nil {
				return ErrorStep, 0, err
			}
			if len(pair.Elems) != 2 {
				return ErrorStep, 0, errors.New("Error in compilation; BUILD_DICT expects pairs")
			}
			k, ok := pair.Elems[0].(vm.StrValue)
			if !ok {
				return ErrorStep, 0, Raise(ExcType, "dict keys must be strings, got %s", typeName(h, pair.Elems[0]))
			}
			// Pairs pop in reverse, so on a duplicate key the entry
			// already present is the later occurrence and wins.
			if _, dup := d.Entries[string(k)]; !dup {
				d.Entries[string(k)] = pair.Elems[1]
			}
		}
		hd, err := h.Allocate(d)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.Push(vm.NewRef(hd))
	case vm.BUILD_ARG:
		name := frame.Pop()
		val := frame.Pop()
		if _, ok := name.(vm.NoneValue); ok {
			frame.Push(vm.ArgValue{Value: val})
		} else {
			frame.Push(vm.ArgValue{Key: mustString(name), Value: val})
		}
	case vm.ITER_START, vm.ITER_START_2:
		iterable := frame.Pop()
		var varNames []string
		if inst.Code == vm.ITER_START_2 {
			varName2 := mustString(frame.Pop())
			varName1 := mustString(frame.Pop())
			varNames = []string{varName1, varName2}
		} else {
			varNames = []string{mustString(frame.Pop())}
		}
		endLabel := frame.PC.SetOffset(int(inst.Arg.(vm.IntValue)))
		iterState, err := newIteratorState(h, iterable, frame.PC.Inc(), endLabel, varNames)
		if err != nil {
			return ErrorStep, 0, err
		}
		frame.IteratorStack = append(frame.IteratorStack, iterState)
		if err := iterAdvance(h, frame, iterState); err != nil {
			return ErrorStep, 0, err
		}
		return ContinueStep, 0, nil
	case vm.ITER_NEXT:
		if len(frame.IteratorStack) == 0 {
			return ErrorStep, 0, errors.New("ITER_NEXT with empty iterator stack")
		}
		iterState := frame.IteratorStack[len(frame.IteratorStack)-1]
		if err := iterAdvance(h, frame, iterState); err != nil {
			return ErrorStep, 0, err
		}
		return ContinueStep, 0, nil
	case vm.ITER_END:
		if len(frame.IteratorStack) == 0 {
			return ErrorStep, 0, errors.New("ITER_END with empty iterator stack")
		}
		iterState := frame.IteratorStack[len(frame.IteratorStack)-1]
		frame.IteratorStack = frame.IteratorStack[:len(frame.IteratorStack)-1]
		frame.PC = iterState.End
		return ContinueStep, 0, nil
	case vm.CALL:
		if v, ok := inst.Arg.(vm.IntValue); ok {
			log.Trace().Int("argc", int(v)).Str("pc", frame.PC.String()).Msg("  CALL")
			return CallStep, int(v), nil
		}
		return ErrorStep, 0, errors.New("Error in compilation; CALL should carry an int")
	case vm.CALL_METHOD:
		if v, ok := inst.Arg.(vm.IntValue); ok {
			log.Trace().Int("argc", int(v)).Str("pc", frame.PC.String()).Msg("  CALL_METHOD")
			return MethodCallStep, int(v), nil
		}
		return ErrorStep, 0, errors.New("Error in compilation; CALL_METHOD should carry an int")
	default:
		return ErrorStep, 0, Raise(ExcRuntime, "unhandled instruction %s", inst.Code)
	}
	frame.PC = frame.PC.Inc()
	return ContinueStep, 0, nil
}

func resolveVar(name string, program Program, globals *StackFrame, frame *StackFrame) (vm.Value, error) {
	if frame != nil && frame.Has(name) {
		return frame.Variables[name], nil
	}
	if globals != nil && globals.Has(name) {
		return globals.Variables[name], nil
	}
	if ptr, ok := program.Resolve(name); ok {
		return vm.FnPtrValue(ptr), nil
	}
	if id, ok := program.ExternalID(name); ok {
		return vm.ExtFuncValue{ID: id, Name: name}, nil
	}
	if b, ok := AllBuiltins[name]; ok {
		return b, nil
	}
	return nil, Raise(ExcName, "name %q is not defined", name)
}
