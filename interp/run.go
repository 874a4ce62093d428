package interp

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

// reservedPrefix marks host functions serviced by a Capability in-process
// instead of suspending the run.
const reservedPrefix = "path."

// Options configures a new Run.
type Options struct {
	Limits     resource.Limits
	Inputs     map[string]HostValue
	Capability Capability
	Sink       Sink
	GCInterval int
}

// Outcome is what a driving call (Start, Resume, ResumeRaise) produced.
type Outcome struct {
	Status Status
	Result HostValue    // set when Status is Done
	Call   *PendingCall // set when Status is Suspended
}

// Run is one execution of a Program: its heap, frames, resource counters,
// and at most one pending external call. A Run is single-threaded; drive it
// from one goroutine at a time.
type Run struct {
	ID      string
	Program *vm.Program
	Globals *StackFrame
	Frames  StackFrames
	Heap    *heap.Heap
	Tracker resource.Tracker
	Status  Status
	Pending *PendingCall
	Failure error

	Capability Capability
	Sink       Sink
}

// NewRun prepares a run in the Ready state. Every input the program
// declares must be bound; undeclared inputs are rejected.
func NewRun(prog *vm.Program, opts Options) (*Run, error) {
	tracker := resource.NewLimited(opts.Limits)
	gcInterval := opts.GCInterval
	if gcInterval == 0 {
		gcInterval = heap.DefaultGCInterval
	}
	sink := opts.Sink
	if sink == nil {
		sink = DiscardSink{}
	}
	r := &Run{
		ID:         uuid.NewString(),
		Program:    prog,
		Heap:       heap.New(tracker, gcInterval),
		Tracker:    tracker,
		Status:     Ready,
		Capability: opts.Capability,
		Sink:       sink,
	}
	r.Globals = &StackFrame{PC: vm.NewExecPtr(0)}
	// The top-level frame is the globals frame itself, so module-level
	// assignments are visible to every function.
	r.Frames = StackFrames{r.Globals}

	for _, name := range prog.Inputs {
		hv, ok := opts.Inputs[name]
		if !ok {
			return nil, fmt.Errorf("input %q is declared but not bound", name)
		}
		v, err := FromHostValue(r.Heap, hv)
		if err != nil {
			return nil, fmt.Errorf("binding input %q: %w", name, err)
		}
		r.Globals.StoreVar(name, v)
	}
	for name := range opts.Inputs {
		declared := false
		for _, n := range prog.Inputs {
			if n == name {
				declared = true
				break
			}
		}
		if !declared {
			return nil, fmt.Errorf("input %q is not declared by the program", name)
		}
	}
	log.Debug().Str("run", r.ID).Msg("run created")
	return r, nil
}

// Start begins execution. The run must be Ready.
func (r *Run) Start() (Outcome, error) {
	if r.Status != Ready {
		return Outcome{Status: r.Status}, fmt.Errorf("cannot start a %s run", r.Status)
	}
	log.Debug().Str("run", r.ID).Msg("run starting")
	return r.drive()
}

// Resume answers the pending external call with result and continues
// execution. Resumption consumes the pending call: answering twice is an
// error.
func (r *Run) Resume(result HostValue) (Outcome, error) {
	if err := r.consumePending(); err != nil {
		return Outcome{Status: r.Status}, err
	}
	frame := r.Frames.CurrentStack()
	v, err := FromHostValue(r.Heap, result)
	if err != nil {
		return r.fail(err)
	}
	frame.Push(v)
	frame.PC = frame.PC.Inc()
	log.Debug().Str("run", r.ID).Msg("run resuming")
	return r.drive()
}

// ResumeRaise answers the pending external call by raising excType inside
// the program, as if the call site had failed.
func (r *Run) ResumeRaise(excType, message string) (Outcome, error) {
	if err := r.consumePending(); err != nil {
		return Outcome{Status: r.Status}, err
	}
	log.Debug().Str("run", r.ID).Str("exc", excType).Msg("run resuming with raise")
	exc := &Exception{Type: excType, Message: message}
	if !r.unwind(exc) {
		return r.fail(exc)
	}
	return r.drive()
}

func (r *Run) consumePending() error {
	if r.Status != Suspended {
		return fmt.Errorf("cannot resume a %s run", r.Status)
	}
	if r.Pending == nil {
		return errors.New("run has no pending call")
	}
	r.Pending = nil
	return nil
}

// Execute compiles-and-forget convenience: drives a run to completion and
// rejects programs that attempt a true external call.
func Execute(prog *vm.Program, opts Options) (Outcome, error) {
	r, err := NewRun(prog, opts)
	if err != nil {
		return Outcome{}, err
	}
	out, err := r.Start()
	if err != nil {
		return out, err
	}
	if out.Status == Suspended {
		return out, fmt.Errorf("external call %q requires a host driver", out.Call.Function)
	}
	return out, nil
}

func (r *Run) drive() (Outcome, error) {
	r.Status = Running
	for {
		if err := r.Tracker.ChargeStep(); err != nil {
			return r.fail(err)
		}
		if r.Heap.NeedsCollect() {
			r.Heap.Collect(r.roots())
		}
		res, n, err := Step(r.Program, r.Heap, r.Globals, r.Frames)
		if err != nil {
			if cont, out, ferr := r.raise(err); !cont {
				return out, ferr
			}
			continue
		}
		switch res {
		case ContinueStep:
		case ReturnStep:
			frame := r.Frames.CurrentStack()
			val := frame.Pop()
			if len(r.Frames) == 1 {
				return r.finish(val)
			}
			r.Frames.PopStack()
			caller := r.Frames.CurrentStack()
			caller.Push(val)
			caller.PC = caller.PC.Inc()
		case EndStep:
			if len(r.Frames) == 1 {
				return r.finish(vm.None)
			}
			r.Frames.PopStack()
			caller := r.Frames.CurrentStack()
			caller.Push(vm.None)
			caller.PC = caller.PC.Inc()
		case CallStep:
			out, suspended, err := r.dispatchCall(n)
			if err != nil {
				if cont, fout, ferr := r.raise(err); !cont {
					return fout, ferr
				}
				continue
			}
			if suspended {
				return out, nil
			}
		case MethodCallStep:
			out, suspended, err := r.dispatchMethodCall(n)
			if err != nil {
				if cont, fout, ferr := r.raise(err); !cont {
					return fout, ferr
				}
				continue
			}
			if suspended {
				return out, nil
			}
		default:
			return r.fail(fmt.Errorf("unhandled step result %s", res))
		}
	}
}

// raise routes an error from a step. Catchable exceptions unwind toward a
// handler; everything else, resource limits included, fails the run.
// The first return is true when execution can continue.
func (r *Run) raise(err error) (bool, Outcome, error) {
	var limit *resource.LimitError
	if errors.As(err, &limit) {
		out, ferr := r.fail(limit)
		return false, out, ferr
	}
	var exc *Exception
	if errors.As(err, &exc) {
		if r.unwind(exc) {
			return true, Outcome{}, nil
		}
		out, ferr := r.fail(exc)
		return false, out, ferr
	}
	out, ferr := r.fail(err)
	return false, out, ferr
}

// unwind walks frames innermost-first looking for a handler covering the
// frame's instruction. On a catch the operand stack is cut back to the
// handler's depth and the exception is pushed as a value.
func (r *Run) unwind(exc *Exception) bool {
	for len(r.Frames) > 0 {
		frame := r.Frames.CurrentStack()
		fn := r.Program.GetFunction(frame.PC)
		if fn != nil {
			if h, ok := fn.HandlerFor(frame.PC.Offset()); ok {
				if h.Depth <= len(frame.Stack) {
					frame.Stack = frame.Stack[:h.Depth]
				}
				frame.Push(vm.ErrorValue{Type: exc.Type, Message: exc.Message})
				frame.PC = frame.PC.SetOffset(h.Target)
				log.Debug().Str("run", r.ID).Str("exc", exc.Type).Str("target", frame.PC.String()).Msg("exception caught")
				return true
			}
		}
		if len(r.Frames) == 1 {
			return false
		}
		r.Frames.PopStack()
	}
	return false
}

func (r *Run) dispatchCall(n int) (Outcome, bool, error) {
	frame := r.Frames.CurrentStack()
	if len(frame.Stack) < n+1 {
		return Outcome{}, false, Raise(ExcRuntime, "call stack is too short")
	}
	switch callee := frame.Stack[len(frame.Stack)-1].(type) {
	case vm.FnPtrValue:
		f, err := BuildCallFrame(r.Program, frame, n)
		if err != nil {
			return Outcome{}, false, err
		}
		// The caller's PC stays on the call instruction; the return arms
		// push the result and advance it, same as an external-call resume.
		r.Frames.Append(f)
		return Outcome{}, false, nil
	case vm.BuiltinValue:
		frame.Pop()
		args, err := popArgs(frame, n)
		if err != nil {
			return Outcome{}, false, err
		}
		vals, err := positionalArgs(args)
		if err != nil {
			return Outcome{}, false, err
		}
		v, err := callBuiltin(r, callee.Name, vals)
		if err != nil {
			return Outcome{}, false, err
		}
		frame.Push(v)
		frame.PC = frame.PC.Inc()
		return Outcome{}, false, nil
	case vm.ExtFuncValue:
		frame.Pop()
		args, err := popArgs(frame, n)
		if err != nil {
			return Outcome{}, false, err
		}
		var pos []vm.Value
		var kw []vm.ArgValue
		for _, a := range args {
			if a.Key == "" {
				if len(kw) > 0 {
					return Outcome{}, false, Raise(ExcType, "positional argument after keyword argument")
				}
				pos = append(pos, a.Value)
				continue
			}
			kw = append(kw, a)
		}
		return r.externalCall(callee.Name, pos, kw)
	default:
		return Outcome{}, false, Raise(ExcType, "%s is not callable", typeName(r.Heap, frame.Stack[len(frame.Stack)-1]))
	}
}

func (r *Run) dispatchMethodCall(n int) (Outcome, bool, error) {
	frame := r.Frames.CurrentStack()
	if len(frame.Stack) < n+2 {
		return Outcome{}, false, Raise(ExcRuntime, "call stack is too short")
	}
	method := mustString(frame.Pop())
	receiver := frame.Pop()
	args, err := popArgs(frame, n)
	if err != nil {
		return Outcome{}, false, err
	}
	vals, err := positionalArgs(args)
	if err != nil {
		return Outcome{}, false, err
	}

	// Host-backed methods take precedence over pure dispatch.
	if ref, ok := receiver.(vm.RefValue); ok {
		obj, err := r.Heap.Get(ref.Handle())
		if err != nil {
			return Outcome{}, false, err
		}
		if rc, ok := obj.(heap.RawCaller); ok {
			if yr := rc.RawCall(method, vals); yr != nil {
				return r.externalCall(yr.Function, yr.Args, nil)
			}
		}
	}

	v, err := callMethod(r, receiver, method, vals)
	if err != nil {
		return Outcome{}, false, err
	}
	frame.Push(v)
	frame.PC = frame.PC.Inc()
	return Outcome{}, false, nil
}

// externalCall either services a reserved function through the Capability,
// invisibly to the program, or suspends the run with a detached call
// descriptor. The current frame's PC is left at the call instruction; the
// resume path pushes the result and advances it.
func (r *Run) externalCall(function string, args []vm.Value, kwargs []vm.ArgValue) (Outcome, bool, error) {
	hostArgs := make([]HostValue, 0, len(args))
	for _, a := range args {
		ha, err := ToHostValue(r.Heap, a)
		if err != nil {
			return Outcome{}, false, Raise(ExcType, "argument to %s: %s", function, err)
		}
		hostArgs = append(hostArgs, ha)
	}
	var hostKwargs []HostEntry
	for _, a := range kwargs {
		hv, err := ToHostValue(r.Heap, a.Value)
		if err != nil {
			return Outcome{}, false, Raise(ExcType, "argument %s to %s: %s", a.Key, function, err)
		}
		hostKwargs = append(hostKwargs, HostEntry{Key: a.Key, Value: hv})
	}
	sort.Slice(hostKwargs, func(i, j int) bool { return hostKwargs[i].Key < hostKwargs[j].Key })
	for i := 1; i < len(hostKwargs); i++ {
		if hostKwargs[i].Key == hostKwargs[i-1].Key {
			return Outcome{}, false, Raise(ExcType, "duplicate keyword argument %q to %s", hostKwargs[i].Key, function)
		}
	}

	if strings.HasPrefix(function, reservedPrefix) {
		if len(hostKwargs) > 0 {
			return Outcome{}, false, Raise(ExcType, "%s takes no keyword arguments", function)
		}
		if r.Capability == nil {
			return Outcome{}, false, Raise(ExcHostUnavailable, "no capability to service %s", function)
		}
		res, err := r.Capability.Invoke(function, hostArgs)
		if err != nil {
			var exc *Exception
			if errors.As(err, &exc) {
				return Outcome{}, false, exc
			}
			return Outcome{}, false, Raise(ExcHostError, "%s: %s", function, err)
		}
		frame := r.Frames.CurrentStack()
		v, err := FromHostValue(r.Heap, res)
		if err != nil {
			return Outcome{}, false, err
		}
		frame.Push(v)
		frame.PC = frame.PC.Inc()
		log.Trace().Str("run", r.ID).Str("function", function).Msg("capability call serviced")
		return Outcome{}, false, nil
	}

	r.Pending = &PendingCall{
		CallID:   uuid.NewString(),
		Function: function,
		Args:     hostArgs,
		Kwargs:   hostKwargs,
	}
	r.Status = Suspended
	log.Debug().Str("run", r.ID).Str("function", function).Str("call_id", r.Pending.CallID).Msg("run suspended on external call")
	return Outcome{Status: Suspended, Call: r.Pending}, true, nil
}

func (r *Run) finish(val vm.Value) (Outcome, error) {
	hv, err := ToHostValue(r.Heap, val)
	if err != nil {
		return r.fail(fmt.Errorf("module result: %w", err))
	}
	r.Status = Done
	log.Debug().Str("run", r.ID).Msg("run finished")
	return Outcome{Status: Done, Result: hv}, nil
}

func (r *Run) fail(err error) (Outcome, error) {
	r.Status = Failed
	r.Failure = err
	log.Debug().Str("run", r.ID).Err(err).Msg("run failed")
	return Outcome{Status: Failed}, err
}

// roots gathers every value the program can still reach, for GC marking.
func (r *Run) roots() []vm.Value {
	var out []vm.Value
	for _, f := range r.Frames {
		out = f.roots(out)
	}
	if len(r.Frames) == 0 || r.Frames[0] != r.Globals {
		out = r.Globals.roots(out)
	}
	return out
}

// Counters exposes the run's resource usage.
func (r *Run) Counters() resource.Counters {
	return r.Tracker.Counters()
}
