package interp

import (
	"fmt"

	"github.com/hibervm-dev/hibervm/vm"
)

// Status is the lifecycle state of a Run.
type Status int

const (
	Ready     Status = iota
	Running          // transient, only observable from another goroutine
	Suspended        // blocked on an external call
	Done
	Failed
)

func (s Status) String() string {
	switch s {
	case Ready:
		return "Ready"
	case Running:
		return "Running"
	case Suspended:
		return "Suspended"
	case Done:
		return "Done"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

type StackFrame struct {
	Stack         []vm.Value
	PC            vm.ExecPtr
	Variables     map[string]vm.Value
	IteratorStack []*IteratorState
}

type StackFrames []*StackFrame

func (s *StackFrames) PopStack() *StackFrame {
	f := s.CurrentStack()
	*s = (*s)[:len(*s)-1]
	return f
}

func (s *StackFrames) Append(f *StackFrame) {
	*s = append(*s, f)
}

func (s StackFrames) CurrentStack() *StackFrame {
	return s[len(s)-1]
}

// IteratorState is one active for-loop. It holds no live cursor into heap
// data, only a source value plus an index (and, for dicts, the key order
// fixed at loop entry), so it survives serialization unchanged.
type IteratorState struct {
	Start    vm.ExecPtr
	End      vm.ExecPtr
	VarNames []string
	Source   vm.Value // RefValue or StrValue
	Keys     []string // dict iteration order, fixed at ITER_START
	Index    int      // -1 = not started
}
