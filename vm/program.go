package vm

import (
	"errors"
	"fmt"
)

// Program is an immutable compiled module: bytecode functions, the external
// function name table, and declared input parameter names. It is shared
// read-only across all runs and resumptions; nothing here is mutated after
// compilation.
type Program struct {
	Definitions map[string]int
	Code        []*Function
	Main        *Function
	// Externals lists declared external function names; the index is the
	// stable function id used in call descriptors.
	Externals []string
	// Inputs lists declared input parameter names, bound into globals at
	// run start.
	Inputs   []string
	Filename string
}

func (p *Program) DebugPrint() {
	fmt.Printf("Defs: %#v\n", p.Definitions)
	fmt.Printf("Externals: %v Inputs: %v\n", p.Externals, p.Inputs)
	fmt.Println("*** Main")
	p.Main.DebugPrint()
	for i, f := range p.Code {
		fmt.Printf("*** %d:\n", i)
		f.DebugPrint()
	}
}

var ErrEndOfCode = errors.New("End of code block")

func (p *Program) GetInstruction(ptr ExecPtr) (Op, error) {
	f := p.GetFunction(ptr)
	if f == nil {
		return Op{}, fmt.Errorf("No function at code id %d", ptr.CodeID())
	}
	if len(f.Bytecode) <= ptr.Offset() {
		return Op{}, ErrEndOfCode
	}
	return f.Bytecode[ptr.Offset()], nil
}

func (p *Program) GetFunction(ptr ExecPtr) *Function {
	if ptr.CodeID() == 0 {
		return p.Main
	}
	id := ptr.CodeID() - 1
	if id >= len(p.Code) {
		return nil
	}
	return p.Code[id]
}

func (p *Program) Resolve(name string) (ExecPtr, bool) {
	if v, ok := p.Definitions[name]; ok {
		return NewExecPtr(v + 1), true
	}
	return 0, false
}

// ExternalID returns the stable id for a declared external function name.
func (p *Program) ExternalID(name string) (int, bool) {
	for i, n := range p.Externals {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

type Function struct {
	Bytecode []Op
	Params   []FunctionParam
	// Handlers maps instruction ranges to exception handler entry points.
	// Consulted innermost-last during failure propagation.
	Handlers []ExcHandler
}

func (f *Function) DebugPrint() {
	fmt.Printf("Params: %#v\n", f.Params)
	for i, b := range f.Bytecode {
		fmt.Printf("  %03d: %s\n", i, b)
	}
	for _, h := range f.Handlers {
		fmt.Printf("  handler [%d,%d) -> %d depth %d\n", h.Start, h.End, h.Target, h.Depth)
	}
}

// HandlerFor returns the innermost handler covering the given offset.
func (f *Function) HandlerFor(offset int) (ExcHandler, bool) {
	for i := len(f.Handlers) - 1; i >= 0; i-- {
		h := f.Handlers[i]
		if offset >= h.Start && offset < h.End {
			return h, true
		}
	}
	return ExcHandler{}, false
}

// ExcHandler is one protected instruction range. On a catch, the operand
// stack is truncated to Depth, the exception value is pushed, and control
// transfers to Target.
type ExcHandler struct {
	Start  int
	End    int
	Target int
	Depth  int
}

type ExecPtr uint64

func (ptr ExecPtr) Offset() int {
	return int(0xFFFFFFFF & ptr)
}

func (ptr ExecPtr) CodeID() int {
	return int(ptr >> 32)
}

func (ptr ExecPtr) Inc() ExecPtr {
	return ptr + 1
}

func (ptr ExecPtr) SetOffset(off int) ExecPtr {
	return ExecPtr(ptr.CodeID())<<32 | ExecPtr(0xFFFFFFFF&off)
}

func (ptr ExecPtr) String() string {
	return fmt.Sprintf("%d:%d", ptr.CodeID(), ptr.Offset())
}

func NewExecPtr(block int) ExecPtr {
	return ExecPtr(block) << 32
}

type FunctionParam struct {
	Name    string
	Default Value
}
