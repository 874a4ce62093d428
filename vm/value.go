package vm

import "math"

// Value is the tagged union held on operand stacks and in object slots.
// Scalars are self-contained; RefValue points into a Run's heap and is only
// meaningful together with that heap.
type Value interface {
	isValue()
	Clone() Value
	// Cmp compares two values, returning (ordering, comparable). Heap
	// references are not comparable here; the engine compares them through
	// the heap.
	Cmp(other Value) (int, bool)
}

// Handle is an opaque reference to heap-resident data. The generation tag
// detects stale handles after a slot has been reused.
type Handle struct {
	Slot uint32
	Gen  uint32
}

type NoneValue struct{}

var None = NoneValue{}

func (NoneValue) isValue()       {}
func (n NoneValue) Clone() Value { return n }
func (NoneValue) Cmp(other Value) (int, bool) {
	if _, ok := other.(NoneValue); ok {
		return 0, true
	}
	return 0, false
}

type BoolValue bool

var (
	BoolTrue  = BoolValue(true)
	BoolFalse = BoolValue(false)
)

func (BoolValue) isValue()       {}
func (b BoolValue) Clone() Value { return b }
func (b BoolValue) Cmp(other Value) (int, bool) {
	o, ok := other.(BoolValue)
	if !ok {
		return 0, false
	}
	bi, oi := 0, 0
	if b {
		bi = 1
	}
	if o {
		oi = 1
	}
	return bi - oi, true
}

type IntValue int64

func (IntValue) isValue()       {}
func (i IntValue) Clone() Value { return i }
func (i IntValue) Cmp(other Value) (int, bool) {
	switch o := other.(type) {
	case IntValue:
		switch {
		case i < o:
			return -1, true
		case i > o:
			return 1, true
		}
		return 0, true
	case FloatValue:
		return FloatValue(i).Cmp(o)
	}
	return 0, false
}

type FloatValue float64

func (FloatValue) isValue()       {}
func (f FloatValue) Clone() Value { return f }
func (f FloatValue) Cmp(other Value) (int, bool) {
	var o float64
	switch v := other.(type) {
	case FloatValue:
		o = float64(v)
	case IntValue:
		o = float64(v)
	default:
		return 0, false
	}
	// NaN has no ordering and equals nothing, itself included.
	if math.IsNaN(float64(f)) || math.IsNaN(o) {
		return 0, false
	}
	switch {
	case float64(f) < o:
		return -1, true
	case float64(f) > o:
		return 1, true
	}
	return 0, true
}

type StrValue string

func (StrValue) isValue()       {}
func (s StrValue) Clone() Value { return s }
func (s StrValue) Cmp(other Value) (int, bool) {
	o, ok := other.(StrValue)
	if !ok {
		return 0, false
	}
	switch {
	case s < o:
		return -1, true
	case s > o:
		return 1, true
	}
	return 0, true
}

// RefValue is a handle to a heap object. Cloning copies the handle, not the
// object: aliases observe mutation, matching the source language.
type RefValue Handle

func (RefValue) isValue()              {}
func (r RefValue) Clone() Value        { return r }
func (RefValue) Cmp(Value) (int, bool) { return 0, false }

func (r RefValue) Handle() Handle { return Handle(r) }

func NewRef(hd Handle) RefValue { return RefValue(hd) }

// FnPtrValue points at a user-defined function within the owning Program.
type FnPtrValue ExecPtr

func (FnPtrValue) isValue()       {}
func (f FnPtrValue) Clone() Value { return f }
func (f FnPtrValue) Cmp(other Value) (int, bool) {
	o, ok := other.(FnPtrValue)
	if !ok {
		return 0, false
	}
	switch {
	case f < o:
		return -1, true
	case f > o:
		return 1, true
	}
	return 0, true
}

// BuiltinValue names a pure builtin function provided by the engine.
type BuiltinValue struct {
	Name string
}

func (BuiltinValue) isValue()       {}
func (b BuiltinValue) Clone() Value { return b }
func (b BuiltinValue) Cmp(other Value) (int, bool) {
	o, ok := other.(BuiltinValue)
	if !ok {
		return 0, false
	}
	return StrValue(b.Name).Cmp(StrValue(o.Name))
}

// ExtFuncValue names a declared external function. Calling one suspends the
// run and hands a call descriptor to the host.
type ExtFuncValue struct {
	ID   int
	Name string
}

func (ExtFuncValue) isValue()       {}
func (e ExtFuncValue) Clone() Value { return e }
func (e ExtFuncValue) Cmp(other Value) (int, bool) {
	o, ok := other.(ExtFuncValue)
	if !ok {
		return 0, false
	}
	return e.ID - o.ID, true
}

// ErrorValue is a raised exception as seen by in-program handlers. It is a
// direct value so unwinding never needs to allocate.
type ErrorValue struct {
	Type    string
	Message string
}

func (ErrorValue) isValue()       {}
func (e ErrorValue) Clone() Value { return e }
func (e ErrorValue) Cmp(other Value) (int, bool) {
	o, ok := other.(ErrorValue)
	if !ok {
		return 0, false
	}
	return StrValue(e.Type + ":" + e.Message).Cmp(StrValue(o.Type + ":" + o.Message))
}

// ArgValue wraps one call argument, keyed for keyword arguments.
type ArgValue struct {
	Key   string
	Value Value
}

func (ArgValue) isValue() {}
func (a ArgValue) Clone() Value {
	return ArgValue{Key: a.Key, Value: a.Value.Clone()}
}
func (ArgValue) Cmp(Value) (int, bool) { return 0, false }

// AsBool reports scalar truthiness. Container truthiness depends on the heap
// and is resolved by the engine.
func AsBool(v Value) bool {
	switch t := v.(type) {
	case NoneValue:
		return false
	case BoolValue:
		return bool(t)
	case IntValue:
		return t != 0
	case FloatValue:
		return t != 0
	case StrValue:
		return t != ""
	}
	return true
}

// TypeName returns the language-level type name for a value. Heap references
// report "ref"; the engine resolves the underlying object kind.
func TypeName(v Value) string {
	switch v.(type) {
	case NoneValue:
		return "NoneType"
	case BoolValue:
		return "bool"
	case IntValue:
		return "int"
	case FloatValue:
		return "float"
	case StrValue:
		return "str"
	case FnPtrValue:
		return "function"
	case BuiltinValue:
		return "builtin"
	case ExtFuncValue:
		return "external"
	case ErrorValue:
		return "error"
	case RefValue:
		return "ref"
	}
	return "unknown"
}
