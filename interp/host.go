package interp

import (
	"fmt"
	"io"
	"sort"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

// HostKind tags a HostValue.
type HostKind int

const (
	HostNone HostKind = iota
	HostBool
	HostInt
	HostFloat
	HostStr
	HostBytes
	HostList
	HostDict
)

// HostValue is the heap-independent value form used at the host boundary.
// External call arguments and results cross the boundary as HostValues, so
// a suspended call can be serialized and answered in another process
// without any access to the run's heap.
type HostValue struct {
	Kind  HostKind
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Bytes []byte
	List  []HostValue
	Dict  []HostEntry
}

// HostEntry is a dict field. Entries are kept sorted by key so a HostValue
// has exactly one wire form.
type HostEntry struct {
	Key   string
	Value HostValue
}

func HostNoneValue() HostValue           { return HostValue{Kind: HostNone} }
func HostBoolValue(b bool) HostValue     { return HostValue{Kind: HostBool, Bool: b} }
func HostIntValue(i int64) HostValue     { return HostValue{Kind: HostInt, Int: i} }
func HostFloatValue(f float64) HostValue { return HostValue{Kind: HostFloat, Float: f} }
func HostStrValue(s string) HostValue    { return HostValue{Kind: HostStr, Str: s} }
func HostBytesValue(b []byte) HostValue  { return HostValue{Kind: HostBytes, Bytes: b} }
func HostListValue(vs ...HostValue) HostValue {
	return HostValue{Kind: HostList, List: vs}
}

func HostDictValue(entries map[string]HostValue) HostValue {
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := HostValue{Kind: HostDict}
	for _, k := range keys {
		out.Dict = append(out.Dict, HostEntry{Key: k, Value: entries[k]})
	}
	return out
}

const maxHostDepth = 64

// ToHostValue converts an in-VM value to its host form, resolving handles
// through h. Functions and other non-data values cannot cross the boundary.
func ToHostValue(h *heap.Heap, v vm.Value) (HostValue, error) {
	return toHost(h, v, 0)
}

func toHost(h *heap.Heap, v vm.Value, depth int) (HostValue, error) {
	if depth > maxHostDepth {
		return HostValue{}, fmt.Errorf("value is too deeply nested or cyclic")
	}
	switch val := v.(type) {
	case vm.NoneValue:
		return HostNoneValue(), nil
	case vm.BoolValue:
		return HostBoolValue(bool(val)), nil
	case vm.IntValue:
		return HostIntValue(int64(val)), nil
	case vm.FloatValue:
		return HostFloatValue(float64(val)), nil
	case vm.StrValue:
		return HostStrValue(string(val)), nil
	case vm.RefValue:
		obj, err := h.Get(val.Handle())
		if err != nil {
			return HostValue{}, err
		}
		switch o := obj.(type) {
		case *heap.List:
			out := HostValue{Kind: HostList, List: make([]HostValue, 0, len(o.Elems))}
			for _, e := range o.Elems {
				he, err := toHost(h, e, depth+1)
				if err != nil {
					return HostValue{}, err
				}
				out.List = append(out.List, he)
			}
			return out, nil
		case *heap.Dict:
			keys := o.SortedKeys()
			out := HostValue{Kind: HostDict, Dict: make([]HostEntry, 0, len(keys))}
			for _, k := range keys {
				he, err := toHost(h, o.Entries[k], depth+1)
				if err != nil {
					return HostValue{}, err
				}
				out.Dict = append(out.Dict, HostEntry{Key: k, Value: he})
			}
			return out, nil
		case *heap.Bytes:
			b := make([]byte, len(o.Data))
			copy(b, o.Data)
			return HostBytesValue(b), nil
		case *heap.Path:
			return HostStrValue(o.Raw), nil
		default:
			return HostValue{}, fmt.Errorf("cannot pass %s across the host boundary", o.Kind())
		}
	default:
		return HostValue{}, fmt.Errorf("cannot pass %s across the host boundary", vm.TypeName(v))
	}
}

// FromHostValue materializes a host value into the run's heap.
func FromHostValue(h *heap.Heap, hv HostValue) (vm.Value, error) {
	switch hv.Kind {
	case HostNone:
		return vm.None, nil
	case HostBool:
		return vm.BoolValue(hv.Bool), nil
	case HostInt:
		return vm.IntValue(hv.Int), nil
	case HostFloat:
		return vm.FloatValue(hv.Float), nil
	case HostStr:
		return vm.StrValue(hv.Str), nil
	case HostBytes:
		b := make([]byte, len(hv.Bytes))
		copy(b, hv.Bytes)
		hd, err := h.Allocate(&heap.Bytes{Data: b})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	case HostList:
		elems := make([]vm.Value, 0, len(hv.List))
		for _, e := range hv.List {
			v, err := FromHostValue(h, e)
			if err != nil {
				return nil, err
			}
			elems = append(elems, v)
		}
		hd, err := h.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	case HostDict:
		d := heap.NewDict()
		for _, e := range hv.Dict {
			v, err := FromHostValue(h, e.Value)
			if err != nil {
				return nil, err
			}
			d.Entries[e.Key] = v
		}
		hd, err := h.Allocate(d)
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	default:
		return nil, fmt.Errorf("unknown host value kind %d", hv.Kind)
	}
}

// PendingCall describes a suspended external call. It is fully detached
// from the heap: the host can inspect, ship, and answer it with no access
// to the run that produced it.
type PendingCall struct {
	CallID   string
	Function string
	Args     []HostValue
	// Kwargs holds keyword arguments sorted by name; nil when the call
	// passed none.
	Kwargs []HostEntry
}

// Capability services reserved host functions (the "path.*" family) inside
// the host process, without suspending the run. Returning an *Exception
// surfaces as a catchable in-language error; any other error fails the run.
type Capability interface {
	Invoke(function string, args []HostValue) (HostValue, error)
}

// Sink receives print output.
type Sink interface {
	Print(line string)
}

// CollectSink buffers printed lines, mostly for tests.
type CollectSink struct {
	Lines []string
}

func (c *CollectSink) Print(line string) { c.Lines = append(c.Lines, line) }

// DiscardSink drops all output.
type DiscardSink struct{}

func (DiscardSink) Print(string) {}

// WriterSink writes each printed line to W.
type WriterSink struct {
	W io.Writer
}

func (w WriterSink) Print(line string) {
	fmt.Fprintln(w.W, line)
}
