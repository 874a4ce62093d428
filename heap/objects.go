package heap

import (
	"sort"

	"github.com/hibervm-dev/hibervm/vm"
)

// Object is any heap-resident datum. All objects answer a pure-call surface
// (attribute and method dispatch with no host involvement); types with
// host-backed methods additionally implement RawCaller.
type Object interface {
	Kind() string
	// Size is the approximate in-memory footprint used for accounting.
	Size() int64
	// Values returns contained values for GC marking and deep operations.
	Values() []vm.Value
}

// RawCaller is the capability surface of an extension type. RawCall is
// tried before pure dispatch: a non-nil YieldRequest means the method must
// be resolved by the host (or intercepted by a capability object).
type RawCaller interface {
	// RawCall returns a yield descriptor for the named method, or nil if
	// the method has no host-backed form and pure dispatch should proceed.
	RawCall(method string, args []vm.Value) *YieldRequest
}

// YieldRequest asks the driving loop to perform an external call on behalf
// of an object method. Function is a reserved external identifier (for
// example "path.exists").
type YieldRequest struct {
	Function string
	Args     []vm.Value
}

const (
	baseObjectSize = 48
	wordSize       = 16
)

// valuesSize approximates the footprint of a value slice.
func valuesSize(vals []vm.Value) int64 {
	size := int64(len(vals)) * wordSize
	for _, v := range vals {
		if s, ok := v.(vm.StrValue); ok {
			size += int64(len(s))
		}
	}
	return size
}

// List is a mutable sequence.
type List struct {
	Elems []vm.Value
}

func (l *List) Kind() string { return "list" }
func (l *List) Size() int64  { return baseObjectSize + valuesSize(l.Elems) }
func (l *List) Values() []vm.Value {
	return l.Elems
}

// Dict is a mutable string-keyed mapping. Iteration and printing order is
// sorted-by-key so runs are deterministic.
type Dict struct {
	Entries map[string]vm.Value
}

func NewDict() *Dict {
	return &Dict{Entries: make(map[string]vm.Value)}
}

func (d *Dict) Kind() string { return "dict" }
func (d *Dict) Size() int64 {
	size := int64(baseObjectSize)
	for k, v := range d.Entries {
		size += int64(len(k)) + wordSize
		if s, ok := v.(vm.StrValue); ok {
			size += int64(len(s))
		}
	}
	return size
}
func (d *Dict) Values() []vm.Value {
	out := make([]vm.Value, 0, len(d.Entries))
	for _, v := range d.Entries {
		out = append(out, v)
	}
	return out
}

// SortedKeys returns the keys in iteration order.
func (d *Dict) SortedKeys() []string {
	keys := make([]string, 0, len(d.Entries))
	for k := range d.Entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Bytes is an immutable byte buffer, typically produced by a capability
// read.
type Bytes struct {
	Data []byte
}

func (b *Bytes) Kind() string       { return "bytes" }
func (b *Bytes) Size() int64        { return baseObjectSize + int64(len(b.Data)) }
func (b *Bytes) Values() []vm.Value { return nil }
