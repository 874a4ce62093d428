package interp

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

// truth resolves truthiness, reaching through handles for containers.
func truth(h *heap.Heap, v vm.Value) (bool, error) {
	r, ok := v.(vm.RefValue)
	if !ok {
		return vm.AsBool(v), nil
	}
	obj, err := h.Get(r.Handle())
	if err != nil {
		return false, err
	}
	switch o := obj.(type) {
	case *heap.List:
		return len(o.Elems) > 0, nil
	case *heap.Dict:
		return len(o.Entries) > 0, nil
	case *heap.Bytes:
		return len(o.Data) > 0, nil
	default:
		return true, nil
	}
}

// typeName resolves the language-level type, reaching through handles.
func typeName(h *heap.Heap, v vm.Value) string {
	r, ok := v.(vm.RefValue)
	if !ok {
		return vm.TypeName(v)
	}
	obj, err := h.Get(r.Handle())
	if err != nil {
		return "ref"
	}
	return obj.Kind()
}

const maxEqualDepth = 64

// valueEqual is structural equality. Scalars compare by Cmp; containers
// compare element-wise through the heap, with a depth cap so cyclic
// structures terminate.
func valueEqual(h *heap.Heap, a, b vm.Value, depth int) (bool, error) {
	if depth > maxEqualDepth {
		return false, Raise(ExcValue, "comparison too deeply nested")
	}
	ra, aRef := a.(vm.RefValue)
	rb, bRef := b.(vm.RefValue)
	if !aRef && !bRef {
		c, ok := a.Cmp(b)
		return ok && c == 0, nil
	}
	if aRef != bRef {
		return false, nil
	}
	if ra.Handle() == rb.Handle() {
		return true, nil
	}
	oa, err := h.Get(ra.Handle())
	if err != nil {
		return false, err
	}
	ob, err := h.Get(rb.Handle())
	if err != nil {
		return false, err
	}
	switch x := oa.(type) {
	case *heap.List:
		y, ok := ob.(*heap.List)
		if !ok || len(x.Elems) != len(y.Elems) {
			return false, nil
		}
		for i := range x.Elems {
			eq, err := valueEqual(h, x.Elems[i], y.Elems[i], depth+1)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *heap.Dict:
		y, ok := ob.(*heap.Dict)
		if !ok || len(x.Entries) != len(y.Entries) {
			return false, nil
		}
		for k, xv := range x.Entries {
			yv, present := y.Entries[k]
			if !present {
				return false, nil
			}
			eq, err := valueEqual(h, xv, yv, depth+1)
			if err != nil || !eq {
				return false, err
			}
		}
		return true, nil
	case *heap.Bytes:
		y, ok := ob.(*heap.Bytes)
		return ok && string(x.Data) == string(y.Data), nil
	case *heap.Path:
		y, ok := ob.(*heap.Path)
		return ok && x.Raw == y.Raw, nil
	default:
		return false, nil
	}
}

// formatValue renders a value in str() form; repr selects the quoted form
// used inside containers. Cycles render as "...".
func formatValue(h *heap.Heap, v vm.Value, repr bool, seen map[vm.Handle]bool) string {
	switch val := v.(type) {
	case vm.NoneValue:
		return "None"
	case vm.BoolValue:
		if val {
			return "True"
		}
		return "False"
	case vm.IntValue:
		return strconv.FormatInt(int64(val), 10)
	case vm.FloatValue:
		return formatFloat(float64(val))
	case vm.StrValue:
		if repr {
			return strconv.Quote(string(val))
		}
		return string(val)
	case vm.FnPtrValue:
		return fmt.Sprintf("<function@%s>", vm.ExecPtr(val))
	case vm.BuiltinValue:
		return fmt.Sprintf("<builtin %s>", val.Name)
	case vm.ExtFuncValue:
		return fmt.Sprintf("<external %s>", val.Name)
	case vm.ErrorValue:
		return fmt.Sprintf("%s: %s", val.Type, val.Message)
	case vm.RefValue:
		return formatRef(h, val, seen)
	default:
		return fmt.Sprintf("<%T>", v)
	}
}

func formatRef(h *heap.Heap, r vm.RefValue, seen map[vm.Handle]bool) string {
	hd := r.Handle()
	if seen == nil {
		seen = make(map[vm.Handle]bool)
	}
	if seen[hd] {
		return "..."
	}
	obj, err := h.Get(hd)
	if err != nil {
		return "<stale ref>"
	}
	seen[hd] = true
	defer delete(seen, hd)
	switch o := obj.(type) {
	case *heap.List:
		var b strings.Builder
		b.WriteString("[")
		for i, e := range o.Elems {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(formatValue(h, e, true, seen))
		}
		b.WriteString("]")
		return b.String()
	case *heap.Dict:
		var b strings.Builder
		b.WriteString("{")
		for i, k := range o.SortedKeys() {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(strconv.Quote(k))
			b.WriteString(": ")
			b.WriteString(formatValue(h, o.Entries[k], true, seen))
		}
		b.WriteString("}")
		return b.String()
	case *heap.Bytes:
		return fmt.Sprintf("b%s", strconv.Quote(string(o.Data)))
	case *heap.Path:
		return o.Raw
	default:
		return fmt.Sprintf("<%s>", o.Kind())
	}
}

func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	s := strconv.FormatFloat(f, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	return s
}

func add(h *heap.Heap, a, b vm.Value) (vm.Value, error) {
	switch av := a.(type) {
	case vm.IntValue, vm.FloatValue:
		return numericOp(vm.ADD, a, b)
	case vm.StrValue:
		if bv, ok := b.(vm.StrValue); ok {
			return vm.StrValue(string(av) + string(bv)), nil
		}
	case vm.RefValue:
		if la, err := asList(h, a); err == nil {
			lb, err := asList(h, b)
			if err != nil {
				break
			}
			elems := make([]vm.Value, 0, len(la.Elems)+len(lb.Elems))
			elems = append(elems, la.Elems...)
			elems = append(elems, lb.Elems...)
			hd, err := h.Allocate(&heap.List{Elems: elems})
			if err != nil {
				return nil, err
			}
			return vm.NewRef(hd), nil
		}
	}
	return nil, Raise(ExcType, "unsupported operand types for +: %s and %s", typeName(h, a), typeName(h, b))
}

func multiply(h *heap.Heap, a, b vm.Value) (vm.Value, error) {
	// str * int and list * int repeat; everything else is numeric
	if n, ok := b.(vm.IntValue); ok {
		switch av := a.(type) {
		case vm.StrValue:
			if n < 0 {
				n = 0
			}
			return vm.StrValue(strings.Repeat(string(av), int(n))), nil
		case vm.RefValue:
			if la, err := asList(h, a); err == nil {
				var elems []vm.Value
				for i := 0; i < int(max(n, 0)); i++ {
					elems = append(elems, la.Elems...)
				}
				hd, err := h.Allocate(&heap.List{Elems: elems})
				if err != nil {
					return nil, err
				}
				return vm.NewRef(hd), nil
			}
		}
	}
	return numericOp(vm.MULTIPLY, a, b)
}

func numericOp(op vm.Opcode, a, b vm.Value) (vm.Value, error) {
	if av, ok := a.(vm.FloatValue); ok {
		if bv, ok := b.(vm.FloatValue); ok {
			return floatOp(op, float64(av), float64(bv))
		} else if bv, ok := b.(vm.IntValue); ok {
			return floatOp(op, float64(av), float64(bv))
		}
	}
	if av, ok := a.(vm.IntValue); ok {
		if bv, ok := b.(vm.FloatValue); ok {
			return floatOp(op, float64(av), float64(bv))
		} else if bv, ok := b.(vm.IntValue); ok {
			return intOp(op, int64(av), int64(bv))
		}
	}
	return nil, Raise(ExcType, "unsupported operand types for %s: %s and %s", op, vm.TypeName(a), vm.TypeName(b))
}

func floatOp(op vm.Opcode, a, b float64) (vm.Value, error) {
	switch op {
	case vm.ADD:
		return vm.FloatValue(a + b), nil
	case vm.SUBTRACT:
		return vm.FloatValue(a - b), nil
	case vm.MULTIPLY:
		return vm.FloatValue(a * b), nil
	case vm.DIVIDE:
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "float division by zero")
		}
		return vm.FloatValue(a / b), nil
	case vm.MODULO:
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "float modulo by zero")
		}
		m := math.Mod(a, b)
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return vm.FloatValue(m), nil
	case vm.FLOOR_DIVIDE:
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "float floor division by zero")
		}
		return vm.FloatValue(math.Floor(a / b)), nil
	case vm.POWER:
		return vm.FloatValue(math.Pow(a, b)), nil
	}
	panic("Unhandled floatOp code")
}

func intOp(op vm.Opcode, a, b int64) (vm.Value, error) {
	switch op {
	case vm.ADD:
		return vm.IntValue(a + b), nil
	case vm.SUBTRACT:
		return vm.IntValue(a - b), nil
	case vm.MULTIPLY:
		return vm.IntValue(a * b), nil
	case vm.DIVIDE:
		// true division always yields a float
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "division by zero")
		}
		return vm.FloatValue(float64(a) / float64(b)), nil
	case vm.MODULO:
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "integer modulo by zero")
		}
		m := a % b
		if m != 0 && (m < 0) != (b < 0) {
			m += b
		}
		return vm.IntValue(m), nil
	case vm.FLOOR_DIVIDE:
		if b == 0 {
			return nil, Raise(ExcZeroDivision, "integer floor division by zero")
		}
		q := a / b
		if a%b != 0 && (a < 0) != (b < 0) {
			q--
		}
		return vm.IntValue(q), nil
	case vm.POWER:
		if b < 0 {
			return vm.FloatValue(math.Pow(float64(a), float64(b))), nil
		}
		out := int64(1)
		for i := int64(0); i < b; i++ {
			out *= a
		}
		return vm.IntValue(out), nil
	}
	panic("Unhandled intOp code")
}

func asList(h *heap.Heap, v vm.Value) (*heap.List, error) {
	r, ok := v.(vm.RefValue)
	if !ok {
		return nil, Raise(ExcType, "expected a list, got %s", typeName(h, v))
	}
	obj, err := h.Get(r.Handle())
	if err != nil {
		return nil, err
	}
	l, ok := obj.(*heap.List)
	if !ok {
		return nil, Raise(ExcType, "expected a list, got %s", obj.Kind())
	}
	return l, nil
}

func asDict(h *heap.Heap, v vm.Value) (*heap.Dict, error) {
	r, ok := v.(vm.RefValue)
	if !ok {
		return nil, Raise(ExcType, "expected a dict, got %s", typeName(h, v))
	}
	obj, err := h.Get(r.Handle())
	if err != nil {
		return nil, err
	}
	d, ok := obj.(*heap.Dict)
	if !ok {
		return nil, Raise(ExcType, "expected a dict, got %s", obj.Kind())
	}
	return d, nil
}

// getAttribute services GETATTR: container indexing plus object fields.
func getAttribute(h *heap.Heap, obj, key vm.Value) (vm.Value, error) {
	switch o := obj.(type) {
	case vm.StrValue:
		idx, ok := key.(vm.IntValue)
		if !ok {
			return nil, Raise(ExcType, "string indices must be integers, got %s", vm.TypeName(key))
		}
		runes := []rune(string(o))
		i, err := normalizeIndex(int(idx), len(runes))
		if err != nil {
			return nil, err
		}
		return vm.StrValue(runes[i]), nil
	case vm.ErrorValue:
		switch key {
		case vm.StrValue("type"):
			return vm.StrValue(o.Type), nil
		case vm.StrValue("message"):
			return vm.StrValue(o.Message), nil
		}
		return nil, Raise(ExcAttribute, "error has no attribute %v", key)
	case vm.RefValue:
		ho, err := h.Get(o.Handle())
		if err != nil {
			return nil, err
		}
		switch c := ho.(type) {
		case *heap.List:
			idx, ok := key.(vm.IntValue)
			if !ok {
				return nil, Raise(ExcType, "list indices must be integers, got %s", typeName(h, key))
			}
			i, err := normalizeIndex(int(idx), len(c.Elems))
			if err != nil {
				return nil, err
			}
			return c.Elems[i], nil
		case *heap.Dict:
			k, ok := key.(vm.StrValue)
			if !ok {
				return nil, Raise(ExcType, "dict keys must be strings, got %s", typeName(h, key))
			}
			v, present := c.Entries[string(k)]
			if !present {
				return nil, Raise(ExcKey, "%q", string(k))
			}
			return v, nil
		case *heap.Bytes:
			idx, ok := key.(vm.IntValue)
			if !ok {
				return nil, Raise(ExcType, "bytes indices must be integers, got %s", typeName(h, key))
			}
			i, err := normalizeIndex(int(idx), len(c.Data))
			if err != nil {
				return nil, err
			}
			return vm.IntValue(c.Data[i]), nil
		case *heap.Path:
			return pathAttribute(h, c, key)
		}
	}
	return nil, Raise(ExcType, "%s is not subscriptable", typeName(h, obj))
}

func pathAttribute(h *heap.Heap, p *heap.Path, key vm.Value) (vm.Value, error) {
	k, ok := key.(vm.StrValue)
	if !ok {
		return nil, Raise(ExcType, "path attributes are named, got %s", vm.TypeName(key))
	}
	switch string(k) {
	case "name":
		return vm.StrValue(p.Name()), nil
	case "stem":
		return vm.StrValue(p.Stem()), nil
	case "suffix":
		return vm.StrValue(p.Suffix()), nil
	case "parent":
		hd, err := h.Allocate(heap.NewPath(p.Parent()))
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	default:
		return nil, Raise(ExcAttribute, "path has no attribute %q", string(k))
	}
}

// setAttribute services SETATTR. Only heap containers are mutable.
func setAttribute(h *heap.Heap, obj, key, val vm.Value) error {
	r, ok := obj.(vm.RefValue)
	if !ok {
		return Raise(ExcType, "%s does not support item assignment", typeName(h, obj))
	}
	ho, err := h.Get(r.Handle())
	if err != nil {
		return err
	}
	switch c := ho.(type) {
	case *heap.List:
		idx, ok := key.(vm.IntValue)
		if !ok {
			return Raise(ExcType, "list indices must be integers, got %s", typeName(h, key))
		}
		i, err := normalizeIndex(int(idx), len(c.Elems))
		if err != nil {
			return err
		}
		c.Elems[i] = val
		return nil
	case *heap.Dict:
		k, ok := key.(vm.StrValue)
		if !ok {
			return Raise(ExcType, "dict keys must be strings, got %s", typeName(h, key))
		}
		before := c.Size()
		c.Entries[string(k)] = val
		return h.Grow(r.Handle(), c.Size()-before)
	default:
		return Raise(ExcType, "%s does not support item assignment", c.Kind())
	}
}

// normalizeIndex applies negative indexing and bounds checks.
func normalizeIndex(i, length int) (int, error) {
	orig := i
	if i < 0 {
		i += length
	}
	if i < 0 || i >= length {
		return 0, Raise(ExcIndex, "index %d out of range for length %d", orig, length)
	}
	return i, nil
}

// contains services IN.
func contains(h *heap.Heap, item, collection vm.Value) (bool, error) {
	switch coll := collection.(type) {
	case vm.StrValue:
		s, ok := item.(vm.StrValue)
		if !ok {
			return false, Raise(ExcType, "'in <string>' requires a string, got %s", typeName(h, item))
		}
		return strings.Contains(string(coll), string(s)), nil
	case vm.RefValue:
		obj, err := h.Get(coll.Handle())
		if err != nil {
			return false, err
		}
		switch c := obj.(type) {
		case *heap.List:
			for _, e := range c.Elems {
				eq, err := valueEqual(h, item, e, 0)
				if err != nil {
					return false, err
				}
				if eq {
					return true, nil
				}
			}
			return false, nil
		case *heap.Dict:
			k, ok := item.(vm.StrValue)
			if !ok {
				return false, Raise(ExcType, "'in <dict>' requires a string key, got %s", typeName(h, item))
			}
			_, present := c.Entries[string(k)]
			return present, nil
		}
	}
	return false, Raise(ExcType, "%s is not a container", typeName(h, collection))
}

// sliceValue services SLICE over lists and strings. None bounds mean the
// respective end; out-of-range bounds clamp.
func sliceValue(h *heap.Heap, src, startVal, endVal vm.Value) (vm.Value, error) {
	bound := func(v vm.Value, def, length int) (int, error) {
		if _, ok := v.(vm.NoneValue); ok {
			return def, nil
		}
		n, ok := v.(vm.IntValue)
		if !ok {
			return 0, Raise(ExcType, "slice bounds must be integers or None, got %s", typeName(h, v))
		}
		i := int(n)
		if i < 0 {
			i += length
		}
		if i < 0 {
			i = 0
		}
		if i > length {
			i = length
		}
		return i, nil
	}
	switch s := src.(type) {
	case vm.StrValue:
		runes := []rune(string(s))
		start, err := bound(startVal, 0, len(runes))
		if err != nil {
			return nil, err
		}
		end, err := bound(endVal, len(runes), len(runes))
		if err != nil {
			return nil, err
		}
		if start > end {
			start = end
		}
		return vm.StrValue(runes[start:end]), nil
	case vm.RefValue:
		l, err := asList(h, s)
		if err != nil {
			return nil, err
		}
		start, err := bound(startVal, 0, len(l.Elems))
		if err != nil {
			return nil, err
		}
		end, err := bound(endVal, len(l.Elems), len(l.Elems))
		if err != nil {
			return nil, err
		}
		if start > end {
			start = end
		}
		elems := make([]vm.Value, end-start)
		copy(elems, l.Elems[start:end])
		hd, err := h.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	}
	return nil, Raise(ExcType, "%s cannot be sliced", typeName(h, src))
}

func mustString(v vm.Value) string {
	return string(v.(vm.StrValue))
}
