package interp

import (
	"strconv"
	"strings"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

// AllBuiltins contains the BuiltinValue instances resolvable by name.
var AllBuiltins = map[string]vm.BuiltinValue{
	"print": {Name: "print"},
	"len":   {Name: "len"},
	"range": {Name: "range"},
	"str":   {Name: "str"},
	"repr":  {Name: "repr"},
	"int":   {Name: "int"},
	"float": {Name: "float"},
	"bool":  {Name: "bool"},
	"abs":   {Name: "abs"},
	"min":   {Name: "min"},
	"max":   {Name: "max"},
	"type":  {Name: "type"},
	"fail":  {Name: "fail"},
	"path":  {Name: "path"},
}

var builtinRegistry = map[string]func(r *Run, args []vm.Value) (vm.Value, error){
	"print": builtinPrint,
	"len":   builtinLen,
	"range": builtinRange,
	"str":   builtinStr,
	"repr":  builtinRepr,
	"int":   builtinInt,
	"float": builtinFloat,
	"bool":  builtinBool,
	"abs":   builtinAbs,
	"min":   builtinMinMax(-1),
	"max":   builtinMinMax(1),
	"type":  builtinType,
	"fail":  builtinFail,
	"path":  builtinPath,
}

func callBuiltin(r *Run, name string, args []vm.Value) (vm.Value, error) {
	fn, ok := builtinRegistry[name]
	if !ok {
		return nil, Raise(ExcName, "no builtin named %q", name)
	}
	return fn(r, args)
}

func builtinPrint(r *Run, args []vm.Value) (vm.Value, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatValue(r.Heap, a, false, nil))
	}
	r.Sink.Print(strings.Join(parts, " "))
	return vm.None, nil
}

func builtinLen(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "len() takes exactly 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case vm.StrValue:
		return vm.IntValue(len([]rune(string(v)))), nil
	case vm.RefValue:
		obj, err := r.Heap.Get(v.Handle())
		if err != nil {
			return nil, err
		}
		switch o := obj.(type) {
		case *heap.List:
			return vm.IntValue(len(o.Elems)), nil
		case *heap.Dict:
			return vm.IntValue(len(o.Entries)), nil
		case *heap.Bytes:
			return vm.IntValue(len(o.Data)), nil
		}
	}
	return nil, Raise(ExcType, "%s has no len()", typeName(r.Heap, args[0]))
}

// builtinRange materializes the sequence as a list on the heap, so range
// results behave like any other sequence and the memory is accounted.
func builtinRange(r *Run, args []vm.Value) (vm.Value, error) {
	var start, stop, step int64
	asInt := func(v vm.Value, what string) (int64, error) {
		n, ok := v.(vm.IntValue)
		if !ok {
			return 0, Raise(ExcType, "range() %s must be an integer, got %s", what, typeName(r.Heap, v))
		}
		return int64(n), nil
	}
	var err error
	switch len(args) {
	case 1:
		step = 1
		if stop, err = asInt(args[0], "stop"); err != nil {
			return nil, err
		}
	case 2:
		step = 1
		if start, err = asInt(args[0], "start"); err != nil {
			return nil, err
		}
		if stop, err = asInt(args[1], "stop"); err != nil {
			return nil, err
		}
	case 3:
		if start, err = asInt(args[0], "start"); err != nil {
			return nil, err
		}
		if stop, err = asInt(args[1], "stop"); err != nil {
			return nil, err
		}
		if step, err = asInt(args[2], "step"); err != nil {
			return nil, err
		}
		if step == 0 {
			return nil, Raise(ExcValue, "range() step argument must not be zero")
		}
	default:
		return nil, Raise(ExcType, "range() takes 1 to 3 arguments, got %d", len(args))
	}

	var elems []vm.Value
	if step > 0 {
		for i := start; i < stop; i += step {
			elems = append(elems, vm.IntValue(i))
		}
	} else {
		for i := start; i > stop; i += step {
			elems = append(elems, vm.IntValue(i))
		}
	}
	hd, err := r.Heap.Allocate(&heap.List{Elems: elems})
	if err != nil {
		return nil, err
	}
	return vm.NewRef(hd), nil
}

func builtinStr(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "str() takes exactly 1 argument, got %d", len(args))
	}
	return vm.StrValue(formatValue(r.Heap, args[0], false, nil)), nil
}

func builtinRepr(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "repr() takes exactly 1 argument, got %d", len(args))
	}
	return vm.StrValue(formatValue(r.Heap, args[0], true, nil)), nil
}

func builtinInt(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "int() takes exactly 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case vm.IntValue:
		return v, nil
	case vm.FloatValue:
		return vm.IntValue(int64(v)), nil
	case vm.BoolValue:
		if v {
			return vm.IntValue(1), nil
		}
		return vm.IntValue(0), nil
	case vm.StrValue:
		n, err := strconv.ParseInt(strings.TrimSpace(string(v)), 10, 64)
		if err != nil {
			return nil, Raise(ExcValue, "invalid literal for int(): %q", string(v))
		}
		return vm.IntValue(n), nil
	}
	return nil, Raise(ExcType, "int() argument must be a number or string, got %s", typeName(r.Heap, args[0]))
}

func builtinFloat(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "float() takes exactly 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case vm.FloatValue:
		return v, nil
	case vm.IntValue:
		return vm.FloatValue(float64(v)), nil
	case vm.BoolValue:
		if v {
			return vm.FloatValue(1), nil
		}
		return vm.FloatValue(0), nil
	case vm.StrValue:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(v)), 64)
		if err != nil {
			return nil, Raise(ExcValue, "invalid literal for float(): %q", string(v))
		}
		return vm.FloatValue(f), nil
	}
	return nil, Raise(ExcType, "float() argument must be a number or string, got %s", typeName(r.Heap, args[0]))
}

func builtinBool(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "bool() takes exactly 1 argument, got %d", len(args))
	}
	t, err := truth(r.Heap, args[0])
	if err != nil {
		return nil, err
	}
	return vm.BoolValue(t), nil
}

func builtinAbs(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "abs() takes exactly 1 argument, got %d", len(args))
	}
	switch v := args[0].(type) {
	case vm.IntValue:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	case vm.FloatValue:
		if v < 0 {
			return -v, nil
		}
		return v, nil
	}
	return nil, Raise(ExcType, "abs() argument must be a number, got %s", typeName(r.Heap, args[0]))
}

// builtinMinMax builds min (want = -1) or max (want = 1). Accepts either a
// single list or two or more scalars.
func builtinMinMax(want int) func(r *Run, args []vm.Value) (vm.Value, error) {
	name := "max"
	if want < 0 {
		name = "min"
	}
	return func(r *Run, args []vm.Value) (vm.Value, error) {
		items := args
		if len(args) == 1 {
			l, err := asList(r.Heap, args[0])
			if err != nil {
				return nil, Raise(ExcType, "%s() with one argument requires a list", name)
			}
			items = l.Elems
		}
		if len(items) == 0 {
			return nil, Raise(ExcValue, "%s() of an empty sequence", name)
		}
		best := items[0]
		for _, v := range items[1:] {
			c, ok := v.Cmp(best)
			if !ok {
				return nil, Raise(ExcType, "%s() of incomparable types", name)
			}
			if (want > 0 && c > 0) || (want < 0 && c < 0) {
				best = v
			}
		}
		return best, nil
	}
}

func builtinType(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "type() takes exactly 1 argument, got %d", len(args))
	}
	return vm.StrValue(typeName(r.Heap, args[0])), nil
}

func builtinFail(r *Run, args []vm.Value) (vm.Value, error) {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, formatValue(r.Heap, a, false, nil))
	}
	return nil, &Exception{Type: ExcRuntime, Message: strings.Join(parts, " ")}
}

func builtinPath(r *Run, args []vm.Value) (vm.Value, error) {
	if len(args) != 1 {
		return nil, Raise(ExcType, "path() takes exactly 1 argument, got %d", len(args))
	}
	s, ok := args[0].(vm.StrValue)
	if !ok {
		if ref, isRef := args[0].(vm.RefValue); isRef {
			if obj, err := r.Heap.Get(ref.Handle()); err == nil {
				if _, isPath := obj.(*heap.Path); isPath {
					return args[0], nil
				}
			}
		}
		return nil, Raise(ExcType, "path() argument must be a string, got %s", typeName(r.Heap, args[0]))
	}
	hd, err := r.Heap.Allocate(heap.NewPath(string(s)))
	if err != nil {
		return nil, err
	}
	return vm.NewRef(hd), nil
}
