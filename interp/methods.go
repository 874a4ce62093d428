package interp

import (
	"strings"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

// callMethod is pure method dispatch. Host-backed methods were already
// given to RawCall by the caller; anything that reaches here resolves
// entirely against local state.
func callMethod(r *Run, receiver vm.Value, method string, args []vm.Value) (vm.Value, error) {
	switch recv := receiver.(type) {
	case vm.StrValue:
		return callStrMethod(r, string(recv), method, args)
	case vm.RefValue:
		obj, err := r.Heap.Get(recv.Handle())
		if err != nil {
			return nil, err
		}
		switch o := obj.(type) {
		case *heap.List:
			return callListMethod(r, recv, o, method, args)
		case *heap.Dict:
			return callDictMethod(r, recv, o, method, args)
		case *heap.Bytes:
			return callBytesMethod(r, o, method, args)
		case *heap.Path:
			return callPathMethod(r, o, method, args)
		}
	}
	return nil, Raise(ExcAttribute, "%s has no method %q", typeName(r.Heap, receiver), method)
}

func wantArgs(method string, args []vm.Value, n int) error {
	if len(args) != n {
		return Raise(ExcType, "%s() takes %d arguments, got %d", method, n, len(args))
	}
	return nil
}

func argStr(r *Run, method string, args []vm.Value, i int) (string, error) {
	s, ok := args[i].(vm.StrValue)
	if !ok {
		return "", Raise(ExcType, "%s() argument %d must be a string, got %s", method, i+1, typeName(r.Heap, args[i]))
	}
	return string(s), nil
}

func callStrMethod(r *Run, s, method string, args []vm.Value) (vm.Value, error) {
	switch method {
	case "upper":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.StrValue(strings.ToUpper(s)), nil
	case "lower":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.StrValue(strings.ToLower(s)), nil
	case "strip":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.StrValue(strings.TrimSpace(s)), nil
	case "split":
		var parts []string
		switch len(args) {
		case 0:
			parts = strings.Fields(s)
		case 1:
			sep, err := argStr(r, method, args, 0)
			if err != nil {
				return nil, err
			}
			parts = strings.Split(s, sep)
		default:
			return nil, Raise(ExcType, "split() takes at most 1 argument, got %d", len(args))
		}
		elems := make([]vm.Value, 0, len(parts))
		for _, p := range parts {
			elems = append(elems, vm.StrValue(p))
		}
		hd, err := r.Heap.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	case "join":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		l, err := asList(r.Heap, args[0])
		if err != nil {
			return nil, err
		}
		parts := make([]string, 0, len(l.Elems))
		for _, e := range l.Elems {
			es, ok := e.(vm.StrValue)
			if !ok {
				return nil, Raise(ExcType, "join() requires a list of strings, found %s", typeName(r.Heap, e))
			}
			parts = append(parts, string(es))
		}
		return vm.StrValue(strings.Join(parts, s)), nil
	case "startswith":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		p, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		return vm.BoolValue(strings.HasPrefix(s, p)), nil
	case "endswith":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		p, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		return vm.BoolValue(strings.HasSuffix(s, p)), nil
	case "replace":
		if err := wantArgs(method, args, 2); err != nil {
			return nil, err
		}
		from, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		to, err := argStr(r, method, args, 1)
		if err != nil {
			return nil, err
		}
		return vm.StrValue(strings.ReplaceAll(s, from, to)), nil
	case "find":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		sub, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		return vm.IntValue(strings.Index(s, sub)), nil
	case "encode":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		hd, err := r.Heap.Allocate(&heap.Bytes{Data: []byte(s)})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	}
	return nil, Raise(ExcAttribute, "str has no method %q", method)
}

func callListMethod(r *Run, ref vm.RefValue, l *heap.List, method string, args []vm.Value) (vm.Value, error) {
	grow := func(mutate func()) error {
		before := l.Size()
		mutate()
		return r.Heap.Grow(ref.Handle(), l.Size()-before)
	}
	switch method {
	case "append":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		if err := grow(func() { l.Elems = append(l.Elems, args[0]) }); err != nil {
			return nil, err
		}
		return vm.None, nil
	case "extend":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		other, err := asList(r.Heap, args[0])
		if err != nil {
			return nil, err
		}
		if err := grow(func() { l.Elems = append(l.Elems, other.Elems...) }); err != nil {
			return nil, err
		}
		return vm.None, nil
	case "insert":
		if err := wantArgs(method, args, 2); err != nil {
			return nil, err
		}
		idx, ok := args[0].(vm.IntValue)
		if !ok {
			return nil, Raise(ExcType, "insert() index must be an integer")
		}
		i := int(idx)
		if i < 0 {
			i += len(l.Elems)
		}
		if i < 0 {
			i = 0
		}
		if i > len(l.Elems) {
			i = len(l.Elems)
		}
		if err := grow(func() {
			l.Elems = append(l.Elems, nil)
			copy(l.Elems[i+1:], l.Elems[i:])
			l.Elems[i] = args[1]
		}); err != nil {
			return nil, err
		}
		return vm.None, nil
	case "pop":
		i := len(l.Elems) - 1
		if len(args) == 1 {
			idx, ok := args[0].(vm.IntValue)
			if !ok {
				return nil, Raise(ExcType, "pop() index must be an integer")
			}
			var err error
			if i, err = normalizeIndex(int(idx), len(l.Elems)); err != nil {
				return nil, err
			}
		} else if len(args) > 1 {
			return nil, Raise(ExcType, "pop() takes at most 1 argument, got %d", len(args))
		}
		if len(l.Elems) == 0 {
			return nil, Raise(ExcIndex, "pop from empty list")
		}
		v := l.Elems[i]
		if err := grow(func() { l.Elems = append(l.Elems[:i], l.Elems[i+1:]...) }); err != nil {
			return nil, err
		}
		return v, nil
	case "remove":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		for i, e := range l.Elems {
			eq, err := valueEqual(r.Heap, args[0], e, 0)
			if err != nil {
				return nil, err
			}
			if eq {
				if err := grow(func() { l.Elems = append(l.Elems[:i], l.Elems[i+1:]...) }); err != nil {
					return nil, err
				}
				return vm.None, nil
			}
		}
		return nil, Raise(ExcValue, "remove(): value not in list")
	case "index":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		for i, e := range l.Elems {
			eq, err := valueEqual(r.Heap, args[0], e, 0)
			if err != nil {
				return nil, err
			}
			if eq {
				return vm.IntValue(i), nil
			}
		}
		return nil, Raise(ExcValue, "index(): value not in list")
	case "clear":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		if err := grow(func() { l.Elems = nil }); err != nil {
			return nil, err
		}
		return vm.None, nil
	}
	return nil, Raise(ExcAttribute, "list has no method %q", method)
}

func callDictMethod(r *Run, ref vm.RefValue, d *heap.Dict, method string, args []vm.Value) (vm.Value, error) {
	newList := func(elems []vm.Value) (vm.Value, error) {
		hd, err := r.Heap.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	}
	switch method {
	case "get":
		if len(args) < 1 || len(args) > 2 {
			return nil, Raise(ExcType, "get() takes 1 or 2 arguments, got %d", len(args))
		}
		k, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		if v, ok := d.Entries[k]; ok {
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return vm.None, nil
	case "keys":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		keys := d.SortedKeys()
		elems := make([]vm.Value, 0, len(keys))
		for _, k := range keys {
			elems = append(elems, vm.StrValue(k))
		}
		return newList(elems)
	case "values":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		keys := d.SortedKeys()
		elems := make([]vm.Value, 0, len(keys))
		for _, k := range keys {
			elems = append(elems, d.Entries[k])
		}
		return newList(elems)
	case "items":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		keys := d.SortedKeys()
		elems := make([]vm.Value, 0, len(keys))
		for _, k := range keys {
			pair, err := newList([]vm.Value{vm.StrValue(k), d.Entries[k]})
			if err != nil {
				return nil, err
			}
			elems = append(elems, pair)
		}
		return newList(elems)
	case "pop":
		if len(args) < 1 || len(args) > 2 {
			return nil, Raise(ExcType, "pop() takes 1 or 2 arguments, got %d", len(args))
		}
		k, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		if v, ok := d.Entries[k]; ok {
			before := d.Size()
			delete(d.Entries, k)
			if err := r.Heap.Grow(ref.Handle(), d.Size()-before); err != nil {
				return nil, err
			}
			return v, nil
		}
		if len(args) == 2 {
			return args[1], nil
		}
		return nil, Raise(ExcKey, "%q", k)
	case "clear":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		before := d.Size()
		d.Entries = make(map[string]vm.Value)
		if err := r.Heap.Grow(ref.Handle(), d.Size()-before); err != nil {
			return nil, err
		}
		return vm.None, nil
	}
	return nil, Raise(ExcAttribute, "dict has no method %q", method)
}

func callBytesMethod(r *Run, b *heap.Bytes, method string, args []vm.Value) (vm.Value, error) {
	switch method {
	case "decode":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.StrValue(b.Data), nil
	}
	return nil, Raise(ExcAttribute, "bytes has no method %q", method)
}

// callPathMethod handles the pure (local) path surface. Host-backed
// methods never reach here; RawCall claimed them upstream.
func callPathMethod(r *Run, p *heap.Path, method string, args []vm.Value) (vm.Value, error) {
	newPath := func(raw string) (vm.Value, error) {
		hd, err := r.Heap.Allocate(heap.NewPath(raw))
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	}
	switch method {
	case "joinpath":
		segs := make([]string, 0, len(args))
		for i := range args {
			s, err := argStr(r, method, args, i)
			if err != nil {
				return nil, err
			}
			segs = append(segs, s)
		}
		return newPath(p.JoinPath(segs...))
	case "with_name":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		name, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		raw, err := p.WithName(name)
		if err != nil {
			return nil, Raise(ExcValue, "%s", err)
		}
		return newPath(raw)
	case "with_suffix":
		if err := wantArgs(method, args, 1); err != nil {
			return nil, err
		}
		suffix, err := argStr(r, method, args, 0)
		if err != nil {
			return nil, err
		}
		raw, err := p.WithSuffix(suffix)
		if err != nil {
			return nil, Raise(ExcValue, "%s", err)
		}
		return newPath(raw)
	case "as_posix", "str":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.StrValue(p.AsPosix()), nil
	case "is_absolute":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		return vm.BoolValue(p.IsAbsolute()), nil
	case "parts":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		parts := p.Parts()
		elems := make([]vm.Value, 0, len(parts))
		for _, s := range parts {
			elems = append(elems, vm.StrValue(s))
		}
		hd, err := r.Heap.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	case "suffixes":
		if err := wantArgs(method, args, 0); err != nil {
			return nil, err
		}
		sufs := p.Suffixes()
		elems := make([]vm.Value, 0, len(sufs))
		for _, s := range sufs {
			elems = append(elems, vm.StrValue(s))
		}
		hd, err := r.Heap.Allocate(&heap.List{Elems: elems})
		if err != nil {
			return nil, err
		}
		return vm.NewRef(hd), nil
	}
	return nil, Raise(ExcAttribute, "path has no method %q", method)
}
