package snapshot

import (
	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/vm"
)

func encodeValue(v vm.Value) (valueRec, error) {
	switch val := v.(type) {
	case vm.NoneValue:
		return valueRec{Kind: kindNone}, nil
	case vm.BoolValue:
		return valueRec{Kind: kindBool, Bool: bool(val)}, nil
	case vm.IntValue:
		return valueRec{Kind: kindInt, Int: int64(val)}, nil
	case vm.FloatValue:
		return valueRec{Kind: kindFloat, Float: float64(val)}, nil
	case vm.StrValue:
		return valueRec{Kind: kindStr, Str: string(val)}, nil
	case vm.RefValue:
		hd := val.Handle()
		return valueRec{Kind: kindRef, Slot: hd.Slot, Gen: hd.Gen}, nil
	case vm.FnPtrValue:
		return valueRec{Kind: kindFnPtr, Ptr: uint64(val)}, nil
	case vm.BuiltinValue:
		return valueRec{Kind: kindBuiltin, Name: val.Name}, nil
	case vm.ExtFuncValue:
		return valueRec{Kind: kindExtFunc, ID: val.ID, Name: val.Name}, nil
	case vm.ErrorValue:
		return valueRec{Kind: kindError, Name: val.Type, Msg: val.Message}, nil
	case vm.ArgValue:
		inner, err := encodeValue(val.Value)
		if err != nil {
			return valueRec{}, err
		}
		return valueRec{Kind: kindArg, Key: val.Key, Inner: &inner}, nil
	default:
		return valueRec{}, decodeErrf("cannot encode value type %T", v)
	}
}

func decodeValue(rec valueRec) (vm.Value, error) {
	switch rec.Kind {
	case kindNone:
		return vm.None, nil
	case kindBool:
		return vm.BoolValue(rec.Bool), nil
	case kindInt:
		return vm.IntValue(rec.Int), nil
	case kindFloat:
		return vm.FloatValue(rec.Float), nil
	case kindStr:
		return vm.StrValue(rec.Str), nil
	case kindRef:
		return vm.NewRef(vm.Handle{Slot: rec.Slot, Gen: rec.Gen}), nil
	case kindFnPtr:
		return vm.FnPtrValue(rec.Ptr), nil
	case kindBuiltin:
		return vm.BuiltinValue{Name: rec.Name}, nil
	case kindExtFunc:
		return vm.ExtFuncValue{ID: rec.ID, Name: rec.Name}, nil
	case kindError:
		return vm.ErrorValue{Type: rec.Name, Message: rec.Msg}, nil
	case kindArg:
		if rec.Inner == nil {
			return nil, decodeErrf("argument record with no value")
		}
		inner, err := decodeValue(*rec.Inner)
		if err != nil {
			return nil, err
		}
		return vm.ArgValue{Key: rec.Key, Value: inner}, nil
	default:
		return nil, decodeErrf("unknown value kind %d", rec.Kind)
	}
}

func encodeValues(vs []vm.Value) ([]valueRec, error) {
	out := make([]valueRec, 0, len(vs))
	for _, v := range vs {
		rec, err := encodeValue(v)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func decodeValues(recs []valueRec) ([]vm.Value, error) {
	out := make([]vm.Value, 0, len(recs))
	for _, rec := range recs {
		v, err := decodeValue(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func encodeObject(obj heap.Object) (objectRec, error) {
	switch o := obj.(type) {
	case *heap.List:
		elems, err := encodeValues(o.Elems)
		if err != nil {
			return objectRec{}, err
		}
		return objectRec{Kind: objList, List: elems}, nil
	case *heap.Dict:
		keys := o.SortedKeys()
		entries := make([]dictRec, 0, len(keys))
		for _, k := range keys {
			rec, err := encodeValue(o.Entries[k])
			if err != nil {
				return objectRec{}, err
			}
			entries = append(entries, dictRec{Key: k, Val: rec})
		}
		return objectRec{Kind: objDict, Dict: entries}, nil
	case *heap.Bytes:
		return objectRec{Kind: objBytes, Bytes: o.Data}, nil
	case *heap.Path:
		return objectRec{Kind: objPath, Path: o.Raw}, nil
	default:
		return objectRec{}, decodeErrf("cannot encode heap object kind %q", obj.Kind())
	}
}

func decodeObject(rec objectRec) (heap.Object, error) {
	switch rec.Kind {
	case objList:
		elems, err := decodeValues(rec.List)
		if err != nil {
			return nil, err
		}
		return &heap.List{Elems: elems}, nil
	case objDict:
		d := heap.NewDict()
		for _, e := range rec.Dict {
			v, err := decodeValue(e.Val)
			if err != nil {
				return nil, err
			}
			d.Entries[e.Key] = v
		}
		return d, nil
	case objBytes:
		return &heap.Bytes{Data: rec.Bytes}, nil
	case objPath:
		return heap.NewPath(rec.Path), nil
	default:
		return nil, decodeErrf("unknown heap object kind %d", rec.Kind)
	}
}
