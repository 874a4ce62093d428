package snapshot

import (
	"sort"

	"github.com/dgryski/go-farm"
	"github.com/shamaton/msgpack/v2"

	"github.com/hibervm-dev/hibervm/vm"
)

// DumpProgram encodes a compiled program. The encoding is canonical:
// encoding the same program twice yields identical bytes, which is what
// makes Fingerprint usable for resume validation.
func DumpProgram(p *vm.Program) ([]byte, error) {
	body, err := programBody(p)
	if err != nil {
		return nil, err
	}
	return frameBytes(programMagic, body), nil
}

func LoadProgram(data []byte) (*vm.Program, error) {
	body, err := checkHeader(data, programMagic)
	if err != nil {
		return nil, err
	}
	var rec programRec
	if err := msgpack.Unmarshal(body, &rec); err != nil {
		return nil, decodeErrf("program body: %s", err)
	}
	out := &vm.Program{
		Definitions: make(map[string]int, len(rec.Definitions)),
		Externals:   rec.Externals,
		Inputs:      rec.Inputs,
		Filename:    rec.Filename,
	}
	for _, d := range rec.Definitions {
		out.Definitions[d.Name] = d.Idx
	}
	main, err := decodeFunction(rec.Main)
	if err != nil {
		return nil, err
	}
	out.Main = main
	for _, fr := range rec.Code {
		fn, err := decodeFunction(fr)
		if err != nil {
			return nil, err
		}
		out.Code = append(out.Code, fn)
	}
	return out, nil
}

// Fingerprint hashes the canonical program encoding. Run snapshots carry
// it so a run can never be resumed against the wrong bytecode.
func Fingerprint(p *vm.Program) (uint64, error) {
	body, err := programBody(p)
	if err != nil {
		return 0, err
	}
	return farm.Hash64(body), nil
}

func programBody(p *vm.Program) ([]byte, error) {
	rec := programRec{
		Externals: p.Externals,
		Inputs:    p.Inputs,
		Filename:  p.Filename,
	}
	names := make([]string, 0, len(p.Definitions))
	for name := range p.Definitions {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		rec.Definitions = append(rec.Definitions, defRec{Name: name, Idx: p.Definitions[name]})
	}
	main, err := encodeFunction(p.Main)
	if err != nil {
		return nil, err
	}
	rec.Main = main
	for _, fn := range p.Code {
		fr, err := encodeFunction(fn)
		if err != nil {
			return nil, err
		}
		rec.Code = append(rec.Code, fr)
	}
	return msgpack.Marshal(rec)
}

func encodeFunction(fn *vm.Function) (functionRec, error) {
	var rec functionRec
	for _, op := range fn.Bytecode {
		or := opRec{Code: uint32(op.Code)}
		if op.Arg != nil {
			vr, err := encodeValue(op.Arg)
			if err != nil {
				return functionRec{}, err
			}
			or.Arg = &vr
		}
		rec.Ops = append(rec.Ops, or)
	}
	for _, p := range fn.Params {
		pr := paramRec{Name: p.Name}
		if p.Default != nil {
			vr, err := encodeValue(p.Default)
			if err != nil {
				return functionRec{}, err
			}
			pr.Default = &vr
		}
		rec.Params = append(rec.Params, pr)
	}
	for _, h := range fn.Handlers {
		rec.Handlers = append(rec.Handlers, handlerRec(h))
	}
	return rec, nil
}

func decodeFunction(rec functionRec) (*vm.Function, error) {
	fn := &vm.Function{}
	for _, or := range rec.Ops {
		op := vm.Op{Code: vm.Opcode(or.Code)}
		if op.Code >= vm.OpcodeMax {
			return nil, decodeErrf("unknown opcode %d", or.Code)
		}
		if or.Arg != nil {
			arg, err := decodeValue(*or.Arg)
			if err != nil {
				return nil, err
			}
			op.Arg = arg
		}
		fn.Bytecode = append(fn.Bytecode, op)
	}
	for _, pr := range rec.Params {
		p := vm.FunctionParam{Name: pr.Name}
		if pr.Default != nil {
			d, err := decodeValue(*pr.Default)
			if err != nil {
				return nil, err
			}
			p.Default = d
		}
		fn.Params = append(fn.Params, p)
	}
	for _, hr := range rec.Handlers {
		fn.Handlers = append(fn.Handlers, vm.ExcHandler(hr))
	}
	return fn, nil
}
