// Package snapshot is the wire codec for compiled programs and suspended
// runs. Both forms are a fixed header (magic plus format version) followed
// by a msgpack body of concrete record structs: interface-typed values are
// decomposed into tagged records before encoding, so the codec never
// round-trips Go interfaces.
package snapshot

import (
	"fmt"

	"github.com/hibervm-dev/hibervm/interp"
)

const (
	programMagic       = "HVMP"
	runMagic           = "HVMR"
	formatVersion byte = 1
)

const headerSize = 5

// DecodeError reports malformed snapshot bytes.
type DecodeError struct {
	Msg string
}

func (e *DecodeError) Error() string {
	return "snapshot: " + e.Msg
}

func decodeErrf(format string, args ...any) error {
	return &DecodeError{Msg: fmt.Sprintf(format, args...)}
}

// value kinds for valueRec
const (
	kindNone uint8 = iota
	kindBool
	kindInt
	kindFloat
	kindStr
	kindRef
	kindFnPtr
	kindBuiltin
	kindExtFunc
	kindError
	kindArg
)

// valueRec is the wire form of one vm.Value.
type valueRec struct {
	Kind  uint8
	Bool  bool
	Int   int64
	Float float64
	Str   string
	Slot  uint32
	Gen   uint32
	Ptr   uint64
	ID    int
	Name  string
	Msg   string
	Key   string
	Inner *valueRec
}

// object kinds for objectRec
const (
	objList uint8 = iota
	objDict
	objBytes
	objPath
)

// objectRec is the wire form of one heap object. Dict entries are written
// key-sorted so a heap has exactly one encoding.
type objectRec struct {
	Kind  uint8
	List  []valueRec
	Dict  []dictRec
	Bytes []byte
	Path  string
}

type dictRec struct {
	Key string
	Val valueRec
}

type heapEntryRec struct {
	Slot uint32
	Gen  uint32
	Obj  objectRec
}

type varRec struct {
	Name string
	Val  valueRec
}

type iterRec struct {
	Start    uint64
	End      uint64
	VarNames []string
	Source   valueRec
	Keys     []string
	Index    int
}

type frameRec struct {
	Stack []valueRec
	PC    uint64
	Vars  []varRec
	Iters []iterRec
}

type opRec struct {
	Code uint32
	Arg  *valueRec
}

type paramRec struct {
	Name    string
	Default *valueRec
}

type handlerRec struct {
	Start  int
	End    int
	Target int
	Depth  int
}

type functionRec struct {
	Ops      []opRec
	Params   []paramRec
	Handlers []handlerRec
}

type defRec struct {
	Name string
	Idx  int
}

type programRec struct {
	Definitions []defRec
	Code        []functionRec
	Main        functionRec
	Externals   []string
	Inputs      []string
	Filename    string
}

type pendingRec struct {
	CallID   string
	Function string
	Args     []interp.HostValue
	Kwargs   []interp.HostEntry
}

type countersRec struct {
	Steps       int64
	HeapBytes   int64
	ElapsedNano int64
}

type limitsRec struct {
	MaxSteps     int64
	MaxHeapBytes int64
	MaxDuration  int64
}

type runRec struct {
	ID          string
	Fingerprint uint64
	Status      int
	Globals     frameRec
	Frames      []frameRec // call frames above the module frame
	Heap        []heapEntryRec
	Counters    countersRec
	Limits      limitsRec
	Pending     *pendingRec
}

func frameBytes(magic string, body []byte) []byte {
	out := make([]byte, 0, headerSize+len(body))
	out = append(out, magic...)
	out = append(out, formatVersion)
	return append(out, body...)
}

func checkHeader(data []byte, magic string) ([]byte, error) {
	if len(data) < headerSize {
		return nil, decodeErrf("truncated header: %d bytes", len(data))
	}
	if string(data[:4]) != magic {
		return nil, decodeErrf("bad magic %q, want %q", string(data[:4]), magic)
	}
	if data[4] != formatVersion {
		return nil, decodeErrf("unsupported format version %d", data[4])
	}
	return data[headerSize:], nil
}
