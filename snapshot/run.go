package snapshot

import (
	"sort"
	"time"

	"github.com/shamaton/msgpack/v2"

	"github.com/hibervm-dev/hibervm/heap"
	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

// ResumePolicy chooses how resource counters behave across a restore.
type ResumePolicy int

const (
	// Carry continues the counters where the snapshot left them, so limits
	// span the run's whole life.
	Carry ResumePolicy = iota
	// Reset zeroes the step and time counters at restore. Heap usage is
	// re-derived from the live objects; it cannot be forgotten.
	Reset
)

// RunOptions rebinds the host-side pieces a snapshot cannot carry.
type RunOptions struct {
	Capability interp.Capability
	Sink       interp.Sink
	GCInterval int
	Policy     ResumePolicy
}

// DumpRun encodes a run's live state. Only Ready and Suspended runs can be
// dumped; a Running run is mid-step and a finished one has nothing to
// resume.
func DumpRun(r *interp.Run) ([]byte, error) {
	if r.Status != interp.Ready && r.Status != interp.Suspended {
		return nil, decodeErrf("cannot dump a %s run", r.Status)
	}
	fp, err := Fingerprint(r.Program)
	if err != nil {
		return nil, err
	}
	counters := r.Tracker.Counters()
	limits := r.Tracker.Limits()
	rec := runRec{
		ID:          r.ID,
		Fingerprint: fp,
		Status:      int(r.Status),
		Counters: countersRec{
			Steps:       counters.Steps,
			HeapBytes:   counters.HeapBytes,
			ElapsedNano: int64(counters.Elapsed),
		},
		Limits: limitsRec{
			MaxSteps:     limits.MaxSteps,
			MaxHeapBytes: limits.MaxHeapBytes,
			MaxDuration:  int64(limits.MaxDuration),
		},
	}
	rec.Globals, err = encodeFrame(r.Globals)
	if err != nil {
		return nil, err
	}
	// Frames[0] is the globals frame; only the call frames above it are
	// encoded separately.
	for _, f := range r.Frames[1:] {
		fr, err := encodeFrame(f)
		if err != nil {
			return nil, err
		}
		rec.Frames = append(rec.Frames, fr)
	}
	for _, e := range r.Heap.Entries() {
		or, err := encodeObject(e.Obj)
		if err != nil {
			return nil, err
		}
		rec.Heap = append(rec.Heap, heapEntryRec{Slot: e.Slot, Gen: e.Gen, Obj: or})
	}
	if r.Pending != nil {
		rec.Pending = &pendingRec{
			CallID:   r.Pending.CallID,
			Function: r.Pending.Function,
			Args:     r.Pending.Args,
			Kwargs:   r.Pending.Kwargs,
		}
	}
	body, err := msgpack.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return frameBytes(runMagic, body), nil
}

// LoadRun restores a dumped run against prog. The program must be the one
// the run was dumped with; the fingerprint check makes a mismatch a hard
// error instead of undefined execution.
func LoadRun(data []byte, prog *vm.Program, opts RunOptions) (*interp.Run, error) {
	body, err := checkHeader(data, runMagic)
	if err != nil {
		return nil, err
	}
	var rec runRec
	if err := msgpack.Unmarshal(body, &rec); err != nil {
		return nil, decodeErrf("run body: %s", err)
	}
	fp, err := Fingerprint(prog)
	if err != nil {
		return nil, err
	}
	if fp != rec.Fingerprint {
		return nil, decodeErrf("program fingerprint mismatch: snapshot %016x, program %016x", rec.Fingerprint, fp)
	}
	status := interp.Status(rec.Status)
	if status != interp.Ready && status != interp.Suspended {
		return nil, decodeErrf("snapshot holds a %s run", status)
	}
	if status == interp.Suspended && rec.Pending == nil {
		return nil, decodeErrf("suspended run has no pending call")
	}

	entries := make([]heap.Entry, 0, len(rec.Heap))
	var liveBytes int64
	for _, er := range rec.Heap {
		obj, err := decodeObject(er.Obj)
		if err != nil {
			return nil, err
		}
		entries = append(entries, heap.Entry{Slot: er.Slot, Gen: er.Gen, Obj: obj})
		liveBytes += obj.Size()
	}

	limits := resource.Limits{
		MaxSteps:     rec.Limits.MaxSteps,
		MaxHeapBytes: rec.Limits.MaxHeapBytes,
		MaxDuration:  time.Duration(rec.Limits.MaxDuration),
	}
	var counters resource.Counters
	switch opts.Policy {
	case Reset:
		counters = resource.Counters{HeapBytes: liveBytes}
	default:
		counters = resource.Counters{
			Steps:     rec.Counters.Steps,
			HeapBytes: rec.Counters.HeapBytes,
			Elapsed:   time.Duration(rec.Counters.ElapsedNano),
		}
	}
	tracker := resource.ResumeLimited(limits, counters)

	gcInterval := opts.GCInterval
	if gcInterval == 0 {
		gcInterval = heap.DefaultGCInterval
	}
	sink := opts.Sink
	if sink == nil {
		sink = interp.DiscardSink{}
	}

	globals, err := decodeFrame(rec.Globals)
	if err != nil {
		return nil, err
	}
	frames := interp.StackFrames{globals}
	for _, fr := range rec.Frames {
		f, err := decodeFrame(fr)
		if err != nil {
			return nil, err
		}
		frames.Append(f)
	}

	r := &interp.Run{
		ID:         rec.ID,
		Program:    prog,
		Globals:    globals,
		Frames:     frames,
		Heap:       heap.Restore(tracker, gcInterval, entries),
		Tracker:    tracker,
		Status:     status,
		Capability: opts.Capability,
		Sink:       sink,
	}
	if rec.Pending != nil {
		r.Pending = &interp.PendingCall{
			CallID:   rec.Pending.CallID,
			Function: rec.Pending.Function,
			Args:     rec.Pending.Args,
			Kwargs:   rec.Pending.Kwargs,
		}
	}
	return r, nil
}

func encodeFrame(f *interp.StackFrame) (frameRec, error) {
	rec := frameRec{PC: uint64(f.PC)}
	var err error
	if rec.Stack, err = encodeValues(f.Stack); err != nil {
		return frameRec{}, err
	}
	names := make([]string, 0, len(f.Variables))
	for name := range f.Variables {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		vr, err := encodeValue(f.Variables[name])
		if err != nil {
			return frameRec{}, err
		}
		rec.Vars = append(rec.Vars, varRec{Name: name, Val: vr})
	}
	for _, it := range f.IteratorStack {
		src, err := encodeValue(it.Source)
		if err != nil {
			return frameRec{}, err
		}
		rec.Iters = append(rec.Iters, iterRec{
			Start:    uint64(it.Start),
			End:      uint64(it.End),
			VarNames: it.VarNames,
			Source:   src,
			Keys:     it.Keys,
			Index:    it.Index,
		})
	}
	return rec, nil
}

func decodeFrame(rec frameRec) (*interp.StackFrame, error) {
	f := &interp.StackFrame{PC: vm.ExecPtr(rec.PC)}
	var err error
	if f.Stack, err = decodeValues(rec.Stack); err != nil {
		return nil, err
	}
	for _, vr := range rec.Vars {
		v, err := decodeValue(vr.Val)
		if err != nil {
			return nil, err
		}
		f.StoreVar(vr.Name, v)
	}
	for _, ir := range rec.Iters {
		src, err := decodeValue(ir.Source)
		if err != nil {
			return nil, err
		}
		f.IteratorStack = append(f.IteratorStack, &interp.IteratorState{
			Start:    vm.ExecPtr(ir.Start),
			End:      vm.ExecPtr(ir.End),
			VarNames: ir.VarNames,
			Source:   src,
			Keys:     ir.Keys,
			Index:    ir.Index,
		})
	}
	return f, nil
}
