package snapshot

import (
	"testing"

	"github.com/shamaton/msgpack/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibervm-dev/hibervm/interp"
	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

func compile(t *testing.T, src string, opts vm.Options) *vm.Program {
	t.Helper()
	prog, err := vm.CompileSource(src, opts)
	require.NoError(t, err)
	return prog
}

const fibSrc = `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

fib(10)
`

func TestProgramRoundTrip(t *testing.T) {
	prog := compile(t, fibSrc, vm.Options{})
	data, err := DumpProgram(prog)
	require.NoError(t, err)

	loaded, err := LoadProgram(data)
	require.NoError(t, err)
	out, err := interp.Execute(loaded, interp.Options{})
	require.NoError(t, err)
	assert.Equal(t, interp.HostIntValue(55), out.Result)
}

func TestFingerprintIsStable(t *testing.T) {
	a := compile(t, fibSrc, vm.Options{})
	b := compile(t, fibSrc, vm.Options{})
	fa, err := Fingerprint(a)
	require.NoError(t, err)
	fb, err := Fingerprint(b)
	require.NoError(t, err)
	assert.Equal(t, fa, fb)

	// the fingerprint survives a codec round trip
	data, err := DumpProgram(a)
	require.NoError(t, err)
	loaded, err := LoadProgram(data)
	require.NoError(t, err)
	fl, err := Fingerprint(loaded)
	require.NoError(t, err)
	assert.Equal(t, fa, fl)

	other := compile(t, `1 + 1`, vm.Options{})
	fo, err := Fingerprint(other)
	require.NoError(t, err)
	assert.NotEqual(t, fa, fo)
}

func TestLoadProgramRejectsGarbage(t *testing.T) {
	var derr *DecodeError

	_, err := LoadProgram(nil)
	require.ErrorAs(t, err, &derr)

	_, err = LoadProgram([]byte("XXXX\x01rest"))
	require.ErrorAs(t, err, &derr)

	prog := compile(t, `1`, vm.Options{})
	data, err := DumpProgram(prog)
	require.NoError(t, err)

	// wrong version byte
	bad := append([]byte(nil), data...)
	bad[4] = 99
	_, err = LoadProgram(bad)
	require.ErrorAs(t, err, &derr)

	// run snapshots are not program snapshots
	_, err = LoadProgram(append([]byte(runMagic), data[4:]...))
	require.ErrorAs(t, err, &derr)

	// truncated body
	_, err = LoadProgram(data[:len(data)/2])
	require.ErrorAs(t, err, &derr)
}

func TestRunRoundTripAcrossSuspension(t *testing.T) {
	prog := compile(t, `
prefix = "got: "
text = fetch("https://example.com", timeout=5)
prefix + text
`, vm.Options{Externals: []string{"fetch"}})

	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, interp.Suspended, out.Status)

	data, err := DumpRun(r)
	require.NoError(t, err)

	// restore into a fresh run, as another process would
	r2, err := LoadRun(data, prog, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, r.ID, r2.ID)
	assert.Equal(t, interp.Suspended, r2.Status)
	require.NotNil(t, r2.Pending)
	assert.Equal(t, out.Call.CallID, r2.Pending.CallID)
	assert.Equal(t, "fetch", r2.Pending.Function)
	require.Len(t, r2.Pending.Kwargs, 1)
	assert.Equal(t, "timeout", r2.Pending.Kwargs[0].Key)
	assert.Equal(t, interp.HostIntValue(5), r2.Pending.Kwargs[0].Value)

	out, err = r2.Resume(interp.HostStrValue("hello world"))
	require.NoError(t, err)
	assert.Equal(t, interp.Done, out.Status)
	assert.Equal(t, interp.HostStrValue("got: hello world"), out.Result)
}

func TestRunRoundTripInsideLoop(t *testing.T) {
	prog := compile(t, `
total = 0
for i in range(3):
    total = total + poll(i)

total
`, vm.Options{Externals: []string{"poll"}})

	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)

	// dump and reload between every resumption
	for out.Status == interp.Suspended {
		data, err := DumpRun(r)
		require.NoError(t, err)
		r, err = LoadRun(data, prog, RunOptions{})
		require.NoError(t, err)
		out, err = r.Resume(interp.HostIntValue((out.Call.Args[0].Int + 1) * 10))
		require.NoError(t, err)
	}
	assert.Equal(t, interp.Done, out.Status)
	assert.Equal(t, interp.HostIntValue(60), out.Result)
}

func TestDumpReadyRun(t *testing.T) {
	prog := compile(t, `6 * 7`, vm.Options{})
	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)

	data, err := DumpRun(r)
	require.NoError(t, err)
	r2, err := LoadRun(data, prog, RunOptions{})
	require.NoError(t, err)
	assert.Equal(t, interp.Ready, r2.Status)

	out, err := r2.Start()
	require.NoError(t, err)
	assert.Equal(t, interp.HostIntValue(42), out.Result)
}

func TestDumpFinishedRunFails(t *testing.T) {
	prog := compile(t, `1`, vm.Options{})
	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)

	_, err = DumpRun(r)
	require.Error(t, err)
}

func TestLoadRunRejectsWrongProgram(t *testing.T) {
	prog := compile(t, `fetch("x")`, vm.Options{Externals: []string{"fetch"}})
	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)
	data, err := DumpRun(r)
	require.NoError(t, err)

	other := compile(t, `fetch("y")`, vm.Options{Externals: []string{"fetch"}})
	var derr *DecodeError
	_, err = LoadRun(data, other, RunOptions{})
	require.ErrorAs(t, err, &derr)
	assert.Contains(t, err.Error(), "fingerprint")
}

func TestResumePolicies(t *testing.T) {
	prog := compile(t, `
xs = [1, 2, 3, 4, 5]
fetch("x")
len(xs)
`, vm.Options{Externals: []string{"fetch"}})

	r, err := interp.NewRun(prog, interp.Options{Limits: resource.Limits{MaxSteps: 10000}})
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)
	stepsBefore := r.Counters().Steps
	require.Positive(t, stepsBefore)
	data, err := DumpRun(r)
	require.NoError(t, err)

	carried, err := LoadRun(data, prog, RunOptions{Policy: Carry})
	require.NoError(t, err)
	assert.Equal(t, stepsBefore, carried.Counters().Steps)

	reset, err := LoadRun(data, prog, RunOptions{Policy: Reset})
	require.NoError(t, err)
	c := reset.Counters()
	assert.Zero(t, c.Steps)
	// heap usage is re-derived from live objects, never forgotten
	assert.Positive(t, c.HeapBytes)

	out, err := reset.Resume(interp.HostNoneValue())
	require.NoError(t, err)
	assert.Equal(t, interp.HostIntValue(5), out.Result)
}

func TestSnapshotDeterminism(t *testing.T) {
	prog := compile(t, `
d = {"b": 2, "a": 1}
fetch(d["a"])
`, vm.Options{Externals: []string{"fetch"}})
	r, err := interp.NewRun(prog, interp.Options{})
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)

	first, err := DumpRun(r)
	require.NoError(t, err)
	second, err := DumpRun(r)
	require.NoError(t, err)

	// only the elapsed-time counter may differ between two dumps
	assert.Equal(t, decodeRunRec(t, first), decodeRunRec(t, second))
}

func decodeRunRec(t *testing.T, data []byte) runRec {
	t.Helper()
	body, err := checkHeader(data, runMagic)
	require.NoError(t, err)
	var rec runRec
	require.NoError(t, msgpack.Unmarshal(body, &rec))
	rec.Counters.ElapsedNano = 0
	return rec
}
