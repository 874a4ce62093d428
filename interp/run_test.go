package interp

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hibervm-dev/hibervm/resource"
	"github.com/hibervm-dev/hibervm/vm"
)

func compile(t *testing.T, src string, opts vm.Options) *vm.Program {
	t.Helper()
	prog, err := vm.CompileSource(src, opts)
	require.NoError(t, err)
	return prog
}

func TestExecuteFib(t *testing.T) {
	prog := compile(t, `
def fib(n):
    if n < 2:
        return n
    return fib(n - 1) + fib(n - 2)

fib(10)
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostIntValue(55), out.Result)
}

func TestExecuteArithmetic(t *testing.T) {
	cases := []struct {
		src  string
		want HostValue
	}{
		{`1 + 2 * 3`, HostIntValue(7)},
		{`7 / 2`, HostFloatValue(3.5)},
		{`7 // 2`, HostIntValue(3)},
		{`-7 // 2`, HostIntValue(-4)},
		{`-7 % 3`, HostIntValue(2)},
		{`abs(-3) * 2`, HostIntValue(6)},
		{`"ab" * 3`, HostStrValue("ababab")},
		{`"a" + "b"`, HostStrValue("ab")},
		{`len([1, 2, 3] + [4])`, HostIntValue(4)},
		{`3 > 2 and 1 < 2`, HostBoolValue(true)},
		{`"ell" in "hello"`, HostBoolValue(true)},
	}
	for _, tc := range cases {
		prog := compile(t, tc.src, vm.Options{})
		out, err := Execute(prog, Options{})
		require.NoError(t, err, tc.src)
		assert.Equal(t, tc.want, out.Result, tc.src)
	}
}

func TestCallResumesAtNextInstruction(t *testing.T) {
	prog := compile(t, `
def one():
    return 1

a = one()
a + 10
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(11), out.Result)
}

func TestWhileBreakAndContinue(t *testing.T) {
	prog := compile(t, `
n = 0
evens = 0
while True:
    n = n + 1
    if n > 6:
        break
    if n % 2 == 1:
        continue
    evens = evens + 1

evens
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(3), out.Result)
}

func TestBreakBindsToInnermostLoop(t *testing.T) {
	prog := compile(t, `
total = 0
for i in [1, 2, 3]:
    while True:
        break
    total = total + i

total
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(6), out.Result)
}

func TestForBreakInsideWhile(t *testing.T) {
	prog := compile(t, `
rounds = 0
found = 0
while rounds < 3:
    rounds = rounds + 1
    for x in [5, 6, 7]:
        if x == 6:
            found = found + 1
            break

found
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(3), out.Result)
}

func TestNaNNeverCompares(t *testing.T) {
	for _, src := range []string{
		`float("nan") == 1.0`,
		`float("nan") == float("nan")`,
	} {
		prog := compile(t, src, vm.Options{})
		out, err := Execute(prog, Options{})
		require.NoError(t, err, src)
		assert.Equal(t, HostBoolValue(false), out.Result, src)
	}

	prog := compile(t, `float("nan") < 1.0`, vm.Options{})
	_, err := Execute(prog, Options{})
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, ExcType, exc.Type)
}

func TestDictLiteralLastDuplicateWins(t *testing.T) {
	prog := compile(t, `{"a": 1, "a": 2}["a"]`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(2), out.Result)
}

func TestExecuteCollections(t *testing.T) {
	prog := compile(t, `
xs = []
for i in range(5):
    xs.append(i * i)

d = {"total": 0}
for x in xs:
    d["total"] = d["total"] + x

d["total"]
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(30), out.Result)
}

func TestSuspendAndResume(t *testing.T) {
	prog := compile(t, `
text = fetch("https://example.com")
len(text)
`, vm.Options{Externals: []string{"fetch"}})

	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, Ready, r.Status)

	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)
	require.NotNil(t, out.Call)
	assert.Equal(t, "fetch", out.Call.Function)
	require.Len(t, out.Call.Args, 1)
	assert.Equal(t, HostStrValue("https://example.com"), out.Call.Args[0])
	assert.NotEmpty(t, out.Call.CallID)

	out, err = r.Resume(HostStrValue("hello world"))
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostIntValue(11), out.Result)
}

func TestSuspendCarriesKeywordArguments(t *testing.T) {
	prog := compile(t, `
fetch("https://example.com", timeout=5, verify=True)
`, vm.Options{Externals: []string{"fetch"}})

	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)
	require.Len(t, out.Call.Args, 1)
	assert.Equal(t, HostStrValue("https://example.com"), out.Call.Args[0])
	require.Len(t, out.Call.Kwargs, 2)
	assert.Equal(t, "timeout", out.Call.Kwargs[0].Key)
	assert.Equal(t, HostIntValue(5), out.Call.Kwargs[0].Value)
	assert.Equal(t, "verify", out.Call.Kwargs[1].Key)
	assert.Equal(t, HostBoolValue(true), out.Call.Kwargs[1].Value)

	out, err = r.Resume(HostNoneValue())
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
}

func TestResumeConsumesPendingCall(t *testing.T) {
	prog := compile(t, `fetch("x")`, vm.Options{Externals: []string{"fetch"}})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)

	out, err = r.Resume(HostNoneValue())
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)

	_, err = r.Resume(HostNoneValue())
	require.Error(t, err)
}

func TestExternalCallsAreOrdered(t *testing.T) {
	prog := compile(t, `
a = step(1)
b = step(2)
c = step(3)
a + b + c
`, vm.Options{Externals: []string{"step"}})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)

	out, err := r.Start()
	require.NoError(t, err)
	var seen []int64
	for out.Status == Suspended {
		require.Len(t, out.Call.Args, 1)
		seen = append(seen, out.Call.Args[0].Int)
		out, err = r.Resume(HostIntValue(out.Call.Args[0].Int * 10))
		require.NoError(t, err)
	}
	assert.Equal(t, []int64{1, 2, 3}, seen)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostIntValue(60), out.Result)
}

func TestSuspendInsideFunction(t *testing.T) {
	prog := compile(t, `
def get(url):
    return fetch(url)

get("a") + get("b")
`, vm.Options{Externals: []string{"fetch"}})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)

	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)
	assert.Equal(t, HostStrValue("a"), out.Call.Args[0])

	out, err = r.Resume(HostStrValue("left-"))
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)
	assert.Equal(t, HostStrValue("b"), out.Call.Args[0])

	out, err = r.Resume(HostStrValue("right"))
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostStrValue("left-right"), out.Result)
}

func TestExecuteRejectsExternalCalls(t *testing.T) {
	prog := compile(t, `fetch("x")`, vm.Options{Externals: []string{"fetch"}})
	_, err := Execute(prog, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fetch")
}

func TestInputBinding(t *testing.T) {
	prog := compile(t, `greeting + ", " + name`, vm.Options{Inputs: []string{"greeting", "name"}})
	out, err := Execute(prog, Options{Inputs: map[string]HostValue{
		"greeting": HostStrValue("hello"),
		"name":     HostStrValue("world"),
	}})
	require.NoError(t, err)
	assert.Equal(t, HostStrValue("hello, world"), out.Result)
}

func TestInputMissingAndUndeclared(t *testing.T) {
	prog := compile(t, `x`, vm.Options{Inputs: []string{"x"}})

	_, err := NewRun(prog, Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not bound")

	_, err = NewRun(prog, Options{Inputs: map[string]HostValue{
		"x": HostIntValue(1),
		"y": HostIntValue(2),
	}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not declared")
}

func TestPrintGoesToSink(t *testing.T) {
	prog := compile(t, `
print("starting")
print("x", 1, [2, 3])
None
`, vm.Options{})
	sink := &CollectSink{}
	_, err := Execute(prog, Options{Sink: sink})
	require.NoError(t, err)
	assert.Equal(t, []string{"starting", "x 1 [2, 3]"}, sink.Lines)
}

func TestGlobalsVisibleInFunctions(t *testing.T) {
	prog := compile(t, `
base = 100

def bump(n):
    return base + n

bump(7)
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(107), out.Result)
}

func TestDefaultArguments(t *testing.T) {
	prog := compile(t, `
def scale(x, factor=2):
    return x * factor

scale(5) + scale(5, 3)
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(25), out.Result)
}

func TestFailBuiltinFailsRun(t *testing.T) {
	prog := compile(t, `fail("boom")`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.Error(t, err)
	assert.Equal(t, Failed, out.Status)
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, ExcRuntime, exc.Type)
	assert.Equal(t, "boom", exc.Message)
}

func TestDivisionByZero(t *testing.T) {
	for _, src := range []string{`1 / 0`, `1 // 0`, `1 % 0`} {
		prog := compile(t, src, vm.Options{})
		_, err := Execute(prog, Options{})
		var exc *Exception
		require.ErrorAs(t, err, &exc, src)
		assert.Equal(t, ExcZeroDivision, exc.Type, src)
	}
}

func TestStepLimitIsTerminal(t *testing.T) {
	prog := compile(t, `
n = 0
for i in range(100000):
    n = n + 1

n
`, vm.Options{})
	r, err := NewRun(prog, Options{Limits: resource.Limits{MaxSteps: 500}})
	require.NoError(t, err)
	out, err := r.Start()
	require.Error(t, err)
	assert.Equal(t, Failed, out.Status)
	var lerr *resource.LimitError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, resource.DimSteps, lerr.Dim)

	// a failed run cannot be driven further
	_, err = r.Resume(HostNoneValue())
	require.Error(t, err)
}

func TestHeapLimitIsTerminal(t *testing.T) {
	prog := compile(t, `
xs = []
for i in range(100000):
    xs.append("some payload string")

len(xs)
`, vm.Options{})
	_, err := Execute(prog, Options{Limits: resource.Limits{MaxHeapBytes: 8 * 1024}})
	require.Error(t, err)
	var lerr *resource.LimitError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, resource.DimMemory, lerr.Dim)
}

func TestDeterministicResult(t *testing.T) {
	src := `
total = 0
for k in {"b": 2, "a": 1, "c": 3}:
    total = total * 10 + {"b": 2, "a": 1, "c": 3}[k]

total
`
	prog := compile(t, src, vm.Options{})
	first, err := Execute(prog, Options{})
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Execute(prog, Options{})
		require.NoError(t, err)
		assert.Equal(t, first.Result, again.Result)
	}
	// dict iteration is sorted by key
	assert.Equal(t, HostIntValue(123), first.Result)
}

type fakeCapability struct {
	calls []string
	fn    func(function string, args []HostValue) (HostValue, error)
}

func (f *fakeCapability) Invoke(function string, args []HostValue) (HostValue, error) {
	f.calls = append(f.calls, function)
	return f.fn(function, args)
}

func TestReservedCallsNeverSuspend(t *testing.T) {
	prog := compile(t, `
p = path("/data/in.txt")
p.read_text()
`, vm.Options{})
	cap := &fakeCapability{fn: func(function string, args []HostValue) (HostValue, error) {
		if function != "path.read_text" {
			return HostValue{}, fmt.Errorf("unexpected function %s", function)
		}
		return HostStrValue("contents of " + args[0].Str), nil
	}}
	out, err := Execute(prog, Options{Capability: cap})
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostStrValue("contents of /data/in.txt"), out.Result)
	assert.Equal(t, []string{"path.read_text"}, cap.calls)
}

func TestReservedCallWithoutCapability(t *testing.T) {
	prog := compile(t, `path("/x").exists()`, vm.Options{})
	_, err := Execute(prog, Options{})
	require.Error(t, err)
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, ExcHostUnavailable, exc.Type)
}

func TestCapabilityErrorBecomesHostError(t *testing.T) {
	prog := compile(t, `path("/x").read_text()`, vm.Options{})
	cap := &fakeCapability{fn: func(string, []HostValue) (HostValue, error) {
		return HostValue{}, errors.New("disk on fire")
	}}
	_, err := Execute(prog, Options{Capability: cap})
	require.Error(t, err)
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, ExcHostError, exc.Type)
	assert.Contains(t, exc.Message, "disk on fire")
}

func TestPurePathMethodsStayLocal(t *testing.T) {
	prog := compile(t, `
p = path("/srv/logs/app.tar.gz")
[p.name, p.stem, p.suffix, p.parent.as_posix(), p.is_absolute()]
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostListValue(
		HostStrValue("app.tar.gz"),
		HostStrValue("app.tar"),
		HostStrValue(".gz"),
		HostStrValue("/srv/logs"),
		HostBoolValue(true),
	), out.Result)
}

// handlerProgram hand-assembles a module because the source language has no
// try construct; handler tables are produced by hosts that assemble bytecode
// directly.
func handlerProgram(externals []string, handlers []vm.ExcHandler, ops []vm.Op) *vm.Program {
	return &vm.Program{
		Definitions: map[string]int{},
		Main:        &vm.Function{Bytecode: ops, Handlers: handlers},
		Externals:   externals,
	}
}

func TestPowerOpcode(t *testing.T) {
	// The source language has no power operator; POWER is reachable only
	// from assembled bytecode.
	prog := handlerProgram(nil, nil, []vm.Op{
		{Code: vm.PUSH, Arg: vm.IntValue(2)},
		{Code: vm.PUSH, Arg: vm.IntValue(10)},
		{Code: vm.POWER},
		{Code: vm.RETURN},
	})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostIntValue(1024), out.Result)
}

func TestHandlerCatchesRaise(t *testing.T) {
	prog := handlerProgram(nil,
		[]vm.ExcHandler{{Start: 0, End: 3, Target: 3, Depth: 0}},
		[]vm.Op{
			{Code: vm.PUSH, Arg: vm.StrValue("boom")},
			{Code: vm.RAISE},
			{Code: vm.RETURN}, // skipped
			{Code: vm.PUSH, Arg: vm.StrValue("type")},
			{Code: vm.GETATTR},
			{Code: vm.RETURN},
		})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostStrValue(ExcRuntime), out.Result)
}

func TestHandlerTruncatesStack(t *testing.T) {
	prog := handlerProgram(nil,
		[]vm.ExcHandler{{Start: 1, End: 4, Target: 4, Depth: 1}},
		[]vm.Op{
			{Code: vm.PUSH, Arg: vm.IntValue(10)},
			{Code: vm.PUSH, Arg: vm.IntValue(99)}, // discarded on catch
			{Code: vm.PUSH, Arg: vm.StrValue("oops")},
			{Code: vm.RAISE},
			// handler entry: stack is [10, error]
			{Code: vm.PUSH, Arg: vm.StrValue("message")},
			{Code: vm.GETATTR},
			{Code: vm.RETURN},
		})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostStrValue("oops"), out.Result)
}

func TestResumeRaiseCaught(t *testing.T) {
	prog := handlerProgram([]string{"fetch"},
		[]vm.ExcHandler{{Start: 0, End: 4, Target: 4, Depth: 0}},
		[]vm.Op{
			{Code: vm.PUSH, Arg: vm.StrValue("fetch")},
			{Code: vm.GETVAL},
			{Code: vm.CALL, Arg: vm.IntValue(0)},
			{Code: vm.RETURN},
			{Code: vm.PUSH, Arg: vm.StrValue("type")},
			{Code: vm.GETATTR},
			{Code: vm.RETURN},
		})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)

	out, err = r.ResumeRaise("NetworkError", "connection refused")
	require.NoError(t, err)
	assert.Equal(t, Done, out.Status)
	assert.Equal(t, HostStrValue("NetworkError"), out.Result)
}

func TestResumeRaiseUncaught(t *testing.T) {
	prog := compile(t, `fetch("x")`, vm.Options{Externals: []string{"fetch"}})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	out, err := r.Start()
	require.NoError(t, err)
	require.Equal(t, Suspended, out.Status)

	out, err = r.ResumeRaise("NetworkError", "connection refused")
	require.Error(t, err)
	assert.Equal(t, Failed, out.Status)
	var exc *Exception
	require.ErrorAs(t, err, &exc)
	assert.Equal(t, "NetworkError", exc.Type)
}

func TestCountersAdvance(t *testing.T) {
	prog := compile(t, `
xs = [1, 2, 3]
len(xs)
`, vm.Options{})
	r, err := NewRun(prog, Options{})
	require.NoError(t, err)
	_, err = r.Start()
	require.NoError(t, err)
	c := r.Counters()
	assert.Positive(t, c.Steps)
	assert.Positive(t, c.HeapBytes)
}

func TestStringAndListMethods(t *testing.T) {
	prog := compile(t, `
parts = "a, b, c".split(", ")
parts.append("D".lower())
"-".join(parts).upper()
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostStrValue("A-B-C-D"), out.Result)
}

func TestDictMethods(t *testing.T) {
	prog := compile(t, `
d = {"a": 1}
d["b"] = 2
missing = d.get("z", -1)
[d.keys(), d.pop("a"), missing, len(d)]
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostListValue(
		HostListValue(HostStrValue("a"), HostStrValue("b")),
		HostIntValue(1),
		HostIntValue(-1),
		HostIntValue(1),
	), out.Result)
}

func TestSlicing(t *testing.T) {
	prog := compile(t, `
s = "hello world"
[s[0:5], s[6:], s[:5], [1, 2, 3, 4][1:3]]
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	assert.Equal(t, HostListValue(
		HostStrValue("hello"),
		HostStrValue("world"),
		HostStrValue("hello"),
		HostListValue(HostIntValue(2), HostIntValue(3)),
	), out.Result)
}

func TestResultRoundTrips(t *testing.T) {
	prog := compile(t, `
{"ok": True, "items": [1, 2.5, "x", None], "data": b"\x01\x02"}
`, vm.Options{})
	out, err := Execute(prog, Options{})
	require.NoError(t, err)
	require.Equal(t, HostDict, out.Result.Kind)
	require.Len(t, out.Result.Dict, 3)
	// entries are sorted by key
	assert.Equal(t, "data", out.Result.Dict[0].Key)
	assert.Equal(t, HostBytesValue([]byte{1, 2}), out.Result.Dict[0].Value)
	assert.Equal(t, "items", out.Result.Dict[1].Key)
	assert.Equal(t, "ok", out.Result.Dict[2].Key)
	assert.Equal(t, HostBoolValue(true), out.Result.Dict[2].Value)
}
