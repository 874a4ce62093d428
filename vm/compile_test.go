package vm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSimple(t *testing.T) {
	prg, err := CompileSource(`
x = 1
y = x + 2
`, Options{Filename: "simple.star"})
	require.NoError(t, err)
	require.NotNil(t, prg.Main)
	require.Empty(t, prg.Code)
}

func TestCompileDefAndResolve(t *testing.T) {
	prg, err := CompileSource(`
def double(x):
	return x * 2

def add(a, b=1):
	return a + b
`, Options{})
	require.NoError(t, err)
	require.Len(t, prg.Code, 2)

	ptr, ok := prg.Resolve("double")
	require.True(t, ok)
	fn := prg.GetFunction(ptr)
	require.NotNil(t, fn)
	require.Len(t, fn.Params, 1)

	ptr, ok = prg.Resolve("add")
	require.True(t, ok)
	fn = prg.GetFunction(ptr)
	require.NotNil(t, fn)
	require.Len(t, fn.Params, 2)
	require.Equal(t, IntValue(1), fn.Params[1].Default)

	_, ok = prg.Resolve("missing")
	require.False(t, ok)
}

func TestCompileFinalExpressionReturns(t *testing.T) {
	prg, err := CompileSource(`
x = 20
x + 2
`, Options{})
	require.NoError(t, err)
	last := prg.Main.Bytecode[len(prg.Main.Bytecode)-1]
	require.Equal(t, RETURN, last.Code)
}

func TestCompileMidExpressionIsPopped(t *testing.T) {
	prg, err := CompileSource(`
1 + 1
x = 2
`, Options{})
	require.NoError(t, err)
	for _, op := range prg.Main.Bytecode {
		require.NotEqual(t, RETURN, op.Code)
	}
}

func TestCompileExternals(t *testing.T) {
	prg, err := CompileSource(`
result = fetch("https://example.com")
`, Options{Externals: []string{"fetch"}})
	require.NoError(t, err)
	id, ok := prg.ExternalID("fetch")
	require.True(t, ok)
	require.Equal(t, 0, id)
	_, ok = prg.ExternalID("other")
	require.False(t, ok)
}

func TestCompileExternalCollision(t *testing.T) {
	_, err := CompileSource(`
def fetch(url):
	return url
`, Options{Externals: []string{"fetch"}})
	require.Error(t, err)
}

func TestCompileLoadRejected(t *testing.T) {
	_, err := CompileSource(`load("module", "sym")`, Options{})
	require.Error(t, err)
}

func TestCompileSyntaxErrorHasPosition(t *testing.T) {
	_, err := CompileSource("x = = 1", Options{Filename: "bad.star"})
	require.Error(t, err)
	var cerr *CompileError
	require.ErrorAs(t, err, &cerr)
}

func TestLabelsArePatched(t *testing.T) {
	prg, err := CompileSource(`
x = 0
while x < 3:
	x = x + 1
for i in [1, 2]:
	x = x + i
`, Options{})
	require.NoError(t, err)
	for _, op := range prg.Main.Bytecode {
		require.NotEqual(t, LABEL, op.Code)
		switch op.Code {
		case JMP, JFALSE, ITER_START, ITER_START_2:
			_, ok := op.Arg.(IntValue)
			require.True(t, ok, "jump target should be an integer offset")
		}
	}
}

func TestCompileBranchOutsideLoopRejected(t *testing.T) {
	for _, src := range []string{
		"break",
		"continue",
		"def f():\n\tbreak\n",
	} {
		_, err := CompileSource(src, Options{})
		require.Error(t, err, src)
	}
}

func TestCompileWhileBreakJumps(t *testing.T) {
	prog, err := CompileSource(`
while True:
	break
`, Options{})
	require.NoError(t, err)
	var iterOps int
	for _, op := range prog.Main.Bytecode {
		switch op.Code {
		case ITER_START, ITER_START_2, ITER_END, ITER_NEXT:
			iterOps++
		}
	}
	require.Zero(t, iterOps, "while loops should branch without iterator opcodes")
}

func TestCompileBytesLiteral(t *testing.T) {
	prg, err := CompileSource(`b = b"\x01\x02"`, Options{})
	require.NoError(t, err)
	var sawEncode bool
	for i, op := range prg.Main.Bytecode {
		if op.Code == PUSH && op.Arg == StrValue("encode") {
			require.Less(t, i+1, len(prg.Main.Bytecode))
			require.Equal(t, CALL_METHOD, prg.Main.Bytecode[i+1].Code)
			sawEncode = true
		}
	}
	require.True(t, sawEncode, "bytes literal should lower to an encode call")
}

func TestExecPtrPacking(t *testing.T) {
	ptr := NewExecPtr(3).SetOffset(17)
	require.Equal(t, 3, ptr.CodeID())
	require.Equal(t, 17, ptr.Offset())
	require.Equal(t, 18, ptr.Inc().Offset())
	require.Equal(t, 3, ptr.Inc().CodeID())
}

func TestHandlerFor(t *testing.T) {
	fn := &Function{
		Handlers: []ExcHandler{
			{Start: 0, End: 10, Target: 20, Depth: 0},
			{Start: 2, End: 6, Target: 30, Depth: 1},
		},
	}
	h, ok := fn.HandlerFor(4)
	require.True(t, ok)
	require.Equal(t, 30, h.Target)
	h, ok = fn.HandlerFor(8)
	require.True(t, ok)
	require.Equal(t, 20, h.Target)
	_, ok = fn.HandlerFor(12)
	require.False(t, ok)
}
