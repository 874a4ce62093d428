package vm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/google/uuid"
	"go.starlark.net/syntax"
)

type Op struct {
	Code Opcode
	Arg  Value
}

func (o Op) String() string {
	if o.Arg == nil {
		return o.Code.String()
	}
	return fmt.Sprintf("%s %v", o.Code, o.Arg)
}

// CompileError is a compile-time diagnostic with a source position.
type CompileError struct {
	Msg string
	Pos syntax.Position
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s", e.Pos.Filename(), e.Pos.Line, e.Pos.Col, e.Msg)
	}
	return e.Msg
}

// Options configure compilation of one module.
type Options struct {
	Filename string
	// Inputs declares input parameter names, bound by the host at run start.
	Inputs []string
	// Externals declares external function names; calling one yields an
	// external call to the host.
	Externals []string
}

type compileContext struct {
	ops        []Op
	topLevel   bool
	subContext map[string]*compileContext
	subOrder   []string
	params     []FunctionParam
	opts       *Options
	pos        syntax.Position
	// resultStmt is the final top-level expression statement; its value
	// becomes the module's result.
	resultStmt syntax.Stmt
	// loops tracks enclosing loops so break and continue bind to the
	// innermost one. For loops branch through the iterator stack; while
	// loops jump straight to their labels.
	loops []loopScope
}

type loopScope struct {
	isFor bool
	start string
	end   string
}

func (cc *compileContext) emit(op Opcode, args ...Value) {
	if len(args) > 1 {
		panic("emit takes at most one arg")
	}
	var arg Value
	if len(args) == 1 {
		arg = args[0]
	}
	cc.ops = append(cc.ops, Op{Code: op, Arg: arg})
}

func (cc *compileContext) newLabel() string {
	return uuid.NewString()
}

func (cc *compileContext) emitLabel(s string) {
	cc.ops = append(cc.ops, Op{Code: LABEL, Arg: StrValue(s)})
}

func (cc *compileContext) errorf(format string, a ...any) error {
	return &CompileError{Msg: fmt.Sprintf(format, a...), Pos: cc.pos}
}

func newCompileContext(opts *Options) *compileContext {
	return &compileContext{
		subContext: make(map[string]*compileContext),
		opts:       opts,
	}
}

var parseOpts = syntax.FileOptions{
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	Recursion:       true,
}

// CompileSource compiles program source text into an immutable Program.
func CompileSource(src string, opts Options) (*Program, error) {
	if opts.Filename == "" {
		opts.Filename = "<source>"
	}
	f, err := parseOpts.Parse(opts.Filename, strings.NewReader(src), 0)
	if err != nil {
		return nil, parseError(err)
	}
	return compileFile(f, opts)
}

// CompilePath compiles a source file from disk.
func CompilePath(path string, opts Options) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	if opts.Filename == "" {
		opts.Filename = path
	}
	return CompileReader(f, opts)
}

func CompileReader(r io.Reader, opts Options) (*Program, error) {
	f, err := parseOpts.Parse(opts.Filename, r, 0)
	if err != nil {
		return nil, parseError(err)
	}
	return compileFile(f, opts)
}

func parseError(err error) error {
	var se syntax.Error
	if errors.As(err, &se) {
		return &CompileError{Msg: se.Msg, Pos: se.Pos}
	}
	return err
}

func compileFile(file *syntax.File, opts Options) (*Program, error) {
	cc := newCompileContext(&opts)
	cc.topLevel = true
	// The value of a final top-level expression statement is the module's
	// result, so it compiles to RETURN rather than POP.
	if n := len(file.Stmts); n > 0 {
		if _, ok := file.Stmts[n-1].(*syntax.ExprStmt); ok {
			cc.resultStmt = file.Stmts[n-1]
		}
	}
	if err := cc.buildFromStatements(file.Stmts); err != nil {
		return nil, err
	}
	return cc.intoProgram()
}

func (cc *compileContext) intoProgram() (*Program, error) {
	if !cc.topLevel {
		return nil, errors.New("Can't make a program out of a non-top-level context")
	}
	p := &Program{
		Definitions: make(map[string]int),
		Externals:   slices.Clone(cc.opts.Externals),
		Inputs:      slices.Clone(cc.opts.Inputs),
		Filename:    cc.opts.Filename,
	}
	f, err := cc.intoFunction()
	if err != nil {
		return nil, err
	}
	p.Main = f
	for _, k := range cc.subOrder {
		f, err := cc.subContext[k].intoFunction()
		if err != nil {
			return nil, err
		}
		p.Definitions[k] = len(p.Code)
		p.Code = append(p.Code, f)
	}
	for _, ext := range p.Externals {
		if _, ok := p.Definitions[ext]; ok {
			return nil, fmt.Errorf("external function %q collides with a definition", ext)
		}
	}
	return p, nil
}

func (cc *compileContext) intoFunction() (*Function, error) {
	f := &Function{}
	f.Params = cc.params
	offsetmap := make(map[string]int)
	for _, b := range cc.ops {
		if b.Code == LABEL {
			offsetmap[string(b.Arg.(StrValue))] = len(f.Bytecode)
			continue
		}
		f.Bytecode = append(f.Bytecode, b)
	}
	for i, b := range f.Bytecode {
		switch b.Code {
		case JMP, JFALSE, ITER_START, ITER_START_2:
			if v, ok := b.Arg.(StrValue); ok {
				b.Arg = IntValue(offsetmap[string(v)])
			}
		}
		f.Bytecode[i] = b // Replace after changes
	}
	return f, nil
}

func (cc *compileContext) buildFromStatements(stmts []syntax.Stmt) error {
	for _, s := range stmts {
		err := cc.statement(s)
		if err != nil {
			return err
		}
	}
	return nil
}

func litToValue(l any) (Value, error) {
	switch t := l.(type) {
	case int64:
		return IntValue(t), nil
	case string:
		return StrValue(t), nil
	case float64:
		return FloatValue(t), nil
	}
	return nil, fmt.Errorf("litToValue: Unsupported literal value type %T", l)
}

func unparen(e syntax.Expr) syntax.Expr {
	if p, ok := e.(*syntax.ParenExpr); ok {
		return unparen(p.X)
	}
	return e
}
