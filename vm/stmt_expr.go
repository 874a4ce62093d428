package vm

import (
	"go.starlark.net/syntax"
)

func (cc *compileContext) statement(s syntax.Stmt) error {
	if start, _ := s.Span(); start.IsValid() {
		cc.pos = start
	}

	switch v := s.(type) {
	case *syntax.AssignStmt:
		return cc.assign(v.Op, v.LHS, v.RHS)
	case *syntax.BranchStmt:
		switch v.Token {
		case syntax.BREAK:
			if len(cc.loops) == 0 {
				return cc.errorf("break outside a loop")
			}
			if l := cc.loops[len(cc.loops)-1]; l.isFor {
				cc.emit(ITER_END)
			} else {
				cc.emit(JMP, StrValue(l.end))
			}
		case syntax.CONTINUE:
			if len(cc.loops) == 0 {
				return cc.errorf("continue outside a loop")
			}
			if l := cc.loops[len(cc.loops)-1]; l.isFor {
				cc.emit(ITER_NEXT)
			} else {
				cc.emit(JMP, StrValue(l.start))
			}
		case syntax.PASS:
			cc.emit(NOP)
		default:
			return cc.errorf("Unhandled branch statement %s", v.Token)
		}
	case *syntax.DefStmt:
		if !cc.topLevel {
			return cc.errorf("Nested defs are unsupported")
		}
		name := v.Name.Name
		if _, ok := cc.subContext[name]; ok {
			return cc.errorf("Function %q is defined twice", name)
		}
		sub := newCompileContext(cc.opts)
		var err error
		sub.params, err = cc.functionParams(v.Params)
		if err != nil {
			return err
		}
		err = sub.buildFromStatements(v.Body)
		if err != nil {
			return err
		}
		// Implicit return at the end of the function body.
		if len(sub.ops) == 0 || sub.ops[len(sub.ops)-1].Code != RETURN {
			sub.emit(PUSH, None)
			sub.emit(RETURN)
		}
		cc.subContext[name] = sub
		cc.subOrder = append(cc.subOrder, name)
	case *syntax.ExprStmt:
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		if s == cc.resultStmt {
			cc.emit(RETURN)
		} else {
			cc.emit(POP)
		}
	case *syntax.ForStmt:
		idents := 0
		switch vars := v.Vars.(type) {
		case *syntax.Ident:
			cc.emit(PUSH, StrValue(vars.Name))
			idents = 1
		case *syntax.TupleExpr:
			if len(vars.List) > 2 {
				return cc.errorf("Too many variables in for list")
			}
			idents = len(vars.List)
			for _, id := range vars.List {
				if v, ok := id.(*syntax.Ident); ok {
					cc.emit(PUSH, StrValue(v.Name))
				} else {
					return cc.errorf("Non-identifier in for variable")
				}
			}
		default:
			return cc.errorf("Unsupported for variables")
		}
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		endLabel := cc.newLabel()
		if idents == 1 {
			cc.emit(ITER_START, StrValue(endLabel))
		} else {
			cc.emit(ITER_START_2, StrValue(endLabel))
		}
		cc.loops = append(cc.loops, loopScope{isFor: true})
		err = cc.buildFromStatements(v.Body)
		cc.loops = cc.loops[:len(cc.loops)-1]
		if err != nil {
			return err
		}
		cc.emit(ITER_NEXT)
		cc.emitLabel(endLabel)
	case *syntax.WhileStmt:
		// start:
		//   <condition>
		//   JFALSE end  ; JFALSE consumes the condition value
		//   <body>
		//   JMP start
		// end:
		startLabel := cc.newLabel()
		endLabel := cc.newLabel()
		cc.emitLabel(startLabel)
		err := cc.expr(v.Cond)
		if err != nil {
			return err
		}
		cc.emit(JFALSE, StrValue(endLabel))
		cc.loops = append(cc.loops, loopScope{start: startLabel, end: endLabel})
		err = cc.buildFromStatements(v.Body)
		cc.loops = cc.loops[:len(cc.loops)-1]
		if err != nil {
			return err
		}
		cc.emit(JMP, StrValue(startLabel))
		cc.emitLabel(endLabel)
	case *syntax.IfStmt:
		err := cc.expr(v.Cond)
		if err != nil {
			return err
		}
		label := cc.newLabel()
		cc.emit(JFALSE, StrValue(label))
		if err := cc.buildFromStatements(v.True); err != nil {
			return err
		}
		if len(v.False) == 0 {
			cc.emitLabel(label)
			return nil
		}
		endLabel := cc.newLabel()
		cc.emit(JMP, StrValue(endLabel))
		cc.emitLabel(label)
		if err := cc.buildFromStatements(v.False); err != nil {
			return err
		}
		cc.emitLabel(endLabel)
	case *syntax.LoadStmt:
		return cc.errorf("load statements are not allowed in the sandbox")
	case *syntax.ReturnStmt:
		if v.Result == nil {
			cc.emit(PUSH, None)
		} else {
			err := cc.expr(v.Result)
			if err != nil {
				return err
			}
		}
		cc.emit(RETURN)
	default:
		return cc.errorf("Unhandled statement type %T", s)
	}
	return nil
}

func (cc *compileContext) expr(e syntax.Expr) error {
	if start, _ := e.Span(); start.IsValid() {
		cc.pos = start
	}

	switch v := e.(type) {
	case *syntax.BinaryExpr:
		// Short-circuit operators need control flow, not a stack op.
		if v.Op == syntax.AND || v.Op == syntax.OR {
			return cc.shortCircuitBinOp(v)
		}
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		err = cc.expr(v.Y)
		if err != nil {
			return err
		}
		return cc.binOp(v.Op)
	case *syntax.CallExpr:
		if dotExpr, ok := v.Fn.(*syntax.DotExpr); ok {
			// Method call: stack is arg1 .. argN receiver methodName.
			for _, a := range v.Args {
				err := cc.callArg(a)
				if err != nil {
					return err
				}
			}
			err := cc.expr(dotExpr.X)
			if err != nil {
				return err
			}
			cc.emit(PUSH, StrValue(dotExpr.Name.Name))
			cc.emit(CALL_METHOD, IntValue(len(v.Args)))
		} else {
			for _, a := range v.Args {
				err := cc.callArg(a)
				if err != nil {
					return err
				}
			}
			err := cc.expr(v.Fn)
			if err != nil {
				return err
			}
			cc.emit(CALL, IntValue(len(v.Args)))
		}
	case *syntax.Comprehension:
		return cc.errorf("Comprehensions are as yet unsupported")
	case *syntax.CondExpr:
		err := cc.expr(v.Cond)
		if err != nil {
			return err
		}
		label := cc.newLabel()
		cc.emit(JFALSE, StrValue(label))
		if err := cc.expr(v.True); err != nil {
			return err
		}
		endLabel := cc.newLabel()
		cc.emit(JMP, StrValue(endLabel))
		cc.emitLabel(label)
		if err := cc.expr(v.False); err != nil {
			return err
		}
		cc.emitLabel(endLabel)
	case *syntax.DictEntry:
		err := cc.expr(v.Key)
		if err != nil {
			return err
		}
		err = cc.expr(v.Value)
		if err != nil {
			return err
		}
		cc.emit(BUILD_LIST, IntValue(2))
	case *syntax.DictExpr:
		for _, expr := range v.List {
			err := cc.expr(expr)
			if err != nil {
				return err
			}
		}
		cc.emit(BUILD_DICT, IntValue(len(v.List)))
	case *syntax.DotExpr:
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		cc.emit(PUSH, StrValue(v.Name.Name))
		cc.emit(GETATTR)
	case *syntax.Ident:
		switch v.Name {
		case "True":
			cc.emit(PUSH, BoolTrue)
		case "False":
			cc.emit(PUSH, BoolFalse)
		case "None":
			cc.emit(PUSH, None)
		default:
			cc.emit(PUSH, StrValue(v.Name))
			cc.emit(GETVAL)
		}
	case *syntax.IndexExpr:
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		err = cc.expr(v.Y)
		if err != nil {
			return err
		}
		cc.emit(GETATTR)
	case *syntax.LambdaExpr:
		return cc.errorf("Lambda expressions are unsupported")
	case *syntax.ListExpr:
		for _, exp := range v.List {
			err := cc.expr(exp)
			if err != nil {
				return err
			}
		}
		cc.emit(BUILD_LIST, IntValue(len(v.List)))
	case *syntax.Literal:
		val, err := litToValue(v.Value)
		if err != nil {
			return cc.errorf("%v", err)
		}
		if v.Token == syntax.BYTES {
			// Bytes literals lower to an encode call on the raw string so
			// the object lands on the run's heap, not in the bytecode.
			cc.emit(PUSH, val)
			cc.emit(PUSH, StrValue("encode"))
			cc.emit(CALL_METHOD, IntValue(0))
			return nil
		}
		cc.emit(PUSH, val)
	case *syntax.ParenExpr:
		return cc.expr(unparen(v))
	case *syntax.SliceExpr:
		if v.Step != nil {
			return cc.errorf("Slice step is not supported")
		}
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		if v.Lo != nil {
			if err := cc.expr(v.Lo); err != nil {
				return err
			}
		} else {
			cc.emit(PUSH, None)
		}
		if v.Hi != nil {
			if err := cc.expr(v.Hi); err != nil {
				return err
			}
		} else {
			cc.emit(PUSH, None)
		}
		cc.emit(SLICE)
	case *syntax.TupleExpr:
		for _, exp := range v.List {
			err := cc.expr(exp)
			if err != nil {
				return err
			}
		}
		cc.emit(BUILD_LIST, IntValue(len(v.List)))
	case *syntax.UnaryExpr:
		return cc.unary(v)
	default:
		return cc.errorf("Unhandled expr type %T", e)
	}
	return nil
}

// shortCircuitBinOp handles AND and OR with short-circuit evaluation.
func (cc *compileContext) shortCircuitBinOp(e *syntax.BinaryExpr) error {
	if e.Op == syntax.AND {
		//   eval left
		//   DUP
		//   JFALSE end  ; left was falsy, keep it
		//   POP
		//   eval right
		// end:
		err := cc.expr(e.X)
		if err != nil {
			return err
		}
		endLabel := cc.newLabel()
		cc.emit(DUP)
		cc.emit(JFALSE, StrValue(endLabel))
		cc.emit(POP)
		err = cc.expr(e.Y)
		if err != nil {
			return err
		}
		cc.emitLabel(endLabel)
		return nil
	}

	//   eval left
	//   DUP
	//   JFALSE else  ; left was falsy, try right
	//   JMP end      ; left was truthy, keep it
	// else:
	//   POP
	//   eval right
	// end:
	err := cc.expr(e.X)
	if err != nil {
		return err
	}
	elseLabel := cc.newLabel()
	endLabel := cc.newLabel()
	cc.emit(DUP)
	cc.emit(JFALSE, StrValue(elseLabel))
	cc.emit(JMP, StrValue(endLabel))
	cc.emitLabel(elseLabel)
	cc.emit(POP)
	err = cc.expr(e.Y)
	if err != nil {
		return err
	}
	cc.emitLabel(endLabel)
	return nil
}

func (cc *compileContext) binOp(op syntax.Token) error {
	switch op {
	case syntax.PLUS:
		cc.emit(ADD)
	case syntax.MINUS:
		cc.emit(SUBTRACT)
	case syntax.STAR:
		cc.emit(MULTIPLY)
	case syntax.SLASH:
		cc.emit(DIVIDE)
	case syntax.SLASHSLASH:
		cc.emit(FLOOR_DIVIDE)
	case syntax.PERCENT:
		cc.emit(MODULO)
	case syntax.LT:
		cc.emit(LT)
	case syntax.GT:
		cc.emit(LTE)
		cc.emit(NOT)
	case syntax.GE:
		cc.emit(LT)
		cc.emit(NOT)
	case syntax.LE:
		cc.emit(LTE)
	case syntax.EQL:
		cc.emit(EQ)
	case syntax.NEQ:
		cc.emit(EQ)
		cc.emit(NOT)
	case syntax.IN:
		cc.emit(IN)
	case syntax.NOT_IN:
		cc.emit(IN)
		cc.emit(NOT)
	default:
		return cc.errorf("Unhandled binary operation %s", op)
	}
	return nil
}

func (cc *compileContext) unary(e *syntax.UnaryExpr) error {
	err := cc.expr(e.X)
	if err != nil {
		return err
	}
	switch e.Op {
	case syntax.NOT:
		cc.emit(NOT)
	case syntax.MINUS:
		// Unary minus: 0 - x
		cc.emit(PUSH, IntValue(0))
		cc.emit(SWAP)
		cc.emit(SUBTRACT)
	case syntax.PLUS:
		// Unary plus is a no-op
	default:
		return cc.errorf("Unhandled unary operation %s", e.Op)
	}
	return nil
}

func (cc *compileContext) callArg(arg syntax.Expr) error {
	switch v := arg.(type) {
	case *syntax.BinaryExpr:
		if v.Op == syntax.EQ {
			// Keyword argument: name=value
			g, ok := v.X.(*syntax.Ident)
			if !ok {
				return cc.errorf("Only identifiers are allowed on the left-hand side of a keyword argument")
			}
			err := cc.expr(v.Y)
			if err != nil {
				return err
			}
			cc.emit(PUSH, StrValue(g.Name))
			cc.emit(BUILD_ARG)
			return nil
		}
	case *syntax.UnaryExpr:
		if v.Op == syntax.STAR || v.Op == syntax.STARSTAR {
			return cc.errorf("Splats are currently unsupported")
		}
	}
	err := cc.expr(arg)
	if err != nil {
		return err
	}
	cc.emit(PUSH, None)
	cc.emit(BUILD_ARG)
	return nil
}

func (cc *compileContext) assign(op syntax.Token, lhs syntax.Expr, rhs syntax.Expr) error {
	err := cc.expr(rhs)
	if err != nil {
		return err
	}
	if op != syntax.EQ {
		err := cc.assignSelfReassign(op, lhs)
		if err != nil {
			return err
		}
	}
	switch v := lhs.(type) {
	case *syntax.Ident:
		if v.Name == "True" || v.Name == "False" || v.Name == "None" {
			return cc.errorf("Reassigning `%s` is not allowed", v.Name)
		}
		cc.emit(PUSH, StrValue(v.Name))
		cc.emit(SETVAL)
	case *syntax.IndexExpr:
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		err = cc.expr(v.Y)
		if err != nil {
			return err
		}
		cc.emit(SETATTR)
	case *syntax.DotExpr:
		err := cc.expr(v.X)
		if err != nil {
			return err
		}
		cc.emit(PUSH, StrValue(v.Name.Name))
		cc.emit(SETATTR)
	default:
		return cc.errorf("assign: Unhandled LHS expr type %T", lhs)
	}
	return nil
}

func (cc *compileContext) assignSelfReassign(op syntax.Token, lhs syntax.Expr) error {
	err := cc.expr(lhs)
	if err != nil {
		return err
	}
	switch op {
	case syntax.PLUS_EQ:
		cc.emit(SWAP)
		cc.emit(ADD)
	case syntax.MINUS_EQ:
		cc.emit(SWAP)
		cc.emit(SUBTRACT)
	case syntax.STAR_EQ:
		cc.emit(MULTIPLY)
	case syntax.SLASH_EQ:
		cc.emit(SWAP)
		cc.emit(DIVIDE)
	default:
		return cc.errorf("%s assignments unimplemented", op)
	}
	return nil
}

func (cc *compileContext) functionParams(e []syntax.Expr) ([]FunctionParam, error) {
	var out []FunctionParam
	for _, x := range e {
		switch v := x.(type) {
		case *syntax.Ident:
			out = append(out, FunctionParam{Name: v.Name})
		case *syntax.BinaryExpr:
			if v.Op != syntax.EQ {
				return nil, cc.errorf("Only assignments are allowed within a function parameter")
			}
			arg, ok := v.X.(*syntax.Ident)
			if !ok {
				return nil, cc.errorf("Function parameter names must be identifiers")
			}
			lit, ok := v.Y.(*syntax.Literal)
			if !ok {
				return nil, cc.errorf("Only literals are supported as default arguments to functions")
			}
			val, err := litToValue(lit.Value)
			if err != nil {
				return nil, cc.errorf("%v", err)
			}
			out = append(out, FunctionParam{Name: arg.Name, Default: val})
		default:
			return nil, cc.errorf("Unhandled function param expr type %T", x)
		}
	}
	return out, nil
}
