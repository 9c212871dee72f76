// Package compiler turns the s-expression surface syntax into a verified
// vm.Function via a single forward pass over the token stream: no AST is
// built, registers are allocated as expressions are compiled, and jump
// targets are back-patched once known.
package compiler

import (
	"fmt"
	"strconv"

	"espresso/internal/bytecode"
	"espresso/internal/lexer"
	"espresso/internal/vm"
)

// Compiler holds the emitter state threaded through one top-level Compile
// call: the runtime (for allocating String/Function heap objects), the
// token source, and the current context (swapped out and restored across
// nested fn forms).
type Compiler struct {
	rt  *vm.Runtime
	lex *lexer.Lexer
	ctx *context
}

// Compile lexes and emits source as a single top-level Function of arity 1
// (register 0 only; the top level takes no parameters). It does not verify
// the result: callers that need a verified Function should use
// vm.Runtime.Compile, which calls this and then Function.Verify.
func Compile(rt *vm.Runtime, source string) (*vm.Function, error) {
	c := &Compiler{rt: rt, lex: lexer.New(source)}
	fn := rt.NewFunction()
	fn.Name = "<top-level>"
	fn.Arity = 1
	c.ctx = newContext(nil, fn)

	last := -1
	for {
		tok := c.lex.Next()
		if tok.Type == lexer.EOF {
			break
		}
		c.lex.PutBack(tok)
		if last >= 0 {
			c.ctx.stackPop()
		}
		reg, err := c.compileExpr()
		if err != nil {
			return nil, err
		}
		last = reg
	}

	if last < 0 {
		reg, err := c.loadNil()
		if err != nil {
			return nil, err
		}
		last = reg
	}
	c.ctx.emit(bytecode.MakeABC(bytecode.Return, uint8(last), 0, 0))
	return fn, nil
}

func (c *Compiler) expect(want lexer.TokenType) (lexer.Token, error) {
	tok := c.lex.Next()
	if tok.Type != want {
		return tok, fmt.Errorf("expected %s, got %s %q", want, tok.Type, tok.Literal)
	}
	return tok, nil
}

// loadConstant pushes a fresh register and emits a LoadConstant of v into
// it, the common tail of every literal lowering.
func (c *Compiler) loadConstant(v vm.Value) (int, error) {
	idx, err := c.ctx.addConstant(v)
	if err != nil {
		return 0, err
	}
	reg, err := c.ctx.stackPush()
	if err != nil {
		return 0, err
	}
	c.ctx.emit(bytecode.MakeAL(bytecode.LoadConstant, uint8(reg), uint16(idx)))
	return reg, nil
}

func (c *Compiler) loadNil() (int, error) { return c.loadConstant(vm.Nil()) }

// compileExpr compiles exactly one expr production, leaving its result at
// the next free register of the current context.
func (c *Compiler) compileExpr() (int, error) {
	tok := c.lex.Next()
	if tok.Type == lexer.LeftParen {
		reg, err := c.compileList()
		if err != nil {
			return 0, err
		}
		if _, err := c.expect(lexer.RightParen); err != nil {
			return 0, err
		}
		return reg, nil
	}
	return c.compileAtom(tok)
}

func (c *Compiler) compileAtom(tok lexer.Token) (int, error) {
	switch tok.Type {
	case lexer.Integer:
		n, err := strconv.ParseInt(tok.Literal, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid integer literal %q: %w", tok.Literal, err)
		}
		return c.loadConstant(vm.IntegerValue(n))

	case lexer.Double:
		f, err := strconv.ParseFloat(tok.Literal, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid double literal %q: %w", tok.Literal, err)
		}
		return c.loadConstant(vm.DoubleValue(f))

	case lexer.String:
		return c.loadConstant(vm.StringValue(c.rt.NewString(tok.Literal)))

	case lexer.True:
		return c.loadConstant(vm.BooleanValue(true))

	case lexer.False:
		return c.loadConstant(vm.BooleanValue(false))

	case lexer.Nil:
		return c.loadNil()

	case lexer.Identifier:
		return c.compileIdentifier(tok.Literal)

	default:
		return 0, fmt.Errorf("unexpected token %s %q at %d:%d", tok.Type, tok.Literal, tok.Line, tok.Column)
	}
}

func (c *Compiler) compileIdentifier(name string) (int, error) {
	if localReg, ok := c.ctx.resolveLocal(name); ok {
		reg, err := c.ctx.stackPush()
		if err != nil {
			return 0, err
		}
		c.ctx.emit(bytecode.MakeABC(bytecode.Copy, uint8(reg), uint8(localReg), 0))
		return reg, nil
	}
	idx, err := c.ctx.addConstant(vm.StringValue(c.rt.NewString(name)))
	if err != nil {
		return 0, err
	}
	reg, err := c.ctx.stackPush()
	if err != nil {
		return 0, err
	}
	c.ctx.emit(bytecode.MakeAL(bytecode.LoadConstant, uint8(reg), uint16(idx)))
	c.ctx.emit(bytecode.MakeABC(bytecode.LoadGlobal, uint8(reg), uint8(reg), 0))
	return reg, nil
}

// compileList dispatches on the form's head, which has already had its
// opening LeftParen consumed by the caller. It leaves the closing
// RightParen for compileExpr to consume.
func (c *Compiler) compileList() (int, error) {
	tok := c.lex.Next()
	switch tok.Type {
	case lexer.Def:
		return c.compileDef()
	case lexer.Let:
		return c.compileLet()
	case lexer.If:
		return c.compileIf()
	case lexer.Do:
		return c.compileDo()
	case lexer.Fn:
		return c.compileFn()
	case lexer.RightParen:
		return 0, fmt.Errorf("empty form: ()")
	default:
		c.lex.PutBack(tok)
		return c.compileInvoke()
	}
}

// compileDef implements "(def IDENT expr)": stores expr's value under IDENT
// in the globals map and evaluates to Nil.
func (c *Compiler) compileDef() (int, error) {
	nameTok, err := c.expect(lexer.Identifier)
	if err != nil {
		return 0, err
	}
	valReg, err := c.compileExpr()
	if err != nil {
		return 0, err
	}
	keyIdx, err := c.ctx.addConstant(vm.StringValue(c.rt.NewString(nameTok.Literal)))
	if err != nil {
		return 0, err
	}
	keyReg, err := c.ctx.stackPush()
	if err != nil {
		return 0, err
	}
	c.ctx.emit(bytecode.MakeAL(bytecode.LoadConstant, uint8(keyReg), uint16(keyIdx)))
	c.ctx.emit(bytecode.MakeABC(bytecode.StoreGlobal, uint8(keyReg), uint8(valReg), 0))
	c.ctx.stackPop() // keyReg
	c.ctx.stackPop() // valReg
	return c.loadNil()
}

// compileDo implements "(do expr …)": sequential evaluation, result is the
// last expression (Nil if none).
func (c *Compiler) compileDo() (int, error) {
	return c.compileSequence(lexer.RightParen)
}

// compileSequence compiles expressions until the stop token is peeked
// (and put back, unconsumed), discarding every result but the last.
func (c *Compiler) compileSequence(stop lexer.TokenType) (int, error) {
	last := -1
	for {
		tok := c.lex.Next()
		if tok.Type == stop {
			c.lex.PutBack(tok)
			break
		}
		c.lex.PutBack(tok)
		if last >= 0 {
			c.ctx.stackPop()
		}
		reg, err := c.compileExpr()
		if err != nil {
			return 0, err
		}
		last = reg
	}
	if last < 0 {
		return c.loadNil()
	}
	return last, nil
}

// compileIf implements "(if cond then else?)". Both branches reuse the
// same register: after compiling the cond (later reclaimed), the then
// branch is compiled at the next free slot, then the emitter rewinds the
// stack by one so the else branch writes that identical slot.
func (c *Compiler) compileIf() (int, error) {
	condReg, err := c.compileExpr()
	if err != nil {
		return 0, err
	}
	jumpFalsePC := c.ctx.emit(bytecode.MakeAL(bytecode.JumpIfFalse, uint8(condReg), 0))
	c.ctx.stackPop() // reclaim cond's slot; then-branch reuses it

	if _, err := c.compileExpr(); err != nil {
		return 0, err
	}
	jumpEndPC := c.ctx.emit(bytecode.MakeAL(bytecode.Jump, 0, 0))
	c.ctx.patchL(jumpFalsePC, uint16(len(c.ctx.fn.Code)))
	c.ctx.stackPop() // reclaim then's slot; else-branch (or Nil) reuses it

	tok := c.lex.Next()
	var resultReg int
	if tok.Type == lexer.RightParen {
		c.lex.PutBack(tok)
		resultReg, err = c.loadNil()
	} else {
		c.lex.PutBack(tok)
		resultReg, err = c.compileExpr()
	}
	if err != nil {
		return 0, err
	}
	c.ctx.patchL(jumpEndPC, uint16(len(c.ctx.fn.Code)))
	return resultReg, nil
}

// compileLet implements "(let (IDENT expr …) body …)": a new lexical
// scope binding each IDENT in order as a positional local, then a
// sequential body whose final value is copied out into the enclosing
// scope's layout before the scope is popped.
func (c *Compiler) compileLet() (int, error) {
	c.ctx.pushScope()
	outerTop := c.ctx.scopes[len(c.ctx.scopes)-1].top

	if _, err := c.expect(lexer.LeftParen); err != nil {
		return 0, err
	}
	for {
		tok := c.lex.Next()
		if tok.Type == lexer.RightParen {
			break
		}
		if tok.Type != lexer.Identifier {
			return 0, fmt.Errorf("expected identifier in let binding, got %s %q", tok.Type, tok.Literal)
		}
		if err := c.ctx.checkDuplicate(tok.Literal); err != nil {
			return 0, err
		}
		valReg, err := c.compileExpr()
		if err != nil {
			return 0, err
		}
		c.ctx.bindLocal(tok.Literal, valReg)
	}

	bodyReg, err := c.compileSequence(lexer.RightParen)
	if err != nil {
		return 0, err
	}
	c.ctx.emit(bytecode.MakeABC(bytecode.Copy, uint8(outerTop), uint8(bodyReg), 0))
	c.ctx.popScope()
	resultReg, err := c.ctx.stackPush()
	if err != nil {
		return 0, err
	}
	if resultReg != outerTop {
		return 0, fmt.Errorf("internal error: let result landed at register %d, expected %d", resultReg, outerTop)
	}
	return resultReg, nil
}

// compileFn implements "(fn (IDENT …) body …)": a new Function constant
// compiled in a fresh context nested under the parent's. Parameters become
// the leading locals starting at register 1.
func (c *Compiler) compileFn() (int, error) {
	childFn := c.rt.NewFunction()
	childFn.Name = "<fn>"
	outer := c.ctx
	c.ctx = newContext(outer, childFn)

	if _, err := c.expect(lexer.LeftParen); err != nil {
		c.ctx = outer
		return 0, err
	}
	arity := 1
	for {
		tok := c.lex.Next()
		if tok.Type == lexer.RightParen {
			break
		}
		if tok.Type != lexer.Identifier {
			c.ctx = outer
			return 0, fmt.Errorf("expected parameter name, got %s %q", tok.Type, tok.Literal)
		}
		if _, err := c.ctx.defineParameter(tok.Literal); err != nil {
			c.ctx = outer
			return 0, err
		}
		arity++
	}
	childFn.Arity = arity

	bodyReg, err := c.compileSequence(lexer.RightParen)
	if err != nil {
		c.ctx = outer
		return 0, err
	}
	c.ctx.emit(bytecode.MakeABC(bytecode.Return, uint8(bodyReg), 0, 0))
	c.ctx = outer

	return c.loadConstant(vm.FunctionValue(childFn))
}

// compileInvoke implements "(callee arg …)": compile the callee into slot
// S, then each argument into S+1, S+2, …; emit Invoke; collapse the
// context's stack so that S, the return slot, is its top and S+1 is the
// next free register.
func (c *Compiler) compileInvoke() (int, error) {
	base, err := c.compileExpr()
	if err != nil {
		return 0, err
	}
	argCount := 1
	for {
		tok := c.lex.Next()
		if tok.Type == lexer.RightParen {
			c.lex.PutBack(tok)
			break
		}
		c.lex.PutBack(tok)
		if _, err := c.compileExpr(); err != nil {
			return 0, err
		}
		argCount++
	}
	if argCount > 0xFF {
		return 0, fmt.Errorf("Too many arguments")
	}
	c.ctx.emit(bytecode.MakeABC(bytecode.Invoke, uint8(base), uint8(argCount), 0))
	c.ctx.top = base + 1
	if c.ctx.top > c.ctx.fn.LocalCount {
		c.ctx.fn.LocalCount = c.ctx.top
	}
	return base, nil
}
