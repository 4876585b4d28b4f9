package scanner

import (
	"strings"

	"github.com/netshade/rulescan/ast"
	"github.com/netshade/rulescan/errs"
)

// tristate is the three-valued result the evaluator works in (spec
// §4.4/§9): true, false, or undefined. Undefined collapses to false at
// every boolean boundary and at the top-level rule truth query;
// arithmetic on an undefined operand is itself undefined.
type tristate int

const (
	tsFalse tristate = iota
	tsTrue
	tsUndefined
)

func boolTri(b bool) tristate {
	if b {
		return tsTrue
	}
	return tsFalse
}

func (t tristate) bool() bool { return t == tsTrue }

// evalValue is the result of evaluating a non-boolean subexpression: an
// integer (possibly undefined, e.g. out-of-range byte access or division
// by zero) or a string.
type evalValue struct {
	isString bool
	str      string
	i        int64
	undef    bool
}

func intVal(i int64) evalValue  { return evalValue{i: i} }
func strVal(s string) evalValue { return evalValue{isString: true, str: s} }
func undefVal() evalValue       { return evalValue{undef: true} }

// evalContext is the EvaluationContext of spec §3/§4.4: the current
// rule, the block list, file size, and entry point (computed lazily by
// the scheduler and cached here once known).
type evalContext struct {
	ctx         *Context
	rule        *compiledRule
	blocks      *MemoryBlock
	fileSize    int64
	entryPoint  int64
	hasEntry    bool
	forBindings map[string]int64 // "for" loop variable bindings, innermost wins
}

func (e *evalContext) withBinding(name string, v int64) *evalContext {
	n := *e
	n.forBindings = make(map[string]int64, len(e.forBindings)+1)
	for k, val := range e.forBindings {
		n.forBindings[k] = val
	}
	n.forBindings[name] = v
	return &n
}

// recordTypeError latches errs.ErrIncorrectVariableType onto the
// context the first time a string-typed external variable is used
// where spec §4.4/§6 structurally requires an integer (arithmetic
// operand, comparison against an int, byte-access offset). Later
// errors in the same scan don't overwrite the first one.
func (e *evalContext) recordTypeError() {
	if e.ctx.lastError == nil {
		e.ctx.lastError = errs.ErrIncorrectVariableType
	}
}

// requireInt collapses v to undefined and records an
// ErrIncorrectVariableType when it holds a string.
func requireInt(v evalValue, e *evalContext) evalValue {
	if v.undef || !v.isString {
		return v
	}
	e.recordTypeError()
	return undefVal()
}

// evalCondition evaluates a rule's condition or precondition tree,
// collapsing undefined to false (spec §9).
func evalCondition(expr ast.Expr, e *evalContext) bool {
	return evalBool(expr, e).bool()
}

func evalBool(expr ast.Expr, e *evalContext) tristate {
	switch n := expr.(type) {
	case ast.BoolLit:
		return boolTri(n.Value)

	case ast.IntLit:
		return boolTri(n.Value != 0)

	case ast.ParenExpr:
		return evalBool(n.Inner, e)

	case ast.UnaryExpr:
		if n.Op == "not" {
			switch evalBool(n.Operand, e) {
			case tsTrue:
				return tsFalse
			case tsFalse:
				return tsTrue
			default:
				return tsUndefined
			}
		}
		v := evalInt(n, e)
		if v.undef {
			return tsUndefined
		}
		return boolTri(v.i != 0)

	case ast.BinaryExpr:
		return evalBinaryBool(n, e)

	case ast.StringRef:
		return boolTri(stringHasMatch(e, n.Name))

	case ast.AtExpr:
		return boolTri(stringMatchesAt(e, n.Name, requireInt(evalInt(n.Pos, e), e)))

	case ast.InExpr:
		lo := requireInt(evalInt(n.Lo, e), e)
		hi := requireInt(evalInt(n.Hi, e), e)
		if lo.undef || hi.undef {
			return tsUndefined
		}
		return boolTri(stringMatchesIn(e, n.Name, lo.i, hi.i))

	case ast.OfExpr:
		return evalOf(n, e)

	case ast.ForExpr:
		return evalFor(n, e)

	case ast.IdentCall:
		return evalIdentCall(n, e)

	case ast.FileSize, ast.EntryPoint, ast.StringCount, ast.StringOffset, ast.FuncCall:
		v := evalInt(expr, e)
		if v.undef {
			return tsUndefined
		}
		return boolTri(v.i != 0)
	}
	return tsUndefined
}

func evalBinaryBool(n ast.BinaryExpr, e *evalContext) tristate {
	switch n.Op {
	case "and":
		l := evalBool(n.Left, e)
		if l == tsFalse {
			return tsFalse
		}
		r := evalBool(n.Right, e)
		if l == tsTrue && r == tsTrue {
			return tsTrue
		}
		if r == tsFalse {
			return tsFalse
		}
		return tsUndefined
	case "or":
		l := evalBool(n.Left, e)
		if l == tsTrue {
			return tsTrue
		}
		r := evalBool(n.Right, e)
		if r == tsTrue {
			return tsTrue
		}
		if l == tsFalse && r == tsFalse {
			return tsFalse
		}
		return tsUndefined
	case "==", "!=", "<", "<=", ">", ">=":
		return evalComparison(n, e)
	default:
		v := evalInt(n, e)
		if v.undef {
			return tsUndefined
		}
		return boolTri(v.i != 0)
	}
}

func evalComparison(n ast.BinaryExpr, e *evalContext) tristate {
	lv := evalExprValue(n.Left, e)
	rv := evalExprValue(n.Right, e)
	if lv.undef || rv.undef {
		return tsUndefined
	}
	if lv.isString != rv.isString {
		e.recordTypeError()
		return tsUndefined
	}
	if lv.isString || rv.isString {
		cmp := strings.Compare(lv.str, rv.str)
		switch n.Op {
		case "==":
			return boolTri(cmp == 0)
		case "!=":
			return boolTri(cmp != 0)
		case "<":
			return boolTri(cmp < 0)
		case "<=":
			return boolTri(cmp <= 0)
		case ">":
			return boolTri(cmp > 0)
		case ">=":
			return boolTri(cmp >= 0)
		}
		return tsUndefined
	}
	switch n.Op {
	case "==":
		return boolTri(lv.i == rv.i)
	case "!=":
		return boolTri(lv.i != rv.i)
	case "<":
		return boolTri(lv.i < rv.i)
	case "<=":
		return boolTri(lv.i <= rv.i)
	case ">":
		return boolTri(lv.i > rv.i)
	case ">=":
		return boolTri(lv.i >= rv.i)
	}
	return tsUndefined
}

// evalExprValue evaluates an operand that may be a string or an integer.
func evalExprValue(expr ast.Expr, e *evalContext) evalValue {
	if s, ok := expr.(ast.StrLit); ok {
		return strVal(s.Value)
	}
	return evalInt(expr, e)
}

// evalInt evaluates an integer-valued expression. Division/modulo by
// zero and out-of-range byte access yield undefined (spec §4.4).
func evalInt(expr ast.Expr, e *evalContext) evalValue {
	switch n := expr.(type) {
	case ast.IntLit:
		return intVal(n.Value)

	case ast.StrLit:
		return strVal(n.Value)

	case ast.ParenExpr:
		return evalInt(n.Inner, e)

	case ast.StringCount:
		return intVal(int64(stringMatchCount(e, n.Name)))

	case ast.StringOffset:
		idx := requireInt(evalInt(n.Index, e), e)
		if idx.undef {
			return undefVal()
		}
		off, ok := stringOffsetAt(e, n.Name, idx.i)
		if !ok {
			return undefVal()
		}
		return intVal(off)

	case ast.FileSize:
		return intVal(e.fileSize)

	case ast.EntryPoint:
		if !e.hasEntry {
			return undefVal()
		}
		return intVal(e.entryPoint)

	case ast.FuncCall:
		return evalFuncCall(n, e)

	case ast.UnaryExpr:
		v := requireInt(evalInt(n.Operand, e), e)
		if v.undef {
			return undefVal()
		}
		switch n.Op {
		case "-":
			return intVal(-v.i)
		case "~":
			return intVal(^v.i)
		case "not":
			if v.i != 0 {
				return intVal(0)
			}
			return intVal(1)
		}
		return undefVal()

	case ast.BinaryExpr:
		return evalArith(n, e)

	case ast.IdentCall:
		return evalIdentValue(n, e)

	default:
		if evalBool(expr, e) == tsUndefined {
			return undefVal()
		}
		if evalBool(expr, e).bool() {
			return intVal(1)
		}
		return intVal(0)
	}
}

func evalArith(n ast.BinaryExpr, e *evalContext) evalValue {
	switch n.Op {
	case "and", "or", "==", "!=", "<", "<=", ">", ">=":
		t := evalBool(n, e)
		if t == tsUndefined {
			return undefVal()
		}
		return intVal(boolToInt(t.bool()))
	}

	l := requireInt(evalInt(n.Left, e), e)
	r := requireInt(evalInt(n.Right, e), e)
	if l.undef || r.undef {
		return undefVal()
	}
	switch n.Op {
	case "+":
		return intVal(l.i + r.i)
	case "-":
		return intVal(l.i - r.i)
	case "*":
		return intVal(l.i * r.i)
	case "\\", "/":
		if r.i == 0 {
			return undefVal()
		}
		return intVal(l.i / r.i)
	case "%":
		if r.i == 0 {
			return undefVal()
		}
		return intVal(l.i % r.i)
	case "&":
		return intVal(l.i & r.i)
	case "|":
		return intVal(l.i | r.i)
	case "^":
		return intVal(l.i ^ r.i)
	case "<<":
		return intVal(l.i << uint(r.i))
	case ">>":
		return intVal(l.i >> uint(r.i))
	default:
		return undefVal()
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}

// evalFuncCall evaluates a byte-access call (uint8/uint16/uint32, and
// the big-endian "be" variants) reading little/big-endian integers from
// absolute offsets across the block list.
func evalFuncCall(fn ast.FuncCall, e *evalContext) evalValue {
	if len(fn.Args) == 0 {
		return undefVal()
	}
	posV := requireInt(evalInt(fn.Args[0], e), e)
	if posV.undef {
		return undefVal()
	}
	block, idx, ok := e.blocks.ByteAt(posV.i)
	if !ok {
		return undefVal()
	}
	data := block.Data

	readN := func(n int, be bool) evalValue {
		if idx+n > len(data) {
			return undefVal()
		}
		var v uint64
		for k := 0; k < n; k++ {
			if be {
				v = v<<8 | uint64(data[idx+k])
			} else {
				v |= uint64(data[idx+k]) << (8 * k)
			}
		}
		return intVal(int64(v))
	}

	switch fn.Name {
	case "uint8":
		return readN(1, false)
	case "uint16":
		return readN(2, false)
	case "uint32":
		return readN(4, false)
	case "uint8be":
		return readN(1, true)
	case "uint16be":
		return readN(2, true)
	case "uint32be":
		return readN(4, true)
	case "int8":
		v := readN(1, false)
		if v.undef {
			return v
		}
		return intVal(int64(int8(v.i)))
	case "int16":
		v := readN(2, false)
		if v.undef {
			return v
		}
		return intVal(int64(int16(v.i)))
	case "int32":
		v := readN(4, false)
		if v.undef {
			return v
		}
		return intVal(int64(int32(v.i)))
	default:
		return undefVal()
	}
}

func stringHasMatch(e *evalContext, name string) bool {
	for _, a := range e.rule.atomsByName[name] {
		if len(a.Matches()) > 0 {
			return true
		}
	}
	return false
}

func stringMatchCount(e *evalContext, name string) int {
	n := 0
	for _, a := range e.rule.atomsByName[name] {
		n += len(a.Matches())
	}
	return n
}

func stringOffsetAt(e *evalContext, name string, k int64) (int64, bool) {
	if k < 1 {
		return 0, false
	}
	all := allMatchesFor(e, name)
	if int(k) > len(all) {
		return 0, false
	}
	return all[k-1].Offset, true
}

func stringMatchesAt(e *evalContext, name string, pos evalValue) bool {
	if pos.undef {
		return false
	}
	for _, m := range allMatchesFor(e, name) {
		if m.Offset == pos.i {
			return true
		}
	}
	return false
}

func stringMatchesIn(e *evalContext, name string, lo, hi int64) bool {
	for _, m := range allMatchesFor(e, name) {
		if m.Offset >= lo && m.Offset <= hi {
			return true
		}
	}
	return false
}

func allMatchesFor(e *evalContext, name string) []Match {
	var all []Match
	for _, a := range e.rule.atomsByName[name] {
		all = append(all, a.Matches()...)
	}
	sortMatches(all)
	return all
}

// matchingStringNames resolves a StringSet to concrete string names.
func matchingStringNames(set ast.StringSet, atomsByName map[string][]*Atom) []string {
	if set.All {
		names := make([]string, 0, len(atomsByName))
		for name := range atomsByName {
			names = append(names, name)
		}
		return names
	}
	if set.Pattern != "" {
		prefix := strings.TrimSuffix(set.Pattern, "*")
		var names []string
		for name := range atomsByName {
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
		return names
	}
	return set.Names
}

func evalOf(n ast.OfExpr, e *evalContext) tristate {
	names := matchingStringNames(n.Set, e.rule.atomsByName)
	need := len(names)
	if !n.All {
		need = 1
		if n.Quantifier != nil {
			qv := requireInt(evalInt(n.Quantifier, e), e)
			if qv.undef {
				return tsUndefined
			}
			need = int(qv.i)
		}
	}
	count := 0
	for _, name := range names {
		if stringHasMatch(e, name) {
			count++
		}
	}
	return boolTri(count >= need)
}

func evalFor(n ast.ForExpr, e *evalContext) tristate {
	var items []int64
	if n.Set != nil {
		for _, name := range matchingStringNames(*n.Set, e.rule.atomsByName) {
			if stringHasMatch(e, name) {
				items = append(items, 1)
			} else {
				items = append(items, 0)
			}
		}
	} else {
		fromV := requireInt(evalInt(n.From, e), e)
		toV := requireInt(evalInt(n.To, e), e)
		if fromV.undef || toV.undef {
			return tsUndefined
		}
		for i := fromV.i; i <= toV.i; i++ {
			items = append(items, i)
		}
	}

	need := len(items)
	if !n.All {
		need = 1
		if n.Quantifier != nil {
			qv := requireInt(evalInt(n.Quantifier, e), e)
			if qv.undef {
				return tsUndefined
			}
			need = int(qv.i)
		}
	}

	satisfied := 0
	for _, v := range items {
		bound := e.withBinding(n.Var, v)
		if evalBool(n.Body, bound) == tsTrue {
			satisfied++
		}
	}
	return boolTri(satisfied >= need)
}

// evalIdentCall resolves a bare identifier: an enclosing for-loop binding
// first, then (per ast.IdentCall's doc comment) external variable, then
// tag presence, then reference to another rule's MATCH flag.
func evalIdentCall(n ast.IdentCall, e *evalContext) tristate {
	if v, ok := e.forBindings[n.Name]; ok {
		return boolTri(v != 0)
	}
	if v, ok := e.ctx.variables[n.Name]; ok {
		switch v.Kind {
		case VarBoolean:
			return boolTri(v.Bool)
		case VarInteger:
			return boolTri(v.Int != 0)
		case VarString:
			return boolTri(v.Str != "")
		}
	}
	for _, t := range e.rule.tags {
		if t == n.Name {
			return tsTrue
		}
	}
	for _, r := range e.ctx.rules {
		if r.name == n.Name {
			return boolTri(r.flags&RuleMatch != 0)
		}
	}
	return tsUndefined
}

func evalIdentValue(n ast.IdentCall, e *evalContext) evalValue {
	if v, ok := e.forBindings[n.Name]; ok {
		return intVal(v)
	}
	if v, ok := e.ctx.variables[n.Name]; ok {
		switch v.Kind {
		case VarInteger:
			return intVal(v.Int)
		case VarBoolean:
			return intVal(boolToInt(v.Bool))
		case VarString:
			return strVal(v.Str)
		}
	}
	t := evalIdentCall(n, e)
	if t == tsUndefined {
		return undefVal()
	}
	return intVal(boolToInt(t.bool()))
}
