package scanner

import (
	"testing"

	"github.com/netshade/rulescan/ast"
)

func ruleWithAtoms(atomsByName map[string][]*Atom) *compiledRule {
	return &compiledRule{atomsByName: atomsByName}
}

func newEvalContext(r *compiledRule) *evalContext {
	return &evalContext{ctx: NewContext(), rule: r}
}

func matchedAtom(offsets ...int64) *Atom {
	a := &Atom{}
	for _, o := range offsets {
		a.AddMatch(Match{Offset: o, Length: 1})
	}
	return a
}

func TestEvalBoolAndShortCircuitsOnFalse(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "and", Left: ast.BoolLit{Value: false}, Right: ast.IdentCall{Name: "undefined_thing"}}
	if evalBool(expr, e) != tsFalse {
		t.Errorf("expected false and undefined -> false")
	}
}

func TestEvalBoolOrShortCircuitsOnTrue(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "or", Left: ast.BoolLit{Value: true}, Right: ast.IdentCall{Name: "undefined_thing"}}
	if evalBool(expr, e) != tsTrue {
		t.Errorf("expected true or undefined -> true")
	}
}

func TestEvalBoolAndUndefinedPropagates(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "and", Left: ast.BoolLit{Value: true}, Right: ast.IdentCall{Name: "undefined_thing"}}
	if evalBool(expr, e) != tsUndefined {
		t.Errorf("expected true and undefined -> undefined")
	}
}

func TestEvalBoolOrUndefinedPropagatesWhenNotShortCircuited(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "or", Left: ast.BoolLit{Value: false}, Right: ast.IdentCall{Name: "undefined_thing"}}
	if evalBool(expr, e) != tsUndefined {
		t.Errorf("expected false or undefined -> undefined")
	}
}

func TestEvalConditionCollapsesUndefinedToFalse(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	if evalCondition(ast.IdentCall{Name: "nothing_named_this"}, e) {
		t.Errorf("expected undefined top-level condition to collapse to false")
	}
}

func TestEvalComparisonStrings(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "==", Left: ast.StrLit{Value: "abc"}, Right: ast.StrLit{Value: "abc"}}
	if evalBool(expr, e) != tsTrue {
		t.Errorf("expected equal strings to compare true")
	}
}

func TestEvalArithDivisionByZeroIsUndefined(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "/", Left: ast.IntLit{Value: 10}, Right: ast.IntLit{Value: 0}}
	v := evalInt(expr, e)
	if !v.undef {
		t.Errorf("expected division by zero to be undefined")
	}
}

func TestEvalArithModuloByZeroIsUndefined(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "%", Left: ast.IntLit{Value: 10}, Right: ast.IntLit{Value: 0}}
	v := evalInt(expr, e)
	if !v.undef {
		t.Errorf("expected modulo by zero to be undefined")
	}
}

func TestEvalArithNormal(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.BinaryExpr{Op: "+", Left: ast.IntLit{Value: 3}, Right: ast.IntLit{Value: 4}}
	v := evalInt(expr, e)
	if v.undef || v.i != 7 {
		t.Errorf("expected 3+4=7, got %+v", v)
	}
}

func TestEvalFuncCallUint8OutOfRangeIsUndefined(t *testing.T) {
	block := SingleBlock([]byte{0x01, 0x02})
	e := &evalContext{ctx: NewContext(), rule: ruleWithAtoms(nil), blocks: block}
	expr := ast.FuncCall{Name: "uint8", Args: []ast.Expr{ast.IntLit{Value: 10}}}
	v := evalInt(expr, e)
	if !v.undef {
		t.Errorf("expected out-of-range uint8 read to be undefined")
	}
}

func TestEvalFuncCallUint16LittleEndian(t *testing.T) {
	block := SingleBlock([]byte{0x34, 0x12})
	e := &evalContext{ctx: NewContext(), rule: ruleWithAtoms(nil), blocks: block}
	expr := ast.FuncCall{Name: "uint16", Args: []ast.Expr{ast.IntLit{Value: 0}}}
	v := evalInt(expr, e)
	if v.undef || v.i != 0x1234 {
		t.Errorf("expected little-endian 0x1234, got %+v", v)
	}
}

func TestEvalFuncCallUint16BigEndian(t *testing.T) {
	block := SingleBlock([]byte{0x12, 0x34})
	e := &evalContext{ctx: NewContext(), rule: ruleWithAtoms(nil), blocks: block}
	expr := ast.FuncCall{Name: "uint16be", Args: []ast.Expr{ast.IntLit{Value: 0}}}
	v := evalInt(expr, e)
	if v.undef || v.i != 0x1234 {
		t.Errorf("expected big-endian 0x1234, got %+v", v)
	}
}

func TestEvalOfAnyRequiresOneMatch(t *testing.T) {
	atoms := map[string][]*Atom{
		"$a": {matchedAtom(0)},
		"$b": {},
	}
	e := newEvalContext(ruleWithAtoms(atoms))
	expr := ast.OfExpr{Set: ast.StringSet{All: true}}
	if evalBool(expr, e) != tsTrue {
		t.Errorf("expected 'any of them' to be true when one string matched")
	}
}

func TestEvalOfAllRequiresEveryMatch(t *testing.T) {
	atoms := map[string][]*Atom{
		"$a": {matchedAtom(0)},
		"$b": {},
	}
	e := newEvalContext(ruleWithAtoms(atoms))
	expr := ast.OfExpr{All: true, Set: ast.StringSet{All: true}}
	if evalBool(expr, e) != tsFalse {
		t.Errorf("expected 'all of them' to be false when one string has no match")
	}
}

func TestEvalOfQuantifierCount(t *testing.T) {
	atoms := map[string][]*Atom{
		"$a": {matchedAtom(0)},
		"$b": {matchedAtom(1)},
		"$c": {},
	}
	e := newEvalContext(ruleWithAtoms(atoms))
	expr := ast.OfExpr{Quantifier: ast.IntLit{Value: 2}, Set: ast.StringSet{All: true}}
	if evalBool(expr, e) != tsTrue {
		t.Errorf("expected '2 of them' to be true with 2 matches")
	}
}

func TestEvalForIntRangeAll(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.ForExpr{
		All:  true,
		Var:  "i",
		From: ast.IntLit{Value: 1},
		To:   ast.IntLit{Value: 3},
		Body: ast.BinaryExpr{Op: ">", Left: ast.IdentCall{Name: "i"}, Right: ast.IntLit{Value: 0}},
	}
	if evalBool(expr, e) != tsTrue {
		t.Errorf("expected for-all i in (1..3): i>0 to be true")
	}
}

func TestEvalForIntRangeAllFailsOnce(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	expr := ast.ForExpr{
		All:  true,
		Var:  "i",
		From: ast.IntLit{Value: 1},
		To:   ast.IntLit{Value: 3},
		Body: ast.BinaryExpr{Op: "<", Left: ast.IdentCall{Name: "i"}, Right: ast.IntLit{Value: 3}},
	}
	if evalBool(expr, e) != tsFalse {
		t.Errorf("expected for-all i in (1..3): i<3 to be false (fails at i=3)")
	}
}

func TestEvalIdentCallResolvesExternalVariableBeforeTag(t *testing.T) {
	r := ruleWithAtoms(nil)
	r.tags = []string{"suspicious"}
	ctx := NewContext()
	ctx.DefineVariable("suspicious", Variable{Kind: VarBoolean, Bool: false})
	e := &evalContext{ctx: ctx, rule: r}
	if evalBool(ast.IdentCall{Name: "suspicious"}, e) != tsFalse {
		t.Errorf("expected external variable to take priority over tag of same name")
	}
}

func TestEvalIdentCallFallsBackToTag(t *testing.T) {
	r := ruleWithAtoms(nil)
	r.tags = []string{"suspicious"}
	e := newEvalContext(r)
	if evalBool(ast.IdentCall{Name: "suspicious"}, e) != tsTrue {
		t.Errorf("expected tag match to resolve true")
	}
}

func TestEvalIdentCallFallsBackToRuleMatchFlag(t *testing.T) {
	other := &compiledRule{name: "other_rule", flags: RuleMatch}
	ctx := NewContext()
	ctx.rules = []*compiledRule{other}
	e := &evalContext{ctx: ctx, rule: ruleWithAtoms(nil)}
	if evalBool(ast.IdentCall{Name: "other_rule"}, e) != tsTrue {
		t.Errorf("expected reference to a matched rule to resolve true")
	}
}

func TestEvalForLoopBindingShadowsIdentCall(t *testing.T) {
	e := newEvalContext(ruleWithAtoms(nil))
	bound := e.withBinding("i", 5)
	v := evalInt(ast.IdentCall{Name: "i"}, bound)
	if v.undef || v.i != 5 {
		t.Errorf("expected for-loop binding to resolve 'i' to 5, got %+v", v)
	}
}

func TestStringOffsetAtOneIndexed(t *testing.T) {
	atoms := map[string][]*Atom{"$a": {matchedAtom(10, 20)}}
	e := newEvalContext(ruleWithAtoms(atoms))
	off, ok := stringOffsetAt(e, "$a", 1)
	if !ok || off != 10 {
		t.Errorf("expected @a[1] == 10, got off=%d ok=%v", off, ok)
	}
	off, ok = stringOffsetAt(e, "$a", 2)
	if !ok || off != 20 {
		t.Errorf("expected @a[2] == 20, got off=%d ok=%v", off, ok)
	}
	if _, ok := stringOffsetAt(e, "$a", 3); ok {
		t.Errorf("expected @a[3] to be out of range")
	}
}
