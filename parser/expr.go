package parser

import (
	"github.com/netshade/rulescan/ast"
)

// parseExpr is the entry point for a condition expression: the lowest
// precedence level is "or".
func (ps *parseState) parseExpr() (ast.Expr, error) {
	return ps.parseOr()
}

func (ps *parseState) parseOr() (ast.Expr, error) {
	left, err := ps.parseAnd()
	if err != nil {
		return nil, err
	}
	for ps.isKeyword("or") {
		ps.advance()
		right, err := ps.parseAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "or", Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseAnd() (ast.Expr, error) {
	left, err := ps.parseNot()
	if err != nil {
		return nil, err
	}
	for ps.isKeyword("and") {
		ps.advance()
		right, err := ps.parseNot()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "and", Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseNot() (ast.Expr, error) {
	if ps.isKeyword("not") {
		ps.advance()
		operand, err := ps.parseNot()
		if err != nil {
			return nil, err
		}
		return ast.UnaryExpr{Op: "not", Operand: operand}, nil
	}
	return ps.parseComparison()
}

var compareOps = map[string]bool{"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true}

func (ps *parseState) parseComparison() (ast.Expr, error) {
	left, err := ps.parseBitOr()
	if err != nil {
		return nil, err
	}
	if ps.cur().kind == tPunct && compareOps[ps.cur().val] {
		op := ps.advance().val
		right, err := ps.parseBitOr()
		if err != nil {
			return nil, err
		}
		return ast.BinaryExpr{Op: op, Left: left, Right: right}, nil
	}
	return left, nil
}

func (ps *parseState) parseBitOr() (ast.Expr, error) {
	left, err := ps.parseBitXor()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("|") {
		ps.advance()
		right, err := ps.parseBitXor()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "|", Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseBitXor() (ast.Expr, error) {
	left, err := ps.parseBitAnd()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("^") {
		ps.advance()
		right, err := ps.parseBitAnd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "^", Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseBitAnd() (ast.Expr, error) {
	left, err := ps.parseShift()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("&") {
		ps.advance()
		right, err := ps.parseShift()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: "&", Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseShift() (ast.Expr, error) {
	left, err := ps.parseAdd()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("<<") || ps.isPunct(">>") {
		op := ps.advance().val
		right, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseAdd() (ast.Expr, error) {
	left, err := ps.parseMul()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("+") || ps.isPunct("-") {
		op := ps.advance().val
		right, err := ps.parseMul()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseMul() (ast.Expr, error) {
	left, err := ps.parseUnary()
	if err != nil {
		return nil, err
	}
	for ps.isPunct("*") || ps.isPunct("\\") || ps.isPunct("%") {
		op := ps.advance().val
		right, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		left = ast.BinaryExpr{Op: op, Left: left, Right: right}
	}
	return left, nil
}

func (ps *parseState) parseUnary() (ast.Expr, error) {
	if ps.isPunct("-") || ps.isPunct("~") {
		op := ps.advance().val
		operand, err := ps.parseUnary()
		if err != nil {
			return nil, err
		}
		return ast.UnaryExpr{Op: op, Operand: operand}, nil
	}
	return ps.parsePrimary()
}

func (ps *parseState) parsePrimary() (ast.Expr, error) {
	t := ps.cur()

	switch {
	case t.kind == tIntLit:
		ps.advance()
		if ps.isKeyword("of") {
			return ps.parseOfOrFor(ast.IntLit{Value: t.num})
		}
		return ast.IntLit{Value: t.num}, nil

	case t.kind == tStringLit:
		ps.advance()
		return ast.StrLit{Value: t.val}, nil

	case ps.isKeyword("true"):
		ps.advance()
		return ast.BoolLit{Value: true}, nil

	case ps.isKeyword("false"):
		ps.advance()
		return ast.BoolLit{Value: false}, nil

	case ps.isKeyword("filesize"):
		ps.advance()
		return ast.FileSize{}, nil

	case ps.isKeyword("entrypoint"):
		ps.advance()
		return ast.EntryPoint{}, nil

	case ps.isPunct("("):
		ps.advance()
		inner, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		if err := ps.expectPunct(")"); err != nil {
			return nil, err
		}
		return ast.ParenExpr{Inner: inner}, nil

	case t.kind == tStringIdent:
		return ps.parseStringRefExpr()

	case t.kind == tStringCount:
		ps.advance()
		return ast.StringCount{Name: "$" + t.val[1:]}, nil

	case t.kind == tStringOffset:
		ps.advance()
		idx := ast.Expr(ast.IntLit{Value: 1})
		if ps.isPunct("[") {
			ps.advance()
			var err error
			idx, err = ps.parseAdd()
			if err != nil {
				return nil, err
			}
			if err := ps.expectPunct("]"); err != nil {
				return nil, err
			}
		}
		return ast.StringOffset{Name: "$" + t.val[1:], Index: idx}, nil

	case ps.isKeyword("any"), ps.isKeyword("all"):
		return ps.parseOfOrFor(nil)

	case ps.isKeyword("for"):
		return ps.parseFor()

	case t.kind == tIdent:
		return ps.parseIdentOrCall(t)
	}

	return nil, ps.errf("unexpected token %q", t.val)
}

// parseStringRefExpr parses "$foo", "$foo at expr", or "$foo in (lo..hi)".
func (ps *parseState) parseStringRefExpr() (ast.Expr, error) {
	name := ps.advance().val
	switch {
	case ps.isKeyword("at"):
		ps.advance()
		pos, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		return ast.AtExpr{Name: name, Pos: pos}, nil
	case ps.isKeyword("in"):
		ps.advance()
		if err := ps.expectPunct("("); err != nil {
			return nil, err
		}
		lo, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		if err := ps.expectPunct(".."); err != nil {
			return nil, err
		}
		hi, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		if err := ps.expectPunct(")"); err != nil {
			return nil, err
		}
		return ast.InExpr{Name: name, Lo: lo, Hi: hi}, nil
	default:
		return ast.StringRef{Name: name}, nil
	}
}

// parseIdentOrCall distinguishes a byte-access/function call ("uint32(0)")
// from a bare identifier used as a boolean operand.
func (ps *parseState) parseIdentOrCall(t token) (ast.Expr, error) {
	ps.advance()
	if ps.isPunct("(") {
		ps.advance()
		var args []ast.Expr
		for !ps.isPunct(")") {
			arg, err := ps.parseExpr()
			if err != nil {
				return nil, err
			}
			args = append(args, arg)
			if ps.isPunct(",") {
				ps.advance()
				continue
			}
			break
		}
		if err := ps.expectPunct(")"); err != nil {
			return nil, err
		}
		return ast.FuncCall{Name: t.val, Args: args}, nil
	}
	return ast.IdentCall{Name: t.val}, nil
}

// parseOfOrFor parses "any of (set)" / "all of (set)" when quantifier is
// nil (meaning the "any"/"all" keyword is the current token), or "N of
// (set)" when parsePrimary has already consumed the integer N and passes
// it in as quantifier.
func (ps *parseState) parseOfOrFor(quantifier ast.Expr) (ast.Expr, error) {
	all := false
	if quantifier == nil {
		if ps.isKeyword("all") {
			all = true
		}
		ps.advance() // 'any' or 'all'
	}
	if err := ps.expectKeyword("of"); err != nil {
		return nil, err
	}
	set, err := ps.parseStringSet()
	if err != nil {
		return nil, err
	}
	return ast.OfExpr{Quantifier: quantifier, All: all, Set: set}, nil
}

func (ps *parseState) parseStringSet() (ast.StringSet, error) {
	if ps.isKeyword("them") {
		ps.advance()
		return ast.StringSet{All: true}, nil
	}
	if err := ps.expectPunct("("); err != nil {
		return ast.StringSet{}, err
	}
	var set ast.StringSet
	for ps.cur().kind == tStringIdent {
		name := ps.advance().val
		set.Names = append(set.Names, name)
		if ps.isPunct(",") {
			ps.advance()
			continue
		}
		break
	}
	if err := ps.expectPunct(")"); err != nil {
		return ast.StringSet{}, err
	}
	if len(set.Names) == 1 && len(set.Names[0]) > 0 && set.Names[0][len(set.Names[0])-1] == '*' {
		set.Pattern = set.Names[0]
		set.Names = nil
	}
	return set, nil
}

// parseFor parses "for all i in (1..#s): (expr)" / "for any i in (set): (expr)"
// and the counted form "for N i in (...): (expr)". A loop variable is
// always required; the "for N of (set): (expr)" form is not parsed.
func (ps *parseState) parseFor() (ast.Expr, error) {
	ps.advance() // 'for'

	var quantifier ast.Expr
	all := false
	switch {
	case ps.isKeyword("all"):
		all = true
		ps.advance()
	case ps.isKeyword("any"):
		ps.advance()
	case ps.cur().kind == tIntLit:
		n := ps.advance().num
		quantifier = ast.IntLit{Value: n}
	default:
		return nil, ps.errf("expected quantifier after 'for'")
	}

	if ps.cur().kind != tIdent {
		return nil, ps.errf("expected loop variable after quantifier")
	}
	v := ps.advance().val
	if err := ps.expectKeyword("in"); err != nil {
		return nil, err
	}
	if err := ps.expectPunct("("); err != nil {
		return nil, err
	}

	fe := ast.ForExpr{Quantifier: quantifier, All: all, Var: v}
	if ps.cur().kind == tStringIdent || ps.isKeyword("them") {
		set, err := ps.parseStringSetInner()
		if err != nil {
			return nil, err
		}
		fe.Set = &set
	} else {
		from, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		if err := ps.expectPunct(".."); err != nil {
			return nil, err
		}
		to, err := ps.parseAdd()
		if err != nil {
			return nil, err
		}
		fe.From, fe.To = from, to
	}
	if err := ps.expectPunct(")"); err != nil {
		return nil, err
	}
	if err := ps.expectPunct(":"); err != nil {
		return nil, err
	}
	if err := ps.expectPunct("("); err != nil {
		return nil, err
	}
	body, err := ps.parseExpr()
	if err != nil {
		return nil, err
	}
	if err := ps.expectPunct(")"); err != nil {
		return nil, err
	}
	fe.Body = body
	return fe, nil
}

// parseStringSetInner parses a string set without its own enclosing
// parens, for use inside "for ... in (<set>)" where the parens are
// already being consumed by the caller.
func (ps *parseState) parseStringSetInner() (ast.StringSet, error) {
	if ps.isKeyword("them") {
		ps.advance()
		return ast.StringSet{All: true}, nil
	}
	var set ast.StringSet
	for ps.cur().kind == tStringIdent {
		set.Names = append(set.Names, ps.advance().val)
		if ps.isPunct(",") {
			ps.advance()
			continue
		}
		break
	}
	return set, nil
}
