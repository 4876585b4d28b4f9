package parser

import (
	"fmt"

	"github.com/netshade/rulescan/ast"
	"github.com/netshade/rulescan/errs"
)

// validateStringUsage checks that every string the condition references
// is defined, that every defined string is referenced somewhere (barring
// the anonymous "$" string, which real rule languages also exempt from
// the unreferenced check since it can't be named precisely), and that an
// anonymous string is never referenced directly (it has no name to
// reference with).
func validateStringUsage(rule *ast.Rule) error {
	defined := make(map[string]bool, len(rule.Strings))
	for _, s := range rule.Strings {
		if s.Name == "$" {
			continue
		}
		defined[s.Name] = true
	}

	used := make(map[string]bool, len(defined))
	var walk func(e ast.Expr) error
	walk = func(e ast.Expr) error {
		if e == nil {
			return nil
		}
		switch n := e.(type) {
		case ast.StringRef:
			return checkRef(n.Name, defined, used)
		case ast.StringCount:
			return checkRef(n.Name, defined, used)
		case ast.StringOffset:
			if err := checkRef(n.Name, defined, used); err != nil {
				return err
			}
			return walk(n.Index)
		case ast.AtExpr:
			if err := checkRef(n.Name, defined, used); err != nil {
				return err
			}
			return walk(n.Pos)
		case ast.InExpr:
			if err := checkRef(n.Name, defined, used); err != nil {
				return err
			}
			if err := walk(n.Lo); err != nil {
				return err
			}
			return walk(n.Hi)
		case ast.UnaryExpr:
			return walk(n.Operand)
		case ast.BinaryExpr:
			if err := walk(n.Left); err != nil {
				return err
			}
			return walk(n.Right)
		case ast.ParenExpr:
			return walk(n.Inner)
		case ast.FuncCall:
			for _, a := range n.Args {
				if err := walk(a); err != nil {
					return err
				}
			}
			return nil
		case ast.OfExpr:
			markSet(n.Set, defined, used)
			return walk(n.Quantifier)
		case ast.ForExpr:
			if n.Set != nil {
				markSet(*n.Set, defined, used)
			}
			if err := walk(n.From); err != nil {
				return err
			}
			if err := walk(n.To); err != nil {
				return err
			}
			if err := walk(n.Quantifier); err != nil {
				return err
			}
			return walk(n.Body)
		}
		return nil
	}

	if err := walk(rule.Condition); err != nil {
		return err
	}
	if err := walk(rule.Precondition); err != nil {
		return err
	}

	for name := range defined {
		if !used[name] {
			return fmt.Errorf("%w: %s in rule %s", errs.ErrUnreferencedString, name, rule.Name)
		}
	}
	return nil
}

func checkRef(name string, defined, used map[string]bool) error {
	if name == "$" {
		return fmt.Errorf("%w: anonymous string referenced directly", errs.ErrMisplacedAnonymousString)
	}
	if !defined[name] {
		return fmt.Errorf("%w: %s", errs.ErrUndefinedString, name)
	}
	used[name] = true
	return nil
}

func markSet(set ast.StringSet, defined, used map[string]bool) {
	if set.All {
		for name := range defined {
			used[name] = true
		}
		return
	}
	if set.Pattern != "" {
		prefix := set.Pattern[:len(set.Pattern)-1]
		for name := range defined {
			if hasPrefix(name, prefix) {
				used[name] = true
			}
		}
		return
	}
	for _, name := range set.Names {
		used[name] = true
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}
