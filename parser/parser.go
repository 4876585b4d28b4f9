// Package parser turns rule source text into an *ast.RuleSet consumed by
// the scanner package. The scanner never re-derives these types from
// source; parser is the sole producer of ast.Expr trees (spec §1).
package parser

import (
	"fmt"
	"os"

	"github.com/netshade/rulescan/ast"
	"github.com/netshade/rulescan/errs"
)

// Parser parses rule source into an ast.RuleSet.
type Parser struct{}

// New creates a new rule parser.
func New() *Parser {
	return &Parser{}
}

// ParseError carries the source line a parse failure occurred on,
// alongside the wrapped sentinel from package errs.
type ParseError struct {
	Line int
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Parse parses rule source from a string.
func (p *Parser) Parse(input string) (*ast.RuleSet, error) {
	toks, err := newLexer(input).tokenize()
	if err != nil {
		return nil, err
	}
	ps := &parseState{toks: toks}
	return ps.parseFile()
}

// ParseFile parses rule source from a file on disk.
func (p *Parser) ParseFile(filename string) (*ast.RuleSet, error) {
	content, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("reading file: %w", err)
	}
	return p.Parse(string(content))
}

// parseState walks the flat token stream produced by the lexer.
type parseState struct {
	toks []token
	pos  int
}

func (ps *parseState) cur() token {
	if ps.pos < len(ps.toks) {
		return ps.toks[ps.pos]
	}
	return token{kind: tEOF}
}

func (ps *parseState) at(off int) token {
	if ps.pos+off < len(ps.toks) {
		return ps.toks[ps.pos+off]
	}
	return token{kind: tEOF}
}

func (ps *parseState) advance() token {
	t := ps.cur()
	if ps.pos < len(ps.toks) {
		ps.pos++
	}
	return t
}

func (ps *parseState) isKeyword(word string) bool {
	t := ps.cur()
	return t.kind == tKeyword && t.val == word
}

func (ps *parseState) isPunct(val string) bool {
	t := ps.cur()
	return t.kind == tPunct && t.val == val
}

func (ps *parseState) expectPunct(val string) error {
	if !ps.isPunct(val) {
		return ps.errf("expected %q, got %q", val, ps.cur().val)
	}
	ps.advance()
	return nil
}

func (ps *parseState) expectKeyword(word string) error {
	if !ps.isKeyword(word) {
		return ps.errf("expected %q, got %q", word, ps.cur().val)
	}
	ps.advance()
	return nil
}

func (ps *parseState) errf(format string, args ...any) error {
	return &ParseError{Line: ps.cur().line, Err: fmt.Errorf("%w: %s", errs.ErrSyntaxError, fmt.Sprintf(format, args...))}
}

func (ps *parseState) parseFile() (*ast.RuleSet, error) {
	rs := &ast.RuleSet{}
	ruleNames := make(map[string]bool)

	for ps.cur().kind != tEOF {
		if ps.isKeyword("import") {
			ps.advance()
			if ps.cur().kind == tStringLit {
				ps.advance()
			}
			continue
		}

		rule, err := ps.parseRule()
		if err != nil {
			return nil, err
		}
		if ruleNames[rule.Name] {
			return nil, &ParseError{Line: ps.cur().line, Err: fmt.Errorf("%w: %s", errs.ErrDuplicateRuleIdentifier, rule.Name)}
		}
		ruleNames[rule.Name] = true
		rs.Rules = append(rs.Rules, rule)
	}
	return rs, nil
}

func (ps *parseState) parseRule() (*ast.Rule, error) {
	var mods ast.RuleModifiers
	for ps.isKeyword("global") || ps.isKeyword("private") {
		if ps.isKeyword("global") {
			mods.Global = true
		} else {
			mods.Private = true
		}
		ps.advance()
	}
	if err := ps.expectKeyword("rule"); err != nil {
		return nil, err
	}
	if ps.cur().kind != tIdent {
		return nil, ps.errf("expected rule name, got %q", ps.cur().val)
	}
	name := ps.advance().val

	var tags []string
	if ps.isPunct(":") {
		ps.advance()
		for ps.cur().kind == tIdent {
			tags = append(tags, ps.advance().val)
		}
	}

	if err := ps.expectPunct("{"); err != nil {
		return nil, err
	}

	rule := &ast.Rule{Name: name, Modifiers: mods, Tags: tags}

	if ps.isKeyword("meta") {
		meta, err := ps.parseMeta()
		if err != nil {
			return nil, err
		}
		rule.Meta = meta
	}
	if ps.isKeyword("strings") {
		strs, err := ps.parseStrings()
		if err != nil {
			return nil, err
		}
		rule.Strings = strs
	}
	if ps.isKeyword("condition") {
		ps.advance()
		if err := ps.expectPunct(":"); err != nil {
			return nil, err
		}
		cond, err := ps.parseExpr()
		if err != nil {
			return nil, err
		}
		rule.Condition = cond
	} else {
		return nil, ps.errf("rule %q has no condition", name)
	}

	if err := ps.expectPunct("}"); err != nil {
		return nil, err
	}

	if err := validateStringUsage(rule); err != nil {
		return nil, err
	}
	return rule, nil
}

func (ps *parseState) parseMeta() ([]*ast.MetaEntry, error) {
	ps.advance() // 'meta'
	if err := ps.expectPunct(":"); err != nil {
		return nil, err
	}
	var entries []*ast.MetaEntry
	seen := make(map[string]bool)
	for ps.cur().kind == tIdent {
		key := ps.advance().val
		if err := ps.expectPunct("="); err != nil {
			return nil, err
		}
		var val any
		switch {
		case ps.cur().kind == tStringLit:
			val = ps.advance().val
		case ps.cur().kind == tIntLit:
			val = ps.advance().num
		case ps.isPunct("-") && ps.at(1).kind == tIntLit:
			ps.advance()
			val = -ps.advance().num
		case ps.isKeyword("true"):
			ps.advance()
			val = true
		case ps.isKeyword("false"):
			ps.advance()
			val = false
		default:
			return nil, ps.errf("invalid meta value for %q", key)
		}
		if seen[key] {
			return nil, fmt.Errorf("%w: %s", errs.ErrDuplicateMetaIdentifier, key)
		}
		seen[key] = true
		entries = append(entries, &ast.MetaEntry{Key: key, Value: val})
	}
	return entries, nil
}

func (ps *parseState) parseStrings() ([]*ast.StringDef, error) {
	ps.advance() // 'strings'
	if err := ps.expectPunct(":"); err != nil {
		return nil, err
	}
	var defs []*ast.StringDef
	seen := make(map[string]bool)
	for ps.cur().kind == tStringIdent {
		def, err := ps.parseStringDef()
		if err != nil {
			return nil, err
		}
		if def.Name != "$" && seen[def.Name] {
			return nil, fmt.Errorf("%w: %s", errs.ErrDuplicateStringIdentifier, def.Name)
		}
		seen[def.Name] = true
		defs = append(defs, def)
	}
	return defs, nil
}

func (ps *parseState) parseStringDef() (*ast.StringDef, error) {
	name := ps.advance().val
	if err := ps.expectPunct("="); err != nil {
		return nil, err
	}

	def := &ast.StringDef{Name: name}
	switch {
	case ps.cur().kind == tStringLit:
		def.Value = ast.TextString{Value: ps.advance().val}
	case ps.cur().kind == tRegexLit:
		pat, mods := splitRegexFlags(ps.advance().val)
		def.Value = ast.RegexString{Pattern: pat, Modifiers: mods}
	case ps.isPunct("{"):
		hs, err := ps.parseHexString()
		if err != nil {
			return nil, err
		}
		def.Value = hs
	default:
		return nil, ps.errf("expected string value for %s, got %q", name, ps.cur().val)
	}

	for ps.cur().kind == tKeyword && stringModifierWords[ps.cur().val] {
		switch ps.advance().val {
		case "ascii":
			def.Modifiers.Ascii = true
		case "wide":
			def.Modifiers.Wide = true
		case "nocase":
			def.Modifiers.Nocase = true
		case "fullword":
			def.Modifiers.Fullword = true
		case "private":
			def.Modifiers.Private = true
		case "base64":
			def.Modifiers.Base64 = true
		case "base64wide":
			def.Modifiers.Base64Wide = true
		case "xor":
			def.Modifiers.Xor = true
		}
	}
	if !def.Modifiers.Wide && !def.Modifiers.Base64Wide {
		def.Modifiers.Ascii = true
	}
	return def, nil
}

func splitRegexFlags(raw string) (string, ast.RegexModifiers) {
	idx := -1
	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] == 0 {
			idx = i
			break
		}
	}
	if idx < 0 {
		return raw, ast.RegexModifiers{}
	}
	pattern := raw[:idx]
	flags := raw[idx+1:]
	var mods ast.RegexModifiers
	for _, c := range flags {
		switch c {
		case 'i':
			mods.CaseInsensitive = true
		case 's':
			mods.DotMatchesAll = true
		case 'm':
			mods.Multiline = true
		}
	}
	return pattern, mods
}
