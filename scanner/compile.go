package scanner

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	re2 "github.com/wasilibs/go-re2"
	"github.com/wasilibs/go-re2/experimental"

	"github.com/netshade/rulescan/ast"
	"github.com/netshade/rulescan/errs"
)

// CompileOptions configures compilation behavior.
type CompileOptions struct {
	// SkipInvalidRegex silently skips regexes that fail to compile,
	// instead of returning an error.
	SkipInvalidRegex bool

	// SkipSubtypes filters out rules whose meta "subtype" field matches
	// any of the given values. Rules without a "subtype" meta or with an
	// empty subtype value are never filtered.
	SkipSubtypes []string
}

// regexPattern is the residual form of a RegexString or irregular
// HexString atom: a compiled RE2 handle the matcher invokes directly at
// every stripe position reached through the hash index's residual
// bucket (spec §4.1/§4.2), since neither kind yields a fixed-length
// byte prefilter key.
type regexPattern struct {
	atom *Atom // the atom the evaluator and callback see
}

// Compile compiles an ast.RuleSet into a fresh Context under the
// "default" namespace.
func Compile(rs *ast.RuleSet) (*Context, error) {
	return CompileWithOptions(rs, "default", CompileOptions{})
}

// CompileWithOptions compiles an ast.RuleSet under the given namespace
// into a fresh Context. Namespace assignment happens here, at the
// caller's discretion, rather than from rule-source syntax (see
// ast.Rule's doc comment).
func CompileWithOptions(rs *ast.RuleSet, namespace string, opts CompileOptions) (*Context, error) {
	ctx := NewContext()
	if err := ctx.AddRuleSet(rs, namespace, opts); err != nil {
		return nil, err
	}
	return ctx, nil
}

// AddRuleSet compiles and appends an ast.RuleSet's rules into an
// existing Context under the given namespace, so multiple rule files
// can share one hash index and scan together. Each call resets the hash
// index and rebuilds it over the atoms of every rule compiled so far;
// the index is built here, not lazily at scan time.
func (c *Context) AddRuleSet(rs *ast.RuleSet, namespace string, opts CompileOptions) error {
	c.namespaceFor(namespace)

	skipSubtypes := make(map[string]bool, len(opts.SkipSubtypes))
	for _, t := range opts.SkipSubtypes {
		if t != "" {
			skipSubtypes[t] = true
		}
	}

	seenNames := make(map[string]bool, len(c.rules))
	for _, r := range c.rules {
		seenNames[r.name] = true
	}

	var compileErrs []error
	var allAtoms []*Atom
	for _, r := range c.rules {
		allAtoms = append(allAtoms, r.atoms...) // keep earlier rule sets indexed
	}

	for _, r := range rs.Rules {
		if r.Condition == nil {
			continue
		}
		if len(skipSubtypes) > 0 {
			if subtype := metaValue(r, "subtype"); subtype != "" && skipSubtypes[subtype] {
				continue
			}
		}
		if seenNames[r.Name] {
			compileErrs = append(compileErrs, fmt.Errorf("%w: %s", errs.ErrDuplicateRuleIdentifier, r.Name))
			continue
		}
		seenNames[r.Name] = true

		cr := &compiledRule{
			name:         r.Name,
			namespace:    namespace,
			tags:         r.Tags,
			condition:    r.Condition,
			precondition: r.Precondition,
			atomsByName:  make(map[string][]*Atom, len(r.Strings)),
		}
		cr.flags = ruleFlagsFromModifiers(r.Modifiers)
		for _, m := range r.Meta {
			cr.metas = append(cr.metas, Meta{Identifier: m.Key, Value: m.Value})
		}

		for _, s := range r.Strings {
			atoms, err := compileStringAtoms(s)
			if err != nil {
				compileErrs = append(compileErrs, fmt.Errorf("rule %q string %s: %w", r.Name, s.Name, err))
				continue
			}
			if atoms != nil {
				cr.atoms = append(cr.atoms, atoms...)
				cr.atomsByName[s.Name] = append(cr.atomsByName[s.Name], atoms...)
				allAtoms = append(allAtoms, atoms...)
				continue
			}

			// Regex-backed: either an explicit RegexString, or a
			// HexString too irregular for compileStringAtoms to fan out
			// (unbounded/oversized jump).
			rp, err := compileRegexAtom(s, opts)
			if err != nil {
				compileErrs = append(compileErrs, fmt.Errorf("rule %q string %s: %w", r.Name, s.Name, err))
				continue
			}
			if rp == nil {
				continue
			}
			cr.atoms = append(cr.atoms, rp.atom)
			cr.atomsByName[s.Name] = append(cr.atomsByName[s.Name], rp.atom)
			c.regexPatterns = append(c.regexPatterns, rp)
			allAtoms = append(allAtoms, rp.atom) // lands in residual via FlagRegexp
		}

		c.rules = append(c.rules, cr)
	}

	if len(compileErrs) > 0 {
		return errors.Join(compileErrs...)
	}

	c.index.Reset()
	c.index.Build(allAtoms)

	return nil
}

func ruleFlagsFromModifiers(m ast.RuleModifiers) RuleFlags {
	var f RuleFlags
	if m.Global {
		f |= RuleGlobal
	}
	if m.Private {
		f |= RulePrivate
	}
	if m.RequireExecutable {
		f |= RuleRequireExecutable
	}
	if m.RequireFile {
		f |= RuleRequireFile
	}
	return f
}

func compileRegexAtom(s *ast.StringDef, opts CompileOptions) (*regexPattern, error) {
	var pattern string

	switch v := s.Value.(type) {
	case ast.RegexString:
		pattern = buildRE2Pattern(v.Pattern, v.Modifiers)
	case ast.HexString:
		pattern = "(?s)" + hexStringToRegex(v)
	default:
		return nil, nil
	}

	compiled, err := experimental.CompileLatin1(pattern)
	if err != nil {
		if opts.SkipInvalidRegex {
			return nil, nil
		}
		return nil, fmt.Errorf("invalid regex: %w", err)
	}

	atom := &Atom{
		StringName:  s.Name,
		Flags:       FlagRegexp,
		RegexHandle: re2Adapter{compiled},
	}
	return &regexPattern{atom: atom}, nil
}

// re2Adapter adapts *re2.Regexp (as returned by go-re2/experimental) to
// the scanner's RegexMatcher primitive: a leftmost match anchored at
// offset 0 of the window, or 0 for no match (spec §6).
type re2Adapter struct {
	re *re2.Regexp
}

func (a re2Adapter) Match(window []byte) int {
	loc := a.re.FindIndex(window)
	if loc == nil || loc[0] != 0 {
		return 0
	}
	return loc[1]
}

func buildRE2Pattern(pattern string, mods ast.RegexModifiers) string {
	var prefix string
	if mods.CaseInsensitive {
		prefix = "(?i)"
	}
	if mods.DotMatchesAll {
		prefix += "(?s)"
	}
	if mods.Multiline {
		prefix += "(?m)"
	}
	return prefix + fixCommaQuantifiers(pattern)
}

// fixCommaQuantifiers rewrites {,N} to {0,N} because RE2 treats {,N}
// as literal text rather than a quantifier.
func fixCommaQuantifiers(pattern string) string {
	var b strings.Builder
	b.Grow(len(pattern))
	for i := 0; i < len(pattern); i++ {
		if pattern[i] == '\\' && i+1 < len(pattern) {
			b.WriteByte(pattern[i])
			b.WriteByte(pattern[i+1])
			i++
			continue
		}
		if pattern[i] == '{' && i+1 < len(pattern) && pattern[i+1] == ',' {
			b.WriteString("{0")
			continue
		}
		b.WriteByte(pattern[i])
	}
	return b.String()
}

func hexStringToRegex(h ast.HexString) string {
	var sb strings.Builder
	i := 0
	for i < len(h.Tokens) {
		switch t := h.Tokens[i].(type) {
		case ast.HexByte:
			fmt.Fprintf(&sb, "\\x%02x", t.Value)
		case ast.HexWildcard:
			count := 1
			for i+count < len(h.Tokens) {
				if _, ok := h.Tokens[i+count].(ast.HexWildcard); ok {
					count++
				} else {
					break
				}
			}
			if count == 1 {
				sb.WriteByte('.')
			} else {
				fmt.Fprintf(&sb, ".{%d}", count)
			}
			i += count - 1
		case ast.HexNibble:
			if t.HighWild {
				sb.WriteByte('[')
				for hi := 0; hi < 16; hi++ {
					fmt.Fprintf(&sb, "\\x%02x", byte(hi<<4)|t.Value&0x0F)
				}
				sb.WriteByte(']')
			} else {
				fmt.Fprintf(&sb, "[\\x%02x-\\x%02x]", t.Value<<4, (t.Value<<4)|0x0F)
			}
		case ast.HexJump:
			writeJump(&sb, t)
		case ast.HexAlt:
			writeAlt(&sb, t)
		}
		i++
	}
	return sb.String()
}

func writeJump(sb *strings.Builder, j ast.HexJump) {
	switch {
	case j.Min == nil && j.Max == nil:
		sb.WriteString(".*")
	case j.Min != nil && j.Max != nil && *j.Min == *j.Max:
		fmt.Fprintf(sb, ".{%d}", *j.Min)
	case j.Min != nil && j.Max != nil:
		fmt.Fprintf(sb, ".{%d,%d}", *j.Min, *j.Max)
	case j.Min != nil:
		fmt.Fprintf(sb, ".{%d,}", *j.Min)
	case j.Max != nil:
		fmt.Fprintf(sb, ".{0,%d}", *j.Max)
	}
}

func writeAlt(sb *strings.Builder, a ast.HexAlt) {
	sb.WriteString("(?:")
	for i, item := range a.Alternatives {
		if i > 0 {
			sb.WriteByte('|')
		}
		if item.Wildcard {
			sb.WriteByte('.')
		} else if item.Byte != nil {
			fmt.Fprintf(sb, "\\x%02x", *item.Byte)
		}
	}
	sb.WriteByte(')')
}

func generateBase64Patterns(data []byte) [][]byte {
	offsets := [3]struct{ pad, skip int }{{0, 0}, {1, 2}, {2, 3}}
	patterns := make([][]byte, 0, 3)
	for _, o := range offsets {
		padded := append(make([]byte, o.pad), data...)
		enc := base64.StdEncoding.EncodeToString(padded)
		if len(enc) <= o.skip {
			continue
		}
		trimmed := strings.TrimRight(enc[o.skip:], "=")
		if trim := trailingUnstableChars(len(data) + o.pad); trim > 0 && len(trimmed) > trim {
			trimmed = trimmed[:len(trimmed)-trim]
		}
		if len(trimmed) > 0 {
			patterns = append(patterns, []byte(trimmed))
		}
	}
	return patterns
}

func trailingUnstableChars(dataLen int) int {
	switch dataLen % 3 {
	case 1:
		return 1
	case 2:
		return 1
	default:
		return 0
	}
}

func metaValue(r *ast.Rule, key string) string {
	for _, m := range r.Meta {
		if m.Key == key {
			if s, ok := m.Value.(string); ok {
				return s
			}
			return ""
		}
	}
	return ""
}
