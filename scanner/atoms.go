// Package scanner implements the scan kernel: the prefilter hash index,
// the byte-stripe matcher, the three-valued condition evaluator, and the
// three-pass rule scheduler. It consumes an *ast.RuleSet produced by the
// parser package and an opaque list of memory blocks, and drives a
// ScanCallback per non-private rule, matched or not.
package scanner

import (
	"sync"

	"github.com/netshade/rulescan/ast"
)

// AtomFlags is a bit set describing how an atom was declared and how it
// must be matched.
type AtomFlags uint16

const (
	FlagHexadecimal AtomFlags = 1 << iota
	FlagASCII
	FlagWide
	FlagRegexp
	FlagNocase
	FlagFullword
	FlagAnonymous
	FlagSingleMatch
)

// Has reports whether all bits in want are set.
func (f AtomFlags) Has(want AtomFlags) bool { return f&want == want }

// Match is a single occurrence of an atom in a scanned block, recorded
// with the absolute offset (block base + in-block position) so that
// @s[k] queries are meaningful across multiple blocks.
type Match struct {
	Offset int64
	Length int
	Data   []byte
}

// Atom is a compiled string ready for matching: a byte pattern, an
// optional same-length mask (nil means "match pattern bytes exactly"),
// its flags, and the match list the matcher appends to. RegexHandle is
// set instead of Pattern/Mask for REGEXP atoms; the matcher invokes it
// directly rather than testing bytes.
type Atom struct {
	StringName  string
	Pattern     []byte
	Mask        []byte // same length as Pattern, or nil
	Flags       AtomFlags
	RegexHandle RegexMatcher

	mu      sync.Mutex
	matches []Match
}

// RegexMatcher is the opaque regex primitive the core consumes (spec
// §6): given a window, it returns the length of a leftmost match
// anchored at offset 0, or 0 for no match.
type RegexMatcher interface {
	Match(window []byte) int
}

// AddMatch appends a match under the atom's lock. SINGLE_MATCH atoms
// keep only the first recorded match (P8).
func (a *Atom) AddMatch(m Match) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.Flags.Has(FlagSingleMatch) && len(a.matches) > 0 {
		return
	}
	a.matches = append(a.matches, m)
}

// Matches returns the atom's recorded matches sorted by ascending
// absolute offset. Sorting happens lazily here rather than at append
// time since §5 leaves in-bucket order unspecified during the scan.
func (a *Atom) Matches() []Match {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Match, len(a.matches))
	copy(out, a.matches)
	sortMatches(out)
	return out
}

// ClearMatches resets the atom's match list at the start of a scan (I5).
func (a *Atom) ClearMatches() {
	a.mu.Lock()
	a.matches = nil
	a.mu.Unlock()
}

func sortMatches(m []Match) {
	for i := 1; i < len(m); i++ {
		for j := i; j > 0 && m[j].Offset < m[j-1].Offset; j-- {
			m[j], m[j-1] = m[j-1], m[j]
		}
	}
}

// maxHexFanout bounds the atom-per-length expansion for hex jump ranges
// [n-m] (spec §4.2's "implementation-defined expansion bound").
const maxHexFanout = 32

// compileStringAtoms turns one string definition into one or more atoms.
// A plain literal or fixed-length hex pattern produces a single atom; a
// hex pattern with a bounded jump or alternation fans out into several
// sibling atoms, each independently matched and never deduplicated
// against each other (spec §9). A hex pattern too irregular to fan out
// (unbounded jump, or fan-out past maxHexFanout) and a RegexString both
// return a nil atom list: the caller in compile.go routes those through
// compileRegexAtom instead.
func compileStringAtoms(s *ast.StringDef) ([]*Atom, error) {
	base := AtomFlags(0)
	if s.Name == "$" || s.Name == "" {
		base |= FlagAnonymous
	}
	if s.Modifiers.Nocase {
		base |= FlagNocase
	}
	if s.Modifiers.Fullword {
		base |= FlagFullword
	}
	if s.Modifiers.SingleMatch {
		base |= FlagSingleMatch
	}

	switch v := s.Value.(type) {
	case ast.TextString:
		return compileTextAtoms(s, v, base)
	case ast.HexString:
		atoms, irregular, err := compileHexAtoms(s, v, base)
		if err != nil || irregular {
			// Irregular (unbounded/too-wide jump): compile.go converts
			// the whole hex string to a regex instead.
			return nil, err
		}
		return atoms, nil
	case ast.RegexString:
		// Regex atoms are materialized by compile.go once the
		// regex engine has compiled the pattern; here we only reserve
		// the flag combination.
		return nil, nil
	default:
		return nil, nil
	}
}

func compileTextAtoms(s *ast.StringDef, v ast.TextString, base AtomFlags) ([]*Atom, error) {
	if s.Modifiers.Base64 || s.Modifiers.Base64Wide {
		// Each of the three possible alignments within a base64 3-byte
		// group encodes the literal differently, so each alignment is
		// its own atom; fullword and nocase do not apply to base64 text.
		flags := base &^ (FlagFullword | FlagNocase)
		var atoms []*Atom
		if s.Modifiers.Base64 || !s.Modifiers.Base64Wide {
			for _, p := range generateBase64Patterns([]byte(v.Value)) {
				atoms = append(atoms, &Atom{StringName: s.Name, Pattern: p, Flags: flags | FlagASCII})
			}
		}
		if s.Modifiers.Base64Wide {
			widened := widenBytes([]byte(v.Value))
			for _, p := range generateBase64Patterns(widened) {
				atoms = append(atoms, &Atom{StringName: s.Name, Pattern: p, Flags: flags | FlagASCII})
			}
		}
		return atoms, nil
	}

	var atoms []*Atom
	if s.Modifiers.Ascii || !s.Modifiers.Wide {
		atoms = append(atoms, &Atom{StringName: s.Name, Pattern: []byte(v.Value), Flags: base | FlagASCII})
	}
	if s.Modifiers.Wide {
		atoms = append(atoms, &Atom{StringName: s.Name, Pattern: []byte(v.Value), Flags: base | FlagWide})
	}
	return atoms, nil
}

// widenBytes interleaves a zero byte after each input byte, the
// UTF-16LE-like encoding WIDE strings use.
func widenBytes(b []byte) []byte {
	out := make([]byte, 0, len(b)*2)
	for _, c := range b {
		out = append(out, c, 0)
	}
	return out
}

func compileHexAtoms(s *ast.StringDef, v ast.HexString, base AtomFlags) ([]*Atom, bool, error) {
	base |= FlagHexadecimal
	variants, irregular, err := expandHexTokens(v.Tokens)
	if err != nil {
		return nil, false, err
	}
	if irregular {
		return nil, true, nil
	}
	atoms := make([]*Atom, 0, len(variants))
	for _, variant := range variants {
		atoms = append(atoms, &Atom{StringName: s.Name, Pattern: variant.pattern, Mask: variant.mask, Flags: base})
	}
	return atoms, false, nil
}

type hexVariant struct {
	pattern []byte
	mask    []byte
}

// expandHexTokens walks the hex token list, expanding jumps and
// alternations into separate fixed-length variants. A jump with an
// unbounded bound, or one wide enough that fanning it out (combined with
// whatever alternations already fanned out the variant count) would
// exceed maxHexFanout, makes the whole string irregular: compile.go
// converts it to a regex and matches it through the residual
// path instead of a truncated atom.
func expandHexTokens(tokens []ast.HexToken) ([]hexVariant, bool, error) {
	variants := []hexVariant{{}}
	for _, tok := range tokens {
		switch t := tok.(type) {
		case ast.HexByte:
			for i := range variants {
				variants[i].pattern = append(variants[i].pattern, t.Value)
				variants[i].mask = append(variants[i].mask, 0xFF)
			}
		case ast.HexWildcard:
			for i := range variants {
				variants[i].pattern = append(variants[i].pattern, 0x00)
				variants[i].mask = append(variants[i].mask, 0x00)
			}
		case ast.HexNibble:
			m := byte(0xF0)
			p := t.Value << 4
			if t.HighWild {
				m, p = 0x0F, t.Value&0x0F
			}
			for i := range variants {
				variants[i].pattern = append(variants[i].pattern, p)
				variants[i].mask = append(variants[i].mask, m)
			}
		case ast.HexJump:
			lengths := jumpLengths(t)
			if len(lengths) == 0 || len(lengths)*len(variants) > maxHexFanout {
				return nil, true, nil
			}
			variants = fanOutJump(variants, lengths)
		case ast.HexAlt:
			if len(t.Alternatives)*len(variants) > maxHexFanout {
				return nil, true, nil
			}
			variants = fanOutAlt(variants, t.Alternatives)
		}
	}
	return variants, false, nil
}

func jumpLengths(j ast.HexJump) []int {
	if j.Min == nil || j.Max == nil {
		return nil
	}
	if *j.Max-*j.Min+1 > maxHexFanout {
		return nil
	}
	lengths := make([]int, 0, *j.Max-*j.Min+1)
	for n := *j.Min; n <= *j.Max; n++ {
		lengths = append(lengths, n)
	}
	return lengths
}

func fanOutJump(base []hexVariant, lengths []int) []hexVariant {
	out := make([]hexVariant, 0, len(base)*len(lengths))
	for _, v := range base {
		for _, n := range lengths {
			nv := hexVariant{pattern: append([]byte{}, v.pattern...), mask: append([]byte{}, v.mask...)}
			for i := 0; i < n; i++ {
				nv.pattern = append(nv.pattern, 0x00)
				nv.mask = append(nv.mask, 0x00)
			}
			out = append(out, nv)
		}
	}
	return out
}

func fanOutAlt(base []hexVariant, items []ast.HexAltItem) []hexVariant {
	out := make([]hexVariant, 0, len(base)*len(items))
	for _, v := range base {
		for _, item := range items {
			nv := hexVariant{pattern: append([]byte{}, v.pattern...), mask: append([]byte{}, v.mask...)}
			if item.Wildcard {
				nv.pattern = append(nv.pattern, 0x00)
				nv.mask = append(nv.mask, 0x00)
			} else {
				nv.pattern = append(nv.pattern, *item.Byte)
				nv.mask = append(nv.mask, 0xFF)
			}
			out = append(out, nv)
		}
	}
	return out
}

