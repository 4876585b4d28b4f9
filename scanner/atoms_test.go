package scanner

import (
	"bytes"
	"testing"

	"github.com/netshade/rulescan/ast"
)

func textString(name, value string, mods ast.StringModifiers) *ast.StringDef {
	return &ast.StringDef{Name: name, Value: ast.TextString{Value: value}, Modifiers: mods}
}

func TestCompileTextAtomASCII(t *testing.T) {
	atoms, err := compileStringAtoms(textString("$a", "hello", ast.StringModifiers{Ascii: true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 1 {
		t.Fatalf("expected 1 atom, got %d", len(atoms))
	}
	if !bytes.Equal(atoms[0].Pattern, []byte("hello")) {
		t.Errorf("expected pattern 'hello', got %q", atoms[0].Pattern)
	}
	if !atoms[0].Flags.Has(FlagASCII) {
		t.Errorf("expected FlagASCII set")
	}
}

func TestCompileTextAtomWide(t *testing.T) {
	atoms, err := compileStringAtoms(textString("$w", "AB", ast.StringModifiers{Wide: true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 1 || !atoms[0].Flags.Has(FlagWide) {
		t.Fatalf("expected single wide atom, got %+v", atoms)
	}
	if !bytes.Equal(atoms[0].Pattern, []byte("AB")) {
		t.Errorf("expected stored pattern 'AB', got %q", atoms[0].Pattern)
	}
}

func TestCompileTextAtomBothAsciiAndWide(t *testing.T) {
	atoms, err := compileStringAtoms(textString("$b", "x", ast.StringModifiers{Ascii: true, Wide: true}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 2 {
		t.Fatalf("expected 2 atoms (ascii+wide), got %d", len(atoms))
	}
}

func TestCompileHexAtomFixed(t *testing.T) {
	hex := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xDE}, ast.HexByte{Value: 0xAD}, ast.HexWildcard{}, ast.HexByte{Value: 0xBE},
	}}
	atoms, err := compileStringAtoms(&ast.StringDef{Name: "$h", Value: hex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 1 {
		t.Fatalf("expected 1 atom, got %d", len(atoms))
	}
	want := []byte{0xDE, 0xAD, 0x00, 0xBE}
	wantMask := []byte{0xFF, 0xFF, 0x00, 0xFF}
	if !bytes.Equal(atoms[0].Pattern, want) || !bytes.Equal(atoms[0].Mask, wantMask) {
		t.Errorf("pattern/mask mismatch: pattern=%x mask=%x", atoms[0].Pattern, atoms[0].Mask)
	}
}

func TestCompileHexAtomBoundedJumpFansOut(t *testing.T) {
	min, max := 1, 3
	hex := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xAA}, ast.HexJump{Min: &min, Max: &max}, ast.HexByte{Value: 0xBB},
	}}
	atoms, err := compileStringAtoms(&ast.StringDef{Name: "$j", Value: hex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 3 {
		t.Fatalf("expected 3 sibling atoms (lengths 1,2,3), got %d", len(atoms))
	}
	for i, a := range atoms {
		wantLen := 2 + 1 + i // AA + i+1 wildcards + BB
		if len(a.Pattern) != wantLen {
			t.Errorf("atom %d: expected pattern length %d, got %d", i, wantLen, len(a.Pattern))
		}
	}
}

func TestCompileHexAtomUnboundedJumpIsIrregular(t *testing.T) {
	hex := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xAA}, ast.HexJump{}, ast.HexByte{Value: 0xBB},
	}}
	atoms, err := compileStringAtoms(&ast.StringDef{Name: "$j", Value: hex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atoms != nil {
		t.Fatalf("expected nil atoms for an unbounded jump (regex fallback), got %v", atoms)
	}
}

func TestCompileHexAtomOversizedJumpIsIrregular(t *testing.T) {
	min, max := 0, maxHexFanout+1
	hex := ast.HexString{Tokens: []ast.HexToken{
		ast.HexByte{Value: 0xAA}, ast.HexJump{Min: &min, Max: &max}, ast.HexByte{Value: 0xBB},
	}}
	atoms, err := compileStringAtoms(&ast.StringDef{Name: "$j", Value: hex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if atoms != nil {
		t.Fatalf("expected nil atoms for a jump wider than maxHexFanout, got %v", atoms)
	}
}

func TestCompileHexAtomAlternationFansOut(t *testing.T) {
	b1, b2 := byte(0x41), byte(0x42)
	hex := ast.HexString{Tokens: []ast.HexToken{
		ast.HexAlt{Alternatives: []ast.HexAltItem{{Byte: &b1}, {Byte: &b2}}},
	}}
	atoms, err := compileStringAtoms(&ast.StringDef{Name: "$a", Value: hex})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(atoms) != 2 {
		t.Fatalf("expected 2 sibling atoms, got %d", len(atoms))
	}
}

func TestAtomAddMatchSingleMatchDedup(t *testing.T) {
	a := &Atom{Flags: FlagSingleMatch}
	a.AddMatch(Match{Offset: 0, Length: 1})
	a.AddMatch(Match{Offset: 5, Length: 1})
	if len(a.Matches()) != 1 {
		t.Fatalf("SINGLE_MATCH atom should keep at most 1 match, got %d", len(a.Matches()))
	}
}

func TestAtomMatchesSortedByOffset(t *testing.T) {
	a := &Atom{}
	a.AddMatch(Match{Offset: 9})
	a.AddMatch(Match{Offset: 2})
	a.AddMatch(Match{Offset: 5})
	got := a.Matches()
	for i := 1; i < len(got); i++ {
		if got[i].Offset < got[i-1].Offset {
			t.Fatalf("matches not sorted: %+v", got)
		}
	}
}

func TestGenerateBase64PatternsThreeAlignments(t *testing.T) {
	patterns := generateBase64Patterns([]byte("secret"))
	if len(patterns) != 3 {
		t.Fatalf("expected 3 alignment patterns, got %d", len(patterns))
	}
	for _, p := range patterns {
		if bytes.ContainsAny(p, "=") {
			t.Errorf("expected no padding in trimmed pattern, got %q", p)
		}
	}
}
