package scanner

import (
	"testing"
)

// scenario 1 (spec §8): literal "hello" found once in "say hello world".
func TestMatchAtPositionLiteral(t *testing.T) {
	a := &Atom{StringName: "a", Pattern: []byte("hello"), Flags: FlagASCII}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock([]byte("say hello world"))

	if err := scanBlockStriped(idx, block, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches := a.Matches()
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Offset != 4 || matches[0].Length != 5 {
		t.Errorf("expected offset=4 length=5, got %+v", matches[0])
	}
}

// scenario 2 (spec §8): wide string "AB" on "41 00 42 00 43" -> one match
// at offset 0, length 4.
func TestMatchWideString(t *testing.T) {
	a := &Atom{StringName: "w", Pattern: []byte("AB"), Flags: FlagWide}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock([]byte{0x41, 0x00, 0x42, 0x00, 0x43})

	if err := scanBlockStriped(idx, block, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches := a.Matches()
	if len(matches) != 1 {
		t.Fatalf("expected 1 match, got %d", len(matches))
	}
	if matches[0].Offset != 0 || matches[0].Length != 4 {
		t.Errorf("expected offset=0 length=4, got %+v", matches[0])
	}
}

// scenario 3 (spec §8): hex { DE AD ?? BE EF } on "DE AD CA BE EF" -> one
// match at offset 0, length 5.
func TestMatchHexWildcard(t *testing.T) {
	a := &Atom{
		StringName: "h",
		Pattern:    []byte{0xDE, 0xAD, 0x00, 0xBE, 0xEF},
		Mask:       []byte{0xFF, 0xFF, 0x00, 0xFF, 0xFF},
		Flags:      FlagHexadecimal,
	}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock([]byte{0xDE, 0xAD, 0xCA, 0xBE, 0xEF})

	if err := scanBlockStriped(idx, block, 2); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches := a.Matches()
	if len(matches) != 1 || matches[0].Offset != 0 || matches[0].Length != 5 {
		t.Fatalf("expected one match at offset 0 length 5, got %+v", matches)
	}
}

// scenario 5 (spec §8): T=4 stripe workers over a 100-byte input
// containing "abc" at offsets 1, 50, 97 must record all three matches
// regardless of which stripe owns which offset.
func TestMatchAllStripesCoverAllOffsets(t *testing.T) {
	data := make([]byte, 100)
	for i := range data {
		data[i] = 'x'
	}
	copy(data[1:], "abc")
	copy(data[50:], "abc")
	copy(data[97:], "abc")

	a := &Atom{StringName: "s", Pattern: []byte("abc"), Flags: FlagASCII}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock(data)

	if err := scanBlockStriped(idx, block, 4); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches := a.Matches()
	if len(matches) != 3 {
		t.Fatalf("expected 3 matches, got %d: %+v", len(matches), matches)
	}
	offsets := []int64{matches[0].Offset, matches[1].Offset, matches[2].Offset}
	want := []int64{1, 50, 97}
	for i, off := range want {
		if offsets[i] != off {
			t.Errorf("expected match %d at offset %d, got %d", i, off, offsets[i])
		}
	}
}

func TestFullwordRejectsMidWordMatch(t *testing.T) {
	a := &Atom{StringName: "f", Pattern: []byte("cat"), Flags: FlagASCII | FlagFullword}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock([]byte("concatenate cat"))

	if err := scanBlockStriped(idx, block, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	matches := a.Matches()
	if len(matches) != 1 {
		t.Fatalf("expected 1 match (the standalone 'cat'), got %d: %+v", len(matches), matches)
	}
	if matches[0].Offset != 12 {
		t.Errorf("expected match at offset 12, got %d", matches[0].Offset)
	}
}

func TestNocaseMatchesEitherCase(t *testing.T) {
	a := &Atom{StringName: "n", Pattern: []byte("Hello"), Flags: FlagASCII | FlagNocase}
	idx := &HashIndex{}
	idx.Build([]*Atom{a})
	block := SingleBlock([]byte("say HELLO now"))

	if err := scanBlockStriped(idx, block, 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.Matches()) != 1 {
		t.Fatalf("expected 1 case-insensitive match, got %d", len(a.Matches()))
	}
}
