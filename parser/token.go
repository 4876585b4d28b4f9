package parser

// Package parser turns rule source text into an *ast.RuleSet. It is a
// hand-rolled, mode-switching lexer feeding a recursive-descent parser —
// the same architecture the teacher's lexer.go uses (a stack of lexing
// modes driven by section keywords), generalized here to drive a
// self-contained parser instead of a goyacc grammar.

// tokenKind identifies the lexical class of a token.
type tokenKind int

const (
	tEOF tokenKind = iota
	tIdent
	tStringIdent  // $name, $name*, $, or $*
	tStringCount  // #name or #name*
	tStringOffset // @name
	tStringLit    // "quoted"
	tRegexLit     // /pattern/flags
	tIntLit
	tHexByte
	tHexWildcard
	tHexNibble
	tHexJumpBody // raw "[...]" text, consumed whole by the hex-string lexer
	tHexAlt      // raw "(...)" alternation text
	tPunct       // operators and delimiters; val holds the literal
	tKeyword     // reserved words; val holds the lowercase word
)

// token is a single lexical unit with its source position for error
// reporting.
type token struct {
	kind tokenKind
	val  string
	num  int64
	byt  byte
	line int
}

var keywords = map[string]bool{
	"rule": true, "global": true, "private": true, "meta": true,
	"strings": true, "condition": true, "true": true, "false": true,
	"and": true, "or": true, "not": true, "of": true, "for": true,
	"in": true, "at": true, "any": true, "all": true, "them": true,
	"filesize": true, "entrypoint": true, "import": true,
}

var stringModifierWords = map[string]bool{
	"ascii": true, "wide": true, "nocase": true, "fullword": true,
	"private": true, "base64": true, "base64wide": true, "xor": true,
}
