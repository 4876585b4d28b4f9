// Package errs defines the sentinel error kinds shared by the parser and
// the scanner (spec §6). Both packages wrap one of these with
// fmt.Errorf("...: %w", ...) to attach positional or identifier context;
// callers compare with errors.Is against the sentinel.
package errs

import "errors"

var (
	ErrInsufficientMemory       = errors.New("insufficient memory")
	ErrDuplicateRuleIdentifier  = errors.New("duplicate rule identifier")
	ErrDuplicateStringIdentifier = errors.New("duplicate string identifier")
	ErrDuplicateTagIdentifier   = errors.New("duplicate tag identifier")
	ErrDuplicateMetaIdentifier  = errors.New("duplicate meta identifier")
	ErrInvalidCharInHexString   = errors.New("invalid character in hex string")
	ErrMismatchedBracket        = errors.New("mismatched bracket")
	ErrSkipAtEnd                = errors.New("skip at end of hex string")
	ErrInvalidSkipValue         = errors.New("invalid skip value")
	ErrUnpairedNibble           = errors.New("unpaired nibble")
	ErrConsecutiveSkips         = errors.New("consecutive skips")
	ErrMisplacedWildcardOrSkip  = errors.New("misplaced wildcard or skip")
	ErrMisplacedOrOperator      = errors.New("misplaced or operator")
	ErrNestedOrOperation        = errors.New("nested or operation")
	ErrInvalidOrOperationSyntax = errors.New("invalid or operation syntax")
	ErrSkipInsideOrOperation    = errors.New("skip inside or operation")
	ErrUndefinedString          = errors.New("undefined string")
	ErrUndefinedIdentifier      = errors.New("undefined identifier")
	ErrUnreferencedString       = errors.New("unreferenced string")
	ErrIncorrectVariableType    = errors.New("incorrect variable type")
	ErrMisplacedAnonymousString = errors.New("misplaced anonymous string")
	ErrInvalidRegularExpression = errors.New("invalid regular expression")
	ErrSyntaxError              = errors.New("syntax error")
	ErrIncludesCircularReference = errors.New("includes circular reference")
	ErrIncludeDepthExceeded     = errors.New("include depth exceeded")
	ErrCallbackError            = errors.New("callback error")
)
