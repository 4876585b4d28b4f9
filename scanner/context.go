package scanner

import (
	"github.com/netshade/rulescan/ast"
)

// RuleFlags mirrors the rule-level bit set from spec §6.
type RuleFlags uint8

const (
	RuleGlobal RuleFlags = 1 << iota
	RulePrivate
	RuleRequireExecutable
	RuleRequireFile
	RuleMatch
	RuleFailedPrecondition
)

// Meta is a single key/value pair from a rule's meta section.
type Meta struct {
	Identifier string
	Value      any
}

// compiledRule is the runtime form of one ast.Rule: its condition and
// precondition trees, its atoms (owned uniquely by the rule, per spec
// §3's ownership model), and its per-scan flags.
type compiledRule struct {
	name         string
	namespace    string
	tags         []string
	metas        []Meta
	atoms        []*Atom // owned; indexed by stringName for evalContext lookups
	atomsByName  map[string][]*Atom
	condition    ast.Expr
	precondition ast.Expr
	flags        RuleFlags
}

// Namespace groups rules sharing a global-rule gate (spec §3).
type Namespace struct {
	Name                 string
	GlobalRulesSatisfied bool
}

// VariableKind distinguishes the three external-variable variants.
type VariableKind int

const (
	VarInteger VariableKind = iota
	VarBoolean
	VarString
)

// Variable is a host-supplied external variable (spec §3).
type Variable struct {
	Kind VariableKind
	Int  int64
	Bool bool
	Str  string
}

// Context owns everything the spec assigns to context lifecycle (§4.6):
// the rule list, namespaces, external variables, the hash index, and the
// last scan error. It is produced by Compile/CompileWithOptions and
// reused across scans; ScanMem/ScanFile clear per-scan state (flags,
// atom matches) at the start of every call (I5).
type Context struct {
	rules      []*compiledRule
	namespaces map[string]*Namespace
	variables  map[string]*Variable
	index      HashIndex
	lastError  error

	regexPatterns []*regexPattern // residual regex atoms with their compiled handle
}

// NewContext creates an empty context with a "default" namespace and the
// two predefined variables FILE_PATH and IS_EXECUTABLE (spec §4.6).
func NewContext() *Context {
	c := &Context{
		namespaces: map[string]*Namespace{
			"default": {Name: "default", GlobalRulesSatisfied: true},
		},
		variables: map[string]*Variable{
			"FILE_PATH":     {Kind: VarString, Str: ""},
			"IS_EXECUTABLE": {Kind: VarBoolean, Bool: false},
		},
	}
	return c
}

// DefineVariable sets (or overwrites) an external variable.
func (c *Context) DefineVariable(name string, v Variable) {
	c.variables[name] = &v
}

// UndefineVariable removes an external variable, reverting identifier
// lookups for that name to tag/rule-reference resolution.
func (c *Context) UndefineVariable(name string) {
	delete(c.variables, name)
}

// LastError returns the most recent scan error, or nil.
func (c *Context) LastError() error { return c.lastError }

// NumRules returns the number of compiled rules.
func (c *Context) NumRules() int { return len(c.rules) }

func (c *Context) namespaceFor(name string) *Namespace {
	ns, ok := c.namespaces[name]
	if !ok {
		ns = &Namespace{Name: name, GlobalRulesSatisfied: true}
		c.namespaces[name] = ns
	}
	return ns
}

func (c *Context) resetScanState() {
	for _, ns := range c.namespaces {
		ns.GlobalRulesSatisfied = true
	}
	for _, r := range c.rules {
		r.flags &^= RuleMatch | RuleFailedPrecondition
		for _, a := range r.atoms {
			a.ClearMatches()
		}
	}
}
