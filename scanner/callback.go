package scanner

// CallbackResult is the tri-state the callback returns after a rule is
// reported (spec §6).
type CallbackResult int

const (
	CallbackContinue CallbackResult = iota
	CallbackAbort
	CallbackError
)

// ScanCallback receives one notification per non-private rule, in
// rule-list insertion order, global rules before ordinary rules (spec
// §6, P6).
type ScanCallback interface {
	RuleMatching(r *MatchRule) CallbackResult
}

// MatchString is a single recorded atom match, named after the string
// identifier that produced it.
type MatchString struct {
	Name   string
	Offset int64
	Data   []byte
}

// MatchRule is the read-only view of a compiled rule the callback
// receives: identifier, namespace, tags, metadata, flags, and every
// atom's matches (spec §6).
type MatchRule struct {
	Rule      string
	Namespace string
	Tags      []string
	Metas     []Meta
	Flags     RuleFlags
	Strings   []MatchString
}

// Matched reports whether the MATCH flag is set.
func (m *MatchRule) Matched() bool { return m.Flags&RuleMatch != 0 }

// Meta returns the value of the meta field with the given identifier, or nil.
func (m *MatchRule) Meta(identifier string) any {
	for _, meta := range m.Metas {
		if meta.Identifier == identifier {
			return meta.Value
		}
	}
	return nil
}

// MetaString returns the string value of the meta field, or defValue if missing or not a string.
func (m *MatchRule) MetaString(identifier, defValue string) string {
	if val, ok := m.Meta(identifier).(string); ok {
		return val
	}
	return defValue
}

// MatchRules collects every callback invocation and implements
// ScanCallback, the simplest way to drive a scan when the caller just
// wants the final rule set rather than to react mid-scan.
type MatchRules []MatchRule

func (m *MatchRules) RuleMatching(r *MatchRule) CallbackResult {
	*m = append(*m, *r)
	return CallbackContinue
}

func buildMatchRule(cr *compiledRule) *MatchRule {
	mr := &MatchRule{
		Rule:      cr.name,
		Namespace: cr.namespace,
		Tags:      cr.tags,
		Metas:     cr.metas,
		Flags:     cr.flags,
	}
	for _, a := range cr.atoms {
		for _, m := range a.Matches() {
			mr.Strings = append(mr.Strings, MatchString{Name: a.StringName, Offset: m.Offset, Data: m.Data})
		}
	}
	return mr
}
