package scanner

// HashIndex is the prefilter hash index (spec §4.1): two tables keyed by
// the first one and first two concrete bytes of a literal atom, plus a
// residual bucket for atoms that cannot be hashed (first byte wildcarded,
// a regex, or a NOCASE atom, whose leading bytes may appear in either
// case). AddRuleSet builds it when rules are compiled; it is not built at
// scan time.
type HashIndex struct {
	buckets2b [256][256][]*Atom
	buckets1b [256][]*Atom
	residual  []*Atom
	populated bool
}

// Build inserts every atom into the appropriate bucket. It is idempotent:
// calling it again after populated is already true is a no-op until Reset
// is called.
func (h *HashIndex) Build(atoms []*Atom) {
	if h.populated {
		return
	}
	for _, a := range atoms {
		h.insert(a)
	}
	h.populated = true
}

func (h *HashIndex) insert(a *Atom) {
	if a.Flags.Has(FlagRegexp) || a.Flags.Has(FlagNocase) || len(a.Pattern) == 0 {
		h.residual = append(h.residual, a)
		return
	}

	b0Concrete := a.Mask == nil || a.Mask[0] == 0xFF
	if !b0Concrete {
		h.residual = append(h.residual, a)
		return
	}
	b0 := a.Pattern[0]

	b1Concrete := len(a.Pattern) > 1 && (a.Mask == nil || a.Mask[1] == 0xFF)
	if b1Concrete {
		b1 := a.Pattern[1]
		h.buckets2b[b0][b1] = append(h.buckets2b[b0][b1], a)
		return
	}

	h.buckets1b[b0] = append(h.buckets1b[b0], a)
}

// Reset clears the populated flag and all buckets. AddRuleSet calls it
// before rebuilding the index over every rule compiled so far.
func (h *HashIndex) Reset() {
	*h = HashIndex{}
}
