package scanner

// matchAtPosition implements the string matcher (spec §4.2) at one byte
// offset of one block: it tests every candidate atom in the relevant
// hash buckets, and appends a Match to each atom that fully matches.
func matchAtPosition(idx *HashIndex, block *MemoryBlock, i int) error {
	data := block.Data
	b0 := data[i]

	for _, a := range idx.buckets2b[b0][nextByte(data, i+1)] {
		tryMatch(a, block, i)
	}
	for _, a := range idx.buckets1b[b0] {
		tryMatch(a, block, i)
	}
	for _, a := range idx.residual {
		tryResidualMatch(a, block, i)
	}

	// Wide detection: an ASCII-interleaved zero byte after b0, and
	// another after the would-be third UTF-16LE-like byte.
	if i+3 < len(data) && data[i+1] == 0 && data[i+3] == 0 {
		bw := data[i+2]
		for _, a := range idx.buckets2b[b0][bw] {
			if a.Flags.Has(FlagWide) {
				tryMatch(a, block, i)
			}
		}
		for _, a := range idx.buckets1b[b0] {
			if a.Flags.Has(FlagWide) {
				tryMatch(a, block, i)
			}
		}
	}
	return nil
}

func nextByte(data []byte, i int) byte {
	if i >= len(data) {
		return 0
	}
	return data[i]
}

func tryMatch(a *Atom, block *MemoryBlock, i int) {
	if a.Flags.Has(FlagRegexp) {
		return
	}
	if a.Flags.Has(FlagWide) {
		if n, ok := fullMatchWideAt(a, block.Data, i); ok {
			recordMatch(a, block, i, n)
		}
		return
	}
	if n, ok := fullMatchAt(a, block.Data, i); ok {
		recordMatch(a, block, i, n)
	}
}

func tryResidualMatch(a *Atom, block *MemoryBlock, i int) {
	if !a.Flags.Has(FlagRegexp) || a.RegexHandle == nil {
		// A residual non-regex atom (first byte wildcarded, or NOCASE)
		// still needs the generic comparator, just without a bucket key
		// to prune on.
		if a.Flags.Has(FlagWide) {
			if n, ok := fullMatchWideAt(a, block.Data, i); ok {
				recordMatch(a, block, i, n)
			}
			return
		}
		if n, ok := fullMatchAt(a, block.Data, i); ok {
			recordMatch(a, block, i, n)
		}
		return
	}
	n := a.RegexHandle.Match(block.Data[i:])
	if n > 0 {
		recordMatch(a, block, i, n)
	}
}

func recordMatch(a *Atom, block *MemoryBlock, i, length int) {
	if a.Flags.Has(FlagFullword) && !checkWordBoundary(block.Data, i, i+length) {
		return
	}
	data := make([]byte, length)
	copy(data, block.Data[i:i+length])
	a.AddMatch(Match{Offset: block.Base + int64(i), Length: length, Data: data})
}

// fullMatchAt tests an ASCII or HEX atom at data[i:]: for every pattern
// byte p_k with mask m_k (default 0xFF), data[i+k]&m_k == p_k&m_k. NOCASE
// folds both sides on unmasked positions before comparing.
func fullMatchAt(a *Atom, data []byte, i int) (int, bool) {
	n := len(a.Pattern)
	if i+n > len(data) {
		return 0, false
	}
	nocase := a.Flags.Has(FlagNocase)
	for k := 0; k < n; k++ {
		mask := byte(0xFF)
		if a.Mask != nil {
			mask = a.Mask[k]
		}
		want := a.Pattern[k] & mask
		got := data[i+k] & mask
		if nocase {
			want = foldByte(a.Pattern[k]) & mask
			got = foldByte(data[i+k]) & mask
		}
		if got != want {
			return 0, false
		}
	}
	return n, true
}

// fullMatchWideAt tests a WIDE atom: each pattern byte is read at
// data[i+2k] and requires data[i+2k+1] == 0. The reported match length
// is 2 * pattern length.
func fullMatchWideAt(a *Atom, data []byte, i int) (int, bool) {
	n := len(a.Pattern)
	end := i + 2*n
	if end > len(data) {
		return 0, false
	}
	nocase := a.Flags.Has(FlagNocase)
	for k := 0; k < n; k++ {
		if data[i+2*k+1] != 0 {
			return 0, false
		}
		mask := byte(0xFF)
		if a.Mask != nil {
			mask = a.Mask[k]
		}
		want := a.Pattern[k] & mask
		got := data[i+2*k] & mask
		if nocase {
			want = foldByte(a.Pattern[k]) & mask
			got = foldByte(data[i+2*k]) & mask
		}
		if got != want {
			return 0, false
		}
	}
	return 2 * n, true
}

func foldByte(b byte) byte {
	if b >= 'A' && b <= 'Z' {
		return b + ('a' - 'A')
	}
	return b
}

func isWordChar(b byte) bool {
	return (b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9') ||
		b == '_'
}

// checkWordBoundary implements FULLWORD (spec §4.2): the bytes
// immediately before and after the match must not be word characters,
// with virtual boundaries at block edges.
func checkWordBoundary(buf []byte, start, end int) bool {
	if start > 0 && isWordChar(buf[start-1]) {
		return false
	}
	if end < len(buf) && isWordChar(buf[end]) {
		return false
	}
	return true
}
