package scanner

import "sync"

// scanBlockStriped partitions positions 0..len(data)-2 of a block into T
// interleaved stripes (i mod T) and runs one worker per stripe (spec
// §4.3). Workers share the block and the hash index read-only; only
// atom match-list appends are synchronized, inside matchAtPosition via
// each Atom's own lock. Workers are joined before the caller advances to
// the next block.
func scanBlockStriped(idx *HashIndex, block *MemoryBlock, t int) error {
	n := len(block.Data)
	if n < 1 {
		return nil
	}
	if t < 1 {
		t = 1
	}

	var wg sync.WaitGroup
	errs := make([]error, t)
	for w := 0; w < t; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := w; i < n-1; i += t {
				if err := matchAtPosition(idx, block, i); err != nil {
					errs[w] = err
					return
				}
			}
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
