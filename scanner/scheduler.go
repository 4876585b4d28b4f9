package scanner

import "github.com/netshade/rulescan/errs"

// defaultThreadCount is used when ScanOptions.ThreadCount is unset.
const defaultThreadCount = 4

// ScanOptions configures one scan (spec §4.3/§6).
type ScanOptions struct {
	// ThreadCount is T, the number of interleaved stripe workers per
	// block. Defaults to defaultThreadCount when <= 0.
	ThreadCount int

	// IsProcessMemory marks the blocks as process address space rather
	// than a file: is_executable becomes unconditionally true, is_file
	// becomes false, and entrypoint resolution treats offsets as
	// absolute addresses rather than file offsets (spec §6).
	IsProcessMemory bool
}

// ScanMem runs the three-pass protocol (spec §4.5) over a single
// in-memory buffer.
func (c *Context) ScanMem(buf []byte, opts ScanOptions, cb ScanCallback) error {
	return c.ScanBlocks(SingleBlock(buf), opts, cb)
}

// ScanFile mmaps a file and scans it, so large files don't need a full
// read into the Go heap.
func (c *Context) ScanFile(path string, opts ScanOptions, cb ScanCallback) error {
	block, unmap, err := mmapFile(path)
	if err != nil {
		return err
	}
	defer func() { _ = unmap() }()
	return c.ScanBlocks(block, opts, cb)
}

// ScanBlocks runs the three-pass protocol over an already-built block
// list, the entry point for callers that enumerate process memory
// themselves.
func (c *Context) ScanBlocks(blocks *MemoryBlock, opts ScanOptions, cb ScanCallback) error {
	t := opts.ThreadCount
	if t <= 0 {
		t = defaultThreadCount
	}

	c.resetScanState()
	c.lastError = nil

	isFile := !opts.IsProcessMemory
	isExecutable := opts.IsProcessMemory || isExecutableBlock(blocks)
	if v, ok := c.variables["IS_EXECUTABLE"]; ok {
		v.Bool = isExecutable
	}

	fileSize := blocks.TotalSize()

	// Pass 1: preconditions, evaluated against an EvaluationContext with
	// entry_point = 0 and no atom matches yet.
	preEval := &evalContext{ctx: c, blocks: blocks, fileSize: fileSize, hasEntry: true}
	anyRunnable := false
	for _, r := range c.rules {
		if r.precondition == nil {
			anyRunnable = true
			continue
		}
		preEval.rule = r
		matched := evalCondition(r.precondition, preEval)
		if c.lastError != nil {
			return c.lastError
		}
		if !matched {
			r.flags |= RuleFailedPrecondition
			continue
		}
		anyRunnable = true
	}
	if !anyRunnable {
		return nil
	}

	// Pass 2: scan every block, computing entry_point lazily from the
	// first block that yields one.
	var entryPoint int64
	var hasEntry bool
	for block := blocks; block != nil; block = block.Next {
		if !hasEntry {
			if off, ok := entryPointOffset(block); ok {
				entryPoint = off
				hasEntry = true
			}
		}
		if err := c.scanOneBlock(block, t); err != nil {
			return err
		}
	}

	evalCtx := &evalContext{ctx: c, blocks: blocks, fileSize: fileSize, entryPoint: entryPoint, hasEntry: hasEntry}

	// Pass 3: global rules, gating their namespace on failure.
	for _, r := range c.rules {
		if r.flags&RuleGlobal == 0 || r.flags&RuleFailedPrecondition != 0 {
			continue
		}
		evalCtx.rule = r
		matched := evalCondition(r.condition, evalCtx)
		if c.lastError != nil {
			return c.lastError
		}
		if matched {
			r.flags |= RuleMatch
		} else {
			c.namespaceFor(r.namespace).GlobalRulesSatisfied = false
		}
		if r.flags&RulePrivate != 0 {
			continue
		}
		result, err := dispatch(cb, r)
		if err != nil {
			c.lastError = err
			return err
		}
		if result == CallbackAbort {
			return nil
		}
	}

	// Pass 4: ordinary rules, gated by namespace and REQUIRE_EXECUTABLE/FILE.
	for _, r := range c.rules {
		if r.flags&RuleGlobal != 0 || r.flags&RulePrivate != 0 || r.flags&RuleFailedPrecondition != 0 {
			continue
		}
		if !c.namespaceFor(r.namespace).GlobalRulesSatisfied {
			result, err := dispatch(cb, r)
			if err != nil {
				c.lastError = err
				return err
			}
			if result == CallbackAbort {
				return nil
			}
			continue
		}

		runnable := true
		if r.flags&RuleRequireExecutable != 0 && !isExecutable {
			runnable = false
		}
		if r.flags&RuleRequireFile != 0 && !isFile {
			runnable = false
		}
		if runnable {
			evalCtx.rule = r
			matched := evalCondition(r.condition, evalCtx)
			if c.lastError != nil {
				return c.lastError
			}
			if matched {
				r.flags |= RuleMatch
			}
		}

		result, err := dispatch(cb, r)
		if err != nil {
			c.lastError = err
			return err
		}
		if result == CallbackAbort {
			return nil
		}
	}

	return nil
}

func dispatch(cb ScanCallback, r *compiledRule) (CallbackResult, error) {
	mr := buildMatchRule(r)
	switch cb.RuleMatching(mr) {
	case CallbackAbort:
		return CallbackAbort, nil
	case CallbackError:
		return CallbackError, errs.ErrCallbackError
	default:
		return CallbackContinue, nil
	}
}

// scanOneBlock runs the stripe scanner over a block's hash-indexed
// atoms. Regex atoms (explicit REGEXP strings, and HexStrings too
// irregular for compileStringAtoms to fan out) carry no fixed-length
// prefilter key, so the hash index always routes them into the
// residual bucket, where the stripe scanner invokes RegexHandle.Match
// at every byte position (spec §4.1/§4.2) rather than through a
// separate accelerated pass.
func (c *Context) scanOneBlock(block *MemoryBlock, t int) error {
	return scanBlockStriped(&c.index, block, t)
}
