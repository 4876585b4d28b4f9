package scanner

import (
	"os"

	"golang.org/x/sys/unix"
)

// MemoryBlock is one entry in the singly-linked block list the core
// consumes (spec §6). Blocks are disjoint and need not be contiguous;
// the scheduler borrows the list for the duration of a scan.
type MemoryBlock struct {
	Base int64
	Data []byte
	Next *MemoryBlock
}

// TotalSize sums the size of every block in the list, for the
// "filesize" expression (spec §4.4).
func (b *MemoryBlock) TotalSize() int64 {
	var total int64
	for cur := b; cur != nil; cur = cur.Next {
		total += int64(len(cur.Data))
	}
	return total
}

// ByteAt resolves an absolute offset to the block that covers it and the
// in-block index, for uintN() byte-access expressions which may read
// from any block in the list (spec §4.4).
func (b *MemoryBlock) ByteAt(offset int64) (block *MemoryBlock, idx int, ok bool) {
	for cur := b; cur != nil; cur = cur.Next {
		size := int64(len(cur.Data))
		if offset >= cur.Base && offset < cur.Base+size {
			return cur, int(offset - cur.Base), true
		}
	}
	return nil, 0, false
}

// SingleBlock wraps one in-memory buffer as a one-element block list,
// the form used by ScanMem and by tests that exercise the scheduler
// directly without a file.
func SingleBlock(data []byte) *MemoryBlock {
	return &MemoryBlock{Base: 0, Data: data}
}

// mmapFile maps a file read-only and returns it as a single block plus
// the unmap function the caller must defer. Used by ScanFile so large
// files are scanned without a full read into the Go heap.
func mmapFile(path string) (*MemoryBlock, func() error, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer func() { _ = f.Close() }()

	fi, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	size := fi.Size()
	if size == 0 {
		return SingleBlock(nil), func() error { return nil }, nil
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return SingleBlock(data), func() error { return unix.Munmap(data) }, nil
}
