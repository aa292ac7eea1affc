// Package heap implements a linked-list first-fit allocator for the kernel's
// virtual heap region, in the same spirit as the linked_list_allocator crate
// that the original ferricoxide-os implementation wires up as its global
// allocator.
package heap

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/sync"
)

var errOutOfMemory = &kernel.Error{Module: "heap", Message: "heap exhausted"}

// minBlockSize is the smallest free block worth tracking separately; a
// remainder below this after a split is instead handed out along with the
// block that produced it.
const minBlockSize = 32

// freeBlockHeader sits at the start of every block currently on the free
// list.
type freeBlockHeader struct {
	size uintptr
	next uintptr // virtual address of the next free block, or 0
}

// allocHeader sits immediately before the address returned to an allocation
// caller, so Free can recover the true block start and size regardless of
// how much alignment padding Alloc inserted.
type allocHeader struct {
	blockAddr uintptr
	blockSize uintptr
}

const allocHeaderSize = unsafe.Sizeof(allocHeader{})

// Heap is a single contiguous virtual memory region managed as an intrusive
// singly-linked free list. The zero value is not usable; call Init first.
type Heap struct {
	mu sync.Spinlock

	start uintptr
	size  uintptr
	free  uintptr // address of the first free block, or 0 if exhausted
}

// Init registers [start, start+size) as the region this heap manages. The
// entire region starts out as a single free block.
func (h *Heap) Init(start, size uintptr) {
	h.start = start
	h.size = size
	h.free = start

	hdr := (*freeBlockHeader)(unsafe.Pointer(start))
	hdr.size = size
	hdr.next = 0
}

// align rounds addr up to the given power-of-two alignment.
func align(addr, alignment uintptr) uintptr {
	return (addr + alignment - 1) &^ (alignment - 1)
}

// Alloc returns the address of a free block of at least size bytes whose
// start is aligned to alignment (which must be a power of two), or
// errOutOfMemory if the free list holds no block large enough.
func (h *Heap) Alloc(size, alignment uintptr) (uintptr, *kernel.Error) {
	if alignment == 0 {
		alignment = 1
	}

	h.mu.Acquire()
	defer h.mu.Release()

	var prevAddr uintptr
	curAddr := h.free

	for curAddr != 0 {
		cur := (*freeBlockHeader)(unsafe.Pointer(curAddr))

		dataStart := align(curAddr+allocHeaderSize, alignment)
		consumed := dataStart + size - curAddr

		if cur.size >= consumed {
			h.takeBlock(prevAddr, curAddr, cur, consumed)

			hdr := (*allocHeader)(unsafe.Pointer(dataStart - allocHeaderSize))
			hdr.blockAddr = curAddr
			hdr.blockSize = consumed
			return dataStart, nil
		}

		prevAddr = curAddr
		curAddr = cur.next
	}

	return 0, errOutOfMemory
}

// takeBlock removes or shrinks the free block at curAddr to satisfy an
// allocation that consumes the first `consumed` bytes of it, relinking
// prev/next around whatever remains free.
func (h *Heap) takeBlock(prevAddr, curAddr uintptr, cur *freeBlockHeader, consumed uintptr) {
	remainder := cur.size - consumed

	nextFree := cur.next
	if remainder >= minBlockSize {
		tailAddr := curAddr + consumed
		tail := (*freeBlockHeader)(unsafe.Pointer(tailAddr))
		tail.size = remainder
		tail.next = cur.next
		nextFree = tailAddr
	}

	if prevAddr == 0 {
		h.free = nextFree
	} else {
		prev := (*freeBlockHeader)(unsafe.Pointer(prevAddr))
		prev.next = nextFree
	}
}

// Free returns the block backing addr (as previously returned by Alloc) to
// the free list, coalescing with free-list neighbors that turn out to be
// address-adjacent.
func (h *Heap) Free(addr uintptr) {
	hdr := (*allocHeader)(unsafe.Pointer(addr - allocHeaderSize))
	blockAddr, blockSize := hdr.blockAddr, hdr.blockSize

	h.mu.Acquire()
	defer h.mu.Release()

	var prevAddr uintptr
	curAddr := h.free
	for curAddr != 0 && curAddr < blockAddr {
		prevAddr = curAddr
		curAddr = (*freeBlockHeader)(unsafe.Pointer(curAddr)).next
	}

	freed := (*freeBlockHeader)(unsafe.Pointer(blockAddr))
	freed.size = blockSize
	freed.next = curAddr

	if curAddr != 0 && blockAddr+freed.size == curAddr {
		next := (*freeBlockHeader)(unsafe.Pointer(curAddr))
		freed.size += next.size
		freed.next = next.next
	}

	if prevAddr == 0 {
		h.free = blockAddr
		return
	}

	prev := (*freeBlockHeader)(unsafe.Pointer(prevAddr))
	if prevAddr+prev.size == blockAddr {
		prev.size += freed.size
		prev.next = freed.next
	} else {
		prev.next = blockAddr
	}
}

// Available returns the number of bytes currently reachable through the
// free list.
func (h *Heap) Available() uintptr {
	h.mu.Acquire()
	defer h.mu.Release()

	var total uintptr
	for addr := h.free; addr != 0; {
		hdr := (*freeBlockHeader)(unsafe.Pointer(addr))
		total += hdr.size
		addr = hdr.next
	}
	return total
}
