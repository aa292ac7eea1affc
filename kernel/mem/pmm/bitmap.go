package pmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem"
	"github.com/mdgaziur/ferricoxide-os/kernel/sync"
)

// bitsPerWord is the number of frames tracked by a single bitmap word.
const bitsPerWord = 64

var (
	errOutOfMemory      = &kernel.Error{Module: "pmm", Message: "no more physical frames available"}
	errDoubleFree       = &kernel.Error{Module: "pmm", Message: "frame was already free"}
	errFrameOutOfBounds = &kernel.Error{Module: "pmm", Message: "frame index exceeds the tracked address space"}
)

// BitmapFrameAllocator tracks the allocation state of every frame in a fixed
// mem.AddressSpaceSize window using a single flat bitmap, one bit per frame.
// A set bit means the frame is in use (or permanently reserved); a clear bit
// means it is free. All public methods are safe for concurrent use.
type BitmapFrameAllocator struct {
	mu sync.Spinlock

	bitmap []uint64

	// totalFrames is the number of frames tracked by bitmap.
	totalFrames uint64

	// freeFrames is the number of frames that are currently unset.
	freeFrames uint64

	// nextFreeHint speeds up allocation by remembering the last word index
	// known to contain a free bit.
	nextFreeHint uint64
}

// Init prepares alloc to track mem.FrameCount frames backed by storage, zeroes
// every bit to "free" and then reserves the regions that must never be
// handed out: the first megabyte, everything the bootloader marked as
// non-available in the Multiboot2 memory map, the ELF sections of the
// loaded kernel image, the framebuffer (if any) and the Multiboot2
// information structure itself.
//
// storage must contain at least mem.FrameCount/bitsPerWord words; it is
// supplied by the caller (the MM bootstrap passes a fixed-size array that
// lives in the kernel's BSS) since the allocator cannot allocate its own
// bitmap storage before it exists.
func (a *BitmapFrameAllocator) Init(storage []uint64, multibootInfoAddr uintptr, multibootInfoSize uintptr) {
	a.bitmap = storage
	for i := range a.bitmap {
		a.bitmap[i] = 0
	}
	a.totalFrames = uint64(mem.FrameCount)
	a.freeFrames = a.totalFrames

	a.reserveRange(0, uint64(mem.Mb))

	multiboot.VisitMemRegions(func(entry *multiboot.MemoryMapEntry) bool {
		if entry.Type != multiboot.MemAvailable {
			a.reserveRange(entry.PhysAddress, entry.PhysAddress+entry.Length)
		}
		return true
	})

	multiboot.VisitElfSections(func(name string, flags multiboot.ElfSectionFlag, address uintptr, size uint64) {
		if flags&multiboot.ElfSectionAllocated != 0 {
			a.reserveRange(uint64(address), uint64(address)+size)
		}
	})

	if fbInfo := multiboot.GetFramebufferInfo(); fbInfo != nil {
		fbSize := uint64(fbInfo.Pitch) * uint64(fbInfo.Height)
		a.reserveRange(fbInfo.PhysAddr, fbInfo.PhysAddr+fbSize)
	}

	a.reserveRange(uint64(multibootInfoAddr), uint64(multibootInfoAddr)+uint64(multibootInfoSize))
}

// ReserveRegion marks every frame intersecting [start, end) as in-use. It is
// exported so callers outside this package (e.g. the MM bootstrap sequence)
// can reserve additional regions, such as the staged kernel content buffer,
// after Init has already run.
func (a *BitmapFrameAllocator) ReserveRegion(start, end uintptr) {
	a.mu.Acquire()
	defer a.mu.Release()

	a.reserveRange(uint64(start), uint64(end))
}

// reserveRange sets every bit between the frames containing [start, end),
// rounding start down and end up to frame boundaries. Bits that are already
// set are left untouched and do not affect freeFrames twice. Callers must
// hold a.mu or call this only before the allocator is shared across tasks
// (as Init does).
func (a *BitmapFrameAllocator) reserveRange(start, end uint64) {
	if end <= start {
		return
	}

	firstFrame := start / uint64(mem.PageSize)
	lastFrame := (end - 1) / uint64(mem.PageSize)

	for f := firstFrame; f <= lastFrame && f < a.totalFrames; f++ {
		if a.setBit(f) {
			a.freeFrames--
		}
	}
}

// setBit sets the bit for frame f and returns true if it was previously
// clear.
func (a *BitmapFrameAllocator) setBit(f uint64) bool {
	word, mask := f/bitsPerWord, uint64(1)<<(f%bitsPerWord)
	wasFree := a.bitmap[word]&mask == 0
	a.bitmap[word] |= mask
	return wasFree
}

// clearBit clears the bit for frame f and returns true if it was previously
// set.
func (a *BitmapFrameAllocator) clearBit(f uint64) bool {
	word, mask := f/bitsPerWord, uint64(1)<<(f%bitsPerWord)
	wasSet := a.bitmap[word]&mask != 0
	a.bitmap[word] &^= mask
	return wasSet
}

// Allocate reserves and returns the first free frame it finds, or
// errOutOfMemory if none remain.
func (a *BitmapFrameAllocator) Allocate() (Frame, *kernel.Error) {
	a.mu.Acquire()
	defer a.mu.Release()

	wordCount := uint64(len(a.bitmap))
	for i := uint64(0); i < wordCount; i++ {
		wordIdx := (a.nextFreeHint + i) % wordCount
		word := a.bitmap[wordIdx]
		if word == ^uint64(0) {
			continue
		}

		for bit := uint64(0); bit < bitsPerWord; bit++ {
			frameIdx := wordIdx*bitsPerWord + bit
			if frameIdx >= a.totalFrames {
				break
			}

			if word&(1<<bit) == 0 {
				a.bitmap[wordIdx] |= 1 << bit
				a.freeFrames--
				a.nextFreeHint = wordIdx
				return Frame(frameIdx), nil
			}
		}
	}

	return InvalidFrame, errOutOfMemory
}

// Deallocate returns frame to the free pool. Deallocating a frame that is
// out of bounds or already free is a programming error and panics, matching
// the teacher's convention of treating allocator invariant violations as
// unrecoverable rather than silently ignoring them.
func (a *BitmapFrameAllocator) Deallocate(frame Frame) {
	a.mu.Acquire()
	defer a.mu.Release()

	f := uint64(frame)
	if f >= a.totalFrames {
		panic(errFrameOutOfBounds)
	}

	if !a.clearBit(f) {
		panic(errDoubleFree)
	}

	a.freeFrames++
	if hint := f / bitsPerWord; hint < a.nextFreeHint {
		a.nextFreeHint = hint
	}
}

// TotalMemory returns the total number of bytes tracked by the allocator.
func (a *BitmapFrameAllocator) TotalMemory() mem.Size {
	return mem.Size(a.totalFrames) * mem.PageSize
}

// AvailableMemory returns the number of bytes currently free.
func (a *BitmapFrameAllocator) AvailableMemory() mem.Size {
	a.mu.Acquire()
	defer a.mu.Release()

	return mem.Size(a.freeFrames) * mem.PageSize
}
