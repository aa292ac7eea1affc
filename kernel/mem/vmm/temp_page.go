package vmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
)

// threeFrameAllocator is a fixed 3-slot scratch FrameAllocator. TemporaryPage
// pre-allocates its frames from the global allocator before entering a
// with() critical section, so editing an inactive address space never needs
// to reacquire the global allocator's lock.
type threeFrameAllocator [3]pmm.Frame

func newThreeFrameAllocator(alloc FrameAllocator) (*threeFrameAllocator, *kernel.Error) {
	var tfa threeFrameAllocator
	for i := range tfa {
		frame, err := alloc.Allocate()
		if err != nil {
			return nil, err
		}
		tfa[i] = frame
	}

	return &tfa, nil
}

// Allocate implements FrameAllocator.
func (tfa *threeFrameAllocator) Allocate() (pmm.Frame, *kernel.Error) {
	for i, frame := range tfa {
		if frame.Valid() {
			tfa[i] = pmm.InvalidFrame
			return frame, nil
		}
	}

	return pmm.InvalidFrame, errOutOfMemory
}

// Deallocate implements FrameAllocator.
func (tfa *threeFrameAllocator) Deallocate(frame pmm.Frame) {
	for i, slot := range tfa {
		if !slot.Valid() {
			tfa[i] = frame
			return
		}
	}
}

// TemporaryPage is a scratch virtual page that can be pointed at an
// arbitrary physical frame so its contents can be read or written without
// requiring it to already be part of the active address space. It is used
// while constructing a fresh InactivePML4 and while With() edits one.
type TemporaryPage struct {
	page  Page
	alloc *threeFrameAllocator
}

// NewTemporaryPage reserves page as scratch space, pre-allocating the three
// frames its own mapping may need from alloc.
func NewTemporaryPage(page Page, alloc FrameAllocator) (*TemporaryPage, *kernel.Error) {
	tfa, err := newThreeFrameAllocator(alloc)
	if err != nil {
		return nil, err
	}

	return &TemporaryPage{page: page, alloc: tfa}, nil
}

// Map points the temporary page at frame and returns its virtual address.
func (tp *TemporaryPage) Map(frame pmm.Frame) (uintptr, *kernel.Error) {
	if _, err := Translate(tp.page.Address()); err == nil {
		panic(errTempPageAlreadyMapped)
	}

	if err := MapTo(tp.page, frame, FlagRW, tp.alloc); err != nil {
		return 0, err
	}

	return tp.page.Address(), nil
}

// MapTableFrame maps frame through the temporary page and returns its
// address interpreted as the base of a 512-entry paging structure.
func (tp *TemporaryPage) MapTableFrame(frame pmm.Frame) (uintptr, *kernel.Error) {
	return tp.Map(frame)
}

// Unmap removes the temporary page's mapping, returning its frame to the
// scratch allocator.
func (tp *TemporaryPage) Unmap() *kernel.Error {
	return Unmap(tp.page, tp.alloc)
}
