package vmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
)

// FrameAllocator is implemented by physical frame allocators that the mapper
// can draw from when it needs to materialize an intermediate paging
// structure or back a freshly mapped page.
type FrameAllocator interface {
	Allocate() (pmm.Frame, *kernel.Error)
	Deallocate(pmm.Frame)
}

var (
	// flushTLBEntryFn is swapped out by tests so they don't have to execute
	// a privileged invlpg instruction.
	flushTLBEntryFn = cpu.FlushTLBEntry
)

// Translate walks the active page tables for virtAddr and returns the
// physical address it maps to. Huge (2 MiB/1 GiB) entries installed by the
// prekernel loader are recognized but the mapper never creates new ones.
func Translate(virtAddr uintptr) (uintptr, *kernel.Error) {
	assertCanonical(virtAddr)
	page := PageFromAddress(virtAddr)

	pml4e := entryAt(pml4Addr, page.pml4Index())
	if pml4e.IsUnused() {
		return 0, errInvalidMapping
	}

	pdptTable := pdptTableAddr(page.pml4Index())
	pdpte := entryAt(pdptTable, page.pdptIndex())
	if pdpte.IsUnused() {
		return 0, errInvalidMapping
	}
	if pdpte.HasFlags(FlagHugePage) {
		frame := pdpte.Frame()
		return frame.Address() + (page.pdtIndex()*entriesPerTable+page.ptIndex())*uintptr(mem.PageSize) + PageOffset(virtAddr), nil
	}

	pdtTable := pdtTableAddr(page.pml4Index(), page.pdptIndex())
	pdte := entryAt(pdtTable, page.pdtIndex())
	if pdte.IsUnused() {
		return 0, errInvalidMapping
	}
	if pdte.HasFlags(FlagHugePage) {
		frame := pdte.Frame()
		return frame.Address() + page.ptIndex()*uintptr(mem.PageSize) + PageOffset(virtAddr), nil
	}

	ptTable := ptTableAddr(page.pml4Index(), page.pdptIndex(), page.pdtIndex())
	pte := entryAt(ptTable, page.ptIndex())
	if pte.IsUnused() {
		return 0, errInvalidMapping
	}

	return pte.Frame().Address() + PageOffset(virtAddr), nil
}

// ensureTable returns the address of the next-level table reachable through
// parentTableAddr[index], allocating and zeroing a fresh frame for it if the
// entry is not yet present.
func ensureTable(parentTableAddr, index uintptr, childTableAddr uintptr, alloc FrameAllocator) *kernel.Error {
	entry := entryAt(parentTableAddr, index)
	if entry.HasFlags(FlagHugePage) {
		return errHugePageUnsupported
	}

	if !entry.HasFlags(FlagPresent) {
		frame, err := alloc.Allocate()
		if err != nil {
			return err
		}

		entry.SetUnused()
		entry.SetFrame(frame)
		entry.SetFlags(FlagPresent | FlagRW)

		zeroTable(childTableAddr)
	}

	return nil
}

// MapTo establishes a mapping between page and frame in the active address
// space, allocating any missing intermediate paging structures from alloc.
// It asserts that the final P1 slot was unused before the call.
func MapTo(page Page, frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocator) *kernel.Error {
	pml4Idx, pdptIdx, pdtIdx, ptIdx := page.pml4Index(), page.pdptIndex(), page.pdtIndex(), page.ptIndex()

	if err := ensureTable(pml4Addr, pml4Idx, pdptTableAddr(pml4Idx), alloc); err != nil {
		return err
	}
	if err := ensureTable(pdptTableAddr(pml4Idx), pdptIdx, pdtTableAddr(pml4Idx, pdptIdx), alloc); err != nil {
		return err
	}
	if err := ensureTable(pdtTableAddr(pml4Idx, pdptIdx), pdtIdx, ptTableAddr(pml4Idx, pdptIdx, pdtIdx), alloc); err != nil {
		return err
	}

	pte := entryAt(ptTableAddr(pml4Idx, pdptIdx, pdtIdx), ptIdx)
	if !pte.IsUnused() {
		return errAlreadyMapped
	}

	pte.SetFrame(frame)
	pte.SetFlags(flags | FlagPresent)
	flushTLBEntryFn(page.Address())

	return nil
}

// Map allocates a fresh frame from alloc and maps it at page.
func Map(page Page, flags PageTableEntryFlag, alloc FrameAllocator) *kernel.Error {
	frame, err := alloc.Allocate()
	if err != nil {
		return err
	}

	return MapTo(page, frame, flags, alloc)
}

// IdentityMap maps frame at the page whose number equals the frame number.
func IdentityMap(frame pmm.Frame, flags PageTableEntryFlag, alloc FrameAllocator) *kernel.Error {
	return MapTo(PageFromAddress(frame.Address()), frame, flags, alloc)
}

// IdentityMapRegion identity-maps every frame intersecting
// [frame.Address(), frame.Address()+size) and returns the Page corresponding
// to the region start.
func IdentityMapRegion(startFrame pmm.Frame, size uintptr, flags PageTableEntryFlag, alloc FrameAllocator) (Page, *kernel.Error) {
	pageCount := (size + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)

	startPage := PageFromAddress(startFrame.Address())
	for i := uintptr(0); i < pageCount; i++ {
		frame := pmm.Frame(uintptr(startFrame) + i)
		page := Page(uintptr(startPage) + i)

		if _, err := Translate(page.Address()); err == nil {
			continue
		}

		if err := MapTo(page, frame, flags, alloc); err != nil {
			return 0, err
		}
	}

	return startPage, nil
}

// MapRange maps size bytes starting at physAddr to a contiguous virtual
// range starting at virtAddr, rounding size up to a page boundary. It
// returns the first virtual address past the mapped range.
func MapRange(virtAddr, physAddr, size uintptr, flags PageTableEntryFlag, alloc FrameAllocator) (uintptr, *kernel.Error) {
	pageCount := (size + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)

	startPage := PageFromAddress(virtAddr)
	startFrame := pmm.FrameFromAddress(physAddr)
	for i := uintptr(0); i < pageCount; i++ {
		page := Page(uintptr(startPage) + i)
		frame := pmm.Frame(uintptr(startFrame) + i)
		if err := MapTo(page, frame, flags, alloc); err != nil {
			return 0, err
		}
	}

	return startPage.Address() + pageCount*uintptr(mem.PageSize), nil
}

// MapVirtualRange maps size bytes starting at virtAddr to freshly allocated,
// individually sourced frames (unlike MapRange, which maps onto an existing
// contiguous physical range). It is used to back the kernel heap, where the
// backing frames need not be contiguous.
func MapVirtualRange(virtAddr, size uintptr, flags PageTableEntryFlag, alloc FrameAllocator) *kernel.Error {
	pageCount := (size + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)

	startPage := PageFromAddress(virtAddr)
	for i := uintptr(0); i < pageCount; i++ {
		page := Page(uintptr(startPage) + i)
		if err := Map(page, flags, alloc); err != nil {
			return err
		}
	}

	return nil
}

// Unmap clears the mapping for page, returning its frame to alloc and
// flushing the stale TLB entry. It returns errInvalidMapping if page is not
// mapped.
func Unmap(page Page, alloc FrameAllocator) *kernel.Error {
	if _, err := Translate(page.Address()); err != nil {
		return err
	}

	pte := entryAt(ptTableAddr(page.pml4Index(), page.pdptIndex(), page.pdtIndex()), page.ptIndex())
	frame := pte.Frame()
	pte.SetUnused()

	alloc.Deallocate(frame)
	flushTLBEntryFn(page.Address())

	return nil
}
