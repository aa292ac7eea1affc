package vmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
	"testing"
	"unsafe"
)

// fakeAllocator hands out monotonically increasing frame numbers starting at
// base and records every frame passed to Deallocate.
type fakeAllocator struct {
	next        pmm.Frame
	deallocated []pmm.Frame
}

func (a *fakeAllocator) Allocate() (pmm.Frame, *kernel.Error) {
	f := a.next
	a.next++
	return f, nil
}

func (a *fakeAllocator) Deallocate(f pmm.Frame) {
	a.deallocated = append(a.deallocated, f)
}

// withMockTables wires entryPtrFn so that the four table addresses reachable
// from page (PML4, PDPT, PDT, PT) resolve to in-process backing arrays
// instead of genuine (and undereferenceable outside a real MMU) recursive
// addresses, then restores the original hooks once the test completes.
func withMockTables(t *testing.T, page Page) (pml4, pdpt, pdt, pt *[entriesPerTable]pageTableEntry) {
	t.Helper()

	pml4 = &[entriesPerTable]pageTableEntry{}
	pdpt = &[entriesPerTable]pageTableEntry{}
	pdt = &[entriesPerTable]pageTableEntry{}
	pt = &[entriesPerTable]pageTableEntry{}

	pdptAddr := pdptTableAddr(page.pml4Index())
	pdtAddr := pdtTableAddr(page.pml4Index(), page.pdptIndex())
	ptAddr := ptTableAddr(page.pml4Index(), page.pdptIndex(), page.pdtIndex())

	origEntryPtrFn := entryPtrFn
	origFlushFn := flushTLBEntryFn
	t.Cleanup(func() {
		entryPtrFn = origEntryPtrFn
		flushTLBEntryFn = origFlushFn
	})

	entryPtrFn = func(tableAddr, index uintptr) unsafe.Pointer {
		switch tableAddr {
		case pml4Addr:
			return unsafe.Pointer(&pml4[index])
		case pdptAddr:
			return unsafe.Pointer(&pdpt[index])
		case pdtAddr:
			return unsafe.Pointer(&pdt[index])
		case ptAddr:
			return unsafe.Pointer(&pt[index])
		default:
			t.Fatalf("unexpected table address %#x in test", tableAddr)
			return nil
		}
	}
	flushTLBEntryFn = func(uintptr) {}

	return pml4, pdpt, pdt, pt
}

func TestMapToTranslateUnmap(t *testing.T) {
	page := PageFromAddress(0xffff_ffff_8000_0000)
	_, _, _, pt := withMockTables(t, page)

	alloc := &fakeAllocator{next: 100}
	targetFrame := pmm.Frame(42)

	if err := MapTo(page, targetFrame, FlagPresent, alloc); err != nil {
		t.Fatalf("MapTo failed: %s", err)
	}

	virt := page.Address() + 0x234
	got, err := Translate(virt)
	if err != nil {
		t.Fatalf("Translate failed: %s", err)
	}
	if exp := targetFrame.Address() + 0x234; got != exp {
		t.Fatalf("expected translated address %#x; got %#x", exp, got)
	}

	// Mapping the same page again without unmapping first must fail.
	if err := MapTo(page, targetFrame, FlagPresent, alloc); err != errAlreadyMapped {
		t.Fatalf("expected errAlreadyMapped on double map; got %v", err)
	}

	if err := Unmap(page, alloc); err != nil {
		t.Fatalf("Unmap failed: %s", err)
	}

	if _, err := Translate(virt); err != errInvalidMapping {
		t.Fatalf("expected translate to fail after unmap; got %v", err)
	}

	if !pt[page.ptIndex()].IsUnused() {
		t.Fatal("expected P1 entry to be cleared after unmap")
	}

	if len(alloc.deallocated) != 1 || alloc.deallocated[0] != targetFrame {
		t.Fatalf("expected frame %v to be returned to the allocator; got %v", targetFrame, alloc.deallocated)
	}
}

func TestMapAllocatesFrameFromAllocator(t *testing.T) {
	page := PageFromAddress(0xffff_ffff_8010_0000)
	withMockTables(t, page)

	alloc := &fakeAllocator{next: 7}

	if err := Map(page, FlagPresent, alloc); err != nil {
		t.Fatalf("Map failed: %s", err)
	}

	got, err := Translate(page.Address())
	if err != nil {
		t.Fatalf("Translate failed: %s", err)
	}
	if exp := pmm.Frame(7).Address(); got != exp {
		t.Fatalf("expected Map to have used frame 7 (addr %#x); got %#x", exp, got)
	}
}

func TestIdentityMap(t *testing.T) {
	frame := pmm.Frame(0x10)
	page := PageFromAddress(frame.Address())
	withMockTables(t, page)

	alloc := &fakeAllocator{next: 900}

	if err := IdentityMap(frame, FlagPresent, alloc); err != nil {
		t.Fatalf("IdentityMap failed: %s", err)
	}

	got, err := Translate(frame.Address() + 4)
	if err != nil {
		t.Fatalf("Translate failed: %s", err)
	}
	if exp := frame.Address() + 4; got != exp {
		t.Fatalf("expected identity-mapped address %#x; got %#x", exp, got)
	}
}
