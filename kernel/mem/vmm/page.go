// Package vmm implements a recursive 4-level page-table mapper for the
// kernel's virtual address space. The active PML4's 510th entry is always
// set to point at itself, giving every paging level a constant, well-known
// virtual address regardless of how the tree is currently populated.
package vmm

import "github.com/mdgaziur/ferricoxide-os/kernel/mem"

// Page describes a 4 KiB virtual memory page.
type Page uintptr

// PageFromAddress returns the Page containing the given virtual address.
func PageFromAddress(virtAddr uintptr) Page {
	assertCanonical(virtAddr)
	return Page(virtAddr >> mem.PageShift)
}

// Address returns the virtual address at the start of this page.
func (p Page) Address() uintptr {
	return uintptr(p) << mem.PageShift
}

// pml4Index returns the index (0-511) of this page's entry in the PML4.
func (p Page) pml4Index() uintptr {
	return (uintptr(p) >> 27) & 0x1ff
}

// pdptIndex returns the index (0-511) of this page's entry in the PDPT.
func (p Page) pdptIndex() uintptr {
	return (uintptr(p) >> 18) & 0x1ff
}

// pdtIndex returns the index (0-511) of this page's entry in the PDT.
func (p Page) pdtIndex() uintptr {
	return (uintptr(p) >> 9) & 0x1ff
}

// ptIndex returns the index (0-511) of this page's entry in the PT.
func (p Page) ptIndex() uintptr {
	return uintptr(p) & 0x1ff
}

// PageOffset returns the offset of a virtual address within its containing page.
func PageOffset(virtAddr uintptr) uintptr {
	return virtAddr & (uintptr(mem.PageSize) - 1)
}

// assertCanonical panics if addr is not a canonical x86_64 address, i.e. it
// does not lie in the lower or higher half of the address space.
func assertCanonical(addr uintptr) {
	if addr > canonicalLowMax && addr < canonicalHighMin {
		panic(errNonCanonicalAddress)
	}
}
