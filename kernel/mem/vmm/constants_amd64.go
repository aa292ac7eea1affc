// +build amd64

package vmm

import "github.com/mdgaziur/ferricoxide-os/kernel"

const (
	// recursiveEntry is the PML4 index that is always set to point back at
	// the PML4 itself, giving every paging level a fixed virtual address.
	recursiveEntry uintptr = 510

	// canonicalLowMax is the highest address in the canonical lower half.
	canonicalLowMax uintptr = 0x0000_7fff_ffff_ffff

	// canonicalHighMin is the lowest address in the canonical higher half.
	canonicalHighMin uintptr = 0xffff_8000_0000_0000

	// entriesPerTable is the number of 64-bit entries in a single paging
	// structure (PML4, PDPT, PDT or PT).
	entriesPerTable = 512

	// pageTableLevels is the number of levels walked by the mapper: PML4,
	// PDPT, PDT, PT.
	pageTableLevels = 4
)

// pml4Addr is the fixed virtual address of the active PML4 table, derived by
// routing all four index levels of the recursive lookup through slot 510:
// 0o177777_776_776_776_776_000.
const pml4Addr uintptr = 0xffff_ff7f_bfdf_e000

var (
	errInvalidMapping        = &kernel.Error{Module: "vmm", Message: "address is not mapped"}
	errAlreadyMapped         = &kernel.Error{Module: "vmm", Message: "attempted to map an already-present page"}
	errOutOfMemory           = &kernel.Error{Module: "vmm", Message: "frame allocator is out of memory"}
	errHugePageUnsupported   = &kernel.Error{Module: "vmm", Message: "huge pages cannot be created by the mapper"}
	errNonCanonicalAddress   = &kernel.Error{Module: "vmm", Message: "address is not canonical"}
	errFrameNotAligned       = &kernel.Error{Module: "vmm", Message: "frame address is not page-aligned"}
	errTempPageAlreadyMapped = &kernel.Error{Module: "vmm", Message: "temporary page is already mapped"}
)
