package vmm

import "github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"

// PageTableEntryFlag describes the low-order bits of a page-table entry.
type PageTableEntryFlag uint64

const (
	// FlagPresent marks the entry as present; the MMU ignores the rest of
	// the entry when this bit is clear.
	FlagPresent PageTableEntryFlag = 1 << 0

	// FlagRW allows writes to the mapped page. Without it the page is
	// read-only.
	FlagRW PageTableEntryFlag = 1 << 1

	// FlagUser allows access from CPL 3. The kernel never sets this flag
	// as user-space execution is out of scope.
	FlagUser PageTableEntryFlag = 1 << 2

	// FlagWriteThrough enables write-through caching for the mapped page.
	FlagWriteThrough PageTableEntryFlag = 1 << 3

	// FlagNoCache disables caching for the mapped page. Used for
	// memory-mapped device registers (LAPIC, IOAPIC).
	FlagNoCache PageTableEntryFlag = 1 << 4

	// FlagHugePage marks a PDPT/PDT entry as mapping a 1 GiB/2 MiB page
	// directly instead of pointing at the next table level. The mapper
	// never sets this flag itself; it is only ever observed during
	// translate() on entries installed by the prekernel loader.
	FlagHugePage PageTableEntryFlag = 1 << 7

	// FlagGlobal marks the translation as global, exempting it from TLB
	// flushes that do not also flip CR4.PGE.
	FlagGlobal PageTableEntryFlag = 1 << 8

	// FlagNoExecute forbids instruction fetches from the mapped page.
	FlagNoExecute PageTableEntryFlag = 1 << 63
)

// pteAddrMask isolates the physical frame address bits of an entry.
const pteAddrMask uint64 = 0x000f_ffff_ffff_f000

// pageTableEntry is a single 64-bit entry inside a PageTable.
type pageTableEntry uint64

// IsUnused returns true if the entry does not currently describe a mapping.
func (pte *pageTableEntry) IsUnused() bool {
	return *pte == 0
}

// SetUnused clears the entry.
func (pte *pageTableEntry) SetUnused() {
	*pte = 0
}

// HasFlags returns true if all bits in flags are set on this entry.
func (pte *pageTableEntry) HasFlags(flags PageTableEntryFlag) bool {
	return (uint64(*pte) & uint64(flags)) == uint64(flags)
}

// SetFlags ORs flags into the entry, leaving the frame bits untouched.
func (pte *pageTableEntry) SetFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) | uint64(flags))
}

// ClearFlags clears flags from the entry, leaving the frame bits untouched.
func (pte *pageTableEntry) ClearFlags(flags PageTableEntryFlag) {
	*pte = pageTableEntry(uint64(*pte) &^ uint64(flags))
}

// Frame returns the physical frame referenced by this entry.
func (pte *pageTableEntry) Frame() pmm.Frame {
	return pmm.FrameFromAddress(uintptr(uint64(*pte) & pteAddrMask))
}

// SetFrame installs frame's physical address into the entry, preserving the
// currently-set flag bits.
func (pte *pageTableEntry) SetFrame(frame pmm.Frame) {
	addr := uint64(frame.Address())
	if addr&^pteAddrMask != 0 {
		panic(errFrameNotAligned)
	}

	*pte = pageTableEntry((uint64(*pte) &^ pteAddrMask) | addr)
}
