package vmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem"
)

// earlyReserveStart is the top of a dedicated virtual address window set
// aside for EarlyReserveRegion callers. It sits comfortably below the
// recursive-mapping slot's own address (pml4Addr) so a reservation can never
// grow into it.
const earlyReserveStart uintptr = 0xffff_ff00_0000_0000

var (
	// earlyReserveLastUsed tracks the lowest address handed out so far;
	// each reservation carves out the space immediately below it.
	earlyReserveLastUsed = earlyReserveStart

	errEarlyReserveNoSpace = &kernel.Error{Module: "vmm", Message: "remaining virtual address space not large enough to satisfy reservation request"}
)

// EarlyReserveRegion reserves a page-aligned contiguous virtual address
// range of the requested size, rounded up to a page boundary, and returns
// its starting address. It only carves out address space; the caller must
// map frames into it before touching it. Used by kernel/goruntime to give
// the Go runtime's own allocator a fixed region to grow into before any
// other virtual memory consumer exists.
func EarlyReserveRegion(size uintptr) (uintptr, *kernel.Error) {
	size = (size + uintptr(mem.PageSize) - 1) &^ (uintptr(mem.PageSize) - 1)

	if size > earlyReserveLastUsed {
		return 0, errEarlyReserveNoSpace
	}

	earlyReserveLastUsed -= size
	return earlyReserveLastUsed, nil
}
