package vmm

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
)

var (
	// readCR3Fn and writeCR3Fn are swapped out by tests so they don't have
	// to execute privileged instructions.
	readCR3Fn  = cpu.ActivePDT
	writeCR3Fn = cpu.SwitchPDT

	// flushTLBAllFn is invoked after rewriting the recursive slot during a
	// With() call, when a single invlpg is not enough.
	flushTLBAllFn = func() { writeCR3Fn(readCR3Fn()) }
)

// InactivePML4 describes a constructed-but-not-yet-installed address space.
// Its only state is the frame backing its top-level table; that frame's
// recursive slot already points at itself so it is indistinguishable from
// an active PML4 once installed.
type InactivePML4 struct {
	pml4Frame pmm.Frame
}

// NewInactivePML4 allocates a frame for a fresh address space, zeroes it via
// temp, and installs its own recursive entry at index 510.
func NewInactivePML4(alloc FrameAllocator, temp *TemporaryPage) (InactivePML4, *kernel.Error) {
	frame, err := alloc.Allocate()
	if err != nil {
		return InactivePML4{}, err
	}

	tableAddr, err := temp.MapTableFrame(frame)
	if err != nil {
		return InactivePML4{}, err
	}

	zeroTable(tableAddr)
	entryAt(tableAddr, recursiveEntry).SetFrame(frame)
	entryAt(tableAddr, recursiveEntry).SetFlags(FlagPresent | FlagRW)

	if err := temp.Unmap(); err != nil {
		return InactivePML4{}, err
	}

	return InactivePML4{pml4Frame: frame}, nil
}

// With temporarily rewrites the active PML4's recursive slot to point at
// inactive's frame so that f can populate inactive's hierarchy using the
// same recursive addresses that normally refer to the active tree. The
// rewrite is undone, and the TLB flushed, before With returns.
func With(inactive InactivePML4, temp *TemporaryPage, alloc FrameAllocator, f func(FrameAllocator)) *kernel.Error {
	backupFrame := pmm.FrameFromAddress(readCR3Fn())

	backupTableAddr, err := temp.MapTableFrame(backupFrame)
	if err != nil {
		return err
	}

	entryAt(pml4Addr, recursiveEntry).SetFrame(inactive.pml4Frame)
	entryAt(pml4Addr, recursiveEntry).SetFlags(FlagPresent | FlagRW)
	flushTLBAllFn()

	f(alloc)

	entryAt(backupTableAddr, recursiveEntry).SetFrame(backupFrame)
	entryAt(backupTableAddr, recursiveEntry).SetFlags(FlagPresent | FlagRW)
	flushTLBAllFn()

	return temp.Unmap()
}

// Switch installs new as the active address space and returns the address
// space that was active beforehand as an InactivePML4.
func Switch(new InactivePML4) InactivePML4 {
	old := InactivePML4{pml4Frame: pmm.FrameFromAddress(readCR3Fn())}
	writeCR3Fn(new.pml4Frame.Address())
	return old
}
