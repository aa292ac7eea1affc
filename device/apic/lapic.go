// Package apic drives the local APIC and I/O APIC once device/acpi has
// walked the MADT and located them.
package apic

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/vmm"
)

const (
	// ia32APICBaseMSR is IA32_APIC_BASE; bits 12-35 hold the LAPIC's
	// physical base address, bit 11 is the global enable flag.
	ia32APICBaseMSR uint32 = 0x1b

	apicBaseAddrMask uint64 = 0xf_ffff_f000
	apicGlobalEnable uint64 = 1 << 11

	// Register offsets, in bytes from the LAPIC's mapped base.
	regAPICID         = 0x20
	regSpuriousVector = 0xf0
	regEOI            = 0xb0

	// sivrSoftwareEnable is bit 8 of the Spurious Interrupt Vector
	// Register; it must be set for the LAPIC to accept interrupts at all.
	sivrSoftwareEnable uint32 = 1 << 8
)

var errNoAPIC = &kernel.Error{Module: "apic", Message: "CPU reports no local APIC support"}

// base is the virtual address the LAPIC's MMIO page was mapped at (this
// kernel identity-maps device MMIO, so it equals the physical address).
var base uintptr

// HasAPIC reports whether CPUID advertises a local APIC (leaf 1, EDX bit 9).
func HasAPIC() bool {
	_, _, _, edx := cpu.ID(1)
	return edx&(1<<9) != 0
}

// Init maps the LAPIC's MMIO page (read from IA32_APIC_BASE) and enables it
// via the Spurious Interrupt Vector Register. It must run after cpu.InitGDT
// and irq.Init, and before interrupts are unmasked.
func Init(alloc vmm.FrameAllocator) *kernel.Error {
	if !HasAPIC() {
		return errNoAPIC
	}

	raw := cpu.ReadMSR(ia32APICBaseMSR)
	cpu.WriteMSR(ia32APICBaseMSR, raw|apicGlobalEnable)

	physBase := uintptr(raw & apicBaseAddrMask)
	if err := vmm.IdentityMap(pmm.FrameFromAddress(physBase), vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoCache, alloc); err != nil {
		return err
	}
	base = physBase

	writeReg(regSpuriousVector, readReg(regSpuriousVector)|sivrSoftwareEnable)

	return nil
}

// LAPICID returns the executing CPU's local APIC ID, read directly from the
// LAPIC's ID register (bits 24-31). Used as the destination field when
// routing an IOAPIC redirection entry with SetIOAPICIRQ.
func LAPICID() uint8 {
	return uint8(readReg(regAPICID) >> 24)
}

// NotifyEndOfInterrupt tells the LAPIC the currently serviced interrupt has
// been handled so it may deliver the next one. Must be called from every
// handler wired through the LAPIC/IOAPIC path, PIT included.
func NotifyEndOfInterrupt() {
	writeReg(regEOI, 0)
}

func readReg(offset uintptr) uint32 {
	return *(*uint32)(unsafe.Pointer(base + offset))
}

func writeReg(offset uintptr, value uint32) {
	*(*uint32)(unsafe.Pointer(base + offset)) = value
}
