package apic

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/device/acpi"
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/vmm"
)

const (
	ioRegSelect = 0x00
	ioRegWindow = 0x10

	ioRedirTableBase = 0x10

	// redirEntryMasked keeps an IRQ masked until SetIOAPICIRQ programs it.
	redirEntryMasked uint32 = 1 << 16
)

var errNoIOAPIC = &kernel.Error{Module: "apic", Message: "MADT reports no I/O APIC"}

var ioapicBase uintptr

// InitIOAPIC maps the first I/O APIC device/acpi's MADT parse discovered and
// masks every redirection entry. Individual IRQs are unmasked and routed via
// SetIOAPICIRQ once their handlers are installed.
func InitIOAPIC(alloc vmm.FrameAllocator) *kernel.Error {
	ioapics := acpi.IOAPICs()
	if len(ioapics) == 0 {
		return errNoIOAPIC
	}

	physBase := uintptr(ioapics[0].Address)
	if err := vmm.IdentityMap(pmm.FrameFromAddress(physBase), vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoCache, alloc); err != nil {
		return err
	}
	ioapicBase = physBase

	for irq := uint32(0); irq < 24; irq++ {
		writeIOAPIC(ioRedirTableBase+irq*2, redirEntryMasked)
		writeIOAPIC(ioRedirTableBase+irq*2+1, 0)
	}

	return nil
}

// SetIOAPICIRQ routes legacy IRQ irq to vector on the local APIC identified by
// lapicID, applying any bus/IRQ remapping device/acpi's MADT parse recorded
// via an Interrupt Source Override.
func SetIOAPICIRQ(irq uint8, vector uint8, lapicID uint8) {
	globalIRQ := uint32(irq)
	for _, override := range acpi.InterruptOverrides() {
		if override.IRQSrc == irq {
			globalIRQ = override.GlobalInterrupt
			break
		}
	}

	low := uint32(vector)
	high := uint32(lapicID) << 24

	writeIOAPIC(ioRedirTableBase+globalIRQ*2, low)
	writeIOAPIC(ioRedirTableBase+globalIRQ*2+1, high)
}

func writeIOAPIC(index uint32, value uint32) {
	*(*uint32)(unsafe.Pointer(ioapicBase + ioRegSelect)) = index
	*(*uint32)(unsafe.Pointer(ioapicBase + ioRegWindow)) = value
}
