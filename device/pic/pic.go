// Package pic masks the legacy 8259 PIC and the CMOS NMI line so that, once
// the LAPIC/IOAPIC path is enabled, nothing can deliver an interrupt through
// the two controllers this kernel no longer programs.
package pic

import "github.com/mdgaziur/ferricoxide-os/kernel/cpu"

const (
	masterCommandPort = 0x20
	masterDataPort    = 0x21
	slaveCommandPort  = 0xa0
	slaveDataPort     = 0xa1

	cmosIndexPort = 0x70
	cmosDataPort  = 0x71

	// cmosNMIDisableBit is bit 7 of the CMOS index byte; set it to disable
	// delivery of the non-maskable interrupt.
	cmosNMIDisableBit uint8 = 1 << 7

	maskAllIRQs uint8 = 0xff
)

// MaskLegacyPIC masks every IRQ line on both the master and slave 8259s.
// Must run before the IDT is loaded and the LAPIC/IOAPIC are brought up --
// otherwise a stray legacy IRQ could fire through the PIC's default,
// unconfigured vector mapping (which overlaps the CPU's own exception
// vectors) before this kernel ever reprograms it.
func MaskLegacyPIC() {
	cpu.OutB(masterDataPort, maskAllIRQs)
	cpu.OutB(slaveDataPort, maskAllIRQs)
}

// DisableNMI masks the non-maskable interrupt line via the CMOS index
// register's top bit.
func DisableNMI() {
	cur := cpu.InB(cmosIndexPort)
	cpu.OutB(cmosIndexPort, cur|cmosNMIDisableBit)
	cpu.InB(cmosDataPort) // discard; required to latch the index write
}

// EnableNMI clears the CMOS NMI mask bit.
func EnableNMI() {
	cur := cpu.InB(cmosIndexPort)
	cpu.OutB(cmosIndexPort, cur&^cmosNMIDisableBit)
	cpu.InB(cmosDataPort)
}
