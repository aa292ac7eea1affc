// Package pit drives the 8254 Programmable Interval Timer as the kernel's
// monotonic tick source, delivered through the IOAPIC/LAPIC path rather than
// the legacy PIC.
package pit

import (
	"sync/atomic"

	"github.com/mdgaziur/ferricoxide-os/device/apic"
	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/irq"
)

const (
	// PITFrequency is the 8254's fixed input clock, in Hz.
	PITFrequency uint32 = 1193182

	// TimerFrequency is the rate, in Hz, this kernel programs the PIT to
	// tick at.
	TimerFrequency uint32 = 1000

	// timerIRQ is the global system interrupt the PIT's IRQ0 line arrives
	// on once routed through the IOAPIC. On the reference hardware this
	// implementation is grounded on, a MADT interrupt source override
	// remaps legacy IRQ0 to GSI 2; that override is applied automatically
	// by apic.SetIOAPICIRQ when present, same as the rest of this
	// codebase's IRQ routing.
	timerIRQ uint8 = 0x2

	channel0Port  = 0x40
	commandPort   = 0x43
	modeSquareWave = 0b011 << 1
	accessLoHi     = 0b11 << 4
)

// timerCount is the PIT reload value. The PIT runs in square-wave generator
// mode, which toggles its output once per half period, so the divisor is
// doubled (which halves the reload value) -- an unverified
// but preserved quirk carried over unmodified from the grounding source.
var timerCount = uint16(PITFrequency / (TimerFrequency * 2))

var ticks uint64

// Init programs the PIT's reload count, wires its vector through
// kernel/irq, and routes its IOAPIC redirection entry to lapicID. It must
// run after irq.Init and apic.InitIOAPIC.
func Init(lapicID uint8) {
	count := timerCount
	if PITFrequency%TimerFrequency > TimerFrequency/2 {
		count++
	}
	setReloadCount(count)

	irq.HandleInterrupt(irq.TimerVector, 0, handleTick)
	apic.SetIOAPICIRQ(timerIRQ, uint8(irq.TimerVector), lapicID)
}

func setReloadCount(count uint16) {
	cpu.DisableInterrupts()
	defer cpu.EnableInterrupts()

	command := uint8(modeSquareWave | accessLoHi)
	cpu.OutB(commandPort, command)
	cpu.OutB(channel0Port, uint8(count&0xff))
	cpu.OutB(channel0Port, uint8(count>>8))
}

func handleTick(_ *irq.Registers) {
	atomic.AddUint64(&ticks, 1)
	apic.NotifyEndOfInterrupt()
}

// Ticks returns the number of PIT ticks observed since Init.
func Ticks() uint64 {
	return atomic.LoadUint64(&ticks)
}

// Sleep busy-waits, parking the CPU with HLT between ticks, until at least
// millis milliseconds have elapsed.
func Sleep(millis uint64) {
	start := Ticks()
	target := millis * uint64(TimerFrequency) / 1000

	for Ticks()-start <= target {
		cpu.HaltOnce()
	}
}
