package irq

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/kfmt"
)

// idtEntry is a single 64-bit interrupt gate descriptor.
type idtEntry struct {
	offsetLow  uint16
	selector   uint16
	istAndZero uint8
	typeAttr   uint8
	offsetMid  uint16
	offsetHigh uint32
	reserved   uint32
}

// idtPointer is the operand loaded by the LIDT instruction.
type idtPointer struct {
	limit uint16
	base  uint64
}

// gateInterrupt64 marks a gate present, ring 0, 64-bit interrupt gate
// (interrupts masked for the handler's duration).
const gateInterrupt64 = 0x8E

var (
	idt      [256]idtEntry
	handlers [256]func(*Registers)
)

// trampolineAddrFor returns the entry point address for vector's hand
// written assembly trampoline, or 0 if vector has none. Only the five
// vectors the spec wires an entry for are recognized.
func trampolineAddrFor(vector uint8) uintptr

// loadIDT loads idtr from ptr.
func loadIDT(ptr *idtPointer)

// setGate writes a present gate for vector pointing at addr, using ist (0
// means "don't switch stacks", 1-7 select IST1-IST7 in the active TSS).
func setGate(vector uint8, addr uintptr, ist uint8) {
	e := &idt[vector]
	e.offsetLow = uint16(addr)
	e.selector = cpu.CodeSegmentSelector
	e.istAndZero = ist & 0x7
	e.typeAttr = gateInterrupt64
	e.offsetMid = uint16(addr >> 16)
	e.offsetHigh = uint32(addr >> 32)
	e.reserved = 0
}

// installIDT loads an all-non-present IDT. Individual vectors only become
// live once HandleInterrupt registers a handler for them, matching the
// teacher's "gates start non-present" convention.
func installIDT() {
	idt = [256]idtEntry{}

	ptr := idtPointer{
		limit: uint16(unsafe.Sizeof(idt) - 1),
		base:  uint64(uintptr(unsafe.Pointer(&idt[0]))),
	}
	loadIDT(&ptr)
}

// setHandler records handler and, if vector has a matching trampoline,
// turns its gate present with the requested IST slot.
func setHandler(vector InterruptNumber, istOffset uint8, handler func(*Registers)) {
	handlers[vector] = handler

	addr := trampolineAddrFor(uint8(vector))
	if addr == 0 {
		return
	}
	setGate(uint8(vector), addr, istOffset)
}

// dispatchInterruptGo is called by every entry trampoline in idt_amd64.s
// with the vector it fired for and a pointer at the register/frame dump
// assembled on the interrupt stack. It must not be inlined away or moved:
// its address is never taken, only its symbol, which the trampolines
// CALL directly.
func dispatchInterruptGo(vector uint8, regs *Registers) {
	if handler := handlers[vector]; handler != nil {
		handler(regs)
		return
	}

	kfmt.Printf("unhandled interrupt %d\n", vector)
	regs.DumpTo(kfmt.GetOutputSink())
	cpu.Halt()
}
