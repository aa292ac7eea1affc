// Package kmain is the kernel entrypoint that main.main (module root)
// calls once the boot assembly has entered 64-bit long mode and the Go
// runtime bootstrap has run. It sequences every subsystem
// that has to come up before the kernel can safely take an interrupt:
// memory management, the GDT/IDT, the local APIC/IOAPIC and the PIT.
package kmain

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/cpu"
	"github.com/mdgaziur/ferricoxide-os/kernel/goruntime"
	"github.com/mdgaziur/ferricoxide-os/kernel/hal"
	"github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"
	"github.com/mdgaziur/ferricoxide-os/kernel/irq"
	"github.com/mdgaziur/ferricoxide-os/kernel/kfmt"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/bootstrap"
	"github.com/mdgaziur/ferricoxide-os/kernel/time/pit"

	"github.com/mdgaziur/ferricoxide-os/device/apic"
	"github.com/mdgaziur/ferricoxide-os/device/pic"

	// Drivers register themselves with the device package from an init
	// function; they must be imported for their side effects even though
	// nothing here calls them directly.
	_ "github.com/mdgaziur/ferricoxide-os/device/acpi"
	_ "github.com/mdgaziur/ferricoxide-os/device/tty"
	_ "github.com/mdgaziur/ferricoxide-os/device/video/console"
)

var (
	errKmainReturned = &kernel.Error{Module: "kmain", Message: "Kmain returned"}
	errNoAPIC        = &kernel.Error{Module: "kmain", Message: "CPU reports no local APIC; this kernel requires one"}
)

// guardPageAddr returns the virtual address of the page the boot assembly
// leaves immediately below the Go g0 stack it hands off to Kmain. It is
// implemented in stack_amd64.s, which resolves the address of a symbol
// reserved there in boot/long_mode_init.asm's .bss section.
func guardPageAddr() uintptr

// Kmain is called by main.main (module root) with the two pointers the boot
// assembly stored in that package's globals. mbInfoPtr is the physical
// address of the Multiboot2 information structure; kernelContentPtr points
// at the kernel.KernelContentInfo value boot.asm filled in, describing the
// physical range the kernel's sections were loaded at and the virtual
// address they are mapped to.
//
// Kmain does not return: it ends in an idle HLT loop, and the kfmt.Panic
// call after that loop is never reached.
//
//go:noinline
func Kmain(mbInfoPtr uintptr, kernelContentPtr uintptr) {
	multiboot.SetInfoPtr(mbInfoPtr)
	kernelContent := *(*kernel.KernelContentInfo)(unsafe.Pointer(kernelContentPtr))

	kfmt.Printf("ferricoxide-os booting\n")

	if err := bootstrap.Init(kernelContent, guardPageAddr()); err != nil {
		kfmt.Panic(err)
	}

	if err := goruntime.Init(); err != nil {
		kfmt.Panic(err)
	}

	hal.DetectHardware()

	pic.MaskLegacyPIC()
	pic.DisableNMI()

	cpu.InitGDT()
	irq.Init()
	installExceptionHandlers()

	if !apic.HasAPIC() {
		kfmt.Panic(errNoAPIC)
	}

	if err := apic.Init(&bootstrap.FrameAllocator); err != nil {
		kfmt.Panic(err)
	}
	if err := apic.InitIOAPIC(&bootstrap.FrameAllocator); err != nil {
		kfmt.Panic(err)
	}

	pit.Init(apic.LAPICID())

	cpu.EnableInterrupts()

	kfmt.Printf("ferricoxide-os up, idling\n")
	for {
		cpu.HaltOnce()
	}

	// Use kfmt.Panic instead of panic to prevent the compiler from
	// treating kfmt.Panic as dead-code and eliminating it.
	kfmt.Panic(errKmainReturned)
}

// installExceptionHandlers wires the fatal exception policy: each CPU
// exception vector with a hand-written entry trampoline (#DE, #BP, #PF,
// #DF) dumps its register frame and halts.
// Recovery from any of these is out of scope.
func installExceptionHandlers() {
	fatal := func(name string) func(*irq.Registers) {
		return func(regs *irq.Registers) {
			kfmt.Printf("\nunrecoverable %s\n", name)
			if name == "page fault" {
				kfmt.Printf("faulting address = %16x\n", cpu.ReadCR2())
			}
			regs.Print()
			cpu.Halt()
		}
	}

	irq.HandleInterrupt(irq.DivideByZero, 0, fatal("divide error"))
	irq.HandleInterrupt(irq.Breakpoint, 0, fatal("breakpoint"))
	irq.HandleInterrupt(irq.PageFaultException, 0, fatal("page fault"))
	// The gate's IST field is 1-based (0 means no stack switch), while
	// DoubleFaultISTIndex is the 0-based tss.ist slot.
	irq.HandleInterrupt(irq.DoubleFault, cpu.DoubleFaultISTIndex+1, fatal("double fault"))
}
