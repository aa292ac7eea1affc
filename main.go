package main

import "github.com/mdgaziur/ferricoxide-os/cmd/kmain"

// multibootInfoPtr and kernelContentInfoPtr are written directly by
// boot/long_mode_init.asm before it jumps into runtime.rt0_go, using the
// mangled names of these package-level symbols. They are not otherwise
// assigned in Go code.
var (
	multibootInfoPtr     uintptr
	kernelContentInfoPtr uintptr
)

// main is the only Go symbol the rt0 assembly needs to be able to find by
// name (it jumps to the normal runtime.rt0_go entrypoint, which eventually
// calls main.main like any other Go program). It exists purely as a
// trampoline into the real kernel entrypoint; referencing the two package
// vars here keeps the compiler from treating them, and transitively
// kmain.Kmain, as unreachable and eliminating them.
//
// main is not expected to return. If it does, kmain.Kmain already panicked
// trying to, so this is unreachable in practice.
func main() {
	kmain.Kmain(multibootInfoPtr, kernelContentInfoPtr)
}
