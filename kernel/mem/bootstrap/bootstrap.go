// Package bootstrap ties together the physical frame allocator, the
// recursive virtual memory mapper and the kernel heap into the single
// sequence that runs once, early in Kmain, before any other subsystem may
// allocate memory.
package bootstrap

import (
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/heap"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/vmm"
)

// KernelHeapSize is the size of the virtual region handed to the kernel
// heap once the kernel image, boot info and framebuffer have been mapped.
const KernelHeapSize = 16 * uintptr(mem.Mb)

// temporaryPageNumber is an arbitrary page, far away from anything else the
// bootstrap sequence maps, used as scratch space while building the new
// address space. Its only requirement is that it not collide with the
// kernel image, boot info, framebuffer or heap regions.
const temporaryPageNumber = 0x1_0000_0000 / uintptr(mem.PageSize)

var (
	// frameBitmap is the bitmap backing FrameAllocator. Its size is fixed
	// at compile time (one bit per frame across the full AddressSpaceSize
	// window) since nothing can allocate its storage before the frame
	// allocator itself exists; it therefore lives in BSS, exactly like
	// the StaticBitmap the original implementation declares.
	frameBitmap [mem.FrameCount / 64]uint64

	// FrameAllocator is the single global physical frame allocator, usable
	// once Init has returned.
	FrameAllocator pmm.BitmapFrameAllocator

	// Heap is the single global kernel heap, usable once Init has
	// returned.
	Heap heap.Heap
)

// Init bootstraps physical and virtual memory management: it initializes
// the bitmap frame allocator from the Multiboot2 memory map, builds a fresh
// higher-half address space containing the kernel image, boot info and
// framebuffer, switches to it, unmaps the stack-overflow guard page left by
// the prekernel loader, and finally carves out and initializes the kernel
// heap immediately after the highest region it just mapped.
//
// kernelContent describes where the prekernel loader staged the kernel's
// ELF content; guardPageAddr is the address of the guard page immediately
// below the kernel stack that the prekernel loader leaves unmapped on
// purpose and that must stay unmapped after the switch.
func Init(kernelContent kernel.KernelContentInfo, guardPageAddr uintptr) *kernel.Error {
	FrameAllocator.Init(frameBitmap[:], multiboot.InfoAddr(), uintptr(multiboot.InfoSize()))

	temp, err := vmm.NewTemporaryPage(vmm.Page(temporaryPageNumber), &FrameAllocator)
	if err != nil {
		return err
	}

	newTable, err := vmm.NewInactivePML4(&FrameAllocator, temp)
	if err != nil {
		return err
	}

	kernelContentSize := uintptr(kernelContent.PhysEndAddr-kernelContent.PhysStartAddr) + 1

	var heapAddr uintptr

	err = vmm.With(newTable, temp, &FrameAllocator, func(alloc vmm.FrameAllocator) {
		kernelEnd, mapErr := vmm.MapRange(
			uintptr(kernelContent.VirtStartAddr),
			uintptr(kernelContent.PhysStartAddr),
			kernelContentSize,
			vmm.FlagPresent,
			alloc,
		)
		if mapErr != nil {
			panic(mapErr)
		}

		bootInfoEnd := identityMapRegionEnd(multiboot.InfoAddr(), uintptr(multiboot.InfoSize()), alloc)

		var fbEnd uintptr
		if fbInfo := multiboot.GetFramebufferInfo(); fbInfo != nil {
			fbSize := uintptr(fbInfo.Pitch) * uintptr(fbInfo.Height)
			fbEnd = identityMapRegionEnd(uintptr(fbInfo.PhysAddr), fbSize, alloc)
		}

		heapAddr = maxAddr(kernelEnd, maxAddr(bootInfoEnd, fbEnd))
	})
	if err != nil {
		return err
	}

	vmm.Switch(newTable)

	if _, terr := vmm.Translate(guardPageAddr); terr == nil {
		if uerr := vmm.Unmap(vmm.PageFromAddress(guardPageAddr), &FrameAllocator); uerr != nil {
			return uerr
		}
	}

	if err := vmm.MapVirtualRange(heapAddr, KernelHeapSize, vmm.FlagPresent|vmm.FlagRW, &FrameAllocator); err != nil {
		return err
	}

	Heap.Init(heapAddr, KernelHeapSize)

	return nil
}

// identityMapRegionEnd identity-maps [start, start+size) read/write,
// non-executable, and returns the first virtual address past the mapped
// range.
func identityMapRegionEnd(start, size uintptr, alloc vmm.FrameAllocator) uintptr {
	startFrame := pmm.FrameFromAddress(start)
	page, err := vmm.IdentityMapRegion(startFrame, size, vmm.FlagPresent|vmm.FlagRW|vmm.FlagNoExecute, alloc)
	if err != nil {
		panic(err)
	}

	pageCount := (size + uintptr(mem.PageSize) - 1) / uintptr(mem.PageSize)
	return page.Address() + pageCount*uintptr(mem.PageSize)
}

func maxAddr(a, b uintptr) uintptr {
	if a > b {
		return a
	}
	return b
}
