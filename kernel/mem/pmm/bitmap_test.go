package pmm

import (
	"bytes"
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem"
)

// buildMemoryMapFixture assembles a minimal Multiboot2 information structure
// containing a single memory-map tag (and the mandatory end tag) that the
// multiboot package's tag walker can parse. entries are written in the
// (physAddr, length, type) form used by multiboot.MemoryMapEntry.
func buildMemoryMapFixture(t *testing.T, entries [][3]uint64) []byte {
	t.Helper()

	var mmapBody bytes.Buffer
	binary.Write(&mmapBody, binary.LittleEndian, uint32(24)) // entrySize
	binary.Write(&mmapBody, binary.LittleEndian, uint32(0))  // entryVersion
	for _, e := range entries {
		binary.Write(&mmapBody, binary.LittleEndian, e[0])       // PhysAddress
		binary.Write(&mmapBody, binary.LittleEndian, e[1])       // Length
		binary.Write(&mmapBody, binary.LittleEndian, uint32(e[2])) // Type
		binary.Write(&mmapBody, binary.LittleEndian, uint32(0))    // struct padding
	}

	var tag bytes.Buffer
	binary.Write(&tag, binary.LittleEndian, uint32(6))                             // tagMemoryMap
	binary.Write(&tag, binary.LittleEndian, uint32(8+mmapBody.Len()))              // tag size
	tag.Write(mmapBody.Bytes())
	for tag.Len()%8 != 0 {
		tag.WriteByte(0)
	}

	var endTag bytes.Buffer
	binary.Write(&endTag, binary.LittleEndian, uint32(0)) // tagMbSectionEnd
	binary.Write(&endTag, binary.LittleEndian, uint32(8))

	var out bytes.Buffer
	totalSize := 8 + tag.Len() + endTag.Len()
	binary.Write(&out, binary.LittleEndian, uint32(totalSize))
	binary.Write(&out, binary.LittleEndian, uint32(0)) // reserved
	out.Write(tag.Bytes())
	out.Write(endTag.Bytes())

	return out.Bytes()
}

func TestBitmapFrameAllocatorInitReservesLowMebAndMemoryMap(t *testing.T) {
	fixture := buildMemoryMapFixture(t, [][3]uint64{
		{0x0, uint64(mem.Mb) * 2, 1},                      // available, overlaps low 1M reservation
		{uint64(mem.Mb) * 2, uint64(mem.Mb), 2},           // reserved
		{uint64(mem.Mb) * 3, uint64(mem.Mb) * 61, 1},      // available
	})
	multiboot.SetInfoPtr(uintptr(unsafe.Pointer(&fixture[0])))

	storage := make([]uint64, mem.FrameCount/bitsPerWord)
	var alloc BitmapFrameAllocator
	alloc.Init(storage, 0, 0)

	// The first megabyte must always be reserved regardless of what the
	// memory map reports for that range.
	framesInFirstMeg := uint64(mem.Mb) / uint64(mem.PageSize)
	for f := uint64(0); f < framesInFirstMeg; f++ {
		if !alloc.clearBit(f) {
			t.Fatalf("expected frame %d within the first megabyte to be reserved", f)
		}
		alloc.setBit(f)
	}

	// The explicitly reserved [2M, 3M) range must be marked in-use too.
	reservedFrame := FrameFromAddress(uintptr(2 * uint64(mem.Mb)))
	if !alloc.clearBit(uint64(reservedFrame)) {
		t.Fatalf("expected frame %d (inside reserved memory-map entry) to be reserved", reservedFrame)
	}
	alloc.setBit(uint64(reservedFrame))

	// A frame well inside the third available region should still be free.
	freeFrame := FrameFromAddress(uintptr(10 * uint64(mem.Mb)))
	if alloc.clearBit(uint64(freeFrame)) {
		alloc.setBit(uint64(freeFrame))
		t.Fatalf("expected frame %d to be free after Init", freeFrame)
	}
}

func TestBitmapFrameAllocatorAllocateDeallocate(t *testing.T) {
	var alloc BitmapFrameAllocator
	alloc.bitmap = make([]uint64, 4)
	alloc.totalFrames = 16
	alloc.freeFrames = 16

	var seen []Frame
	for i := 0; i < 16; i++ {
		f, err := alloc.Allocate()
		if err != nil {
			t.Fatalf("unexpected error on allocation %d: %s", i, err)
		}
		seen = append(seen, f)
	}

	if _, err := alloc.Allocate(); err != errOutOfMemory {
		t.Fatalf("expected errOutOfMemory once all frames are used; got %v", err)
	}

	for _, f := range seen {
		alloc.Deallocate(f)
	}

	if exp, got := uint64(16), alloc.freeFrames; exp != got {
		t.Fatalf("expected %d free frames after returning all of them; got %d", exp, got)
	}

	// A frame should be immediately reusable once deallocated.
	if _, err := alloc.Allocate(); err != nil {
		t.Fatalf("expected allocation to succeed after deallocation: %s", err)
	}
}

func TestBitmapFrameAllocatorDeallocateDoubleFreePanics(t *testing.T) {
	var alloc BitmapFrameAllocator
	alloc.bitmap = make([]uint64, 1)
	alloc.totalFrames = 64
	alloc.freeFrames = 64

	f, err := alloc.Allocate()
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	alloc.Deallocate(f)

	defer func() {
		if recover() == nil {
			t.Fatal("expected double-free to panic")
		}
	}()
	alloc.Deallocate(f)
}

func TestBitmapFrameAllocatorMemoryAccounting(t *testing.T) {
	var alloc BitmapFrameAllocator
	alloc.bitmap = make([]uint64, 2)
	alloc.totalFrames = 128
	alloc.freeFrames = 128

	if exp, got := mem.Size(128)*mem.PageSize, alloc.TotalMemory(); exp != got {
		t.Fatalf("expected total memory %d; got %d", exp, got)
	}

	if _, err := alloc.Allocate(); err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if exp, got := mem.Size(127)*mem.PageSize, alloc.AvailableMemory(); exp != got {
		t.Fatalf("expected available memory %d; got %d", exp, got)
	}
}

