// +build amd64

package mem

const (
	// PointerShift is equal to log2(unsafe.Sizeof(uintptr)). The pointer
	// size for this architecture is defined as (1 << PointerShift).
	PointerShift = 3

	// PageShift is equal to log2(PageSize). This constant is used when
	// we need to convert a physical address to a page number (shift right by PageShift)
	// and vice-versa.
	PageShift = 12

	// PageSize defines the system's page size in bytes.
	PageSize = Size(1 << PageShift)

	// AddressSpaceSize is the fixed physical address window covered by the
	// bitmap frame allocator (256 GiB).
	AddressSpaceSize = Size(256) * Gb

	// FrameCount is the number of 4 KiB frames contained in AddressSpaceSize.
	FrameCount = AddressSpaceSize / PageSize
)
