package acpi

import (
	"io"
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/device"
	"github.com/mdgaziur/ferricoxide-os/device/acpi/table"
	"github.com/mdgaziur/ferricoxide-os/kernel"
	"github.com/mdgaziur/ferricoxide-os/kernel/hal/multiboot"
	"github.com/mdgaziur/ferricoxide-os/kernel/kfmt"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/bootstrap"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/pmm"
	"github.com/mdgaziur/ferricoxide-os/kernel/mem/vmm"
)

const (
	acpiRev1     uint8 = 0
	acpiRev2Plus uint8 = 2
)

var (
	errMissingRSDP           = &kernel.Error{Module: "acpi", Message: "could not locate ACPI RSDP"}
	errTableChecksumMismatch = &kernel.Error{Module: "acpi", Message: "detected checksum mismatch while parsing ACPI table header"}

	identityMapFn = vmm.IdentityMapRegion
	getRSDPFn     = multiboot.GetRSDP

	fadtSignature = "FACP"
	madtSignature = "APIC"
)

type acpiDriver struct {
	// rsdtAddr holds the address to the root system descriptor table.
	rsdtAddr uintptr

	// useXSDT specifies if the driver must use the XSDT or the RSDT table.
	useXSDT bool

	// The ACPI table map allows the driver to lookup an ACPI table header
	// by the table name. All tables included in this map are mapped into
	// memory.
	tableMap map[string]*table.SDTHeader

	// madt holds the parsed interrupt-controller inventory once MADT has
	// been walked, or the zero value if no MADT was present.
	madt madtInfo
}

// active holds the most recently initialized ACPI driver instance. The HAL
// only ever probes one ACPI driver, but it hands callers back a generic
// device.Driver, so device/apic reaches the parsed MADT data through the
// package-level accessors below instead of a type assertion.
var active *acpiDriver

// DriverInit initializes this driver.
func (drv *acpiDriver) DriverInit(w io.Writer) *kernel.Error {
	if err := drv.enumerateTables(w); err != nil {
		return err
	}

	drv.printTableInfo(w)

	if hdr, ok := drv.tableMap[madtSignature]; ok {
		madt, err := parseMADT((*table.MADT)(unsafe.Pointer(hdr)))
		if err != nil {
			return err
		}
		drv.madt = madt
	}

	active = drv

	return nil
}

// LocalAPICs returns every processor local APIC the active driver's MADT
// described, or nil if ACPI has not been probed yet.
func LocalAPICs() []table.MADTEntryLocalAPIC {
	if active == nil {
		return nil
	}
	return active.LocalAPICs()
}

// IOAPICs returns every I/O APIC the active driver's MADT described, or nil
// if ACPI has not been probed yet.
func IOAPICs() []table.MADTEntryIOAPIC {
	if active == nil {
		return nil
	}
	return active.IOAPICs()
}

// InterruptOverrides returns the active driver's legacy IRQ remapping
// entries, or nil if ACPI has not been probed yet.
func InterruptOverrides() []table.MADTEntryInterruptSrcOverride {
	if active == nil {
		return nil
	}
	return active.InterruptOverrides()
}

// LocalAPICAddress returns the physical local APIC base address the MADT
// reported, or 0 if ACPI has not been probed yet.
func LocalAPICAddress() uintptr {
	if active == nil {
		return 0
	}
	return active.LocalAPICAddress()
}

// DriverName returns the name of this driver.
func (*acpiDriver) DriverName() string {
	return "ACPI"
}

// DriverVersion returns the version of this driver.
func (*acpiDriver) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// LocalAPICs returns every processor local APIC the MADT described.
func (drv *acpiDriver) LocalAPICs() []table.MADTEntryLocalAPIC {
	return drv.madt.localAPICs
}

// IOAPICs returns every I/O APIC the MADT described.
func (drv *acpiDriver) IOAPICs() []table.MADTEntryIOAPIC {
	return drv.madt.ioAPICs
}

// InterruptOverrides returns the MADT's legacy IRQ to global-interrupt
// remapping entries.
func (drv *acpiDriver) InterruptOverrides() []table.MADTEntryInterruptSrcOverride {
	return drv.madt.overrides
}

// LocalAPICAddress returns the physical base address of the local APIC, as
// reported by the MADT header (this is the same address the IA32_APIC_BASE
// MSR normally points at, kept here so device/apic does not need to re-walk
// ACPI tables on its own).
func (drv *acpiDriver) LocalAPICAddress() uintptr {
	return uintptr(drv.madt.localAPICAddr)
}

func (drv *acpiDriver) printTableInfo(w io.Writer) {
	for name, header := range drv.tableMap {
		kfmt.Fprintf(w, "%s at 0x%16x %6x (%6s %8s)\n",
			name,
			uintptr(unsafe.Pointer(header)),
			header.Length,
			string(header.OEMID[:]),
			string(header.OEMTableID[:]),
		)
	}
}

// enumerateTables detects and maps all ACPI tables that are present. Besides
// the table list defined by the RSDP, this method will also peek into the
// FADT (if found) looking for the address of DSDT.
func (drv *acpiDriver) enumerateTables(w io.Writer) *kernel.Error {
	header, sizeofHeader, err := mapACPITable(drv.rsdtAddr)
	if err != nil {
		return err
	}

	drv.tableMap = make(map[string]*table.SDTHeader)

	var (
		acpiRev      = header.Revision
		payloadLen   = header.Length - uint32(sizeofHeader)
		sdtAddresses []uintptr
	)

	// RSDT uses 4-byte long pointers whereas the XSDT uses 8-byte long.
	switch drv.useXSDT {
	case true:
		sdtAddresses = make([]uintptr, payloadLen>>3)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+8, i+1 {
			sdtAddresses[i] = uintptr(*(*uint64)(unsafe.Pointer(curPtr)))
		}
	default:
		sdtAddresses = make([]uintptr, payloadLen>>2)
		for curPtr, i := drv.rsdtAddr+sizeofHeader, 0; i < len(sdtAddresses); curPtr, i = curPtr+4, i+1 {
			sdtAddresses[i] = uintptr(*(*uint32)(unsafe.Pointer(curPtr)))
		}
	}

	for _, addr := range sdtAddresses {
		if header, _, err = mapACPITable(addr); err != nil {
			switch err {
			case errTableChecksumMismatch:
				kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
					string(header.Signature[:]),
					uintptr(unsafe.Pointer(header)),
					header.Length,
				)
				continue
			default:
				return err
			}
		}

		signature := string(header.Signature[:])
		drv.tableMap[signature] = header

		// The FADT allows us to lookup the DSDT table address
		if signature == fadtSignature {
			fadt := (*table.FADT)(unsafe.Pointer(header))

			dsdtAddr := uintptr(fadt.Dsdt)
			if acpiRev >= acpiRev2Plus {
				dsdtAddr = uintptr(fadt.Ext.Dsdt)
			}

			if header, _, err = mapACPITable(dsdtAddr); err != nil {
				switch err {
				case errTableChecksumMismatch:
					kfmt.Fprintf(w, "%s at 0x%16x %6x [checksum mismatch; skipping]\n",
						string(header.Signature[:]),
						uintptr(unsafe.Pointer(header)),
						header.Length,
					)
					continue
				default:
					return err
				}
			}

			drv.tableMap[string(header.Signature[:])] = header
		}

	}

	return nil
}

// mapACPITable attempts to map and parse the header for the ACPI table starting
// at the given address. It then uses the length field for the header to expand
// the mapping to cover the table contents and verifies the checksum before
// returning a pointer to the table header.
func mapACPITable(tableAddr uintptr) (header *table.SDTHeader, sizeofHeader uintptr, err *kernel.Error) {
	var headerPage vmm.Page

	// Identity-map the table header so we can access its length field
	sizeofHeader = unsafe.Sizeof(table.SDTHeader{})
	if headerPage, err = identityMapFn(pmm.FrameFromAddress(tableAddr), sizeofHeader, vmm.FlagPresent, &bootstrap.FrameAllocator); err != nil {
		return nil, sizeofHeader, err
	}

	// Expand mapping to cover the table contents
	headerPageAddr := headerPage.Address() + vmm.PageOffset(tableAddr)
	header = (*table.SDTHeader)(unsafe.Pointer(headerPageAddr))
	if _, err = identityMapFn(pmm.FrameFromAddress(tableAddr), uintptr(header.Length), vmm.FlagPresent, &bootstrap.FrameAllocator); err != nil {
		return nil, sizeofHeader, err
	}

	if !validTable(headerPageAddr, header.Length) {
		err = errTableChecksumMismatch
	}

	return header, sizeofHeader, err
}

// locateRSDT asks the Multiboot2 info structure for the RSDP the
// bootloader already located (Multiboot2 tag type 14/15), maps just enough
// of it to validate, and returns the physical address of the RSDT/XSDT it
// points at. Unlike a BIOS boot, this kernel has no real-mode memory to
// scan for "RSD PTR " by the time ACPI probing runs -- paging is already
// live and the bootloader handed the address to us directly.
func locateRSDT() (uintptr, bool, *kernel.Error) {
	rsdpAddr, ok := getRSDPFn()
	if !ok {
		return 0, false, errMissingRSDP
	}

	extSize := unsafe.Sizeof(table.ExtRSDPDescriptor{})
	page, err := identityMapFn(pmm.FrameFromAddress(rsdpAddr), extSize, vmm.FlagPresent, &bootstrap.FrameAllocator)
	if err != nil {
		return 0, false, err
	}
	rsdpPtr := page.Address() + vmm.PageOffset(rsdpAddr)

	rsdp := (*table.RSDPDescriptor)(unsafe.Pointer(rsdpPtr))
	if rsdp.Revision == acpiRev1 {
		if !validTable(rsdpPtr, uint32(unsafe.Sizeof(*rsdp))) {
			return 0, false, errMissingRSDP
		}
		return uintptr(rsdp.RSDTAddr), false, nil
	}

	rsdp2 := (*table.ExtRSDPDescriptor)(unsafe.Pointer(rsdpPtr))
	if !validTable(rsdpPtr, uint32(unsafe.Sizeof(*rsdp2))) {
		return 0, false, errMissingRSDP
	}

	return uintptr(rsdp2.XSDTAddr), true, nil
}

// validTable calculates the checksum for an ACPI table of length tableLength
// that starts at tablePtr and returns true if the table is valid.
func validTable(tablePtr uintptr, tableLength uint32) bool {
	var (
		i   uint32
		sum uint8
	)

	for i = 0; i < tableLength; i++ {
		sum += *(*uint8)(unsafe.Pointer(tablePtr + uintptr(i)))
	}

	return sum == 0
}

func probeForACPI() device.Driver {
	if rsdtAddr, useXSDT, err := locateRSDT(); err == nil {
		return &acpiDriver{
			rsdtAddr: rsdtAddr,
			useXSDT:  useXSDT,
		}
	}

	return nil
}

func init() {
	device.RegisterDriver(&device.DriverInfo{
		Order: device.DetectOrderBeforeACPI,
		Probe: probeForACPI,
	})
}
