package acpi

import (
	"unsafe"

	"github.com/mdgaziur/ferricoxide-os/device/acpi/table"
	"github.com/mdgaziur/ferricoxide-os/kernel"
)

// madtInfo collects everything the MADT (Multiple APIC Description Table)
// describes about the system's interrupt controllers.
type madtInfo struct {
	localAPICAddr uint32
	localAPICs    []table.MADTEntryLocalAPIC
	ioAPICs       []table.MADTEntryIOAPIC
	overrides     []table.MADTEntryInterruptSrcOverride
	nmis          []table.MADTEntryNMI
}

// parseMADT walks the variable-length record list that follows madt's fixed
// header, classifying each record by its 2-byte type/length union
// discriminator (table.MADTEntry) until the table's declared length is
// consumed.
func parseMADT(madt *table.MADT) (madtInfo, *kernel.Error) {
	info := madtInfo{localAPICAddr: madt.LocalControllerAddress}

	tableStart := uintptr(unsafe.Pointer(madt))
	tableEnd := tableStart + uintptr(madt.Length)
	cursor := tableStart + unsafe.Sizeof(table.MADT{})

	for cursor < tableEnd {
		entry := (*table.MADTEntry)(unsafe.Pointer(cursor))
		if entry.Length == 0 {
			// Malformed record; nothing to advance by, bail out rather
			// than spin.
			break
		}

		payload := cursor + unsafe.Sizeof(table.MADTEntry{})
		switch entry.Type {
		case table.MADTEntryTypeLocalAPIC:
			info.localAPICs = append(info.localAPICs, *(*table.MADTEntryLocalAPIC)(unsafe.Pointer(payload)))
		case table.MADTEntryTypeIOAPIC:
			info.ioAPICs = append(info.ioAPICs, *(*table.MADTEntryIOAPIC)(unsafe.Pointer(payload)))
		case table.MADTEntryTypeIntSrcOverride:
			info.overrides = append(info.overrides, *(*table.MADTEntryInterruptSrcOverride)(unsafe.Pointer(payload)))
		case table.MADTEntryTypeNMI:
			info.nmis = append(info.nmis, *(*table.MADTEntryNMI)(unsafe.Pointer(payload)))
		}

		cursor += uintptr(entry.Length)
	}

	return info, nil
}
