// Package device defines the driver interface implemented by all hardware
// collaborators (console, tty, ACPI, APIC...) together with a priority-
// ordered registry that the HAL uses to probe and initialize them.
package device

import (
	"io"
	"sort"

	"github.com/mdgaziur/ferricoxide-os/kernel"
)

// Driver is an interface implemented by all drivers.
type Driver interface {
	// DriverName returns the name of the driver.
	DriverName() string

	// DriverVersion returns the driver version.
	DriverVersion() (major uint16, minor uint16, patch uint16)

	// DriverInit initializes the device driver. Diagnostic output is
	// written to w.
	DriverInit(w io.Writer) *kernel.Error
}

// ProbeFn attempts to detect a particular piece of hardware and, if
// successful, returns a Driver instance for it. It returns nil if the
// hardware is not present.
type ProbeFn func() Driver

// DetectOrder specifies the relative order in which a driver's probe
// function is invoked by the HAL.
type DetectOrder uint8

// The list of supported detection order values.
const (
	DetectOrderEarly DetectOrder = iota
	DetectOrderBeforeACPI
	DetectOrderACPI
	DetectOrderAfterACPI
	DetectOrderLast
)

// DriverInfo bundles a probe function together with its detection priority.
type DriverInfo struct {
	// Order controls when Probe is invoked relative to other drivers.
	Order DetectOrder

	// Probe attempts to detect and initialize the driver's hardware.
	Probe ProbeFn
}

// DriverInfoList is a sortable list of DriverInfo entries, ordered by Order.
type DriverInfoList []*DriverInfo

func (l DriverInfoList) Len() int           { return len(l) }
func (l DriverInfoList) Less(i, j int) bool { return l[i].Order < l[j].Order }
func (l DriverInfoList) Swap(i, j int)      { l[i], l[j] = l[j], l[i] }

var registeredDrivers DriverInfoList

// RegisterDriver appends info to the list of known drivers. Packages that
// implement a Driver are expected to call RegisterDriver from an init()
// block.
func RegisterDriver(info *DriverInfo) {
	registeredDrivers = append(registeredDrivers, info)
}

// DriverList returns the list of registered drivers sorted by detection
// order.
func DriverList() DriverInfoList {
	sort.Sort(registeredDrivers)
	return registeredDrivers
}
