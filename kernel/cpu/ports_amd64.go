package cpu

// InB reads a single byte from the given I/O port.
func InB(port uint16) uint8

// OutB writes a single byte to the given I/O port.
func OutB(port uint16, value uint8)

// InW reads a 16-bit word from the given I/O port.
func InW(port uint16) uint16

// OutW writes a 16-bit word to the given I/O port.
func OutW(port uint16, value uint16)

// InL reads a 32-bit double word from the given I/O port.
func InL(port uint16) uint32

// OutL writes a 32-bit double word to the given I/O port.
func OutL(port uint16, value uint32)

// ReadMSR returns the 64-bit value of the model-specific register msr.
func ReadMSR(msr uint32) uint64

// WriteMSR writes value into the model-specific register msr.
func WriteMSR(msr uint32, value uint64)
