// Package clbind abstracts the data-parallel compute runtime behind the
// query engine: device enumeration, context and in-order queue creation,
// program compilation, buffer allocation, and asynchronous transfers and
// kernel launches.
package clbind

import "errors"

// ErrRuntimeUnavailable is returned by runtime constructors when the binary
// was built without the corresponding accelerator support.
var ErrRuntimeUnavailable = errors.New("accelerator runtime unavailable in this build")

// DeviceInfo identifies one enumerable compute device.
type DeviceInfo struct {
	Index int
	Name  string
}

// MemMode selects the device-side access mode of an allocation.
type MemMode int

const (
	MemRead  MemMode = iota // device reads, host writes
	MemWrite                // device writes, host reads
)

// Runtime enumerates devices and opens compute contexts on them.
type Runtime interface {
	// Devices returns the compute devices in a stable enumeration order.
	Devices() ([]DeviceInfo, error)

	// Open creates a compute context on the device at the given index.
	Open(index int) (Context, error)
}

// Context owns device resources. Queues, programs and buffers created from a
// context must be released before the context itself.
type Context interface {
	// NewQueue creates an in-order command queue on the context's device.
	// Operations enqueued on it produce their effects in queue order.
	NewQueue() (Queue, error)

	// Compile builds a program from kernel source.
	Compile(source string) (Program, error)

	// AllocDevice allocates a device-resident buffer.
	AllocDevice(mode MemMode, size int) (Buffer, error)

	// AllocPinned allocates a host-mappable buffer and maps it for host
	// access. The mapping stays valid until the buffer is released.
	AllocPinned(mode MemMode, size int) (Pinned, error)

	// Release frees the context.
	Release()
}

// Program is a compiled kernel program.
type Program interface {
	// Kernel instantiates the named kernel from the program.
	Kernel(name string) (Kernel, error)
	Release()
}

// Kernel is an instantiated kernel with per-instance argument bindings.
type Kernel interface {
	SetArgBuffer(index int, buf Buffer) error
	SetArgLocal(index int, size int) error
	SetArgUint32(index int, value uint32) error

	// WorkGroupSize returns the device's preferred workgroup size for this
	// kernel.
	WorkGroupSize() (int, error)
	Release()
}

// Queue is an in-order command queue. Non-blocking enqueues return
// immediately; a blocking enqueue returns once the operation (and, on an
// in-order queue, everything enqueued before it) has completed.
type Queue interface {
	// Write enqueues a host-to-device copy of src into dst.
	Write(dst Buffer, src []byte, blocking bool) error

	// Read enqueues a device-to-host copy of src into dst.
	Read(src Buffer, dst []byte, blocking bool) error

	// Launch enqueues a kernel over total threads in workgroups of local.
	Launch(k Kernel, total, local int) error

	// Flush blocks until every enqueued operation has completed.
	Flush() error
	Release()
}

// Buffer is a device-side allocation.
type Buffer interface {
	Size() int
	Release()
}

// Pinned is a host-mapped buffer. Bytes returns the host view; the caller
// must not touch it while a transfer referencing the buffer is in flight.
type Pinned interface {
	Buffer
	Bytes() []byte
}
