//go:build opencl

package clbind

import (
	"fmt"
	"unsafe"

	"github.com/jgillich/go-opencl/cl"
)

// openclRuntime binds the interface to a real OpenCL platform. Enumeration
// covers all devices of the first platform, matching the daemon's -l output
// ordering.
type openclRuntime struct{}

// NewOpenCL creates a runtime over the host's OpenCL installation.
func NewOpenCL() (Runtime, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, fmt.Errorf("clbind: no OpenCL platform: %w", err)
	}
	if len(platforms) == 0 {
		return nil, fmt.Errorf("clbind: no OpenCL platform")
	}
	return &openclRuntime{}, nil
}

func (r *openclRuntime) devices() ([]*cl.Device, error) {
	platforms, err := cl.GetPlatforms()
	if err != nil {
		return nil, err
	}
	return platforms[0].GetDevices(cl.DeviceTypeAll)
}

func (r *openclRuntime) Devices() ([]DeviceInfo, error) {
	devices, err := r.devices()
	if err != nil {
		return nil, err
	}
	infos := make([]DeviceInfo, len(devices))
	for i, d := range devices {
		infos[i] = DeviceInfo{Index: i, Name: d.Name()}
	}
	return infos, nil
}

func (r *openclRuntime) Open(index int) (Context, error) {
	devices, err := r.devices()
	if err != nil {
		return nil, err
	}
	if index < 0 || index >= len(devices) {
		return nil, fmt.Errorf("clbind: no device at index %d", index)
	}
	device := devices[index]
	ctx, err := cl.CreateContext([]*cl.Device{device})
	if err != nil {
		return nil, fmt.Errorf("clbind: create context: %w", err)
	}
	return &openclContext{ctx: ctx, device: device}, nil
}

type openclContext struct {
	ctx    *cl.Context
	device *cl.Device
}

func (c *openclContext) NewQueue() (Queue, error) {
	q, err := c.ctx.CreateCommandQueue(c.device, 0)
	if err != nil {
		return nil, fmt.Errorf("clbind: create queue: %w", err)
	}
	return &openclQueue{q: q, ctx: c}, nil
}

func (c *openclContext) Compile(source string) (Program, error) {
	prog, err := c.ctx.CreateProgramWithSource([]string{source})
	if err != nil {
		return nil, fmt.Errorf("clbind: create program: %w", err)
	}
	if err := prog.BuildProgram(nil, ""); err != nil {
		prog.Release()
		return nil, fmt.Errorf("clbind: build program: %w", err)
	}
	return &openclProgram{prog: prog, ctx: c}, nil
}

func memFlags(mode MemMode) cl.MemFlag {
	if mode == MemWrite {
		return cl.MemWriteOnly
	}
	return cl.MemReadOnly
}

func (c *openclContext) AllocDevice(mode MemMode, size int) (Buffer, error) {
	mem, err := c.ctx.CreateEmptyBuffer(memFlags(mode), size)
	if err != nil {
		return nil, fmt.Errorf("clbind: device alloc of %d bytes: %w", size, err)
	}
	return &openclBuffer{mem: mem, size: size}, nil
}

// AllocPinned allocates a host-allocated buffer and maps it once for the
// lifetime of the buffer. The map direction follows the access mode: masks
// are written by the host, responses are read by it.
func (c *openclContext) AllocPinned(mode MemMode, size int) (Pinned, error) {
	mem, err := c.ctx.CreateEmptyBuffer(memFlags(mode)|cl.MemAllocHostPtr, size)
	if err != nil {
		return nil, fmt.Errorf("clbind: pinned alloc of %d bytes: %w", size, err)
	}

	q, err := c.ctx.CreateCommandQueue(c.device, 0)
	if err != nil {
		mem.Release()
		return nil, fmt.Errorf("clbind: map queue: %w", err)
	}
	defer q.Release()

	mapFlag := cl.MapFlagWrite
	if mode == MemWrite {
		mapFlag = cl.MapFlagRead
	}
	mapped, _, err := q.EnqueueMapBuffer(mem, true, mapFlag, 0, size, nil)
	if err != nil {
		mem.Release()
		return nil, fmt.Errorf("clbind: map pinned buffer: %w", err)
	}
	return &openclPinned{
		openclBuffer: openclBuffer{mem: mem, size: size},
		host:         mapped.ByteSlice(),
	}, nil
}

func (c *openclContext) Release() {
	c.ctx.Release()
}

type openclProgram struct {
	prog *cl.Program
	ctx  *openclContext
}

func (p *openclProgram) Kernel(name string) (Kernel, error) {
	k, err := p.prog.CreateKernel(name)
	if err != nil {
		return nil, fmt.Errorf("clbind: create kernel %q: %w", name, err)
	}
	return &openclKernel{k: k, device: p.ctx.device}, nil
}

func (p *openclProgram) Release() {
	p.prog.Release()
}

type openclBuffer struct {
	mem  *cl.MemObject
	size int
}

func (b *openclBuffer) Size() int { return b.size }
func (b *openclBuffer) Release()  { b.mem.Release() }

type openclPinned struct {
	openclBuffer
	host []byte
}

func (b *openclPinned) Bytes() []byte { return b.host }

type openclKernel struct {
	k      *cl.Kernel
	device *cl.Device
}

func (k *openclKernel) SetArgBuffer(index int, buf Buffer) error {
	ob, ok := buf.(interface{ memObject() *cl.MemObject })
	if !ok {
		return fmt.Errorf("clbind: foreign buffer bound to OpenCL kernel")
	}
	return k.k.SetArg(index, ob.memObject())
}

func (b *openclBuffer) memObject() *cl.MemObject { return b.mem }

func (k *openclKernel) SetArgLocal(index, size int) error {
	return k.k.SetArg(index, cl.LocalBuffer(size))
}

func (k *openclKernel) SetArgUint32(index int, value uint32) error {
	return k.k.SetArg(index, value)
}

func (k *openclKernel) WorkGroupSize() (int, error) {
	return k.k.WorkGroupSize(k.device)
}

func (k *openclKernel) Release() {
	k.k.Release()
}

type openclQueue struct {
	q   *cl.CommandQueue
	ctx *openclContext
}

func (q *openclQueue) Write(dst Buffer, src []byte, blocking bool) error {
	ob, ok := dst.(interface{ memObject() *cl.MemObject })
	if !ok {
		return fmt.Errorf("clbind: foreign buffer on OpenCL queue")
	}
	_, err := q.q.EnqueueWriteBuffer(ob.memObject(), blocking, 0, len(src), unsafe.Pointer(&src[0]), nil)
	return err
}

func (q *openclQueue) Read(src Buffer, dst []byte, blocking bool) error {
	ob, ok := src.(interface{ memObject() *cl.MemObject })
	if !ok {
		return fmt.Errorf("clbind: foreign buffer on OpenCL queue")
	}
	_, err := q.q.EnqueueReadBuffer(ob.memObject(), blocking, 0, len(dst), unsafe.Pointer(&dst[0]), nil)
	return err
}

func (q *openclQueue) Launch(k Kernel, total, local int) error {
	ck, ok := k.(*openclKernel)
	if !ok {
		return fmt.Errorf("clbind: foreign kernel on OpenCL queue")
	}
	_, err := q.q.EnqueueNDRangeKernel(ck.k, nil, []int{total}, []int{local}, nil)
	return err
}

func (q *openclQueue) Flush() error {
	return q.q.Finish()
}

func (q *openclQueue) Release() {
	q.q.Release()
}
