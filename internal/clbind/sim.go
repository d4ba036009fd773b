package clbind

import (
	"encoding/binary"
	"fmt"
	"sync"
)

// simWorkGroupSize is the fixed preferred workgroup size the simulated
// device reports. The scheduler only uses it to size launches; simulated
// execution is sequential either way.
const simWorkGroupSize = 64

// OpKind labels one entry in the simulated runtime's operation journal.
type OpKind string

const (
	OpWrite  OpKind = "write"
	OpRead   OpKind = "read"
	OpLaunch OpKind = "launch"
	OpFlush  OpKind = "flush"
)

// Op records one enqueued operation on a simulated queue, in enqueue order.
type Op struct {
	Kind     OpKind
	Buffer   Buffer // transfer target/source, nil for launch/flush
	Kernel   Kernel // nil except for launch
	Blocking bool
	Bytes    int
}

// SimRuntime is a pure-Go accelerator that executes the pir kernel directly
// on host memory. The queue is in-order and operations complete at enqueue
// time, which preserves the semantics the engine relies on while letting
// tests run without a device. Every enqueue is recorded in a journal so
// tests can assert the overlap discipline of the scheduler.
type SimRuntime struct {
	mu      sync.Mutex
	journal []Op

	// Fault, when set, is returned by the next enqueue and cleared.
	fault error
}

// NewSim creates a simulated runtime with one device.
func NewSim() *SimRuntime {
	return &SimRuntime{}
}

// Devices returns the single simulated device.
func (r *SimRuntime) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{Index: 0, Name: "simulated accelerator"}}, nil
}

// Open creates a context on the simulated device.
func (r *SimRuntime) Open(index int) (Context, error) {
	if index != 0 {
		return nil, fmt.Errorf("clbind: no device at index %d", index)
	}
	return &simContext{rt: r}, nil
}

// Journal returns a copy of the operations enqueued so far, in order.
func (r *SimRuntime) Journal() []Op {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Op, len(r.journal))
	copy(out, r.journal)
	return out
}

// ResetJournal discards the recorded operations.
func (r *SimRuntime) ResetJournal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.journal = nil
}

// InjectFault makes the next enqueued operation fail with err.
func (r *SimRuntime) InjectFault(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fault = err
}

func (r *SimRuntime) record(op Op) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fault != nil {
		err := r.fault
		r.fault = nil
		return err
	}
	r.journal = append(r.journal, op)
	return nil
}

type simContext struct {
	rt *SimRuntime
}

func (c *simContext) NewQueue() (Queue, error) {
	return &simQueue{rt: c.rt}, nil
}

func (c *simContext) Compile(source string) (Program, error) {
	if source == "" {
		return nil, fmt.Errorf("clbind: empty program source")
	}
	return &simProgram{rt: c.rt}, nil
}

func (c *simContext) AllocDevice(mode MemMode, size int) (Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("clbind: invalid buffer size %d", size)
	}
	return &simBuffer{data: make([]byte, size)}, nil
}

func (c *simContext) AllocPinned(mode MemMode, size int) (Pinned, error) {
	if size <= 0 {
		return nil, fmt.Errorf("clbind: invalid buffer size %d", size)
	}
	return &simBuffer{data: make([]byte, size)}, nil
}

func (c *simContext) Release() {}

type simProgram struct {
	rt *SimRuntime
}

func (p *simProgram) Kernel(name string) (Kernel, error) {
	if name != "pir" {
		return nil, fmt.Errorf("clbind: unknown kernel %q", name)
	}
	return &simKernel{
		bufs: make(map[int]*simBuffer),
		u32s: make(map[int]uint32),
	}, nil
}

func (p *simProgram) Release() {}

type simBuffer struct {
	data []byte
}

func (b *simBuffer) Size() int     { return len(b.data) }
func (b *simBuffer) Bytes() []byte { return b.data }
func (b *simBuffer) Release()      { b.data = nil }

type simKernel struct {
	bufs      map[int]*simBuffer
	u32s      map[int]uint32
	localSize int
}

func (k *simKernel) SetArgBuffer(index int, buf Buffer) error {
	sb, ok := buf.(*simBuffer)
	if !ok {
		return fmt.Errorf("clbind: foreign buffer bound to simulated kernel")
	}
	k.bufs[index] = sb
	return nil
}

func (k *simKernel) SetArgLocal(index, size int) error {
	k.localSize = size
	return nil
}

func (k *simKernel) SetArgUint32(index int, value uint32) error {
	k.u32s[index] = value
	return nil
}

func (k *simKernel) WorkGroupSize() (int, error) {
	return simWorkGroupSize, nil
}

func (k *simKernel) Release() {}

// run evaluates the pir kernel for groups workgroups. Argument layout
// matches the device kernel: 0 database, 1 mask, 2 local scratch, 3 database
// word count, 4 words per cell, 5 output.
func (k *simKernel) run(groups int) error {
	db, mask, out := k.bufs[0], k.bufs[1], k.bufs[5]
	if db == nil || mask == nil || out == nil {
		return fmt.Errorf("clbind: kernel launched with unbound buffer arguments")
	}
	dbWords := int(k.u32s[3])
	cellWords := int(k.u32s[4])
	if cellWords == 0 || dbWords%cellWords != 0 {
		return fmt.Errorf("clbind: kernel launched with inconsistent word counts")
	}
	cells := dbWords / cellWords

	scratch := make([]uint64, cellWords)
	for g := 0; g < groups; g++ {
		maskOffset := g * cells / 8
		for i := range scratch {
			scratch[i] = 0
		}
		for o := 0; o < dbWords; o++ {
			cell := o / cellWords
			bit := uint64(mask.data[maskOffset+cell/8]>>(cell%8)) & 1
			word := binary.LittleEndian.Uint64(db.data[o*8:])
			scratch[o%cellWords] ^= (-bit) & word
		}
		for i, w := range scratch {
			binary.LittleEndian.PutUint64(out.data[(g*cellWords+i)*8:], w)
		}
	}
	return nil
}

type simQueue struct {
	rt *SimRuntime
}

func (q *simQueue) Write(dst Buffer, src []byte, blocking bool) error {
	sb, ok := dst.(*simBuffer)
	if !ok {
		return fmt.Errorf("clbind: foreign buffer on simulated queue")
	}
	if err := q.rt.record(Op{Kind: OpWrite, Buffer: dst, Blocking: blocking, Bytes: len(src)}); err != nil {
		return err
	}
	copy(sb.data, src)
	return nil
}

func (q *simQueue) Read(src Buffer, dst []byte, blocking bool) error {
	sb, ok := src.(*simBuffer)
	if !ok {
		return fmt.Errorf("clbind: foreign buffer on simulated queue")
	}
	if err := q.rt.record(Op{Kind: OpRead, Buffer: src, Blocking: blocking, Bytes: len(dst)}); err != nil {
		return err
	}
	copy(dst, sb.data)
	return nil
}

func (q *simQueue) Launch(k Kernel, total, local int) error {
	sk, ok := k.(*simKernel)
	if !ok {
		return fmt.Errorf("clbind: foreign kernel on simulated queue")
	}
	if local <= 0 || total%local != 0 {
		return fmt.Errorf("clbind: launch of %d threads not divisible into groups of %d", total, local)
	}
	if err := q.rt.record(Op{Kind: OpLaunch, Kernel: k}); err != nil {
		return err
	}
	return sk.run(total / local)
}

func (q *simQueue) Flush() error {
	return q.rt.record(Op{Kind: OpFlush})
}

func (q *simQueue) Release() {}

// Compile-time interface checks
var (
	_ Runtime = (*SimRuntime)(nil)
	_ Context = (*simContext)(nil)
	_ Queue   = (*simQueue)(nil)
	_ Kernel  = (*simKernel)(nil)
	_ Pinned  = (*simBuffer)(nil)
)
