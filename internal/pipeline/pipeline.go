package pipeline

import (
	"fmt"
	"io"

	"github.com/ehrlich-b/go-pir/internal/clbind"
	"github.com/ehrlich-b/go-pir/internal/wire"
)

// DeviceError marks a failure of an enqueued device operation. The engine
// treats these as poisoning: the accelerator state is unknown until the next
// configure rebuilds it.
type DeviceError struct {
	Op  string
	Err error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("pipeline: device %s failed: %v", e.Op, e.Err)
}

func (e *DeviceError) Unwrap() error { return e.Err }

// Pipeline is one complete set of resources for evaluating a batch: pinned
// host staging buffers, their device counterparts, and a kernel instance
// with arguments bound once at construction. The two latches encode its
// state: empty, primed (inputLoaded), computing (outputDirty), or full
// (both).
type Pipeline struct {
	hostIn  clbind.Pinned
	hostOut clbind.Pinned
	devIn   clbind.Buffer
	devOut  clbind.Buffer
	kern    clbind.Kernel

	inputLoaded bool
	outputDirty bool
}

// newPipeline allocates the buffer set and binds the kernel arguments.
// The device database and program are shared across pipelines; everything
// else is owned.
func newPipeline(ctx clbind.Context, prog clbind.Program, db clbind.Buffer, geo Geometry) (*Pipeline, error) {
	p := &Pipeline{}
	ok := false
	defer func() {
		if !ok {
			p.release()
		}
	}()

	var err error
	if p.hostIn, err = ctx.AllocPinned(clbind.MemRead, geo.MaskBytes()); err != nil {
		return nil, fmt.Errorf("pipeline: pinned input: %w", err)
	}
	if p.devIn, err = ctx.AllocDevice(clbind.MemRead, geo.MaskBytes()); err != nil {
		return nil, fmt.Errorf("pipeline: device input: %w", err)
	}
	if p.hostOut, err = ctx.AllocPinned(clbind.MemWrite, geo.ResponseBytes()); err != nil {
		return nil, fmt.Errorf("pipeline: pinned output: %w", err)
	}
	if p.devOut, err = ctx.AllocDevice(clbind.MemWrite, geo.ResponseBytes()); err != nil {
		return nil, fmt.Errorf("pipeline: device output: %w", err)
	}
	if p.kern, err = prog.Kernel(KernelName); err != nil {
		return nil, err
	}

	if err = p.kern.SetArgBuffer(argDatabase, db); err == nil {
		err = p.kern.SetArgBuffer(argMask, p.devIn)
	}
	if err == nil {
		err = p.kern.SetArgLocal(argScratch, geo.CellLength)
	}
	if err == nil {
		err = p.kern.SetArgUint32(argDBWords, uint32(geo.DatabaseWords()))
	}
	if err == nil {
		err = p.kern.SetArgUint32(argCellWords, uint32(geo.WordsPerCell()))
	}
	if err == nil {
		err = p.kern.SetArgBuffer(argOutput, p.devOut)
	}
	if err != nil {
		return nil, fmt.Errorf("pipeline: bind kernel arguments: %w", err)
	}

	ok = true
	return p, nil
}

// prime reads one mask off the channel into the pinned input and enqueues
// the transfer to the device. Only legal when no input is staged.
func (p *Pipeline) prime(q clbind.Queue, r io.Reader) error {
	if p.inputLoaded {
		return fmt.Errorf("pipeline: prime on a primed pipeline")
	}
	if err := wire.ReadFull(r, p.hostIn.Bytes()); err != nil {
		return err
	}
	if err := q.Write(p.devIn, p.hostIn.Bytes(), false); err != nil {
		return &DeviceError{Op: "input write", Err: err}
	}
	p.inputLoaded = true
	return nil
}

// drain advances the pipeline one step: read back the previous result if one
// is in flight, launch the staged batch if one is primed, then perform the
// socket write. The blocking read-back is deliberately placed before the
// launch so the launch is already enqueued while the host loops on the
// socket write.
func (p *Pipeline) drain(q clbind.Queue, w io.Writer, total, local int) error {
	send := false
	if p.outputDirty {
		if err := q.Read(p.devOut, p.hostOut.Bytes(), true); err != nil {
			return &DeviceError{Op: "output read", Err: err}
		}
		p.outputDirty = false
		send = true
	}
	if p.inputLoaded {
		if err := q.Launch(p.kern, total, local); err != nil {
			return &DeviceError{Op: "launch", Err: err}
		}
		p.outputDirty = true
		p.inputLoaded = false
	}
	if send {
		if err := wire.WriteFull(w, p.hostOut.Bytes()); err != nil {
			return err
		}
	}
	return nil
}

// busy reports whether the pipeline holds staged input or an in-flight
// result.
func (p *Pipeline) busy() bool {
	return p.inputLoaded || p.outputDirty
}

func (p *Pipeline) release() {
	if p.kern != nil {
		p.kern.Release()
	}
	if p.devOut != nil {
		p.devOut.Release()
	}
	if p.hostOut != nil {
		p.hostOut.Release()
	}
	if p.devIn != nil {
		p.devIn.Release()
	}
	if p.hostIn != nil {
		p.hostIn.Release()
	}
	*p = Pipeline{}
}
