package pipeline

import (
	"fmt"
	"io"

	"github.com/ehrlich-b/go-pir/internal/clbind"
)

// Pair is the two-pipeline scheduler. The pipelines share the device
// database and program but own disjoint buffer and kernel triples; strict
// alternation overlaps one pipeline's transfer and compute with the other's
// socket I/O. Exactly two pipelines, by construction.
type Pair struct {
	queue clbind.Queue
	pipes [2]*Pipeline
	next  int
	geo   Geometry
	local int // workgroup size for launches
}

// NewPair builds both pipelines against the shared database buffer and
// queries the device's preferred workgroup size for the compiled kernel.
func NewPair(ctx clbind.Context, queue clbind.Queue, prog clbind.Program, db clbind.Buffer, geo Geometry) (*Pair, error) {
	pr := &Pair{queue: queue, geo: geo}
	for i := range pr.pipes {
		p, err := newPipeline(ctx, prog, db, geo)
		if err != nil {
			pr.Release()
			return nil, err
		}
		pr.pipes[i] = p
	}
	local, err := pr.pipes[0].kern.WorkGroupSize()
	if err != nil {
		pr.Release()
		return nil, fmt.Errorf("pipeline: query workgroup size: %w", err)
	}
	pr.local = local
	return pr, nil
}

// WorkGroupSize returns the launch workgroup size in use.
func (pr *Pair) WorkGroupSize() int { return pr.local }

// Serve evaluates one read command: prime the next pipeline off the
// channel, drain it, and flip. A response written during the drain belongs
// to an earlier query on the same pipeline; in steady state responses trail
// their queries by two commands and are flushed by Drain.
func (pr *Pair) Serve(rw io.ReadWriter) error {
	p := pr.pipes[pr.next]
	if err := p.prime(pr.queue, rw); err != nil {
		return err
	}
	if err := p.drain(pr.queue, rw, pr.local*pr.geo.BatchSize, pr.local); err != nil {
		return err
	}
	pr.next ^= 1
	return nil
}

// Busy reports whether either pipeline holds residual state.
func (pr *Pair) Busy() bool {
	for _, p := range pr.pipes {
		if p != nil && p.busy() {
			return true
		}
	}
	return false
}

// Drain flushes the queue and drains each pipeline twice, in alternation
// order, writing any residual responses to w. Four drains empty both
// pipelines from any reachable state.
func (pr *Pair) Drain(w io.Writer) error {
	if err := pr.queue.Flush(); err != nil {
		return &DeviceError{Op: "flush", Err: err}
	}
	for i := 0; i < 2*len(pr.pipes); i++ {
		p := pr.pipes[pr.next]
		if err := p.drain(pr.queue, w, pr.local*pr.geo.BatchSize, pr.local); err != nil {
			return err
		}
		pr.next ^= 1
	}
	return nil
}

// Release frees both pipelines. The shared queue, program and database are
// owned by the engine and outlive the pair.
func (pr *Pair) Release() {
	for i, p := range pr.pipes {
		if p != nil {
			p.release()
			pr.pipes[i] = nil
		}
	}
}
