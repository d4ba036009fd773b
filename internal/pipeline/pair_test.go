package pipeline

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/ehrlich-b/go-pir/internal/clbind"
)

type readWriter struct {
	io.Reader
	io.Writer
}

type pairHarness struct {
	rt    *clbind.SimRuntime
	queue clbind.Queue
	db    clbind.Buffer
	pair  *Pair
	geo   Geometry
}

func newPairHarness(t *testing.T, geo Geometry, db []byte) *pairHarness {
	t.Helper()

	rt := clbind.NewSim()
	ctx, err := rt.Open(0)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	queue, err := ctx.NewQueue()
	if err != nil {
		t.Fatalf("queue: %v", err)
	}
	prog, err := ctx.Compile(KernelSource)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	devDB, err := ctx.AllocDevice(clbind.MemRead, geo.DatabaseBytes())
	if err != nil {
		t.Fatalf("alloc db: %v", err)
	}
	if err := queue.Write(devDB, db, true); err != nil {
		t.Fatalf("install db: %v", err)
	}
	pair, err := NewPair(ctx, queue, prog, devDB, geo)
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	return &pairHarness{rt: rt, queue: queue, db: devDB, pair: pair, geo: geo}
}

// serve runs one read command with the given mask, collecting whatever
// response bytes the scheduler emits into out.
func (h *pairHarness) serve(t *testing.T, mask []byte, out *bytes.Buffer) {
	t.Helper()
	if err := h.pair.Serve(readWriter{bytes.NewReader(mask), out}); err != nil {
		t.Fatalf("serve: %v", err)
	}
}

// countingDB builds a database where cell i holds i as a little-endian
// word, repeated across the cell.
func countingDB(geo Geometry) []byte {
	db := make([]byte, geo.DatabaseBytes())
	for i := 0; i < geo.CellCount; i++ {
		for w := 0; w < geo.WordsPerCell(); w++ {
			binary.LittleEndian.PutUint64(db[(i*geo.WordsPerCell()+w)*WordSize:], uint64(i))
		}
	}
	return db
}

func TestServeEmitsResponsesWithPipelineLag(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	var out bytes.Buffer
	h.serve(t, []byte{0x02}, &out) // query 1: cell 1
	if out.Len() != 0 {
		t.Fatalf("response emitted before steady state: %d bytes", out.Len())
	}
	h.serve(t, []byte{0x04}, &out) // query 2: cell 2
	if out.Len() != 0 {
		t.Fatalf("response emitted before steady state: %d bytes", out.Len())
	}
	h.serve(t, []byte{0x08}, &out) // query 3: cell 3

	// Query 3's drain read back query 1's result.
	if out.Len() != geo.ResponseBytes() {
		t.Fatalf("got %d response bytes, want %d", out.Len(), geo.ResponseBytes())
	}
	if got := binary.LittleEndian.Uint64(out.Bytes()); got != 1 {
		t.Errorf("first response = %d, want cell 1", got)
	}
}

func TestDrainFlushesResidualInOrder(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	var out bytes.Buffer
	for _, mask := range [][]byte{{0x02}, {0x04}, {0x08}} {
		h.serve(t, mask, &out)
	}
	if !h.pair.Busy() {
		t.Fatal("pair should be busy with two in-flight batches")
	}
	if err := h.pair.Drain(&out); err != nil {
		t.Fatalf("drain: %v", err)
	}
	if h.pair.Busy() {
		t.Error("pair still busy after drain")
	}

	if out.Len() != 3*geo.ResponseBytes() {
		t.Fatalf("got %d bytes after drain, want %d", out.Len(), 3*geo.ResponseBytes())
	}
	for i, want := range []uint64{1, 2, 3} {
		got := binary.LittleEndian.Uint64(out.Bytes()[i*geo.ResponseBytes():])
		if got != want {
			t.Errorf("response %d = %d, want %d", i, got, want)
		}
	}
}

func TestDrainOrderReadBackBeforeLaunch(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	var out bytes.Buffer
	h.serve(t, []byte{0x01}, &out)
	h.serve(t, []byte{0x01}, &out)
	h.rt.ResetJournal()
	h.serve(t, []byte{0x01}, &out) // steady state on pipeline 0

	ops := h.rt.Journal()
	if len(ops) != 3 {
		t.Fatalf("journal has %d ops, want 3", len(ops))
	}
	p0 := h.pair.pipes[0]
	if ops[0].Kind != clbind.OpWrite || ops[0].Buffer != p0.devIn || ops[0].Blocking {
		t.Errorf("op 0: want non-blocking write of pipeline 0 input, got %+v", ops[0])
	}
	if ops[1].Kind != clbind.OpRead || ops[1].Buffer != p0.devOut || !ops[1].Blocking {
		t.Errorf("op 1: want blocking read of pipeline 0 output, got %+v", ops[1])
	}
	if ops[2].Kind != clbind.OpLaunch || ops[2].Kernel != p0.kern {
		t.Errorf("op 2: want launch of pipeline 0 kernel, got %+v", ops[2])
	}
}

func TestServeAlternatesPipelines(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	var out bytes.Buffer
	h.rt.ResetJournal()
	for i := 0; i < 4; i++ {
		h.serve(t, []byte{0x01}, &out)
	}

	var launches []clbind.Kernel
	for _, op := range h.rt.Journal() {
		if op.Kind == clbind.OpLaunch {
			launches = append(launches, op.Kernel)
		}
	}
	if len(launches) != 4 {
		t.Fatalf("got %d launches, want 4", len(launches))
	}
	k0, k1 := h.pair.pipes[0].kern, h.pair.pipes[1].kern
	want := []clbind.Kernel{k0, k1, k0, k1}
	for i := range want {
		if launches[i] != want[i] {
			t.Errorf("launch %d on wrong pipeline", i)
		}
	}
}

func TestDrainFlushesQueueFirst(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	var out bytes.Buffer
	h.serve(t, []byte{0x01}, &out)
	h.rt.ResetJournal()
	if err := h.pair.Drain(&out); err != nil {
		t.Fatalf("drain: %v", err)
	}
	ops := h.rt.Journal()
	if len(ops) == 0 || ops[0].Kind != clbind.OpFlush {
		t.Fatalf("drain should flush the queue first, journal: %+v", ops)
	}
}

func TestBatchedServe(t *testing.T) {
	geo := Geometry{CellLength: 16, CellCount: 8, BatchSize: 2}
	h := newPairHarness(t, geo, countingDB(geo))

	// slot 0 selects cell 5, slot 1 selects cells 1 and 2
	mask := make([]byte, geo.MaskBytes())
	mask[0] = 0x20
	mask[1] = 0x06

	var out bytes.Buffer
	h.serve(t, mask, &out)
	if err := h.pair.Drain(&out); err != nil {
		t.Fatalf("drain: %v", err)
	}

	resp := out.Bytes()
	if len(resp) != geo.ResponseBytes() {
		t.Fatalf("got %d response bytes, want %d", len(resp), geo.ResponseBytes())
	}
	if got := binary.LittleEndian.Uint64(resp[0:]); got != 5 {
		t.Errorf("slot 0 = %d, want 5", got)
	}
	if got := binary.LittleEndian.Uint64(resp[geo.CellLength:]); got != 3 {
		t.Errorf("slot 1 = %d, want 1^2=3", got)
	}
}

func TestServeDeviceErrorSurfacesAsDeviceError(t *testing.T) {
	geo := Geometry{CellLength: 8, CellCount: 8, BatchSize: 1}
	h := newPairHarness(t, geo, countingDB(geo))

	h.rt.InjectFault(io.ErrClosedPipe)
	var out bytes.Buffer
	err := h.pair.Serve(readWriter{bytes.NewReader([]byte{0x01}), &out})
	if err == nil {
		t.Fatal("expected error from injected fault")
	}
	var de *DeviceError
	if !errors.As(err, &de) {
		t.Errorf("expected DeviceError, got %T: %v", err, err)
	}
}
