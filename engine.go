// Package pir implements a single-server XOR-PIR responder: a resident
// database on a compute accelerator, a double-buffered batch evaluation
// engine, and the control channel that drives it.
package pir

import (
	"errors"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ehrlich-b/go-pir/internal/clbind"
	"github.com/ehrlich-b/go-pir/internal/logging"
	"github.com/ehrlich-b/go-pir/internal/pipeline"
	"github.com/ehrlich-b/go-pir/internal/wire"
)

// segment is an attached shared-memory database.
type segment struct {
	id     int
	data   []byte
	detach func() error
}

// attachFunc resolves a shared-memory handle to an attached segment of at
// least minSize bytes. Swappable so engine tests run without kernel shm.
type attachFunc func(id, minSize int) (*segment, error)

// Engine owns the accelerator state behind the control channel: the
// configuration, compiled program, resident device database and the two
// evaluation pipelines. Single-threaded by design; the serve loop is its
// only caller.
type Engine struct {
	rt     clbind.Runtime
	device int
	log    *logging.Logger
	obs    Observer

	geo   Config
	clctx clbind.Context
	queue clbind.Queue
	prog  clbind.Program
	devDB clbind.Buffer
	pair  *pipeline.Pair

	db     *segment
	attach attachFunc

	configured bool
	poisoned   bool
}

// NewEngine creates an unconfigured engine on the given runtime and device
// index. Read and WriteDatabase are only valid after a successful Configure.
func NewEngine(rt clbind.Runtime, device int, log *logging.Logger, obs Observer) *Engine {
	if log == nil {
		log = logging.Default()
	}
	if obs == nil {
		obs = NoOpObserver{}
	}
	return &Engine{
		rt:     rt,
		device: device,
		log:    log,
		obs:    obs,
		attach: sysvAttach,
	}
}

// Ready reports whether the engine can serve read and write commands.
func (e *Engine) Ready() bool {
	return e.configured && !e.poisoned
}

// Config returns the installed configuration.
func (e *Engine) Config() Config {
	return e.geo
}

// Configure atomically replaces the engine state: in-flight work is drained
// to conn first, then the context, program, database buffer and both
// pipelines are rebuilt for the new geometry. The command produces no
// response on the channel.
func (e *Engine) Configure(geo Config, conn net.Conn) error {
	start := time.Now()
	err := e.configure(geo, conn)
	e.obs.ObserveConfigure(uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

func (e *Engine) configure(geo Config, conn net.Conn) error {
	if err := geo.Validate(); err != nil {
		return WrapError("configure", ErrCodeInvalidParameters, err)
	}

	// Drain any in-flight batches to the live socket before tearing the
	// pipelines down, then release everything that belongs to the old
	// context, the database buffer included.
	if e.pair != nil {
		if e.pair.Busy() {
			var drainTo io.Writer = io.Discard
			if conn != nil {
				drainTo = conn
			}
			if err := e.pair.Drain(drainTo); err != nil {
				e.poisoned = true
				return WrapError("configure", ErrCodeDeviceFailure, err)
			}
		}
		e.pair.Release()
		e.pair = nil
	}
	e.releaseContext()
	e.configured = false

	if conn != nil {
		hintSocketBuffers(conn, 2*maxInt(geo.MaskBytes(), geo.ResponseBytes()))
	}

	devices, err := e.rt.Devices()
	if err != nil {
		return WrapError("configure", ErrCodeDeviceNotFound, err)
	}
	if e.device < 0 || e.device >= len(devices) {
		return NewError("configure", ErrCodeDeviceNotFound, "no such device index")
	}

	ok := false
	defer func() {
		if !ok {
			e.releaseContext()
		}
	}()

	if e.clctx, err = e.rt.Open(e.device); err != nil {
		return WrapError("configure", ErrCodeDeviceNotFound, err)
	}
	if e.queue, err = e.clctx.NewQueue(); err != nil {
		return WrapError("configure", ErrCodeInsufficientMemory, err)
	}
	if e.prog, err = e.clctx.Compile(pipeline.KernelSource); err != nil {
		return WrapError("configure", ErrCodeCompileFailure, err)
	}
	if e.devDB, err = e.clctx.AllocDevice(clbind.MemRead, geo.DatabaseBytes()); err != nil {
		return WrapError("configure", ErrCodeInsufficientMemory, err)
	}
	if e.pair, err = pipeline.NewPair(e.clctx, e.queue, e.prog, e.devDB, geo); err != nil {
		return WrapError("configure", ErrCodeInsufficientMemory, err)
	}

	e.geo = geo
	e.configured = true
	e.poisoned = false
	ok = true
	e.log.Info("reconfigured",
		"cells", geo.CellCount,
		"cell_bytes", geo.CellLength,
		"batch", geo.BatchSize,
		"workgroup", e.pair.WorkGroupSize())
	return nil
}

// WriteDatabase attaches the shared segment behind handle, copies it to the
// device with a blocking transfer, and acknowledges on conn. On any failure
// before the copy the previously installed database stays in place.
func (e *Engine) WriteDatabase(handle int, conn io.Writer) error {
	start := time.Now()
	var installed uint64
	err := e.install(handle, conn, &installed)
	e.obs.ObserveInstall(installed, uint64(time.Since(start).Nanoseconds()), err == nil)
	return err
}

func (e *Engine) install(handle int, conn io.Writer, installed *uint64) error {
	if !e.configured {
		return NewError("write", ErrCodeNotConfigured, "database install before configure")
	}
	if e.poisoned {
		return NewError("write", ErrCodePoisoned, "device failed; reconfigure to recover")
	}

	seg, err := e.attach(handle, e.geo.DatabaseBytes())
	if err != nil {
		return err
	}
	if e.db != nil {
		if derr := e.db.detach(); derr != nil {
			e.log.Warn("detach of previous database failed", "error", derr)
		}
		e.db = nil
	}

	// Blocking, so no kernel ever reads a half-replaced database.
	if err := e.queue.Write(e.devDB, seg.data[:e.geo.DatabaseBytes()], true); err != nil {
		e.poisoned = true
		e.db = seg
		return WrapError("write", ErrCodeDeviceFailure, err)
	}
	e.db = seg
	*installed = uint64(e.geo.DatabaseBytes())

	if err := wire.WriteFull(conn, wire.Ack); err != nil {
		return WrapError("write", ErrCodeProtocol, err)
	}
	e.log.Info("database updated", "bytes", e.geo.DatabaseBytes(), "handle", handle)
	return nil
}

// Read serves one read command through the pipeline pair. Responses trail
// their queries per the scheduler's overlap discipline.
func (e *Engine) Read(conn io.ReadWriter) error {
	if !e.configured {
		return NewError("read", ErrCodeNotConfigured, "read before configure")
	}
	if e.poisoned {
		return NewError("read", ErrCodePoisoned, "device failed; reconfigure to recover")
	}

	start := time.Now()
	err := e.pair.Serve(conn)
	e.obs.ObserveQuery(uint64(e.geo.MaskBytes()), uint64(e.geo.ResponseBytes()),
		uint64(time.Since(start).Nanoseconds()), err == nil)
	if err == nil {
		return nil
	}
	var de *pipeline.DeviceError
	if errors.As(err, &de) {
		e.poisoned = true
		return WrapError("read", ErrCodeDeviceFailure, err)
	}
	return WrapError("read", ErrCodeProtocol, err)
}

// Quiesce lets enqueued work complete silently after a client disconnect:
// residual batches are drained and their responses discarded.
func (e *Engine) Quiesce() {
	if e.pair == nil || !e.pair.Busy() {
		return
	}
	if err := e.pair.Drain(io.Discard); err != nil {
		e.poisoned = true
		e.log.Warn("drain after disconnect failed", "error", err)
	}
}

// Shutdown releases all accelerator resources and detaches the database.
func (e *Engine) Shutdown() {
	if e.pair != nil {
		e.pair.Release()
		e.pair = nil
	}
	e.releaseContext()
	if e.db != nil {
		if err := e.db.detach(); err != nil {
			e.log.Warn("detach of database failed", "error", err)
		}
		e.db = nil
	}
	e.configured = false
}

func (e *Engine) releaseContext() {
	if e.devDB != nil {
		e.devDB.Release()
		e.devDB = nil
	}
	if e.prog != nil {
		e.prog.Release()
		e.prog = nil
	}
	if e.queue != nil {
		e.queue.Release()
		e.queue = nil
	}
	if e.clctx != nil {
		e.clctx.Release()
		e.clctx = nil
	}
}

// hintSocketBuffers raises the kernel socket buffers so a whole mask or
// response fits. Best effort; failures are ignored.
func hintSocketBuffers(conn net.Conn, size int) {
	sc, ok := conn.(interface {
		SyscallConn() (syscall.RawConn, error)
	})
	if !ok {
		return
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_SNDBUF, size)
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVBUF, size)
	})
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
