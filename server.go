package pir

import (
	"errors"
	"io"
	"net"
	"os"

	"github.com/ehrlich-b/go-pir/internal/clbind"
	"github.com/ehrlich-b/go-pir/internal/logging"
	"github.com/ehrlich-b/go-pir/internal/wire"
)

// Server binds the control channel's filesystem rendezvous and serves one
// client at a time. The engine outlives connections: a configuration and
// installed database persist across client reconnects.
type Server struct {
	Path     string          // rendezvous path; DefaultSocketPath if empty
	Runtime  clbind.Runtime  // accelerator runtime
	Device   int             // device enumeration index
	Logger   *logging.Logger // nil means the default logger
	Observer Observer        // nil means no metrics

	ln     *net.UnixListener
	engine *Engine

	// attach overrides the engine's shared-memory resolver in tests.
	attach attachFunc
}

// ListenAndServe binds the rendezvous and accepts clients until Close is
// called or a fatal configuration error occurs. Client-protocol and device
// errors drop the connection and the loop goes back to accept.
func (s *Server) ListenAndServe() error {
	if s.Path == "" {
		s.Path = DefaultSocketPath
	}
	log := s.Logger
	if log == nil {
		log = logging.Default()
	}

	// A stale rendezvous from an interrupted run would fail the bind.
	_ = os.Remove(s.Path)

	addr, err := net.ResolveUnixAddr("unix", s.Path)
	if err != nil {
		return err
	}
	ln, err := net.ListenUnix("unix", addr)
	if err != nil {
		return err
	}
	s.ln = ln

	s.engine = NewEngine(s.Runtime, s.Device, log, s.Observer)
	if s.attach != nil {
		s.engine.attach = s.attach
	}
	defer s.engine.Shutdown()

	log.Info("listening", "path", s.Path, "device", s.Device)

	for {
		conn, err := ln.AcceptUnix()
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		err = s.serve(conn)
		conn.Close()
		if err != nil {
			if IsFatal(err) {
				return err
			}
			log.Warn("connection terminated", "error", err)
		}
	}
}

// serve runs the command loop for one connection. A nil return is a normal
// disconnect or an unknown command byte (the client is dropped and only a
// warning is logged); a non-nil return dropped the client, and a fatal
// error stops the daemon.
func (s *Server) serve(conn *net.UnixConn) error {
	log := s.engine.log
	defer s.engine.Quiesce()

	var cmd [1]byte
	for {
		if _, err := io.ReadFull(conn, cmd[:]); err != nil {
			log.Info("client disconnected")
			return nil
		}

		switch cmd[0] {
		case wire.CmdRead:
			if err := s.engine.Read(conn); err != nil {
				return err
			}

		case wire.CmdConfigure:
			var buf [wire.ConfigurePayloadSize]byte
			if err := wire.ReadFull(conn, buf[:]); err != nil {
				return WrapError("configure", ErrCodeProtocol, err)
			}
			var params wire.ConfigParams
			if err := wire.UnmarshalConfigure(buf[:], &params); err != nil {
				return WrapError("configure", ErrCodeProtocol, err)
			}
			geo := Config{
				CellLength: int(params.CellLength),
				CellCount:  int(params.CellCount),
				BatchSize:  int(params.BatchSize),
			}
			if err := s.engine.Configure(geo, conn); err != nil {
				return err
			}

		case wire.CmdWrite:
			var buf [wire.HandlePayloadSize]byte
			if err := wire.ReadFull(conn, buf[:]); err != nil {
				return WrapError("write", ErrCodeProtocol, err)
			}
			handle, err := wire.UnmarshalHandle(buf[:])
			if err != nil {
				return WrapError("write", ErrCodeProtocol, err)
			}
			if err := s.engine.WriteDatabase(int(handle), conn); err != nil {
				return err
			}

		default:
			log.Warn("unexpected command", "command", cmd[0])
			return nil
		}
	}
}

// Close stops accepting and removes the rendezvous.
func (s *Server) Close() error {
	if s.ln == nil {
		return nil
	}
	return s.ln.Close()
}
