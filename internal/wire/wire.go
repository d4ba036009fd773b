// Package wire defines the control-channel framing for the PIR daemon.
//
// Each command is one ASCII byte followed by a fixed-size little-endian
// payload. The channel carries no other framing; both sides must read and
// write exact byte counts.
package wire

import (
	"encoding/binary"
	"errors"
	"io"
)

// Command bytes accepted on the control channel.
const (
	CmdRead      byte = '1' // mask in, response out
	CmdConfigure byte = '2' // three int32 geometry parameters
	CmdWrite     byte = '3' // shared-memory handle of a new database
)

// Payload sizes.
const (
	ConfigurePayloadSize = 12 // 3 x int32
	HandlePayloadSize    = 4  // C int shared-memory handle
)

// Ack is the acknowledgement sent after a successful database install.
var Ack = []byte("ok")

// ErrInsufficientData is returned when a payload buffer is shorter than the
// fixed wire size.
var ErrInsufficientData = errors.New("wire: insufficient data")

// ConfigParams is the payload of a configure command.
type ConfigParams struct {
	CellLength int32
	CellCount  int32
	BatchSize  int32
}

// MarshalConfigure encodes a configure payload.
func MarshalConfigure(p ConfigParams) []byte {
	buf := make([]byte, ConfigurePayloadSize)
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.CellLength))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.CellCount))
	binary.LittleEndian.PutUint32(buf[8:12], uint32(p.BatchSize))
	return buf
}

// UnmarshalConfigure decodes a configure payload.
func UnmarshalConfigure(data []byte, p *ConfigParams) error {
	if len(data) < ConfigurePayloadSize {
		return ErrInsufficientData
	}
	p.CellLength = int32(binary.LittleEndian.Uint32(data[0:4]))
	p.CellCount = int32(binary.LittleEndian.Uint32(data[4:8]))
	p.BatchSize = int32(binary.LittleEndian.Uint32(data[8:12]))
	return nil
}

// MarshalHandle encodes a shared-memory handle payload.
func MarshalHandle(handle int32) []byte {
	buf := make([]byte, HandlePayloadSize)
	binary.LittleEndian.PutUint32(buf, uint32(handle))
	return buf
}

// UnmarshalHandle decodes a shared-memory handle payload.
func UnmarshalHandle(data []byte) (int32, error) {
	if len(data) < HandlePayloadSize {
		return 0, ErrInsufficientData
	}
	return int32(binary.LittleEndian.Uint32(data)), nil
}

// ReadFull reads exactly len(buf) bytes, looping over partial reads.
func ReadFull(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}

// WriteFull writes all of buf, looping over partial writes.
func WriteFull(w io.Writer, buf []byte) error {
	for len(buf) > 0 {
		n, err := w.Write(buf)
		if err != nil {
			return err
		}
		buf = buf[n:]
	}
	return nil
}
