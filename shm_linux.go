//go:build linux

package pir

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// sysvAttach stats a SysV shared-memory segment, verifies it can hold
// minSize bytes, and attaches it read-only. The size check guards against a
// client handing over a segment smaller than the configured database.
func sysvAttach(id, minSize int) (*segment, error) {
	var desc unix.SysvShmDesc
	if _, err := unix.SysvShmCtl(id, unix.IPC_STAT, &desc); err != nil {
		return nil, WrapError("shm stat", ErrCodeSegmentAttach, err)
	}
	if desc.Segsz < uint64(minSize) {
		return nil, NewError("shm stat", ErrCodeSegmentTooSmall,
			fmt.Sprintf("segment %d holds %d bytes, database needs %d", id, desc.Segsz, minSize))
	}
	data, err := unix.SysvShmAttach(id, 0, unix.SHM_RDONLY)
	if err != nil {
		return nil, WrapError("shm attach", ErrCodeSegmentAttach, err)
	}
	return &segment{
		id:     id,
		data:   data,
		detach: func() error { return unix.SysvShmDetach(data) },
	}, nil
}
