//go:build linux

package client

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// createSegment allocates a private SysV segment holding data and returns
// its handle plus a removal func. Removal only marks the id; the server's
// attachment keeps the memory alive until it detaches.
func createSegment(data []byte) (int, func(), error) {
	id, err := unix.SysvShmGet(unix.IPC_PRIVATE, len(data), unix.IPC_CREAT|0o600)
	if err != nil {
		return 0, nil, fmt.Errorf("client: shmget: %w", err)
	}
	seg, err := unix.SysvShmAttach(id, 0, 0)
	if err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return 0, nil, fmt.Errorf("client: shmat: %w", err)
	}
	copy(seg, data)
	if err := unix.SysvShmDetach(seg); err != nil {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
		return 0, nil, fmt.Errorf("client: shmdt: %w", err)
	}
	remove := func() {
		_, _ = unix.SysvShmCtl(id, unix.IPC_RMID, nil)
	}
	return id, remove, nil
}
