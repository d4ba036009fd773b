//go:build !linux

package pir

// SysV shared memory is only wired up on Linux; other platforms refuse the
// install command.
func sysvAttach(id, minSize int) (*segment, error) {
	return nil, NewError("shm attach", ErrCodeSegmentAttach, "shared-memory databases unsupported on this platform")
}
