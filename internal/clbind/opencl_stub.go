//go:build !opencl

package clbind

// NewOpenCL is unavailable without the opencl build tag. The daemon falls
// back to a clear startup error instead of failing at link time on hosts
// without an OpenCL toolchain.
func NewOpenCL() (Runtime, error) {
	return nil, ErrRuntimeUnavailable
}
