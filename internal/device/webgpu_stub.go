//go:build !webgpu

package device

import "fmt"

// NewWebGPUQueue is unavailable without the webgpu build tag.
func NewWebGPUQueue() (Queue, error) {
	return nil, fmt.Errorf("%w: WebGPU support not compiled in, build with -tags webgpu", ErrDeviceUnavailable)
}
