package device

import (
	"fmt"

	"github.com/rs/zerolog/log"
)

// GPUBackend selects how GPU queues are realized.
type GPUBackend int

const (
	// GPUAuto uses WebGPU when compiled in and an adapter is found,
	// otherwise the SIMT emulator.
	GPUAuto GPUBackend = iota
	// GPUWebGPU requires a WebGPU adapter.
	GPUWebGPU
	// GPUSIMT always uses the SIMT emulator.
	GPUSIMT
)

func (g GPUBackend) String() string {
	switch g {
	case GPUAuto:
		return "auto"
	case GPUWebGPU:
		return "webgpu"
	case GPUSIMT:
		return "simt"
	default:
		return fmt.Sprintf("GPUBackend(%d)", int(g))
	}
}

// ParseGPUBackend maps a flag value onto a GPUBackend.
func ParseGPUBackend(s string) (GPUBackend, error) {
	switch s {
	case "", "auto":
		return GPUAuto, nil
	case "webgpu":
		return GPUWebGPU, nil
	case "simt":
		return GPUSIMT, nil
	default:
		return 0, fmt.Errorf("unknown gpu backend %q (want auto, webgpu or simt)", s)
	}
}

// Options configures queue construction.
type Options struct {
	Workers    int        // Host goroutines per queue, 0 = NumCPU
	Kernel     KernelType // CPU kernel
	GPUBackend GPUBackend
	BlockSize  int // SIMT block edge, 0 = DefaultBlockSize
}

// NewQueue selects a device of the requested kind and binds a queue to it.
func NewQueue(kind Kind, opts Options) (Queue, error) {
	switch kind {
	case KindCPU:
		return NewCPUQueue(opts), nil
	case KindGPU:
		return newGPUQueue(opts)
	default:
		return nil, &DeviceExecutionError{Op: "select device", Err: fmt.Errorf("%w: unknown kind %v", ErrDeviceUnavailable, kind)}
	}
}

func newGPUQueue(opts Options) (Queue, error) {
	switch opts.GPUBackend {
	case GPUSIMT:
		return NewSIMTQueue(opts), nil
	case GPUWebGPU:
		q, err := NewWebGPUQueue()
		if err != nil {
			return nil, AsExecutionError("", "select device", err)
		}
		return q, nil
	case GPUAuto:
		q, err := NewWebGPUQueue()
		if err == nil {
			return q, nil
		}
		log.Warn().Err(err).Msg("WebGPU unavailable, falling back to SIMT emulator")
		return NewSIMTQueue(opts), nil
	default:
		return nil, &DeviceExecutionError{Op: "select device", Err: fmt.Errorf("%w: unknown gpu backend %v", ErrDeviceUnavailable, opts.GPUBackend)}
	}
}
