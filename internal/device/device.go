package device

import (
	"context"
	"fmt"
)

// Kind identifies the class of compute device a Queue is bound to.
type Kind int

const (
	KindCPU Kind = iota
	KindGPU
)

func (k Kind) String() string {
	switch k {
	case KindCPU:
		return "CPU"
	case KindGPU:
		return "GPU"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Queue is an ordered execution stream bound to one compute device.
// Submissions on a single Queue complete in submission order.
type Queue interface {
	// Kind returns the device class of the queue.
	Kind() Kind

	// Name returns a human readable device name (adapter, CPU brand, ...).
	Name() string

	// SubmitMatMul enqueues c = a * b over the 2-D index space [0,n)x[0,n).
	// a, b and c are row-major n*n buffers owned by the caller; they must not
	// be touched until the returned Event completes. Each work item (i, j)
	// writes exactly c[i*n+j].
	SubmitMatMul(ctx context.Context, a, b, c []float32, n int) *Event

	// Close releases device resources. The queue must not be used afterwards.
	Close() error
}

// KernelType selects the CPU kernel implementation.
type KernelType int

const (
	// KernelNaive runs one independent dot product per output coordinate.
	KernelNaive KernelType = iota
	// KernelBLAS routes the whole product through blas32.Gemm.
	KernelBLAS
)

func (k KernelType) String() string {
	switch k {
	case KernelNaive:
		return "naive"
	case KernelBLAS:
		return "blas"
	default:
		return fmt.Sprintf("KernelType(%d)", int(k))
	}
}

// ParseKernelType maps a flag value onto a KernelType.
func ParseKernelType(s string) (KernelType, error) {
	switch s {
	case "", "naive":
		return KernelNaive, nil
	case "blas":
		return KernelBLAS, nil
	default:
		return 0, fmt.Errorf("unknown kernel %q (want naive or blas)", s)
	}
}

func checkDims(op string, name string, a, b, c []float32, n int) error {
	if n <= 0 {
		return &DeviceExecutionError{Device: name, Op: op, Err: fmt.Errorf("%w: n=%d", ErrInvalidSize, n)}
	}
	size := n * n
	if len(a) < size || len(b) < size || len(c) < size {
		return &DeviceExecutionError{
			Device: name,
			Op:     op,
			Err:    fmt.Errorf("%w: buffers %d/%d/%d shorter than %dx%d", ErrInvalidSize, len(a), len(b), len(c), n, n),
		}
	}
	return nil
}
