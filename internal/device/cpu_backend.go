package device

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/cpuid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"

	"github.com/23skdu/longbow-gemm/internal/simd"
)

// ensure interface compliance
var _ Queue = (*CPUQueue)(nil)

// numWorkers defines the default parallelism for CPU operations
var numWorkers = runtime.NumCPU()

// CPUQueue executes kernels on host goroutines.
type CPUQueue struct {
	name    string
	workers int
	kernel  KernelType
	stream  *stream
}

// NewCPUQueue creates a queue bound to the host CPU.
func NewCPUQueue(opts Options) *CPUQueue {
	workers := opts.Workers
	if workers <= 0 {
		workers = numWorkers
	}
	q := &CPUQueue{
		name:    cpuName(),
		workers: workers,
		kernel:  opts.Kernel,
		stream:  newStream(4),
	}
	log.Debug().
		Str("device", q.name).
		Int("workers", workers).
		Str("kernel", q.kernel.String()).
		Msg("CPU queue created")
	return q
}

func cpuName() string {
	name := strings.TrimSpace(cpuid.CPU.BrandName)
	if name == "" {
		return fmt.Sprintf("CPU (%s, %d threads)", runtime.GOARCH, runtime.NumCPU())
	}
	return name
}

func (q *CPUQueue) Kind() Kind {
	return KindCPU
}

func (q *CPUQueue) Name() string {
	return q.name
}

func (q *CPUQueue) SubmitMatMul(ctx context.Context, a, b, c []float32, n int) *Event {
	if err := checkDims("matmul", q.name, a, b, c, n); err != nil {
		recordSubmission(KindCPU, n, 0, err)
		return CompletedEvent(err)
	}

	ev := newEvent()
	ok := q.stream.submit(func() {
		start := time.Now()
		err := runGuarded(q.name, "matmul", func() error {
			if q.kernel == KernelBLAS {
				return q.gemm(ctx, a, b, c, n)
			}
			return q.parallelFor(ctx, a, b, c, n)
		})
		recordSubmission(KindCPU, n, time.Since(start).Seconds(), err)
		ev.complete(err)
	})
	if !ok {
		return CompletedEvent(&DeviceExecutionError{Device: q.name, Op: "submit", Err: ErrQueueClosed})
	}
	return ev
}

// parallelFor runs one work item per output coordinate. Rows are split into
// contiguous bands, one band per worker.
func (q *CPUQueue) parallelFor(ctx context.Context, a, b, c []float32, n int) error {
	workers := q.workers
	if n < workers {
		workers = n
	}
	rowsPerWorker := (n + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for w := 0; w < workers; w++ {
		startRow := w * rowsPerWorker
		endRow := startRow + rowsPerWorker
		if startRow >= n {
			break
		}
		if endRow > n {
			endRow = n
		}

		g.Go(guard(q.name, func() error {
			for i := startRow; i < endRow; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				rowA := a[i*n : (i+1)*n]
				rowC := c[i*n : (i+1)*n]
				for j := 0; j < n; j++ {
					// C[i, j] = A[i, :] * B[:, j]
					rowC[j] = simd.DotStrided(rowA, b[j:], n)
				}
			}
			return nil
		}))
	}
	return g.Wait()
}

// gemmBandRows is the number of rows of C computed per blas32.Gemm call.
// The context is checked between bands.
const gemmBandRows = 64

// gemm delegates the product to the registered blas32 implementation, one
// row band of A and C at a time. It is pure Go unless a netlib
// implementation was registered.
func (q *CPUQueue) gemm(ctx context.Context, a, b, c []float32, n int) error {
	gb := blas32.General{Rows: n, Cols: n, Stride: n, Data: b[:n*n]}
	for start := 0; start < n; start += gemmBandRows {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows := gemmBandRows
		if start+rows > n {
			rows = n - start
		}
		band := a[start*n : (start+rows)*n]
		out := c[start*n : (start+rows)*n]
		ga := blas32.General{Rows: rows, Cols: n, Stride: n, Data: band}
		gc := blas32.General{Rows: rows, Cols: n, Stride: n, Data: out}
		blas32.Gemm(blas.NoTrans, blas.NoTrans, 1, ga, gb, 0, gc)
	}
	return nil
}

func (q *CPUQueue) Close() error {
	q.stream.close()
	return nil
}

// guard converts a panic inside a worker goroutine into an error.
func guard(device string, fn func() error) func() error {
	return func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &DeviceExecutionError{Device: device, Op: "matmul", Err: fmt.Errorf("kernel panic: %v", r)}
			}
		}()
		return fn()
	}
}
