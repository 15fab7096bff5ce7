package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-gemm/internal/simd"
)

// ensure interface compliance
var _ Queue = (*SIMTQueue)(nil)

const (
	// DefaultBlockSize is the edge of a square thread block.
	DefaultBlockSize = 16
	// MaxBlockSize caps the block edge at 32, i.e. 1024 threads per block,
	// the usual hardware workgroup limit.
	MaxBlockSize = 32
)

// Dim2 is a 2-D launch extent or coordinate.
type Dim2 struct {
	X, Y int
}

// Size returns the number of elements covered by the extent.
func (d Dim2) Size() int {
	return d.X * d.Y
}

// ThreadID identifies one work item inside a launch.
type ThreadID struct {
	BlockIdx  Dim2
	ThreadIdx Dim2
	BlockDim  Dim2
	GridDim   Dim2
}

// GlobalX returns the global column index.
func (t ThreadID) GlobalX() int {
	return t.BlockIdx.X*t.BlockDim.X + t.ThreadIdx.X
}

// GlobalY returns the global row index.
func (t ThreadID) GlobalY() int {
	return t.BlockIdx.Y*t.BlockDim.Y + t.ThreadIdx.Y
}

// SIMTQueue emulates a GPU compute queue on host goroutines. Work is launched
// as a grid of thread blocks; blocks are distributed across workers and the
// threads of a block run back to back on one worker.
type SIMTQueue struct {
	workers int
	block   Dim2
	stream  *stream
}

// NewSIMTQueue creates an emulated GPU queue.
func NewSIMTQueue(opts Options) *SIMTQueue {
	workers := opts.Workers
	if workers <= 0 {
		workers = numWorkers
	}
	edge := opts.BlockSize
	if edge <= 0 {
		edge = DefaultBlockSize
	}
	if edge > MaxBlockSize {
		log.Warn().Int("block", edge).Int("max", MaxBlockSize).Msg("SIMT block edge clamped")
		edge = MaxBlockSize
	}
	q := &SIMTQueue{
		workers: workers,
		block:   Dim2{X: edge, Y: edge},
		stream:  newStream(4),
	}
	log.Debug().Str("device", q.Name()).Int("workers", workers).Msg("SIMT queue created")
	return q
}

func (q *SIMTQueue) Kind() Kind {
	return KindGPU
}

func (q *SIMTQueue) Name() string {
	return fmt.Sprintf("SIMT emulator (%dx%d blocks, %d workers)", q.block.X, q.block.Y, q.workers)
}

func (q *SIMTQueue) SubmitMatMul(ctx context.Context, a, b, c []float32, n int) *Event {
	name := q.Name()
	if err := checkDims("matmul", name, a, b, c, n); err != nil {
		recordSubmission(KindGPU, n, 0, err)
		return CompletedEvent(err)
	}

	grid := Dim2{
		X: (n + q.block.X - 1) / q.block.X,
		Y: (n + q.block.Y - 1) / q.block.Y,
	}
	kernel := func(tid ThreadID) {
		col := tid.GlobalX()
		row := tid.GlobalY()
		if row >= n || col >= n {
			return
		}
		c[row*n+col] = simd.DotStrided(a[row*n:(row+1)*n], b[col:], n)
	}

	ev := newEvent()
	ok := q.stream.submit(func() {
		start := time.Now()
		err := runGuarded(name, "matmul", func() error {
			return q.launch(ctx, kernel, grid)
		})
		recordSubmission(KindGPU, n, time.Since(start).Seconds(), err)
		ev.complete(err)
	})
	if !ok {
		return CompletedEvent(&DeviceExecutionError{Device: name, Op: "submit", Err: ErrQueueClosed})
	}
	return ev
}

// launch executes kernel once per thread of every block in grid.
func (q *SIMTQueue) launch(ctx context.Context, kernel func(ThreadID), grid Dim2) error {
	gridSize := grid.Size()
	if gridSize == 0 {
		return nil
	}
	workers := q.workers
	if gridSize < workers {
		workers = gridSize
	}
	blocksPerWorker := (gridSize + workers - 1) / workers

	var wg sync.WaitGroup
	errs := make([]error, workers)
	for w := 0; w < workers; w++ {
		startBlock := w * blocksPerWorker
		endBlock := startBlock + blocksPerWorker
		if endBlock > gridSize {
			endBlock = gridSize
		}

		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			errs[w] = guard(q.Name(), func() error {
				for blockID := startBlock; blockID < endBlock; blockID++ {
					if err := ctx.Err(); err != nil {
						return err
					}
					blockIdx := Dim2{X: blockID % grid.X, Y: blockID / grid.X}
					for ty := 0; ty < q.block.Y; ty++ {
						if err := ctx.Err(); err != nil {
							return err
						}
						for tx := 0; tx < q.block.X; tx++ {
							kernel(ThreadID{
								BlockIdx:  blockIdx,
								ThreadIdx: Dim2{X: tx, Y: ty},
								BlockDim:  q.block,
								GridDim:   grid,
							})
						}
					}
				}
				return nil
			})()
		}(w)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

func (q *SIMTQueue) Close() error {
	q.stream.close()
	return nil
}
