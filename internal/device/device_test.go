package device

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

// referenceMatMul computes a*b in float64 through gonum.
func referenceMatMul(a, b []float32, n int) []float32 {
	toDense := func(m []float32) *mat.Dense {
		d := make([]float64, len(m))
		for i, v := range m {
			d[i] = float64(v)
		}
		return mat.NewDense(n, n, d)
	}
	var prod mat.Dense
	prod.Mul(toDense(a), toDense(b))

	c := make([]float32, n*n)
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			c[i*n+j] = float32(prod.At(i, j))
		}
	}
	return c
}

func randomMatrix(rng *rand.Rand, n int) []float32 {
	m := make([]float32, n*n)
	for i := range m {
		m[i] = rng.Float32()*2 - 1
	}
	return m
}

func ones(n int) []float32 {
	m := make([]float32, n*n)
	for i := range m {
		m[i] = 1
	}
	return m
}

func queuesUnderTest(t *testing.T) map[string]Queue {
	t.Helper()
	qs := map[string]Queue{
		"cpu-naive": NewCPUQueue(Options{Workers: 3, Kernel: KernelNaive}),
		"cpu-blas":  NewCPUQueue(Options{Workers: 3, Kernel: KernelBLAS}),
		"simt":      NewSIMTQueue(Options{Workers: 3, BlockSize: 4}),
	}
	t.Cleanup(func() {
		for _, q := range qs {
			_ = q.Close()
		}
	})
	return qs
}

func TestQueues_MatMul(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for name, q := range queuesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			// 19 is not a multiple of the block edge or the worker count
			for _, n := range []int{1, 2, 7, 19, 64} {
				a := randomMatrix(rng, n)
				b := randomMatrix(rng, n)
				c := make([]float32, n*n)

				err := q.SubmitMatMul(context.Background(), a, b, c, n).Wait()
				require.NoError(t, err)

				want := referenceMatMul(a, b, n)
				for i := range want {
					if math.Abs(float64(c[i]-want[i])) > 1e-3 {
						t.Fatalf("n=%d: mismatch at %d: got %f, want %f", n, i, c[i], want[i])
					}
				}
			}
		})
	}
}

func TestQueues_AllOnes(t *testing.T) {
	const n = 33
	for name, q := range queuesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			c := make([]float32, n*n)
			require.NoError(t, q.SubmitMatMul(context.Background(), ones(n), ones(n), c, n).Wait())
			for i, v := range c {
				if v != n {
					t.Fatalf("c[%d] = %f, want %d", i, v, n)
				}
			}
		})
	}
}

func TestQueues_OverwritesOutput(t *testing.T) {
	const n = 8
	for name, q := range queuesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			c := make([]float32, n*n)
			for i := range c {
				c[i] = -123
			}
			require.NoError(t, q.SubmitMatMul(context.Background(), ones(n), ones(n), c, n).Wait())
			for i, v := range c {
				assert.Equal(t, float32(n), v, "index %d", i)
			}
		})
	}
}

func TestQueues_InvalidSize(t *testing.T) {
	for name, q := range queuesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			for _, n := range []int{0, -1} {
				err := q.SubmitMatMul(context.Background(), nil, nil, nil, n).Wait()
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrInvalidSize)

				var de *DeviceExecutionError
				require.True(t, errors.As(err, &de))
				assert.Equal(t, q.Name(), de.Device)
			}

			// Buffers shorter than n*n
			err := q.SubmitMatMul(context.Background(), ones(2), ones(2), make([]float32, 4), 3).Wait()
			assert.ErrorIs(t, err, ErrInvalidSize)
		})
	}
}

func TestQueues_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	const n = 16
	for name, q := range queuesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			err := q.SubmitMatMul(ctx, ones(n), ones(n), make([]float32, n*n), n).Wait()
			require.Error(t, err)
			assert.ErrorIs(t, err, context.Canceled)
		})
	}
}

func TestQueues_Closed(t *testing.T) {
	for _, q := range []Queue{NewCPUQueue(Options{}), NewSIMTQueue(Options{})} {
		require.NoError(t, q.Close())
		// Close is idempotent
		require.NoError(t, q.Close())

		err := q.SubmitMatMul(context.Background(), ones(2), ones(2), make([]float32, 4), 2).Wait()
		assert.ErrorIs(t, err, ErrQueueClosed)
	}
}

func TestQueues_InOrder(t *testing.T) {
	q := NewCPUQueue(Options{Workers: 2})
	defer q.Close()

	const n = 24
	events := make([]*Event, 5)
	outs := make([][]float32, len(events))
	for i := range events {
		outs[i] = make([]float32, n*n)
		events[i] = q.SubmitMatMul(context.Background(), ones(n), ones(n), outs[i], n)
	}

	// Waiting on the last event implies every earlier one finished
	require.NoError(t, events[len(events)-1].Wait())
	for i, ev := range events {
		select {
		case <-ev.Done():
		default:
			t.Fatalf("event %d not complete after later event", i)
		}
		require.NoError(t, ev.Wait())
		assert.Equal(t, float32(n), outs[i][n*n-1])
	}
}

func TestQueue_Kinds(t *testing.T) {
	cpu := NewCPUQueue(Options{})
	defer cpu.Close()
	simt := NewSIMTQueue(Options{})
	defer simt.Close()

	assert.Equal(t, KindCPU, cpu.Kind())
	assert.NotEmpty(t, cpu.Name())
	assert.Equal(t, KindGPU, simt.Kind())
	assert.Contains(t, simt.Name(), "SIMT")
}

func TestNewQueue(t *testing.T) {
	q, err := NewQueue(KindCPU, Options{})
	require.NoError(t, err)
	assert.Equal(t, KindCPU, q.Kind())
	require.NoError(t, q.Close())

	q, err = NewQueue(KindGPU, Options{GPUBackend: GPUSIMT})
	require.NoError(t, err)
	assert.Equal(t, KindGPU, q.Kind())
	require.NoError(t, q.Close())

	_, err = NewQueue(Kind(7), Options{})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)

	_, err = NewQueue(KindGPU, Options{GPUBackend: GPUBackend(9)})
	assert.ErrorIs(t, err, ErrDeviceUnavailable)
}

func TestParseKernelType(t *testing.T) {
	k, err := ParseKernelType("")
	require.NoError(t, err)
	assert.Equal(t, KernelNaive, k)

	k, err = ParseKernelType("blas")
	require.NoError(t, err)
	assert.Equal(t, KernelBLAS, k)
	assert.Equal(t, "blas", k.String())

	_, err = ParseKernelType("tiled")
	assert.Error(t, err)
}

func TestParseGPUBackend(t *testing.T) {
	for s, want := range map[string]GPUBackend{"": GPUAuto, "auto": GPUAuto, "webgpu": GPUWebGPU, "simt": GPUSIMT} {
		got, err := ParseGPUBackend(s)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseGPUBackend("cuda")
	assert.Error(t, err)
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "CPU", KindCPU.String())
	assert.Equal(t, "GPU", KindGPU.String())
	assert.Equal(t, "Kind(5)", Kind(5).String())
}

func TestGuard_RecoversPanic(t *testing.T) {
	err := guard("dev", func() error {
		var s []float32
		_ = s[3]
		return nil
	})()
	require.Error(t, err)

	var de *DeviceExecutionError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "dev", de.Device)
	assert.Contains(t, err.Error(), "kernel panic")
}

func TestDeviceExecutionError(t *testing.T) {
	err := &DeviceExecutionError{Device: "GPU0", Op: "execute", Err: ErrOutOfMemory}
	assert.Equal(t, "execute on GPU0: out of device memory", err.Error())
	assert.ErrorIs(t, err, ErrOutOfMemory)

	noDev := &DeviceExecutionError{Op: "select device", Err: ErrDeviceUnavailable}
	assert.Equal(t, "select device: device unavailable", noDev.Error())

	// AsExecutionError does not double wrap
	assert.Same(t, err, AsExecutionError("other", "op", err))
	assert.Nil(t, AsExecutionError("x", "y", nil))
}

func TestMetrics_Submissions(t *testing.T) {
	q := NewCPUQueue(Options{Workers: 2})
	defer q.Close()

	okBefore := testutil.ToFloat64(submissions.WithLabelValues("CPU", "ok"))
	errBefore := testutil.ToFloat64(submissions.WithLabelValues("CPU", "error"))
	itemsBefore := testutil.ToFloat64(workItems.WithLabelValues("CPU"))

	require.NoError(t, q.SubmitMatMul(context.Background(), ones(4), ones(4), make([]float32, 16), 4).Wait())
	require.Error(t, q.SubmitMatMul(context.Background(), nil, nil, nil, 0).Wait())

	assert.Equal(t, okBefore+1, testutil.ToFloat64(submissions.WithLabelValues("CPU", "ok")))
	assert.Equal(t, errBefore+1, testutil.ToFloat64(submissions.WithLabelValues("CPU", "error")))
	assert.Equal(t, itemsBefore+16, testutil.ToFloat64(workItems.WithLabelValues("CPU")))
}

func TestSIMTQueue_BlockEdgeClamped(t *testing.T) {
	q := NewSIMTQueue(Options{Workers: 2, BlockSize: 12000})
	defer q.Close()

	assert.Equal(t, Dim2{X: MaxBlockSize, Y: MaxBlockSize}, q.block)
	assert.Contains(t, q.Name(), "32x32")

	const n = 8
	c := make([]float32, n*n)
	require.NoError(t, q.SubmitMatMul(context.Background(), ones(n), ones(n), c, n).Wait())
	assert.Equal(t, float32(n), c[n*n-1])
}

func TestSIMTQueue_CancelWithinBlock(t *testing.T) {
	q := NewSIMTQueue(Options{Workers: 1, BlockSize: 8})
	defer q.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	kernel := func(ThreadID) {
		calls++
		if calls == 1 {
			cancel()
		}
	}

	// A single block: cancellation must be seen before the second thread row
	err := q.launch(ctx, kernel, Dim2{X: 1, Y: 1})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 8, calls)
}

func TestCPUQueue_BLASBands(t *testing.T) {
	q := NewCPUQueue(Options{Kernel: KernelBLAS})
	defer q.Close()

	rng := rand.New(rand.NewSource(7))
	// Spans two full bands and a partial one
	n := 2*gemmBandRows + 22
	a := randomMatrix(rng, n)
	b := randomMatrix(rng, n)
	c := make([]float32, n*n)
	require.NoError(t, q.SubmitMatMul(context.Background(), a, b, c, n).Wait())

	want := referenceMatMul(a, b, n)
	for i := range want {
		if math.Abs(float64(c[i]-want[i])) > 1e-3 {
			t.Fatalf("mismatch at %d: got %f, want %f", i, c[i], want[i])
		}
	}
}
