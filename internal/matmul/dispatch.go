package matmul

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/23skdu/longbow-gemm/internal/device"
)

var tracer = otel.Tracer("gemm-dispatcher")

// Result describes one completed dispatch.
type Result struct {
	Label   string
	Device  string
	N       int
	Elapsed time.Duration
	// Output holds C when the dispatch ran WithOutput, nil otherwise.
	Output *Matrix
}

// GFLOPS returns the achieved rate counting one multiply and one add per step.
func (r Result) GFLOPS() float64 {
	secs := r.Elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	n := float64(r.N)
	return 2 * n * n * n / secs / 1e9
}

type runConfig struct {
	reporter   *Reporter
	keepOutput bool
}

// Option configures a dispatch.
type Option func(*runConfig)

// WithReporter prints the timing line through r.
func WithReporter(r *Reporter) Option {
	return func(c *runConfig) { c.reporter = r }
}

// WithOutput keeps the output matrix in the Result.
func WithOutput() Option {
	return func(c *runConfig) { c.keepOutput = true }
}

// Run multiplies two n x n all-ones matrices on q and reports the elapsed
// time under label. It blocks until the device finished. On failure the
// returned error is a *device.DeviceExecutionError.
func Run(ctx context.Context, q device.Queue, n int, label string, opts ...Option) (Result, error) {
	cfg := runConfig{}
	for _, o := range opts {
		o(&cfg)
	}

	if q == nil {
		return Result{}, &device.DeviceExecutionError{Op: "dispatch", Err: fmt.Errorf("%w: nil queue", device.ErrDeviceUnavailable)}
	}
	if n <= 0 {
		return Result{}, &device.DeviceExecutionError{Device: q.Name(), Op: "dispatch", Err: fmt.Errorf("%w: n=%d", device.ErrInvalidSize, n)}
	}

	ctx, span := tracer.Start(ctx, "matmul.Run")
	defer span.End()
	span.SetAttributes(
		attribute.Int("n", n),
		attribute.String("device", q.Name()),
		attribute.String("label", label),
	)

	a, b, c, err := allocate(n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "allocate")
		return Result{}, device.AsExecutionError(q.Name(), "allocate", err)
	}
	hostBufferBytes.Add(float64(3 * c.Bytes()))
	defer hostBufferBytes.Sub(float64(3 * c.Bytes()))

	start := time.Now()
	err = q.SubmitMatMul(ctx, a.Data, b.Data, c.Data, n).Wait()
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execute")
		dispatches.WithLabelValues(label, "error").Inc()
		log.Debug().Err(err).Str("label", label).Str("device", q.Name()).Msg("Dispatch failed")
		return Result{}, device.AsExecutionError(q.Name(), "execute", err)
	}

	dispatches.WithLabelValues(label, "ok").Inc()
	dispatchSeconds.WithLabelValues(label).Observe(elapsed.Seconds())

	res := Result{
		Label:   label,
		Device:  q.Name(),
		N:       n,
		Elapsed: elapsed,
	}
	if cfg.keepOutput {
		res.Output = c
	}

	log.Debug().
		Str("label", label).
		Str("device", q.Name()).
		Int("n", n).
		Dur("elapsed", elapsed).
		Float64("gflops", res.GFLOPS()).
		Msg("Dispatch complete")

	if cfg.reporter != nil {
		cfg.reporter.Elapsed(label, elapsed)
	}
	return res, nil
}

// allocate creates A and B filled with 1.0 and a zeroed C.
func allocate(n int) (a, b, c *Matrix, err error) {
	defer func() {
		// make() panics on absurd sizes instead of returning an error
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: host allocation of %dx%d: %v", device.ErrOutOfMemory, n, n, r)
		}
	}()
	if a, err = NewMatrix(n, 1); err != nil {
		return nil, nil, nil, err
	}
	if b, err = NewMatrix(n, 1); err != nil {
		return nil, nil, nil, err
	}
	if c, err = NewMatrix(n, 0); err != nil {
		return nil, nil, nil, err
	}
	return a, b, c, nil
}
