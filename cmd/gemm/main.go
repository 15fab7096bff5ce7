package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/pprof"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-gemm/internal/device"
	"github.com/23skdu/longbow-gemm/internal/export"
	"github.com/23skdu/longbow-gemm/internal/matmul"
)

// newQueue is replaced in tests.
var newQueue = device.NewQueue

func main() {
	// Initialize logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		// Restore default handling so a second signal kills the process
		stop()
	}()
	code := run(ctx, os.Args, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

// run executes one invocation and returns the process exit code.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	prog := "gemm"
	if len(args) > 0 {
		prog = filepath.Base(args[0])
		args = args[1:]
	}

	cfg, err := parseConfig(prog, args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		var ue *UsageError
		if errors.As(err, &ue) {
			printUsage(stderr, prog)
		}
		return 1
	}
	zerolog.SetGlobalLevel(cfg.logLevel)

	if cfg.enableOTel {
		shutdown, err := initTracer(stderr)
		if err != nil {
			log.Error().Err(err).Msg("Failed to initialize tracer")
			return 1
		}
		defer func() { _ = shutdown(context.Background()) }()
	}

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			log.Error().Err(err).Msg("Failed to create CPU profile file")
			return 1
		}
		defer func() { _ = f.Close() }()
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Error().Err(err).Msg("Could not start CPU profile")
			return 1
		}
		defer pprof.StopCPUProfile()
	}

	report := &export.RunReport{
		Mode:       cfg.mode.String(),
		N:          cfg.n,
		Kernel:     cfg.queue.Kernel.String(),
		GPUBackend: cfg.queue.GPUBackend.String(),
		StartedAt:  time.Now().UTC(),
	}

	outcomes := execute(ctx, cfg, matmul.NewReporter(stdout))

	errOut := matmul.NewReporter(stderr)
	for _, o := range outcomes {
		dr := export.DeviceReport{Label: o.Label, Device: o.Result.Device}
		if o.Err != nil {
			errOut.Printf("SYCL exception caught: %v\n", o.Err)
			dr.Error = o.Err.Error()
			report.Devices = append(report.Devices, dr)
			continue
		}
		dr.ElapsedSeconds = o.Result.Elapsed.Seconds()
		dr.GFLOPS = o.Result.GFLOPS()
		if cfg.outDir != "" && o.Result.Output != nil {
			path, err := export.WriteMatrixFile(cfg.outDir, o.Label, o.Result.Output)
			if err != nil {
				log.Error().Err(err).Str("label", o.Label).Msg("Failed to write result matrix")
			} else {
				dr.Output = path
				log.Info().Str("path", path).Msg("Wrote result matrix")
			}
		}
		report.Devices = append(report.Devices, dr)
	}

	if cfg.reportPath != "" {
		if err := export.WriteReportFile(cfg.reportPath, report); err != nil {
			log.Error().Err(err).Str("path", cfg.reportPath).Msg("Failed to write run report")
		}
	}
	if cfg.metricsFile != "" {
		if err := prometheus.WriteToTextfile(cfg.metricsFile, prometheus.DefaultGatherer); err != nil {
			log.Error().Err(err).Str("path", cfg.metricsFile).Msg("Failed to write metrics")
		}
	}

	if report.Failed() {
		return 1
	}
	return 0
}

// execute builds one queue per participating device and dispatches on each.
// A single device runs on the calling goroutine; several run concurrently.
func execute(ctx context.Context, cfg *config, out *matmul.Reporter) []matmul.Outcome {
	opts := []matmul.Option{matmul.WithReporter(out)}
	if cfg.outDir != "" {
		opts = append(opts, matmul.WithOutput())
	}

	kinds := cfg.mode.Kinds()
	outcomes := make([]matmul.Outcome, len(kinds))
	jobs := make([]matmul.Job, 0, len(kinds))
	slots := make([]int, 0, len(kinds))

	for i, kind := range kinds {
		label := kind.String()
		q, err := newQueue(kind, cfg.queue)
		if err != nil {
			outcomes[i] = matmul.Outcome{Label: label, Err: device.AsExecutionError("", "create queue", err)}
			continue
		}
		defer func() {
			if err := q.Close(); err != nil {
				log.Warn().Err(err).Str("device", q.Name()).Msg("Failed to close queue")
			}
		}()
		jobs = append(jobs, matmul.Job{Queue: q, N: cfg.n, Label: label})
		slots = append(slots, i)
	}

	switch len(jobs) {
	case 0:
	case 1:
		log.Info().Str("device", jobs[0].Queue.Name()).Int("n", cfg.n).Msg("Running")
		res, err := matmul.Run(ctx, jobs[0].Queue, jobs[0].N, jobs[0].Label, opts...)
		outcomes[slots[0]] = matmul.Outcome{Label: jobs[0].Label, Result: res, Err: err}
	default:
		log.Info().Int("devices", len(jobs)).Int("n", cfg.n).Msg("Running on CPU and GPU concurrently")
		for i, o := range matmul.RunConcurrent(ctx, jobs, opts...) {
			outcomes[slots[i]] = o
		}
	}
	return outcomes
}
