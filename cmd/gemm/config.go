package main

import (
	"flag"
	"fmt"
	"io"
	"runtime"

	"github.com/rs/zerolog"

	"github.com/23skdu/longbow-gemm/internal/device"
)

// defaultN is the matrix dimension used when -n is not given.
const defaultN = 8 * 1024

type config struct {
	mode        Mode
	n           int
	queue       device.Options
	outDir      string
	reportPath  string
	metricsFile string
	cpuProfile  string
	enableOTel  bool
	logLevel    zerolog.Level
}

func printUsage(w io.Writer, prog string) {
	fmt.Fprintf(w, "Usage: %s <device_type>\n", prog)
	fmt.Fprintln(w, "0: CPU, 1: GPU, 2: CPU & GPU")
}

// parseConfig parses flags followed by the device_type positional argument.
func parseConfig(prog string, args []string, stderr io.Writer) (*config, error) {
	fs := flag.NewFlagSet(prog, flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		printUsage(stderr, prog)
		fmt.Fprintln(stderr, "Flags:")
		fs.PrintDefaults()
	}

	var (
		n           = fs.Int("n", defaultN, "Matrix dimension (N x N)")
		kernel      = fs.String("kernel", "naive", "CPU kernel: naive or blas")
		gpuBackend  = fs.String("gpu-backend", "auto", "GPU backend: auto, webgpu or simt")
		workers     = fs.Int("workers", runtime.NumCPU(), "Worker goroutines per queue")
		block       = fs.Int("block", device.DefaultBlockSize, "SIMT thread block edge (1-32)")
		outDir      = fs.String("out", "", "Directory to write each device's result as Arrow IPC")
		reportPath  = fs.String("report", "", "Write a CBOR run report to this file")
		metricsFile = fs.String("metrics-file", "", "Write Prometheus metrics in text format to this file at exit")
		cpuProfile  = fs.String("cpuprofile", "", "Write cpu profile to file")
		enableOTel  = fs.Bool("otel", false, "Enable OpenTelemetry tracing (stderr)")
		logLevel    = fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if fs.NArg() < 1 {
		return nil, &UsageError{Msg: "missing device_type"}
	}
	if fs.NArg() > 1 {
		return nil, &UsageError{Msg: fmt.Sprintf("unexpected arguments after device_type: %v", fs.Args()[1:])}
	}
	mode, err := ParseMode(fs.Arg(0))
	if err != nil {
		return nil, err
	}

	if *n <= 0 {
		return nil, &UsageError{Msg: fmt.Sprintf("-n must be positive, got %d", *n)}
	}
	if *block < 1 || *block > device.MaxBlockSize {
		return nil, &UsageError{Msg: fmt.Sprintf("-block must be in [1, %d], got %d", device.MaxBlockSize, *block)}
	}
	kt, err := device.ParseKernelType(*kernel)
	if err != nil {
		return nil, &UsageError{Msg: err.Error()}
	}
	gb, err := device.ParseGPUBackend(*gpuBackend)
	if err != nil {
		return nil, &UsageError{Msg: err.Error()}
	}
	lvl, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		return nil, &UsageError{Msg: fmt.Sprintf("invalid -log-level: %v", err)}
	}

	return &config{
		mode: mode,
		n:    *n,
		queue: device.Options{
			Workers:    *workers,
			Kernel:     kt,
			GPUBackend: gb,
			BlockSize:  *block,
		},
		outDir:      *outDir,
		reportPath:  *reportPath,
		metricsFile: *metricsFile,
		cpuProfile:  *cpuProfile,
		enableOTel:  *enableOTel,
		logLevel:    lvl,
	}, nil
}
