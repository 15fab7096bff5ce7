//go:build webgpu

package device

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/openfluke/webgpu/wgpu"
	"github.com/rs/zerolog/log"
)

// ensure interface compliance
var _ Queue = (*WebGPUQueue)(nil)

const (
	workgroupEdge = 16
	// maxStorageBinding is the WebGPU default maxStorageBufferBindingSize.
	maxStorageBinding = 128 << 20
)

type gpuContext struct {
	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device
	queue    *wgpu.Queue
	name     string
	// submissions to the shared device are serialized
	mu sync.Mutex
}

var (
	gpuOnce sync.Once
	gpuCtx  *gpuContext
	gpuErr  error
)

// getGPUContext returns the process-wide WebGPU context, initializing it once.
func getGPUContext() (*gpuContext, error) {
	gpuOnce.Do(func() {
		instance := wgpu.CreateInstance(nil)
		if instance == nil {
			gpuErr = fmt.Errorf("%w: failed to create WebGPU instance", ErrDeviceUnavailable)
			return
		}

		adapter, err := instance.RequestAdapter(&wgpu.RequestAdapterOptions{
			PowerPreference: wgpu.PowerPreferenceHighPerformance,
		})
		if err != nil {
			log.Debug().Err(err).Msg("High performance adapter failed, trying default")
			adapter, err = instance.RequestAdapter(nil)
		}
		if err != nil || adapter == nil {
			gpuErr = fmt.Errorf("%w: no WebGPU adapter: %v", ErrDeviceUnavailable, err)
			return
		}

		info := adapter.GetInfo()
		device, err := adapter.RequestDevice(&wgpu.DeviceDescriptor{})
		if err != nil {
			gpuErr = fmt.Errorf("%w: request device on %s: %v", ErrDeviceUnavailable, info.Name, err)
			return
		}

		gpuCtx = &gpuContext{
			instance: instance,
			adapter:  adapter,
			device:   device,
			queue:    device.GetQueue(),
			name:     info.Name,
		}
		log.Info().Str("adapter", info.Name).Str("vendor", info.VendorName).Msg("Using GPU adapter")
	})
	return gpuCtx, gpuErr
}

// WebGPUQueue runs kernels on a GPU through WebGPU compute shaders.
type WebGPUQueue struct {
	ctx    *gpuContext
	stream *stream
}

// NewWebGPUQueue binds a queue to the first usable WebGPU adapter.
func NewWebGPUQueue() (Queue, error) {
	c, err := getGPUContext()
	if err != nil {
		return nil, err
	}
	return &WebGPUQueue{ctx: c, stream: newStream(4)}, nil
}

func (q *WebGPUQueue) Kind() Kind {
	return KindGPU
}

func (q *WebGPUQueue) Name() string {
	return q.ctx.name
}

func (q *WebGPUQueue) SubmitMatMul(ctx context.Context, a, b, c []float32, n int) *Event {
	if err := checkDims("matmul", q.Name(), a, b, c, n); err != nil {
		recordSubmission(KindGPU, n, 0, err)
		return CompletedEvent(err)
	}
	if n*n*4 > maxStorageBinding {
		err := &DeviceExecutionError{
			Device: q.Name(),
			Op:     "allocate",
			Err:    fmt.Errorf("%w: %d bytes per buffer exceeds binding limit %d", ErrOutOfMemory, n*n*4, maxStorageBinding),
		}
		recordSubmission(KindGPU, n, 0, err)
		return CompletedEvent(err)
	}

	ev := newEvent()
	ok := q.stream.submit(func() {
		start := time.Now()
		err := runGuarded(q.Name(), "matmul", func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			return q.run(a, b, c, n)
		})
		recordSubmission(KindGPU, n, time.Since(start).Seconds(), err)
		ev.complete(err)
	})
	if !ok {
		return CompletedEvent(&DeviceExecutionError{Device: q.Name(), Op: "submit", Err: ErrQueueClosed})
	}
	return ev
}

func matMulShader(n int) string {
	return fmt.Sprintf(`
		@group(0) @binding(0) var<storage, read> a : array<f32>;
		@group(0) @binding(1) var<storage, read> b : array<f32>;
		@group(0) @binding(2) var<storage, read_write> c : array<f32>;

		@compute @workgroup_size(%d, %d)
		fn main(@builtin(global_invocation_id) gid: vec3<u32>) {
			let n = %du;
			let col = gid.x;
			let row = gid.y;
			if (row >= n || col >= n) {
				return;
			}
			var sum: f32 = 0.0;
			for (var k: u32 = 0u; k < n; k++) {
				sum += a[row * n + k] * b[k * n + col];
			}
			c[row * n + col] = sum;
		}
	`, workgroupEdge, workgroupEdge, n)
}

func (q *WebGPUQueue) run(a, b, c []float32, n int) error {
	g := q.ctx
	g.mu.Lock()
	defer g.mu.Unlock()

	size := n * n
	sizeBytes := uint64(size * 4)
	storage := wgpu.BufferUsageStorage | wgpu.BufferUsageCopyDst | wgpu.BufferUsageCopySrc

	bufA, err := g.device.CreateBufferInit(&wgpu.BufferInitDescriptor{Contents: wgpu.ToBytes(a[:size]), Usage: storage})
	if err != nil {
		return fmt.Errorf("%w: buffer A: %v", ErrOutOfMemory, err)
	}
	defer bufA.Destroy()
	bufB, err := g.device.CreateBufferInit(&wgpu.BufferInitDescriptor{Contents: wgpu.ToBytes(b[:size]), Usage: storage})
	if err != nil {
		return fmt.Errorf("%w: buffer B: %v", ErrOutOfMemory, err)
	}
	defer bufB.Destroy()
	bufC, err := g.device.CreateBuffer(&wgpu.BufferDescriptor{Label: "C", Size: sizeBytes, Usage: storage})
	if err != nil {
		return fmt.Errorf("%w: buffer C: %v", ErrOutOfMemory, err)
	}
	defer bufC.Destroy()
	staging, err := g.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "C_Staging",
		Size:  sizeBytes,
		Usage: wgpu.BufferUsageMapRead | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("%w: staging buffer: %v", ErrOutOfMemory, err)
	}
	defer staging.Destroy()

	deviceBufferBytes.WithLabelValues(KindGPU.String()).Add(float64(4 * sizeBytes))
	defer deviceBufferBytes.WithLabelValues(KindGPU.String()).Sub(float64(4 * sizeBytes))

	module, err := g.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{
		Label:          "matmul",
		WGSLDescriptor: &wgpu.ShaderModuleWGSLDescriptor{Code: matMulShader(n)},
	})
	if err != nil {
		return fmt.Errorf("shader compile: %w", err)
	}
	defer module.Release()

	layout, err := g.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "matmul_BGL",
		Entries: []wgpu.BindGroupLayoutEntry{
			{Binding: 0, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 1, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeReadOnlyStorage}},
			{Binding: 2, Visibility: wgpu.ShaderStageCompute, Buffer: wgpu.BufferBindingLayout{Type: wgpu.BufferBindingTypeStorage}},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group layout: %w", err)
	}
	defer layout.Release()

	pipelineLayout, err := g.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "matmul_Layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{layout},
	})
	if err != nil {
		return fmt.Errorf("create pipeline layout: %w", err)
	}
	defer pipelineLayout.Release()

	pipeline, err := g.device.CreateComputePipeline(&wgpu.ComputePipelineDescriptor{
		Label:  "matmul_Pipe",
		Layout: pipelineLayout,
		Compute: wgpu.ProgrammableStageDescriptor{
			Module:     module,
			EntryPoint: "main",
		},
	})
	if err != nil {
		return fmt.Errorf("create pipeline: %w", err)
	}
	defer pipeline.Release()

	bindGroup, err := g.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "matmul_Bind",
		Layout: layout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, Buffer: bufA, Size: bufA.GetSize()},
			{Binding: 1, Buffer: bufB, Size: bufB.GetSize()},
			{Binding: 2, Buffer: bufC, Size: bufC.GetSize()},
		},
	})
	if err != nil {
		return fmt.Errorf("create bind group: %w", err)
	}
	defer bindGroup.Release()

	enc, err := g.device.CreateCommandEncoder(nil)
	if err != nil {
		return fmt.Errorf("create command encoder: %w", err)
	}
	groups := uint32((n + workgroupEdge - 1) / workgroupEdge)
	pass := enc.BeginComputePass(nil)
	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	pass.DispatchWorkgroups(groups, groups, 1)
	pass.End()
	enc.CopyBufferToBuffer(bufC, 0, staging, 0, sizeBytes)

	cmd, err := enc.Finish(nil)
	if err != nil {
		return fmt.Errorf("finish command: %w", err)
	}
	g.queue.Submit(cmd)

	return readStaging(g.device, staging, c[:size])
}

// readStaging blocks until staging is mapped and copies it into dst.
func readStaging(device *wgpu.Device, staging *wgpu.Buffer, dst []float32) error {
	done := make(chan struct{})
	var mapErr error

	staging.MapAsync(wgpu.MapModeRead, 0, staging.GetSize(), func(status wgpu.BufferMapAsyncStatus) {
		if status != wgpu.BufferMapAsyncStatusSuccess {
			mapErr = fmt.Errorf("map status: %d", status)
		}
		close(done)
	})

Loop:
	for {
		device.Poll(true, nil)
		select {
		case <-done:
			break Loop
		default:
		}
	}
	if mapErr != nil {
		return mapErr
	}

	data := staging.GetMappedRange(0, uint(staging.GetSize()))
	defer staging.Unmap()
	if data == nil {
		return fmt.Errorf("mapped range nil")
	}
	copy(dst, wgpu.FromBytes[float32](data))
	return nil
}

func (q *WebGPUQueue) Close() error {
	q.stream.close()
	return nil
}
