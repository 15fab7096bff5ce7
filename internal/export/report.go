package export

import (
	"io"
	"os"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// DeviceReport is the outcome of one device run.
type DeviceReport struct {
	Label          string  `cbor:"label"`
	Device         string  `cbor:"device,omitempty"`
	ElapsedSeconds float64 `cbor:"elapsed_seconds"`
	GFLOPS         float64 `cbor:"gflops"`
	Output         string  `cbor:"output,omitempty"`
	Error          string  `cbor:"error,omitempty"`
}

// RunReport summarizes one invocation.
type RunReport struct {
	Mode       string         `cbor:"mode"`
	N          int            `cbor:"n"`
	Kernel     string         `cbor:"kernel"`
	GPUBackend string         `cbor:"gpu_backend"`
	StartedAt  time.Time      `cbor:"started_at"`
	Devices    []DeviceReport `cbor:"devices"`
}

// Failed reports whether any device run failed.
func (r *RunReport) Failed() bool {
	for _, d := range r.Devices {
		if d.Error != "" {
			return true
		}
	}
	return false
}

// WriteReport encodes r as CBOR.
func WriteReport(w io.Writer, r *RunReport) error {
	return cbor.NewEncoder(w).Encode(r)
}

// WriteReportFile encodes r as CBOR into path.
func WriteReportFile(path string, r *RunReport) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := WriteReport(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// ReadReport decodes a CBOR report.
func ReadReport(rd io.Reader) (*RunReport, error) {
	var r RunReport
	if err := cbor.NewDecoder(rd).Decode(&r); err != nil {
		return nil, err
	}
	return &r, nil
}
