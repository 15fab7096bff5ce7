package matmul

import (
	"fmt"
	"io"
	"sync"
	"time"
)

// Reporter serializes result lines from concurrent dispatches so that lines
// from different devices never interleave.
type Reporter struct {
	mu sync.Mutex
	w  io.Writer
}

// NewReporter creates a Reporter writing to w.
func NewReporter(w io.Writer) *Reporter {
	return &Reporter{w: w}
}

// Elapsed prints the timing line for one device.
func (r *Reporter) Elapsed(label string, d time.Duration) {
	r.Printf("Elapsed time on %s: %.6g seconds\n", label, d.Seconds())
}

// Printf writes one formatted line atomically.
func (r *Reporter) Printf(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}
