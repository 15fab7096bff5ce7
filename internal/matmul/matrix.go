package matmul

import (
	"fmt"

	"github.com/23skdu/longbow-gemm/internal/device"
	"github.com/23skdu/longbow-gemm/internal/simd"
)

// Matrix is a dense, row-major N x N buffer of float32 values.
type Matrix struct {
	N    int
	Data []float32
}

// NewMatrix allocates an n x n matrix with every element set to fill.
func NewMatrix(n int, fill float32) (*Matrix, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: n=%d", device.ErrInvalidSize, n)
	}
	m := &Matrix{N: n, Data: make([]float32, n*n)}
	if fill != 0 {
		simd.Fill(m.Data, fill)
	}
	return m, nil
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float32 {
	return m.Data[i*m.N+j]
}

// Row returns row i as a slice sharing the matrix storage.
func (m *Matrix) Row(i int) []float32 {
	return m.Data[i*m.N : (i+1)*m.N]
}

// Bytes returns the size of the backing storage in bytes.
func (m *Matrix) Bytes() int64 {
	return int64(len(m.Data)) * 4
}
