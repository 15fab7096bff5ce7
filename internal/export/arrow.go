package export

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/23skdu/longbow-gemm/internal/matmul"
)

// MatrixSchema returns the schema used for an n x n matrix: one row per
// matrix row, stored as a fixed size list of n float32 values.
func MatrixSchema(n int) *arrow.Schema {
	return arrow.NewSchema(
		[]arrow.Field{
			{Name: "row", Type: arrow.FixedSizeListOf(int32(n), arrow.PrimitiveTypes.Float32)},
		},
		nil,
	)
}

// MatrixRecord wraps m as a RecordBatch without copying the matrix data.
// m must outlive the returned record.
func MatrixRecord(m *matmul.Matrix) arrow.RecordBatch {
	n := m.N
	fslType := arrow.FixedSizeListOf(int32(n), arrow.PrimitiveTypes.Float32)

	// Zero-copy Arrow Data construction
	valuesBuf := memory.NewBufferBytes(arrow.Float32Traits.CastToBytes(m.Data))
	valuesData := array.NewData(arrow.PrimitiveTypes.Float32, n*n, []*memory.Buffer{nil, valuesBuf}, nil, 0, 0)
	defer valuesData.Release()

	fslData := array.NewData(
		fslType,
		n,
		[]*memory.Buffer{nil},
		[]arrow.ArrayData{valuesData},
		0,
		0,
	)
	defer fslData.Release()
	rows := array.NewFixedSizeListData(fslData)
	defer rows.Release()

	return array.NewRecordBatch(MatrixSchema(n), []arrow.Array{rows}, int64(n))
}

// WriteMatrix writes m to w as a single-batch Arrow IPC stream.
func WriteMatrix(w io.Writer, m *matmul.Matrix) error {
	rec := MatrixRecord(m)
	defer rec.Release()

	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// WriteMatrixFile writes m to <dir>/<label>.arrow and returns the path.
func WriteMatrixFile(dir, label string, m *matmul.Matrix) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, label+".arrow")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := WriteMatrix(f, m); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, f.Close()
}

// ReadMatrix reads a matrix previously written by WriteMatrix.
func ReadMatrix(r io.Reader) (*matmul.Matrix, error) {
	reader, err := ipc.NewReader(r, ipc.WithAllocator(memory.NewGoAllocator()))
	if err != nil {
		return nil, fmt.Errorf("failed to create IPC reader: %w", err)
	}
	defer reader.Release()

	var m *matmul.Matrix
	for reader.Next() {
		rec := reader.Record()
		if rec.NumCols() == 0 {
			continue
		}
		rows, ok := rec.Column(0).(*array.FixedSizeList)
		if !ok {
			return nil, fmt.Errorf("column 0 is %s, want fixed_size_list", rec.Column(0).DataType())
		}
		n := int(rows.DataType().(*arrow.FixedSizeListType).Len())
		values, ok := rows.ListValues().(*array.Float32)
		if !ok {
			return nil, fmt.Errorf("row values are %s, want float32", rows.ListValues().DataType())
		}
		if m == nil {
			m = &matmul.Matrix{N: n, Data: make([]float32, 0, n*n)}
		}
		m.Data = append(m.Data, values.Float32Values()...)
	}
	if err := reader.Err(); err != nil {
		return nil, err
	}
	if m == nil {
		return nil, fmt.Errorf("stream contains no rows")
	}
	if len(m.Data) != m.N*m.N {
		return nil, fmt.Errorf("stream holds %d values, want %d", len(m.Data), m.N*m.N)
	}
	return m, nil
}
