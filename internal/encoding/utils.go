// Package encoding converts alignment matrices to and from the compact
// binary blob stored by the run registry.
package encoding

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// ErrInvalidMatrix is returned when a matrix blob or matrix value is invalid
var ErrInvalidMatrix = errors.New("invalid matrix")

// maxSide bounds each matrix side so rows*cols*8 cannot overflow.
const maxSide = 1 << 20

// EncodeMatrix writes rows and cols as little-endian int32 followed by the
// row-major float64 values.
func EncodeMatrix(m mat.Matrix) ([]byte, error) {
	if m == nil {
		return nil, ErrInvalidMatrix
	}
	rows, cols := m.Dims()
	if rows > maxSide || cols > maxSide {
		return nil, fmt.Errorf("matrix too large: %dx%d", rows, cols)
	}

	buf := bytes.NewBuffer(make([]byte, 0, 8+rows*cols*8))
	if err := binary.Write(buf, binary.LittleEndian, [2]int32{int32(rows), int32(cols)}); err != nil {
		return nil, fmt.Errorf("failed to encode matrix shape: %w", err)
	}

	var word [8]byte
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			binary.LittleEndian.PutUint64(word[:], math.Float64bits(m.At(i, j)))
			buf.Write(word[:])
		}
	}
	return buf.Bytes(), nil
}

// DecodeMatrix is the inverse of EncodeMatrix.
func DecodeMatrix(data []byte) (*mat.Dense, error) {
	if len(data) < 8 {
		return nil, ErrInvalidMatrix
	}

	rows := int(int32(binary.LittleEndian.Uint32(data[0:4])))
	cols := int(int32(binary.LittleEndian.Uint32(data[4:8])))
	if rows <= 0 || cols <= 0 || rows > maxSide || cols > maxSide {
		return nil, fmt.Errorf("%w: shape %dx%d", ErrInvalidMatrix, rows, cols)
	}

	body := data[8:]
	if len(body) != rows*cols*8 {
		return nil, fmt.Errorf("%w: want %d bytes for %dx%d, got %d",
			ErrInvalidMatrix, rows*cols*8, rows, cols, len(body))
	}

	values := make([]float64, rows*cols)
	for i := range values {
		values[i] = math.Float64frombits(binary.LittleEndian.Uint64(body[i*8:]))
	}
	return mat.NewDense(rows, cols, values), nil
}

// ValidateMatrix rejects matrices holding NaN or infinite values.
func ValidateMatrix(m mat.Matrix) error {
	if m == nil {
		return ErrInvalidMatrix
	}
	rows, cols := m.Dims()
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			v := m.At(i, j)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: non-finite value at (%d,%d)", ErrInvalidMatrix, i, j)
			}
		}
	}
	return nil
}
