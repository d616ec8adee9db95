package matrixio

import (
	"fmt"
	"io"

	"github.com/liliang-cn/vecalign/pkg/core"
	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// Shape bounds for .npy input. Each side is capped so the byte count of
// the data section cannot overflow.
const (
	maxSide   = 1 << 20
	maxValues = 1 << 28
)

// WriteNPY writes m as a .npy array of little-endian float64 in C order.
func WriteNPY(w io.Writer, m mat.Matrix) error {
	d, ok := m.(*mat.Dense)
	if !ok {
		d = mat.DenseCopyOf(m)
	}
	if err := npyio.Write(w, d); err != nil {
		return core.WrapError("write_npy", err)
	}
	return nil
}

// ReadNPY reads a two-dimensional .npy array with dtype <f8 or <f4, in C
// or Fortran order.
func ReadNPY(r io.Reader) (*mat.Dense, error) {
	return readNPY(r, -1)
}

// readNPY is ReadNPY with the number of bytes left in the input, or -1
// when unknown. A header that declares more data than avail is rejected
// before anything is allocated.
func readNPY(r io.Reader, avail int64) (*mat.Dense, error) {
	nr, err := npyio.NewReader(r)
	if err != nil {
		return nil, core.WrapError("read_npy", err)
	}
	descr := nr.Header.Descr

	if len(descr.Shape) != 2 || descr.Shape[0] < 1 || descr.Shape[1] < 1 {
		return nil, core.WrapError("read_npy", fmt.Errorf("expected a non-empty 2-D array, got shape %v", descr.Shape))
	}
	rows, cols := descr.Shape[0], descr.Shape[1]
	if rows > maxSide || cols > maxSide || rows*cols > maxValues {
		return nil, core.WrapError("read_npy", fmt.Errorf("array of shape %dx%d is too large", rows, cols))
	}

	var width int64
	switch descr.Type {
	case "<f8":
		width = 8
	case "<f4":
		width = 4
	default:
		return nil, core.WrapError("read_npy", fmt.Errorf("unsupported dtype %s, want <f8 or <f4", descr.Type))
	}
	if need := int64(rows) * int64(cols) * width; avail >= 0 && need > avail {
		return nil, core.WrapError("read_npy", fmt.Errorf("header declares %d data bytes, input holds at most %d", need, avail))
	}

	if width == 8 {
		var m mat.Dense
		if err := nr.Read(&m); err != nil {
			return nil, core.WrapError("read_npy", err)
		}
		return &m, nil
	}

	var data []float32
	if err := nr.Read(&data); err != nil {
		return nil, core.WrapError("read_npy", err)
	}
	if len(data) != rows*cols {
		return nil, core.WrapError("read_npy", fmt.Errorf("read %d values for shape %dx%d", len(data), rows, cols))
	}
	out := mat.NewDense(rows, cols, nil)
	for k, v := range data {
		if descr.Fortran {
			out.Set(k%rows, k/rows, float64(v))
		} else {
			out.Set(k/cols, k%cols, float64(v))
		}
	}
	return out, nil
}
