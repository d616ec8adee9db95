// Package matrixio reads and writes alignment matrices.
//
// Two formats are supported, chosen by file extension: NumPy .npy files
// (float64 little-endian, C order) so matrices can be inspected from Python,
// and plain text with one whitespace-separated row per line.
package matrixio

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/liliang-cn/vecalign/internal/encoding"
	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// Format identifies a matrix file format
type Format string

const (
	// FormatText is one whitespace-separated row per line
	FormatText Format = "text"
	// FormatNPY is the NumPy array format, version 1.0
	FormatNPY Format = "npy"
)

// FormatFor picks the format from the path's extension.
func FormatFor(path string) Format {
	if strings.EqualFold(filepath.Ext(path), ".npy") {
		return FormatNPY
	}
	return FormatText
}

// Save writes m to path in the format implied by its extension.
func Save(path string, m mat.Matrix) error {
	f, err := os.Create(path)
	if err != nil {
		return core.WrapError("save_matrix", err)
	}

	w := bufio.NewWriter(f)
	if FormatFor(path) == FormatNPY {
		err = WriteNPY(w, m)
	} else {
		err = WriteText(w, m)
	}
	if err == nil {
		err = w.Flush()
	}
	if cerr := f.Close(); err == nil && cerr != nil {
		err = core.WrapError("save_matrix", cerr)
	}
	return err
}

// Load reads the matrix stored at path. Non-finite entries are rejected.
func Load(path string) (*mat.Dense, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError("load_matrix", err)
	}
	defer f.Close()

	var m *mat.Dense
	if FormatFor(path) == FormatNPY {
		info, err := f.Stat()
		if err != nil {
			return nil, core.WrapError("load_matrix", err)
		}
		m, err = readNPY(bufio.NewReader(f), info.Size())
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
	} else {
		m, err = ReadText(f)
	}
	if err != nil {
		return nil, err
	}
	if err := encoding.ValidateMatrix(m); err != nil {
		return nil, core.Errorf("load_matrix", core.ErrDegenerate, "%s: %v", path, err)
	}
	return m, nil
}

// WriteText writes one row per line using the shortest representation that
// parses back to the same float64.
func WriteText(w io.Writer, m mat.Matrix) error {
	r, c := m.Dims()
	bw := bufio.NewWriter(w)
	buf := make([]byte, 0, 32)
	for i := 0; i < r; i++ {
		for j := 0; j < c; j++ {
			if j > 0 {
				bw.WriteByte(' ')
			}
			buf = strconv.AppendFloat(buf[:0], m.At(i, j), 'g', -1, 64)
			bw.Write(buf)
		}
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return core.WrapError("write_matrix", err)
	}
	return nil
}

// ReadText parses the output of WriteText. Blank lines are skipped and all
// rows must have the same width.
func ReadText(r io.Reader) (*mat.Dense, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var data []float64
	cols, rows, line := 0, 0, 0
	for scanner.Scan() {
		line++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if rows == 0 {
			cols = len(fields)
		} else if len(fields) != cols {
			return nil, core.Errorf("read_matrix", core.ErrDimensionMismatch,
				"line %d has %d values, expected %d", line, len(fields), cols)
		}
		for _, f := range fields {
			v, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return nil, core.WrapError("read_matrix", fmt.Errorf("line %d: %w", line, err))
			}
			data = append(data, v)
		}
		rows++
	}
	if err := scanner.Err(); err != nil {
		return nil, core.WrapError("read_matrix", err)
	}
	if rows == 0 {
		return nil, core.Errorf("read_matrix", core.ErrDegenerate, "no rows")
	}
	return mat.NewDense(rows, cols, data), nil
}
