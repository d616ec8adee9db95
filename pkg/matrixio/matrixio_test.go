package matrixio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

func sampleMatrix() *mat.Dense {
	return mat.NewDense(2, 3, []float64{
		1, -0.5, 1.0 / 3,
		math.Pi, 0, 1e-300,
	})
}

func TestTextRoundTrip(t *testing.T) {
	m := sampleMatrix()

	var buf bytes.Buffer
	if err := WriteText(&buf, m); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected 2 lines, got %d", len(lines))
	}
	if lines[0] != "1 -0.5 0.3333333333333333" {
		t.Errorf("Unexpected first line %q", lines[0])
	}

	back, err := ReadText(&buf)
	if err != nil {
		t.Fatalf("ReadText failed: %v", err)
	}
	if !mat.Equal(back, m) {
		t.Errorf("Round trip changed values\ngot  %v\nwant %v", mat.Formatted(back), mat.Formatted(m))
	}
}

func TestReadTextErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  error
	}{
		{"empty", "\n\n", core.ErrDegenerate},
		{"ragged", "1 2\n3\n", core.ErrDimensionMismatch},
		{"not a number", "1 x\n", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadText(strings.NewReader(tt.input))
			if err == nil {
				t.Fatal("Expected error")
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNPYLayout(t *testing.T) {
	m := sampleMatrix()

	var buf bytes.Buffer
	if err := WriteNPY(&buf, m); err != nil {
		t.Fatalf("WriteNPY failed: %v", err)
	}
	data := buf.Bytes()

	if !bytes.HasPrefix(data, []byte("\x93NUMPY")) {
		t.Fatalf("Bad preamble % x", data[:8])
	}
	header := string(data[:len(data)-6*8])
	for _, want := range []string{"<f8", "False", "(2, 3)"} {
		if !strings.Contains(header, want) {
			t.Errorf("Header %q missing %s", header, want)
		}
	}
	// the data section is the last 48 bytes, row-major
	body := data[len(data)-6*8:]
	if v := math.Float64frombits(binary.LittleEndian.Uint64(body[8:])); v != -0.5 {
		t.Errorf("Second element should be -0.5 in C order, got %v", v)
	}

	back, err := ReadNPY(&buf)
	if err != nil {
		t.Fatalf("ReadNPY failed: %v", err)
	}
	if !mat.Equal(back, m) {
		t.Error("NPY round trip changed values")
	}
}

func TestReadNPYFortranFloat32(t *testing.T) {
	header := "{'descr': '<f4', 'fortran_order': True, 'shape': (2, 2), }"
	header += strings.Repeat(" ", 64-(10+len(header)+1)%64) + "\n"

	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	// column-major [[1, 2], [3, 4]]
	for _, v := range []float32{1, 3, 2, 4} {
		binary.Write(&buf, binary.LittleEndian, v)
	}

	m, err := ReadNPY(&buf)
	if err != nil {
		t.Fatalf("ReadNPY failed: %v", err)
	}
	want := mat.NewDense(2, 2, []float64{1, 2, 3, 4})
	if !mat.Equal(m, want) {
		t.Errorf("got %v, want %v", mat.Formatted(m), mat.Formatted(want))
	}
}

func TestReadNPYErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"bad magic", "NOTNPY\x01\x00"},
		{"truncated", "\x93NUMPY\x01"},
		{"int dtype", npyFile("{'descr': '<i8', 'fortran_order': False, 'shape': (1, 1), }", 8)},
		{"1-d", npyFile("{'descr': '<f8', 'fortran_order': False, 'shape': (4,), }", 32)},
		{"oversized", npyFile("{'descr': '<f8', 'fortran_order': False, 'shape': (100000, 100000), }", 8)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ReadNPY(strings.NewReader(tt.input)); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestLoadNPYHeaderLargerThanFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.npy")
	content := npyFile("{'descr': '<f8', 'fortran_order': False, 'shape': (1000, 1000), }", 16)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("Expected error for a header declaring more data than the file holds")
	}
}

// npyFile builds a version 1.0 .npy image from a header dict and n zero
// data bytes.
func npyFile(dict string, n int) string {
	header := dict + strings.Repeat(" ", 64-(10+len(dict)+1)%64) + "\n"
	var buf bytes.Buffer
	buf.WriteString("\x93NUMPY")
	buf.Write([]byte{1, 0})
	binary.Write(&buf, binary.LittleEndian, uint16(len(header)))
	buf.WriteString(header)
	buf.Write(make([]byte, n))
	return buf.String()
}

func TestSaveLoadByExtension(t *testing.T) {
	dir := t.TempDir()
	m := sampleMatrix()

	for _, name := range []string{"R.npy", "R.txt", "R"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := Save(path, m); err != nil {
				t.Fatalf("Save failed: %v", err)
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			isNPY := bytes.HasPrefix(raw, []byte("\x93NUMPY"))
			if isNPY != (FormatFor(path) == FormatNPY) {
				t.Errorf("File %s written in the wrong format", name)
			}

			back, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if !mat.Equal(back, m) {
				t.Error("Round trip changed values")
			}
		})
	}
}

func TestLoadRejectsNonFinite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.txt")
	if err := os.WriteFile(path, []byte("1 NaN\n0 1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); !errors.Is(err, core.ErrDegenerate) {
		t.Errorf("Expected ErrDegenerate, got %v", err)
	}
}
