package space

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// maxLineBytes bounds a single vector line; 300-d fastText lines are ~4KB.
const maxLineBytes = 16 << 20

// Buffers are preallocated from the header only up to these bounds and
// grow as rows arrive, so a corrupt count cannot force a huge allocation.
const (
	preallocRows   = 1 << 12
	preallocValues = 1 << 24
)

// LoadOptions controls how a vector file is read.
type LoadOptions struct {
	MaxLoad   int  // Maximum number of vectors to read, <= 0 reads all
	Normalize bool // Scale every row to unit length
	Center    bool // Subtract the mean vector, then renormalise
}

// DefaultLoadOptions returns the options used by the align and eval commands.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		MaxLoad:   200000,
		Normalize: true,
	}
}

// Load reads a vector file from path.
func Load(path string, opts LoadOptions) (*Space, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError("load_vectors", err)
	}
	defer f.Close()

	s, err := Read(f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

// Read parses a vector file: a "<count> <dim>" header followed by one
// "<token> <v1> ... <vdim>" line per vector.
func Read(r io.Reader, opts LoadOptions) (*Space, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)

	if !sc.Scan() {
		if err := sc.Err(); err != nil {
			return nil, core.WrapError("read_vectors", err)
		}
		return nil, core.WrapError("read_vectors", fmt.Errorf("missing header line"))
	}
	n, d, err := parseHeader(sc.Text())
	if err != nil {
		return nil, core.WrapError("read_vectors", err)
	}
	if opts.MaxLoad > 0 && opts.MaxLoad < n {
		n = opts.MaxLoad
	}

	hint := min(n, preallocRows)
	words := make([]string, 0, hint)
	var data []float64
	if hint > 0 && d <= preallocValues/hint {
		data = make([]float64, 0, hint*d)
	}
	line := 1
	for len(words) < n && sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields)-1 != d {
			return nil, core.Errorf("read_vectors", core.ErrDimensionMismatch,
				"line %d: token %q has %d values, header says %d", line, fields[0], len(fields)-1, d)
		}
		for _, field := range fields[1:] {
			v, err := strconv.ParseFloat(field, 64)
			if err != nil {
				return nil, core.WrapError("read_vectors", fmt.Errorf("line %d: %w", line, err))
			}
			data = append(data, v)
		}
		words = append(words, fields[0])
	}
	if err := sc.Err(); err != nil {
		return nil, core.WrapError("read_vectors", err)
	}
	if len(words) < n {
		return nil, core.WrapError("read_vectors",
			fmt.Errorf("header declares %d vectors, file has %d", n, len(words)))
	}
	if n == 0 {
		return nil, core.Errorf("read_vectors", core.ErrDegenerate, "file holds no vectors")
	}

	vectors := mat.NewDense(n, d, data)
	if opts.Normalize {
		NormalizeRows(vectors)
	}
	if opts.Center {
		CenterRows(vectors)
		NormalizeRows(vectors)
	}

	return New(words, vectors)
}

func parseHeader(text string) (int, int, error) {
	fields := strings.Fields(text)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("malformed header %q, want \"<count> <dimension>\"", text)
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil || n < 0 {
		return 0, 0, fmt.Errorf("malformed vector count %q", fields[0])
	}
	d, err := strconv.Atoi(fields[1])
	if err != nil || d <= 0 {
		return 0, 0, fmt.Errorf("malformed dimension %q", fields[1])
	}
	return n, d, nil
}

// Save writes s to path in the vector file format.
func Save(path string, s *Space) error {
	f, err := os.Create(path)
	if err != nil {
		return core.WrapError("save_vectors", err)
	}
	if err := Write(f, s); err != nil {
		f.Close()
		return err
	}
	return core.WrapError("save_vectors", f.Close())
}

// Write encodes s with shortest round-trip float formatting.
func Write(w io.Writer, s *Space) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "%d %d\n", s.Len(), s.Dim())

	buf := make([]byte, 0, 32)
	raw := s.Vectors.RawMatrix()
	for i, word := range s.Words {
		bw.WriteString(word)
		for _, v := range raw.Data[i*raw.Stride : i*raw.Stride+raw.Cols] {
			bw.WriteByte(' ')
			buf = strconv.AppendFloat(buf[:0], v, 'g', -1, 64)
			bw.Write(buf)
		}
		bw.WriteByte('\n')
	}
	return core.WrapError("write_vectors", bw.Flush())
}
