package space

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

// Lexicon maps source rows to the set of acceptable target rows. Size is the
// number of distinct source tokens in the lexicon file, including those
// outside the loaded vocabulary, so Len()/Size is the coverage.
type Lexicon struct {
	Entries map[int]map[int]struct{}
	Size    int
}

// NewLexicon returns an empty lexicon.
func NewLexicon() *Lexicon {
	return &Lexicon{Entries: make(map[int]map[int]struct{})}
}

// Add records tgt as a valid translation of src.
func (l *Lexicon) Add(src, tgt int) {
	set, ok := l.Entries[src]
	if !ok {
		set = make(map[int]struct{})
		l.Entries[src] = set
	}
	set[tgt] = struct{}{}
}

// Contains reports whether tgt is a gold target of src.
func (l *Lexicon) Contains(src, tgt int) bool {
	_, ok := l.Entries[src][tgt]
	return ok
}

// Len returns the number of source rows with at least one in-vocabulary target.
func (l *Lexicon) Len() int { return len(l.Entries) }

// Sources returns the source rows in ascending order.
func (l *Lexicon) Sources() []int {
	out := make([]int, 0, len(l.Entries))
	for src := range l.Entries {
		out = append(out, src)
	}
	sort.Ints(out)
	return out
}

// LoadLexicon reads an evaluation lexicon from path.
func LoadLexicon(path string, src, tgt *Space) (*Lexicon, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, core.WrapError("load_lexicon", err)
	}
	defer f.Close()
	return ReadLexicon(f, src, tgt)
}

// ReadLexicon parses "<source> <target>" lines. Lines sharing a source token
// are merged into one entry; pairs with a token outside either space count
// towards Size but are not scored.
func ReadLexicon(r io.Reader, src, tgt *Space) (*Lexicon, error) {
	lex := NewLexicon()
	vocab := make(map[string]struct{})

	err := scanPairs(r, "read_lexicon", func(a, b string) {
		vocab[a] = struct{}{}
		i, okA := src.Index(a)
		j, okB := tgt.Index(b)
		if okA && okB {
			lex.Add(i, j)
		}
	})
	if err != nil {
		return nil, err
	}
	lex.Size = len(vocab)
	return lex, nil
}

// Pair links a source row to a target row.
type Pair struct {
	Src int
	Tgt int
}

// Pairs is an ordered list of training pairs.
type Pairs []Pair

// Truncate keeps the first maxsup pairs; maxsup <= 0 keeps everything.
func (p Pairs) Truncate(maxsup int) Pairs {
	if maxsup > 0 && maxsup < len(p) {
		return p[:maxsup]
	}
	return p
}

// PairStats reports how many lexicon lines made it into the training set.
type PairStats struct {
	Total int // lines in the file
	Found int // lines with both tokens in vocabulary
}

// LoadPairs reads a training lexicon from path.
func LoadPairs(path string, src, tgt *Space) (Pairs, PairStats, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, PairStats{}, core.WrapError("load_pairs", err)
	}
	defer f.Close()
	return ReadPairs(f, src, tgt)
}

// ReadPairs keeps one pair per line, in file order, skipping lines whose
// tokens are not both in vocabulary.
func ReadPairs(r io.Reader, src, tgt *Space) (Pairs, PairStats, error) {
	var pairs Pairs
	var stats PairStats

	err := scanPairs(r, "read_pairs", func(a, b string) {
		stats.Total++
		i, okA := src.Index(a)
		j, okB := tgt.Index(b)
		if okA && okB {
			pairs = append(pairs, Pair{Src: i, Tgt: j})
		}
	})
	if err != nil {
		return nil, stats, err
	}
	stats.Found = len(pairs)
	return pairs, stats, nil
}

// AnchorPairs pairs every token present in both spaces with itself, in
// source order. Used when no training lexicon is given: shared tokens act
// as anchors between the two spaces.
func AnchorPairs(src, tgt *Space) Pairs {
	var pairs Pairs
	for i, w := range src.Words {
		if j, ok := tgt.Index(w); ok {
			pairs = append(pairs, Pair{Src: i, Tgt: j})
		}
	}
	return pairs
}

// SelectPairs gathers the matched rows of src and tgt into X and Y, one row
// per pair.
func SelectPairs(src, tgt *Space, pairs Pairs) (*mat.Dense, *mat.Dense, error) {
	if len(pairs) == 0 {
		return nil, nil, core.WrapError("select_pairs", core.ErrEmptyPairs)
	}
	if src.Dim() != tgt.Dim() {
		return nil, nil, core.Errorf("select_pairs", core.ErrDimensionMismatch,
			"source has dimension %d, target %d", src.Dim(), tgt.Dim())
	}

	d := src.Dim()
	x := mat.NewDense(len(pairs), d, nil)
	y := mat.NewDense(len(pairs), d, nil)
	for k, p := range pairs {
		if p.Src < 0 || p.Src >= src.Len() || p.Tgt < 0 || p.Tgt >= tgt.Len() {
			return nil, nil, core.WrapError("select_pairs",
				fmt.Errorf("pair %d (%d,%d) out of range", k, p.Src, p.Tgt))
		}
		x.SetRow(k, src.Vectors.RawRowView(p.Src))
		y.SetRow(k, tgt.Vectors.RawRowView(p.Tgt))
	}
	return x, y, nil
}

// NegativePool returns the first min(maxneg, Len) vectors of s as the fixed
// candidate set for hard-negative mining, or nil when maxneg <= 0.
func NegativePool(s *Space, maxneg int) *mat.Dense {
	return s.Prefix(maxneg)
}

func scanPairs(r io.Reader, op string, fn func(a, b string)) error {
	sc := bufio.NewScanner(r)
	line := 0
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return core.WrapError(op, fmt.Errorf("line %d: want 2 tokens, got %d", line, len(fields)))
		}
		fn(fields[0], fields[1])
	}
	return core.WrapError(op, sc.Err())
}
