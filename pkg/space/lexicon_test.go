package space

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/liliang-cn/vecalign/pkg/core"
	"gonum.org/v1/gonum/mat"
)

func testSpaces(t *testing.T) (*Space, *Space) {
	t.Helper()
	src, err := New([]string{"cat", "dog", "house"}, mat.NewDense(3, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
	}))
	if err != nil {
		t.Fatal(err)
	}
	tgt, err := New([]string{"chat", "chien", "maison", "cat"}, mat.NewDense(4, 2, []float64{
		1, 0,
		0, 1,
		1, 1,
		-1, 0,
	}))
	if err != nil {
		t.Fatal(err)
	}
	return src, tgt
}

func TestReadLexiconAggregatesTargets(t *testing.T) {
	src, tgt := testSpaces(t)

	input := `cat chat
cat cat
dog chien
house maison
bird oiseau
tree arbre
`
	lex, err := ReadLexicon(strings.NewReader(input), src, tgt)
	if err != nil {
		t.Fatalf("Failed to read lexicon: %v", err)
	}

	if lex.Size != 5 {
		t.Errorf("Expected 5 distinct source tokens, got %d", lex.Size)
	}
	if lex.Len() != 3 {
		t.Errorf("Expected 3 in-vocabulary entries, got %d", lex.Len())
	}
	if !lex.Contains(0, 0) || !lex.Contains(0, 3) {
		t.Errorf("Expected cat -> {chat, cat}, got %v", lex.Entries[0])
	}
	if lex.Contains(1, 0) {
		t.Error("dog must not map to chat")
	}

	coverage := float64(lex.Len()) / float64(lex.Size)
	if math.Abs(coverage-0.6) > 1e-12 {
		t.Errorf("Expected coverage 0.6, got %f", coverage)
	}

	if got := lex.Sources(); len(got) != 3 || got[0] != 0 || got[2] != 2 {
		t.Errorf("Expected sorted sources [0 1 2], got %v", got)
	}
}

func TestReadLexiconMalformed(t *testing.T) {
	src, tgt := testSpaces(t)
	if _, err := ReadLexicon(strings.NewReader("cat chat extra\n"), src, tgt); err == nil {
		t.Error("Expected error for a three-token line")
	}
}

func TestReadPairs(t *testing.T) {
	src, tgt := testSpaces(t)

	input := "cat chat\n\ndog chien\nbird oiseau\nhouse maison\ncat cat\n"
	pairs, stats, err := ReadPairs(strings.NewReader(input), src, tgt)
	if err != nil {
		t.Fatalf("Failed to read pairs: %v", err)
	}

	if stats.Total != 5 || stats.Found != 4 {
		t.Errorf("Expected 5 total / 4 found, got %+v", stats)
	}
	want := Pairs{{0, 0}, {1, 1}, {2, 2}, {0, 3}}
	if len(pairs) != len(want) {
		t.Fatalf("Expected %d pairs, got %d", len(want), len(pairs))
	}
	for i := range want {
		if pairs[i] != want[i] {
			t.Errorf("pair %d: expected %v, got %v", i, want[i], pairs[i])
		}
	}

	if got := pairs.Truncate(2); len(got) != 2 {
		t.Errorf("Expected 2 pairs after truncation, got %d", len(got))
	}
	if got := pairs.Truncate(-1); len(got) != 4 {
		t.Errorf("Expected no truncation for maxsup=-1, got %d", len(got))
	}
}

func TestAnchorPairs(t *testing.T) {
	src, tgt := testSpaces(t)

	pairs := AnchorPairs(src, tgt)
	if len(pairs) != 1 || pairs[0] != (Pair{Src: 0, Tgt: 3}) {
		t.Errorf("Expected the shared token cat as only anchor, got %v", pairs)
	}
}

func TestSelectPairs(t *testing.T) {
	src, tgt := testSpaces(t)

	x, y, err := SelectPairs(src, tgt, Pairs{{2, 0}, {0, 3}})
	if err != nil {
		t.Fatalf("SelectPairs failed: %v", err)
	}

	wantX := mat.NewDense(2, 2, []float64{1, 1, 1, 0})
	wantY := mat.NewDense(2, 2, []float64{1, 0, -1, 0})
	if !mat.Equal(x, wantX) {
		t.Errorf("Unexpected X:\n%v", mat.Formatted(x))
	}
	if !mat.Equal(y, wantY) {
		t.Errorf("Unexpected Y:\n%v", mat.Formatted(y))
	}
}

func TestSelectPairsErrors(t *testing.T) {
	src, tgt := testSpaces(t)

	if _, _, err := SelectPairs(src, tgt, nil); !errors.Is(err, core.ErrEmptyPairs) {
		t.Errorf("Expected ErrEmptyPairs, got %v", err)
	}

	wide, _ := New([]string{"a"}, mat.NewDense(1, 3, []float64{1, 2, 3}))
	if _, _, err := SelectPairs(src, wide, Pairs{{0, 0}}); !errors.Is(err, core.ErrDimensionMismatch) {
		t.Errorf("Expected ErrDimensionMismatch, got %v", err)
	}

	if _, _, err := SelectPairs(src, tgt, Pairs{{7, 0}}); err == nil {
		t.Error("Expected error for out-of-range pair")
	}
}
