package slicing

import (
	"errors"
	"reflect"
	"testing"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

func TestParseSelection(t *testing.T) {
	format := "-3,6-33;3-5;1,2-4,5;;,,;7-12"
	frames := []int{8, 8, 6, 5, 4, 10}

	expected := [][]int{
		{0, 1, 2, 3, 6, 7},
		{3, 4, 5},
		{1, 2, 3, 4, 5},
		{0, 1, 2, 3, 4},
		{0, 1, 2, 3},
		{7, 8, 9},
	}

	got, err := ParseSelection(format, frames)
	if err != nil {
		t.Fatalf("ParseSelection failed: %v", err)
	}
	if !reflect.DeepEqual(got, expected) {
		t.Errorf("expected %v, got %v", expected, got)
	}

	combos := Combine(got)
	if len(combos) != 6*3*5*5*4*3 {
		t.Fatalf("expected %d combinations, got %d", 6*3*5*5*4*3, len(combos))
	}
	if !reflect.DeepEqual(combos[0], []int{0, 3, 1, 0, 0, 7}) {
		t.Errorf("first combination: expected [0 3 1 0 0 7], got %v", combos[0])
	}
	if !reflect.DeepEqual(combos[1], []int{0, 3, 1, 0, 0, 8}) {
		t.Errorf("last axis should vary fastest, got %v", combos[1])
	}
	if !reflect.DeepEqual(combos[len(combos)-1], []int{7, 5, 5, 4, 3, 9}) {
		t.Errorf("last combination: expected [7 5 5 4 3 9], got %v", combos[len(combos)-1])
	}
}

func TestParseSelectionTokens(t *testing.T) {
	testCases := []struct {
		name     string
		format   string
		length   int
		expected []int
	}{
		{"single index", "2", 5, []int{2}},
		{"open ended", "3-", 6, []int{3, 4, 5}},
		{"up to", "-1", 6, []int{0, 1}},
		{"clamped", "4-100", 6, []int{4, 5}},
		{"out of range index", "9", 4, []int{0, 1, 2, 3}},
		{"inverted range", "4-2", 5, []int{0, 1, 2, 3, 4}},
		{"overlap merged", "1-3,2-4", 6, []int{1, 2, 3, 4}},
		{"unordered tokens", "5,1", 6, []int{1, 5}},
		{"whitespace", " 1 , 3 ", 6, []int{1, 3}},
		{"bare dash", "-", 3, []int{0, 1, 2}},
	}

	for _, tc := range testCases {
		got, err := ParseSelection(tc.format, []int{tc.length})
		if err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
			continue
		}
		if !reflect.DeepEqual(got[0], tc.expected) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.expected, got[0])
		}
	}
}

func TestParseSelectionErrors(t *testing.T) {
	for _, format := range []string{"a-3", "1-b", "1-2-3", ";x"} {
		_, err := ParseSelection(format, []int{10, 10})
		if err == nil {
			t.Errorf("%q: expected error", format)
			continue
		}
		if !errors.Is(err, ErrRangeToken) {
			t.Errorf("%q: expected ErrRangeToken, got %v", format, err)
		}
		if !perr.IsCode(err, perr.CodeParse) {
			t.Errorf("%q: expected parse code, got %v", format, perr.CodeOf(err))
		}
	}
}

func TestGridAxesList(t *testing.T) {
	testCases := []struct {
		format   string
		axes     int
		expected []int
	}{
		{"", 4, []int{1, 2, 3}},
		{"2", 4, []int{2}},
		{"0-1,3", 4, []int{1, 3}},
		{"2-", 5, []int{2, 3, 4}},
		{",,", 3, []int{1, 2}},
	}

	for _, tc := range testCases {
		got, err := GridAxesList(tc.format, tc.axes)
		if err != nil {
			t.Errorf("%q: unexpected error %v", tc.format, err)
			continue
		}
		if !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("%q: expected %v, got %v", tc.format, tc.expected, got)
		}
	}
}

func TestCombineEdgeCases(t *testing.T) {
	if got := Combine(nil); got != nil {
		t.Errorf("expected nil for no axes, got %v", got)
	}
	if got := Combine([][]int{{1, 2}, {}}); got != nil {
		t.Errorf("expected nil when an axis is empty, got %v", got)
	}
	got := Combine([][]int{{4}, {1, 2}})
	if !reflect.DeepEqual(got, [][]int{{4, 1}, {4, 2}}) {
		t.Errorf("unexpected combinations %v", got)
	}
}

func TestFlattenGrid(t *testing.T) {
	testCases := []struct {
		dims     []int
		dim      int
		expected []int
	}{
		{[]int{3, 4, 5, 6}, 2, []int{12, 5, 6}},
		{[]int{3, 4, 100}, 1, []int{12, 100}},
		{[]int{7, 5, 6}, 2, []int{7, 5, 6}},
		{[]int{5, 6}, 2, []int{5, 6}},
	}

	for _, tc := range testCases {
		if got := FlattenGrid(tc.dims, tc.dim); !reflect.DeepEqual(got, tc.expected) {
			t.Errorf("FlattenGrid(%v, %d): expected %v, got %v", tc.dims, tc.dim, tc.expected, got)
		}
	}
}

func TestNewGridValidation(t *testing.T) {
	testCases := []struct {
		name  string
		shape []int
		axis  int
		batch int
	}{
		{"empty shape", nil, 0, 1},
		{"axis too large", []int{2, 3}, 2, 1},
		{"negative axis", []int{2, 3}, -1, 1},
		{"zero batch", []int{2, 3}, 0, 0},
	}

	for _, tc := range testCases {
		if _, err := NewGrid(tc.shape, tc.axis, tc.batch); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}

func TestGridBlock(t *testing.T) {
	g, err := NewGrid([]int{2, 10, 32, 64}, 1, 4)
	if err != nil {
		t.Fatal(err)
	}

	h, err := g.Block([]int{1, 8, 0, 0})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(h.Start, []int{1, 8, 0, 0}) {
		t.Errorf("start: expected [1 8 0 0], got %v", h.Start)
	}
	if !reflect.DeepEqual(h.Block, []int{1, 2, 32, 64}) {
		t.Errorf("last batch should be truncated, got block %v", h.Block)
	}
	if !reflect.DeepEqual(h.Count, []int{1, 1, 1, 1}) {
		t.Errorf("count should be all ones, got %v", h.Count)
	}
	if h.Size() != 2*32*64 {
		t.Errorf("size: expected %d, got %d", 2*32*64, h.Size())
	}

	if _, err := g.Block([]int{0, 10, 0, 0}); err == nil {
		t.Errorf("expected range error for start past the end")
	}
	if _, err := g.Block([]int{0, 0}); err == nil {
		t.Errorf("expected shape error for short start")
	}
}

func TestGridBatchesCoverDataset(t *testing.T) {
	shape := []int{3, 7, 5}
	g, err := FromSpec(models.SliceSpec{Shape: shape, Axis: 1, BatchSize: 3})
	if err != nil {
		t.Fatal(err)
	}

	batches := g.Batches()
	if len(batches) != 3*3 {
		t.Fatalf("expected 9 batches, got %d", len(batches))
	}

	covered := 0
	for _, b := range batches {
		if b.Start[1]+b.Block[1] > shape[1] {
			t.Errorf("batch %v exceeds axis length", b)
		}
		covered += b.Size()
	}
	if covered != models.Size(shape) {
		t.Errorf("batches cover %d elements, expected %d", covered, models.Size(shape))
	}

	if !reflect.DeepEqual(batches[2].Block, []int{1, 1, 5}) {
		t.Errorf("third batch should hold the single remaining frame, got %v", batches[2].Block)
	}

	empty, _ := NewGrid([]int{0, 4}, 0, 2)
	if len(empty.Batches()) != 0 {
		t.Errorf("expected no batches for an empty axis")
	}
}

func TestFrameDims(t *testing.T) {
	if got := FrameDims([]int{1, 4, 32, 64}, 2); !reflect.DeepEqual(got, []int{4, 32, 64}) {
		t.Errorf("expected [4 32 64], got %v", got)
	}
	if got := FrameDims([]int{32, 64}, 2); !reflect.DeepEqual(got, []int{1, 32, 64}) {
		t.Errorf("expected [1 32 64], got %v", got)
	}
}
