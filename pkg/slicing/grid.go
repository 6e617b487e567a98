// Package slicing partitions multi-dimensional detector datasets into
// bounded batches and parses frame selections over their grid axes.
package slicing

import (
	"fmt"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

// Hyperslab is a read/write region of an N-dimensional store. Count is always
// one block per axis, which is what the stores expect.
type Hyperslab struct {
	Start []int
	Block []int
	Count []int
}

// Size returns the number of elements covered by the hyperslab
func (h Hyperslab) Size() int {
	return models.Size(h.Block)
}

func (h Hyperslab) String() string {
	return fmt.Sprintf("start=%v block=%v", h.Start, h.Block)
}

// Grid computes batch descriptors for streaming a dataset along one axis.
// Axes before the batch axis are visited one index at a time; axes after it
// are always read whole.
type Grid struct {
	shape []int
	axis  int
	batch int
}

// NewGrid creates a grid for shape, batching along axis in chunks of batchSize
func NewGrid(shape []int, axis, batchSize int) (*Grid, error) {
	if len(shape) == 0 {
		return nil, perr.Configf("shape", "dataset shape is empty")
	}
	if axis < 0 || axis >= len(shape) {
		return nil, perr.Configf("axis", "batch axis %d outside rank %d", axis, len(shape))
	}
	if batchSize < 1 {
		return nil, perr.Configf("batchSize", "batch size must be at least 1, got %d", batchSize)
	}
	return &Grid{
		shape: append([]int(nil), shape...),
		axis:  axis,
		batch: batchSize,
	}, nil
}

// FromSpec builds a grid from a SliceSpec
func FromSpec(spec models.SliceSpec) (*Grid, error) {
	return NewGrid(spec.Shape, spec.Axis, spec.BatchSize)
}

// Shape returns a copy of the dataset shape
func (g *Grid) Shape() []int { return append([]int(nil), g.shape...) }

// Axis returns the batch axis
func (g *Grid) Axis() int { return g.axis }

// BatchSize returns the configured batch size
func (g *Grid) BatchSize() int { return g.batch }

// Block returns the hyperslab of the batch starting at start. The extent along
// the batch axis is truncated to what remains of the dataset.
func (g *Grid) Block(start []int) (Hyperslab, error) {
	if len(start) != len(g.shape) {
		return Hyperslab{}, perr.Shapef("start has rank %d, dataset has rank %d", len(start), len(g.shape))
	}
	h := Hyperslab{
		Start: make([]int, len(g.shape)),
		Block: make([]int, len(g.shape)),
		Count: make([]int, len(g.shape)),
	}
	for i, n := range g.shape {
		h.Count[i] = 1
		switch {
		case i < g.axis:
			if start[i] < 0 || start[i] >= n {
				return Hyperslab{}, perr.Newf(perr.CodeRange, "start %d outside axis %d of length %d", start[i], i, n)
			}
			h.Start[i] = start[i]
			h.Block[i] = 1
		case i == g.axis:
			if start[i] < 0 || start[i] >= n {
				return Hyperslab{}, perr.Newf(perr.CodeRange, "start %d outside axis %d of length %d", start[i], i, n)
			}
			h.Start[i] = start[i]
			h.Block[i] = min(n-start[i], g.batch)
		default:
			h.Block[i] = n
		}
	}
	return h, nil
}

// Next advances start to the following batch, returning false once the
// dataset is exhausted. start is reset to zeros at the end.
func (g *Grid) Next(start []int) bool {
	start[g.axis] += g.batch
	if start[g.axis] < g.shape[g.axis] {
		return true
	}
	start[g.axis] = 0
	for i := g.axis - 1; i >= 0; i-- {
		start[i]++
		if start[i] < g.shape[i] {
			return true
		}
		start[i] = 0
	}
	return false
}

// Batches returns every batch of the dataset in read order
func (g *Grid) Batches() []Hyperslab {
	for i := 0; i <= g.axis; i++ {
		if g.shape[i] == 0 {
			return nil
		}
	}

	var out []Hyperslab
	start := make([]int, len(g.shape))
	for {
		h, err := g.Block(start)
		if err != nil {
			return out
		}
		out = append(out, h)
		if !g.Next(start) {
			return out
		}
	}
}

// FrameDims flattens a hyperslab block into [frames, image...] where the
// image is the trailing dim axes
func FrameDims(block []int, dim int) []int {
	if len(block) <= dim {
		return append([]int{1}, block...)
	}
	lead := block[:len(block)-dim]
	return append([]int{models.Size(lead)}, block[len(block)-dim:]...)
}
