// Package store defines the sliced array store the reduction reads frames
// from and writes results to. Datasets are N-dimensional row-major arrays
// addressed by slash separated names.
package store

import (
	"path"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
	"saxsreduce/pkg/slicing"
)

var (
	// ErrNotFound is returned when a dataset does not exist
	ErrNotFound = perr.New(perr.CodeIO, "dataset not found")

	// ErrExists is returned when creating a dataset that already exists
	ErrExists = perr.New(perr.CodeIO, "dataset already exists")
)

// Dataset is an open N-dimensional array
type Dataset interface {
	Name() string
	Shape() []int
	Kind() models.Kind

	// ReadHyperslab returns the block of shape block starting at start
	ReadHyperslab(start, block []int) (models.Buffer, error)

	// WriteHyperslab stores buf into the block of shape block starting at
	// start. buf must hold exactly Size(block) values.
	WriteHyperslab(start, block []int, buf models.Buffer) error
}

// Store opens and creates datasets
type Store interface {
	Open(name string) (Dataset, error)
	Create(name string, kind models.Kind, shape []int) (Dataset, error)
	Close() error
}

// ErrorsName is the name of the variance dataset stored next to a data
// dataset
func ErrorsName(name string) string {
	return path.Join(path.Dir(name), "errors")
}

// Read reads a hyperslab described by the slicing package
func Read(ds Dataset, h slicing.Hyperslab) (models.Buffer, error) {
	return ds.ReadHyperslab(h.Start, h.Block)
}

// Write writes a hyperslab described by the slicing package
func Write(ds Dataset, h slicing.Hyperslab, buf models.Buffer) error {
	return ds.WriteHyperslab(h.Start, h.Block, buf)
}

// ReadAll reads a whole dataset
func ReadAll(ds Dataset) (models.Buffer, error) {
	shape := ds.Shape()
	return ds.ReadHyperslab(make([]int, len(shape)), shape)
}

// CheckHyperslab validates a region against a dataset shape
func CheckHyperslab(shape, start, block []int) error {
	if len(start) != len(shape) || len(block) != len(shape) {
		return perr.Shapef("hyperslab rank start=%d block=%d, dataset rank %d", len(start), len(block), len(shape))
	}
	for i := range shape {
		if start[i] < 0 || block[i] < 0 || start[i]+block[i] > shape[i] {
			return perr.Newf(perr.CodeRange, "hyperslab out of bounds on axis %d: start=%d block=%d size=%d", i, start[i], block[i], shape[i])
		}
	}
	return nil
}

// strides returns row-major element strides for shape
func strides(shape []int) []int {
	s := make([]int, len(shape))
	acc := 1
	for i := len(shape) - 1; i >= 0; i-- {
		s[i] = acc
		acc *= shape[i]
	}
	return s
}

// walkHyperslab calls fn with the dataset offset and block offset of each
// contiguous run of the region. Runs are block[last] elements long.
func walkHyperslab(shape, start, block []int, fn func(dsOff, blkOff, n int)) {
	rank := len(shape)
	if models.Size(block) == 0 {
		return
	}
	if rank == 0 {
		fn(0, 0, 1)
		return
	}
	st := strides(shape)
	run := block[rank-1]
	idx := make([]int, rank-1)
	for blkOff := 0; ; blkOff += run {
		dsOff := start[rank-1]
		for i, v := range idx {
			dsOff += (start[i] + v) * st[i]
		}
		fn(dsOff, blkOff, run)

		k := rank - 2
		for ; k >= 0; k-- {
			idx[k]++
			if idx[k] < block[k] {
				break
			}
			idx[k] = 0
		}
		if k < 0 {
			return
		}
	}
}
