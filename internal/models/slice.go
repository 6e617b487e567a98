package models

import "fmt"

// Kind tags the element type of a raw numeric buffer read from a store
type Kind int

const (
	Float32 Kind = iota
	Float64
)

func (k Kind) String() string {
	switch k {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Buffer is a flat row-major numeric buffer carrying its element kind.
// Exactly one of F32 or F64 is populated, as selected by Kind.
type Buffer struct {
	Kind Kind
	F32  []float32
	F64  []float64
}

// NewFloat32Buffer wraps data without copying
func NewFloat32Buffer(data []float32) Buffer {
	return Buffer{Kind: Float32, F32: data}
}

// NewFloat64Buffer wraps data without copying
func NewFloat64Buffer(data []float64) Buffer {
	return Buffer{Kind: Float64, F64: data}
}

// Len returns the number of elements in the buffer
func (b Buffer) Len() int {
	if b.Kind == Float64 {
		return len(b.F64)
	}
	return len(b.F32)
}

// Float32 returns a float32 copy of the buffer. This is the single conversion
// step performed at stage entry.
func (b Buffer) Float32() []float32 {
	out := make([]float32, b.Len())
	if b.Kind == Float64 {
		for i, v := range b.F64 {
			out[i] = float32(v)
		}
		return out
	}
	copy(out, b.F32)
	return out
}

// Float64 returns a float64 copy of the buffer
func (b Buffer) Float64() []float64 {
	out := make([]float64, b.Len())
	if b.Kind == Float64 {
		copy(out, b.F64)
		return out
	}
	for i, v := range b.F32 {
		out[i] = float64(v)
	}
	return out
}

// Frame is an N-dimensional block of detector data. Errors, when non-nil, holds
// variances and always has the same length as Data.
type Frame struct {
	// Data is the intensity buffer in row-major order
	Data []float32

	// Errors holds per-element variances, or nil when no errors are tracked
	Errors []float64

	// Dims is the shape of Data; leading axes are grid/time axes and the
	// trailing one or two axes form the detector image
	Dims []int
}

// HasErrors reports whether the frame carries a variance buffer
func (f *Frame) HasErrors() bool {
	return f.Errors != nil
}

// Clone returns a deep copy of the frame
func (f *Frame) Clone() *Frame {
	c := &Frame{
		Data: append([]float32(nil), f.Data...),
		Dims: append([]int(nil), f.Dims...),
	}
	if f.Errors != nil {
		c.Errors = append([]float64(nil), f.Errors...)
	}
	return c
}

// Size returns the product of dims (1 for an empty shape)
func Size(dims []int) int {
	n := 1
	for _, d := range dims {
		n *= d
	}
	return n
}

// SliceSpec governs how a dataset is streamed in bounded chunks along Axis.
// Start is mutated by the orchestrator between batches.
type SliceSpec struct {
	// Shape is the full dataset shape
	Shape []int

	// Axis is the slicing axis; axes before it are read one index at a time
	Axis int

	// BatchSize is the maximum number of entries read along Axis
	BatchSize int

	// Start is the current position, one entry per axis of Shape
	Start []int
}
