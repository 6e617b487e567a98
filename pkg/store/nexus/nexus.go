// Package nexus implements the sliced array store on HDF5/Nexus files.
package nexus

import (
	"slices"
	"strings"
	"sync"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
	"saxsreduce/pkg/store"

	"gonum.org/v1/hdf5"
)

// hdf5Mu serialises calls into the HDF5 library, which is not built thread
// safe by default
var hdf5Mu sync.Mutex

// File is an open HDF5 file
type File struct {
	path string
	f    *hdf5.File

	mu   sync.Mutex
	open []*dataset
}

// Open opens an existing file. Writable files may also get new datasets.
func Open(path string, writable bool) (*File, error) {
	flags := hdf5.F_ACC_RDONLY
	if writable {
		flags = hdf5.F_ACC_RDWR
	}
	hdf5Mu.Lock()
	f, err := hdf5.OpenFile(path, flags)
	hdf5Mu.Unlock()
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "open hdf5 file"), path)
	}
	return &File{path: path, f: f}, nil
}

// Create creates a new file, truncating any existing one
func Create(path string) (*File, error) {
	hdf5Mu.Lock()
	f, err := hdf5.CreateFile(path, hdf5.F_ACC_TRUNC)
	hdf5Mu.Unlock()
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "create hdf5 file"), path)
	}
	return &File{path: path, f: f}, nil
}

// Path returns the file path
func (f *File) Path() string { return f.path }

// Open opens a dataset by absolute name
func (f *File) Open(name string) (store.Dataset, error) {
	hdf5Mu.Lock()
	defer hdf5Mu.Unlock()

	if !f.f.LinkExists(name) {
		return nil, perr.WithField(perr.Wrapf(store.ErrNotFound, perr.CodeIO, "%s in %s", name, f.path), name)
	}
	ds, err := f.f.OpenDataset(name)
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "open dataset"), name)
	}
	return f.track(name, ds)
}

// Create creates a dataset and any missing parent groups
func (f *File) Create(name string, kind models.Kind, shape []int) (store.Dataset, error) {
	hdf5Mu.Lock()
	defer hdf5Mu.Unlock()

	if f.f.LinkExists(name) {
		return nil, perr.WithField(perr.Wrapf(store.ErrExists, perr.CodeIO, "%s in %s", name, f.path), name)
	}
	if err := f.makeParents(name); err != nil {
		return nil, err
	}

	space, err := hdf5.CreateSimpleDataspace(toUint(shape), nil)
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "create dataspace"), name)
	}
	defer space.Close()

	dtype := hdf5.T_NATIVE_FLOAT
	if kind == models.Float64 {
		dtype = hdf5.T_NATIVE_DOUBLE
	}
	ds, err := f.f.CreateDataset(name, dtype, space)
	if err != nil {
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "create dataset"), name)
	}
	return f.track(name, ds)
}

func (f *File) makeParents(name string) error {
	parts := strings.Split(strings.Trim(name, "/"), "/")
	prefix := ""
	for _, p := range parts[:len(parts)-1] {
		prefix += "/" + p
		if f.f.LinkExists(prefix) {
			continue
		}
		g, err := f.f.CreateGroup(prefix)
		if err != nil {
			return perr.WithField(perr.Wrap(err, perr.CodeIO, "create group"), prefix)
		}
		g.Close()
	}
	return nil
}

// track reads the dataset metadata and remembers the handle for Close.
// Callers hold hdf5Mu.
func (f *File) track(name string, h *hdf5.Dataset) (*dataset, error) {
	space := h.Space()
	dims, _, err := space.SimpleExtentDims()
	space.Close()
	if err != nil {
		h.Close()
		return nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "read dataset shape"), name)
	}

	kind := models.Float64
	if dtype, err := h.Datatype(); err == nil {
		if dtype.Class() == hdf5.T_FLOAT && dtype.Size() == 4 {
			kind = models.Float32
		}
		dtype.Close()
	}

	ds := &dataset{name: name, h: h, kind: kind, shape: fromUint(dims)}
	f.mu.Lock()
	f.open = append(f.open, ds)
	f.mu.Unlock()
	return ds, nil
}

// Close closes every dataset opened through the file, then the file
func (f *File) Close() error {
	hdf5Mu.Lock()
	defer hdf5Mu.Unlock()

	f.mu.Lock()
	open := f.open
	f.open = nil
	f.mu.Unlock()
	for _, ds := range open {
		ds.h.Close()
	}
	if err := f.f.Close(); err != nil {
		return perr.WithField(perr.Wrap(err, perr.CodeIO, "close hdf5 file"), f.path)
	}
	return nil
}

type dataset struct {
	name  string
	h     *hdf5.Dataset
	kind  models.Kind
	shape []int
}

func (d *dataset) Name() string      { return d.name }
func (d *dataset) Shape() []int      { return slices.Clone(d.shape) }
func (d *dataset) Kind() models.Kind { return d.kind }

// spaces selects the hyperslab in the file and builds a matching memory
// space. Callers hold hdf5Mu and close both spaces.
func (d *dataset) spaces(start, block []int) (mem, file *hdf5.Dataspace, err error) {
	file = d.h.Space()
	count := make([]uint, len(block))
	for i := range count {
		count[i] = 1
	}
	if err := file.SelectHyperslab(toUint(start), nil, count, toUint(block)); err != nil {
		file.Close()
		return nil, nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "select hyperslab"), d.name)
	}
	mem, err = hdf5.CreateSimpleDataspace(toUint(block), nil)
	if err != nil {
		file.Close()
		return nil, nil, perr.WithField(perr.Wrap(err, perr.CodeIO, "create memory space"), d.name)
	}
	return mem, file, nil
}

func (d *dataset) ReadHyperslab(start, block []int) (models.Buffer, error) {
	if err := store.CheckHyperslab(d.shape, start, block); err != nil {
		return models.Buffer{}, perr.WithField(err, d.name)
	}
	n := models.Size(block)
	if n == 0 {
		if d.kind == models.Float32 {
			return models.NewFloat32Buffer([]float32{}), nil
		}
		return models.NewFloat64Buffer([]float64{}), nil
	}

	hdf5Mu.Lock()
	defer hdf5Mu.Unlock()
	mem, file, err := d.spaces(start, block)
	if err != nil {
		return models.Buffer{}, err
	}
	defer mem.Close()
	defer file.Close()

	if d.kind == models.Float32 {
		out := make([]float32, n)
		if err := d.h.ReadSubset(&out, mem, file); err != nil {
			return models.Buffer{}, perr.WithField(perr.Wrap(err, perr.CodeIO, "read hyperslab"), d.name)
		}
		return models.NewFloat32Buffer(out), nil
	}
	// integer detector data is converted by the library
	out := make([]float64, n)
	if err := d.h.ReadSubset(&out, mem, file); err != nil {
		return models.Buffer{}, perr.WithField(perr.Wrap(err, perr.CodeIO, "read hyperslab"), d.name)
	}
	return models.NewFloat64Buffer(out), nil
}

func (d *dataset) WriteHyperslab(start, block []int, buf models.Buffer) error {
	if err := store.CheckHyperslab(d.shape, start, block); err != nil {
		return perr.WithField(err, d.name)
	}
	if buf.Len() != models.Size(block) {
		return perr.WithField(perr.Shapef("buffer holds %d values, block %v needs %d", buf.Len(), block, models.Size(block)), d.name)
	}
	if buf.Len() == 0 {
		return nil
	}

	hdf5Mu.Lock()
	defer hdf5Mu.Unlock()
	mem, file, err := d.spaces(start, block)
	if err != nil {
		return err
	}
	defer mem.Close()
	defer file.Close()

	if d.kind == models.Float32 {
		data := buf.F32
		if buf.Kind != models.Float32 {
			data = buf.Float32()
		}
		err = d.h.WriteSubset(&data, mem, file)
	} else {
		data := buf.F64
		if buf.Kind != models.Float64 {
			data = buf.Float64()
		}
		err = d.h.WriteSubset(&data, mem, file)
	}
	if err != nil {
		return perr.WithField(perr.Wrap(err, perr.CodeIO, "write hyperslab"), d.name)
	}
	return nil
}

func toUint(v []int) []uint {
	out := make([]uint, len(v))
	for i, x := range v {
		out[i] = uint(x)
	}
	return out
}

func fromUint(v []uint) []int {
	out := make([]int, len(v))
	for i, x := range v {
		out[i] = int(x)
	}
	return out
}
