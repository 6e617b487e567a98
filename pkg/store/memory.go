package store

import (
	"slices"
	"sort"
	"sync"

	"saxsreduce/internal/models"
	"saxsreduce/internal/perr"
)

// MemoryStore keeps datasets in process memory. It is safe for concurrent
// use.
type MemoryStore struct {
	mu       sync.RWMutex
	datasets map[string]*memDataset
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{datasets: make(map[string]*memDataset)}
}

type memDataset struct {
	name  string
	kind  models.Kind
	shape []int

	mu  sync.RWMutex
	f32 []float32
	f64 []float64
}

// Open returns an existing dataset
func (m *MemoryStore) Open(name string) (Dataset, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[name]
	if !ok {
		return nil, perr.WithField(perr.Wrapf(ErrNotFound, perr.CodeIO, "open %s", name), name)
	}
	return ds, nil
}

// Create allocates a zero filled dataset
func (m *MemoryStore) Create(name string, kind models.Kind, shape []int) (Dataset, error) {
	for _, d := range shape {
		if d < 0 {
			return nil, perr.Shapef("negative extent in shape %v", shape)
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.datasets[name]; ok {
		return nil, perr.WithField(perr.Wrapf(ErrExists, perr.CodeIO, "create %s", name), name)
	}
	ds := &memDataset{name: name, kind: kind, shape: slices.Clone(shape)}
	if kind == models.Float64 {
		ds.f64 = make([]float64, models.Size(shape))
	} else {
		ds.f32 = make([]float32, models.Size(shape))
	}
	m.datasets[name] = ds
	return ds, nil
}

// Put creates a dataset holding a copy of buf
func (m *MemoryStore) Put(name string, buf models.Buffer, shape []int) error {
	if buf.Len() != models.Size(shape) {
		return perr.Shapef("%d values do not fill shape %v", buf.Len(), shape)
	}
	ds, err := m.Create(name, buf.Kind, shape)
	if err != nil {
		return err
	}
	return ds.WriteHyperslab(make([]int, len(shape)), shape, buf)
}

// Names lists the datasets in sorted order
func (m *MemoryStore) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.datasets))
	for n := range m.datasets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Close is a no-op
func (m *MemoryStore) Close() error { return nil }

func (d *memDataset) Name() string      { return d.name }
func (d *memDataset) Shape() []int      { return slices.Clone(d.shape) }
func (d *memDataset) Kind() models.Kind { return d.kind }

func (d *memDataset) ReadHyperslab(start, block []int) (models.Buffer, error) {
	if err := CheckHyperslab(d.shape, start, block); err != nil {
		return models.Buffer{}, perr.WithField(err, d.name)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	n := models.Size(block)
	if d.kind == models.Float64 {
		out := make([]float64, n)
		walkHyperslab(d.shape, start, block, func(dsOff, blkOff, run int) {
			copy(out[blkOff:blkOff+run], d.f64[dsOff:dsOff+run])
		})
		return models.NewFloat64Buffer(out), nil
	}
	out := make([]float32, n)
	walkHyperslab(d.shape, start, block, func(dsOff, blkOff, run int) {
		copy(out[blkOff:blkOff+run], d.f32[dsOff:dsOff+run])
	})
	return models.NewFloat32Buffer(out), nil
}

func (d *memDataset) WriteHyperslab(start, block []int, buf models.Buffer) error {
	if err := CheckHyperslab(d.shape, start, block); err != nil {
		return perr.WithField(err, d.name)
	}
	if buf.Len() != models.Size(block) {
		return perr.WithField(perr.Shapef("buffer holds %d values, block %v needs %d", buf.Len(), block, models.Size(block)), d.name)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.kind == models.Float64 {
		src := buf.F64
		if buf.Kind != models.Float64 {
			src = buf.Float64()
		}
		walkHyperslab(d.shape, start, block, func(dsOff, blkOff, run int) {
			copy(d.f64[dsOff:dsOff+run], src[blkOff:blkOff+run])
		})
		return nil
	}
	src := buf.F32
	if buf.Kind != models.Float32 {
		src = buf.Float32()
	}
	walkHyperslab(d.shape, start, block, func(dsOff, blkOff, run int) {
		copy(d.f32[dsOff:dsOff+run], src[blkOff:blkOff+run])
	})
	return nil
}
