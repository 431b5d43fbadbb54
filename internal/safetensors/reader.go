package safetensors

import (
	"fmt"
)

// Tensor holds a single tensor loaded from a safetensors file. Data is
// widened to float64; DType records the stored element type.
type Tensor struct {
	Name  string
	DType string
	Shape []int64
	Data  []float64
}

// Float32 returns the data narrowed to float32 and whether the narrowing is
// exact, which holds for F32, F16 and BF16 tensors.
func (t *Tensor) Float32() ([]float32, bool) {
	if t.DType == DTypeF64 {
		return nil, false
	}

	out := make([]float32, len(t.Data))
	for i, v := range t.Data {
		out[i] = float32(v)
	}

	return out, true
}

// Rows returns the leading dimension of a 2D tensor, or 1 otherwise.
func (t *Tensor) Rows() int {
	if len(t.Shape) == 2 {
		return int(t.Shape[0])
	}

	return 1
}

// ReadTensor loads the named tensor from a safetensors file. An empty name
// selects the first tensor in name order.
func ReadTensor(path, name string) (*Tensor, error) {
	store, err := OpenStore(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.lookup(name)
}

// ReadTensorFromBytes is ReadTensor over an in-memory payload.
func ReadTensorFromBytes(data []byte, name string) (*Tensor, error) {
	store, err := OpenStoreFromBytes(data)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	return store.lookup(name)
}

func (s *Store) lookup(name string) (*Tensor, error) {
	if name != "" {
		return s.Tensor(name)
	}

	if len(s.names) == 0 {
		return nil, fmt.Errorf("safetensors: no tensors found")
	}

	return s.Tensor(s.names[0])
}
