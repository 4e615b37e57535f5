package imaging

import (
	"fmt"
	"io"

	"github.com/sbinet/npyio/npy"
)

// Array is a dense row-major numeric array widened to float64.
type Array struct {
	Shape []int
	Data  []float64
}

// NDim returns the number of dimensions
func (a *Array) NDim() int {
	return len(a.Shape)
}

// Slice returns the i-th sub-array along the leading axis. It shares
// storage with a.
func (a *Array) Slice(i int) *Array {
	stride := 1
	for _, d := range a.Shape[1:] {
		stride *= d
	}
	return &Array{
		Shape: a.Shape[1:],
		Data:  a.Data[i*stride : (i+1)*stride],
	}
}

// DecodeNPY reads a .npy payload
func DecodeNPY(r io.Reader) (*Array, error) {
	rd, err := npy.NewReader(r)
	if err != nil {
		return nil, ErrFormat.Wrap(err)
	}

	data, err := readFloat64s(rd)
	if err != nil {
		return nil, err
	}

	shape := append([]int(nil), rd.Header.Descr.Shape...)
	n := 1
	for _, d := range shape {
		n *= d
	}
	if len(data) != n {
		return nil, ErrFormat.New("shape %v needs %d values, payload has %d", shape, n, len(data))
	}
	if rd.Header.Descr.Fortran && len(shape) > 1 {
		data = fromColumnMajor(shape, data)
	}
	return &Array{Shape: shape, Data: data}, nil
}

// fromColumnMajor reorders column-major data into row-major order.
func fromColumnMajor(shape []int, data []float64) []float64 {
	strides := make([]int, len(shape))
	stride := 1
	for k := range shape {
		strides[k] = stride
		stride *= shape[k]
	}

	out := make([]float64, len(data))
	idx := make([]int, len(shape))
	for i := range out {
		src := 0
		for k, v := range idx {
			src += v * strides[k]
		}
		out[i] = data[src]

		// advance the row-major index, last axis fastest
		for k := len(idx) - 1; k >= 0; k-- {
			idx[k]++
			if idx[k] < shape[k] {
				break
			}
			idx[k] = 0
		}
	}
	return out
}

type number interface {
	~int8 | ~int16 | ~int32 | ~int64 | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~float32 | ~float64
}

func widen[T number](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func readAs[T number](rd *npy.Reader) ([]float64, error) {
	var v []T
	if err := rd.Read(&v); err != nil {
		return nil, ErrFormat.Wrap(err)
	}
	return widen(v), nil
}

func readFloat64s(rd *npy.Reader) ([]float64, error) {
	descr := rd.Header.Descr.Type
	if len(descr) < 2 {
		return nil, ErrFormat.New("invalid dtype %q", descr)
	}

	// first byte is the byte order marker
	switch descr[1:] {
	case "f8":
		var v []float64
		if err := rd.Read(&v); err != nil {
			return nil, ErrFormat.Wrap(err)
		}
		return v, nil
	case "f4":
		return readAs[float32](rd)
	case "u1":
		return readAs[uint8](rd)
	case "i1":
		return readAs[int8](rd)
	case "u2":
		return readAs[uint16](rd)
	case "i2":
		return readAs[int16](rd)
	case "u4":
		return readAs[uint32](rd)
	case "i4":
		return readAs[int32](rd)
	case "u8":
		return readAs[uint64](rd)
	case "i8":
		return readAs[int64](rd)
	case "b1":
		var v []bool
		if err := rd.Read(&v); err != nil {
			return nil, ErrFormat.Wrap(err)
		}
		out := make([]float64, len(v))
		for i, b := range v {
			if b {
				out[i] = 1
			}
		}
		return out, nil
	}
	return nil, ErrFormat.Wrap(fmt.Errorf("dtype %q is not numeric", descr))
}
