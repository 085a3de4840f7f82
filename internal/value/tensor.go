// Package value holds the concrete values that flow through a compiled
// graph: dense tensors over float64 or int64 elements, plus the type
// objects that validate and coerce raw values into them.
package value

import (
	"fmt"
	"slices"
	"strings"
)

// DType identifies the element type of a tensor.
type DType int

const (
	Float64 DType = iota
	Int64
)

// String returns the dtype's canonical name.
func (d DType) String() string {
	switch d {
	case Float64:
		return "float64"
	case Int64:
		return "int64"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDType resolves a dtype from its canonical name.
func ParseDType(name string) (DType, error) {
	switch name {
	case "float64":
		return Float64, nil
	case "int64":
		return Int64, nil
	default:
		return 0, fmt.Errorf("%w: unknown dtype %q", ErrType, name)
	}
}

// Tensor is a dense n-dimensional array. A scalar is a tensor with an
// empty shape. Exactly one of the element slices is populated, matching
// the dtype.
type Tensor struct {
	dtype DType
	shape []int
	f64   []float64
	i64   []int64
}

// NewFloat64 builds a float64 tensor over the given backing slice. The
// slice is aliased, not copied; callers wanting isolation clone first.
func NewFloat64(shape []int, data []float64) (*Tensor, error) {
	if n := sizeOf(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrType, shape, n, len(data))
	}
	return &Tensor{dtype: Float64, shape: shape, f64: data}, nil
}

// NewInt64 builds an int64 tensor over the given backing slice, aliasing it.
func NewInt64(shape []int, data []int64) (*Tensor, error) {
	if n := sizeOf(shape); n != len(data) {
		return nil, fmt.Errorf("%w: shape %v wants %d elements, got %d", ErrType, shape, n, len(data))
	}
	return &Tensor{dtype: Int64, shape: shape, i64: data}, nil
}

// ScalarFloat64 builds a zero-dimensional float64 tensor.
func ScalarFloat64(v float64) *Tensor {
	return &Tensor{dtype: Float64, f64: []float64{v}}
}

// ScalarInt64 builds a zero-dimensional int64 tensor.
func ScalarInt64(v int64) *Tensor {
	return &Tensor{dtype: Int64, i64: []int64{v}}
}

// Zeros builds a fresh all-zero tensor of the given dtype and shape.
func Zeros(dtype DType, shape []int) *Tensor {
	n := sizeOf(shape)
	t := &Tensor{dtype: dtype, shape: slices.Clone(shape)}
	if dtype == Float64 {
		t.f64 = make([]float64, n)
	} else {
		t.i64 = make([]int64, n)
	}
	return t
}

func sizeOf(shape []int) int {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return n
}

// DType returns the tensor's element type.
func (t *Tensor) DType() DType { return t.dtype }

// Shape returns the tensor's dimensions. The returned slice is internal;
// callers must not mutate it.
func (t *Tensor) Shape() []int { return t.shape }

// NDim returns the tensor's rank. Scalars have rank zero.
func (t *Tensor) NDim() int { return len(t.shape) }

// Size returns the total element count.
func (t *Tensor) Size() int { return sizeOf(t.shape) }

// Float64s returns the internal float64 backing slice, or nil for an
// int64 tensor. Mutations are visible to every holder of the tensor.
func (t *Tensor) Float64s() []float64 { return t.f64 }

// Int64s returns the internal int64 backing slice, or nil for a float64
// tensor.
func (t *Tensor) Int64s() []int64 { return t.i64 }

// Clone returns a fully independent deep copy.
func (t *Tensor) Clone() *Tensor {
	return &Tensor{
		dtype: t.dtype,
		shape: slices.Clone(t.shape),
		f64:   slices.Clone(t.f64),
		i64:   slices.Clone(t.i64),
	}
}

// ZerosLike returns a fresh all-zero tensor with this tensor's dtype and shape.
func (t *Tensor) ZerosLike() *Tensor {
	return Zeros(t.dtype, t.shape)
}

// ZeroInPlace resets every element to zero without reallocating. The
// reset is visible to every holder of the same backing slice.
func (t *Tensor) ZeroInPlace() {
	for i := range t.f64 {
		t.f64[i] = 0
	}
	for i := range t.i64 {
		t.i64[i] = 0
	}
}

// Equal reports whether two tensors have identical dtype, shape and contents.
func (t *Tensor) Equal(o *Tensor) bool {
	if o == nil || t.dtype != o.dtype || !slices.Equal(t.shape, o.shape) {
		return false
	}
	return slices.Equal(t.f64, o.f64) && slices.Equal(t.i64, o.i64)
}

// AsFloat64 converts to a float64 tensor, reusing the receiver when the
// dtype already matches.
func (t *Tensor) AsFloat64() *Tensor {
	if t.dtype == Float64 {
		return t
	}
	data := make([]float64, len(t.i64))
	for i, v := range t.i64 {
		data[i] = float64(v)
	}
	return &Tensor{dtype: Float64, shape: slices.Clone(t.shape), f64: data}
}

// AsInt64 converts to an int64 tensor, truncating fractional parts.
// Reuses the receiver when the dtype already matches.
func (t *Tensor) AsInt64() *Tensor {
	if t.dtype == Int64 {
		return t
	}
	data := make([]int64, len(t.f64))
	for i, v := range t.f64 {
		data[i] = int64(v)
	}
	return &Tensor{dtype: Int64, shape: slices.Clone(t.shape), i64: data}
}

// ScalarValue returns the sole element of a scalar tensor as a float64.
func (t *Tensor) ScalarValue() (float64, error) {
	if t.Size() != 1 {
		return 0, fmt.Errorf("%w: tensor of shape %v is not a scalar", ErrType, t.shape)
	}
	if t.dtype == Float64 {
		return t.f64[0], nil
	}
	return float64(t.i64[0]), nil
}

// String renders a short human-readable form, used in error messages and logs.
func (t *Tensor) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "tensor<%s>%v[", t.dtype, t.shape)
	const limit = 8
	switch t.dtype {
	case Float64:
		for i, v := range t.f64 {
			if i == limit {
				sb.WriteString("...")
				break
			}
			if i > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%g", v)
		}
	case Int64:
		for i, v := range t.i64 {
			if i == limit {
				sb.WriteString("...")
				break
			}
			if i > 0 {
				sb.WriteString(" ")
			}
			fmt.Fprintf(&sb, "%d", v)
		}
	}
	sb.WriteString("]")
	return sb.String()
}

// FromAny coerces a raw Go value into a tensor. Tensors pass through
// unchanged; numeric scalars and slices are wrapped, aliasing slice
// memory rather than copying it.
func FromAny(v any) (*Tensor, error) {
	switch x := v.(type) {
	case *Tensor:
		return x, nil
	case float64:
		return ScalarFloat64(x), nil
	case float32:
		return ScalarFloat64(float64(x)), nil
	case int:
		return ScalarInt64(int64(x)), nil
	case int32:
		return ScalarInt64(int64(x)), nil
	case int64:
		return ScalarInt64(x), nil
	case []float64:
		return NewFloat64([]int{len(x)}, x)
	case []int64:
		return NewInt64([]int{len(x)}, x)
	default:
		return nil, fmt.Errorf("%w: cannot interpret %T as a tensor", ErrType, v)
	}
}
