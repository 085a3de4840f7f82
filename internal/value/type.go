package value

import (
	"errors"
	"fmt"
	"slices"
)

// ErrType classifies every type and contract violation raised by this
// module: a value that fails validation, an invalid argument combination,
// or a constructor that cannot accept its input.
var ErrType = errors.New("type error")

// ErrAllocation classifies resource failures during value construction.
// Callers re-signal it with actionable guidance instead of swallowing it.
var ErrAllocation = errors.New("allocation failure")

// Type validates and coerces raw values into a canonical representation.
// Filter is called on every store into a storage cell, so an incompatible
// value fails at assignment time rather than later at use time.
type Type interface {
	// Name returns a stable, human-readable type name.
	Name() string

	// Filter validates v against this type and returns the canonical
	// value to store. With strict set, any implicit conversion is
	// rejected. allowDowncast, when non-nil, decides whether lossy
	// conversions are permitted; nil means "unspecified", which forbids
	// them.
	Filter(v any, strict bool, allowDowncast *bool) (any, error)
}

// TensorType describes tensors of a fixed dtype. NDim constrains the
// rank; a negative NDim accepts any rank.
type TensorType struct {
	DType DType
	NDim  int
}

// TensorOf returns the type of tensors with the given dtype and rank.
func TensorOf(dtype DType, ndim int) *TensorType {
	return &TensorType{DType: dtype, NDim: ndim}
}

// ScalarOf returns the type of zero-dimensional tensors with the given dtype.
func ScalarOf(dtype DType) *TensorType {
	return &TensorType{DType: dtype, NDim: 0}
}

// Name implements Type.
func (t *TensorType) Name() string {
	if t.NDim < 0 {
		return fmt.Sprintf("tensor(%s)", t.DType)
	}
	return fmt.Sprintf("tensor(%s, ndim=%d)", t.DType, t.NDim)
}

// Equal reports whether two tensor types match exactly.
func (t *TensorType) Equal(o *TensorType) bool {
	return o != nil && t.DType == o.DType && t.NDim == o.NDim
}

// Filter implements Type. Conversion rules: int64 widens to float64
// freely, float64 narrows to int64 only when a downcast is explicitly
// allowed, and strict mode rejects anything that is not already a tensor
// of the exact dtype and rank.
func (t *TensorType) Filter(v any, strict bool, allowDowncast *bool) (any, error) {
	if strict {
		tv, ok := v.(*Tensor)
		if !ok {
			return nil, fmt.Errorf("%w: %s requires a tensor in strict mode, got %T", ErrType, t.Name(), v)
		}
		if tv.DType() != t.DType {
			return nil, fmt.Errorf("%w: %s rejects dtype %s in strict mode", ErrType, t.Name(), tv.DType())
		}
		if t.NDim >= 0 && tv.NDim() != t.NDim {
			return nil, fmt.Errorf("%w: %s rejects rank %d", ErrType, t.Name(), tv.NDim())
		}
		return tv, nil
	}

	tv, err := FromAny(v)
	if err != nil {
		return nil, err
	}
	if t.NDim >= 0 && tv.NDim() != t.NDim {
		return nil, fmt.Errorf("%w: %s cannot hold %s (rank mismatch)", ErrType, t.Name(), tv)
	}
	switch {
	case tv.DType() == t.DType:
		return tv, nil
	case t.DType == Float64:
		// Widening int64 -> float64 is always permitted.
		return tv.AsFloat64(), nil
	default:
		if allowDowncast == nil || !*allowDowncast {
			return nil, fmt.Errorf("%w: refusing to downcast %s to %s without permission", ErrType, tv.DType(), t.DType)
		}
		return tv.AsInt64(), nil
	}
}

// GenericType accepts any value unchanged. It backs the fallback shared
// variable constructor.
type GenericType struct{}

// Generic is the sole GenericType instance.
var Generic = &GenericType{}

// Name implements Type.
func (*GenericType) Name() string { return "generic" }

// Filter implements Type.
func (*GenericType) Filter(v any, strict bool, allowDowncast *bool) (any, error) {
	return v, nil
}

// DeepCopy returns a fully independent copy of v. Tensors and numeric
// slices are cloned; anything else is assumed immutable and returned
// unchanged. Types carrying their own aliasable state can opt in via the
// DeepCopier interface.
func DeepCopy(v any) any {
	switch x := v.(type) {
	case *Tensor:
		return x.Clone()
	case []float64:
		return slices.Clone(x)
	case []int64:
		return slices.Clone(x)
	case DeepCopier:
		return x.DeepCopy()
	default:
		return v
	}
}

// DeepCopier is implemented by values that know how to clone themselves.
type DeepCopier interface {
	DeepCopy() any
}

// ZerosLike returns a fresh value equal to v's additive identity, or an
// error when v has no meaningful zero.
func ZerosLike(v any) (any, error) {
	t, ok := v.(*Tensor)
	if !ok {
		return nil, fmt.Errorf("%w: no additive identity for %T", ErrType, v)
	}
	return t.ZerosLike(), nil
}

// Promote returns the result type of an elementwise operation over two
// operand types. Mixed tensor dtypes widen to float64; any non-tensor
// operand collapses the result to generic.
func Promote(a, b Type) Type {
	ta, aok := a.(*TensorType)
	tb, bok := b.(*TensorType)
	if !aok || !bok {
		return Generic
	}
	dtype := Int64
	if ta.DType == Float64 || tb.DType == Float64 {
		dtype = Float64
	}
	ndim := ta.NDim
	if ta.NDim < 0 || tb.NDim < 0 {
		ndim = -1
	} else if tb.NDim > ndim {
		ndim = tb.NDim
	}
	return &TensorType{DType: dtype, NDim: ndim}
}
