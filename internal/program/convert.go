package program

import (
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/gocty"

	"github.com/vk/tensorlink/internal/value"
)

// ctyToTensor converts a literal cty value into a tensor. Whole numbers
// become int64 unless a dtype is forced; lists and tuples of numbers
// become rank-1 tensors.
func ctyToTensor(v cty.Value, dtype *value.DType) (*value.Tensor, error) {
	if v.IsNull() || !v.IsKnown() {
		return nil, fmt.Errorf("%w: literal value is null or unknown", value.ErrType)
	}

	ty := v.Type()
	switch {
	case ty == cty.Number:
		return numberToScalar(v, dtype)

	case ty.IsListType() || ty.IsTupleType():
		var floats []float64
		var ints []int64
		allInt := true
		it := v.ElementIterator()
		for it.Next() {
			_, ev := it.Element()
			if ev.Type() != cty.Number {
				return nil, fmt.Errorf("%w: list element %s is not a number", value.ErrType, ev.Type().FriendlyName())
			}
			var f float64
			if err := gocty.FromCtyValue(ev, &f); err != nil {
				return nil, fmt.Errorf("converting list element: %w", err)
			}
			floats = append(floats, f)
			if big := ev.AsBigFloat(); big.IsInt() {
				i, _ := big.Int64()
				ints = append(ints, i)
			} else {
				allInt = false
			}
		}
		wantInt := allInt
		if dtype != nil {
			wantInt = *dtype == value.Int64
		}
		if wantInt && allInt {
			return value.NewInt64([]int{len(ints)}, ints)
		}
		return value.NewFloat64([]int{len(floats)}, floats)

	default:
		return nil, fmt.Errorf("%w: unsupported literal type %s", value.ErrType, ty.FriendlyName())
	}
}

func numberToScalar(v cty.Value, dtype *value.DType) (*value.Tensor, error) {
	big := v.AsBigFloat()
	if dtype != nil && *dtype == value.Float64 {
		f, _ := big.Float64()
		return value.ScalarFloat64(f), nil
	}
	if big.IsInt() && (dtype == nil || *dtype == value.Int64) {
		i, _ := big.Int64()
		return value.ScalarInt64(i), nil
	}
	if dtype != nil && *dtype == value.Int64 {
		return nil, fmt.Errorf("%w: literal %s is not a whole number", value.ErrType, v.GoString())
	}
	f, _ := big.Float64()
	return value.ScalarFloat64(f), nil
}

// parseDType resolves an optional dtype attribute.
func parseDType(name *string) (*value.DType, error) {
	if name == nil {
		return nil, nil
	}
	d, err := value.ParseDType(*name)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
