// Package ops provides the elementwise operations available to graph
// builders, plus the codec registry that maps stable op names back to
// their implementations when a serialized function is reconstructed.
package ops

import (
	"fmt"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/value"
)

// elemwise is a binary elementwise op over tensors. Operands broadcast
// only in the scalar-against-tensor case; otherwise shapes must match.
type elemwise struct {
	name    string
	f64     func(a, b float64) float64
	i64     func(a, b int64) (int64, error)
	toFloat bool // result always widens to float64 (division)
}

// Name implements graph.Op.
func (o *elemwise) Name() string { return o.name }

// Perform implements graph.Op.
func (o *elemwise) Perform(inputs []any) ([]any, error) {
	if len(inputs) != 2 {
		return nil, fmt.Errorf("op %s: want 2 inputs, got %d", o.name, len(inputs))
	}
	a, err := value.FromAny(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("op %s: %w", o.name, err)
	}
	b, err := value.FromAny(inputs[1])
	if err != nil {
		return nil, fmt.Errorf("op %s: %w", o.name, err)
	}

	useFloat := o.toFloat || a.DType() == value.Float64 || b.DType() == value.Float64
	if useFloat {
		out, err := broadcastFloat(a.AsFloat64(), b.AsFloat64(), o.f64)
		if err != nil {
			return nil, fmt.Errorf("op %s: %w", o.name, err)
		}
		return []any{out}, nil
	}
	out, err := broadcastInt(a, b, o.i64)
	if err != nil {
		return nil, fmt.Errorf("op %s: %w", o.name, err)
	}
	return []any{out}, nil
}

func broadcastFloat(a, b *value.Tensor, f func(x, y float64) float64) (*value.Tensor, error) {
	av, bv := a.Float64s(), b.Float64s()
	switch {
	case a.NDim() == 0 && b.NDim() > 0:
		out := b.ZerosLike()
		for i, y := range bv {
			out.Float64s()[i] = f(av[0], y)
		}
		return out, nil
	case b.NDim() == 0 && a.NDim() > 0:
		out := a.ZerosLike()
		for i, x := range av {
			out.Float64s()[i] = f(x, bv[0])
		}
		return out, nil
	default:
		if a.Size() != b.Size() {
			return nil, fmt.Errorf("%w: shape mismatch %v vs %v", value.ErrType, a.Shape(), b.Shape())
		}
		out := a.ZerosLike()
		for i, x := range av {
			out.Float64s()[i] = f(x, bv[i])
		}
		return out, nil
	}
}

func broadcastInt(a, b *value.Tensor, f func(x, y int64) (int64, error)) (*value.Tensor, error) {
	av, bv := a.Int64s(), b.Int64s()
	apply := func(out *value.Tensor, i int, x, y int64) error {
		r, err := f(x, y)
		if err != nil {
			return err
		}
		out.Int64s()[i] = r
		return nil
	}
	switch {
	case a.NDim() == 0 && b.NDim() > 0:
		out := b.ZerosLike()
		for i, y := range bv {
			if err := apply(out, i, av[0], y); err != nil {
				return nil, err
			}
		}
		return out, nil
	case b.NDim() == 0 && a.NDim() > 0:
		out := a.ZerosLike()
		for i, x := range av {
			if err := apply(out, i, x, bv[0]); err != nil {
				return nil, err
			}
		}
		return out, nil
	default:
		if a.Size() != b.Size() {
			return nil, fmt.Errorf("%w: shape mismatch %v vs %v", value.ErrType, a.Shape(), b.Shape())
		}
		out := a.ZerosLike()
		for i, x := range av {
			if err := apply(out, i, x, bv[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
}

var (
	addOp = &elemwise{
		name: "add",
		f64:  func(a, b float64) float64 { return a + b },
		i64:  func(a, b int64) (int64, error) { return a + b, nil },
	}
	subOp = &elemwise{
		name: "sub",
		f64:  func(a, b float64) float64 { return a - b },
		i64:  func(a, b int64) (int64, error) { return a - b, nil },
	}
	mulOp = &elemwise{
		name: "mul",
		f64:  func(a, b float64) float64 { return a * b },
		i64:  func(a, b int64) (int64, error) { return a * b, nil },
	}
	divOp = &elemwise{
		name:    "div",
		toFloat: true,
		f64:     func(a, b float64) float64 { return a / b },
		i64: func(a, b int64) (int64, error) {
			return 0, fmt.Errorf("%w: integer division reached the int path", value.ErrType)
		},
	}
)

// binary wires a binary elemwise op into the graph, promoting the output type.
func binary(op *elemwise, a, b graph.Node) *graph.Variable {
	outT := value.Promote(a.Type(), b.Type())
	if op.toFloat {
		if tt, ok := outT.(*value.TensorType); ok {
			outT = value.TensorOf(value.Float64, tt.NDim)
		}
	}
	return graph.NewApply(op, []graph.Node{a, b}, []value.Type{outT}).Outputs[0]
}

// Add returns a node computing the elementwise sum of a and b.
func Add(a, b graph.Node) *graph.Variable { return binary(addOp, a, b) }

// Sub returns a node computing the elementwise difference of a and b.
func Sub(a, b graph.Node) *graph.Variable { return binary(subOp, a, b) }

// Mul returns a node computing the elementwise product of a and b.
func Mul(a, b graph.Node) *graph.Variable { return binary(mulOp, a, b) }

// Div returns a node computing the elementwise quotient of a and b. The
// result always widens to float64.
func Div(a, b graph.Node) *graph.Variable { return binary(divOp, a, b) }

// negOp negates its single input elementwise.
type negOp struct{}

func (negOp) Name() string { return "neg" }

func (negOp) Perform(inputs []any) ([]any, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("op neg: want 1 input, got %d", len(inputs))
	}
	t, err := value.FromAny(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("op neg: %w", err)
	}
	out := t.Clone()
	for i := range out.Float64s() {
		out.Float64s()[i] = -out.Float64s()[i]
	}
	for i := range out.Int64s() {
		out.Int64s()[i] = -out.Int64s()[i]
	}
	return []any{out}, nil
}

// Neg returns a node computing the elementwise negation of a.
func Neg(a graph.Node) *graph.Variable {
	return graph.NewApply(negOp{}, []graph.Node{a}, []value.Type{a.Type()}).Outputs[0]
}

// castOp converts its input to a fixed dtype. Each target dtype is a
// distinct registered op so the codec name fully determines behavior.
type castOp struct {
	to value.DType
}

func (o castOp) Name() string { return "cast:" + o.to.String() }

func (o castOp) Perform(inputs []any) ([]any, error) {
	if len(inputs) != 1 {
		return nil, fmt.Errorf("op %s: want 1 input, got %d", o.Name(), len(inputs))
	}
	t, err := value.FromAny(inputs[0])
	if err != nil {
		return nil, fmt.Errorf("op %s: %w", o.Name(), err)
	}
	if o.to == value.Float64 {
		return []any{t.AsFloat64()}, nil
	}
	return []any{t.AsInt64()}, nil
}

// Cast returns a node converting a to the given dtype, preserving rank.
func Cast(a graph.Node, to value.DType) *graph.Variable {
	ndim := -1
	if tt, ok := a.Type().(*value.TensorType); ok {
		ndim = tt.NDim
	}
	outT := value.TensorOf(to, ndim)
	return graph.NewApply(castOp{to: to}, []graph.Node{a}, []value.Type{outT}).Outputs[0]
}
