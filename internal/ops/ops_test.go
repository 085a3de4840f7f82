package ops

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/value"
)

func performOne(t *testing.T, op graph.Op, inputs ...any) *value.Tensor {
	t.Helper()
	outs, err := op.Perform(inputs)
	require.NoError(t, err)
	require.Len(t, outs, 1)
	return outs[0].(*value.Tensor)
}

func TestElemwisePerform(t *testing.T) {
	t.Run("int add stays int", func(t *testing.T) {
		got := performOne(t, addOp, value.ScalarInt64(2), value.ScalarInt64(3))
		assert.Equal(t, value.Int64, got.DType())
		assert.Equal(t, []int64{5}, got.Int64s())
	})

	t.Run("mixed dtypes widen to float", func(t *testing.T) {
		got := performOne(t, mulOp, value.ScalarInt64(2), value.ScalarFloat64(1.5))
		assert.Equal(t, value.Float64, got.DType())
		assert.Equal(t, []float64{3}, got.Float64s())
	})

	t.Run("division always widens", func(t *testing.T) {
		got := performOne(t, divOp, value.ScalarInt64(1), value.ScalarInt64(2))
		assert.Equal(t, value.Float64, got.DType())
		assert.Equal(t, []float64{0.5}, got.Float64s())
	})

	t.Run("scalar broadcasts against a vector", func(t *testing.T) {
		vec, err := value.NewFloat64([]int{3}, []float64{1, 2, 3})
		require.NoError(t, err)
		got := performOne(t, addOp, vec, value.ScalarFloat64(10))
		assert.Equal(t, []float64{11, 12, 13}, got.Float64s())

		got = performOne(t, subOp, value.ScalarFloat64(10), vec)
		assert.Equal(t, []float64{9, 8, 7}, got.Float64s())
	})

	t.Run("shape mismatch is a type error", func(t *testing.T) {
		a, err := value.NewFloat64([]int{2}, []float64{1, 2})
		require.NoError(t, err)
		b, err := value.NewFloat64([]int{3}, []float64{1, 2, 3})
		require.NoError(t, err)
		_, err = addOp.Perform([]any{a, b})
		assert.ErrorIs(t, err, value.ErrType)
	})

	t.Run("result never aliases an operand", func(t *testing.T) {
		a, err := value.NewFloat64([]int{2}, []float64{1, 2})
		require.NoError(t, err)
		got := performOne(t, addOp, a, value.ScalarFloat64(0))
		got.Float64s()[0] = 99
		assert.Equal(t, 1.0, a.Float64s()[0])
	})

	t.Run("wrong arity is rejected", func(t *testing.T) {
		_, err := addOp.Perform([]any{value.ScalarInt64(1)})
		assert.Error(t, err)
	})
}

func TestNegPerform(t *testing.T) {
	got := performOne(t, negOp{}, value.ScalarInt64(4))
	assert.Equal(t, []int64{-4}, got.Int64s())
}

func TestCastPerform(t *testing.T) {
	got := performOne(t, castOp{to: value.Float64}, value.ScalarInt64(3))
	assert.Equal(t, value.Float64, got.DType())
	assert.Equal(t, []float64{3}, got.Float64s())

	got = performOne(t, castOp{to: value.Int64}, value.ScalarFloat64(2.9))
	assert.Equal(t, []int64{2}, got.Int64s())
}

func TestGraphWiring(t *testing.T) {
	t.Run("binary ops promote the output type", func(t *testing.T) {
		a := graph.NewVariable(value.ScalarOf(value.Int64), "a")
		b := graph.NewVariable(value.ScalarOf(value.Float64), "b")
		out := Add(a, b)
		assert.Equal(t, value.ScalarOf(value.Float64), out.Type())
	})

	t.Run("division output is float even over ints", func(t *testing.T) {
		a := graph.NewVariable(value.ScalarOf(value.Int64), "a")
		b := graph.NewVariable(value.ScalarOf(value.Int64), "b")
		out := Div(a, b)
		assert.Equal(t, value.ScalarOf(value.Float64), out.Type())
	})

	t.Run("cast preserves rank", func(t *testing.T) {
		a := graph.NewVariable(value.TensorOf(value.Int64, 2), "a")
		out := Cast(a, value.Float64)
		assert.Equal(t, value.TensorOf(value.Float64, 2), out.Type())
	})
}

func TestCodec(t *testing.T) {
	t.Run("builtin ops resolve by name", func(t *testing.T) {
		for _, name := range []string{"add", "sub", "mul", "div", "neg", "cast:float64", "cast:int64"} {
			op, err := Lookup(name)
			require.NoError(t, err, name)
			assert.Equal(t, name, op.Name())
		}
	})

	t.Run("unknown name is an error", func(t *testing.T) {
		_, err := Lookup("conv2d")
		assert.ErrorContains(t, err, "no op registered")
	})

	t.Run("registration replaces by name", func(t *testing.T) {
		c := NewCodec()
		c.Register(addOp)
		c.Register(addOp)
		op, err := c.Lookup("add")
		require.NoError(t, err)
		assert.Equal(t, graph.Op(addOp), op)
	})
}
