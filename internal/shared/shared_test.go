package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/link"
	"github.com/vk/tensorlink/internal/ops"
	"github.com/vk/tensorlink/internal/value"
)

func newFloatShared(t *testing.T, name string, v float64) *Variable {
	t.Helper()
	sv, err := NewVariable(name, value.ScalarOf(value.Float64), value.ScalarFloat64(v), nil, nil, nil)
	require.NoError(t, err)
	return sv
}

func TestNewVariable(t *testing.T) {
	t.Run("value path creates and fills a fresh container", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1.5)
		require.NotNil(t, sv.Container())
		assert.True(t, sv.Container().Filled())
		assert.True(t, sv.Container().Implicit())
	})

	t.Run("initial value is filtered", func(t *testing.T) {
		_, err := NewVariable("s", value.ScalarOf(value.Int64), value.ScalarFloat64(2.5), nil, nil, nil)
		require.Error(t, err)
		assert.ErrorIs(t, err, value.ErrType)
	})

	t.Run("container path aliases the given cell", func(t *testing.T) {
		cell := link.NewContainer(value.ScalarOf(value.Float64), false, nil)
		require.NoError(t, cell.Set(value.ScalarFloat64(1), false))
		sv, err := NewVariable("s", value.ScalarOf(value.Float64), nil, nil, nil, cell)
		require.NoError(t, err)
		assert.Same(t, cell, sv.Container())
	})

	t.Run("container excludes value and strict", func(t *testing.T) {
		cell := link.NewContainer(value.ScalarOf(value.Float64), false, nil)
		_, err := NewVariable("s", value.ScalarOf(value.Float64), value.ScalarFloat64(1), nil, nil, cell)
		assert.ErrorIs(t, err, value.ErrType)

		strict := true
		_, err = NewVariable("s", value.ScalarOf(value.Float64), nil, &strict, nil, cell)
		assert.ErrorIs(t, err, value.ErrType)
	})

	t.Run("strict flag is fixed at construction", func(t *testing.T) {
		strict := true
		sv, err := NewVariable("s", value.ScalarOf(value.Float64), value.ScalarFloat64(1), &strict, nil, nil)
		require.NoError(t, err)
		err = sv.SetValue(value.ScalarInt64(1), false)
		assert.ErrorIs(t, err, value.ErrType, "strict cell rejects coercion on every later set")
	})
}

func TestGetSetValue(t *testing.T) {
	t.Run("set then get round-trips", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		require.NoError(t, sv.SetValue(value.ScalarFloat64(2), false))
		got := sv.GetValue(false, false).(*value.Tensor)
		assert.Equal(t, []float64{2}, got.Float64s())
	})

	t.Run("non-borrow get copies", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		got := sv.GetValue(false, false).(*value.Tensor)
		got.Float64s()[0] = 99
		assert.Equal(t, 1.0, sv.Container().GetInternal().(*value.Tensor).Float64s()[0])
	})

	t.Run("borrow with internal returns the literal object", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		got := sv.GetValue(true, true)
		assert.Same(t, sv.Container().GetInternal(), got)
	})

	t.Run("non-borrow set copies the caller's value", func(t *testing.T) {
		sv := newFloatShared(t, "s", 0)
		tv := value.ScalarFloat64(5)
		require.NoError(t, sv.SetValue(tv, false))
		tv.Float64s()[0] = 42
		assert.Equal(t, 5.0, sv.Container().GetInternal().(*value.Tensor).Float64s()[0])
	})

	t.Run("borrow set aliases the caller's value", func(t *testing.T) {
		sv := newFloatShared(t, "s", 0)
		tv := value.ScalarFloat64(5)
		require.NoError(t, sv.SetValue(tv, true))
		assert.Same(t, tv, sv.Container().GetInternal())
	})
}

func TestZero(t *testing.T) {
	sv := newFloatShared(t, "s", 3)
	require.NoError(t, sv.Zero(false))
	got := sv.GetValue(false, false).(*value.Tensor)
	assert.Equal(t, []float64{0}, got.Float64s())
}

func TestClone(t *testing.T) {
	t.Run("clone shares the storage cell", func(t *testing.T) {
		orig := newFloatShared(t, "s", 1)
		cp := orig.Clone("")
		assert.Same(t, orig.Container(), cp.Container())

		require.NoError(t, cp.SetValue(value.ScalarFloat64(9), false))
		got := orig.GetValue(false, false).(*value.Tensor)
		assert.Equal(t, []float64{9}, got.Float64s(), "set through clone visible through original")
	})

	t.Run("clone is a distinct graph node", func(t *testing.T) {
		orig := newFloatShared(t, "s", 1)
		cp := orig.Clone("")
		assert.NotSame(t, orig, cp)
		assert.Equal(t, "s", cp.Name())
	})

	t.Run("clone can rename", func(t *testing.T) {
		orig := newFloatShared(t, "s", 1)
		cp := orig.Clone("s2")
		assert.Equal(t, "s2", cp.Name())
	})

	t.Run("clone carries the default update", func(t *testing.T) {
		orig := newFloatShared(t, "s", 1)
		require.NoError(t, orig.SetDefaultUpdate(ops.Add(orig, orig)))
		cp := orig.Clone("")
		assert.Same(t, orig.DefaultUpdate(), cp.DefaultUpdate())
	})
}

func TestDefaultUpdate(t *testing.T) {
	t.Run("matching type installs unchanged", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		expr := ops.Add(sv, sv)
		require.NoError(t, sv.SetDefaultUpdate(expr))
		assert.Same(t, graph.Node(expr), sv.DefaultUpdate())
	})

	t.Run("int expression widens for a float target", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		i := graph.NewVariable(value.ScalarOf(value.Int64), "i")
		require.NoError(t, sv.SetDefaultUpdate(i))
		du := sv.DefaultUpdate()
		require.NotNil(t, du.Owner(), "a cast apply was inserted")
		assert.Equal(t, "cast:float64", du.Owner().Op.Name())
	})

	t.Run("lossy conversion is refused", func(t *testing.T) {
		sv, err := NewVariable("s", value.ScalarOf(value.Int64), value.ScalarInt64(1), nil, nil, nil)
		require.NoError(t, err)
		f := graph.NewVariable(value.ScalarOf(value.Float64), "f")
		assert.ErrorIs(t, sv.SetDefaultUpdate(f), value.ErrType)
	})

	t.Run("rank mismatch is refused", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		vec := graph.NewVariable(value.TensorOf(value.Float64, 1), "v")
		assert.ErrorIs(t, sv.SetDefaultUpdate(vec), value.ErrType)
	})

	t.Run("nil clears the update", func(t *testing.T) {
		sv := newFloatShared(t, "s", 1)
		require.NoError(t, sv.SetDefaultUpdate(ops.Add(sv, sv)))
		require.NoError(t, sv.SetDefaultUpdate(nil))
		assert.Nil(t, sv.DefaultUpdate())
	})
}
