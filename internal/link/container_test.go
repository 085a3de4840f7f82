package link

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorlink/internal/value"
)

func boolPtr(b bool) *bool { return &b }

func newFilled(t *testing.T, data []float64) *Container {
	t.Helper()
	c := NewContainer(value.TensorOf(value.Float64, 1), false, nil)
	tv, err := value.NewFloat64([]int{len(data)}, data)
	require.NoError(t, err)
	require.NoError(t, c.Set(tv, true))
	return c
}

func TestContainerGet(t *testing.T) {
	t.Run("empty container yields nil", func(t *testing.T) {
		c := NewContainer(value.ScalarOf(value.Float64), false, nil)
		assert.False(t, c.Filled())
		assert.Nil(t, c.Get(false))
	})

	t.Run("borrow returns the internal object", func(t *testing.T) {
		c := newFilled(t, []float64{1, 2})
		got := c.Get(true).(*value.Tensor)
		assert.Same(t, c.GetInternal(), got)

		// Mutation through the borrowed handle is visible inside the cell.
		got.Float64s()[0] = 42
		assert.Equal(t, 42.0, c.GetInternal().(*value.Tensor).Float64s()[0])
	})

	t.Run("non-borrow get is isolated from the cell", func(t *testing.T) {
		c := newFilled(t, []float64{1, 2})
		got := c.Get(false).(*value.Tensor)
		got.Float64s()[0] = 42
		assert.Equal(t, 1.0, c.GetInternal().(*value.Tensor).Float64s()[0])
	})
}

func TestContainerSet(t *testing.T) {
	t.Run("non-borrow set copies before storing", func(t *testing.T) {
		c := NewContainer(value.TensorOf(value.Float64, 1), false, nil)
		tv, err := value.NewFloat64([]int{2}, []float64{1, 2})
		require.NoError(t, err)
		require.NoError(t, c.Set(tv, false))

		// Caller-side mutation after the set must not leak into the cell.
		tv.Float64s()[0] = 42
		assert.Equal(t, 1.0, c.GetInternal().(*value.Tensor).Float64s()[0])
	})

	t.Run("borrow set aliases the stored value", func(t *testing.T) {
		c := NewContainer(value.TensorOf(value.Float64, 1), false, nil)
		tv, err := value.NewFloat64([]int{2}, []float64{1, 2})
		require.NoError(t, err)
		require.NoError(t, c.Set(tv, true))
		assert.Same(t, tv, c.GetInternal())
	})

	t.Run("filter runs on every set", func(t *testing.T) {
		c := NewContainer(value.ScalarOf(value.Int64), false, nil)
		err := c.Set(value.ScalarFloat64(2.5), false)
		require.Error(t, err)
		assert.ErrorIs(t, err, value.ErrType)
		assert.False(t, c.Filled(), "a failed set leaves the cell empty")
	})

	t.Run("allow_downcast unlocks lossy sets", func(t *testing.T) {
		c := NewContainer(value.ScalarOf(value.Int64), false, boolPtr(true))
		require.NoError(t, c.Set(value.ScalarFloat64(2.5), false))
		assert.Equal(t, []int64{2}, c.GetInternal().(*value.Tensor).Int64s())
	})

	t.Run("strict container rejects coercion", func(t *testing.T) {
		c := NewContainer(value.ScalarOf(value.Float64), true, nil)
		err := c.Set(value.ScalarInt64(1), false)
		assert.ErrorIs(t, err, value.ErrType)

		require.NoError(t, c.Set(value.ScalarFloat64(1), false))
	})

	t.Run("readonly container rejects sets", func(t *testing.T) {
		c := newFilled(t, []float64{1})
		c.SetReadonly(true)
		err := c.Set(value.ScalarFloat64(2), false)
		assert.ErrorIs(t, err, value.ErrType)
	})
}

func TestContainerZero(t *testing.T) {
	t.Run("empty container cannot be zeroed", func(t *testing.T) {
		c := NewContainer(value.ScalarOf(value.Float64), false, nil)
		assert.ErrorIs(t, c.Zero(false), value.ErrType)
	})

	t.Run("borrowed zero resets in place", func(t *testing.T) {
		data := []float64{1, 2, 3}
		c := newFilled(t, data)
		internal := c.GetInternal()

		require.NoError(t, c.Zero(true))
		assert.Same(t, internal, c.GetInternal(), "in-place zero keeps the allocation")
		// Visible through the original backing slice as well.
		assert.Equal(t, []float64{0, 0, 0}, data)
	})

	t.Run("non-borrowed zero replaces the value", func(t *testing.T) {
		data := []float64{1, 2, 3}
		c := newFilled(t, data)
		internal := c.GetInternal()

		require.NoError(t, c.Zero(false))
		assert.NotSame(t, internal, c.GetInternal())
		// The old buffer is untouched.
		assert.Equal(t, []float64{1, 2, 3}, data)
		assert.Equal(t, []float64{0, 0, 0}, c.GetInternal().(*value.Tensor).Float64s())
	})
}

func TestContainerClear(t *testing.T) {
	c := newFilled(t, []float64{1})
	c.Clear()
	assert.False(t, c.Filled())
	assert.Nil(t, c.GetInternal())
}

func TestContainerRestore(t *testing.T) {
	c := NewContainer(value.ScalarOf(value.Float64), false, nil)
	c.SetReadonly(true)
	// Restore bypasses the readonly guard; it only runs during
	// deserialization, where the value already passed the filter once.
	c.Restore(value.ScalarFloat64(7))
	assert.True(t, c.Filled())
}
