package program

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/tensorlink/internal/compile"
	"github.com/vk/tensorlink/internal/value"
)

const counterSrc = `
shared "state" {
  value = 0
  dtype = "float64"
}

input "x" {
  dtype = "float64"
}

function "step" {
  output "sum" {
    expr = state + x
  }
  update "state" {
    expr = state + 1
  }
}
`

func scalarOf(t *testing.T, v any) float64 {
	t.Helper()
	got, err := v.(*value.Tensor).ScalarValue()
	require.NoError(t, err)
	return got
}

func TestParse(t *testing.T) {
	ctx := context.Background()

	t.Run("declarations are exposed", func(t *testing.T) {
		p, err := Parse(ctx, []byte(counterSrc), "counter.hcl")
		require.NoError(t, err)

		sv, ok := p.Shared("state")
		require.True(t, ok)
		assert.Equal(t, 0.0, scalarOf(t, sv.GetValue(false, false)))
		assert.Equal(t, []string{"step"}, p.FunctionNames())
		assert.Equal(t, counterSrc, p.Source)
	})

	t.Run("dtype attribute forces the element type", func(t *testing.T) {
		src := `
shared "w" {
  value = 3
}
shared "f" {
  value = 3
  dtype = "float64"
}
`
		p, err := Parse(ctx, []byte(src), "dtypes.hcl")
		require.NoError(t, err)

		w, _ := p.Shared("w")
		assert.Equal(t, value.Int64, w.GetValue(true, true).(*value.Tensor).DType(), "whole literals default to int64")

		f, _ := p.Shared("f")
		assert.Equal(t, value.Float64, f.GetValue(true, true).(*value.Tensor).DType())
	})

	t.Run("list literals become rank-1 tensors", func(t *testing.T) {
		src := `
shared "v" {
  value = [1.5, 2.5]
}
`
		p, err := Parse(ctx, []byte(src), "vec.hcl")
		require.NoError(t, err)
		v, _ := p.Shared("v")
		tv := v.GetValue(true, true).(*value.Tensor)
		assert.Equal(t, 1, tv.NDim())
		assert.Equal(t, []float64{1.5, 2.5}, tv.Float64s())
	})

	t.Run("duplicate declarations are rejected", func(t *testing.T) {
		src := `
shared "s" { value = 1 }
shared "s" { value = 2 }
`
		_, err := Parse(ctx, []byte(src), "dup.hcl")
		assert.ErrorContains(t, err, "duplicate shared variable")
	})

	t.Run("syntax errors surface with the filename", func(t *testing.T) {
		_, err := Parse(ctx, []byte(`shared "s" {`), "broken.hcl")
		require.Error(t, err)
		assert.ErrorContains(t, err, "broken.hcl")
	})
}

func TestBuildFunction(t *testing.T) {
	ctx := context.Background()

	t.Run("counter program runs end to end", func(t *testing.T) {
		p, err := Parse(ctx, []byte(counterSrc), "counter.hcl")
		require.NoError(t, err)

		built, err := p.BuildFunction(ctx, "step", nil)
		require.NoError(t, err)
		assert.Equal(t, []string{"x"}, built.InputNames)
		assert.Equal(t, []string{"sum"}, built.OutputNames)

		for _, want := range []float64{5, 6, 7} {
			res, err := built.Invoke(ctx, []any{value.ScalarFloat64(5)}, nil)
			require.NoError(t, err)
			assert.Equal(t, want, scalarOf(t, res[0]))
		}

		state, _ := p.Shared("state")
		assert.Equal(t, 3.0, scalarOf(t, state.GetValue(false, false)))
	})

	t.Run("empty name selects the sole function", func(t *testing.T) {
		p, err := Parse(ctx, []byte(counterSrc), "counter.hcl")
		require.NoError(t, err)
		built, err := p.BuildFunction(ctx, "", nil)
		require.NoError(t, err)
		assert.Equal(t, "step", built.Name())
	})

	t.Run("unknown function name is an error", func(t *testing.T) {
		p, err := Parse(ctx, []byte(counterSrc), "counter.hcl")
		require.NoError(t, err)
		_, err = p.BuildFunction(ctx, "nope", nil)
		assert.ErrorContains(t, err, `no function "nope"`)
	})

	t.Run("mode block selects the linker", func(t *testing.T) {
		src := counterSrc + `
function "frozen" {
  output "sum" {
    expr = state + x
  }
  mode {
    linker = "block"
  }
}
`
		p, err := Parse(ctx, []byte(src), "modes.hcl")
		require.NoError(t, err)
		built, err := p.BuildFunction(ctx, "frozen", nil)
		require.NoError(t, err)
		assert.Equal(t, "block", built.Mode().Linker.Name())
	})

	t.Run("explicit mode overrides the block", func(t *testing.T) {
		p, err := Parse(ctx, []byte(counterSrc), "counter.hcl")
		require.NoError(t, err)
		m := compile.NoGCMode()
		built, err := p.BuildFunction(ctx, "step", &m)
		require.NoError(t, err)
		assert.False(t, built.Mode().Linker.AllowGC())
	})

	t.Run("expressions support the arithmetic subset", func(t *testing.T) {
		src := `
input "x" {
  dtype = "float64"
}
function "poly" {
  output "y" {
    expr = -(x * x) + x / 2 - 1
  }
}
`
		p, err := Parse(ctx, []byte(src), "poly.hcl")
		require.NoError(t, err)
		built, err := p.BuildFunction(ctx, "poly", nil)
		require.NoError(t, err)

		res, err := built.Invoke(ctx, []any{value.ScalarFloat64(4)}, nil)
		require.NoError(t, err)
		assert.Equal(t, -15.0, scalarOf(t, res[0]))
	})

	t.Run("unknown name in an expression is reported", func(t *testing.T) {
		src := `
function "bad" {
  output "y" {
    expr = nowhere + 1
  }
}
`
		p, err := Parse(ctx, []byte(src), "bad.hcl")
		require.NoError(t, err)
		_, err = p.BuildFunction(ctx, "bad", nil)
		require.Error(t, err)
		assert.ErrorContains(t, err, `unknown name "nowhere"`)
	})

	t.Run("update target must be a shared variable", func(t *testing.T) {
		src := `
input "x" {}
function "bad" {
  output "y" {
    expr = x + 1
  }
  update "x" {
    expr = x + 1
  }
}
`
		p, err := Parse(ctx, []byte(src), "bad.hcl")
		require.NoError(t, err)
		_, err = p.BuildFunction(ctx, "bad", nil)
		assert.ErrorContains(t, err, "not a shared variable")
	})
}
