// Package link owns the storage side of compiled functions: the
// Container storage cell backing each graph node, the per-function cell
// table, and the linker variants that decide when intermediate cells are
// cleared between steps and between calls.
package link

import (
	"fmt"

	"github.com/vk/tensorlink/internal/value"
)

// Container is a single mutable slot holding one value, with the owning
// type's validation rules attached. A container may be referenced by
// several compiled functions at once; that sharing is how implicit
// shared parameters work.
type Container struct {
	typ           value.Type
	val           any
	filled        bool
	strict        bool
	allowDowncast *bool
	readonly      bool
	implicit      bool
}

// NewContainer creates an empty container for values of type t.
func NewContainer(t value.Type, strict bool, allowDowncast *bool) *Container {
	return &Container{typ: t, strict: strict, allowDowncast: allowDowncast}
}

// Type returns the owning value type.
func (c *Container) Type() value.Type { return c.typ }

// Strict reports whether implicit coercion is rejected on set.
func (c *Container) Strict() bool { return c.strict }

// AllowDowncast returns the downcast-permission flag; nil means unspecified.
func (c *Container) AllowDowncast() *bool { return c.allowDowncast }

// Readonly reports whether sets are rejected.
func (c *Container) Readonly() bool { return c.readonly }

// SetReadonly flips the readonly flag.
func (c *Container) SetReadonly(ro bool) { c.readonly = ro }

// Implicit reports whether this cell belongs to a shared variable or
// constant and therefore survives garbage collection.
func (c *Container) Implicit() bool { return c.implicit }

// MarkImplicit tags the cell as persistent across calls.
func (c *Container) MarkImplicit() { c.implicit = true }

// Filled reports whether the cell currently holds a value.
func (c *Container) Filled() bool { return c.filled }

// Get returns the held value. With borrow set the internal value is
// returned directly and the caller accepts aliasing; otherwise a deep,
// fully independent copy is returned.
func (c *Container) Get(borrow bool) any {
	if !c.filled {
		return nil
	}
	if borrow {
		return c.val
	}
	return value.DeepCopy(c.val)
}

// GetInternal returns the literal internal object. This is the only
// accessor guaranteed to do so; Get may return a converted or copied
// representation depending on flags and backend.
func (c *Container) GetInternal() any {
	return c.val
}

// Set stores v after passing it through the owning type's filter. With
// borrow unset, v is deep-copied first so later caller-side mutation
// cannot corrupt the cell.
func (c *Container) Set(v any, borrow bool) error {
	if c.readonly {
		return fmt.Errorf("%w: container of %s is read-only", value.ErrType, c.typ.Name())
	}
	if !borrow {
		v = value.DeepCopy(v)
	}
	filtered, err := c.typ.Filter(v, c.strict, c.allowDowncast)
	if err != nil {
		return err
	}
	c.val = filtered
	c.filled = true
	return nil
}

// Zero resets the held value to its additive identity. With borrow set
// the reset happens in place on the existing allocation, visible to
// every holder of the same buffer; otherwise a fresh zero value replaces
// the contents.
func (c *Container) Zero(borrow bool) error {
	if !c.filled {
		return fmt.Errorf("%w: cannot zero an empty container of %s", value.ErrType, c.typ.Name())
	}
	if borrow {
		t, ok := c.val.(*value.Tensor)
		if !ok {
			return fmt.Errorf("%w: in-place zero needs a tensor, container holds %T", value.ErrType, c.val)
		}
		t.ZeroInPlace()
		return nil
	}
	z, err := value.ZerosLike(c.val)
	if err != nil {
		return err
	}
	c.val = z
	return nil
}

// Clear discards the held value and marks the slot empty. Used by the
// garbage-collecting linker once the last consumer has run.
func (c *Container) Clear() {
	c.val = nil
	c.filled = false
}

// Restore places a pre-filtered value into the cell directly, bypassing
// the readonly check. Only deserialization uses it.
func (c *Container) Restore(v any) {
	c.val = v
	c.filled = true
}
