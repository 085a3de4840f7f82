package shared

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/value"
)

// ErrSkipConstructor is returned by a constructor to decline a value.
// Dispatch moves on to the next candidate; any other error aborts.
var ErrSkipConstructor = errors.New("shared variable constructor declined")

// Config carries the optional arguments of a shared-variable
// construction through dispatch.
type Config struct {
	Name          string
	Strict        bool
	AllowDowncast *bool
	// Borrow stores the raw value by reference instead of copying.
	Borrow bool
	// Kwargs holds constructor-specific configuration. A constructor
	// that does not understand a present key must decline rather than
	// ignore it.
	Kwargs map[string]any
}

// Option mutates a Config.
type Option func(*Config)

// WithName sets the display name.
func WithName(name string) Option { return func(c *Config) { c.Name = name } }

// WithStrict rejects implicit coercion on every store into the cell.
func WithStrict(strict bool) Option { return func(c *Config) { c.Strict = strict } }

// WithAllowDowncast permits lossy conversions on store.
func WithAllowDowncast(allow bool) Option {
	return func(c *Config) { c.AllowDowncast = &allow }
}

// WithBorrow stores the initial value by reference instead of copying.
func WithBorrow(borrow bool) Option { return func(c *Config) { c.Borrow = borrow } }

// WithKwarg passes a constructor-specific keyword.
func WithKwarg(key string, v any) Option {
	return func(c *Config) {
		if c.Kwargs == nil {
			c.Kwargs = make(map[string]any)
		}
		c.Kwargs[key] = v
	}
}

// ConstructorFunc builds a shared variable from a raw value, or declines
// by returning ErrSkipConstructor.
type ConstructorFunc func(ctx context.Context, val any, cfg Config) (*Variable, error)

// Constructor is a named predicate-and-builder pair.
type Constructor struct {
	Name string
	New  ConstructorFunc
}

// Registry is an ordered list of constructors. Dispatch tries them in
// most-recently-registered-first order, so later, more specific
// constructors shadow the generic fallback registered first. The list is
// snapshotted at call time, making dispatch deterministic even if
// registration happens concurrently.
type Registry struct {
	mu    sync.RWMutex
	ctors []Constructor
}

// NewRegistry creates an empty constructor registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Register appends ctor, making it the new default since dispatch
// searches in reverse order.
func (r *Registry) Register(ctor Constructor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ctors = append(r.ctors, ctor)
}

// Unregister removes the constructor with the given name and reports
// whether it was present.
func (r *Registry) Unregister(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, c := range r.ctors {
		if c.Name == name {
			r.ctors = slices.Delete(r.ctors, i, i+1)
			return true
		}
	}
	return false
}

// New dispatches val to the registered constructors. Symbolic values are
// rejected before dispatch begins: a shared variable wraps concrete
// data, never an expression. Allocation failures are re-signaled with a
// hint to request reference semantics instead of copying.
func (r *Registry) New(ctx context.Context, val any, opts ...Option) (*Variable, error) {
	logger := ctxlog.FromContext(ctx)
	var cfg Config
	for _, opt := range opts {
		opt(&cfg)
	}

	if _, ok := val.(graph.Node); ok {
		return nil, fmt.Errorf("%w: shared variable constructor needs a concrete value, not a symbolic expression", value.ErrType)
	}

	r.mu.RLock()
	ctors := slices.Clone(r.ctors)
	r.mu.RUnlock()

	for i := len(ctors) - 1; i >= 0; i-- {
		v, err := ctors[i].New(ctx, val, cfg)
		switch {
		case err == nil:
			logger.Debug("Shared variable constructed.", "constructor", ctors[i].Name, "name", cfg.Name)
			return v, nil
		case errors.Is(err, ErrSkipConstructor):
			continue
		case errors.Is(err, value.ErrAllocation):
			return nil, fmt.Errorf("%w; consider constructing with borrow semantics (WithBorrow(true)) to avoid the copy", err)
		default:
			return nil, err
		}
	}

	return nil, fmt.Errorf(
		"%w: no suitable shared variable constructor could be found."+
			" Are you sure all keyword arguments are supported?"+
			" value=%v kwargs=%v", value.ErrType, val, cfg.Kwargs)
}

// GenericConstructor wraps any value in a generic-typed shared variable.
// It declines when kwargs are present: user-supplied keywords must never
// be silently ignored.
var GenericConstructor = Constructor{
	Name: "generic",
	New: func(ctx context.Context, val any, cfg Config) (*Variable, error) {
		if len(cfg.Kwargs) > 0 {
			return nil, fmt.Errorf("%w: generic constructor takes no keyword arguments", ErrSkipConstructor)
		}
		if !cfg.Borrow {
			val = value.DeepCopy(val)
		}
		return NewVariable(cfg.Name, value.Generic, val, &cfg.Strict, cfg.AllowDowncast, nil)
	},
}

// TensorConstructor wraps tensors and numeric Go values in a
// tensor-typed shared variable, fixing dtype and rank from the value.
var TensorConstructor = Constructor{
	Name: "tensor",
	New: func(ctx context.Context, val any, cfg Config) (*Variable, error) {
		if len(cfg.Kwargs) > 0 {
			return nil, fmt.Errorf("%w: tensor constructor takes no keyword arguments", ErrSkipConstructor)
		}
		t, err := value.FromAny(val)
		if err != nil {
			return nil, fmt.Errorf("%w: not tensor-like: %v", ErrSkipConstructor, err)
		}
		if !cfg.Borrow {
			t = t.Clone()
		}
		typ := value.TensorOf(t.DType(), t.NDim())
		return NewVariable(cfg.Name, typ, t, &cfg.Strict, cfg.AllowDowncast, nil)
	},
}

// DefaultRegistry carries the built-in constructors: the generic
// fallback first, the tensor constructor second so it wins dispatch.
var DefaultRegistry = func() *Registry {
	r := NewRegistry()
	r.Register(GenericConstructor)
	r.Register(TensorConstructor)
	return r
}()

// New constructs a shared variable via the default registry.
func New(ctx context.Context, val any, opts ...Option) (*Variable, error) {
	return DefaultRegistry.New(ctx, val, opts...)
}
