package compile

import (
	"context"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vk/tensorlink/internal/ctxlog"
	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/link"
	"github.com/vk/tensorlink/internal/ops"
	"github.com/vk/tensorlink/internal/shared"
	"github.com/vk/tensorlink/internal/value"
)

// Node kinds in a serialized graph.
const (
	nodeRoot uint8 = iota
	nodeShared
	nodeConstant
	nodeDerived
)

// Type kinds in a serialized graph.
const (
	typeTensor uint8 = iota
	typeGeneric
)

type typeDump struct {
	Kind  uint8
	DType int8
	NDim  int
}

type tensorDump struct {
	DType int8
	Shape []int
	F64   []float64
	I64   []int64
}

type valueDump struct {
	Tensor *tensorDump
	// Raw holds the msgpack encoding of a non-tensor (generic) value.
	Raw []byte
}

type cellDump struct {
	Filled        bool
	Strict        bool
	AllowDowncast *bool
	Readonly      bool
	Value         *valueDump
}

type nodeDump struct {
	Kind uint8
	Name string
	Type typeDump
	Cell *cellDump
}

type applyDump struct {
	Op      string
	Inputs  []int
	Outputs []int
}

type functionDump struct {
	ID            string
	FnName        string
	Linker        string
	GC            bool
	Nodes         []nodeDump
	Applies       []applyDump
	Inputs        []int
	InBorrow      []bool
	Outputs       []int
	OutBorrow     []bool
	UpdateTargets []int
	UpdateExprs   []int
}

func dumpType(t value.Type) (typeDump, error) {
	switch x := t.(type) {
	case *value.TensorType:
		return typeDump{Kind: typeTensor, DType: int8(x.DType), NDim: x.NDim}, nil
	case *value.GenericType:
		return typeDump{Kind: typeGeneric}, nil
	default:
		return typeDump{}, fmt.Errorf("cannot serialize type %s", t.Name())
	}
}

func loadType(d typeDump) value.Type {
	if d.Kind == typeGeneric {
		return value.Generic
	}
	return value.TensorOf(value.DType(d.DType), d.NDim)
}

func dumpValue(v any) (*valueDump, error) {
	if t, ok := v.(*value.Tensor); ok {
		return &valueDump{Tensor: &tensorDump{
			DType: int8(t.DType()),
			Shape: t.Shape(),
			F64:   t.Float64s(),
			I64:   t.Int64s(),
		}}, nil
	}
	raw, err := msgpack.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("cannot serialize value of type %T: %w", v, err)
	}
	return &valueDump{Raw: raw}, nil
}

func loadValue(d *valueDump) (any, error) {
	if d == nil {
		return nil, nil
	}
	if d.Tensor != nil {
		td := d.Tensor
		if value.DType(td.DType) == value.Float64 {
			return value.NewFloat64(td.Shape, td.F64)
		}
		return value.NewInt64(td.Shape, td.I64)
	}
	var v any
	if err := msgpack.Unmarshal(d.Raw, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func dumpCell(c *link.Container, includeValue bool) (*cellDump, error) {
	d := &cellDump{
		Filled:        c.Filled() && includeValue,
		Strict:        c.Strict(),
		AllowDowncast: c.AllowDowncast(),
		Readonly:      c.Readonly(),
	}
	if d.Filled {
		vd, err := dumpValue(c.GetInternal())
		if err != nil {
			return nil, err
		}
		d.Value = vd
	}
	return d, nil
}

// MarshalBinary snapshots the function: graph topology (by op codec
// name), mode and GC policy, per-cell flags, and the values of every
// cell that currently holds one. Cleared cells contribute no payload, so
// a garbage-collected function serializes to the same size before and
// after calls.
func (f *Function) MarshalBinary() ([]byte, error) {
	d := functionDump{
		ID:     f.id,
		FnName: f.name,
		Linker: f.mode.Linker.Name(),
		GC:     f.mode.Linker.AllowGC(),
	}

	index := make(map[graph.Node]int, len(f.storage.Walk.Nodes))
	for i, n := range f.storage.Walk.Nodes {
		index[n] = i
		nd := nodeDump{Name: n.Name()}
		td, err := dumpType(n.Type())
		if err != nil {
			return nil, err
		}
		nd.Type = td

		switch n.(type) {
		case *shared.Variable:
			nd.Kind = nodeShared
		case *graph.Constant:
			nd.Kind = nodeConstant
		default:
			if n.Owner() != nil {
				nd.Kind = nodeDerived
			} else {
				nd.Kind = nodeRoot
			}
		}

		cd, err := dumpCell(f.storage.Cells[n], true)
		if err != nil {
			return nil, err
		}
		nd.Cell = cd
		d.Nodes = append(d.Nodes, nd)
	}

	for _, a := range f.storage.Walk.Applies {
		ad := applyDump{Op: a.Op.Name()}
		for _, in := range a.Inputs {
			ad.Inputs = append(ad.Inputs, index[in])
		}
		for _, out := range a.Outputs {
			ad.Outputs = append(ad.Outputs, index[out])
		}
		d.Applies = append(d.Applies, ad)
	}

	for _, in := range f.inputs {
		d.Inputs = append(d.Inputs, index[in.Node])
		d.InBorrow = append(d.InBorrow, in.Borrow)
	}
	for _, out := range f.outputs {
		d.Outputs = append(d.Outputs, index[out.Node])
		d.OutBorrow = append(d.OutBorrow, out.Borrow)
	}
	for _, ub := range f.updates {
		d.UpdateTargets = append(d.UpdateTargets, index[ub.target])
		d.UpdateExprs = append(d.UpdateExprs, index[ub.expr])
	}

	return msgpack.Marshal(&d)
}

// Restore reconstructs a function from a MarshalBinary snapshot: the
// graph is replayed through the op codec, shared variables get fresh
// containers holding their snapshotted values, and any serialized
// intermediate values are placed back into their cells.
func Restore(ctx context.Context, data []byte) (*Function, error) {
	logger := ctxlog.FromContext(ctx)
	var d functionDump
	if err := msgpack.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decoding function snapshot: %w", err)
	}

	nodes := make([]graph.Node, len(d.Nodes))
	for i, nd := range d.Nodes {
		typ := loadType(nd.Type)
		switch nd.Kind {
		case nodeRoot:
			nodes[i] = graph.NewVariable(typ, nd.Name)
		case nodeShared:
			c := link.NewContainer(typ, nd.Cell.Strict, nd.Cell.AllowDowncast)
			if nd.Cell.Filled {
				v, err := loadValue(nd.Cell.Value)
				if err != nil {
					return nil, fmt.Errorf("restoring shared %q: %w", nd.Name, err)
				}
				c.Restore(v)
			}
			c.SetReadonly(nd.Cell.Readonly)
			sv, err := shared.NewVariable(nd.Name, typ, nil, nil, nil, c)
			if err != nil {
				return nil, err
			}
			nodes[i] = sv
		case nodeConstant:
			v, err := loadValue(nd.Cell.Value)
			if err != nil {
				return nil, fmt.Errorf("restoring constant %q: %w", nd.Name, err)
			}
			cst, err := graph.NewConstant(typ, v, nd.Name)
			if err != nil {
				return nil, err
			}
			nodes[i] = cst
		case nodeDerived:
			// Created below while replaying applies.
		default:
			return nil, fmt.Errorf("unknown node kind %d in snapshot", nd.Kind)
		}
	}

	for _, ad := range d.Applies {
		op, err := ops.Lookup(ad.Op)
		if err != nil {
			return nil, fmt.Errorf("replaying snapshot: %w", err)
		}
		ins := make([]graph.Node, len(ad.Inputs))
		for j, idx := range ad.Inputs {
			if nodes[idx] == nil {
				return nil, fmt.Errorf("snapshot apply %q references node %d before its definition", ad.Op, idx)
			}
			ins[j] = nodes[idx]
		}
		outTypes := make([]value.Type, len(ad.Outputs))
		for j, idx := range ad.Outputs {
			outTypes[j] = loadType(d.Nodes[idx].Type)
		}
		a := graph.NewApply(op, ins, outTypes)
		for j, idx := range ad.Outputs {
			a.Outputs[j].SetName(d.Nodes[idx].Name)
			nodes[idx] = a.Outputs[j]
		}
	}

	ins := make([]In, len(d.Inputs))
	for k, idx := range d.Inputs {
		ins[k] = In{Node: nodes[idx], Borrow: d.InBorrow[k]}
	}
	outs := make([]Out, len(d.Outputs))
	for k, idx := range d.Outputs {
		outs[k] = Out{Node: nodes[idx], Borrow: d.OutBorrow[k]}
	}
	updates := make(map[*shared.Variable]graph.Node, len(d.UpdateTargets))
	for k, idx := range d.UpdateTargets {
		sv, ok := nodes[idx].(*shared.Variable)
		if !ok {
			return nil, fmt.Errorf("snapshot update target %d is not a shared variable", idx)
		}
		updates[sv] = nodes[d.UpdateExprs[k]]
	}

	mode, err := ParseMode(d.Linker, d.GC)
	if err != nil {
		return nil, err
	}

	f, err := Build(ctx, ins, outs,
		WithMode(mode),
		WithName(d.FnName),
		WithUpdates(updates),
		WithNoDefaultUpdates(),
	)
	if err != nil {
		return nil, err
	}
	f.id = d.ID

	// Re-seed any serialized intermediate values (a no-GC function keeps
	// its temporaries across the snapshot boundary).
	for i, nd := range d.Nodes {
		if nd.Kind != nodeDerived && nd.Kind != nodeRoot {
			continue
		}
		if nd.Cell == nil || !nd.Cell.Filled {
			continue
		}
		v, err := loadValue(nd.Cell.Value)
		if err != nil {
			return nil, fmt.Errorf("restoring cell %d: %w", i, err)
		}
		if c, ok := f.storage.Cells[nodes[i]]; ok {
			c.Restore(v)
		}
	}

	logger.Debug("Function restored from snapshot.", "name", f.name, "id", f.id)
	return f, nil
}
