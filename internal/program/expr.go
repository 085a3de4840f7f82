package program

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"

	"github.com/vk/tensorlink/internal/graph"
	"github.com/vk/tensorlink/internal/ops"
	"github.com/vk/tensorlink/internal/value"
)

// translate lowers an HCL expression into a graph node. Only the
// arithmetic subset is supported: name references, numeric literals,
// parentheses, unary negation and the four binary operators.
func (p *Program) translate(expr hcl.Expression, scope map[string]graph.Node) (graph.Node, error) {
	switch e := expr.(type) {
	case *hclsyntax.ScopeTraversalExpr:
		name := e.Traversal.RootName()
		if len(e.Traversal) != 1 {
			return nil, fmt.Errorf("attribute access on %q is not supported in expressions", name)
		}
		n, ok := scope[name]
		if !ok {
			return nil, fmt.Errorf("unknown name %q; declare it as a shared or input block", name)
		}
		return n, nil

	case *hclsyntax.LiteralValueExpr:
		t, err := ctyToTensor(e.Val, nil)
		if err != nil {
			return nil, err
		}
		typ := value.TensorOf(t.DType(), t.NDim())
		cst, err := graph.NewConstant(typ, t, "")
		if err != nil {
			return nil, err
		}
		return cst, nil

	case *hclsyntax.ParenthesesExpr:
		return p.translate(e.Expression, scope)

	case *hclsyntax.UnaryOpExpr:
		if e.Op != hclsyntax.OpNegate {
			return nil, fmt.Errorf("unsupported unary operator")
		}
		operand, err := p.translate(e.Val, scope)
		if err != nil {
			return nil, err
		}
		return ops.Neg(operand), nil

	case *hclsyntax.BinaryOpExpr:
		lhs, err := p.translate(e.LHS, scope)
		if err != nil {
			return nil, err
		}
		rhs, err := p.translate(e.RHS, scope)
		if err != nil {
			return nil, err
		}
		switch e.Op {
		case hclsyntax.OpAdd:
			return ops.Add(lhs, rhs), nil
		case hclsyntax.OpSubtract:
			return ops.Sub(lhs, rhs), nil
		case hclsyntax.OpMultiply:
			return ops.Mul(lhs, rhs), nil
		case hclsyntax.OpDivide:
			return ops.Div(lhs, rhs), nil
		default:
			return nil, fmt.Errorf("unsupported binary operator")
		}

	default:
		return nil, fmt.Errorf("unsupported expression at %s", expr.Range())
	}
}
