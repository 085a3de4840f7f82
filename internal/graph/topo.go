package graph

import "fmt"

// Walk describes the reachable subgraph behind a set of outputs: every
// node in deterministic first-visit order (roots before the applies that
// consume them) and every apply in a valid execution order.
type Walk struct {
	Nodes   []Node
	Applies []*Apply
	Roots   []Node
}

// Traverse walks the ancestors of outputs depth-first and returns a
// deterministic topological ordering of the applies that compute them.
//
// Cycle detection uses the classic three-color depth-first search: nodes
// in the current recursion stack are "temporary", fully visited nodes
// are "permanent".
func Traverse(outputs []Node) (*Walk, error) {
	w := &Walk{}
	permanent := make(map[*Apply]bool)
	temporary := make(map[*Apply]bool)
	seen := make(map[Node]bool)

	var visitNode func(n Node) error
	var visitApply func(a *Apply) error

	visitApply = func(a *Apply) error {
		if permanent[a] {
			return nil
		}
		if temporary[a] {
			return fmt.Errorf("cycle detected involving op %q", a.Op.Name())
		}
		temporary[a] = true
		for _, in := range a.Inputs {
			if err := visitNode(in); err != nil {
				return err
			}
		}
		delete(temporary, a)
		permanent[a] = true
		w.Applies = append(w.Applies, a)
		for _, out := range a.Outputs {
			if !seen[out] {
				seen[out] = true
				w.Nodes = append(w.Nodes, out)
			}
		}
		return nil
	}

	visitNode = func(n Node) error {
		if owner := n.Owner(); owner != nil {
			return visitApply(owner)
		}
		if !seen[n] {
			seen[n] = true
			w.Nodes = append(w.Nodes, n)
			w.Roots = append(w.Roots, n)
		}
		return nil
	}

	for _, out := range outputs {
		if err := visitNode(out); err != nil {
			return nil, err
		}
	}
	return w, nil
}

// Ancestors returns every node reachable from outputs, roots first.
func Ancestors(outputs []Node) ([]Node, error) {
	w, err := Traverse(outputs)
	if err != nil {
		return nil, err
	}
	return w.Nodes, nil
}
