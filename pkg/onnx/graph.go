package onnx

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// Subgraphs decodes the graph payloads (If/Loop/Scan bodies) of a.
func (a *Attribute) Subgraphs() ([]*Graph, error) {
	if a.Type != AttrGraph && a.Type != AttrGraphs {
		return nil, nil
	}
	var (
		graphs  []*Graph
		discard []byte
	)
	err := eachField(a.unknown, &discard, func(f wireField) (bool, error) {
		if (f.num != 6 && f.num != 11) || f.typ != protowire.BytesType {
			return false, nil
		}
		g := &Graph{}
		if err := decodeGraph(f.bytes, g); err != nil {
			return false, fmt.Errorf("subgraph %q: %w", a.Name, err)
		}
		graphs = append(graphs, g)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return graphs, nil
}

// ReferencedNames returns every tensor name consumed by a node of g, by a
// node of any nested subgraph, or listed as a graph output.
func (g *Graph) ReferencedNames() (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	if err := g.collectRefs(refs); err != nil {
		return nil, err
	}
	return refs, nil
}

func (g *Graph) collectRefs(refs map[string]struct{}) error {
	for _, n := range g.Nodes {
		for _, in := range n.Inputs {
			if in != "" {
				refs[in] = struct{}{}
			}
		}
		for _, a := range n.Attributes {
			subs, err := a.Subgraphs()
			if err != nil {
				return err
			}
			for _, sg := range subs {
				if err := sg.collectRefs(refs); err != nil {
					return err
				}
			}
		}
	}
	for _, out := range g.Outputs {
		refs[out.Name] = struct{}{}
	}
	return nil
}

// Names returns the names already taken in g: graph inputs, initializers,
// node outputs and node names.
func (g *Graph) Names() map[string]struct{} {
	names := make(map[string]struct{}, len(g.Inputs)+len(g.Initializers)+len(g.Nodes))
	for _, vi := range g.Inputs {
		names[vi.Name] = struct{}{}
	}
	for _, t := range g.Initializers {
		names[t.Name] = struct{}{}
	}
	for _, n := range g.Nodes {
		for _, out := range n.Outputs {
			names[out] = struct{}{}
		}
		if n.Name != "" {
			names[n.Name] = struct{}{}
		}
	}
	return names
}
