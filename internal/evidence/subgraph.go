package evidence

import (
	"fmt"

	"github.com/aretw0/kopernicus/pkg/domain"
	"github.com/mitchellh/mapstructure"
)

// Node is a knowledge-graph node as returned by the capability provider.
type Node struct {
	ID       string   `json:"id" mapstructure:"id"`
	Curie    string   `json:"curie,omitempty" mapstructure:"curie"`
	Name     string   `json:"name,omitempty" mapstructure:"name"`
	Category []string `json:"category,omitempty" mapstructure:"category"`
}

// Edge is a knowledge-graph edge as returned by relationship tools.
type Edge struct {
	ID        string `json:"id,omitempty" mapstructure:"id"`
	Subject   Node   `json:"subject" mapstructure:"subject"`
	Predicate string `json:"predicate" mapstructure:"predicate"`
	Object    Node   `json:"object" mapstructure:"object"`
}

func decode(input, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return err
	}
	return dec.Decode(input)
}

// decodeEdges reads a list payload as edges. Items that do not decode are skipped.
func decodeEdges(payload any) []Edge {
	items, ok := payload.([]any)
	if !ok {
		return nil
	}
	var out []Edge
	for _, item := range items {
		if _, ok := item.(map[string]any); !ok {
			continue
		}
		var e Edge
		if err := decode(item, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out
}

// decodeNode reads a map payload as a node.
func decodeNode(payload any) (Node, bool) {
	m, ok := payload.(map[string]any)
	if !ok {
		return Node{}, false
	}
	var n Node
	if err := decode(m, &n); err != nil {
		return Node{}, false
	}
	return n, n.ID != "" || n.Curie != ""
}

// Key is the node identifier, falling back to its CURIE.
func (n Node) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Curie
}

func (n Node) subgraphNode() domain.SubgraphNode {
	id := n.Key()
	name := n.Name
	if name == "" {
		name = id
	}
	typ := "Entity"
	if len(n.Category) > 0 && n.Category[0] != "" {
		typ = n.Category[0]
	}
	return domain.SubgraphNode{ID: id, Name: name, Type: typ}
}

// ExtractSubgraph builds the provenance subgraph from successful evidence: edges of
// relationship tools and nodes of node lookups. Nodes are unique by id (or CURIE), first
// seen wins their position and last seen wins their attributes. Edges are unique by id.
func ExtractSubgraph(records []domain.EvidenceRecord) domain.Subgraph {
	g := domain.Subgraph{Nodes: []domain.SubgraphNode{}, Edges: []domain.SubgraphEdge{}}
	index := make(map[string]int)
	edges := make(map[string]bool)
	addNode := func(n Node) {
		key := n.Key()
		if key == "" {
			return
		}
		sn := n.subgraphNode()
		if i, ok := index[key]; ok {
			g.Nodes[i] = sn
			return
		}
		index[key] = len(g.Nodes)
		g.Nodes = append(g.Nodes, sn)
	}

	for _, r := range records {
		if !r.Succeeded() || r.Payload == nil {
			continue
		}
		switch {
		case IsRelationship(r.Tool):
			for _, e := range decodeEdges(r.Payload) {
				addNode(e.Subject)
				addNode(e.Object)
				source, target := e.Subject.Key(), e.Object.Key()
				if e.Predicate == "" || source == "" || target == "" {
					continue
				}
				id := e.ID
				if id == "" {
					id = fmt.Sprintf("%s-%s-%s", source, e.Predicate, target)
				}
				if edges[id] {
					continue
				}
				edges[id] = true
				g.Edges = append(g.Edges, domain.SubgraphEdge{
					Source: source,
					Target: target,
					Label:  e.Predicate,
					ID:     id,
				})
			}
		case r.Tool == ToolGetNode:
			if n, ok := decodeNode(r.Payload); ok {
				addNode(n)
			}
		}
	}
	return g
}
