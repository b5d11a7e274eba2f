// Package model adapts an external resource-model validator: it parses
// each entry resource into its typed form, reclassifies the validator's
// findings into the unified taxonomy and exposes the parsed graph to the
// rule engine.
package model

import (
	"encoding/json"
	"sync"

	"github.com/gofhir/bundlevalidator/pkg/document"
)

// Node is one parsed entry resource.
type Node struct {
	*document.Resource

	// Typed is the decoded model value, or nil when the resource type is
	// unsupported or the resource failed to decode.
	Typed any

	once sync.Once
	data []byte
}

// JSON returns the resource re-encoded as JSON. The encoding is computed
// once and shared by every caller.
func (n *Node) JSON() []byte {
	n.once.Do(func() {
		n.data, _ = json.Marshal(n.Node)
	})
	return n.data
}

// Graph is the parsed resource graph of a Document. It is read-only after
// construction and safe for concurrent use.
type Graph struct {
	doc    *document.Document
	nodes  []*Node
	byType map[string][]*Node
	ids    map[string]int // "Type/id" -> occurrences
}

// NewGraph builds a Graph with untyped nodes for every entry resource.
func NewGraph(doc *document.Document) *Graph {
	g := &Graph{doc: doc, byType: make(map[string][]*Node), ids: make(map[string]int)}
	resources := doc.Resources()
	for i := range resources {
		n := &Node{Resource: &resources[i]}
		g.nodes = append(g.nodes, n)
		g.byType[n.ResourceType] = append(g.byType[n.ResourceType], n)
		if n.ID != "" {
			g.ids[n.ResourceType+"/"+n.ID]++
		}
	}
	return g
}

// Document returns the underlying document.
func (g *Graph) Document() *document.Document { return g.doc }

// Nodes returns every node in document order.
func (g *Graph) Nodes() []*Node { return g.nodes }

// OfType returns the nodes of a resource type in document order.
func (g *Graph) OfType(resourceType string) []*Node { return g.byType[resourceType] }

// UniqueID reports whether n has an id that no other resource of its type
// in the document shares.
func (g *Graph) UniqueID(n *Node) bool {
	return n.ID != "" && g.ids[n.ResourceType+"/"+n.ID] == 1
}

// Counts returns the number of nodes per resource type.
func (g *Graph) Counts() map[string]int {
	out := make(map[string]int, len(g.byType))
	for t, nodes := range g.byType {
		if t != "" {
			out[t] = len(nodes)
		}
	}
	return out
}
