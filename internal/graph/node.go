package graph

import (
	"regexp"

	"github.com/lazygraph/lazygraph/internal/pathexpr"
	"github.com/lazygraph/lazygraph/internal/value"
)

// Node is one typed position in the schema tree. The tree is built once
// and immutable afterwards; Parent and Root are non-owning backrefs.
type Node struct {
	Name  string
	Path  string // absolute dotted path, e.g. $.a.b[]
	Depth int
	Type  value.Type

	Parent *Node
	Root   *Node

	Default    any
	HasDefault bool

	Invisible        bool
	ValidatePresence bool

	// Object nodes.
	Properties   *NodeMap
	PatternProps []PatternProperty

	// Array nodes.
	Items *Node

	// Derived nodes.
	Rule         *Rule
	RuleLocation *RuleLocation
	rawRule      any

	// Simple nodes are non-container leaves without rule or default; the
	// resolver short-circuits them to a cast.
	Simple bool
}

// PatternProperty pairs a compiled key regex with its child node, in
// schema declaration order.
type PatternProperty struct {
	Regexp *regexp.Regexp
	Node   *Node
}

// RuleLocation is the opaque source position carried from the schema
// document into violations and debug traces.
type RuleLocation struct {
	File string
	Line int
}

// NodeMap is an insertion-ordered name → Node map. Object property order
// drives forced-evaluation order and therefore trace determinism.
type NodeMap struct {
	names []string
	nodes map[string]*Node
}

func newNodeMap() *NodeMap {
	return &NodeMap{nodes: make(map[string]*Node)}
}

func (m *NodeMap) set(name string, n *Node) {
	if _, ok := m.nodes[name]; !ok {
		m.names = append(m.names, name)
	}
	m.nodes[name] = n
}

// Get returns the child node bound to name.
func (m *NodeMap) Get(name string) (*Node, bool) {
	if m == nil {
		return nil, false
	}
	n, ok := m.nodes[name]
	return n, ok
}

// Names returns property names in declaration order. The slice is shared.
func (m *NodeMap) Names() []string {
	if m == nil {
		return nil
	}
	return m.names
}

// Len returns the number of properties.
func (m *NodeMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.names)
}

// ChildFor returns the schema child resolving name: a declared property
// first, else the first pattern property whose regex matches.
func (n *Node) ChildFor(name string) *Node {
	if n.Type == value.TypeArray {
		return nil
	}
	if child, ok := n.Properties.Get(name); ok {
		return child
	}
	for _, pp := range n.PatternProps {
		if pp.Regexp.MatchString(name) {
			return pp.Node
		}
	}
	return nil
}

// Resolves reports whether the node can resolve the leading part of a
// dependency path. Used by build-time input binding while walking up the
// ancestor chain.
func (n *Node) Resolves(part pathexpr.Part) bool {
	if part.Name == pathexpr.RootMarker {
		return n.Parent == nil
	}
	switch n.Type {
	case value.TypeObject:
		return n.ChildFor(part.Name) != nil
	case value.TypeArray:
		return part.IsIndex() && n.Items != nil
	}
	return false
}

// Derived reports whether the node carries a rule.
func (n *Node) Derived() bool { return n.Rule != nil }

// Cast coerces v to the node's type. Containers of the wrong shape come
// back as Missing; scalar coercion follows the value package rules.
func (n *Node) Cast(v any) any {
	if value.IsMissing(v) && n.Type != value.TypeBoolean {
		return v
	}
	switch n.Type {
	case value.TypeObject:
		switch v.(type) {
		case map[string]any, *value.Object:
			return v
		}
		return value.NewMissing("expected object at " + n.Path)
	case value.TypeArray:
		if _, ok := v.([]any); ok {
			return v
		}
		return value.NewMissing("expected array at " + n.Path)
	}
	return value.Coerce(n.Type, v)
}
