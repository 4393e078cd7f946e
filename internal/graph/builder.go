package graph

import (
	"fmt"
	"regexp"
	"sort"

	"github.com/lazygraph/lazygraph/internal/value"
)

// Graph is an immutable schema tree with compiled rules. It may be shared
// across goroutines; all per-query state lives in the engine's Context.
type Graph struct {
	Root *Node
}

// Build constructs the node tree from a schema document and compiles every
// rule. The document is a decoded JSON/YAML tree whose mappings are either
// map[string]any or *value.Object (ordered). Build never mutates doc.
func Build(doc any) (*Graph, error) {
	b := &builder{}
	root := b.buildNode(doc, "$", nil, "$", 0)
	if root != nil {
		root.Root = root
		setRoot(root, root)
		b.compileRules(root)
	}
	if len(b.violations) > 0 {
		return nil, ValidationError(b.violations)
	}
	return &Graph{Root: root}, nil
}

type builder struct {
	violations []*Violation
}

func (b *builder) fail(node *Node, format string, args ...any) {
	b.violations = append(b.violations, violationAt(node, format, args...))
}

func (b *builder) buildNode(doc any, name string, parent *Node, path string, depth int) *Node {
	_, get, ok := docMap(doc)
	if !ok {
		b.violations = append(b.violations, &Violation{
			Message: fmt.Sprintf("schema node %s: expected mapping, got %T", path, doc),
		})
		return nil
	}

	node := &Node{
		Name:   name,
		Path:   path,
		Depth:  depth,
		Parent: parent,
		Type:   b.nodeType(doc, path),
	}

	if v, present := get("default"); present {
		node.Default = v
		node.HasDefault = true
	}
	if v, present := get("const"); present {
		node.Default = v
		node.HasDefault = true
	}
	if v, present := get("invisible"); present {
		node.Invisible = value.Truthy(v)
	}
	if v, present := get("validate_presence"); present {
		node.ValidatePresence = value.Truthy(v)
	}
	if v, present := get("rule"); present {
		node.rawRule = v
	}
	if v, present := get("rule_location"); present {
		node.RuleLocation = parseRuleLocation(v)
	}

	switch node.Type {
	case value.TypeObject:
		node.Properties = newNodeMap()
		if props, present := get("properties"); present {
			names, propGet, ok := docMap(props)
			if !ok {
				b.fail(node, "properties: expected mapping, got %T", props)
			} else {
				for _, childName := range names {
					childDoc, _ := propGet(childName)
					child := b.buildNode(childDoc, childName, node, path+"."+childName, depth+1)
					if child != nil {
						node.Properties.set(childName, child)
					}
				}
			}
		}
		if patterns, present := get("patternProperties"); present {
			names, patGet, ok := docMap(patterns)
			if !ok {
				b.fail(node, "patternProperties: expected mapping, got %T", patterns)
			} else {
				for _, pattern := range names {
					re, err := regexp.Compile(pattern)
					if err != nil {
						b.fail(node, "patternProperties: bad pattern %q: %v", pattern, err)
						continue
					}
					childDoc, _ := patGet(pattern)
					child := b.buildNode(childDoc, pattern, node, path+"."+pattern, depth+1)
					if child != nil {
						node.PatternProps = append(node.PatternProps, PatternProperty{Regexp: re, Node: child})
					}
				}
			}
		}
		if req, present := get("required"); present {
			for _, rv := range toSlice(req) {
				reqName, _ := rv.(string)
				if child, ok := node.Properties.Get(reqName); ok {
					child.ValidatePresence = true
				}
			}
		}
	case value.TypeArray:
		if items, present := get("items"); present {
			node.Items = b.buildNode(items, "[]", node, path+"[]", depth+1)
		}
	}

	node.Simple = !node.Type.Container() && node.rawRule == nil && !node.HasDefault
	return node
}

// nodeType normalizes the declared type, inferring containers from the
// presence of properties or items when type is absent.
func (b *builder) nodeType(doc any, path string) value.Type {
	_, get, _ := docMap(doc)
	if t, present := get("type"); present {
		s, ok := t.(string)
		if !ok {
			b.violations = append(b.violations, &Violation{
				Message: fmt.Sprintf("schema node %s: type must be a string, got %T", path, t),
			})
			return value.TypeNull
		}
		return value.Type(s)
	}
	if _, present := get("properties"); present {
		return value.TypeObject
	}
	if _, present := get("patternProperties"); present {
		return value.TypeObject
	}
	if _, present := get("items"); present {
		return value.TypeArray
	}
	if _, present := get("const"); present {
		return value.TypeConst
	}
	return value.TypeObject
}

func (b *builder) compileRules(n *Node) {
	if n.rawRule != nil {
		rule, violations := compileRule(n, n.rawRule)
		if len(violations) > 0 {
			b.violations = append(b.violations, violations...)
		} else {
			n.Rule = rule
			n.Simple = false
		}
	}
	if n.Properties != nil {
		for _, name := range n.Properties.Names() {
			child, _ := n.Properties.Get(name)
			b.compileRules(child)
		}
	}
	for _, pp := range n.PatternProps {
		b.compileRules(pp.Node)
	}
	if n.Items != nil {
		b.compileRules(n.Items)
	}
}

func setRoot(n, root *Node) {
	n.Root = root
	if n.Properties != nil {
		for _, name := range n.Properties.Names() {
			child, _ := n.Properties.Get(name)
			setRoot(child, root)
		}
	}
	for _, pp := range n.PatternProps {
		setRoot(pp.Node, root)
	}
	if n.Items != nil {
		setRoot(n.Items, root)
	}
}

func parseRuleLocation(v any) *RuleLocation {
	parts := toSlice(v)
	if len(parts) != 2 {
		return nil
	}
	file, _ := parts[0].(string)
	loc := &RuleLocation{File: file}
	switch n := parts[1].(type) {
	case int:
		loc.Line = n
	case int64:
		loc.Line = int(n)
	case float64:
		loc.Line = int(n)
	}
	return loc
}

// docMap adapts both mapping representations the builder accepts.
func docMap(v any) (keys []string, get func(string) (any, bool), ok bool) {
	switch m := v.(type) {
	case *value.Object:
		return m.Keys(), m.Get, true
	case map[string]any:
		keys = make([]string, 0, len(m))
		for k := range m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		return keys, func(k string) (any, bool) { v, ok := m[k]; return v, ok }, true
	}
	return nil, nil, false
}

func toSlice(v any) []any {
	s, _ := v.([]any)
	return s
}
