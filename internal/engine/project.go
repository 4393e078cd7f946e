package engine

import (
	"reflect"

	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/pathexpr"
	"github.com/lazygraph/lazygraph/internal/value"
)

// circularRef replaces cycles in the assembled JSON view.
var circularRef = map[string]any{"^ref": "circular"}

// leafNode statically follows the query's leading parts to the schema
// node the output is shaped by. Groups and ranges stop the walk; the
// remaining strip runs schema-less from there.
func leafNode(n *graph.Node, p *pathexpr.Path) *graph.Node {
	for cur := p; !cur.Empty(); cur = cur.Next() {
		if n == nil {
			return nil
		}
		part, ok := cur.Segment().(pathexpr.Part)
		if !ok {
			return n
		}
		switch n.Type {
		case value.TypeObject:
			n = n.ChildFor(part.Name)
		case value.TypeArray:
			if n.Items == nil {
				return nil
			}
			if part.IsIndex() {
				n = n.Items
			} else {
				n = n.Items.ChildFor(part.Name)
			}
		default:
			return nil
		}
	}
	return n
}

// stripForJSON builds the get_json view: Missing values and invisible
// fields are dropped while structural keys are preserved; revisited
// containers become the circular sentinel.
func stripForJSON(v any, n *graph.Node) any {
	return strip(v, n, map[uintptr]struct{}{})
}

func strip(v any, n *graph.Node, visiting map[uintptr]struct{}) any {
	switch x := v.(type) {
	case *value.Missing:
		return nil
	case map[string]any:
		id := frameID(x)
		if _, seen := visiting[id]; seen {
			return circularRef
		}
		visiting[id] = struct{}{}
		defer delete(visiting, id)

		out := make(map[string]any, len(x))
		for k, e := range x {
			var child *graph.Node
			if n != nil && n.Type == value.TypeObject {
				child = n.ChildFor(k)
			}
			if child != nil && child.Invisible {
				continue
			}
			if value.IsMissing(e) {
				continue
			}
			out[k] = strip(e, child, visiting)
		}
		return out
	case []any:
		id := frameID(x)
		if _, seen := visiting[id]; seen {
			return circularRef
		}
		visiting[id] = struct{}{}
		defer delete(visiting, id)

		var items *graph.Node
		if n != nil && n.Type == value.TypeArray {
			items = n.Items
		} else if n != nil && !n.Type.Container() {
			// Projection over elements carries the element-level node.
			items = n
		}
		out := make([]any, 0, len(x))
		for _, e := range x {
			if value.IsMissing(e) {
				out = append(out, nil)
				continue
			}
			out = append(out, strip(e, items, visiting))
		}
		return out
	case *value.Object:
		id := objectID(x)
		if _, seen := visiting[id]; seen {
			return circularRef
		}
		visiting[id] = struct{}{}
		defer delete(visiting, id)

		out := value.NewObject()
		for _, k := range x.Keys() {
			e, _ := x.Get(k)
			var child *graph.Node
			if n != nil {
				switch n.Type {
				case value.TypeObject:
					child = n.ChildFor(k)
				case value.TypeArray:
					if n.Items != nil {
						child = n.Items.ChildFor(k)
					}
				}
			}
			if child != nil && child.Invisible {
				continue
			}
			if value.IsMissing(e) {
				continue
			}
			out.Set(k, strip(e, child, visiting))
		}
		return out
	}
	return value.Normalize(v)
}

func objectID(o *value.Object) uintptr {
	return reflect.ValueOf(o).Pointer()
}
