package engine

import (
	"sort"

	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/pathexpr"
	"github.com/lazygraph/lazygraph/internal/value"
)

// recursionLimit bounds re-entrant rule input resolution. The guard fires
// only past this depth so benign deep graphs still evaluate.
const recursionLimit = 8

// evaluation is the per-query resolver state: memo tables, the cycle
// guard and the debug trace. It is discarded when the query ends, which
// keeps the shared Graph free of mutable state.
type evaluation struct {
	debug bool

	// visited memoizes container resolves per (node, frame, path shape).
	visited map[*graph.Node]map[uint64]any

	// resolutionStack counts in-flight derivations for cycle detection;
	// derived caches their results so a calc runs at most once per query.
	resolutionStack map[resKey]int
	derived         map[resKey]any

	trace []TraceEntry
}

type resKey struct {
	node  *graph.Node
	frame uintptr
	key   any
}

func newEvaluation(debug bool) *evaluation {
	return &evaluation{
		debug:           debug,
		visited:         make(map[*graph.Node]map[uint64]any),
		resolutionStack: make(map[resKey]int),
		derived:         make(map[resKey]any),
	}
}

// resolve walks the node tree in lock-step with the path. The stack
// pointer's top frame is the container bound to n; callers retain
// ownership of sp.
func (ev *evaluation) resolve(n *graph.Node, p *pathexpr.Path, sp *StackPointer) any {
	switch n.Type {
	case value.TypeObject:
		return ev.resolveObject(n, p, sp)
	case value.TypeArray:
		return ev.resolveArray(n, p, sp)
	}
	// Scalar frames cannot descend.
	if p.Empty() {
		return n.Cast(sp.Frame())
	}
	return value.NewMissing("cannot descend into scalar at " + sp.Location())
}

func (ev *evaluation) memoKey(frame any, p *pathexpr.Path) uint64 {
	return uint64(frameID(frame)) ^ (p.Identity() << 1)
}

func (ev *evaluation) memoGet(n *graph.Node, key uint64) (any, bool) {
	table, ok := ev.visited[n]
	if !ok {
		return nil, false
	}
	v, ok := table[key]
	return v, ok
}

func (ev *evaluation) memoSet(n *graph.Node, key uint64, v any) {
	table, ok := ev.visited[n]
	if !ok {
		table = make(map[uint64]any)
		ev.visited[n] = table
	}
	table[key] = v
}

func (ev *evaluation) resolveObject(n *graph.Node, p *pathexpr.Path, sp *StackPointer) any {
	frame, ok := sp.Frame().(map[string]any)
	if !ok {
		return value.NewMissing("expected object frame at " + sp.Location())
	}

	key := ev.memoKey(frame, p)
	if v, hit := ev.memoGet(n, key); hit {
		return v
	}

	var out any
	switch {
	case p.Empty():
		out = ev.forceObject(n, frame, sp)
	default:
		switch seg := p.Segment().(type) {
		case pathexpr.Part:
			out = ev.resolveObjectPart(n, seg, p.Next(), frame, sp)
		case pathexpr.Group:
			out = ev.resolveGroup(n, seg, p.Next(), sp)
		case pathexpr.Range:
			out = ev.resolveGroup(n, pathexpr.Group{Options: seg.Expand()}, p.Next(), sp)
		}
	}

	ev.memoSet(n, key, out)
	return out
}

// forceObject evaluates every non-simple property, plus every input key
// matched by a pattern property, then returns the coerced container.
func (ev *evaluation) forceObject(n *graph.Node, frame map[string]any, sp *StackPointer) any {
	for _, name := range n.Properties.Names() {
		child, _ := n.Properties.Get(name)
		if child.Simple {
			continue
		}
		ev.fetchAndResolve(child, pathexpr.Blank, frame, name, sp)
	}
	if len(n.PatternProps) > 0 {
		for _, key := range sortedFrameKeys(frame) {
			if _, declared := n.Properties.Get(key); declared {
				continue
			}
			for _, pp := range n.PatternProps {
				if pp.Regexp.MatchString(key) {
					ev.fetchAndResolve(pp.Node, pathexpr.Blank, frame, key, sp)
					break
				}
			}
		}
	}
	return frame
}

func (ev *evaluation) resolveObjectPart(n *graph.Node, part pathexpr.Part, rest *pathexpr.Path, frame map[string]any, sp *StackPointer) any {
	if child := n.ChildFor(part.Name); child != nil {
		return ev.fetchAndResolve(child, rest, frame, part.Name, sp)
	}
	// Keys present in the input but unknown to the schema resolve through
	// a synthesized node of the right kind.
	if raw, ok := frame[part.Name]; ok {
		return ev.fetchAndResolve(synthesizeNode(n, part.Name, raw), rest, frame, part.Name, sp)
	}
	return value.NewMissing("no resolver for " + part.Name + " at " + sp.Location())
}

// resolveGroup evaluates every option with the shared continuation and
// merges results under preserved keys, in left-to-right option order.
// Single-option groups collapse into plain traversal.
func (ev *evaluation) resolveGroup(n *graph.Node, g pathexpr.Group, rest *pathexpr.Path, sp *StackPointer) any {
	if opt, single := g.Single(); single {
		return ev.resolve(n, opt.Merge(rest), sp)
	}
	out := value.NewObject()
	for _, opt := range g.Options {
		key := optionKey(opt)
		v := ev.resolve(n, opt.Merge(rest), sp)
		if prev, ok := out.Get(key); ok {
			v = mergeKeyed(prev, v)
		}
		out.Set(key, v)
	}
	return out
}

// optionKey names a group option: the option itself for plain parts, the
// terminal segment for nested paths.
func optionKey(opt *pathexpr.Path) string {
	if opt.Empty() {
		return ""
	}
	last := opt.Parts[len(opt.Parts)-1]
	if part, ok := last.(pathexpr.Part); ok {
		return part.Name
	}
	return last.String()
}

func mergeKeyed(prev, next any) any {
	po, ok1 := prev.(*value.Object)
	no, ok2 := next.(*value.Object)
	if !ok1 || !ok2 {
		return next
	}
	for _, k := range no.Keys() {
		v, _ := no.Get(k)
		if inner, ok := po.Get(k); ok {
			v = mergeKeyed(inner, v)
		}
		po.Set(k, v)
	}
	return po
}

func (ev *evaluation) resolveArray(n *graph.Node, p *pathexpr.Path, sp *StackPointer) any {
	frame, ok := sp.Frame().([]any)
	if !ok {
		return value.NewMissing("expected array frame at " + sp.Location())
	}

	key := ev.memoKey(frame, p)
	if v, hit := ev.memoGet(n, key); hit {
		return v
	}

	items := n.Items
	if items == nil && len(frame) > 0 {
		items = synthesizeNode(n, "[]", frame[0])
	}

	var out any
	switch {
	case p.Empty():
		out = ev.forceArray(items, frame, sp)
	default:
		out = ev.resolveArraySegment(n, items, p, frame, sp)
	}

	ev.memoSet(n, key, out)
	return out
}

func (ev *evaluation) forceArray(items *graph.Node, frame []any, sp *StackPointer) any {
	if items != nil && !items.Simple {
		for i := range frame {
			ev.fetchAndResolve(items, pathexpr.Blank, frame, i, sp)
		}
	}
	return frame
}

func (ev *evaluation) resolveArraySegment(n *graph.Node, items *graph.Node, p *pathexpr.Path, frame []any, sp *StackPointer) any {
	rest := p.Next()
	switch seg := p.Segment().(type) {
	case pathexpr.Part:
		if seg.IsIndex() {
			if items == nil || seg.Num < 0 || seg.Num >= len(frame) {
				return value.NewMissing("index out of range at " + sp.Location())
			}
			return ev.fetchAndResolve(items, rest, frame, seg.Num, sp)
		}
		// A named segment projects over every element when the items node
		// exposes the property.
		if !exposesProperty(items, frame, seg.Name) {
			return value.NewMissing("no resolver for " + seg.Name + " at " + sp.Location())
		}
		return ev.mapElements(items, p, frame, sp)
	case pathexpr.Group:
		if opt, single := seg.Single(); single {
			return ev.resolve(n, opt.Merge(rest), sp)
		}
		if seg.IsIndex() {
			out := make([]any, 0, len(seg.Options))
			for _, opt := range seg.Options {
				out = append(out, ev.resolve(n, opt.Merge(rest), sp))
			}
			return out
		}
		// Non-index group: each element resolves the group itself.
		return ev.mapElements(items, p, frame, sp)
	case pathexpr.Range:
		g := pathexpr.Group{Options: seg.Expand()}
		return ev.resolveArraySegment(n, items, pathexpr.New(g).Merge(rest), frame, sp)
	}
	return value.NewMissing("unsupported segment at " + sp.Location())
}

func (ev *evaluation) mapElements(items *graph.Node, p *pathexpr.Path, frame []any, sp *StackPointer) any {
	out := make([]any, len(frame))
	for i := range frame {
		out[i] = ev.fetchAndResolve(items, p, frame, i, sp)
	}
	return out
}

// exposesProperty reports whether elements can resolve name: declared on
// the items schema, matched by a pattern, or present on the first element.
func exposesProperty(items *graph.Node, frame []any, name string) bool {
	if items == nil {
		return false
	}
	if items.ChildFor(name) != nil {
		return true
	}
	if len(frame) > 0 {
		if m, ok := frame[0].(map[string]any); ok {
			_, present := m[name]
			return present
		}
	}
	return false
}

// synthesizeNode builds an ad-hoc schema position for an input key the
// schema does not declare. Scalars pass through uncast.
func synthesizeNode(parent *graph.Node, name string, v any) *graph.Node {
	t := value.TypeNull
	switch v.(type) {
	case map[string]any:
		t = value.TypeObject
	case []any:
		t = value.TypeArray
	}
	return &graph.Node{
		Name:   name,
		Path:   parent.Path + "." + name,
		Depth:  parent.Depth + 1,
		Parent: parent,
		Root:   parent.Root,
		Type:   t,
		Simple: t == value.TypeNull,
	}
}

func sortedFrameKeys(frame map[string]any) []string {
	keys := make([]string, 0, len(frame))
	for k := range frame {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
