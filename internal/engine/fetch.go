package engine

import (
	"errors"
	"fmt"

	"github.com/lazygraph/lazygraph/internal/graph"
	"github.com/lazygraph/lazygraph/internal/pathexpr"
	"github.com/lazygraph/lazygraph/internal/value"
)

// fetchAndResolve is the hot path: fetch container[key], deriving it if
// the node carries a rule, then continue resolving path inside the value.
func (ev *evaluation) fetchAndResolve(child *graph.Node, p *pathexpr.Path, container any, key any, sp *StackPointer) any {
	raw, present := frameGet(container, key)
	if present && !value.IsMissing(raw) {
		coerced := child.Cast(raw)
		if !identical(coerced, raw) {
			frameSet(container, key, coerced)
		}
		return ev.continueWith(child, p, coerced, key, sp)
	}

	if !child.Derived() {
		var def any = value.None
		if child.HasDefault {
			def = child.Cast(copyTree(child.Default))
		} else if child.Type == value.TypeBoolean {
			def = false
		}
		frameSet(container, key, def)
		return ev.continueWith(child, p, def, key, sp)
	}

	return ev.derive(child, p, container, key, sp)
}

// continueWith descends into a fetched value. Container children push a
// frame; scalars terminate the walk.
func (ev *evaluation) continueWith(child *graph.Node, p *pathexpr.Path, v any, key any, sp *StackPointer) any {
	if m, ok := v.(*value.Missing); ok {
		if !p.Empty() {
			return m.Access(p.String(), ev.debug)
		}
		return m
	}
	if child.Type.Container() || isContainer(v) {
		childSP := sp.Push(v, key)
		defer childSP.Release()
		return ev.resolve(child, p, childSP)
	}
	if p.Empty() {
		return v
	}
	return value.NewMissing("cannot descend into " + child.Path)
}

// derive computes a rule-bearing node's value: cycle guard, inputs,
// conditions, calc, coercion, interning, trace.
func (ev *evaluation) derive(child *graph.Node, p *pathexpr.Path, container any, key any, sp *StackPointer) any {
	ck := resKey{node: child, frame: frameID(container), key: key}

	if v, done := ev.derived[ck]; done {
		return ev.continueWith(child, p, v, key, sp)
	}

	if ev.resolutionStack[ck] > 0 && sp.recursionDepth >= recursionLimit {
		m := value.NewMissing("infinite recursion at " + sp.Location())
		ev.emitTrace(TraceEntry{
			Output:    childOutputPath(sp, key),
			Location:  sp.Location(),
			Calc:      child.Rule.Src,
			Exception: "Infinite Recursion Detected",
		})
		return m
	}
	ev.resolutionStack[ck]++
	defer func() {
		if ev.resolutionStack[ck]--; ev.resolutionStack[ck] == 0 {
			delete(ev.resolutionStack, ck)
		}
	}()

	rule := child.Rule
	result := child.Cast(ev.evalRule(child, rule, container, key, sp))
	frameSet(container, key, result)
	ev.derived[ck] = result
	return ev.continueWith(child, p, result, key, sp)
}

func (ev *evaluation) evalRule(child *graph.Node, rule *graph.Rule, container any, key any, sp *StackPointer) any {
	entry := TraceEntry{
		Output:   childOutputPath(sp, key),
		Location: sp.Location(),
		Calc:     rule.Src,
	}

	if rule.CopyInput {
		in := rule.Inputs[0]
		v := ev.resolveInput(child, in, sp)
		ev.checkPresence(child, in, v)
		entry.Inputs = map[string]any{in.Name: v}
		for _, cond := range rule.Conditions {
			if !cond.Met(v) {
				entry.Result = value.None
				ev.emitTrace(entry)
				return value.NewMissing("condition not met: " + cond.Name)
			}
		}
		entry.Result = v
		ev.emitTrace(entry)
		return v
	}

	act := map[string]any{"itself": normalizeForCalc(container)}
	entry.Inputs = make(map[string]any, len(rule.Inputs))
	anyMissing := false
	for _, in := range rule.Inputs {
		v := ev.resolveInput(child, in, sp)
		ev.checkPresence(child, in, v)
		entry.Inputs[in.Name] = v
		if value.IsMissing(v) {
			anyMissing = true
			continue
		}
		act[in.Name] = normalizeForCalc(v)
	}

	if len(rule.Conditions) > 0 {
		entry.Conditions = make(map[string]any, len(rule.Conditions))
		for _, cond := range rule.Conditions {
			v := entry.Inputs[cond.Name]
			entry.Conditions[cond.Name] = v
			if !cond.Met(v) {
				entry.Result = value.None
				ev.emitTrace(entry)
				return value.NewMissing("condition not met: " + cond.Name)
			}
		}
	}

	if anyMissing && !rule.HasFixed {
		entry.Result = value.None
		ev.emitTrace(entry)
		return value.NewMissing("missing input at " + entry.Output)
	}

	out, err := ev.invoke(rule, act)
	if err != nil {
		var abort *AbortError
		var verr *ValidationError
		if errors.As(err, &abort) || errors.As(err, &verr) {
			panic(err)
		}
		entry.Exception = err.Error()
		entry.Result = value.None
		ev.emitTrace(entry)
		return value.NewMissing("calc failed: " + err.Error())
	}
	entry.Result = out
	ev.emitTrace(entry)
	return out
}

// invoke runs the calc, converting panics from host closures into errors.
func (ev *evaluation) invoke(rule *graph.Rule, act map[string]any) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			if e, ok := r.(error); ok {
				var abort *AbortError
				var verr *ValidationError
				if errors.As(e, &abort) || errors.As(e, &verr) {
					panic(r)
				}
			}
			err = fmt.Errorf("calc panic: %v", r)
		}
	}()
	return rule.Invoke(act)
}

func (ev *evaluation) checkPresence(owner *graph.Node, in *graph.Input, v any) {
	if !value.IsMissing(v) {
		return
	}
	if owner.ValidatePresence || (in.Target != nil && in.Target.ValidatePresence) {
		panic(&ValidationError{Msg: "required dependency is missing", Path: in.Path.String()})
	}
}

// resolveInput materializes dynamic segments and resolves the path
// relative to the anchor frame. The anchor frame's recursion depth is
// bumped for the duration of the resolve.
func (ev *evaluation) resolveInput(owner *graph.Node, in *graph.Input, sp *StackPointer) any {
	p := in.Path
	for _, dyn := range in.Dynamic {
		idx := ev.resolveInput(owner, dyn.Input, sp)
		if value.IsMissing(idx) {
			return value.NewMissing("dynamic segment unresolved in " + in.Path.String())
		}
		p = p.Replace(dyn.Index, indexSegment(idx))
	}

	start := sp
	if in.Absolute {
		start = sp.Root()
	} else {
		start = sp.Ascend(in.Up)
	}

	start.recursionDepth++
	if start != sp {
		sp.recursionDepth++
	}
	defer func() {
		start.recursionDepth--
		if start != sp {
			sp.recursionDepth--
		}
	}()

	anchor := in.Anchor
	if anchor == nil {
		anchor = owner.Root
	}
	return ev.resolve(anchor, p, start)
}

// indexSegment converts a resolved dynamic index value into a path part.
func indexSegment(v any) pathexpr.Segment {
	switch x := v.(type) {
	case int:
		return pathexpr.IndexPart(x)
	case int64:
		return pathexpr.IndexPart(int(x))
	case float64:
		return pathexpr.IndexPart(int(x))
	case string:
		return pathexpr.NewPart(x)
	}
	return pathexpr.NewPart(fmt.Sprintf("%v", v))
}

func childOutputPath(sp *StackPointer, key any) string {
	switch k := key.(type) {
	case string:
		return sp.Location() + "." + k
	case int:
		return fmt.Sprintf("%s[%d]", sp.Location(), k)
	}
	return sp.Location()
}

func (ev *evaluation) emitTrace(entry TraceEntry) {
	if !ev.debug {
		return
	}
	entry.Result = normalizeForCalc(entry.Result)
	for k, v := range entry.Inputs {
		entry.Inputs[k] = normalizeForCalc(v)
	}
	ev.trace = append(ev.trace, entry)
}

// frameGet reads container[key] for both container kinds.
func frameGet(container any, key any) (any, bool) {
	switch c := container.(type) {
	case map[string]any:
		k, ok := key.(string)
		if !ok {
			return nil, false
		}
		v, present := c[k]
		return v, present
	case []any:
		i, ok := key.(int)
		if !ok || i < 0 || i >= len(c) {
			return nil, false
		}
		return c[i], true
	}
	return nil, false
}

// frameSet interns v into the input copy so repeated access is O(1). It
// never reaches the caller's original document.
func frameSet(container any, key any, v any) {
	switch c := container.(type) {
	case map[string]any:
		if k, ok := key.(string); ok {
			c[k] = v
		}
	case []any:
		if i, ok := key.(int); ok && i >= 0 && i < len(c) {
			c[i] = v
		}
	}
}

func isContainer(v any) bool {
	switch v.(type) {
	case map[string]any, []any:
		return true
	}
	return false
}

func identical(a, b any) bool {
	if isContainer(a) && isContainer(b) {
		return frameID(a) == frameID(b)
	}
	return a == b
}

// copyTree deep-copies a decoded document; scalars are shared. Shared and
// cyclic containers keep their shape in the copy.
func copyTree(v any) any {
	return copyTreeSeen(v, map[uintptr]any{})
}

func copyTreeSeen(v any, seen map[uintptr]any) any {
	switch x := v.(type) {
	case map[string]any:
		id := frameID(x)
		if prior, ok := seen[id]; ok {
			return prior
		}
		out := make(map[string]any, len(x))
		seen[id] = out
		for k, e := range x {
			out[k] = copyTreeSeen(e, seen)
		}
		return out
	case []any:
		id := frameID(x)
		if prior, ok := seen[id]; ok {
			return prior
		}
		out := make([]any, len(x))
		seen[id] = out
		for i, e := range x {
			out[i] = copyTreeSeen(e, seen)
		}
		return out
	}
	return v
}

// normalizeForCalc flattens engine representations for calc activation
// and trace output: decimals to float64, ordered objects to maps, Missing
// inside containers to null. Cyclic containers flatten to null at the
// point of re-entry.
func normalizeForCalc(v any) any {
	return normalizeSeen(v, map[uintptr]struct{}{})
}

func normalizeSeen(v any, seen map[uintptr]struct{}) any {
	switch x := v.(type) {
	case *value.Missing:
		return nil
	case *value.Object:
		return normalizeSeen(x.ToMap(), seen)
	case map[string]any:
		id := frameID(x)
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		defer delete(seen, id)
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = normalizeSeen(e, seen)
		}
		return out
	case []any:
		id := frameID(x)
		if _, ok := seen[id]; ok {
			return nil
		}
		seen[id] = struct{}{}
		defer delete(seen, id)
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalizeSeen(e, seen)
		}
		return out
	}
	return value.Normalize(v)
}
