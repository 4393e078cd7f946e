package graph

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/lazygraph/lazygraph/internal/pathexpr"
	"github.com/lazygraph/lazygraph/internal/value"
)

// Rule is the compiled form of a derivation descriptor.
type Rule struct {
	Inputs     []*Input
	Conditions []Condition
	Src        string

	// CopyInput marks a rule that is a single unmapped reference; the
	// engine copies the resolved input without invoking a calc.
	CopyInput bool

	Fixed    any
	HasFixed bool

	prog cel.Program
	fn   func(map[string]any) (any, error)
}

// Input is one declared dependency of a rule, bound at build time.
type Input struct {
	Name string
	Path *pathexpr.Path

	// Anchor is the ancestor schema node resolving the path's first
	// segment; Up counts the frames to pop from the rule owner's frame to
	// reach it. Absolute inputs anchor at the root instead.
	Anchor   *Node
	Up       int
	Absolute bool

	// Target is the schema node the full path binds to, when statically
	// known. Multi-option groups leave it nil.
	Target *Node

	Dynamic []*DynamicSegment
}

// DynamicSegment is a bracketed index expression that depends on another
// node; it is re-materialized per evaluation.
type DynamicSegment struct {
	Index int
	Input *Input
}

// Condition gates a rule on an input holding one of the allowed literals.
type Condition struct {
	Name    string
	Allowed []any
}

// Met reports whether v satisfies the condition.
func (c Condition) Met(v any) bool {
	for _, allowed := range c.Allowed {
		if value.Equal(v, allowed) {
			return true
		}
	}
	return false
}

// Func is the host-closure rule form. Go closures expose no parameter
// names, so inputs are declared explicitly: a list of paths, or a
// name → path map where an empty path means the name doubles as the path.
type Func struct {
	Inputs     any // []string or map[string]string
	Conditions map[string]any
	Src        string
	Fn         func(inputs map[string]any) (any, error)
}

// Invoke runs the rule's calc over the bound activation.
func (r *Rule) Invoke(act map[string]any) (any, error) {
	if r.HasFixed {
		return r.Fixed, nil
	}
	if r.fn != nil {
		return r.fn(act)
	}
	out, _, err := r.prog.Eval(act)
	if err != nil {
		return nil, fmt.Errorf("eval %q: %w", r.Src, err)
	}
	return nativeValue(out)
}

var placeholderPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// compileRule canonicalizes any accepted descriptor form into a Rule.
func compileRule(owner *Node, raw any) (*Rule, []*Violation) {
	switch desc := raw.(type) {
	case string:
		if placeholderPattern.MatchString(desc) {
			return compileTemplate(owner, desc)
		}
		return compileCopy(owner, desc)
	case Func:
		return compileFunc(owner, desc)
	case *Func:
		return compileFunc(owner, *desc)
	case map[string]any, *value.Object:
		return compileMapping(owner, desc)
	case nil:
		return nil, []*Violation{violationAt(owner, "rule: empty descriptor")}
	}
	// Any other literal is a fixed result.
	return &Rule{Fixed: raw, HasFixed: true, Src: fmt.Sprintf("%v", raw)}, nil
}

// compileCopy builds the single-input copy rule from a plain path string.
func compileCopy(owner *Node, path string) (*Rule, []*Violation) {
	in, violations := bindInput(owner, manglePath(path), path)
	if len(violations) > 0 {
		return nil, violations
	}
	return &Rule{Inputs: []*Input{in}, CopyInput: true, Src: path}, nil
}

// compileTemplate expands ${...} placeholders: each distinct placeholder
// expression becomes an input, and the remaining text is the calc source.
func compileTemplate(owner *Node, src string) (*Rule, []*Violation) {
	rule := &Rule{Src: src}
	var violations []*Violation
	names := map[string]string{} // placeholder expr -> variable name
	used := map[string]bool{}

	calc := placeholderPattern.ReplaceAllStringFunc(src, func(m string) string {
		expr := m[2 : len(m)-1]
		if name, ok := names[expr]; ok {
			return name
		}
		name := uniqueName(manglePath(expr), used)
		in, vs := bindInput(owner, name, expr)
		if len(vs) > 0 {
			violations = append(violations, vs...)
			return name
		}
		names[expr] = name
		rule.Inputs = append(rule.Inputs, in)
		return name
	})
	if len(violations) > 0 {
		return nil, violations
	}

	prog, err := compileCalc(calc, inputNames(rule.Inputs))
	if err != nil {
		return nil, []*Violation{violationAt(owner, "rule calc %q: %v", src, err)}
	}
	rule.prog = prog
	return rule, nil
}

// compileMapping handles the {inputs, calc, conditions} form.
func compileMapping(owner *Node, desc any) (*Rule, []*Violation) {
	_, get, _ := docMap(desc)
	rule := &Rule{}
	var violations []*Violation

	rawInputs, _ := get("inputs")
	inputs, vs := bindInputs(owner, rawInputs)
	violations = append(violations, vs...)
	rule.Inputs = inputs

	if rawConds, ok := get("conditions"); ok {
		conds, vs := buildConditions(owner, rawConds, inputs)
		violations = append(violations, vs...)
		rule.Conditions = conds
	}

	rawCalc, hasCalc := get("calc")
	switch {
	case !hasCalc && len(inputs) == 1:
		rule.CopyInput = true
		rule.Src = inputs[0].Path.String()
	case !hasCalc:
		violations = append(violations, violationAt(owner, "rule: calc required with %d inputs", len(inputs)))
	default:
		src, ok := rawCalc.(string)
		if !ok {
			violations = append(violations, violationAt(owner, "rule calc: expected string, got %T", rawCalc))
			break
		}
		rule.Src = src
		if len(violations) == 0 {
			prog, err := compileCalc(src, inputNames(inputs))
			if err != nil {
				violations = append(violations, violationAt(owner, "rule calc %q: %v", src, err))
			}
			rule.prog = prog
		}
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return rule, nil
}

func compileFunc(owner *Node, desc Func) (*Rule, []*Violation) {
	rule := &Rule{fn: desc.Fn, Src: desc.Src}
	if rule.Src == "" {
		rule.Src = "<func>"
	}
	var violations []*Violation

	switch ins := desc.Inputs.(type) {
	case []string:
		used := map[string]bool{}
		for _, p := range ins {
			name := uniqueName(manglePath(p), used)
			in, vs := bindInput(owner, name, p)
			violations = append(violations, vs...)
			if in != nil {
				rule.Inputs = append(rule.Inputs, in)
			}
		}
	case map[string]string:
		for _, name := range sortedKeys(ins) {
			p := ins[name]
			if p == "" {
				p = name
			}
			in, vs := bindInput(owner, name, p)
			violations = append(violations, vs...)
			if in != nil {
				rule.Inputs = append(rule.Inputs, in)
			}
		}
	case nil:
	default:
		violations = append(violations, violationAt(owner, "rule inputs: unsupported form %T", desc.Inputs))
	}

	if desc.Conditions != nil {
		conds, vs := buildConditions(owner, desc.Conditions, rule.Inputs)
		violations = append(violations, vs...)
		rule.Conditions = conds
	}
	if desc.Fn == nil && len(rule.Inputs) == 1 {
		rule.CopyInput = true
	}

	if len(violations) > 0 {
		return nil, violations
	}
	return rule, nil
}

// bindInputs handles the list and map input forms of the mapping rule.
func bindInputs(owner *Node, raw any) ([]*Input, []*Violation) {
	var inputs []*Input
	var violations []*Violation
	switch ins := raw.(type) {
	case []any:
		used := map[string]bool{}
		for _, iv := range ins {
			p, ok := iv.(string)
			if !ok {
				violations = append(violations, violationAt(owner, "rule input: expected path string, got %T", iv))
				continue
			}
			name := uniqueName(mangleLastSegment(p), used)
			in, vs := bindInput(owner, name, p)
			violations = append(violations, vs...)
			if in != nil {
				inputs = append(inputs, in)
			}
		}
	case map[string]any, *value.Object:
		names, get, _ := docMap(ins)
		for _, name := range names {
			pv, _ := get(name)
			p, ok := pv.(string)
			if !ok {
				violations = append(violations, violationAt(owner, "rule input %s: expected path string, got %T", name, pv))
				continue
			}
			in, vs := bindInput(owner, name, p)
			violations = append(violations, vs...)
			if in != nil {
				inputs = append(inputs, in)
			}
		}
	case nil:
	default:
		violations = append(violations, violationAt(owner, "rule inputs: unsupported form %T", raw))
	}
	return inputs, violations
}

func buildConditions(owner *Node, raw any, inputs []*Input) ([]Condition, []*Violation) {
	names, get, ok := docMap(raw)
	if !ok {
		return nil, []*Violation{violationAt(owner, "rule conditions: expected mapping, got %T", raw)}
	}
	var conds []Condition
	var violations []*Violation
	for _, name := range names {
		found := false
		for _, in := range inputs {
			if in.Name == name {
				found = true
				break
			}
		}
		if !found {
			violations = append(violations, violationAt(owner, "rule condition %s does not match any input", name))
			continue
		}
		v, _ := get(name)
		allowed, ok := v.([]any)
		if !ok {
			allowed = []any{v}
		}
		conds = append(conds, Condition{Name: name, Allowed: allowed})
	}
	return conds, violations
}

// bindInput parses a dependency path and anchors it against the schema:
// absolute paths anchor at the root, relative paths walk upward from the
// rule owner's enclosing node until an ancestor resolves the first segment.
func bindInput(owner *Node, name, rawPath string) (*Input, []*Violation) {
	p, err := pathexpr.Parse(rawPath, false)
	if err != nil {
		return nil, []*Violation{violationAt(owner, "rule input %q: %v", rawPath, err)}
	}
	if p.Empty() {
		return nil, []*Violation{violationAt(owner, "rule input %q: empty path", rawPath)}
	}

	in := &Input{Name: name, Path: p}
	var anchor *Node

	if p.Absolute() {
		in.Absolute = true
		in.Path = p.StripRoot()
		anchor = owner.Root
	} else {
		first, ok := p.Segment().(pathexpr.Part)
		if !ok {
			return nil, []*Violation{violationAt(owner, "rule input %q: must start with a named segment", rawPath)}
		}
		up := 0
		for a := owner.Parent; a != nil; a = a.Parent {
			if a.Resolves(first) {
				anchor = a
				break
			}
			up++
		}
		if anchor == nil {
			return nil, []*Violation{violationAt(owner, "rule input %q: no resolver for %q", rawPath, first.Name)}
		}
		in.Up = up
	}
	in.Anchor = anchor

	target, dynamics, vs := descend(owner, anchor, in.Path)
	if len(vs) > 0 {
		return nil, vs
	}
	in.Target = target
	in.Dynamic = dynamics
	// Prime the identity cache while the path is still private: rule paths
	// live on the shared graph and must be read-only after build.
	in.Path.Identity()
	return in, nil
}

// descend walks the bound path through the schema, recording dynamic
// bracket segments. A missing binding is a build failure.
func descend(owner, anchor *Node, p *pathexpr.Path) (*Node, []*DynamicSegment, []*Violation) {
	cur := anchor
	var dynamics []*DynamicSegment
	for i, seg := range p.Parts {
		if cur == nil {
			break
		}
		switch s := seg.(type) {
		case pathexpr.Part:
			next := childNode(cur, s)
			if next == nil {
				return nil, nil, []*Violation{violationAt(owner, "rule input %q: cannot bind segment %q under %s", p.String(), s.Name, cur.Path)}
			}
			cur = next
		case pathexpr.Group:
			opt, single := s.Single()
			if !single {
				// Multiple options are a runtime projection; stop static descent.
				return nil, dynamics, nil
			}
			if s.IsIndex() {
				if cur.Type != value.TypeArray || cur.Items == nil {
					return nil, nil, []*Violation{violationAt(owner, "rule input %q: index into non-array %s", p.String(), cur.Path)}
				}
				cur = cur.Items
				continue
			}
			// Dynamic segment: the option is itself a dependency resolved
			// per evaluation and substituted into the path.
			nested, vs := bindInput(owner, manglePath(opt.String()), opt.String())
			if len(vs) > 0 {
				return nil, nil, vs
			}
			dynamics = append(dynamics, &DynamicSegment{Index: i, Input: nested})
			cur = dynamicChild(cur)
			if cur == nil {
				return nil, nil, []*Violation{violationAt(owner, "rule input %q: cannot bind dynamic segment %q", p.String(), opt.String())}
			}
		case pathexpr.Range:
			return nil, dynamics, nil
		}
	}
	return cur, dynamics, nil
}

// childNode descends one named or indexed step. Named steps over arrays
// project over elements, so they bind through the items node.
func childNode(cur *Node, part pathexpr.Part) *Node {
	switch cur.Type {
	case value.TypeObject:
		return cur.ChildFor(part.Name)
	case value.TypeArray:
		if cur.Items == nil {
			return nil
		}
		if part.IsIndex() {
			return cur.Items
		}
		return childNode(cur.Items, part)
	}
	return nil
}

// dynamicChild picks the node a dynamic index lands on: pattern properties
// for objects, items for arrays.
func dynamicChild(cur *Node) *Node {
	switch cur.Type {
	case value.TypeObject:
		if len(cur.PatternProps) > 0 {
			return cur.PatternProps[0].Node
		}
		return nil
	case value.TypeArray:
		return cur.Items
	}
	return nil
}

func inputNames(inputs []*Input) []string {
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = in.Name
	}
	return names
}

var identPattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// manglePath turns a path into an identifier-safe calc variable name.
func manglePath(p string) string {
	name := identPattern.ReplaceAllString(strings.TrimPrefix(p, "$."), "_")
	name = strings.Trim(name, "_")
	if name == "" || name[0] >= '0' && name[0] <= '9' {
		name = "_" + name
	}
	return name
}

// mangleLastSegment names a list-form input after its final segment.
func mangleLastSegment(p string) string {
	parsed, err := pathexpr.Parse(p, false)
	if err != nil || parsed.Empty() {
		return manglePath(p)
	}
	last := parsed.Parts[len(parsed.Parts)-1]
	if part, ok := last.(pathexpr.Part); ok && !part.IsIndex() {
		return manglePath(part.Name)
	}
	return manglePath(p)
}

func uniqueName(base string, used map[string]bool) string {
	name := base
	for i := 2; used[name]; i++ {
		name = fmt.Sprintf("%s_%d", base, i)
	}
	used[name] = true
	return name
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
