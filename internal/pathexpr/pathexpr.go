package pathexpr

import (
	"hash/fnv"
	"strconv"
	"strings"
)

// RootMarker is the leading segment of an absolute path.
const RootMarker = "$"

// Segment is one element of a Path: a Part, a Group or a Range.
type Segment interface {
	// IsIndex reports whether the segment addresses array positions only.
	IsIndex() bool
	String() string
	writeTo(sb *strings.Builder, first bool)
}

// Part is a single named segment. Num is valid only when index is true.
type Part struct {
	Name  string
	Num   int
	index bool
}

// NewPart builds a Part, classifying integer literals as index segments.
func NewPart(name string) Part {
	if n, err := strconv.Atoi(name); err == nil {
		return Part{Name: name, Num: n, index: true}
	}
	return Part{Name: name}
}

// IndexPart builds a Part from an integer index.
func IndexPart(n int) Part {
	return Part{Name: strconv.Itoa(n), Num: n, index: true}
}

func (p Part) IsIndex() bool  { return p.index }
func (p Part) String() string { return p.Name }

func (p Part) writeTo(sb *strings.Builder, first bool) {
	if !first {
		sb.WriteByte('.')
	}
	sb.WriteString(p.Name)
}

// Group is a bracketed set of option paths. All options are evaluated and
// their results merged under preserved keys.
type Group struct {
	Options []*Path
}

// IsIndex reports whether every option is a pure index path.
func (g Group) IsIndex() bool {
	for _, opt := range g.Options {
		for _, seg := range opt.Parts {
			if !seg.IsIndex() {
				return false
			}
		}
	}
	return len(g.Options) > 0
}

// Single returns the sole option when the group has exactly one.
func (g Group) Single() (*Path, bool) {
	if len(g.Options) == 1 {
		return g.Options[0], true
	}
	return nil, false
}

func (g Group) String() string {
	var sb strings.Builder
	g.writeTo(&sb, true)
	return sb.String()
}

func (g Group) writeTo(sb *strings.Builder, first bool) {
	sb.WriteByte('[')
	for i, opt := range g.Options {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(opt.String())
	}
	sb.WriteByte(']')
}

// Range is an inclusive or half-open span between two symbols. It behaves
// like a Group over the expanded elements.
type Range struct {
	Lo, Hi     string
	ExcludeEnd bool
}

// Expand produces the option paths covered by the range. Integer endpoints
// expand numerically; single-character endpoints expand over the character
// span. Anything else yields the endpoint symbols themselves: both for an
// inclusive range, only the lower one for an exclusive range.
func (r Range) Expand() []*Path {
	single := func(p Part) *Path { return &Path{Parts: []Segment{p}} }
	if lo, err1 := strconv.Atoi(r.Lo); err1 == nil {
		if hi, err2 := strconv.Atoi(r.Hi); err2 == nil {
			if r.ExcludeEnd {
				hi--
			}
			var opts []*Path
			for i := lo; i <= hi; i++ {
				opts = append(opts, single(IndexPart(i)))
			}
			return opts
		}
	}
	if len(r.Lo) == 1 && len(r.Hi) == 1 {
		lo, hi := r.Lo[0], r.Hi[0]
		if r.ExcludeEnd {
			hi--
		}
		var opts []*Path
		for c := lo; c <= hi; c++ {
			opts = append(opts, single(NewPart(string(c))))
		}
		return opts
	}
	opts := []*Path{single(NewPart(r.Lo))}
	if !r.ExcludeEnd && r.Hi != r.Lo {
		opts = append(opts, single(NewPart(r.Hi)))
	}
	return opts
}

// IsIndex reports whether the expanded elements are all integer parts.
func (r Range) IsIndex() bool {
	_, err1 := strconv.Atoi(r.Lo)
	_, err2 := strconv.Atoi(r.Hi)
	return err1 == nil && err2 == nil
}

func (r Range) String() string {
	op := ".."
	if r.ExcludeEnd {
		op = "..."
	}
	return r.Lo + op + r.Hi
}

func (r Range) writeTo(sb *strings.Builder, first bool) {
	if !first {
		sb.WriteByte('.')
	}
	sb.WriteString(r.String())
}

// Path is a parsed sequence of segments.
type Path struct {
	Parts []Segment

	id     uint64
	haveID bool
}

// Blank is the empty path. Its identity is precomputed so the shared
// value stays read-only.
var Blank = func() *Path {
	p := &Path{}
	p.Identity()
	return p
}()

// New builds a path from segments.
func New(parts ...Segment) *Path { return &Path{Parts: parts} }

// Empty reports whether the path has no segments left.
func (p *Path) Empty() bool { return p == nil || len(p.Parts) == 0 }

// Segment returns the leading segment; callers must check Empty first.
func (p *Path) Segment() Segment { return p.Parts[0] }

// Next returns the path after the leading segment. The segment slice is
// shared with the receiver.
func (p *Path) Next() *Path {
	if p.Empty() {
		return Blank
	}
	if len(p.Parts) == 1 {
		return Blank
	}
	return &Path{Parts: p.Parts[1:]}
}

// Absolute reports whether the path starts at the root marker.
func (p *Path) Absolute() bool {
	if p.Empty() {
		return false
	}
	part, ok := p.Parts[0].(Part)
	return ok && part.Name == RootMarker
}

// StripRoot returns the path without a leading root marker.
func (p *Path) StripRoot() *Path {
	if p.Absolute() {
		return p.Next()
	}
	return p
}

// Merge appends other's segments after the receiver's.
func (p *Path) Merge(other *Path) *Path {
	if p.Empty() {
		return other
	}
	if other.Empty() {
		return p
	}
	parts := make([]Segment, 0, len(p.Parts)+len(other.Parts))
	parts = append(parts, p.Parts...)
	parts = append(parts, other.Parts...)
	return &Path{Parts: parts}
}

// Replace returns a copy of the path with the segment at i substituted.
func (p *Path) Replace(i int, seg Segment) *Path {
	parts := make([]Segment, len(p.Parts))
	copy(parts, p.Parts)
	parts[i] = seg
	return &Path{Parts: parts}
}

// Identity is an order-dependent hash of the rendered path, cached after
// the first call. Blank hashes to the FNV offset basis.
func (p *Path) Identity() uint64 {
	if p == nil {
		return emptyIdentity
	}
	if !p.haveID {
		h := fnv.New64a()
		h.Write([]byte(p.String()))
		p.id = h.Sum64()
		p.haveID = true
	}
	return p.id
}

var emptyIdentity = fnv.New64a().Sum64()

// String renders the path back to its source form. Parts join with dots,
// groups attach with brackets.
func (p *Path) String() string {
	if p.Empty() {
		return ""
	}
	var sb strings.Builder
	first := true
	for _, seg := range p.Parts {
		seg.writeTo(&sb, first)
		first = false
	}
	return sb.String()
}
