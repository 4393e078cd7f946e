package pathexpr

import (
	"fmt"
	"strings"
)

// ParseError reports a malformed path string.
type ParseError struct {
	Input  string
	Pos    int
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("path %q: %s at offset %d", e.Input, e.Reason, e.Pos)
}

// Parse parses a query or dependency path. When stripRoot is true a leading
// "$." is removed before parsing so the result is always relative.
func Parse(input string, stripRoot bool) (*Path, error) {
	if stripRoot {
		input = strings.TrimPrefix(input, RootMarker+".")
	}
	if input == "" {
		return Blank, nil
	}
	p := &parser{input: input}
	path, err := p.parsePath(0)
	if err != nil {
		return nil, err
	}
	if p.pos != len(input) {
		return nil, p.errorf("unexpected %q", input[p.pos])
	}
	return path, nil
}

// MustParse is Parse for statically known paths; it panics on error.
func MustParse(input string) *Path {
	p, err := Parse(input, false)
	if err != nil {
		panic(err)
	}
	return p
}

type parser struct {
	input string
	pos   int
}

func (p *parser) errorf(format string, args ...any) *ParseError {
	return &ParseError{Input: p.input, Pos: p.pos, Reason: fmt.Sprintf(format, args...)}
}

// parsePath consumes segments until end of input, an unbalanced close
// bracket, or (inside a group) a comma at the current depth.
func (p *parser) parsePath(depth int) (*Path, error) {
	var parts []Segment
	expectDot := false
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		switch {
		case c == ']' || c == ',':
			if depth == 0 {
				if c == ']' {
					return nil, p.errorf("unbalanced ']'")
				}
				return nil, p.errorf("unexpected ','")
			}
			return &Path{Parts: parts}, nil
		case c == '[':
			grp, err := p.parseGroup(depth)
			if err != nil {
				return nil, err
			}
			parts = append(parts, grp)
			expectDot = true
		case c == '.':
			if !expectDot {
				return nil, p.errorf("unexpected '.'")
			}
			p.pos++
			expectDot = false
		default:
			if expectDot {
				return nil, p.errorf("expected '.' or '['")
			}
			seg, err := p.parseSegment()
			if err != nil {
				return nil, err
			}
			parts = append(parts, seg)
			expectDot = true
		}
	}
	if !expectDot && len(parts) > 0 {
		return nil, p.errorf("trailing '.'")
	}
	return &Path{Parts: parts}, nil
}

// parseSegment reads one ident/integer, promoting it to a Range when the
// ".." or "..." operator follows.
func (p *parser) parseSegment() (Segment, error) {
	lo := p.readSymbol()
	if lo == "" {
		return nil, p.errorf("empty segment")
	}
	if op := p.peekRangeOp(); op > 0 {
		p.pos += op
		hi := p.readSymbol()
		if hi == "" {
			return nil, p.errorf("range missing upper bound")
		}
		return Range{Lo: lo, Hi: hi, ExcludeEnd: op == 3}, nil
	}
	return NewPart(lo), nil
}

// peekRangeOp reports the length of a range operator at the cursor: 3 for
// "...", 2 for "..", 0 otherwise. A single dot is a segment separator.
func (p *parser) peekRangeOp() int {
	rest := p.input[p.pos:]
	if strings.HasPrefix(rest, "...") {
		return 3
	}
	if strings.HasPrefix(rest, "..") {
		return 2
	}
	return 0
}

func (p *parser) readSymbol() string {
	start := p.pos
	for p.pos < len(p.input) {
		c := p.input[p.pos]
		if c == '.' || c == '[' || c == ']' || c == ',' {
			break
		}
		p.pos++
	}
	return p.input[start:p.pos]
}

func (p *parser) parseGroup(depth int) (Segment, error) {
	p.pos++ // consume '['
	var opts []*Path
	for {
		elem, err := p.parsePath(depth + 1)
		if err != nil {
			return nil, err
		}
		opts = append(opts, elem)
		if p.pos >= len(p.input) {
			return nil, p.errorf("unbalanced '['")
		}
		if p.input[p.pos] == ',' {
			p.pos++
			continue
		}
		break
	}
	p.pos++ // consume ']'
	// A single range option spreads its elements into the group.
	if len(opts) == 1 && len(opts[0].Parts) == 1 {
		if r, ok := opts[0].Parts[0].(Range); ok {
			return Group{Options: r.Expand()}, nil
		}
	}
	return Group{Options: opts}, nil
}
