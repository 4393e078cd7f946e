package pathexpr

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Run("dotted parts", func(t *testing.T) {
		p, err := Parse("a.b.c", false)
		require.NoError(t, err)
		require.Len(t, p.Parts, 3)
		assert.Equal(t, "a", p.Parts[0].(Part).Name)
		assert.Equal(t, "c", p.Parts[2].(Part).Name)
		assert.False(t, p.Parts[0].IsIndex())
	})

	t.Run("integer part is index", func(t *testing.T) {
		p, err := Parse("items.3", false)
		require.NoError(t, err)
		part := p.Parts[1].(Part)
		assert.True(t, part.IsIndex())
		assert.Equal(t, 3, part.Num)
	})

	t.Run("group", func(t *testing.T) {
		p, err := Parse("books[name,is_long]", false)
		require.NoError(t, err)
		require.Len(t, p.Parts, 2)
		grp := p.Parts[1].(Group)
		require.Len(t, grp.Options, 2)
		assert.Equal(t, "name", grp.Options[0].String())
		assert.Equal(t, "is_long", grp.Options[1].String())
		assert.False(t, grp.IsIndex())
	})

	t.Run("group continues with dot", func(t *testing.T) {
		p, err := Parse("a[b,c].d", false)
		require.NoError(t, err)
		require.Len(t, p.Parts, 3)
		assert.Equal(t, "d", p.Parts[2].(Part).Name)
	})

	t.Run("nested group", func(t *testing.T) {
		p, err := Parse("a[b[c,d],e]", false)
		require.NoError(t, err)
		grp := p.Parts[1].(Group)
		require.Len(t, grp.Options, 2)
		inner := grp.Options[0].Parts[1].(Group)
		require.Len(t, inner.Options, 2)
	})

	t.Run("index group", func(t *testing.T) {
		p, err := Parse("items[0,2]", false)
		require.NoError(t, err)
		assert.True(t, p.Parts[1].(Group).IsIndex())
	})

	t.Run("range inclusive", func(t *testing.T) {
		p, err := Parse("items[1..3]", false)
		require.NoError(t, err)
		grp := p.Parts[1].(Group)
		require.Len(t, grp.Options, 3)
		assert.Equal(t, "1", grp.Options[0].String())
		assert.Equal(t, "3", grp.Options[2].String())
	})

	t.Run("range exclusive", func(t *testing.T) {
		p, err := Parse("items[1...3]", false)
		require.NoError(t, err)
		require.Len(t, p.Parts[1].(Group).Options, 2)
	})

	t.Run("bare range segment", func(t *testing.T) {
		p, err := Parse("a.1..3", false)
		require.NoError(t, err)
		r, ok := p.Parts[1].(Range)
		require.True(t, ok)
		assert.Equal(t, "1", r.Lo)
		assert.Equal(t, "3", r.Hi)
		assert.True(t, r.IsIndex())
		assert.Len(t, r.Expand(), 3)
	})

	t.Run("empty input is Blank", func(t *testing.T) {
		p, err := Parse("", false)
		require.NoError(t, err)
		assert.True(t, p.Empty())
	})

	t.Run("strip root", func(t *testing.T) {
		p, err := Parse("$.a.b", true)
		require.NoError(t, err)
		assert.Equal(t, "a.b", p.String())
		assert.False(t, p.Absolute())
	})

	t.Run("absolute without strip", func(t *testing.T) {
		p, err := Parse("$.a", false)
		require.NoError(t, err)
		assert.True(t, p.Absolute())
		assert.Equal(t, "a", p.StripRoot().String())
	})

	t.Run("unbalanced brackets", func(t *testing.T) {
		_, err := Parse("a[b", false)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)

		_, err = Parse("a]b", false)
		require.ErrorAs(t, err, &perr)
	})

	t.Run("stray comma", func(t *testing.T) {
		_, err := Parse("a,b", false)
		var perr *ParseError
		require.ErrorAs(t, err, &perr)
	})
}

func TestPathOps(t *testing.T) {
	t.Run("next shares tail", func(t *testing.T) {
		p := MustParse("a.b.c")
		n := p.Next()
		assert.Equal(t, "b.c", n.String())
		assert.Equal(t, "c", n.Next().String())
		assert.True(t, n.Next().Next().Empty())
	})

	t.Run("merge", func(t *testing.T) {
		p := MustParse("a.b").Merge(MustParse("c"))
		assert.Equal(t, "a.b.c", p.String())
		assert.Equal(t, "x", Blank.Merge(MustParse("x")).String())
	})

	t.Run("identity stable and order dependent", func(t *testing.T) {
		assert.Equal(t, MustParse("a.b").Identity(), MustParse("a.b").Identity())
		assert.NotEqual(t, MustParse("a.b").Identity(), MustParse("b.a").Identity())
	})

	t.Run("replace", func(t *testing.T) {
		p := MustParse("positions[position_id]")
		q := p.Replace(1, IndexPart(1))
		assert.Equal(t, "positions.1", q.String())
		assert.Equal(t, "positions[position_id]", p.String())
	})
}

// parse(render(path)) == path for paths of Parts and single-option groups.
func TestRenderRoundTrip(t *testing.T) {
	for _, src := range []string{
		"a",
		"a.b.c",
		"a.0.b",
		"a[b]",
		"a[b].c",
		"a[b,c]",
		"books[name,is_long]",
		"a[b[c],d]",
	} {
		p := MustParse(src)
		again := MustParse(p.String())
		assert.Equal(t, p.String(), again.String(), "round trip for %q", src)
		assert.Equal(t, p.Identity(), again.Identity())
	}
}
