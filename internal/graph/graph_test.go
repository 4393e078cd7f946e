package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazygraph/lazygraph/internal/value"
)

func obj(pairs ...any) *value.Object {
	o := value.NewObject()
	for i := 0; i < len(pairs); i += 2 {
		o.Set(pairs[i].(string), pairs[i+1])
	}
	return o
}

func cartSchema() *value.Object {
	return obj(
		"type", "object",
		"properties", obj(
			"cart", obj(
				"type", "object",
				"properties", obj(
					"items", obj(
						"type", "array",
						"items", obj(
							"type", "object",
							"properties", obj(
								"name", obj("type", "string"),
								"price", obj("type", "number", "default", 1),
								"quantity", obj("type", "number", "default", 1),
								"total", obj("type", "number", "rule", "${price} * ${quantity}"),
							),
						),
					),
					"cart_total", obj("type", "number", "rule", obj(
						"inputs", []any{"items.total"},
						"calc", "sum(total)",
					)),
				),
			),
		),
	)
}

func TestBuild(t *testing.T) {
	t.Run("tree shape", func(t *testing.T) {
		g, err := Build(cartSchema())
		require.NoError(t, err)

		root := g.Root
		assert.Equal(t, "$", root.Path)
		assert.Equal(t, value.TypeObject, root.Type)

		cart, ok := root.Properties.Get("cart")
		require.True(t, ok)
		assert.Equal(t, "$.cart", cart.Path)
		assert.Equal(t, 1, cart.Depth)
		assert.Same(t, root, cart.Parent)
		assert.Same(t, root, cart.Root)

		items, ok := cart.Properties.Get("items")
		require.True(t, ok)
		assert.Equal(t, value.TypeArray, items.Type)
		require.NotNil(t, items.Items)
		assert.Equal(t, "$.cart.items[]", items.Items.Path)
		assert.Equal(t, 3, items.Items.Depth)
	})

	t.Run("property order preserved", func(t *testing.T) {
		g, err := Build(cartSchema())
		require.NoError(t, err)
		cart, _ := g.Root.Properties.Get("cart")
		items, _ := cart.Properties.Get("items")
		assert.Equal(t, []string{"name", "price", "quantity", "total"}, items.Items.Properties.Names())
	})

	t.Run("simple detection", func(t *testing.T) {
		g, err := Build(cartSchema())
		require.NoError(t, err)
		cart, _ := g.Root.Properties.Get("cart")
		elem, _ := cart.Properties.Get("items")
		name, _ := elem.Items.Properties.Get("name")
		price, _ := elem.Items.Properties.Get("price")
		total, _ := elem.Items.Properties.Get("total")

		assert.True(t, name.Simple)
		assert.False(t, price.Simple, "defaulted node is not simple")
		assert.False(t, total.Simple, "derived node is not simple")
		assert.True(t, total.Derived())
	})

	t.Run("pattern properties ordered", func(t *testing.T) {
		g, err := Build(obj(
			"type", "object",
			"patternProperties", obj(
				`^\d+$`, obj("type", "number"),
				`^x`, obj("type", "string"),
			),
		))
		require.NoError(t, err)
		require.Len(t, g.Root.PatternProps, 2)
		assert.Equal(t, `^\d+$`, g.Root.PatternProps[0].Regexp.String())
		assert.Equal(t, `^x`, g.Root.PatternProps[1].Regexp.String())
		assert.NotNil(t, g.Root.ChildFor("42"))
		assert.Equal(t, value.TypeNumber, g.Root.ChildFor("42").Type)
		assert.Equal(t, value.TypeString, g.Root.ChildFor("xyz").Type)
		assert.Nil(t, g.Root.ChildFor("other"))
	})

	t.Run("required marks presence validation", func(t *testing.T) {
		g, err := Build(obj(
			"type", "object",
			"properties", obj(
				"a", obj("type", "number"),
				"b", obj("type", "number"),
			),
			"required", []any{"b"},
		))
		require.NoError(t, err)
		a, _ := g.Root.Properties.Get("a")
		b, _ := g.Root.Properties.Get("b")
		assert.False(t, a.ValidatePresence)
		assert.True(t, b.ValidatePresence)
	})

	t.Run("unbindable rule input fails the build", func(t *testing.T) {
		_, err := Build(obj(
			"type", "object",
			"properties", obj(
				"a", obj("type", "number", "rule", "${nope}"),
			),
		))
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "nope")
	})

	t.Run("rule location surfaces in violations", func(t *testing.T) {
		_, err := Build(obj(
			"type", "object",
			"properties", obj(
				"a", obj(
					"type", "number",
					"rule", "${nope}",
					"rule_location", []any{"rules/cart.rules", 7},
				),
			),
		))
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
		assert.Contains(t, verr.Error(), "rules/cart.rules:7")
	})
}

func TestCompileRule(t *testing.T) {
	build := func(t *testing.T, schema *value.Object) *Graph {
		g, err := Build(schema)
		require.NoError(t, err)
		return g
	}

	t.Run("plain path is a copy rule", func(t *testing.T) {
		g := build(t, obj(
			"type", "object",
			"properties", obj(
				"a", obj("type", "number"),
				"b", obj("type", "number", "rule", "a"),
			),
		))
		b, _ := g.Root.Properties.Get("b")
		require.NotNil(t, b.Rule)
		assert.True(t, b.Rule.CopyInput)
		require.Len(t, b.Rule.Inputs, 1)
		assert.Equal(t, "a", b.Rule.Inputs[0].Path.String())
		assert.Equal(t, 0, b.Rule.Inputs[0].Up)
	})

	t.Run("template inputs and calc", func(t *testing.T) {
		g := build(t, cartSchema())
		cart, _ := g.Root.Properties.Get("cart")
		items, _ := cart.Properties.Get("items")
		total, _ := items.Items.Properties.Get("total")

		require.NotNil(t, total.Rule)
		assert.False(t, total.Rule.CopyInput)
		require.Len(t, total.Rule.Inputs, 2)
		assert.Equal(t, "price", total.Rule.Inputs[0].Name)
		assert.Equal(t, "quantity", total.Rule.Inputs[1].Name)
		assert.Equal(t, "${price} * ${quantity}", total.Rule.Src)
	})

	t.Run("list inputs mirror last segment", func(t *testing.T) {
		g := build(t, cartSchema())
		cart, _ := g.Root.Properties.Get("cart")
		ct, _ := cart.Properties.Get("cart_total")
		require.Len(t, ct.Rule.Inputs, 1)
		in := ct.Rule.Inputs[0]
		assert.Equal(t, "total", in.Name)
		assert.Equal(t, "items.total", in.Path.String())
		assert.Equal(t, 0, in.Up)
		require.NotNil(t, in.Target)
		assert.Equal(t, "$.cart.items[].total", in.Target.Path)
	})

	t.Run("absolute input anchors at root", func(t *testing.T) {
		g := build(t, obj(
			"type", "object",
			"properties", obj(
				"tax_rate", obj("type", "number"),
				"cart", obj(
					"type", "object",
					"properties", obj(
						"tax", obj("type", "number", "rule", "${$.tax_rate}"),
					),
				),
			),
		))
		cart, _ := g.Root.Properties.Get("cart")
		tax, _ := cart.Properties.Get("tax")
		in := tax.Rule.Inputs[0]
		assert.True(t, in.Absolute)
		assert.Equal(t, "tax_rate", in.Path.String())
		assert.Same(t, g.Root, in.Anchor)
	})

	t.Run("upward walk counts skipped frames", func(t *testing.T) {
		g := build(t, crewSchema())
		crew, _ := g.Root.Properties.Get("crew")
		position, _ := crew.Items.Properties.Get("position")
		require.NotNil(t, position.Rule)
		in := position.Rule.Inputs[0]
		// element object -> crew array -> root
		assert.Equal(t, 2, in.Up)
		require.Len(t, in.Dynamic, 1)
		assert.Equal(t, 1, in.Dynamic[0].Index)
		assert.Equal(t, "position_id", in.Dynamic[0].Input.Path.String())
		assert.Equal(t, 0, in.Dynamic[0].Input.Up)
	})

	t.Run("undeclared identifier in calc fails the build", func(t *testing.T) {
		_, err := Build(obj(
			"type", "object",
			"properties", obj(
				"a", obj("type", "number"),
				"b", obj("type", "number"),
				"c", obj("type", "number", "rule", obj(
					"inputs", []any{"a"},
					"calc", "a + b",
				)),
			),
		))
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("conditions must name inputs", func(t *testing.T) {
		_, err := Build(obj(
			"type", "object",
			"properties", obj(
				"mode", obj("type", "string"),
				"out", obj("type", "number", "rule", obj(
					"inputs", []any{"mode"},
					"calc", "1.0",
					"conditions", obj("other", "x"),
				)),
			),
		))
		var verr ValidationError
		require.ErrorAs(t, err, &verr)
	})

	t.Run("fixed literal rule", func(t *testing.T) {
		g := build(t, obj(
			"type", "object",
			"properties", obj(
				"answer", obj("type", "number", "rule", 42),
			),
		))
		answer, _ := g.Root.Properties.Get("answer")
		require.True(t, answer.Rule.HasFixed)
		out, err := answer.Rule.Invoke(nil)
		require.NoError(t, err)
		assert.Equal(t, 42, out)
	})

	t.Run("func rule with declared inputs", func(t *testing.T) {
		g := build(t, obj(
			"type", "object",
			"properties", obj(
				"a", obj("type", "number"),
				"double", obj("type", "number", "rule", Func{
					Inputs: []string{"a"},
					Src:    "a * 2",
					Fn: func(in map[string]any) (any, error) {
						return in["a"].(float64) * 2, nil
					},
				}),
			),
		))
		double, _ := g.Root.Properties.Get("double")
		out, err := double.Rule.Invoke(map[string]any{"a": 3.0})
		require.NoError(t, err)
		assert.Equal(t, 6.0, out)
	})
}

func crewSchema() *value.Object {
	return obj(
		"type", "object",
		"properties", obj(
			"positions", obj(
				"type", "object",
				"patternProperties", obj(
					`^\d+$`, obj(
						"type", "object",
						"properties", obj(
							"title", obj("type", "string"),
						),
					),
				),
			),
			"crew", obj(
				"type", "array",
				"items", obj(
					"type", "object",
					"properties", obj(
						"name", obj("type", "string"),
						"position_id", obj("type", "integer"),
						"position", obj("type", "object", "rule", "positions[position_id]"),
					),
				),
			),
		),
	)
}

func TestRuleInvoke(t *testing.T) {
	t.Run("cel calc", func(t *testing.T) {
		g, err := Build(cartSchema())
		require.NoError(t, err)
		cart, _ := g.Root.Properties.Get("cart")
		items, _ := cart.Properties.Get("items")
		total, _ := items.Items.Properties.Get("total")

		out, err := total.Rule.Invoke(map[string]any{"price": 5.0, "quantity": 2.0, "itself": nil})
		require.NoError(t, err)
		assert.Equal(t, 10.0, out)
	})

	t.Run("sum over list", func(t *testing.T) {
		g, err := Build(cartSchema())
		require.NoError(t, err)
		cart, _ := g.Root.Properties.Get("cart")
		ct, _ := cart.Properties.Get("cart_total")

		out, err := ct.Rule.Invoke(map[string]any{"total": []any{10.0, 1.0}, "itself": nil})
		require.NoError(t, err)
		assert.Equal(t, 11.0, out)
	})

	t.Run("condition met", func(t *testing.T) {
		cond := Condition{Name: "mode", Allowed: []any{"hsl", "rgb"}}
		assert.True(t, cond.Met("hsl"))
		assert.False(t, cond.Met("cmyk"))
		assert.False(t, cond.Met(value.None))
	})
}
