package schema

import (
	"fmt"

	json "github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/lazygraph/lazygraph/internal/value"
)

// engineKeywords are LazyGraph extensions stripped from the structural
// subset handed to the JSON Schema validator.
var engineKeywords = map[string]bool{
	"rule":              true,
	"rule_location":     true,
	"invisible":         true,
	"validate_presence": true,
}

// Structural extracts the structural subset of a schema document: engine
// keywords removed and extended scalar types mapped to the JSON Schema
// type validating their wire form.
func Structural(doc any) any {
	switch d := doc.(type) {
	case *value.Object:
		out := value.NewObject()
		for _, k := range d.Keys() {
			if engineKeywords[k] {
				continue
			}
			v, _ := d.Get(k)
			if k == "type" {
				if s, ok := v.(string); ok {
					v = structuralType(value.Type(s))
				}
				if v == nil {
					continue
				}
			}
			out.Set(k, Structural(v))
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(d))
		for k, v := range d {
			if engineKeywords[k] {
				continue
			}
			if k == "type" {
				if s, ok := v.(string); ok {
					v = structuralType(value.Type(s))
				}
				if v == nil {
					continue
				}
			}
			out[k] = Structural(v)
		}
		return out
	case []any:
		out := make([]any, len(d))
		for i, v := range d {
			out[i] = Structural(v)
		}
		return out
	}
	return doc
}

// structuralType maps a node type to the JSON Schema type(s) accepting
// its coercible wire forms.
func structuralType(t value.Type) any {
	switch t {
	case value.TypeDecimal:
		return []any{"number", "integer", "string"}
	case value.TypeTimestamp:
		return []any{"string", "number"}
	case value.TypeDate, value.TypeTime:
		return "string"
	case value.TypeConst:
		return nil
	}
	return string(t)
}

// Validator adapts a compiled JSON Schema to the engine's input
// validation hook.
type Validator struct {
	schema *jsonschema.Schema
}

// CompileValidator compiles the structural subset of doc into an input
// validator.
func CompileValidator(doc any) (*Validator, error) {
	data, err := json.Marshal(Structural(doc))
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	compiled, err := jsonschema.CompileString("schema.json", string(data))
	if err != nil {
		return nil, fmt.Errorf("schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Validate checks a decoded input document against the structural schema.
func (v *Validator) Validate(doc any) error {
	return v.schema.Validate(doc)
}
