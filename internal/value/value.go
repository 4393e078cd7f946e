package value

import (
	"fmt"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/apd/v3"
)

// Type is a schema node's declared type.
type Type string

const (
	TypeObject  Type = "object"
	TypeArray   Type = "array"
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeNull    Type = "null"
	TypeConst   Type = "const"

	// Extended scalar types beyond JSON Schema.
	TypeDecimal   Type = "decimal"
	TypeDate      Type = "date"
	TypeTime      Type = "time"
	TypeTimestamp Type = "timestamp"
)

// Container reports whether the type holds child values.
func (t Type) Container() bool { return t == TypeObject || t == TypeArray }

// Extended reports whether the type needs coercion beyond structural
// validation.
func (t Type) Extended() bool {
	switch t {
	case TypeDecimal, TypeDate, TypeTime, TypeTimestamp, TypeBoolean:
		return true
	}
	return false
}

// StructuralBase maps extended types to the JSON Schema type validating
// their wire form.
func (t Type) StructuralBase() Type {
	switch t {
	case TypeDecimal:
		return TypeNumber
	case TypeDate, TypeTime, TypeTimestamp:
		return TypeString
	}
	return t
}

var (
	decimalPattern = regexp.MustCompile(`^-?(\d+(\.\d+)?(e[+-]?\d+)?)$`)
	timePattern    = regexp.MustCompile(`^\d{2}:\d{2}(:\d{2})?$`)
)

// Coerce converts v to the representation of type t. Missing passes
// through untouched except for boolean, where it coerces to false. A
// value that cannot be coerced is returned as a Missing carrying the
// reason, never as an error: the engine treats bad scalars as absent.
func Coerce(t Type, v any) any {
	if m, ok := v.(*Missing); ok {
		if t == TypeBoolean {
			return false
		}
		return m
	}
	switch t {
	case TypeDecimal:
		return coerceDecimal(v)
	case TypeDate:
		return coerceDate(v)
	case TypeTimestamp:
		return coerceTimestamp(v)
	case TypeTime:
		return coerceTime(v)
	case TypeBoolean:
		return Truthy(v)
	case TypeString:
		return ToString(v)
	}
	return v
}

func coerceDecimal(v any) any {
	switch x := v.(type) {
	case *apd.Decimal:
		return x
	case string:
		if !decimalPattern.MatchString(x) {
			return NewMissing(fmt.Sprintf("not a decimal: %q", x))
		}
		d, _, err := apd.NewFromString(x)
		if err != nil {
			return NewMissing(fmt.Sprintf("not a decimal: %q", x))
		}
		return d
	case int:
		return apd.New(int64(x), 0)
	case int64:
		return apd.New(x, 0)
	case float64:
		d := new(apd.Decimal)
		if _, err := d.SetFloat64(x); err != nil {
			return NewMissing(fmt.Sprintf("not a decimal: %v", x))
		}
		return d
	}
	return NewMissing(fmt.Sprintf("not a decimal: %T", v))
}

func coerceDate(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		d, err := time.Parse("2006-01-02", x)
		if err != nil {
			return NewMissing(fmt.Sprintf("not a date: %q", x))
		}
		return d
	}
	return NewMissing(fmt.Sprintf("not a date: %T", v))
}

var timestampLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func coerceTimestamp(v any) any {
	switch x := v.(type) {
	case time.Time:
		return x
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, x); err == nil {
				return ts
			}
		}
		return NewMissing(fmt.Sprintf("not a timestamp: %q", x))
	case int:
		return time.Unix(int64(x), 0).UTC()
	case int64:
		return time.Unix(x, 0).UTC()
	case float64:
		return time.Unix(int64(x), 0).UTC()
	}
	return NewMissing(fmt.Sprintf("not a timestamp: %T", v))
}

func coerceTime(v any) any {
	s, ok := v.(string)
	if !ok || !timePattern.MatchString(s) {
		return NewMissing(fmt.Sprintf("not a time: %v", v))
	}
	return s
}

// Truthy applies the engine's truthiness rule: nil, false and Missing are
// false, everything else is true.
func Truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case *Missing:
		return false
	}
	return true
}

// ToString renders any scalar as a string. An explicit null stays absent
// rather than rendering as a Go-formatted string.
func ToString(v any) any {
	switch x := v.(type) {
	case nil:
		return None
	case *Missing:
		return x
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339)
	case *apd.Decimal:
		return x.String()
	}
	return fmt.Sprintf("%v", v)
}

// ToFloat converts numeric scalars to float64; Missing maps to 0.
func ToFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case *apd.Decimal:
		f, err := x.Float64()
		return f, err == nil
	case *Missing:
		return 0, true
	}
	return 0, false
}

// Normalize flattens engine-internal scalar representations to plain Go
// values suitable for calc activation and JSON output. Decimals become
// float64, instants stay time.Time.
func Normalize(v any) any {
	switch x := v.(type) {
	case *apd.Decimal:
		f, err := x.Float64()
		if err != nil {
			return x.String()
		}
		return f
	}
	return v
}

// Equal compares two scalar values for condition gating, normalizing
// numeric representations first. Missing equals nil.
func Equal(a, b any) bool {
	if IsMissing(a) {
		return b == nil || IsMissing(b)
	}
	if IsMissing(b) {
		return a == nil
	}
	if fa, ok := ToFloat(a); ok {
		if fb, ok2 := ToFloat(b); ok2 {
			return fa == fb
		}
		return false
	}
	return a == b
}
