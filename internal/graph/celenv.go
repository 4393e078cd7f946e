package graph

import (
	"fmt"
	"reflect"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/common/types/traits"
	"github.com/google/cel-go/ext"
)

// compileCalc compiles a calc expression in an environment declaring
// exactly the rule's input names plus itself. An undeclared identifier
// fails compilation, so a calc cannot read nodes outside its input list.
func compileCalc(src string, inputs []string) (cel.Program, error) {
	opts := []cel.EnvOption{
		ext.Strings(),
		ext.Math(),
		sumFunction(),
		cel.Variable("itself", cel.DynType),
	}
	for _, name := range inputs {
		opts = append(opts, cel.Variable(name, cel.DynType))
	}
	env, err := cel.NewEnv(opts...)
	if err != nil {
		return nil, err
	}
	ast, issues := env.Compile(src)
	if issues != nil && issues.Err() != nil {
		return nil, issues.Err()
	}
	prog, err := env.Program(ast)
	if err != nil {
		return nil, err
	}
	return prog, nil
}

// sumFunction adds sum(list) over numeric elements. Missing elements of a
// list input reach the calc as null; sum rejects those, like any other
// non-numeric element, with an error.
func sumFunction() cel.EnvOption {
	return cel.Function("sum",
		cel.Overload("sum_list", []*cel.Type{cel.ListType(cel.DynType)}, cel.DoubleType,
			cel.UnaryBinding(func(val ref.Val) ref.Val {
				lister, ok := val.(traits.Lister)
				if !ok {
					return types.NewErr("sum: expected list, got %v", val.Type())
				}
				total := 0.0
				for it := lister.Iterator(); it.HasNext() == types.True; {
					switch elem := it.Next().Value().(type) {
					case float64:
						total += elem
					case int64:
						total += float64(elem)
					case uint64:
						total += float64(elem)
					default:
						return types.NewErr("sum: non-numeric element %T", elem)
					}
				}
				return types.Double(total)
			})))
}

var (
	anyMapType  = reflect.TypeOf(map[string]any{})
	anyListType = reflect.TypeOf([]any{})
)

// nativeValue converts a CEL result to a plain Go value.
func nativeValue(v ref.Val) (any, error) {
	switch v.(type) {
	case traits.Mapper:
		native, err := v.ConvertToNative(anyMapType)
		if err != nil {
			return nil, fmt.Errorf("convert map result: %w", err)
		}
		return native, nil
	case traits.Lister:
		native, err := v.ConvertToNative(anyListType)
		if err != nil {
			return nil, fmt.Errorf("convert list result: %w", err)
		}
		return native, nil
	case types.Null:
		return nil, nil
	}
	return v.Value(), nil
}
