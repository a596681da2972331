package tools

import (
	"context"
	"encoding/json"
	"reflect"

	"github.com/invopop/jsonschema"
	"github.com/pkg/errors"

	"github.com/go-go-golems/stromboli/pkg/inference/engine"
)

// ToolDefinition describes a tool the model may call. Function may be nil
// for tools that are declared to the model but resolved outside the process
// (their calls end up awaiting approval instead of executing).
type ToolDefinition struct {
	Name        string             `json:"name"`
	Description string             `json:"description"`
	Parameters  *jsonschema.Schema `json:"parameters"`
	Function    *ToolFunc          `json:"-"`

	// ToModelOutput reshapes the result for the next model request only;
	// the externally observable tool result stays the raw value.
	ToModelOutput func(result any) any `json:"-"`

	Tags    []string `json:"tags,omitempty"`
	Version string   `json:"version,omitempty"`
}

// Declaration renders the model-facing view of the tool.
func (d *ToolDefinition) Declaration() engine.ToolDeclaration {
	return engine.ToolDeclaration{
		Name:        d.Name,
		Description: d.Description,
		Parameters:  d.Parameters,
	}
}

// ModelOutput applies the declared output transform, if any.
func (d *ToolDefinition) ModelOutput(result any) any {
	if d.ToModelOutput == nil {
		return result
	}
	return d.ToModelOutput(result)
}

// ToolFunc wraps a Go function as a tool handler with a pre-compiled
// executor.
type ToolFunc struct {
	fn       any
	call     func(context.Context, []byte) (any, error)
	inputTyp reflect.Type
}

var ctxType = reflect.TypeOf((*context.Context)(nil)).Elem()

// NewToolFromFunc builds a ToolDefinition from a Go function. Supported
// signatures:
//
//	func(Input) (Result, error)
//	func(context.Context, Input) (Result, error)
//	func(context.Context) (Result, error)
//	func() (Result, error)
//
// The trailing error is optional. Input must be a struct; its JSON schema is
// reflected into the tool's parameter schema.
func NewToolFromFunc(name, description string, fn any) (*ToolDefinition, error) {
	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil, errors.New("provided value is not a function")
	}
	if t.NumOut() == 0 || t.NumOut() > 2 {
		return nil, errors.New("tool function must return (result) or (result, error)")
	}
	if t.NumOut() == 2 && !t.Out(1).Implements(reflect.TypeOf((*error)(nil)).Elem()) {
		return nil, errors.New("second return value must be an error")
	}

	inputTyp, err := inputTypeOf(t)
	if err != nil {
		return nil, err
	}

	schema, err := schemaFor(inputTyp)
	if err != nil {
		return nil, errors.Wrapf(err, "generate schema for tool %s", name)
	}

	return &ToolDefinition{
		Name:        name,
		Description: description,
		Parameters:  schema,
		Function: &ToolFunc{
			fn:       fn,
			call:     compileCall(fn, t, inputTyp),
			inputTyp: inputTyp,
		},
	}, nil
}

// Invoke runs the handler with the raw JSON arguments.
func (tf *ToolFunc) Invoke(ctx context.Context, args []byte) (any, error) {
	if tf == nil || tf.call == nil {
		return nil, errors.New("tool function not initialized")
	}
	return tf.call(ctx, args)
}

func inputTypeOf(t reflect.Type) (reflect.Type, error) {
	switch t.NumIn() {
	case 0:
		return nil, nil
	case 1:
		if t.In(0) == ctxType {
			return nil, nil
		}
		return t.In(0), nil
	case 2:
		if t.In(0) != ctxType {
			return nil, errors.New("two-arg tool function must be (context.Context, Input)")
		}
		return t.In(1), nil
	default:
		return nil, errors.New("tool function takes at most (context.Context, Input)")
	}
}

func schemaFor(inputTyp reflect.Type) (*jsonschema.Schema, error) {
	if inputTyp == nil {
		return &jsonschema.Schema{Type: "object"}, nil
	}
	instance := reflect.New(inputTyp).Elem().Interface()
	reflector := jsonschema.Reflector{
		// Inline definitions; providers do not resolve $refs.
		DoNotReference: true,
	}
	schema := reflector.Reflect(instance)
	if schema.Type == "" && schema.Ref == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func compileCall(fn any, t reflect.Type, inputTyp reflect.Type) func(context.Context, []byte) (any, error) {
	fv := reflect.ValueOf(fn)
	wantsCtx := t.NumIn() > 0 && t.In(0) == ctxType

	return func(ctx context.Context, args []byte) (any, error) {
		in := make([]reflect.Value, 0, 2)
		if wantsCtx {
			in = append(in, reflect.ValueOf(ctx))
		}
		if inputTyp != nil {
			input := reflect.New(inputTyp)
			if len(args) > 0 {
				if err := json.Unmarshal(args, input.Interface()); err != nil {
					return nil, errors.Wrap(err, "unmarshal tool arguments")
				}
			}
			in = append(in, input.Elem())
		}
		return extractResults(fv.Call(in))
	}
}

func extractResults(results []reflect.Value) (any, error) {
	switch len(results) {
	case 1:
		return results[0].Interface(), nil
	case 2:
		result := results[0].Interface()
		if errIface := results[1].Interface(); errIface != nil {
			if err, ok := errIface.(error); ok {
				return result, err
			}
			return result, errors.Errorf("unexpected error type %T", errIface)
		}
		return result, nil
	default:
		return nil, errors.Errorf("unexpected number of return values: %d", len(results))
	}
}
