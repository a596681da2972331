package structured

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"
)

// ValidationError is the terminal rejection of a structured-output value. It
// names the offending path so callers can point at the field.
type ValidationError struct {
	Path    string
	Message string
	Causes  []string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("structured output invalid at %s: %s", e.Path, e.Message)
	}
	return fmt.Sprintf("structured output invalid: %s", e.Message)
}

// Validator checks candidate values against the caller-declared JSON schema.
// It keeps two compiled forms: the full schema for final validation, and a
// relaxed variant for partial snapshots, where required properties may still
// be missing but unknown properties and type mismatches already disqualify
// the snapshot.
type Validator struct {
	full    *gojsonschema.Schema
	partial *gojsonschema.Schema
}

func NewValidator(schema map[string]any) (*Validator, error) {
	full, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
	if err != nil {
		return nil, errors.Wrap(err, "compile schema")
	}
	partial, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(relaxSchema(schema)))
	if err != nil {
		return nil, errors.Wrap(err, "compile partial schema")
	}
	return &Validator{full: full, partial: partial}, nil
}

// ValidateFinal checks the fully reconstructed document against the declared
// schema and returns a ValidationError naming the first offending path.
func (v *Validator) ValidateFinal(doc string) error {
	res, err := v.full.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return errors.Wrap(err, "validate structured output")
	}
	if res.Valid() {
		return nil
	}
	return resultError(res)
}

// ValidatePartial reports whether a snapshot is still on track to satisfy the
// schema once complete.
func (v *Validator) ValidatePartial(doc string) bool {
	res, err := v.partial.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return false
	}
	return res.Valid()
}

func resultError(res *gojsonschema.Result) error {
	errs := res.Errors()
	if len(errs) == 0 {
		return &ValidationError{Message: "schema validation failed"}
	}
	first := errs[0]
	for _, e := range errs {
		if e.Type() == "required" {
			first = e
			break
		}
	}
	path := first.Field()
	// Required-property failures report the parent as the field; point at
	// the missing property itself instead.
	if prop, ok := first.Details()["property"].(string); ok && prop != "" {
		if path == "(root)" {
			path = prop
		} else {
			path = path + "." + prop
		}
	} else if path == "(root)" {
		path = ""
	}
	causes := make([]string, 0, len(errs))
	for _, e := range errs {
		causes = append(causes, e.String())
	}
	return &ValidationError{Path: path, Message: first.Description(), Causes: causes}
}

// relaxSchema deep-copies a schema for partial validation: every "required"
// list is dropped, and objects that declare properties reject unknown keys so
// a snapshot growing the wrong shape is caught early.
func relaxSchema(node map[string]any) map[string]any {
	out := make(map[string]any, len(node))
	for k, v := range node {
		if k == "required" {
			continue
		}
		out[k] = relaxValue(k, v)
	}
	if _, hasProps := out["properties"]; hasProps {
		if _, set := out["additionalProperties"]; !set {
			out["additionalProperties"] = false
		}
	}
	return out
}

func relaxValue(key string, v any) any {
	switch val := v.(type) {
	case map[string]any:
		if key == "properties" || key == "$defs" || key == "definitions" || key == "patternProperties" {
			// Children are schemas keyed by property name; the names
			// themselves must not be treated as keywords.
			out := make(map[string]any, len(val))
			for name, sub := range val {
				if m, ok := sub.(map[string]any); ok {
					out[name] = relaxSchema(m)
				} else {
					out[name] = sub
				}
			}
			return out
		}
		return relaxSchema(val)
	case []any:
		if key != "enum" && key != "examples" {
			out := make([]any, len(val))
			for i, sub := range val {
				if m, ok := sub.(map[string]any); ok {
					out[i] = relaxSchema(m)
				} else {
					out[i] = sub
				}
			}
			return out
		}
		return val
	default:
		return v
	}
}
