package toolregistry

import (
	"fmt"

	"github.com/aoma-mesh/mcp-server/internal/errs"
)

// Validate checks args against a narrow subset of JSON Schema: presence
// of required fields, string enums, and the top-level string, number,
// integer, array and boolean types of present properties (array members
// are not checked). It intentionally implements only what the tool
// descriptors in this package use, not a general-purpose schema validator.
func Validate(schema map[string]interface{}, args map[string]interface{}) []errs.FieldError {
	if schema == nil {
		return nil
	}
	var out []errs.FieldError

	required, _ := schema["required"].([]string)
	for _, field := range required {
		if _, ok := args[field]; !ok {
			out = append(out, errs.FieldError{Path: field, Message: "required field missing"})
		}
	}

	props, _ := schema["properties"].(map[string]interface{})
	for name, rawSpec := range props {
		spec, ok := rawSpec.(map[string]interface{})
		if !ok {
			continue
		}
		value, present := args[name]
		if !present {
			continue
		}
		if enumErr := validateEnum(name, spec, value); enumErr != nil {
			out = append(out, *enumErr)
		}
		if typeErr := validateType(name, spec, value); typeErr != nil {
			out = append(out, *typeErr)
		}
	}
	return out
}

func validateEnum(field string, spec map[string]interface{}, value interface{}) *errs.FieldError {
	enum, ok := spec["enum"].([]string)
	if !ok || len(enum) == 0 {
		return nil
	}
	str, ok := value.(string)
	if !ok {
		return nil
	}
	for _, allowed := range enum {
		if str == allowed {
			return nil
		}
	}
	return &errs.FieldError{Path: field, Message: fmt.Sprintf("value %q is not one of %v", str, enum)}
}

func validateType(field string, spec map[string]interface{}, value interface{}) *errs.FieldError {
	expected, _ := spec["type"].(string)
	switch expected {
	case "string":
		if _, ok := value.(string); !ok {
			return &errs.FieldError{Path: field, Message: "expected a string"}
		}
	case "number", "integer":
		switch value.(type) {
		case float64, int, int64:
		default:
			return &errs.FieldError{Path: field, Message: "expected a number"}
		}
	case "array":
		if _, ok := value.([]interface{}); !ok {
			if _, ok := value.([]string); !ok {
				return &errs.FieldError{Path: field, Message: "expected an array"}
			}
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return &errs.FieldError{Path: field, Message: "expected a boolean"}
		}
	}
	return nil
}
