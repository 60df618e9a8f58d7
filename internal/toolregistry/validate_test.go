package toolregistry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func querySchema() map[string]interface{} {
	return map[string]interface{}{
		"required": []string{"query"},
		"properties": map[string]interface{}{
			"query":    map[string]interface{}{"type": "string"},
			"strategy": map[string]interface{}{"type": "string", "enum": []string{"comprehensive", "focused", "rapid"}},
			"tags":     map[string]interface{}{"type": "array"},
		},
	}
}

func TestValidateRequiresMissingField(t *testing.T) {
	errs := Validate(querySchema(), map[string]interface{}{})
	assert.Len(t, errs, 1)
	assert.Equal(t, "query", errs[0].Path)
}

func TestValidatePassesWithRequiredField(t *testing.T) {
	errs := Validate(querySchema(), map[string]interface{}{"query": "hello"})
	assert.Empty(t, errs)
}

func TestValidateRejectsBadEnum(t *testing.T) {
	errs := Validate(querySchema(), map[string]interface{}{"query": "hi", "strategy": "bogus"})
	assert.NotEmpty(t, errs)
}

func TestValidateAcceptsGoodEnum(t *testing.T) {
	errs := Validate(querySchema(), map[string]interface{}{"query": "hi", "strategy": "rapid"})
	assert.Empty(t, errs)
}

func TestValidateRejectsWrongType(t *testing.T) {
	errs := Validate(querySchema(), map[string]interface{}{"query": 123})
	assert.NotEmpty(t, errs)
}

func TestValidateNilSchemaAllowsAnything(t *testing.T) {
	assert.Empty(t, Validate(nil, map[string]interface{}{"anything": "goes"}))
}
