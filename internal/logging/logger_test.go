package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactMasksSensitiveKeys(t *testing.T) {
	args := map[string]interface{}{
		"apiKey": "sk-abc123",
		"query":  "hello world",
	}
	redacted := Redact(args)
	assert.Equal(t, "***redacted***", redacted["apiKey"])
	assert.Equal(t, "hello world", redacted["query"])
}

func TestRedactRecursesIntoNestedMaps(t *testing.T) {
	args := map[string]interface{}{
		"outer": map[string]interface{}{
			"password": "hunter2",
			"name":     "ok",
		},
	}
	redacted := Redact(args)
	nested := redacted["outer"].(map[string]interface{})
	assert.Equal(t, "***redacted***", nested["password"])
	assert.Equal(t, "ok", nested["name"])
}

func TestRedactNilIsNil(t *testing.T) {
	assert.Nil(t, Redact(nil))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, DEBUG, ParseLevel("debug"))
	assert.Equal(t, WARN, ParseLevel("warn"))
	assert.Equal(t, WARN, ParseLevel("warning"))
	assert.Equal(t, ERROR, ParseLevel("error"))
	assert.Equal(t, INFO, ParseLevel("unknown"))
	assert.Equal(t, INFO, ParseLevel(""))
}
