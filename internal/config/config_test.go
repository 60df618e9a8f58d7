package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func validEnv() *Environment {
	return &Environment{
		LLMAPIKey:     "sk-0123456789abcdef0123",
		AssistantID:   "asst_abc123",
		VectorStoreID: "vs_abc123",
		DBURL:         "postgres://localhost/db",
		DBServiceKey:  "service-key-0123456789",
		DBAnonKey:     "anon-key-0123456789abc",
		Timeout:       30 * time.Second,
		MaxRetries:    3,
	}
}

func TestValidateAcceptsWellFormedEnvironment(t *testing.T) {
	assert.Empty(t, Validate(validEnv()))
}

func TestValidateRejectsShortAPIKey(t *testing.T) {
	env := validEnv()
	env.LLMAPIKey = "short"
	errs := Validate(env)
	assert.NotEmpty(t, errs)
	assert.Equal(t, "LLM_API_KEY", errs[0].Field)
}

func TestValidateRejectsBadAssistantPrefix(t *testing.T) {
	env := validEnv()
	env.AssistantID = "wrong_prefix"
	errs := Validate(env)
	found := false
	for _, e := range errs {
		if e.Field == "ASSISTANT_ID" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestValidateAllowsEmptyVectorStoreID(t *testing.T) {
	env := validEnv()
	env.VectorStoreID = ""
	assert.Empty(t, Validate(env))
}

func TestValidateRejectsBadVectorStorePrefixWhenPresent(t *testing.T) {
	env := validEnv()
	env.VectorStoreID = "nope"
	errs := Validate(env)
	assert.NotEmpty(t, errs)
}

func TestValidateRejectsOutOfRangeTimeout(t *testing.T) {
	env := validEnv()
	env.Timeout = time.Second
	errs := Validate(env)
	assert.NotEmpty(t, errs)

	env2 := validEnv()
	env2.Timeout = 301 * time.Second
	assert.NotEmpty(t, Validate(env2))
}

func TestValidateRejectsOutOfRangeRetries(t *testing.T) {
	env := validEnv()
	env.MaxRetries = 0
	assert.NotEmpty(t, Validate(env))

	env2 := validEnv()
	env2.MaxRetries = 11
	assert.NotEmpty(t, Validate(env2))
}

func TestDiffReportListsEveryField(t *testing.T) {
	env := validEnv()
	env.LLMAPIKey = ""
	env.DBURL = ""
	report := DiffReport(Validate(env))
	assert.Contains(t, report, "LLM_API_KEY")
	assert.Contains(t, report, "DB_URL")
}

func TestParsePortDefaultsOnInvalid(t *testing.T) {
	assert.Equal(t, 8080, ParsePort("", 8080))
	assert.Equal(t, 8080, ParsePort("not-a-number", 8080))
	assert.Equal(t, 9090, ParsePort("9090", 8080))
}
