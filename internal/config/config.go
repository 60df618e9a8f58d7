// Package config validates the server's environment against a fixed
// schema and produces the immutable Environment every other package reads
// from (spec §3, §4.1).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ValidationError mirrors the teacher's ConfigValidator error shape: a
// field, the offending value, and a human-readable message.
type ValidationError struct {
	Field   string      `json:"field"`
	Value   interface{} `json:"value"`
	Message string      `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Environment is the immutable, validated configuration every client and
// handler reads from. It is constructed once at startup.
type Environment struct {
	LLMAPIKey      string
	AssistantID    string
	VectorStoreID  string // optional, "vs_" prefixed when present
	DBURL          string
	DBServiceKey   string
	DBAnonKey      string
	JiraBaseURL    string
	MaxRetries     int
	Timeout        time.Duration
	LogLevel       string
	HTTPPort       int
	HealthInterval time.Duration
	TracingProject string
	TracingKey     string
	TracingEndpoint string
	BuildVersion   string // base version + appended build tag
	Production     bool
}

const workspaceMarker = "go.mod"

// Load resolves environment variables per the documented precedence:
// process env → ./.env (package dir) → .env.local discovered by walking
// upward for a workspace marker. The last loader to set a key loses —
// process env always wins because godotenv.Load never overwrites
// variables already present in the process environment.
func Load() (*Environment, []ValidationError) {
	_ = godotenv.Load(".env")
	if root, ok := findWorkspaceRoot(); ok {
		_ = godotenv.Load(filepath.Join(root, ".env.local"))
	}

	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("MAX_RETRIES", 3)
	v.SetDefault("TIMEOUT_MS", 120000)
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("PORT", 8080)
	v.SetDefault("HEALTH_CHECK_INTERVAL", 60)
	v.SetDefault("BUILD_VERSION", "0.1.0")

	env := &Environment{
		LLMAPIKey:       v.GetString("LLM_API_KEY"),
		AssistantID:     v.GetString("ASSISTANT_ID"),
		VectorStoreID:   v.GetString("VECTOR_STORE_ID"),
		DBURL:           v.GetString("DB_URL"),
		DBServiceKey:    v.GetString("DB_SERVICE_KEY"),
		DBAnonKey:       v.GetString("DB_ANON_KEY"),
		JiraBaseURL:     v.GetString("JIRA_BASE_URL"),
		MaxRetries:      v.GetInt("MAX_RETRIES"),
		Timeout:         time.Duration(v.GetInt("TIMEOUT_MS")) * time.Millisecond,
		LogLevel:        v.GetString("LOG_LEVEL"),
		HTTPPort:        v.GetInt("PORT"),
		HealthInterval:  time.Duration(v.GetInt("HEALTH_CHECK_INTERVAL")) * time.Second,
		TracingProject:  v.GetString("TRACING_PROJECT"),
		TracingKey:      v.GetString("TRACING_KEY"),
		TracingEndpoint: v.GetString("TRACING_ENDPOINT"),
		BuildVersion:    v.GetString("BUILD_VERSION"),
		Production:      strings.EqualFold(v.GetString("NODE_ENV"), "production"),
	}
	env.BuildVersion = fmt.Sprintf("%s-%s", env.BuildVersion, time.Now().UTC().Format("20060102-150405"))

	if errs := Validate(env); len(errs) > 0 {
		return nil, errs
	}
	return env, nil
}

// Validate enforces the fixed schema invariants from spec §3.
func Validate(env *Environment) []ValidationError {
	var errs []ValidationError

	if len(env.LLMAPIKey) < 20 {
		errs = append(errs, ValidationError{"LLM_API_KEY", redact(env.LLMAPIKey), "must be at least 20 characters"})
	}
	if !strings.HasPrefix(env.AssistantID, "asst_") {
		errs = append(errs, ValidationError{"ASSISTANT_ID", env.AssistantID, "must have prefix 'asst_'"})
	}
	if env.VectorStoreID != "" && !strings.HasPrefix(env.VectorStoreID, "vs_") {
		errs = append(errs, ValidationError{"VECTOR_STORE_ID", env.VectorStoreID, "must have prefix 'vs_' when present"})
	}
	if env.DBURL == "" {
		errs = append(errs, ValidationError{"DB_URL", "", "is required"})
	}
	if len(env.DBServiceKey) < 20 {
		errs = append(errs, ValidationError{"DB_SERVICE_KEY", redact(env.DBServiceKey), "must be at least 20 characters"})
	}
	if len(env.DBAnonKey) < 20 {
		errs = append(errs, ValidationError{"DB_ANON_KEY", redact(env.DBAnonKey), "must be at least 20 characters"})
	}
	if env.Timeout < 5*time.Second || env.Timeout > 300*time.Second {
		errs = append(errs, ValidationError{"TIMEOUT_MS", env.Timeout.String(), "must be in [5s, 300s]"})
	}
	if env.MaxRetries < 1 || env.MaxRetries > 10 {
		errs = append(errs, ValidationError{"MAX_RETRIES", env.MaxRetries, "must be in [1, 10]"})
	}

	return errs
}

// DiffReport renders a human-readable report of validation failures for
// the fail-fast startup path.
func DiffReport(errs []ValidationError) string {
	var b strings.Builder
	b.WriteString("configuration validation failed:\n")
	for _, e := range errs {
		b.WriteString("  - ")
		b.WriteString(e.Error())
		b.WriteString("\n")
	}
	return b.String()
}

func redact(s string) string {
	if s == "" {
		return ""
	}
	return "***"
}

// findWorkspaceRoot walks upward from the working directory looking for
// go.mod, the workspace marker used to locate .env.local.
func findWorkspaceRoot() (string, bool) {
	dir, err := os.Getwd()
	if err != nil {
		return "", false
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, workspaceMarker)); err == nil {
			return dir, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// ParsePort parses a port string, defaulting on failure. Kept small and
// exported for reuse in tests exercising HTTP-port overrides.
func ParsePort(s string, def int) int {
	if s == "" {
		return def
	}
	p, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return p
}
