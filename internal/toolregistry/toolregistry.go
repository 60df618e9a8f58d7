// Package toolregistry holds the declarative catalog of MCP tools: name,
// description, JSON Schema, and handler, plus the dispatcher that
// validates arguments, times and traces each call, and records metrics
// (spec §4.4).
package toolregistry

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/aoma-mesh/mcp-server/internal/cache"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/logging"
	"github.com/aoma-mesh/mcp-server/internal/metrics"
)

// defaultCacheTTL is used for cacheable descriptors that don't specify
// their own TTL.
const defaultCacheTTL = 5 * time.Minute

// Handler executes a tool's logic given its validated arguments.
type Handler func(ctx context.Context, args map[string]interface{}) (interface{}, error)

// Descriptor declares one tool the registry exposes (spec §3).
type Descriptor struct {
	Name             string                 `json:"name"`
	Description      string                 `json:"description"`
	InputSchema      map[string]interface{} `json:"inputSchema"`
	Cacheable        bool                   `json:"-"`
	CacheTTL         time.Duration          `json:"-"`
	SensitiveArgKeys []string               `json:"-"`
	Handler          Handler                `json:"-"`
}

// Content is the MCP content-block shape tools/call and /tools/{name}
// return (spec §6.1).
type Content struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// CallResult wraps a tool's JSON-serialized output as MCP content.
type CallResult struct {
	Content []Content `json:"content"`
}

// Registry holds every registered descriptor and the shared dispatch
// dependencies (metrics, tracer, default timeout).
type Registry struct {
	descriptors map[string]*Descriptor
	order       []string
	metrics     *metrics.Metrics
	cache       *cache.Cache
	tracer      trace.Tracer
	timeout     time.Duration
}

func New(m *metrics.Metrics, c *cache.Cache, timeout time.Duration) *Registry {
	return &Registry{
		descriptors: make(map[string]*Descriptor),
		metrics:     m,
		cache:       c,
		tracer:      otel.Tracer("aoma-mcp-server/toolregistry"),
		timeout:     timeout,
	}
}

// Register adds a descriptor. Later registrations with the same name
// overwrite earlier ones, matching the teacher's plugin-registry
// convention.
func (r *Registry) Register(d *Descriptor) {
	if _, exists := r.descriptors[d.Name]; !exists {
		r.order = append(r.order, d.Name)
	}
	r.descriptors[d.Name] = d
}

// List returns descriptors in registration order, for tools/list and
// get_server_capabilities.
func (r *Registry) List() []*Descriptor {
	out := make([]*Descriptor, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.descriptors[name])
	}
	return out
}

func (r *Registry) Get(name string) (*Descriptor, bool) {
	d, ok := r.descriptors[name]
	return d, ok
}

// Call validates arguments, bounds the handler with Environment.timeout,
// records metrics, and renders the MCP content envelope (spec §4.4
// steps 1-6).
func (r *Registry) Call(ctx context.Context, name string, args map[string]interface{}) (*CallResult, error) {
	d, ok := r.descriptors[name]
	if !ok {
		return nil, errs.New(errs.KindNotFound, "unknown tool: "+name)
	}

	if fieldErrs := Validate(d.InputSchema, args); len(fieldErrs) > 0 {
		return nil, errs.InvalidParams(fieldErrs...)
	}

	var cacheKey string
	if d.Cacheable && r.cache != nil {
		cacheKey = cache.Key(name, args)
		if cached, ok := r.cache.Get(cacheKey); ok {
			r.metrics.CacheHit()
			return cached.(*CallResult), nil
		}
		r.metrics.CacheMiss()
	}

	ctx, span := r.tracer.Start(ctx, "tool."+name)
	defer span.End()

	callCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	result, err := d.Handler(callCtx, args)
	elapsed := time.Since(start)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		r.metrics.RecordFailure(name, elapsed)
		logging.GetLogger().Warn().
			Err(err).
			Str("tool", name).
			Interface("args", logging.Redact(args)).
			Msg("tool call failed")
		return nil, errs.As(err)
	}

	r.metrics.RecordSuccess(name, elapsed)

	payload, marshalErr := json.Marshal(result)
	if marshalErr != nil {
		return nil, errs.Internal("failed to serialize tool result", marshalErr)
	}
	callResult := &CallResult{Content: []Content{{Type: "text", Text: string(payload)}}}

	if d.Cacheable && r.cache != nil {
		ttl := d.CacheTTL
		if ttl <= 0 {
			ttl = defaultCacheTTL
		}
		r.cache.Put(cacheKey, callResult, ttl)
	}

	return callResult, nil
}
