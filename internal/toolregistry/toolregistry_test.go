package toolregistry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aoma-mesh/mcp-server/internal/cache"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/metrics"
)

func newTestRegistry() *Registry {
	m := metrics.New("test", prometheus.NewRegistry())
	c := cache.New()
	return New(m, c, time.Second)
}

func TestCallUnknownToolReturnsNotFound(t *testing.T) {
	r := newTestRegistry()
	_, err := r.Call(context.Background(), "does_not_exist", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindNotFound, errs.As(err).Kind)
}

func TestCallInvalidParams(t *testing.T) {
	r := newTestRegistry()
	r.Register(&Descriptor{
		Name:        "echo",
		InputSchema: map[string]interface{}{"required": []string{"text"}},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return args["text"], nil
		},
	})

	_, err := r.Call(context.Background(), "echo", map[string]interface{}{})
	require.Error(t, err)
	assert.Equal(t, errs.KindInvalidParams, errs.As(err).Kind)
}

func TestCallSuccessReturnsContentEnvelope(t *testing.T) {
	r := newTestRegistry()
	r.Register(&Descriptor{
		Name: "echo",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return map[string]interface{}{"ok": true}, nil
		},
	})

	result, err := r.Call(context.Background(), "echo", nil)
	require.NoError(t, err)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "text", result.Content[0].Type)
	assert.JSONEq(t, `{"ok":true}`, result.Content[0].Text)
}

func TestCallFailureWrapsUntypedErrorAsInternal(t *testing.T) {
	r := newTestRegistry()
	r.Register(&Descriptor{
		Name: "boom",
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			return nil, errors.New("kaboom")
		},
	})

	_, err := r.Call(context.Background(), "boom", nil)
	require.Error(t, err)
	assert.Equal(t, errs.KindInternal, errs.As(err).Kind)
}

func TestCallCachesCacheableDescriptors(t *testing.T) {
	r := newTestRegistry()
	calls := 0
	r.Register(&Descriptor{
		Name:      "cached",
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			calls++
			return map[string]interface{}{"calls": calls}, nil
		},
	})

	args := map[string]interface{}{"query": "same"}
	first, err := r.Call(context.Background(), "cached", args)
	require.NoError(t, err)
	second, err := r.Call(context.Background(), "cached", args)
	require.NoError(t, err)

	assert.Equal(t, 1, calls)
	assert.Equal(t, first, second)
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := newTestRegistry()
	r.Register(&Descriptor{Name: "first"})
	r.Register(&Descriptor{Name: "second"})

	names := make([]string, 0, 2)
	for _, d := range r.List() {
		names = append(names, d.Name)
	}
	assert.Equal(t, []string{"first", "second"}, names)
}
