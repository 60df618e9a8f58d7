package llmclient

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbedReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{{"embedding": []float64{0.1, 0.2, 0.3}}},
		})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	vec, err := c.Embed(t.Context(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, vec)
}

func TestEmbedFailsOnEmptyResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": []interface{}{}})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	_, err := c.Embed(t.Context(), "hello")
	assert.Error(t, err)
}

func TestChatReturnsCompletionText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		assert.Equal(t, float64(1000), body["max_completion_tokens"])
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{
				{"message": map[string]interface{}{"content": "the answer"}},
			},
		})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	text, err := c.Chat(t.Context(), "gpt-4o-mini", "system", "user", 1000, 0.4)
	require.NoError(t, err)
	assert.Equal(t, "the answer", text)
}

func TestChatUsesFixedTemperatureForRestrictedModels(t *testing.T) {
	var sawTemperature float64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&body)
		sawTemperature = body["temperature"].(float64)
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]interface{}{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	_, err := c.Chat(t.Context(), "o1-mini", "s", "u", 100, 0.9)
	require.NoError(t, err)
	assert.Equal(t, 1.0, sawTemperature)
}

func TestVectorStoreSearchMapsHits(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]interface{}{
				{
					"file_id": "file-1",
					"score":   0.92,
					"content": []map[string]interface{}{{"text": "hello world"}},
					"attributes": map[string]interface{}{"filename": "doc.md"},
				},
			},
		})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	hits, err := c.VectorStoreSearch(t.Context(), "vs_123", "query")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc.md", hits[0].Filename)
	assert.Equal(t, 0.92, hits[0].Score)
}

func TestModelsProbeFalseOnServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	assert.False(t, c.ModelsProbe(t.Context()))
}

func TestModelsProbeTrueOnOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 0, WithBaseURL(srv.URL))
	assert.True(t, c.ModelsProbe(t.Context()))
}

func TestDoRetriesOnRetryableStatusThenSucceeds(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"choices": []map[string]interface{}{{"message": map[string]interface{}{"content": "ok"}}},
		})
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 3, WithBaseURL(srv.URL))
	text, err := c.Chat(t.Context(), "gpt-4o-mini", "s", "u", 100, 0.5)
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, 2, attempts)
}

func TestDoFailsImmediatelyOnNonRetryableStatus(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	c := New("sk-test-key-0123456789", 5*time.Second, 3, WithBaseURL(srv.URL))
	_, err := c.Chat(t.Context(), "gpt-4o-mini", "s", "u", 100, 0.5)
	assert.Error(t, err)
	assert.Equal(t, 1, attempts)
}
