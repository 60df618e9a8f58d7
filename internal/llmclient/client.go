// Package llmclient talks to the hosted LLM assistant: embeddings, chat
// completions, assistant threads/runs, and vector-store search (spec
// §4.5.1). It is grounded on the teacher's OpenAI-compatible adapter in
// internal/llm/openai_adapter.go, generalized to the assistant-thread
// contract spec §6 requires and wrapped with the jittered retry policy
// described in spec §4.5.1 and §5.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/logging"
)

const DefaultBaseURL = "https://api.openai.com/v1"

// Client is the narrow contract spec §1 carves out for the LLM provider:
// embed, chat, run an assistant thread to completion, search a vector
// store, and a cheap liveness probe.
type Client struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	pollInterval time.Duration
}

type Option func(*Client)

func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpClient = h }
}

func WithMaxRetries(n int) Option {
	return func(c *Client) { c.maxRetries = n }
}

func New(apiKey string, timeout time.Duration, maxRetries int, opts ...Option) *Client {
	c := &Client{
		apiKey:       apiKey,
		baseURL:      DefaultBaseURL,
		httpClient:   &http.Client{Timeout: timeout},
		maxRetries:   maxRetries,
		pollInterval: time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) setHeaders(req *http.Request, extra ...string) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(extra); i += 2 {
		req.Header.Set(extra[i], extra[i+1])
	}
}

// Embed returns a single 1536-dimension embedding for a short query.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	var out struct {
		Data []struct {
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	body := map[string]interface{}{"model": "text-embedding-3-small", "input": text}
	if err := c.doJSON(ctx, http.MethodPost, "/embeddings", body, &out); err != nil {
		return nil, err
	}
	if len(out.Data) == 0 || len(out.Data[0].Embedding) == 0 {
		return nil, errs.Upstream(0, "no embedding", nil)
	}
	return out.Data[0].Embedding, nil
}

// Chat runs a synchronous chat completion. Temperature follows the
// strategy default unless the model only supports a fixed temperature.
func (c *Client) Chat(ctx context.Context, model, systemPrompt, userPrompt string, maxTokens int, temperature float32) (string, error) {
	fixed, fixedOK := fixedTemperatureModels[model]
	if fixedOK {
		temperature = fixed
	}
	reqBody := map[string]interface{}{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"max_completion_tokens": maxTokens,
		"temperature":           temperature,
	}
	var out struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/chat/completions", reqBody, &out); err != nil {
		return "", err
	}
	if len(out.Choices) == 0 {
		return "", errs.Upstream(0, "no chat completion returned", nil)
	}
	return out.Choices[0].Message.Content, nil
}

// fixedTemperatureModels lists models that reject a custom temperature.
var fixedTemperatureModels = map[string]float32{
	"o1-mini": 1.0,
	"o1":      1.0,
}

// VectorStoreSearch performs the hosted document vector store's
// server-side semantic search (spec §4.6.1).
func (c *Client) VectorStoreSearch(ctx context.Context, storeID, query string) ([]domain.VectorHit, error) {
	var out struct {
		Data []struct {
			FileID  string  `json:"file_id"`
			Score   float64 `json:"score"`
			Content []struct {
				Text string `json:"text"`
			} `json:"content"`
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"data"`
	}
	body := map[string]interface{}{"query": query}
	path := fmt.Sprintf("/vector_stores/%s/search", storeID)
	if err := c.doJSON(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	hits := make([]domain.VectorHit, 0, len(out.Data))
	for _, d := range out.Data {
		content := ""
		if len(d.Content) > 0 {
			content = d.Content[0].Text
		}
		filename, _ := d.Attributes["filename"].(string)
		hits = append(hits, domain.VectorHit{
			ID:       d.FileID,
			Filename: filename,
			Score:    d.Score,
			Content:  content,
			Metadata: d.Attributes,
		})
	}
	return hits, nil
}

// terminalRunStates are the assistant-run states that stop polling.
var terminalRunStates = map[string]bool{
	"completed": true, "failed": true, "cancelled": true, "expired": true,
}

// AssistantRun creates a thread, posts the user message, starts a run,
// and polls at 1s intervals until a terminal state or the context
// deadline. Thread deletion is attempted best-effort and never fails the
// call (spec §3 lifecycle, §4.5.1).
func (c *Client) AssistantRun(ctx context.Context, assistantID, userMessage, additionalInstructions string, vectorStoreIDs []string) (string, error) {
	var thread struct {
		ID string `json:"id"`
	}
	if err := c.doJSONWithHeaders(ctx, http.MethodPost, "/threads", map[string]interface{}{}, &thread); err != nil {
		return "", err
	}
	threadID := thread.ID
	defer c.deleteThreadBestEffort(threadID)

	if err := c.doJSONWithHeaders(ctx, http.MethodPost, "/threads/"+threadID+"/messages",
		map[string]interface{}{"role": "user", "content": userMessage}, nil); err != nil {
		return "", err
	}

	runBody := map[string]interface{}{"assistant_id": assistantID}
	if additionalInstructions != "" {
		runBody["additional_instructions"] = additionalInstructions
	}
	if len(vectorStoreIDs) > 0 {
		runBody["tool_resources"] = map[string]interface{}{
			"file_search": map[string]interface{}{"vector_store_ids": vectorStoreIDs},
		}
	}
	var run struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := c.doJSONWithHeaders(ctx, http.MethodPost, "/threads/"+threadID+"/runs", runBody, &run); err != nil {
		return "", err
	}

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", errs.Timeout("assistant run did not complete before the deadline")
		case <-ticker.C:
			var status struct {
				Status   string `json:"status"`
				LastErr  *struct {
					Message string `json:"message"`
				} `json:"last_error"`
			}
			if err := c.doJSONWithHeaders(ctx, http.MethodGet, "/threads/"+threadID+"/runs/"+run.ID, nil, &status); err != nil {
				return "", err
			}
			if !terminalRunStates[status.Status] {
				continue
			}
			if status.Status != "completed" {
				msg := status.Status
				if status.LastErr != nil {
					msg = status.Status + ": " + status.LastErr.Message
				}
				return "", errs.Upstream(0, "assistant run ended in state "+msg, nil)
			}
			return c.lastAssistantMessage(ctx, threadID)
		}
	}
}

func (c *Client) lastAssistantMessage(ctx context.Context, threadID string) (string, error) {
	var out struct {
		Data []struct {
			Role    string `json:"role"`
			Content []struct {
				Text struct {
					Value string `json:"value"`
				} `json:"text"`
			} `json:"content"`
		} `json:"data"`
	}
	if err := c.doJSONWithHeaders(ctx, http.MethodGet, "/threads/"+threadID+"/messages?order=desc&limit=1", nil, &out); err != nil {
		return "", err
	}
	for _, m := range out.Data {
		if m.Role == "assistant" && len(m.Content) > 0 {
			return m.Content[0].Text.Value, nil
		}
	}
	return "", errs.Upstream(0, "no assistant message found", nil)
}

func (c *Client) deleteThreadBestEffort(threadID string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.doJSONWithHeaders(ctx, http.MethodDelete, "/threads/"+threadID, nil, nil); err != nil {
		logging.GetLogger().Warn().Err(err).Str("threadId", threadID).Msg("best-effort assistant thread deletion failed")
	}
}

// ModelsProbe performs the 5-second HEAD liveness check used by health.
func (c *Client) ModelsProbe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL+"/models", nil)
	if err != nil {
		return false
	}
	c.setHeaders(req)
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < 500
}

// doJSON performs a retried request against the chat/embeddings style
// endpoints (no assistants beta header).
func (c *Client) doJSON(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.do(ctx, method, path, body, out, false)
}

// doJSONWithHeaders performs a retried request tagged with the Assistants
// API beta header, required by /threads and /runs endpoints.
func (c *Client) doJSONWithHeaders(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	return c.do(ctx, method, path, body, out, true)
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}, assistantsBeta bool) error {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
			jitter := time.Duration(rand.Int63n(int64(backoff) + 1))
			select {
			case <-ctx.Done():
				return errs.Timeout("request cancelled while retrying")
			case <-time.After(backoff + jitter):
			}
		}

		var bodyReader io.Reader
		if body != nil {
			b, err := json.Marshal(body)
			if err != nil {
				return errs.Internal("failed to encode request body", err)
			}
			bodyReader = bytes.NewReader(b)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
		if err != nil {
			return errs.Internal("failed to build request", err)
		}
		if assistantsBeta {
			c.setHeaders(req, "OpenAI-Beta", "assistants=v2")
		} else {
			c.setHeaders(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			if errs.Retryable(0, true) {
				continue
			}
			return errs.Upstream(0, "request failed", err)
		}

		respBody, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if out != nil && len(respBody) > 0 {
				if err := json.Unmarshal(respBody, out); err != nil {
					return errs.Internal("failed to decode response", err)
				}
			}
			return nil
		}

		lastErr = fmt.Errorf("status %d: %s", resp.StatusCode, string(respBody))
		if !errs.Retryable(resp.StatusCode, false) {
			return errs.Upstream(resp.StatusCode, "upstream error", lastErr)
		}
	}
	return errs.Upstream(0, "retries exhausted", lastErr)
}
