// Package retrieval implements the vector-store, SQL+RPC, and text-search
// retrieval pipelines (spec §4.6). Grounded on the teacher's provider
// helpers in internal/memory/providers/helpers.go for the normalization
// style (plain functions over rows, no hidden state).
package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"

	"github.com/aoma-mesh/mcp-server/internal/dbclient"
	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/logging"
)

const truncateMarker = "... [truncated]"
const maxContentChars = 2000

// Engine bundles the two upstream clients every retrieval pipeline needs.
type Engine struct {
	LLM         *llmclient.Client
	DB          *dbclient.Client
	JiraBaseURL string
}

// AOMAKnowledgeFast implements the fast knowledge path: a direct
// server-side vector-store search, strategy-filtered, truncated,
// rendered into a cited context block, then synthesized by chat (spec
// §4.6.1).
func (e *Engine) AOMAKnowledgeFast(ctx context.Context, vectorStoreID, query string, strategy domain.Strategy, additionalContext string) (string, []domain.Document, error) {
	hits, err := e.LLM.VectorStoreSearch(ctx, vectorStoreID, query)
	if err != nil {
		return "", nil, err
	}

	threshold := strategy.Threshold()
	var filtered []domain.Document
	for _, h := range hits {
		if h.Score >= threshold {
			filtered = append(filtered, toDocument(h))
		}
	}
	if len(filtered) < 3 {
		filtered = nil
		for i, h := range hits {
			if i >= 3 {
				break
			}
			filtered = append(filtered, toDocument(h))
		}
	}

	maxDocs := strategy.MaxDocuments()
	if len(filtered) > maxDocs {
		filtered = filtered[:maxDocs]
	}

	var ctxBuilder strings.Builder
	for _, doc := range filtered {
		filename, _ := doc.Metadata["filename"].(string)
		if filename == "" {
			filename = doc.SourceID
		}
		ctxBuilder.WriteString(fmt.Sprintf("[Source: %s (relevance: %.2f)]\n", filename, doc.Score))
		ctxBuilder.WriteString(truncate(doc.Content))
		ctxBuilder.WriteString("\n\n")
	}
	if additionalContext != "" {
		ctxBuilder.WriteString("Additional context: " + additionalContext + "\n")
	}

	systemPrompt := "You are a knowledge assistant. Answer using only the provided sources and cite each source filename you rely on."
	answer, err := e.LLM.Chat(ctx, "gpt-4o-mini", systemPrompt, "Question: "+query+"\n\nContext:\n"+ctxBuilder.String(), strategy.TokenBudget(), strategy.Temperature())
	if err != nil {
		return "", nil, err
	}
	return answer, filtered, nil
}

func toDocument(h domain.VectorHit) domain.Document {
	return domain.Document{
		Content:  h.Content,
		Source:   domain.SourceAOMAVector,
		SourceID: h.ID,
		Score:    h.Score,
		Metadata: h.Metadata,
	}
}

func truncate(content string) string {
	if len(content) <= maxContentChars {
		return content
	}
	return content[:maxContentChars] + truncateMarker
}

// JiraSearch runs the primary embedding+RPC search and falls back to a
// text ILIKE search when the RPC fails (spec §4.6.2).
func (e *Engine) JiraSearch(ctx context.Context, query, projectKey string, status, priority []string, maxResults int, threshold float64) ([]domain.JiraTicket, error) {
	embedding, embedErr := e.LLM.Embed(ctx, query)
	if embedErr == nil {
		filters := map[string]interface{}{}
		if projectKey != "" {
			filters["projectKey"] = projectKey
		}
		if len(status) > 0 {
			filters["status"] = status
		}
		if len(priority) > 0 {
			filters["priority"] = priority
		}
		rows, err := e.DB.RPC(ctx, "match_jira_tickets", asVector(embedding), threshold, maxResults, filters)
		if err == nil {
			return e.ticketsFromRows(rows), nil
		}
		logging.GetLogger().Warn().Err(err).Msg("match_jira_tickets rpc failed, falling back to text search")
	} else {
		logging.GetLogger().Warn().Err(embedErr).Msg("embed failed, falling back to text search")
	}

	var filters []dbclient.Filter
	if projectKey != "" {
		filters = append(filters, dbclient.Filter{Column: "project_key", Values: []interface{}{projectKey}})
	}
	if len(status) > 0 {
		filters = append(filters, dbclient.Filter{Column: "status", Values: toAnySlice(status)})
	}
	if len(priority) > 0 {
		filters = append(filters, dbclient.Filter{Column: "priority", Values: toAnySlice(priority)})
	}
	rows, err := e.DB.Select(ctx, "jira_tickets", filters, &dbclient.TextSearch{
		Columns: []string{"title", "external_id"}, Query: query,
	}, maxResults)
	if err != nil {
		return nil, errs.Upstream(0, "jira fallback search failed", err)
	}

	tickets := make([]domain.JiraTicket, 0, len(rows))
	for _, r := range rows {
		tickets = append(tickets, domain.JiraTicket{
			Key:        str(r["external_id"]),
			Summary:    str(r["title"]),
			Status:     str(r["status"]),
			Priority:   str(r["priority"]),
			Project:    str(r["project_key"]),
			Similarity: 0.5,
			URL:        e.jiraURL(str(r["external_id"])),
		})
	}
	return tickets, nil
}

func (e *Engine) ticketsFromRows(rows []dbclient.Row) []domain.JiraTicket {
	tickets := make([]domain.JiraTicket, 0, len(rows))
	for _, r := range rows {
		key := str(r["key"])
		if key == "" {
			key = str(r["external_id"])
		}
		tickets = append(tickets, domain.JiraTicket{
			Key:        key,
			Summary:    str(r["summary"]),
			Status:     str(r["status"]),
			Priority:   str(r["priority"]),
			Project:    str(r["project"]),
			Similarity: clampSimilarity(f64(r["similarity"])),
			URL:        e.jiraURL(key),
		})
	}
	return tickets
}

func (e *Engine) jiraURL(key string) string {
	base := strings.TrimRight(e.JiraBaseURL, "/")
	return base + "/browse/" + key
}

// JiraCount calls count_jira_tickets and, when no project is specified,
// also calls count_jira_tickets_by_project for a breakdown (spec §4.6.2).
func (e *Engine) JiraCount(ctx context.Context, projectKey string, status, priority []string) (int64, []ProjectCount, error) {
	filters := map[string]interface{}{}
	if projectKey != "" {
		filters["projectKey"] = projectKey
	}
	if len(status) > 0 {
		filters["status"] = status
	}
	if len(priority) > 0 {
		filters["priority"] = priority
	}
	rows, err := e.DB.RPC(ctx, "count_jira_tickets", filters)
	if err != nil {
		return 0, nil, errs.Upstream(0, "count_jira_tickets failed", err)
	}
	var total int64
	if len(rows) > 0 {
		total = i64(rows[0]["count"])
	}

	if projectKey != "" {
		return total, nil, nil
	}

	breakdownRows, err := e.DB.RPC(ctx, "count_jira_tickets_by_project", status, priority)
	if err != nil {
		return 0, nil, errs.Upstream(0, "count_jira_tickets_by_project failed", err)
	}
	breakdown := make([]ProjectCount, 0, len(breakdownRows))
	for _, r := range breakdownRows {
		breakdown = append(breakdown, ProjectCount{
			Project: str(r["project"]),
			Count:   i64(r["count"]),
		})
	}
	return total, breakdown, nil
}

type ProjectCount struct {
	Project string `json:"project"`
	Count   int64  `json:"count"`
}

// GitCommitSearch calls search_git_commits_semantic; there is no text
// fallback (spec §4.6.3).
func (e *Engine) GitCommitSearch(ctx context.Context, query string, repository, author []string, dateFrom, dateTo, filePattern string, maxResults int, threshold float64) ([]domain.Commit, error) {
	embedding, err := e.LLM.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	filters := map[string]interface{}{}
	if len(repository) > 0 {
		filters["repository"] = repository
	}
	if len(author) > 0 {
		filters["author"] = author
	}
	if dateFrom != "" {
		filters["dateFrom"] = dateFrom
	}
	if dateTo != "" {
		filters["dateTo"] = dateTo
	}
	if filePattern != "" {
		filters["filePattern"] = filePattern
	}
	rows, err := e.DB.RPC(ctx, "search_git_commits_semantic", asVector(embedding), threshold, maxResults, filters)
	if err != nil {
		return nil, errs.Upstream(0, "search_git_commits_semantic failed", err)
	}
	commits := make([]domain.Commit, 0, len(rows))
	for _, r := range rows {
		commits = append(commits, domain.Commit{
			Hash:         str(r["commit_hash"]),
			Message:      str(r["commit_message"]),
			Author:       str(r["author_name"]),
			Email:        str(r["author_email"]),
			Repository:   str(r["repository_name"]),
			FilesChanged: int(i64(r["files_changed"])),
			Additions:    int(i64(r["additions"])),
			Deletions:    int(i64(r["deletions"])),
			DiffSummary:  str(r["diff_summary"]),
			Similarity:   clampSimilarity(f64(r["similarity"])),
		})
	}
	return commits, nil
}

// CodeFileSearch calls search_code_files_semantic; no text fallback.
func (e *Engine) CodeFileSearch(ctx context.Context, query string, repository, language, fileExtension []string, maxResults int, threshold float64) ([]domain.CodeFile, error) {
	embedding, err := e.LLM.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	filters := map[string]interface{}{}
	if len(repository) > 0 {
		filters["repository"] = repository
	}
	if len(language) > 0 {
		filters["language"] = language
	}
	if len(fileExtension) > 0 {
		filters["fileExtension"] = fileExtension
	}
	rows, err := e.DB.RPC(ctx, "search_code_files_semantic", asVector(embedding), threshold, maxResults, filters)
	if err != nil {
		return nil, errs.Upstream(0, "search_code_files_semantic failed", err)
	}
	files := make([]domain.CodeFile, 0, len(rows))
	for _, r := range rows {
		files = append(files, domain.CodeFile{
			Path:       str(r["file_path"]),
			Name:       str(r["file_name"]),
			Extension:  str(r["file_extension"]),
			Language:   str(r["language"]),
			Preview:    str(r["content_preview"]),
			Summary:    str(r["content_summary"]),
			Repository: str(r["repository_name"]),
			LineCount:  int(i64(r["line_count"])),
			Similarity: clampSimilarity(f64(r["similarity"])),
		})
	}
	return files, nil
}

// UnifiedRetrieve calls match_unified_vectors with an optional source
// filter, always returning normalized Documents (spec §4.6.4).
func (e *Engine) UnifiedRetrieve(ctx context.Context, query string, threshold float64, maxResults int, sourceFilter string) ([]domain.Document, error) {
	embedding, err := e.LLM.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	if sourceFilter == "" {
		sourceFilter = "all"
	}
	rows, err := e.DB.RPC(ctx, "match_unified_vectors", asVector(embedding), threshold, maxResults, sourceFilter)
	if err != nil {
		return nil, errs.Upstream(0, "match_unified_vectors failed", err)
	}
	docs := make([]domain.Document, 0, len(rows))
	for _, r := range rows {
		score := clampSimilarity(f64(r["score"]))
		docs = append(docs, domain.Document{
			Content:  str(r["content"]),
			Source:   domain.Source(str(r["source_type"])),
			SourceID: str(r["source_id"]),
			Score:    score,
			Metadata: map[string]interface{}{"similarity": score},
		})
	}
	return docs, nil
}

func clampSimilarity(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func toAnySlice(ss []string) []interface{} {
	out := make([]interface{}, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

func str(v interface{}) string {
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

func f64(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int32:
		return float64(n)
	default:
		return 0
	}
}

// asVector narrows an OpenAI-shaped []float64 embedding down to the
// []float32 pgvector-go's wire encoding expects, grounded on the
// teacher's pgvector.NewVector(embedding) call sites in
// internal/memory/providers/pgvector.go.
func asVector(embedding []float64) pgvector.Vector {
	vec := make([]float32, len(embedding))
	for i, v := range embedding {
		vec[i] = float32(v)
	}
	return pgvector.NewVector(vec)
}

func i64(v interface{}) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int32:
		return int64(n)
	case float64:
		return int64(n)
	default:
		return 0
	}
}
