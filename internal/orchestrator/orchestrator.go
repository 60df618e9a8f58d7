// Package orchestrator implements the ensemble retrieval-plus-synthesis
// pipeline: parallel fan-out to the unified retriever and the hosted
// vector store, a merged and stably re-ranked document set, Top-N
// selection, and a chat synthesis call over the rendered context (spec
// §4.7).
package orchestrator

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/retrieval"
)

// Stats reports how many documents each branch contributed and how the
// final selected set breaks down by source, per the result envelope in
// spec §4.7 step 6.
type Stats struct {
	Supabase     int            `json:"supabase"`
	OpenAI       int            `json:"openai"`
	Total        int            `json:"total"`
	BySourceType map[string]int `json:"bySourceType"`
}

// Result is the synthesized answer plus the sources it was grounded on.
type Result struct {
	Answer          string            `json:"answer"`
	SourceDocuments []domain.Document `json:"sourceDocuments"`
	Stats           Stats             `json:"stats"`
}

// Orchestrator fans a query out to both retrieval branches, merges by
// similarity, and asks the LLM to synthesize a cited answer.
type Orchestrator struct {
	Engine *retrieval.Engine
	LLM    *llmclient.Client
}

// Query runs the ensemble for a single question. vectorStoreID may be
// empty, in which case only the unified retriever branch runs.
func (o *Orchestrator) Query(ctx context.Context, question, vectorStoreID string, strategy domain.Strategy, threshold float64, maxPerBranch int) (*Result, error) {
	var (
		wg               sync.WaitGroup
		unifiedDocs      []domain.Document
		vectorDocs       []domain.Document
		unifiedErr       error
		vectorErr        error
	)

	wg.Add(1)
	go func() {
		defer wg.Done()
		unifiedDocs, unifiedErr = o.Engine.UnifiedRetrieve(ctx, question, threshold, maxPerBranch, "all")
	}()

	if vectorStoreID != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hits, err := o.LLM.VectorStoreSearch(ctx, vectorStoreID, question)
			if err != nil {
				vectorErr = err
				return
			}
			for _, h := range hits {
				vectorDocs = append(vectorDocs, domain.Document{
					Content:  h.Content,
					Source:   domain.SourceAOMAVector,
					SourceID: h.ID,
					Score:    h.Score,
					Metadata: h.Metadata,
				})
			}
		}()
	}

	wg.Wait()

	// Both branches failing is the only case we surface as an error; a
	// single failed branch degrades to whatever the other produced.
	if unifiedErr != nil && vectorErr != nil {
		return nil, unifiedErr
	}

	stats := Stats{Supabase: len(unifiedDocs), OpenAI: len(vectorDocs)}

	merged := make([]domain.Document, 0, len(unifiedDocs)+len(vectorDocs))
	merged = append(merged, unifiedDocs...)
	merged = append(merged, vectorDocs...)
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Score > merged[j].Score
	})

	topN := strategy.TopN()
	if len(merged) > topN {
		merged = merged[:topN]
	}
	stats.Total = len(merged)
	stats.BySourceType = bySourceType(merged)

	var ctxBuilder strings.Builder
	if len(merged) == 0 {
		ctxBuilder.WriteString("No sources were retrieved for this question. Answer from general knowledge and say so explicitly.\n")
	}
	for i, doc := range merged {
		ctxBuilder.WriteString(fmt.Sprintf("[Source %d: %s/%s (similarity: %.3f)]\n", i+1, doc.Source, doc.SourceID, doc.Score))
		ctxBuilder.WriteString(doc.Content)
		ctxBuilder.WriteString("\n\n")
	}

	systemPrompt := "You are a development-context assistant. Synthesize a single answer from the numbered sources below, citing them by number. If no sources were retrieved, say so explicitly instead of fabricating one."
	answer, err := o.LLM.Chat(ctx, "gpt-4o-mini", systemPrompt, "Question: "+question+"\n\n"+ctxBuilder.String(), strategy.TokenBudget(), strategy.Temperature())
	if err != nil {
		return nil, err
	}

	return &Result{Answer: answer, SourceDocuments: merged, Stats: stats}, nil
}

func bySourceType(docs []domain.Document) map[string]int {
	out := make(map[string]int, len(docs))
	for _, d := range docs {
		out[string(d.Source)]++
	}
	return out
}
