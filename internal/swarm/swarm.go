// Package swarm implements the capped-hop multi-agent controller behind
// swarm_analyze_cross_vector: a Command-pattern state machine over
// {code_specialist, jira_analyst, aoma_researcher, synthesis_coordinator}
// with cross-vector Jaccard correlation between their results (spec
// §4.8).
package swarm

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/retrieval"
)

// Agent names the swarm's fixed roster.
type Agent string

const (
	AgentCodeSpecialist      Agent = "code_specialist"
	AgentJiraAnalyst         Agent = "jira_analyst"
	AgentAOMAResearcher      Agent = "aoma_researcher"
	AgentSynthesisCoordinator Agent = "synthesis_coordinator"
)

const defaultMaxHops = 5

// Controller runs the handoff chain starting from a configurable agent.
type Controller struct {
	Engine        *retrieval.Engine
	LLM           *llmclient.Client
	AssistantID   string
	VectorStoreID string
}

// HandoffStep records one agent's execution for the final trace.
type HandoffStep struct {
	Agent  Agent       `json:"agent"`
	Result interface{} `json:"result"`
}

// Result is the terminal payload returned to the caller.
type Result struct {
	StateID         string            `json:"stateId"`
	FinalAgent      Agent             `json:"finalAgent"`
	Handoffs        []HandoffStep     `json:"handoffs"`
	Correlations    []domain.Correlation `json:"correlations"`
	HopLimitReached bool              `json:"hopLimitReached"`
	Answer          string            `json:"answer,omitempty"`
}

// crossVectorResults accumulates each agent's raw output for later
// correlation and for the synthesis coordinator's prompt.
type crossVectorResults struct {
	code []domain.CodeFile
	jira []domain.JiraTicket
	aoma string
}

// SwarmState is the per-call record spec §3 defines for the swarm
// controller: created when Analyze starts and discarded on return. It
// is never persisted; its ID is returned to the caller as
// Result.StateID so a single handoff chain can be identified.
type SwarmState struct {
	ID                 string
	Query              string
	ActiveAgent        Agent
	AgentHops          int
	MaxHops            int
	ContextStrategy    CompressionLevel
	HandoffHistory     []HandoffStep
	CrossVectorResults crossVectorResults
	Correlations       []domain.Correlation
	FinalSynthesis     string
	StartedAt          time.Time
}

// Analyze runs the swarm starting at primaryAgent (default
// synthesis_coordinator) until a terminal transition or maxAgentHops is
// reached.
func (c *Controller) Analyze(ctx context.Context, query string, primaryAgent Agent, maxHops int) (*Result, error) {
	if primaryAgent == "" {
		primaryAgent = AgentSynthesisCoordinator
	}
	if maxHops <= 0 {
		maxHops = defaultMaxHops
	}
	if !validAgent(primaryAgent) {
		return nil, errs.New(errs.KindInvalidParams, "unknown swarm agent: "+string(primaryAgent))
	}

	state := &SwarmState{
		ID:              uuid.New().String(),
		Query:           query,
		ActiveAgent:     primaryAgent,
		MaxHops:         maxHops,
		ContextStrategy: CompressionNone,
		StartedAt:       time.Now(),
	}

	for ; state.AgentHops < maxHops; state.AgentHops++ {
		switch state.ActiveAgent {
		case AgentCodeSpecialist:
			files, err := c.Engine.CodeFileSearch(ctx, query, nil, nil, nil, 10, 0.5)
			if err != nil {
				return nil, err
			}
			state.CrossVectorResults.code = files
			state.HandoffHistory = append(state.HandoffHistory, HandoffStep{Agent: state.ActiveAgent, Result: files})
			if containsAny(query, "issue", "problem") {
				state.ActiveAgent = AgentJiraAnalyst
				continue
			}
			return c.finish(state, false)

		case AgentJiraAnalyst:
			tickets, err := c.Engine.JiraSearch(ctx, query, "", nil, nil, 10, 0.5)
			if err != nil {
				return nil, err
			}
			state.CrossVectorResults.jira = tickets
			state.HandoffHistory = append(state.HandoffHistory, HandoffStep{Agent: state.ActiveAgent, Result: tickets})
			if len(tickets) >= 1 && state.CrossVectorResults.aoma == "" {
				state.ActiveAgent = AgentAOMAResearcher
				continue
			}
			return c.finish(state, false)

		case AgentAOMAResearcher:
			answer, _, err := c.Engine.AOMAKnowledgeFast(ctx, c.VectorStoreID, query, domain.StrategyComprehensive, "")
			if err != nil {
				return nil, err
			}
			state.CrossVectorResults.aoma = answer
			state.HandoffHistory = append(state.HandoffHistory, HandoffStep{Agent: state.ActiveAgent, Result: answer})
			state.ActiveAgent = AgentSynthesisCoordinator
			continue

		case AgentSynthesisCoordinator:
			if len(state.HandoffHistory) == 0 {
				// Entering at the coordinator with no prior handoffs means
				// there is nothing yet to synthesize: kick off the chain at
				// code_specialist and revisit the coordinator once
				// aoma_researcher hands back (spec §8 scenario 5).
				state.ActiveAgent = AgentCodeSpecialist
				continue
			}
			state.Correlations = correlate(state.CrossVectorResults)
			prompt := synthesisPrompt(query, state.HandoffHistory, state.Correlations)
			answer, err := c.LLM.AssistantRun(ctx, c.AssistantID, prompt, "", nil)
			if err != nil {
				return nil, err
			}
			state.FinalSynthesis = answer
			state.HandoffHistory = append(state.HandoffHistory, HandoffStep{Agent: state.ActiveAgent, Result: answer})
			return &Result{
				StateID:      state.ID,
				FinalAgent:   state.ActiveAgent,
				Handoffs:     state.HandoffHistory,
				Correlations: state.Correlations,
				Answer:       answer,
			}, nil

		default:
			return nil, errs.New(errs.KindInvalidParams, "unknown swarm agent: "+string(state.ActiveAgent))
		}
	}

	return c.finish(state, true)
}

func (c *Controller) finish(state *SwarmState, hopLimitReached bool) (*Result, error) {
	state.Correlations = correlate(state.CrossVectorResults)
	return &Result{
		StateID:         state.ID,
		FinalAgent:      state.ActiveAgent,
		Handoffs:        state.HandoffHistory,
		Correlations:    state.Correlations,
		HopLimitReached: hopLimitReached,
	}, nil
}

func validAgent(a Agent) bool {
	switch a {
	case AgentCodeSpecialist, AgentJiraAnalyst, AgentAOMAResearcher, AgentSynthesisCoordinator:
		return true
	default:
		return false
	}
}

func containsAny(s string, needles ...string) bool {
	lower := strings.ToLower(s)
	for _, n := range needles {
		if strings.Contains(lower, n) {
			return true
		}
	}
	return false
}

var (
	technicalKeyword = regexp.MustCompile(`(?i)\b(?:auth|authentication|service|api|database|error|failure|performance|security|config|deploy|test)\w*\b`)
	camelIdentifier  = regexp.MustCompile(`\b[a-z]+(?:[A-Z][a-z]*)+\b`)
)

const maxKeyTerms = 20

// extractKeyTerms pulls technical keywords and camelCase identifiers out
// of a result's JSON rendering, capped at maxKeyTerms unique terms (spec
// §4.8).
func extractKeyTerms(v interface{}) []string {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	text := string(b)

	seen := make(map[string]bool)
	var terms []string
	add := func(matches []string) {
		for _, m := range matches {
			lower := strings.ToLower(m)
			if seen[lower] {
				continue
			}
			seen[lower] = true
			terms = append(terms, lower)
			if len(terms) >= maxKeyTerms {
				return
			}
		}
	}
	add(technicalKeyword.FindAllString(text, -1))
	if len(terms) < maxKeyTerms {
		add(camelIdentifier.FindAllString(text, -1))
	}
	if len(terms) > maxKeyTerms {
		terms = terms[:maxKeyTerms]
	}
	sort.Strings(terms)
	return terms
}

// jaccard computes |A ∩ B| / |A ∪ B| over two term sets.
func jaccard(a, b []string) (float64, []string) {
	setA := toSet(a)
	setB := toSet(b)
	var intersection []string
	union := make(map[string]bool, len(setA)+len(setB))
	for t := range setA {
		union[t] = true
		if setB[t] {
			intersection = append(intersection, t)
		}
	}
	for t := range setB {
		union[t] = true
	}
	if len(union) == 0 {
		return 0, nil
	}
	sort.Strings(intersection)
	return float64(len(intersection)) / float64(len(union)), intersection
}

func toSet(ss []string) map[string]bool {
	out := make(map[string]bool, len(ss))
	for _, s := range ss {
		out[s] = true
	}
	return out
}

// correlate computes the three pairwise cross-vector correlations,
// emitting only those clearing their relationship-specific threshold
// (spec §4.8).
func correlate(cross crossVectorResults) []domain.Correlation {
	codeTerms := extractKeyTerms(cross.code)
	jiraTerms := extractKeyTerms(cross.jira)
	aomaTerms := extractKeyTerms(cross.aoma)

	var out []domain.Correlation
	if sim, keys := jaccard(codeTerms, jiraTerms); sim >= 0.6 {
		out = append(out, domain.Correlation{
			SourceType: "code", TargetType: "jira", Similarity: sim, KeyTerms: keys,
			Relationship: domain.RelationRelatedIssue,
		})
	}
	if sim, keys := jaccard(codeTerms, aomaTerms); sim >= 0.5 {
		out = append(out, domain.Correlation{
			SourceType: "code", TargetType: "aoma", Similarity: sim, KeyTerms: keys,
			Relationship: domain.RelationDocumentation,
		})
	}
	if sim, keys := jaccard(jiraTerms, aomaTerms); sim >= 0.5 {
		out = append(out, domain.Correlation{
			SourceType: "jira", TargetType: "aoma", Similarity: sim, KeyTerms: keys,
			Relationship: domain.RelationHistoricalContext,
		})
	}
	return out
}

func synthesisPrompt(query string, handoffs []HandoffStep, correlations []domain.Correlation) string {
	var b strings.Builder
	b.WriteString("Synthesize a system-integration analysis for: " + query + "\n\n")
	b.WriteString("Handoff history:\n")
	for _, h := range handoffs {
		raw, _ := json.Marshal(h.Result)
		b.WriteString("- " + string(h.Agent) + ": " + string(raw) + "\n")
	}
	if len(correlations) > 0 {
		b.WriteString("\nCross-vector correlations:\n")
		for _, c := range correlations {
			b.WriteString(c.SourceType + " <-> " + c.TargetType + " (" + c.Relationship + "): " + strings.Join(c.KeyTerms, ", ") + "\n")
		}
	}
	return b.String()
}

// CompressionLevel controls the optional lossy context-compression
// helper (spec §4.8).
type CompressionLevel string

const (
	CompressionNone       CompressionLevel = "none"
	CompressionLight      CompressionLevel = "light"
	CompressionAggressive CompressionLevel = "aggressive"
	CompressionSemantic   CompressionLevel = "semantic"
)

func (l CompressionLevel) ratio() float64 {
	switch l {
	case CompressionLight:
		return 0.8
	case CompressionAggressive:
		return 0.6
	case CompressionSemantic:
		return 0.4
	default:
		return 1.0
	}
}

// Compress truncates text to floor(len(text)*ratio) characters. The
// result is lossy and must not be treated as a faithful summary.
func Compress(text string, level CompressionLevel) string {
	ratio := level.ratio()
	n := int(float64(len(text)) * ratio)
	if n >= len(text) {
		return text
	}
	return text[:n]
}
