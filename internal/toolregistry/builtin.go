package toolregistry

import (
	"context"
	"strings"

	"github.com/aoma-mesh/mcp-server/internal/domain"
	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/health"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/orchestrator"
	"github.com/aoma-mesh/mcp-server/internal/retrieval"
	"github.com/aoma-mesh/mcp-server/internal/swarm"
)

// Deps bundles everything the canonical tool set needs to build its
// handlers (spec §4.4 canonical tool set).
type Deps struct {
	Engine        *retrieval.Engine
	Orchestrator  *orchestrator.Orchestrator
	Swarm         *swarm.Controller
	LLM           *llmclient.Client
	Health        *health.Checker
	VectorStoreID string
	AssistantID   string
	Registry      *Registry
}

// RegisterBuiltins wires the nine core tools into the registry.
func RegisterBuiltins(d Deps) {
	r := d.Registry

	r.Register(&Descriptor{
		Name:        "query_aoma_knowledge",
		Description: "Answer a question against the AOMA knowledge corpus, citing sources.",
		InputSchema: map[string]interface{}{
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query":      map[string]interface{}{"type": "string"},
				"strategy":   map[string]interface{}{"type": "string", "enum": []string{"comprehensive", "focused", "rapid"}},
				"context":    map[string]interface{}{"type": "string"},
				"maxResults": map[string]interface{}{"type": "integer"},
			},
		},
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, err := requiredString(args, "query")
			if err != nil {
				return nil, err
			}
			strategy := parseStrategy(args["strategy"])
			additionalContext, _ := args["context"].(string)

			if strategy == domain.StrategyComprehensive {
				result, err := d.Orchestrator.Query(ctx, query, d.VectorStoreID, strategy, 0.6, int(strategy.TopN()))
				if err != nil {
					return nil, err
				}
				return result, nil
			}

			answer, docs, err := d.Engine.AOMAKnowledgeFast(ctx, d.VectorStoreID, query, strategy, additionalContext)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"answer": answer, "sourceDocuments": docs}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "search_jira_tickets",
		Description: "Search Jira tickets by semantic similarity with a text-search fallback.",
		InputSchema: map[string]interface{}{
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query":      map[string]interface{}{"type": "string"},
				"projectKey": map[string]interface{}{"type": "string"},
				"status":     map[string]interface{}{"type": "array"},
				"priority":   map[string]interface{}{"type": "array"},
				"maxResults": map[string]interface{}{"type": "integer"},
				"threshold":  map[string]interface{}{"type": "number"},
			},
		},
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, err := requiredString(args, "query")
			if err != nil {
				return nil, err
			}
			projectKey, _ := args["projectKey"].(string)
			status := toStringSlice(args["status"])
			priority := toStringSlice(args["priority"])
			maxResults := clampInt(args["maxResults"], 20, 50)
			threshold := clampFloat(args["threshold"], 0.5)

			tickets, err := d.Engine.JiraSearch(ctx, query, projectKey, status, priority, maxResults, threshold)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"tickets": tickets, "count": len(tickets)}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "get_jira_ticket_count",
		Description: "Count Jira tickets matching the given filters, with a per-project breakdown when no project is specified.",
		InputSchema: map[string]interface{}{
			"properties": map[string]interface{}{
				"projectKey": map[string]interface{}{"type": "string"},
				"status":     map[string]interface{}{"type": "array"},
				"priority":   map[string]interface{}{"type": "array"},
			},
		},
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			projectKey, _ := args["projectKey"].(string)
			status := toStringSlice(args["status"])
			priority := toStringSlice(args["priority"])
			total, breakdown, err := d.Engine.JiraCount(ctx, projectKey, status, priority)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"totalCount": total, "projectBreakdown": breakdown}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "search_git_commits",
		Description: "Semantic search over git commit history.",
		InputSchema: map[string]interface{}{
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query":       map[string]interface{}{"type": "string"},
				"repository":  map[string]interface{}{"type": "array"},
				"author":      map[string]interface{}{"type": "array"},
				"dateFrom":    map[string]interface{}{"type": "string"},
				"dateTo":      map[string]interface{}{"type": "string"},
				"filePattern": map[string]interface{}{"type": "string"},
				"maxResults":  map[string]interface{}{"type": "integer"},
				"threshold":   map[string]interface{}{"type": "number"},
			},
		},
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, err := requiredString(args, "query")
			if err != nil {
				return nil, err
			}
			repository := toStringSlice(args["repository"])
			author := toStringSlice(args["author"])
			dateFrom, _ := args["dateFrom"].(string)
			dateTo, _ := args["dateTo"].(string)
			filePattern, _ := args["filePattern"].(string)
			maxResults := clampInt(args["maxResults"], 20, 100)
			threshold := clampFloat(args["threshold"], 0.5)

			commits, err := d.Engine.GitCommitSearch(ctx, query, repository, author, dateFrom, dateTo, filePattern, maxResults, threshold)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"commits": commits, "count": len(commits)}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "search_code_files",
		Description: "Semantic search over indexed code files.",
		InputSchema: map[string]interface{}{
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query":         map[string]interface{}{"type": "string"},
				"repository":    map[string]interface{}{"type": "array"},
				"language":      map[string]interface{}{"type": "array"},
				"fileExtension": map[string]interface{}{"type": "array"},
				"maxResults":    map[string]interface{}{"type": "integer"},
				"threshold":     map[string]interface{}{"type": "number"},
			},
		},
		Cacheable: true,
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, err := requiredString(args, "query")
			if err != nil {
				return nil, err
			}
			repository := toStringSlice(args["repository"])
			language := toStringSlice(args["language"])
			fileExtension := toStringSlice(args["fileExtension"])
			maxResults := clampInt(args["maxResults"], 20, 100)
			threshold := clampFloat(args["threshold"], 0.5)

			files, err := d.Engine.CodeFileSearch(ctx, query, repository, language, fileExtension, maxResults, threshold)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"files": files, "count": len(files)}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "analyze_development_context",
		Description: "Run a one-shot assistant thread over a structured development-context prompt.",
		InputSchema: map[string]interface{}{
			"required": []string{"currentTask"},
			"properties": map[string]interface{}{
				"currentTask": map[string]interface{}{"type": "string"},
				"codeContext": map[string]interface{}{"type": "string"},
				"systemArea":  map[string]interface{}{"type": "string", "enum": []string{"frontend", "backend", "database", "infrastructure", "integration", "testing"}},
				"urgency":     map[string]interface{}{"type": "string"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			currentTask, err := requiredString(args, "currentTask")
			if err != nil {
				return nil, err
			}
			codeContext, _ := args["codeContext"].(string)
			systemArea, _ := args["systemArea"].(string)
			urgency, _ := args["urgency"].(string)

			var prompt strings.Builder
			prompt.WriteString("Current task: " + currentTask + "\n")
			if systemArea != "" {
				prompt.WriteString("System area: " + systemArea + "\n")
			}
			if urgency != "" {
				prompt.WriteString("Urgency: " + urgency + "\n")
			}
			if codeContext != "" {
				prompt.WriteString("Code context:\n" + codeContext + "\n")
			}
			answer, err := d.LLM.AssistantRun(ctx, d.AssistantID, prompt.String(), "", nil)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"analysis": answer}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "get_system_health",
		Description: "Report the aggregate health of upstream services and current metrics.",
		InputSchema: map[string]interface{}{
			"properties": map[string]interface{}{
				"includeMetrics":     map[string]interface{}{"type": "boolean"},
				"includeDiagnostics": map[string]interface{}{"type": "boolean"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			status := d.Health.Latest(ctx)
			return status, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "get_server_capabilities",
		Description: "Describe the registered tool catalog.",
		InputSchema: map[string]interface{}{
			"properties": map[string]interface{}{
				"includeExamples": map[string]interface{}{"type": "boolean"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			descriptors := d.Registry.List()
			names := make([]string, 0, len(descriptors))
			for _, desc := range descriptors {
				names = append(names, desc.Name)
			}
			return map[string]interface{}{"tools": descriptors, "toolCount": len(names)}, nil
		},
	})

	r.Register(&Descriptor{
		Name:        "swarm_analyze_cross_vector",
		Description: "Run the multi-agent swarm controller and compute cross-vector correlations.",
		InputSchema: map[string]interface{}{
			"required": []string{"query"},
			"properties": map[string]interface{}{
				"query":                   map[string]interface{}{"type": "string"},
				"primaryAgent":            map[string]interface{}{"type": "string"},
				"contextStrategy":         map[string]interface{}{"type": "string", "enum": []string{"isolated", "shared", "selective_handoff"}},
				"maxAgentHops":            map[string]interface{}{"type": "integer"},
				"enableMemoryPersistence": map[string]interface{}{"type": "boolean"},
			},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (interface{}, error) {
			query, err := requiredString(args, "query")
			if err != nil {
				return nil, err
			}
			primaryAgent, _ := args["primaryAgent"].(string)
			maxHops := clampInt(args["maxAgentHops"], 5, 10)

			result, err := d.Swarm.Analyze(ctx, query, swarm.Agent(primaryAgent), maxHops)
			if err != nil {
				return nil, err
			}
			return result, nil
		},
	})
}

func requiredString(args map[string]interface{}, field string) (string, error) {
	v, ok := args[field].(string)
	if !ok || strings.TrimSpace(v) == "" {
		return "", errs.InvalidParams(errs.FieldError{Path: field, Message: "must be a non-empty string"})
	}
	return strings.TrimSpace(v), nil
}

func parseStrategy(v interface{}) domain.Strategy {
	s, _ := v.(string)
	switch domain.Strategy(s) {
	case domain.StrategyFocused:
		return domain.StrategyFocused
	case domain.StrategyRapid:
		return domain.StrategyRapid
	default:
		return domain.StrategyComprehensive
	}
}

func toStringSlice(v interface{}) []string {
	switch vv := v.(type) {
	case []string:
		return vv
	case []interface{}:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

func clampInt(v interface{}, def, max int) int {
	n := def
	switch vv := v.(type) {
	case int:
		n = vv
	case int64:
		n = int(vv)
	case float64:
		n = int(vv)
	}
	if n <= 0 {
		n = def
	}
	if n > max {
		n = max
	}
	return n
}

func clampFloat(v interface{}, def float64) float64 {
	n := def
	switch vv := v.(type) {
	case float64:
		n = vv
	case float32:
		n = float64(vv)
	}
	if n < 0 {
		n = 0
	}
	if n > 1 {
		n = 1
	}
	return n
}
