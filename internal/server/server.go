// Package server wires every component together: config validation,
// client construction, metrics, the tool registry, both transports, and
// the startup/shutdown sequence (spec §4.10).
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/aoma-mesh/mcp-server/internal/cache"
	"github.com/aoma-mesh/mcp-server/internal/config"
	"github.com/aoma-mesh/mcp-server/internal/dbclient"
	"github.com/aoma-mesh/mcp-server/internal/health"
	"github.com/aoma-mesh/mcp-server/internal/llmclient"
	"github.com/aoma-mesh/mcp-server/internal/logging"
	"github.com/aoma-mesh/mcp-server/internal/metrics"
	"github.com/aoma-mesh/mcp-server/internal/orchestrator"
	"github.com/aoma-mesh/mcp-server/internal/retrieval"
	"github.com/aoma-mesh/mcp-server/internal/swarm"
	"github.com/aoma-mesh/mcp-server/internal/toolregistry"
	"github.com/aoma-mesh/mcp-server/internal/transport/httptransport"
	"github.com/aoma-mesh/mcp-server/internal/transport/stdio"
)

const drainWindow = 500 * time.Millisecond

// setupTracing installs a process-wide TracerProvider so every
// toolregistry span (spec §4.4) actually reaches a sampler instead of the
// otel no-op default. No OTLP exporter is wired: the pack has no
// collector endpoint to ship spans to, so spans are sampled and
// discarded in-process, matching the no-endpoint branch the gomind
// example falls back to.
func setupTracing(version string) *sdktrace.TracerProvider {
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		attribute.String("service.name", "aoma-mcp-server"),
		attribute.String("service.version", version),
	))
	if err != nil {
		res = resource.Default()
	}
	provider := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(provider)
	return provider
}

// Server is the assembled process: every owned resource plus the
// listeners built on top of them.
type Server struct {
	Env        *config.Environment
	Metrics    *metrics.Metrics
	Cache      *cache.Cache
	Health     *health.Checker
	Registry   *toolregistry.Registry
	Allowlist  *httptransport.RateLimitAllowlist
	DB         *dbclient.Client
	LLM        *llmclient.Client
	httpServer *http.Server
	stdioCancel context.CancelFunc
	tracerProvider *sdktrace.TracerProvider
}

// Build validates the environment, constructs every upstream client,
// and assembles the tool registry. It does not start any listener.
func Build(ctx context.Context) (*Server, error) {
	env, validationErrs := config.Load()
	if len(validationErrs) > 0 {
		return nil, fmt.Errorf("%s", config.DiffReport(validationErrs))
	}

	logging.Configure(logging.ParseLevel(env.LogLevel), env.Production)
	logging.GetLogger().Info().Str("version", env.BuildVersion).Msg("environment validated")

	tp := setupTracing(env.BuildVersion)

	db, err := dbclient.Connect(ctx, env.DBURL, env.DBServiceKey, env.MaxRetries)
	if err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	llm := llmclient.New(env.LLMAPIKey, env.Timeout, env.MaxRetries)

	reg := prometheus.NewRegistry()
	m := metrics.New(env.BuildVersion, reg)
	c := cache.New()

	checker := &health.Checker{LLM: llm, DB: db, Metrics: m, VectorStoreID: env.VectorStoreID}

	engine := &retrieval.Engine{LLM: llm, DB: db, JiraBaseURL: env.JiraBaseURL}
	orch := &orchestrator.Orchestrator{Engine: engine, LLM: llm}
	swarmController := &swarm.Controller{Engine: engine, LLM: llm, AssistantID: env.AssistantID, VectorStoreID: env.VectorStoreID}

	allowlist, err := httptransport.LoadRateLimitAllowlist()
	if err != nil {
		return nil, fmt.Errorf("loading rate-limit allowlist: %w", err)
	}

	registry := toolregistry.New(m, c, env.Timeout)
	toolregistry.RegisterBuiltins(toolregistry.Deps{
		Engine:        engine,
		Orchestrator:  orch,
		Swarm:         swarmController,
		LLM:           llm,
		Health:        checker,
		VectorStoreID: env.VectorStoreID,
		AssistantID:   env.AssistantID,
		Registry:      registry,
	})

	return &Server{
		Env:            env,
		Metrics:        m,
		Cache:          c,
		Health:         checker,
		Registry:       registry,
		Allowlist:      allowlist,
		DB:             db,
		LLM:            llm,
		tracerProvider: tp,
	}, nil
}

// Start runs the one-shot readiness probe, starts the HTTP listener,
// optionally connects stdio in non-production, and begins the
// background health timer. It blocks until the process receives
// SIGINT/SIGTERM/SIGHUP or ctx is cancelled, then runs Shutdown (spec
// §4.10).
func (s *Server) Start(ctx context.Context) error {
	initial := s.Health.Probe(ctx)
	if initial.Status == "unhealthy" {
		return fmt.Errorf("startup health probe failed: all upstream services unreachable")
	}

	httpSrv := httptransport.New(fmt.Sprintf(":%d", s.Env.HTTPPort), &httptransport.Server{
		Registry:   s.Registry,
		Health:     s.Health,
		Version:    s.Env.BuildVersion,
		Production: s.Env.Production,
		Allowlist:  s.Allowlist,
	})
	s.httpServer = httpSrv

	go func() {
		logging.GetLogger().Info().Int("port", s.Env.HTTPPort).Msg("http listener starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.GetLogger().Error().Err(err).Msg("http listener stopped unexpectedly")
		}
	}()

	if !s.Env.Production {
		stdioCtx, cancel := context.WithCancel(ctx)
		s.stdioCancel = cancel
		go func() {
			stdioSrv := &stdio.Server{Registry: s.Registry, Resources: defaultResources(), ReadFn: s.readResource}
			if err := stdioSrv.Run(stdioCtx, os.Stdin, os.Stdout); err != nil {
				logging.GetLogger().Warn().Err(err).Msg("stdio transport exited")
			}
		}()
	}

	s.Health.StartBackground(s.Env.HealthInterval)
	logging.GetLogger().Info().Msg("server ready")

	s.waitForSignal(ctx)
	return nil
}

func (s *Server) waitForSignal(ctx context.Context) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	select {
	case sig := <-sigCh:
		logging.GetLogger().Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}
	s.Shutdown()
}

// Shutdown stops accepting new connections, drains in-flight handlers,
// closes the stdio transport, and cancels the health timer.
func (s *Server) Shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainWindow)
	defer cancel()

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			logging.GetLogger().Warn().Err(err).Msg("http shutdown did not complete cleanly")
		}
	}
	if s.stdioCancel != nil {
		s.stdioCancel()
	}
	s.Health.Stop()
	s.Cache.Close()
	s.DB.Close()
	if s.tracerProvider != nil {
		if err := s.tracerProvider.Shutdown(shutdownCtx); err != nil {
			logging.GetLogger().Warn().Err(err).Msg("tracer provider shutdown did not complete cleanly")
		}
	}
	logging.GetLogger().Info().Msg("shutdown complete")
}

func defaultResources() []stdio.ResourceDescriptor {
	return []stdio.ResourceDescriptor{
		{URI: "aoma://health", Name: "health", MimeType: "application/json"},
		{URI: "aoma://metrics", Name: "metrics", MimeType: "application/json"},
		{URI: "aoma://config", Name: "config", MimeType: "application/json"},
		{URI: "aoma://docs", Name: "docs", MimeType: "text/markdown"},
	}
}

func (s *Server) readResource(ctx context.Context, uri string) (string, string, error) {
	switch uri {
	case "aoma://health":
		return "application/json", toJSON(s.Health.Latest(ctx)), nil
	case "aoma://metrics":
		return "application/json", toJSON(s.Metrics.Snapshot()), nil
	case "aoma://config":
		return "application/json", toJSON(s.nonSecretConfig()), nil
	case "aoma://docs":
		return "text/markdown", s.renderDocs(), nil
	default:
		return "", "", fmt.Errorf("unknown resource: %s", uri)
	}
}

func (s *Server) nonSecretConfig() map[string]interface{} {
	return map[string]interface{}{
		"httpPort":       s.Env.HTTPPort,
		"logLevel":       s.Env.LogLevel,
		"maxRetries":     s.Env.MaxRetries,
		"timeout":        s.Env.Timeout.String(),
		"buildVersion":   s.Env.BuildVersion,
		"healthInterval": s.Env.HealthInterval.String(),
	}
}

func toJSON(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(b)
}

// renderDocs produces a human-readable manual enumerating the
// registered tools; the format is descriptive only (spec §7 open
// question).
func (s *Server) renderDocs() string {
	doc := "# aoma-mcp-server tool catalog\n\n"
	for _, d := range s.Registry.List() {
		doc += fmt.Sprintf("## %s\n\n%s\n\n", d.Name, d.Description)
	}
	return doc
}
