// Package httptransport exposes the server's HTTP/JSON surface: health,
// metrics, the JSON-RPC envelope endpoint, direct tool invocation,
// discovery, and registry endpoints (spec §4.3, §6.2). Middleware is
// grounded on the teacher's internal/webui/middleware.go (CORS,
// security headers, request logging, panic recovery), generalized with
// an IP-keyed rate limiter built on golang.org/x/time/rate.
package httptransport

import (
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/health"
	"github.com/aoma-mesh/mcp-server/internal/logging"
	"github.com/aoma-mesh/mcp-server/internal/toolregistry"
)

const (
	rateLimitRequests = 1000
	rateLimitWindow   = 15 * time.Minute
	serverName        = "aoma-mcp-server"
)

// Server owns the mux, the tool registry, and the rate limiter state.
type Server struct {
	Registry    *toolregistry.Registry
	Health      *health.Checker
	Version     string
	Production  bool
	CORSAllow   []string
	Allowlist   *RateLimitAllowlist
	httpServer  *http.Server
	limiters    map[string]*rate.Limiter
	limitersMu  sync.Mutex
}

// New builds the mux with every route wired and middleware applied.
func New(addr string, s *Server) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	mux.HandleFunc("POST /rpc", s.handleRPC)
	mux.HandleFunc("POST /tools/{name}", s.handleToolCall)
	mux.HandleFunc("GET /tools", s.handleListTools)
	mux.HandleFunc("GET /.well-known/mcp", s.handleDiscovery)
	mux.HandleFunc("GET /registry", s.handleRegistry)

	s.limiters = make(map[string]*rate.Limiter)
	handler := s.withMiddleware(mux)

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s.httpServer
}

func (s *Server) withMiddleware(next http.Handler) http.Handler {
	handler := next
	handler = s.withLogging(handler)
	handler = s.withErrorRecovery(handler)
	handler = s.withRateLimit(handler)
	handler = s.withCORS(handler)
	handler = s.withSecurityHeaders(handler)
	return handler
}

func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if !s.Production {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed(s.CORSAllow, origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func allowed(allowlist []string, origin string) bool {
	for _, a := range allowlist {
		if a == origin {
			return true
		}
	}
	return false
}

func (s *Server) withSecurityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapper := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapper, r)
		logging.GetLogger().Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Str("remoteAddr", r.RemoteAddr).
			Int("statusCode", wrapper.statusCode).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *Server) withErrorRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logging.GetLogger().Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Msg("panic recovered in http handler")
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// withRateLimit enforces a 1000-request/15-minute token bucket per
// client IP (spec §4.3, §6.2).
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if s.Allowlist.exempt(ip) {
			next.ServeHTTP(w, r)
			return
		}
		if !s.limiterFor(ip).Allow() {
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) limiterFor(ip string) *rate.Limiter {
	s.limitersMu.Lock()
	defer s.limitersMu.Unlock()
	l, ok := s.limiters[ip]
	if !ok {
		perSecond := rate.Limit(float64(rateLimitRequests) / rateLimitWindow.Seconds())
		l = rate.NewLimiter(perSecond, rateLimitRequests)
		s.limiters[ip] = l
	}
	return l
}

func clientIP(r *http.Request) string {
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	return r.RemoteAddr
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := s.Health.Latest(r.Context())
	code := http.StatusOK
	if status.Status != "healthy" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Health.Latest(r.Context()).Metrics)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var req struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      interface{}     `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "invalid json body"})
		return
	}
	if req.Method != "tools/call" {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": "unsupported method: " + req.Method})
		return
	}

	var params struct {
		Name      string                 `json:"name"`
		Arguments map[string]interface{} `json:"arguments"`
	}
	if err := json.Unmarshal(req.Params, &params); err != nil {
		writeRPCError(w, req.ID, -32602, "invalid params")
		return
	}

	result, err := s.Registry.Call(r.Context(), params.Name, params.Arguments)
	if err != nil {
		e := errs.As(err)
		writeRPCError(w, req.ID, e.Kind.JSONRPCCode(), e.Message)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
}

func (s *Server) handleToolCall(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	var args map[string]interface{}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&args); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}
	result, err := s.Registry.Call(r.Context(), name, args)
	if err != nil {
		e := errs.As(err)
		writeError(w, e.Kind.HTTPStatus(), e.Message)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": s.Registry.List()})
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	descriptors := s.Registry.List()
	capabilities := make([]string, 0, len(descriptors))
	for _, d := range descriptors {
		capabilities = append(capabilities, d.Name)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        serverName,
		"version":     s.Version,
		"endpoints":   []string{"/health", "/metrics", "/rpc", "/tools", "/tools/{name}", "/.well-known/mcp", "/registry"},
		"capabilities": capabilities,
		"lastUpdated": time.Now().UTC(),
	})
}

func (s *Server) handleRegistry(w http.ResponseWriter, r *http.Request) {
	status := s.Health.Latest(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":    serverName,
		"version": s.Version,
		"tools":   s.Registry.List(),
		"health":  status.Status,
	})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, map[string]interface{}{"error": message, "timestamp": time.Now().UTC()})
}

func writeRPCError(w http.ResponseWriter, id interface{}, code int, message string) {
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
		"jsonrpc": "2.0", "id": id,
		"error": map[string]interface{}{"code": code, "message": message},
	})
}
