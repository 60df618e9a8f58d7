// Package stdio implements the line-delimited JSON-RPC 2.0 transport:
// one JSON object per line on stdin, one response per line on stdout
// (spec §4.3, §6.1). There is no JSON-RPC framing library in the
// example corpus, so this is a direct encoding/json + bufio.Scanner
// implementation, matching the teacher's preference for small, explicit
// stdlib I/O loops elsewhere in its codebase.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"

	"github.com/aoma-mesh/mcp-server/internal/errs"
	"github.com/aoma-mesh/mcp-server/internal/logging"
	"github.com/aoma-mesh/mcp-server/internal/toolregistry"
)

// Envelope is a JSON-RPC 2.0 request or response object.
type Envelope struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError mirrors the JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ResourceDescriptor documents one aoma:// URI for resources/list.
type ResourceDescriptor struct {
	URI      string `json:"uri"`
	Name     string `json:"name"`
	MimeType string `json:"mimeType"`
}

// ResourceReader produces the contents of one resource URI on demand.
type ResourceReader func(ctx context.Context, uri string) (mimeType string, text string, err error)

// Server drives the stdio loop against a shared tool registry and a
// fixed resource catalog.
type Server struct {
	Registry  *toolregistry.Registry
	Resources []ResourceDescriptor
	ReadFn    ResourceReader
}

// Run blocks, reading one JSON-RPC request per line from r and writing
// one response per line to w, until r is exhausted or ctx is cancelled.
// Cancellation is checked after each line is read, so a Run blocked
// waiting for input returns only once the next line or EOF arrives.
func (s *Server) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Envelope
		if err := json.Unmarshal(line, &req); err != nil {
			_ = encoder.Encode(Envelope{JSONRPC: "2.0", Error: &RPCError{Code: -32600, Message: "invalid request: " + err.Error()}})
			continue
		}

		resp := s.dispatch(ctx, req)
		if err := encoder.Encode(resp); err != nil {
			logging.GetLogger().Error().Err(err).Msg("failed to write stdio response")
		}
	}
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req Envelope) Envelope {
	resp := Envelope{JSONRPC: "2.0", ID: req.ID}

	switch req.Method {
	case "tools/list":
		resp.Result = map[string]interface{}{"tools": s.Registry.List()}

	case "tools/call":
		var params struct {
			Name      string                 `json:"name"`
			Arguments map[string]interface{} `json:"arguments"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}
			return resp
		}
		result, err := s.Registry.Call(ctx, params.Name, params.Arguments)
		if err != nil {
			resp.Error = toRPCError(err)
			return resp
		}
		resp.Result = result

	case "resources/list":
		resp.Result = map[string]interface{}{"resources": s.Resources}

	case "resources/read":
		var params struct {
			URI string `json:"uri"`
		}
		if err := json.Unmarshal(req.Params, &params); err != nil {
			resp.Error = &RPCError{Code: -32602, Message: "invalid params: " + err.Error()}
			return resp
		}
		if s.ReadFn == nil {
			resp.Error = &RPCError{Code: -32601, Message: "resources/read not configured"}
			return resp
		}
		mimeType, text, err := s.ReadFn(ctx, params.URI)
		if err != nil {
			resp.Error = toRPCError(err)
			return resp
		}
		resp.Result = map[string]interface{}{
			"contents": []map[string]interface{}{
				{"uri": params.URI, "mimeType": mimeType, "text": text},
			},
		}

	default:
		resp.Error = &RPCError{Code: -32601, Message: "method not found: " + req.Method}
	}
	return resp
}

// toRPCError maps the abstract error taxonomy onto JSON-RPC 2.0 codes
// (spec §4.3, §7).
func toRPCError(err error) *RPCError {
	e := errs.As(err)
	return &RPCError{Code: e.Kind.JSONRPCCode(), Message: e.Message}
}
