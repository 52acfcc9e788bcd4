package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/roelfdiedericks/modelgate/internal/advice"
	"github.com/roelfdiedericks/modelgate/internal/idiom"
	"github.com/roelfdiedericks/modelgate/internal/llm"
	. "github.com/roelfdiedericks/modelgate/internal/logging"
	"github.com/roelfdiedericks/modelgate/internal/models"
	"github.com/roelfdiedericks/modelgate/internal/turns"
)

// Version is reported in the initialize handshake.
const Version = "1.0.0"

// maxLineBytes bounds one request line (large prompts included).
const maxLineBytes = 16 * 1024 * 1024

// Server reads requests line by line and answers each exactly once.
// Handlers run concurrently; the output writer is serialized.
type Server struct {
	registry   *models.Registry
	generators map[models.Provider]llm.Generator
	engine     *advice.Engine
	runner     *turns.Runner
	advisor    *idiom.Advisor

	in  io.Reader
	out io.Writer

	writeMu sync.Mutex
	wg      sync.WaitGroup
}

// NewServer wires the gateway over the given transports.
func NewServer(registry *models.Registry, generators map[models.Provider]llm.Generator, engine *advice.Engine, runner *turns.Runner, advisor *idiom.Advisor, in io.Reader, out io.Writer) *Server {
	return &Server{
		registry:   registry,
		generators: generators,
		engine:     engine,
		runner:     runner,
		advisor:    advisor,
		in:         in,
		out:        out,
	}
}

// Run serves until the input closes or ctx is cancelled, then waits for
// in-flight handlers so their work reaches the store.
func (s *Server) Run(ctx context.Context) error {
	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		// Scanner reuses its buffer across lines.
		buf := make([]byte, len(line))
		copy(buf, line)

		s.dispatch(ctx, buf)
	}

	s.wg.Wait()
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("gateway: read input: %w", err)
	}
	return nil
}

// dispatch parses one line and hands requests to a handler goroutine.
// Handlers for different requests never wait on each other.
func (s *Server) dispatch(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		// Salvage the id if the envelope is JSON but the shape is wrong.
		var probe map[string]json.RawMessage
		if jerr := json.Unmarshal(line, &probe); jerr == nil {
			if id, ok := probe["id"]; ok && string(id) != "null" {
				s.write(&Response{JSONRPC: "2.0", ID: id, Error: rpcError(CodeParseError, "Parse error: %v", err)})
				return
			}
		}
		L_warn("gateway: dropping malformed line", "error", err)
		return
	}

	if req.Method == "" {
		if !req.IsNotification() {
			s.write(&Response{JSONRPC: "2.0", ID: req.ID, Error: rpcError(CodeInvalidRequest, "Invalid Request: missing method")})
		}
		return
	}

	if req.IsNotification() {
		L_debug("gateway: notification ignored", "method", req.Method)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.handle(ctx, &req)
	}()
}

func (s *Server) handle(ctx context.Context, req *Request) {
	defer func() {
		if r := recover(); r != nil {
			L_error("gateway: handler panic", "method", req.Method, "panic", r)
			s.write(&Response{JSONRPC: "2.0", ID: req.ID, Error: rpcError(CodeInternalError, "internal error")})
		}
	}()

	var (
		result interface{}
		rpcErr *RPCError
	)

	switch req.Method {
	case "initialize":
		result = map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "modelgate", "version": Version},
			"capabilities":    map[string]interface{}{"tools": map[string]interface{}{}},
		}
	case "tools/list":
		result = map[string]interface{}{"tools": toolList()}
	case "tools/call":
		result, rpcErr = s.callTool(ctx, req.Params)
	default:
		rpcErr = rpcError(CodeMethodNotFound, "Method not found: %s", req.Method)
	}

	resp := &Response{JSONRPC: "2.0", ID: req.ID}
	if rpcErr != nil {
		resp.Error = rpcErr
	} else {
		resp.Result = result
	}
	s.write(resp)
}

func (s *Server) callTool(ctx context.Context, raw json.RawMessage) (interface{}, *RPCError) {
	var params toolCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, rpcError(CodeInvalidParams, "invalid tools/call params: %v", err)
	}

	L_debug("gateway: tool call", "tool", params.Name)
	switch params.Name {
	case "models":
		return orNil(s.callModels(ctx, params.Arguments))
	case "advice":
		return orNil(s.callAdvice(ctx, params.Arguments))
	case "idiom":
		return orNil(s.callIdiom(ctx, params.Arguments))
	default:
		return nil, rpcError(CodeMethodNotFound, "Unknown tool: %s", params.Name)
	}
}

// orNil keeps the typed-nil ToolResult out of the interface result.
func orNil(result *ToolResult, rpcErr *RPCError) (interface{}, *RPCError) {
	if rpcErr != nil {
		return nil, rpcErr
	}
	return result, nil
}

func (s *Server) write(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		L_error("gateway: marshal response", "error", err)
		return
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(append(data, '\n')); err != nil {
		L_error("gateway: write response", "error", err)
	}
}
