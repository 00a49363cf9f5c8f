package rpc

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/metrics"
	"github.com/kailas-cloud/ragmcp/internal/usecase/ingest"
	"github.com/kailas-cloud/ragmcp/internal/version"
)

// Defaults applied to tool arguments the caller omits.
const (
	DefaultSourcePath = "mcp-ingest"
	DefaultCollection = "rag-collection"
	DefaultLimit      = 3
)

// Ingester backs the inject tool.
type Ingester interface {
	Ingest(ctx context.Context, text, sourcePath, collection string) (ingest.Result, error)
}

// Retriever backs the query tool.
type Retriever interface {
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float64) ([]domain.SearchResult, error)
}

// ServerConfig tunes tool defaults and framing.
type ServerConfig struct {
	DefaultCollection string
	DefaultLimit      int
	ScoreThreshold    float64
	MaxLineBytes      int
}

// Server answers requests read from a stream, one at a time.
type Server struct {
	ingester  Ingester
	retriever Retriever
	cfg       ServerConfig
	info      ServerInfo
	logger    *zap.Logger
}

// NewServer creates a server over the ingestion and retrieval services.
// Zero config fields take the package defaults; ScoreThreshold is used as given.
func NewServer(ing Ingester, ret Retriever, cfg ServerConfig) *Server {
	if cfg.DefaultCollection == "" {
		cfg.DefaultCollection = DefaultCollection
	}
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = DefaultLimit
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	return &Server{
		ingester:  ing,
		retriever: ret,
		cfg:       cfg,
		info:      ServerInfo{Name: version.ServerName, Version: version.Version},
		logger:    zap.NewNop(),
	}
}

// WithLogger sets the logger.
func (s *Server) WithLogger(l *zap.Logger) *Server {
	if l != nil {
		s.logger = l
	}
	return s
}

type scanned struct {
	line    []byte
	tooLong bool
	err     error
}

// Serve reads requests from r and writes one response line per request to w
// until r reaches EOF (nil error) or ctx is cancelled (ctx.Err()).
// Malformed or oversized lines get an error response and the loop continues.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan scanned)
	go s.scan(ctx, r, lines)

	out := bufio.NewWriter(w)
	s.logger.Info("RPC server listening", zap.String("version", s.info.Version))

	for {
		var in scanned
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case in, ok = <-lines:
		}
		if !ok {
			s.logger.Info("RPC input closed")
			return nil
		}
		if in.err != nil {
			return fmt.Errorf("read request: %w", in.err)
		}

		var resp *Response
		if in.tooLong {
			resp = s.oversized()
		} else {
			resp = s.handleLine(ctx, in.line)
		}
		if resp == nil {
			continue
		}
		if err := writeLine(out, resp); err != nil {
			return fmt.Errorf("write response: %w", err)
		}
	}
}

func (s *Server) scan(ctx context.Context, r io.Reader, lines chan<- scanned) {
	defer close(lines)
	br := bufio.NewReaderSize(r, min(64<<10, s.cfg.MaxLineBytes+1))
	for {
		line, tooLong, err := readLine(br, s.cfg.MaxLineBytes)
		var in *scanned
		switch {
		case tooLong:
			in = &scanned{tooLong: true}
		case len(bytes.TrimSpace(line)) > 0:
			in = &scanned{line: bytes.TrimSpace(line)}
		}
		if in != nil {
			select {
			case lines <- *in:
			case <-ctx.Done():
				return
			}
		}
		if err == nil {
			continue
		}
		if !errors.Is(err, io.EOF) {
			select {
			case lines <- scanned{err: err}:
			case <-ctx.Done():
			}
		}
		return
	}
}

// readLine returns the next line without its terminator. A line longer than
// limit is consumed up to its newline and reported as tooLong with no data.
func readLine(br *bufio.Reader, limit int) ([]byte, bool, error) {
	var (
		line    []byte
		tooLong bool
	)
	for {
		chunk, err := br.ReadSlice('\n')
		if !tooLong {
			line = append(line, chunk...)
			if len(bytes.TrimSuffix(line, []byte("\n"))) > limit {
				tooLong, line = true, nil
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		return bytes.TrimSuffix(line, []byte("\n")), tooLong, err
	}
}

func (s *Server) oversized() *Response {
	s.logger.Warn("Request line too long", zap.Int("limit", s.cfg.MaxLineBytes))
	metrics.RPCRequestsTotal.WithLabelValues("", "", strconv.Itoa(CodeParseError)).Inc()
	return &Response{ID: 0, Error: newError(CodeParseError, "request line exceeds %d bytes", s.cfg.MaxLineBytes)}
}

func writeLine(w *bufio.Writer, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return err
	}
	return w.Flush()
}

// handleLine decodes and dispatches one request. Nil means no response
// (notifications).
func (s *Server) handleLine(ctx context.Context, line []byte) *Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.logger.Warn("Malformed request line", zap.Int("bytes", len(line)), zap.Error(err))
		metrics.RPCRequestsTotal.WithLabelValues("", "", strconv.Itoa(CodeParseError)).Inc()
		return &Response{ID: 0, Error: newError(CodeParseError, "parse error: %v", err)}
	}
	if strings.HasPrefix(req.Method, notificationsPref) {
		s.logger.Debug("Notification received", zap.String("method", req.Method))
		return nil
	}
	return s.Handle(ctx, req)
}

// Handle dispatches a decoded request and always returns a response.
func (s *Server) Handle(ctx context.Context, req Request) *Response {
	start := time.Now()
	log := s.logger.With(zap.Int64("id", req.ID), zap.String("method", req.Method))

	var (
		result any
		tool   string
		err    error
	)
	switch req.Method {
	case MethodInitialize:
		result = s.initialize(req.Params, log)
	case MethodToolsList:
		result = ToolsListResult{Tools: Tools()}
	case MethodToolsCall:
		tool, result, err = s.callTool(ctx, req.Params, log)
	default:
		err = newError(CodeMethodNotFound, "method not found: %s", req.Method)
	}

	resp := &Response{ID: req.ID}
	code := 0
	if err == nil {
		resp.Result, err = json.Marshal(result)
		if err != nil {
			err = fmt.Errorf("encode result: %w", err)
		}
	}
	if err != nil {
		resp.Result = nil
		resp.Error = codeFor(err)
		code = resp.Error.Code
	}

	elapsed := time.Since(start)
	metrics.RPCRequestsTotal.WithLabelValues(req.Method, tool, strconv.Itoa(code)).Inc()
	metrics.RPCRequestDuration.WithLabelValues(req.Method, tool).Observe(elapsed.Seconds())

	if resp.Error != nil {
		log.Warn("RPC request failed",
			zap.String("tool", tool),
			zap.Int("code", resp.Error.Code),
			zap.String("error", resp.Error.Message),
			zap.Duration("duration", elapsed),
		)
	} else {
		log.Info("RPC request", zap.String("tool", tool), zap.Duration("duration", elapsed))
	}
	return resp
}

func (s *Server) initialize(params json.RawMessage, log *zap.Logger) InitializeResult {
	var p InitializeParams
	if len(params) > 0 {
		// Client info is informational; a malformed value does not fail the handshake.
		if err := json.Unmarshal(params, &p); err != nil {
			log.Debug("Ignoring malformed initialize params", zap.Error(err))
		}
	}
	log.Info("Client connected",
		zap.String("client", p.ClientInfo.Name),
		zap.String("client_version", p.ClientInfo.Version),
	)
	return InitializeResult{
		ProtocolVersion: ProtocolVersion,
		ServerInfo:      s.info,
		Capabilities:    map[string]any{"tools": map[string]any{}},
	}
}

func (s *Server) callTool(ctx context.Context, params json.RawMessage, log *zap.Logger) (string, any, error) {
	var call ToolCall
	if len(params) > 0 {
		if err := json.Unmarshal(params, &call); err != nil {
			return "", nil, newError(CodeInvalidParams, "invalid tool call params: %v", err)
		}
	}
	args, err := call.DecodeArgs()
	if err != nil {
		return strings.ToLower(call.Name), nil, err
	}

	switch a := args.(type) {
	case InjectArgs:
		res, err := s.inject(ctx, a, log)
		return ToolInject, res, err
	case QueryArgs:
		res, err := s.query(ctx, a)
		return ToolQuery, res, err
	default:
		return "", nil, newError(CodeMethodNotFound, "tool not found: %s", call.Name)
	}
}

func (s *Server) inject(ctx context.Context, a InjectArgs, log *zap.Logger) (ToolResult, error) {
	source := DefaultSourcePath
	if a.Metadata != nil && a.Metadata.Filename != "" {
		source = a.Metadata.Filename
	}
	collection := a.Collection
	if collection == "" {
		collection = s.cfg.DefaultCollection
	}

	res, err := s.ingester.Ingest(ctx, a.Text, source, collection)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			return ToolResult{}, err
		}
		return ToolResult{}, newError(CodeInternal, "inject failed after %d chunks: %v", res.Written, err)
	}
	if res.Skipped {
		log.Info("Inject skipped unsupported content", zap.String("source_path", source))
		return textResult("Skipped: unsupported content"), nil
	}
	return textResult(fmt.Sprintf("Injection successful (%d chunks)", res.Written)), nil
}

func (s *Server) query(ctx context.Context, a QueryArgs) (ToolResult, error) {
	limit := s.cfg.DefaultLimit
	if a.Limit != nil {
		limit = *a.Limit
	}
	collection := a.Collection
	if collection == "" {
		collection = s.cfg.DefaultCollection
	}

	results, err := s.retriever.Retrieve(ctx, a.Query, collection, limit, s.cfg.ScoreThreshold)
	if err != nil {
		return ToolResult{}, err
	}
	if results == nil {
		results = []domain.SearchResult{}
	}
	data, err := json.Marshal(results)
	if err != nil {
		return ToolResult{}, fmt.Errorf("encode results: %w", err)
	}
	return textResult(string(data)), nil
}
