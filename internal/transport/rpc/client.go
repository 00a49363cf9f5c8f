package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	"github.com/kailas-cloud/ragmcp/internal/logger"
	"github.com/kailas-cloud/ragmcp/internal/version"
)

var (
	// ErrRequestInFlight is returned when Call is used while another call
	// is still waiting for its response.
	ErrRequestInFlight = errors.New("rpc request already in flight")
	// ErrClientClosed is returned by every call after Close.
	ErrClientClosed = errors.New("rpc client closed")
)

// stdoutPipe creates the pipe carrying the child's responses.
var stdoutPipe = os.Pipe

// State is the client connection state.
type State int32

// Client states. Idle -> AwaitingResponse -> Idle; Closed is terminal.
const (
	StateIdle State = iota
	StateAwaitingResponse
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingResponse:
		return "awaiting_response"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

const (
	clientName = "ragmcp"
	// closeGrace is how long Close waits for the server to exit on EOF
	// before killing it.
	closeGrace = 2 * time.Second
	waitDelay  = time.Second
)

// Client speaks the protocol in lock-step over a pair of streams, usually the
// stdin/stdout of a server subprocess it owns.
type Client struct {
	w      io.Writer
	lines  *bufio.Scanner
	logger *zap.Logger
	stop   func() error

	mu    sync.Mutex
	state State

	nextID    atomic.Int64
	closeOnce sync.Once
	closeErr  error

	server ServerInfo
}

// Start launches serverPath as a subprocess and completes the initialize
// handshake. The child is killed if the handshake fails. The logger is taken
// from ctx; the child's stderr lines are logged through it.
func Start(ctx context.Context, serverPath string, args ...string) (*Client, error) {
	ctx, log := logger.Enrich(ctx, zap.String("component", "rpc-client"))

	cmd := exec.Command(serverPath, args...) //nolint:gosec // server path is operator configuration
	stderr := newLineLogger(log.With(zap.String("component", "server")))
	cmd.Stderr = stderr
	cmd.WaitDelay = waitDelay
	setProcAttrs(cmd)

	// Stdout through our own pipe so exiting the child does not close the
	// read side before buffered responses are consumed. Created before the
	// stdin pipe, whose child end is only released by cmd.Start.
	pr, pw, err := stdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	cmd.Stdout = pw

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, fmt.Errorf("start %s: %w", serverPath, err)
	}
	_ = pw.Close()

	exited := make(chan struct{})
	var waitErr error
	go func() {
		waitErr = cmd.Wait()
		close(exited)
	}()

	stop := func() error {
		_ = stdin.Close()
		select {
		case <-exited:
		case <-time.After(closeGrace):
			log.Warn("Server did not exit on EOF, killing", zap.Int("pid", cmd.Process.Pid))
			_ = cmd.Process.Kill()
			<-exited
		}
		stderr.flush()
		_ = pr.Close()
		var exitErr *exec.ExitError
		if waitErr != nil && !errors.As(waitErr, &exitErr) {
			return fmt.Errorf("wait server: %w", waitErr)
		}
		return nil
	}

	log.Info("Server started", zap.String("path", serverPath), zap.Int("pid", cmd.Process.Pid))
	c := newClient(pr, stdin, stop, log)
	if err := c.initialize(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

func newClient(r io.Reader, w io.Writer, stop func() error, log *zap.Logger) *Client {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), DefaultMaxLineBytes)
	if stop == nil {
		stop = func() error { return nil }
	}
	return &Client{w: w, lines: sc, logger: log, stop: stop}
}

// State reports the connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Server returns what the server reported during the handshake.
func (c *Client) Server() ServerInfo { return c.server }

// Close terminates the connection and reaps the server process. Safe to call
// more than once and from any goroutine.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosed
		c.mu.Unlock()
		c.closeErr = c.stop()
		c.logger.Debug("Client closed")
	})
	return c.closeErr
}

// Call sends one request and blocks for the next response line. Cancelling
// ctx closes the client, which is the only way to abandon a hung server.
// A response carrying an error is returned as *Error.
func (c *Client) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return nil, ErrClientClosed
	case StateAwaitingResponse:
		c.mu.Unlock()
		return nil, ErrRequestInFlight
	}
	c.state = StateAwaitingResponse
	c.mu.Unlock()

	stopWatch := context.AfterFunc(ctx, func() { _ = c.Close() })
	defer stopWatch()

	resp, err := c.roundTrip(method, params)

	c.mu.Lock()
	if c.state == StateAwaitingResponse {
		c.state = StateIdle
	}
	c.mu.Unlock()

	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("%s: %w", method, ctxErr)
	}
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	return resp.Result, nil
}

func (c *Client) roundTrip(method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := Request{ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encode %s params: %w", method, err)
		}
		req.Params = raw
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", method, err)
	}
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("send %s: %w", method, c.closedOr(err))
	}

	if !c.lines.Scan() {
		err := c.lines.Err()
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		_ = c.Close()
		return nil, fmt.Errorf("receive %s: %w", method, c.closedOr(err))
	}

	var resp Response
	if err := json.Unmarshal(c.lines.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", method, err)
	}
	if resp.ID != id {
		c.logger.Warn("Response id mismatch", zap.Int64("sent", id), zap.Int64("got", resp.ID))
	}
	return &resp, nil
}

// closedOr prefers ErrClientClosed when a transport error was caused by Close.
func (c *Client) closedOr(err error) error {
	if c.State() == StateClosed {
		return fmt.Errorf("%w: %w", ErrClientClosed, err)
	}
	return err
}

func (c *Client) initialize(ctx context.Context) error {
	raw, err := c.Call(ctx, MethodInitialize, InitializeParams{
		ProtocolVersion: ProtocolVersion,
		ClientInfo:      ServerInfo{Name: clientName, Version: version.Version},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var res InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return fmt.Errorf("decode initialize result: %w", err)
	}
	c.server = res.ServerInfo
	c.logger.Info("Connected to server",
		zap.String("server", res.ServerInfo.Name),
		zap.String("server_version", res.ServerInfo.Version),
		zap.String("protocol", res.ProtocolVersion),
	)
	return nil
}

// ListTools returns the server's tool descriptions.
func (c *Client) ListTools(ctx context.Context) ([]Tool, error) {
	raw, err := c.Call(ctx, MethodToolsList, nil)
	if err != nil {
		return nil, err
	}
	var res ToolsListResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, fmt.Errorf("decode tools: %w", err)
	}
	return res.Tools, nil
}

// CallTool invokes a tool by name with arbitrary arguments.
func (c *Client) CallTool(ctx context.Context, name string, args any) (ToolResult, error) {
	raw, err := c.Call(ctx, MethodToolsCall, map[string]any{"name": name, "arguments": args})
	if err != nil {
		return ToolResult{}, err
	}
	var res ToolResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return ToolResult{}, fmt.Errorf("decode tool result: %w", err)
	}
	return res, nil
}

// Inject sends text through the inject tool and returns the server's status line.
func (c *Client) Inject(ctx context.Context, args InjectArgs) (string, error) {
	res, err := c.CallTool(ctx, ToolInject, args)
	if err != nil {
		return "", err
	}
	return res.Text(), nil
}

// Query runs the query tool and decodes the ranked results.
func (c *Client) Query(ctx context.Context, args QueryArgs) ([]domain.SearchResult, error) {
	res, err := c.CallTool(ctx, ToolQuery, args)
	if err != nil {
		return nil, err
	}
	var results []domain.SearchResult
	if err := json.Unmarshal([]byte(res.Text()), &results); err != nil {
		return nil, fmt.Errorf("decode query results: %w", err)
	}
	return results, nil
}

// Retrieve adapts Query to the retrieval signature used by answer generation.
// The threshold is applied by the server.
func (c *Client) Retrieve(
	ctx context.Context, query, collection string, limit int, _ float64,
) ([]domain.SearchResult, error) {
	return c.Query(ctx, QueryArgs{Query: query, Limit: &limit, Collection: collection})
}
