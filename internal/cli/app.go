// Package cli implements the ragmcp client commands. Every command except
// info and help talks to a ragmcp-server subprocess over stdio.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"github.com/kailas-cloud/ragmcp/internal/domain"
	logpkg "github.com/kailas-cloud/ragmcp/internal/logger"
	chiTransport "github.com/kailas-cloud/ragmcp/internal/transport/chi"
	"github.com/kailas-cloud/ragmcp/internal/transport/rpc"
	"github.com/kailas-cloud/ragmcp/internal/tui"
	answeruc "github.com/kailas-cloud/ragmcp/internal/usecase/answer"
)

// ErrUsage is returned for unknown commands and missing arguments.
var ErrUsage = errors.New("usage error")

// Session is a connected RPC client. *rpc.Client implements it.
type Session interface {
	Server() rpc.ServerInfo
	ListTools(ctx context.Context) ([]rpc.Tool, error)
	Inject(ctx context.Context, args rpc.InjectArgs) (string, error)
	Query(ctx context.Context, args rpc.QueryArgs) ([]domain.SearchResult, error)
	Retrieve(ctx context.Context, query, collection string, limit int, threshold float64) ([]domain.SearchResult, error)
	Close() error
}

// Dialer starts a server and returns a session after the handshake.
type Dialer func(ctx context.Context, serverPath string) (Session, error)

// DialProcess launches serverPath as a subprocess.
func DialProcess(ctx context.Context, serverPath string) (Session, error) {
	return rpc.Start(ctx, serverPath)
}

// Settings are the defaults taken from config. Flags override them.
type Settings struct {
	ServerPath     string
	Collection     string
	Limit          int
	ScoreThreshold float64
	APIURL         string
	APIKey         string
}

// App runs one CLI command.
type App struct {
	Out      io.Writer
	Dial     Dialer
	Settings Settings
	// Completer answers questions from retrieved passages. Nil disables answers.
	Completer answeruc.Completer
	// InjectDelay is the pause between files, to keep a local model from
	// being flooded.
	InjectDelay time.Duration
	HTTPClient  *http.Client
	// RunTUI runs the chat screen. Defaults to a bubbletea program.
	RunTUI func(tea.Model) error
	Logger *zap.Logger
}

type options struct {
	serverPath string
	collection string
	limit      int
	noAnswer   bool
	apiURL     string
}

func (a *App) flagSet(o *options) *flag.FlagSet {
	flags := flag.NewFlagSet("ragmcp", flag.ContinueOnError)
	flags.SetOutput(a.Out)
	flags.StringVar(&o.serverPath, "server-path", a.Settings.ServerPath, "path to the ragmcp-server binary")
	flags.StringVar(&o.collection, "collection", a.Settings.Collection, "collection to inject into and query")
	flags.IntVar(&o.limit, "limit", a.Settings.Limit, "number of results per query")
	flags.BoolVar(&o.noAnswer, "no-answer", false, "print retrieved passages without asking the chat model")
	flags.StringVar(&o.apiURL, "api-url", a.Settings.APIURL, "base URL of the HTTP API (info command)")
	flags.Usage = func() { a.printHelp() }
	return flags
}

// Run parses args and executes the command. Flags are accepted before and
// after the command name.
func (a *App) Run(ctx context.Context, args []string) error {
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}
	ctx = logpkg.Into(ctx, a.Logger)

	var o options
	flags := a.flagSet(&o)
	if err := flags.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	if flags.NArg() == 0 {
		a.printHelp()
		return nil
	}
	cmd := flags.Arg(0)
	if err := flags.Parse(flags.Args()[1:]); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	rest := flags.Args()
	if o.limit < 1 {
		return fmt.Errorf("%w: --limit must be positive, got %d", ErrUsage, o.limit)
	}

	switch cmd {
	case "inject":
		if len(rest) != 1 {
			return fmt.Errorf("%w: inject <dir>", ErrUsage)
		}
		return a.withSession(ctx, o, func(s Session) error { return a.inject(ctx, s, o, rest[0]) })
	case "query":
		q := strings.TrimSpace(strings.Join(rest, " "))
		if q == "" {
			return fmt.Errorf("%w: query <text>", ErrUsage)
		}
		return a.withSession(ctx, o, func(s Session) error { return a.query(ctx, s, o, q) })
	case "tools":
		return a.withSession(ctx, o, func(s Session) error { return a.tools(ctx, s) })
	case "test-connection":
		return a.withSession(ctx, o, func(s Session) error { return a.testConnection(ctx, s) })
	case "chat":
		return a.withSession(ctx, o, func(s Session) error { return a.chat(ctx, s, o) })
	case "info":
		return a.info(ctx, o)
	case "help":
		a.printHelp()
		return nil
	default:
		a.printHelp()
		return fmt.Errorf("%w: unknown command %q", ErrUsage, cmd)
	}
}

func (a *App) withSession(ctx context.Context, o options, fn func(Session) error) error {
	s, err := a.Dial(ctx, o.serverPath)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", o.serverPath, err)
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			a.Logger.Warn("Closing server", zap.Error(cerr))
		}
	}()
	return fn(s)
}

func (a *App) inject(ctx context.Context, s Session, o options, dir string) error {
	files, err := textFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Fprintln(a.Out, "No supported files found (only .txt and .md are supported).")
		return nil
	}
	fmt.Fprintf(a.Out, "Found %d files to import.\n", len(files))

	var ok, failed int
	for i, path := range files {
		if i > 0 && a.InjectDelay > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(a.InjectDelay):
			}
		}
		name := filepath.Base(path)
		status, err := a.injectFile(ctx, s, o.collection, path, name)
		if err != nil {
			fmt.Fprintf(a.Out, "FAIL  %s: %v\n", name, err)
			failed++
			continue
		}
		fmt.Fprintf(a.Out, "ok    %s: %s\n", name, status)
		ok++
	}

	fmt.Fprintf(a.Out, "\nInjection completed. Processed: %d, failed: %d\n", ok, failed)
	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(files))
	}
	return nil
}

func (a *App) injectFile(ctx context.Context, s Session, collection, path, name string) (string, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("read: %w", err)
	}
	return s.Inject(ctx, rpc.InjectArgs{
		Text:       string(data),
		Collection: collection,
		Metadata:   &rpc.InjectMetadata{Filename: name},
	})
}

// textFiles lists .txt and .md files under dir in lexical order.
func textFiles(dir string) ([]string, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", dir)
	}
	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".txt", ".md":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	return files, nil
}

func (a *App) query(ctx context.Context, s Session, o options, question string) error {
	if o.noAnswer || a.Completer == nil {
		results, err := s.Query(ctx, rpc.QueryArgs{Query: question, Limit: &o.limit, Collection: o.collection})
		if err != nil {
			return fmt.Errorf("query: %w", err)
		}
		a.printResults(results)
		return nil
	}

	svc := answeruc.New(s, a.Completer, a.Settings.ScoreThreshold).WithLogger(a.Logger)
	ans, err := svc.Answer(ctx, question, o.collection, o.limit)
	if err != nil {
		return fmt.Errorf("answer: %w", err)
	}
	a.printResults(ans.Sources)
	fmt.Fprintf(a.Out, "\nAnswer:\n%s\n", ans.Text)
	return nil
}

func (a *App) printResults(results []domain.SearchResult) {
	if len(results) == 0 {
		fmt.Fprintln(a.Out, "No results.")
		return
	}
	for i, r := range results {
		fmt.Fprintf(a.Out, "%d. [%.3f] %s\n   %s\n", i+1, r.Score, r.SourcePath, oneLine(r.Text, 200))
	}
}

func oneLine(s string, maxRunes int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) > maxRunes {
		return string(r[:maxRunes]) + "..."
	}
	return s
}

func (a *App) tools(ctx context.Context, s Session) error {
	tools, err := s.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	for _, t := range tools {
		fmt.Fprintf(a.Out, "%-8s %s\n", t.Name, t.Description)
	}
	return nil
}

func (a *App) testConnection(ctx context.Context, s Session) error {
	info := s.Server()
	fmt.Fprintf(a.Out, "Successfully connected to %s %s\n", info.Name, info.Version)
	tools, err := s.ListTools(ctx)
	if err != nil {
		return fmt.Errorf("list tools: %w", err)
	}
	names := make([]string, len(tools))
	for i, t := range tools {
		names[i] = t.Name
	}
	fmt.Fprintf(a.Out, "Available tools: %s\n", strings.Join(names, ", "))
	return nil
}

// sessionSearcher runs the query tool for the chat screen.
type sessionSearcher struct {
	session    Session
	collection string
}

func (s sessionSearcher) Search(ctx context.Context, query string, limit int) ([]domain.SearchResult, error) {
	return s.session.Query(ctx, rpc.QueryArgs{Query: query, Limit: &limit, Collection: s.collection})
}

func (a *App) chat(ctx context.Context, s Session, o options) error {
	info := s.Server()
	summary := fmt.Sprintf("%s %s, collection %q", info.Name, info.Version, o.collection)
	m := tui.New(ctx, sessionSearcher{session: s, collection: o.collection}, o.limit, summary)

	run := a.RunTUI
	if run == nil {
		run = func(m tea.Model) error {
			_, err := tea.NewProgram(m, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
			return err
		}
	}
	if err := run(m); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return fmt.Errorf("chat: %w", err)
	}
	return nil
}

func (a *App) info(ctx context.Context, o options) error {
	u, err := url.Parse(strings.TrimRight(o.apiURL, "/") + "/info")
	if err != nil {
		return fmt.Errorf("parse api url: %w", err)
	}
	u.RawQuery = url.Values{"collection_name": {o.collection}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if a.Settings.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.Settings.APIKey)
	}

	client := a.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("get info: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		var e chiTransport.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&e)
		return fmt.Errorf("get info: status %d: %s", resp.StatusCode, e.Message)
	}

	var info chiTransport.InfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return fmt.Errorf("decode info: %w", err)
	}

	fmt.Fprintf(a.Out, "Connected to server at %s\n\n", o.apiURL)
	rows := [][2]string{
		{"Collection Name", info.CollectionName},
		{"Document Count", fmt.Sprint(info.Count)},
		{"Vector DB Type", info.Storage},
		{"Algorithm", info.Similarity},
		{"Embedding Model", info.Embedding.Model},
		{"Embedding Provider", info.Embedding.Provider},
		{"Embedding Dimensions", fmt.Sprint(info.Dimensions)},
	}
	for _, r := range rows {
		fmt.Fprintf(a.Out, "%-22s %s\n", r[0], r[1])
	}
	return nil
}

func (a *App) printHelp() {
	fmt.Fprint(a.Out, `ragmcp - query a document index through ragmcp-server

Usage:
  ragmcp [flags] <command> [args]

Commands:
  inject <dir>      Import .txt and .md files from a local directory
  query <text>      Ask a question (retrieves passages, then answers)
  chat              Interactive search screen
  tools             List the server's tools
  test-connection   Start the server and run the handshake
  info              Show index information from the HTTP API
  help              Show this help

Flags:
  --server-path PATH   ragmcp-server binary
  --collection NAME    collection to use
  --limit N            results per query
  --no-answer          print passages only
  --api-url URL        HTTP API base URL for info
`)
}
