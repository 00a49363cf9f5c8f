package rpc

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Tool names.
const (
	ToolInject = "inject"
	ToolQuery  = "query"
)

// Tool describes a callable tool in tools/list.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Tools returns the tools this server exposes.
func Tools() []Tool {
	return []Tool{
		{
			Name:        ToolInject,
			Description: "Ingest a text document into the vector database.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"text":       map[string]any{"type": "string", "description": "The text content to ingest."},
					"collection": map[string]any{"type": "string", "description": "Target collection."},
					"metadata": map[string]any{
						"type":        "object",
						"description": "Optional metadata; filename becomes the source path.",
						"properties": map[string]any{
							"filename": map[string]any{"type": "string"},
						},
					},
				},
				"required": []string{"text"},
			},
		},
		{
			Name:        ToolQuery,
			Description: "Retrieve relevant text chunks from the vector database.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query":      map[string]any{"type": "string", "description": "The search query."},
					"limit":      map[string]any{"type": "integer", "description": "Max results (default: 3).", "minimum": 1},
					"collection": map[string]any{"type": "string", "description": "Target collection."},
				},
				"required": []string{"query"},
			},
		},
	}
}

// ToolArgs is the decoded argument set of a tools/call request.
// Implemented only by InjectArgs and QueryArgs.
type ToolArgs interface {
	toolName() string
}

// InjectMetadata is optional inject metadata.
type InjectMetadata struct {
	Filename string `json:"filename,omitempty"`
}

// InjectArgs are the arguments of the inject tool.
type InjectArgs struct {
	Text       string          `json:"text"`
	Collection string          `json:"collection,omitempty"`
	Metadata   *InjectMetadata `json:"metadata,omitempty"`
}

func (InjectArgs) toolName() string { return ToolInject }

// QueryArgs are the arguments of the query tool. A nil Limit means the server default.
type QueryArgs struct {
	Query      string `json:"query"`
	Limit      *int   `json:"limit,omitempty"`
	Collection string `json:"collection,omitempty"`
}

func (QueryArgs) toolName() string { return ToolQuery }

// ToolCall is the params object of tools/call.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// DecodeArgs resolves the tool by name (case-insensitive) and validates its
// arguments. Errors are *Error with CodeMethodNotFound or CodeInvalidParams.
func (c ToolCall) DecodeArgs() (ToolArgs, error) {
	raw := c.Arguments
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}

	switch strings.ToLower(c.Name) {
	case "":
		return nil, newError(CodeInvalidParams, "missing tool name")
	case ToolInject:
		var a InjectArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, newError(CodeInvalidParams, "invalid inject arguments: %v", err)
		}
		if a.Text == "" {
			return nil, newError(CodeInvalidParams, "missing 'text' argument")
		}
		return a, nil
	case ToolQuery:
		var a QueryArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, newError(CodeInvalidParams, "invalid query arguments: %v", err)
		}
		if strings.TrimSpace(a.Query) == "" {
			return nil, newError(CodeInvalidParams, "missing 'query' argument")
		}
		if a.Limit != nil && *a.Limit < 1 {
			return nil, newError(CodeInvalidParams, "limit must be positive, got %d", *a.Limit)
		}
		return a, nil
	default:
		return nil, newError(CodeMethodNotFound, "tool not found: %s", c.Name)
	}
}
