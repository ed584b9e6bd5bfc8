package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/kbchat/internal/chat"
)

const documentsURI = "kb://documents"

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Index    IndexSource
	Sessions *chat.Manager
	Version  string
}

// NewMCPServer creates an MCP server exposing the knowledge base.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	version := deps.Version
	if version == "" {
		version = "dev"
	}
	s := server.NewMCPServer(
		"kbchat",
		version,
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("kbchat answers questions grounded in an indexed document corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question about the knowledge base. Pass session_id to continue a conversation."),
			mcp.WithString("question", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithString("session_id", mcp.Description("Optional session to continue; a new one is created when empty")),
		),
		mcpAsk(deps),
	)

	s.AddTool(
		mcp.NewTool("search",
			mcp.WithDescription("Semantically search the knowledge base and return matching passages."),
			mcp.WithString("query", mcp.Description("Search query"), mcp.Required()),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 5)")),
		),
		mcpSearch(deps),
	)

	s.AddResource(
		mcp.NewResource(
			documentsURI,
			"Indexed documents",
			mcp.WithResourceDescription("Documents in the index with their chunk counts"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceDocuments(deps),
	)

	return s
}

type askResult struct {
	SessionID string   `json:"session_id"`
	Answer    string   `json:"answer"`
	Sources   []string `json:"sources,omitempty"`
}

func mcpAsk(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		question, err := req.RequireString("question")
		if err != nil || question == "" {
			return mcpError("question is required"), nil
		}

		var sess *chat.Session
		if id := req.GetString("session_id", ""); id != "" {
			s, err := deps.Sessions.Get(id)
			if err != nil {
				return mcpError(fmt.Sprintf("unknown session %q", id)), nil
			}
			sess = s
		} else {
			sess = deps.Sessions.Create("mcp")
		}

		st, err := sess.Ask(ctx, question)
		if errors.Is(err, chat.ErrSessionBusy) {
			return mcpError("session is busy answering another question"), nil
		}
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}
		answer, err := st.Collect()
		if err != nil {
			return mcpError(fmt.Sprintf("ask failed: %v", err)), nil
		}

		res := askResult{SessionID: sess.ID(), Answer: answer}
		seen := make(map[string]bool)
		for _, c := range st.Sources() {
			if !seen[c.DocumentName] {
				seen[c.DocumentName] = true
				res.Sources = append(res.Sources, c.DocumentName)
			}
		}

		b, err := json.Marshal(res)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpSearch(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}

		limit := req.GetInt("limit", 5)
		if limit <= 0 {
			limit = 5
		}
		if limit > 50 {
			limit = 50
		}

		idx, err := deps.Index.Get(ctx)
		if err != nil {
			return mcpError(fmt.Sprintf("index unavailable: %v", err)), nil
		}
		chunks, err := idx.Retrieve(ctx, query, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("search failed: %v", err)), nil
		}

		type chunkResult struct {
			ID       string  `json:"id"`
			Document string  `json:"document"`
			Text     string  `json:"text"`
			Score    float32 `json:"score"`
		}

		results := make([]chunkResult, len(chunks))
		for i, c := range chunks {
			results[i] = chunkResult{ID: c.ID, Document: c.DocumentName, Text: c.Text, Score: c.Score}
		}

		b, err := json.Marshal(results)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal results: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceDocuments(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		idx, err := deps.Index.Get(ctx)
		if err != nil {
			return nil, fmt.Errorf("index unavailable: %w", err)
		}

		b, err := json.Marshal(idx.Documents())
		if err != nil {
			return nil, fmt.Errorf("failed to marshal documents: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
