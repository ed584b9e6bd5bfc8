package api

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/kbchat/internal/index"
)

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func newTestMCPDeps(t *testing.T, load index.LoadFunc) MCPDeps {
	t.Helper()
	env := newTestEnv(t, "", load)
	return MCPDeps{Index: env.cache, Sessions: env.sessions, Version: "test"}
}

func TestMCPServer_Registers(t *testing.T) {
	if NewMCPServer(newTestMCPDeps(t, nil)) == nil {
		t.Fatal("NewMCPServer returned nil")
	}
}

func TestMCPTool_Ask(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	handler := mcpAsk(deps)

	result, err := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question": "Where does the Danube flow?",
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var res askResult
	if err := json.Unmarshal([]byte(toolText(t, result)), &res); err != nil {
		t.Fatalf("decoding result: %v", err)
	}
	if !strings.Contains(res.Answer, "Danube flows east") {
		t.Errorf("answer = %q", res.Answer)
	}
	if len(res.Sources) != 1 || res.Sources[0] != "rivers.txt" {
		t.Errorf("sources = %q", res.Sources)
	}

	// The session survives for follow-ups.
	sess, err := deps.Sessions.Get(res.SessionID)
	if err != nil {
		t.Fatalf("session %s not registered: %v", res.SessionID, err)
	}
	if sess.Transcript().Len() != 3 {
		t.Errorf("transcript length = %d, want 3", sess.Transcript().Len())
	}
}

func TestMCPTool_Ask_Errors(t *testing.T) {
	deps := newTestMCPDeps(t, nil)
	handler := mcpAsk(deps)

	result, _ := handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error for missing question")
	}

	result, _ = handler(context.Background(), makeCallToolRequest("ask", map[string]interface{}{
		"question":   "hi",
		"session_id": "missing",
	}))
	if !result.IsError || !strings.Contains(toolText(t, result), "unknown session") {
		t.Errorf("expected unknown session error, got %+v", result)
	}
}

func TestMCPTool_Search(t *testing.T) {
	handler := mcpSearch(newTestMCPDeps(t, nil))

	result, err := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{
		"query": "everest",
		"limit": 1,
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var chunks []struct {
		Document string `json:"document"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &chunks); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(chunks) != 1 || chunks[0].Document != "mountains.pdf" {
		t.Errorf("chunks = %+v", chunks)
	}
}

func TestMCPTool_Search_RequiresQuery(t *testing.T) {
	handler := mcpSearch(newTestMCPDeps(t, nil))
	result, _ := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{}))
	if !result.IsError {
		t.Error("expected error for missing query")
	}
}

func TestMCPTool_Search_IndexUnavailable(t *testing.T) {
	handler := mcpSearch(newTestMCPDeps(t, func(context.Context) (*index.Index, error) {
		return nil, errors.New("no corpus")
	}))
	result, _ := handler(context.Background(), makeCallToolRequest("search", map[string]interface{}{"query": "x"}))
	if !result.IsError || !strings.Contains(toolText(t, result), "index unavailable") {
		t.Errorf("result = %+v", result)
	}
}

func TestMCPResource_Documents(t *testing.T) {
	handler := mcpResourceDocuments(newTestMCPDeps(t, nil))

	contents, err := handler(context.Background(), mcp.ReadResourceRequest{
		Params: mcp.ReadResourceParams{URI: documentsURI},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contents) != 1 {
		t.Fatalf("expected 1 content, got %d", len(contents))
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok {
		t.Fatalf("expected TextResourceContents, got %T", contents[0])
	}

	var docs []index.DocumentInfo
	if err := json.Unmarshal([]byte(tc.Text), &docs); err != nil {
		t.Fatalf("decoding: %v", err)
	}
	if len(docs) != 2 || docs[1].Name != "mountains.pdf" {
		t.Errorf("docs = %+v", docs)
	}
}
