package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/marchuk/docdeck/internal/dms"
)

// NewMCPServer exposes the document workspace over MCP so agent
// clients can list documents and ask questions against them.
func NewMCPServer(client *dms.Client, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"docdeck",
		version,
		server.WithToolCapabilities(true),
		server.WithInstructions("docdeck — document workspace with question answering over uploaded documents."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("list_documents",
			mcp.WithDescription("List documents in the workspace, optionally scoped to a project."),
			mcp.WithString("project_id", mcp.Description("Project to filter by")),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 20)")),
		),
		mcpListDocuments(client),
	)

	s.AddTool(
		mcp.NewTool("ask",
			mcp.WithDescription("Ask a question over the workspace documents and return the answer with cited sources."),
			mcp.WithString("query", mcp.Description("The question to answer"), mcp.Required()),
			mcp.WithArray("document_ids", mcp.Description("Restrict the answer to these documents")),
		),
		mcpAsk(client),
	)

	return s
}

func mcpListDocuments(client *dms.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := int(req.GetFloat("limit", 20))
		projectID := req.GetString("project_id", "")

		docs, err := client.Documents(ctx, projectID, limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing documents: %v", err)), nil
		}

		data, err := json.Marshal(docs)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding documents: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func mcpAsk(client *dms.Client) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := req.RequireString("query")
		if err != nil {
			return mcpError("query is required"), nil
		}
		docIDs := req.GetStringSlice("document_ids", nil)

		answer, err := client.Ask(ctx, query, docIDs, dms.QueryConfig{})
		if err != nil {
			return mcpError(fmt.Sprintf("answering: %v", err)), nil
		}

		data, err := json.Marshal(answer)
		if err != nil {
			return mcpError(fmt.Sprintf("encoding answer: %v", err)), nil
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return mcp.NewToolResultError(msg)
}
