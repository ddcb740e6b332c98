// Package mcpserver exposes the kernel as Model Context Protocol tools, so
// agents can run code in the same interpreter the HTTP API uses.
package mcpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/sakif/notebook-server/internal/kernel"
)

// Kernel is the subset of *kernel.Controller the tools call.
type Kernel interface {
	Execute(ctx context.Context, req kernel.Request) kernel.Result
	Restart(ctx context.Context) kernel.RestartResult
	Status() kernel.StatusResult
}

// ExecuteInput is the argument of the execute_code tool.
type ExecuteInput struct {
	Code   string `json:"code" jsonschema:"Python source to run in the shared kernel"`
	CellID *int   `json:"cell_id,omitempty" jsonschema:"optional sequence number used to tag the submission"`
}

// New builds an MCP server with the execute_code, restart_kernel and
// kernel_status tools. Each tool answers with the same JSON document the
// HTTP API returns.
func New(k Kernel, version string, logger *slog.Logger) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: "notebook-server", Version: version}, nil)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "execute_code",
		Description: "Runs Python code in the persistent notebook kernel and returns its outputs",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in ExecuteInput) (*mcp.CallToolResult, struct{}, error) {
		if strings.TrimSpace(in.Code) == "" {
			return errorResult("code is required"), struct{}{}, nil
		}
		res := k.Execute(ctx, kernel.Request{Code: in.Code, SequenceID: in.CellID})
		logger.Debug("mcp execute_code", slog.String("status", string(res.Status)))

		out := jsonResult(res)
		out.IsError = res.Status != kernel.StatusOK
		return out, struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "restart_kernel",
		Description: "Restarts the notebook kernel, clearing all variables and imports",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		res := k.Restart(ctx)
		out := jsonResult(res)
		out.IsError = res.Status != kernel.RestartStatusRestarted
		return out, struct{}{}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "kernel_status",
		Description: "Reports whether the notebook kernel is running",
	}, func(_ context.Context, _ *mcp.CallToolRequest, _ struct{}) (*mcp.CallToolResult, struct{}, error) {
		return jsonResult(k.Status()), struct{}{}, nil
	})

	return server
}

// Handler serves server over streamable HTTP.
func Handler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return server
	}, nil)
}

func jsonResult(v any) *mcp.CallToolResult {
	b, err := json.Marshal(v)
	if err != nil {
		return errorResult(err.Error())
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: string(b)}},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
		IsError: true,
	}
}
