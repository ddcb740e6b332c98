package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notebook-server/internal/kernel"
)

type stubKernel struct {
	lastReq  kernel.Request
	restarts int
}

func (s *stubKernel) Execute(_ context.Context, req kernel.Request) kernel.Result {
	s.lastReq = req
	if req.Code == "1/0" {
		return kernel.Result{
			Outputs:   []kernel.OutputRecord{kernel.ErrorRecord("ZeroDivisionError", "division by zero", nil)},
			Status:    kernel.StatusError,
			SessionID: "s1",
		}
	}
	return kernel.Result{
		Outputs:   []kernel.OutputRecord{kernel.StreamRecord("stdout", "hi\n")},
		Status:    kernel.StatusOK,
		SessionID: "s1",
	}
}

func (s *stubKernel) Restart(context.Context) kernel.RestartResult {
	s.restarts++
	return kernel.RestartResult{Status: kernel.RestartStatusRestarted}
}

func (s *stubKernel) Status() kernel.StatusResult {
	return kernel.StatusResult{Status: kernel.LivenessRunning, SessionID: "s1"}
}

func connect(t *testing.T, k Kernel) *mcp.ClientSession {
	t.Helper()
	ctx := context.Background()

	server := New(k, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	serverTransport, clientTransport := mcp.NewInMemoryTransports()
	go func() {
		_ = server.Run(ctx, serverTransport)
	}()

	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })
	return session
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.Len(t, res.Content, 1)
	tc, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return tc.Text
}

func TestListTools(t *testing.T) {
	session := connect(t, &stubKernel{})

	var names []string
	for tool, err := range session.Tools(context.Background(), nil) {
		require.NoError(t, err)
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"execute_code", "restart_kernel", "kernel_status"}, names)
}

func TestExecuteCode(t *testing.T) {
	k := &stubKernel{}
	session := connect(t, k)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "execute_code",
		Arguments: map[string]any{"code": "print('hi')", "cell_id": 3},
	})
	require.NoError(t, err)
	assert.False(t, res.IsError)

	var got kernel.Result
	require.NoError(t, json.Unmarshal([]byte(text(t, res)), &got))
	assert.Equal(t, kernel.StatusOK, got.Status)
	assert.Equal(t, "s1", got.SessionID)

	assert.Equal(t, "print('hi')", k.lastReq.Code)
	require.NotNil(t, k.lastReq.SequenceID)
	assert.Equal(t, 3, *k.lastReq.SequenceID)
}

func TestExecuteCodeError(t *testing.T) {
	session := connect(t, &stubKernel{})

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "execute_code",
		Arguments: map[string]any{"code": "1/0"},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Contains(t, text(t, res), "ZeroDivisionError")
}

func TestExecuteCodeRequiresCode(t *testing.T) {
	k := &stubKernel{}
	session := connect(t, k)

	res, err := session.CallTool(context.Background(), &mcp.CallToolParams{
		Name:      "execute_code",
		Arguments: map[string]any{"code": "  "},
	})
	require.NoError(t, err)
	assert.True(t, res.IsError)
	assert.Empty(t, k.lastReq.Code)
}

func TestRestartAndStatus(t *testing.T) {
	k := &stubKernel{}
	session := connect(t, k)
	ctx := context.Background()

	res, err := session.CallTool(ctx, &mcp.CallToolParams{Name: "restart_kernel", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"restarted"}`, text(t, res))
	assert.Equal(t, 1, k.restarts)

	res, err = session.CallTool(ctx, &mcp.CallToolParams{Name: "kernel_status", Arguments: map[string]any{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"running","session_id":"s1"}`, text(t, res))
}
