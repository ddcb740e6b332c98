package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/notebook-server/internal/handler"
	"github.com/sakif/notebook-server/internal/kernel"
)

var testLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

// MockKernel records requests and answers with canned results.
type MockKernel struct {
	mu          sync.Mutex
	CapturedReq []kernel.Request
	ReturnRes   kernel.Result
	RestartRes  kernel.RestartResult
	StatusRes   kernel.StatusResult
	Restarts    int
}

func (m *MockKernel) Execute(_ context.Context, req kernel.Request) kernel.Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CapturedReq = append(m.CapturedReq, req)
	return m.ReturnRes
}

func (m *MockKernel) Restart(context.Context) kernel.RestartResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Restarts++
	return m.RestartRes
}

func (m *MockKernel) Status() kernel.StatusResult { return m.StatusRes }

func (m *MockKernel) requests() []kernel.Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]kernel.Request(nil), m.CapturedReq...)
}

func okResult(text string) kernel.Result {
	return kernel.Result{
		Outputs:   []kernel.OutputRecord{kernel.StreamRecord("stdout", text)},
		Status:    kernel.StatusOK,
		SessionID: "sess-1",
	}
}

func TestExecuteHandler_HandleExecute(t *testing.T) {
	t.Run("valid execution", func(t *testing.T) {
		mk := &MockKernel{ReturnRes: okResult("Hello World\n")}
		h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

		req := httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":"print('Hello World')","cell_id":4}`))
		req.Header.Set("Content-Type", "application/json")
		rr := httptest.NewRecorder()

		h.HandleExecute(rr, req)

		assert.Equal(t, http.StatusOK, rr.Code)

		var res kernel.Result
		require.NoError(t, json.NewDecoder(rr.Body).Decode(&res))
		assert.Equal(t, kernel.StatusOK, res.Status)
		require.Len(t, res.Outputs, 1)
		assert.Equal(t, "Hello World\n", res.Outputs[0].Content)

		reqs := mk.requests()
		require.Len(t, reqs, 1)
		assert.Equal(t, "print('Hello World')", reqs[0].Code)
		require.NotNil(t, reqs[0].SequenceID)
		assert.Equal(t, 4, *reqs[0].SequenceID)
	})

	t.Run("execution error is still a 200", func(t *testing.T) {
		mk := &MockKernel{ReturnRes: kernel.Result{
			Outputs: []kernel.OutputRecord{kernel.ErrorRecord("ZeroDivisionError", "division by zero", nil)},
			Status:  kernel.StatusError,
		}}
		h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

		rr := httptest.NewRecorder()
		h.HandleExecute(rr, httptest.NewRequest(http.MethodPost, "/api/execute", strings.NewReader(`{"code":"1/0"}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"status":"error"`)
	})

	t.Run("invalid request body", func(t *testing.T) {
		mk := &MockKernel{}
		h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

		rr := httptest.NewRecorder()
		h.HandleExecute(rr, httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"invalid_json":`)))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, rr.Body.String(), "validation_error")
		assert.Empty(t, mk.requests())
	})

	t.Run("empty code still runs", func(t *testing.T) {
		mk := &MockKernel{ReturnRes: kernel.Result{Outputs: []kernel.OutputRecord{}, Status: kernel.StatusOK}}
		h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

		rr := httptest.NewRecorder()
		h.HandleExecute(rr, httptest.NewRequest(http.MethodPost, "/api/execute", bytes.NewBufferString(`{"code":""}`)))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"outputs":[],"status":"ok"}`, rr.Body.String())
		reqs := mk.requests()
		require.Len(t, reqs, 1)
		assert.Empty(t, reqs[0].Code)
	})
}

func TestExecuteHandler_RestartAndStatus(t *testing.T) {
	mk := &MockKernel{
		RestartRes: kernel.RestartResult{Status: kernel.RestartStatusRestarted},
		StatusRes:  kernel.StatusResult{Status: kernel.LivenessRunning, SessionID: "sess-2"},
	}
	h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

	rr := httptest.NewRecorder()
	h.HandleRestart(rr, httptest.NewRequest(http.MethodPost, "/api/restart_kernel", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"restarted"}`, rr.Body.String())
	assert.Equal(t, 1, mk.Restarts)

	rr = httptest.NewRecorder()
	h.HandleStatus(rr, httptest.NewRequest(http.MethodGet, "/api/kernel_status", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"running","session_id":"sess-2"}`, rr.Body.String())
}

func TestExecuteHandler_RestartFailure(t *testing.T) {
	mk := &MockKernel{RestartRes: kernel.RestartResult{Status: kernel.RestartStatusError, Message: "no python"}}
	h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)

	rr := httptest.NewRecorder()
	h.HandleRestart(rr, httptest.NewRequest(http.MethodPost, "/api/restart_kernel", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"error","message":"no python"}`, rr.Body.String())
}

func dialWS(t *testing.T, h http.HandlerFunc) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestExecuteHandler_WebSocket(t *testing.T) {
	mk := &MockKernel{ReturnRes: okResult("2\n")}
	h := handler.NewExecuteHandler(mk, handler.NewUpgrader(nil), testLogger)
	conn := dialWS(t, h.HandleExecuteWS)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"code":"print(1+1)"}`)))
	var res kernel.Result
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, kernel.StatusOK, res.Status)
	assert.Equal(t, "2\n", res.Outputs[0].Content)

	// A bad frame gets an error result and the socket stays usable.
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, kernel.StatusError, res.Status)
	assert.Equal(t, "InvalidRequest", res.Outputs[0].EName)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"code":""}`)))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, kernel.StatusOK, res.Status)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"code":"x = 1","cell_id":2}`)))
	require.NoError(t, conn.ReadJSON(&res))
	assert.Equal(t, kernel.StatusOK, res.Status)

	reqs := mk.requests()
	require.Len(t, reqs, 3)
	assert.Empty(t, reqs[1].Code)
	assert.Equal(t, "x = 1", reqs[2].Code)
}

func TestUpgrader_RejectsForeignOrigin(t *testing.T) {
	h := handler.NewExecuteHandler(&MockKernel{}, handler.NewUpgrader([]string{"http://localhost:3000"}), testLogger)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleExecuteWS))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header = http.Header{"Origin": []string{"http://localhost:3000"}}
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	require.NoError(t, err)
	resp.Body.Close()
	conn.Close()
}
