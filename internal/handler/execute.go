package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sakif/notebook-server/internal/kernel"
)

// Kernel is the subset of *kernel.Controller the handlers call.
type Kernel interface {
	Execute(ctx context.Context, req kernel.Request) kernel.Result
	Restart(ctx context.Context) kernel.RestartResult
	Status() kernel.StatusResult
}

// ExecuteHandler serves code execution and kernel lifecycle requests.
type ExecuteHandler struct {
	kernel   Kernel
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(k Kernel, upgrader *websocket.Upgrader, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{
		kernel:   k,
		upgrader: upgrader,
		logger:   logger,
	}
}

// HandleExecute runs {code, cell_id?} and answers with the execution result.
// Execution failures are part of the result, so a decoded request always gets
// a 200. Empty code runs like any other and yields an ok result without
// outputs.
func (h *ExecuteHandler) HandleExecute(w http.ResponseWriter, r *http.Request) {
	var req kernel.Request
	if err := decodeJSON(r, &req); err != nil {
		h.logger.Warn("invalid execution request body", slog.String("error", err.Error()))
		writeError(w, err)
		return
	}

	res := h.kernel.Execute(r.Context(), req)
	writeJSON(w, http.StatusOK, res)
}

// HandleRestart restarts the kernel.
func (h *ExecuteHandler) HandleRestart(w http.ResponseWriter, r *http.Request) {
	res := h.kernel.Restart(r.Context())
	if res.Status != kernel.RestartStatusRestarted {
		h.logger.Error("kernel restart failed", slog.String("message", res.Message))
	}
	writeJSON(w, http.StatusOK, res)
}

// HandleStatus reports kernel liveness.
func (h *ExecuteHandler) HandleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.kernel.Status())
}

// HandleExecuteWS runs one execution per text frame and answers each with
// one result frame. A frame that does not decode gets an error result; the
// connection stays open.
func (h *ExecuteHandler) HandleExecuteWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the handshake.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer closeNormally(conn)
	conn.SetReadLimit(wsMaxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("execute websocket closed", slog.String("error", err.Error()))
			}
			return
		}

		var res kernel.Result
		var req kernel.Request
		switch err := json.Unmarshal(data, &req); {
		case err != nil:
			res = invalidRequestResult(errors.New("invalid JSON frame: " + err.Error()))
		default:
			res = h.kernel.Execute(r.Context(), req)
		}

		if err := writeFrameJSON(conn, res); err != nil {
			h.logger.Debug("execute websocket write failed", slog.String("error", err.Error()))
			return
		}
	}
}

func invalidRequestResult(err error) kernel.Result {
	return kernel.Result{
		Outputs: []kernel.OutputRecord{kernel.ErrorRecord("InvalidRequest", err.Error(), nil)},
		Status:  kernel.StatusError,
	}
}
