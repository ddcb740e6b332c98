package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/tmaxmax/go-sse"

	"github.com/sakif/notebook-server/internal/chat"
)

// Markers framing a reply on the chat WebSocket.
const (
	ChatEndMarker   = "<<<END>>>"
	ChatErrorMarker = "<<<ERROR>>>"
)

// Chatter is the subset of *service.ChatService the handlers call.
type Chatter interface {
	Stream(ctx context.Context, message string, history []chat.Message) (<-chan chat.Chunk, error)
	Complete(ctx context.Context, message string, history []chat.Message) (string, error)
}

// ChatRequest is one chat turn.
type ChatRequest struct {
	Message string         `json:"message"`
	History []chat.Message `json:"history"`
}

// ChatResponse is the full reply of the non-streaming endpoint.
type ChatResponse struct {
	Response string `json:"response"`
}

// ChatHandler relays chat turns to the chat service.
type ChatHandler struct {
	chat     Chatter
	upgrader *websocket.Upgrader
	logger   *slog.Logger
}

// NewChatHandler creates a ChatHandler.
func NewChatHandler(c Chatter, upgrader *websocket.Upgrader, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{
		chat:     c,
		upgrader: upgrader,
		logger:   logger,
	}
}

// HandleChatWS answers each {message, history} frame with the reply as a
// series of text frames followed by ChatEndMarker. Any failure on a turn
// sends ChatErrorMarker instead; the connection stays open for the next one.
func (h *ChatHandler) HandleChatWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer closeNormally(conn)
	conn.SetReadLimit(wsMaxMessageSize)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("chat websocket closed", slog.String("error", err.Error()))
			}
			return
		}

		if err := h.relayTurn(r.Context(), conn, data); err != nil {
			return
		}
	}
}

// relayTurn streams one reply. It returns an error only when the connection
// can no longer be written to.
func (h *ChatHandler) relayTurn(ctx context.Context, conn *websocket.Conn, data []byte) error {
	var req ChatRequest
	if err := json.Unmarshal(data, &req); err != nil {
		h.logger.Debug("invalid chat frame", slog.String("error", err.Error()))
		return writeText(conn, []byte(ChatErrorMarker))
	}

	ch, err := h.chat.Stream(ctx, req.Message, req.History)
	if err != nil {
		h.logger.Warn("chat turn rejected", slog.String("error", err.Error()))
		return writeText(conn, []byte(ChatErrorMarker))
	}

	for c := range ch {
		if c.Err != nil {
			for range ch {
			}
			return writeText(conn, []byte(ChatErrorMarker))
		}
		if err := writeText(conn, []byte(c.Delta)); err != nil {
			for range ch {
			}
			return err
		}
	}
	return writeText(conn, []byte(ChatEndMarker))
}

// HandleChatStream answers {message, history}. Clients that accept
// text/event-stream get the reply as SSE "chunk" events closed by an "end"
// event, or an "error" event on failure. Everyone else gets {"response"}.
func (h *ChatHandler) HandleChatStream(w http.ResponseWriter, r *http.Request) {
	var req ChatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, err)
		return
	}

	if !strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		text, err := h.chat.Complete(r.Context(), req.Message, req.History)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ChatResponse{Response: text})
		return
	}

	ch, err := h.chat.Stream(r.Context(), req.Message, req.History)
	if err != nil {
		writeError(w, err)
		return
	}

	sess, err := sse.Upgrade(w, r)
	if err != nil {
		for range ch {
		}
		writeError(w, err)
		return
	}

	for c := range ch {
		msg := &sse.Message{}
		if c.Err != nil {
			msg.Type = sse.Type("error")
			msg.AppendData(c.Err.Error())
		} else {
			msg.Type = sse.Type("chunk")
			msg.AppendData(c.Delta)
		}
		if err := sess.Send(msg); err != nil {
			for range ch {
			}
			return
		}
		_ = sess.Flush()
		if c.Err != nil {
			for range ch {
			}
			return
		}
	}

	end := &sse.Message{Type: sse.Type("end")}
	end.AppendData(ChatEndMarker)
	if err := sess.Send(end); err == nil {
		_ = sess.Flush()
	}
}
