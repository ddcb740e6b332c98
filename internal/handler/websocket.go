package handler

import (
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
)

const (
	wsWriteTimeout   = 10 * time.Second
	wsMaxMessageSize = 1 << 20
)

// NewUpgrader returns a WebSocket upgrader that accepts handshakes without an
// Origin header or from one of origins. A "*" entry accepts any origin.
func NewUpgrader(origins []string) *websocket.Upgrader {
	allowAll := slices.Contains(origins, "*")
	return &websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return origin == "" || allowAll || slices.Contains(origins, origin)
		},
	}
}

// writeText sends one text frame with a write deadline.
func writeText(conn *websocket.Conn, data []byte) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

// writeFrameJSON sends v as one JSON text frame with a write deadline.
func writeFrameJSON(conn *websocket.Conn, v any) error {
	conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(v)
}

// closeNormally tells the peer the server is done before closing.
func closeNormally(conn *websocket.Conn) {
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
}
