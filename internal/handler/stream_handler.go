package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"notifyhub/internal/stream"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type StreamHandler struct {
	hub    *stream.Hub
	logger *zap.Logger
}

func NewStreamHandler(hub *stream.Hub, logger *zap.Logger) *StreamHandler {
	return &StreamHandler{hub: hub, logger: logger}
}

// Stream upgrades the connection and pushes the caller's notification events.
// The last_event_id query parameter is the reconnect marker: buffered events
// newer than it are replayed before live ones.
func (h *StreamHandler) Stream(c *gin.Context) {
	userID := c.GetString("user_id")

	var lastSeq uint64
	if raw := c.Query("last_event_id"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid last_event_id"})
			return
		}
		lastSeq = parsed
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error.
		h.logger.Warn("websocket upgrade failed", zap.String("user_id", userID), zap.Error(err))
		return
	}

	sub := h.hub.Subscribe(userID, lastSeq)
	h.logger.Info("stream subscriber connected",
		zap.String("user_id", userID),
		zap.Uint64("last_event_id", lastSeq),
	)

	go h.writePump(conn, sub)
	h.readPump(conn, sub)
}

// readPump drains client frames until the connection dies, then frees the
// subscription so the hub never leaks a slot.
func (h *StreamHandler) readPump(conn *websocket.Conn, sub *stream.Subscription) {
	defer func() {
		h.hub.Unsubscribe(sub)
		conn.Close()
	}()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHandler) writePump(conn *websocket.Conn, sub *stream.Subscription) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case ev, ok := <-sub.Events:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
