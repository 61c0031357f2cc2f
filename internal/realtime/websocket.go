package realtime

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WSHandler upgrades auction watchers onto the hub.
type WSHandler struct {
	hub *Hub
	log *slog.Logger
}

// NewWSHandler builds the websocket endpoint handler.
func NewWSHandler(hub *Hub, log *slog.Logger) *WSHandler {
	return &WSHandler{hub: hub, log: log}
}

// Serve handles GET /ws/auctions/:id. The connection is one-way: the server
// pushes envelopes, the client only answers pings. Bids go through the HTTP
// API, never the socket.
func (h *WSHandler) Serve(c *gin.Context) {
	auctionID := c.Param("id")
	if auctionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "auction id required"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", slog.Any("error", err))
		return
	}

	sub := h.hub.Subscribe(auctionID)
	defer h.hub.Unsubscribe(sub)

	go h.writeLoop(conn, sub)
	h.readLoop(conn)
}

func (h *WSHandler) writeLoop(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case env, ok := <-sub.C():
			if !ok {
				// Evicted by the hub.
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "too slow"))
				return
			}
			data, err := json.Marshal(env)
			if err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func (h *WSHandler) readLoop(conn *websocket.Conn) {
	defer conn.Close()

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
