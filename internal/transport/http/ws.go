package httptransport

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"transcription-service/internal/hub"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// The surrounding application layer owns origin policy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla connection to the hub's Conn. Writes are
// serialized: the hub and the read loop's pong replies share one
// underlying connection.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(msg hub.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

func (c *wsConn) Close() error {
	return c.conn.Close()
}

type WSHandler struct {
	hub *hub.Hub
}

func NewWSHandler(h *hub.Hub) *WSHandler {
	return &WSHandler{hub: h}
}

// SubscribeJob upgrades the connection and streams the job's events
// until the client goes away.
func (h *WSHandler) SubscribeJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[ws] upgrade failed job_id=%s: %v", jobID, err)
		return
	}

	wc := &wsConn{conn: conn}
	sub := h.hub.Subscribe(jobID, wc)
	defer h.hub.Unsubscribe(sub)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		h.hub.HandleMessage(sub, data)
	}
}
