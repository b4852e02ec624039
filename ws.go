package main

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"github.com/blampe/bookinfo/internal"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// wsConn adapts a gorilla/websocket connection to internal.Conn, with a
// write mutex since gorilla permits only one concurrent writer and the
// job's writer goroutine can race an attach-time replay send.
type wsConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *wsConn) Send(env internal.Envelope) error {
	payload, err := sonic.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, payload)
}

func (c *wsConn) Close(code int, reason string) error {
	deadline := time.Now().Add(5 * time.Second)
	msg := websocket.FormatCloseMessage(code, reason)
	_ = c.conn.WriteControl(websocket.CloseMessage, msg, deadline)
	return c.conn.Close()
}

type clientMessage struct {
	Type string `json:"type"`
}

// serveProgressSocket implements GET /ws/progress?jobId=...&token=...:
// the client must present the token issued alongside the job's HTTP
// response, then send {"type":"ready"} before any progress is pushed.
func serveProgressSocket(registry *internal.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("jobId")
		token := r.URL.Query().Get("token")

		job, ok := registry.Get(jobID)
		if !ok {
			http.Error(w, "unknown job", http.StatusNotFound)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			internal.Log(r.Context()).Warn("websocket upgrade failed", "job", jobID, "err", err)
			return
		}

		peer := &wsConn{conn: conn}
		if err := job.AttachWebSocket(token, peer); err != nil {
			_ = peer.Close(1008, "invalid token")
			return
		}

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg clientMessage
			if sonic.Unmarshal(raw, &msg) != nil {
				continue
			}
			switch msg.Type {
			case "ready":
				job.ClientReady(context.Background())
			case "cancel":
				job.Cancel(context.Background(), "client requested cancellation")
			}
		}
	}
}
