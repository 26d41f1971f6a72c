package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/ariefcatur/pet-auction/internal/auction"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 1024
	sendBuffer     = 64
)

var (
	errClientClosed = errors.New("client closed")
	errSlowClient   = errors.New("client send buffer full")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// origin dicek di gateway
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler serves the push channel of a session key.
type WSHandler struct {
	Engine *auction.Engine
	// PongWait is how long a silent connection is kept; pings go out at 9/10 of it.
	PongWait time.Duration
}

func (h *WSHandler) Register(r chi.Router) {
	r.Get("/ws/sessions/{sessionKey}", h.serve)
}

// client adalah satu koneksi WebSocket; memenuhi auction.Subscriber.
type client struct {
	id   string
	key  string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
	once sync.Once
}

// Send never blocks; a full buffer drops the message for this client only.
func (c *client) Send(msg []byte) error {
	select {
	case <-c.done:
		return errClientClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowClient
	}
}

func (c *client) Close() { c.once.Do(func() { close(c.done) }) }

type clientMsg struct {
	Type string `json:"type"`
}

func (h *WSHandler) serve(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "sessionKey")
	member := memberID(r)
	if member == "" {
		member = r.URL.Query().Get("memberId") // browser tidak bisa set header saat upgrade
	}
	if member == "" {
		writeJSON(w, http.StatusUnauthorized, errorResp{Error: "missing member id"})
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("ws upgrade session=%s: %v", key, err)
		return
	}
	c := &client{
		id:   uuid.NewString(),
		key:  key,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		done: make(chan struct{}),
	}

	// ctx request sudah selesai setelah handler return, pakai background
	ctx := context.WithoutCancel(r.Context())
	if _, err := h.Engine.Connect(ctx, key, member, c.id, c); err != nil {
		reason := err.Error()
		if len(reason) > 120 {
			reason = reason[:120]
		}
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
		_ = conn.Close()
		return
	}
	log.Printf("ws connected session=%s conn=%s member=%s", key, c.id, member)

	go h.writePump(c)
	go h.readPump(ctx, c)
}

func (h *WSHandler) pongWait() time.Duration {
	if h.PongWait > 0 {
		return h.PongWait
	}
	return 30 * time.Second
}

// writePump satu-satunya goroutine yang menulis ke conn.
func (h *WSHandler) writePump(c *client) {
	ticker := time.NewTicker(h.pongWait() * 9 / 10)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Close()
				return
			}
		case <-c.done:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump memproses pong dan pesan HEARTBEAT; keluar = disconnect.
func (h *WSHandler) readPump(ctx context.Context, c *client) {
	defer func() {
		h.Engine.Disconnect(ctx, c.key, c.id)
		c.Close()
		log.Printf("ws disconnected session=%s conn=%s", c.key, c.id)
	}()

	wait := h.pongWait()
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		_ = h.Engine.Heartbeat(c.key, c.id)
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Printf("ws session=%s conn=%s: %v", c.key, c.id, err)
			}
			return
		}
		var msg clientMsg
		if err := json.Unmarshal(raw, &msg); err != nil || msg.Type != "HEARTBEAT" {
			continue
		}
		if err := h.Engine.Heartbeat(c.key, c.id); err != nil {
			// sudah di-expire reaper atau sesi ditutup
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	}
}
