package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"drivingschool/server/internal/logger"
	"drivingschool/server/internal/services"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub fans committed invoice events out to connected back-office clients
type Hub struct {
	clients   map[*websocket.Conn]bool
	broadcast chan []byte
	mutex     sync.RWMutex
	log       zerolog.Logger
}

func NewHub() *Hub {
	return &Hub{
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan []byte, 256),
		log:       logger.WithComponent("ws-hub"),
	}
}

// Run delivers queued messages until ctx is done, then closes every client
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) deliver(msg []byte) {
	h.mutex.RLock()
	var failed []*websocket.Conn
	for client := range h.clients {
		_ = client.SetWriteDeadline(time.Now().Add(writeWait))
		if err := client.WriteMessage(websocket.TextMessage, msg); err != nil {
			failed = append(failed, client)
		}
	}
	h.mutex.RUnlock()

	for _, client := range failed {
		h.RemoveClient(client)
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mutex.Lock()
	h.clients[conn] = true
	h.mutex.Unlock()
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mutex.Lock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
	h.mutex.Unlock()
}

func (h *Hub) closeAll() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

// Publish queues an invoice event. A full queue drops the event.
func (h *Hub) Publish(event services.InvoiceEvent) {
	msg, err := json.Marshal(event)
	if err != nil {
		h.log.Warn().Err(err).Msg("Cannot encode invoice event")
		return
	}
	select {
	case h.broadcast <- msg:
	default:
		h.log.Warn().Str("invoice_id", event.InvoiceID).Msg("Event queue full, dropping invoice event")
	}
}

func (h *Hub) ClientsCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// ServeWS upgrades the request and keeps the client registered until it disconnects
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	h.AddClient(conn)
	h.log.Info().Int("clients", h.ClientsCount()).Msg("Back-office client connected")

	defer func() {
		h.RemoveClient(conn)
		h.log.Info().Int("clients", h.ClientsCount()).Msg("Back-office client disconnected")
	}()

	// clients only send pings; reading detects the close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn().Err(err).Msg("WebSocket read error")
			}
			return
		}
	}
}
