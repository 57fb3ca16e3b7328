package api

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"gridtrader/internal/engine"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WSClient represents a single connected order-stream subscriber.
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	mu        sync.Mutex
	closeChan chan struct{}
}

// WSHub fans out emitted order batches to every connected subscriber.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan []byte
	register   chan *WSClient
	unregister chan *WSClient
	mu         sync.RWMutex
}

// NewWSHub creates a new order-stream hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan []byte, 4096),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run processes register/unregister/broadcast events until the process exits.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()

		case message := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- message:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// orderBatchMessage is the wire shape pushed to order-stream subscribers.
type orderBatchMessage struct {
	Type      string             `json:"type"`
	Symbol    string             `json:"symbol"`
	Timestamp time.Time          `json:"timestamp"`
	Orders    []engine.GridOrder `json:"orders"`
}

// BroadcastOrders pushes a freshly emitted order batch for symbol to every
// connected subscriber.
func (h *WSHub) BroadcastOrders(symbol string, orders []engine.GridOrder) {
	msg := orderBatchMessage{
		Type:      "ORDERS",
		Symbol:    symbol,
		Timestamp: time.Now(),
		Orders:    orders,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("failed to marshal order batch: %v", err)
		return
	}

	select {
	case h.broadcast <- data:
	default:
		log.Println("order-stream broadcast channel full, dropping batch")
	}
}

// GetClientCount returns the number of connected subscribers.
func (h *WSHub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (c *WSClient) writePump() {
	pinger := time.NewTicker(30 * time.Second)
	defer func() {
		pinger.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("order-stream write error: %v", err)
				return
			}

		case <-pinger.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.closeChan:
			return
		}
	}
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
		close(c.closeChan)
	}()

	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("order-stream read error: %v", err)
			}
			break
		}
		// subscribers are read-only; inbound frames are discarded
	}
}

// handleWebSocket upgrades the request and registers a new order-stream
// subscriber on the server's hub.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("failed to upgrade order-stream connection: %v", err)
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       s.hub,
		closeChan: make(chan struct{}),
	}

	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	welcome := map[string]interface{}{
		"type":      "CONNECTED",
		"message":   "order stream connected",
		"timestamp": time.Now(),
	}
	if data, err := json.Marshal(welcome); err == nil {
		select {
		case client.send <- data:
		default:
		}
	}
}
