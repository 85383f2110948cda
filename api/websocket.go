package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/finsageai/finsage/pkg/utils"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins; restrict in production
	},
}

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 512

	// How often subscribed quotes are refreshed.
	quotePollInterval = 5 * time.Second

	// Concurrent quote fetches per poll cycle.
	quotePollWorkers = 4
)

// WSMessage is the frame exchanged over the WebSocket.
type WSMessage struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// wsSubscribe is the payload of a "subscribe"/"unsubscribe" frame.
type wsSubscribe struct {
	Symbols []string `json:"symbols"`
}

// WSHub manages WebSocket connections, per-client symbol subscriptions,
// and message broadcasting.
type WSHub struct {
	mu         sync.RWMutex
	clients    map[*WSClient]bool
	broadcast  chan WSMessage
	register   chan *WSClient
	unregister chan *WSClient
}

// WSClient represents a single WebSocket connection.
type WSClient struct {
	hub  *WSHub
	send chan WSMessage

	mu      sync.Mutex
	symbols map[string]bool
}

// subscribe adds symbols to the client's watch set.
func (c *WSClient) subscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		if s := utils.NormalizeSymbol(sym); s != "" {
			c.symbols[s] = true
		}
	}
}

// unsubscribe removes symbols from the client's watch set.
func (c *WSClient) unsubscribe(symbols []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sym := range symbols {
		delete(c.symbols, utils.NormalizeSymbol(sym))
	}
}

func (c *WSClient) watches(symbol string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.symbols[symbol]
}

// NewWSHub creates a new WebSocket hub.
func NewWSHub() *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan WSMessage, 256),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
	}
}

// Run starts the hub event loop.
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
		case msg := <-h.broadcast:
			h.mu.RLock()
			for client := range h.clients {
				select {
				case client.send <- msg:
				default:
					// Slow client; drop the frame
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to all connected WebSocket clients.
func (h *WSHub) Broadcast(msg WSMessage) {
	select {
	case h.broadcast <- msg:
	default:
		// Drop message if broadcast channel is full
	}
}

// SendQuote delivers a quote frame to every client subscribed to the symbol.
func (h *WSHub) SendQuote(symbol string, quote interface{}) {
	msg := WSMessage{Type: "quote", Data: quote}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		if !client.watches(symbol) {
			continue
		}
		select {
		case client.send <- msg:
		default:
		}
	}
}

// SubscribedSymbols returns the union of every client's watch set.
func (h *WSHub) SubscribedSymbols() []string {
	seen := make(map[string]bool)
	h.mu.RLock()
	defer h.mu.RUnlock()
	for client := range h.clients {
		client.mu.Lock()
		for sym := range client.symbols {
			seen[sym] = true
		}
		client.mu.Unlock()
	}
	symbols := make([]string, 0, len(seen))
	for sym := range seen {
		symbols = append(symbols, sym)
	}
	return symbols
}

// ClientCount returns the number of connected WebSocket clients.
func (h *WSHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Register adds a client to the hub.
func (h *WSHub) Register(client *WSClient) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *WSHub) Unregister(client *WSClient) {
	h.unregister <- client
}

// runQuotePoller periodically fetches quotes for every subscribed
// symbol and pushes them to watching clients.
func (s *Server) runQuotePoller(ctx context.Context) {
	ticker := time.NewTicker(quotePollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollQuotes(ctx)
		}
	}
}

func (s *Server) pollQuotes(ctx context.Context) {
	symbols := s.wsHub.SubscribedSymbols()
	if len(symbols) == 0 {
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(quotePollWorkers)
	for _, symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			quote, err := s.market.GetQuote(gctx, symbol)
			if err != nil {
				log.Printf("quote poll %s: %v", symbol, err)
				return nil // one bad symbol must not stop the cycle
			}
			s.wsHub.SendQuote(symbol, quote)
			return nil
		})
	}
	_ = g.Wait()
}

// handleWebSocket upgrades HTTP connections to WebSocket and manages
// bidirectional communication for streaming quote updates.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	client := &WSClient{
		hub:     s.wsHub,
		send:    make(chan WSMessage, 256),
		symbols: make(map[string]bool),
	}

	s.wsHub.Register(client)

	go wsWritePump(conn, client)
	go wsReadPump(conn, client)
}

// wsReadPump pumps messages from the WebSocket connection to the hub.
func wsReadPump(conn *websocket.Conn, client *WSClient) {
	defer func() {
		client.hub.Unregister(client)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("WebSocket read error: %v", err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case "subscribe", "unsubscribe":
			var sub wsSubscribe
			if raw, err := json.Marshal(msg.Data); err == nil {
				_ = json.Unmarshal(raw, &sub)
			}
			if msg.Type == "subscribe" {
				client.subscribe(sub.Symbols)
			} else {
				client.unsubscribe(sub.Symbols)
			}
			client.send <- WSMessage{
				Type: msg.Type + "d",
				Data: sub,
			}
		case "ping":
			client.send <- WSMessage{Type: "pong"}
		}
	}
}

// wsWritePump pumps messages from the hub to the WebSocket connection.
func wsWritePump(conn *websocket.Conn, client *WSClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case msg, ok := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				_ = conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			data, err := json.Marshal(msg)
			if err != nil {
				log.Printf("WebSocket marshal error: %v", err)
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

			// Flush queued messages
			n := len(client.send)
			for i := 0; i < n; i++ {
				nextMsg := <-client.send
				nextData, err := json.Marshal(nextMsg)
				if err != nil {
					continue
				}
				if err := conn.WriteMessage(websocket.TextMessage, nextData); err != nil {
					return
				}
			}

		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
