package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/testsabirweb/slack_digest/pkg/chat"
	"github.com/testsabirweb/slack_digest/pkg/digest"
)

// ErrClientGone is returned when sending to a disconnected client.
var ErrClientGone = errors.New("websocket client not connected")

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// MessageType defines the type of WebSocket message
type MessageType string

const (
	// Client to server message types
	MessageTypePing MessageType = "ping"
	MessageTypeAsk  MessageType = "ask"

	// Server to client message types
	MessageTypePong   MessageType = "pong"
	MessageTypeEvent  MessageType = "event"
	MessageTypeAnswer MessageType = "answer"
	MessageTypeError  MessageType = "error"
)

// Message is a frame on the progress stream.
type Message struct {
	Type      MessageType     `json:"type"`
	ID        string          `json:"id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Error     string          `json:"error,omitempty"`
	Event     *digest.Event   `json:"event,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// Asker answers questions about the workspace.
type Asker interface {
	Answer(ctx context.Context, q chat.Question) (*chat.Answer, error)
}

// Client represents a WebSocket client connection
type Client struct {
	ID     string
	conn   *websocket.Conn
	send   chan Message
	hub    *Hub
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub tracks stream clients and fans digest progress out to them. It
// implements digest.Observer.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	asker      Asker
	loc        *time.Location
	logger     *slog.Logger
	mu         sync.RWMutex
}

// NewHub creates a new Hub instance
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[string]*Client),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		loc:        time.UTC,
		logger:     logger.With("component", "websocket"),
	}
}

// SetAsker enables "ask" frames. Dates in questions are read in loc.
func (h *Hub) SetAsker(a Asker, loc *time.Location) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.asker = a
	if loc != nil {
		h.loc = loc
	}
}

// Run registers and removes clients until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for id, client := range h.clients {
				close(client.send)
				delete(h.clients, id)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client.ID] = client
			h.mu.Unlock()
			h.logger.Info("client connected", "client_id", client.ID)

		case client := <-h.unregister:
			h.mu.Lock()
			if cur, ok := h.clients[client.ID]; ok && cur == client {
				delete(h.clients, client.ID)
				close(client.send)
				h.logger.Info("client disconnected", "client_id", client.ID)
			}
			h.mu.Unlock()
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles WebSocket requests from clients
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	// ids are server assigned; a requested id is ignored
	ctx, cancel := context.WithCancel(context.Background())
	client := &Client{
		ID:     uuid.NewString(),
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		hub:    h,
		ctx:    ctx,
		cancel: cancel,
	}

	select {
	case h.register <- client:
	case <-h.done:
		cancel()
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump reads messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", "client_id", c.ID, "error", err)
			}
			return
		}

		switch msg.Type {
		case MessageTypePing:
			_ = c.hub.SendMessage(c.ID, Message{Type: MessageTypePong, ID: msg.ID, Timestamp: time.Now()})

		case MessageTypeAsk:
			go c.hub.answer(c, msg)

		default:
			_ = c.hub.SendMessage(c.ID, Message{
				Type:      MessageTypeError,
				ID:        msg.ID,
				Error:     "unsupported message type " + string(msg.Type),
				Timestamp: time.Now(),
			})
		}
	}
}

// answer runs an "ask" frame. Payload carries the chat.Question; Content
// alone is accepted as the query.
func (h *Hub) answer(c *Client, msg Message) {
	h.mu.RLock()
	asker, loc := h.asker, h.loc
	h.mu.RUnlock()

	reply := Message{ID: msg.ID, Timestamp: time.Now()}
	if asker == nil {
		reply.Type, reply.Error = MessageTypeError, "question answering is not enabled"
		_ = h.SendMessage(c.ID, reply)
		return
	}

	var req askRequest
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			reply.Type, reply.Error = MessageTypeError, "invalid payload: "+err.Error()
			_ = h.SendMessage(c.ID, reply)
			return
		}
	}
	if req.Query == "" {
		req.Query = msg.Content
	}
	q, err := req.question(time.Now(), loc)
	if err == nil {
		var ans *chat.Answer
		ans, err = asker.Answer(c.ctx, q)
		if err == nil {
			reply.Type, reply.Content = MessageTypeAnswer, ans.Text
			_ = h.SendMessage(c.ID, reply)
			return
		}
	}
	reply.Type, reply.Error = MessageTypeError, err.Error()
	_ = h.SendMessage(c.ID, reply)
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendMessage sends a message to a specific client
func (h *Hub) SendMessage(clientID string, message Message) error {
	h.mu.RLock()
	defer h.mu.RUnlock()

	client, ok := h.clients[clientID]
	if !ok {
		return ErrClientGone
	}
	select {
	case client.send <- message:
		return nil
	default:
		return ErrClientGone
	}
}

// BroadcastMessage sends a message to all connected clients. Clients whose
// buffer is full miss the message.
func (h *Hub) BroadcastMessage(message Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for id, client := range h.clients {
		select {
		case client.send <- message:
		default:
			h.logger.Warn("dropping message for slow client", "client_id", id, "type", message.Type)
		}
	}
}

// OnEvent streams digest progress to every client.
func (h *Hub) OnEvent(_ context.Context, e digest.Event) {
	h.BroadcastMessage(Message{Type: MessageTypeEvent, ID: e.RunID, Event: &e, Timestamp: time.Now()})
}
