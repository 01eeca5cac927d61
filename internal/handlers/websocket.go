package handlers

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type Message struct {
	Type   string      `json:"type"`
	GameID string      `json:"game_id,omitempty"`
	Data   interface{} `json:"data"`
}

// Client is one cashier display. With no game subscriptions it receives every event of its
// cashier.
type Client struct {
	CashierID string
	Conn      *websocket.Conn
	send      chan []byte // events, closed by the hub
	replies   chan []byte // direct answers from the read side

	mu    sync.Mutex
	games map[string]bool
}

func (cl *Client) wants(gameID string) bool {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return len(cl.games) == 0 || cl.games[gameID]
}

func (cl *Client) subscribe(gameID string, on bool) {
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if on {
		cl.games[gameID] = true
	} else {
		delete(cl.games, gameID)
	}
}

// WebSocketHub relays engine events to the connected displays of the owning cashier.
type WebSocketHub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	events     <-chan models.Event
	done       chan struct{}
	logger     *zap.Logger
}

func NewWebSocketHub(bus *services.EventBus, logger *zap.Logger) (*WebSocketHub, func()) {
	events, unsubscribe := bus.Subscribe(256)
	hub := &WebSocketHub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     events,
		done:       make(chan struct{}),
		logger:     logger,
	}
	go hub.run()
	return hub, unsubscribe
}

func (hub *WebSocketHub) run() {
	defer close(hub.done)
	for {
		select {
		case client := <-hub.register:
			hub.clients[client] = true
			hub.logger.Debug("client registered", zap.String("cashier_id", client.CashierID))

		case client := <-hub.unregister:
			if _, ok := hub.clients[client]; ok {
				delete(hub.clients, client)
				close(client.send)
				hub.logger.Debug("client unregistered", zap.String("cashier_id", client.CashierID))
			}

		case event, ok := <-hub.events:
			if !ok {
				for client := range hub.clients {
					delete(hub.clients, client)
					close(client.send)
				}
				return
			}
			hub.broadcastEvent(event)
		}
	}
}

func (hub *WebSocketHub) broadcastEvent(event models.Event) {
	payload, err := json.Marshal(Message{Type: string(event.Type), GameID: event.GameID, Data: event})
	if err != nil {
		hub.logger.Error("failed to marshal event", zap.Error(err), zap.String("type", string(event.Type)))
		return
	}
	for client := range hub.clients {
		if client.CashierID != event.CashierID || !client.wants(event.GameID) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// slow display; drop it rather than stall the hub
			delete(hub.clients, client)
			close(client.send)
			hub.logger.Warn("dropping slow websocket client", zap.String("cashier_id", client.CashierID))
		}
	}
}

func (hub *WebSocketHub) join(client *Client) bool {
	select {
	case hub.register <- client:
		return true
	case <-hub.done:
		return false
	}
}

func (hub *WebSocketHub) leave(client *Client) {
	select {
	case hub.unregister <- client:
	case <-hub.done:
	}
}

type WebSocketHandler struct {
	gameEngine *services.GameEngine
	hub        *WebSocketHub
	logger     *zap.Logger
}

func NewWebSocketHandler(gameEngine *services.GameEngine, hub *WebSocketHub, logger *zap.Logger) *WebSocketHandler {
	return &WebSocketHandler{
		gameEngine: gameEngine,
		hub:        hub,
		logger:     logger,
	}
}

func (h *WebSocketHandler) HandleWebSocket(c *gin.Context) {
	cashierID := c.GetString("cashier_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("failed to upgrade to websocket", zap.Error(err))
		return
	}

	client := &Client{
		CashierID: cashierID,
		Conn:      conn,
		send:      make(chan []byte, sendBuffer),
		replies:   make(chan []byte, 8),
		games:     make(map[string]bool),
	}
	if !h.hub.join(client) {
		conn.Close()
		return
	}

	go h.writePump(client)
	h.sendSnapshot(c, client)
	h.readPump(client)
}

func (h *WebSocketHandler) readPump(client *Client) {
	defer func() {
		h.hub.leave(client)
		client.Conn.Close()
	}()

	client.Conn.SetReadLimit(4096)
	client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	client.Conn.SetPongHandler(func(string) error {
		return client.Conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Message
		if err := client.Conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err), zap.String("cashier_id", client.CashierID))
			}
			return
		}
		h.handleMessage(client, &msg)
	}
}

func (h *WebSocketHandler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn.Close()
	}()

	for {
		select {
		case payload, ok := <-client.send:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				client.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case payload := <-client.replies:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			client.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *WebSocketHandler) handleMessage(client *Client, msg *Message) {
	switch msg.Type {
	case "PING":
		h.queue(client, Message{Type: "PONG", Data: gin.H{"timestamp": time.Now().Unix()}})
	case "SUBSCRIBE_GAME":
		if gameID, ok := msg.Data.(string); ok && gameID != "" {
			client.subscribe(gameID, true)
		}
	case "UNSUBSCRIBE_GAME":
		if gameID, ok := msg.Data.(string); ok {
			client.subscribe(gameID, false)
		}
	}
}

// sendSnapshot greets a new display with the cashier's current game, if there is one.
func (h *WebSocketHandler) sendSnapshot(c *gin.Context, client *Client) {
	game, err := h.gameEngine.CurrentGame(c.Request.Context(), client.CashierID)
	if err != nil {
		return
	}
	snapshot, err := h.gameEngine.GetSnapshot(c.Request.Context(), game.ID)
	if err != nil {
		h.logger.Warn("failed to load snapshot for websocket", zap.Error(err), zap.String("game_id", game.ID))
		return
	}
	h.queue(client, Message{Type: "GAME_SNAPSHOT", GameID: game.ID, Data: snapshot})
}

func (h *WebSocketHandler) queue(client *Client, msg Message) {
	payload, err := json.Marshal(msg)
	if err != nil {
		return
	}
	select {
	case client.replies <- payload:
	default:
	}
}
