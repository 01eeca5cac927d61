package handlers

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

type wsServer struct {
	url    string
	bus    *services.EventBus
	engine *services.GameEngine
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	store := services.NewMemoryStore()
	require.NoError(t, store.SaveShop(ctx, &models.Shop{ID: "s1", MarginPct: 10, SystemFeePct: 10}))
	for _, id := range []string{"c1", "c2"} {
		require.NoError(t, store.SaveCashier(ctx, &models.Cashier{ID: id, ShopID: "s1"}))
	}

	bus := services.NewEventBus(zap.NewNop())
	engine := services.NewGameEngine(store, store, store, bus, zap.NewNop(),
		services.EngineOptions{MinTicketsToStart: 3, PatternCacheTTL: time.Minute})
	t.Cleanup(engine.Shutdown)

	hub, unsubscribe := NewWebSocketHub(bus, zap.NewNop())
	t.Cleanup(unsubscribe)

	router := gin.New()
	router.GET("/ws", func(c *gin.Context) {
		c.Set("cashier_id", c.Query("cashier"))
	}, NewWebSocketHandler(engine, hub, zap.NewNop()).HandleWebSocket)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &wsServer{url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws", bus: bus, engine: engine}
}

type wsMessage struct {
	Type   string          `json:"type"`
	GameID string          `json:"game_id"`
	Data   json.RawMessage `json:"data"`
}

func (s *wsServer) dial(t *testing.T, cashierID string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?cashier="+cashierID, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func read(t *testing.T, conn *websocket.Conn) wsMessage {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg wsMessage
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

// ping waits for the server to answer, so everything sent before it has been handled.
func ping(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(Message{Type: "PING"}))
	assert.Equal(t, "PONG", read(t, conn).Type)
}

func (s *wsServer) publish(cashierID, gameID string) {
	s.bus.Publish(models.Event{
		Type:      models.EventDrawRecorded,
		GameID:    gameID,
		CashierID: cashierID,
		Data:      models.DrawRecordedData{Number: 7, DrawCount: 1},
		Timestamp: time.Now(),
	})
}

func TestWebSocketSnapshotOnConnect(t *testing.T) {
	s := newWSServer(t)
	game, err := s.engine.CreateGame(context.Background(), "c1")
	require.NoError(t, err)

	conn := s.dial(t, "c1")
	msg := read(t, conn)
	assert.Equal(t, "GAME_SNAPSHOT", msg.Type)
	assert.Equal(t, game.ID, msg.GameID)

	var snapshot models.GameSnapshot
	require.NoError(t, json.Unmarshal(msg.Data, &snapshot))
	require.NotNil(t, snapshot.Game)
	assert.Equal(t, game.ID, snapshot.Game.ID)
}

func TestWebSocketEventsStayWithTheirCashier(t *testing.T) {
	s := newWSServer(t)
	first := s.dial(t, "c1")
	second := s.dial(t, "c2")
	ping(t, first)
	ping(t, second)

	s.publish("c2", "g2")
	s.publish("c1", "g1")

	msg := read(t, first)
	assert.Equal(t, string(models.EventDrawRecorded), msg.Type)
	assert.Equal(t, "g1", msg.GameID, "the other cashier's event is not relayed")

	msg = read(t, second)
	assert.Equal(t, "g2", msg.GameID)
}

func TestWebSocketGameSubscriptions(t *testing.T) {
	s := newWSServer(t)
	conn := s.dial(t, "c1")

	require.NoError(t, conn.WriteJSON(Message{Type: "SUBSCRIBE_GAME", Data: "g3"}))
	ping(t, conn)

	s.publish("c1", "g1")
	s.publish("c1", "g3")
	assert.Equal(t, "g3", read(t, conn).GameID, "only the subscribed game is relayed")

	require.NoError(t, conn.WriteJSON(Message{Type: "UNSUBSCRIBE_GAME", Data: "g3"}))
	ping(t, conn)

	s.publish("c1", "g1")
	assert.Equal(t, "g1", read(t, conn).GameID, "no subscriptions means every game of the cashier")
}

func TestWebSocketHubDropsSlowClient(t *testing.T) {
	bus := services.NewEventBus(zap.NewNop())
	hub, unsubscribe := NewWebSocketHub(bus, zap.NewNop())
	defer unsubscribe()

	slow := &Client{CashierID: "c1", send: make(chan []byte, 1), games: make(map[string]bool)}
	steady := &Client{CashierID: "c1", send: make(chan []byte, 8), games: make(map[string]bool)}
	require.True(t, hub.join(slow))
	require.True(t, hub.join(steady))

	games := []string{"g1", "g2", "g3"}
	for _, gameID := range games {
		bus.Publish(models.Event{Type: models.EventDrawRecorded, GameID: gameID, CashierID: "c1"})
	}

	next := func(client *Client) (wsMessage, bool) {
		t.Helper()
		select {
		case payload, ok := <-client.send:
			if !ok {
				return wsMessage{}, false
			}
			var msg wsMessage
			require.NoError(t, json.Unmarshal(payload, &msg))
			return msg, true
		case <-time.After(2 * time.Second):
			t.Fatal("no event delivered")
			return wsMessage{}, false
		}
	}

	// once the steady client has the last event, the hub is done with the ones before it
	for _, gameID := range games {
		msg, ok := next(steady)
		require.True(t, ok)
		assert.Equal(t, gameID, msg.GameID)
	}

	msg, ok := next(slow)
	require.True(t, ok)
	assert.Equal(t, "g1", msg.GameID)
	_, ok = next(slow)
	assert.False(t, ok, "a full client is closed instead of blocking the hub")
}
