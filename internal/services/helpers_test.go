package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

const (
	testCashier = "cashier-1"
	testShop    = "shop-1"
)

// testCard builds a valid card whose columns stay inside their B/I/N/G/O ranges.
func testCard(cashierID string, cardID int) *models.Card {
	card := &models.Card{CashierID: cashierID, CardID: cardID, Active: true}
	for r := 0; r < models.GridSize; r++ {
		for c := 0; c < models.GridSize; c++ {
			card.Numbers[r][c] = c*15 + 1 + (cardID+r*3)%15
		}
	}
	card.Numbers[models.FreeRow][models.FreeCol] = 0
	return card
}

// centrePattern is satisfied by every card from the first moment: only the free cell is marked.
func centrePattern(cashierID string) models.WinPattern {
	p := models.WinPattern{ID: cashierID + "-centre", CashierID: cashierID, Name: "Centre", Active: true}
	p.Mask[models.FreeRow][models.FreeCol] = true
	return p
}

type fixture struct {
	store  *services.MemoryStore
	engine *services.GameEngine
	bus    *services.EventBus
}

type fixtureOption func(*services.EngineOptions)

func withAutoDraw(interval time.Duration) fixtureOption {
	return func(o *services.EngineOptions) {
		o.AutoDraw = true
		o.DrawInterval = interval
	}
}

// testClock is a settable engine clock.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock(start time.Time) *testClock { return &testClock{now: start} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func withClock(c *testClock) fixtureOption {
	return func(o *services.EngineOptions) {
		o.Now = c.Now
	}
}

// newFixture wires an engine on a MemoryStore with one shop (10% margin, 10% fee), one cashier
// and cards 1..10. Patterns are the given set, or the default set when none are passed.
func newFixture(t *testing.T, patterns []models.WinPattern, opts ...fixtureOption) *fixture {
	t.Helper()
	ctx := context.Background()

	store := services.NewMemoryStore()
	require.NoError(t, store.SaveShop(ctx, &models.Shop{ID: testShop, Name: "Main", MarginPct: 10, SystemFeePct: 10}))
	require.NoError(t, store.SaveCashier(ctx, &models.Cashier{ID: testCashier, ShopID: testShop, Name: "Till 1"}))
	for id := 1; id <= 10; id++ {
		require.NoError(t, store.SaveCard(ctx, testCard(testCashier, id)))
	}

	options := services.EngineOptions{
		MinTicketsToStart:   3,
		MaxStake:            1000,
		AutoDraw:            false,
		DrawInterval:        time.Second,
		PatternCacheTTL:     time.Minute,
		FinancialResetAfter: 24 * time.Hour,
	}
	for _, opt := range opts {
		opt(&options)
	}

	bus := services.NewEventBus(zap.NewNop())
	engine := services.NewGameEngine(store, store, store, bus, zap.NewNop(), options)
	t.Cleanup(engine.Shutdown)

	if patterns == nil {
		_, err := engine.SeedDefaultPatterns(ctx, testCashier)
		require.NoError(t, err)
	} else {
		for i := range patterns {
			require.NoError(t, engine.SavePattern(ctx, &patterns[i]))
		}
	}

	return &fixture{store: store, engine: engine, bus: bus}
}

func (f *fixture) newGame(t *testing.T) *models.GameSession {
	t.Helper()
	game, err := f.engine.CreateGame(context.Background(), testCashier)
	require.NoError(t, err)
	return game
}

func (f *fixture) place(t *testing.T, gameID string, stake float64, cards ...int) []*models.Ticket {
	t.Helper()
	tickets := make([]*models.Ticket, 0, len(cards))
	for _, cardID := range cards {
		ticket, err := f.engine.PlaceTicket(context.Background(), models.PlaceTicketRequest{
			GameID:    gameID,
			CashierID: testCashier,
			CardID:    cardID,
			Stake:     stake,
		})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	return tickets
}

// startedGame creates a game with tickets of 10 on the given cards and starts it.
func (f *fixture) startedGame(t *testing.T, cards ...int) (*models.GameSession, []*models.Ticket) {
	t.Helper()
	game := f.newGame(t)
	tickets := f.place(t, game.ID, 10, cards...)
	game, err := f.engine.StartGame(context.Background(), game.ID)
	require.NoError(t, err)
	return game, tickets
}

func (f *fixture) ticket(t *testing.T, number string) *models.Ticket {
	t.Helper()
	ticket, err := f.store.GetTicket(context.Background(), number)
	require.NoError(t, err)
	return ticket
}

// drawAll draws by hand until the pool is empty and returns how many numbers were drawn.
func (f *fixture) drawAll(t *testing.T, gameID string) int {
	t.Helper()
	drawn := 0
	for {
		_, err := f.engine.DrawNumber(context.Background(), gameID)
		if err != nil {
			require.ErrorIs(t, err, services.ErrExhausted)
			return drawn
		}
		drawn++
	}
}
