package services_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/config"
	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

func newRedisService(t *testing.T) *services.RedisService {
	t.Helper()
	addr := os.Getenv("REDIS_URL")
	if addr == "" {
		addr = "localhost:6379"
	}
	rs, err := services.NewRedisService(&config.Config{RedisURL: addr})
	if err != nil {
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = rs.Close() })
	return rs
}

func TestRedisRateLimit(t *testing.T) {
	rs := newRedisService(t)
	ctx := context.Background()
	subject := "test-" + uuid.NewString()

	for i := 0; i < 2; i++ {
		allowed, err := rs.CheckRateLimit(ctx, subject, "bet", 2, time.Minute)
		require.NoError(t, err)
		assert.True(t, allowed)
	}
	allowed, err := rs.CheckRateLimit(ctx, subject, "bet", 2, time.Minute)
	require.NoError(t, err)
	assert.False(t, allowed)
}

// newRedisGame opens a waiting game on Redis with three tickets of stake 10 on cards 1..3. The
// catalog lives in memory and every card wins on the centre pattern.
func newRedisGame(t *testing.T, rs *services.RedisService) (*services.GameEngine, *models.GameSession, []*models.Ticket) {
	t.Helper()
	ctx := context.Background()
	cashierID := "test-" + uuid.NewString()

	catalog := services.NewMemoryStore()
	require.NoError(t, catalog.SaveShop(ctx, &models.Shop{ID: testShop, MarginPct: 10, SystemFeePct: 10}))
	require.NoError(t, catalog.SaveCashier(ctx, &models.Cashier{ID: cashierID, ShopID: testShop}))
	for id := 1; id <= 3; id++ {
		require.NoError(t, catalog.SaveCard(ctx, testCard(cashierID, id)))
	}
	centre := centrePattern(cashierID)
	require.NoError(t, catalog.SavePattern(ctx, &centre))

	engine := services.NewGameEngine(rs, rs, catalog, services.NewEventBus(zap.NewNop()), zap.NewNop(),
		services.EngineOptions{MinTicketsToStart: 3, MaxStake: 100, PatternCacheTTL: time.Minute})
	t.Cleanup(engine.Shutdown)

	game, err := engine.CreateGame(ctx, cashierID)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rs.DeleteGame(context.Background(), game.ID) })

	tickets := make([]*models.Ticket, 0, 3)
	for id := 1; id <= 3; id++ {
		ticket, err := engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CashierID: cashierID, CardID: id, Stake: 10})
		require.NoError(t, err)
		tickets = append(tickets, ticket)
	}
	return engine, game, tickets
}

func TestRedisGameFlow(t *testing.T) {
	rs := newRedisService(t)
	ctx := context.Background()
	engine, game, tickets := newRedisGame(t, rs)

	_, err := engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CashierID: game.CashierID, CardID: 1, Stake: 10})
	assert.ErrorIs(t, err, services.ErrStateConflict, "a card holds one live ticket per game")

	_, err = engine.StartGame(ctx, game.ID)
	require.NoError(t, err)

	n, err := engine.DrawNumber(ctx, game.ID)
	require.NoError(t, err)
	_, err = rs.AppendDraw(ctx, game.ID, n)
	assert.ErrorIs(t, err, services.ErrStateConflict, "a number is drawn once")

	stored, err := rs.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{n}, stored.DrawnNumbers)
	assert.Equal(t, 27.0, stored.Financials.NetPrizePool)

	for id := 1; id <= 3; id++ {
		result, err := engine.VerifyCard(ctx, game.ID, id)
		require.NoError(t, err)
		assert.True(t, result.IsWinner)
	}
	_, err = engine.EndGame(ctx, game.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for _, ticket := range tickets {
		wg.Add(1)
		go func(number string) {
			defer wg.Done()
			_, _ = engine.RedeemTicket(ctx, game.ID, number)
		}(ticket.TicketNumber)
	}
	wg.Wait()

	paid := 0
	for _, ticket := range tickets {
		got, err := rs.GetTicket(ctx, ticket.TicketNumber)
		require.NoError(t, err)
		if got.Status == models.TicketStatusWonRedeemed {
			paid++
			assert.Equal(t, 27.0, got.WinAmount)
		} else {
			assert.Equal(t, models.TicketStatusLostRedeemed, got.Status)
			assert.Zero(t, got.WinAmount)
		}
	}
	assert.Equal(t, 1, paid)
}

func TestRedisFirstRedemptionClaimsEvenWhenLost(t *testing.T) {
	rs := newRedisService(t)
	ctx := context.Background()
	engine, game, tickets := newRedisGame(t, rs)

	_, err := engine.StartGame(ctx, game.ID)
	require.NoError(t, err)
	_, err = engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	_, err = engine.EndGame(ctx, game.ID)
	require.NoError(t, err)

	claimed, err := engine.RedeemTicket(ctx, game.ID, tickets[2].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusWonRedeemed, claimed.Status)
	assert.Equal(t, 27.0, claimed.WinAmount)

	for _, ticket := range tickets[:2] {
		got, err := rs.GetTicket(ctx, ticket.TicketNumber)
		require.NoError(t, err)
		assert.Equal(t, models.TicketStatusLostRedeemed, got.Status)
		assert.Zero(t, got.WinAmount)
	}

	again, err := engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusLostRedeemed, again.Status)
}
