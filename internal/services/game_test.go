package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

func TestStartNeedsMinimumTickets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	f.place(t, game.ID, 10, 1, 2)

	_, err := f.engine.StartGame(ctx, game.ID)
	require.ErrorIs(t, err, services.ErrStateConflict)

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusWaiting, stored.Status)

	f.place(t, game.ID, 10, 3)
	started, err := f.engine.StartGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusActive, started.Status)
	require.NotNil(t, started.StartedAt)

	assert.Equal(t, 30.0, started.Financials.StakeTotal)
	assert.Equal(t, 3.0, started.Financials.ShopMarginTotal)
	assert.Equal(t, 27.0, started.Financials.NetPrizePool)
	assert.Equal(t, 3, started.Financials.TicketCount)

	_, err = f.engine.StartGame(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict, "an active game cannot start again")
}

func TestCancelledTicketsDoNotCountTowardsStart(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	tickets := f.place(t, game.ID, 10, 1, 2, 3)

	_, err := f.engine.CancelTicket(ctx, game.ID, tickets[2].TicketNumber)
	require.NoError(t, err)

	_, err = f.engine.StartGame(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict)
}

func TestCancelBeforeStartFreesCard(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	tickets := f.place(t, game.ID, 10, 1, 2)

	cancelled, err := f.engine.CancelTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusCancelled, cancelled.Status)

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.0, stored.Financials.StakeTotal)
	assert.False(t, stored.HasCard(1))

	// the card can be sold again
	again := f.place(t, game.ID, 5, 1)
	assert.NotEqual(t, tickets[0].TicketNumber, again[0].TicketNumber)

	_, err = f.engine.CancelTicket(ctx, game.ID, tickets[0].TicketNumber)
	assert.ErrorIs(t, err, services.ErrStateConflict, "a cancelled ticket stays cancelled")
}

func TestCancelAfterStartConflicts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, tickets := f.startedGame(t, 1, 2, 3)

	_, err := f.engine.CancelTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.ErrorIs(t, err, services.ErrStateConflict)

	assert.Equal(t, models.TicketStatusPending, f.ticket(t, tickets[0].TicketNumber).Status)
	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, game.Financials, stored.Financials)
}

func TestPlaceTicketRules(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	ticket := f.place(t, game.ID, 10, 4)[0]
	assert.Len(t, ticket.TicketNumber, 13)
	assert.NotEmpty(t, ticket.BetID)
	assert.Equal(t, models.TicketStatusPending, ticket.Status)

	_, err := f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CardID: 4, Stake: 10})
	assert.ErrorIs(t, err, services.ErrStateConflict, "one live ticket per card")

	_, err = f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CardID: 5, Stake: 0})
	assert.ErrorIs(t, err, services.ErrValidation)

	_, err = f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CardID: 5, Stake: 5000})
	assert.ErrorIs(t, err, services.ErrValidation, "stake above the maximum")

	_, err = f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CardID: 99, Stake: 10})
	assert.ErrorIs(t, err, services.ErrNotFound, "card 99 was never loaded")

	_, err = f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CashierID: "someone-else", CardID: 5, Stake: 10})
	assert.ErrorIs(t, err, services.ErrNotFound)

	inactive := testCard(testCashier, 6)
	inactive.Active = false
	require.NoError(t, f.store.SaveCard(ctx, inactive))
	_, err = f.engine.PlaceTicket(ctx, models.PlaceTicketRequest{GameID: game.ID, CardID: 6, Stake: 10})
	assert.ErrorIs(t, err, services.ErrValidation)
}

func TestOneUnfinishedGamePerCashier(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	_, err := f.engine.CreateGame(ctx, testCashier)
	require.ErrorIs(t, err, services.ErrStateConflict)

	_, err = f.engine.CreateGame(ctx, "unknown-cashier")
	assert.ErrorIs(t, err, services.ErrNotFound)

	current, err := f.engine.CurrentGame(ctx, testCashier)
	require.NoError(t, err)
	assert.Equal(t, game.ID, current.ID)
}

func TestEndToEndFlow(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	events, unsubscribe := f.bus.Subscribe(1024)
	defer unsubscribe()

	game, tickets := f.startedGame(t, 1, 2, 3)

	result, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	assert.False(t, result.IsWinner, "nothing drawn yet")

	drawn := f.drawAll(t, game.ID)
	assert.Equal(t, 75, drawn)

	_, err = f.engine.DrawNumber(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrExhausted)

	result, err = f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	assert.True(t, result.IsWinner)
	assert.Contains(t, result.MatchedPatternIDs, testCashier+"-full")
	assert.Len(t, result.MatchedNumbers, 24)
	assert.Equal(t, 75, result.DrawCount)

	won := f.ticket(t, tickets[0].TicketNumber)
	assert.Equal(t, models.TicketStatusWon, won.Status)
	assert.Equal(t, 27.0, won.WinAmount)

	_, err = f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	assert.ErrorIs(t, err, services.ErrStateConflict, "redemption waits for the game to complete")

	ended, err := f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusCompleted, ended.Status)
	assert.Len(t, ended.DrawnNumbers, 75)

	redeemed, err := f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusWonRedeemed, redeemed.Status)
	assert.Equal(t, 27.0, redeemed.WinAmount)

	for _, other := range tickets[1:] {
		assert.Equal(t, models.TicketStatusLostRedeemed, f.ticket(t, other.TicketNumber).Status)
	}

	again, err := f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err, "redeeming twice is a no-op")
	assert.Equal(t, models.TicketStatusWonRedeemed, again.Status)

	final, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets[0].TicketNumber, final.PaidTicket)

	seen := map[models.EventType]int{}
	for done := false; !done; {
		select {
		case e := <-events:
			assert.Equal(t, testCashier, e.CashierID)
			seen[e.Type]++
		default:
			done = true
		}
	}
	assert.Equal(t, 75, seen[models.EventDrawRecorded])
	assert.Equal(t, 2, seen[models.EventDrawsExhausted], "one per draw attempt on an empty pool")
	assert.Equal(t, 1, seen[models.EventTicketRedeemed])
	assert.Positive(t, seen[models.EventPatternVerified])
	assert.Positive(t, seen[models.EventStatusChanged])
}

func TestConcurrentRedemptionPaysOnce(t *testing.T) {
	f := newFixture(t, []models.WinPattern{centrePattern(testCashier)})
	ctx := context.Background()

	cards := []int{1, 2, 3, 4, 5, 6}
	game, tickets := f.startedGame(t, cards...)
	for _, cardID := range cards {
		result, err := f.engine.VerifyCard(ctx, game.ID, cardID)
		require.NoError(t, err)
		require.True(t, result.IsWinner)
	}
	_, err := f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make([]*models.Ticket, len(tickets))
	errs := make([]error, len(tickets))
	for i, ticket := range tickets {
		wg.Add(1)
		go func(i int, number string) {
			defer wg.Done()
			results[i], errs[i] = f.engine.RedeemTicket(ctx, game.ID, number)
		}(i, ticket.TicketNumber)
	}
	wg.Wait()

	paid := 0
	for i := range tickets {
		if errs[i] != nil {
			assert.ErrorIs(t, errs[i], services.ErrRaceLost)
		}
		if results[i] != nil && results[i].Status == models.TicketStatusWonRedeemed {
			paid++
		}
	}
	assert.Equal(t, 1, paid, "exactly one winner is paid")

	won, lost := 0, 0
	all, err := f.store.ListTickets(ctx, game.ID)
	require.NoError(t, err)
	for _, ticket := range all {
		switch ticket.Status {
		case models.TicketStatusWonRedeemed:
			won++
			assert.Equal(t, 54.0, ticket.WinAmount)
		case models.TicketStatusLostRedeemed:
			lost++
			assert.Zero(t, ticket.WinAmount)
		}
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, len(cards)-1, lost)
}

func TestVerificationLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, _ := f.startedGame(t, 1, 2, 3)

	_, err := f.engine.LockVerification(ctx, game.ID, 1)
	require.ErrorIs(t, err, services.ErrStateConflict, "cannot lock before verifying")

	first, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	require.False(t, first.IsWinner)

	locked, err := f.engine.LockVerification(ctx, game.ID, 1)
	require.NoError(t, err)
	assert.True(t, locked.Locked)

	f.drawAll(t, game.ID)

	frozen, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	assert.False(t, frozen.IsWinner, "a locked verification is not re-evaluated")
	assert.Zero(t, frozen.DrawCount)

	_, err = f.engine.UnlockVerification(ctx, game.ID, 1)
	require.NoError(t, err)

	fresh, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	assert.True(t, fresh.IsWinner)
	assert.False(t, fresh.Locked)
}

func TestVerifyOutsidePlay(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game := f.newGame(t)
	f.place(t, game.ID, 10, 1, 2, 3)

	_, err := f.engine.VerifyCard(ctx, game.ID, 1)
	assert.ErrorIs(t, err, services.ErrStateConflict, "waiting games are not verified")

	_, err = f.engine.StartGame(ctx, game.ID)
	require.NoError(t, err)
	_, err = f.engine.VerifyCard(ctx, game.ID, 9)
	assert.ErrorIs(t, err, services.ErrNotFound, "card 9 has no ticket")

	_, err = f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)

	// a completed game answers with a fresh check but keeps the ticket as it was
	result, err := f.engine.VerifyCard(ctx, game.ID, 2)
	require.NoError(t, err)
	assert.False(t, result.IsWinner)
	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.NotContains(t, stored.VerificationResults, 2)
}

func TestEndGameSettlesUnverifiedTickets(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, tickets := f.startedGame(t, 1, 2, 3)
	_, err := f.engine.PauseGame(ctx, game.ID)
	require.NoError(t, err)

	ended, err := f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)
	require.NotNil(t, ended.EndedAt)

	for _, ticket := range tickets {
		stored := f.ticket(t, ticket.TicketNumber)
		assert.Equal(t, models.TicketStatusLost, stored.Status)
		assert.NotNil(t, stored.SettledAt)
	}

	_, err = f.engine.EndGame(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict)

	redeemed, err := f.engine.RedeemTicket(ctx, game.ID, tickets[1].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusWonRedeemed, redeemed.Status)
	assert.Equal(t, 27.0, redeemed.WinAmount)
	for _, other := range []*models.Ticket{tickets[0], tickets[2]} {
		assert.Equal(t, models.TicketStatusLostRedeemed, f.ticket(t, other.TicketNumber).Status)
	}
}

func TestFirstRedemptionClaimsPoolEvenWhenLost(t *testing.T) {
	f := newFixture(t, []models.WinPattern{centrePattern(testCashier)})
	ctx := context.Background()

	game, tickets := f.startedGame(t, 1, 2, 3)
	result, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	require.True(t, result.IsWinner)
	_, err = f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)
	require.Equal(t, models.TicketStatusWon, f.ticket(t, tickets[0].TicketNumber).Status)
	require.Equal(t, models.TicketStatusLost, f.ticket(t, tickets[1].TicketNumber).Status)

	claimed, err := f.engine.RedeemTicket(ctx, game.ID, tickets[1].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusWonRedeemed, claimed.Status)
	assert.Equal(t, 27.0, claimed.WinAmount)
	assert.Equal(t, models.TicketStatusLostRedeemed, f.ticket(t, tickets[0].TicketNumber).Status,
		"the verified winner is swept once the pool is taken")
	assert.Equal(t, models.TicketStatusLostRedeemed, f.ticket(t, tickets[2].TicketNumber).Status)

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets[1].TicketNumber, stored.PaidTicket)

	again, err := f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err, "a swept ticket is already settled")
	assert.Equal(t, models.TicketStatusLostRedeemed, again.Status)
	assert.Zero(t, again.WinAmount)
}

func TestRedemptionContinuesAfterNextGame(t *testing.T) {
	f := newFixture(t, []models.WinPattern{centrePattern(testCashier)})
	ctx := context.Background()

	game, tickets := f.startedGame(t, 1, 2, 3)
	_, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)
	_, err = f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)

	next := f.newGame(t)
	assert.NotEqual(t, game.ID, next.ID)

	redeemed, err := f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusWonRedeemed, redeemed.Status)

	old, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, tickets[0].TicketNumber, old.PaidTicket)
}

func TestResetGame(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, tickets := f.startedGame(t, 1, 2, 3)
	for i := 0; i < 5; i++ {
		_, err := f.engine.DrawNumber(ctx, game.ID)
		require.NoError(t, err)
	}
	_, err := f.engine.VerifyCard(ctx, game.ID, 1)
	require.NoError(t, err)

	reset, err := f.engine.ResetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, game.ID, reset.ID)
	assert.Equal(t, models.GameStatusWaiting, reset.Status)
	assert.Empty(t, reset.DrawnNumbers)
	assert.Empty(t, reset.VerificationResults)
	assert.Nil(t, reset.StartedAt)

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.DrawnNumbers)
	assert.Zero(t, stored.CurrentNumber)

	for _, ticket := range tickets {
		got := f.ticket(t, ticket.TicketNumber)
		assert.Equal(t, models.TicketStatusPending, got.Status)
		assert.False(t, got.Verified)
	}

	restarted, err := f.engine.StartGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GameStatusActive, restarted.Status)

	_, err = f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)
	_, err = f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
	require.NoError(t, err)

	_, err = f.engine.ResetGame(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict, "no reset once money moved")
}

func TestPauseResumeKeepsDraws(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, _ := f.startedGame(t, 1, 2, 3)
	first, err := f.engine.DrawNumber(ctx, game.ID)
	require.NoError(t, err)

	_, err = f.engine.PauseGame(ctx, game.ID)
	require.NoError(t, err)
	_, err = f.engine.DrawNumber(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict, "no draws while paused")

	_, err = f.engine.ResumeGame(ctx, game.ID)
	require.NoError(t, err)

	rest := f.drawAll(t, game.ID)
	assert.Equal(t, 74, rest)

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, first, stored.DrawnNumbers[0])
}

func TestRecoverRebuildsPool(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	game, _ := f.startedGame(t, 1, 2, 3)
	for i := 0; i < 10; i++ {
		_, err := f.engine.DrawNumber(ctx, game.ID)
		require.NoError(t, err)
	}

	// a second engine on the same store stands in for a restarted process
	restarted := services.NewGameEngine(f.store, f.store, f.store, f.bus, zap.NewNop(), services.EngineOptions{})
	t.Cleanup(restarted.Shutdown)

	_, err := restarted.RecoverGame(ctx, game.ID)
	require.NoError(t, err)

	snapshot, err := restarted.GetSnapshot(ctx, game.ID)
	require.NoError(t, err)
	assert.Equal(t, 65, snapshot.PoolRemaining)
	assert.Len(t, snapshot.Tickets, 3)
}

func TestAutoDrawLifecycle(t *testing.T) {
	f := newFixture(t, nil, withAutoDraw(10*time.Millisecond))
	ctx := context.Background()

	game, _ := f.startedGame(t, 1, 2, 3)

	drawCount := func() int {
		g, err := f.engine.GetGame(ctx, game.ID)
		if err != nil {
			return -1
		}
		return len(g.DrawnNumbers)
	}

	require.Eventually(t, func() bool { return drawCount() >= 3 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, f.engine.Scheduler().Running(testCashier))

	_, err := f.engine.DrawNumber(ctx, game.ID)
	assert.ErrorIs(t, err, services.ErrStateConflict, "manual draws wait while auto draw runs")

	_, err = f.engine.PauseGame(ctx, game.ID)
	require.NoError(t, err)
	assert.False(t, f.engine.Scheduler().Running(testCashier))

	paused := drawCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, paused, drawCount(), "no draw lands after pause returns")

	_, err = f.engine.ResumeGame(ctx, game.ID)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return drawCount() > paused }, 2*time.Second, 5*time.Millisecond)

	_, err = f.engine.EndGame(ctx, game.ID)
	require.NoError(t, err)
	assert.False(t, f.engine.Scheduler().Running(testCashier))

	ended := drawCount()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, ended, drawCount())
}

func TestAutoDrawStopsWhenExhausted(t *testing.T) {
	f := newFixture(t, nil, withAutoDraw(time.Millisecond))
	ctx := context.Background()

	events, unsubscribe := f.bus.Subscribe(512)
	defer unsubscribe()

	game, _ := f.startedGame(t, 1, 2, 3)

	exhausted := false
	require.Eventually(t, func() bool {
		for {
			select {
			case e := <-events:
				if e.Type == models.EventDrawsExhausted {
					exhausted = true
				}
			default:
				return exhausted
			}
		}
	}, 5*time.Second, 5*time.Millisecond)
	assert.False(t, f.engine.Scheduler().Running(testCashier))

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Len(t, stored.DrawnNumbers, 75)
	assert.Equal(t, models.GameStatusActive, stored.Status, "exhaustion does not end the game")
}

func TestScanCards(t *testing.T) {
	f := newFixture(t, []models.WinPattern{centrePattern(testCashier)})
	ctx := context.Background()

	game := f.newGame(t)
	empty, err := f.engine.ScanCards(ctx, game.ID)
	require.NoError(t, err)
	assert.Empty(t, empty)

	tickets := f.place(t, game.ID, 10, 1, 2, 3, 4)
	_, err = f.engine.CancelTicket(ctx, game.ID, tickets[3].TicketNumber)
	require.NoError(t, err)
	_, err = f.engine.StartGame(ctx, game.ID)
	require.NoError(t, err)

	results, err := f.engine.ScanCards(ctx, game.ID)
	require.NoError(t, err)
	require.Len(t, results, 3)
	cardIDs := make([]int, 0, len(results))
	for _, r := range results {
		assert.True(t, r.IsWinner)
		assert.Equal(t, []string{testCashier + "-centre"}, r.MatchedPatternIDs)
		cardIDs = append(cardIDs, r.CardID)
	}
	assert.ElementsMatch(t, []int{1, 2, 3}, cardIDs)

	// scanning settles nothing
	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.VerificationResults)
	for _, ticket := range tickets[:3] {
		got := f.ticket(t, ticket.TicketNumber)
		assert.Equal(t, models.TicketStatusPending, got.Status)
		assert.False(t, got.Verified)
	}

	_, err = f.engine.ScanCards(ctx, "missing")
	assert.ErrorIs(t, err, services.ErrNotFound)
}

func TestDrawsKeepEngineClock(t *testing.T) {
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	clock := newTestClock(start)
	f := newFixture(t, nil, withClock(clock))
	ctx := context.Background()

	game, _ := f.startedGame(t, 1, 2, 3)
	clock.Advance(time.Minute)
	for i := 0; i < 3; i++ {
		_, err := f.engine.DrawNumber(ctx, game.ID)
		require.NoError(t, err)
	}

	stored, err := f.engine.GetGame(ctx, game.ID)
	require.NoError(t, err)
	assert.Len(t, stored.DrawnNumbers, 3)
	assert.True(t, stored.UpdatedAt.Equal(start), "draws leave UpdatedAt at the last engine write, got %s", stored.UpdatedAt)

	paused, err := f.engine.PauseGame(ctx, game.ID)
	require.NoError(t, err)
	assert.True(t, paused.UpdatedAt.Equal(start.Add(time.Minute)))
}

func TestRedeemAfterFinancialWindow(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		wantErr error
	}{
		{name: "at the edge", elapsed: 24 * time.Hour},
		{name: "past the window", elapsed: 24*time.Hour + time.Second, wantErr: services.ErrStateConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clock := newTestClock(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC))
			f := newFixture(t, []models.WinPattern{centrePattern(testCashier)}, withClock(clock))
			ctx := context.Background()

			game, tickets := f.startedGame(t, 1, 2, 3)
			_, err := f.engine.VerifyCard(ctx, game.ID, 1)
			require.NoError(t, err)
			_, err = f.engine.EndGame(ctx, game.ID)
			require.NoError(t, err)

			clock.Advance(tt.elapsed)
			redeemed, err := f.engine.RedeemTicket(ctx, game.ID, tickets[0].TicketNumber)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, models.TicketStatusWon, f.ticket(t, tickets[0].TicketNumber).Status,
					"a refused redemption leaves the ticket as it was")
				stored, err := f.engine.GetGame(ctx, game.ID)
				require.NoError(t, err)
				assert.Empty(t, stored.PaidTicket)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.TicketStatusWonRedeemed, redeemed.Status)
			assert.Equal(t, 27.0, redeemed.WinAmount)
		})
	}
}
