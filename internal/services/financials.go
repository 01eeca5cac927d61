package services

import (
	"context"
	"time"

	"bingo-cashier-backend/internal/metrics"
	"bingo-cashier-backend/internal/models"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// FinancialAggregator derives a game's totals from its full ticket set. It never adjusts totals
// incrementally, so running it twice gives the same answer.
type FinancialAggregator struct {
	tickets    TicketStore
	games      GameStore
	shops      ShopStore
	resetAfter time.Duration
	now        func() time.Time
}

func NewFinancialAggregator(tickets TicketStore, games GameStore, shops ShopStore, resetAfter time.Duration, now func() time.Time) *FinancialAggregator {
	if now == nil {
		now = time.Now
	}
	return &FinancialAggregator{
		tickets:    tickets,
		games:      games,
		shops:      shops,
		resetAfter: resetAfter,
		now:        now,
	}
}

// Expired reports whether game is past the financial window, after which its totals read zero.
func (a *FinancialAggregator) Expired(game *models.GameSession) bool {
	return a.resetAfter > 0 && a.now().Sub(game.CreatedAt) > a.resetAfter
}

// Snapshot computes the totals for game without writing anything.
func (a *FinancialAggregator) Snapshot(ctx context.Context, game *models.GameSession) (models.FinancialSnapshot, error) {
	if a.Expired(game) {
		metrics.RecordRecompute(true)
		return models.FinancialSnapshot{}, nil
	}

	shop, err := a.shops.ShopForCashier(ctx, game.CashierID)
	if err != nil {
		return models.FinancialSnapshot{}, transientError("snapshot", err)
	}
	tickets, err := a.tickets.ListTickets(ctx, game.ID)
	if err != nil {
		return models.FinancialSnapshot{}, transientError("snapshot", err)
	}

	marginRate := decimal.NewFromFloat(shop.MarginPct).Div(hundred)
	feeRate := decimal.NewFromFloat(shop.SystemFeePct).Div(hundred)

	stake := decimal.Zero
	margin := decimal.Zero
	count := 0
	for _, t := range tickets {
		if t.Status == models.TicketStatusCancelled {
			continue
		}
		s := decimal.NewFromFloat(t.Stake)
		stake = stake.Add(s)
		margin = margin.Add(s.Mul(marginRate))
		count++
	}

	fee := margin.Mul(feeRate)
	net := stake.Sub(margin)

	metrics.RecordRecompute(false)
	return models.FinancialSnapshot{
		StakeTotal:      stake.Round(2).InexactFloat64(),
		ShopMarginTotal: margin.Round(2).InexactFloat64(),
		SystemFeeTotal:  fee.Round(2).InexactFloat64(),
		NetPrizePool:    net.Round(2).InexactFloat64(),
		WinStakeTotal:   net.Round(2).InexactFloat64(),
		TicketCount:     count,
	}, nil
}

// Recompute refreshes and stores the game's financial snapshot.
func (a *FinancialAggregator) Recompute(ctx context.Context, gameID string) (models.FinancialSnapshot, error) {
	game, err := a.games.GetGame(ctx, gameID)
	if err != nil {
		return models.FinancialSnapshot{}, transientError("recompute", err)
	}
	snap, err := a.Snapshot(ctx, game)
	if err != nil {
		return models.FinancialSnapshot{}, err
	}
	game.Financials = snap
	game.UpdatedAt = a.now()
	if err := a.games.UpdateGame(ctx, game); err != nil {
		return models.FinancialSnapshot{}, transientError("recompute", err)
	}
	return snap, nil
}
