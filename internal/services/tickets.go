package services

import (
	"context"

	"bingo-cashier-backend/internal/metrics"
	"bingo-cashier-backend/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PlaceTicket records a pending ticket for a card in a waiting game.
func (ge *GameEngine) PlaceTicket(ctx context.Context, req models.PlaceTicketRequest) (ticket *models.Ticket, err error) {
	defer func() { metrics.RecordTicketOp("place", err) }()

	if err := req.Validate(ge.maxStake); err != nil {
		return nil, validationError("place ticket", "%v", err)
	}

	unlock := ge.locks.Lock(req.GameID)
	defer unlock()

	game, err := ge.getGame(ctx, "place ticket", req.GameID)
	if err != nil {
		return nil, err
	}
	if req.CashierID != "" && req.CashierID != game.CashierID {
		return nil, notFoundError("place ticket", "game %s not found", req.GameID)
	}
	if game.Status != models.GameStatusWaiting {
		return nil, conflictError("place ticket", "game %s is %s", game.ID, game.Status)
	}

	card, err := ge.catalog.GetCard(ctx, game.CashierID, req.CardID)
	if err != nil {
		return nil, transientError("place ticket", err)
	}
	if !card.Active {
		return nil, validationError("place ticket", "card %d is not active", card.CardID)
	}
	if holder, err := ge.tickets.FindTicketByCard(ctx, game.ID, card.CardID); err == nil {
		return nil, conflictError("place ticket", "card %d already has ticket %s", card.CardID, holder.TicketNumber)
	} else if KindOf(err) != KindNotFound {
		return nil, transientError("place ticket", err)
	}

	number, err := ge.tickets.NextTicketNumber(ctx)
	if err != nil {
		return nil, transientError("place ticket", err)
	}
	ticket = &models.Ticket{
		TicketNumber: number,
		BetID:        models.GenerateBetID(),
		GameID:       game.ID,
		CashierID:    game.CashierID,
		CardID:       card.CardID,
		Stake:        req.Stake,
		Status:       models.TicketStatusPending,
		PlacedAt:     ge.now(),
	}
	if err := ge.tickets.CreateTicket(ctx, ticket); err != nil {
		return nil, transientError("place ticket", err)
	}

	game.AddCard(card.CardID)
	if err := ge.refreshFinancials(ctx, "place ticket", game); err != nil {
		return ticket, err
	}
	game.UpdatedAt = ge.now()
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return ticket, transientError("place ticket", err)
	}

	ge.logger.Info("ticket placed",
		zap.String("game_id", game.ID),
		zap.String("ticket", ticket.TicketNumber),
		zap.Int("card_id", ticket.CardID),
		zap.Float64("stake", ticket.Stake))
	ge.publish(models.EventTicketPlaced, game, ticket)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)
	return ticket, nil
}

// CancelTicket voids a ticket before the game starts.
func (ge *GameEngine) CancelTicket(ctx context.Context, gameID, ticketNumber string) (ticket *models.Ticket, err error) {
	defer func() { metrics.RecordTicketOp("cancel", err) }()

	unlock := ge.locks.Lock(gameID)
	defer unlock()

	game, err := ge.getGame(ctx, "cancel ticket", gameID)
	if err != nil {
		return nil, err
	}
	ticket, err = ge.gameTicket(ctx, "cancel ticket", game.ID, ticketNumber)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusWaiting {
		return nil, conflictError("cancel ticket", "game %s is %s, tickets can only be cancelled before start",
			game.ID, game.Status)
	}
	if !ticket.Status.Unsettled() {
		return nil, conflictError("cancel ticket", "ticket %s is %s", ticket.TicketNumber, ticket.Status)
	}

	now := ge.now()
	ticket.Status = models.TicketStatusCancelled
	ticket.WinAmount = 0
	ticket.SettledAt = &now
	if err := ge.tickets.UpdateTicket(ctx, ticket); err != nil {
		return nil, transientError("cancel ticket", err)
	}

	game.RemoveCard(ticket.CardID)
	delete(game.VerificationResults, ticket.CardID)
	if err := ge.refreshFinancials(ctx, "cancel ticket", game); err != nil {
		return ticket, err
	}
	game.UpdatedAt = now
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return ticket, transientError("cancel ticket", err)
	}

	ge.publish(models.EventTicketCancelled, game, ticket)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)
	return ticket, nil
}

func (ge *GameEngine) gameTicket(ctx context.Context, op, gameID, ticketNumber string) (*models.Ticket, error) {
	ticket, err := ge.tickets.GetTicket(ctx, ticketNumber)
	if err != nil {
		return nil, transientError(op, err)
	}
	if ticket.GameID != gameID {
		return nil, notFoundError(op, "ticket %s not found in game %s", ticketNumber, gameID)
	}
	return ticket, nil
}

func (ge *GameEngine) cardTicket(ctx context.Context, op string, game *models.GameSession, cardID int) (*models.Ticket, error) {
	ticket, err := ge.tickets.FindTicketByCard(ctx, game.ID, cardID)
	if err != nil {
		return nil, transientError(op, err)
	}
	return ticket, nil
}

// VerifyCard checks the card's ticket against the draws so far and settles it as won or lost.
// A locked ticket returns its locked result. On a completed game the stored result is returned,
// or a fresh check that is not saved.
func (ge *GameEngine) VerifyCard(ctx context.Context, gameID string, cardID int) (*models.VerificationResult, error) {
	unlock := ge.locks.Lock(gameID)
	defer unlock()

	game, err := ge.getGame(ctx, "verify card", gameID)
	if err != nil {
		return nil, err
	}
	ticket, err := ge.cardTicket(ctx, "verify card", game, cardID)
	if err != nil {
		return nil, err
	}

	stored := game.VerificationResults[cardID]
	switch game.Status {
	case models.GameStatusActive, models.GameStatusPaused:
	case models.GameStatusCompleted:
		if stored != nil {
			return stored, nil
		}
		return ge.checkTicket(ctx, game, ticket)
	default:
		return nil, conflictError("verify card", "game %s is %s", game.ID, game.Status)
	}

	if ticket.Status.Redeemed() {
		return nil, conflictError("verify card", "ticket %s is %s", ticket.TicketNumber, ticket.Status)
	}
	if ticket.VerificationLocked && stored != nil {
		metrics.RecordVerification(stored.IsWinner, true)
		return stored, nil
	}

	result, err := ge.checkTicket(ctx, game, ticket)
	if err != nil {
		return nil, err
	}

	if err := ge.refreshFinancials(ctx, "verify card", game); err != nil {
		return nil, err
	}
	now := ge.now()
	ticket.Verified = true
	ticket.SettledAt = &now
	if result.IsWinner {
		ticket.Status = models.TicketStatusWon
		ticket.WinAmount = game.Financials.NetPrizePool
	} else {
		ticket.Status = models.TicketStatusLost
		ticket.WinAmount = 0
	}
	if err := ge.tickets.UpdateTicket(ctx, ticket); err != nil {
		return nil, transientError("verify card", err)
	}

	game.VerificationResults[cardID] = result
	game.UpdatedAt = now
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return result, transientError("verify card", err)
	}

	metrics.RecordVerification(result.IsWinner, false)
	ge.logger.Info("card verified",
		zap.String("game_id", game.ID),
		zap.Int("card_id", cardID),
		zap.Bool("winner", result.IsWinner),
		zap.Strings("patterns", result.MatchedPatternIDs))
	ge.publish(models.EventPatternVerified, game, result)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)
	return result, nil
}

func (ge *GameEngine) checkTicket(ctx context.Context, game *models.GameSession, ticket *models.Ticket) (*models.VerificationResult, error) {
	card, err := ge.catalog.GetCard(ctx, game.CashierID, ticket.CardID)
	if err != nil {
		return nil, transientError("verify card", err)
	}
	match, err := ge.matcher.CheckCard(ctx, card, game.DrawnNumbers, game.CashierID)
	if err != nil {
		return nil, err
	}
	return &models.VerificationResult{
		CardID:            card.CardID,
		TicketNumber:      ticket.TicketNumber,
		IsWinner:          match.IsWinner,
		MatchedPatternIDs: match.MatchedPatternIDs,
		MatchedNumbers:    match.MatchedNumbers,
		DrawCount:         len(game.DrawnNumbers),
		VerifiedAt:        ge.now(),
	}, nil
}

// ScanCards checks every card still in play against the draws so far. Nothing is settled,
// locked or recorded.
func (ge *GameEngine) ScanCards(ctx context.Context, gameID string) ([]MatchResult, error) {
	game, err := ge.getGame(ctx, "scan cards", gameID)
	if err != nil {
		return nil, err
	}
	tickets, err := ge.tickets.ListTickets(ctx, game.ID)
	if err != nil {
		return nil, transientError("scan cards", err)
	}
	cardIDs := make([]int, 0, len(tickets))
	for _, t := range tickets {
		if t.Status != models.TicketStatusCancelled {
			cardIDs = append(cardIDs, t.CardID)
		}
	}
	if len(cardIDs) == 0 {
		return []MatchResult{}, nil
	}

	cards, err := ge.catalog.GetCards(ctx, game.CashierID, cardIDs)
	if err != nil {
		return nil, transientError("scan cards", err)
	}
	results, err := ge.matcher.CheckCards(ctx, cards, game.DrawnNumbers, game.CashierID)
	if err != nil {
		return nil, transientError("scan cards", err)
	}
	return results, nil
}

// LockVerification freezes the last verification of the card.
func (ge *GameEngine) LockVerification(ctx context.Context, gameID string, cardID int) (*models.VerificationResult, error) {
	return ge.setVerificationLock(ctx, gameID, cardID, true)
}

func (ge *GameEngine) UnlockVerification(ctx context.Context, gameID string, cardID int) (*models.VerificationResult, error) {
	return ge.setVerificationLock(ctx, gameID, cardID, false)
}

func (ge *GameEngine) setVerificationLock(ctx context.Context, gameID string, cardID int, locked bool) (*models.VerificationResult, error) {
	op := "lock verification"
	if !locked {
		op = "unlock verification"
	}

	unlock := ge.locks.Lock(gameID)
	defer unlock()

	game, err := ge.getGame(ctx, op, gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusActive && game.Status != models.GameStatusPaused {
		return nil, conflictError(op, "game %s is %s", game.ID, game.Status)
	}
	ticket, err := ge.cardTicket(ctx, op, game, cardID)
	if err != nil {
		return nil, err
	}
	result := game.VerificationResults[cardID]
	if !ticket.Verified || result == nil {
		return nil, conflictError(op, "card %d has not been verified", cardID)
	}

	ticket.VerificationLocked = locked
	if err := ge.tickets.UpdateTicket(ctx, ticket); err != nil {
		return nil, transientError(op, err)
	}
	result.Locked = locked
	game.UpdatedAt = ge.now()
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return nil, transientError(op, err)
	}

	ge.publish(models.EventVerificationLocked, game, result)
	return result, nil
}

// RedeemTicket settles a ticket of a completed game. The first ticket redeemed takes the net
// prize pool whatever its verification outcome, and every other ticket of the game becomes
// lost_redeemed. A winning ticket that comes second is closed as lost_redeemed and returned with
// ErrRaceLost. Once the game is past the financial window redemption is refused.
func (ge *GameEngine) RedeemTicket(ctx context.Context, gameID, ticketNumber string) (*models.Ticket, error) {
	unlock := ge.locks.Lock(gameID)
	defer unlock()

	game, err := ge.getGame(ctx, "redeem ticket", gameID)
	if err != nil {
		return nil, err
	}
	if game.Status != models.GameStatusCompleted {
		return nil, conflictError("redeem ticket", "game %s is %s, redemption opens once it is completed",
			game.ID, game.Status)
	}
	ticket, err := ge.gameTicket(ctx, "redeem ticket", game.ID, ticketNumber)
	if err != nil {
		return nil, err
	}
	if ticket.Status.Unsettled() || ticket.Status == models.TicketStatusCancelled {
		return nil, conflictError("redeem ticket", "ticket %s is %s", ticket.TicketNumber, ticket.Status)
	}

	if ge.financials.Expired(game) {
		return nil, conflictError("redeem ticket", "game %s is past the financial window, its prize pool was reset",
			game.ID)
	}
	if err := ge.refreshFinancials(ctx, "redeem ticket", game); err != nil {
		return nil, err
	}
	redeemed, outcome, err := ge.tickets.RedeemTicket(ctx, game.ID, ticketNumber,
		game.Financials.NetPrizePool, ge.now())
	if err != nil {
		return nil, transientError("redeem ticket", err)
	}
	metrics.RecordRedemption(string(outcome))

	if outcome == RedeemUnchanged {
		return redeemed, nil
	}
	if outcome == RedeemClaimed {
		game.PaidTicket = redeemed.TicketNumber
	}
	game.UpdatedAt = ge.now()
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return redeemed, transientError("redeem ticket", err)
	}

	ge.logger.Info("ticket redeemed",
		zap.String("game_id", game.ID),
		zap.String("ticket", redeemed.TicketNumber),
		zap.String("outcome", string(outcome)),
		zap.Float64("win", redeemed.WinAmount))
	ge.publish(models.EventTicketRedeemed, game, redeemed)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)

	if outcome == RedeemRaceLost {
		return redeemed, newError(KindRaceLost, "redeem ticket",
			"game %s was already paid to ticket %s", game.ID, game.PaidTicket)
	}
	return redeemed, nil
}

func (ge *GameEngine) ListPatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	patterns, err := ge.catalog.ListPatterns(ctx, cashierID)
	if err != nil {
		return nil, transientError("list patterns", err)
	}
	return patterns, nil
}

// SavePattern stores a pattern edit and drops the cashier's cached pattern set.
func (ge *GameEngine) SavePattern(ctx context.Context, pattern *models.WinPattern) error {
	if pattern.ID == "" {
		pattern.ID = uuid.New().String()
	}
	if err := pattern.Validate(); err != nil {
		return validationError("save pattern", "%v", err)
	}
	if err := ge.catalog.SavePattern(ctx, pattern); err != nil {
		return transientError("save pattern", err)
	}
	ge.matcher.Invalidate(pattern.CashierID)
	return nil
}

// SeedDefaultPatterns gives a cashier without any pattern the classic set.
func (ge *GameEngine) SeedDefaultPatterns(ctx context.Context, cashierID string) (int, error) {
	existing, err := ge.ListPatterns(ctx, cashierID)
	if err != nil {
		return 0, err
	}
	if len(existing) > 0 {
		return 0, nil
	}
	defaults := DefaultPatterns(cashierID)
	for i := range defaults {
		if err := ge.SavePattern(ctx, &defaults[i]); err != nil {
			return i, err
		}
	}
	return len(defaults), nil
}
