package services

import (
	"context"
	"time"

	"bingo-cashier-backend/internal/models"
)

// RedeemOutcome tells the engine what the atomic redemption did.
type RedeemOutcome string

const (
	RedeemClaimed   RedeemOutcome = "claimed"   // ticket took the pool, siblings swept
	RedeemLost      RedeemOutcome = "lost"      // lost ticket closed out after the payout
	RedeemRaceLost  RedeemOutcome = "race_lost" // ticket had won but the game already paid out
	RedeemUnchanged RedeemOutcome = "unchanged" // ticket was already redeemed
)

type TicketStore interface {
	// NextTicketNumber returns the next 13-digit ticket number.
	NextTicketNumber(ctx context.Context) (string, error)
	// CreateTicket fails with a state conflict if the card already holds a live ticket in the game.
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, ticketNumber string) (*models.Ticket, error)
	// FindTicketByCard returns the non-cancelled ticket for the card, or a not-found error.
	FindTicketByCard(ctx context.Context, gameID string, cardID int) (*models.Ticket, error)
	ListTickets(ctx context.Context, gameID string) ([]*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error
	CountTickets(ctx context.Context, gameID string, statuses ...models.TicketStatus) (int, error)
	// RedeemTicket runs the single-winner claim as one atomic step. The first ticket redeemed,
	// won or lost, gets prize and every other live ticket of the game becomes lost_redeemed.
	RedeemTicket(ctx context.Context, gameID, ticketNumber string, prize float64, at time.Time) (*models.Ticket, RedeemOutcome, error)
}

type GameStore interface {
	// CreateGame saves the game and makes it the cashier's current game.
	CreateGame(ctx context.Context, game *models.GameSession) error
	GetGame(ctx context.Context, gameID string) (*models.GameSession, error)
	CurrentGame(ctx context.Context, cashierID string) (*models.GameSession, error)
	// UpdateGame only writes if game.ID is still the cashier's current game, or if the stored game
	// is completed (redemption continues after the cashier has moved on). Draws are not written.
	UpdateGame(ctx context.Context, game *models.GameSession) error
	// AppendDraw appends a number to an active game, rejecting duplicates. It leaves UpdatedAt
	// alone; timestamps come from the engine clock.
	AppendDraw(ctx context.Context, gameID string, number int) (*models.GameSession, error)
	ClearDraws(ctx context.Context, gameID string) error
}

type CardStore interface {
	GetCard(ctx context.Context, cashierID string, cardID int) (*models.Card, error)
	GetCards(ctx context.Context, cashierID string, cardIDs []int) ([]*models.Card, error)
	SaveCard(ctx context.Context, card *models.Card) error
}

type PatternStore interface {
	ActivePatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error)
	ListPatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error)
	SavePattern(ctx context.Context, pattern *models.WinPattern) error
}

type ShopStore interface {
	ShopForCashier(ctx context.Context, cashierID string) (*models.Shop, error)
	GetCashier(ctx context.Context, cashierID string) (*models.Cashier, error)
}

// Catalog groups the read-mostly stores.
type Catalog interface {
	CardStore
	PatternStore
	ShopStore
}
