package models

import (
	"fmt"
	"time"
)

type TicketStatus string

const (
	TicketStatusPending      TicketStatus = "pending"
	TicketStatusActive       TicketStatus = "active"
	TicketStatusWon          TicketStatus = "won"
	TicketStatusLost         TicketStatus = "lost"
	TicketStatusCancelled    TicketStatus = "cancelled"
	TicketStatusWonRedeemed  TicketStatus = "won_redeemed"
	TicketStatusLostRedeemed TicketStatus = "lost_redeemed"
)

// Unsettled reports whether the ticket still waits for a verification outcome.
func (s TicketStatus) Unsettled() bool {
	return s == TicketStatusPending || s == TicketStatusActive
}

func (s TicketStatus) Redeemed() bool {
	return s == TicketStatusWonRedeemed || s == TicketStatusLostRedeemed
}

type Ticket struct {
	TicketNumber       string       `json:"ticket_number"`
	BetID              string       `json:"bet_id"`
	GameID             string       `json:"game_id"`
	CashierID          string       `json:"cashier_id"`
	CardID             int          `json:"card_id"`
	Stake              float64      `json:"stake"`
	Status             TicketStatus `json:"status"`
	WinAmount          float64      `json:"win_amount"`
	PlacedAt           time.Time    `json:"placed_at"`
	SettledAt          *time.Time   `json:"settled_at"`
	Verified           bool         `json:"verified"`
	VerificationLocked bool         `json:"verification_locked"`
}

func (t *Ticket) Clone() *Ticket {
	if t == nil {
		return nil
	}
	c := *t
	if t.SettledAt != nil {
		s := *t.SettledAt
		c.SettledAt = &s
	}
	return &c
}

type PlaceTicketRequest struct {
	GameID    string  `json:"game_id"`
	CashierID string  `json:"-"`
	CardID    int     `json:"card_id" binding:"required"`
	Stake     float64 `json:"stake" binding:"required"`
}

func (r *PlaceTicketRequest) Validate(maxStake float64) error {
	if r.GameID == "" {
		return fmt.Errorf("game id is required")
	}
	if r.CardID < MinCardID || r.CardID > MaxCardID {
		return fmt.Errorf("card id must be between %d and %d", MinCardID, MaxCardID)
	}
	if r.Stake <= 0 {
		return fmt.Errorf("stake must be positive")
	}
	if maxStake > 0 && r.Stake > maxStake {
		return fmt.Errorf("maximum stake is %.2f", maxStake)
	}
	return nil
}
