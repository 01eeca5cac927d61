package models

import (
	"fmt"
	"time"
)

const (
	GridSize  = 5
	FreeRow   = 2
	FreeCol   = 2
	MinNumber = 1
	MaxNumber = 75
	MinCardID = 1
	MaxCardID = 210
)

// Card is a cashier-owned 5x5 bingo grid. Numbers[row][col]; the centre cell is free and holds 0.
type Card struct {
	CashierID string                  `gorm:"primaryKey;type:varchar(64)" json:"cashier_id"`
	CardID    int                     `gorm:"primaryKey" json:"card_id"`
	Numbers   [GridSize][GridSize]int `gorm:"serializer:json;type:text" json:"numbers"`
	Active    bool                    `gorm:"not null" json:"active"`
	CreatedAt time.Time               `json:"created_at"`
	UpdatedAt time.Time               `json:"updated_at"`
}

func (Card) TableName() string {
	return "cards"
}

func IsFreeCell(row, col int) bool {
	return row == FreeRow && col == FreeCol
}

func (c *Card) Validate() error {
	if c.CashierID == "" {
		return fmt.Errorf("card %d has no cashier", c.CardID)
	}
	if c.CardID < MinCardID || c.CardID > MaxCardID {
		return fmt.Errorf("card id must be between %d and %d, got %d", MinCardID, MaxCardID, c.CardID)
	}
	seen := make(map[int]bool, GridSize*GridSize)
	for r := 0; r < GridSize; r++ {
		for col := 0; col < GridSize; col++ {
			n := c.Numbers[r][col]
			if IsFreeCell(r, col) {
				if n != 0 {
					return fmt.Errorf("card %d: free centre must be 0, got %d", c.CardID, n)
				}
				continue
			}
			if n < MinNumber || n > MaxNumber {
				return fmt.Errorf("card %d: number %d out of range at [%d][%d]", c.CardID, n, r, col)
			}
			if seen[n] {
				return fmt.Errorf("card %d: duplicate number %d", c.CardID, n)
			}
			seen[n] = true
		}
	}
	return nil
}

// WinPattern marks which cells must be covered for a card to win.
type WinPattern struct {
	ID        string                   `gorm:"primaryKey;type:varchar(64)" json:"id"`
	CashierID string                   `gorm:"index;type:varchar(64);not null" json:"cashier_id"`
	Name      string                   `gorm:"type:varchar(64);not null" json:"name"`
	Mask      [GridSize][GridSize]bool `gorm:"serializer:json;type:text" json:"mask"`
	Active    bool                     `gorm:"not null" json:"active"`
	CreatedAt time.Time                `json:"created_at"`
	UpdatedAt time.Time                `json:"updated_at"`
}

func (WinPattern) TableName() string {
	return "win_patterns"
}

func (p *WinPattern) Validate() error {
	if p.CashierID == "" {
		return fmt.Errorf("pattern has no cashier")
	}
	if p.Name == "" {
		return fmt.Errorf("pattern name is required")
	}
	for r := 0; r < GridSize; r++ {
		for c := 0; c < GridSize; c++ {
			if p.Mask[r][c] {
				return nil
			}
		}
	}
	return fmt.Errorf("pattern %q marks no cells", p.Name)
}

type Shop struct {
	ID           string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	Name         string    `gorm:"type:varchar(128)" json:"name"`
	MarginPct    float64   `gorm:"type:decimal(5,2);not null;default:0" json:"margin_pct"`
	SystemFeePct float64   `gorm:"type:decimal(5,2);not null;default:0" json:"system_fee_pct"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func (s *Shop) Validate() error {
	if s.MarginPct < 0 || s.MarginPct > 100 {
		return fmt.Errorf("margin must be between 0 and 100, got %.2f", s.MarginPct)
	}
	if s.SystemFeePct < 0 || s.SystemFeePct > 100 {
		return fmt.Errorf("system fee must be between 0 and 100, got %.2f", s.SystemFeePct)
	}
	return nil
}

type Cashier struct {
	ID        string    `gorm:"primaryKey;type:varchar(64)" json:"id"`
	ShopID    string    `gorm:"index;type:varchar(64);not null" json:"shop_id"`
	Name      string    `gorm:"type:varchar(128)" json:"name"`
	CreatedAt time.Time `json:"created_at"`
}
