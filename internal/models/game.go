package models

import "time"

type GameStatus string

const (
	GameStatusWaiting   GameStatus = "waiting"
	GameStatusActive    GameStatus = "active"
	GameStatusPaused    GameStatus = "paused"
	GameStatusCompleted GameStatus = "completed"
)

// FinancialSnapshot holds the totals derived from a game's ticket set.
type FinancialSnapshot struct {
	StakeTotal      float64 `json:"stake_total"`
	ShopMarginTotal float64 `json:"shop_margin_total"`
	SystemFeeTotal  float64 `json:"system_fee_total"`
	NetPrizePool    float64 `json:"net_prize_pool"`
	WinStakeTotal   float64 `json:"win_stake_total"`
	TicketCount     int     `json:"ticket_count"`
}

// VerificationResult is the outcome of checking one card against the draws so far.
type VerificationResult struct {
	CardID            int       `json:"card_id"`
	TicketNumber      string    `json:"ticket_number"`
	IsWinner          bool      `json:"is_winner"`
	MatchedPatternIDs []string  `json:"matched_pattern_ids"`
	MatchedNumbers    []int     `json:"matched_numbers"`
	DrawCount         int       `json:"draw_count"`
	Locked            bool      `json:"locked"`
	VerifiedAt        time.Time `json:"verified_at"`
}

type GameSession struct {
	ID        string     `json:"id"`
	CashierID string     `json:"cashier_id"`
	ShopID    string     `json:"shop_id"`
	Status    GameStatus `json:"status"`

	DrawnNumbers  []int `json:"drawn_numbers"`
	CurrentNumber int   `json:"current_number"`

	Financials          FinancialSnapshot           `json:"financials"`
	PlacedCardIDs       []int                       `json:"placed_card_ids"`
	VerificationResults map[int]*VerificationResult `json:"verification_results"`
	PaidTicket          string                      `json:"paid_ticket,omitempty"`

	CreatedAt time.Time  `json:"created_at"`
	StartedAt *time.Time `json:"started_at,omitempty"`
	EndedAt   *time.Time `json:"ended_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// NewGameSession returns a waiting session with empty state.
func NewGameSession(cashierID, shopID string, now time.Time) *GameSession {
	return &GameSession{
		ID:                  GenerateGameID(),
		CashierID:           cashierID,
		ShopID:              shopID,
		Status:              GameStatusWaiting,
		DrawnNumbers:        []int{},
		PlacedCardIDs:       []int{},
		VerificationResults: make(map[int]*VerificationResult),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func (g *GameSession) HasDrawn(n int) bool {
	for _, d := range g.DrawnNumbers {
		if d == n {
			return true
		}
	}
	return false
}

func (g *GameSession) HasCard(cardID int) bool {
	for _, id := range g.PlacedCardIDs {
		if id == cardID {
			return true
		}
	}
	return false
}

func (g *GameSession) AddCard(cardID int) {
	if !g.HasCard(cardID) {
		g.PlacedCardIDs = append(g.PlacedCardIDs, cardID)
	}
}

func (g *GameSession) RemoveCard(cardID int) {
	out := g.PlacedCardIDs[:0]
	for _, id := range g.PlacedCardIDs {
		if id != cardID {
			out = append(out, id)
		}
	}
	g.PlacedCardIDs = out
}

// Clone returns a deep copy so stores never hand out shared slices or maps.
func (g *GameSession) Clone() *GameSession {
	if g == nil {
		return nil
	}
	c := *g
	c.DrawnNumbers = append([]int{}, g.DrawnNumbers...)
	c.PlacedCardIDs = append([]int{}, g.PlacedCardIDs...)
	c.VerificationResults = make(map[int]*VerificationResult, len(g.VerificationResults))
	for k, v := range g.VerificationResults {
		r := *v
		r.MatchedPatternIDs = append([]string{}, v.MatchedPatternIDs...)
		r.MatchedNumbers = append([]int{}, v.MatchedNumbers...)
		c.VerificationResults[k] = &r
	}
	if g.StartedAt != nil {
		t := *g.StartedAt
		c.StartedAt = &t
	}
	if g.EndedAt != nil {
		t := *g.EndedAt
		c.EndedAt = &t
	}
	return &c
}

// GameSnapshot is what collaborators read through GetSnapshot.
type GameSnapshot struct {
	Game             *GameSession `json:"game"`
	Tickets          []*Ticket    `json:"tickets"`
	SchedulerRunning bool         `json:"scheduler_running"`
	PoolRemaining    int          `json:"pool_remaining"`
}
