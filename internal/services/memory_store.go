package services

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bingo-cashier-backend/internal/models"
)

type cardKey struct {
	cashierID string
	cardID    int
}

// MemoryStore keeps every store in process memory. One RWMutex covers all maps, which also
// makes RedeemTicket a single critical section.
type MemoryStore struct {
	mu sync.RWMutex

	seq         int64
	tickets     map[string]*models.Ticket // ticket number -> ticket
	gameTickets map[string][]string       // game id -> ticket numbers, placement order
	liveCards   map[string]map[int]string // game id -> card id -> live ticket number
	payouts     map[string]string         // game id -> winning ticket number

	games       map[string]*models.GameSession
	currentGame map[string]string // cashier id -> game id
	cards       map[cardKey]*models.Card
	patterns    map[string]*models.WinPattern
	shops       map[string]*models.Shop
	cashiers    map[string]*models.Cashier
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tickets:     make(map[string]*models.Ticket),
		gameTickets: make(map[string][]string),
		liveCards:   make(map[string]map[int]string),
		payouts:     make(map[string]string),
		games:       make(map[string]*models.GameSession),
		currentGame: make(map[string]string),
		cards:       make(map[cardKey]*models.Card),
		patterns:    make(map[string]*models.WinPattern),
		shops:       make(map[string]*models.Shop),
		cashiers:    make(map[string]*models.Cashier),
	}
}

// ---- tickets ----

func (s *MemoryStore) NextTicketNumber(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return models.FormatTicketNumber(s.seq), nil
}

func (s *MemoryStore) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tickets[ticket.TicketNumber]; exists {
		return conflictError("create ticket", "ticket %s already exists", ticket.TicketNumber)
	}
	live := s.liveCards[ticket.GameID]
	if live == nil {
		live = make(map[int]string)
		s.liveCards[ticket.GameID] = live
	}
	if holder, taken := live[ticket.CardID]; taken {
		return conflictError("create ticket", "card %d already has ticket %s in game %s",
			ticket.CardID, holder, ticket.GameID)
	}

	live[ticket.CardID] = ticket.TicketNumber
	s.tickets[ticket.TicketNumber] = ticket.Clone()
	s.gameTickets[ticket.GameID] = append(s.gameTickets[ticket.GameID], ticket.TicketNumber)
	return nil
}

func (s *MemoryStore) GetTicket(ctx context.Context, ticketNumber string) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tickets[ticketNumber]
	if !ok {
		return nil, notFoundError("get ticket", "ticket %s not found", ticketNumber)
	}
	return t.Clone(), nil
}

func (s *MemoryStore) FindTicketByCard(ctx context.Context, gameID string, cardID int) (*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	number, ok := s.liveCards[gameID][cardID]
	if !ok {
		return nil, notFoundError("find ticket", "no ticket for card %d in game %s", cardID, gameID)
	}
	return s.tickets[number].Clone(), nil
}

func (s *MemoryStore) ListTickets(ctx context.Context, gameID string) ([]*models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	numbers := s.gameTickets[gameID]
	out := make([]*models.Ticket, 0, len(numbers))
	for _, n := range numbers {
		out = append(out, s.tickets[n].Clone())
	}
	return out, nil
}

func (s *MemoryStore) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.tickets[ticket.TicketNumber]; !ok {
		return notFoundError("update ticket", "ticket %s not found", ticket.TicketNumber)
	}
	if ticket.Status == models.TicketStatusCancelled {
		if s.liveCards[ticket.GameID][ticket.CardID] == ticket.TicketNumber {
			delete(s.liveCards[ticket.GameID], ticket.CardID)
		}
	}
	s.tickets[ticket.TicketNumber] = ticket.Clone()
	return nil
}

func (s *MemoryStore) CountTickets(ctx context.Context, gameID string, statuses ...models.TicketStatus) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	count := 0
	for _, n := range s.gameTickets[gameID] {
		if len(statuses) == 0 || hasStatus(s.tickets[n].Status, statuses) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) RedeemTicket(ctx context.Context, gameID, ticketNumber string, prize float64, at time.Time) (*models.Ticket, RedeemOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tickets[ticketNumber]
	if !ok || t.GameID != gameID {
		return nil, "", notFoundError("redeem ticket", "ticket %s not found in game %s", ticketNumber, gameID)
	}

	settle := func(tk *models.Ticket, status models.TicketStatus, win float64) {
		tk.Status = status
		tk.WinAmount = win
		ts := at
		tk.SettledAt = &ts
	}

	switch t.Status {
	case models.TicketStatusWonRedeemed, models.TicketStatusLostRedeemed:
		return t.Clone(), RedeemUnchanged, nil
	case models.TicketStatusWon, models.TicketStatusLost:
	default:
		return nil, "", conflictError("redeem ticket", "ticket %s is %s", ticketNumber, t.Status)
	}

	if _, paid := s.payouts[gameID]; paid {
		outcome := RedeemLost
		if t.Status == models.TicketStatusWon {
			outcome = RedeemRaceLost
		}
		settle(t, models.TicketStatusLostRedeemed, 0)
		return t.Clone(), outcome, nil
	}

	s.payouts[gameID] = ticketNumber
	settle(t, models.TicketStatusWonRedeemed, prize)
	for _, n := range s.gameTickets[gameID] {
		if n == ticketNumber {
			continue
		}
		sib := s.tickets[n]
		if sib.Status == models.TicketStatusCancelled || sib.Status.Redeemed() {
			continue
		}
		settle(sib, models.TicketStatusLostRedeemed, 0)
	}
	return t.Clone(), RedeemClaimed, nil
}

func hasStatus(s models.TicketStatus, statuses []models.TicketStatus) bool {
	for _, want := range statuses {
		if s == want {
			return true
		}
	}
	return false
}

// ---- games ----

func (s *MemoryStore) CreateGame(ctx context.Context, game *models.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.games[game.ID]; exists {
		return conflictError("create game", "game %s already exists", game.ID)
	}
	s.games[game.ID] = game.Clone()
	s.currentGame[game.CashierID] = game.ID
	return nil
}

func (s *MemoryStore) GetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, notFoundError("get game", "game %s not found", gameID)
	}
	return g.Clone(), nil
}

func (s *MemoryStore) CurrentGame(ctx context.Context, cashierID string) (*models.GameSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.currentGame[cashierID]
	if !ok {
		return nil, notFoundError("current game", "cashier %s has no game", cashierID)
	}
	return s.games[id].Clone(), nil
}

func (s *MemoryStore) UpdateGame(ctx context.Context, game *models.GameSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.games[game.ID]
	if !ok {
		return notFoundError("update game", "game %s not found", game.ID)
	}
	if s.currentGame[game.CashierID] != game.ID && stored.Status != models.GameStatusCompleted {
		return conflictError("update game", "game %s is no longer the current game of cashier %s",
			game.ID, game.CashierID)
	}
	// draws only move through AppendDraw and ClearDraws
	next := game.Clone()
	next.DrawnNumbers = stored.DrawnNumbers
	next.CurrentNumber = stored.CurrentNumber
	s.games[game.ID] = next
	return nil
}

func (s *MemoryStore) AppendDraw(ctx context.Context, gameID string, number int) (*models.GameSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return nil, notFoundError("append draw", "game %s not found", gameID)
	}
	if s.currentGame[g.CashierID] != gameID {
		return nil, conflictError("append draw", "game %s is no longer current", gameID)
	}
	if g.Status != models.GameStatusActive {
		return nil, conflictError("append draw", "game %s is %s", gameID, g.Status)
	}
	if g.HasDrawn(number) {
		return nil, conflictError("append draw", "number %d already drawn in game %s", number, gameID)
	}
	g.DrawnNumbers = append(g.DrawnNumbers, number)
	g.CurrentNumber = number
	return g.Clone(), nil
}

func (s *MemoryStore) ClearDraws(ctx context.Context, gameID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.games[gameID]
	if !ok {
		return notFoundError("clear draws", "game %s not found", gameID)
	}
	g.DrawnNumbers = []int{}
	g.CurrentNumber = 0
	return nil
}

// ---- catalog ----

func (s *MemoryStore) GetCard(ctx context.Context, cashierID string, cardID int) (*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cards[cardKey{cashierID, cardID}]
	if !ok {
		return nil, notFoundError("get card", "card %d not found for cashier %s", cardID, cashierID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) GetCards(ctx context.Context, cashierID string, cardIDs []int) ([]*models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.Card, 0, len(cardIDs))
	for _, id := range cardIDs {
		if c, ok := s.cards[cardKey{cashierID, id}]; ok {
			cp := *c
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) SaveCard(ctx context.Context, card *models.Card) error {
	if err := card.Validate(); err != nil {
		return validationError("save card", "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *card
	s.cards[cardKey{card.CashierID, card.CardID}] = &cp
	return nil
}

func (s *MemoryStore) ActivePatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	all, err := s.ListPatterns(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, p := range all {
		if p.Active {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListPatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WinPattern, 0)
	for _, p := range s.patterns {
		if p.CashierID == cashierID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) SavePattern(ctx context.Context, pattern *models.WinPattern) error {
	if err := pattern.Validate(); err != nil {
		return validationError("save pattern", "%v", err)
	}
	if pattern.ID == "" {
		return validationError("save pattern", "pattern id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *pattern
	s.patterns[pattern.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveShop(ctx context.Context, shop *models.Shop) error {
	if err := shop.Validate(); err != nil {
		return validationError("save shop", "%v", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	cp := *shop
	s.shops[shop.ID] = &cp
	return nil
}

func (s *MemoryStore) SaveCashier(ctx context.Context, cashier *models.Cashier) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.shops[cashier.ShopID]; !ok {
		return notFoundError("save cashier", "shop %s not found", cashier.ShopID)
	}
	cp := *cashier
	s.cashiers[cashier.ID] = &cp
	return nil
}

func (s *MemoryStore) GetCashier(ctx context.Context, cashierID string) (*models.Cashier, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cashiers[cashierID]
	if !ok {
		return nil, notFoundError("get cashier", "cashier %s not found", cashierID)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ShopForCashier(ctx context.Context, cashierID string) (*models.Shop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.cashiers[cashierID]
	if !ok {
		return nil, notFoundError("shop for cashier", "cashier %s not found", cashierID)
	}
	shop, ok := s.shops[c.ShopID]
	if !ok {
		return nil, fmt.Errorf("cashier %s points at missing shop %s", cashierID, c.ShopID)
	}
	cp := *shop
	return &cp, nil
}
