package models

import "time"

type EventType string

const (
	EventDrawRecorded       EventType = "DRAW_RECORDED"
	EventDrawsExhausted     EventType = "DRAWS_EXHAUSTED"
	EventFinancialsUpdated  EventType = "FINANCIALS_UPDATED"
	EventTicketPlaced       EventType = "TICKET_PLACED"
	EventTicketCancelled    EventType = "TICKET_CANCELLED"
	EventTicketRedeemed     EventType = "TICKET_REDEEMED"
	EventPatternVerified    EventType = "PATTERN_VERIFIED"
	EventStatusChanged      EventType = "STATUS_CHANGED"
	EventVerificationLocked EventType = "VERIFICATION_LOCKED"
)

// Event is what the engine publishes; transport is up to subscribers.
type Event struct {
	Type      EventType   `json:"type"`
	GameID    string      `json:"game_id"`
	CashierID string      `json:"cashier_id"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type DrawRecordedData struct {
	Number    int   `json:"number"`
	DrawCount int   `json:"draw_count"`
	Drawn     []int `json:"drawn"`
}

type StatusChangedData struct {
	From GameStatus `json:"from"`
	To   GameStatus `json:"to"`
}
