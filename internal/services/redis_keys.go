package services

import "time"

const (
	KeyTicket       = "ticket:%s"
	KeyTicketSeq    = "ticket:seq"
	KeyGameSession  = "game:session:%s"
	KeyGameTickets  = "game:%s:tickets"
	KeyGameCard     = "game:%s:card:%d"
	KeyGameDraws    = "game:%s:draws"
	KeyGameDrawSet  = "game:%s:drawset"
	KeyGamePayout   = "game:%s:payout"
	KeyCashierGame  = "cashier:%s:current_game"
	KeyRateLimit    = "ratelimit:%s:%s"
	ticketKeyPrefix = "ticket:"

	TTLGameSession = 7 * 24 * time.Hour  // 7 days
	TTLTicket      = 30 * 24 * time.Hour // 30 days

	DefaultRateLimitBets = 60 // per minute per cashier
)
