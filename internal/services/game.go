package services

import (
	"context"
	"time"

	"bingo-cashier-backend/internal/metrics"
	"bingo-cashier-backend/internal/models"

	"go.uber.org/zap"
)

type EngineOptions struct {
	MinTicketsToStart   int
	MaxStake            float64
	AutoDraw            bool
	DrawInterval        time.Duration
	PatternCacheTTL     time.Duration
	FinancialResetAfter time.Duration
	Now                 func() time.Time
}

// GameEngine owns the game and ticket state machines. Every mutation of a game runs under that
// game's lock; the draw scheduler is never stopped while a game lock is held.
type GameEngine struct {
	tickets     TicketStore
	games       GameStore
	catalog     Catalog
	broadcaster Broadcaster
	logger      *zap.Logger

	pool       *NumberPool
	scheduler  *DrawScheduler
	matcher    *PatternMatcher
	financials *FinancialAggregator

	minTickets int
	maxStake   float64
	now        func() time.Time
	locks      *keyedMutex
}

func NewGameEngine(tickets TicketStore, games GameStore, catalog Catalog, broadcaster Broadcaster, logger *zap.Logger, opts EngineOptions) *GameEngine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.MinTicketsToStart <= 0 {
		opts.MinTicketsToStart = 3
	}
	if opts.PatternCacheTTL <= 0 {
		opts.PatternCacheTTL = 5 * time.Minute
	}

	ge := &GameEngine{
		tickets:     tickets,
		games:       games,
		catalog:     catalog,
		broadcaster: broadcaster,
		logger:      logger,
		pool:        NewNumberPool(),
		matcher:     NewPatternMatcher(catalog, opts.PatternCacheTTL, logger),
		financials:  NewFinancialAggregator(tickets, games, catalog, opts.FinancialResetAfter, opts.Now),
		minTickets:  opts.MinTicketsToStart,
		maxStake:    opts.MaxStake,
		now:         opts.Now,
		locks:       newKeyedMutex(),
	}
	ge.scheduler = NewDrawScheduler(ge.pool, ge,
		DrawSettings{Enabled: opts.AutoDraw, Interval: opts.DrawInterval}, logger)
	return ge
}

func (ge *GameEngine) Scheduler() *DrawScheduler { return ge.scheduler }

func (ge *GameEngine) Matcher() *PatternMatcher { return ge.matcher }

func (ge *GameEngine) Financials() *FinancialAggregator { return ge.financials }

// Shutdown stops every draw loop.
func (ge *GameEngine) Shutdown() {
	ge.scheduler.StopAll()
}

func (ge *GameEngine) publish(typ models.EventType, game *models.GameSession, data interface{}) {
	if ge.broadcaster == nil {
		return
	}
	ge.broadcaster.Publish(models.Event{
		Type:      typ,
		GameID:    game.ID,
		CashierID: game.CashierID,
		Data:      data,
		Timestamp: ge.now(),
	})
}

func (ge *GameEngine) getGame(ctx context.Context, op, gameID string) (*models.GameSession, error) {
	game, err := ge.games.GetGame(ctx, gameID)
	if err != nil {
		return nil, transientError(op, err)
	}
	return game, nil
}

func (ge *GameEngine) GetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	return ge.getGame(ctx, "get game", gameID)
}

func (ge *GameEngine) CurrentGame(ctx context.Context, cashierID string) (*models.GameSession, error) {
	game, err := ge.games.CurrentGame(ctx, cashierID)
	if err != nil {
		return nil, transientError("current game", err)
	}
	return game, nil
}

// CreateGame opens a new waiting game. A cashier may only have one unfinished game.
func (ge *GameEngine) CreateGame(ctx context.Context, cashierID string) (*models.GameSession, error) {
	cashier, err := ge.catalog.GetCashier(ctx, cashierID)
	if err != nil {
		return nil, transientError("create game", err)
	}

	current, err := ge.games.CurrentGame(ctx, cashierID)
	switch {
	case err == nil && current.Status != models.GameStatusCompleted:
		return nil, conflictError("create game", "cashier %s already has game %s in status %s",
			cashierID, current.ID, current.Status)
	case err != nil && KindOf(err) != KindNotFound:
		return nil, transientError("create game", err)
	}

	game := models.NewGameSession(cashierID, cashier.ShopID, ge.now())
	if err := ge.games.CreateGame(ctx, game); err != nil {
		return nil, transientError("create game", err)
	}

	ge.logger.Info("game created", zap.String("game_id", game.ID), zap.String("cashier_id", cashierID))
	ge.publish(models.EventStatusChanged, game, models.StatusChangedData{To: game.Status})
	return game, nil
}

// transition runs fn on the locked game and stores the result.
func (ge *GameEngine) transition(ctx context.Context, op, gameID string, fn func(game *models.GameSession) error) (*models.GameSession, error) {
	unlock := ge.locks.Lock(gameID)
	defer unlock()

	game, err := ge.getGame(ctx, op, gameID)
	if err != nil {
		return nil, err
	}
	from := game.Status
	if err := fn(game); err != nil {
		return nil, err
	}
	game.UpdatedAt = ge.now()
	if err := ge.games.UpdateGame(ctx, game); err != nil {
		return nil, transientError(op, err)
	}

	if from != game.Status {
		ge.logger.Info("game status changed",
			zap.String("game_id", game.ID),
			zap.String("from", string(from)),
			zap.String("to", string(game.Status)))
		ge.publish(models.EventStatusChanged, game, models.StatusChangedData{From: from, To: game.Status})
	}
	return game, nil
}

func (ge *GameEngine) refreshFinancials(ctx context.Context, op string, game *models.GameSession) error {
	snap, err := ge.financials.Snapshot(ctx, game)
	if err != nil {
		return transientError(op, err)
	}
	game.Financials = snap
	return nil
}

func (ge *GameEngine) liveTicketCount(ctx context.Context, gameID string) (int, error) {
	all, err := ge.tickets.CountTickets(ctx, gameID)
	if err != nil {
		return 0, err
	}
	cancelled, err := ge.tickets.CountTickets(ctx, gameID, models.TicketStatusCancelled)
	if err != nil {
		return 0, err
	}
	return all - cancelled, nil
}

func (ge *GameEngine) startDrawing(ctx context.Context, game *models.GameSession) {
	started, err := ge.scheduler.Start(ctx, game.CashierID, game.ID)
	if err != nil {
		ge.logger.Warn("draw scheduler did not start",
			zap.String("game_id", game.ID), zap.Error(err))
		return
	}
	if !started {
		ge.logger.Info("auto draw disabled, waiting for manual draws",
			zap.String("game_id", game.ID), zap.String("cashier_id", game.CashierID))
	}
}

// StartGame moves a waiting game with enough live tickets to active and starts auto drawing.
func (ge *GameEngine) StartGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	game, err := ge.transition(ctx, "start game", gameID, func(game *models.GameSession) error {
		if game.Status != models.GameStatusWaiting {
			return conflictError("start game", "game %s is %s", game.ID, game.Status)
		}
		live, err := ge.liveTicketCount(ctx, game.ID)
		if err != nil {
			return transientError("start game", err)
		}
		if live < ge.minTickets {
			return conflictError("start game", "game %s has %d tickets, needs at least %d",
				game.ID, live, ge.minTickets)
		}
		if err := ge.refreshFinancials(ctx, "start game", game); err != nil {
			return err
		}
		ge.pool.Initialize(game.CashierID)
		now := ge.now()
		game.Status = models.GameStatusActive
		game.StartedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	ge.startDrawing(ctx, game)
	return game, nil
}

func (ge *GameEngine) PauseGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	game, err := ge.transition(ctx, "pause game", gameID, func(game *models.GameSession) error {
		if game.Status != models.GameStatusActive {
			return conflictError("pause game", "game %s is %s", game.ID, game.Status)
		}
		game.Status = models.GameStatusPaused
		return nil
	})
	if err != nil {
		return nil, err
	}
	ge.scheduler.Stop(game.CashierID)
	return game, nil
}

// ResumeGame reactivates a paused game, rebuilding the pool from the recorded draws.
func (ge *GameEngine) ResumeGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	game, err := ge.transition(ctx, "resume game", gameID, func(game *models.GameSession) error {
		if game.Status != models.GameStatusPaused {
			return conflictError("resume game", "game %s is %s", game.ID, game.Status)
		}
		if err := ge.pool.Sync(game.CashierID, game.DrawnNumbers); err != nil {
			return err
		}
		game.Status = models.GameStatusActive
		return nil
	})
	if err != nil {
		return nil, err
	}
	ge.startDrawing(ctx, game)
	return game, nil
}

// EndGame completes the game. Tickets that were never verified lose.
func (ge *GameEngine) EndGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	game, err := ge.transition(ctx, "end game", gameID, func(game *models.GameSession) error {
		if game.Status != models.GameStatusActive && game.Status != models.GameStatusPaused {
			return conflictError("end game", "game %s is %s", game.ID, game.Status)
		}

		tickets, err := ge.tickets.ListTickets(ctx, game.ID)
		if err != nil {
			return transientError("end game", err)
		}
		now := ge.now()
		for _, t := range tickets {
			if !t.Status.Unsettled() {
				continue
			}
			t.Status = models.TicketStatusLost
			t.WinAmount = 0
			t.SettledAt = &now
			if err := ge.tickets.UpdateTicket(ctx, t); err != nil {
				return transientError("end game", err)
			}
		}

		if err := ge.refreshFinancials(ctx, "end game", game); err != nil {
			return err
		}
		game.Status = models.GameStatusCompleted
		game.EndedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	ge.scheduler.Stop(game.CashierID)
	ge.pool.Release(game.CashierID)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)
	return game, nil
}

// ResetGame returns the cashier's current game to waiting with the same id. Draws and
// verification state are cleared; tickets go back to pending. Not allowed once any ticket has
// been redeemed.
func (ge *GameEngine) ResetGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	game, err := ge.transition(ctx, "reset game", gameID, func(game *models.GameSession) error {
		current, err := ge.games.CurrentGame(ctx, game.CashierID)
		if err != nil {
			return transientError("reset game", err)
		}
		if current.ID != game.ID {
			return conflictError("reset game", "game %s is no longer the current game", game.ID)
		}

		tickets, err := ge.tickets.ListTickets(ctx, game.ID)
		if err != nil {
			return transientError("reset game", err)
		}
		for _, t := range tickets {
			if t.Status.Redeemed() {
				return conflictError("reset game", "ticket %s of game %s is already redeemed",
					t.TicketNumber, game.ID)
			}
		}
		for _, t := range tickets {
			if t.Status == models.TicketStatusCancelled {
				continue
			}
			t.Status = models.TicketStatusPending
			t.WinAmount = 0
			t.SettledAt = nil
			t.Verified = false
			t.VerificationLocked = false
			if err := ge.tickets.UpdateTicket(ctx, t); err != nil {
				return transientError("reset game", err)
			}
		}

		if err := ge.games.ClearDraws(ctx, game.ID); err != nil {
			return transientError("reset game", err)
		}
		game.DrawnNumbers = []int{}
		game.CurrentNumber = 0
		game.VerificationResults = make(map[int]*models.VerificationResult)
		game.PaidTicket = ""
		game.StartedAt = nil
		game.EndedAt = nil
		game.Status = models.GameStatusWaiting
		return ge.refreshFinancials(ctx, "reset game", game)
	})
	if err != nil {
		return nil, err
	}

	ge.scheduler.Stop(game.CashierID)
	ge.pool.Release(game.CashierID)
	ge.publish(models.EventFinancialsUpdated, game, game.Financials)
	return game, nil
}

// RecoverGame rebuilds the in-process draw state of an active or paused game from its stored
// draws, e.g. after a restart.
func (ge *GameEngine) RecoverGame(ctx context.Context, gameID string) (*models.GameSession, error) {
	unlock := ge.locks.Lock(gameID)
	game, err := ge.getGame(ctx, "recover game", gameID)
	if err == nil {
		switch game.Status {
		case models.GameStatusActive, models.GameStatusPaused:
			err = ge.pool.Sync(game.CashierID, game.DrawnNumbers)
		default:
			err = conflictError("recover game", "game %s is %s", game.ID, game.Status)
		}
	}
	unlock()
	if err != nil {
		return nil, err
	}

	if game.Status == models.GameStatusActive {
		ge.startDrawing(ctx, game)
	}
	ge.logger.Info("game recovered",
		zap.String("game_id", game.ID),
		zap.Int("drawn", len(game.DrawnNumbers)),
		zap.Int("remaining", ge.pool.Remaining(game.CashierID)))
	return game, nil
}

// DrawNumber draws one number by hand. It is refused while the auto draw loop runs.
func (ge *GameEngine) DrawNumber(ctx context.Context, gameID string) (int, error) {
	started := time.Now()
	game, err := ge.getGame(ctx, "draw number", gameID)
	if err != nil {
		return 0, err
	}
	if game.Status != models.GameStatusActive {
		return 0, conflictError("draw number", "game %s is %s", game.ID, game.Status)
	}
	if ge.scheduler.Running(game.CashierID) {
		return 0, conflictError("draw number", "auto draw is running for cashier %s", game.CashierID)
	}
	if ge.pool.Remaining(game.CashierID) < 0 {
		if err := ge.pool.Sync(game.CashierID, game.DrawnNumbers); err != nil {
			return 0, err
		}
	}

	n, ok, err := ge.pool.Draw(game.CashierID)
	if err != nil {
		metrics.RecordDraw("manual", "fail", started)
		return 0, err
	}
	if !ok {
		metrics.RecordDraw("manual", "exhausted", started)
		ge.DrawsExhausted(ctx, gameID)
		return 0, newError(KindExhausted, "draw number", "all %d numbers drawn in game %s",
			models.MaxNumber, gameID)
	}
	if err := ge.RecordDraw(ctx, gameID, n); err != nil {
		ge.pool.Return(game.CashierID, n)
		metrics.RecordDraw("manual", "fail", started)
		return 0, err
	}
	metrics.RecordDraw("manual", "success", started)
	return n, nil
}

// GameActive, RecordDraw and DrawsExhausted make the engine the scheduler's DrawSink.

func (ge *GameEngine) GameActive(ctx context.Context, gameID string) (bool, error) {
	game, err := ge.getGame(ctx, "game active", gameID)
	if err != nil {
		return false, err
	}
	return game.Status == models.GameStatusActive, nil
}

func (ge *GameEngine) RecordDraw(ctx context.Context, gameID string, number int) error {
	unlock := ge.locks.Lock(gameID)
	game, err := ge.games.AppendDraw(ctx, gameID, number)
	unlock()
	if err != nil {
		return transientError("record draw", err)
	}

	ge.publish(models.EventDrawRecorded, game, models.DrawRecordedData{
		Number:    number,
		DrawCount: len(game.DrawnNumbers),
		Drawn:     game.DrawnNumbers,
	})
	return nil
}

func (ge *GameEngine) DrawsExhausted(ctx context.Context, gameID string) {
	game, err := ge.getGame(ctx, "draws exhausted", gameID)
	if err != nil {
		ge.logger.Warn("draws exhausted for unknown game", zap.String("game_id", gameID), zap.Error(err))
		return
	}
	ge.logger.Info("all numbers drawn", zap.String("game_id", gameID))
	ge.publish(models.EventDrawsExhausted, game, models.DrawRecordedData{
		Number:    game.CurrentNumber,
		DrawCount: len(game.DrawnNumbers),
		Drawn:     game.DrawnNumbers,
	})
}

// GetSnapshot returns the game with its tickets and in-process draw state.
func (ge *GameEngine) GetSnapshot(ctx context.Context, gameID string) (*models.GameSnapshot, error) {
	game, err := ge.getGame(ctx, "snapshot", gameID)
	if err != nil {
		return nil, err
	}
	tickets, err := ge.tickets.ListTickets(ctx, gameID)
	if err != nil {
		return nil, transientError("snapshot", err)
	}

	remaining := ge.pool.Remaining(game.CashierID)
	if remaining < 0 {
		remaining = models.MaxNumber - len(game.DrawnNumbers)
	}
	running := false
	if stats, ok := ge.scheduler.Stats(game.CashierID); ok {
		running = stats.GameID == game.ID
	}

	return &models.GameSnapshot{
		Game:             game,
		Tickets:          tickets,
		SchedulerRunning: running,
		PoolRemaining:    remaining,
	}, nil
}
