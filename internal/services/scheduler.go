package services

import (
	"context"
	"sync"
	"time"

	"bingo-cashier-backend/internal/metrics"

	"go.uber.org/atomic"
	"go.uber.org/zap"
)

// DrawSink is what the scheduler writes through. The engine implements it.
type DrawSink interface {
	GameActive(ctx context.Context, gameID string) (bool, error)
	RecordDraw(ctx context.Context, gameID string, number int) error
	DrawsExhausted(ctx context.Context, gameID string)
}

type DrawSettings struct {
	Enabled  bool          `json:"enabled"`
	Interval time.Duration `json:"interval"`
}

type SchedulerStats struct {
	GameID     string    `json:"game_id"`
	Interval   string    `json:"interval"`
	Ticks      int64     `json:"ticks"`
	Skipped    int64     `json:"skipped"`
	Errors     int64     `json:"errors"`
	LastError  string    `json:"last_error,omitempty"`
	NextTickAt time.Time `json:"next_tick_at"`
}

type drawLoop struct {
	cashierID string
	gameID    string
	interval  time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	processing *atomic.Bool
	ticks      *atomic.Int64
	skipped    *atomic.Int64
	errors     *atomic.Int64

	mu         sync.Mutex
	lastErr    string
	nextTickAt time.Time
}

func (l *drawLoop) close() {
	l.stopOnce.Do(func() {
		close(l.stop)
		metrics.SchedulerStopped()
	})
}

func (l *drawLoop) stopped() bool {
	select {
	case <-l.stop:
		return true
	default:
		return false
	}
}

func (l *drawLoop) setError(err error) {
	l.errors.Inc()
	l.mu.Lock()
	l.lastErr = err.Error()
	l.mu.Unlock()
}

// DrawScheduler runs one timer loop per cashier with an active game. A tick that fires while the
// previous one is still running is dropped, never queued.
type DrawScheduler struct {
	pool        *NumberPool
	sink        DrawSink
	defaults    DrawSettings
	tickTimeout time.Duration
	logger      *zap.Logger

	mu       sync.Mutex
	loops    map[string]*drawLoop
	settings map[string]DrawSettings
}

// NewDrawScheduler uses defaults for every cashier without its own settings.
func NewDrawScheduler(pool *NumberPool, sink DrawSink, defaults DrawSettings, logger *zap.Logger) *DrawScheduler {
	if defaults.Interval <= 0 {
		defaults.Interval = 5 * time.Second
	}
	return &DrawScheduler{
		pool:        pool,
		sink:        sink,
		defaults:    defaults,
		tickTimeout: 10 * time.Second,
		logger:      logger,
		loops:       make(map[string]*drawLoop),
		settings:    make(map[string]DrawSettings),
	}
}

// Configure overrides the draw settings of one cashier. Disabling stops a running loop.
func (s *DrawScheduler) Configure(cashierID string, settings DrawSettings) {
	if settings.Interval <= 0 {
		settings.Interval = s.defaults.Interval
	}
	s.mu.Lock()
	s.settings[cashierID] = settings
	s.mu.Unlock()

	if !settings.Enabled {
		s.Stop(cashierID)
	}
}

func (s *DrawScheduler) Settings(cashierID string) DrawSettings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settingsLocked(cashierID)
}

func (s *DrawScheduler) settingsLocked(cashierID string) DrawSettings {
	if st, ok := s.settings[cashierID]; ok {
		return st
	}
	return s.defaults
}

// Start begins drawing for the cashier's game. It returns false when auto-draw is disabled for
// the cashier. Starting the same game twice is a no-op.
func (s *DrawScheduler) Start(ctx context.Context, cashierID, gameID string) (bool, error) {
	active, err := s.sink.GameActive(ctx, gameID)
	if err != nil {
		return false, err
	}
	if !active {
		return false, conflictError("start scheduler", "game %s is not active", gameID)
	}

	s.mu.Lock()
	settings := s.settingsLocked(cashierID)
	if !settings.Enabled {
		s.mu.Unlock()
		return false, nil
	}
	old := s.loops[cashierID]
	if old != nil && old.gameID == gameID && !old.stopped() {
		s.mu.Unlock()
		return true, nil
	}
	delete(s.loops, cashierID)
	s.mu.Unlock()

	if old != nil {
		old.close()
		old.wg.Wait()
	}

	loop := &drawLoop{
		cashierID:  cashierID,
		gameID:     gameID,
		interval:   settings.Interval,
		stop:       make(chan struct{}),
		processing: atomic.NewBool(false),
		ticks:      atomic.NewInt64(0),
		skipped:    atomic.NewInt64(0),
		errors:     atomic.NewInt64(0),
		nextTickAt: time.Now().Add(settings.Interval),
	}

	s.mu.Lock()
	if cur := s.loops[cashierID]; cur != nil {
		// lost a race with a concurrent Start
		s.mu.Unlock()
		return true, nil
	}
	s.loops[cashierID] = loop
	loop.wg.Add(1)
	s.mu.Unlock()

	metrics.SchedulerStarted()
	go s.run(loop)

	s.logger.Info("draw scheduler started",
		zap.String("cashier_id", cashierID),
		zap.String("game_id", gameID),
		zap.Duration("interval", settings.Interval))
	return true, nil
}

func (s *DrawScheduler) run(loop *drawLoop) {
	defer loop.wg.Done()

	ticker := time.NewTicker(loop.interval)
	defer ticker.Stop()

	for {
		select {
		case <-loop.stop:
			return
		case <-ticker.C:
			if !loop.processing.CompareAndSwap(false, true) {
				loop.skipped.Inc()
				metrics.RecordTickSkipped()
				continue
			}
			loop.wg.Add(1)
			go func() {
				defer loop.wg.Done()
				defer loop.processing.Store(false)
				s.tick(loop)
			}()
		}
	}
}

func (s *DrawScheduler) tick(loop *drawLoop) {
	if loop.stopped() {
		return
	}
	started := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout)
	defer cancel()

	log := s.logger.With(zap.String("cashier_id", loop.cashierID), zap.String("game_id", loop.gameID))

	active, err := s.sink.GameActive(ctx, loop.gameID)
	if err != nil {
		loop.setError(err)
		log.Warn("draw tick: game check failed", zap.Error(err))
		return
	}
	if !active {
		log.Info("draw tick: game no longer active, stopping")
		s.halt(loop)
		return
	}

	n, ok, err := s.pool.Draw(loop.cashierID)
	if err != nil {
		loop.setError(err)
		metrics.RecordDraw("auto", "fail", started)
		log.Error("draw tick: number pool unavailable, stopping", zap.Error(err))
		s.halt(loop)
		return
	}
	if !ok {
		metrics.RecordDraw("auto", "exhausted", started)
		log.Info("draw tick: all numbers drawn")
		s.halt(loop)
		s.sink.DrawsExhausted(ctx, loop.gameID)
		return
	}

	if err := s.sink.RecordDraw(ctx, loop.gameID, n); err != nil {
		s.pool.Return(loop.cashierID, n)
		loop.setError(err)
		metrics.RecordDraw("auto", "fail", started)
		if KindOf(err) == KindStateConflict || KindOf(err) == KindNotFound {
			log.Warn("draw tick: draw rejected, stopping", zap.Int("number", n), zap.Error(err))
			s.halt(loop)
			return
		}
		log.Warn("draw tick: record failed", zap.Int("number", n), zap.Error(err))
		return
	}

	loop.ticks.Inc()
	loop.mu.Lock()
	loop.nextTickAt = time.Now().Add(loop.interval)
	loop.mu.Unlock()
	metrics.RecordDraw("auto", "success", started)
}

// halt ends a loop from inside its own tick. It must not wait on the loop's WaitGroup.
func (s *DrawScheduler) halt(loop *drawLoop) {
	s.mu.Lock()
	if s.loops[loop.cashierID] == loop {
		delete(s.loops, loop.cashierID)
	}
	s.mu.Unlock()
	loop.close()
}

// Stop ends the cashier's loop and waits for an in-flight tick. No draw is recorded by the
// loop after Stop returns. Safe to call when nothing is running.
func (s *DrawScheduler) Stop(cashierID string) {
	s.stopLoop(cashierID, "")
}

// stopLoop stops the cashier's loop, only if it draws for gameID when gameID is set.
func (s *DrawScheduler) stopLoop(cashierID, gameID string) bool {
	s.mu.Lock()
	loop := s.loops[cashierID]
	if loop == nil || (gameID != "" && loop.gameID != gameID) {
		s.mu.Unlock()
		return false
	}
	delete(s.loops, cashierID)
	s.mu.Unlock()

	loop.close()
	loop.wg.Wait()
	s.logger.Info("draw scheduler stopped",
		zap.String("cashier_id", cashierID),
		zap.String("game_id", loop.gameID),
		zap.Int64("ticks", loop.ticks.Load()),
		zap.Int64("skipped", loop.skipped.Load()))
	return true
}

func (s *DrawScheduler) StopAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.loops))
	for id := range s.loops {
		ids = append(ids, id)
	}
	s.mu.Unlock()

	for _, id := range ids {
		s.Stop(id)
	}
}

func (s *DrawScheduler) Running(cashierID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	loop, ok := s.loops[cashierID]
	return ok && !loop.stopped()
}

func (s *DrawScheduler) Stats(cashierID string) (SchedulerStats, bool) {
	s.mu.Lock()
	loop, ok := s.loops[cashierID]
	s.mu.Unlock()
	if !ok {
		return SchedulerStats{}, false
	}

	loop.mu.Lock()
	defer loop.mu.Unlock()
	return SchedulerStats{
		GameID:     loop.gameID,
		Interval:   loop.interval.String(),
		Ticks:      loop.ticks.Load(),
		Skipped:    loop.skipped.Load(),
		Errors:     loop.errors.Load(),
		LastError:  loop.lastErr,
		NextTickAt: loop.nextTickAt,
	}, true
}

// Sweep stops loops whose game is gone or no longer active and returns how many it stopped.
func (s *DrawScheduler) Sweep(ctx context.Context) int {
	s.mu.Lock()
	candidates := make(map[string]string, len(s.loops))
	for cashierID, loop := range s.loops {
		candidates[cashierID] = loop.gameID
	}
	s.mu.Unlock()

	stopped := 0
	for cashierID, gameID := range candidates {
		active, err := s.sink.GameActive(ctx, gameID)
		if err != nil && KindOf(err) != KindNotFound {
			s.logger.Warn("sweep: game check failed", zap.String("game_id", gameID), zap.Error(err))
			continue
		}
		if active {
			continue
		}
		if s.stopLoop(cashierID, gameID) {
			stopped++
		}
	}
	return stopped
}
