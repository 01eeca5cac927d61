package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"bingo-cashier-backend/internal/models"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type MatchResult struct {
	CardID            int      `json:"card_id"`
	IsWinner          bool     `json:"is_winner"`
	MatchedPatternIDs []string `json:"matched_pattern_ids"`
	MatchedNumbers    []int    `json:"matched_numbers"`
}

type patternCacheEntry struct {
	patterns []models.WinPattern
	loadedAt time.Time
}

// PatternMatcher checks cards against a cashier's active win patterns. Patterns are cached per
// cashier; concurrent misses share one store read. A load that overlaps an Invalidate is
// returned to its callers but never cached.
type PatternMatcher struct {
	store  PatternStore
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	cache map[string]patternCacheEntry
	gens  map[string]uint64 // bumped by Invalidate
	group singleflight.Group
}

func NewPatternMatcher(store PatternStore, ttl time.Duration, logger *zap.Logger) *PatternMatcher {
	return &PatternMatcher{
		store:  store,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
		cache:  make(map[string]patternCacheEntry),
		gens:   make(map[string]uint64),
	}
}

func (m *PatternMatcher) ActivePatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	m.mu.RLock()
	entry, ok := m.cache[cashierID]
	m.mu.RUnlock()
	if ok && m.now().Sub(entry.loadedAt) < m.ttl {
		return entry.patterns, nil
	}

	v, err, _ := m.group.Do(cashierID, func() (interface{}, error) {
		m.mu.RLock()
		gen := m.gens[cashierID]
		m.mu.RUnlock()

		patterns, err := m.store.ActivePatterns(ctx, cashierID)
		if err != nil {
			return nil, err
		}
		m.mu.Lock()
		if m.gens[cashierID] == gen {
			m.cache[cashierID] = patternCacheEntry{patterns: patterns, loadedAt: m.now()}
		}
		m.mu.Unlock()
		return patterns, nil
	})
	if err != nil {
		m.logger.Warn("failed to load win patterns", zap.String("cashier_id", cashierID), zap.Error(err))
		return nil, transientError("load patterns", err)
	}
	return v.([]models.WinPattern), nil
}

// Invalidate drops the cashier's cached patterns. Loads already in flight are not cached and
// later callers start a fresh read.
func (m *PatternMatcher) Invalidate(cashierID string) {
	m.mu.Lock()
	delete(m.cache, cashierID)
	m.gens[cashierID]++
	m.mu.Unlock()
	m.group.Forget(cashierID)
}

// PurgeExpired drops stale cache entries and returns how many were removed.
func (m *PatternMatcher) PurgeExpired() int {
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for id, entry := range m.cache {
		if now.Sub(entry.loadedAt) >= m.ttl {
			delete(m.cache, id)
			purged++
		}
	}
	return purged
}

func (m *PatternMatcher) CheckCard(ctx context.Context, card *models.Card, drawn []int, cashierID string) (MatchResult, error) {
	patterns, err := m.ActivePatterns(ctx, cashierID)
	if err != nil {
		return MatchResult{}, err
	}
	return MatchCard(card, patterns, drawn), nil
}

// CheckCards evaluates each card exactly as CheckCard would, against one pattern read.
func (m *PatternMatcher) CheckCards(ctx context.Context, cards []*models.Card, drawn []int, cashierID string) ([]MatchResult, error) {
	patterns, err := m.ActivePatterns(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	results := make([]MatchResult, 0, len(cards))
	for _, card := range cards {
		results = append(results, MatchCard(card, patterns, drawn))
	}
	return results, nil
}

// MatchCard is the pure check. A pattern is satisfied when every masked cell is the free centre
// or holds a drawn number. MatchedNumbers lists the covering numbers of all satisfied patterns in
// grid order, without duplicates.
func MatchCard(card *models.Card, patterns []models.WinPattern, drawn []int) MatchResult {
	result := MatchResult{
		CardID:            card.CardID,
		MatchedPatternIDs: []string{},
		MatchedNumbers:    []int{},
	}

	isDrawn := make(map[int]bool, len(drawn))
	for _, n := range drawn {
		isDrawn[n] = true
	}

	var covered [models.GridSize][models.GridSize]bool
	for _, p := range patterns {
		if !p.Active || !satisfies(card, &p, isDrawn) {
			continue
		}
		result.MatchedPatternIDs = append(result.MatchedPatternIDs, p.ID)
		for r := 0; r < models.GridSize; r++ {
			for c := 0; c < models.GridSize; c++ {
				if p.Mask[r][c] {
					covered[r][c] = true
				}
			}
		}
	}

	for r := 0; r < models.GridSize; r++ {
		for c := 0; c < models.GridSize; c++ {
			if covered[r][c] && !models.IsFreeCell(r, c) {
				result.MatchedNumbers = append(result.MatchedNumbers, card.Numbers[r][c])
			}
		}
	}
	result.IsWinner = len(result.MatchedPatternIDs) > 0
	return result
}

func satisfies(card *models.Card, p *models.WinPattern, isDrawn map[int]bool) bool {
	for r := 0; r < models.GridSize; r++ {
		for c := 0; c < models.GridSize; c++ {
			if !p.Mask[r][c] || models.IsFreeCell(r, c) {
				continue
			}
			if !isDrawn[card.Numbers[r][c]] {
				return false
			}
		}
	}
	return true
}

// DefaultPatterns returns the classic line set plus corners, cross and blackout for a cashier.
func DefaultPatterns(cashierID string) []models.WinPattern {
	var patterns []models.WinPattern
	add := func(key, name string, cells func(r, c int) bool) {
		p := models.WinPattern{
			ID:        fmt.Sprintf("%s-%s", cashierID, key),
			CashierID: cashierID,
			Name:      name,
			Active:    true,
		}
		for r := 0; r < models.GridSize; r++ {
			for c := 0; c < models.GridSize; c++ {
				p.Mask[r][c] = cells(r, c)
			}
		}
		patterns = append(patterns, p)
	}

	for i := 0; i < models.GridSize; i++ {
		row, col := i, i
		add(fmt.Sprintf("row%d", i+1), fmt.Sprintf("Row %d", i+1), func(r, _ int) bool { return r == row })
		add(fmt.Sprintf("col%d", i+1), "Column "+"BINGO"[i:i+1], func(_, c int) bool { return c == col })
	}
	last := models.GridSize - 1
	add("diag-main", "Diagonal", func(r, c int) bool { return r == c })
	add("diag-anti", "Anti-diagonal", func(r, c int) bool { return r+c == last })
	add("corners", "Four corners", func(r, c int) bool { return (r == 0 || r == last) && (c == 0 || c == last) })
	add("cross", "Cross", func(r, c int) bool { return r == models.FreeRow || c == models.FreeCol })
	add("full", "Full card", func(_, _ int) bool { return true })
	return patterns
}
