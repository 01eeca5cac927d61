package services

import (
	"math/rand/v2"
	"sync"

	"bingo-cashier-backend/internal/models"
)

type cashierPool struct {
	available []int
	drawn     []int
}

// NumberPool draws 1..75 without replacement, one pool per cashier.
// available and drawn always partition the full range.
type NumberPool struct {
	mu    sync.Mutex
	pools map[string]*cashierPool
}

func NewNumberPool() *NumberPool {
	return &NumberPool{pools: make(map[string]*cashierPool)}
}

func fullRange() []int {
	nums := make([]int, 0, models.MaxNumber)
	for n := models.MinNumber; n <= models.MaxNumber; n++ {
		nums = append(nums, n)
	}
	return nums
}

// Initialize resets the cashier's pool to the full range.
func (p *NumberPool) Initialize(cashierID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pools[cashierID] = &cashierPool{available: fullRange(), drawn: []int{}}
}

// Draw removes one uniformly chosen number. ok is false once the pool is empty.
func (p *NumberPool) Draw(cashierID string) (int, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, exists := p.pools[cashierID]
	if !exists {
		return 0, false, notFoundError("draw", "no number pool for cashier %s", cashierID)
	}
	if len(cp.available) == 0 {
		return 0, false, nil
	}

	i := rand.IntN(len(cp.available))
	n := cp.available[i]
	last := len(cp.available) - 1
	cp.available[i] = cp.available[last]
	cp.available = cp.available[:last]
	cp.drawn = append(cp.drawn, n)
	return n, true, nil
}

// Sync rebuilds the pool from a durable draw history.
func (p *NumberPool) Sync(cashierID string, drawn []int) error {
	seen := make(map[int]bool, len(drawn))
	for _, n := range drawn {
		if n < models.MinNumber || n > models.MaxNumber {
			return validationError("sync pool", "drawn number %d out of range", n)
		}
		if seen[n] {
			return validationError("sync pool", "drawn number %d appears twice", n)
		}
		seen[n] = true
	}

	cp := &cashierPool{drawn: append([]int{}, drawn...)}
	for n := models.MinNumber; n <= models.MaxNumber; n++ {
		if !seen[n] {
			cp.available = append(cp.available, n)
		}
	}

	p.mu.Lock()
	p.pools[cashierID] = cp
	p.mu.Unlock()
	return nil
}

// Return puts back the most recent draw of n when it could not be recorded.
func (p *NumberPool) Return(cashierID string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, exists := p.pools[cashierID]
	if !exists {
		return
	}
	for i := len(cp.drawn) - 1; i >= 0; i-- {
		if cp.drawn[i] == n {
			cp.drawn = append(cp.drawn[:i], cp.drawn[i+1:]...)
			cp.available = append(cp.available, n)
			return
		}
	}
}

// Remaining returns how many numbers are left, or -1 when the cashier has no pool.
func (p *NumberPool) Remaining(cashierID string) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, exists := p.pools[cashierID]
	if !exists {
		return -1
	}
	return len(cp.available)
}

func (p *NumberPool) Drawn(cashierID string) []int {
	p.mu.Lock()
	defer p.mu.Unlock()

	cp, exists := p.pools[cashierID]
	if !exists {
		return nil
	}
	return append([]int{}, cp.drawn...)
}

func (p *NumberPool) Release(cashierID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.pools, cashierID)
}
