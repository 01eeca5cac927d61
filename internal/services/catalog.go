package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"bingo-cashier-backend/internal/models"

	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"
)

// CatalogStore keeps cards, win patterns, shops and cashiers in SQL.
type CatalogStore struct {
	db *gorm.DB
}

// OpenCatalog connects to Postgres for postgres:// URLs and to SQLite otherwise, then migrates.
func OpenCatalog(databaseURL string, logger *zap.Logger) (*CatalogStore, error) {
	var dialector gorm.Dialector
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		dialector = postgres.Open(databaseURL)
	case databaseURL == "":
		dialector = sqlite.Open("file::memory:?cache=shared")
	default:
		dialector = sqlite.Open(databaseURL)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	store, err := NewCatalogStore(db)
	if err != nil {
		return nil, err
	}
	logger.Info("catalog database ready", zap.String("dialect", dialector.Name()))
	return store, nil
}

func NewCatalogStore(db *gorm.DB) (*CatalogStore, error) {
	if err := db.AutoMigrate(&models.Shop{}, &models.Cashier{}, &models.Card{}, &models.WinPattern{}); err != nil {
		return nil, fmt.Errorf("catalog migration failed: %w", err)
	}
	return &CatalogStore{db: db}, nil
}

func (s *CatalogStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *CatalogStore) GetCard(ctx context.Context, cashierID string, cardID int) (*models.Card, error) {
	var card models.Card
	err := s.db.WithContext(ctx).
		Where("cashier_id = ? AND card_id = ?", cashierID, cardID).
		First(&card).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("get card", "card %d not found for cashier %s", cardID, cashierID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get card: %w", err)
	}
	return &card, nil
}

func (s *CatalogStore) GetCards(ctx context.Context, cashierID string, cardIDs []int) ([]*models.Card, error) {
	var cards []*models.Card
	err := s.db.WithContext(ctx).
		Where("cashier_id = ? AND card_id IN ?", cashierID, cardIDs).
		Order("card_id").
		Find(&cards).Error
	if err != nil {
		return nil, fmt.Errorf("failed to get cards: %w", err)
	}
	return cards, nil
}

func (s *CatalogStore) SaveCard(ctx context.Context, card *models.Card) error {
	if err := card.Validate(); err != nil {
		return validationError("save card", "%v", err)
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "cashier_id"}, {Name: "card_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"numbers", "active", "updated_at"}),
	}).Create(card).Error
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

func (s *CatalogStore) ActivePatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	var patterns []models.WinPattern
	err := s.db.WithContext(ctx).
		Where("cashier_id = ? AND active = ?", cashierID, true).
		Order("id").
		Find(&patterns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load active patterns: %w", err)
	}
	return patterns, nil
}

func (s *CatalogStore) ListPatterns(ctx context.Context, cashierID string) ([]models.WinPattern, error) {
	var patterns []models.WinPattern
	err := s.db.WithContext(ctx).
		Where("cashier_id = ?", cashierID).
		Order("id").
		Find(&patterns).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}
	return patterns, nil
}

func (s *CatalogStore) SavePattern(ctx context.Context, pattern *models.WinPattern) error {
	if err := pattern.Validate(); err != nil {
		return validationError("save pattern", "%v", err)
	}
	if pattern.ID == "" {
		return validationError("save pattern", "pattern id is required")
	}
	// Save upserts on the primary key and writes false booleans too
	if err := s.db.WithContext(ctx).Save(pattern).Error; err != nil {
		return fmt.Errorf("failed to save pattern: %w", err)
	}
	return nil
}

func (s *CatalogStore) SaveShop(ctx context.Context, shop *models.Shop) error {
	if err := shop.Validate(); err != nil {
		return validationError("save shop", "%v", err)
	}
	if err := s.db.WithContext(ctx).Save(shop).Error; err != nil {
		return fmt.Errorf("failed to save shop: %w", err)
	}
	return nil
}

func (s *CatalogStore) SaveCashier(ctx context.Context, cashier *models.Cashier) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.Shop{}).Where("id = ?", cashier.ShopID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check shop: %w", err)
	}
	if count == 0 {
		return notFoundError("save cashier", "shop %s not found", cashier.ShopID)
	}
	if err := s.db.WithContext(ctx).Save(cashier).Error; err != nil {
		return fmt.Errorf("failed to save cashier: %w", err)
	}
	return nil
}

func (s *CatalogStore) GetCashier(ctx context.Context, cashierID string) (*models.Cashier, error) {
	var cashier models.Cashier
	err := s.db.WithContext(ctx).First(&cashier, "id = ?", cashierID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("get cashier", "cashier %s not found", cashierID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cashier: %w", err)
	}
	return &cashier, nil
}

func (s *CatalogStore) ShopForCashier(ctx context.Context, cashierID string) (*models.Shop, error) {
	cashier, err := s.GetCashier(ctx, cashierID)
	if err != nil {
		return nil, err
	}
	var shop models.Shop
	err = s.db.WithContext(ctx).First(&shop, "id = ?", cashier.ShopID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, notFoundError("shop for cashier", "shop %s not found", cashier.ShopID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get shop: %w", err)
	}
	return &shop, nil
}

// cardFile is one entry of a cards.json deck: five columns of five numbers. The N column may
// hold four numbers, in which case the free centre is implied.
type cardFile struct {
	B      []int `json:"B"`
	I      []int `json:"I"`
	N      []int `json:"N"`
	G      []int `json:"G"`
	O      []int `json:"O"`
	CardID int   `json:"card_id"`
}

func (f cardFile) toCard(cashierID string) (*models.Card, error) {
	n := f.N
	if len(n) == models.GridSize-1 {
		n = append(append(append([]int{}, n[:models.FreeRow]...), 0), n[models.FreeRow:]...)
	}
	cols := [][]int{f.B, f.I, n, f.G, f.O}

	card := &models.Card{CashierID: cashierID, CardID: f.CardID, Active: true}
	for c, col := range cols {
		if len(col) != models.GridSize {
			return nil, fmt.Errorf("card %d: column %d has %d numbers", f.CardID, c, len(col))
		}
		for r, v := range col {
			card.Numbers[r][c] = v
		}
	}
	card.Numbers[models.FreeRow][models.FreeCol] = 0
	return card, nil
}

// LoadCardsFile imports a cards.json deck for a cashier and returns how many cards were saved.
func LoadCardsFile(ctx context.Context, store CardStore, path, cashierID string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var deck []cardFile
	if err := json.Unmarshal(data, &deck); err != nil {
		return 0, fmt.Errorf("failed to unmarshal %s: %w", path, err)
	}

	saved := 0
	for _, entry := range deck {
		card, err := entry.toCard(cashierID)
		if err != nil {
			return saved, validationError("load cards", "%v", err)
		}
		if err := store.SaveCard(ctx, card); err != nil {
			return saved, err
		}
		saved++
	}
	return saved, nil
}
