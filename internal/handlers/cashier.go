package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

type AuthHandler struct {
	catalog    services.ShopStore
	jwtService *services.JWTService
}

func NewAuthHandler(catalog services.ShopStore, jwtService *services.JWTService) *AuthHandler {
	return &AuthHandler{
		catalog:    catalog,
		jwtService: jwtService,
	}
}

type tokenRequest struct {
	CashierID string `json:"cashier_id" binding:"required"`
}

// IssueToken signs a token for an existing cashier. Mounted behind the admin key.
func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req tokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request",
			"details": err.Error(),
		})
		return
	}

	cashier, err := h.catalog.GetCashier(c.Request.Context(), req.CashierID)
	if err != nil {
		respondError(c, err)
		return
	}

	token, expiresAt, err := h.jwtService.Issue(cashier.ID, cashier.ShopID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to issue token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expiresAt,
		"cashier":    cashier,
	})
}

// Directory is the part of the catalog the operator manages.
type Directory interface {
	services.CardStore
	SaveShop(ctx context.Context, shop *models.Shop) error
	SaveCashier(ctx context.Context, cashier *models.Cashier) error
}

type AdminHandler struct {
	directory  Directory
	gameEngine *services.GameEngine
	cardsFile  string
	logger     *zap.Logger
}

func NewAdminHandler(directory Directory, gameEngine *services.GameEngine, cardsFile string, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		directory:  directory,
		gameEngine: gameEngine,
		cardsFile:  cardsFile,
		logger:     logger,
	}
}

func (h *AdminHandler) SaveShop(c *gin.Context) {
	var shop models.Shop
	if err := c.ShouldBindJSON(&shop); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
		return
	}
	if shop.ID == "" {
		shop.ID = uuid.New().String()
	}
	if err := h.directory.SaveShop(c.Request.Context(), &shop); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "shop": shop})
}

// SaveCashier registers a cashier and gives it the configured card deck and the default
// patterns.
func (h *AdminHandler) SaveCashier(c *gin.Context) {
	var cashier models.Cashier
	if err := c.ShouldBindJSON(&cashier); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
		return
	}
	if cashier.ID == "" {
		cashier.ID = uuid.New().String()
	}
	ctx := c.Request.Context()
	if err := h.directory.SaveCashier(ctx, &cashier); err != nil {
		respondError(c, err)
		return
	}

	cards := 0
	if h.cardsFile != "" {
		n, err := services.LoadCardsFile(ctx, h.directory, h.cardsFile, cashier.ID)
		if err != nil {
			h.logger.Error("card import failed", zap.Error(err), zap.String("cashier_id", cashier.ID))
			respondError(c, err)
			return
		}
		cards = n
	}
	patterns, err := h.gameEngine.SeedDefaultPatterns(ctx, cashier.ID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":         true,
		"cashier":         cashier,
		"cards_imported":  cards,
		"patterns_seeded": patterns,
	})
}

type CashierHandler struct {
	catalog    services.Catalog
	gameEngine *services.GameEngine
}

func NewCashierHandler(catalog services.Catalog, gameEngine *services.GameEngine) *CashierHandler {
	return &CashierHandler{
		catalog:    catalog,
		gameEngine: gameEngine,
	}
}

func (h *CashierHandler) GetCurrentCashier(c *gin.Context) {
	cashierID := c.GetString("cashier_id")

	cashier, err := h.catalog.GetCashier(c.Request.Context(), cashierID)
	if err != nil {
		respondError(c, err)
		return
	}
	shop, err := h.catalog.ShopForCashier(c.Request.Context(), cashierID)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := gin.H{
		"cashier": cashier,
		"shop":    shop,
		"draw":    drawSettingsView(h.gameEngine.Scheduler().Settings(cashierID)),
	}
	if game, err := h.gameEngine.CurrentGame(c.Request.Context(), cashierID); err == nil {
		resp["current_game"] = gin.H{"id": game.ID, "status": game.Status}
	}
	c.JSON(http.StatusOK, resp)
}

func drawSettingsView(s services.DrawSettings) gin.H {
	return gin.H{
		"enabled":     s.Enabled,
		"interval_ms": s.Interval.Milliseconds(),
	}
}

type drawSettingsRequest struct {
	Enabled    *bool `json:"enabled"`
	IntervalMS int64 `json:"interval_ms"`
}

func (h *CashierHandler) UpdateDrawSettings(c *gin.Context) {
	cashierID := c.GetString("cashier_id")

	var req drawSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
		return
	}
	if req.IntervalMS < 0 || (req.IntervalMS > 0 && req.IntervalMS < 500) {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "interval must be at least 500ms"})
		return
	}

	settings := h.gameEngine.Scheduler().Settings(cashierID)
	if req.Enabled != nil {
		settings.Enabled = *req.Enabled
	}
	if req.IntervalMS > 0 {
		settings.Interval = time.Duration(req.IntervalMS) * time.Millisecond
	}
	h.gameEngine.Scheduler().Configure(cashierID, settings)

	c.JSON(http.StatusOK, gin.H{"success": true, "draw": drawSettingsView(h.gameEngine.Scheduler().Settings(cashierID))})
}

func (h *CashierHandler) ListPatterns(c *gin.Context) {
	patterns, err := h.gameEngine.ListPatterns(c.Request.Context(), c.GetString("cashier_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"patterns": patterns})
}

func (h *CashierHandler) SavePattern(c *gin.Context) {
	var pattern models.WinPattern
	if err := c.ShouldBindJSON(&pattern); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
		return
	}
	pattern.CashierID = c.GetString("cashier_id")

	// an explicit id must name one of the cashier's own patterns
	if pattern.ID != "" {
		owned, err := h.gameEngine.ListPatterns(c.Request.Context(), pattern.CashierID)
		if err != nil {
			respondError(c, err)
			return
		}
		found := false
		for _, p := range owned {
			if p.ID == pattern.ID {
				found = true
				break
			}
		}
		if !found {
			c.JSON(http.StatusNotFound, gin.H{"error": string(services.KindNotFound), "details": "pattern not found"})
			return
		}
	}

	if err := h.gameEngine.SavePattern(c.Request.Context(), &pattern); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "pattern": pattern})
}

func (h *CashierHandler) SeedPatterns(c *gin.Context) {
	n, err := h.gameEngine.SeedDefaultPatterns(c.Request.Context(), c.GetString("cashier_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "seeded": n})
}

func (h *CashierHandler) SaveCard(c *gin.Context) {
	var card models.Card
	if err := c.ShouldBindJSON(&card); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": err.Error()})
		return
	}
	card.CashierID = c.GetString("cashier_id")

	if err := h.catalog.SaveCard(c.Request.Context(), &card); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "card": card})
}
