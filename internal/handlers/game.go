package handlers

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"bingo-cashier-backend/internal/models"
	"bingo-cashier-backend/internal/services"
)

type GameHandler struct {
	gameEngine *services.GameEngine
}

func NewGameHandler(gameEngine *services.GameEngine) *GameHandler {
	return &GameHandler{gameEngine: gameEngine}
}

func statusForKind(kind services.ErrorKind) int {
	switch kind {
	case services.KindValidation:
		return http.StatusBadRequest
	case services.KindNotFound:
		return http.StatusNotFound
	case services.KindStateConflict, services.KindRaceLost:
		return http.StatusConflict
	case services.KindExhausted:
		return http.StatusGone
	case services.KindTransient:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	kind := services.KindOf(err)
	if kind == "" {
		kind = "internal"
	}
	c.JSON(statusForKind(kind), gin.H{
		"error":   string(kind),
		"details": err.Error(),
	})
}

// ownGame loads the game and hides it from other cashiers.
func (h *GameHandler) ownGame(c *gin.Context) (*models.GameSession, bool) {
	game, err := h.gameEngine.GetGame(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return nil, false
	}
	if game.CashierID != c.GetString("cashier_id") {
		c.JSON(http.StatusNotFound, gin.H{"error": string(services.KindNotFound), "details": "game not found"})
		return nil, false
	}
	return game, true
}

func cardParam(c *gin.Context) (int, bool) {
	cardID, err := strconv.Atoi(c.Param("card"))
	if err != nil || cardID < models.MinCardID || cardID > models.MaxCardID {
		c.JSON(http.StatusBadRequest, gin.H{"error": string(services.KindValidation), "details": "invalid card id"})
		return 0, false
	}
	return cardID, true
}

func (h *GameHandler) CreateGame(c *gin.Context) {
	game, err := h.gameEngine.CreateGame(c.Request.Context(), c.GetString("cashier_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "game": game})
}

func (h *GameHandler) GetCurrentGame(c *gin.Context) {
	game, err := h.gameEngine.CurrentGame(c.Request.Context(), c.GetString("cashier_id"))
	if err != nil {
		respondError(c, err)
		return
	}
	snapshot, err := h.gameEngine.GetSnapshot(c.Request.Context(), game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

func (h *GameHandler) GetGame(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	snapshot, err := h.gameEngine.GetSnapshot(c.Request.Context(), game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	resp := gin.H{"snapshot": snapshot}
	if stats, ok := h.gameEngine.Scheduler().Stats(game.CashierID); ok {
		resp["scheduler"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

type gameAction func(*services.GameEngine, *gin.Context, string) (*models.GameSession, error)

func (h *GameHandler) transition(action gameAction) gin.HandlerFunc {
	return func(c *gin.Context) {
		game, ok := h.ownGame(c)
		if !ok {
			return
		}
		updated, err := action(h.gameEngine, c, game.ID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"success": true, "game": updated})
	}
}

func (h *GameHandler) StartGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.StartGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) PauseGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.PauseGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) ResumeGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.ResumeGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) EndGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.EndGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) ResetGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.ResetGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) RecoverGame() gin.HandlerFunc {
	return h.transition(func(e *services.GameEngine, c *gin.Context, id string) (*models.GameSession, error) {
		return e.RecoverGame(c.Request.Context(), id)
	})
}

func (h *GameHandler) DrawNumber(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	number, err := h.gameEngine.DrawNumber(c.Request.Context(), game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "number": number})
}

func (h *GameHandler) PlaceTicket(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}

	var req models.PlaceTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   string(services.KindValidation),
			"details": err.Error(),
		})
		return
	}
	req.GameID = game.ID
	req.CashierID = game.CashierID

	ticket, err := h.gameEngine.PlaceTicket(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"success": true, "ticket": ticket})
}

func (h *GameHandler) CancelTicket(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	ticket, err := h.gameEngine.CancelTicket(c.Request.Context(), game.ID, c.Param("number"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ticket": ticket})
}

func (h *GameHandler) VerifyCard(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	cardID, ok := cardParam(c)
	if !ok {
		return
	}
	result, err := h.gameEngine.VerifyCard(c.Request.Context(), game.ID, cardID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

// ScanCards lists the pattern check of every card in play without settling anything.
func (h *GameHandler) ScanCards(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	results, err := h.gameEngine.ScanCards(c.Request.Context(), game.ID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "results": results})
}

func (h *GameHandler) LockVerification(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	cardID, ok := cardParam(c)
	if !ok {
		return
	}

	var (
		result *models.VerificationResult
		err    error
	)
	if c.Request.Method == http.MethodDelete {
		result, err = h.gameEngine.UnlockVerification(c.Request.Context(), game.ID, cardID)
	} else {
		result, err = h.gameEngine.LockVerification(c.Request.Context(), game.ID, cardID)
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "result": result})
}

func (h *GameHandler) RedeemTicket(c *gin.Context) {
	game, ok := h.ownGame(c)
	if !ok {
		return
	}
	ticket, err := h.gameEngine.RedeemTicket(c.Request.Context(), game.ID, c.Param("number"))
	if errors.Is(err, services.ErrRaceLost) {
		c.JSON(http.StatusConflict, gin.H{
			"error":   string(services.KindRaceLost),
			"details": err.Error(),
			"ticket":  ticket,
		})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "ticket": ticket})
}
