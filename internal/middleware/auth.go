package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"bingo-cashier-backend/internal/services"
)

func AuthMiddleware(jwtService *services.JWTService) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		var tokenString string

		if authHeader != "" {
			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || parts[0] != "Bearer" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization format"})
				c.Abort()
				return
			}
			tokenString = parts[1]
		} else {
			// browsers cannot set headers on a websocket upgrade
			tokenString = c.Query("token")
			if tokenString == "" {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization header required"})
				c.Abort()
				return
			}
		}

		claims, err := jwtService.ValidateToken(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired token"})
			c.Abort()
			return
		}

		c.Set("cashier_id", claims.CashierID)
		c.Set("shop_id", claims.ShopID)

		c.Next()
	}
}

// RateLimiter counts actions per subject in a fixed window.
type RateLimiter interface {
	CheckRateLimit(ctx context.Context, subject, action string, limit int, window time.Duration) (bool, error)
}

// RateLimitMiddleware caps ticket sales and manual draws per cashier. A nil limiter disables it.
func RateLimitMiddleware(limiter RateLimiter, betLimit int) gin.HandlerFunc {
	return func(c *gin.Context) {
		cashierID := c.GetString("cashier_id")
		if limiter == nil || cashierID == "" || c.Request.Method != http.MethodPost {
			c.Next()
			return
		}

		path := c.FullPath()

		var (
			action string
			limit  int
		)
		window := time.Minute

		switch {
		case strings.HasSuffix(path, "/tickets"):
			action = "ticket"
			limit = betLimit
			if limit <= 0 {
				limit = services.DefaultRateLimitBets
			}
		case strings.HasSuffix(path, "/draw"):
			action = "draw"
			limit = 120
		case strings.HasSuffix(path, "/redeem"):
			action = "redeem"
			limit = 120
		default:
			c.Next()
			return
		}

		allowed, err := limiter.CheckRateLimit(c.Request.Context(), cashierID, action, limit, window)
		if err != nil || !allowed {
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": window.Seconds(),
			})
			c.Abort()
			return
		}

		c.Next()
	}
}

// AdminKeyMiddleware guards operator routes with the X-Admin-Key header. An empty key closes them.
func AdminKeyMiddleware(adminKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.GetHeader("X-Admin-Key")
		if adminKey == "" || subtle.ConstantTimeCompare([]byte(key), []byte(adminKey)) != 1 {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid admin key"})
			c.Abort()
			return
		}
		c.Next()
	}
}
