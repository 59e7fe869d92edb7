package router

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/transcode-pipeline/internal/api/dto"
	"github.com/cuongbtq/transcode-pipeline/internal/api/handler"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/gin-gonic/gin"
)

// LoggerMiddleware logs HTTP requests with slog
func LoggerMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		// Process request
		c.Next()

		// Calculate latency
		latency := time.Since(start)

		// Log request details
		logger.Info("HTTP Request",
			slog.Int("status", c.Writer.Status()),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.String("query", query),
			slog.String("ip", c.ClientIP()),
			slog.String("user_agent", c.Request.UserAgent()),
			slog.Duration("latency", latency),
			slog.Int("body_size", c.Writer.Size()),
		)

		// Log errors if any
		if len(c.Errors) > 0 {
			for _, e := range c.Errors {
				logger.Error("Request error",
					slog.String("error", e.Error()),
					slog.Uint64("type", uint64(e.Type)),
				)
			}
		}
	}
}

// CORSMiddleware handles Cross-Origin Resource Sharing
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// BearerMiddleware verifies the bearer token and stores its claim on the context.
// Expired and malformed tokens get the same response.
func BearerMiddleware(gate handler.TokenGate, logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing credentials"})
			return
		}

		claim, err := gate.Verify(token)
		if err != nil {
			var authErr *auth.AuthError
			if errors.As(err, &authErr) {
				logger.Info("Rejected bearer token", slog.String("reason", string(authErr.Reason)))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, dto.ErrorResponse{Error: auth.ErrUnauthenticated.Error()})
			return
		}

		c.Set(handler.ContextClaimKey, claim)
		c.Next()
	}
}

// AdminMiddleware rejects claims without the admin flag. It must run after BearerMiddleware.
func AdminMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		claim, ok := c.Get(handler.ContextClaimKey)
		if !ok || !claim.(auth.Claim).IsAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, dto.ErrorResponse{Error: "Unauthorized"})
			return
		}
		c.Next()
	}
}
