package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/transcode-pipeline/internal/api/dto"
	"github.com/cuongbtq/transcode-pipeline/internal/auth"
	"github.com/gin-gonic/gin"
)

// AuthHandler handles login and identity requests
type AuthHandler struct {
	logger      *slog.Logger
	gate        TokenGate
	credentials auth.CredentialChecker
}

// NewAuthHandler creates a new AuthHandler instance
func NewAuthHandler(deps *Dependencies) *AuthHandler {
	return &AuthHandler{
		logger:      deps.Logger,
		gate:        deps.Gate,
		credentials: deps.Credentials,
	}
}

// Login exchanges Basic credentials for a signed token, returned as plain text
func (h *AuthHandler) Login(c *gin.Context) {
	username, password, ok := c.Request.BasicAuth()
	if !ok || username == "" {
		c.Header("WWW-Authenticate", `Basic realm="login"`)
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "missing credentials"})
		return
	}

	identity, err := h.credentials.CheckCredentials(c.Request.Context(), username, password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		h.logger.Info("Login rejected", slog.String("username", username))
		c.Header("WWW-Authenticate", `Basic realm="login"`)
		c.JSON(http.StatusUnauthorized, dto.ErrorResponse{Error: "invalid credentials"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to check credentials",
			slog.String("username", username),
			slog.Any("error", err),
		)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to check credentials"})
		return
	}

	_, token, err := h.gate.Issue(identity.Subject, identity.IsAdmin)
	if err != nil {
		h.logger.Error("Failed to issue token", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: "Failed to issue token"})
		return
	}

	h.logger.Info("Token issued",
		slog.String("subject", identity.Subject),
		slog.Bool("is_admin", identity.IsAdmin),
	)
	c.String(http.StatusOK, token)
}

// Me returns the claim carried by the bearer token
func (h *AuthHandler) Me(c *gin.Context) {
	claim := c.MustGet(ContextClaimKey).(auth.Claim)
	c.JSON(http.StatusOK, dto.MeResponse{
		UserEmail: claim.Subject,
		IsAdmin:   claim.IsAdmin,
		IssuedAt:  claim.IssuedAt.Unix(),
		ExpiresAt: claim.ExpiresAt.Unix(),
	})
}
