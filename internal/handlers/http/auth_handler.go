package http

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"meshlink/internal/core/domain"
	"meshlink/internal/core/services"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AuthHandler issues the bearer tokens the HTTP API requires. The
// websocket handshake uses the shared secret directly; this endpoint
// exists for tooling that talks to the room API.
type AuthHandler struct {
	authService  services.AuthService
	sharedSecret string
	tokenTTL     time.Duration
}

func NewAuthHandler(authService services.AuthService, sharedSecret string, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService:  authService,
		sharedSecret: sharedSecret,
		tokenTTL:     tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	UserID       string `json:"userId" binding:"max=128"`
	SharedSecret string `json:"sharedSecret" binding:"required,max=256"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format"})
		return
	}

	if subtle.ConstantTimeCompare([]byte(req.SharedSecret), []byte(h.sharedSecret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid shared secret"})
		return
	}

	userID := domain.UserID(strings.TrimSpace(req.UserID))
	if userID == "" {
		userID = domain.UserID(uuid.New().String())
	}

	token, err := h.authService.GenerateToken(userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokenTTL.Seconds()),
		"user_id":      userID,
	})
}
