package http

import (
	"net/http"
	"strings"
	"time"

	"callmesh/internal/core/domain"
	"callmesh/internal/core/services"
	"callmesh/pkg/utils"

	"github.com/gin-gonic/gin"
)

// AuthHandler issues the call-join tokens that signaling and API clients
// present. Participant identity is minted here when the client does not
// bring its own.
type AuthHandler struct {
	authService services.AuthService
	tokenTTL    time.Duration
}

func NewAuthHandler(authService services.AuthService, tokenTTL time.Duration) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		tokenTTL:    tokenTTL,
	}
}

func (h *AuthHandler) SetupRoutes(router *gin.Engine) {
	api := router.Group("/api/v1/auth")
	{
		api.POST("/token", h.IssueToken)
	}
}

type TokenRequest struct {
	ParticipantID string `json:"participant_id" binding:"omitempty,max=100"`
	DisplayName   string `json:"display_name" binding:"omitempty,max=100"`
}

func (h *AuthHandler) IssueToken(c *gin.Context) {
	var req TokenRequest
	if err := c.BindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	participantID := domain.ParticipantID(strings.TrimSpace(req.ParticipantID))
	if participantID == "" {
		participantID = domain.ParticipantID(utils.GenerateParticipantID())
	}

	token, err := h.authService.GenerateToken(participantID, strings.TrimSpace(req.DisplayName))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to generate token"})
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"participant_id": participantID,
		"access_token":   token,
		"expires_in":     int(h.tokenTTL / time.Second),
	})
}
