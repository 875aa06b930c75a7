package handlers

import (
	"errors"
	"net/http"

	"signalement-service/database"
	"signalement-service/models"
	"signalement-service/recordstore"

	"github.com/apex/log"
	"github.com/gin-gonic/gin"
)

// AuthHandler proxies authentication to the record store and manages the
// locally persisted session.
type AuthHandler struct {
	records  *recordstore.Client
	sessions *database.Service
}

func NewAuthHandler(records *recordstore.Client, sessions *database.Service) *AuthHandler {
	return &AuthHandler{
		records:  records,
		sessions: sessions,
	}
}

func (h *AuthHandler) Login(c *gin.Context) {
	args := &models.LoginRequest{}
	if err := c.BindJSON(args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	tokens, err := h.records.Login(c.Request.Context(), args.Email, args.Password)
	if err != nil {
		if errors.Is(err, recordstore.ErrAuthExpired) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
			return
		}
		log.Errorf("Login failed for %s: %v", args.Email, err)
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, tokens)
}

func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.sessions.Clear(c.Request.Context()); err != nil {
		log.Errorf("Failed to clear session: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear session"})
		return
	}
	c.Status(http.StatusNoContent)
}

// Profile returns the user persisted with the current session.
func (h *AuthHandler) Profile(c *gin.Context) {
	user, err := h.sessions.Profile(c.Request.Context())
	if err != nil {
		if errors.Is(err, database.ErrNoSession) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
			return
		}
		log.Errorf("Failed to load session profile: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load profile"})
		return
	}
	c.JSON(http.StatusOK, user)
}
