package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"parkpeek-guard/internal/auth"
	"parkpeek-guard/internal/model"
	"parkpeek-guard/internal/mw"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type guardResponse struct {
	ID          string `json:"id"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
}

func newGuardResponse(g *model.Guard) guardResponse {
	return guardResponse{ID: g.ID, Email: g.Email, DisplayName: g.DisplayName}
}

// Login handles POST /api/auth/login.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	token, guard, err := h.auth.SignIn(c.Request.Context(), req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrMissingFields):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Please fill in both fields"})
		return
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Incorrect username or password"})
		return
	case err != nil:
		log.Printf("Login failed for %q: %v", req.Username, err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"guard": newGuardResponse(guard),
	})
}

// Logout handles POST /api/auth/logout. Tokens are stateless; the client drops its copy.
func (h *Handler) Logout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Me handles GET /api/me.
func (h *Handler) Me(c *gin.Context) {
	guard, err := h.store.FindGuardByID(c.Request.Context(), c.GetString(mw.GuardIDKey))
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown guard"})
		return
	}
	c.JSON(http.StatusOK, newGuardResponse(guard))
}
