package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"dailydrive/internal/session"
	"dailydrive/internal/util"
)

type SessionHandler struct {
	controller *session.Controller
	jwtSecret  string
}

func NewSessionHandler(controller *session.Controller, jwtSecret string) *SessionHandler {
	return &SessionHandler{
		controller: controller,
		jwtSecret:  jwtSecret,
	}
}

// SignIn handles POST /session/signin
func (h *SessionHandler) SignIn(c *gin.Context) {
	var req struct {
		Token string `json:"token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	userID, err := util.ParseIdentityToken(req.Token, h.jwtSecret)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid identity token"})
		return
	}

	if err := h.controller.SignIn(c.Request.Context(), userID); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign in"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"state":   h.controller.State().String(),
		"user_id": userID,
	})
}

// GoOffline handles POST /session/offline
func (h *SessionHandler) GoOffline(c *gin.Context) {
	if err := h.controller.GoOffline(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enter offline mode"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.controller.State().String()})
}

// SignOut handles POST /session/signout
func (h *SessionHandler) SignOut(c *gin.Context) {
	if err := h.controller.SignOut(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to sign out"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"state": h.controller.State().String()})
}

// Current handles GET /session
func (h *SessionHandler) Current(c *gin.Context) {
	resp := gin.H{"state": h.controller.State().String()}
	if userID := h.controller.UserID(); userID != "" {
		resp["user_id"] = userID
	}
	c.JSON(http.StatusOK, resp)
}
