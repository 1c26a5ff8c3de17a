package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"talentchat/internal/service"
)

// UserHandler expone la identidad resuelta del usuario autenticado.
type UserHandler struct {
	logger   *zap.Logger
	profiles service.ProfileLookup
}

func NewUserHandler(logger *zap.Logger, profiles service.ProfileLookup) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{logger: logger, profiles: profiles}
}

// Me maneja GET /me.
func (h *UserHandler) Me(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok || claims.Identity() == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	identity := claims.Identity()
	displayName := identity
	if h.profiles != nil {
		displayName = h.profiles.DisplayNameFor(c.Request.Context(), identity)
	}

	c.JSON(http.StatusOK, gin.H{
		"email":        identity,
		"display_name": displayName,
		"role":         claims.Role,
	})
}
