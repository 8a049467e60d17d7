package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/response"
)

type UserHandler struct {
	users    *services.UserService
	profiles *services.ProfileService
}

type updateBioRequest struct {
	Bio string `json:"bio" validate:"trimmedmax=300"`
}

func NewUserHandler(users *services.UserService, profiles *services.ProfileService) *UserHandler {
	return &UserHandler{users: users, profiles: profiles}
}

// GET /api/v1/users/me
func (h *UserHandler) Me(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	user, err := h.users.GetByID(requestContext(c), userID)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}

// PATCH /api/v1/users/update-bio
func (h *UserHandler) UpdateBio(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req updateBioRequest
	if !bindAndValidate(c, &req) {
		return
	}

	user, err := h.users.UpdateBio(requestContext(c), userID, req.Bio)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"user": user})
}

// GET /api/v1/users/profile/:username
func (h *UserHandler) Profile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(requestContext(c), c.Param("username"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, profile)
}

// GET /api/v1/users/platform-stats
func (h *UserHandler) PlatformStats(c *gin.Context) {
	stats, err := h.users.PlatformStats(requestContext(c))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, stats)
}
