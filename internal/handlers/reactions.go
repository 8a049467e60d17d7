package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/models"
	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/response"
)

type ReactionHandler struct {
	reactions *services.ReactionService
}

type toggleReactionRequest struct {
	Type string `json:"type" validate:"required,oneof=like love funny angry"`
}

func NewReactionHandler(reactions *services.ReactionService) *ReactionHandler {
	return &ReactionHandler{reactions: reactions}
}

// ToggleOn returns the toggle endpoint for a target kind; the target id is the :id param.
func (h *ReactionHandler) ToggleOn(targetType models.TargetType) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := currentUserID(c)
		if !ok {
			return
		}

		var req toggleReactionRequest
		if !bindAndValidate(c, &req) {
			return
		}

		result, err := h.reactions.Toggle(requestContext(c), userID, c.Param("id"), targetType, models.ReactionType(req.Type))
		if err != nil {
			respondError(c, err)
			return
		}

		status := http.StatusOK
		message := "Reaction updated"
		switch result.Outcome {
		case services.ReactionAdded:
			status = http.StatusCreated
			message = "Reaction added"
		case services.ReactionRemoved:
			message = "Reaction removed"
		}
		response.Success(c, status, gin.H{
			"message":      message,
			"action":       result.Outcome,
			"reactionType": result.ReactionType,
			"previousType": result.PreviousType,
		})
	}
}

// ListOn returns the read endpoint for a target kind.
func (h *ReactionHandler) ListOn(targetType models.TargetType) gin.HandlerFunc {
	return func(c *gin.Context) {
		list, err := h.reactions.List(requestContext(c), c.Param("id"), targetType)
		if err != nil {
			respondError(c, err)
			return
		}
		response.Success(c, http.StatusOK, list)
	}
}
