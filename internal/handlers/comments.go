package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/response"
)

type CommentHandler struct {
	comments *services.CommentService
}

type createCommentRequest struct {
	Content string `json:"content" validate:"required,notblank,trimmedmax=500"`
}

func NewCommentHandler(comments *services.CommentService) *CommentHandler {
	return &CommentHandler{comments: comments}
}

// POST /api/v1/posts/:id/comments
func (h *CommentHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createCommentRequest
	if !bindAndValidate(c, &req) {
		return
	}

	comment, err := h.comments.Create(requestContext(c), userID, c.Param("id"), req.Content)
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"comment": comment})
}

// GET /api/v1/posts/:id/comments
func (h *CommentHandler) ListForPost(c *gin.Context) {
	comments, err := h.comments.ListForPost(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"comments": comments})
}

// DELETE /api/v1/comments/:id
func (h *CommentHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.comments.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Comment deleted")
}
