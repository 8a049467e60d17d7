package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/teatalks/teatalks/internal/services"
	"github.com/teatalks/teatalks/pkg/response"
)

type PostHandler struct {
	posts *services.PostService
}

type createPostRequest struct {
	Title   string `json:"title" validate:"required,notblank,trimmedmax=200"`
	Content string `json:"content" validate:"required,notblank,trimmedmax=2000"`
}

type updatePostRequest struct {
	Title   *string `json:"title" validate:"omitempty,notblank,trimmedmax=200"`
	Content *string `json:"content" validate:"omitempty,notblank,trimmedmax=2000"`
}

func NewPostHandler(posts *services.PostService) *PostHandler {
	return &PostHandler{posts: posts}
}

// POST /api/v1/posts
func (h *PostHandler) Create(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req createPostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	post, err := h.posts.Create(requestContext(c), userID, services.CreatePostInput{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusCreated, gin.H{"post": post})
}

// GET /api/v1/posts?page=1&limit=10
func (h *PostHandler) List(c *gin.Context) {
	page, err := h.posts.List(requestContext(c), services.Pagination{
		Page:  parseIntQuery(c, "page", 1),
		Limit: parseIntQuery(c, "limit", 10),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.SuccessWithMeta(c, http.StatusOK, page, &response.Meta{
		Page:       page.CurrentPage,
		PerPage:    page.PerPage,
		Total:      page.TotalPosts,
		TotalPages: page.TotalPages,
	})
}

// GET /api/v1/posts/:id
func (h *PostHandler) Get(c *gin.Context) {
	post, err := h.posts.Get(requestContext(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"post": post})
}

// PUT /api/v1/posts/:id
func (h *PostHandler) Update(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	var req updatePostRequest
	if !bindAndValidate(c, &req) {
		return
	}

	post, err := h.posts.Update(requestContext(c), userID, c.Param("id"), services.UpdatePostInput{
		Title:   req.Title,
		Content: req.Content,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"post": post})
}

// DELETE /api/v1/posts/:id
func (h *PostHandler) Delete(c *gin.Context) {
	userID, ok := currentUserID(c)
	if !ok {
		return
	}

	if err := h.posts.Delete(requestContext(c), userID, c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	response.Message(c, http.StatusOK, "Post deleted")
}
